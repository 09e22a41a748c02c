package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"cipherbid/adapters/oidc"
	redisAdapter "cipherbid/adapters/redis"
	s3Adapter "cipherbid/adapters/s3"
	"cipherbid/adapters/session"
	"cipherbid/adapters/sse"
	"cipherbid/api/openapi"
	"cipherbid/auction"
	"cipherbid/fhe"
	"cipherbid/store"
)

var ErrLeaseLost = errors.New("writer lease lost")

// Service 組裝所有元件，並負責啟動與關閉的順序
type Service struct {
	config   ServerConfig
	logger   *slog.Logger
	db       *gorm.DB
	redis    *redis.Client
	machine  *auction.Machine
	cp       *fhe.MockCoprocessor
	server   *ServerImpl
	producer *redisAdapter.Producer[auction.Event]
	consumer *redisAdapter.Consumer[sse.PublishRequest[auction.Event]]
	hub      *sse.Hub[auction.Event]
	lease    *redisAdapter.AutoRenewMutex
	archiver *Archiver
}

func NewServer(ctx context.Context, config ServerConfig) (*Service, error) {
	const op = "NewServer"
	logger := slog.Default()
	key := func(name string) string { return config.Redis.KeyPrefix + name }

	// 初始化資料庫連線
	gormConfig := &gorm.Config{TranslateError: true}
	if config.DB.Schema != "" {
		gormConfig.NamingStrategy = schema.NamingStrategy{TablePrefix: config.DB.Schema + "."}
	}
	db, err := gorm.Open(postgres.Open(config.DB.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	st, err := store.New(db, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create store, err=%w", op, err)
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to redis, err=%w", op, err)
	}

	// 事件先寫進 Redis Stream，再由每個實例的 consumer 轉給本機的 SSE 連線
	eventStream := config.Redis.StreamKeys.Events
	producer, err := redisAdapter.NewProducer[auction.Event](redisClient, eventStream,
		redisAdapter.WithProducerLogger[auction.Event](logger),
		redisAdapter.WithProducerMaxLen[auction.Event](config.Redis.StreamMaxLen),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create producer, err=%w", op, err)
	}
	consumer, err := redisAdapter.NewConsumer[sse.PublishRequest[auction.Event]](redisClient, eventStream,
		redisAdapter.WithConsumerLogger[sse.PublishRequest[auction.Event]](logger),
		redisAdapter.WithConsumerDecodeFunc(func(m map[string]any) (sse.PublishRequest[auction.Event], error) {
			event, err := redisAdapter.DecodeMessage[auction.Event](m)
			if err != nil {
				return sse.PublishRequest[auction.Event]{}, fmt.Errorf("fail to parse message to sse.PublishRequest[auction.Event], err=%w", err)
			}
			return sse.PublishRequest[auction.Event]{
				Channel: ChannelOf(event.AuctionID),
				Message: event,
			}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create consumer, err=%w", op, err)
	}
	hubOpts := []sse.HubOption[auction.Event]{
		sse.WithLogger[auction.Event](logger),
		sse.WithSubscriber[auction.Event](consumer),
	}
	if config.SSE.BufferSize > 0 {
		hubOpts = append(hubOpts, sse.WithBufferSize[auction.Event](config.SSE.BufferSize))
	}
	hub := sse.NewHub[auction.Event](hubOpts...)

	// 初始化加密運算
	if len(config.FHE.SignerSeed) == 0 {
		logger.Warn("No signer seed configured, inputs encrypted before a restart or by another instance will be rejected")
	}
	signer, err := fhe.NewSigner(config.FHE.SignerSeed)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create input signer, err=%w", op, err)
	}
	// 密文表與拍賣狀態存在同一個資料庫，接手的實例才能繼續運算先前的handle
	coprocessor, err := fhe.NewMockCoprocessor(
		fhe.WithSigner(signer),
		fhe.WithCiphertextStore(st),
		fhe.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create coprocessor, err=%w", op, err)
	}
	machineOpts := []auction.MachineOption{
		auction.WithStore(st),
		auction.WithEventSink(producer),
		auction.WithDecrypter(coprocessor),
		auction.WithLogger(logger),
	}
	if config.FHE.CallTimeout > 0 {
		machineOpts = append(machineOpts, auction.WithCallTimeout(config.FHE.CallTimeout))
	}
	machine, err := auction.NewMachine(coprocessor, machineOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create auction machine, err=%w", op, err)
	}

	tokens, err := openapi.NewTokenIssuer(config.Auth.PrivateKey, config.Auth.Issuer, config.Auth.Audience, config.Auth.ExpireDuration)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create token issuer, err=%w", op, err)
	}
	doc, err := openapi.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	validator, err := openapi.NewValidator(doc)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	lease := redisAdapter.NewAutoRenewMutex(redisClient, key("writer-lease"),
		redisAdapter.WithAutoRenewMutexExpiry(lo.Ternary(config.Redis.LeaseExpiry > 0, config.Redis.LeaseExpiry, 8*time.Second)),
		redisAdapter.WithAutoRenewMutexSkipLockError(true),
	)

	serverOpts := []ServerOption{
		WithHub(hub),
		WithLease(lease),
		WithValidator(validator),
		WithMetrics(NewMetrics()),
		WithLogger(logger),
	}
	if config.SSE.KeepAlive > 0 {
		serverOpts = append(serverOpts, WithKeepAlive(config.SSE.KeepAlive))
	}
	if config.FHE.DevInputs {
		logger.Warn("POST /inputs is enabled, plaintext amounts will reach this service")
		serverOpts = append(serverOpts, WithEncryptor(coprocessor))
	}
	if config.RateLimit.Capacity > 0 {
		limiter, err := NewRateLimiter(redisClient, config.Redis.KeyPrefix, config.RateLimit.Capacity, config.RateLimit.RefillPerSec)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create rate limiter, err=%w", op, err)
		}
		serverOpts = append(serverOpts, WithRateLimiter(limiter))
	}

	// 初始化OIDC提供者
	if len(config.OIDC.Providers) > 0 {
		providers := make(map[string]*oidc.Provider, len(config.OIDC.Providers))
		for name, pc := range config.OIDC.Providers {
			provider, err := oidc.NewProvider(ctx, oidc.Config{
				Name:         name,
				IssuerURL:    pc.IssuerURL,
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  strings.TrimSuffix(config.OIDC.RedirectBaseURL, "/") + "/auth/sso/" + name + "/callback",
			})
			if err != nil {
				return nil, fmt.Errorf("[%s] Fail to initial OIDC provider, provider=%s, err=%w", op, name, err)
			}
			providers[name] = provider
		}
		storeOpts := []redisAdapter.StoreOption{redisAdapter.WithStorePrefix(key("session:"))}
		cookieOpts := []session.MiddlewareOption{session.WithCookieSecure(config.Session.CookieSecure)}
		if config.Session.CookieName != "" {
			cookieOpts = append(cookieOpts, session.WithCookieName(config.Session.CookieName))
		}
		// session 資料與 cookie 同時過期
		if config.Session.CookieMaxAge > 0 {
			storeOpts = append(storeOpts, redisAdapter.WithStoreTTL(config.Session.CookieMaxAge))
			cookieOpts = append(cookieOpts, session.WithCookieMaxAge(config.Session.CookieMaxAge))
		}
		sessions := redisAdapter.NewStore(redisClient, storeOpts...)
		serverOpts = append(serverOpts, WithSSO(providers, st, sessions, cookieOpts...))
	}

	server, err := New(machine, tokens, serverOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	// 初始化結算收據封存
	var archiver *Archiver
	if config.S3.Enabled() {
		s3Client, err := s3Adapter.NewClient(ctx, s3Adapter.ClientConfig{
			Endpoint:        config.S3.Endpoint,
			Region:          config.S3.Region,
			AccessKeyID:     config.S3.AccessKeyID,
			SecretAccessKey: config.S3.SecretAccessKey,
			UsePathStyle:    config.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", op, err)
		}
		operator, err := s3Adapter.NewOperator(s3Client, config.S3.Bucket, config.S3.PublicBaseURL, s3Adapter.WithPrefix("receipts"))
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create S3 operator, err=%w", op, err)
		}
		groupConsumer, err := redisAdapter.NewGroupConsumer[auction.Event](
			redisClient,
			eventStream,
			config.Redis.ConsumerGroup,
			config.ID,
			redisAdapter.WithGroupConsumerLogger[auction.Event](logger),
		)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create group consumer, err=%w", op, err)
		}
		archiverOpts := []ArchiverOption{
			WithArchiverLogger(logger),
			WithArchiverLookup(machine.Get),
		}
		if config.S3.UploadTimeout > 0 {
			archiverOpts = append(archiverOpts, WithArchiverTimeout(config.S3.UploadTimeout))
		}
		archiver, err = NewArchiver(groupConsumer, operator, archiverOpts...)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", op, err)
		}
	}

	return &Service{
		config:   config,
		logger:   logger.With(slog.String("caller", "Service")),
		db:       db,
		redis:    redisClient,
		machine:  machine,
		cp:       coprocessor,
		server:   server,
		producer: producer,
		consumer: consumer,
		hub:      hub,
		lease:    lease,
		archiver: archiver,
	}, nil
}

// Run 取得寫入者租約後恢復狀態並開始服務，直到 ctx 結束或租約遺失
// 沒有取得租約的實例會在這裡等待，作為備援
func (s *Service) Run(ctx context.Context, addr string) error {
	const op = "Service.Run"
	s.logger.Info("Waiting for writer lease", slog.String("instance", s.config.ID))
	leaseCtx, err := s.lease.Lock(ctx)
	if err != nil {
		return fmt.Errorf("[%s] Fail to acquire writer lease, err=%w", op, err)
	}
	defer func() {
		if _, err := s.lease.Unlock(); err != nil {
			s.logger.Warn("Fail to release writer lease", slog.Any("error", err))
		}
	}()

	if err := s.cp.Restore(leaseCtx); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	if err := s.machine.Restore(leaseCtx); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	summary := s.machine.CountsSummary()
	s.logger.Info("State restored", slog.Int("total", summary.Total), slog.Int("open", summary.Open))

	s.producer.Start()
	s.consumer.Start()
	s.hub.Start()
	if s.archiver != nil {
		if err := s.archiver.Start(); err != nil {
			return fmt.Errorf("[%s] %w", op, err)
		}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("[%s] %w", op, err)
		}
	case <-leaseCtx.Done():
		if ctx.Err() == nil {
			runErr = ErrLeaseLost
		}
	}

	// SSE 連線不會自己結束，先關閉 hub 讓串流返回
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Fail to shutdown http server", slog.Any("error", err))
	}
	return runErr
}

// Close 釋放所有連線，producer 會先把尚未寫出的事件送完
func (s *Service) Close() {
	if s.archiver != nil {
		s.archiver.Close()
	}
	s.hub.Close()
	s.consumer.Close()
	s.producer.Close()
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("Fail to close redis client", slog.Any("error", err))
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}
