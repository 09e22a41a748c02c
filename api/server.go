package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"cipherbid/adapters/oidc"
	redisAdapter "cipherbid/adapters/redis"
	"cipherbid/adapters/session"
	"cipherbid/adapters/sse"
	"cipherbid/api/openapi"
	"cipherbid/auction"
	"cipherbid/fhe"
)

const (
	defaultKeepAlive   = 30 * time.Second
	defaultMaxBodySize = 64 << 10
)

type serverOptions struct {
	hub            sse.IHub[auction.Event]
	limiter        Limiter
	lease          redisAdapter.IAutoRenewMutex
	encryptor      fhe.Encryptor
	providers      map[string]*oidc.Provider
	sessions       session.IStore
	sessionOptions []session.MiddlewareOption
	users          UserResolver
	validator      *openapi.Validator
	metrics        *Metrics
	now            func() time.Time
	logger         *slog.Logger
	keepAlive      time.Duration
	maxBodySize    int64
}

type ServerOption func(*serverOptions)

// WithHub 開啟 GET /auctions/:id/events
func WithHub(hub sse.IHub[auction.Event]) ServerOption {
	return func(o *serverOptions) {
		o.hub = hub
	}
}

func WithRateLimiter(limiter Limiter) ServerOption {
	return func(o *serverOptions) {
		o.limiter = limiter
	}
}

// WithLease 設定單一寫入者租約，租約失效時所有寫入回傳 503
func WithLease(lease redisAdapter.IAutoRenewMutex) ServerOption {
	return func(o *serverOptions) {
		o.lease = lease
	}
}

// WithEncryptor 開啟 POST /inputs，只應在開發環境使用
func WithEncryptor(encryptor fhe.Encryptor) ServerOption {
	return func(o *serverOptions) {
		o.encryptor = encryptor
	}
}

// WithSSO 開啟 SSO 登入，providers 以名稱為 key
func WithSSO(providers map[string]*oidc.Provider, users UserResolver, sessions session.IStore, opts ...session.MiddlewareOption) ServerOption {
	return func(o *serverOptions) {
		o.providers = providers
		o.users = users
		o.sessions = sessions
		o.sessionOptions = opts
	}
}

func WithValidator(validator *openapi.Validator) ServerOption {
	return func(o *serverOptions) {
		o.validator = validator
	}
}

func WithMetrics(metrics *Metrics) ServerOption {
	return func(o *serverOptions) {
		o.metrics = metrics
	}
}

func WithClock(now func() time.Time) ServerOption {
	return func(o *serverOptions) {
		o.now = now
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

func WithKeepAlive(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.keepAlive = d
	}
}

func WithMaxBodySize(n int64) ServerOption {
	return func(o *serverOptions) {
		o.maxBodySize = n
	}
}

// ServerImpl 將拍賣狀態機以 HTTP 提供
type ServerImpl struct {
	machine *auction.Machine
	tokens  *openapi.TokenIssuer
	serverOptions

	// 純文字欄位移除所有標籤，描述允許一般的使用者排版
	strictPolicy *bluemonday.Policy
	ugcPolicy    *bluemonday.Policy
}

func New(machine *auction.Machine, tokens *openapi.TokenIssuer, opts ...ServerOption) (*ServerImpl, error) {
	if machine == nil {
		return nil, errors.New("machine cannot be nil")
	}
	if tokens == nil {
		return nil, errors.New("token issuer cannot be nil")
	}
	options := serverOptions{
		now:         time.Now,
		logger:      slog.Default(),
		keepAlive:   defaultKeepAlive,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	options.logger = options.logger.With(slog.String("caller", "api"))
	return &ServerImpl{
		machine:       machine,
		tokens:        tokens,
		serverOptions: options,
		strictPolicy:  bluemonday.StrictPolicy(),
		ugcPolicy:     bluemonday.UGCPolicy(),
	}, nil
}

// Router 註冊所有路由
func (s *ServerImpl) Router() *gin.Engine {
	router := gin.Default()
	if s.metrics != nil {
		router.Use(s.metrics.GinMiddleware())
		router.GET("/metrics", s.metrics.Handler())
	}
	router.GET("/healthz", s.health)
	router.GET("/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", openapi.Document)
	})

	api := router.Group("/", s.limitBody())
	if s.validator != nil {
		api.Use(s.validator.GinMiddleware())
	}

	auth := s.requireAuth()
	writer := s.requireWriter()

	auctions := api.Group("/auctions")
	auctions.GET("", s.listAuctions)
	auctions.POST("", auth, writer, s.createAuction)
	auctions.GET("/summary", s.summary)
	auctions.GET("/:id", s.getAuction)
	auctions.GET("/:id/bids", s.listBids)
	auctions.POST("/:id/bids", auth, writer, s.rateLimit(), s.placeBid)
	auctions.GET("/:id/bids/count", s.bidCount)
	auctions.GET("/:id/bidders/:bidder", s.hasBid)
	auctions.POST("/:id/close", auth, writer, s.closeAuction)
	if s.hub != nil {
		auctions.GET("/:id/events", s.events)
	}

	if s.encryptor != nil {
		api.POST("/inputs", auth, s.encryptInput)
	}
	api.GET("/accounts/me/balance", auth, s.balance)

	if len(s.providers) > 0 {
		sso := api.Group("/auth/sso/:provider", session.GinMiddleware(s.sessions, s.sessionOptions...))
		sso.GET("/login", s.ssoLogin)
		sso.GET("/callback", s.ssoCallback)
	}
	return router
}

func (s *ServerImpl) health(c *gin.Context) {
	status := gin.H{"status": "ok", "writer": s.isWriter()}
	c.JSON(http.StatusOK, status)
}

func (s *ServerImpl) isWriter() bool {
	return s.lease == nil || s.lease.Valid()
}

// requireWriter 沒有寫入者租約的實例只能提供查詢
func (s *ServerImpl) requireWriter() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.isWriter() {
			s.abortWithError(c, ErrNotWriter)
			return
		}
		c.Next()
	}
}
