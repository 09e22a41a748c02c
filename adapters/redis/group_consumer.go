package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const deadLetterSuffix = ":dead-letter"

// Message 封裝消息和ack所需資料
type Message[T any] struct {
	Data T
	ID   string

	client *redis.Client
	stream string
	group  string
	raw    map[string]any
	mu     sync.Mutex
	done   bool
}

// Done 確認消息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.ID).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack message, err=%w", op, err)
	}
	m.done = true
	return nil
}

// Fail 將消息移到死信 stream 並確認
func (m *Message[T]) Fail(ctx context.Context, cause error) error {
	const op = "Message.Fail"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return nil
	}
	if err := deadLetter(ctx, m.client, m.stream, m.group, m.ID, m.raw, cause); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	m.done = true
	return nil
}

type groupConsumerOptions[T any] struct {
	logger         *slog.Logger
	decodeFunc     func(map[string]any) (T, error)
	bufferSize     int
	blockTimeout   time.Duration
	errorBackoff   time.Duration
	mutex          IAutoRenewMutex
	strictOrdering bool
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithGroupConsumerDecodeFunc 設置消息解析函數
func WithGroupConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupConsumerBufferSize 設置下游channel的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取超時時間
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerErrorBackoff 設置讀取失敗後的等待時間
func WithGroupConsumerErrorBackoff[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.errorBackoff = d
	}
}

// WithGroupConsumerMutex 注入mutex
func WithGroupConsumerMutex[T any](mutex IAutoRenewMutex) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.mutex = mutex
	}
}

// WithGroupConsumerStrictOrdering 同一群組同時只有一個消費者在處理，並且優先處理 pending 消息
func WithGroupConsumerStrictOrdering[T any](strict bool) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.strictOrdering = strict
	}
}

// GroupConsumer 以消費者群組讀取 stream，消息需要由下游呼叫 Done 或 Fail
type GroupConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	downStream chan *Message[T]
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	mutex      IAutoRenewMutex
	pending    []string
	logger     *slog.Logger
	options    groupConsumerOptions[T]
}

func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (*GroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
		errorBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}

	gc := &GroupConsumer[T]{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		logger: options.logger.With(
			slog.String("caller", "GroupConsumer"),
			slog.String("stream", stream),
			slog.String("group", group),
			slog.String("consumer", consumer),
		),
		options: options,
	}
	if options.strictOrdering {
		gc.mutex = options.mutex
		if gc.mutex == nil {
			gc.mutex = NewAutoRenewMutex(client, fmt.Sprintf("lock:%s:%s", stream, group), WithAutoRenewMutexSkipLockError(true))
		}
	}
	return gc, nil
}

// ensureGroup 建立群組，stream 不存在時一併建立
func (s *GroupConsumer[T]) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *GroupConsumer[T]) Start() error {
	const op = "GroupConsumer.Start"
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.ensureGroup(ctx); err != nil {
		cancel()
		return fmt.Errorf("[%s] Fail to create consumer group, err=%w", op, err)
	}
	out := make(chan *Message[T], s.options.bufferSize)
	s.downStream = out
	s.cancel = cancel
	s.closed = false
	s.logger.Info("starting group consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("group consumer goroutine stopped")
		defer close(out)

		for ctx.Err() == nil {
			workCtx := ctx
			if s.options.strictOrdering {
				lockCtx, err := s.mutex.Lock(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Error("failed to acquire lock", slog.Any("error", err))
					sleep(ctx, s.options.errorBackoff)
					continue
				}
				workCtx = lockCtx
			}

			err := s.work(workCtx, out)
			if s.options.strictOrdering {
				if _, unlockErr := s.mutex.Unlock(); unlockErr != nil {
					s.logger.Debug("unlock failed", slog.Any("error", unlockErr))
				}
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.Canceled) {
				s.logger.Warn("lock lost, restarting group consumer")
				continue
			}
			s.logger.Error("error processing messages, restarting group consumer", slog.Any("error", err))
			sleep(ctx, s.options.errorBackoff)
		}
	}()
	return nil
}

// Subscribe 訂閱Stream，返回Message通道
func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.logger.Info("closing group consumer")
	s.closed = true
	s.cancel()
	s.wg.Wait()
	s.logger.Info("group consumer closed")
	return nil
}

// work 持續讀取消息直到 ctx 結束或發生需要重新開始的錯誤
func (s *GroupConsumer[T]) work(ctx context.Context, out chan<- *Message[T]) error {
	if s.options.strictOrdering {
		if err := s.loadPending(ctx); err != nil {
			return err
		}
	}
	for {
		message, err := s.next(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return context.Canceled
			}
			s.logger.Error("fetch message error", slog.Any("error", err))
			if !sleep(ctx, s.options.errorBackoff) {
				return context.Canceled
			}
			continue
		}

		data, err := s.options.decodeFunc(message.Values)
		if err != nil {
			// 解析失敗重試也不會成功，直接移到死信
			s.logger.Error("failed to decode message",
				slog.String("messageId", message.ID),
				slog.Any("error", err),
			)
			if err := deadLetter(ctx, s.client, s.stream, s.group, message.ID, message.Values, err); err != nil {
				// 消息會留在 pending，嚴格順序模式下次會優先處理
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return context.Canceled
		case out <- &Message[T]{
			Data:   data,
			ID:     message.ID,
			client: s.client,
			stream: s.stream,
			group:  s.group,
			raw:    message.Values,
		}:
		}
	}
}

func (s *GroupConsumer[T]) loadPending(ctx context.Context) error {
	const batch = 100
	s.pending = s.pending[:0]
	start := "-"
	for {
		entries, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: s.stream,
			Group:  s.group,
			Start:  start,
			End:    "+",
			Count:  batch,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return fmt.Errorf("error getting pending messages: %w", err)
		}
		for _, p := range entries {
			s.pending = append(s.pending, p.ID)
		}
		if len(entries) < batch {
			break
		}
		// 排除起點本身
		start = "(" + entries[len(entries)-1].ID
	}
	if len(s.pending) > 0 {
		s.logger.Info("redelivering pending messages", slog.Int("count", len(s.pending)))
	}
	return nil
}

func (s *GroupConsumer[T]) next(ctx context.Context) (redis.XMessage, error) {
	for len(s.pending) > 0 {
		id := s.pending[0]
		messages, err := s.client.XRangeN(ctx, s.stream, id, id, 1).Result()
		if err != nil {
			return redis.XMessage{}, err
		}
		s.pending = s.pending[1:]
		if len(messages) > 0 {
			return messages[0], nil
		}
		// 消息已被裁剪，確認後跳過
		s.client.XAck(ctx, s.stream, s.group, id)
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    s.options.blockTimeout,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return redis.XMessage{}, redis.Nil
	}
	return streams[0].Messages[0], nil
}

func deadLetter(ctx context.Context, client *redis.Client, stream, group, id string, values map[string]any, cause error) error {
	payload := make(map[string]any, len(values)+2)
	for k, v := range values {
		payload[k] = v
	}
	payload["source_id"] = id
	if cause != nil {
		payload["error"] = cause.Error()
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream + deadLetterSuffix,
		Values: payload,
	}).Err(); err != nil {
		return fmt.Errorf("failed to move message to dead letter queue: %w", err)
	}
	if err := client.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack dead letter message: %w", err)
	}
	return nil
}
