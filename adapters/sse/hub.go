package sse

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrHubClosed = errors.New("hub is closed")

type hubOptions[T any] struct {
	logger     *slog.Logger
	subscriber ISubscriber[T]
	bufferSize int
}

type HubOption[T any] func(*hubOptions[T])

func WithLogger[T any](logger *slog.Logger) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.logger = logger
	}
}

// WithSubscriber 設置遠端訊息來源，讓多個服務實例共享同一份事件
func WithSubscriber[T any](subscriber ISubscriber[T]) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.subscriber = subscriber
	}
}

// WithBufferSize 設置每個訂閱者的緩衝大小
func WithBufferSize[T any](size int) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.bufferSize = size
	}
}

// Hub 依頻道名稱分派訊息給訂閱者
type Hub[T any] struct {
	mu       sync.RWMutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	active   bool
	channels map[string]*Channel[T]
	logger   *slog.Logger
	options  hubOptions[T]
}

func NewHub[T any](opts ...HubOption[T]) *Hub[T] {
	options := hubOptions[T]{
		logger:     slog.Default(),
		bufferSize: 16,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Hub[T]{
		active:   true,
		channels: make(map[string]*Channel[T]),
		logger:   options.logger.With(slog.String("caller", "sse.Hub")),
		options:  options,
	}
}

func (h *Hub[T]) Start() {
	if h.options.subscriber == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active || h.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	source := h.options.subscriber.Subscribe()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.logger.Info("hub receiver stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-source:
				if !ok {
					return
				}
				h.broadcast(req.Channel, req.Message)
			}
		}
	}()
}

func (h *Hub[T]) Close() {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()

	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, channel := range h.channels {
		channel.UnsubscribeAll()
	}
	clear(h.channels)
}

func (h *Hub[T]) Subscribe(channelName string) (<-chan T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, ErrHubClosed
	}
	c, ok := h.channels[channelName]
	if !ok {
		c = NewChannel[T](h.options.bufferSize)
		h.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Unsubscribe 取消訂閱，頻道沒有訂閱者時一併移除
func (h *Hub[T]) Unsubscribe(channelName string, ch <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.channels[channelName]
	if !ok {
		return
	}
	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(h.channels, channelName)
	}
}

func (h *Hub[T]) Publish(channelName string, data T) error {
	h.mu.RLock()
	active := h.active
	h.mu.RUnlock()
	if !active {
		return ErrHubClosed
	}
	h.broadcast(channelName, data)
	return nil
}

func (h *Hub[T]) broadcast(channelName string, data T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.channels[channelName]
	if !ok {
		return
	}
	if dropped := c.Broadcast(data); dropped > 0 {
		h.logger.Warn("slow subscribers dropped message",
			slog.String("channel", channelName),
			slog.Int("dropped", dropped),
		)
	}
}
