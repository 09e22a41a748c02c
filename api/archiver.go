package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redisAdapter "cipherbid/adapters/redis"
	"cipherbid/auction"
)

// Receipt 是結算後封存的收據
type Receipt struct {
	AuctionID   auction.ID       `json:"auctionId"`
	Title       string           `json:"title,omitempty"`
	Category    string           `json:"category,omitempty"`
	Seller      auction.Identity `json:"seller,omitempty"`
	ClosedBy    auction.Identity `json:"closedBy"`
	Winner      auction.Identity `json:"winner,omitempty"`
	Transferred uint64           `json:"transferred"`
	BidCount    uint64           `json:"bidCount"`
	ClosedAt    time.Time        `json:"closedAt"`
	URL         string           `json:"-"`
}

type archiverOptions struct {
	logger  *slog.Logger
	lookup  func(auction.ID) (auction.Auction, error)
	timeout time.Duration
}

type ArchiverOption func(*archiverOptions)

func WithArchiverLogger(logger *slog.Logger) ArchiverOption {
	return func(o *archiverOptions) {
		o.logger = logger
	}
}

// WithArchiverLookup 讓收據帶上拍賣的標題、分類與賣家
func WithArchiverLookup(lookup func(auction.ID) (auction.Auction, error)) ArchiverOption {
	return func(o *archiverOptions) {
		o.lookup = lookup
	}
}

func WithArchiverTimeout(d time.Duration) ArchiverOption {
	return func(o *archiverOptions) {
		o.timeout = d
	}
}

// Archiver 從消費者群組讀取事件，將每筆結算寫成 JSON 收據
// 失敗的事件會移到死信 stream
type Archiver struct {
	consumer redisAdapter.IGroupConsumer[auction.Event]
	uploader Uploader
	logger   *slog.Logger
	options  archiverOptions

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewArchiver(consumer redisAdapter.IGroupConsumer[auction.Event], uploader Uploader, opts ...ArchiverOption) (*Archiver, error) {
	if consumer == nil || uploader == nil {
		return nil, errors.New("consumer and uploader cannot be nil")
	}
	options := archiverOptions{
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Archiver{
		consumer: consumer,
		uploader: uploader,
		logger:   options.logger.With(slog.String("caller", "ReceiptArchiver")),
		options:  options,
	}, nil
}

func (a *Archiver) Start() error {
	const op = "Archiver.Start"
	if err := a.consumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start group consumer, err=%w", op, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	ch := a.consumer.Subscribe()

	a.logger.Info("Start receipt archiver")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.logger.Info("Receipt archiver stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				a.process(ctx, msg)
			}
		}
	}()
	return nil
}

func (a *Archiver) process(ctx context.Context, msg *redisAdapter.Message[auction.Event]) {
	logger := a.logger.With(slog.String("messageId", msg.ID))
	if msg.Data.Type != auction.EventAuctionClosed {
		if err := msg.Done(ctx); err != nil {
			logger.Error("Fail to ack skipped message", slog.Any("error", err))
		}
		return
	}

	receipt, err := a.Archive(ctx, msg.Data)
	if err != nil {
		logger.Error("Fail to archive receipt", slog.Any("error", err))
		if err := msg.Fail(ctx, err); err != nil {
			logger.Error("Fail to fail message", slog.Any("error", err))
		}
		return
	}
	if err := msg.Done(ctx); err != nil {
		logger.Error("Archive success but fail to done message", slog.Any("error", err))
		return
	}
	logger.Info("Receipt archived", slog.Uint64("auctionId", uint64(receipt.AuctionID)), slog.String("url", receipt.URL))
}

// Archive 將結算事件寫成收據並上傳
func (a *Archiver) Archive(ctx context.Context, event auction.Event) (Receipt, error) {
	const op = "Archiver.Archive"
	receipt := Receipt{
		AuctionID:   event.AuctionID,
		ClosedBy:    event.Identity,
		Winner:      event.Winner,
		Transferred: event.Amount,
		ClosedAt:    event.Time,
	}
	if a.options.lookup != nil {
		if item, err := a.options.lookup(event.AuctionID); err == nil {
			receipt.Title = item.Title
			receipt.Category = item.Category
			receipt.Seller = item.Creator
			receipt.BidCount = item.BidCount
		} else {
			a.logger.Warn("Auction not found for receipt", slog.Uint64("auctionId", uint64(event.AuctionID)))
		}
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return receipt, fmt.Errorf("[%s] Fail to marshal receipt, err=%w", op, err)
	}
	uploadCtx, cancel := context.WithTimeout(ctx, a.options.timeout)
	defer cancel()
	url, err := a.uploader.Upload(uploadCtx, strconv.FormatUint(uint64(event.AuctionID), 10), "application/json", bytes.NewReader(body))
	if err != nil {
		return receipt, fmt.Errorf("[%s] Fail to upload receipt, err=%w", op, err)
	}
	receipt.URL = url
	return receipt, nil
}

func (a *Archiver) Close() {
	if err := a.consumer.Close(); err != nil {
		a.logger.Warn("Fail to close group consumer", slog.Any("error", err))
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}
