package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cipherbid/auction"
	"cipherbid/models"
)

var ErrConflict = errors.New("auction was modified concurrently")

type storeOptions struct {
	logger *slog.Logger
}

type Option func(*storeOptions)

func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// Store 以 gorm 實作 auction.Store
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ auction.Store = (*Store)(nil)

func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	options := storeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	return &Store{
		db:     db,
		logger: options.logger.With(slog.String("caller", "store.Store")),
	}, nil
}

// Migrate 建立或更新資料表，正式環境應使用 atlas 產生的遷移
func (s *Store) Migrate(ctx context.Context) error {
	const op = "Store.Migrate"
	if err := s.db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("[%s] Fail to migrate, err=%w", op, err)
	}
	return nil
}

func (s *Store) SaveAuction(ctx context.Context, a auction.Auction) error {
	const op = "Store.SaveAuction"
	record := auctionToModel(a)
	if result := s.db.WithContext(ctx).Create(&record); result.Error != nil {
		return fmt.Errorf("[%s] Fail to create auction %d, err=%w", op, a.ID, result.Error)
	}
	return nil
}

// SaveBid 寫入出價並更新拍賣的聚合欄位
// 以 bid_count 做樂觀鎖，避免兩個寫入者同時推進同一場拍賣
func (s *Store) SaveBid(ctx context.Context, a auction.Auction, b auction.Bid) error {
	const op = "Store.SaveBid"
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := bidToModel(b, a.BidCount)
		if result := tx.Create(&record); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create bid, err=%w", op, result.Error)
		}
		result := tx.Model(&models.Auction{}).
			Where("id = ? AND bid_count = ? AND is_open = ?", uint64(a.ID), a.BidCount-1, true).
			Updates(map[string]any{
				"highest_bid":          a.HighestBid.String(),
				"highest_bidder_index": a.HighestBidderIndex.String(),
				"bid_count":            a.BidCount,
			})
		if result.Error != nil {
			return fmt.Errorf("[%s] Fail to update auction %d, err=%w", op, a.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("[%s] Auction %d, err=%w", op, a.ID, ErrConflict)
		}
		return nil
	})
}

func (s *Store) SaveSettlement(ctx context.Context, a auction.Auction, st auction.Settlement) error {
	const op = "Store.SaveSettlement"
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Auction{}).
			Where("id = ? AND is_open = ?", uint64(a.ID), true).
			Updates(map[string]any{
				"is_open":     false,
				"winner":      string(a.Winner),
				"closed_at":   a.ClosedAt,
				"transferred": a.Transferred,
			})
		if result.Error != nil {
			return fmt.Errorf("[%s] Fail to close auction %d, err=%w", op, a.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("[%s] Auction %d, err=%w", op, a.ID, ErrConflict)
		}
		record := settlementToModel(st)
		if result := tx.Create(&record); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create settlement, err=%w", op, result.Error)
		}
		return nil
	})
}

func (s *Store) Load(ctx context.Context) (*auction.Snapshot, error) {
	const op = "Store.Load"
	db := s.db.WithContext(ctx)

	var auctions []models.Auction
	if result := db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).Find(&auctions); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to load auctions, err=%w", op, result.Error)
	}
	var bids []models.Bid
	if result := db.Order("auction_id, position").Find(&bids); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to load bids, err=%w", op, result.Error)
	}
	var settlements []models.Settlement
	if result := db.Order("auction_id").Find(&settlements); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to load settlements, err=%w", op, result.Error)
	}

	snapshot := &auction.Snapshot{
		Auctions:    make([]auction.Auction, 0, len(auctions)),
		Bids:        make([]auction.Bid, 0, len(bids)),
		Settlements: make([]auction.Settlement, 0, len(settlements)),
	}
	for _, record := range auctions {
		a, err := auctionFromModel(record)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to decode auction %d, err=%w", op, record.ID, err)
		}
		snapshot.Auctions = append(snapshot.Auctions, a)
	}
	for _, record := range bids {
		b, err := bidFromModel(record)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to decode bid %s, err=%w", op, record.ID, err)
		}
		snapshot.Bids = append(snapshot.Bids, b)
	}
	for _, record := range settlements {
		snapshot.Settlements = append(snapshot.Settlements, settlementFromModel(record))
	}

	s.logger.Debug("snapshot loaded",
		slog.Int("auctions", len(snapshot.Auctions)),
		slog.Int("bids", len(snapshot.Bids)),
	)
	return snapshot, nil
}
