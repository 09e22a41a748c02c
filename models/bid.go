package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bid 代表一筆密封出價
// Position 是出價在該場拍賣中的順序(從1開始)
type Bid struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID   uint64    `gorm:"not null;uniqueIndex:idx_bid_auction_id_bidder;uniqueIndex:idx_bid_auction_id_position;<-:create"`
	Bidder      string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_bid_auction_id_bidder;<-:create"`
	Position    uint64    `gorm:"type:bigint;not null;uniqueIndex:idx_bid_auction_id_position;<-:create"`
	Amount      string    `gorm:"type:varchar(66);not null;<-:create"`
	Payment     uint64    `gorm:"type:bigint;not null;<-:create"`
	Comment     string    `gorm:"type:text;<-:create"`
	SubmittedAt time.Time `gorm:"not null;<-:create"`
	CreatedAt   time.Time

	Auction *Auction `gorm:"foreignKey:AuctionID"`
}

// BeforeCreate 在寫入前產生時間有序的UUID
func (b *Bid) BeforeCreate(*gorm.DB) error {
	if b.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	b.ID = id
	return nil
}
