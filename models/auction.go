package models

import (
	"time"
)

// Auction 代表一場密封拍賣
// 最高出價與其位置都是密文handle，以十六進位字串保存
type Auction struct {
	ID                 uint64     `gorm:"primaryKey;autoIncrement:false"`
	Title              string     `gorm:"type:varchar(255);not null;<-:create"`
	Description        string     `gorm:"type:text;not null;<-:create"`
	Category           string     `gorm:"type:varchar(255);not null;index;<-:create"`
	MinimumBid         uint64     `gorm:"type:bigint;not null;<-:create"`
	Creator            string     `gorm:"type:varchar(255);not null;index;<-:create"`
	EndTime            time.Time  `gorm:"not null;<-:create"`
	IsOpen             bool       `gorm:"not null;index"`
	HighestBid         string     `gorm:"type:varchar(66);not null"`
	HighestBidderIndex string     `gorm:"type:varchar(66);not null"`
	BidCount           uint64     `gorm:"type:bigint;not null;default:0"`
	Winner             string     `gorm:"type:varchar(255)"`
	ClosedAt           *time.Time
	Transferred        uint64 `gorm:"type:bigint;not null;default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// 外鍵關聯
	Bids       []Bid
	Settlement *Settlement
}
