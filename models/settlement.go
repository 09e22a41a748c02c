package models

import (
	"time"
)

// Settlement 代表拍賣結算時轉給賣家的款項
type Settlement struct {
	AuctionID uint64    `gorm:"primaryKey;autoIncrement:false"`
	Winner    string    `gorm:"type:varchar(255)"`
	Payee     string    `gorm:"type:varchar(255);not null;index"`
	Amount    uint64    `gorm:"type:bigint;not null"`
	ClosedAt  time.Time `gorm:"not null"`
	CreatedAt time.Time
}
