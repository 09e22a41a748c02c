package models

import (
	"time"
)

// Ciphertext 是開發用協處理器的密文表
// Value 以 bigint 保存 uint64 的位元，讀出時再轉回
type Ciphertext struct {
	Handle    string `gorm:"type:varchar(66);primaryKey"`
	Type      uint8  `gorm:"type:smallint;not null"`
	Value     int64  `gorm:"type:bigint;not null"`
	Owner     string `gorm:"type:varchar(255);index"`
	Verified  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
