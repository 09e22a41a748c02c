package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SsoProvider 代表支援的 SSO 提供者
type SsoProvider struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	Name      string    `gorm:"type:varchar(64);not null;unique;<-:create"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *SsoProvider) BeforeCreate(*gorm.DB) error {
	if p.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}
