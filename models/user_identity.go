package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserIdentity 記錄使用者在 SSO 提供者的識別字串
type UserIdentity struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;<-:create"`
	SsoProviderID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_user_identity_sso_provider_id_user_id;uniqueIndex:idx_user_identity_sso_provider_id_identity;not null;<-:create"`
	UserID        uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_user_identity_sso_provider_id_user_id;not null;<-:create"`
	Identity      string    `gorm:"type:text;uniqueIndex:idx_user_identity_sso_provider_id_identity;not null;<-:create"`
	CreatedAt     time.Time

	SsoProvider *SsoProvider `gorm:"foreignKey:SsoProviderID"`
	User        *User        `gorm:"foreignKey:UserID"`
}

func (i *UserIdentity) BeforeCreate(*gorm.DB) error {
	if i.ID != uuid.Nil {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	i.ID = id
	return nil
}
