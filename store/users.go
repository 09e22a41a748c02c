package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cipherbid/models"
)

// ResolveUser 依 SSO 提供者與 subject 找出使用者，不存在時建立
func (s *Store) ResolveUser(ctx context.Context, provider, subject, username string) (models.User, error) {
	const op = "Store.ResolveUser"
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ssoProvider := models.SsoProvider{Name: provider}
		if result := tx.Where(models.SsoProvider{Name: provider}).FirstOrCreate(&ssoProvider); result.Error != nil {
			return fmt.Errorf("find sso provider %s, err=%w", provider, result.Error)
		}

		identity := models.UserIdentity{}
		result := tx.Preload("User").
			Where(models.UserIdentity{SsoProviderID: ssoProvider.ID, Identity: subject}).
			First(&identity)
		if result.Error == nil && identity.User != nil {
			user = *identity.User
			return nil
		}
		if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("find user identity, err=%w", result.Error)
		}

		user = models.User{Username: username}
		if result := tx.Create(&user); result.Error != nil {
			return fmt.Errorf("create user, err=%w", result.Error)
		}
		identity = models.UserIdentity{
			SsoProviderID: ssoProvider.ID,
			UserID:        user.ID,
			Identity:      subject,
		}
		if result := tx.Create(&identity); result.Error != nil {
			return fmt.Errorf("create user identity, err=%w", result.Error)
		}
		s.logger.Info("user registered",
			slog.String("provider", provider),
			slog.String("user", user.ID.String()),
		)
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("[%s] Fail to resolve user, err=%w", op, err)
	}
	return user, nil
}

// GetUser 以使用者編號取得使用者
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	const op = "Store.GetUser"
	var user models.User
	if result := s.db.WithContext(ctx).First(&user, "id = ?", id); result.Error != nil {
		return models.User{}, fmt.Errorf("[%s] Fail to find user %s, err=%w", op, id, result.Error)
	}
	return user, nil
}
