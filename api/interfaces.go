package api

import (
	"context"
	"io"
	"time"

	"cipherbid/models"
)

// UserResolver 將 SSO 身份對應到服務中的使用者
type UserResolver interface {
	ResolveUser(ctx context.Context, provider, subject, username string) (models.User, error)
}

// Limiter 判斷身份是否還有出價額度
type Limiter interface {
	Allow(ctx context.Context, identity string, now time.Time) (Decision, error)
}

// Uploader 將結算收據寫到物件儲存
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}
