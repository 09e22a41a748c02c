//go:generate mockgen -package=session -destination=mock.go -source=interfaces.go

package session

import "context"

// IStore 是 session 資料的儲存層
type IStore interface {
	Load(ctx context.Context, name string) (map[string]string, error)
	Save(ctx context.Context, name string, data map[string]string) error
	Delete(ctx context.Context, name string) error
}

type ISession interface {
	ID() string
	Load() error
	Get(key string) string
	// Pop 取出並刪除 key，用於一次性的值，例如 SSO 的 state
	Pop(key string) string
	Set(key, value string)
	Delete(key string)
	Clear()
	Save() error
	Destroy() error
}
