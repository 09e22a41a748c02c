package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cipherbid/adapters/session"
)

type storeOptions struct {
	prefix string
	ttl    time.Duration
}

type StoreOption func(*storeOptions)

// WithStorePrefix 設定 key 前綴
func WithStorePrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		o.prefix = prefix
	}
}

// WithStoreTTL 設定資料的存活時間，0 表示不過期
func WithStoreTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

// Store 以 redis hash 保存 session 資料
type Store struct {
	client  *redis.Client
	options storeOptions
}

var _ session.IStore = (*Store)(nil)

func NewStore(client *redis.Client, opts ...StoreOption) *Store {
	options := storeOptions{
		prefix: "session:",
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Store{
		client:  client,
		options: options,
	}
}

// Load 讀取資料，key 不存在時回傳空 map
func (s *Store) Load(ctx context.Context, name string) (map[string]string, error) {
	const op = "redis.Store.Load"
	result, err := s.client.HGetAll(ctx, s.options.prefix+name).Result()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get hash, err=%w", op, err)
	}
	return result, nil
}

// saveScript 原子性地覆寫整個 hash 並設定過期時間
var saveScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
redis.call('DEL', key)
if #ARGV > 1 then
    redis.call('HSET', key, unpack(ARGV, 2))
    if ttl > 0 then
        redis.call('PEXPIRE', key, ttl)
    end
end
return 1
`)

// Save 覆寫資料，空資料等同刪除
func (s *Store) Save(ctx context.Context, name string, data map[string]string) error {
	const op = "redis.Store.Save"
	args := make([]any, 0, len(data)*2+1)
	args = append(args, s.options.ttl.Milliseconds())
	for k, v := range data {
		args = append(args, k, v)
	}
	if err := saveScript.Run(ctx, s.client, []string{s.options.prefix + name}, args...).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to execute save script, err=%w", op, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	const op = "redis.Store.Delete"
	if err := s.client.Del(ctx, s.options.prefix+name).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to delete hash, err=%w", op, err)
	}
	return nil
}
