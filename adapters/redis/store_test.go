package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	mr, client := setupMiniredis(t)
	ctx := context.Background()
	s := NewStore(client, WithStorePrefix("sso:"), WithStoreTTL(time.Minute))

	data, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, s.Save(ctx, "sid", map[string]string{"state": "abc", "nonce": "xyz"}))
	assert.Equal(t, "abc", mr.HGet("sso:sid", "state"))
	assert.Equal(t, time.Minute, mr.TTL("sso:sid"))

	// 覆寫會移除舊欄位
	require.NoError(t, s.Save(ctx, "sid", map[string]string{"user": "alice"}))
	data, err = s.Load(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user": "alice"}, data)

	mr.FastForward(2 * time.Minute)
	data, err = s.Load(ctx, "sid")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, s.Save(ctx, "sid", map[string]string{"user": "alice"}))
	require.NoError(t, s.Delete(ctx, "sid"))
	assert.False(t, mr.Exists("sso:sid"))

	t.Run("空資料等同刪除", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "sid", map[string]string{"a": "b"}))
		require.NoError(t, s.Save(ctx, "sid", nil))
		assert.False(t, mr.Exists("sso:sid"))
	})
}

func TestStore_Errors(t *testing.T) {
	db, mock, done := setupTest(t)
	defer done()
	ctx := context.Background()
	s := NewStore(db)

	mock.ExpectHGetAll("session:sid").SetErr(errors.New("down"))
	_, err := s.Load(ctx, "sid")
	assert.ErrorContains(t, err, "redis.Store.Load")

	mock.ExpectDel("session:sid").SetErr(errors.New("down"))
	assert.ErrorContains(t, s.Delete(ctx, "sid"), "redis.Store.Delete")
}
