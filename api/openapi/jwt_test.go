package openapi_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbid/api/openapi"
)

func newIssuer(t *testing.T, issuer, audience string) *openapi.TokenIssuer {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	i, err := openapi.NewTokenIssuer(key, issuer, audience, time.Hour)
	require.NoError(t, err)
	return i
}

func TestTokenIssuer(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newIssuer(t, "cipherbid", "cipherbid-api")

	token, err := issuer.Issue("user-1", "alice", now)
	require.NoError(t, err)

	claims, err := issuer.Parse(token, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)

	tests := []struct {
		name  string
		token string
		at    time.Time
	}{
		{name: "過期", token: token, at: now.Add(2 * time.Hour)},
		{name: "尚未生效", token: token, at: now.Add(-time.Minute)},
		{name: "格式錯誤", token: "not-a-token", at: now},
		{name: "竄改", token: token[:len(token)-2] + "xx", at: now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Parse(tt.token, tt.at)
			assert.ErrorIs(t, err, openapi.ErrInvalidToken)
		})
	}

	t.Run("其他簽發者的 token", func(t *testing.T) {
		other := newIssuer(t, "cipherbid", "cipherbid-api")
		foreign, err := other.Issue("user-1", "alice", now)
		require.NoError(t, err)
		_, err = issuer.Parse(foreign, now)
		assert.ErrorIs(t, err, openapi.ErrInvalidToken)
	})

	t.Run("受眾不符", func(t *testing.T) {
		_, key, _ := ed25519.GenerateKey(rand.Reader)
		a, _ := openapi.NewTokenIssuer(key, "cipherbid", "a", time.Hour)
		b, _ := openapi.NewTokenIssuer(key, "cipherbid", "b", time.Hour)
		tok, err := a.Issue("user-1", "alice", now)
		require.NoError(t, err)
		_, err = b.Parse(tok, now)
		assert.ErrorIs(t, err, openapi.ErrInvalidToken)
	})

	_, err = openapi.NewTokenIssuer(ed25519.PrivateKey{1, 2}, "i", "a", 0)
	assert.Error(t, err)
}
