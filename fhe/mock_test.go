package fhe_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbid/fhe"
)

func newCoprocessor(t *testing.T, opts ...fhe.MockOption) *fhe.MockCoprocessor {
	t.Helper()
	signer, err := fhe.NewSigner(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	m, err := fhe.NewMockCoprocessor(append([]fhe.MockOption{fhe.WithSigner(signer)}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestMockCoprocessorArithmetic(t *testing.T) {
	ctx := context.Background()
	m := newCoprocessor(t)

	tests := []struct {
		name string
		a, b uint64
		fn   func(ctx context.Context, a, b fhe.Handle) (fhe.Handle, error)
		want uint64
	}{
		{name: "加法", a: 3, b: 4, fn: m.Add, want: 7},
		{name: "加法溢位環繞", a: math.MaxUint64, b: 2, fn: m.Add, want: 1},
		{name: "減法", a: 10, b: 4, fn: m.Sub, want: 6},
		{name: "減法下溢環繞", a: 0, b: 1, fn: m.Sub, want: math.MaxUint64},
		{name: "大於為真", a: 5, b: 4, fn: m.Gt, want: 1},
		{name: "相等不為大於", a: 4, b: 4, fn: m.Gt, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := m.TrivialEncrypt(ctx, tt.a)
			require.NoError(t, err)
			b, err := m.TrivialEncrypt(ctx, tt.b)
			require.NoError(t, err)

			out, err := tt.fn(ctx, a, b)
			require.NoError(t, err)
			got, err := m.Decrypt(ctx, out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMockCoprocessorSelect(t *testing.T) {
	ctx := context.Background()
	m := newCoprocessor(t)

	a, _ := m.TrivialEncrypt(ctx, 11)
	b, _ := m.TrivialEncrypt(ctx, 22)
	isGt, err := m.Gt(ctx, b, a)
	require.NoError(t, err)

	out, err := m.Select(ctx, isGt, b, a)
	require.NoError(t, err)
	got, _ := m.Decrypt(ctx, out)
	assert.Equal(t, uint64(22), got)

	out, err = m.Select(ctx, isGt, a, b)
	require.NoError(t, err)
	got, _ = m.Decrypt(ctx, out)
	assert.Equal(t, uint64(11), got)

	t.Run("條件必須是加密布林值", func(t *testing.T) {
		_, err := m.Select(ctx, a, a, b)
		assert.ErrorIs(t, err, fhe.ErrTypeMismatch)
	})

	t.Run("分支型別必須一致", func(t *testing.T) {
		_, err := m.Select(ctx, isGt, isGt, a)
		assert.ErrorIs(t, err, fhe.ErrTypeMismatch)
	})

	t.Run("未知handle", func(t *testing.T) {
		_, err := m.Select(ctx, isGt, fhe.Handle{1}, a)
		assert.ErrorIs(t, err, fhe.ErrUnknownHandle)
	})
}

func TestMockCoprocessorHandlesAreFresh(t *testing.T) {
	ctx := context.Background()
	m := newCoprocessor(t)

	z1, err := m.Zero(ctx)
	require.NoError(t, err)
	z2, err := m.Zero(ctx)
	require.NoError(t, err)

	// 相同明文的密文不應有相同handle
	assert.NotEqual(t, z1, z2)
	assert.False(t, z1.IsZero())
}

func TestMockCoprocessorFromProof(t *testing.T) {
	ctx := context.Background()
	m := newCoprocessor(t)

	in, err := m.Encrypt(ctx, 42, "alice")
	require.NoError(t, err)

	t.Run("證明綁定到其他身份", func(t *testing.T) {
		_, err := m.FromProof(ctx, in.Handle, in.Proof, "bob")
		assert.ErrorIs(t, err, fhe.ErrInvalidProof)
	})

	t.Run("空證明", func(t *testing.T) {
		_, err := m.FromProof(ctx, in.Handle, nil, "alice")
		assert.ErrorIs(t, err, fhe.ErrInvalidProof)
	})

	t.Run("其他協處理器簽發的證明", func(t *testing.T) {
		other, err := fhe.NewMockCoprocessor()
		require.NoError(t, err)
		foreign, err := other.Encrypt(ctx, 42, "alice")
		require.NoError(t, err)
		_, err = m.FromProof(ctx, foreign.Handle, foreign.Proof, "alice")
		assert.ErrorIs(t, err, fhe.ErrInvalidProof)
	})

	t.Run("有效證明", func(t *testing.T) {
		h, err := m.FromProof(ctx, in.Handle, in.Proof, "alice")
		require.NoError(t, err)
		got, err := m.Decrypt(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, uint64(42), got)
	})
}

func TestMockCoprocessorHonorsContext(t *testing.T) {
	m := newCoprocessor(t, fhe.WithLatency(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Zero(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// memCiphertexts 模擬共用的密文表
type memCiphertexts struct {
	mu      sync.Mutex
	records map[fhe.Handle]fhe.Ciphertext
	err     error
}

func newMemCiphertexts() *memCiphertexts {
	return &memCiphertexts{records: make(map[fhe.Handle]fhe.Ciphertext)}
}

func (s *memCiphertexts) SaveCiphertexts(_ context.Context, records ...fhe.Ciphertext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, r := range records {
		if existing, ok := s.records[r.Handle]; ok {
			existing.Verified = r.Verified
			s.records[r.Handle] = existing
			continue
		}
		s.records[r.Handle] = r
	}
	return nil
}

func (s *memCiphertexts) LoadCiphertexts(context.Context) ([]fhe.Ciphertext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fhe.Ciphertext, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func TestMockCoprocessorRestore(t *testing.T) {
	ctx := context.Background()
	store := newMemCiphertexts()
	before := newCoprocessor(t, fhe.WithCiphertextStore(store))

	a, err := before.TrivialEncrypt(ctx, 30)
	require.NoError(t, err)
	verified, err := before.Encrypt(ctx, 80, "bob")
	require.NoError(t, err)
	b, err := before.FromProof(ctx, verified.Handle, verified.Proof, "bob")
	require.NoError(t, err)
	isGt, err := before.Gt(ctx, b, a)
	require.NoError(t, err)
	highest, err := before.Select(ctx, isGt, b, a)
	require.NoError(t, err)
	pending, err := before.Encrypt(ctx, 55, "carol")
	require.NoError(t, err)

	// 重啟後的協處理器使用相同的簽章金鑰與密文表
	after := newCoprocessor(t, fhe.WithCiphertextStore(store))
	_, err = after.Decrypt(ctx, highest)
	require.ErrorIs(t, err, fhe.ErrUnknownHandle)
	require.NoError(t, after.Restore(ctx))

	t.Run("先前的handle可以繼續運算", func(t *testing.T) {
		got, err := after.Decrypt(ctx, highest)
		require.NoError(t, err)
		assert.Equal(t, uint64(80), got)

		c, err := after.TrivialEncrypt(ctx, 100)
		require.NoError(t, err)
		isGt, err := after.Gt(ctx, c, highest)
		require.NoError(t, err)
		next, err := after.Select(ctx, isGt, c, highest)
		require.NoError(t, err)
		got, err = after.Decrypt(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), got)
	})

	t.Run("重啟前送出的輸入仍然有效", func(t *testing.T) {
		h, err := after.FromProof(ctx, pending.Handle, pending.Proof, "carol")
		require.NoError(t, err)
		got, err := after.Decrypt(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, uint64(55), got)

		_, err = after.FromProof(ctx, pending.Handle, pending.Proof, "bob")
		assert.ErrorIs(t, err, fhe.ErrInvalidProof)
	})

	t.Run("新的handle不會覆蓋先前的密文", func(t *testing.T) {
		count := len(store.records)
		z, err := after.Zero(ctx)
		require.NoError(t, err)
		assert.Len(t, store.records, count+1)
		got, err := after.Decrypt(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, uint64(30), got)
		assert.NotEqual(t, a, z)
	})

	t.Run("沒有設定密文表", func(t *testing.T) {
		assert.Error(t, newCoprocessor(t).Restore(ctx))
	})
}

func TestMockCoprocessorPersistFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemCiphertexts()
	m := newCoprocessor(t, fhe.WithCiphertextStore(store))
	a, err := m.TrivialEncrypt(ctx, 1)
	require.NoError(t, err)

	store.err = errors.New("connection refused")
	_, err = m.TrivialEncrypt(ctx, 2)
	assert.ErrorContains(t, err, "connection refused")
	_, err = m.Encrypt(ctx, 3, "bob")
	assert.ErrorContains(t, err, "connection refused")
	_, err = m.Add(ctx, a, a)
	assert.ErrorContains(t, err, "connection refused")
	assert.Len(t, store.records, 1)
}
