package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec(t *testing.T) {
	values, err := EncodeMessage(TestMessage{ID: "1", Data: "hello"})
	require.NoError(t, err)
	assert.Contains(t, values, "data")

	got, err := DecodeMessage[TestMessage](values)
	require.NoError(t, err)
	assert.Equal(t, TestMessage{ID: "1", Data: "hello"}, got)

	tests := []struct {
		name   string
		values map[string]any
		want   error
	}{
		{name: "缺少欄位", values: map[string]any{}, want: ErrMissingField},
		{name: "欄位型別錯誤", values: map[string]any{"data": 1}, want: ErrMissingField},
		{name: "不是 base64", values: map[string]any{"data": "%%%"}},
		{name: "不是 msgpack", values: map[string]any{"data": "wQ=="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage[TestMessage](tt.values)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}

	t.Run("不接受指標", func(t *testing.T) {
		_, err := EncodeMessage(&TestMessage{})
		assert.ErrorIs(t, err, ErrPointerType)
		_, err = DecodeMessage[*TestMessage](values)
		assert.ErrorIs(t, err, ErrPointerType)
	})
}
