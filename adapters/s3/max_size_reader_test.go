package s3_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbid/adapters/s3"
)

func TestMaxSizeReader(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxSize int64
		want    string
		wantErr string
	}{
		{name: "小於上限", input: "hello", maxSize: 10, want: "hello"},
		{name: "剛好等於上限", input: "hello", maxSize: 5, want: "hello"},
		{name: "超過上限", input: "hello world", maxSize: 5, want: "hello", wantErr: "reach limit of 5 bytes"},
		{name: "上限為零", input: "x", maxSize: 0, want: "", wantErr: "reach limit of 0 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(s3.NewMaxSizeReader(strings.NewReader(tt.input), tt.maxSize))
			assert.Equal(t, tt.want, string(got))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var limitErr *s3.ReachLimitError
			require.True(t, errors.As(err, &limitErr))
			assert.Equal(t, tt.maxSize, limitErr.MaxBytes)
			assert.EqualError(t, err, tt.wantErr)
		})
	}

	t.Run("小緩衝區多次讀取", func(t *testing.T) {
		r := s3.NewMaxSizeReader(bytes.NewReader(make([]byte, 10)), 8)
		buf := make([]byte, 3)
		total := 0
		var err error
		for err == nil {
			var n int
			n, err = r.Read(buf)
			total += n
		}
		assert.Equal(t, 8, total)
		assert.IsType(t, &s3.ReachLimitError{}, err)
	})
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{bytes: 500, want: "500 bytes"},
		{bytes: 1024 * 2, want: "2.00 KB"},
		{bytes: 1536, want: "1.50 KB"},
		{bytes: 1024 * 1024 * 3, want: "3.00 MB"},
		{bytes: 1024 * 1024 * 1024 * 4, want: "4.00 GB"},
		{bytes: 1024 * 1024 * 1024 * 1024 * 5, want: "5.00 TB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, s3.FormatBytes(tt.bytes))
		})
	}
}
