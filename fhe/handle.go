package fhe

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Type 表示密文的明文型別
type Type uint8

const (
	TypeBool Type = iota + 1
	TypeUint64
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "ebool"
	case TypeUint64:
		return "euint64"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Handle 是指向協處理器內密文的不透明參照，本身不含任何明文資訊
type Handle [32]byte

// String 以0x開頭的十六進位字串表示
func (h Handle) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero 判斷是否為未初始化的handle
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHandle 解析十六進位格式的handle，可帶0x前綴
func ParseHandle(s string) (Handle, error) {
	const op = "ParseHandle"
	var h Handle
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("[%s] Fail to decode handle, err=%w", op, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("[%s] Invalid handle length %d", op, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}
