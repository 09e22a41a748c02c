package fhe

import (
	"context"
	"errors"
)

var (
	ErrInvalidProof  = errors.New("invalid input proof")
	ErrUnknownHandle = errors.New("unknown handle")
	ErrTypeMismatch  = errors.New("operand type mismatch")
)

// Input 是客戶端加密後送出的輸入：外部handle以及綁定身份的證明
type Input struct {
	Handle Handle `json:"handle"`
	Proof  []byte `json:"proof"`
}

// Executor 定義了對加密純量的同態運算介面
// 所有運算都不會揭露明文，包含比較結果
type Executor interface {
	// Zero 回傳加密的0
	Zero(ctx context.Context) (Handle, error)
	// TrivialEncrypt 將公開的明文值包裝成密文
	TrivialEncrypt(ctx context.Context, value uint64) (Handle, error)
	// FromProof 驗證外部輸入的證明並取得可運算的handle，證明必須綁定owner
	FromProof(ctx context.Context, input Handle, proof []byte, owner string) (Handle, error)
	// Add 同態加法，溢位時環繞
	Add(ctx context.Context, a, b Handle) (Handle, error)
	// Sub 同態減法，下溢時環繞
	Sub(ctx context.Context, a, b Handle) (Handle, error)
	// Gt 同態比較 a > b，回傳加密布林值
	Gt(ctx context.Context, a, b Handle) (Handle, error)
	// Select 無分支三元運算：cond ? a : b
	Select(ctx context.Context, cond, a, b Handle) (Handle, error)
}

// Decrypter 是經授權的解密預言機
type Decrypter interface {
	Decrypt(ctx context.Context, h Handle) (uint64, error)
}

// Encryptor 代表客戶端(或relayer)的加密流程
type Encryptor interface {
	Encrypt(ctx context.Context, value uint64, owner string) (Input, error)
}

// Ciphertext 是密文表中的一筆資料
// Owner 不為空表示客戶端送出的輸入，Verified 表示輸入已經通過 FromProof
type Ciphertext struct {
	Handle   Handle
	Type     Type
	Value    uint64
	Owner    string
	Verified bool
}

// CiphertextStore 保存協處理器的密文表，重啟後的協處理器由此還原先前的handle
type CiphertextStore interface {
	// SaveCiphertexts 寫入新的密文，handle 已存在時只更新 Verified
	SaveCiphertexts(ctx context.Context, records ...Ciphertext) error
	LoadCiphertexts(ctx context.Context) ([]Ciphertext, error)
}
