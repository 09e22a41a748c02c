package fhe

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"
)

// 每個欄位元素最多放31個位元組，確保一定小於bn254純量域的模數
const chunkSize = fr.Bytes - 1

// Signer 代表輸入驗證者(input verifier)，對外部handle與其擁有者簽章
type Signer struct {
	key *eddsa.PrivateKey
}

// NewSigner 以seed建立簽章者；seed為空時使用隨機金鑰
func NewSigner(seed []byte) (*Signer, error) {
	const op = "NewSigner"
	var r io.Reader = rand.Reader
	if len(seed) > 0 {
		if len(seed) < 32 {
			return nil, fmt.Errorf("[%s] Seed must be at least 32 bytes, got %d", op, len(seed))
		}
		r = bytes.NewReader(seed)
	}
	key, err := eddsa.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to generate key, err=%w", op, err)
	}
	return &Signer{key: key}, nil
}

// Sign 產生綁定(handle, owner)的證明
func (s *Signer) Sign(h Handle, owner string) ([]byte, error) {
	const op = "Signer.Sign"
	sig, err := s.key.Sign(inputDigest(h, owner), mimc.NewMiMC())
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to sign input, err=%w", op, err)
	}
	return sig, nil
}

// Verifier 回傳對應的驗證者
func (s *Signer) Verifier() *Verifier {
	return &Verifier{pub: s.key.PublicKey}
}

// Verifier 驗證輸入證明
type Verifier struct {
	pub eddsa.PublicKey
}

// NewVerifier 由壓縮格式的公鑰建立驗證者
func NewVerifier(publicKey []byte) (*Verifier, error) {
	const op = "NewVerifier"
	var pub eddsa.PublicKey
	if _, err := pub.SetBytes(publicKey); err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public key, err=%w", op, err)
	}
	return &Verifier{pub: pub}, nil
}

// PublicKey 回傳壓縮格式的公鑰
func (v *Verifier) PublicKey() []byte {
	return v.pub.Bytes()
}

// Verify 檢查證明是否為此handle與owner的有效簽章
func (v *Verifier) Verify(h Handle, owner string, proof []byte) bool {
	if len(proof) == 0 {
		return false
	}
	ok, err := v.pub.Verify(proof, inputDigest(h, owner), mimc.NewMiMC())
	return err == nil && ok
}

// inputDigest 以MiMC計算(handle, owner)的摘要，輸出為標準形式的域元素
func inputDigest(h Handle, owner string) []byte {
	hf := mimc.NewMiMC()
	writeElement(hf, h[:])
	writeElement(hf, []byte{byte(len(owner) >> 8), byte(len(owner))})
	for _, chunk := range chunks([]byte(owner)) {
		writeElement(hf, chunk)
	}
	return hf.Sum(nil)
}

func writeElement(w io.Writer, b []byte) {
	var e fr.Element
	e.SetBytes(b)
	out := e.Bytes()
	// MiMC只接受標準形式的域元素，經過SetBytes後不會失敗
	_, _ = w.Write(out[:])
}

func chunks(b []byte) [][]byte {
	out := make([][]byte, 0, len(b)/chunkSize+1)
	for len(b) > chunkSize {
		out = append(out, b[:chunkSize])
		b = b[chunkSize:]
	}
	if len(b) > 0 {
		out = append(out, b)
	}
	return out
}
