package fhe

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

type opcode byte

const (
	opZero opcode = iota + 1
	opTrivial
	opInput
	opAdd
	opSub
	opGt
	opSelect
)

type ciphertext struct {
	typ   Type
	value uint64
}

type pendingInput struct {
	owner string
	value uint64
}

// MockCoprocessor 是以明文儲存的協處理器，供開發與測試使用
// 密文以handle表示，外部輸入需要附帶綁定身份的EdDSA簽章。
// 設定 CiphertextStore 後每個新的密文都會先寫入再回傳handle。
type MockCoprocessor struct {
	mu          sync.Mutex
	values      map[Handle]ciphertext
	inputs      map[Handle]pendingInput
	nonce       uint64
	salt        [16]byte
	signer      *Signer
	verifier    *Verifier
	ciphertexts CiphertextStore
	latency     time.Duration
	logger      *slog.Logger
}

type MockOption func(*MockCoprocessor)

// WithLatency 模擬每次運算的延遲
func WithLatency(d time.Duration) MockOption {
	return func(m *MockCoprocessor) {
		m.latency = d
	}
}

func WithLogger(logger *slog.Logger) MockOption {
	return func(m *MockCoprocessor) {
		m.logger = logger
	}
}

// WithCiphertextStore 持久化密文表，多個實例共用同一個 store 時可以接手彼此的handle
func WithCiphertextStore(store CiphertextStore) MockOption {
	return func(m *MockCoprocessor) {
		m.ciphertexts = store
	}
}

// WithSigner 指定輸入驗證者使用的簽章金鑰
func WithSigner(signer *Signer) MockOption {
	return func(m *MockCoprocessor) {
		m.signer = signer
	}
}

func NewMockCoprocessor(opts ...MockOption) (*MockCoprocessor, error) {
	const op = "NewMockCoprocessor"
	m := &MockCoprocessor{
		values: make(map[Handle]ciphertext),
		inputs: make(map[Handle]pendingInput),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	// nonce 每次啟動都從0開始，加上 salt 避免與先前實例產生的handle重複
	if _, err := rand.Read(m.salt[:]); err != nil {
		return nil, fmt.Errorf("[%s] Fail to generate salt, err=%w", op, err)
	}
	if m.signer == nil {
		signer, err := NewSigner(nil)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to create signer, err=%w", op, err)
		}
		m.signer = signer
	}
	m.verifier = m.signer.Verifier()
	m.logger = m.logger.With(slog.String("caller", "fhe.MockCoprocessor"))
	return m, nil
}

// Restore 從 CiphertextStore 載入先前寫入的密文，需在任何運算之前呼叫
func (m *MockCoprocessor) Restore(ctx context.Context) error {
	const op = "MockCoprocessor.Restore"
	if m.ciphertexts == nil {
		return fmt.Errorf("[%s] No ciphertext store configured", op)
	}
	records, err := m.ciphertexts.LoadCiphertexts(ctx)
	if err != nil {
		return fmt.Errorf("[%s] Fail to load ciphertexts, err=%w", op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.Owner != "" {
			m.inputs[r.Handle] = pendingInput{owner: r.Owner, value: r.Value}
			if !r.Verified {
				continue
			}
		}
		m.values[r.Handle] = ciphertext{typ: r.Type, value: r.Value}
	}
	m.logger.Info("ciphertexts restored", slog.Int("count", len(records)))
	return nil
}

// Verifier 回傳輸入證明的驗證者
func (m *MockCoprocessor) Verifier() *Verifier {
	return m.verifier
}

func (m *MockCoprocessor) Zero(ctx context.Context) (Handle, error) {
	return m.TrivialEncrypt(ctx, 0)
}

func (m *MockCoprocessor) TrivialEncrypt(ctx context.Context, value uint64) (Handle, error) {
	if err := m.wait(ctx); err != nil {
		return Handle{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	code := opTrivial
	if value == 0 {
		code = opZero
	}
	return m.store(ctx, code, ciphertext{typ: TypeUint64, value: value})
}

// Encrypt 模擬客戶端加密：登記外部handle並產生綁定owner的證明
func (m *MockCoprocessor) Encrypt(ctx context.Context, value uint64, owner string) (Input, error) {
	const op = "MockCoprocessor.Encrypt"
	if err := m.wait(ctx); err != nil {
		return Input{}, err
	}
	m.mu.Lock()
	m.nonce++
	h := m.derive(opInput, m.nonce)
	if err := m.persist(ctx, Ciphertext{Handle: h, Type: TypeUint64, Value: value, Owner: owner}); err != nil {
		m.mu.Unlock()
		return Input{}, fmt.Errorf("[%s] %w", op, err)
	}
	m.inputs[h] = pendingInput{owner: owner, value: value}
	m.mu.Unlock()

	proof, err := m.signer.Sign(h, owner)
	if err != nil {
		return Input{}, fmt.Errorf("[%s] Fail to sign input, err=%w", op, err)
	}
	return Input{Handle: h, Proof: proof}, nil
}

func (m *MockCoprocessor) FromProof(ctx context.Context, input Handle, proof []byte, owner string) (Handle, error) {
	const op = "MockCoprocessor.FromProof"
	if err := m.wait(ctx); err != nil {
		return Handle{}, err
	}
	if !m.verifier.Verify(input, owner, proof) {
		m.logger.Debug("rejected input proof", slog.String("handle", input.String()), slog.String("owner", owner))
		return Handle{}, fmt.Errorf("[%s] Signature does not bind handle to owner, err=%w", op, ErrInvalidProof)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pending, ok := m.inputs[input]
	if !ok || pending.owner != owner {
		return Handle{}, fmt.Errorf("[%s] Handle %s was never submitted, err=%w", op, input, ErrInvalidProof)
	}
	if _, ok := m.values[input]; !ok {
		record := Ciphertext{Handle: input, Type: TypeUint64, Value: pending.value, Owner: owner, Verified: true}
		if err := m.persist(ctx, record); err != nil {
			return Handle{}, fmt.Errorf("[%s] %w", op, err)
		}
		m.values[input] = ciphertext{typ: TypeUint64, value: pending.value}
	}
	return input, nil
}

func (m *MockCoprocessor) Add(ctx context.Context, a, b Handle) (Handle, error) {
	return m.binary(ctx, opAdd, a, b, func(x, y uint64) ciphertext {
		return ciphertext{typ: TypeUint64, value: x + y}
	})
}

func (m *MockCoprocessor) Sub(ctx context.Context, a, b Handle) (Handle, error) {
	return m.binary(ctx, opSub, a, b, func(x, y uint64) ciphertext {
		return ciphertext{typ: TypeUint64, value: x - y}
	})
}

func (m *MockCoprocessor) Gt(ctx context.Context, a, b Handle) (Handle, error) {
	return m.binary(ctx, opGt, a, b, func(x, y uint64) ciphertext {
		if x > y {
			return ciphertext{typ: TypeBool, value: 1}
		}
		return ciphertext{typ: TypeBool, value: 0}
	})
}

func (m *MockCoprocessor) Select(ctx context.Context, cond, a, b Handle) (Handle, error) {
	const op = "MockCoprocessor.Select"
	if err := m.wait(ctx); err != nil {
		return Handle{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(cond)
	if err != nil {
		return Handle{}, fmt.Errorf("[%s] Fail to load condition, err=%w", op, err)
	}
	if c.typ != TypeBool {
		return Handle{}, fmt.Errorf("[%s] Condition is %s, err=%w", op, c.typ, ErrTypeMismatch)
	}
	x, err := m.lookup(a)
	if err != nil {
		return Handle{}, fmt.Errorf("[%s] Fail to load operand, err=%w", op, err)
	}
	y, err := m.lookup(b)
	if err != nil {
		return Handle{}, fmt.Errorf("[%s] Fail to load operand, err=%w", op, err)
	}
	if x.typ != y.typ {
		return Handle{}, fmt.Errorf("[%s] Operands are %s and %s, err=%w", op, x.typ, y.typ, ErrTypeMismatch)
	}
	out := y
	if c.value == 1 {
		out = x
	}
	return m.store(ctx, opSelect, out, cond, a, b)
}

// Decrypt 是授權解密預言機，布林值以0/1回傳
func (m *MockCoprocessor) Decrypt(ctx context.Context, h Handle) (uint64, error) {
	const op = "MockCoprocessor.Decrypt"
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.lookup(h)
	if err != nil {
		return 0, fmt.Errorf("[%s] Fail to decrypt, err=%w", op, err)
	}
	return c.value, nil
}

func (m *MockCoprocessor) binary(ctx context.Context, code opcode, a, b Handle, fn func(x, y uint64) ciphertext) (Handle, error) {
	if err := m.wait(ctx); err != nil {
		return Handle{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	x, err := m.lookup(a)
	if err != nil {
		return Handle{}, err
	}
	y, err := m.lookup(b)
	if err != nil {
		return Handle{}, err
	}
	if x.typ != TypeUint64 || y.typ != TypeUint64 {
		return Handle{}, fmt.Errorf("operands are %s and %s, err=%w", x.typ, y.typ, ErrTypeMismatch)
	}
	return m.store(ctx, code, fn(x.value, y.value), a, b)
}

func (m *MockCoprocessor) lookup(h Handle) (ciphertext, error) {
	c, ok := m.values[h]
	if !ok {
		return ciphertext{}, fmt.Errorf("handle %s, err=%w", h, ErrUnknownHandle)
	}
	return c, nil
}

// store 必須在持有鎖的情況下呼叫，寫入失敗時handle不會生效
func (m *MockCoprocessor) store(ctx context.Context, code opcode, c ciphertext, operands ...Handle) (Handle, error) {
	m.nonce++
	h := m.derive(code, m.nonce, operands...)
	if err := m.persist(ctx, Ciphertext{Handle: h, Type: c.typ, Value: c.value}); err != nil {
		return Handle{}, err
	}
	m.values[h] = c
	return h, nil
}

func (m *MockCoprocessor) persist(ctx context.Context, record Ciphertext) error {
	if m.ciphertexts == nil {
		return nil
	}
	if err := m.ciphertexts.SaveCiphertexts(ctx, record); err != nil {
		return fmt.Errorf("Fail to persist ciphertext %s, err=%w", record.Handle, err)
	}
	return nil
}

// derive 以MiMC(salt, opcode, nonce, operands...)產生新的handle
func (m *MockCoprocessor) derive(code opcode, nonce uint64, operands ...Handle) Handle {
	hf := mimc.NewMiMC()
	writeElement(hf, m.salt[:])
	var header [9]byte
	header[0] = byte(code)
	binary.BigEndian.PutUint64(header[1:], nonce)
	writeElement(hf, header[:])
	for _, operand := range operands {
		writeElement(hf, operand[:])
	}
	var h Handle
	copy(h[:], hf.Sum(nil))
	return h
}

func (m *MockCoprocessor) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
