package auction

import (
	"errors"
	"fmt"
	"math/bits"
)

var ErrInsufficientEscrow = errors.New("insufficient escrow")

// Treasury 保管每場拍賣收到的付款，並在結算時轉帳給賣家
type Treasury struct {
	escrow   map[ID]uint64
	balances map[Identity]uint64
}

func NewTreasury() *Treasury {
	return &Treasury{
		escrow:   make(map[ID]uint64),
		balances: make(map[Identity]uint64),
	}
}

// CanEscrow 檢查加上amount後是否會溢位
func (t *Treasury) CanEscrow(id ID, amount uint64) bool {
	_, carry := bits.Add64(t.escrow[id], amount, 0)
	return carry == 0
}

func (t *Treasury) Escrow(id ID, amount uint64) error {
	const op = "Treasury.Escrow"
	if !t.CanEscrow(id, amount) {
		return fmt.Errorf("[%s] Escrow of auction %d overflows", op, id)
	}
	t.escrow[id] += amount
	return nil
}

func (t *Treasury) EscrowOf(id ID) uint64 {
	return t.escrow[id]
}

// Transfer 從拍賣的託管金額轉出amount給to
func (t *Treasury) Transfer(from ID, to Identity, amount uint64) error {
	const op = "Treasury.Transfer"
	if t.escrow[from] < amount {
		return fmt.Errorf("[%s] Auction %d holds %d, need %d, err=%w", op, from, t.escrow[from], amount, ErrInsufficientEscrow)
	}
	if _, carry := bits.Add64(t.balances[to], amount, 0); carry != 0 {
		return fmt.Errorf("[%s] Balance of %s overflows", op, to)
	}
	t.escrow[from] -= amount
	t.balances[to] += amount
	return nil
}

func (t *Treasury) BalanceOf(identity Identity) uint64 {
	return t.balances[identity]
}

// revert 撤銷一次 Transfer，用於持久化失敗時
func (t *Treasury) revert(from ID, to Identity, amount uint64) {
	t.balances[to] -= amount
	t.escrow[from] += amount
}
