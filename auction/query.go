package auction

import (
	"time"
)

// Summary 是拍賣總數與仍開放中的數量
type Summary struct {
	Total int `json:"total"`
	Open  int `json:"open"`
}

func (m *Machine) Get(id ID) (Auction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.Get(id)
}

func (m *Machine) ListByCreator(creator Identity) []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registry.ListByCreator(creator)
}

// ListOpenNonExpired 回傳尚未結束且未超過截止時間的拍賣
func (m *Machine) ListOpenNonExpired(now time.Time) []Auction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Auction, 0)
	for _, a := range m.registry.All() {
		if a.IsOpen && !a.Expired(now) {
			out = append(out, a)
		}
	}
	return out
}

// CountsSummary 中的Open以狀態旗標計算，已過期但未結算的拍賣仍算開放
func (m *Machine) CountsSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Summary{Total: m.registry.Len()}
	for _, a := range m.registry.All() {
		if a.IsOpen {
			s.Open++
		}
	}
	return s
}

func (m *Machine) BidCountOf(id ID) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, err := m.registry.Get(id)
	if err != nil {
		return 0, err
	}
	return a.BidCount, nil
}

func (m *Machine) BidsOf(id ID) ([]Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.registry.Get(id); err != nil {
		return nil, err
	}
	return m.ledger.ListFor(id), nil
}

func (m *Machine) HasBid(bidder Identity, id ID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.registry.Get(id); err != nil {
		return false, err
	}
	return m.ledger.HasBid(id, bidder), nil
}

// BalanceOf 回傳身份累積收到的結算金額
func (m *Machine) BalanceOf(identity Identity) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.treasury.BalanceOf(identity)
}
