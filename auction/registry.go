package auction

import (
	"fmt"
	"time"

	"cipherbid/fhe"
)

// Registry 負責分配拍賣編號並保存標準紀錄
// Registry 本身不加鎖，由 Machine 負責序列化所有存取
type Registry struct {
	auctions  []Auction
	byCreator map[Identity][]ID
}

func NewRegistry() *Registry {
	return &Registry{
		byCreator: make(map[Identity][]ID),
	}
}

// NextID 回傳下一個會被分配的編號
func (r *Registry) NextID() ID {
	return ID(len(r.auctions) + 1)
}

// Len 回傳已建立的拍賣數量
func (r *Registry) Len() int {
	return len(r.auctions)
}

// Prepare 驗證參數並產生下一筆紀錄，但不寫入
func (r *Registry) Prepare(p CreateParams, zero fhe.Handle, now time.Time) (Auction, error) {
	if err := p.Validate(); err != nil {
		return Auction{}, err
	}
	return Auction{
		ID:                 r.NextID(),
		Title:              p.Title,
		Description:        p.Description,
		Category:           p.Category,
		MinimumBid:         p.MinimumBid,
		Creator:            p.Creator,
		CreatedAt:          now,
		EndTime:            now.Add(Duration),
		IsOpen:             true,
		HighestBid:         zero,
		HighestBidderIndex: zero,
	}, nil
}

// Commit 寫入由 Prepare 產生的紀錄，編號必須等於 NextID
func (r *Registry) Commit(a Auction) error {
	const op = "Registry.Commit"
	if a.ID != r.NextID() {
		return fmt.Errorf("[%s] Expected id %d, got %d", op, r.NextID(), a.ID)
	}
	r.auctions = append(r.auctions, a)
	r.byCreator[a.Creator] = append(r.byCreator[a.Creator], a.ID)
	return nil
}

// Create 建立拍賣並回傳新編號
func (r *Registry) Create(p CreateParams, zero fhe.Handle, now time.Time) (ID, error) {
	a, err := r.Prepare(p, zero, now)
	if err != nil {
		return 0, err
	}
	if err := r.Commit(a); err != nil {
		return 0, err
	}
	return a.ID, nil
}

// Get 取得拍賣紀錄的副本
func (r *Registry) Get(id ID) (Auction, error) {
	a, err := r.ref(id)
	if err != nil {
		return Auction{}, err
	}
	return *a, nil
}

// Replace 以新的紀錄覆蓋同編號的拍賣
func (r *Registry) Replace(a Auction) error {
	ref, err := r.ref(a.ID)
	if err != nil {
		return err
	}
	*ref = a
	return nil
}

// ListByCreator 依建立順序回傳creator建立的拍賣編號
func (r *Registry) ListByCreator(creator Identity) []ID {
	ids := r.byCreator[creator]
	out := make([]ID, len(ids))
	copy(out, ids)
	return out
}

// All 依編號順序回傳所有拍賣的副本
func (r *Registry) All() []Auction {
	out := make([]Auction, len(r.auctions))
	copy(out, r.auctions)
	return out
}

func (r *Registry) ref(id ID) (*Auction, error) {
	if id < 1 || id >= r.NextID() {
		return nil, newError(KindNotFound, id, "", "auction does not exist")
	}
	return &r.auctions[id-1], nil
}
