package auction

import (
	"context"
)

// Snapshot 是持久層中的完整狀態
// Bids 必須依寫入順序排列
type Snapshot struct {
	Auctions    []Auction
	Bids        []Bid
	Settlements []Settlement
}

type nopStore struct{}

func (nopStore) SaveAuction(context.Context, Auction) error               { return nil }
func (nopStore) SaveBid(context.Context, Auction, Bid) error              { return nil }
func (nopStore) SaveSettlement(context.Context, Auction, Settlement) error { return nil }
func (nopStore) Load(context.Context) (*Snapshot, error)                  { return &Snapshot{}, nil }
