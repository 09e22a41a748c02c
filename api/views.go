package api

import (
	"encoding/hex"
	"time"

	"github.com/samber/lo"

	"cipherbid/auction"
	"cipherbid/fhe"
)

// AuctionView 是拍賣的公開資料，最高出價只以 handle 呈現
type AuctionView struct {
	ID          auction.ID       `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	MinimumBid  uint64           `json:"minimumBid"`
	Creator     auction.Identity `json:"creator"`
	CreatedAt   time.Time        `json:"createdAt"`
	EndTime     time.Time        `json:"endTime"`
	IsOpen      bool             `json:"isOpen"`
	Expired     bool             `json:"expired"`
	BidCount    uint64           `json:"bidCount"`
	HighestBid  fhe.Handle       `json:"highestBid"`
	Winner      auction.Identity `json:"winner,omitempty"`
	ClosedAt    *time.Time       `json:"closedAt,omitempty"`
	Transferred uint64           `json:"transferred,omitempty"`
}

func newAuctionView(a auction.Auction, now time.Time) AuctionView {
	v := AuctionView{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		Category:    a.Category,
		MinimumBid:  a.MinimumBid,
		Creator:     a.Creator,
		CreatedAt:   a.CreatedAt,
		EndTime:     a.EndTime,
		IsOpen:      a.IsOpen,
		Expired:     a.Expired(now),
		BidCount:    a.BidCount,
		HighestBid:  a.HighestBid,
		Winner:      a.Winner,
		Transferred: a.Transferred,
	}
	if !a.ClosedAt.IsZero() {
		v.ClosedAt = lo.ToPtr(a.ClosedAt)
	}
	return v
}

func newAuctionViews(auctions []auction.Auction, now time.Time) []AuctionView {
	return lo.Map(auctions, func(a auction.Auction, _ int) AuctionView {
		return newAuctionView(a, now)
	})
}

type BidView struct {
	Bidder      auction.Identity `json:"bidder"`
	Amount      fhe.Handle       `json:"amount"`
	Payment     uint64           `json:"payment"`
	Comment     string           `json:"comment,omitempty"`
	SubmittedAt time.Time        `json:"submittedAt"`
}

func newBidViews(bids []auction.Bid) []BidView {
	return lo.Map(bids, func(b auction.Bid, _ int) BidView {
		return BidView{
			Bidder:      b.Bidder,
			Amount:      b.Amount,
			Payment:     b.Payment,
			Comment:     b.Comment,
			SubmittedAt: b.SubmittedAt,
		}
	})
}

type SettlementView struct {
	AuctionID auction.ID       `json:"auctionId"`
	Winner    auction.Identity `json:"winner,omitempty"`
	Payee     auction.Identity `json:"payee"`
	Amount    uint64           `json:"amount"`
	ClosedAt  time.Time        `json:"closedAt"`
}

func newSettlementView(s auction.Settlement) SettlementView {
	return SettlementView{
		AuctionID: s.AuctionID,
		Winner:    s.Winner,
		Payee:     s.Payee,
		Amount:    s.Amount,
		ClosedAt:  s.ClosedAt,
	}
}

// InputView 是加密後的輸入，proof 以 0x 開頭的十六進位表示
type InputView struct {
	Handle fhe.Handle `json:"handle"`
	Proof  string     `json:"proof"`
}

func newInputView(in fhe.Input) InputView {
	return InputView{Handle: in.Handle, Proof: "0x" + hex.EncodeToString(in.Proof)}
}
