package store

import (
	"time"

	"cipherbid/auction"
	"cipherbid/fhe"
	"cipherbid/models"
)

func auctionToModel(a auction.Auction) models.Auction {
	record := models.Auction{
		ID:                 uint64(a.ID),
		Title:              a.Title,
		Description:        a.Description,
		Category:           a.Category,
		MinimumBid:         a.MinimumBid,
		Creator:            string(a.Creator),
		EndTime:            a.EndTime,
		IsOpen:             a.IsOpen,
		HighestBid:         a.HighestBid.String(),
		HighestBidderIndex: a.HighestBidderIndex.String(),
		BidCount:           a.BidCount,
		Winner:             string(a.Winner),
		Transferred:        a.Transferred,
		CreatedAt:          a.CreatedAt,
	}
	if !a.ClosedAt.IsZero() {
		closedAt := a.ClosedAt
		record.ClosedAt = &closedAt
	}
	return record
}

func auctionFromModel(record models.Auction) (auction.Auction, error) {
	highest, err := fhe.ParseHandle(record.HighestBid)
	if err != nil {
		return auction.Auction{}, err
	}
	index, err := fhe.ParseHandle(record.HighestBidderIndex)
	if err != nil {
		return auction.Auction{}, err
	}
	var closedAt time.Time
	if record.ClosedAt != nil {
		closedAt = record.ClosedAt.UTC()
	}
	return auction.Auction{
		ID:                 auction.ID(record.ID),
		Title:              record.Title,
		Description:        record.Description,
		Category:           record.Category,
		MinimumBid:         record.MinimumBid,
		Creator:            auction.Identity(record.Creator),
		CreatedAt:          record.CreatedAt.UTC(),
		EndTime:            record.EndTime.UTC(),
		IsOpen:             record.IsOpen,
		HighestBid:         highest,
		HighestBidderIndex: index,
		BidCount:           record.BidCount,
		Winner:             auction.Identity(record.Winner),
		ClosedAt:           closedAt,
		Transferred:        record.Transferred,
	}, nil
}

func bidToModel(b auction.Bid, position uint64) models.Bid {
	return models.Bid{
		AuctionID:   uint64(b.AuctionID),
		Bidder:      string(b.Bidder),
		Position:    position,
		Amount:      b.Amount.String(),
		Payment:     b.Payment,
		Comment:     b.Comment,
		SubmittedAt: b.SubmittedAt,
	}
}

func bidFromModel(record models.Bid) (auction.Bid, error) {
	amount, err := fhe.ParseHandle(record.Amount)
	if err != nil {
		return auction.Bid{}, err
	}
	return auction.Bid{
		AuctionID:   auction.ID(record.AuctionID),
		Bidder:      auction.Identity(record.Bidder),
		Amount:      amount,
		Comment:     record.Comment,
		Payment:     record.Payment,
		SubmittedAt: record.SubmittedAt.UTC(),
	}, nil
}

func settlementToModel(s auction.Settlement) models.Settlement {
	return models.Settlement{
		AuctionID: uint64(s.AuctionID),
		Winner:    string(s.Winner),
		Payee:     string(s.Payee),
		Amount:    s.Amount,
		ClosedAt:  s.ClosedAt,
	}
}

func settlementFromModel(record models.Settlement) auction.Settlement {
	return auction.Settlement{
		AuctionID: auction.ID(record.AuctionID),
		Winner:    auction.Identity(record.Winner),
		Payee:     auction.Identity(record.Payee),
		Amount:    record.Amount,
		ClosedAt:  record.ClosedAt.UTC(),
	}
}

func ciphertextToModel(c fhe.Ciphertext) models.Ciphertext {
	return models.Ciphertext{
		Handle:   c.Handle.String(),
		Type:     uint8(c.Type),
		Value:    int64(c.Value),
		Owner:    c.Owner,
		Verified: c.Verified,
	}
}

func ciphertextFromModel(record models.Ciphertext) (fhe.Ciphertext, error) {
	h, err := fhe.ParseHandle(record.Handle)
	if err != nil {
		return fhe.Ciphertext{}, err
	}
	return fhe.Ciphertext{
		Handle:   h,
		Type:     fhe.Type(record.Type),
		Value:    uint64(record.Value),
		Owner:    record.Owner,
		Verified: record.Verified,
	}, nil
}
