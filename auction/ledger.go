package auction

// Ledger 保存每場拍賣的出價，只能附加，每位出價者每場只能出價一次
type Ledger struct {
	bids    map[ID][]Bid
	bidders map[ID]map[Identity]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{
		bids:    make(map[ID][]Bid),
		bidders: make(map[ID]map[Identity]struct{}),
	}
}

func (l *Ledger) HasBid(id ID, bidder Identity) bool {
	_, ok := l.bidders[id][bidder]
	return ok
}

// Append 附加一筆出價，重複出價回傳 DuplicateBid
func (l *Ledger) Append(b Bid) error {
	if l.HasBid(b.AuctionID, b.Bidder) {
		return newError(KindDuplicateBid, b.AuctionID, b.Bidder, "bidder already placed a bid")
	}
	set, ok := l.bidders[b.AuctionID]
	if !ok {
		set = make(map[Identity]struct{})
		l.bidders[b.AuctionID] = set
	}
	set[b.Bidder] = struct{}{}
	l.bids[b.AuctionID] = append(l.bids[b.AuctionID], b)
	return nil
}

func (l *Ledger) Count(id ID) int {
	return len(l.bids[id])
}

// ListFor 依出價順序回傳副本
func (l *Ledger) ListFor(id ID) []Bid {
	bids := l.bids[id]
	out := make([]Bid, len(bids))
	copy(out, bids)
	return out
}

// At 回傳第index筆出價(從1開始)
func (l *Ledger) At(id ID, index uint64) (Bid, bool) {
	bids := l.bids[id]
	if index < 1 || index > uint64(len(bids)) {
		return Bid{}, false
	}
	return bids[index-1], true
}
