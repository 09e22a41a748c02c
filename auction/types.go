package auction

import (
	"time"

	"cipherbid/fhe"
)

// Duration 是拍賣從建立到截止的固定長度
const Duration = 7 * 24 * time.Hour

// ID 是拍賣編號，從1開始連續遞增
type ID uint64

// Identity 是帳戶身份，只做相等比較
type Identity string

// Auction 是拍賣的標準紀錄
// HighestBid 與 HighestBidderIndex 皆為密文，開標前不會被解密
type Auction struct {
	ID          ID
	Title       string
	Description string
	Category    string
	MinimumBid  uint64
	Creator     Identity
	CreatedAt   time.Time
	EndTime     time.Time
	IsOpen      bool

	HighestBid fhe.Handle
	// HighestBidderIndex 是目前最高出價在出價清單中的位置(從1開始)，0表示沒有出價
	HighestBidderIndex fhe.Handle
	BidCount           uint64

	// 以下欄位在結算後才有值
	Winner      Identity
	ClosedAt    time.Time
	Transferred uint64
}

// Expired 判斷在now時是否已經超過截止時間
func (a Auction) Expired(now time.Time) bool {
	return !now.Before(a.EndTime)
}

type Bid struct {
	AuctionID   ID
	Bidder      Identity
	Amount      fhe.Handle
	Comment     string
	Payment     uint64
	SubmittedAt time.Time
}

// Settlement 是結算後的轉帳紀錄
type Settlement struct {
	AuctionID ID
	Winner    Identity
	Payee     Identity
	Amount    uint64
	ClosedAt  time.Time
}

type CreateParams struct {
	Title       string
	Description string
	Category    string
	MinimumBid  uint64
	Creator     Identity
}

// Validate 檢查建立拍賣所需的欄位
func (p CreateParams) Validate() error {
	switch {
	case p.Title == "":
		return invalidArgument(p.Creator, "title is required")
	case p.Description == "":
		return invalidArgument(p.Creator, "description is required")
	case p.Category == "":
		return invalidArgument(p.Creator, "category is required")
	case p.Creator == "":
		return invalidArgument(p.Creator, "creator is required")
	case p.MinimumBid == 0:
		return invalidArgument(p.Creator, "minimum bid must be positive")
	}
	return nil
}

type PlaceBidParams struct {
	AuctionID ID
	Bidder    Identity
	Payment   uint64
	// Input 與 Proof 由客戶端加密產生，證明必須綁定Bidder
	Input   fhe.Handle
	Proof   []byte
	Comment string
}
