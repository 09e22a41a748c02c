package auction

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 是錯誤的分類，呼叫端依此決定呈現方式
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindNotFound
	KindAuctionClosed
	KindAlreadyClosed
	KindAuctionExpired
	KindSelfBidForbidden
	KindDuplicateBid
	KindBidTooLow
	KindInvalidProof
	KindPrimitiveUnavailable
	KindNotAuthorizedToClose
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:              "Unknown",
	KindInvalidArgument:      "InvalidArgument",
	KindNotFound:             "NotFound",
	KindAuctionClosed:        "AuctionClosed",
	KindAlreadyClosed:        "AlreadyClosed",
	KindAuctionExpired:       "AuctionExpired",
	KindSelfBidForbidden:     "SelfBidForbidden",
	KindDuplicateBid:         "DuplicateBid",
	KindBidTooLow:            "BidTooLow",
	KindInvalidProof:         "InvalidProof",
	KindPrimitiveUnavailable: "PrimitiveUnavailable",
	KindNotAuthorizedToClose: "NotAuthorizedToClose",
	KindStorage:              "Storage",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// 用於 errors.Is 比對的哨兵錯誤，只比對 Kind
var (
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrAuctionClosed        = &Error{Kind: KindAuctionClosed}
	ErrAlreadyClosed        = &Error{Kind: KindAlreadyClosed}
	ErrAuctionExpired       = &Error{Kind: KindAuctionExpired}
	ErrSelfBidForbidden     = &Error{Kind: KindSelfBidForbidden}
	ErrDuplicateBid         = &Error{Kind: KindDuplicateBid}
	ErrBidTooLow            = &Error{Kind: KindBidTooLow}
	ErrInvalidProof         = &Error{Kind: KindInvalidProof}
	ErrPrimitiveUnavailable = &Error{Kind: KindPrimitiveUnavailable}
	ErrNotAuthorizedToClose = &Error{Kind: KindNotAuthorizedToClose}
	ErrStorage              = &Error{Kind: KindStorage}
)

// Error 攜帶錯誤分類、拍賣編號與相關身份
type Error struct {
	Kind      Kind
	AuctionID ID
	Identity  Identity
	Reason    string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Kind.String())
	b.WriteString("]")
	if e.AuctionID != 0 {
		fmt.Fprintf(&b, " auction=%d", e.AuctionID)
	}
	if e.Identity != "" {
		fmt.Fprintf(&b, " identity=%s", e.Identity)
	}
	if e.Reason != "" {
		b.WriteString(" ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ", err=%v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 讓 errors.Is(err, ErrDuplicateBid) 依 Kind 比對
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf 取出錯誤鏈中的 Kind，非 *Error 時回傳 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, id ID, identity Identity, reason string) *Error {
	return &Error{Kind: kind, AuctionID: id, Identity: identity, Reason: reason}
}

func invalidArgument(identity Identity, reason string) *Error {
	return newError(KindInvalidArgument, 0, identity, reason)
}
