package auction

import (
	"time"
)

type EventType string

const (
	EventAuctionCreated EventType = "auction_created"
	EventBidPlaced      EventType = "bid_placed"
	EventAuctionClosed  EventType = "auction_closed"
)

// Event 是對外公開的狀態變更
// 出價事件只帶出價者與時間，不含金額與留言
type Event struct {
	Type      EventType `json:"type" msgpack:"type"`
	AuctionID ID        `json:"auctionId" msgpack:"auction_id"`
	// Identity 在建立事件中是賣家，在出價事件中是出價者，在結算事件中是結算呼叫者
	Identity Identity  `json:"identity,omitempty" msgpack:"identity"`
	Winner   Identity  `json:"winner,omitempty" msgpack:"winner"`
	Amount   uint64    `json:"amount,omitempty" msgpack:"amount"`
	Time     time.Time `json:"time" msgpack:"time"`
}

// EventSinkFunc 讓一般函數也能作為 EventSink
type EventSinkFunc func(event Event) error

func (f EventSinkFunc) Publish(event Event) error {
	return f(event)
}
