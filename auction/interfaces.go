//go:generate mockgen -package=auction -destination=mock_gen.go -source=interfaces.go

package auction

import (
	"context"
)

// Store 是拍賣狀態的持久層，每個方法都必須是原子性的
type Store interface {
	// SaveAuction 寫入新建立的拍賣
	SaveAuction(ctx context.Context, a Auction) error
	// SaveBid 寫入出價並同時更新拍賣的聚合欄位
	SaveBid(ctx context.Context, a Auction, b Bid) error
	// SaveSettlement 寫入結算紀錄並同時更新拍賣狀態
	SaveSettlement(ctx context.Context, a Auction, s Settlement) error
	// Load 讀出所有資料，用於重啟後恢復
	Load(ctx context.Context) (*Snapshot, error)
}

// EventSink 接收狀態變更後的事件
type EventSink interface {
	Publish(event Event) error
}
