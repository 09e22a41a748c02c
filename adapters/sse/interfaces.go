//go:generate mockgen -package=sse -destination=mock.go -source=interfaces.go

package sse

// PublishRequest 表示一個發布請求，包含頻道名稱和訊息
type PublishRequest[T any] struct {
	Channel string `json:"channel" msgpack:"channel"`
	Message T      `json:"message" msgpack:"message"`
}

// ISubscriber 是 Hub 的遠端訊息來源，例如 Redis Stream 的消費者
type ISubscriber[T any] interface {
	Subscribe() <-chan PublishRequest[T]
}

// IChannel 定義了單一主題的訂閱者集合
type IChannel[T any] interface {
	// Subscribe 建立一個新的訂閱並返回接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消指定通道的訂閱
	Unsubscribe(ch <-chan T)
	// UnsubscribeAll 取消所有訂閱
	UnsubscribeAll()
	// Broadcast 將訊息送給所有訂閱者，回傳因緩衝區已滿而丟棄的數量
	Broadcast(message T) int
	// IsIdle 檢查是否沒有訂閱者
	IsIdle() bool
}

// IHub 定義了多頻道的 SSE 訊息中樞
type IHub[T any] interface {
	// Start 開始接收遠端來源的訊息
	Start()
	// Close 停止中樞並關閉所有訂閱
	Close()
	Subscribe(channelName string) (<-chan T, error)
	Unsubscribe(channelName string, ch <-chan T)
	// Publish 將訊息直接廣播給本機的訂閱者
	Publish(channelName string, data T) error
}
