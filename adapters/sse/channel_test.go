package sse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cipherbid/adapters/sse"
)

func TestChannel(t *testing.T) {
	ch := sse.NewChannel[Message](1)

	// 測試訂閱
	sub := ch.Subscribe()
	assert.NotNil(t, sub)
	assert.False(t, ch.IsIdle())

	// 測試廣播訊息
	msg := Message{Data: "bid placed"}
	assert.Equal(t, 0, ch.Broadcast(msg))

	select {
	case received := <-sub:
		assert.Equal(t, msg, received)
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
	}

	// 緩衝區滿時丟棄訊息而不阻塞
	assert.Equal(t, 0, ch.Broadcast(msg))
	assert.Equal(t, 1, ch.Broadcast(msg))

	// 測試取消訂閱
	ch.Unsubscribe(sub)
	<-sub
	_, ok := <-sub
	assert.False(t, ok, "channel should be closed")
	assert.True(t, ch.IsIdle(), "channel should be idle")
}

func TestChannelUnsubscribeAll(t *testing.T) {
	ch := sse.NewChannel[Message](0)
	a := ch.Subscribe()
	b := ch.Subscribe()

	ch.UnsubscribeAll()
	_, okA := <-a
	_, okB := <-b
	assert.False(t, okA)
	assert.False(t, okB)
	assert.True(t, ch.IsIdle())
}
