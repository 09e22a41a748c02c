package sse

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Stream 將ch中的訊息以SSE寫給客戶端，直到客戶端斷線或ch被關閉
// 閒置超過keepAlive時送出註解行，避免代理伺服器斷線
func Stream[T any](c *gin.Context, event string, ch <-chan T, keepAlive time.Duration) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(200)
	c.Writer.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(event, msg)
			c.Writer.Flush()
			ticker.Reset(keepAlive)
		case <-ticker.C:
			if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
