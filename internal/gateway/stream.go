package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"campus-fulfillment-service/internal/events"
)

// Clients wait this long before reconnecting a dropped stream.
const retryMillis = 10000

// ServeStream holds the request open as a text/event-stream for aud until the
// client goes away. Authentication has already established aud.
func (h *Hub) ServeStream(c *gin.Context, aud events.Audience) {
	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	conn := h.Register(aud)
	defer h.Unregister(conn)

	hello, _ := json.Marshal(events.Payload{"type": events.TypeConnected, "audience": aud.Channel()})
	if err := sse.Encode(w, sse.Event{Retry: retryMillis, Data: hello}); err != nil {
		return
	}
	w.Flush()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case data := <-conn.Messages():
			// A failed write means the transport is gone; the deferred
			// Unregister reaps the connection.
			if err := sse.Encode(w, sse.Event{Data: data}); err != nil {
				return
			}
			w.Flush()
		}
	}
}
