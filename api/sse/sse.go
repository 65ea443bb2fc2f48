package sse

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamedb/cache"
	"github.com/kasuganosora/gamedb/game/binder"
	"go.uber.org/zap"
)

const keepAliveInterval = 30 * time.Second

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	hub       *binder.Hub
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler. hub may be nil; when set, its
// current texts are sent as a snapshot on connect.
func NewHandler(pubsub cache.PubSub, hub *binder.Hub, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, hub: hub, keepAlive: keepAliveInterval, logger: logger}
}

// ServeSSE handles GET /sse.
// It streams every rendered binder update as a "binder" event. Access is
// restricted by the IPWhitelist middleware on the route.
func (h *Handler) ServeSSE(c *gin.Context) {
	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, binder.UpdatesChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	// Send initial connected event.
	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	if h.hub != nil {
		for name, text := range h.hub.Texts() {
			fmt.Fprintf(c.Writer, "event: binder\ndata: %s\n\n", snapshot(name, text))
		}
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: binder\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
