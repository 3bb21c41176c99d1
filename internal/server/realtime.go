package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/backend/internal/notify"
)

// handleNotificationStream serves the per-recipient SSE channel. Queued
// fallback notifications are replayed first (oldest first), then live events
// flow until the client disconnects. A no-op keep-alive record goes out on an
// independent timer to hold the connection open through proxies.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	stream, cleanup := h.registry.Subscribe(ctx, userID)
	defer cleanup()

	backlog, err := h.fallbackQueue.Drain(ctx, userID)
	if err != nil {
		h.logger.Warn("fallback drain failed",
			zap.String("recipient_id", userID), zap.Error(err))
	}
	// Drain returns newest first; replay in arrival order.
	for i := len(backlog) - 1; i >= 0; i-- {
		if err := writeEvent(c.Writer, backlog[i]); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(h.heartbeat)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case notification, open := <-stream:
			if !open {
				return
			}
			if err := writeEvent(c.Writer, notification); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent frames one notification as a single SSE data record.
func writeEvent(w http.ResponseWriter, notification notify.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
