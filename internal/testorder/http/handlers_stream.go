package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apiforge-labs/testorder-backend/internal/logging"
)

// StreamOrderEvents streams proposal lifecycle events of a suite using
// Server-Sent Events. The first event carries the current gate status.
func (h *Handler) StreamOrderEvents(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := logging.WithReqIDFromCtx(ctx, h.log).WithField("suite_id", suiteID)

	// fails with 404 for unknown suites before the stream opens
	gate, err := h.gate.GetGateStatus(ctx, suiteID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	sub, err := h.events.Subscribe(ctx, suiteID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			log.WithError(err).Debug("close event subscription")
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // nginx: disable buffering

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "streaming unsupported"})
		return
	}

	c.Status(http.StatusOK)
	writeSSE(c, "gate", gin.H{"gate": gate})
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()

		case event, open := <-sub.Events():
			if !open {
				log.Debug("event subscription ended")
				return
			}
			writeSSE(c, event.Type, event)
			flusher.Flush()
		}
	}
}

func writeSSE(c *gin.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
}
