package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Connect opens the realtime connection
func (h *Handlers) Connect(c *gin.Context) {
	if err := h.realtime.Connect(c.Request.Context()); err != nil {
		h.logger.Warn("Realtime connect failed", zap.Error(err))
		respondError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, h.realtime.Status())
}

// Disconnect closes the realtime connection and cancels pending reconnects
func (h *Handlers) Disconnect(c *gin.Context) {
	h.realtime.Disconnect()
	c.JSON(http.StatusOK, h.realtime.Status())
}

// Reconnect stops any pending retry, resets the attempt budget and dials. An
// already open connection is kept as is.
func (h *Handlers) Reconnect(c *gin.Context) {
	if err := h.realtime.Reconnect(c.Request.Context()); err != nil {
		h.logger.Warn("Realtime reconnect failed", zap.Error(err))
		respondError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, h.realtime.Status())
}

// Subscribe adds a topic subscription
func (h *Handlers) Subscribe(c *gin.Context) {
	topic := strings.TrimSpace(c.Param("topic"))
	if err := h.realtime.SubscribeTopic(c.Request.Context(), topic); err != nil {
		respondError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": h.realtime.Topics()})
}

// Unsubscribe removes a topic subscription
func (h *Handlers) Unsubscribe(c *gin.Context) {
	topic := strings.TrimSpace(c.Param("topic"))
	if err := h.realtime.UnsubscribeTopic(c.Request.Context(), topic); err != nil {
		respondError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": h.realtime.Topics()})
}

// MessageLog returns the most recent dispatched envelopes, oldest first
func (h *Handlers) MessageLog(c *gin.Context) {
	limit, ok := queryLimit(c, 50)
	if !ok {
		return
	}
	msgs := h.realtime.RecentMessages(limit)
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}
