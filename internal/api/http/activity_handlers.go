package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/activity"
	"github.com/wamanager/console/internal/realtime"
)

// BufferSizeRequest resizes the activity buffers
type BufferSizeRequest struct {
	Size int `json:"size" binding:"required"`
}

// Messages lists buffered messages, oldest first
func (h *Handlers) Messages(c *gin.Context) {
	limit, ok := queryLimit(c, activity.DefaultBufferSize)
	if !ok {
		return
	}
	var items []realtime.MessageEvent
	if queryFlag(c, "sensitive") {
		items = tail(h.activity.SensitiveMessages(), limit)
	} else {
		items = h.activity.LatestMessages(limit)
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Contacts lists buffered contact changes, oldest first
func (h *Handlers) Contacts(c *gin.Context) {
	limit, ok := queryLimit(c, activity.DefaultBufferSize)
	if !ok {
		return
	}
	var items []realtime.ContactEvent
	if queryFlag(c, "high_risk") {
		items = tail(h.activity.HighRiskContacts(), limit)
	} else {
		items = h.activity.LatestContacts(limit)
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Alerts lists buffered alerts, oldest first
func (h *Handlers) Alerts(c *gin.Context) {
	limit, ok := queryLimit(c, activity.DefaultBufferSize)
	if !ok {
		return
	}
	var items []realtime.AlertEvent
	if queryFlag(c, "critical") {
		items = tail(h.activity.CriticalAlerts(), limit)
	} else {
		items = h.activity.LatestAlerts(limit)
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// ActivityStats returns counts and risk statistics
func (h *Handlers) ActivityStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.activity.Stats())
}

// SetBufferSize resizes every buffer; the size is clamped into range
func (h *Handlers) SetBufferSize(c *gin.Context) {
	var req BufferSizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "size is required")
		return
	}
	applied := h.activity.SetBufferSize(req.Size)
	c.JSON(http.StatusOK, gin.H{"requested": req.Size, "bufferSize": applied})
}

// ClearActivity empties every buffer
func (h *Handlers) ClearActivity(c *gin.Context) {
	h.activity.Clear()
	c.Status(http.StatusNoContent)
}

// ExportActivity streams the buffers as gzip-compressed NDJSON
func (h *Handlers) ExportActivity(c *gin.Context) {
	name := fmt.Sprintf("activity-%s.ndjson.gz", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Status(http.StatusOK)

	if err := h.activity.Export(c.Writer); err != nil {
		// headers are already out
		h.logger.Error("Activity export failed", zap.Error(err))
		_ = c.Error(err)
	}
}

// tail returns the last n items of items
func tail[T any](items []T, n int) []T {
	if n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}
