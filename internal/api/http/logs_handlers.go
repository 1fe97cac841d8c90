package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxUILogEntries = 500

// UILogEntry is one log line forwarded by the browser console
type UILogEntry struct {
	ID        string                 `json:"id"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context"`
	Timestamp string                 `json:"timestamp"`
}

// UILogBatch is a batch of browser log lines
type UILogBatch struct {
	Source  string       `json:"source"`
	Entries []UILogEntry `json:"entries"`
}

// IngestLogs writes browser log lines into the structured log
func (h *Handlers) IngestLogs(c *gin.Context) {
	var req UILogBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid log batch")
		return
	}
	if len(req.Entries) == 0 {
		badRequest(c, "no log entries provided")
		return
	}
	if len(req.Entries) > maxUILogEntries {
		badRequest(c, "too many log entries")
		return
	}

	source := req.Source
	if source == "" {
		source = "ui"
	}
	logger := h.logger.Named("ui").With(zap.String("source", source))

	for _, entry := range req.Entries {
		logUIEntry(logger, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  len(req.Entries),
		"timestamp": time.Now().Unix(),
	})
}

func logUIEntry(logger *zap.Logger, entry UILogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+2)
	fields = append(fields,
		zap.String("ui_log_id", entry.ID),
		zap.String("ui_timestamp", entry.Timestamp),
	)
	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch strings.ToLower(entry.Level) {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn", "warning":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}
