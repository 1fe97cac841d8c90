package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/activity"
	"github.com/wamanager/console/internal/adminapi"
	"github.com/wamanager/console/internal/infrastructure/resilience"
	"github.com/wamanager/console/internal/notify"
	"github.com/wamanager/console/internal/realtime"
	"github.com/wamanager/console/internal/session"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

// Deps are the components the console handlers drive
type Deps struct {
	Realtime *realtime.Manager
	Activity *activity.Monitor
	Notices  *notify.Recorder
	Session  *session.Manager
	API      *adminapi.API
	Logger   *zap.Logger

	// UploadRoot confines directory uploads. Empty disables them.
	UploadRoot string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	realtime   *realtime.Manager
	activity   *activity.Monitor
	notices    *notify.Recorder
	session    *session.Manager
	api        *adminapi.API
	logger     *zap.Logger
	uploadRoot string
	started    time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		realtime:   d.Realtime,
		activity:   d.Activity,
		notices:    d.Notices,
		session:    d.Session,
		api:        d.API,
		logger:     logger,
		uploadRoot: d.UploadRoot,
		started:    time.Now(),
	}
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "WhatsApp management console",
		"version": Version,
	})
}

// Health handles liveness checks
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"version":        Version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"realtime":       h.realtime.State(),
		"authenticated":  h.session.Authenticated(),
	})
}

// Status reports the connection, the realtime counters and the activity buffers
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connection": h.realtime.Status(),
		"realtime":   h.realtime.Stats(),
		"activity":   h.activity.Stats(),
		"session":    h.sessionInfo(),
		"api":        gin.H{"breaker": h.api.Client.Breaker().State().String()},
	})
}

func (h *Handlers) sessionInfo() gin.H {
	info := gin.H{"authenticated": h.session.Authenticated()}
	if p, ok := h.session.Profile(); ok {
		info["username"] = p.Username
		info["roles"] = p.Roles
		info["remembered"] = h.session.Remembered()
	}
	if exp, ok := h.session.ExpiresAt(); ok {
		info["expires_at"] = exp
	}
	return info
}

// statusFor maps an error onto an HTTP status. fallback is used for errors
// no package classifies.
func statusFor(err error, fallback int) int {
	var apiErr *adminapi.APIError
	var biz *adminapi.BusinessError

	switch {
	case errors.As(err, &apiErr):
		if apiErr.Status >= http.StatusInternalServerError {
			return http.StatusBadGateway
		}
		return apiErr.Status
	case errors.As(err, &biz):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrMissingCredentials),
		errors.Is(err, realtime.ErrEmptyTopic),
		errors.Is(err, adminapi.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotAuthenticated),
		errors.Is(err, realtime.ErrNoToken):
		return http.StatusUnauthorized
	case errors.Is(err, realtime.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, realtime.ErrClosed),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return fallback
	}
}

// respondError writes {error} and records err on the context for the access log
func respondError(c *gin.Context, err error, fallback int) {
	_ = c.Error(err)

	msg := err.Error()
	var apiErr *adminapi.APIError
	if errors.As(err, &apiErr) {
		msg = adminapi.UserMessage(err)
	}
	c.JSON(statusFor(err, fallback), gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// queryLimit parses ?limit=. Missing means def; zero or negative is rejected.
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

// queryFlag parses a boolean query parameter; anything unparseable is false
func queryFlag(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}
