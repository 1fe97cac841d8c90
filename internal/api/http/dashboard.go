package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/activity"
	"github.com/wamanager/console/internal/adminapi"
	"github.com/wamanager/console/internal/realtime"
)

const dashboardFetchTimeout = 5 * time.Second

// DashboardSnapshot combines local realtime state with the platform summary
type DashboardSnapshot struct {
	Timestamp  time.Time                   `json:"timestamp"`
	Connection realtime.ConnectionStatus   `json:"connection"`
	Activity   activity.Stats              `json:"activity"`
	Platform   *adminapi.MonitorStats      `json:"platform,omitempty"`
	Analytics  *adminapi.AnalyticsOverview `json:"analytics,omitempty"`
	Errors     map[string]string           `json:"errors,omitempty"`
}

// Dashboard returns the local snapshot plus the platform summary when signed in.
// A failing platform call is reported in errors and does not fail the request.
func (h *Handlers) Dashboard(c *gin.Context) {
	snap := DashboardSnapshot{
		Timestamp:  time.Now().UTC(),
		Connection: h.realtime.Status(),
		Activity:   h.activity.Stats(),
	}

	if h.session.Authenticated() {
		h.fetchPlatform(c.Request.Context(), &snap)
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) fetchPlatform(ctx context.Context, snap *DashboardSnapshot) {
	ctx, cancel := context.WithTimeout(ctx, dashboardFetchTimeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures = map[string]string{}
	)
	fail := func(part string, err error) {
		h.logger.Debug("Dashboard fetch failed", zap.String("part", part), zap.Error(err))
		mu.Lock()
		failures[part] = adminapi.UserMessage(err)
		mu.Unlock()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		stats, err := h.api.Monitor.Stats(ctx)
		if err != nil {
			fail("platform", err)
			return
		}
		snap.Platform = stats
	}()
	go func() {
		defer wg.Done()
		overview, err := h.api.Analytics.Overview(ctx)
		if err != nil {
			fail("analytics", err)
			return
		}
		snap.Analytics = overview
	}()
	wg.Wait()

	if len(failures) > 0 {
		snap.Errors = failures
	}
}
