package notify

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wamanager/console/internal/infrastructure/monitoring"
)

func TestRecorderKeepsLatest(t *testing.T) {
	rec := NewRecorder(3)

	for _, msg := range []string{"a", "b", "c", "d"} {
		Info(rec, "test", "title", msg)
	}

	all := rec.All()
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].Message)
	assert.Equal(t, "d", all[2].Message)

	latest := rec.Latest(1)
	require.Len(t, latest, 1)
	assert.Equal(t, "d", latest[0].Message)

	rec.Clear()
	assert.Empty(t, rec.All())
}

func TestNoticeFields(t *testing.T) {
	n := New(LevelError, "realtime", "Connection lost", "abnormal closure")

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, LevelError, n.Level)
	assert.Equal(t, "realtime", n.Source)
	assert.False(t, n.Time.IsZero())
}

func TestRecorderListeners(t *testing.T) {
	rec := NewRecorder(10)

	var got, other []Level
	off := rec.Listen(func(n Notice) { got = append(got, n.Level) })
	rec.Listen(func(n Notice) { other = append(other, n.Level) })

	Error(rec, "s", "t", "m")
	Warn(rec, "s", "t", "m")
	off()
	off()
	Success(rec, "s", "t", "m")

	assert.Equal(t, []Level{LevelError, LevelWarning}, got)
	assert.Equal(t, []Level{LevelError, LevelWarning, LevelSuccess}, other)
	assert.Len(t, rec.All(), 3)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	ln := NewLogNotifier(zap.New(core), metrics)

	Error(ln, "api", "Request failed", "Invalid phone")
	Warn(ln, "realtime", "Server error", "slow down")
	Info(ln, "session", "Logged in", "welcome")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Invalid phone", entries[0].Message)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.InfoLevel, entries[2].Level)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Notices.WithLabelValues("error")))
}

func TestMulti(t *testing.T) {
	a := NewRecorder(5)
	b := NewRecorder(5)

	Warn(Multi(a, nil, b, Discard), "s", "t", "m")

	assert.Len(t, a.All(), 1)
	assert.Len(t, b.All(), 1)
}
