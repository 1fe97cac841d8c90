package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wamanager/console/internal/activity"
	"github.com/wamanager/console/internal/adminapi"
	"github.com/wamanager/console/internal/infrastructure/resilience"
	"github.com/wamanager/console/internal/notify"
	"github.com/wamanager/console/internal/realtime"
	"github.com/wamanager/console/internal/session"
	"github.com/wamanager/console/tests/helpers/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	handlers *Handlers
	router   *gin.Engine
	realtime *realtime.Manager
	activity *activity.Monitor
	notices  *notify.Recorder
	session  *session.Manager
	auth     *testutil.MockAuthenticator
	logs     *observer.ObservedLogs
}

// newFixture wires handlers against platform, a fake admin API, and wsURL
func newFixture(t *testing.T, platform http.HandlerFunc, wsURL string) *fixture {
	t.Helper()

	if platform == nil {
		platform = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
		}
	}
	api := httptest.NewServer(platform)
	t.Cleanup(api.Close)

	if wsURL == "" {
		wsURL = "ws://127.0.0.1:1/ws"
	}

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	notices := notify.NewRecorder(50)

	client, err := adminapi.New(adminapi.Options{BaseURL: api.URL}, adminapi.WithNotifier(notices))
	require.NoError(t, err)

	auth := testutil.NewMockAuthenticator(t)
	sess, err := session.NewManager(auth, session.Options{}, session.WithNotifier(notices))
	require.NoError(t, err)
	client.SetAuth(sess, sess, sess.Expire)

	rt := realtime.NewManager(realtime.Options{
		URL:     wsURL,
		Backoff: resilience.Backoff{Base: time.Hour, MaxAttempts: 1},
	}, sess, realtime.WithNotifier(notices))
	t.Cleanup(func() { _ = rt.Close() })

	mon := activity.NewMonitor(20)
	mon.Attach(rt.Dispatcher())

	h := NewHandlers(Deps{
		Realtime: rt,
		Activity: mon,
		Notices:  notices,
		Session:  sess,
		API:      adminapi.NewAPI(client),
		Logger:   logger,
	})
	router := gin.New()
	h.Register(router)

	return &fixture{
		handlers: h,
		router:   router,
		realtime: rt,
		activity: mon,
		notices:  notices,
		session:  sess,
		auth:     auth,
		logs:     logs,
	}
}

func (f *fixture) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.auth.On("Login", mock.Anything, mock.Anything).Return(testutil.CreateTestLoginResult(t, nil), nil).Once()
	_, err := f.session.Login(context.Background(), "operator", "pw", false)
	require.NoError(t, err)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "idle", body["realtime"])
	assert.Equal(t, false, body["authenticated"])

	w = f.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Contains(t, body, "connection")
	assert.Contains(t, body, "realtime")
	assert.Contains(t, body, "activity")
	assert.Equal(t, "closed", body["api"].(map[string]interface{})["breaker"])
}

func TestConnectWithoutSession(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, "/realtime/connect", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, decode(t, w)["error"], "no access token")
	testutil.AssertNotice(t, f.notices.All(), notify.LevelError, "Not signed in")
}

func TestConnectDialFailure(t *testing.T) {
	f := newFixture(t, nil, "")
	f.login(t)

	w := f.do(http.MethodPost, "/realtime/connect", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotEmpty(t, decode(t, w)["error"])
}

func TestConnectAndDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dials atomic.Int32
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ws.Close)

	f := newFixture(t, nil, "ws"+strings.TrimPrefix(ws.URL, "http")+"/ws")
	f.login(t)

	w := f.do(http.MethodPost, "/realtime/connect", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["connected"])

	// an open connection is kept
	w = f.do(http.MethodPost, "/realtime/reconnect", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["connected"])
	assert.Equal(t, int32(1), dials.Load())

	w = f.do(http.MethodPost, "/realtime/disconnect", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, false, body["reconnecting"])
}

func TestTopicRoutes(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, "/realtime/topics/alert", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"alert"}, decode(t, w)["topics"])

	w = f.do(http.MethodPost, "/realtime/topics/%20", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/realtime/topics/alert", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["topics"])
}

func TestMessageLog(t *testing.T) {
	f := newFixture(t, nil, "")
	for i := 0; i < 3; i++ {
		f.realtime.Dispatcher().HandleFrame(testutil.MessageFrame(t, i, false))
	}

	w := f.do(http.MethodGet, "/realtime/log?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["count"])

	w = f.do(http.MethodGet, "/realtime/log?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodGet, "/realtime/log?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivityViews(t *testing.T) {
	f := newFixture(t, nil, "")
	d := f.realtime.Dispatcher()
	for i := 0; i < 5; i++ {
		d.HandleFrame(testutil.MessageFrame(t, i, i%2 == 0))
	}
	d.HandleFrame(testutil.AlertFrame(t, "a1", realtime.AlertWarning))
	d.HandleFrame(testutil.AlertFrame(t, "a2", realtime.AlertCritical))
	d.HandleFrame(testutil.Frame(t, realtime.TypeContactMonitor, map[string]interface{}{"id": "c1", "riskScore": 90}))
	d.HandleFrame(testutil.Frame(t, realtime.TypeContactMonitor, map[string]interface{}{"id": "c2", "riskScore": 10}))

	tests := []struct {
		path  string
		count float64
		last  string
	}{
		{"/activity/messages", 5, "m4"},
		{"/activity/messages?limit=2", 2, "m4"},
		{"/activity/messages?sensitive=true", 3, "m4"},
		{"/activity/messages?sensitive=true&limit=1", 1, "m4"},
		{"/activity/contacts?high_risk=1", 1, "c1"},
		{"/activity/contacts", 2, "c2"},
		{"/activity/alerts?critical=true", 1, "a2"},
		{"/activity/alerts", 2, "a2"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.path, "")
			require.Equal(t, http.StatusOK, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.count, body["count"])
			items := body["items"].([]interface{})
			assert.Equal(t, tt.last, items[len(items)-1].(map[string]interface{})["id"])
		})
	}

	w := f.do(http.MethodGet, "/activity/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, 3.0, stats["sensitiveMessages"])
	assert.Equal(t, 1.0, stats["criticalAlerts"])
}

func TestBufferSizeAndClear(t *testing.T) {
	f := newFixture(t, nil, "")
	f.realtime.Dispatcher().HandleFrame(testutil.MessageFrame(t, 1, false))

	w := f.do(http.MethodPut, "/activity/buffer-size", `{"size":5000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1000.0, decode(t, w)["bufferSize"])
	assert.Equal(t, 1000, f.activity.BufferSize())

	w = f.do(http.MethodPut, "/activity/buffer-size", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/activity", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, f.activity.Stats().Messages)
}

func TestExportActivity(t *testing.T) {
	f := newFixture(t, nil, "")
	f.realtime.Dispatcher().HandleFrame(testutil.MessageFrame(t, 1, true))
	f.realtime.Dispatcher().HandleFrame(testutil.AlertFrame(t, "a1", realtime.AlertError))

	w := f.do(http.MethodGet, "/activity/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".ndjson.gz")

	records, err := activity.ReadExport(w.Body)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, activity.CategoryMessages, records[0].Category)
	assert.Equal(t, activity.CategoryAlerts, records[1].Category)
}

func TestSessionRoutes(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, "/session/login", `{"username":"","password":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.auth.On("Login", mock.Anything, adminapi.LoginRequest{Username: "operator", Password: "pw"}).
		Return(testutil.CreateTestLoginResult(t, nil), nil).Once()
	w = f.do(http.MethodPost, "/session/login", `{"username":"operator","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "operator", decode(t, w)["user"].(map[string]interface{})["username"])

	w = f.do(http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["authenticated"])

	w = f.do(http.MethodPost, "/session/logout", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, f.session.Authenticated())
}

func TestLoginRejected(t *testing.T) {
	f := newFixture(t, nil, "")
	f.auth.On("Login", mock.Anything, mock.Anything).
		Return(nil, &adminapi.BusinessError{Code: 1001, Message: "Wrong password"}).Once()

	w := f.do(http.MethodPost, "/session/login", `{"username":"operator","password":"bad"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, decode(t, w)["error"], "Wrong password")
}

func TestNotifications(t *testing.T) {
	f := newFixture(t, nil, "")
	for i := 0; i < 4; i++ {
		notify.Info(f.notices, "test", fmt.Sprintf("n%d", i), "")
	}

	w := f.do(http.MethodGet, "/notifications?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3.0, decode(t, w)["count"])
}

func TestIngestLogs(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, "/logs", `{"entries":[
		{"id":"1","level":"error","message":"render failed","context":{"component":"Dashboard"}},
		{"id":"2","level":"verbose","message":"tick"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["received"])

	entries := f.logs.FilterLoggerName("ui").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "render failed", entries[0].Message)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, "Dashboard", entries[0].ContextMap()["component"])
	assert.Equal(t, zap.DebugLevel, entries[1].Level)

	w = f.do(http.MethodPost, "/logs", `{"entries":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDashboard(t *testing.T) {
	platform := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/monitor/stats":
			_, _ = w.Write([]byte(`{"code":0,"data":{"totalAccounts":12,"onlineAccounts":9}}`))
		default:
			_, _ = w.Write([]byte(`{"code":5001,"message":"analytics offline"}`))
		}
	}
	f := newFixture(t, platform, "")

	w := f.do(http.MethodGet, "/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, decode(t, w), "platform")

	f.login(t)
	w = f.do(http.MethodGet, "/dashboard", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 12.0, body["platform"].(map[string]interface{})["totalAccounts"])
	assert.NotContains(t, body, "analytics")
	assert.Contains(t, body["errors"], "analytics")
}

func TestUploadFile(t *testing.T) {
	var got []string
	platform := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got = append(got, r.URL.Path, hdr.Filename, r.FormValue("folder"))
		_, _ = w.Write([]byte(`{"code":0,"data":{"id":"f1","name":"notes.txt"}}`))
	}
	f := newFixture(t, platform, "")
	f.login(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello"))
	require.NoError(t, mw.WriteField("folder", "docs"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "f1", decode(t, w)["id"])
	assert.Equal(t, []string{"/files/upload", "notes.txt", "docs"}, got)

	w = f.do(http.MethodPost, "/files", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchMessages(t *testing.T) {
	var query string
	platform := func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"list":[{"id":"m1"}],"total":1}}`))
	}
	f := newFixture(t, platform, "")
	f.login(t)

	w := f.do(http.MethodGet, "/search/messages?keyword=hi&sensitive=true&page=2&start=2024-05-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, query, "keyword=hi")
	assert.Contains(t, query, "sensitiveOnly=true")
	assert.Contains(t, query, "page=2")

	w = f.do(http.MethodGet, "/search/messages?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(http.MethodGet, "/search/messages?page=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"api 404", &adminapi.APIError{Status: http.StatusNotFound}, http.StatusNotFound},
		{"api 500", &adminapi.APIError{Status: http.StatusInternalServerError}, http.StatusBadGateway},
		{"business", &adminapi.BusinessError{Code: 7}, http.StatusUnprocessableEntity},
		{"credentials", session.ErrMissingCredentials, http.StatusBadRequest},
		{"topic", realtime.ErrEmptyTopic, http.StatusBadRequest},
		{"no token", fmt.Errorf("%w: expired", realtime.ErrNoToken), http.StatusUnauthorized},
		{"not authenticated", session.ErrNotAuthenticated, http.StatusUnauthorized},
		{"not connected", realtime.ErrNotConnected, http.StatusConflict},
		{"closed", realtime.ErrClosed, http.StatusServiceUnavailable},
		{"breaker", resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err, http.StatusTeapot))
		})
	}
}

func TestUploadDir(t *testing.T) {
	platform := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":0,"data":{"id":"f1"}}`))
	}
	f := newFixture(t, platform, "")
	f.login(t)

	root := t.TempDir()
	f.handlers.uploadRoot = root
	require.NoError(t, os.MkdirAll(filepath.Join(root, "batch"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "batch", "a.txt"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "batch", "b.txt"), nil, 0o600))

	w := f.do(http.MethodPost, "/files/dir", `{"root":"batch","pattern":"*.txt"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 1.0, body["uploaded"])
	assert.Equal(t, 1.0, body["failed"])

	w = f.do(http.MethodPost, "/files/dir", fmt.Sprintf(`{"root":%q,"pattern":"**/*.txt"}`, root))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1.0, decode(t, w)["uploaded"])

	w = f.do(http.MethodPost, "/files/dir", `{"root":"missing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadDir_ConfinedToUploadRoot(t *testing.T) {
	f := newFixture(t, nil, "")
	f.login(t)

	w := f.do(http.MethodPost, "/files/dir", `{"root":"/etc","pattern":"hostname"}`)
	assert.Equal(t, http.StatusForbidden, w.Code, "disabled without an upload root")

	parent := t.TempDir()
	root := filepath.Join(parent, "uploads")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("s"), 0o600))
	require.NoError(t, os.Symlink(parent, filepath.Join(root, "escape")))
	f.handlers.uploadRoot = root

	for _, dir := range []string{"..", "../uploads/..", parent, "escape"} {
		w = f.do(http.MethodPost, "/files/dir", fmt.Sprintf(`{"root":%q}`, dir))
		assert.Equal(t, http.StatusForbidden, w.Code, dir)
	}

	req := httptest.NewRequest(http.MethodPost, "/files/dir", strings.NewReader(`{"root":"."}`))
	req.Header.Set("Content-Type", "text/plain")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestConfine(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	dir, err := confine(root, "")
	require.NoError(t, err)
	assert.Equal(t, realRoot, dir)

	dir, err = confine(root, "a/../a/b")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realRoot, "a", "b"), dir)

	_, err = confine(root, "a/../..")
	assert.ErrorIs(t, err, errOutsideUploadRoot)

	_, err = confine(root, "nope")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errOutsideUploadRoot)
}
