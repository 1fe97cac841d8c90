package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/infrastructure/resilience"
	"github.com/wamanager/console/internal/notify"
)

const waitFor = 2 * time.Second

// wsServer is a test server that upgrades every request and records what it receives.
type wsServer struct {
	*httptest.Server
	t *testing.T

	upgrader websocket.Upgrader
	reject   atomic.Bool
	autoPong atomic.Bool
	upgrades atomic.Int32

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []Envelope
	queries  []url.Values
	closes   []int
	writeMu  sync.Mutex
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{t: t}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	// counted before the handshake completes so Dial never returns first
	s.upgrades.Add(1)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.queries = append(s.queries, r.URL.Query())
	s.mu.Unlock()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				s.mu.Lock()
				s.closes = append(s.closes, ce.Code)
				s.mu.Unlock()
			}
			return
		}
		env, err := DecodeEnvelope(frame)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()

		if env.Type == TypePing && s.autoPong.Load() {
			s.send(conn, `{"type":"pong"}`)
		}
	}
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// latest waits for the handler to register the newest connection; Dial can
// return before the handler goroutine records it.
func (s *wsServer) latest() *websocket.Conn {
	var conn *websocket.Conn
	require.Eventually(s.t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.conns) == 0 || len(s.conns) < int(s.upgrades.Load()) {
			return false
		}
		conn = s.conns[len(s.conns)-1]
		return true
	}, waitFor, 5*time.Millisecond)
	return conn
}

func (s *wsServer) firstQuery() url.Values {
	s.latest()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[0]
}

func (s *wsServer) send(conn *websocket.Conn, frame string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// drop kills the TCP connection without a close frame (client sees 1006)
func (s *wsServer) drop() {
	s.latest().UnderlyingConn().Close()
}

func (s *wsServer) receivedOf(msgType string) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, env := range s.received {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

// fakeTimers records scheduled reconnects instead of running them
type fakeTimers struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	f.fns = append(f.fns, fn)
	return fakeTimer{}
}

func (f *fakeTimers) scheduled() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func (f *fakeTimers) fireLast() {
	f.mu.Lock()
	fn := f.fns[len(f.fns)-1]
	f.mu.Unlock()
	fn()
}

func staticToken(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

func newTestManager(t *testing.T, srv *wsServer, tokens TokenSource, timers *fakeTimers, rec *notify.Recorder) *Manager {
	opts := Options{
		URL:            srv.url(),
		Backoff:        resilience.Backoff{Base: 3 * time.Second, MaxAttempts: 5},
		MessageLogSize: 10,
	}
	m := NewManager(opts, tokens,
		WithLogger(zap.NewNop()),
		WithNotifier(rec),
		WithAfterFunc(timers.AfterFunc))
	t.Cleanup(func() { m.Close() })
	return m
}

func noticesOf(rec *notify.Recorder, level notify.Level) []notify.Notice {
	var out []notify.Notice
	for _, n := range rec.All() {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}

func TestConnectWithoutToken(t *testing.T) {
	srv := newWSServer(t)
	rec := notify.NewRecorder(10)
	m := newTestManager(t, srv, staticToken(""), &fakeTimers{}, rec)

	err := m.Connect(context.Background())

	assert.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, StateIdle, m.State())
	assert.Zero(t, srv.upgrades.Load())
	assert.Len(t, noticesOf(rec, notify.LevelError), 1)
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv, staticToken("jwt-1"), &fakeTimers{}, notify.NewRecorder(10))

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, int32(1), srv.upgrades.Load())

	status := m.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, StateOpen, status.State)
	assert.NotEmpty(t, status.ConnectionID)
	assert.NotNil(t, status.LastConnected)

	q := srv.firstQuery()
	assert.Equal(t, "jwt-1", q.Get("token"))
	assert.Empty(t, q.Get("account_id"))
}

func TestConnectAddsAccountID(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(Options{URL: srv.url(), AccountID: "acc-7"}, staticToken("jwt"))
	t.Cleanup(func() { m.Close() })

	require.NoError(t, m.Connect(context.Background()))

	q := srv.firstQuery()
	assert.Equal(t, "acc-7", q.Get("account_id"))
	assert.Equal(t, "jwt", q.Get("token"))
}

func TestInboundFramesReachHandlersInOrder(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv, staticToken("jwt"), &fakeTimers{}, notify.NewRecorder(10))

	var mu sync.Mutex
	var ids []string
	m.On(TypeMessageMonitor, Typed(func(e MessageEvent, _ Envelope) error {
		mu.Lock()
		ids = append(ids, e.ID)
		mu.Unlock()
		return nil
	}))

	require.NoError(t, m.Connect(context.Background()))
	conn := srv.latest()

	srv.send(conn, `{"type":"message_monitor","data":{"id":"m1","content":"a"}}`)
	srv.send(conn, `{not json`)
	for i := 2; i <= 12; i++ {
		srv.send(conn, string(messageFrame("m"+strconv.Itoa(i))))
	}

	require.Eventually(t, func() bool {
		return m.Stats().MessagesReceived == 12
	}, waitFor, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 12)
	assert.Equal(t, "m1", ids[0])
	assert.Equal(t, "m12", ids[11])
	assert.Equal(t, uint64(1), m.Stats().ParseErrors)

	log := m.RecentMessages(100)
	assert.Len(t, log, 10)
}

func TestAbnormalCloseFollowsBackoff(t *testing.T) {
	srv := newWSServer(t)
	timers := &fakeTimers{}
	rec := notify.NewRecorder(50)
	m := newTestManager(t, srv, staticToken("jwt"), timers, rec)

	require.NoError(t, m.Connect(context.Background()))
	srv.drop()

	require.Eventually(t, func() bool {
		return len(timers.scheduled()) == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, 3*time.Second, timers.scheduled()[0])

	status := m.Status()
	assert.True(t, status.Reconnecting)
	assert.Equal(t, 1, status.ReconnectAttempts)
	assert.Equal(t, websocket.CloseAbnormalClosure, status.LastCloseCode)

	// every retry fails from here on
	srv.reject.Store(true)
	for i := 0; i < 4; i++ {
		timers.fireLast()
	}
	assert.Equal(t, []time.Duration{
		3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 48 * time.Second,
	}, timers.scheduled())

	// the fifth failure exhausts the budget
	timers.fireLast()
	assert.Len(t, timers.scheduled(), 5)
	assert.Equal(t, StateIdle, m.State())

	errs := noticesOf(rec, notify.LevelError)
	require.NotEmpty(t, errs)
	assert.Equal(t, "Reconnect failed", errs[len(errs)-1].Title)
	assert.Equal(t, uint64(5), m.Stats().Reconnects)

	// a manual reconnect starts over
	srv.reject.Store(false)
	require.NoError(t, m.Reconnect(context.Background()))
	assert.Equal(t, StateOpen, m.State())
	assert.Zero(t, m.Status().ReconnectAttempts)
}

func TestReconnectSucceedsAndResubscribes(t *testing.T) {
	srv := newWSServer(t)
	timers := &fakeTimers{}
	rec := notify.NewRecorder(10)
	m := newTestManager(t, srv, staticToken("jwt"), timers, rec)

	require.NoError(t, m.SubscribeTopic(context.Background(), "alert"))
	require.NoError(t, m.SubscribeTopic(context.Background(), "alert"))
	assert.Equal(t, []string{"alert"}, m.Topics())

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return len(srv.receivedOf(TypeSubscribe)) == 1
	}, waitFor, 10*time.Millisecond)

	srv.drop()
	require.Eventually(t, func() bool {
		return len(timers.scheduled()) == 1
	}, waitFor, 10*time.Millisecond)

	timers.fireLast()
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, int32(2), srv.upgrades.Load())

	require.Eventually(t, func() bool {
		return len(srv.receivedOf(TypeSubscribe)) == 2
	}, waitFor, 10*time.Millisecond)

	subs := srv.receivedOf(TypeSubscribe)
	assert.JSONEq(t, `{"topic":"alert"}`, string(subs[1].Data))
	assert.Len(t, noticesOf(rec, notify.LevelSuccess), 1)
}

func TestManualDisconnectNeverReconnects(t *testing.T) {
	srv := newWSServer(t)
	timers := &fakeTimers{}
	m := newTestManager(t, srv, staticToken("jwt"), timers, notify.NewRecorder(10))

	require.NoError(t, m.Connect(context.Background()))
	m.Disconnect()
	m.Disconnect()

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.closes) == 1
	}, waitFor, 10*time.Millisecond)

	srv.mu.Lock()
	assert.Equal(t, websocket.CloseNormalClosure, srv.closes[0])
	srv.mu.Unlock()

	assert.Never(t, func() bool { return len(timers.scheduled()) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, StateIdle, m.State())
	assert.ErrorIs(t, m.Send(context.Background(), TypePing, nil), ErrNotConnected)
}

func TestServerNormalCloseDoesNotReconnect(t *testing.T) {
	srv := newWSServer(t)
	timers := &fakeTimers{}
	m := newTestManager(t, srv, staticToken("jwt"), timers, notify.NewRecorder(10))

	require.NoError(t, m.Connect(context.Background()))

	conn := srv.latest()
	srv.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	srv.writeMu.Unlock()

	require.Eventually(t, func() bool { return m.State() == StateIdle }, waitFor, 10*time.Millisecond)
	assert.Empty(t, timers.scheduled())
	assert.Equal(t, websocket.CloseNormalClosure, m.Status().LastCloseCode)
}

func TestAuthFailedDisconnects(t *testing.T) {
	srv := newWSServer(t)
	timers := &fakeTimers{}
	rec := notify.NewRecorder(10)
	m := newTestManager(t, srv, staticToken("jwt"), timers, rec)

	require.NoError(t, m.Connect(context.Background()))
	srv.send(srv.latest(), `{"type":"auth_failed","data":{"reason":"token expired"}}`)

	require.Eventually(t, func() bool { return m.State() == StateIdle }, waitFor, 10*time.Millisecond)

	errs := noticesOf(rec, notify.LevelError)
	require.Len(t, errs, 1)
	assert.Equal(t, "token expired", errs[0].Message)
	assert.Empty(t, timers.scheduled())
}

func TestServerErrorAndAuthSuccess(t *testing.T) {
	srv := newWSServer(t)
	rec := notify.NewRecorder(10)
	m := newTestManager(t, srv, staticToken("jwt"), &fakeTimers{}, rec)

	require.NoError(t, m.Connect(context.Background()))
	conn := srv.latest()
	srv.send(conn, `{"type":"auth_success","data":{"userId":"u1","connectionId":"srv-conn-1"}}`)
	srv.send(conn, `{"type":"error","data":{"code":500,"message":"queue full"}}`)

	require.Eventually(t, func() bool {
		return len(noticesOf(rec, notify.LevelWarning)) == 1
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, "queue full", noticesOf(rec, notify.LevelWarning)[0].Message)
	assert.Equal(t, "srv-conn-1", m.Status().ConnectionID)
	assert.Equal(t, StateOpen, m.State())
}

func TestHeartbeatRecordsPong(t *testing.T) {
	srv := newWSServer(t)
	srv.autoPong.Store(true)

	m := NewManager(Options{URL: srv.url(), HeartbeatInterval: 20 * time.Millisecond}, staticToken("jwt"))
	t.Cleanup(func() { m.Close() })

	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return len(srv.receivedOf(TypePing)) >= 2 && m.Stats().LastPong != nil
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, StateOpen, m.State())
	assert.GreaterOrEqual(t, m.Stats().MessagesSent, uint64(2))
}

func TestUnsubscribeTopic(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv, staticToken("jwt"), &fakeTimers{}, notify.NewRecorder(10))

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.SubscribeTopic(context.Background(), "system_status"))
	require.NoError(t, m.UnsubscribeTopic(context.Background(), "system_status"))

	require.Eventually(t, func() bool {
		return len(srv.receivedOf(TypeUnsubscribe)) == 1
	}, waitFor, 10*time.Millisecond)

	assert.Empty(t, m.Topics())
	assert.ErrorIs(t, m.SubscribeTopic(context.Background(), " "), ErrEmptyTopic)
}

func TestDialFailureNotifies(t *testing.T) {
	srv := newWSServer(t)
	srv.reject.Store(true)
	timers := &fakeTimers{}
	rec := notify.NewRecorder(10)
	m := newTestManager(t, srv, staticToken("jwt"), timers, rec)

	err := m.Connect(context.Background())

	assert.Error(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, timers.scheduled())
	require.Len(t, noticesOf(rec, notify.LevelError), 1)
	assert.Contains(t, noticesOf(rec, notify.LevelError)[0].Message, "503")
}

func TestClosedManager(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv, staticToken("jwt"), &fakeTimers{}, notify.NewRecorder(10))

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
	assert.Zero(t, m.Dispatcher().HandlerCount())
}

func TestRejectsNonWebSocketURL(t *testing.T) {
	m := NewManager(Options{URL: "http://example.com/ws"}, staticToken("jwt"))
	t.Cleanup(func() { m.Close() })

	assert.Error(t, m.Connect(context.Background()))
	assert.Equal(t, StateIdle, m.State())
}
