package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/infrastructure/config"
	"github.com/wamanager/console/internal/infrastructure/monitoring"
	"github.com/wamanager/console/internal/infrastructure/resilience"
	"github.com/wamanager/console/internal/notify"
	"github.com/wamanager/console/internal/shared/id"
)

const noticeSource = "realtime"

var (
	// ErrNoToken is returned by Connect when no access token is available
	ErrNoToken = errors.New("no access token")
	// ErrNotConnected is returned by Send when the socket is not open
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("manager closed")
	// ErrEmptyTopic is returned for blank topic names
	ErrEmptyTopic = errors.New("empty topic")

	errInterrupted = errors.New("disconnected during handshake")
)

// TokenSource supplies the bearer token used in the connect URL
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f(ctx)
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Timer is the handle returned by an AfterFunc
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures a Manager
type Options struct {
	URL               string
	AccountID         string
	Backoff           resilience.Backoff
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReadLimit         int64
	MessageLogSize    int
	Topics            []string
	AuthFrame         bool
}

// OptionsFromConfig maps realtime configuration onto Options
func OptionsFromConfig(cfg config.RealtimeConfig) Options {
	return Options{
		URL:       cfg.Endpoint(),
		AccountID: cfg.AccountID,
		Backoff: resilience.Backoff{
			Base:        cfg.ReconnectBaseDelay,
			MaxAttempts: cfg.MaxAttempts,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		MessageLogSize:    cfg.MessageLogSize,
		Topics:            append([]string(nil), cfg.Topics...),
		AuthFrame:         cfg.AuthFrame,
	}
}

func (o *Options) applyDefaults() {
	if o.Backoff.Base <= 0 {
		o.Backoff.Base = 3 * time.Second
	}
	if o.Backoff.MaxAttempts <= 0 {
		o.Backoff.MaxAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.MessageLogSize <= 0 {
		o.MessageLogSize = 100
	}
}

// Option customizes a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithNotifier sets where user-visible failures go
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithDialer replaces the WebSocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithAfterFunc replaces the reconnect timer source
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = fn }
}

// Manager owns the single real-time connection of the process
type Manager struct {
	opts       Options
	tokens     TokenSource
	dialer     *websocket.Dialer
	dispatcher *Dispatcher
	notifier   notify.Notifier
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	afterFunc  AfterFunc

	ctx    context.Context
	cancel context.CancelFunc

	// connectMu serializes handshakes
	connectMu sync.Mutex
	// writeMu serializes frame writes
	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	gen            uint64
	epoch          uint64
	attempts       int
	reconnectTimer Timer
	heartbeatStop  chan struct{}
	topics         []string
	closed         bool

	lastConnected    *time.Time
	lastDisconnected *time.Time
	lastCloseCode    int
	connectionID     string
	lastPong         *time.Time

	sent       atomic.Uint64
	reconnects atomic.Uint64
}

// NewManager creates an idle manager. Nothing is dialed until Connect.
func NewManager(opts Options, tokens TokenSource, options ...Option) *Manager {
	opts.applyDefaults()

	m := &Manager{
		opts:      opts,
		tokens:    tokens,
		notifier:  notify.Discard,
		logger:    zap.NewNop(),
		afterFunc: realAfterFunc,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.dispatcher = NewDispatcher(opts.MessageLogSize, m.logger.Named("dispatcher"), m.metrics)

	for _, topic := range opts.Topics {
		if topic = strings.TrimSpace(topic); topic != "" && !containsTopic(m.topics, topic) {
			m.topics = append(m.topics, topic)
		}
	}

	m.registerBuiltins()
	return m
}

func (m *Manager) registerBuiltins() {
	m.dispatcher.On(TypeAuthFailed, Typed(func(res AuthResult, _ Envelope) error {
		notify.Error(m.notifier, noticeSource, "Real-time authentication failed", res.Text())
		m.Disconnect()
		return nil
	}))

	m.dispatcher.On(TypeError, Typed(func(p ErrorPayload, _ Envelope) error {
		msg := p.Message
		if msg == "" {
			msg = "The real-time service reported an error"
		}
		notify.Warn(m.notifier, noticeSource, "Real-time service error", msg)
		return nil
	}))

	m.dispatcher.On(TypeAuthSuccess, Typed(func(res AuthResult, _ Envelope) error {
		if res.ConnectionID == "" {
			return nil
		}
		m.mu.Lock()
		m.connectionID = res.ConnectionID
		m.mu.Unlock()
		return nil
	}))

	m.dispatcher.On(TypePong, func(any, Envelope) error {
		now := time.Now()
		m.mu.Lock()
		m.lastPong = &now
		m.mu.Unlock()
		return nil
	})
}

// Dispatcher returns the inbound dispatcher
func (m *Manager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// On registers a handler on the dispatcher
func (m *Manager) On(msgType string, h Handler) func() {
	return m.dispatcher.On(msgType, h)
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the socket. It returns nil at once when already open.
func (m *Manager) Connect(ctx context.Context) error {
	return m.connect(ctx, false)
}

// Reconnect resets the attempt counter and connects. Like Connect it returns
// nil without redialing when the socket is already open.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	return m.connect(ctx, false)
}

func (m *Manager) connect(ctx context.Context, automatic bool) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	if automatic && m.state != StateReconnecting {
		m.mu.Unlock()
		return errInterrupted
	}
	if !automatic {
		m.stopReconnectLocked()
	}
	m.state = StateConnecting
	epoch := m.epoch
	m.mu.Unlock()

	token, err := m.tokens.Token(ctx)
	if err != nil || token == "" {
		m.setIdle(epoch)
		notify.Error(m.notifier, noticeSource, "Not signed in", "Sign in before connecting to real-time updates")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoToken, err)
		}
		return ErrNoToken
	}

	endpoint, err := m.endpoint(token)
	if err != nil {
		m.setIdle(epoch)
		notify.Error(m.notifier, noticeSource, "Invalid real-time endpoint", err.Error())
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(dialCtx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return m.dialFailed(epoch, automatic, resp, err)
	}

	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		conn.Close()
		if m.closed {
			return ErrClosed
		}
		return errInterrupted
	}
	conn.SetReadLimit(m.opts.ReadLimit)
	now := time.Now()
	m.gen++
	gen := m.gen
	m.conn = conn
	m.state = StateOpen
	m.attempts = 0
	m.lastConnected = &now
	m.connectionID = id.NewConnectionID().String()
	stop := make(chan struct{})
	m.heartbeatStop = stop
	topics := append([]string(nil), m.topics...)
	m.mu.Unlock()

	m.metrics.SetWSConnected(true)
	m.logger.Info("Real-time connection open",
		zap.String("url", m.opts.URL),
		zap.Bool("automatic", automatic))

	go m.readLoop(conn, gen)
	go m.heartbeat(stop)

	if m.opts.AuthFrame {
		if err := m.Send(ctx, TypeAuth, AuthRequest{Token: token, AccountID: m.opts.AccountID}); err != nil {
			m.logger.Warn("Failed to send auth frame", zap.Error(err))
		}
	}
	for _, topic := range topics {
		if err := m.Send(ctx, TypeSubscribe, TopicRequest{Topic: topic}); err != nil {
			m.logger.Warn("Failed to resubscribe", zap.String("topic", topic), zap.Error(err))
		}
	}
	if automatic {
		notify.Success(m.notifier, noticeSource, "Reconnected", "Real-time updates resumed")
	}
	return nil
}

func (m *Manager) dialFailed(epoch uint64, automatic bool, resp *http.Response, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	m.logger.Warn("Real-time dial failed",
		zap.String("url", m.opts.URL),
		zap.Int("status", status),
		zap.Error(err))

	if !automatic {
		m.setIdle(epoch)
		notify.Error(m.notifier, noticeSource, "Connection failed", dialFailureText(status))
		return fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}

	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		m.mu.Unlock()
		return fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}
	attempt, delay, scheduled := m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.announceRetry(attempt, delay, scheduled)
	return fmt.Errorf("dial %s: %w", m.opts.URL, err)
}

func dialFailureText(status int) string {
	switch status {
	case 0:
		return "Could not reach the real-time service"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "The real-time service rejected the access token"
	default:
		return fmt.Sprintf("The real-time service answered with HTTP %d", status)
	}
}

// endpoint adds token and, when configured, account_id to the base URL
func (m *Manager) endpoint(token string) (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("websocket url must use ws or wss, got %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	if m.opts.AccountID != "" {
		q.Set("account_id", m.opts.AccountID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) setIdle(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch == epoch && m.state == StateConnecting {
		m.state = StateIdle
	}
}

// scheduleReconnectLocked arms the next retry. It returns false when the
// attempt cap is exhausted, leaving the manager idle.
func (m *Manager) scheduleReconnectLocked() (int, time.Duration, bool) {
	next := m.attempts + 1
	if !m.opts.Backoff.Allowed(next) {
		m.state = StateIdle
		m.reconnectTimer = nil
		return m.attempts, 0, false
	}

	m.attempts = next
	delay := m.opts.Backoff.Delay(next)
	m.state = StateReconnecting
	m.reconnects.Add(1)
	m.metrics.IncWSReconnects()

	epoch := m.epoch
	m.reconnectTimer = m.afterFunc(delay, func() { m.fireReconnect(epoch) })
	return next, delay, true
}

func (m *Manager) announceRetry(attempt int, delay time.Duration, scheduled bool) {
	if !scheduled {
		m.logger.Error("Giving up on real-time connection", zap.Int("attempts", attempt))
		notify.Error(m.notifier, noticeSource, "Reconnect failed",
			fmt.Sprintf("Gave up after %d attempts; reconnect manually", attempt))
		return
	}
	m.logger.Info("Scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	notify.Warn(m.notifier, noticeSource, "Connection lost",
		fmt.Sprintf("Reconnecting in %s (attempt %d of %d)", delay, attempt, m.opts.Backoff.MaxAttempts))
}

func (m *Manager) fireReconnect(epoch uint64) {
	m.mu.Lock()
	stale := m.closed || m.epoch != epoch || m.state != StateReconnecting
	m.reconnectTimer = nil
	m.mu.Unlock()
	if stale {
		return
	}

	if err := m.connect(m.ctx, true); err != nil {
		m.logger.Debug("Reconnect attempt failed", zap.Error(err))
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, gen, err)
			return
		}
		m.dispatcher.HandleFrame(frame)
	}
}

func (m *Manager) handleClose(conn *websocket.Conn, gen uint64, readErr error) {
	code := websocket.CloseAbnormalClosure
	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) {
		code = closeErr.Code
	}

	m.mu.Lock()
	if m.gen != gen || m.conn != conn {
		// Disconnect already tore this connection down
		m.mu.Unlock()
		return
	}
	now := time.Now()
	m.conn = nil
	m.lastDisconnected = &now
	m.lastCloseCode = code
	m.connectionID = ""
	m.stopHeartbeatLocked()
	conn.Close()

	if m.closed || code == websocket.CloseNormalClosure {
		m.state = StateIdle
		m.mu.Unlock()
		m.metrics.SetWSConnected(false)
		m.logger.Info("Real-time connection closed", zap.Int("code", code))
		return
	}

	attempt, delay, scheduled := m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.metrics.SetWSConnected(false)
	m.logger.Warn("Real-time connection lost", zap.Int("code", code), zap.Error(readErr))
	m.announceRetry(attempt, delay, scheduled)
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *Manager) heartbeat(stop <-chan struct{}) {
	if m.opts.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.Send(m.ctx, TypePing, nil); err != nil {
				m.logger.Debug("Heartbeat ping failed", zap.Error(err))
			}
		}
	}
}

// Disconnect closes the socket with code 1000 and cancels any pending
// reconnect. It is safe to call at any time and more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	m.stopReconnectLocked()
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil
	m.gen++
	m.state = StateIdle
	m.attempts = 0
	if conn != nil {
		now := time.Now()
		m.lastDisconnected = &now
		m.lastCloseCode = websocket.CloseNormalClosure
		m.connectionID = ""
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		m.logger.Debug("Close frame not sent", zap.Error(err))
	}
	conn.Close()
	m.metrics.SetWSConnected(false)
	m.logger.Info("Real-time connection closed by client")
}

// Close disconnects and releases every handler. The manager cannot be
// reused afterwards.
func (m *Manager) Close() error {
	m.Disconnect()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.dispatcher.Reset()
	return nil
}

// Send writes one envelope. It fails with ErrNotConnected unless the socket is open.
func (m *Manager) Send(ctx context.Context, msgType string, data any) error {
	env, err := NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	return m.SendEnvelope(ctx, env)
}

// SendEnvelope writes a prepared envelope
func (m *Manager) SendEnvelope(ctx context.Context, env Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if conn == nil || !open {
		return ErrNotConnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(m.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}

	m.sent.Add(1)
	m.metrics.RecordWSMessage("out", env.Type)
	return nil
}

// SubscribeTopic asks the server to push topic. While disconnected the
// topic is only recorded and sent on the next open.
func (m *Manager) SubscribeTopic(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyTopic
	}

	m.mu.Lock()
	if !containsTopic(m.topics, topic) {
		m.topics = append(m.topics, topic)
	}
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open {
		return nil
	}
	return m.Send(ctx, TypeSubscribe, TopicRequest{Topic: topic})
}

// UnsubscribeTopic stops requesting topic
func (m *Manager) UnsubscribeTopic(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyTopic
	}

	m.mu.Lock()
	for i, t := range m.topics {
		if t == topic {
			m.topics = append(m.topics[:i:i], m.topics[i+1:]...)
			break
		}
	}
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open {
		return nil
	}
	return m.Send(ctx, TypeUnsubscribe, TopicRequest{Topic: topic})
}

// Topics returns the requested topics in request order
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.topics...)
}

func containsTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Status returns a snapshot of the connection status
func (m *Manager) Status() ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ConnectionStatus{
		State:             m.state,
		Connected:         m.state == StateOpen,
		Reconnecting:      m.state == StateReconnecting,
		URL:               m.opts.URL,
		LastConnected:     copyTime(m.lastConnected),
		LastDisconnected:  copyTime(m.lastDisconnected),
		ReconnectAttempts: m.attempts,
		ConnectionID:      m.connectionID,
		LastCloseCode:     m.lastCloseCode,
		Topics:            append([]string{}, m.topics...),
	}
}

// Stats returns traffic counters
func (m *Manager) Stats() Stats {
	var s Stats
	m.dispatcher.fillStats(&s)
	s.MessagesSent = m.sent.Load()
	s.Reconnects = m.reconnects.Load()

	m.mu.Lock()
	s.LastPong = copyTime(m.lastPong)
	m.mu.Unlock()
	return s
}

// RecentMessages returns up to n envelopes from the message log, oldest first
func (m *Manager) RecentMessages(n int) []Envelope {
	return m.dispatcher.RecentMessages(n)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
