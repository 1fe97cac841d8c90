package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/adminapi"
	"github.com/wamanager/console/internal/infrastructure/config"
	"github.com/wamanager/console/internal/notify"
)

const noticeSource = "session"

var (
	// ErrNotAuthenticated is returned when no operator is signed in
	ErrNotAuthenticated = errors.New("session: not authenticated")
	// ErrMissingCredentials is returned by Login for a blank username or password
	ErrMissingCredentials = errors.New("session: username and password are required")
	// ErrNoRefreshToken is returned by Refresh when the server issued none
	ErrNoRefreshToken = errors.New("session: no refresh token")
)

// Authenticator is the part of the admin API the session drives
type Authenticator interface {
	Login(ctx context.Context, req adminapi.LoginRequest) (*adminapi.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*adminapi.TokenPair, error)
	Logout(ctx context.Context) error
}

// state is what gets sealed into the store
type state struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	ExpiresAt    time.Time        `json:"expiresAt,omitempty"`
	Profile      adminapi.Profile `json:"profile"`
	Remember     bool             `json:"remember"`
	SignedInAt   time.Time        `json:"signedInAt"`
}

// Options configures a Manager
type Options struct {
	Secret    string
	StorePath string
	Remember  bool
}

// OptionsFromConfig maps session configuration onto Options
func OptionsFromConfig(cfg config.SessionConfig) Options {
	return Options{
		Secret:    cfg.Secret,
		StorePath: cfg.StorePath,
		Remember:  cfg.Remember,
	}
}

// Option customizes a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithNotifier sets where session failures are reported
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithStore replaces the persistent store
func WithStore(s Store) Option {
	return func(m *Manager) { m.persistent = s }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the signed-in operator and their tokens.
//
// It is the token source for the realtime connection and the refresher for
// the admin API. Listeners registered with OnChange learn about sign-in and
// sign-out.
type Manager struct {
	auth       Authenticator
	vault      *Vault
	persistent Store
	memory     *MemoryStore
	remember   bool
	logger     *zap.Logger
	notifier   notify.Notifier
	now        func() time.Time

	mu    sync.RWMutex
	state *state

	listenersMu sync.Mutex
	listeners   map[int]func(bool)
	nextID      int
}

// NewManager creates a session manager. Without a secret nothing is written
// to disk.
func NewManager(auth Authenticator, opts Options, options ...Option) (*Manager, error) {
	if auth == nil {
		return nil, errors.New("session: authenticator is required")
	}

	vault, err := NewVault(opts.Secret)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		auth:      auth,
		vault:     vault,
		memory:    NewMemoryStore(),
		remember:  opts.Remember,
		logger:    zap.NewNop(),
		notifier:  notify.Discard,
		now:       time.Now,
		listeners: make(map[int]func(bool)),
	}
	for _, opt := range options {
		opt(m)
	}

	if m.persistent == nil && opts.StorePath != "" {
		m.persistent = NewFileStore(opts.StorePath)
	}
	if m.persistent != nil && m.persistent.Persistent() && vault.Ephemeral() {
		m.logger.Warn("No token secret configured, session will not be remembered")
		m.persistent = nil
	}
	return m, nil
}

// Login signs in and stores the tokens. remember keeps them across restarts
// when a persistent store is configured.
func (m *Manager) Login(ctx context.Context, username, password string, remember bool) (*adminapi.Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		notify.Error(m.notifier, noticeSource, "Login failed", "Username and password are required")
		return nil, ErrMissingCredentials
	}

	res, err := m.auth.Login(ctx, adminapi.LoginRequest{
		Username: username,
		Password: password,
		Remember: remember,
	})
	if err != nil {
		m.logger.Info("Login rejected", zap.String("username", username), zap.Error(err))
		return nil, fmt.Errorf("login: %w", err)
	}
	if res.AccessToken == "" {
		notify.Error(m.notifier, noticeSource, "Login failed", "The server did not issue an access token")
		return nil, fmt.Errorf("login: %w", adminapi.ErrBadResponse)
	}

	now := m.now()
	st := &state{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    expiry(now, res.ExpiresIn),
		Profile:      res.User,
		Remember:     remember,
		SignedInAt:   now,
	}
	if st.Profile.Username == "" {
		st.Profile.Username = username
	}

	m.mu.Lock()
	m.state = st
	m.mu.Unlock()

	m.persist(st)
	m.logger.Info("Signed in", zap.String("username", st.Profile.Username), zap.Bool("remember", remember))
	notify.Success(m.notifier, noticeSource, "Signed in", "Welcome, "+displayName(st.Profile))
	m.emit(true)

	profile := st.Profile
	return &profile, nil
}

// Logout revokes the token on the server, best effort, and clears local state
func (m *Manager) Logout(ctx context.Context) error {
	if !m.Authenticated() {
		return nil
	}
	if err := m.auth.Logout(ctx); err != nil {
		m.logger.Warn("Server logout failed", zap.Error(err))
	}
	if !m.clear() {
		return nil
	}
	m.logger.Info("Signed out")
	notify.Info(m.notifier, noticeSource, "Signed out", "You have been signed out")
	m.emit(false)
	return nil
}

// Expire drops the session after the server rejected it
func (m *Manager) Expire() {
	if !m.clear() {
		return
	}
	m.logger.Warn("Session expired")
	notify.Warn(m.notifier, noticeSource, "Session expired", "Please sign in again")
	m.emit(false)
}

// Restore loads a remembered session. It reports whether one was found.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	st, err := m.load()
	if errors.Is(err, ErrNoState) {
		return false, nil
	}
	if err != nil {
		m.logger.Warn("Discarding unreadable session", zap.Error(err))
		notify.Warn(m.notifier, noticeSource, "Session not restored", "The saved session could not be read, please sign in again")
		m.clearStores()
		return false, err
	}

	m.mu.Lock()
	m.state = st
	m.mu.Unlock()

	m.logger.Info("Session restored", zap.String("username", st.Profile.Username))
	m.emit(true)
	return true, nil
}

// Token returns the current access token
func (m *Manager) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil || m.state.AccessToken == "" {
		return "", ErrNotAuthenticated
	}
	return m.state.AccessToken, nil
}

// Refresh exchanges the refresh token for a new access token
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	if m.state == nil {
		m.mu.RUnlock()
		return "", ErrNotAuthenticated
	}
	refreshToken := m.state.RefreshToken
	m.mu.RUnlock()

	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	pair, err := m.auth.Refresh(ctx, refreshToken)
	if err != nil {
		m.logger.Warn("Token refresh rejected", zap.Error(err))
		return "", fmt.Errorf("refresh: %w", err)
	}
	if pair.AccessToken == "" {
		return "", fmt.Errorf("refresh: %w", adminapi.ErrBadResponse)
	}

	m.mu.Lock()
	if m.state == nil {
		m.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	st := *m.state
	st.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		st.RefreshToken = pair.RefreshToken
	}
	st.ExpiresAt = expiry(m.now(), pair.ExpiresIn)
	m.state = &st
	m.mu.Unlock()

	m.persist(&st)
	m.logger.Debug("Access token refreshed")
	return st.AccessToken, nil
}

// Profile returns the signed-in operator
func (m *Manager) Profile() (adminapi.Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return adminapi.Profile{}, false
	}
	return m.state.Profile, true
}

// Authenticated reports whether an operator is signed in
func (m *Manager) Authenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != nil && m.state.AccessToken != ""
}

// ExpiresAt returns when the access token lapses, if the server said
func (m *Manager) ExpiresAt() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil || m.state.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return m.state.ExpiresAt, true
}

// Remembered reports whether the session is kept across restarts
func (m *Manager) Remembered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != nil && m.state.Remember && m.persistent != nil
}

// RememberByDefault reports the configured default for "remember me"
func (m *Manager) RememberByDefault() bool {
	return m.remember && m.persistent != nil
}

// OnChange registers fn for sign-in (true) and sign-out (false). The returned
// function unregisters it.
func (m *Manager) OnChange(fn func(authenticated bool)) func() {
	m.listenersMu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}
}

func (m *Manager) emit(authenticated bool) {
	m.listenersMu.Lock()
	fns := make([]func(bool), 0, len(m.listeners))
	for i := 0; i < m.nextID; i++ {
		if fn, ok := m.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	m.listenersMu.Unlock()

	for _, fn := range fns {
		fn(authenticated)
	}
}

func (m *Manager) persist(st *state) {
	data, err := sonic.Marshal(st)
	if err != nil {
		m.logger.Error("Failed to encode session", zap.Error(err))
		return
	}
	sealed, err := m.vault.Seal(data)
	if err != nil {
		m.logger.Error("Failed to seal session", zap.Error(err))
		return
	}

	target, other := Store(m.memory), m.persistent
	if st.Remember && m.persistent != nil {
		target, other = m.persistent, Store(m.memory)
	}

	if err := target.Save(sealed); err != nil {
		m.logger.Warn("Failed to save session", zap.Error(err))
		notify.Warn(m.notifier, noticeSource, "Session not saved", "You will need to sign in again after a restart")
	}
	if other != nil {
		if err := other.Clear(); err != nil {
			m.logger.Warn("Failed to clear stale session", zap.Error(err))
		}
	}
}

func (m *Manager) load() (*state, error) {
	var stores []Store
	if m.persistent != nil {
		stores = append(stores, m.persistent)
	}
	stores = append(stores, m.memory)

	for _, s := range stores {
		blob, err := s.Load()
		if errors.Is(err, ErrNoState) {
			continue
		}
		if err != nil {
			return nil, err
		}

		plain, err := m.vault.Open(blob)
		if err != nil {
			return nil, err
		}
		var st state
		if err := sonic.Unmarshal(plain, &st); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if st.AccessToken == "" {
			return nil, ErrCorrupt
		}
		return &st, nil
	}
	return nil, ErrNoState
}

// clear drops the session and reports whether there was one
func (m *Manager) clear() bool {
	m.mu.Lock()
	had := m.state != nil
	m.state = nil
	m.mu.Unlock()
	m.clearStores()
	return had
}

func (m *Manager) clearStores() {
	if m.persistent != nil {
		if err := m.persistent.Clear(); err != nil {
			m.logger.Warn("Failed to clear session store", zap.Error(err))
		}
	}
	_ = m.memory.Clear()
}

func expiry(now time.Time, seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}

func displayName(p adminapi.Profile) string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.Username
}
