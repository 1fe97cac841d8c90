package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/activity"
	"github.com/wamanager/console/internal/adminapi"
	handlers "github.com/wamanager/console/internal/api/http"
	"github.com/wamanager/console/internal/api/middleware"
	"github.com/wamanager/console/internal/infrastructure/config"
	"github.com/wamanager/console/internal/infrastructure/logging"
	"github.com/wamanager/console/internal/infrastructure/monitoring"
	"github.com/wamanager/console/internal/notify"
	"github.com/wamanager/console/internal/realtime"
	"github.com/wamanager/console/internal/session"
)

// noticeHistory is how many notices the console keeps for GET /notifications
const noticeHistory = 200

// Option customizes a Server
type Option func(*Server)

// WithLogger replaces the logger built from configuration
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRegistry registers metrics on reg instead of a fresh registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithAuthenticator replaces the platform login endpoints
func WithAuthenticator(auth session.Authenticator) Option {
	return func(s *Server) { s.auth = auth }
}

// Server wires the console components together and serves the local API
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	auth     session.Authenticator

	notices  *notify.Recorder
	client   *adminapi.Client
	api      *adminapi.API
	session  *session.Manager
	realtime *realtime.Manager
	activity *activity.Monitor

	router     *gin.Engine
	httpServer *http.Server

	// ctx outlives requests; background connects run under it
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	detach    []func()
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Development)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("Initializing console",
		zap.String("api", cfg.API.Endpoint()),
		zap.String("ws", cfg.Realtime.Endpoint()),
		zap.String("addr", cfg.Server.Address()),
	)

	s.metrics = monitoring.NewMetrics(s.registry)

	// Notices go to the in-memory history and the log
	s.notices = notify.NewRecorder(noticeHistory)
	notifier := notify.Multi(s.notices, notify.NewLogNotifier(s.logger.Component("notice"), s.metrics))

	client, err := adminapi.New(adminapi.OptionsFromConfig(cfg.API),
		adminapi.WithLogger(s.logger.Component("api")),
		adminapi.WithMetrics(s.metrics),
		adminapi.WithNotifier(notifier),
	)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.client = client
	s.api = adminapi.NewAPI(client)
	s.api.Files.SetLimits(cfg.API.DirectUploadLimit, cfg.API.ChunkSize)

	if s.auth == nil {
		s.auth = s.api.Auth
	}
	sess, err := session.NewManager(s.auth, session.OptionsFromConfig(cfg.Session),
		session.WithLogger(s.logger.Component("session")),
		session.WithNotifier(notifier),
	)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.session = sess
	client.SetAuth(sess, sess, sess.Expire)

	s.realtime = realtime.NewManager(realtime.OptionsFromConfig(cfg.Realtime), sess,
		realtime.WithLogger(s.logger.Component("realtime")),
		realtime.WithMetrics(s.metrics),
		realtime.WithNotifier(notifier),
	)

	s.activity = activity.NewMonitor(cfg.Realtime.BufferSize,
		activity.WithLogger(s.logger.Component("activity")),
		activity.WithMetrics(s.metrics),
		activity.WithNotifier(notifier),
	)
	s.detach = append(s.detach,
		s.activity.Attach(s.realtime.Dispatcher()),
		sess.OnChange(s.onSessionChange),
	)

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Console initialized successfully")
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(s.logger.Component("http")))
	router.Use(monitoring.Middleware(s.metrics))
	if origins := s.config.Server.CORSOrigins; len(origins) > 0 {
		router.Use(middleware.CORS(middleware.DefaultCORSConfig(origins...)))
	}
	router.Use(middleware.CrossOriginGuard(s.config.Server.CORSOrigins...))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		}))
	}

	h := handlers.NewHandlers(handlers.Deps{
		Realtime:   s.realtime,
		Activity:   s.activity,
		Notices:    s.notices,
		Session:    s.session,
		API:        s.api,
		UploadRoot: s.config.Server.UploadRoot,
		Logger:     s.logger.Component("handlers"),
	})
	h.Register(router)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return router
}

// onSessionChange keeps the realtime connection in step with the session
func (s *Server) onSessionChange(authenticated bool) {
	if authenticated {
		if !s.config.Realtime.AutoConnect {
			return
		}
		// listeners run inside Login; the dial must not hold it up
		go func() {
			if err := s.realtime.Connect(s.ctx); err != nil {
				s.logger.Warn("Automatic connect failed", zap.Error(err))
			}
		}()
		return
	}

	s.realtime.Disconnect()
	s.activity.Clear()
}

// Start restores a remembered session, or signs in with configured
// credentials when there is none.
func (s *Server) Start(ctx context.Context) error {
	restored, err := s.session.Restore(ctx)
	if err != nil && !errors.Is(err, session.ErrCorrupt) {
		return fmt.Errorf("restore session: %w", err)
	}
	if restored {
		s.logger.Info("Session restored")
		return nil
	}

	creds := s.config.Session
	if creds.Username == "" || creds.Password == "" {
		s.logger.Info("Waiting for sign-in")
		return nil
	}
	if _, err := s.session.Login(ctx, creds.Username, creds.Password, creds.Remember); err != nil {
		// the console stays up; the operator can sign in through the API
		s.logger.Warn("Configured sign-in failed", zap.Error(err))
	}
	return nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Notices returns the notice history
func (s *Server) Notices() *notify.Recorder {
	return s.notices
}

// Session returns the session manager
func (s *Server) Session() *session.Manager {
	return s.session
}

// Realtime returns the realtime connection manager
func (s *Server) Realtime() *realtime.Manager {
	return s.realtime
}

// Run serves HTTP until Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes the realtime connection and
// flushes the log. The session itself is kept.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down console")
		err = s.httpServer.Shutdown(ctx)

		for _, off := range s.detach {
			off()
		}
		s.cancel()
		if cerr := s.realtime.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		_ = s.logger.Sync()
	})
	return err
}
