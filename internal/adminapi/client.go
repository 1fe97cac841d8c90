package adminapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/wamanager/console/internal/infrastructure/config"
	"github.com/wamanager/console/internal/infrastructure/monitoring"
	"github.com/wamanager/console/internal/infrastructure/resilience"
	"github.com/wamanager/console/internal/notify"
	"github.com/wamanager/console/internal/shared/id"
)

const noticeSource = "api"

// TokenSource supplies the current access token
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Refresher exchanges the refresh token for a new access token
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Options configures a Client
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RetryMax          int
	RequestsPerSecond float64
	UserAgent         string
}

// OptionsFromConfig maps API configuration onto Options
func OptionsFromConfig(cfg config.APIConfig) Options {
	return Options{
		BaseURL:           cfg.Endpoint(),
		Timeout:           cfg.Timeout,
		RetryMax:          cfg.RetryMax,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
}

// Option customizes a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// WithNotifier sets where failed calls are reported
func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithBreaker replaces the default circuit breaker
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// Client talks to the platform admin REST API.
//
// Requests pass a token-bucket limiter and a circuit breaker, carry a bearer
// token and a fresh X-Request-ID, and go out through a retrying transport
// that only retries connection failures. A 401 triggers one refresh and one
// retry.
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	notifier notify.Notifier

	authMu         sync.RWMutex
	tokens         TokenSource
	refresher      Refresher
	onUnauthorized func()

	refreshMu sync.Mutex
}

// New creates a client for opts.BaseURL
func New(opts Options, options ...Option) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("adminapi: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("adminapi: invalid base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "wa-console/1.0"
	}

	c := &Client{
		logger:   zap.NewNop(),
		notifier: notify.Discard,
	}
	for _, opt := range options {
		opt(c)
	}

	if opts.RequestsPerSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	if c.breaker == nil {
		c.breaker = resilience.New("admin-api", resilience.Settings{
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5 ||
					(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.6)
			},
			IsFailure: countsAgainstBreaker,
			OnStateChange: func(name string, from, to resilience.State) {
				c.logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = retryConnectionErrors

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("adminapi: cookie jar: %w", err)
	}

	c.resty = resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient}).
		SetCookieJar(jar).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json")

	return c, nil
}

// retryConnectionErrors retries transport failures only. HTTP statuses are
// classified by the client and never retried here.
func retryConnectionErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// SetAuth wires the token source, the refresher and the forced-logout hook
func (c *Client) SetAuth(tokens TokenSource, refresher Refresher, onUnauthorized func()) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.tokens = tokens
	c.refresher = refresher
	c.onUnauthorized = onUnauthorized
}

func (c *Client) auth() (TokenSource, Refresher, func()) {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	return c.tokens, c.refresher, c.onUnauthorized
}

// Breaker exposes the circuit breaker for status reporting
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

// request describes one API call
type request struct {
	method string
	path   string
	// route is the metrics label, e.g. /users/:id
	route string
	query url.Values
	body  any

	form      map[string]string
	fileField string
	fileName  string
	fileData  []byte

	// anonymous requests carry no token and skip the refresh path
	anonymous bool
	// quiet requests do not raise notices on failure
	quiet bool
}

func (r request) label() string {
	if r.route != "" {
		return r.route
	}
	return r.path
}

// do sends req, refreshing once on 401, and decodes the envelope into out
func (c *Client) do(ctx context.Context, req request, out any) error {
	used, err := c.attempt(ctx, req, "", out)
	if err != nil && errors.Is(err, ErrUnauthorized) && !req.anonymous {
		err = c.retryAfterRefresh(ctx, req, used, out)
	}

	if err != nil && !req.quiet && ctx.Err() == nil {
		notify.Error(c.notifier, noticeSource, "Request failed", UserMessage(err))
	}
	return err
}

func (c *Client) retryAfterRefresh(ctx context.Context, req request, used string, out any) error {
	tokens, refresher, onUnauthorized := c.auth()

	c.refreshMu.Lock()
	token := ""
	if tokens != nil {
		// another caller may have refreshed while we waited
		if current, err := tokens.Token(ctx); err == nil && current != "" && current != used {
			token = current
		}
	}
	var refreshErr error
	if token == "" {
		if refresher == nil {
			refreshErr = errors.New("no refresher configured")
		} else {
			token, refreshErr = refresher.Refresh(ctx)
		}
		c.metrics.RecordTokenRefresh(refreshErr == nil && token != "")
	}
	c.refreshMu.Unlock()

	if refreshErr != nil || token == "" {
		c.logger.Warn("Token refresh failed", zap.String("path", req.path), zap.Error(refreshErr))
		if onUnauthorized != nil {
			onUnauthorized()
		}
		return &APIError{
			Status: http.StatusUnauthorized,
			Method: req.method,
			Path:   req.path,
			kind:   ErrUnauthorized,
		}
	}

	_, err := c.attempt(ctx, req, token, out)
	if err != nil && errors.Is(err, ErrUnauthorized) && onUnauthorized != nil {
		onUnauthorized()
	}
	return err
}

// attempt performs one request. It returns the token it sent.
func (c *Client) attempt(ctx context.Context, req request, token string, out any) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	if token == "" && !req.anonymous {
		if tokens, _, _ := c.auth(); tokens != nil {
			t, err := tokens.Token(ctx)
			if err != nil {
				c.logger.Debug("No access token for request", zap.String("path", req.path), zap.Error(err))
			}
			token = t
		}
	}

	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.send(ctx, req, token, out)
	})
	return token, err
}

func (c *Client) send(ctx context.Context, req request, token string, out any) error {
	requestID := id.NewRequestID().String()

	r := c.resty.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if token != "" {
		r.SetAuthToken(token)
	}
	if len(req.query) > 0 {
		r.SetQueryParamsFromValues(req.query)
	}
	if req.fileData != nil {
		r.SetMultipartFormData(req.form)
		r.SetFileReader(req.fileField, req.fileName, bytes.NewReader(req.fileData))
	} else if req.body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.body)
	}

	timer := monitoring.NewTimer(c.metrics, req.method, req.label())
	resp, err := r.Execute(req.method, req.path)
	if err != nil {
		timer.Stop("error")
		c.logger.Warn("API request failed",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}

	status := resp.StatusCode()
	timer.Stop(strconv.Itoa(status))
	c.logger.Debug("API request",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", status),
		zap.Duration("duration", resp.Time()),
		zap.String("request_id", requestID))

	if status >= http.StatusBadRequest {
		msg, fields := errorDetails(resp.Body())
		return &APIError{
			Status:    status,
			Method:    req.method,
			Path:      req.path,
			Message:   msg,
			RequestID: requestID,
			Fields:    fields,
			kind:      classify(status),
		}
	}

	return decodeResponse(resp.Body(), out)
}

// Get issues a GET and decodes data into out
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, request{method: http.MethodGet, path: path, query: query}, out)
}

// Post issues a POST with a JSON body
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, request{method: http.MethodPost, path: path, body: body}, out)
}

// Put issues a PUT with a JSON body
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, request{method: http.MethodPut, path: path, body: body}, out)
}

// Delete issues a DELETE
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, request{method: http.MethodDelete, path: path}, out)
}
