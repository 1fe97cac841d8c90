package adminapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// API groups every endpoint family on one client
type API struct {
	Client *Client

	Auth           *AuthService
	Users          *Resource[User]
	Devices        *DeviceService
	SensitiveWords *Resource[SensitiveWord]
	Roles          *RoleService
	Permissions    *Resource[Permission]
	AuditLogs      *ReadResource[AuditLog]
	Files          *FileService
	Monitor        *MonitorService
	Analytics      *AnalyticsService
	Search         *SearchService
}

// NewAPI binds every endpoint family to c
func NewAPI(c *Client) *API {
	return &API{
		Client:         c,
		Auth:           &AuthService{client: c},
		Users:          NewResource[User](c, "/users"),
		Devices:        &DeviceService{Resource: NewResource[Device](c, "/devices")},
		SensitiveWords: NewResource[SensitiveWord](c, "/config/sensitive-words"),
		Roles:          &RoleService{Resource: NewResource[Role](c, "/rbac/roles")},
		Permissions:    NewResource[Permission](c, "/rbac/permissions"),
		AuditLogs:      NewReadResource[AuditLog](c, "/audit/logs"),
		Files:          newFileService(c),
		Monitor:        &MonitorService{client: c},
		Analytics:      &AnalyticsService{client: c},
		Search:         &SearchService{client: c},
	}
}

// AuthService covers /auth
type AuthService struct {
	client *Client
}

// Login exchanges credentials for tokens
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	var res LoginResult
	err := s.client.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/login",
		body:      req,
		anonymous: true,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Refresh exchanges a refresh token for a new pair. Failures are left to
// the caller to report.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair TokenPair
	err := s.client.do(ctx, request{
		method:    http.MethodPost,
		path:      "/auth/refresh",
		body:      map[string]string{"refreshToken": refreshToken},
		anonymous: true,
		quiet:     true,
	}, &pair)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// Logout revokes the current token
func (s *AuthService) Logout(ctx context.Context) error {
	return s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/logout",
		quiet:  true,
	}, nil)
}

// Profile returns the signed-in operator
func (s *AuthService) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := s.client.Get(ctx, "/auth/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeviceService adds live status to the device collection
type DeviceService struct {
	*Resource[Device]
}

// Status returns the live status of one device
func (s *DeviceService) Status(ctx context.Context, id string) (*DeviceStatus, error) {
	var st DeviceStatus
	err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   s.itemPath(id) + "/status",
		route:  s.itemRoute() + "/status",
	}, &st)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// RoleService adds permission assignment to the role collection
type RoleService struct {
	*Resource[Role]
}

// RolePermissions returns the permissions granted to a role
func (s *RoleService) RolePermissions(ctx context.Context, id string) ([]Permission, error) {
	var perms []Permission
	err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   s.itemPath(id) + "/permissions",
		route:  s.itemRoute() + "/permissions",
	}, &perms)
	if err != nil {
		return nil, err
	}
	return perms, nil
}

// SetRolePermissions replaces the permissions granted to a role
func (s *RoleService) SetRolePermissions(ctx context.Context, id string, permissionIDs []string) error {
	return s.client.do(ctx, request{
		method: http.MethodPut,
		path:   s.itemPath(id) + "/permissions",
		route:  s.itemRoute() + "/permissions",
		body:   map[string]any{"permissionIds": permissionIDs},
	}, nil)
}

// MonitorService covers /monitor
type MonitorService struct {
	client *Client
}

// Stats returns the monitoring dashboard summary
func (s *MonitorService) Stats(ctx context.Context) (*MonitorStats, error) {
	var st MonitorStats
	if err := s.client.Get(ctx, "/monitor/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// AnalyticsService covers /analytics
type AnalyticsService struct {
	client *Client
}

// Overview returns the analytics summary
func (s *AnalyticsService) Overview(ctx context.Context) (*AnalyticsOverview, error) {
	var o AnalyticsOverview
	if err := s.client.Get(ctx, "/analytics/overview", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Trends returns one trend series
func (s *AnalyticsService) Trends(ctx context.Context, q TrendQuery) ([]TrendPoint, error) {
	v := url.Values{}
	setIf(v, "metric", q.Metric)
	setIf(v, "startDate", q.StartDate)
	setIf(v, "endDate", q.EndDate)
	setIf(v, "interval", q.Interval)

	var points []TrendPoint
	if err := s.client.Get(ctx, "/analytics/trends", v, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// SearchService covers /search
type SearchService struct {
	client *Client
}

// Messages searches monitored messages
func (s *SearchService) Messages(ctx context.Context, q MessageSearch) (*Page[MessageHit], error) {
	v := q.ListParams.Values()
	setIf(v, "accountId", q.AccountID)
	setIf(v, "sender", q.Sender)
	if q.StartTime != nil {
		v.Set("startTime", q.StartTime.UTC().Format(time.RFC3339))
	}
	if q.EndTime != nil {
		v.Set("endTime", q.EndTime.UTC().Format(time.RFC3339))
	}
	if q.SensitiveOnly {
		v.Set("sensitiveOnly", strconv.FormatBool(true))
	}

	var page Page[MessageHit]
	if err := s.client.Get(ctx, "/search/messages", v, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
