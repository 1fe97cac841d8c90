package adminapi

import "time"

// User is a console operator or platform user
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Nickname    string     `json:"nickname,omitempty"`
	Status      string     `json:"status,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// Device is a phone bound to a WhatsApp account
type Device struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	AccountID  string     `json:"accountId,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	Status     string     `json:"status"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// DeviceStatus is the live status of one device
type DeviceStatus struct {
	DeviceID     string    `json:"deviceId"`
	Online       bool      `json:"online"`
	Battery      int       `json:"battery,omitempty"`
	Network      string    `json:"network,omitempty"`
	AppVersion   string    `json:"appVersion,omitempty"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// SensitiveWord is one entry of the content moderation list
type SensitiveWord struct {
	ID        string    `json:"id"`
	Word      string    `json:"word"`
	Category  string    `json:"category,omitempty"`
	Level     string    `json:"level,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// Role is an RBAC role
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	System      bool     `json:"system,omitempty"`
}

// Permission is an RBAC permission
type Permission struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
}

// AuditLog is one audit trail entry
type AuditLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username,omitempty"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resourceId,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Result     string    `json:"result,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// FileInfo is an uploaded file
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	URL       string    `json:"url,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Folder    string    `json:"folder,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the signed-in operator
type Profile struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Nickname    string   `json:"nickname,omitempty"`
	Email       string   `json:"email,omitempty"`
	Avatar      string   `json:"avatar,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// TokenPair holds access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
}

// LoginRequest is the body of /auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

// LoginResult is the data of a successful login
type LoginResult struct {
	TokenPair
	User Profile `json:"user"`
}

// MonitorStats is the dashboard summary from /monitor/stats
type MonitorStats struct {
	TotalAccounts     int   `json:"totalAccounts"`
	OnlineAccounts    int   `json:"onlineAccounts"`
	TotalDevices      int   `json:"totalDevices"`
	OnlineDevices     int   `json:"onlineDevices"`
	MessagesToday     int64 `json:"messagesToday"`
	SensitiveToday    int64 `json:"sensitiveToday"`
	AlertsToday       int64 `json:"alertsToday"`
	ActiveConnections int   `json:"activeConnections"`
}

// AnalyticsOverview is the analytics summary
type AnalyticsOverview struct {
	TotalMessages  int64   `json:"totalMessages"`
	TotalContacts  int64   `json:"totalContacts"`
	ActiveAccounts int     `json:"activeAccounts"`
	SensitiveRate  float64 `json:"sensitiveRate"`
	GrowthRate     float64 `json:"growthRate"`
}

// TrendPoint is one sample of a trend series
type TrendPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// TrendQuery selects a trend series
type TrendQuery struct {
	Metric    string
	StartDate string
	EndDate   string
	Interval  string
}

// MessageSearch selects messages in /search/messages
type MessageSearch struct {
	ListParams
	AccountID     string
	Sender        string
	StartTime     *time.Time
	EndTime       *time.Time
	SensitiveOnly bool
}

// MessageHit is one search result
type MessageHit struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	ChatID    string    `json:"chatId,omitempty"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Highlight string    `json:"highlight,omitempty"`
	Sensitive bool      `json:"isSensitive,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
