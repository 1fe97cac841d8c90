package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/wamanager/console/internal/shared/id"
)

// Inbound envelope types
const (
	TypeAuthSuccess    = "auth_success"
	TypeAuthFailed     = "auth_failed"
	TypeError          = "error"
	TypeMessageMonitor = "message_monitor"
	TypeContactMonitor = "contact_monitor"
	TypeAlert          = "alert"
	TypeSystemStatus   = "system_status"
	TypePong           = "pong"
)

// Outbound envelope types
const (
	TypeAuth        = "auth"
	TypePing        = "ping"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

var (
	// ErrMalformedFrame is returned for frames that are not JSON envelopes
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownType is returned for envelopes with no registered payload shape
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrInvalidPayload is returned when a payload fails validation
	ErrInvalidPayload = errors.New("invalid payload")
)

// Envelope is the wire unit in both directions.
// Values are never mutated after construction.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	MessageID string          `json:"messageId,omitempty"`
}

type wireEnvelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
}

// NewEnvelope builds an outbound envelope with a fresh message ID
func NewEnvelope(msgType string, data any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		MessageID: id.NewMessageID().String(),
	}
	if data == nil {
		return env, nil
	}

	raw, err := sonic.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	env.Data = raw
	return env, nil
}

// Encode serializes the envelope for the wire
func (e Envelope) Encode() ([]byte, error) {
	return sonic.Marshal(wireEnvelope{
		Type:      e.Type,
		Data:      e.Data,
		Timestamp: json.RawMessage(strconv.Quote(e.Timestamp.UTC().Format(time.RFC3339Nano))),
		MessageID: e.MessageID,
	})
}

// DecodeEnvelope parses an inbound frame. A missing or unreadable timestamp
// is replaced by the receive time.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var w wireEnvelope
	if err := sonic.Unmarshal(frame, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if strings.TrimSpace(w.Type) == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	return Envelope{
		Type:      w.Type,
		Data:      w.Data,
		Timestamp: parseTimestamp(w.Timestamp),
		MessageID: w.MessageID,
	}, nil
}

// parseTimestamp accepts an RFC 3339 string or unix milliseconds
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now().UTC()
	}

	var s string
	if err := sonic.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return time.Now().UTC()
	}

	var ms int64
	if err := sonic.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Now().UTC()
}

// AuthResult is the payload of auth_success and auth_failed
type AuthResult struct {
	UserID       string `json:"userId,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Text returns the most specific failure text available
func (a AuthResult) Text() string {
	switch {
	case a.Reason != "":
		return a.Reason
	case a.Message != "":
		return a.Message
	default:
		return "authentication failed"
	}
}

// ErrorPayload is the payload of a server error envelope
type ErrorPayload struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// MessageEvent is one monitored WhatsApp message
type MessageEvent struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId,omitempty"`
	DeviceID       string    `json:"deviceId,omitempty"`
	ChatID         string    `json:"chatId,omitempty"`
	Sender         string    `json:"sender,omitempty"`
	Recipient      string    `json:"recipient,omitempty"`
	Direction      string    `json:"direction,omitempty"`
	MessageType    string    `json:"messageType,omitempty"`
	Content        string    `json:"content"`
	Sensitive      bool      `json:"isSensitive,omitempty"`
	SensitiveWords []string  `json:"sensitiveWords,omitempty"`
	RiskLevel      string    `json:"riskLevel,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsSensitive reports whether the message hit the sensitive-word filter
func (m MessageEvent) IsSensitive() bool {
	return m.Sensitive || len(m.SensitiveWords) > 0
}

// Validate implements payload validation
func (m MessageEvent) Validate() error {
	if m.ID == "" {
		return errors.New("message event without id")
	}
	return nil
}

// HighRiskScore is the contact risk score at or above which a contact counts as high risk
const HighRiskScore = 70

// ContactEvent is one contact change on a monitored account
type ContactEvent struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Name      string    `json:"name,omitempty"`
	Action    string    `json:"action,omitempty"`
	RiskScore float64   `json:"riskScore"`
	RiskLevel string    `json:"riskLevel,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsHighRisk reports whether the contact is flagged high risk
func (c ContactEvent) IsHighRisk() bool {
	return c.RiskLevel == "high" || c.RiskScore >= HighRiskScore
}

// Validate implements payload validation
func (c ContactEvent) Validate() error {
	if c.ID == "" {
		return errors.New("contact event without id")
	}
	if c.RiskScore < 0 || c.RiskScore > 100 {
		return fmt.Errorf("risk score %.1f out of range", c.RiskScore)
	}
	return nil
}

// Alert levels
const (
	AlertInfo     = "info"
	AlertWarning  = "warning"
	AlertError    = "error"
	AlertCritical = "critical"
)

// AlertEvent is a platform alert
type AlertEvent struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Category  string    `json:"category,omitempty"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	AccountID string    `json:"accountId,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsCritical reports whether the alert is critical
func (a AlertEvent) IsCritical() bool {
	return a.Level == AlertCritical
}

// Validate implements payload validation
func (a AlertEvent) Validate() error {
	switch a.Level {
	case AlertInfo, AlertWarning, AlertError, AlertCritical:
		return nil
	default:
		return fmt.Errorf("unknown alert level %q", a.Level)
	}
}

// SystemStatus is a periodic platform health report
type SystemStatus struct {
	Status         string    `json:"status"`
	OnlineDevices  int       `json:"onlineDevices"`
	ActiveAccounts int       `json:"activeAccounts"`
	QueueDepth     int       `json:"queueDepth,omitempty"`
	CPUUsage       float64   `json:"cpuUsage,omitempty"`
	MemoryUsage    float64   `json:"memoryUsage,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Pong acknowledges a ping
type Pong struct {
	ServerTime time.Time `json:"serverTime"`
}

// TopicRequest is the payload of subscribe and unsubscribe
type TopicRequest struct {
	Topic string `json:"topic"`
}

// AuthRequest is the payload of the optional auth frame
type AuthRequest struct {
	Token     string `json:"token"`
	AccountID string `json:"accountId,omitempty"`
}

type validator interface {
	Validate() error
}

// DecodePayload returns the typed payload for a known inbound envelope.
// The concrete type is one of AuthResult, ErrorPayload, MessageEvent,
// ContactEvent, AlertEvent, SystemStatus or Pong.
func DecodePayload(env Envelope) (any, error) {
	switch env.Type {
	case TypeAuthSuccess, TypeAuthFailed:
		return decodeAs[AuthResult](env)
	case TypeError:
		return decodeAs[ErrorPayload](env)
	case TypeMessageMonitor:
		return decodeAs[MessageEvent](env)
	case TypeContactMonitor:
		return decodeAs[ContactEvent](env)
	case TypeAlert:
		return decodeAs[AlertEvent](env)
	case TypeSystemStatus:
		return decodeAs[SystemStatus](env)
	case TypePong:
		return decodeAs[Pong](env)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, env.Type)
	}
}

func decodeAs[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := sonic.Unmarshal(env.Data, &v); err != nil {
			return v, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Type, err)
		}
	}
	if val, ok := any(v).(validator); ok {
		if err := val.Validate(); err != nil {
			return v, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Type, err)
		}
	}
	return v, nil
}
