package activity

import (
	"html"
	"sort"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/wamanager/console/internal/buffers"
	"github.com/wamanager/console/internal/infrastructure/config"
	"github.com/wamanager/console/internal/infrastructure/monitoring"
	"github.com/wamanager/console/internal/notify"
	"github.com/wamanager/console/internal/realtime"
)

// Buffer categories
const (
	CategoryMessages = "messages"
	CategoryContacts = "contacts"
	CategoryAlerts   = "alerts"
)

// DefaultBufferSize is used when no size is configured
const DefaultBufferSize = 100

// ClampBufferSize bounds n to the allowed buffer range
func ClampBufferSize(n int) int {
	switch {
	case n < config.MinBufferSize:
		return config.MinBufferSize
	case n > config.MaxBufferSize:
		return config.MaxBufferSize
	default:
		return n
	}
}

// Option customizes a Monitor
type Option func(*Monitor)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithNotifier surfaces critical alerts as notices
func WithNotifier(n notify.Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// Monitor keeps the recent-activity buffers fed by the realtime dispatcher
type Monitor struct {
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	notifier notify.Notifier
	policy   *bluemonday.Policy

	messages *buffers.RingBuffer[realtime.MessageEvent]
	contacts *buffers.RingBuffer[realtime.ContactEvent]
	alerts   *buffers.RingBuffer[realtime.AlertEvent]

	mu         sync.RWMutex
	size       int
	lastStatus *realtime.SystemStatus
}

// NewMonitor creates a monitor with all three buffers sized to size
func NewMonitor(size int, opts ...Option) *Monitor {
	if size <= 0 {
		size = DefaultBufferSize
	}
	size = ClampBufferSize(size)

	m := &Monitor{
		logger:   zap.NewNop(),
		notifier: notify.Discard,
		policy:   bluemonday.StrictPolicy(),
		size:     size,
		messages: buffers.NewRingBuffer[realtime.MessageEvent](size),
		contacts: buffers.NewRingBuffer[realtime.ContactEvent](size),
		alerts:   buffers.NewRingBuffer[realtime.AlertEvent](size),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BufferSize returns the current capacity of each buffer
func (m *Monitor) BufferSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// SetBufferSize resizes every buffer, keeping the newest entries, and
// returns the effective size after clamping to [10, 1000].
func (m *Monitor) SetBufferSize(n int) int {
	n = ClampBufferSize(n)

	m.mu.Lock()
	m.size = n
	m.mu.Unlock()

	m.messages.Resize(n)
	m.contacts.Resize(n)
	m.alerts.Resize(n)
	m.publishGauges()

	m.logger.Info("Activity buffer resized", zap.Int("size", n))
	return n
}

// Attach subscribes the monitor to d and returns a func that detaches it
func (m *Monitor) Attach(d *realtime.Dispatcher) func() {
	offs := []func(){
		d.On(realtime.TypeMessageMonitor, realtime.Typed(func(e realtime.MessageEvent, _ realtime.Envelope) error {
			m.AddMessage(e)
			return nil
		})),
		d.On(realtime.TypeContactMonitor, realtime.Typed(func(e realtime.ContactEvent, _ realtime.Envelope) error {
			m.AddContact(e)
			return nil
		})),
		d.On(realtime.TypeAlert, realtime.Typed(func(e realtime.AlertEvent, _ realtime.Envelope) error {
			m.AddAlert(e)
			return nil
		})),
		d.On(realtime.TypeSystemStatus, realtime.Typed(func(s realtime.SystemStatus, _ realtime.Envelope) error {
			m.SetSystemStatus(s)
			return nil
		})),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// stripTags removes markup but keeps the text as sent. The policy escapes
// entities on output, so they are decoded again.
func (m *Monitor) stripTags(s string) string {
	if s == "" {
		return s
	}
	return html.UnescapeString(m.policy.Sanitize(s))
}

// AddMessage strips markup and buffers a message event
func (m *Monitor) AddMessage(e realtime.MessageEvent) {
	e.Content = m.stripTags(e.Content)
	if len(e.SensitiveWords) > 0 {
		e.SensitiveWords = append([]string(nil), e.SensitiveWords...)
	}
	m.messages.WriteOne(e)
	m.metrics.SetActivityBuffered(CategoryMessages, m.messages.Len())
}

// AddContact buffers a contact event
func (m *Monitor) AddContact(e realtime.ContactEvent) {
	e.Name = m.stripTags(e.Name)
	m.contacts.WriteOne(e)
	m.metrics.SetActivityBuffered(CategoryContacts, m.contacts.Len())
}

// AddAlert buffers an alert. Critical alerts are also sent as error notices.
func (m *Monitor) AddAlert(e realtime.AlertEvent) {
	e.Title = m.stripTags(e.Title)
	e.Message = m.stripTags(e.Message)
	m.alerts.WriteOne(e)
	m.metrics.SetActivityBuffered(CategoryAlerts, m.alerts.Len())

	if e.IsCritical() {
		title := e.Title
		if title == "" {
			title = "Critical alert"
		}
		notify.Error(m.notifier, "activity", title, e.Message)
	}
}

// SetSystemStatus records the latest system status report
func (m *Monitor) SetSystemStatus(s realtime.SystemStatus) {
	m.mu.Lock()
	m.lastStatus = &s
	m.mu.Unlock()
}

// LastSystemStatus returns the most recent system status, if any
func (m *Monitor) LastSystemStatus() (realtime.SystemStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastStatus == nil {
		return realtime.SystemStatus{}, false
	}
	return *m.lastStatus, true
}

// LatestMessages returns up to n messages, oldest first
func (m *Monitor) LatestMessages(n int) []realtime.MessageEvent {
	return m.messages.ReadLast(n)
}

// LatestContacts returns up to n contact events, oldest first
func (m *Monitor) LatestContacts(n int) []realtime.ContactEvent {
	return m.contacts.ReadLast(n)
}

// LatestAlerts returns up to n alerts, oldest first
func (m *Monitor) LatestAlerts(n int) []realtime.AlertEvent {
	return m.alerts.ReadLast(n)
}

// Messages returns buffered messages matching pred
func (m *Monitor) Messages(pred func(realtime.MessageEvent) bool) []realtime.MessageEvent {
	return m.messages.Filter(pred)
}

// Contacts returns buffered contact events matching pred
func (m *Monitor) Contacts(pred func(realtime.ContactEvent) bool) []realtime.ContactEvent {
	return m.contacts.Filter(pred)
}

// Alerts returns buffered alerts matching pred
func (m *Monitor) Alerts(pred func(realtime.AlertEvent) bool) []realtime.AlertEvent {
	return m.alerts.Filter(pred)
}

// SensitiveMessages returns messages that hit the sensitive-word filter
func (m *Monitor) SensitiveMessages() []realtime.MessageEvent {
	return m.messages.Filter(realtime.MessageEvent.IsSensitive)
}

// HighRiskContacts returns contacts flagged high risk
func (m *Monitor) HighRiskContacts() []realtime.ContactEvent {
	return m.contacts.Filter(realtime.ContactEvent.IsHighRisk)
}

// CriticalAlerts returns critical alerts
func (m *Monitor) CriticalAlerts() []realtime.AlertEvent {
	return m.alerts.Filter(realtime.AlertEvent.IsCritical)
}

// Stats summarizes the current buffers
type Stats struct {
	BufferSize int `json:"bufferSize"`

	Messages int `json:"messages"`
	Contacts int `json:"contacts"`
	Alerts   int `json:"alerts"`

	SensitiveMessages int `json:"sensitiveMessages"`
	HighRiskContacts  int `json:"highRiskContacts"`
	CriticalAlerts    int `json:"criticalAlerts"`

	RiskScoreMean float64 `json:"riskScoreMean"`
	RiskScoreP95  float64 `json:"riskScoreP95"`

	AlertsByLevel map[string]int `json:"alertsByLevel"`

	TotalMessages int64 `json:"totalMessages"`
	TotalContacts int64 `json:"totalContacts"`
	TotalAlerts   int64 `json:"totalAlerts"`

	SystemStatus *realtime.SystemStatus `json:"systemStatus,omitempty"`
}

// Stats computes counts and risk statistics over the current buffers
func (m *Monitor) Stats() Stats {
	s := Stats{
		BufferSize:        m.BufferSize(),
		Messages:          m.messages.Len(),
		Contacts:          m.contacts.Len(),
		Alerts:            m.alerts.Len(),
		SensitiveMessages: m.messages.Count(realtime.MessageEvent.IsSensitive),
		HighRiskContacts:  m.contacts.Count(realtime.ContactEvent.IsHighRisk),
		CriticalAlerts:    m.alerts.Count(realtime.AlertEvent.IsCritical),
		AlertsByLevel:     make(map[string]int),
		TotalMessages:     m.messages.TotalAdded(),
		TotalContacts:     m.contacts.TotalAdded(),
		TotalAlerts:       m.alerts.TotalAdded(),
	}

	contacts := m.contacts.ReadAll()
	if len(contacts) > 0 {
		scores := make([]float64, len(contacts))
		for i, c := range contacts {
			scores[i] = c.RiskScore
		}
		sort.Float64s(scores)
		s.RiskScoreMean = stat.Mean(scores, nil)
		s.RiskScoreP95 = stat.Quantile(0.95, stat.Empirical, scores, nil)
	}

	for _, a := range m.alerts.ReadAll() {
		s.AlertsByLevel[a.Level]++
	}

	if status, ok := m.LastSystemStatus(); ok {
		s.SystemStatus = &status
	}
	return s
}

// Clear empties every buffer and forgets the last system status
func (m *Monitor) Clear() {
	m.messages.Clear()
	m.contacts.Clear()
	m.alerts.Clear()

	m.mu.Lock()
	m.lastStatus = nil
	m.mu.Unlock()

	m.publishGauges()
}

func (m *Monitor) publishGauges() {
	m.metrics.SetActivityBuffered(CategoryMessages, m.messages.Len())
	m.metrics.SetActivityBuffered(CategoryContacts, m.contacts.Len())
	m.metrics.SetActivityBuffered(CategoryAlerts, m.alerts.Len())
}
