// Package notify carries user-visible notices.
//
// Every failure the operator should see (connection lost, reconnect given up,
// login rejected, API business errors) is sent to a Notifier instead of
// being returned into code that has nobody to show it to. The console keeps
// the most recent notices in a Recorder and serves them over HTTP.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wamanager/console/internal/buffers"
	"github.com/wamanager/console/internal/infrastructure/monitoring"
	"github.com/wamanager/console/internal/shared/id"
)

// Level is the severity of a notice
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one user-visible notification
type Notice struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Source  string    `json:"source,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier receives notices
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Notice)

// Notify calls f(n)
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Discard drops every notice
var Discard Notifier = NotifierFunc(func(Notice) {})

// New builds a notice stamped with an ID and the current time
func New(level Level, source, title, message string) Notice {
	return Notice{
		ID:      id.NewNoticeID().String(),
		Level:   level,
		Title:   title,
		Message: message,
		Source:  source,
		Time:    time.Now(),
	}
}

// Error sends an error notice
func Error(n Notifier, source, title, message string) {
	n.Notify(New(LevelError, source, title, message))
}

// Warn sends a warning notice
func Warn(n Notifier, source, title, message string) {
	n.Notify(New(LevelWarning, source, title, message))
}

// Info sends an info notice
func Info(n Notifier, source, title, message string) {
	n.Notify(New(LevelInfo, source, title, message))
}

// Success sends a success notice
func Success(n Notifier, source, title, message string) {
	n.Notify(New(LevelSuccess, source, title, message))
}

// Recorder keeps the most recent notices in memory
type Recorder struct {
	buf *buffers.RingBuffer[Notice]

	mu        sync.Mutex
	nextID    int
	listeners []listener
}

type listener struct {
	id int
	fn func(Notice)
}

// NewRecorder creates a recorder holding up to capacity notices
func NewRecorder(capacity int) *Recorder {
	return &Recorder{buf: buffers.NewRingBuffer[Notice](capacity)}
}

// Notify records n and forwards it to listeners
func (r *Recorder) Notify(n Notice) {
	r.buf.WriteOne(n)

	r.mu.Lock()
	listeners := append([]listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l.fn(n)
	}
}

// Listen registers fn to be called for every later notice. The returned
// function unregisters it.
func (r *Recorder) Listen(fn func(Notice)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners = append(r.listeners, listener{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, l := range r.listeners {
			if l.id == id {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

// Latest returns up to n notices, oldest first
func (r *Recorder) Latest(n int) []Notice {
	return r.buf.ReadLast(n)
}

// All returns every recorded notice, oldest first
func (r *Recorder) All() []Notice {
	return r.buf.ReadAll()
}

// Clear drops every recorded notice
func (r *Recorder) Clear() {
	r.buf.Clear()
}

// LogNotifier writes notices to a zap logger and counts them
type LogNotifier struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *zap.Logger, metrics *monitoring.Metrics) *LogNotifier {
	return &LogNotifier{logger: logger, metrics: metrics}
}

// Notify logs n at the matching level
func (l *LogNotifier) Notify(n Notice) {
	l.metrics.RecordNotice(string(n.Level))

	fields := []zap.Field{
		zap.String("notice_id", n.ID),
		zap.String("title", n.Title),
		zap.String("source", n.Source),
	}
	switch n.Level {
	case LevelError:
		l.logger.Error(n.Message, fields...)
	case LevelWarning:
		l.logger.Warn(n.Message, fields...)
	default:
		l.logger.Info(n.Message, fields...)
	}
}

// Multi fans every notice out to several notifiers
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(n Notice) {
		for _, target := range notifiers {
			if target != nil {
				target.Notify(n)
			}
		}
	})
}
