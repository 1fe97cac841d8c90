package realtime

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/wamanager/console/internal/buffers"
	"github.com/wamanager/console/internal/infrastructure/monitoring"
)

// Handler receives a typed payload and the envelope it came in.
// A returned error is logged and does not affect other handlers.
type Handler func(payload any, env Envelope) error

// Typed adapts a handler for one payload type
func Typed[T any](fn func(T, Envelope) error) Handler {
	return func(payload any, env Envelope) error {
		v, ok := payload.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", payload, env.Type)
		}
		return fn(v, env)
	}
}

type registration struct {
	id      uint64
	handler Handler
}

type patternRegistration struct {
	registration
	pattern string
}

// Dispatcher fans inbound envelopes out to registered handlers
type Dispatcher struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]registration
	patterns []patternRegistration

	log *buffers.RingBuffer[Envelope]

	received        atomic.Uint64
	parseErrors     atomic.Uint64
	unknownTypes    atomic.Uint64
	invalidPayloads atomic.Uint64
	handlerErrors   atomic.Uint64
}

// NewDispatcher creates a dispatcher keeping the last logSize envelopes
func NewDispatcher(logSize int, logger *zap.Logger, metrics *monitoring.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:   logger,
		metrics:  metrics,
		handlers: make(map[string][]registration),
		log:      buffers.NewRingBuffer[Envelope](logSize),
	}
}

// On registers h for msgType. The returned func removes exactly this
// registration and may be called more than once.
func (d *Dispatcher) On(msgType string, h Handler) func() {
	d.mu.Lock()
	d.nextID++
	regID := d.nextID
	d.handlers[msgType] = append(d.handlers[msgType], registration{id: regID, handler: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			regs := d.handlers[msgType]
			for i, r := range regs {
				if r.id == regID {
					d.handlers[msgType] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
			if len(d.handlers[msgType]) == 0 {
				delete(d.handlers, msgType)
			}
		})
	}
}

// OnPattern registers h for every type matching a doublestar glob such as
// "*_monitor". Pattern handlers run after exact-type handlers.
func (d *Dispatcher) OnPattern(pattern string, h Handler) (func(), error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}

	d.mu.Lock()
	d.nextID++
	regID := d.nextID
	d.patterns = append(d.patterns, patternRegistration{
		registration: registration{id: regID, handler: h},
		pattern:      pattern,
	})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, p := range d.patterns {
				if p.id == regID {
					d.patterns = append(d.patterns[:i:i], d.patterns[i+1:]...)
					break
				}
			}
		})
	}, nil
}

// HandlerCount returns the number of exact and pattern registrations
func (d *Dispatcher) HandlerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.patterns)
	for _, regs := range d.handlers {
		n += len(regs)
	}
	return n
}

// HandleFrame decodes one raw frame and dispatches it.
// Malformed frames are counted and dropped.
func (d *Dispatcher) HandleFrame(frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		d.parseErrors.Add(1)
		d.metrics.IncWSParseErrors()
		d.logger.Warn("Dropping malformed frame", zap.Error(err), zap.Int("bytes", len(frame)))
		return
	}
	d.Dispatch(env)
}

// Dispatch logs env and calls every matching handler in registration order
func (d *Dispatcher) Dispatch(env Envelope) {
	d.received.Add(1)
	d.metrics.RecordWSMessage("in", env.Type)
	d.log.WriteOne(env)

	payload, err := DecodePayload(env)
	if err != nil {
		reason := "invalid_payload"
		if errors.Is(err, ErrUnknownType) {
			reason = "unknown_type"
			d.unknownTypes.Add(1)
		} else {
			d.invalidPayloads.Add(1)
		}
		d.metrics.RecordWSDropped(reason)
		d.logger.Warn("Dropping envelope", zap.String("type", env.Type), zap.Error(err))
		return
	}

	for _, h := range d.matching(env.Type) {
		d.invoke(h, payload, env)
	}
}

func (d *Dispatcher) matching(msgType string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	regs := d.handlers[msgType]
	out := make([]Handler, 0, len(regs)+len(d.patterns))
	for _, r := range regs {
		out = append(out, r.handler)
	}
	for _, p := range d.patterns {
		if ok, _ := doublestar.Match(p.pattern, msgType); ok {
			out = append(out, p.handler)
		}
	}
	return out
}

func (d *Dispatcher) invoke(h Handler, payload any, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.handlerErrors.Add(1)
			d.metrics.RecordWSHandlerError(env.Type)
			d.logger.Error("Handler panicked",
				zap.String("type", env.Type),
				zap.String("message_id", env.MessageID),
				zap.Any("panic", r))
		}
	}()

	if err := h(payload, env); err != nil {
		d.handlerErrors.Add(1)
		d.metrics.RecordWSHandlerError(env.Type)
		d.logger.Error("Handler failed",
			zap.String("type", env.Type),
			zap.String("message_id", env.MessageID),
			zap.Error(err))
	}
}

// RecentMessages returns up to n logged envelopes, oldest first
func (d *Dispatcher) RecentMessages(n int) []Envelope {
	return d.log.ReadLast(n)
}

// Reset removes every handler and empties the message log
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.handlers = make(map[string][]registration)
	d.patterns = nil
	d.mu.Unlock()
	d.log.Clear()
}

func (d *Dispatcher) fillStats(s *Stats) {
	s.MessagesReceived = d.received.Load()
	s.ParseErrors = d.parseErrors.Load()
	s.UnknownTypes = d.unknownTypes.Load()
	s.InvalidPayloads = d.invalidPayloads.Load()
	s.HandlerErrors = d.handlerErrors.Load()
}
