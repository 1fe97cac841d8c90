// Package id provides centralized ID generation for the console.
//
// Two formats are in use:
//   - ULIDs for anything that is ordered by time and ends up in logs or on
//     the wire (envelope message IDs, notice IDs). They sort lexicographically
//     and carry a type prefix (msg_*, ntf_*).
//   - UUIDv4 for opaque correlation values the backend already expects in that
//     shape (connection IDs, X-Request-ID headers, upload idempotency keys).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MessageID identifies an outbound WebSocket envelope
type MessageID string

// NoticeID identifies a user-visible notification
type NoticeID string

// ConnectionID identifies one WebSocket connection lifetime
type ConnectionID string

// RequestID identifies a single REST call
type RequestID string

const (
	MessagePrefix = "msg"
	NoticePrefix  = "ntf"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator backed by crypto/rand with
// monotonic entropy, so IDs created within the same millisecond still sort
// in creation order.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for tests that want deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewMessageID generates an ID for an outbound envelope
func NewMessageID() MessageID {
	return MessageID(Default().GenerateWithPrefix(MessagePrefix))
}

// NewNoticeID generates an ID for a notification
func NewNoticeID() NoticeID {
	return NoticeID(Default().GenerateWithPrefix(NoticePrefix))
}

// NewConnectionID generates an ID for a WebSocket connection
func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// NewRequestID generates an ID for a REST request
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

func (id MessageID) String() string    { return string(id) }
func (id NoticeID) String() string     { return string(id) }
func (id ConnectionID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }

// IsValid reports whether id is a ULID, with or without a type prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, stripping a type prefix if present
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// Timestamp extracts the creation time from a ULID-based ID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
