package realtime

import "time"

// State is the connection lifecycle state
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionStatus is a snapshot of the connection.
// Only the Manager mutates the underlying value.
type ConnectionStatus struct {
	State             State      `json:"state"`
	Connected         bool       `json:"connected"`
	Reconnecting      bool       `json:"reconnecting"`
	URL               string     `json:"url"`
	LastConnected     *time.Time `json:"lastConnected,omitempty"`
	LastDisconnected  *time.Time `json:"lastDisconnected,omitempty"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
	ConnectionID      string     `json:"connectionId,omitempty"`
	LastCloseCode     int        `json:"lastCloseCode,omitempty"`
	Topics            []string   `json:"topics"`
}

// Stats counts traffic through the manager
type Stats struct {
	MessagesReceived uint64     `json:"messagesReceived"`
	MessagesSent     uint64     `json:"messagesSent"`
	ParseErrors      uint64     `json:"parseErrors"`
	UnknownTypes     uint64     `json:"unknownTypes"`
	InvalidPayloads  uint64     `json:"invalidPayloads"`
	HandlerErrors    uint64     `json:"handlerErrors"`
	Reconnects       uint64     `json:"reconnects"`
	LastPong         *time.Time `json:"lastPong,omitempty"`
}
