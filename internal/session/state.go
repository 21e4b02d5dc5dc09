package session

import (
	"fmt"
	"time"

	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Sleeping
	Waking
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Sleeping:
		return "sleeping"
	case Waking:
		return "waking"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AlertKind classifies user-facing alerts.
type AlertKind int

const (
	AlertHostUnavailable AlertKind = iota
)

func (k AlertKind) String() string {
	if k == AlertHostUnavailable {
		return "host-unavailable"
	}
	return "unknown"
}

// Alert is raised when the session fails.
type Alert struct {
	Kind     AlertKind
	Endpoint kodi.Endpoint
	Err      error
	At       time.Time
	// RetryIn is the delay before the next automatic attempt, zero when none is scheduled.
	RetryIn time.Duration
}

func (a Alert) Error() string {
	return fmt.Sprintf("%s: %s: %v", a.Kind, a.Endpoint, a.Err)
}

// Snapshot describes the current session.
type Snapshot struct {
	State        State         `json:"state"`
	Endpoint     string        `json:"endpoint"`
	LastActivity time.Time     `json:"lastActivity,omitempty"`
	Pending      int           `json:"pending"`
	RetryDelay   time.Duration `json:"retryDelay,omitempty"`
}
