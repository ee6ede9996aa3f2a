package window

import (
	"errors"
	"strings"
	"time"
)

// Kind is the type of command that produced an event.
type Kind int

const (
	// Publish is a pub/sub publish to a topic.
	Publish Kind = iota + 1
	// Set is a key-value write to a topic.
	Set
)

// ErrUnknownKind is returned by ParseKind for tokens other than publish and set.
var ErrUnknownKind = errors.New("unknown command")

func (k Kind) String() string {
	switch k {
	case Publish:
		return "publish"
	case Set:
		return "set"
	default:
		return "unknown"
	}
}

// ParseKind maps a case-insensitive command token to a Kind.
func ParseKind(token string) (Kind, error) {
	switch strings.ToLower(token) {
	case "publish":
		return Publish, nil
	case "set":
		return Set, nil
	default:
		return 0, ErrUnknownKind
	}
}

// Event is a single accepted request. Events are never modified after creation.
type Event struct {
	Timestamp time.Time // When the request was accepted
	Topic     string    // The topic path without the namespace prefix
	Kind      Kind      // Publish or Set
}

// Log is the interface for the sliding-window record of recent events.
//
// Implementations must be safe for concurrent use. Append and Prune are the
// only mutating operations; Count never changes the log.
type Log interface {
	Append(Event)
	Prune(now time.Time) int
	Count(now time.Time) int
	Len() int
	Width() time.Duration
}

// inWindow reports whether ts is still inside a window of width ending at now.
func inWindow(now, ts time.Time, width time.Duration) bool {
	return now.Sub(ts) <= width
}
