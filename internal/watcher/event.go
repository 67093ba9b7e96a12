package watcher

import "time"

// EventType is the kind of change reported for a file.
type EventType int

const (
	// EventReady is sent once a new or rewritten file has settled.
	EventReady EventType = iota
	// EventRemoved is sent when a file disappears.
	EventRemoved
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one change in a watched folder.
type Event struct {
	Type    EventType
	Path    string
	Size    int64
	ModTime time.Time
}
