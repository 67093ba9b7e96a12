package backup

import (
	"log/slog"
	"time"

	"github.com/listenupapp/folio/internal/metadata"
)

// Options configures a Worker.
type Options struct {
	// Interval is the pause between books, and before a write is retried.
	Interval time.Duration
	// SchedulingInterval is the pause between taking a snapshot and
	// writing it.
	SchedulingInterval time.Duration
	// Serialize turns a snapshot into sidecar bytes. Defaults to
	// metadata.ToOPF.
	Serialize func(*metadata.Metadata) ([]byte, error)
	Logger    *slog.Logger
}

// DefaultOptions returns the pacing used by the daemon.
func DefaultOptions() Options {
	return Options{
		Interval:           2 * time.Second,
		SchedulingInterval: 100 * time.Millisecond,
		Serialize:          metadata.ToOPF,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.SchedulingInterval < 0 {
		o.SchedulingInterval = def.SchedulingInterval
	}
	if o.Serialize == nil {
		o.Serialize = def.Serialize
	}
	return o
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// DryRun parses every sidecar without changing the library.
	DryRun bool
	// Force replaces fields the sidecar leaves empty.
	Force bool
}

// RestoreResult counts the outcome of a Restore.
type RestoreResult struct {
	Restored int            `json:"restored" yaml:"restored"`
	Missing  int            `json:"missing" yaml:"missing"`
	Errors   []RestoreError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Duration time.Duration  `json:"duration" yaml:"duration"`
}

// RestoreError describes a book that could not be restored.
type RestoreError struct {
	BookID int64  `json:"book_id" yaml:"book_id"`
	Error  string `json:"error" yaml:"error"`
}
