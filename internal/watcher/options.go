package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Options configures a Watcher.
type Options struct {
	// IgnorePatterns are matched against base names.
	IgnorePatterns []string
	// SettleDelay is how long a file must stay unchanged before it is
	// reported ready.
	SettleDelay  time.Duration
	IgnoreHidden bool
	// Extensions limits events to these extensions, without the dot and
	// case-insensitive. Empty means every file.
	Extensions []string
}

func (o *Options) setDefaults() {
	if o.SettleDelay <= 0 {
		o.SettleDelay = time.Second
	}
	// Nil patterns mean "not configured"; an empty slice is respected.
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = []string{
			".DS_Store",
			"*.tmp",
			"*.part",
			"*.crdownload",
			"Thumbs.db",
		}
		o.IgnoreHidden = true
	}
}

// shouldIgnore reports whether no event should be sent for path.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if o.IgnoreHidden && strings.HasPrefix(base, ".") {
		return true
	}
	for _, pattern := range o.IgnorePatterns {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	if len(o.Extensions) == 0 {
		return false
	}
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	for _, want := range o.Extensions {
		if strings.EqualFold(ext, want) {
			return false
		}
	}
	return true
}
