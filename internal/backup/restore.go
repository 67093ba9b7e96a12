package backup

import (
	"context"
	"log/slog"
	"time"

	"github.com/listenupapp/folio/internal/cache"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/logger"
	"github.com/listenupapp/folio/internal/metadata"
)

// Restorable is the part of the cache Restore needs.
type Restorable interface {
	AllBookIDs(ctx context.Context) cache.IDSet
	ReadBackup(ctx context.Context, bookID int64) ([]byte, error)
	SetMetadata(ctx context.Context, bookID int64, mi *metadata.Metadata, opts cache.SetMetadataOptions) error
}

// RestoreService rebuilds book metadata from the OPF sidecars.
type RestoreService struct {
	lib    Restorable
	logger *slog.Logger
}

// NewRestoreService creates a RestoreService.
func NewRestoreService(lib Restorable, log *slog.Logger) *RestoreService {
	return &RestoreService{lib: lib, logger: logger.OrDiscard(log)}
}

// Restore applies the sidecar of every book, or of bookIDs when given, to
// the library. Books without a sidecar are counted as missing.
func (s *RestoreService) Restore(ctx context.Context, bookIDs []int64, opts RestoreOptions) (*RestoreResult, error) {
	start := time.Now()
	if bookIDs == nil {
		bookIDs = s.lib.AllBookIDs(ctx).Sorted()
	}
	s.logger.Info("starting restore", "books", len(bookIDs), "dry_run", opts.DryRun)

	result := &RestoreResult{}
	for _, id := range bookIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := s.lib.ReadBackup(ctx, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				result.Missing++
				continue
			}
			return nil, err
		}
		mi, err := metadata.FromOPF(raw)
		if err != nil {
			result.Errors = append(result.Errors, RestoreError{BookID: id, Error: err.Error()})
			continue
		}
		// The sidecar names the cover file next to it, which is already
		// in place.
		mi.Cover = ""
		if !opts.DryRun {
			err = s.lib.SetMetadata(ctx, id, mi, cache.SetMetadataOptions{
				IgnoreErrors: true,
				ForceChanges: opts.Force,
			})
			if err != nil {
				result.Errors = append(result.Errors, RestoreError{BookID: id, Error: err.Error()})
				continue
			}
		}
		result.Restored++
	}
	result.Duration = time.Since(start)

	s.logger.Info("restore complete",
		"restored", result.Restored,
		"missing", result.Missing,
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
	return result, nil
}
