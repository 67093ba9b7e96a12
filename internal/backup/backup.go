// Package backup keeps the metadata.opf sidecar of every book in step with
// the library database.
//
// The Worker talks to the library only through the Library interface: it
// picks a dirtied book, takes a snapshot with its dirty sequence, writes the
// OPF outside the library lock and clears the book only if nothing changed
// it in the meantime.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/listenupapp/folio/internal/logger"
	"github.com/listenupapp/folio/internal/metadata"
)

// Library is the part of the cache the worker needs.
type Library interface {
	GetADirtiedBook(ctx context.Context) (int64, bool)
	DirtiedBooks(ctx context.Context) []int64
	GetMetadataForDump(ctx context.Context, bookID int64) (*metadata.Metadata, uint64)
	WriteBackup(ctx context.Context, bookID int64, raw []byte) error
	ClearDirtied(ctx context.Context, bookID int64, seq uint64) error
	DirtyQueueLength(ctx context.Context) int
}

// Worker writes OPF backups of dirtied books in the background.
type Worker struct {
	lib    Library
	opts   Options
	logger *slog.Logger
	pace   *rate.Limiter

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a worker. It does nothing until Start.
func New(lib Library, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		lib:    lib,
		opts:   opts,
		logger: logger.OrDiscard(opts.Logger),
		pace:   rate.NewLimiter(rate.Every(opts.Interval), 1),
	}
}

// Start runs the worker loop until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	w.logger.Info("metadata backup started",
		"interval", w.opts.Interval,
		"scheduling_interval", w.opts.SchedulingInterval,
	)
}

// Stop asks the loop to finish and waits for the book in flight.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.running = false
	w.mu.Unlock()
	w.wg.Wait()
	w.logger.Info("metadata backup stopped")
}

func (w *Worker) loop(ctx context.Context) {
	for {
		// The pause between books is what lets other readers and writers
		// get at the lock under a steady stream of changes.
		if err := w.pace.Wait(ctx); err != nil {
			return
		}
		if _, err := w.DoOne(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("metadata backup failed", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// DoOne backs up a single dirtied book. It reports whether a book was
// waiting. A failed write is retried once before the book is left for a
// later round.
func (w *Worker) DoOne(ctx context.Context) (bool, error) {
	bookID, ok := w.lib.GetADirtiedBook(ctx)
	if !ok {
		return false, nil
	}
	return true, w.backUp(ctx, bookID, true)
}

func (w *Worker) backUp(ctx context.Context, bookID int64, pause bool) error {
	mi, seq := w.lib.GetMetadataForDump(ctx, bookID)
	if mi == nil {
		// Gone or without a folder: nothing to write.
		return w.lib.ClearDirtied(ctx, bookID, seq)
	}

	raw, err := w.opts.Serialize(mi)
	if err != nil {
		return fmt.Errorf("serialise book %d: %w", bookID, err)
	}
	if pause {
		if err := sleep(ctx, w.opts.SchedulingInterval); err != nil {
			return err
		}
	}

	if err := w.lib.WriteBackup(ctx, bookID, raw); err != nil {
		w.logger.Debug("retrying metadata backup", "book_id", bookID, "error", err)
		if err := sleep(ctx, w.opts.Interval); err != nil {
			return err
		}
		if err := w.lib.WriteBackup(ctx, bookID, raw); err != nil {
			return fmt.Errorf("write backup of book %d: %w", bookID, err)
		}
	}
	if err := w.lib.ClearDirtied(ctx, bookID, seq); err != nil {
		return err
	}
	w.logger.Debug("metadata backed up", "book_id", bookID, "sequence", seq)
	return nil
}

// drainRounds bounds how often Drain rereads the queue for books dirtied
// while it ran.
const drainRounds = 3

// Drain backs up every queued book without pausing and returns how many
// were written. A book that still fails after its retry is skipped for the
// rest of the drain and counted in the error.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	written := 0
	failed := make(map[int64]bool)
	var firstErr error
	for range drainRounds {
		var pending []int64
		for _, id := range w.lib.DirtiedBooks(ctx) {
			if !failed[id] {
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			break
		}
		for _, id := range pending {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			if err := w.backUp(ctx, id, false); err != nil {
				failed[id] = true
				if firstErr == nil {
					firstErr = err
				}
				w.logger.Warn("metadata backup failed", "book_id", id, "error", err)
				continue
			}
			written++
		}
	}
	if len(failed) > 0 {
		return written, fmt.Errorf("%d backups failed: %w", len(failed), firstErr)
	}
	return written, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
