package field

import (
	"context"
	"time"

	"github.com/listenupapp/folio/internal/backend"
	"github.com/listenupapp/folio/internal/collate"
)

// WriteContext is the scope of one write transaction. In-memory updates
// are queued and applied by Commit once the transaction has committed, so
// a failed write leaves memory untouched.
type WriteContext struct {
	Ctx  context.Context
	Conn backend.Conn
	// AllowCaseChange lets a write change the case of an existing item
	// instead of reusing it as stored.
	AllowCaseChange  bool
	Collator         collate.Collator
	AuthorSortMethod string
	Now              time.Time

	pending []func()
}

// OnCommit queues fn to run after the transaction commits.
func (wc *WriteContext) OnCommit(fn func()) {
	wc.pending = append(wc.pending, fn)
}

// Commit applies the queued in-memory updates in order.
func (wc *WriteContext) Commit() {
	for _, fn := range wc.pending {
		fn()
	}
	wc.pending = nil
}

func (wc *WriteContext) lower(s string) string {
	if wc.Collator == nil {
		return s
	}
	return wc.Collator.Lower(s)
}
