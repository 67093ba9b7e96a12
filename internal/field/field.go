// Package field holds the in-memory state of every field of a library and
// the writers that keep it in step with the database.
package field

import (
	"iter"

	"github.com/listenupapp/folio/internal/fieldmeta"
)

// Field is the in-memory view of one field across all books.
type Field interface {
	Meta() *fieldmeta.Field
	// ForBook returns the value of one book, or def when it has none.
	// Many-many fields return a fresh []string and never def.
	ForBook(bookID int64, def any) any
	// IDsForBook returns the item ids of one book in link order.
	IDsForBook(bookID int64) []int64
	// BooksFor returns the books linked to an item.
	BooksFor(itemID int64) IDSet
	// SortKeys returns a key for each of ids.
	SortKeys(sc *SortContext, ids []int64) map[int64]SortKey
	// SearchableValues yields each distinct value held by candidates
	// together with the candidates holding it.
	SearchableValues(candidates IDSet) iter.Seq2[any, IDSet]
	// RemoveBooks forgets books. Many-valued fields return the items no
	// longer used by any book.
	RemoveBooks(ids IDSet) []int64
}

// Writer is implemented by fields that accept set_field style writes.
type Writer interface {
	// Write adapts vals, stores the changed values in the transaction of wc
	// and schedules the in-memory update for commit. It returns the books
	// whose value changed.
	Write(wc *WriteContext, vals map[int64]any) (IDSet, error)
}

type base struct {
	meta *fieldmeta.Field
}

func (b *base) Meta() *fieldmeta.Field { return b.meta }

func (b *base) IDsForBook(int64) []int64 { return nil }

func (b *base) BooksFor(int64) IDSet { return IDSet{} }

func (b *base) RemoveBooks(IDSet) []int64 { return nil }
