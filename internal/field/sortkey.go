package field

import (
	"cmp"
	"strings"
	"time"

	"github.com/listenupapp/folio/internal/collate"
)

// UndefinedDate stands in for a missing date when sorting.
var UndefinedDate = time.Date(101, time.January, 1, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // Sentinel value

// SortKey orders books for one field. Elements are strings (collation
// keys), float64 or time.Time and are compared pairwise; a shorter key that
// is a prefix of a longer one sorts first.
type SortKey []any

// Compare orders two keys.
func Compare(a, b SortKey) int {
	for i := range min(len(a), len(b)) {
		if c := compareElem(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a), len(b))
}

func compareElem(a, b any) int {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return cmp.Compare(rank(a), rank(b))
}

// rank orders elements of mismatched types so the comparison stays total.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case time.Time:
		return 2
	case string:
		return 3
	}
	return 4
}

// SortContext carries what sort key computation needs beyond field state.
type SortContext struct {
	Collator collate.Collator
	// LibraryOrder moves leading articles of series names to the end.
	LibraryOrder bool
	// BookLang returns the first language of a book, or "".
	BookLang func(bookID int64) string
	// DateFormats holds the display format of date fields when dates sort
	// by their visible parts only. nil sorts on the full timestamp.
	DateFormats map[string]string
	// AuthorSortMethod derives sort strings for name lists.
	AuthorSortMethod string
}

func (sc *SortContext) textKey(s string) string {
	if sc.Collator == nil {
		return s
	}
	return sc.Collator.SortKey(s)
}

func (sc *SortContext) lang(bookID int64) string {
	if sc.BookLang == nil {
		return ""
	}
	return sc.BookLang(bookID)
}

// dateKey returns t, or UndefinedDate when t is zero, with the parts the
// field's display format hides reset.
func (sc *SortContext) dateKey(key string, t time.Time) time.Time {
	if t.IsZero() {
		return UndefinedDate
	}
	if sc.DateFormats == nil {
		return t
	}
	return ClearHiddenDateParts(t, sc.DateFormats[key])
}

// ClearHiddenDateParts resets the parts of t not shown by the date format
// fmt to those of UndefinedDate. An empty format shows the date only.
func ClearHiddenDateParts(t time.Time, format string) time.Time {
	if format == "" {
		format = "yyMd"
	}
	if format == "iso" {
		return t
	}
	u := UndefinedDate
	year, month, day := u.Year(), u.Month(), u.Day()
	hour, minute, sec := 0, 0, 0
	if strings.ContainsRune(format, 'y') {
		year = t.Year()
	}
	if strings.ContainsRune(format, 'M') {
		month = t.Month()
	}
	if strings.ContainsRune(format, 'd') {
		day = t.Day()
	}
	if strings.ContainsRune(format, 'h') {
		hour = t.Hour()
	}
	if strings.ContainsRune(format, 'm') {
		minute = t.Minute()
	}
	if strings.ContainsRune(format, 's') {
		sec = t.Second()
	}
	return time.Date(year, month, day, hour, minute, sec, 0, time.UTC)
}

func numberKey(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	case int:
		return float64(x)
	}
	return 0
}

func boolKey(v any) float64 {
	b, ok := v.(bool)
	switch {
	case !ok:
		return 0
	case b:
		return 2
	default:
		return 1
	}
}
