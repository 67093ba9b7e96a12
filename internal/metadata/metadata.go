// Package metadata defines the metadata object exchanged with the cache and
// its OPF sidecar serialisation.
package metadata

import (
	"maps"
	"slices"
	"time"
)

// Unknown is the title and author given to books that have none.
const Unknown = "Unknown"

// UserField carries the value of a custom column together with enough of
// its definition to decide whether it applies to another library.
type UserField struct {
	Label      string         `json:"label"`
	Name       string         `json:"name"`
	Datatype   string         `json:"datatype"`
	IsMultiple bool           `json:"is_multiple"`
	Display    map[string]any `json:"display,omitempty"`
	Value      any            `json:"value"`
	// Extra is the series index of series-like columns.
	Extra *float64 `json:"extra,omitempty"`
}

// Metadata is a detached snapshot of a book's fields.
//
// Null rules: an empty string, a nil slice, a nil map and a nil pointer are
// null. A non-nil empty slice or map means "set to empty" and only takes
// effect when changes are forced. Zero times are null.
type Metadata struct {
	BookID        int64
	Title         string
	TitleSort     string
	Authors       []string
	AuthorSort    string
	AuthorSortMap map[string]string
	AuthorLinkMap map[string]string
	Series        string
	SeriesIndex   *float64
	Tags          []string
	Publisher     string
	PubDate       time.Time
	Timestamp     time.Time
	LastModified  time.Time
	// Rating is on the 0-10 scale; two per star.
	Rating      *int64
	Comments    string
	Languages   []string
	Identifiers map[string]string
	UUID        string
	Path        string
	Cover       string
	CoverData   []byte
	Formats     []string
	Size        int64
	// UserMetadata is keyed by field key, e.g. "#genre".
	UserMetadata map[string]*UserField
}

// New returns metadata with the given title and authors.
func New(title string, authors ...string) *Metadata {
	return &Metadata{Title: title, Authors: authors}
}

// IsNull reports whether the named standard field is null on m.
func (m *Metadata) IsNull(field string) bool {
	switch field {
	case "title":
		return m.Title == ""
	case "title_sort", "sort":
		return m.TitleSort == ""
	case "authors":
		return len(m.Authors) == 0
	case "author_sort":
		return m.AuthorSort == ""
	case "series":
		return m.Series == ""
	case "series_index":
		return m.SeriesIndex == nil
	case "tags":
		return len(m.Tags) == 0
	case "publisher":
		return m.Publisher == ""
	case "pubdate":
		return m.PubDate.IsZero()
	case "timestamp":
		return m.Timestamp.IsZero()
	case "rating":
		return m.Rating == nil
	case "comments":
		return m.Comments == ""
	case "languages":
		return len(m.Languages) == 0
	case "identifiers":
		return len(m.Identifiers) == 0
	case "uuid":
		return m.UUID == ""
	case "cover":
		return m.Cover == "" && len(m.CoverData) == 0
	}
	if uf, ok := m.UserMetadata[field]; ok {
		return isNullValue(uf.Value)
	}
	return true
}

// IsNone reports whether the field was left unset entirely, as opposed to
// being set to an empty value. Only slices and maps can tell the two apart.
func (m *Metadata) IsNone(field string) bool {
	switch field {
	case "authors":
		return m.Authors == nil
	case "tags":
		return m.Tags == nil
	case "languages":
		return m.Languages == nil
	case "identifiers":
		return m.Identifiers == nil
	}
	return m.IsNull(field)
}

// Get returns a standard or user field as a cache value.
func (m *Metadata) Get(field string) any {
	switch field {
	case "title":
		return m.Title
	case "sort", "title_sort":
		return m.TitleSort
	case "authors":
		return m.Authors
	case "author_sort":
		return m.AuthorSort
	case "series":
		return nilIfEmpty(m.Series)
	case "series_index":
		if m.SeriesIndex == nil {
			return nil
		}
		return *m.SeriesIndex
	case "tags":
		return m.Tags
	case "publisher":
		return nilIfEmpty(m.Publisher)
	case "pubdate":
		return nilIfZero(m.PubDate)
	case "timestamp":
		return nilIfZero(m.Timestamp)
	case "last_modified":
		return nilIfZero(m.LastModified)
	case "rating":
		if m.Rating == nil {
			return nil
		}
		return *m.Rating
	case "comments":
		return nilIfEmpty(m.Comments)
	case "languages":
		return m.Languages
	case "identifiers":
		return m.Identifiers
	case "uuid":
		return m.UUID
	case "path":
		return m.Path
	case "formats":
		return m.Formats
	case "size":
		return m.Size
	case "id":
		return m.BookID
	}
	if uf, ok := m.UserMetadata[field]; ok {
		return uf.Value
	}
	if len(field) > 6 && field[len(field)-6:] == "_index" {
		if uf, ok := m.UserMetadata[field[:len(field)-6]]; ok && uf.Extra != nil {
			return *uf.Extra
		}
	}
	return nil
}

// SetIdentifier sets or, with an empty value, removes one identifier.
func (m *Metadata) SetIdentifier(scheme, value string) {
	if value == "" {
		delete(m.Identifiers, scheme)
		return
	}
	if m.Identifiers == nil {
		m.Identifiers = make(map[string]string)
	}
	m.Identifiers[scheme] = value
}

// Clone returns a deep copy of m.
func (m *Metadata) Clone() *Metadata {
	c := *m
	c.Authors = slices.Clone(m.Authors)
	c.Tags = slices.Clone(m.Tags)
	c.Languages = slices.Clone(m.Languages)
	c.Formats = slices.Clone(m.Formats)
	c.CoverData = slices.Clone(m.CoverData)
	c.Identifiers = maps.Clone(m.Identifiers)
	c.AuthorSortMap = maps.Clone(m.AuthorSortMap)
	c.AuthorLinkMap = maps.Clone(m.AuthorLinkMap)
	if m.SeriesIndex != nil {
		v := *m.SeriesIndex
		c.SeriesIndex = &v
	}
	if m.Rating != nil {
		v := *m.Rating
		c.Rating = &v
	}
	if m.UserMetadata != nil {
		c.UserMetadata = make(map[string]*UserField, len(m.UserMetadata))
		for k, uf := range m.UserMetadata {
			cp := *uf
			cp.Display = maps.Clone(uf.Display)
			c.UserMetadata[k] = &cp
		}
	}
	return &c
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

func isNullValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case map[string]string:
		return len(x) == 0
	case time.Time:
		return x.IsZero()
	}
	return false
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
