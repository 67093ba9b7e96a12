package fieldmeta

import (
	"testing"

	"github.com/listenupapp/folio/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Builtins(t *testing.T) {
	r := New()

	tests := []struct {
		key      string
		kind     Kind
		datatype Datatype
	}{
		{"title", OneOne, Text},
		{"authors", ManyMany, Text},
		{"tags", ManyMany, Text},
		{"series", ManyOne, Series},
		{"rating", ManyOne, Rating},
		{"identifiers", IdentifiersKind, Text},
		{"formats", FormatsKind, Text},
		{"timestamp", OneOne, Datetime},
		{"marked", Virtual, Text},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			f, ok := r.Field(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.datatype, f.Datatype)
		})
	}

	authors, _ := r.Field("authors")
	assert.True(t, authors.IsNames())
	ids, _ := r.Field("identifiers")
	assert.True(t, ids.IsCSP)
}

func TestSearchTermToFieldKey(t *testing.T) {
	r := New()

	tests := []struct {
		term string
		want string
	}{
		{"author", "authors"},
		{"Authors", "authors"},
		{"tag", "tags"},
		{"date", "timestamp"},
		{"title_sort", "sort"},
		{"isbn", "identifiers"},
		{"format", "formats"},
		{"language", "languages"},
		{"nonsense", ""},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			key, grouped := r.SearchTermToFieldKey(tt.term)
			assert.Equal(t, tt.want, key)
			assert.Nil(t, grouped)
		})
	}
}

func TestAddCustomField(t *testing.T) {
	r := New()

	tests := []struct {
		def      CustomColumn
		wantKind Kind
	}{
		{CustomColumn{ID: 1, Label: "genre", Name: "Genre", Datatype: Text, IsMultiple: true}, ManyMany},
		{CustomColumn{ID: 2, Label: "shelf", Name: "Shelf", Datatype: Text}, ManyOne},
		{CustomColumn{ID: 3, Label: "pages", Name: "Pages", Datatype: Int}, OneOne},
		{CustomColumn{ID: 4, Label: "arc", Name: "Arc", Datatype: Series}, ManyOne},
		{CustomColumn{ID: 5, Label: "full", Name: "Full", Datatype: Composite, Display: map[string]any{"composite_template": "{title}"}}, CompositeKind},
		{CustomColumn{ID: 6, Label: "read", Name: "Read", Datatype: Bool}, OneOne},
	}

	for _, tt := range tests {
		t.Run(tt.def.Label, func(t *testing.T) {
			f, err := r.AddCustomField(tt.def)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, f.Kind)
			assert.True(t, f.IsCustom)
			assert.Equal(t, "#"+tt.def.Label, f.Key)

			key, _ := r.SearchTermToFieldKey("#" + tt.def.Label)
			assert.Equal(t, f.Key, key)
		})
	}

	idx, ok := r.Field("#arc_index")
	require.True(t, ok)
	assert.Equal(t, SeriesIndexKind, idx.Kind)

	assert.Equal(t, []string{"#genre", "#shelf", "#pages", "#arc", "#read"}, r.CustomFieldKeys(false))
	assert.Contains(t, r.CustomFieldKeys(true), "#full")

	r.RemoveCustomField("#arc")
	_, ok = r.Field("#arc_index")
	assert.False(t, ok)
	key, _ := r.SearchTermToFieldKey("#arc")
	assert.Empty(t, key)
}

func TestAddCustomField_Invalid(t *testing.T) {
	r := New()

	_, err := r.AddCustomField(CustomColumn{ID: 1, Label: "x", Name: "X", Datatype: "blob"})
	assert.ErrorIs(t, err, errors.ErrSchema)

	_, err = r.AddCustomField(CustomColumn{ID: 2, Label: "y", Name: "Y", Datatype: Int, IsMultiple: true})
	assert.ErrorIs(t, err, errors.ErrSchema)
}

func TestGroupedSearchTerms(t *testing.T) {
	r := New()

	require.NoError(t, r.AddGroupedSearchTerms(map[string][]string{"People": {"authors", "#editor"}}))

	key, grouped := r.SearchTermToFieldKey("people")
	assert.Empty(t, key)
	assert.Equal(t, []string{"authors", "#editor"}, grouped)
	assert.True(t, r.IsGroupedTerm("PEOPLE"))
	assert.Contains(t, r.GetSearchTerms(), "people")

	err := r.AddGroupedSearchTerms(map[string][]string{"tags": {"authors"}})
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.True(t, r.IsGroupedTerm("people"), "failed update leaves terms unchanged")

	r.RemoveDynamicCategories()
	assert.False(t, r.IsGroupedTerm("people"))
}

func TestUserCategories(t *testing.T) {
	r := New()
	r.AddUserCategory("favourites", "Favourites")
	r.AddUserCategory("favourites.scifi", "Sci-fi")

	terms := r.GetSearchTerms()
	assert.Contains(t, terms, "@favourites")
	assert.Contains(t, terms, "@favourites.scifi")
	assert.Contains(t, terms, "all")

	r.RemoveDynamicCategories()
	assert.NotContains(t, r.GetSearchTerms(), "@favourites")
}

func TestFieldPredicates(t *testing.T) {
	r := New()
	rating, _ := r.Field("rating")
	title, _ := r.Field("title")
	series, _ := r.Field("series")

	assert.True(t, rating.IsNumeric())
	assert.False(t, title.IsNumeric())
	assert.True(t, title.IsText())
	assert.True(t, series.IsSeriesLike())
	assert.True(t, series.IsManyValued())

	num := &Field{Datatype: Composite, Display: map[string]any{"composite_sort": "number"}}
	assert.True(t, num.IsNumeric())
	assert.False(t, num.IsText())
}
