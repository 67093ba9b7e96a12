package metadata

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMetadata() *Metadata {
	return &Metadata{
		BookID:        9,
		Title:         "Foundation & Empire",
		TitleSort:     "Foundation & Empire",
		Authors:       []string{"Isaac Asimov"},
		AuthorSort:    "Asimov, Isaac",
		AuthorSortMap: map[string]string{"Isaac Asimov": "Asimov, Isaac"},
		AuthorLinkMap: map[string]string{"Isaac Asimov": "https://example.org/asimov"},
		Series:        "Foundation",
		SeriesIndex:   Float(2),
		Tags:          []string{"Science Fiction", "Classic"},
		Publisher:     "Gnome Press",
		PubDate:       time.Date(1952, 1, 1, 0, 0, 0, 0, time.UTC),
		Timestamp:     time.Date(2020, 5, 17, 10, 30, 0, 0, time.UTC),
		Rating:        Int(8),
		Comments:      "<p>The second book.</p>",
		Languages:     []string{"eng"},
		Identifiers:   map[string]string{"isbn": "9780553293371", "goodreads": "29579"},
		UUID:          "0b8e4a9c-2f1e-4b6f-9d3c-2a3e1f5c7d90",
		Cover:         "cover.jpg",
		UserMetadata: map[string]*UserField{
			"#read": {Label: "read", Name: "Read", Datatype: "bool", Value: true},
			"#genre": {
				Label: "genre", Name: "Genre", Datatype: "text", IsMultiple: true,
				Value: []string{"Space Opera"},
			},
			"#started": {
				Label: "started", Name: "Started", Datatype: "datetime",
				Value: time.Date(2021, 2, 3, 0, 0, 0, 0, time.UTC),
			},
			"#pages": {Label: "pages", Name: "Pages", Datatype: "int", Value: int64(255)},
			"#arc": {
				Label: "arc", Name: "Arc", Datatype: "series",
				Value: "Empire", Extra: Float(1.5),
			},
		},
	}
}

func TestToOPF_Structure(t *testing.T) {
	raw, err := ToOPF(sampleMetadata())
	require.NoError(t, err)

	s := string(raw)
	assert.True(t, strings.HasPrefix(s, "<?xml"))
	assert.Contains(t, s, `<package xmlns="http://www.idpf.org/2007/opf" unique-identifier="uuid_id" version="2.0">`)
	assert.Contains(t, s, `<dc:title>Foundation &amp; Empire</dc:title>`)
	assert.Contains(t, s, `opf:file-as="Asimov, Isaac"`)
	assert.Contains(t, s, `<meta name="folio:series" content="Foundation"></meta>`)
	assert.Contains(t, s, `<reference type="cover" title="Cover" href="cover.jpg"></reference>`)
	assert.Contains(t, s, `opf:scheme="ISBN"`)
}

func TestOPF_RoundTrip(t *testing.T) {
	in := sampleMetadata()
	raw, err := ToOPF(in)
	require.NoError(t, err)

	out, err := FromOPF(raw)
	require.NoError(t, err)

	assert.Equal(t, in.BookID, out.BookID)
	assert.Equal(t, in.Title, out.Title)
	assert.Equal(t, in.TitleSort, out.TitleSort)
	assert.Equal(t, in.Authors, out.Authors)
	assert.Equal(t, in.AuthorSort, out.AuthorSort)
	assert.Equal(t, in.AuthorSortMap, out.AuthorSortMap)
	assert.Equal(t, in.AuthorLinkMap, out.AuthorLinkMap)
	assert.Equal(t, in.Series, out.Series)
	require.NotNil(t, out.SeriesIndex)
	assert.InDelta(t, 2.0, *out.SeriesIndex, 1e-9)
	assert.Equal(t, in.Tags, out.Tags)
	assert.Equal(t, in.Publisher, out.Publisher)
	assert.True(t, in.PubDate.Equal(out.PubDate))
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	require.NotNil(t, out.Rating)
	assert.Equal(t, int64(8), *out.Rating)
	assert.Equal(t, in.Comments, out.Comments)
	assert.Equal(t, in.Languages, out.Languages)
	assert.Equal(t, in.Identifiers, out.Identifiers)
	assert.Equal(t, in.UUID, out.UUID)
	assert.Equal(t, "cover.jpg", out.Cover)

	require.Len(t, out.UserMetadata, len(in.UserMetadata))
	assert.Equal(t, true, out.UserMetadata["#read"].Value)
	assert.Equal(t, []string{"Space Opera"}, out.UserMetadata["#genre"].Value)
	assert.Equal(t, int64(255), out.UserMetadata["#pages"].Value)
	started, ok := out.UserMetadata["#started"].Value.(time.Time)
	require.True(t, ok)
	assert.True(t, started.Equal(time.Date(2021, 2, 3, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, out.UserMetadata["#arc"].Extra)
	assert.InDelta(t, 1.5, *out.UserMetadata["#arc"].Extra, 1e-9)
}

func TestToOPF_Minimal(t *testing.T) {
	raw, err := ToOPF(&Metadata{})
	require.NoError(t, err)

	out, err := FromOPF(raw)
	require.NoError(t, err)
	assert.Equal(t, Unknown, out.Title)
	assert.Nil(t, out.Authors)
	assert.Nil(t, out.SeriesIndex)
	assert.Nil(t, out.Rating)
}

func TestFromOPF_ForeignPrefixes(t *testing.T) {
	raw := []byte(`<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:d="http://purl.org/dc/elements/1.1/" xmlns:o="http://www.idpf.org/2007/opf">
    <d:title>Dune</d:title>
    <d:creator o:role="aut" o:file-as="Herbert, Frank">Frank Herbert</d:creator>
    <d:creator o:role="edt">Some Editor</d:creator>
    <d:identifier o:scheme="ISBN">9780441013593</d:identifier>
    <d:date>1965</d:date>
  </metadata>
</package>`)

	m, err := FromOPF(raw)
	require.NoError(t, err)

	assert.Equal(t, "Dune", m.Title)
	assert.Equal(t, []string{"Frank Herbert"}, m.Authors)
	assert.Equal(t, "Herbert, Frank", m.AuthorSort)
	assert.Equal(t, map[string]string{"isbn": "9780441013593"}, m.Identifiers)
	assert.Equal(t, 1965, m.PubDate.Year())
}

func TestFromOPF_Malformed(t *testing.T) {
	_, err := FromOPF([]byte(`<package><metadata><title>oops</metadata>`))
	assert.Error(t, err)
}
