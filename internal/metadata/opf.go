package metadata

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	nsOPF = "http://www.idpf.org/2007/opf"
	nsDC  = "http://purl.org/dc/elements/1.1/"

	metaPrefix = "folio:"
	opfTime    = "2006-01-02T15:04:05-07:00"
)

type opfPackage struct {
	XMLName  xml.Name     `xml:"package"`
	Xmlns    string       `xml:"xmlns,attr"`
	UniqueID string       `xml:"unique-identifier,attr"`
	Version  string       `xml:"version,attr"`
	Metadata opfMetadata  `xml:"metadata"`
	Guide    *opfGuideXML `xml:"guide,omitempty"`
}

type opfMetadata struct {
	XmlnsDC     string          `xml:"xmlns:dc,attr"`
	XmlnsOPF    string          `xml:"xmlns:opf,attr"`
	Identifiers []opfIdentifier `xml:"dc:identifier"`
	Title       string          `xml:"dc:title"`
	Creators    []opfCreator    `xml:"dc:creator"`
	Date        string          `xml:"dc:date,omitempty"`
	Description string          `xml:"dc:description,omitempty"`
	Publisher   string          `xml:"dc:publisher,omitempty"`
	Languages   []string        `xml:"dc:language"`
	Subjects    []string        `xml:"dc:subject"`
	Metas       []opfMeta       `xml:"meta"`
}

type opfIdentifier struct {
	Scheme string `xml:"opf:scheme,attr"`
	ID     string `xml:"id,attr,omitempty"`
	Value  string `xml:",chardata"`
}

type opfCreator struct {
	FileAs string `xml:"opf:file-as,attr,omitempty"`
	Role   string `xml:"opf:role,attr"`
	Name   string `xml:",chardata"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfGuideXML struct {
	References []opfReference `xml:"reference"`
}

type opfReference struct {
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
	Href  string `xml:"href,attr"`
}

// ToOPF serialises m as an OPF 2.0 package document.
func ToOPF(m *Metadata) ([]byte, error) {
	md := opfMetadata{
		XmlnsDC:     nsDC,
		XmlnsOPF:    nsOPF,
		Title:       m.Title,
		Description: m.Comments,
		Publisher:   m.Publisher,
		Languages:   m.Languages,
		Subjects:    m.Tags,
	}
	if md.Title == "" {
		md.Title = Unknown
	}

	if m.BookID != 0 {
		md.Identifiers = append(md.Identifiers, opfIdentifier{Scheme: "folio", ID: "folio_id", Value: strconv.FormatInt(m.BookID, 10)})
	}
	if m.UUID != "" {
		md.Identifiers = append(md.Identifiers, opfIdentifier{Scheme: "uuid", ID: "uuid_id", Value: m.UUID})
	}
	for _, scheme := range sortedKeys(m.Identifiers) {
		md.Identifiers = append(md.Identifiers, opfIdentifier{Scheme: strings.ToUpper(scheme), Value: m.Identifiers[scheme]})
	}

	for _, a := range m.Authors {
		c := opfCreator{Role: "aut", Name: a}
		if s, ok := m.AuthorSortMap[a]; ok {
			c.FileAs = s
		} else if len(m.Authors) == 1 {
			c.FileAs = m.AuthorSort
		}
		md.Creators = append(md.Creators, c)
	}
	if !m.PubDate.IsZero() {
		md.Date = m.PubDate.UTC().Format(opfTime)
	}

	meta := func(name, content string) {
		md.Metas = append(md.Metas, opfMeta{Name: metaPrefix + name, Content: content})
	}
	if len(m.AuthorLinkMap) > 0 {
		raw, err := json.Marshal(m.AuthorLinkMap)
		if err != nil {
			return nil, fmt.Errorf("encode author links: %w", err)
		}
		meta("author_link_map", string(raw))
	}
	if m.AuthorSort != "" {
		meta("author_sort", m.AuthorSort)
	}
	if m.Series != "" {
		meta("series", m.Series)
		idx := 1.0
		if m.SeriesIndex != nil {
			idx = *m.SeriesIndex
		}
		meta("series_index", FormatSeriesIndex(idx))
	}
	if m.Rating != nil {
		meta("rating", strconv.FormatInt(*m.Rating, 10))
	}
	if !m.Timestamp.IsZero() {
		meta("timestamp", m.Timestamp.UTC().Format(opfTime))
	}
	if m.TitleSort != "" {
		meta("title_sort", m.TitleSort)
	}
	for _, key := range sortedKeys(m.UserMetadata) {
		raw, err := json.Marshal(encodeUserField(m.UserMetadata[key]))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		meta("user_metadata:"+key, string(raw))
	}

	pkg := opfPackage{
		Xmlns:    nsOPF,
		UniqueID: "uuid_id",
		Version:  "2.0",
		Metadata: md,
	}
	if m.Cover != "" {
		pkg.Guide = &opfGuideXML{References: []opfReference{{Type: "cover", Title: "Cover", Href: m.Cover}}}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "    ")
	if err := enc.Encode(pkg); err != nil {
		return nil, fmt.Errorf("encode opf: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// FromOPF parses an OPF package document. Namespace prefixes are not
// checked, so documents written by other tools with different prefixes load.
func FromOPF(raw []byte) (*Metadata, error) {
	m := &Metadata{}
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var (
		inMetadata bool
		fileAs     []string
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse opf: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			if ee, ok := tok.(xml.EndElement); ok && ee.Name.Local == "metadata" {
				inMetadata = false
			}
			continue
		}

		switch se.Name.Local {
		case "metadata":
			inMetadata = true
			continue
		case "reference":
			if attr(se, "type") == "cover" {
				m.Cover = attr(se, "href")
			}
			continue
		}
		if !inMetadata {
			continue
		}

		switch se.Name.Local {
		case "meta":
			if err := applyMeta(m, attr(se, "name"), attr(se, "content")); err != nil {
				return nil, err
			}
			continue
		}

		var text string
		if err := dec.DecodeElement(&text, &se); err != nil {
			return nil, fmt.Errorf("parse opf %s: %w", se.Name.Local, err)
		}
		text = strings.TrimSpace(text)

		switch se.Name.Local {
		case "title":
			m.Title = text
		case "creator":
			role := attr(se, "role")
			if role == "" || role == "aut" {
				m.Authors = append(m.Authors, text)
				fileAs = append(fileAs, attr(se, "file-as"))
			}
		case "date":
			m.PubDate = parseOPFTime(text)
		case "description":
			m.Comments = text
		case "publisher":
			m.Publisher = text
		case "language":
			if text != "" {
				m.Languages = append(m.Languages, text)
			}
		case "subject":
			if text != "" {
				m.Tags = append(m.Tags, text)
			}
		case "identifier":
			scheme := strings.ToLower(attr(se, "scheme"))
			switch scheme {
			case "folio":
				m.BookID, _ = strconv.ParseInt(text, 10, 64)
			case "uuid":
				m.UUID = text
			case "":
			default:
				m.SetIdentifier(scheme, text)
			}
		}
	}

	for i, a := range m.Authors {
		if fileAs[i] == "" {
			continue
		}
		if m.AuthorSortMap == nil {
			m.AuthorSortMap = make(map[string]string)
		}
		m.AuthorSortMap[a] = fileAs[i]
	}
	if m.AuthorSort == "" && len(m.Authors) == 1 && len(fileAs) == 1 {
		m.AuthorSort = fileAs[0]
	}
	return m, nil
}

func applyMeta(m *Metadata, name, content string) error {
	name, ok := strings.CutPrefix(name, metaPrefix)
	if !ok {
		return nil
	}
	switch {
	case name == "series":
		m.Series = content
	case name == "series_index":
		if v, err := strconv.ParseFloat(content, 64); err == nil {
			m.SeriesIndex = &v
		}
	case name == "rating":
		if v, err := strconv.ParseFloat(content, 64); err == nil {
			r := int64(v)
			m.Rating = &r
		}
	case name == "timestamp":
		m.Timestamp = parseOPFTime(content)
	case name == "title_sort":
		m.TitleSort = content
	case name == "author_sort":
		m.AuthorSort = content
	case name == "author_link_map":
		if err := json.Unmarshal([]byte(content), &m.AuthorLinkMap); err != nil {
			return fmt.Errorf("parse author links: %w", err)
		}
	case strings.HasPrefix(name, "user_metadata:"):
		key := strings.TrimPrefix(name, "user_metadata:")
		uf, err := decodeUserField([]byte(content))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		if m.UserMetadata == nil {
			m.UserMetadata = make(map[string]*UserField)
		}
		m.UserMetadata[key] = uf
	}
	return nil
}

// userFieldJSON tags time values so they survive the JSON round trip.
type userFieldJSON struct {
	UserField
	Value any    `json:"value"`
	Kind  string `json:"kind,omitempty"`
}

func encodeUserField(uf *UserField) userFieldJSON {
	out := userFieldJSON{UserField: *uf, Value: uf.Value}
	if t, ok := uf.Value.(time.Time); ok {
		out.Value = t.UTC().Format(opfTime)
		out.Kind = "datetime"
	}
	return out
}

func decodeUserField(raw []byte) (*UserField, error) {
	var in userFieldJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	uf := in.UserField
	uf.Value = normaliseJSONValue(in.Value, in.Kind, uf.Datatype)
	return &uf, nil
}

func normaliseJSONValue(v any, kind, datatype string) any {
	switch x := v.(type) {
	case string:
		if kind == "datetime" {
			if t := parseOPFTime(x); !t.IsZero() {
				return t
			}
			return nil
		}
		return x
	case float64:
		switch datatype {
		case "int", "rating":
			return int64(x)
		}
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return v
}

func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func parseOPFTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{opfTime, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
