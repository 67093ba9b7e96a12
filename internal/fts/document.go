// Package fts keeps a full-text index of book metadata, comments and the
// text of plain-text and HTML formats, fed by cache change notifications.
package fts

import (
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/listenupapp/folio/internal/cache"
)

// maxContentBytes caps how much of each format file is indexed.
const maxContentBytes = 1 << 20

// Document is the indexed form of a book.
type Document struct {
	BookID    int64
	Title     string
	Authors   []string
	Series    string
	Publisher string
	Tags      []string
	// Comments is markdown.
	Comments string
	Content  string
}

func docID(bookID int64) string { return strconv.FormatInt(bookID, 10) }

func parseDocID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil
}

// toMap uses the lowercase field names of the mapping.
func (d *Document) toMap() map[string]any {
	m := map[string]any{
		"title":   d.Title,
		"authors": strings.Join(d.Authors, " & "),
	}
	if d.Series != "" {
		m["series"] = d.Series
	}
	if d.Publisher != "" {
		m["publisher"] = d.Publisher
	}
	if len(d.Tags) > 0 {
		m["tags"] = d.Tags
	}
	if d.Comments != "" {
		m["comments"] = d.Comments
	}
	if d.Content != "" {
		m["content"] = d.Content
	}
	return m
}

// BuildDocument turns what the cache hands out into an index document,
// reading the format files it lists. Unreadable files are skipped.
func BuildDocument(src *cache.Document) *Document {
	d := &Document{
		BookID:    src.BookID,
		Title:     src.Title,
		Authors:   src.Authors,
		Series:    src.Series,
		Publisher: src.Publisher,
		Tags:      src.Tags,
		Comments:  htmlToMarkdown(src.Comments),
	}
	var parts []string
	for _, format := range slices.Sorted(maps.Keys(src.Files)) {
		text, err := readText(src.Files[format])
		if err != nil {
			continue
		}
		switch format {
		case "HTML", "HTM", "XHTML":
			text = htmlToMarkdown(text)
		}
		parts = append(parts, text)
	}
	d.Content = strings.Join(parts, "\n\n")
	return d
}

func readText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, maxContentBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(raw), nil
}

var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote|html|body)[\s>/]`)

// htmlToMarkdown converts HTML to markdown. Plain text passes through.
func htmlToMarkdown(s string) string {
	if s == "" || !htmlTagPattern.MatchString(strings.ToLower(s)) {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(md)
}
