package fts

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/listenupapp/folio/internal/errors"
)

// DefaultLimit is used when Search is given a limit below one.
const DefaultLimit = 50

// Hit is one ranked result.
type Hit struct {
	BookID     int64             `json:"book_id" yaml:"book_id"`
	Score      float64           `json:"score" yaml:"score"`
	Title      string            `json:"title" yaml:"title"`
	Authors    string            `json:"authors,omitempty" yaml:"authors,omitempty"`
	Highlights map[string]string `json:"highlights,omitempty" yaml:"highlights,omitempty"`
}

// Search returns up to limit books matching q, best first.
func (x *Index) Search(ctx context.Context, q string, limit int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errors.Validation("full-text query is empty")
	}
	if limit < 1 {
		limit = DefaultLimit
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(buildQuery(q), limit, 0, false)
	req.Fields = []string{"title", "authors"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("title")
	req.Highlight.AddField("authors")
	req.Highlight.AddField("comments")
	req.SortBy([]string{"-_score", "_id"})

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, ok := parseDocID(h.ID)
		if !ok {
			continue
		}
		hit := Hit{BookID: id, Score: h.Score}
		hit.Title, _ = h.Fields["title"].(string)
		hit.Authors, _ = h.Fields["authors"].(string)
		if len(h.Fragments) > 0 {
			hit.Highlights = make(map[string]string, len(h.Fragments))
			for field, frags := range h.Fragments {
				if len(frags) > 0 {
					hit.Highlights[field] = frags[0]
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// buildQuery matches q against every text field, weighting metadata above
// comments and body text.
func buildQuery(q string) query.Query {
	boosts := []struct {
		field string
		boost float64
	}{
		{"title", 3},
		{"authors", 2},
		{"series", 1.5},
		{"tags", 1.5},
		{"publisher", 1},
		{"comments", 1},
		{"content", 0.8},
	}
	qs := make([]query.Query, 0, len(boosts)+1)
	for _, b := range boosts {
		m := bleve.NewMatchQuery(q)
		m.SetField(b.field)
		m.SetBoost(b.boost)
		qs = append(qs, m)
	}

	// Typo tolerance on single-word title searches.
	if !strings.ContainsAny(q, " \t") {
		fz := bleve.NewFuzzyQuery(strings.ToLower(q))
		fz.SetFuzziness(1)
		fz.SetField("title")
		fz.SetBoost(0.5)
		qs = append(qs, fz)
	}
	return bleve.NewDisjunctionQuery(qs...)
}
