package fts

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the mapping for book documents.
//
// Titles, series and long text use English stemming. Names and publishers
// use the simple analyzer so "Banks" does not match "bank". Tags are kept
// whole.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = en.AnalyzerName
	title.Store = true
	title.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("title", title)

	authors := bleve.NewTextFieldMapping()
	authors.Analyzer = simple.Name
	authors.Store = true
	authors.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("authors", authors)

	series := bleve.NewTextFieldMapping()
	series.Analyzer = en.AnalyzerName
	series.Store = true
	docMapping.AddFieldMappingsAt("series", series)

	publisher := bleve.NewTextFieldMapping()
	publisher.Analyzer = simple.Name
	publisher.Store = true
	docMapping.AddFieldMappingsAt("publisher", publisher)

	tags := bleve.NewTextFieldMapping()
	tags.Analyzer = keyword.Name
	tags.Store = true
	docMapping.AddFieldMappingsAt("tags", tags)

	// Large fields are searchable but not stored.
	comments := bleve.NewTextFieldMapping()
	comments.Analyzer = en.AnalyzerName
	comments.Store = false
	comments.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("comments", comments)

	content := bleve.NewTextFieldMapping()
	content.Analyzer = en.AnalyzerName
	content.Store = false
	docMapping.AddFieldMappingsAt("content", content)

	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}
