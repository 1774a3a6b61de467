package models

import "time"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page selects a window of results. Page is 1-based.
type Page struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// Normalize clamps the page to valid bounds using the given defaults.
func (p Page) Normalize(defaultSize, maxSize int) Page {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultSize
	}
	if p.PageSize > maxSize {
		p.PageSize = maxSize
	}
	return p
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// DocumentFilter selects documents for list-by-filter. Empty fields do not filter.
type DocumentFilter struct {
	LinkReference string     `json:"link_reference,omitempty"`
	SourceType    string     `json:"source_type,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	Page
}

// SearchRequest is a free-text query constrained by exact-match filters.
type SearchRequest struct {
	Query      string            `json:"query"`
	SourceType string            `json:"source_type,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Page
}

// DocumentPage is one page of index records.
type DocumentPage struct {
	Documents []*Document `json:"documents"`
	Total     int         `json:"total"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
}

// SearchHit is an index record with its relevance score.
type SearchHit struct {
	Document *Document `json:"document"`
	Score    float64   `json:"score"`
}

// SearchPage is one page of ranked search hits.
type SearchPage struct {
	Hits     []*SearchHit `json:"hits"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}
