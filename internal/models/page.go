package models

import "relaychat/backend/internal/config"

// Pagination is a 1-based page request.
type Pagination struct {
	Page  int `form:"page" json:"page"`
	Limit int `form:"limit" json:"limit"`
}

// Normalize clamps the request to sane bounds.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = config.DefaultPageLimit
	}
	if p.Limit > config.MaxPageLimit {
		p.Limit = config.MaxPageLimit
	}
	return p
}

// Offset is the number of rows to skip for this page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Page is one window of a larger result set.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// NewPage builds a Page from items, the total row count and the (normalized)
// request that produced them.
func NewPage[T any](items []T, total int64, p Pagination) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if p.Limit > 0 {
		totalPages = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: totalPages,
	}
}
