package pagination

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a clamped page request.
type Params struct {
	Page   int `json:"page"`
	Limit  int `json:"limit"`
	Offset int `json:"-"`
}

// Meta describes where a page sits in the full result set.
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// Page is one page of items with its metadata. Data is never null in JSON.
type Page[T any] struct {
	Data []T  `json:"data"`
	Meta *Meta `json:"meta"`
}

// GetParams reads ?page= and ?limit= from the request.
func GetParams(c *fiber.Ctx) *Params {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return New(page, limit)
}

// New clamps page and limit into range and derives the offset.
func New(page, limit int) *Params {
	switch {
	case limit < 1:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	if page < 1 {
		page = 1
	}
	return &Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// GetMeta computes page counts for total rows.
func GetMeta(params *Params, total int64) *Meta {
	pages := int((total + int64(params.Limit) - 1) / int64(params.Limit))
	return &Meta{
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    params.Page < pages,
		HasPrev:    params.Page > 1,
	}
}

// NewResponse wraps items as a page.
func NewResponse[T any](items []T, params *Params, total int64) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Data: items, Meta: GetMeta(params, total)}
}
