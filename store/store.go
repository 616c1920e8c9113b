// Package store persists catalog records keyed by their title.
package store

import (
	"context"
	"errors"

	"github.com/aluiziolira/book-catalog/models"
)

// ErrNotFound is returned when no record has the requested identity.
var ErrNotFound = errors.New("store: book not found")

// Store is the catalog persistence contract used by ingestion and queries.
type Store interface {
	Upsert(ctx context.Context, book *models.Book) (*models.Book, error)
	Find(ctx context.Context, filter Filter, sort Sort, offset, limit int) ([]models.Book, int, error)
	FindByID(ctx context.Context, id string) (*models.Book, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Close() error
}

// Filter is a conjunction of optional constraints. Zero values and nil
// pointers impose nothing.
type Filter struct {
	TitleContains string
	MinRating     *int
	MinPrice      *float64
	MaxPrice      *float64
	InStock       *bool
}

// IsEmpty reports whether the filter matches every record.
func (f Filter) IsEmpty() bool {
	return f.TitleContains == "" && f.MinRating == nil && f.MinPrice == nil && f.MaxPrice == nil && f.InStock == nil
}

// SortField names a sortable column.
type SortField string

const (
	SortTitle  SortField = "title"
	SortPrice  SortField = "price"
	SortRating SortField = "rating"
)

// Sort orders results. The store always breaks ties by id so that paging is
// stable.
type Sort struct {
	Field SortField
	Desc  bool
}

// ByTitle is the default catalog ordering.
var ByTitle = Sort{Field: SortTitle}
