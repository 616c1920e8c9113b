// Package query turns list requests into store filters and paginated results.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/models"
	"github.com/aluiziolira/book-catalog/store"
)

// ErrInvalidCriteria marks a malformed list request.
var ErrInvalidCriteria = errors.New("query: invalid criteria")

// Reader is the read side of the catalog store.
type Reader interface {
	Find(ctx context.Context, filter store.Filter, sort store.Sort, offset, limit int) ([]models.Book, int, error)
	FindByID(ctx context.Context, id string) (*models.Book, error)
}

// Criteria describes one list request. Nil pointers and empty strings impose
// no constraint; zero Page and PageSize fall back to engine defaults.
type Criteria struct {
	Search    string
	MinRating *int
	MinPrice  *float64
	MaxPrice  *float64
	InStock   *bool
	Page      int
	PageSize  int
}

// Pagination describes where a result page sits in the full match set.
type Pagination struct {
	Current    int `json:"current"`
	Total      int `json:"total"`
	Count      int `json:"count"`
	TotalCount int `json:"totalCount"`
}

// Result is one page of matching books.
type Result struct {
	Items      []models.Book `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

// ParseCriteria reads list options from URL query values.
func ParseCriteria(values url.Values) (Criteria, error) {
	var c Criteria
	var err error

	if c.Page, err = optionalInt(values, "page"); err != nil {
		return Criteria{}, err
	}
	if c.PageSize, err = optionalInt(values, "limit"); err != nil {
		return Criteria{}, err
	}
	if c.Page < 0 || c.PageSize < 0 {
		return Criteria{}, fmt.Errorf("%w: page and limit cannot be negative", ErrInvalidCriteria)
	}

	c.Search = strings.TrimSpace(values.Get("search"))

	if raw := strings.TrimSpace(values.Get("rating")); raw != "" {
		rating, err := strconv.Atoi(raw)
		if err != nil || rating < 0 || rating > models.MaxRating {
			return Criteria{}, fmt.Errorf("%w: rating must be an integer in [0,%d]", ErrInvalidCriteria, models.MaxRating)
		}
		c.MinRating = &rating
	}

	if c.MinPrice, err = optionalPrice(values, "minPrice"); err != nil {
		return Criteria{}, err
	}
	if c.MaxPrice, err = optionalPrice(values, "maxPrice"); err != nil {
		return Criteria{}, err
	}
	if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
		return Criteria{}, fmt.Errorf("%w: minPrice exceeds maxPrice", ErrInvalidCriteria)
	}

	switch raw := strings.TrimSpace(values.Get("inStock")); raw {
	case "":
	case "true", "false":
		inStock := raw == "true"
		c.InStock = &inStock
	default:
		return Criteria{}, fmt.Errorf("%w: inStock must be true or false", ErrInvalidCriteria)
	}

	return c, nil
}

func optionalInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidCriteria, key)
	}
	return n, nil
}

func optionalPrice(values url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return nil, nil
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidCriteria, key)
	}
	return &price, nil
}

// Engine answers catalog list and lookup requests.
type Engine struct {
	reader          Reader
	defaultPageSize int
	maxPageSize     int
}

// NewEngine builds an engine using the page sizes from cfg.
func NewEngine(reader Reader, cfg *config.Config) *Engine {
	return &Engine{
		reader:          reader,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
}

// List returns the requested page of books ordered by title. Pages past the
// end of the match set are empty, not errors.
func (e *Engine) List(ctx context.Context, c Criteria) (*Result, error) {
	page := c.Page
	if page < 1 {
		page = 1
	}
	size := c.PageSize
	if size <= 0 {
		size = e.defaultPageSize
	}
	if size > e.maxPageSize {
		size = e.maxPageSize
	}

	filter := store.Filter{
		TitleContains: c.Search,
		MinRating:     c.MinRating,
		MinPrice:      c.MinPrice,
		MaxPrice:      c.MaxPrice,
		InStock:       c.InStock,
	}

	items, total, err := e.reader.Find(ctx, filter, store.ByTitle, (page-1)*size, size)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	if items == nil {
		items = []models.Book{}
	}

	return &Result{
		Items: items,
		Pagination: Pagination{
			Current:    page,
			Total:      totalPages(total, size),
			Count:      len(items),
			TotalCount: total,
		},
	}, nil
}

// Get returns one book by id. Unknown ids yield store.ErrNotFound.
func (e *Engine) Get(ctx context.Context, id string) (*models.Book, error) {
	return e.reader.FindByID(ctx, id)
}

func totalPages(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
