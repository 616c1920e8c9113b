package query

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/models"
	"github.com/aluiziolira/book-catalog/store"
)

func ptr[T any](v T) *T { return &v }

func TestParseCriteria(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    Criteria
		wantErr bool
	}{
		{name: "empty", query: "", want: Criteria{}},
		{
			name:  "all options",
			query: "page=2&limit=10&search=light&rating=3&minPrice=5.5&maxPrice=20&inStock=true",
			want: Criteria{
				Search:    "light",
				MinRating: ptr(3),
				MinPrice:  ptr(5.5),
				MaxPrice:  ptr(20.0),
				InStock:   ptr(true),
				Page:      2,
				PageSize:  10,
			},
		},
		{name: "in stock false", query: "inStock=false", want: Criteria{InStock: ptr(false)}},
		{name: "non numeric page", query: "page=two", wantErr: true},
		{name: "negative limit", query: "limit=-1", wantErr: true},
		{name: "rating above range", query: "rating=6", wantErr: true},
		{name: "negative price", query: "minPrice=-1", wantErr: true},
		{name: "min above max", query: "minPrice=30&maxPrice=10", wantErr: true},
		{name: "bad bool", query: "inStock=yes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := ParseCriteria(values)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidCriteria))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newSeededEngine(t *testing.T, n int) *Engine {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < n; i++ {
		_, err := s.Upsert(ctx, &models.Book{
			Title:     fmt.Sprintf("Book %03d", i),
			Price:     float64(i),
			Stock:     i % 2,
			Rating:    i % 6,
			DetailURL: fmt.Sprintf("http://example.test/book/%d", i),
		})
		require.NoError(t, err)
	}

	return NewEngine(s, config.DefaultConfig())
}

func TestEngineListPagination(t *testing.T) {
	engine := newSeededEngine(t, 45)
	ctx := context.Background()

	first, err := engine.List(ctx, Criteria{})
	require.NoError(t, err)
	assert.Equal(t, Pagination{Current: 1, Total: 3, Count: 20, TotalCount: 45}, first.Pagination)
	assert.Equal(t, "Book 000", first.Items[0].Title)

	last, err := engine.List(ctx, Criteria{Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, last.Pagination.Count)
	assert.Equal(t, "Book 040", last.Items[0].Title)

	beyond, err := engine.List(ctx, Criteria{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.NotNil(t, beyond.Items)
	assert.Equal(t, Pagination{Current: 9, Total: 3, Count: 0, TotalCount: 45}, beyond.Pagination)
}

func TestEngineListClampsPageSize(t *testing.T) {
	engine := newSeededEngine(t, 120)

	res, err := engine.List(context.Background(), Criteria{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Pagination.Count)
	assert.Equal(t, 2, res.Pagination.Total)
}

func TestEngineListFilters(t *testing.T) {
	engine := newSeededEngine(t, 30)

	res, err := engine.List(context.Background(), Criteria{
		MinPrice: ptr(10.0),
		MaxPrice: ptr(19.0),
		InStock:  ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Pagination.TotalCount)
	for _, b := range res.Items {
		assert.GreaterOrEqual(t, b.Price, 10.0)
		assert.LessOrEqual(t, b.Price, 19.0)
		assert.Equal(t, models.InStock, b.Availability)
	}

	res, err = engine.List(context.Background(), Criteria{Search: "BOOK 02"})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Pagination.TotalCount)
}

func TestEngineGet(t *testing.T) {
	engine := newSeededEngine(t, 1)
	ctx := context.Background()

	res, err := engine.List(ctx, Criteria{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	got, err := engine.Get(ctx, res.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Book 000", got.Title)

	_, err = engine.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type failingReader struct{}

func (failingReader) Find(context.Context, store.Filter, store.Sort, int, int) ([]models.Book, int, error) {
	return nil, 0, errors.New("database is locked")
}

func (failingReader) FindByID(context.Context, string) (*models.Book, error) {
	return nil, errors.New("database is locked")
}

func TestEngineListPropagatesStoreErrors(t *testing.T) {
	engine := NewEngine(failingReader{}, config.DefaultConfig())
	_, err := engine.List(context.Background(), Criteria{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidCriteria))
}
