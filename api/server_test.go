package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/ingest"
	"github.com/aluiziolira/book-catalog/models"
	"github.com/aluiziolira/book-catalog/query"
	"github.com/aluiziolira/book-catalog/store"
)

type staticCrawler struct {
	books []*models.Book
}

func (c staticCrawler) Run(context.Context) (*models.CrawlResult, error) {
	return &models.CrawlResult{
		Books:      c.books,
		TotalCount: len(c.books),
		StopReason: models.StopEndOfSequence,
	}, nil
}

type testApp struct {
	handler http.Handler
	store   *store.SQLiteStore
	runner  *ingest.Runner
}

func setupApp(t *testing.T, seed int) *testApp {
	t.Helper()
	ctx := context.Background()
	cfg := config.DefaultConfig()

	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < seed; i++ {
		_, err := s.Upsert(ctx, &models.Book{
			Title:     fmt.Sprintf("Seed %02d", i),
			Price:     float64(10 + i),
			Stock:     i % 3,
			Rating:    i % 6,
			DetailURL: fmt.Sprintf("http://example.test/seed/%d", i),
		})
		require.NoError(t, err)
	}

	crawled := []*models.Book{{
		Title:     "Fresh Arrival",
		Price:     51.77,
		Stock:     22,
		Rating:    3,
		DetailURL: "http://example.test/fresh",
	}}
	runner := ingest.NewRunner(cfg, staticCrawler{books: crawled}, s)
	t.Cleanup(runner.Wait)

	srv := NewServer(ctx, query.NewEngine(s, cfg), runner, prometheus.NewRegistry())
	return &testApp{handler: srv.Routes(), store: s, runner: runner}
}

func (a *testApp) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func TestListBooks(t *testing.T) {
	app := setupApp(t, 25)

	rr := app.do(t, http.MethodGet, "/api/books?page=2&limit=10")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var res query.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, query.Pagination{Current: 2, Total: 3, Count: 10, TotalCount: 25}, res.Pagination)
	assert.Equal(t, "Seed 10", res.Items[0].Title)
}

func TestListBooksResponseShape(t *testing.T) {
	app := setupApp(t, 0)

	rr := app.do(t, http.MethodGet, "/api/books")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `"items":[]`)
	assert.Contains(t, body, `"totalCount":0`)
}

func TestListBooksInvalidQuery(t *testing.T) {
	app := setupApp(t, 1)

	for _, target := range []string{
		"/api/books?page=abc",
		"/api/books?rating=9",
		"/api/books?minPrice=20&maxPrice=5",
		"/api/books?inStock=maybe",
	} {
		rr := app.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)

		var payload jsonError
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
		assert.Equal(t, "invalid_query", payload.Error)
		assert.NotEmpty(t, payload.Details)
	}
}

func TestGetBook(t *testing.T) {
	app := setupApp(t, 0)
	stored, err := app.store.Upsert(context.Background(), &models.Book{
		Title:     "A Light in the Attic",
		Price:     51.77,
		Stock:     22,
		Rating:    3,
		DetailURL: "http://example.test/attic",
	})
	require.NoError(t, err)

	rr := app.do(t, http.MethodGet, "/api/books/"+stored.ID)
	require.Equal(t, http.StatusOK, rr.Code)

	var got models.Book
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "A Light in the Attic", got.Title)
	assert.Equal(t, models.InStock, got.Availability)

	rr = app.do(t, http.MethodGet, "/api/books/unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRefreshLifecycle(t *testing.T) {
	app := setupApp(t, 0)

	rr := app.do(t, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusAccepted, rr.Code)

	var task ingest.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &task))
	require.NotEmpty(t, task.ID)
	assert.Equal(t, "/api/refresh/"+task.ID, rr.Header().Get("Location"))

	app.runner.Wait()

	rr = app.do(t, http.MethodGet, "/api/refresh/"+task.ID)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &task))
	assert.Equal(t, ingest.StatusSucceeded, task.Status)
	assert.Equal(t, 1, task.Stored)

	rr = app.do(t, http.MethodGet, "/api/books?search=fresh")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Fresh Arrival")

	rr = app.do(t, http.MethodGet, "/api/refresh/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	app := setupApp(t, 0)

	rr := app.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)

	app.do(t, http.MethodGet, "/api/books")

	rr = app.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `catalog_http_requests_total{code="200",method="GET",route="/api/books"}`))
}

func TestUnknownRouteAndMethod(t *testing.T) {
	app := setupApp(t, 0)

	rr := app.do(t, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = app.do(t, http.MethodDelete, "/api/books")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
