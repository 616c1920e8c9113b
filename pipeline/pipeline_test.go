package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Book
	closed      bool
	validateErr error
	failEvery   int
	writes      int
}

func (mw *mockWriter) Write(_ context.Context, books []*models.Book) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.writes++
	if mw.failEvery > 0 && mw.writes%mw.failEvery == 0 {
		return errors.New("disk full")
	}
	copyBatch := make([]*models.Book, len(books))
	copy(copyBatch, books)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(_ context.Context, books []*models.Book) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

func newBook(i int) *models.Book {
	return &models.Book{
		Title:        "Book " + strconv.Itoa(i),
		Price:        12,
		Stock:        3,
		Availability: models.InStock,
		Rating:       3,
		DetailURL:    "http://example.test/book/" + strconv.Itoa(i),
		LastUpdated:  time.Now(),
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	valid := &models.Book{
		Title:        "Clean Architecture",
		Price:        10,
		Stock:        0,
		Availability: models.InStock,
		Rating:       2,
		DetailURL:    "http://example.test/book/1",
		LastUpdated:  time.Now(),
	}
	invalid := &models.Book{
		Title:     "",
		Price:     12,
		Rating:    3,
		DetailURL: "http://example.test/book/2",
	}
	duplicate := &models.Book{
		Title:     "Clean Architecture",
		Price:     10,
		Rating:    2,
		DetailURL: "http://example.test/book/1",
	}

	if err := p.Process(valid, invalid, duplicate); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written books = %d, want 1", got)
	}
	if valid.Availability != models.OutOfStock {
		t.Fatalf("availability should follow stock, got %q", valid.Availability)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] == 0 {
		t.Fatalf("expected invalid_record validation error")
	}
	if validation["duplicate_url"] == 0 {
		t.Fatalf("expected duplicate_url validation error")
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 65; i++ {
		if err := p.Process(newBook(i)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineKeepsRecordOrderWithOneWorker(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 7
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 30; i++ {
		if err := p.Process(newBook(i)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	next := 0
	for _, batch := range writer.batches {
		for _, book := range batch {
			if book.Title != "Book "+strconv.Itoa(next) {
				t.Fatalf("got %q at position %d", book.Title, next)
			}
			next++
		}
	}
	if next != 30 {
		t.Fatalf("written = %d, want 30", next)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(newBook(i + 200)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written books = %d, want 100", got)
	}
}

func TestPipelineContinuesAfterWriteFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1
	writer := &mockWriter{failEvery: 2}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 4; i++ {
		if err := p.Process(newBook(i)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	err := p.Close()
	if err == nil {
		t.Fatalf("expected joined write errors")
	}
	if got := writer.totalWritten(); got != 2 {
		t.Fatalf("written books = %d, want 2", got)
	}
	if failures := p.GetMetrics()["write_failures"].(int64); failures != 2 {
		t.Fatalf("write failures = %d, want 2", failures)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	cfg := config.DefaultConfig()
	p := NewPipeline(context.Background(), &mockWriter{}, cfg)
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Process(newBook(1)); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Process(newBook(1)); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
