// Package pipeline validates, normalizes, and de-duplicates candidate
// records before handing them to output writers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/models"
	"github.com/aluiziolira/book-catalog/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for workers.
var drainTimeout = 2 * time.Minute

// OutputWriter receives prepared books in batches.
type OutputWriter interface {
	Write(ctx context.Context, books []*models.Book) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, de-duplication, and output writing.
// A failed batch write is recorded and processing continues; Close reports
// every recorded failure.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	bookCh    chan *models.Book
	batchSize int

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu        sync.Mutex // guards closed/writeErrs
	closed    bool
	writeErrs []error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		seen, _ = lru.New[string, struct{}](1)
	}
	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		bookCh:    make(chan *models.Book, cfg.PipelineBufferSize),
		batchSize: cfg.BatchSize,
		seen:      seen,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines. Use a single worker to keep writes in
// record order.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues books for downstream processing.
func (p *Pipeline) Process(books ...*models.Book) error {
	if len(books) == 0 {
		return nil
	}

	if p.isClosed() {
		return ErrPipelineClosed
	}

	for _, book := range books {
		if book == nil {
			continue
		}
		if err := p.enqueue(book); err != nil {
			return err
		}
	}
	return nil
}

// Close stops intake, waits for workers to drain, and returns the joined
// write errors.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.bookCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.signalShutdown()
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
	p.signalShutdown()
	return p.Err()
}

// Err returns every write failure recorded so far.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.writeErrs...)
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.metrics.snapshot()
				slog.Info("pipeline progress",
					slog.Int64("processed", m["processed_books"].(int64)),
					slog.Int64("write_failures", m["write_failures"].(int64)),
					slog.Any("validation_errors", m["validation_errors"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Book, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.writer.Write(p.ctx, batch); err != nil {
			p.recordWriteErr(fmt.Errorf("write batch: %w", err))
		}
		batch = batch[:0]
	}

	for book := range p.bookCh {
		prepared := p.prepare(book)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			flush()
		}
	}
	flush()
}

func (p *Pipeline) prepare(book *models.Book) *models.Book {
	if err := parser.ValidateBook(book); err != nil {
		p.metrics.addValidation("invalid_record")
		slog.Debug("dropping invalid record", slog.Any("error", err))
		return nil
	}
	book.Normalize()

	if ok, _ := p.seen.ContainsOrAdd(book.DetailURL, struct{}{}); ok {
		p.metrics.addValidation("duplicate_url")
		return nil
	}

	p.metrics.incrementProcessed()
	return book
}

func (p *Pipeline) enqueue(book *models.Book) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.bookCh <- book:
		return nil
	}
}

func (p *Pipeline) recordWriteErr(err error) {
	p.metrics.incrementWriteFailures()
	slog.Error("pipeline write failed", slog.Any("error", err))

	p.mu.Lock()
	p.writeErrs = append(p.writeErrs, err)
	p.mu.Unlock()
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu            sync.Mutex
	processed     int64
	writeFailures int64
	validation    map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) incrementWriteFailures() {
	m.mu.Lock()
	m.writeFailures++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_books":   m.processed,
		"write_failures":    m.writeFailures,
		"validation_errors": copyValidation,
	}
}
