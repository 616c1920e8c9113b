package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/book-catalog/models"
)

// Upserter is the write side of the catalog store.
type Upserter interface {
	Upsert(ctx context.Context, book *models.Book) (*models.Book, error)
}

// StoreWriter upserts each book independently. A failed upsert is logged and
// reported but never stops the rest of the batch.
type StoreWriter struct {
	store Upserter

	mu     sync.Mutex
	stored int
	failed int
}

// NewStoreWriter wraps store. The store's lifetime stays with the caller.
func NewStoreWriter(store Upserter) *StoreWriter {
	return &StoreWriter{store: store}
}

// Write upserts books in order and joins the per-record failures. Each
// stored book is replaced with the record the store returned, so writers
// after this one see the persisted id and timestamp.
func (sw *StoreWriter) Write(ctx context.Context, books []*models.Book) error {
	var errs []error
	for _, book := range books {
		stored, err := sw.store.Upsert(ctx, book)
		if err == nil && stored != nil {
			*book = *stored
		}
		sw.mu.Lock()
		if err != nil {
			sw.failed++
		} else {
			sw.stored++
		}
		sw.mu.Unlock()
		if err != nil {
			slog.Error("upsert failed", slog.String("title", book.Title), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; the store is closed by its owner.
func (sw *StoreWriter) Close() error {
	return nil
}

// Validate fails when any upsert failed.
func (sw *StoreWriter) Validate() error {
	stored, failed := sw.Stats()
	if failed > 0 {
		return fmt.Errorf("%d of %d upserts failed", failed, stored+failed)
	}
	return nil
}

// Stats returns the stored and failed record counts.
func (sw *StoreWriter) Stats() (stored, failed int) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.stored, sw.failed
}

// MultiWriter fans every batch out to several writers. A failing writer
// does not prevent the others from receiving the batch.
type MultiWriter struct {
	writers []OutputWriter
}

// NewMultiWriter combines writers; nil entries are ignored.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// NewDualWriter creates a writer producing both CSV and JSONL output.
func NewDualWriter(csvFilename, jsonFilename string) (*MultiWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("failed to create JSON writer: %w", err)
	}

	return NewMultiWriter(csvWriter, jsonWriter), nil
}

// Write forwards books to every writer.
func (mw *MultiWriter) Write(ctx context.Context, books []*models.Book) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Write(ctx, books); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate validates every writer.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	header := []string{"id", "title", "price", "stock", "availability", "rating", "detail_url", "image_url", "last_updated"}
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends books to the CSV output.
func (cw *CSVWriter) Write(_ context.Context, books []*models.Book) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, book := range books {
		record := []string{
			book.ID,
			book.Title,
			strconv.FormatFloat(book.Price, 'f', 2, 64),
			strconv.Itoa(book.Stock),
			string(book.Availability),
			strconv.Itoa(book.Rating),
			book.DetailURL,
			book.ImageURL,
			book.LastUpdated.Format(time.RFC3339),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends books in JSONL format.
func (jw *JSONWriter) Write(_ context.Context, books []*models.Book) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, book := range books {
		if err := jw.encoder.Encode(book); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

// NewExportWriter creates a file writer for format ("csv", "json", or
// "dual"). Dual output writes filename as CSV and a sibling .json file.
func NewExportWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "json":
		return NewJSONWriter(filename)
	case "csv":
		return NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
