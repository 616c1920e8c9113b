// Package ingest runs crawl-and-persist jobs and tracks them as tasks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/book-catalog/config"
	"github.com/aluiziolira/book-catalog/models"
	"github.com/aluiziolira/book-catalog/pipeline"
)

// ErrTaskNotFound is returned for unknown or expired task ids.
var ErrTaskNotFound = errors.New("ingest: task not found")

// taskHistory bounds how many finished tasks stay queryable.
const taskHistory = 128

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Task is a snapshot of one ingestion run.
type Task struct {
	ID         string            `json:"id"`
	Status     Status            `json:"status"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	Crawled    int               `json:"crawled"`
	Stored     int               `json:"stored"`
	Failed     int               `json:"failed"`
	StopReason models.StopReason `json:"stopReason,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Done reports whether the task has finished.
func (t Task) Done() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// Crawler produces the candidate records for one run.
type Crawler interface {
	Run(ctx context.Context) (*models.CrawlResult, error)
}

// Report is everything one run produced.
type Report struct {
	Task     Task
	Crawl    *models.CrawlResult
	Pipeline map[string]interface{}
}

// Runner executes at most one ingestion run at a time.
type Runner struct {
	cfg     *config.Config
	crawler Crawler
	store   pipeline.Upserter
	now     func() time.Time

	mu     sync.Mutex // guards tasks/active
	tasks  *lru.Cache[string, *Task]
	active string

	wg sync.WaitGroup
}

// NewRunner wires a crawler to the store. Export files are written alongside
// the store when cfg.ExportFormat is set.
func NewRunner(cfg *config.Config, crawler Crawler, store pipeline.Upserter) *Runner {
	tasks, _ := lru.New[string, *Task](taskHistory)
	return &Runner{
		cfg:     cfg,
		crawler: crawler,
		store:   store,
		now:     time.Now,
		tasks:   tasks,
	}
}

// Trigger starts a run in the background and returns its task immediately.
// When a run is already in flight, that task is returned with false. ctx
// bounds the run, so pass a long-lived context rather than a request one.
func (r *Runner) Trigger(ctx context.Context) (Task, bool) {
	r.mu.Lock()
	if r.active != "" {
		if current, ok := r.tasks.Get(r.active); ok {
			snapshot := *current
			r.mu.Unlock()
			return snapshot, false
		}
	}
	task := r.newTaskLocked()
	snapshot := *task
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.execute(ctx, task.ID); err != nil {
			slog.Error("ingestion run failed", slog.String("task_id", task.ID), slog.Any("error", err))
		}
	}()
	return snapshot, true
}

// RunSync executes a run inline. It fails with the in-flight task's id when
// another run is active.
func (r *Runner) RunSync(ctx context.Context) (*Report, error) {
	r.mu.Lock()
	if r.active != "" {
		active := r.active
		r.mu.Unlock()
		return nil, fmt.Errorf("ingestion already running: task %s", active)
	}
	task := r.newTaskLocked()
	r.mu.Unlock()

	return r.execute(ctx, task.ID)
}

// Get returns a snapshot of the task with the given id.
func (r *Runner) Get(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks.Get(id)
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return *task, nil
}

// Wait blocks until background runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) newTaskLocked() *Task {
	task := &Task{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		StartedAt: r.now(),
	}
	r.tasks.Add(task.ID, task)
	r.active = task.ID
	return task
}

func (r *Runner) execute(ctx context.Context, id string) (*Report, error) {
	r.update(id, func(t *Task) { t.Status = StatusRunning })
	slog.Info("ingestion started", slog.String("task_id", id))

	report := &Report{}
	runErr := r.run(ctx, report)

	r.mu.Lock()
	if task, ok := r.tasks.Peek(id); ok {
		finished := r.now()
		task.FinishedAt = &finished
		if report.Crawl != nil {
			task.Crawled = report.Crawl.TotalCount
			task.StopReason = report.Crawl.StopReason
		}
		if stored, ok := report.Pipeline["stored"].(int); ok {
			task.Stored = stored
		}
		if failed, ok := report.Pipeline["failed"].(int); ok {
			task.Failed = failed
		}
		if runErr != nil {
			task.Status = StatusFailed
			task.Error = runErr.Error()
		} else {
			task.Status = StatusSucceeded
		}
		report.Task = *task
	}
	if r.active == id {
		r.active = ""
	}
	r.mu.Unlock()

	slog.Info("ingestion finished",
		slog.String("task_id", id),
		slog.String("status", string(report.Task.Status)),
		slog.Int("crawled", report.Task.Crawled),
		slog.Int("stored", report.Task.Stored),
		slog.Int("failed", report.Task.Failed),
	)
	return report, runErr
}

func (r *Runner) run(ctx context.Context, report *Report) error {
	// Open the export before fetching anything; a crawl whose results
	// cannot all be written is not started.
	storeWriter := pipeline.NewStoreWriter(r.store)
	var writer pipeline.OutputWriter = storeWriter
	if r.cfg.ExportFormat != "" {
		export, err := pipeline.NewExportWriter(r.cfg.ExportFormat, r.cfg.ExportFile)
		if err != nil {
			return fmt.Errorf("create export writer: %w", err)
		}
		writer = pipeline.NewMultiWriter(storeWriter, export)
	}

	result, crawlErr := r.crawler.Run(ctx)
	report.Crawl = result

	// Persist whatever was gathered even when the crawl was cancelled.
	persistCtx := context.WithoutCancel(ctx)

	p := pipeline.NewPipeline(persistCtx, writer, r.cfg)
	p.Start(1)
	if r.cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	var errs []error
	if crawlErr != nil {
		errs = append(errs, crawlErr)
	}
	if result != nil {
		if err := p.Process(result.Books...); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.Close(); err != nil {
		errs = append(errs, fmt.Errorf("persist: %w", err))
	}
	if result != nil && len(result.Books) > 0 {
		if err := writer.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("validate output: %w", err))
		}
	}
	if err := writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}

	stored, failed := storeWriter.Stats()
	report.Pipeline = p.GetMetrics()
	report.Pipeline["stored"] = stored
	report.Pipeline["failed"] = failed

	return errors.Join(errs...)
}

func (r *Runner) update(id string, fn func(*Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks.Peek(id); ok {
		fn(task)
	}
}
