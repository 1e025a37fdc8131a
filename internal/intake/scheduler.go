package intake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mailroute/internal/logger"
	"mailroute/internal/record"
	"mailroute/internal/routing"
)

// Source yields the next batch of records to route.
type Source interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]record.Record, error)
}

type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []record.Record, dryRun bool) []routing.ProcessingResult
}

type ScheduleOptions struct {
	Spec      string
	BatchSize int
	DryRun    bool
}

// Scheduler polls a Source on a cron schedule and routes what it returns.
// Overlapping runs are skipped.
type Scheduler struct {
	cron      *cron.Cron
	source    Source
	processor BatchProcessor
	opts      ScheduleOptions
	logger    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lastRun RunSummary
}

type RunSummary struct {
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	Fetched    int       `json:"fetched"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

func NewScheduler(source Source, processor BatchProcessor, opts ScheduleOptions, log logger.Logger) (*Scheduler, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log}),
		cron.SkipIfStillRunning(cronLogger{log}),
	))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:      c,
		source:    source,
		processor: processor,
		opts:      opts,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
	}

	if _, err := c.AddFunc(opts.Spec, func() { s.RunOnce(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Infow("Starting intake scheduler", "source", s.source.Name(), "spec", s.opts.Spec)
	s.cron.Start()
}

// Stop halts the schedule, cancels an in-flight run and waits for it to end
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fetches one batch and routes it.
func (s *Scheduler) RunOnce(ctx context.Context) RunSummary {
	summary := RunSummary{Source: s.source.Name(), StartedAt: time.Now()}
	defer func() {
		s.mu.Lock()
		s.lastRun = summary
		s.mu.Unlock()
	}()

	records, err := s.source.Fetch(ctx, s.opts.BatchSize)
	if err != nil {
		summary.Error = err.Error()
		s.logger.ErrorwCtx(ctx, "Scheduled intake fetch failed", "source", summary.Source, "error", err)
		return summary
	}
	summary.Fetched = len(records)
	if len(records) == 0 {
		return summary
	}

	for _, res := range s.processor.ProcessBatch(ctx, records, s.opts.DryRun) {
		if res.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	s.logger.InfowCtx(ctx, "Scheduled intake run complete",
		"source", summary.Source,
		"fetched", summary.Fetched,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"dry_run", s.opts.DryRun,
	)
	return summary
}

func (s *Scheduler) LastRun() RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
