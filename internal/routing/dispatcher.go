package routing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"mailroute/internal/logger"
	"mailroute/internal/record"
	"mailroute/internal/stats"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/health"
	"mailroute/pkg/logging"
	"mailroute/pkg/metrics"
	"mailroute/pkg/tracing"
)

// Deliverer sends a record to a named queue and returns an opaque delivery id.
// Implementations own retries; the dispatcher calls Deliver once per record.
type Deliverer interface {
	Deliver(ctx context.Context, rec *record.Record, queue string, attrs map[string]interface{}) (string, error)
}

// QueueLister is optionally implemented by a Deliverer to report its queues.
type QueueLister interface {
	QueueNames() []string
}

type DispatcherConfig struct {
	DefaultQueue string
	// Workers > 1 processes batches concurrently, preserving result order.
	Workers int
}

type Dispatcher struct {
	rules        *RuleSet
	deliverer    Deliverer
	stats        *stats.Statistics
	health       *health.CheckerRegistry
	defaultQueue string
	workers      int
	logger       logger.Logger
	now          func() time.Time
}

// NewDispatcher wires the rule set to a deliverer. deliverer may be nil when
// only dry runs are performed. If deliverer implements stats.QueueProber its
// queues are part of the health check.
func NewDispatcher(rules *RuleSet, deliverer Deliverer, cfg DispatcherConfig, log logger.Logger, extraChecks ...health.Checker) *Dispatcher {
	if log == nil {
		log = logger.NopLogger()
	}
	defaultQueue := cfg.DefaultQueue
	if defaultQueue == "" {
		defaultQueue = DefaultQueueName
	}

	var prober stats.QueueProber
	if p, ok := deliverer.(stats.QueueProber); ok {
		prober = p
	}

	return &Dispatcher{
		rules:        rules,
		deliverer:    deliverer,
		stats:        stats.New(),
		health:       stats.NewHealthRegistry(rules, prober, extraChecks...),
		defaultQueue: defaultQueue,
		workers:      cfg.Workers,
		logger:       log,
		now:          time.Now,
	}
}

// DefaultQueueName is used when no default queue is configured.
const DefaultQueueName = "default"

func (d *Dispatcher) Rules() *RuleSet {
	return d.rules
}

func (d *Dispatcher) DefaultQueue() string {
	return d.defaultQueue
}

// Process routes one record. It always returns a result; failures are
// reported in the result, never returned or panicked.
func (d *Dispatcher) Process(ctx context.Context, rec *record.Record, dryRun bool, extra map[string]interface{}) (result ProcessingResult) {
	start := d.now()
	result = ProcessingResult{
		MatchedRules: []string{},
		Queue:        d.defaultQueue,
		DryRun:       dryRun,
	}

	ctx, span := tracing.GetTracer("routing").Start(ctx, "routing.process")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			result.fail(err, apperrors.ErrRecordProcessing.Code)
			d.logger.ErrorwCtx(ctx, "Record processing panicked", "error", err)
		}
		d.finish(ctx, start, &result)
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
		span.SetAttributes(
			attribute.String("routing.queue", result.Queue),
			attribute.Bool("routing.dry_run", dryRun),
			attribute.Int("routing.matches", len(result.MatchedRules)),
		)
	}()

	if rec == nil {
		result.fail(apperrors.ErrRecordProcessing.WithMessage("nil record"), apperrors.ErrRecordProcessing.Code)
		return result
	}

	result.RecordID = rec.ID()
	result.Subject = truncate(rec.Subject, subjectPreviewLen)
	ctx = logging.WithRecordID(ctx, rec.ID())

	matches := d.rules.Evaluate(ctx, rec, extra)
	for _, m := range matches {
		result.MatchedRules = append(result.MatchedRules, m.Name)
	}
	if len(matches) > 0 {
		result.Queue = matches[0].Action
	}

	if dryRun {
		result.Success = true
		return result
	}

	if d.deliverer == nil {
		result.fail(apperrors.ErrDelivery.WithMessage("no delivery capability configured"), apperrors.ErrDelivery.Code)
		return result
	}

	deliveryID, err := d.deliverer.Deliver(ctx, rec, result.Queue, extra)
	if err != nil {
		if !apperrors.IsDelivery(err) {
			err = apperrors.ErrDelivery.WithCause(err).WithDetail("queue", result.Queue)
		}
		result.fail(err, apperrors.ErrDelivery.Code)
		d.logger.ErrorwCtx(ctx, "Delivery failed", "queue", result.Queue, "error", err)
		return result
	}

	result.Success = true
	result.Delivered = true
	result.DeliveryID = deliveryID
	return result
}

func (d *Dispatcher) finish(ctx context.Context, start time.Time, result *ProcessingResult) {
	result.Elapsed = d.now().Sub(start)
	result.ElapsedMS = float64(result.Elapsed) / float64(time.Millisecond)

	d.stats.RecordOutcome(stats.Outcome{
		MatchedRules: result.MatchedRules,
		Queue:        result.Queue,
		Success:      result.Success,
		Delivered:    result.Delivered,
	})
	metrics.ObserveRecordProcessed(result.Elapsed, result.Success, result.DryRun)

	d.logger.DebugwCtx(ctx, "Record processed",
		"queue", result.Queue,
		"matched_rules", result.MatchedRules,
		"success", result.Success,
		"dry_run", result.DryRun,
		"elapsed_ms", result.ElapsedMS,
	)
}

// ProcessBatch returns exactly one result per record, in input order.
// Cancellation is checked before each record is started; records not started
// get a failed result carrying the context error.
func (d *Dispatcher) ProcessBatch(ctx context.Context, records []record.Record, dryRun bool) []ProcessingResult {
	results := make([]ProcessingResult, len(records))

	if d.workers <= 1 {
		for i := range records {
			if err := ctx.Err(); err != nil {
				results[i] = d.notStarted(&records[i], dryRun, err)
				continue
			}
			results[i] = d.Process(ctx, &records[i], dryRun, nil)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i := range records {
		if err := ctx.Err(); err != nil {
			results[i] = d.notStarted(&records[i], dryRun, err)
			continue
		}
		i := i
		g.Go(func() error {
			results[i] = d.Process(ctx, &records[i], dryRun, nil)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) notStarted(rec *record.Record, dryRun bool, cause error) ProcessingResult {
	result := ProcessingResult{
		RecordID:     rec.ID(),
		Subject:      truncate(rec.Subject, subjectPreviewLen),
		MatchedRules: []string{},
		Queue:        d.defaultQueue,
		DryRun:       dryRun,
	}
	result.fail(apperrors.ErrRecordProcessing.WithCause(cause).WithMessage("batch cancelled before record was processed"), apperrors.ErrRecordProcessing.Code)
	return result
}

// TestCondition evaluates condition against records without registering it.
func (d *Dispatcher) TestCondition(ctx context.Context, condition string, records []record.Record) (TestReport, error) {
	program, err := d.rules.evaluator.Compile(condition)
	if err != nil {
		return TestReport{}, apperrors.ErrRuleSyntax.WithCause(err).WithDetail("condition", condition)
	}

	report := TestReport{
		Condition:    condition,
		TotalRecords: len(records),
		MatchingIDs:  []string{},
		ErrorDetails: map[string]string{},
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec := &records[i]
		matched, err := program.Eval(ctx, d.rules.builder.Build(rec, nil))
		if err != nil {
			report.Errors++
			report.ErrorDetails[rec.ID()] = err.Error()
			continue
		}
		if matched {
			report.Matches++
			report.MatchingIDs = append(report.MatchingIDs, rec.ID())
		}
	}

	return report, nil
}

func (d *Dispatcher) Statistics() stats.Snapshot {
	snap := d.stats.Snapshot()
	snap.RulesCount = d.rules.Len()
	snap.EnabledRulesCount = d.rules.EnabledCount()
	if lister, ok := d.deliverer.(QueueLister); ok {
		snap.QueuesCount = len(lister.QueueNames())
	}
	return snap
}

func (d *Dispatcher) ResetStatistics() {
	d.stats.Reset()
	d.logger.Infow("Statistics reset")
}

func (d *Dispatcher) HealthCheck(ctx context.Context) health.Health {
	return d.health.Check(ctx)
}
