package delivery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"mailroute/internal/logger"
	"mailroute/internal/record"
	"mailroute/pkg/circuitbreaker"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/metrics"
	"mailroute/pkg/retry"
	"mailroute/pkg/tracing"
)

// Sender writes messages to one kind of backend.
type Sender interface {
	Send(ctx context.Context, q Queue, msg *Message) (string, error)
	Probe(ctx context.Context, q Queue) error
	Close() error
}

type RouterConfig struct {
	Retry          retry.Policy          `mapstructure:"retry"`
	CircuitBreaker circuitbreaker.Config `mapstructure:"circuit_breaker"`
	// ProbeTimeout bounds each queue probe.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Retry:          retry.DefaultPolicy(),
		CircuitBreaker: circuitbreaker.DefaultConfig(),
		ProbeTimeout:   5 * time.Second,
	}
}

// Router maps queue names to backends and delivers records to them with
// retries and a circuit breaker per queue.
type Router struct {
	mu       sync.RWMutex
	queues   map[string]Queue
	breakers map[string]*circuitbreaker.Breaker
	senders  map[Backend]Sender

	cfg    RouterConfig
	logger logger.Logger
	now    func() time.Time
}

func NewRouter(senders map[Backend]Sender, cfg RouterConfig, log logger.Logger) *Router {
	if log == nil {
		log = logger.NopLogger()
	}
	if senders == nil {
		senders = make(map[Backend]Sender)
	}
	return &Router{
		queues:   make(map[string]Queue),
		breakers: make(map[string]*circuitbreaker.Breaker),
		senders:  senders,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// AddQueue registers or replaces a queue.
func (r *Router) AddQueue(def QueueDefinition) error {
	q, err := def.ToQueue()
	if err != nil {
		return err
	}
	if _, ok := r.senders[q.Backend]; !ok {
		return apperrors.ErrConfiguration.
			WithMessage("queue %q uses backend %q which is not configured", q.Name, q.Backend).
			WithDetail("queue", q.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[q.Name] = q
	if r.cfg.CircuitBreaker.Enabled {
		r.breakers[q.Name] = circuitbreaker.New("queue:"+q.Name, r.cfg.CircuitBreaker, isCanceled)
	}
	r.logger.Infow("Queue registered", "queue", q.Name, "backend", q.Backend, "fifo", q.FIFO)
	return nil
}

// LoadQueues registers every valid definition. Invalid entries are skipped
// and reported; the count of registered queues is returned.
func (r *Router) LoadQueues(defs []QueueDefinition) (int, []error) {
	var errs []error
	loaded := 0
	for _, def := range defs {
		if err := r.AddQueue(def); err != nil {
			r.logger.Warnw("Skipping invalid queue definition", "queue", def.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	return loaded, errs
}

func (r *Router) RemoveQueue(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[name]; !ok {
		return false
	}
	delete(r.queues, name)
	delete(r.breakers, name)
	return true
}

func (r *Router) Queue(name string) (Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

// QueueNames returns the configured queue names in sorted order.
func (r *Router) QueueNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) Queues() []Queue {
	names := r.QueueNames()
	out := make([]Queue, 0, len(names))
	for _, name := range names {
		if q, ok := r.Queue(name); ok {
			out = append(out, q)
		}
	}
	return out
}

func (r *Router) lookup(name string) (Queue, Sender, *circuitbreaker.Breaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	if !ok {
		return Queue{}, nil, nil, apperrors.ErrDelivery.
			WithMessage("queue %q is not configured", name).
			WithDetail("queue", name).
			AsFatal()
	}
	return q, r.senders[q.Backend], r.breakers[name], nil
}

// Deliver sends rec to the named queue and returns the backend message id.
func (r *Router) Deliver(ctx context.Context, rec *record.Record, queue string, attrs map[string]interface{}) (string, error) {
	ctx, span := tracing.GetTracer("delivery").Start(ctx, "delivery.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("delivery.queue", queue))

	q, sender, breaker, err := r.lookup(queue)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("delivery.backend", string(q.Backend)))

	msg, err := BuildMessage(rec, q, attrs, r.now())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	start := time.Now()
	send := func() (interface{}, error) {
		var id string
		err := retry.Do(ctx, r.cfg.Retry, func() error {
			var sendErr error
			id, sendErr = sender.Send(ctx, q, msg)
			return sendErr
		}, func(attempt int, err error, nextDelay time.Duration) {
			metrics.RetryAttemptsTotal.WithLabelValues("delivery", q.Name).Inc()
			r.logger.WarnwCtx(ctx, "Retrying delivery",
				"queue", q.Name,
				"attempt", attempt,
				"next_delay", nextDelay,
				"error", err,
			)
		})
		return id, err
	}

	var result interface{}
	if breaker != nil {
		result, err = breaker.Execute(ctx, send)
	} else {
		result, err = send()
	}
	metrics.ObserveDelivery(q.Name, string(q.Backend), time.Since(start), err)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		appErr := apperrors.ErrDelivery.WithCause(err).
			WithDetail("queue", q.Name).
			WithDetail("backend", string(q.Backend))
		if errors.Is(err, circuitbreaker.ErrOpen) {
			appErr = appErr.WithMessage("circuit open for queue %q", q.Name)
		}
		return "", appErr
	}

	id, _ := result.(string)
	r.logger.InfowCtx(ctx, "Record delivered", "queue", q.Name, "backend", q.Backend, "delivery_id", id)
	return id, nil
}

// TestQueue probes a single queue.
func (r *Router) TestQueue(ctx context.Context, name string) error {
	q, sender, _, err := r.lookup(name)
	if err != nil {
		return err
	}
	if r.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		defer cancel()
	}
	if err := sender.Probe(ctx, q); err != nil {
		r.logger.WarnwCtx(ctx, "Queue probe failed", "queue", name, "error", err)
		return apperrors.ErrDelivery.WithCause(err).WithDetail("queue", name)
	}
	return nil
}

// ProbeQueues tests every queue concurrently. The returned map has one entry
// per queue; nil means the queue is reachable.
func (r *Router) ProbeQueues(ctx context.Context) (map[string]error, error) {
	names := r.QueueNames()
	errs := make([]error, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			errs[i] = r.TestQueue(gctx, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make(map[string]error, len(names))
	for i, name := range names {
		results[name] = errs[i]
	}
	return results, nil
}

func (r *Router) Close() error {
	var errs []error
	for backend, sender := range r.senders {
		if err := sender.Close(); err != nil {
			errs = append(errs, err)
			r.logger.Warnw("Failed to close sender", "backend", backend, "error", err)
		}
	}
	return errors.Join(errs...)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
