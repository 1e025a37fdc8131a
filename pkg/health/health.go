package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "mailroute/pkg/errors"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worst returns the least healthy of the given statuses.
func Worst(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		if s.rank() > worst.rank() {
			worst = s
		}
	}
	return worst
}

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

// DetailChecker is implemented by checkers that report per-item details,
// for example one entry per probed queue.
type DetailChecker interface {
	Checker
	CheckDetails(ctx context.Context) (map[string]interface{}, error)
}

// DegradedError marks a check that partially failed.
type DegradedError struct {
	Err error
}

func (e *DegradedError) Error() string {
	return e.Err.Error()
}

func (e *DegradedError) Unwrap() error {
	return e.Err
}

func Degraded(format string, args ...interface{}) error {
	return &DegradedError{Err: fmt.Errorf(format, args...)}
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{
		checkers: make([]Checker, 0),
	}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

// Check runs every checker. It never fails: errors and panics become
// unhealthy results.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult, len(r.checkers))
	overall := StatusHealthy

	for _, checker := range r.checkers {
		result := runCheck(ctx, checker)
		results[checker.Name()] = result
		overall = Worst(overall, result.Status)
	}

	return Health{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

func runCheck(ctx context.Context, checker Checker) (result CheckResult) {
	result.Timestamp = time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = StatusUnhealthy
			result.Message = apperrors.RecoverPanic(rec).Error()
		}
	}()

	var err error
	if dc, ok := checker.(DetailChecker); ok {
		result.Details, err = dc.CheckDetails(ctx)
	} else {
		err = checker.Check(ctx)
	}

	var degraded *DegradedError
	switch {
	case err == nil:
		result.Status = StatusHealthy
	case errors.As(err, &degraded):
		result.Status = StatusDegraded
		result.Message = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

// CheckFunc adapts a function to Checker.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func NewCheckFunc(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Name() string {
	return c.name
}

func (c *CheckFunc) Check(ctx context.Context) error {
	return c.fn(ctx)
}

type PostgreSQLChecker struct {
	db *sql.DB
}

func NewPostgreSQLChecker(db *sql.DB) *PostgreSQLChecker {
	return &PostgreSQLChecker{db: db}
}

func (c *PostgreSQLChecker) Name() string {
	return "postgresql"
}

func (c *PostgreSQLChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}

type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
