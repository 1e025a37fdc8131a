// Package deduplication drops records that were already routed, keyed by a
// hash of selected record fields stored in Redis with a TTL.
package deduplication

import (
	"context"
	"fmt"
	"time"

	"mailroute/internal/constants"
	"mailroute/internal/logger"
	"mailroute/internal/record"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/metrics"
	"mailroute/pkg/tracing"
)

type Config struct {
	Enabled       bool     `mapstructure:"enabled"`
	HashAlgorithm string   `mapstructure:"hash_algorithm"`
	TTLSeconds    int      `mapstructure:"ttl_seconds"`
	OnRedisError  string   `mapstructure:"on_redis_error"`
	Fields        []string `mapstructure:"fields"`
}

// Guard answers whether a record has been seen within the TTL.
type Guard struct {
	repo   Repository
	hasher *Hasher
	fields []string
	ttl    time.Duration
	allow  bool
	logger logger.Logger
}

func NewGuard(repo Repository, cfg Config, log logger.Logger) (*Guard, error) {
	if log == nil {
		log = logger.NopLogger()
	}
	if cfg.TTLSeconds <= 0 {
		return nil, apperrors.ErrConfiguration.WithMessage("dedup ttl_seconds must be positive")
	}

	fields := cfg.Fields
	if len(fields) == 0 {
		fields = DefaultFields
		log.Infow("No dedup fields configured, using defaults", "fields", fields)
	}
	for _, f := range fields {
		if _, ok := knownFields[f]; !ok {
			return nil, apperrors.ErrConfiguration.WithMessage("unknown dedup field %q", f)
		}
	}

	switch cfg.OnRedisError {
	case "", constants.FallbackAllow, constants.FallbackDeny:
	default:
		return nil, apperrors.ErrConfiguration.WithMessage("on_redis_error must be allow or deny, got %q", cfg.OnRedisError)
	}

	return &Guard{
		repo:   repo,
		hasher: NewHasher(cfg.HashAlgorithm),
		fields: append([]string(nil), fields...),
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
		allow:  cfg.OnRedisError != constants.FallbackDeny,
		logger: log,
	}, nil
}

func (g *Guard) key(rec *record.Record) (string, error) {
	hash, err := g.hasher.ComputeHash(rec, g.fields)
	if err != nil {
		return "", fmt.Errorf("failed to compute hash for record %s: %w", rec.ID(), err)
	}
	return constants.CacheKeyPrefixDedup + hash, nil
}

// Seen marks rec and reports whether it was already marked. When Redis fails
// the record is let through under the allow policy; under deny a retryable
// error is returned.
func (g *Guard) Seen(ctx context.Context, rec *record.Record) (bool, error) {
	ctx, span := tracing.GetTracer("deduplication").Start(ctx, "deduplication.seen")
	defer span.End()

	key, err := g.key(rec)
	if err != nil {
		return false, err
	}

	start := time.Now()
	first, err := g.repo.SetNX(ctx, key, start.Unix(), g.ttl)
	if err != nil {
		metrics.ObserveDedupCheck("error", time.Since(start))
		if g.allow {
			metrics.FallbackUsageTotal.WithLabelValues("deduplication", "allow_on_error").Inc()
			g.logger.WarnwCtx(ctx, "Redis error during dedup check, allowing record", "error", err)
			return false, nil
		}
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "deny_on_error").Inc()
		return false, apperrors.ErrUnavailable.WithCause(err).AsRetryable()
	}

	status := "unique"
	if !first {
		status = "duplicate"
	}
	metrics.ObserveDedupCheck(status, time.Since(start))
	return !first, nil
}

// Release forgets rec so a later redelivery is routed again.
func (g *Guard) Release(ctx context.Context, rec *record.Record) error {
	key, err := g.key(rec)
	if err != nil {
		return err
	}
	return g.repo.Delete(ctx, key)
}
