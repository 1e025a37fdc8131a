package config_handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mailroute/internal/config"
	"mailroute/internal/delivery"
	"mailroute/internal/logger"
	"mailroute/internal/routing"
)

// TableLoader returns the current routing table from its source of truth.
type TableLoader func() (*config.RuleFile, error)

type QueueRegistry interface {
	LoadQueues(defs []delivery.QueueDefinition) (int, []error)
	RemoveQueue(name string) bool
	QueueNames() []string
}

// Reloader re-reads the routing table and swaps it in when its content has
// changed since the last load. An unchanged table is left alone so rules
// edited through the operator API survive periodic reloads.
type Reloader struct {
	load     TableLoader
	rules    *routing.RuleSet
	queues   QueueRegistry
	interval time.Duration
	logger   logger.Logger

	mu       sync.Mutex
	lastHash string
}

func NewReloader(load TableLoader, rules *routing.RuleSet, queues QueueRegistry, interval time.Duration, log logger.Logger) *Reloader {
	return &Reloader{
		load:     load,
		rules:    rules,
		queues:   queues,
		interval: interval,
		logger:   log,
	}
}

// MarkLoaded records table as the one currently applied.
func (r *Reloader) MarkLoaded(table *config.RuleFile) error {
	hash, err := tableHash(table)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lastHash = hash
	r.mu.Unlock()
	return nil
}

func (r *Reloader) ReloadRules(ctx context.Context) error {
	table, err := r.load()
	if err != nil {
		return fmt.Errorf("failed to load routing table: %w", err)
	}
	hash, err := tableHash(table)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if hash == r.lastHash {
		r.logger.DebugwCtx(ctx, "Routing table unchanged, skipping reload")
		return nil
	}

	if r.queues != nil && len(table.Queues) > 0 {
		r.syncQueues(ctx, table.Queues)
	}

	loaded, errs := r.rules.Replace(table.Rules)
	r.lastHash = hash
	r.logger.InfowCtx(ctx, "Successfully reloaded rules",
		"rules_count", loaded,
		"skipped", len(errs),
	)
	return nil
}

func (r *Reloader) syncQueues(ctx context.Context, defs []delivery.QueueDefinition) {
	keep := make(map[string]bool, len(defs))
	for _, def := range defs {
		keep[def.Name] = true
	}
	for _, name := range r.queues.QueueNames() {
		if !keep[name] {
			r.queues.RemoveQueue(name)
			r.logger.InfowCtx(ctx, "Queue removed", "queue", name)
		}
	}
	if _, errs := r.queues.LoadQueues(defs); len(errs) > 0 {
		r.logger.WarnwCtx(ctx, "Some queue definitions were skipped", "skipped", len(errs))
	}
}

// Start reloads on every tick until ctx is canceled. A non-positive interval
// disables periodic reloads.
func (r *Reloader) Start(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.ReloadRules(ctx); err != nil {
				r.logger.ErrorwCtx(ctx, "Failed to reload rules", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func tableHash(table *config.RuleFile) (string, error) {
	data, err := json.Marshal(table)
	if err != nil {
		return "", fmt.Errorf("failed to hash routing table: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
