package main

import (
	"context"
	"fmt"

	"mailroute/internal/config"
	"mailroute/internal/delivery"
	"mailroute/internal/logger"
	"mailroute/internal/routing"
	"mailroute/pkg/cel"
	"mailroute/pkg/health"
)

// engine is the routing core shared by every command: the loaded routing
// table, the compiled rule set and a dispatcher over it.
type engine struct {
	table      *config.RuleFile
	rules      *routing.RuleSet
	router     *delivery.Router
	dispatcher *routing.Dispatcher
	loadErrors []error
}

type engineOptions struct {
	// connect opens delivery backends. Without it only dry runs are possible.
	connect     bool
	extraChecks []health.Checker
}

func newEngine(ctx context.Context, cfg *config.Config, log logger.Logger, opts engineOptions) (*engine, error) {
	table, err := cfg.Routing.RoutingTable()
	if err != nil {
		return nil, fmt.Errorf("failed to load routing table: %w", err)
	}

	loc, err := cfg.Routing.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid routing timezone %q: %w", cfg.Routing.Timezone, err)
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	rules := routing.NewRuleSet(evaluator, routing.NewContextBuilder(loc, cfg.Routing.InternalDomains), log)
	loaded, loadErrs := rules.LoadRules(table.Rules)
	log.Infow("Routing rules loaded", "loaded", loaded, "skipped", len(loadErrs))

	e := &engine{
		table:      table,
		rules:      rules,
		loadErrors: loadErrs,
	}

	var deliverer routing.Deliverer
	if opts.connect {
		router, queueErrs := delivery.NewRouterFromConfig(ctx, cfg.Delivery, table.Queues, log)
		e.router = router
		e.loadErrors = append(e.loadErrors, queueErrs...)
		deliverer = router
	}

	defaultQueue := table.DefaultQueue
	if defaultQueue == "" {
		defaultQueue = cfg.Routing.DefaultQueue
	}
	e.dispatcher = routing.NewDispatcher(rules, deliverer, routing.DispatcherConfig{
		DefaultQueue: defaultQueue,
		Workers:      cfg.Routing.Workers,
	}, log, opts.extraChecks...)

	return e, nil
}

func (e *engine) Close() error {
	if e.router == nil {
		return nil
	}
	return e.router.Close()
}
