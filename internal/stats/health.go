package stats

import (
	"context"
	"fmt"

	"mailroute/pkg/health"
)

const (
	ComponentRuleEngine = "rule_engine"
	ComponentDelivery   = "delivery"
)

// QueueProber probes every configured queue. The map holds one entry per
// queue, nil meaning reachable. A non-nil error means probing itself failed.
type QueueProber interface {
	ProbeQueues(ctx context.Context) (map[string]error, error)
}

// RuleCounter reports the rule engine's size.
type RuleCounter interface {
	Len() int
	EnabledCount() int
}

type ruleEngineChecker struct {
	rules RuleCounter
}

func (c *ruleEngineChecker) Name() string { return ComponentRuleEngine }

func (c *ruleEngineChecker) Check(ctx context.Context) error {
	_, err := c.CheckDetails(ctx)
	return err
}

// An in-memory rule set has no failure mode of its own.
func (c *ruleEngineChecker) CheckDetails(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"rules_count":         c.rules.Len(),
		"enabled_rules_count": c.rules.EnabledCount(),
	}, nil
}

type deliveryChecker struct {
	prober QueueProber
}

func (c *deliveryChecker) Name() string { return ComponentDelivery }

func (c *deliveryChecker) Check(ctx context.Context) error {
	_, err := c.CheckDetails(ctx)
	return err
}

func (c *deliveryChecker) CheckDetails(ctx context.Context) (map[string]interface{}, error) {
	results, err := c.prober.ProbeQueues(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue probe failed: %w", err)
	}

	details := make(map[string]interface{}, len(results))
	ok := 0
	for name, probeErr := range results {
		if probeErr != nil {
			details[name] = probeErr.Error()
			continue
		}
		details[name] = "ok"
		ok++
	}

	switch {
	case len(results) == 0, ok == len(results):
		return details, nil
	case ok == 0:
		return details, fmt.Errorf("no queue reachable (0/%d)", len(results))
	default:
		return details, health.Degraded("%d/%d queues reachable", ok, len(results))
	}
}

// NewHealthRegistry wires the rule engine and, when prober is non-nil, the
// delivery subsystem into a checker registry.
func NewHealthRegistry(rules RuleCounter, prober QueueProber, extra ...health.Checker) *health.CheckerRegistry {
	reg := health.NewCheckerRegistry()
	reg.Register(&ruleEngineChecker{rules: rules})
	if prober != nil {
		reg.Register(&deliveryChecker{prober: prober})
	}
	for _, c := range extra {
		reg.Register(c)
	}
	return reg
}
