package routing

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"mailroute/internal/logger"
	"mailroute/internal/record"
	"mailroute/pkg/cel"
	apperrors "mailroute/pkg/errors"
	"mailroute/pkg/logging"
	"mailroute/pkg/metrics"
	"mailroute/pkg/tracing"
)

type compiledRule struct {
	rule    Rule
	program *cel.Program
	seq     uint64
}

// snapshot is never modified once published.
type snapshot struct {
	all     []*compiledRule // insertion order
	ordered []*compiledRule // enabled only, priority desc then insertion
	byName  map[string]int  // index into all
}

func newSnapshot(all []*compiledRule) *snapshot {
	s := &snapshot{
		all:    all,
		byName: make(map[string]int, len(all)),
	}
	for i, cr := range all {
		s.byName[cr.rule.Name] = i
		if cr.rule.Enabled {
			s.ordered = append(s.ordered, cr)
		}
	}
	sort.SliceStable(s.ordered, func(i, j int) bool {
		if s.ordered[i].rule.Priority != s.ordered[j].rule.Priority {
			return s.ordered[i].rule.Priority > s.ordered[j].rule.Priority
		}
		return s.ordered[i].seq < s.ordered[j].seq
	})
	return s
}

// RuleSet holds compiled rules. Readers load the current snapshot without
// locking; mutators build a new snapshot under writeMu and publish it with a
// single pointer store.
type RuleSet struct {
	evaluator *cel.Evaluator
	builder   *ContextBuilder
	logger    logger.Logger

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
	nextSeq uint64
}

func NewRuleSet(evaluator *cel.Evaluator, builder *ContextBuilder, log logger.Logger) *RuleSet {
	if log == nil {
		log = logger.NopLogger()
	}
	rs := &RuleSet{
		evaluator: evaluator,
		builder:   builder,
		logger:    log,
	}
	rs.current.Store(newSnapshot(nil))
	return rs
}

func (rs *RuleSet) load() *snapshot {
	return rs.current.Load()
}

// publish must be called with writeMu held.
func (rs *RuleSet) publish(all []*compiledRule) {
	s := newSnapshot(all)
	rs.current.Store(s)
	metrics.SetActiveRules(len(s.ordered))
}

func (rs *RuleSet) compile(rule Rule) (*cel.Program, error) {
	program, err := rs.evaluator.Compile(rule.Condition)
	if err != nil {
		return nil, apperrors.ErrRuleSyntax.
			WithMessage("rule %q: condition does not compile", rule.Name).
			WithCause(err).
			WithDetail("rule", rule.Name).
			WithDetail("condition", rule.Condition)
	}
	return program, nil
}

// ValidateCondition compiles condition without registering anything.
func (rs *RuleSet) ValidateCondition(condition string) error {
	if _, err := rs.evaluator.Compile(condition); err != nil {
		return apperrors.ErrRuleSyntax.WithCause(err).WithDetail("condition", condition)
	}
	return nil
}

// Add registers rule. The name must be unused and the condition must compile.
func (rs *RuleSet) Add(rule Rule) error {
	program, err := rs.compile(rule)
	if err != nil {
		return err
	}

	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	cur := rs.load()
	if _, exists := cur.byName[rule.Name]; exists {
		return apperrors.ErrDuplicateRuleName.
			WithMessage("rule %q already exists", rule.Name).
			WithDetail("rule", rule.Name)
	}

	rule.Metadata = copyMetadata(rule.Metadata)
	all := make([]*compiledRule, len(cur.all), len(cur.all)+1)
	copy(all, cur.all)
	all = append(all, &compiledRule{rule: rule, program: program, seq: rs.nextSeq})
	rs.nextSeq++
	rs.publish(all)

	rs.logger.Infow("Rule added", "rule", rule.Name, "action", rule.Action, "priority", rule.Priority)
	return nil
}

func (rs *RuleSet) Remove(name string) bool {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	cur := rs.load()
	idx, ok := cur.byName[name]
	if !ok {
		return false
	}

	all := make([]*compiledRule, 0, len(cur.all)-1)
	all = append(all, cur.all[:idx]...)
	all = append(all, cur.all[idx+1:]...)
	rs.publish(all)

	rs.logger.Infow("Rule removed", "rule", name)
	return true
}

func (rs *RuleSet) Enable(name string) bool {
	return rs.setEnabled(name, true)
}

func (rs *RuleSet) Disable(name string) bool {
	return rs.setEnabled(name, false)
}

func (rs *RuleSet) setEnabled(name string, enabled bool) bool {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	cur := rs.load()
	idx, ok := cur.byName[name]
	if !ok {
		return false
	}

	all := make([]*compiledRule, len(cur.all))
	copy(all, cur.all)
	updated := *all[idx]
	updated.rule.Enabled = enabled
	all[idx] = &updated
	rs.publish(all)

	rs.logger.Infow("Rule state changed", "rule", name, "enabled", enabled)
	return true
}

func (rs *RuleSet) Clear() {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()
	rs.publish(nil)
}

// Replace compiles defs and swaps them in as the whole rule set. Entries that
// fail are skipped and returned; the rest are published together.
func (rs *RuleSet) Replace(defs []RuleDefinition) (int, []error) {
	compiled, errs := rs.compileDefinitions(defs)

	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()

	for _, cr := range compiled {
		cr.seq = rs.nextSeq
		rs.nextSeq++
	}
	rs.publish(compiled)
	return len(compiled), errs
}

// LoadRules adds defs to the existing set one by one, skipping malformed,
// uncompilable or duplicate entries.
func (rs *RuleSet) LoadRules(defs []RuleDefinition) (int, []error) {
	loaded := 0
	var errs []error
	for i, def := range defs {
		rule, err := def.ToRule()
		if err == nil {
			err = rs.Add(rule)
		}
		if err != nil {
			rs.logger.Warnw("Skipping rule definition", "index", i, "rule", def.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	return loaded, errs
}

func (rs *RuleSet) compileDefinitions(defs []RuleDefinition) ([]*compiledRule, []error) {
	seen := make(map[string]bool, len(defs))
	out := make([]*compiledRule, 0, len(defs))
	var errs []error

	for i, def := range defs {
		rule, err := def.ToRule()
		if err == nil && seen[rule.Name] {
			err = apperrors.ErrDuplicateRuleName.WithMessage("rule %q already exists", rule.Name).WithDetail("rule", rule.Name)
		}
		var program *cel.Program
		if err == nil {
			program, err = rs.compile(rule)
		}
		if err != nil {
			rs.logger.Warnw("Skipping rule definition", "index", i, "rule", def.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		seen[rule.Name] = true
		out = append(out, &compiledRule{rule: rule, program: program})
	}
	return out, errs
}

// ExportRules returns every rule in insertion order, in loadable form.
func (rs *RuleSet) ExportRules() []RuleDefinition {
	cur := rs.load()
	defs := make([]RuleDefinition, 0, len(cur.all))
	for _, cr := range cur.all {
		defs = append(defs, cr.rule.Definition())
	}
	return defs
}

func (rs *RuleSet) Rules() []Rule {
	cur := rs.load()
	rules := make([]Rule, 0, len(cur.all))
	for _, cr := range cur.all {
		rules = append(rules, cr.rule)
	}
	return rules
}

func (rs *RuleSet) Rule(name string) (Rule, bool) {
	cur := rs.load()
	idx, ok := cur.byName[name]
	if !ok {
		return Rule{}, false
	}
	return cur.all[idx].rule, true
}

func (rs *RuleSet) Len() int {
	return len(rs.load().all)
}

func (rs *RuleSet) EnabledCount() int {
	return len(rs.load().ordered)
}

// Evaluate returns every enabled rule whose condition holds for rec, highest
// priority first. A rule that fails at runtime is logged and skipped.
func (rs *RuleSet) Evaluate(ctx context.Context, rec *record.Record, extra map[string]interface{}) []Rule {
	ctx, span := tracing.GetTracer("routing").Start(ctx, "routing.evaluate")
	defer span.End()

	if logging.GetRecordID(ctx) == "" {
		ctx = logging.WithRecordID(ctx, rec.ID())
	}

	snap := rs.load()
	vars := rs.builder.Build(rec, extra)

	var matches []Rule
	for _, cr := range snap.ordered {
		matched, err := cr.program.Eval(ctx, vars)
		if err != nil {
			rs.handleEvaluationError(ctx, cr.rule, err)
			continue
		}
		if matched {
			metrics.IncRuleEvaluation(cr.rule.Name, "match")
			matches = append(matches, cr.rule)
		} else {
			metrics.IncRuleEvaluation(cr.rule.Name, "no_match")
		}
	}

	span.SetAttributes(
		attribute.Int("routing.rules_evaluated", len(snap.ordered)),
		attribute.Int("routing.rules_matched", len(matches)),
	)
	return matches
}

func (rs *RuleSet) handleEvaluationError(ctx context.Context, rule Rule, err error) {
	metrics.IncRuleEvaluation(rule.Name, "error")
	evalErr := apperrors.ErrRuleEvaluation.WithCause(err).WithDetail("rule", rule.Name)
	rs.logger.WarnwCtx(ctx, "Rule evaluation error", "rule", rule.Name, "error", evalErr)
}

// FirstMatchingAction returns the action of the highest priority match.
func (rs *RuleSet) FirstMatchingAction(ctx context.Context, rec *record.Record) (string, bool) {
	matches := rs.Evaluate(ctx, rec, nil)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].Action, true
}

func (rs *RuleSet) AllMatchingActions(ctx context.Context, rec *record.Record) []string {
	matches := rs.Evaluate(ctx, rec, nil)
	actions := make([]string, 0, len(matches))
	for _, r := range matches {
		actions = append(actions, r.Action)
	}
	return actions
}
