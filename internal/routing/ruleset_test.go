package routing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroute/internal/record"
	apperrors "mailroute/pkg/errors"
)

func ruleNames(rules []Rule) []string {
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	return names
}

func TestRuleSet_WorkedExample(t *testing.T) {
	rs := newTestRuleSet(t)
	mustAdd(t, rs,
		Rule{Name: "support", Condition: `contains(subject,'help')`, Action: "support", Priority: 80, Enabled: true},
		Rule{Name: "urgent", Condition: `priority == 'urgent' or contains(subject,'URGENT')`, Action: "high_priority", Priority: 100, Enabled: true},
	)

	rec := record.Record{Subject: "URGENT: need help", Priority: record.PriorityUrgent}
	matches := rs.Evaluate(context.Background(), &rec, nil)

	assert.Equal(t, []string{"urgent", "support"}, ruleNames(matches))
	action, ok := rs.FirstMatchingAction(context.Background(), &rec)
	assert.True(t, ok)
	assert.Equal(t, "high_priority", action)
	assert.Equal(t, []string{"high_priority", "support"}, rs.AllMatchingActions(context.Background(), &rec))
}

func TestRuleSet_TiesKeepInsertionOrder(t *testing.T) {
	rs := newTestRuleSet(t)
	for _, name := range []string{"first", "second", "third"} {
		mustAdd(t, rs, Rule{Name: name, Condition: "true", Action: name, Priority: 10, Enabled: true})
	}
	mustAdd(t, rs, Rule{Name: "top", Condition: "true", Action: "top", Priority: 50, Enabled: true})

	rec := sampleRecord()
	assert.Equal(t, []string{"top", "first", "second", "third"}, ruleNames(rs.Evaluate(context.Background(), &rec, nil)))

	// Toggling keeps the original position among equals.
	require.True(t, rs.Disable("first"))
	require.True(t, rs.Enable("first"))
	assert.Equal(t, []string{"top", "first", "second", "third"}, ruleNames(rs.Evaluate(context.Background(), &rec, nil)))
}

func TestRuleSet_AddRejects(t *testing.T) {
	rs := newTestRuleSet(t)
	mustAdd(t, rs, Rule{Name: "a", Condition: "true", Action: "q", Enabled: false})

	err := rs.Add(Rule{Name: "a", Condition: "true", Action: "q2", Enabled: true})
	assert.True(t, apperrors.IsDuplicateRule(err))

	err = rs.Add(Rule{Name: "b", Condition: "subject ==", Action: "q"})
	require.Error(t, err)
	assert.True(t, apperrors.IsRuleSyntax(err))
	assert.Contains(t, err.Error(), "Syntax error")
	assert.Contains(t, err.Error(), `rule "b": condition does not compile`)

	err = rs.Add(Rule{Name: "c", Condition: "__import__('os')", Action: "q"})
	assert.True(t, apperrors.IsRuleSyntax(err))

	assert.Equal(t, 1, rs.Len())
	_, ok := rs.Rule("b")
	assert.False(t, ok)
}

func TestRuleSet_EnabledZeroValue(t *testing.T) {
	rs := newTestRuleSet(t)
	mustAdd(t, rs, Rule{Name: "literal", Condition: "true", Action: "q", Priority: 10})

	stored, ok := rs.Rule("literal")
	require.True(t, ok)
	assert.False(t, stored.Enabled)
	assert.Equal(t, 0, rs.EnabledCount())

	rec := sampleRecord()
	assert.Empty(t, rs.Evaluate(context.Background(), &rec, nil))

	fromDef, err := RuleDefinition{Name: "defined", Condition: "true", Action: "q"}.ToRule()
	require.NoError(t, err)
	assert.True(t, fromDef.Enabled)
	mustAdd(t, rs, fromDef)
	assert.Equal(t, []string{"defined"}, ruleNames(rs.Evaluate(context.Background(), &rec, nil)))
}

func TestRuleSet_MutationsByName(t *testing.T) {
	rs := newTestRuleSet(t)
	mustAdd(t, rs, Rule{Name: "a", Condition: "true", Action: "q", Enabled: true})

	assert.False(t, rs.Remove("missing"))
	assert.False(t, rs.Enable("missing"))
	assert.False(t, rs.Disable("missing"))

	rec := sampleRecord()
	before := rs.Evaluate(context.Background(), &rec, nil)
	require.True(t, rs.Disable("a"))
	assert.Empty(t, rs.Evaluate(context.Background(), &rec, nil))
	assert.Equal(t, []string{"a"}, ruleNames(before))
	assert.True(t, before[0].Enabled)
	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, 0, rs.EnabledCount())

	require.True(t, rs.Remove("a"))
	assert.Equal(t, 0, rs.Len())
	require.NoError(t, rs.Add(Rule{Name: "a", Condition: "false", Action: "q", Enabled: true}))
}

func TestRuleSet_EvaluationErrorIsNoMatch(t *testing.T) {
	rs := newTestRuleSet(t)
	mustAdd(t, rs,
		Rule{Name: "header", Condition: `headers['X-Team'] == 'ops'`, Action: "ops", Priority: 100, Enabled: true},
		Rule{Name: "fallback", Condition: "true", Action: "general", Priority: 1, Enabled: true},
	)

	rec := sampleRecord()
	var matches []Rule
	assert.NotPanics(t, func() { matches = rs.Evaluate(context.Background(), &rec, nil) })
	assert.Equal(t, []string{"fallback"}, ruleNames(matches))

	rec.Headers = map[string]string{"X-Team": "ops"}
	assert.Equal(t, []string{"header", "fallback"}, ruleNames(rs.Evaluate(context.Background(), &rec, nil)))
}

func TestRuleSet_LoadAndExport(t *testing.T) {
	rs := newTestRuleSet(t)
	disabled := false
	defs := []RuleDefinition{
		{Name: "urgent", Condition: `priority == 'urgent'`, Action: "high", Priority: 100, Metadata: map[string]string{"owner": "ops"}},
		{Name: "broken", Condition: `priority ==`, Action: "x"},
		{Name: "", Condition: "true", Action: "x"},
		{Name: "noaction", Condition: "true"},
		{Name: "urgent", Condition: "true", Action: "dup"},
		{Name: "quiet", Condition: "true", Action: "low", Enabled: &disabled},
	}

	loaded, errs := rs.LoadRules(defs)
	assert.Equal(t, 2, loaded)
	require.Len(t, errs, 4)
	assert.True(t, apperrors.IsRuleSyntax(errs[0]))
	assert.True(t, apperrors.IsConfiguration(errs[1]))
	assert.True(t, apperrors.IsConfiguration(errs[2]))
	assert.True(t, apperrors.IsDuplicateRule(errs[3]))

	exported := rs.ExportRules()
	require.Len(t, exported, 2)
	assert.Equal(t, "urgent", exported[0].Name)
	assert.True(t, *exported[0].Enabled)
	assert.Equal(t, "ops", exported[0].Metadata["owner"])
	assert.False(t, *exported[1].Enabled)

	other := newTestRuleSet(t)
	n, errs := other.LoadRules(exported)
	assert.Equal(t, 2, n)
	assert.Empty(t, errs)
	assert.Equal(t, rs.Rules(), other.Rules())
}

func TestRuleSet_Replace(t *testing.T) {
	rs := newTestRuleSet(t)
	mustAdd(t, rs, Rule{Name: "old", Condition: "true", Action: "old", Enabled: true})

	n, errs := rs.Replace([]RuleDefinition{
		{Name: "new", Condition: "true", Action: "new"},
		{Name: "new", Condition: "true", Action: "again"},
		{Name: "bad", Condition: "1 +", Action: "x"},
	})
	assert.Equal(t, 1, n)
	assert.Len(t, errs, 2)
	assert.Equal(t, []string{"new"}, ruleNames(rs.Rules()))
}

func TestRuleSet_Clear(t *testing.T) {
	rs := newTestRuleSet(t)
	mustAdd(t, rs, Rule{Name: "a", Condition: "true", Action: "q", Enabled: true})
	rs.Clear()
	assert.Zero(t, rs.Len())
}

func TestRuleSet_ConcurrentMutationAndEvaluation(t *testing.T) {
	rs := newTestRuleSet(t)
	mustAdd(t, rs, Rule{Name: "base", Condition: "true", Action: "base", Priority: 1000, Enabled: true})

	rec := sampleRecord()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				name := fmt.Sprintf("r-%d-%d", w, i)
				_ = rs.Add(Rule{Name: name, Condition: "has_keyword('help')", Action: name, Priority: i, Enabled: true})
				rs.Disable(name)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				matches := rs.Evaluate(context.Background(), &rec, nil)
				if assert.NotEmpty(t, matches) {
					assert.Equal(t, "base", matches[0].Name)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 201, rs.Len())
	assert.Equal(t, 1, rs.EnabledCount())
}

func TestRuleSet_ValidateCondition(t *testing.T) {
	rs := newTestRuleSet(t)
	assert.NoError(t, rs.ValidateCondition(`is_business_hours and not is_weekend`))
	assert.True(t, apperrors.IsRuleSyntax(rs.ValidateCondition(`is_business_hours +`)))
	assert.Zero(t, rs.Len())
}
