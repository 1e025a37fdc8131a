// Package cel hosts the condition language used by routing rules: CEL over a
// fixed email attribute schema plus a small set of allow-listed predicates.
package cel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common"
	"github.com/google/cel-go/ext"
)

// DefaultCostLimit bounds the work a single condition may do per evaluation.
const DefaultCostLimit uint64 = 100000

type Evaluator struct {
	env       *cel.Env
	costLimit uint64
}

// Program is a compiled, type-checked boolean condition.
type Program struct {
	source string
	prg    cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	opts := variables()
	opts = append(opts, predicateFunctions()...)
	opts = append(opts, macros(), ext.Strings())

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env, costLimit: DefaultCostLimit}, nil
}

// Validate checks that expression compiles and yields a bool.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.check(expression)
	return err
}

func (e *Evaluator) check(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(Normalize(expression))
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", sourceIssues(expression, issues))
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition must return bool, got %v", ast.OutputType())
	}

	return ast, nil
}

// sourceIssues renders compiler issues against the condition as written, not
// its normalized form.
func sourceIssues(expression string, issues *cel.Issues) error {
	src := common.NewTextSource(expression)
	lines := make([]string, 0, len(issues.Errors()))
	for _, issue := range issues.Errors() {
		lines = append(lines, issue.ToDisplayString(src))
	}
	return errors.New(strings.Join(lines, "\n"))
}

func (e *Evaluator) Compile(expression string) (*Program, error) {
	ast, err := e.check(expression)
	if err != nil {
		return nil, err
	}

	prg, err := e.env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Program{source: expression, prg: prg}, nil
}

// Eval runs the program against vars. Missing map keys and type mismatches
// surface as errors, never panics.
func (p *Program) Eval(ctx context.Context, vars map[string]interface{}) (bool, error) {
	result, _, err := p.prg.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

func (p *Program) Source() string {
	return p.source
}
