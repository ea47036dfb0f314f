// Package policy evaluates the upstream collaborator signals that gate
// authorization. The collaborators themselves are out of scope; they hand the
// core read-only booleans, and any false forces DENY regardless of intent
// state.
//
// Rules are CEL expressions over the signal set, compiled once and cached.
// Evaluation is fail-closed: a rule that does not compile, does not evaluate,
// or does not produce a boolean denies.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Signals are the read-only inputs the upstream collaborators supply.
type Signals struct {
	Confidence    bool `json:"confidence"`
	Readiness     bool `json:"readiness"`
	ContractValid bool `json:"contract_is_valid"`
}

// DefaultRule requires every upstream signal to be true.
const DefaultRule = `confidence && readiness && contract_is_valid`

// Gate compiles and evaluates authorization rules over Signals.
type Gate struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
	rules []string
}

// NewGate creates a gate with the given rules; an empty rule set falls back
// to DefaultRule.
func NewGate(rules ...string) (*Gate, error) {
	env, err := cel.NewEnv(
		cel.Variable("confidence", cel.BoolType),
		cel.Variable("readiness", cel.BoolType),
		cel.Variable("contract_is_valid", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}
	if len(rules) == 0 {
		rules = []string{DefaultRule}
	}
	return &Gate{env: env, cache: make(map[string]cel.Program), rules: rules}, nil
}

// Allow evaluates every rule against the signals. All rules must hold; any
// failure, of any kind, denies with the offending rule's reason.
func (g *Gate) Allow(signals Signals) (bool, string) {
	input := map[string]any{
		"confidence":        signals.Confidence,
		"readiness":         signals.Readiness,
		"contract_is_valid": signals.ContractValid,
	}
	for _, rule := range g.rules {
		ok, err := g.evaluate(rule, input)
		if err != nil {
			return false, fmt.Sprintf("policy rule failed closed: %v", err)
		}
		if !ok {
			return false, fmt.Sprintf("policy rule not satisfied: %s", rule)
		}
	}
	return true, ""
}

func (g *Gate) evaluate(rule string, input map[string]any) (bool, error) {
	prg, err := g.program(rule)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", rule, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not produce a boolean", rule)
	}
	return result, nil
}

func (g *Gate) program(rule string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.cache[rule]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := g.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", rule, issues.Err())
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", rule, err)
	}

	g.mu.Lock()
	g.cache[rule] = prg
	g.mu.Unlock()
	return prg, nil
}
