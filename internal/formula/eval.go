// Package formula evaluates KPI target formulas and resolves the
// dependencies between formula-driven target slots.
package formula

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of parsed expressions Arithmetic keeps.
const DefaultCacheSize = 512

// Evaluator computes a formula expression over named variables.
type Evaluator interface {
	Evaluate(expr string, vars map[string]float64) (float64, error)
}

// Arithmetic is the built-in Evaluator: plain arithmetic, a fixed set of math
// functions, and variables bound only through vars. Safe for concurrent use.
type Arithmetic struct {
	cache *lru.Cache[string, node]
}

// NewArithmetic returns an evaluator caching up to size parsed expressions.
func NewArithmetic(size int) *Arithmetic {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, node](size)
	if err != nil {
		panic(err) // only fails for size <= 0
	}
	return &Arithmetic{cache: c}
}

// Evaluate parses (or fetches from cache) expr and evaluates it.
func (a *Arithmetic) Evaluate(expr string, vars map[string]float64) (float64, error) {
	n, err := a.compile(expr)
	if err != nil {
		return 0, err
	}
	v, err := n.eval(vars)
	if err != nil {
		var ee *EvaluationError
		if errors.As(err, &ee) && ee.Expr == "" {
			ee.Expr = expr
		}
		return 0, err
	}
	return v, nil
}

// Check parses expr without evaluating it.
func (a *Arithmetic) Check(expr string) error {
	_, err := a.compile(expr)
	return err
}

func (a *Arithmetic) compile(expr string) (node, error) {
	if n, ok := a.cache.Get(expr); ok {
		return n, nil
	}
	n, err := parse(expr)
	if err != nil {
		return nil, err
	}
	a.cache.Add(expr, n)
	return n, nil
}

// Variables returns the distinct variable names expr references, sorted.
func Variables(expr string) ([]string, error) {
	n, err := parse(expr)
	if err != nil {
		return nil, err
	}
	return identifiers(n), nil
}
