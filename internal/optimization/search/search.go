// Package search implements the bounded local-search methods that drive
// design-variable optimization: compass (pattern) search, projected
// gradient descent with finite differences, and a Nelder-Mead wrapper
// over gonum's optimizer. All methods enforce bounds by projecting
// trial points into the box before the objective is called.
package search

import (
	"context"

	"github.com/moritz343/response-optimization/internal/optimization"
)

// Method names accepted by New.
const (
	MethodCompass    = "compass"
	MethodGradient   = "gradient"
	MethodNelderMead = "neldermead"
)

// New returns the optimizer for the configured method name. An empty
// method selects compass search.
func New(method string, cfg optimization.OptimizerConfig) (optimization.Optimizer, error) {
	switch method {
	case "", MethodCompass:
		return NewCompass(cfg)
	case MethodGradient:
		return NewGradientDescent(cfg)
	case MethodNelderMead:
		return NewNelderMead(cfg)
	}
	return nil, optimization.NewErrorf("unknown optimizer method %q", method)
}

// recorder is the bookkeeping shared by all methods: evaluation history
// and the best-known solution, kept across failures so a failed run
// still reports its best point.
type recorder struct {
	best    *optimization.Solution
	history []optimization.Evaluation
}

func (r *recorder) record(iter int, x []float64, value float64, err error) {
	sol := &optimization.Solution{
		Parameters: append([]float64(nil), x...),
		Value:      value,
	}
	r.history = append(r.history, optimization.Evaluation{Iteration: iter, Solution: sol, Err: err})
	if err == nil && (r.best == nil || value < r.best.Value) {
		r.best = sol
	}
}

func (r *recorder) result(iterations int, state optimization.TerminationState) *optimization.Result {
	return &optimization.Result{
		BestSolution: r.best,
		History:      r.history,
		Iterations:   iterations,
		State:        state,
	}
}

// cancelled reports whether the context has been cancelled. Checked at
// the top of every iteration so a cancel between iterations never
// leaves a half-applied step.
func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
