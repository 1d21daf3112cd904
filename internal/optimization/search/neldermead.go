package search

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/moritz343/response-optimization/internal/optimization"
)

// NelderMead wraps gonum's derivative-free simplex method. The box is
// enforced by projecting every point the simplex proposes before the
// objective sees it; failed evaluations surface as +Inf so the simplex
// contracts away from them.
type NelderMead struct {
	cfg    optimization.OptimizerConfig
	rec    recorder
	cancel context.CancelFunc
}

// NewNelderMead creates a Nelder-Mead optimizer.
func NewNelderMead(cfg optimization.OptimizerConfig) (*NelderMead, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &NelderMead{cfg: cfg}, nil
}

// Optimize runs the simplex search to a terminal state.
func (nm *NelderMead) Optimize(ctx context.Context, cfg optimization.OptimizerConfig) (*optimization.Result, error) {
	if cfg.Objective != nil {
		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		nm.cfg = cfg
	}
	ctx, nm.cancel = context.WithCancel(ctx)
	defer nm.cancel()

	bounds := nm.cfg.Bounds
	start := nm.cfg.Initial
	if start == nil {
		start = optimization.Midpoint(bounds)
	}
	start = optimization.Clip(append([]float64(nil), start...), bounds)

	minRange := 0.0
	for i, b := range bounds {
		if r := b[1] - b[0]; i == 0 || r < minRange {
			minRange = r
		}
	}

	evals := 0
	failures := 0
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if cancelled(ctx) {
				return math.Inf(1)
			}
			trial := optimization.Clip(append([]float64(nil), x...), bounds)
			value, err := nm.cfg.Objective(ctx, trial)
			nm.rec.record(evals, trial, value, err)
			evals++
			if err != nil {
				failures++
				return math.Inf(1)
			}
			failures = 0
			return value
		},
	}

	settings := &optimize.Settings{
		MajorIterations: nm.cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   nm.cfg.ObjectiveTolerance,
			Relative:   1e-9,
			Iterations: nm.cfg.MaxIterations,
		},
	}
	method := &optimize.NelderMead{
		SimplexSize: nm.cfg.InitialStep * minRange,
	}

	result, err := optimize.Minimize(problem, start, settings, method)

	switch {
	case cancelled(ctx):
		return nm.rec.result(evals, optimization.StateCancelled), nil
	case failures >= nm.cfg.MaxObjectiveFailures, nm.rec.best == nil:
		ferr := optimization.WrapError(err, "NelderMead.Optimize", "objective evaluations failed")
		if ferr == nil {
			ferr = optimization.NewError("NelderMead.Optimize: repeated objective failures")
		}
		return nm.rec.result(evals, optimization.StateFailed), ferr
	case err != nil:
		return nm.rec.result(evals, optimization.StateFailed), nil
	case result.Status == optimize.IterationLimit:
		return nm.rec.result(evals, optimization.StateMaxIterations), nil
	}
	return nm.rec.result(evals, optimization.StateConverged), nil
}

// BestSolution returns the best point found so far.
func (nm *NelderMead) BestSolution() *optimization.Solution { return nm.rec.best }

// History returns the record of objective evaluations.
func (nm *NelderMead) History() []optimization.Evaluation { return nm.rec.history }

// Stop cancels a running search.
func (nm *NelderMead) Stop() {
	if nm.cancel != nil {
		nm.cancel()
	}
}
