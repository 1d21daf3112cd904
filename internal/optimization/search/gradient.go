package search

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/moritz343/response-optimization/internal/optimization"
)

// backtrackBudget bounds the line-search halvings per iteration so a
// bad gradient cannot stall an iteration forever.
const backtrackBudget = 30

// GradientDescent is projected gradient descent: steepest-descent steps
// with a backtracking line search, every trial point projected into the
// bound box before evaluation. The gradient comes from the config, or
// from forward finite differences over the objective when unset.
type GradientDescent struct {
	cfg    optimization.OptimizerConfig
	rec    recorder
	cancel context.CancelFunc
}

// NewGradientDescent creates a projected-gradient optimizer.
func NewGradientDescent(cfg optimization.OptimizerConfig) (*GradientDescent, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &GradientDescent{cfg: cfg}, nil
}

// Optimize runs the descent to a terminal state.
func (g *GradientDescent) Optimize(ctx context.Context, cfg optimization.OptimizerConfig) (*optimization.Result, error) {
	if cfg.Objective != nil {
		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		g.cfg = cfg
	}
	ctx, g.cancel = context.WithCancel(ctx)
	defer g.cancel()

	bounds := g.cfg.Bounds
	gradient := g.cfg.Gradient
	if gradient == nil {
		gradient = finiteDifferenceGradient(g.cfg.Objective, bounds)
	}

	x := g.cfg.Initial
	if x == nil {
		x = optimization.Midpoint(bounds)
	}
	x = optimization.Clip(append([]float64(nil), x...), bounds)

	f, err := g.cfg.Objective(ctx, x)
	g.rec.record(0, x, f, err)
	if err != nil {
		if cancelled(ctx) {
			return g.rec.result(0, optimization.StateCancelled), nil
		}
		return g.rec.result(0, optimization.StateFailed), optimization.WrapError(err, "GradientDescent.Optimize", "initial evaluation failed")
	}

	maxRange := 0.0
	for _, b := range bounds {
		if r := b[1] - b[0]; r > maxRange {
			maxRange = r
		}
	}
	if maxRange == 0 {
		return g.rec.result(0, optimization.StateConverged), nil
	}

	state := optimization.StateMaxIterations
	failStreak := 0
	iter := 0

	for iter = 1; iter <= g.cfg.MaxIterations; iter++ {
		if cancelled(ctx) {
			state = optimization.StateCancelled
			break
		}

		grad, err := gradient(ctx, x)
		if err != nil {
			if cancelled(ctx) {
				state = optimization.StateCancelled
				break
			}
			failStreak++
			if failStreak >= g.cfg.MaxObjectiveFailures {
				state = optimization.StateFailed
				break
			}
			continue
		}
		failStreak = 0

		gnorm := floats.Norm(grad, math.Inf(1))
		if gnorm == 0 {
			state = optimization.StateConverged
			break
		}

		// First trial moves the steepest coordinate by the configured
		// fraction of the box; backtracking halves from there.
		alpha := g.cfg.InitialStep * maxRange / gnorm
		accepted := false
		var improvement, stepNorm float64
		for t := 0; t < backtrackBudget; t++ {
			trial := make([]float64, len(x))
			floats.AddScaledTo(trial, x, -alpha, grad)
			optimization.Clip(trial, bounds)
			if floats.Equal(trial, x) {
				break
			}
			ft, err := g.cfg.Objective(ctx, trial)
			g.rec.record(iter, trial, ft, err)
			if err == nil && ft < f {
				improvement = f - ft
				stepNorm = floats.Distance(trial, x, 2)
				x = trial
				f = ft
				accepted = true
				break
			}
			alpha *= 0.5
		}

		if !accepted {
			// No descent step within the budget: a box-local minimum.
			state = optimization.StateConverged
			break
		}
		if improvement < g.cfg.ObjectiveTolerance || stepNorm < g.cfg.StepTolerance*maxRange {
			state = optimization.StateConverged
			break
		}
	}
	if iter > g.cfg.MaxIterations {
		iter = g.cfg.MaxIterations
	}

	return g.rec.result(iter, state), nil
}

// finiteDifferenceGradient builds a forward-difference gradient that
// evaluates the perturbed points as an independent parallel batch.
func finiteDifferenceGradient(objective optimization.ObjectiveFunction, bounds [][2]float64) optimization.GradientFunction {
	const step = 1e-6
	return func(ctx context.Context, x []float64) ([]float64, error) {
		base, err := objective(ctx, x)
		if err != nil {
			return nil, err
		}
		trials := make([][]float64, len(x))
		for i := range x {
			h := step * math.Max(1, math.Abs(x[i]))
			trial := append([]float64(nil), x...)
			if trial[i]+h > bounds[i][1] {
				trial[i] -= h
			} else {
				trial[i] += h
			}
			optimization.Clip(trial, bounds)
			trials[i] = trial
		}
		results := evaluateBatch(ctx, objective, trials)
		grad := make([]float64, len(x))
		for i, r := range results {
			if r.err != nil {
				return nil, r.err
			}
			denom := trials[i][i] - x[i]
			if denom == 0 {
				grad[i] = 0
				continue
			}
			grad[i] = (r.value - base) / denom
		}
		return grad, nil
	}
}

// BestSolution returns the best point found so far.
func (g *GradientDescent) BestSolution() *optimization.Solution { return g.rec.best }

// History returns the record of objective evaluations.
func (g *GradientDescent) History() []optimization.Evaluation { return g.rec.history }

// Stop cancels a running search.
func (g *GradientDescent) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
}
