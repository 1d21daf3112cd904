// Package optimization defines the objective-function contract over
// response spectra and the optimizer interface used to tune bounded
// design variables of a lumped-mass model.
package optimization

import (
	"context"
)

// ObjectiveFunction maps a design-variable vector to a non-negative
// scalar cost. Implementations must honor ctx cancellation.
type ObjectiveFunction func(ctx context.Context, x []float64) (float64, error)

// GradientFunction returns the gradient of the objective at x, one
// entry per design variable.
type GradientFunction func(ctx context.Context, x []float64) ([]float64, error)

// TerminationState is the terminal condition of an optimization run.
type TerminationState string

const (
	// StateConverged means the improvement or step fell below tolerance.
	StateConverged TerminationState = "converged"
	// StateMaxIterations means the iteration budget was exhausted.
	StateMaxIterations TerminationState = "max_iterations"
	// StateFailed means repeated objective failures stopped progress;
	// the result still carries the best-known point.
	StateFailed TerminationState = "failed"
	// StateCancelled means the run was cancelled between iterations.
	StateCancelled TerminationState = "cancelled"
)

// Defaults for the optimizer policy knobs. Every one of them is
// overridable through OptimizerConfig.
const (
	DefaultMaxIterations        = 200
	DefaultInitialStep          = 0.25
	DefaultStepTolerance        = 1e-6
	DefaultObjectiveTolerance   = 1e-9
	DefaultMaxObjectiveFailures = 5
)

// OptimizerConfig configures a bounded local search.
type OptimizerConfig struct {
	// Objective to minimize.
	Objective ObjectiveFunction

	// Gradient is optional; gradient-based methods fall back to finite
	// differences over Objective when nil.
	Gradient GradientFunction

	// Bounds is the per-variable box [lower, upper].
	Bounds [][2]float64

	// Initial is the warm-start point. Nil starts at the box midpoint.
	// Out-of-box starts are projected, never rejected.
	Initial []float64

	// MaxIterations bounds the outer iteration count.
	MaxIterations int

	// InitialStep is the first poll/line-search step as a fraction of
	// each variable's range.
	InitialStep float64

	// StepTolerance stops the search once the poll step shrinks below
	// this fraction of the variable range.
	StepTolerance float64

	// ObjectiveTolerance stops the search once an accepted step improves
	// the objective by less than this amount.
	ObjectiveTolerance float64

	// MaxObjectiveFailures is the number of consecutive fully-failed
	// iterations tolerated before the run terminates as failed.
	MaxObjectiveFailures int
}

// WithDefaults fills unset policy knobs.
func (c OptimizerConfig) WithDefaults() OptimizerConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.InitialStep <= 0 {
		c.InitialStep = DefaultInitialStep
	}
	if c.StepTolerance <= 0 {
		c.StepTolerance = DefaultStepTolerance
	}
	if c.ObjectiveTolerance <= 0 {
		c.ObjectiveTolerance = DefaultObjectiveTolerance
	}
	if c.MaxObjectiveFailures <= 0 {
		c.MaxObjectiveFailures = DefaultMaxObjectiveFailures
	}
	return c
}

// Validate checks the parts of the config every method needs.
func (c OptimizerConfig) Validate() error {
	if c.Objective == nil {
		return NewError("objective function is required")
	}
	if len(c.Bounds) == 0 {
		return NewError("bounds are required")
	}
	for i, b := range c.Bounds {
		if b[0] > b[1] {
			return NewErrorf("bound %d has lower %g above upper %g", i, b[0], b[1])
		}
	}
	if c.Initial != nil && len(c.Initial) != len(c.Bounds) {
		return NewErrorf("initial point has %d entries for %d variables", len(c.Initial), len(c.Bounds))
	}
	return nil
}

// Solution is one point of the design space with its objective value.
type Solution struct {
	Parameters []float64 `json:"parameters"`
	Value      float64   `json:"value"`
}

// Evaluation records a single objective evaluation.
type Evaluation struct {
	Iteration int
	Solution  *Solution
	Err       error
}

// Result is the outcome of an optimization run. BestSolution is always
// set once at least one evaluation succeeded, whatever the terminal
// state.
type Result struct {
	BestSolution *Solution
	History      []Evaluation
	Iterations   int
	State        TerminationState
}

// Optimizer is the contract every search method implements.
type Optimizer interface {
	// Optimize runs the search until a terminal state is reached.
	Optimize(ctx context.Context, cfg OptimizerConfig) (*Result, error)

	// BestSolution returns the best point found so far.
	BestSolution() *Solution

	// History returns the record of objective evaluations.
	History() []Evaluation

	// Stop requests a graceful stop of the running search.
	Stop()
}

// Clip projects x into the bound box in place and returns it. Bounds
// are always enforced here, before the objective sees the point.
func Clip(x []float64, bounds [][2]float64) []float64 {
	for i := range x {
		if x[i] < bounds[i][0] {
			x[i] = bounds[i][0]
		}
		if x[i] > bounds[i][1] {
			x[i] = bounds[i][1]
		}
	}
	return x
}

// Midpoint returns the center of the bound box, the default start for
// cold runs.
func Midpoint(bounds [][2]float64) []float64 {
	x := make([]float64, len(bounds))
	for i, b := range bounds {
		x[i] = 0.5 * (b[0] + b[1])
	}
	return x
}
