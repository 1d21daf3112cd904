package optimization

import (
	"context"
	"math"
	"sync"

	"github.com/moritz343/response-optimization/internal/dynamics"
)

// Problem binds a model, its design variables, the frequency grid,
// forcing and objective spec into the evaluation chain the optimizer
// drives: apply design -> assemble -> sweep -> reduce. Every evaluation
// assembles fresh matrices, so parallel evaluations never share mutable
// state.
type Problem struct {
	Model     *dynamics.Model
	Variables []dynamics.DesignVariable
	Grid      []float64
	Forcing   dynamics.Forcing
	Spec      ObjectiveSpec
	Evaluator *dynamics.Evaluator
}

// Validate checks the full problem definition.
func (p *Problem) Validate() error {
	const op = "Problem.Validate"
	if p.Model == nil || p.Evaluator == nil {
		return WrapError(NewError("model and evaluator are required"), op, "invalid problem")
	}
	if err := p.Model.Validate(); err != nil {
		return err
	}
	if err := p.Model.ValidateDesign(p.Variables); err != nil {
		return err
	}
	if err := dynamics.ValidateGrid(p.Grid); err != nil {
		return err
	}
	if p.Forcing == nil {
		return WrapError(NewError("forcing is required"), op, "invalid problem")
	}
	return p.Spec.Validate(p.Model.Size(), len(p.Grid))
}

// Bounds returns the design-variable bound box.
func (p *Problem) Bounds() [][2]float64 {
	return dynamics.DesignBounds(p.Variables)
}

// InitialPoint returns the as-built values of the design variables,
// projected into the bound box.
func (p *Problem) InitialPoint() []float64 {
	return Clip(p.Model.DesignValues(p.Variables), p.Bounds())
}

// Evaluate runs the full chain at one design point and returns both the
// scalar objective and the spectrum it was reduced from.
func (p *Problem) Evaluate(ctx context.Context, x []float64) (float64, *dynamics.Spectrum, error) {
	const op = "Problem.Evaluate"
	model, err := p.Model.ApplyDesign(p.Variables, x)
	if err != nil {
		return 0, nil, err
	}
	sys, err := dynamics.Assemble(model)
	if err != nil {
		return 0, nil, err
	}
	sp, err := p.Evaluator.Evaluate(ctx, sys, p.Grid, p.Forcing)
	if err != nil {
		return 0, nil, WrapError(err, op, "frequency sweep failed")
	}
	value, err := p.Spec.Reduce(sp)
	if err != nil {
		return 0, nil, err
	}
	return value, sp, nil
}

// ObjectiveFunc adapts the problem to the optimizer's objective
// contract, discarding the spectrum.
func (p *Problem) ObjectiveFunc() ObjectiveFunction {
	return func(ctx context.Context, x []float64) (float64, error) {
		value, _, err := p.Evaluate(ctx, x)
		return value, err
	}
}

// GradientFunc returns a forward finite-difference gradient over the
// design variables. The base point is evaluated once, then the per
// variable perturbations run as an independent parallel batch, each
// re-running the whole assemble-solve-reduce chain.
func (p *Problem) GradientFunc(step float64) GradientFunction {
	if step <= 0 {
		step = 1e-6
	}
	bounds := p.Bounds()
	return func(ctx context.Context, x []float64) ([]float64, error) {
		const op = "Problem.Gradient"
		base, _, err := p.Evaluate(ctx, x)
		if err != nil {
			return nil, WrapError(err, op, "base evaluation failed")
		}

		grad := make([]float64, len(x))
		errs := make([]error, len(x))
		var wg sync.WaitGroup
		for i := range x {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				h := step * math.Max(1, math.Abs(x[i]))
				sign := 1.0
				if x[i]+h > bounds[i][1] {
					// Perturb into the box when sitting on the upper bound.
					sign = -1.0
				}
				xp := append([]float64(nil), x...)
				xp[i] += sign * h
				Clip(xp, bounds)
				fp, _, err := p.Evaluate(ctx, xp)
				if err != nil {
					errs[i] = err
					return
				}
				denom := xp[i] - x[i]
				if denom == 0 {
					// Degenerate bound box; the variable cannot move.
					grad[i] = 0
					return
				}
				grad[i] = (fp - base) / denom
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				return nil, WrapErrorf(err, op, "perturbation of variable %d failed", i)
			}
		}
		return grad, nil
	}
}
