package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moritz343/response-optimization/internal/dynamics"
	"github.com/moritz343/response-optimization/internal/optimization"
)

func quadratic(target []float64) optimization.ObjectiveFunction {
	return func(ctx context.Context, x []float64) (float64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		sum := 0.0
		for i := range x {
			d := x[i] - target[i]
			sum += d * d
		}
		return sum, nil
	}
}

func TestMethodsMinimizeQuadratic(t *testing.T) {
	target := []float64{1, -2}
	bounds := [][2]float64{{-5, 5}, {-5, 5}}

	for _, method := range []string{MethodCompass, MethodGradient, MethodNelderMead} {
		t.Run(method, func(t *testing.T) {
			opt, err := New(method, optimization.OptimizerConfig{
				Objective:     quadratic(target),
				Bounds:        bounds,
				MaxIterations: 500,
			})
			require.NoError(t, err)

			result, err := opt.Optimize(context.Background(), optimization.OptimizerConfig{})
			require.NoError(t, err)
			require.NotNil(t, result.BestSolution)

			assert.Contains(t,
				[]optimization.TerminationState{optimization.StateConverged, optimization.StateMaxIterations},
				result.State)
			assert.Less(t, result.BestSolution.Value, 1e-3)
			for i := range target {
				assert.InDelta(t, target[i], result.BestSolution.Parameters[i], 5e-2)
			}
			assert.NotEmpty(t, opt.History())
		})
	}
}

func TestMethodsRespectBounds(t *testing.T) {
	// Unconstrained minimum sits outside the box; the search must pin
	// the first coordinate to the upper bound and never evaluate
	// outside the box.
	target := []float64{7, 0}
	bounds := [][2]float64{{-5, 5}, {-5, 5}}

	for _, method := range []string{MethodCompass, MethodGradient, MethodNelderMead} {
		t.Run(method, func(t *testing.T) {
			opt, err := New(method, optimization.OptimizerConfig{
				Objective:     quadratic(target),
				Bounds:        bounds,
				MaxIterations: 500,
			})
			require.NoError(t, err)

			result, err := opt.Optimize(context.Background(), optimization.OptimizerConfig{})
			require.NoError(t, err)
			require.NotNil(t, result.BestSolution)

			assert.InDelta(t, 5.0, result.BestSolution.Parameters[0], 5e-2)
			for _, ev := range opt.History() {
				for i, v := range ev.Solution.Parameters {
					assert.GreaterOrEqual(t, v, bounds[i][0])
					assert.LessOrEqual(t, v, bounds[i][1])
				}
			}
		})
	}
}

func TestWarmStart(t *testing.T) {
	target := []float64{1, -2}
	opt, err := NewCompass(optimization.OptimizerConfig{
		Objective: quadratic(target),
		Bounds:    [][2]float64{{-5, 5}, {-5, 5}},
		Initial:   target,
	})
	require.NoError(t, err)

	result, err := opt.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)
	require.NotNil(t, result.BestSolution)

	assert.Equal(t, optimization.StateConverged, result.State)
	assert.InDelta(t, 0, result.BestSolution.Value, 1e-9)
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, method := range []string{MethodCompass, MethodGradient, MethodNelderMead} {
		t.Run(method, func(t *testing.T) {
			opt, err := New(method, optimization.OptimizerConfig{
				Objective: quadratic([]float64{0}),
				Bounds:    [][2]float64{{-1, 1}},
			})
			require.NoError(t, err)

			result, err := opt.Optimize(ctx, optimization.OptimizerConfig{})
			require.NoError(t, err)
			assert.Equal(t, optimization.StateCancelled, result.State)
		})
	}
}

func TestRepeatedFailuresTerminate(t *testing.T) {
	calls := 0
	failing := func(ctx context.Context, x []float64) (float64, error) {
		calls++
		return 0, optimization.NewError("synthetic failure")
	}

	opt, err := NewCompass(optimization.OptimizerConfig{
		Objective: failing,
		Bounds:    [][2]float64{{-1, 1}},
	})
	require.NoError(t, err)

	result, err := opt.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.Error(t, err)
	assert.Equal(t, optimization.StateFailed, result.State)
	assert.Nil(t, result.BestSolution)
	assert.Positive(t, calls)
}

func TestUnknownMethod(t *testing.T) {
	_, err := New("annealing", optimization.OptimizerConfig{
		Objective: quadratic([]float64{0}),
		Bounds:    [][2]float64{{-1, 1}},
	})
	assert.Error(t, err)
}

// TestDamperTuning runs the full chain on a two-mass system: tuning the
// inter-mass damper reduces the worst-case displacement of the second
// mass across the sweep.
func TestDamperTuning(t *testing.T) {
	model := &dynamics.Model{
		DOFs: []dynamics.DOF{{Mass: 1}, {Mass: 1}},
		Connectors: []dynamics.Connector{
			{I: 0, J: dynamics.Ground, Stiffness: 100, Damping: 0.5},
			{I: 0, J: 1, Stiffness: 50, Damping: 0},
		},
	}

	grid := make([]float64, 60)
	for i := range grid {
		grid[i] = 0.5 + 0.3*float64(i)
	}

	problem := &optimization.Problem{
		Model: model,
		Variables: []dynamics.DesignVariable{
			{Name: "c_link", Kind: dynamics.ParamDamping, Index: 1, Lower: 0, Upper: 10},
		},
		Grid:    grid,
		Forcing: dynamics.ConstantForcing([]complex128{1, 0}),
		Spec:    optimization.ObjectiveSpec{Reduction: optimization.ReduceMax, DOFs: []int{1}},
		Evaluator: dynamics.NewEvaluator(dynamics.NewSolver(0, nil), dynamics.EvaluatorConfig{
			Workers: 4,
			Policy:  dynamics.PolicyPenalty,
		}, nil),
	}
	require.NoError(t, problem.Validate())

	baseline, _, err := problem.Evaluate(context.Background(), []float64{0})
	require.NoError(t, err)

	opt, err := NewCompass(optimization.OptimizerConfig{
		Objective:     problem.ObjectiveFunc(),
		Bounds:        problem.Bounds(),
		Initial:       problem.InitialPoint(),
		MaxIterations: 80,
	})
	require.NoError(t, err)

	result, err := opt.Optimize(context.Background(), optimization.OptimizerConfig{})
	require.NoError(t, err)
	require.NotNil(t, result.BestSolution)

	assert.Equal(t, optimization.StateConverged, result.State)
	assert.LessOrEqual(t, result.Iterations, 80)

	best := result.BestSolution
	assert.Greater(t, best.Parameters[0], 0.0, "optimizer should engage the damper")
	assert.Less(t, best.Value, baseline, "tuned damper must beat the undamped baseline")

	// Re-evaluating the reported optimum reproduces the recorded value.
	check, _, err := problem.Evaluate(context.Background(), best.Parameters)
	require.NoError(t, err)
	assert.InDelta(t, best.Value, check, 1e-9)
}
