package optimization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moritz343/response-optimization/internal/dynamics"
)

// dampedSDOFProblem monitors the displacement of a single mass at its
// undamped natural frequency, where |X| = 1/(c*w) and the objective is
// a simple decreasing function of the damper rate.
func dampedSDOFProblem(t *testing.T, damping float64) *Problem {
	t.Helper()
	model := &dynamics.Model{
		DOFs:       []dynamics.DOF{{Mass: 1}},
		Connectors: []dynamics.Connector{{I: 0, J: dynamics.Ground, Stiffness: 4, Damping: damping}},
	}
	p := &Problem{
		Model: model,
		Variables: []dynamics.DesignVariable{
			{Name: "c", Kind: dynamics.ParamDamping, Index: 0, Lower: 0.1, Upper: 10},
		},
		Grid:    []float64{2},
		Forcing: dynamics.ConstantForcing([]complex128{1}),
		Spec:    ObjectiveSpec{Reduction: ReduceMax, DOFs: []int{0}},
		Evaluator: dynamics.NewEvaluator(dynamics.NewSolver(0, nil), dynamics.EvaluatorConfig{
			Workers: 2,
			Policy:  dynamics.PolicyPropagate,
		}, nil),
	}
	require.NoError(t, p.Validate())
	return p
}

func TestProblemEvaluate(t *testing.T) {
	p := dampedSDOFProblem(t, 1)

	value, sp, err := p.Evaluate(context.Background(), []float64{1})
	require.NoError(t, err)
	require.NotNil(t, sp)

	// At resonance the stiffness and inertia terms cancel and the
	// response is 1/(c*w) = 1/2.
	assert.InDelta(t, 0.5, value, 1e-12)
	assert.Equal(t, []float64{2}, sp.Omega)
}

func TestProblemInitialPoint(t *testing.T) {
	p := dampedSDOFProblem(t, 20) // as-built damper above the upper bound

	initial := p.InitialPoint()
	assert.Equal(t, []float64{10}, initial, "as-built value projects onto the box")
}

func TestProblemGradient(t *testing.T) {
	p := dampedSDOFProblem(t, 1)

	grad, err := p.GradientFunc(1e-6)(context.Background(), []float64{1})
	require.NoError(t, err)
	require.Len(t, grad, 1)

	// d/dc [1/(2c)] = -1/(2c^2) = -0.5 at c=1.
	assert.InDelta(t, -0.5, grad[0], 1e-3)
}

func TestProblemGradientAtUpperBound(t *testing.T) {
	p := dampedSDOFProblem(t, 1)

	// On the upper bound the perturbation steps backward into the box,
	// so the gradient is still finite and keeps its sign.
	grad, err := p.GradientFunc(1e-6)(context.Background(), []float64{10})
	require.NoError(t, err)
	assert.InDelta(t, -1.0/200.0, grad[0], 1e-4)
}

func TestPeakResponseMonotoneInDamping(t *testing.T) {
	// For a grounded damper |X(w)| decreases with the damper rate at
	// every w > 0, so the max reduction must never increase along an
	// increasing sweep of damper values.
	p := dampedSDOFProblem(t, 1)
	p.Grid = []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 4}
	require.NoError(t, p.Validate())

	prev := 0.0
	for i, c := range []float64{0.2, 0.5, 1, 2, 4, 8} {
		value, _, err := p.Evaluate(context.Background(), []float64{c})
		require.NoError(t, err, "c=%g", c)
		assert.GreaterOrEqual(t, value, 0.0)
		if i > 0 {
			assert.LessOrEqual(t, value, prev+1e-12, "peak rose from c=%g", c)
		}
		prev = value
	}
}

func TestProblemValidate(t *testing.T) {
	p := dampedSDOFProblem(t, 1)

	p.Forcing = nil
	assert.Error(t, p.Validate())

	p = dampedSDOFProblem(t, 1)
	p.Spec.DOFs = []int{3}
	assert.Error(t, p.Validate())

	p = dampedSDOFProblem(t, 1)
	p.Grid = nil
	assert.Error(t, p.Validate())
}
