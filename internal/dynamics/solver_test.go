package dynamics

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sdofModel is a single mass on a grounded spring and damper, the case
// with a closed-form response magnitude.
func sdofModel(m, k, c float64) *Model {
	return &Model{
		DOFs:       []DOF{{Mass: m}},
		Connectors: []Connector{{I: 0, J: Ground, Stiffness: k, Damping: c}},
	}
}

func TestSolveSDOFMagnitude(t *testing.T) {
	const (
		m = 1.0
		k = 4.0
		c = 0.5
	)
	sys, err := Assemble(sdofModel(m, k, c))
	require.NoError(t, err)

	solver := NewSolver(0, nil)
	force := []complex128{1}

	for _, omega := range []float64{0.5, 1, 2, 3, 10} {
		x, err := solver.Solve(sys, omega, force)
		require.NoError(t, err, "omega=%g", omega)
		require.Len(t, x, 1)

		want := 1 / math.Hypot(k-m*omega*omega, c*omega)
		assert.InEpsilon(t, want, cmplx.Abs(x[0]), 1e-12, "omega=%g", omega)
	}
}

func TestSolveSDOFPhaseConvention(t *testing.T) {
	// X = F / (k - m w^2 + i c w); at w=1, k=4, m=1, c=0.5 the
	// denominator is 3 + 0.5i.
	sys, err := Assemble(sdofModel(1, 4, 0.5))
	require.NoError(t, err)

	solver := NewSolver(0, nil)
	x, err := solver.Solve(sys, 1, []complex128{1})
	require.NoError(t, err)

	want := 1 / complex(3, 0.5)
	assert.InDelta(t, real(want), real(x[0]), 1e-14)
	assert.InDelta(t, imag(want), imag(x[0]), 1e-14)
}

func TestSolveStatic(t *testing.T) {
	sys, err := Assemble(sdofModel(1, 4, 0.5))
	require.NoError(t, err)

	solver := NewSolver(0, nil)
	x, err := solver.Solve(sys, 0, []complex128{1})
	require.NoError(t, err)

	// At omega=0 the damping term vanishes and K X = F.
	assert.InDelta(t, 0.25, real(x[0]), 1e-14)
	assert.InDelta(t, 0, imag(x[0]), 1e-14)
}

func TestSolveUndampedResonance(t *testing.T) {
	// Natural frequency sqrt(k/m) = 2; with zero damping the matrix is
	// exactly singular there.
	sys, err := Assemble(sdofModel(1, 4, 0))
	require.NoError(t, err)

	solver := NewSolver(0, nil)
	_, err = solver.Solve(sys, 2, []complex128{1})
	require.Error(t, err)
	assert.True(t, IsResonanceSingularity(err))

	// Slightly off resonance the solve succeeds.
	x, err := solver.Solve(sys, 2.1, []complex128{1})
	require.NoError(t, err)
	assert.InEpsilon(t, 1/math.Abs(4-2.1*2.1), cmplx.Abs(x[0]), 1e-12)
}

func TestSolveDenseMatchesTridiagonal(t *testing.T) {
	chain := &Model{
		DOFs: []DOF{{Mass: 1}, {Mass: 2}, {Mass: 1.5}},
		Connectors: []Connector{
			{I: 0, J: Ground, Stiffness: 120, Damping: 1},
			{I: 0, J: 1, Stiffness: 80, Damping: 0.8},
			{I: 1, J: 2, Stiffness: 60, Damping: 0.6},
		},
	}
	// Same physics plus a zero-rate long-range connector, which only
	// widens the bandwidth and forces the dense path.
	wide := chain.Clone()
	wide.Connectors = append(wide.Connectors, Connector{I: 0, J: 2})

	tri, err := Assemble(chain)
	require.NoError(t, err)
	require.True(t, tri.Tridiagonal())

	dense, err := Assemble(wide)
	require.NoError(t, err)
	require.False(t, dense.Tridiagonal())

	solver := NewSolver(0, nil)
	force := []complex128{1, complex(0, 0.5), 0.25}

	for _, omega := range []float64{0, 1, 3.7, 9, 15} {
		xt, err := solver.Solve(tri, omega, force)
		require.NoError(t, err, "omega=%g", omega)
		xd, err := solver.Solve(dense, omega, force)
		require.NoError(t, err, "omega=%g", omega)

		for i := range xt {
			assert.InDelta(t, real(xt[i]), real(xd[i]), 1e-8, "omega=%g dof=%d", omega, i)
			assert.InDelta(t, imag(xt[i]), imag(xd[i]), 1e-8, "omega=%g dof=%d", omega, i)
		}
	}
}

func TestSolveInputValidation(t *testing.T) {
	sys, err := Assemble(sdofModel(1, 4, 0.5))
	require.NoError(t, err)

	solver := NewSolver(0, nil)

	_, err = solver.Solve(sys, -1, []complex128{1})
	require.Error(t, err)
	assert.True(t, IsInvalidModel(err))

	_, err = solver.Solve(sys, 1, []complex128{1, 2})
	require.Error(t, err)
	assert.True(t, IsInvalidModel(err))
}
