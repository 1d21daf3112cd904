package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moritz343/response-optimization/internal/dynamics"
)

// flatSpectrum builds a two-DOF spectrum with purely real responses so
// the expected reductions are easy to compute by hand.
func flatSpectrum() *dynamics.Spectrum {
	return &dynamics.Spectrum{
		Omega: []float64{1, 2, 3},
		X: [][]complex128{
			{3, 1},
			{4, 2},
			{1, 5},
		},
	}
}

func TestParseEnums(t *testing.T) {
	q, err := ParseQuantity("velocity")
	require.NoError(t, err)
	assert.Equal(t, QuantityVelocity, q)

	_, err = ParseQuantity("jerk")
	assert.Error(t, err)

	r, err := ParseReduction("variance")
	require.NoError(t, err)
	assert.Equal(t, ReduceVariance, r)

	_, err = ParseReduction("median")
	assert.Error(t, err)
}

func TestReduceMax(t *testing.T) {
	spec := ObjectiveSpec{Reduction: ReduceMax, DOFs: []int{0}}
	v, err := spec.Reduce(flatSpectrum())
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	spec.DOFs = []int{0, 1}
	v, err = spec.Reduce(flatSpectrum())
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
}

func TestReduceRMS(t *testing.T) {
	spec := ObjectiveSpec{Reduction: ReduceRMS, DOFs: []int{0}}
	v, err := spec.Reduce(flatSpectrum())
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt((9.0+16.0+1.0)/3.0), v, 1e-12)
}

func TestReducePointwise(t *testing.T) {
	spec := ObjectiveSpec{
		Reduction:   ReducePointwise,
		DOFs:        []int{0, 1},
		Frequencies: []float64{1, 3},
	}
	v, err := spec.Reduce(flatSpectrum())
	require.NoError(t, err)
	assert.InDelta(t, 3+1+1+5, v, 1e-12)

	spec.Frequencies = []float64{2.5}
	_, err = spec.Reduce(flatSpectrum())
	assert.Error(t, err)
}

func TestReduceVariance(t *testing.T) {
	spec := ObjectiveSpec{Reduction: ReduceVariance, DOFs: []int{0}}
	v, err := spec.Reduce(flatSpectrum())
	require.NoError(t, err)
	// Trapezoid over |X|^2 = [9, 16, 1] on a unit-spaced grid.
	assert.InDelta(t, 0.5*(9+16)+0.5*(16+1), v, 1e-12)

	// PSD weights scale the integrand pointwise.
	spec.PSD = []float64{2, 2, 2}
	v, err = spec.Reduce(flatSpectrum())
	require.NoError(t, err)
	assert.InDelta(t, 2*(0.5*(9+16)+0.5*(16+1)), v, 1e-12)
}

func TestReductionsNonNegative(t *testing.T) {
	sp := flatSpectrum()
	for _, red := range []Reduction{ReduceMax, ReduceRMS, ReduceVariance} {
		t.Run(red.String(), func(t *testing.T) {
			spec := ObjectiveSpec{Reduction: red, DOFs: []int{0, 1}}
			require.NoError(t, spec.Validate(2, len(sp.Omega)))
			v, err := spec.Reduce(sp)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, v, 0.0)
		})
	}
}

func TestQuantityScaling(t *testing.T) {
	sp := flatSpectrum()

	disp := ObjectiveSpec{Quantity: QuantityDisplacement, Reduction: ReduceMax, DOFs: []int{1}}
	vel := ObjectiveSpec{Quantity: QuantityVelocity, Reduction: ReduceMax, DOFs: []int{1}}
	acc := ObjectiveSpec{Quantity: QuantityAcceleration, Reduction: ReduceMax, DOFs: []int{1}}

	vd, err := disp.Reduce(sp)
	require.NoError(t, err)
	vv, err := vel.Reduce(sp)
	require.NoError(t, err)
	va, err := acc.Reduce(sp)
	require.NoError(t, err)

	// Peak displacement is 5 at omega=3; velocity and acceleration
	// magnitudes scale by omega and omega^2.
	assert.Equal(t, 5.0, vd)
	assert.Equal(t, 15.0, vv)
	assert.Equal(t, 45.0, va)
}

func TestObjectiveSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ObjectiveSpec
		n       int
		gridLen int
		wantErr bool
	}{
		{
			name:    "ok",
			spec:    ObjectiveSpec{Reduction: ReduceMax, DOFs: []int{0}},
			n:       2,
			gridLen: 3,
		},
		{
			name:    "no dofs",
			spec:    ObjectiveSpec{Reduction: ReduceMax},
			n:       2,
			gridLen: 3,
			wantErr: true,
		},
		{
			name:    "dof out of range",
			spec:    ObjectiveSpec{Reduction: ReduceMax, DOFs: []int{2}},
			n:       2,
			gridLen: 3,
			wantErr: true,
		},
		{
			name:    "pointwise without frequencies",
			spec:    ObjectiveSpec{Reduction: ReducePointwise, DOFs: []int{0}},
			n:       2,
			gridLen: 3,
			wantErr: true,
		},
		{
			name:    "variance on single-point grid",
			spec:    ObjectiveSpec{Reduction: ReduceVariance, DOFs: []int{0}},
			n:       2,
			gridLen: 1,
			wantErr: true,
		},
		{
			name:    "psd length mismatch",
			spec:    ObjectiveSpec{Reduction: ReduceVariance, DOFs: []int{0}, PSD: []float64{1, 2}},
			n:       2,
			gridLen: 3,
			wantErr: true,
		},
		{
			name:    "negative psd entry",
			spec:    ObjectiveSpec{Reduction: ReduceVariance, DOFs: []int{0}, PSD: []float64{1, -1, 1}},
			n:       2,
			gridLen: 3,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate(tt.n, tt.gridLen)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
