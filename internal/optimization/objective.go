package optimization

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/integrate"

	"github.com/moritz343/response-optimization/internal/dynamics"
)

// Quantity selects which response quantity the objective monitors.
// Velocity and acceleration derive from displacement as iw*X and
// -w^2*X; only their magnitudes enter the reductions.
type Quantity int

const (
	QuantityDisplacement Quantity = iota
	QuantityVelocity
	QuantityAcceleration
)

// ParseQuantity maps the configuration string to a Quantity.
func ParseQuantity(s string) (Quantity, error) {
	switch s {
	case "displacement", "":
		return QuantityDisplacement, nil
	case "velocity":
		return QuantityVelocity, nil
	case "acceleration":
		return QuantityAcceleration, nil
	}
	return 0, NewErrorf("unknown response quantity %q", s)
}

// String returns the configuration name of the quantity.
func (q Quantity) String() string {
	switch q {
	case QuantityDisplacement:
		return "displacement"
	case QuantityVelocity:
		return "velocity"
	case QuantityAcceleration:
		return "acceleration"
	}
	return "unknown"
}

// Reduction selects how monitored magnitudes collapse to one scalar.
// All reductions are monotone: lowering any monitored magnitude while
// the rest stay fixed never raises the objective.
type Reduction int

const (
	// ReduceMax takes the peak magnitude over the grid and DOF set.
	ReduceMax Reduction = iota
	// ReduceRMS takes the root mean square over all (frequency, DOF)
	// pairs.
	ReduceRMS
	// ReducePointwise sums the magnitudes at explicitly listed grid
	// frequencies.
	ReducePointwise
	// ReduceVariance integrates the squared magnitudes weighted by a
	// ground-motion PSD over the grid, per monitored DOF, and sums.
	ReduceVariance
)

// ParseReduction maps the configuration string to a Reduction.
func ParseReduction(s string) (Reduction, error) {
	switch s {
	case "max", "":
		return ReduceMax, nil
	case "rms":
		return ReduceRMS, nil
	case "pointwise":
		return ReducePointwise, nil
	case "variance":
		return ReduceVariance, nil
	}
	return 0, NewErrorf("unknown reduction %q", s)
}

// String returns the configuration name of the reduction.
func (r Reduction) String() string {
	switch r {
	case ReduceMax:
		return "max"
	case ReduceRMS:
		return "rms"
	case ReducePointwise:
		return "pointwise"
	case ReduceVariance:
		return "variance"
	}
	return "unknown"
}

// ObjectiveSpec is the closed configuration of the spectrum-to-scalar
// reduction: monitored DOFs, response quantity and reduction rule.
type ObjectiveSpec struct {
	Quantity  Quantity
	Reduction Reduction

	// DOFs are the monitored degrees of freedom.
	DOFs []int

	// Frequencies lists the grid points for ReducePointwise. Each entry
	// must match a grid frequency.
	Frequencies []float64

	// PSD holds the per-grid-point spectral density weights for
	// ReduceVariance. Nil means unit weights.
	PSD []float64
}

// Validate checks the spec against the model size and grid length.
func (spec ObjectiveSpec) Validate(n, gridLen int) error {
	const op = "ObjectiveSpec.Validate"
	if len(spec.DOFs) == 0 {
		return WrapError(NewError("no monitored DOFs"), op, "invalid objective")
	}
	for _, d := range spec.DOFs {
		if d < 0 || d >= n {
			return WrapError(NewErrorf("monitored DOF %d out of range [0,%d)", d, n), op, "invalid objective")
		}
	}
	if spec.Reduction == ReducePointwise && len(spec.Frequencies) == 0 {
		return WrapError(NewError("pointwise reduction needs at least one frequency"), op, "invalid objective")
	}
	if spec.Reduction == ReduceVariance {
		if gridLen < 2 {
			return WrapError(NewError("variance reduction needs a grid of at least two points"), op, "invalid objective")
		}
		if spec.PSD != nil && len(spec.PSD) != gridLen {
			return WrapError(NewErrorf("PSD has %d entries for a %d-point grid", len(spec.PSD), gridLen), op, "invalid objective")
		}
		// Negative weights would flip the sign of the integrand and break
		// the non-negativity and monotonicity of the reduction.
		for i, w := range spec.PSD {
			if w < 0 {
				return WrapError(NewErrorf("PSD entry %d is negative (%g)", i, w), op, "invalid objective")
			}
		}
	}
	return nil
}

// Reduce collapses a response spectrum to the scalar objective value.
func (spec ObjectiveSpec) Reduce(sp *dynamics.Spectrum) (float64, error) {
	const op = "ObjectiveSpec.Reduce"
	switch spec.Reduction {
	case ReduceMax:
		peak := 0.0
		for i, omega := range sp.Omega {
			for _, d := range spec.DOFs {
				if m := spec.magnitude(sp.X[i][d], omega); m > peak {
					peak = m
				}
			}
		}
		return peak, nil

	case ReduceRMS:
		sum := 0.0
		count := 0
		for i, omega := range sp.Omega {
			for _, d := range spec.DOFs {
				m := spec.magnitude(sp.X[i][d], omega)
				sum += m * m
				count++
			}
		}
		return math.Sqrt(sum / float64(count)), nil

	case ReducePointwise:
		total := 0.0
		for _, target := range spec.Frequencies {
			i, ok := findGridIndex(sp.Omega, target)
			if !ok {
				return 0, WrapErrorf(NewErrorf("frequency %g not on the grid", target), op, "pointwise reduction")
			}
			for _, d := range spec.DOFs {
				total += spec.magnitude(sp.X[i][d], sp.Omega[i])
			}
		}
		return total, nil

	case ReduceVariance:
		total := 0.0
		weighted := make([]float64, len(sp.Omega))
		for _, d := range spec.DOFs {
			for i, omega := range sp.Omega {
				m := spec.magnitude(sp.X[i][d], omega)
				w := 1.0
				if spec.PSD != nil {
					w = spec.PSD[i]
				}
				weighted[i] = m * m * w
			}
			total += integrate.Trapezoidal(sp.Omega, weighted)
		}
		return total, nil
	}
	return 0, WrapErrorf(NewErrorf("unknown reduction %d", int(spec.Reduction)), op, "reduce spectrum")
}

// magnitude converts a displacement phasor to the monitored quantity's
// magnitude at the given frequency.
func (spec ObjectiveSpec) magnitude(x complex128, omega float64) float64 {
	m := cmplx.Abs(x)
	switch spec.Quantity {
	case QuantityVelocity:
		return omega * m
	case QuantityAcceleration:
		return omega * omega * m
	}
	return m
}

// findGridIndex locates target on the grid within a relative tolerance.
func findGridIndex(grid []float64, target float64) (int, bool) {
	const tol = 1e-9
	for i, w := range grid {
		if math.Abs(w-target) <= tol*math.Max(1, math.Abs(target)) {
			return i, true
		}
	}
	return 0, false
}
