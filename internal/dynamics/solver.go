package dynamics

import (
	"math"
	"math/cmplx"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultCondLimit is the condition-number estimate above which a
	// dynamic-stiffness matrix is treated as singular at that frequency.
	DefaultCondLimit = 1e12

	// refineTarget is the relative residual the dense path must reach
	// within its refinement budget.
	refineTarget = 1e-8
	refinePasses = 2
)

// Solver solves the dynamic-stiffness system (K - w^2 M + i w C) X = F
// for a single frequency. Chain topologies take a tridiagonal O(N)
// elimination; anything with longer-range connectors falls back to a
// dense LU on the equivalent real 2Nx2N system.
type Solver struct {
	condLimit float64
	logger    *zap.Logger
	pool      workspacePool
}

// NewSolver creates a Solver with the given condition limit. A
// non-positive limit selects DefaultCondLimit; a nil logger disables
// diagnostics.
func NewSolver(condLimit float64, logger *zap.Logger) *Solver {
	if condLimit <= 0 {
		condLimit = DefaultCondLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{condLimit: condLimit, logger: logger.Named("solver")}
}

// Solve returns the complex response X(omega). At omega=0 the system
// degenerates to the static solve K X = F. The returned vector is
// freshly allocated; sys is read-only.
func (s *Solver) Solve(sys *Matrices, omega float64, force []complex128) ([]complex128, error) {
	const op = "Solver.Solve"
	if omega < 0 {
		return nil, invalidModelf(op, "negative frequency %g", omega)
	}
	if len(force) != sys.n {
		return nil, invalidModelf(op, "forcing vector has length %d for %d dofs", len(force), sys.n)
	}

	start := time.Now()
	var (
		x    []complex128
		err  error
		path string
	)
	if sys.Tridiagonal() {
		path = "tridiagonal"
		x, err = s.solveTridiagonal(sys, omega, force)
	} else {
		path = "dense"
		x, err = s.solveDense(sys, omega, force)
	}
	solveDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	solvesTotal.WithLabelValues(path).Inc()
	if err != nil {
		if IsResonanceSingularity(err) || IsNonConvergence(err) {
			singularitiesTotal.Inc()
			s.logger.Debug("dynamic-stiffness solve failed",
				zap.String("path", path),
				zap.Float64("omega", omega),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return x, nil
}

// solveTridiagonal runs symmetric complex Thomas elimination. Pivots are
// checked against the matrix scale so an undamped resonance surfaces as
// a singularity instead of an inf/NaN-poisoned response.
func (s *Solver) solveTridiagonal(sys *Matrices, omega float64, force []complex128) ([]complex128, error) {
	const op = "Solver.solveTridiagonal"
	n := sys.n
	w2 := omega * omega

	diag := make([]complex128, n)
	off := make([]complex128, n-1)
	scale := 0.0
	for i := 0; i < n; i++ {
		diag[i] = complex(sys.K.At(i, i)-w2*sys.M.At(i, i), omega*sys.C.At(i, i))
		row := cmplx.Abs(diag[i])
		if i > 0 {
			row += cmplx.Abs(off[i-1])
		}
		if i < n-1 {
			off[i] = complex(sys.K.At(i, i+1), omega*sys.C.At(i, i+1))
			row += cmplx.Abs(off[i])
		}
		if row > scale {
			scale = row
		}
	}
	if scale == 0 {
		return nil, singularityf(op, omega, "zero dynamic-stiffness matrix")
	}

	// Forward elimination.
	cp := make([]complex128, n-1)
	y := make([]complex128, n)
	minPivot := math.Inf(1)
	p := diag[0]
	for i := 0; i < n; i++ {
		if i > 0 {
			p = diag[i] - off[i-1]*cp[i-1]
		}
		ap := cmplx.Abs(p)
		if ap < minPivot {
			minPivot = ap
		}
		if ap*s.condLimit <= scale {
			return nil, singularityf(op, omega, "pivot %g below singularity threshold (scale %g, limit %g)", ap, scale, s.condLimit)
		}
		if i < n-1 {
			cp[i] = off[i] / p
		}
		if i > 0 {
			y[i] = (force[i] - off[i-1]*y[i-1]) / p
		} else {
			y[i] = force[i] / p
		}
	}

	// Back substitution.
	x := make([]complex128, n)
	x[n-1] = y[n-1]
	for i := n - 2; i >= 0; i-- {
		x[i] = y[i] - cp[i]*x[i+1]
	}

	s.logger.Debug("tridiagonal solve",
		zap.Float64("omega", omega),
		zap.Float64("cond_estimate", scale/minPivot),
	)
	return x, nil
}

// solveDense factors the real augmented system
//
//	[ A -B ] [ Re X ]   [ Re F ]       A = K - w^2 M
//	[ B  A ] [ Im X ] = [ Im F ]       B = w C
//
// with a partial-pivoted LU, rejects factorizations above the condition
// limit, and polishes the solution with a bounded number of iterative
// refinement passes.
func (s *Solver) solveDense(sys *Matrices, omega float64, force []complex128) ([]complex128, error) {
	const op = "Solver.solveDense"
	n := sys.n
	w2 := omega * omega

	ws := s.pool.get(n)
	defer s.pool.put(ws)

	aug := ws.aug
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a := sys.K.At(i, j)
			if i == j {
				a -= w2 * sys.M.At(i, i)
			}
			b := omega * sys.C.At(i, j)
			aug.Set(i, j, a)
			aug.Set(n+i, n+j, a)
			aug.Set(i, n+j, -b)
			aug.Set(n+i, j, b)
		}
	}

	rhs := ws.rhs
	for i := 0; i < n; i++ {
		rhs.SetVec(i, real(force[i]))
		rhs.SetVec(n+i, imag(force[i]))
	}

	var lu mat.LU
	lu.Factorize(aug)
	cond := lu.Cond()
	if math.IsInf(cond, 1) || cond > s.condLimit {
		return nil, singularityf(op, omega, "condition number %g exceeds limit %g", cond, s.condLimit)
	}

	z := ws.sol
	if err := lu.SolveVecTo(z, false, rhs); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return nil, singularityf(op, omega, "LU solve failed: %v", err)
		}
	}

	// Bounded iterative refinement against the augmented system.
	normB := mat.Norm(rhs, 2)
	if normB == 0 {
		normB = 1
	}
	resid := ws.resid
	corr := ws.corr
	relRes := math.Inf(1)
	for pass := 0; pass <= refinePasses; pass++ {
		resid.MulVec(aug, z)
		resid.SubVec(rhs, resid)
		relRes = mat.Norm(resid, 2) / normB
		if relRes <= refineTarget {
			break
		}
		if pass == refinePasses {
			return nil, nonConvergencef(op, omega, "relative residual %g after %d refinement passes", relRes, refinePasses)
		}
		if err := lu.SolveVecTo(corr, false, resid); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				return nil, singularityf(op, omega, "refinement solve failed: %v", err)
			}
		}
		z.AddVec(z, corr)
	}

	s.logger.Debug("dense solve",
		zap.Float64("omega", omega),
		zap.Float64("cond", cond),
		zap.Float64("relative_residual", relRes),
	)

	x := make([]complex128, n)
	for i := 0; i < n; i++ {
		x[i] = complex(z.AtVec(i), z.AtVec(n+i))
	}
	return x, nil
}
