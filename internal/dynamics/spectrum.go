package dynamics

import (
	"context"
	"fmt"
	"math/cmplx"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// SingularityPolicy decides what a frequency sweep does when a single
// solve fails with a resonance singularity or non-convergence.
type SingularityPolicy int

const (
	// PolicyPropagate fails the whole sweep on the first singular
	// frequency.
	PolicyPropagate SingularityPolicy = iota
	// PolicyPenalty substitutes a capped penalty response at the failed
	// frequency and continues, so the objective sees a large but finite
	// cost instead of an error.
	PolicyPenalty
)

// ParseSingularityPolicy maps the configuration string to a policy.
func ParseSingularityPolicy(s string) (SingularityPolicy, error) {
	switch s {
	case "propagate", "fail":
		return PolicyPropagate, nil
	case "penalty", "cap":
		return PolicyPenalty, nil
	}
	return 0, fmt.Errorf("unknown singularity policy %q", s)
}

// Spectrum is the response over an ordered frequency grid. X[i][d] is
// the complex displacement of DOF d at Omega[i].
type Spectrum struct {
	Omega []float64      `json:"omega"`
	X     [][]complex128 `json:"-"`
}

// Magnitudes returns |X| per grid point for one DOF.
func (sp *Spectrum) Magnitudes(dof int) []float64 {
	out := make([]float64, len(sp.Omega))
	for i, row := range sp.X {
		out[i] = cmplx.Abs(row[dof])
	}
	return out
}

// EvaluatorConfig carries the sweep policy knobs.
type EvaluatorConfig struct {
	// Workers is the number of parallel per-frequency solves. Zero or
	// negative selects GOMAXPROCS.
	Workers int
	// Policy is the singularity substitution policy for the sweep.
	Policy SingularityPolicy
	// PenaltyMagnitude is the per-DOF response magnitude substituted
	// under PolicyPenalty. Zero selects DefaultPenaltyMagnitude.
	PenaltyMagnitude float64
}

// DefaultPenaltyMagnitude caps the substituted response under
// PolicyPenalty.
const DefaultPenaltyMagnitude = 1e6

// Evaluator sweeps the solver over a frequency grid. Per-frequency
// solves are independent and run on a bounded worker pool; results are
// reassembled in grid order.
type Evaluator struct {
	solver *Solver
	cfg    EvaluatorConfig
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator around the given solver.
func NewEvaluator(solver *Solver, cfg EvaluatorConfig, logger *zap.Logger) *Evaluator {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.PenaltyMagnitude <= 0 {
		cfg.PenaltyMagnitude = DefaultPenaltyMagnitude
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{solver: solver, cfg: cfg, logger: logger.Named("evaluator")}
}

// ValidateGrid checks that the grid is non-empty, non-negative and
// strictly increasing.
func ValidateGrid(grid []float64) error {
	const op = "ValidateGrid"
	if len(grid) == 0 {
		return invalidModelf(op, "empty frequency grid")
	}
	if grid[0] < 0 {
		return invalidModelf(op, "negative frequency %g", grid[0])
	}
	for i := 1; i < len(grid); i++ {
		if grid[i] <= grid[i-1] {
			return invalidModelf(op, "grid not strictly increasing at index %d (%g after %g)", i, grid[i], grid[i-1])
		}
	}
	return nil
}

// Evaluate produces the response spectrum for one assembled design
// point. sys, grid and forcing are read-only; each worker writes only
// its own rows. Under PolicyPropagate the first singular frequency
// cancels the remaining work and fails the sweep.
func (e *Evaluator) Evaluate(ctx context.Context, sys *Matrices, grid []float64, forcing Forcing) (*Spectrum, error) {
	const op = "Evaluator.Evaluate"
	if err := ValidateGrid(grid); err != nil {
		return nil, err
	}
	if forcing == nil {
		return nil, invalidModelf(op, "nil forcing")
	}

	sp := &Spectrum{
		Omega: append([]float64(nil), grid...),
		X:     make([][]complex128, len(grid)),
	}

	workers := e.cfg.Workers
	if workers > len(grid) {
		workers = len(grid)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		sweepErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			sweepErr = err
			cancel()
		})
	}

	indices := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				omega := grid[i]
				x, err := e.solver.Solve(sys, omega, forcing(omega))
				if err == nil {
					sp.X[i] = x
					continue
				}
				recoverable := IsResonanceSingularity(err) || IsNonConvergence(err)
				if recoverable && e.cfg.Policy == PolicyPenalty {
					sp.X[i] = e.penaltyResponse(sys.Size())
					penaltySubstitutions.Inc()
					e.logger.Warn("substituted penalty response",
						zap.Float64("omega", omega),
						zap.Float64("magnitude", e.cfg.PenaltyMagnitude),
					)
					continue
				}
				fail(err)
				return
			}
		}()
	}

feed:
	for i := range grid {
		select {
		case indices <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indices)
	wg.Wait()

	if sweepErr != nil {
		sweepsTotal.WithLabelValues("failed").Inc()
		return nil, sweepErr
	}
	if err := ctx.Err(); err != nil {
		sweepsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}
	sweepsTotal.WithLabelValues("ok").Inc()
	return sp, nil
}

func (e *Evaluator) penaltyResponse(n int) []complex128 {
	row := make([]complex128, n)
	for i := range row {
		row[i] = complex(e.cfg.PenaltyMagnitude, 0)
	}
	return row
}
