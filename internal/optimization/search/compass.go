package search

import (
	"context"
	"sync"

	"github.com/moritz343/response-optimization/internal/optimization"
)

// Compass is a derivative-free pattern search: each iteration polls
// both directions along every coordinate at the current step size,
// moves to the best improving neighbor, and halves the steps when no
// neighbor improves. The coordinate stepping generalizes single
// parameter +/- increment tuning of one spring or damper to the whole
// design-variable box.
type Compass struct {
	cfg    optimization.OptimizerConfig
	rec    recorder
	cancel context.CancelFunc
}

// NewCompass creates a compass-search optimizer.
func NewCompass(cfg optimization.OptimizerConfig) (*Compass, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Compass{cfg: cfg}, nil
}

// pollResult is one evaluated neighbor of the current point.
type pollResult struct {
	x     []float64
	value float64
	err   error
}

// Optimize runs the pattern search to a terminal state. Cancellation is
// surfaced as StateCancelled with the best-known point intact.
func (c *Compass) Optimize(ctx context.Context, cfg optimization.OptimizerConfig) (*optimization.Result, error) {
	if cfg.Objective != nil {
		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		c.cfg = cfg
	}
	ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()

	bounds := c.cfg.Bounds
	n := len(bounds)

	x := c.cfg.Initial
	if x == nil {
		x = optimization.Midpoint(bounds)
	}
	x = optimization.Clip(append([]float64(nil), x...), bounds)

	f, err := c.cfg.Objective(ctx, x)
	c.rec.record(0, x, f, err)
	if err != nil {
		if cancelled(ctx) {
			return c.rec.result(0, optimization.StateCancelled), nil
		}
		return c.rec.result(0, optimization.StateFailed), optimization.WrapError(err, "Compass.Optimize", "initial evaluation failed")
	}

	steps := make([]float64, n)
	ranges := make([]float64, n)
	for i, b := range bounds {
		ranges[i] = b[1] - b[0]
		steps[i] = c.cfg.InitialStep * ranges[i]
	}

	state := optimization.StateMaxIterations
	failStreak := 0
	iter := 0

loop:
	for iter = 1; iter <= c.cfg.MaxIterations; iter++ {
		if cancelled(ctx) {
			state = optimization.StateCancelled
			break
		}

		trials := c.pollPoints(x, steps, bounds)
		if len(trials) == 0 {
			// Every variable is pinned by a degenerate bound box.
			state = optimization.StateConverged
			break
		}

		results := evaluateBatch(ctx, c.cfg.Objective, trials)
		allFailed := true
		bestIdx := -1
		for i, r := range results {
			c.rec.record(iter, r.x, r.value, r.err)
			if r.err != nil {
				continue
			}
			allFailed = false
			if bestIdx < 0 || r.value < results[bestIdx].value {
				bestIdx = i
			}
		}

		if allFailed {
			if cancelled(ctx) {
				state = optimization.StateCancelled
				break
			}
			failStreak++
			if failStreak >= c.cfg.MaxObjectiveFailures {
				state = optimization.StateFailed
				break
			}
			continue
		}
		failStreak = 0

		if results[bestIdx].value < f {
			improvement := f - results[bestIdx].value
			x = results[bestIdx].x
			f = results[bestIdx].value
			if improvement < c.cfg.ObjectiveTolerance {
				state = optimization.StateConverged
				break
			}
			continue
		}

		// No improving neighbor: contract the pattern.
		for i := range steps {
			steps[i] *= 0.5
		}
		for i := range steps {
			if ranges[i] > 0 && steps[i] > c.cfg.StepTolerance*ranges[i] {
				continue loop
			}
		}
		state = optimization.StateConverged
		break
	}
	if iter > c.cfg.MaxIterations {
		iter = c.cfg.MaxIterations
	}

	return c.rec.result(iter, state), nil
}

// pollPoints builds the clipped +/- coordinate neighbors, dropping the
// ones the box collapses onto the current point.
func (c *Compass) pollPoints(x, steps []float64, bounds [][2]float64) [][]float64 {
	var trials [][]float64
	for i := range x {
		if steps[i] == 0 {
			continue
		}
		for _, sign := range []float64{1, -1} {
			trial := append([]float64(nil), x...)
			trial[i] += sign * steps[i]
			optimization.Clip(trial, bounds)
			if trial[i] != x[i] {
				trials = append(trials, trial)
			}
		}
	}
	return trials
}

// evaluateBatch runs the independent trial evaluations in parallel and
// returns them in trial order.
func evaluateBatch(ctx context.Context, objective optimization.ObjectiveFunction, trials [][]float64) []pollResult {
	results := make([]pollResult, len(trials))
	var wg sync.WaitGroup
	for i, trial := range trials {
		wg.Add(1)
		go func(i int, trial []float64) {
			defer wg.Done()
			value, err := objective(ctx, trial)
			results[i] = pollResult{x: trial, value: value, err: err}
		}(i, trial)
	}
	wg.Wait()
	return results
}

// BestSolution returns the best point found so far.
func (c *Compass) BestSolution() *optimization.Solution { return c.rec.best }

// History returns the record of objective evaluations.
func (c *Compass) History() []optimization.Evaluation { return c.rec.history }

// Stop cancels a running search.
func (c *Compass) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}
