package dynamics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	solvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "respopt",
		Subsystem: "solver",
		Name:      "solves_total",
		Help:      "Dynamic-stiffness solves by solver path.",
	}, []string{"path"})

	singularitiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "respopt",
		Subsystem: "solver",
		Name:      "singularities_total",
		Help:      "Solves rejected as singular, ill-conditioned or non-convergent.",
	})

	solveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "respopt",
		Subsystem: "solver",
		Name:      "solve_duration_seconds",
		Help:      "Wall time of a single-frequency solve.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 8),
	}, []string{"path"})

	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "respopt",
		Subsystem: "evaluator",
		Name:      "sweeps_total",
		Help:      "Completed frequency sweeps by outcome.",
	}, []string{"outcome"})

	penaltySubstitutions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "respopt",
		Subsystem: "evaluator",
		Name:      "penalty_substitutions_total",
		Help:      "Grid points where a capped penalty response replaced a failed solve.",
	})
)
