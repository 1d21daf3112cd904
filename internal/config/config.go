// Package config loads the service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the full configuration of the response-optimization
// service. Every numerical policy the engine leaves open (condition
// limit, singularity policy, optimizer method and tolerances) is an
// explicit knob here instead of a hard-coded default.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Solver struct {
		// CondLimit is the condition-number estimate above which a
		// dynamic-stiffness matrix is treated as singular.
		CondLimit float64 `env:"SOLVER_COND_LIMIT" envDefault:"1e12"`
		// SingularityPolicy is "penalty" or "propagate".
		SingularityPolicy string  `env:"SOLVER_SINGULARITY_POLICY" envDefault:"penalty"`
		PenaltyMagnitude  float64 `env:"SOLVER_PENALTY_MAGNITUDE" envDefault:"1e6"`
	}
	Evaluator struct {
		// Workers bounds the parallel per-frequency solves. Zero uses
		// GOMAXPROCS.
		Workers int `env:"EVAL_WORKER_COUNT" envDefault:"0"`
	}
	Optimizer struct {
		// Method is "compass", "gradient" or "neldermead".
		Method               string  `env:"OPT_METHOD" envDefault:"compass"`
		MaxIterations        int     `env:"OPT_MAX_ITERATIONS" envDefault:"200"`
		InitialStep          float64 `env:"OPT_INITIAL_STEP" envDefault:"0.25"`
		StepTolerance        float64 `env:"OPT_STEP_TOLERANCE" envDefault:"1e-6"`
		ObjectiveTolerance   float64 `env:"OPT_OBJECTIVE_TOLERANCE" envDefault:"1e-9"`
		MaxObjectiveFailures int     `env:"OPT_MAX_OBJECTIVE_FAILURES" envDefault:"5"`
		GradientStep         float64 `env:"OPT_GRADIENT_STEP" envDefault:"1e-6"`
	}
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
