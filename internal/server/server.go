// Package server exposes the response-optimization engine over HTTP:
// synchronous spectrum evaluation plus asynchronous optimization jobs
// with status and cancellation.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/cmplx"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/moritz343/response-optimization/internal/config"
	"github.com/moritz343/response-optimization/internal/dynamics"
	"github.com/moritz343/response-optimization/internal/errors"
	"github.com/moritz343/response-optimization/internal/logging"
	"github.com/moritz343/response-optimization/internal/optimization"
	"github.com/moritz343/response-optimization/internal/optimization/search"
)

var optimizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "respopt",
	Subsystem: "server",
	Name:      "optimization_duration_seconds",
	Help:      "Wall time of completed optimization jobs.",
	Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
})

// Job tracks one asynchronous optimization run. Guarded by the server's
// job mutex.
type Job struct {
	ID          string
	Status      string // "pending", "running", "completed", "failed", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	Result      *optimization.Result
	Spectrum    *dynamics.Spectrum
	Error       string
	optimizer   optimization.Optimizer
	cancelFunc  context.CancelFunc
	lastUpdated time.Time
}

// Server implements the HTTP surface over the response engine.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger
	zlog   *zap.Logger

	jobs   map[string]*Job
	jobsMu sync.RWMutex
}

// NewServer creates a server instance with the given config and logger.
func NewServer(cfg *config.Config, logger *logging.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		zlog:   logging.NewZapLogger(logger),
		jobs:   make(map[string]*Job),
	}
}

// RegisterRoutes mounts the API routes.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/response", s.handleResponse)
		r.Post("/optimize", s.handleOptimize)
		r.Get("/optimization/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
	})
}

// Close cancels all running jobs.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for _, job := range s.jobs {
		if job.cancelFunc != nil {
			job.cancelFunc()
		}
	}
	return nil
}

// --- request/response DTOs ---

type connectorRequest struct {
	I         int     `json:"i"`
	J         *int    `json:"j"` // null means ground
	Stiffness float64 `json:"stiffness"`
	Damping   float64 `json:"damping"`
}

type modelRequest struct {
	Masses     []float64          `json:"masses"`
	Connectors []connectorRequest `json:"connectors"`
}

type gridRequest struct {
	// Omega is the explicit grid; alternatively Min/Max/Count expand to
	// a uniform grid before reaching the engine.
	Omega []float64 `json:"omega,omitempty"`
	Min   float64   `json:"min,omitempty"`
	Max   float64   `json:"max,omitempty"`
	Count int       `json:"count,omitempty"`
}

type forcingRequest struct {
	// Amplitude/Phase give per-DOF harmonic forcing, constant over the
	// grid. BaseExcitation instead drives every DOF by its own mass.
	Amplitude      []float64 `json:"amplitude,omitempty"`
	Phase          []float64 `json:"phase,omitempty"`
	BaseExcitation bool      `json:"base_excitation,omitempty"`
}

type objectiveRequest struct {
	Quantity    string    `json:"quantity"`
	Reduction   string    `json:"reduction"`
	DOFs        []int     `json:"dofs"`
	Frequencies []float64 `json:"frequencies,omitempty"`
	PSD         []float64 `json:"psd,omitempty"`
}

type variableRequest struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"` // "stiffness", "damping", "mass"
	Index   int      `json:"index"`
	Lower   float64  `json:"lower"`
	Upper   float64  `json:"upper"`
	Initial *float64 `json:"initial,omitempty"`
}

type optimizerRequest struct {
	Method             string  `json:"method,omitempty"`
	MaxIterations      int     `json:"max_iterations,omitempty"`
	InitialStep        float64 `json:"initial_step,omitempty"`
	StepTolerance      float64 `json:"step_tolerance,omitempty"`
	ObjectiveTolerance float64 `json:"objective_tolerance,omitempty"`
}

type optimizeRequest struct {
	Model     modelRequest      `json:"model"`
	Grid      gridRequest       `json:"grid"`
	Forcing   forcingRequest    `json:"forcing"`
	Objective objectiveRequest  `json:"objective"`
	Variables []variableRequest `json:"variables"`
	Optimizer optimizerRequest  `json:"optimizer"`
}

type responseRequest struct {
	Model   modelRequest   `json:"model"`
	Grid    gridRequest    `json:"grid"`
	Forcing forcingRequest `json:"forcing"`
}

type spectrumResponse struct {
	Omega      []float64            `json:"omega"`
	Magnitudes map[string][]float64 `json:"magnitudes"`
	Real       map[string][]float64 `json:"real"`
	Imag       map[string][]float64 `json:"imag"`
}

// --- request decoding ---

func (r modelRequest) toModel() (*dynamics.Model, error) {
	if len(r.Masses) == 0 {
		return nil, fmt.Errorf("model has no masses")
	}
	m := &dynamics.Model{
		DOFs:       make([]dynamics.DOF, len(r.Masses)),
		Connectors: make([]dynamics.Connector, len(r.Connectors)),
	}
	for i, mass := range r.Masses {
		m.DOFs[i] = dynamics.DOF{Mass: mass}
	}
	for i, c := range r.Connectors {
		j := dynamics.Ground
		if c.J != nil {
			j = *c.J
		}
		m.Connectors[i] = dynamics.Connector{I: c.I, J: j, Stiffness: c.Stiffness, Damping: c.Damping}
	}
	return m, m.Validate()
}

func (r gridRequest) toGrid() ([]float64, error) {
	if len(r.Omega) > 0 {
		return r.Omega, dynamics.ValidateGrid(r.Omega)
	}
	if r.Count < 2 || r.Max <= r.Min || r.Min < 0 {
		return nil, fmt.Errorf("grid needs either an explicit omega list or min < max with count >= 2")
	}
	grid := make([]float64, r.Count)
	step := (r.Max - r.Min) / float64(r.Count-1)
	for i := range grid {
		grid[i] = r.Min + float64(i)*step
	}
	return grid, dynamics.ValidateGrid(grid)
}

func (r forcingRequest) toForcing(m *dynamics.Model) (dynamics.Forcing, error) {
	if r.BaseExcitation {
		return dynamics.BaseExcitation(m), nil
	}
	if len(r.Amplitude) != m.Size() {
		return nil, fmt.Errorf("forcing amplitude has %d entries for %d dofs", len(r.Amplitude), m.Size())
	}
	if r.Phase != nil && len(r.Phase) != m.Size() {
		return nil, fmt.Errorf("forcing phase has %d entries for %d dofs", len(r.Phase), m.Size())
	}
	amp := make([]complex128, m.Size())
	for i, a := range r.Amplitude {
		if r.Phase != nil {
			amp[i] = cmplx.Rect(a, r.Phase[i])
		} else {
			amp[i] = complex(a, 0)
		}
	}
	return dynamics.ConstantForcing(amp), nil
}

func (r objectiveRequest) toSpec() (optimization.ObjectiveSpec, error) {
	quantity, err := optimization.ParseQuantity(r.Quantity)
	if err != nil {
		return optimization.ObjectiveSpec{}, err
	}
	reduction, err := optimization.ParseReduction(r.Reduction)
	if err != nil {
		return optimization.ObjectiveSpec{}, err
	}
	return optimization.ObjectiveSpec{
		Quantity:    quantity,
		Reduction:   reduction,
		DOFs:        r.DOFs,
		Frequencies: r.Frequencies,
		PSD:         r.PSD,
	}, nil
}

func toVariables(reqs []variableRequest) ([]dynamics.DesignVariable, error) {
	vars := make([]dynamics.DesignVariable, len(reqs))
	for i, v := range reqs {
		var kind dynamics.ParamKind
		switch v.Kind {
		case "stiffness":
			kind = dynamics.ParamStiffness
		case "damping":
			kind = dynamics.ParamDamping
		case "mass":
			kind = dynamics.ParamMass
		default:
			return nil, fmt.Errorf("variable %d has unknown kind %q", i, v.Kind)
		}
		vars[i] = dynamics.DesignVariable{Name: v.Name, Kind: kind, Index: v.Index, Lower: v.Lower, Upper: v.Upper}
	}
	return vars, nil
}

// newEvaluator builds the sweep pipeline from the service config.
func (s *Server) newEvaluator() (*dynamics.Evaluator, error) {
	policy, err := dynamics.ParseSingularityPolicy(s.cfg.Solver.SingularityPolicy)
	if err != nil {
		return nil, err
	}
	solver := dynamics.NewSolver(s.cfg.Solver.CondLimit, s.zlog)
	return dynamics.NewEvaluator(solver, dynamics.EvaluatorConfig{
		Workers:          s.cfg.Evaluator.Workers,
		Policy:           policy,
		PenaltyMagnitude: s.cfg.Solver.PenaltyMagnitude,
	}, s.zlog), nil
}

func (s *Server) buildProblem(req optimizeRequest) (*optimization.Problem, []float64, error) {
	model, err := req.Model.toModel()
	if err != nil {
		return nil, nil, err
	}
	grid, err := req.Grid.toGrid()
	if err != nil {
		return nil, nil, err
	}
	forcing, err := req.Forcing.toForcing(model)
	if err != nil {
		return nil, nil, err
	}
	spec, err := req.Objective.toSpec()
	if err != nil {
		return nil, nil, err
	}
	vars, err := toVariables(req.Variables)
	if err != nil {
		return nil, nil, err
	}
	if len(vars) == 0 {
		return nil, nil, fmt.Errorf("no design variables")
	}
	evaluator, err := s.newEvaluator()
	if err != nil {
		return nil, nil, err
	}

	problem := &optimization.Problem{
		Model:     model,
		Variables: vars,
		Grid:      grid,
		Forcing:   forcing,
		Spec:      spec,
		Evaluator: evaluator,
	}
	if err := problem.Validate(); err != nil {
		return nil, nil, err
	}

	initial := problem.InitialPoint()
	for i, v := range req.Variables {
		if v.Initial != nil {
			initial[i] = *v.Initial
		}
	}
	optimization.Clip(initial, problem.Bounds())
	return problem, initial, nil
}

// --- handlers ---

// handleResponse computes a response spectrum synchronously.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	var req responseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	model, err := req.Model.toModel()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	grid, err := req.Grid.toGrid()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	forcing, err := req.Forcing.toForcing(model)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	evaluator, err := s.newEvaluator()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	sys, err := dynamics.Assemble(model)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	sp, err := evaluator.Evaluate(r.Context(), sys, grid, forcing)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if dynamics.IsInvalidModel(err) {
			status = http.StatusBadRequest
		}
		s.respondError(w, status, err)
		return
	}

	s.respondJSON(w, http.StatusOK, encodeSpectrum(sp))
}

// handleOptimize starts an asynchronous optimization job.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	problem, initial, err := s.buildProblem(req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	optCfg := optimization.OptimizerConfig{
		Objective:            problem.ObjectiveFunc(),
		Gradient:             problem.GradientFunc(s.cfg.Optimizer.GradientStep),
		Bounds:               problem.Bounds(),
		Initial:              initial,
		MaxIterations:        s.cfg.Optimizer.MaxIterations,
		InitialStep:          s.cfg.Optimizer.InitialStep,
		StepTolerance:        s.cfg.Optimizer.StepTolerance,
		ObjectiveTolerance:   s.cfg.Optimizer.ObjectiveTolerance,
		MaxObjectiveFailures: s.cfg.Optimizer.MaxObjectiveFailures,
	}
	if req.Optimizer.MaxIterations > 0 {
		optCfg.MaxIterations = req.Optimizer.MaxIterations
	}
	if req.Optimizer.InitialStep > 0 {
		optCfg.InitialStep = req.Optimizer.InitialStep
	}
	if req.Optimizer.StepTolerance > 0 {
		optCfg.StepTolerance = req.Optimizer.StepTolerance
	}
	if req.Optimizer.ObjectiveTolerance > 0 {
		optCfg.ObjectiveTolerance = req.Optimizer.ObjectiveTolerance
	}

	method := req.Optimizer.Method
	if method == "" {
		method = s.cfg.Optimizer.Method
	}
	optimizer, err := search.New(method, optCfg)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:          fmt.Sprintf("opt_%d", time.Now().UnixNano()),
		Status:      "pending",
		StartTime:   time.Now(),
		optimizer:   optimizer,
		cancelFunc:  cancel,
		lastUpdated: time.Now(),
	}

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	go s.runJob(ctx, job, problem, optCfg)

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"optimization_id": job.ID,
		"status":          job.Status,
	})
}

// runJob executes one optimization and records the result, including
// the response spectrum re-evaluated at the optimum.
func (s *Server) runJob(ctx context.Context, job *Job, problem *optimization.Problem, cfg optimization.OptimizerConfig) {
	defer func() {
		if rec := recover(); rec != nil {
			s.jobsMu.Lock()
			job.Status = "failed"
			job.Error = fmt.Sprintf("panic: %v", rec)
			now := time.Now()
			job.EndTime = &now
			job.lastUpdated = now
			s.jobsMu.Unlock()
			s.logger.Error("optimization job panicked", map[string]interface{}{
				"job_id": job.ID,
				"panic":  fmt.Sprintf("%v", rec),
			})
		}
	}()

	s.jobsMu.Lock()
	job.Status = "running"
	job.lastUpdated = time.Now()
	s.jobsMu.Unlock()

	start := time.Now()
	result, err := job.optimizer.Optimize(ctx, cfg)
	optimizationDuration.Observe(time.Since(start).Seconds())

	var spectrum *dynamics.Spectrum
	if result != nil && result.BestSolution != nil {
		// Round-trip the optimum through the full chain so the reported
		// spectrum matches the recorded objective value.
		if _, sp, sperr := problem.Evaluate(context.Background(), result.BestSolution.Parameters); sperr == nil {
			spectrum = sp
		}
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job.Result = result
	job.Spectrum = spectrum
	now := time.Now()
	job.EndTime = &now
	job.lastUpdated = now

	switch {
	case result != nil && result.State == optimization.StateCancelled:
		job.Status = "cancelled"
	case err != nil:
		job.Status = "failed"
		werr := errors.Wrap(err, "optimization run failed").
			WithOperation("runJob").
			WithComponent("server")
		job.Error = werr.Error()
		s.logger.Error("optimization job failed", map[string]interface{}{
			"job_id": job.ID,
			"error":  werr.Error(),
		})
	default:
		job.Status = "completed"
		s.logger.Info("optimization job completed", map[string]interface{}{
			"job_id":     job.ID,
			"state":      string(result.State),
			"iterations": result.Iterations,
			"objective":  result.BestSolution.Value,
		})
	}
}

// handleStatus reports job progress and, once terminal, the result.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("optimization %q not found", id))
		return
	}

	resp := map[string]interface{}{
		"optimization_id": job.ID,
		"status":          job.Status,
		"start_time":      job.StartTime.Format(time.RFC3339),
		"last_update":     job.lastUpdated.Format(time.RFC3339),
	}
	if job.EndTime != nil {
		resp["end_time"] = job.EndTime.Format(time.RFC3339)
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.Result != nil {
		resp["state"] = string(job.Result.State)
		resp["iterations"] = job.Result.Iterations
		if job.Result.BestSolution != nil {
			resp["best_solution"] = job.Result.BestSolution
		}
	} else if best := job.optimizer.BestSolution(); best != nil {
		resp["current_best"] = best
	}
	if job.Spectrum != nil {
		resp["spectrum"] = encodeSpectrum(job.Spectrum)
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// handleCancel requests cancellation of a running job.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("optimization %q not found", id))
		return
	}
	switch job.Status {
	case "completed", "failed", "cancelled":
		s.respondError(w, http.StatusConflict, fmt.Errorf("optimization already %s", job.Status))
		return
	}
	if job.cancelFunc != nil {
		job.cancelFunc()
	}
	job.lastUpdated = time.Now()

	s.logger.Info("optimization cancellation requested", map[string]interface{}{
		"job_id": id,
	})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

// --- helpers ---

func encodeSpectrum(sp *dynamics.Spectrum) spectrumResponse {
	resp := spectrumResponse{
		Omega:      sp.Omega,
		Magnitudes: make(map[string][]float64),
		Real:       make(map[string][]float64),
		Imag:       make(map[string][]float64),
	}
	if len(sp.X) == 0 {
		return resp
	}
	n := len(sp.X[0])
	for d := 0; d < n; d++ {
		key := fmt.Sprintf("%d", d)
		mag := make([]float64, len(sp.Omega))
		re := make([]float64, len(sp.Omega))
		im := make([]float64, len(sp.Omega))
		for i, row := range sp.X {
			mag[i] = cmplx.Abs(row[d])
			re[i] = real(row[d])
			im[i] = imag(row[d])
		}
		resp.Magnitudes[key] = mag
		resp.Real[key] = re
		resp.Imag[key] = im
	}
	return resp
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("request rejected", map[string]interface{}{
		"status": status,
		"error":  err.Error(),
	})
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
