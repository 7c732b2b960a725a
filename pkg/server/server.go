// Package server exposes the runner over HTTP: plan submission, run
// status, and live log streaming for planner frontends.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stepguard-dev/stepguard/pkg/core"
	"github.com/stepguard-dev/stepguard/pkg/logger"
	"github.com/stepguard-dev/stepguard/pkg/scenario"
)

// PlanRunner executes one plan. Satisfied by executor.Runner.
type PlanRunner interface {
	Run(ctx context.Context, plan *scenario.Plan) (*core.RunResult, error)
}

// Progress receives live execution events for a run; the server feeds
// them into the run's log stream.
type Progress struct {
	OnScenarioStart func(idx, total int, id, title string)
	OnStepComplete  func(scenarioID string, res core.StepResult)
	OnScenarioEnd   func(res core.ScenarioResult)
}

// RunnerFactory builds a runner wired to the given progress sink. The
// server calls it once per accepted run.
type RunnerFactory func(progress Progress) (PlanRunner, error)

// Options tune the server. Zero fields take defaults.
type Options struct {
	Addr          string
	RatePerSecond float64
	RateBurst     int
	ShutdownGrace time.Duration
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		Addr:          ":8780",
		RatePerSecond: 5,
		RateBurst:     10,
		ShutdownGrace: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Addr == "" {
		o.Addr = def.Addr
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = def.RatePerSecond
	}
	if o.RateBurst <= 0 {
		o.RateBurst = def.RateBurst
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = def.ShutdownGrace
	}
	return o
}

// Server owns the HTTP surface and the run registry. One run executes
// at a time; the device session cannot be shared.
type Server struct {
	opts    Options
	factory RunnerFactory
	log     *logger.Logger

	mu       sync.Mutex
	runs     map[string]*runState
	active   bool
	limiters map[string]*rate.Limiter

	httpSrv *http.Server
}

// New builds a server around a runner factory.
func New(factory RunnerFactory, opts Options, log *logger.Logger) *Server {
	s := &Server{
		opts:     opts.withDefaults(),
		factory:  factory,
		log:      log.WithComponent("server"),
		runs:     make(map[string]*runState),
		limiters: make(map[string]*rate.Limiter),
	}
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("GET /runs/{id}", s.handleRunStatus)
	mux.HandleFunc("GET /runs/{id}/logs", s.handleRunLogs)
	return s.withLogging(s.withRateLimit(mux))
}

// Serve listens until the context is cancelled, then drains with the
// configured grace period.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", map[string]interface{}{"addr": s.opts.Addr})
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down", map[string]interface{}{
		"grace": s.opts.ShutdownGrace.String(),
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRun accepts a plan, spawns the run, and answers immediately.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var plan scenario.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot parse plan: %v", err))
		return
	}
	if err := plan.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	st := newRunState(&plan)
	s.runs[st.id] = st
	s.active = true
	s.mu.Unlock()

	runner, err := s.factory(Progress{
		OnScenarioStart: func(idx, total int, id, title string) {
			st.appendLog(fmt.Sprintf("scenario %d/%d started: %s", idx+1, total, title))
		},
		OnStepComplete: func(scenarioID string, res core.StepResult) {
			st.appendLog(fmt.Sprintf("[%s] step %s: %s (%d cycles)",
				scenarioID, res.StepID, res.Status, res.Cycles))
		},
		OnScenarioEnd: func(res core.ScenarioResult) {
			st.appendLog(fmt.Sprintf("scenario %s finished: %s", res.ScenarioID, res.Status))
		},
	})
	if err != nil {
		s.finishRun(st, nil, err)
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("cannot start runner: %v", err))
		return
	}

	go func() {
		st.appendLog("run accepted")
		result, runErr := runner.Run(context.Background(), &plan)
		s.finishRun(st, result, runErr)
	}()

	s.log.Info("run accepted", map[string]interface{}{
		"run":       st.id,
		"goal":      plan.Goal,
		"scenarios": len(plan.Scenarios),
	})
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": st.id,
		"status": "started",
	})
}

func (s *Server) finishRun(st *runState, result *core.RunResult, err error) {
	st.finish(result, err)
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	st := s.lookup(r.PathValue("id"))
	if st == nil {
		writeError(w, http.StatusNotFound, "unknown run")
		return
	}
	writeJSON(w, http.StatusOK, st.view())
}

// handleRunLogs streams the run's log lines as server-sent events,
// replaying history first, until the run finishes or the client leaves.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	st := s.lookup(r.PathValue("id"))
	if st == nil {
		writeError(w, http.StatusNotFound, "unknown run")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	history, ch, done, unsubscribe := st.subscribe()
	defer unsubscribe()

	for _, line := range history {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
	flusher.Flush()
	if done {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case line, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}

func (s *Server) lookup(id string) *runState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// limiter returns the per-client limiter, keyed by remote IP.
func (s *Server) limiter(remoteAddr string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.opts.RatePerSecond), s.opts.RateBurst)
		s.limiters[host] = lim
	}
	return lim
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter(r.RemoteAddr).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
			"remote":   r.RemoteAddr,
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE keeps working behind the
// logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
