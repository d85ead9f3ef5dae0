// Package api provides the HTTP server for the task runtime daemon:
// status, pool control, task history and metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	makeparallel "github.com/amiyamandal-dev/makeParallel"
	"github.com/amiyamandal-dev/makeParallel/internal/history"
)

// Server is the runtime HTTP API server.
type Server struct {
	rt             *makeparallel.Runtime
	hist           *history.DB // nil when history is disabled
	logger         *zap.Logger
	metricsEnabled bool
}

// NewServer creates a new API server around a runtime.
func NewServer(rt *makeparallel.Runtime, hist *history.DB, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{rt: rt, hist: hist, logger: logger}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetricsSnapshot)
		r.Delete("/metrics", s.handleMetricsReset)
		r.Get("/pool", s.handlePoolInfo)
		r.Post("/pool", s.handlePoolResize)
		r.Get("/tasks", s.handleTasks)
		r.Get("/tasks/{id}", s.handleTaskByID)
		r.Post("/tasks/demo", s.handleDemoTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)
		r.Post("/priority-worker/start", s.handlePriorityStart)
		r.Post("/priority-worker/stop", s.handlePriorityStop)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := s.rt.PoolInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"active_tasks":            s.rt.ActiveTasks(),
		"in_flight":               s.rt.InFlight(),
		"pool":                    info,
		"priority_worker_running": s.rt.PriorityWorkerRunning(),
		"priority_queue_depth":    s.rt.PriorityQueueLen(),
		"shutdown":                s.rt.IsShutdown(),
	})
}

func (s *Server) handleMetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.AllMetrics())
}

func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Names []string `json:"names"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body = reset all
	}
	s.rt.ResetMetrics(req.Names...)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handlePoolInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rt.PoolInfo())
}

func (s *Server) handlePoolResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Workers int `json:"workers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Workers < 1 {
		writeError(w, http.StatusBadRequest, "workers must be >= 1")
		return
	}
	s.rt.ConfigureWorkers(req.Workers)
	writeJSON(w, http.StatusOK, s.rt.PoolInfo())
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"active": s.rt.ActiveTasks(),
	}
	if s.hist != nil {
		recent, err := s.hist.Recent(50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		counts, err := s.hist.CountByStatus()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["recent"] = recent
		resp["counts"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.hist == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	rec, err := s.hist.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDemoTask submits a sleep task, a smoke test for the whole
// submission path without shipping code over HTTP.
func (s *Server) handleDemoTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		DurationMS int    `json:"duration_ms"`
		Priority   *int   `json:"priority"`
		TimeoutMS  int    `json:"timeout_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		req.Name = "demo"
	}
	if req.DurationMS < 0 {
		req.DurationMS = 0
	}

	sleep := time.Duration(req.DurationMS) * time.Millisecond
	body := func(ctx context.Context) (any, error) {
		steps := 10
		for i := 1; i <= steps; i++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep / time.Duration(steps)):
			}
			_ = s.rt.ReportProgress(ctx, float64(i)/float64(steps))
		}
		return map[string]any{"slept_ms": req.DurationMS}, nil
	}

	opts := []makeparallel.TaskOption{makeparallel.WithName(req.Name)}
	if req.TimeoutMS > 0 {
		opts = append(opts, makeparallel.WithTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}

	var h *makeparallel.Handle
	var err error
	if req.Priority != nil {
		h, err = s.rt.SubmitPriority(body, *req.Priority, opts...)
	} else {
		h, err = s.rt.Submit(body, opts...)
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.logger.Info("demo task submitted",
		zap.String("task_id", h.ID()),
		zap.String("name", h.Name()))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     h.ID(),
		"name":   h.Name(),
		"status": h.Status(),
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rt.CancelByID(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel requested"})
}

func (s *Server) handlePriorityStart(w http.ResponseWriter, r *http.Request) {
	s.rt.StartPriorityWorker()
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (s *Server) handlePriorityStop(w http.ResponseWriter, r *http.Request) {
	s.rt.StopPriorityWorker()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
