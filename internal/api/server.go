// Package api provides the HTTP front end over internal/server: list and
// unload models (the load route answers 501 Not Implemented), open/close
// sessions, submit requests synchronously or asynchronously, discard
// in-flight work, plus health and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/tutu-infer/internal/health"
	"github.com/tutu-network/tutu-infer/internal/server"
)

// Server is the HTTP API server wrapping a core server.Server.
type Server struct {
	core           *server.Server
	checker        *health.Checker
	metricsEnabled bool
}

// NewServer creates an HTTP API server over core. checker may be nil, in
// which case /health always reports ok.
func NewServer(core *server.Server, checker *health.Checker) *Server {
	return &Server{core: core, checker: checker}
}

// EnableMetrics turns on the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", s.handleListModels)
		r.Post("/models/{key}/load", s.handleLoadModel)
		r.Delete("/models/{key}", s.handleUnloadModel)
		r.Delete("/models", s.handleClearModels)

		r.Post("/sessions", s.handleCreateSession)
		r.Delete("/sessions/{id}", s.handleDestroySession)

		r.Post("/sessions/{id}/infer", s.handleInfer)
		r.Post("/sessions/{id}/infer/sync", s.handleInferSync)
		r.Post("/sessions/{id}/tasks/{tag}/discard", s.handleDiscard)
		r.Get("/sessions/{id}/tasks/{tag}", s.handleTaskStatus)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil || s.checker.IsHealthy() {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"status": "unhealthy",
		"checks": s.checker.Statuses(),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.core.LoadedModels()})
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "loading a model requires a process-specific stage wiring; build a server.LoadConfig in code and call Server.LoadModel directly")
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.core.UnloadModel(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "unloaded"})
}

func (s *Server) handleClearModels(w http.ResponseWriter, r *http.Request) {
	s.core.ClearModelCache()
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

type createSessionRequest struct {
	ModelKey string `json:"model_key"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.core.CreateSession(req.ModelKey, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": id})
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.core.DestroySession(id, 30*time.Second); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "destroyed"})
}

type inferRequest struct {
	Priority int `json:"priority"`
}

// handleInfer and handleInferSync don't decode a tensor payload from the
// HTTP body — the core's in-process API takes membuf.ModelIO directly,
// and no wire tensor format is in scope here; callers embedding this HTTP
// front end are expected to populate the []membuf.ModelIO themselves and
// call core.Request/RequestSync directly for anything beyond priority and
// routing.
func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req inferRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	tag, err := s.core.Request(r.Context(), id, req.Priority, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"tag": tag})
}

func (s *Server) handleInferSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req inferRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	_, status, err := s.core.RequestSync(r.Context(), id, req.Priority, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status.String()})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tag := chi.URLParam(r, "tag")
	if err := s.core.DiscardTask(id, tag); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "discarded"})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tag := chi.URLParam(r, "tag")
	status, err := s.core.WaitTaskDone(r.Context(), id, tag)
	if err != nil {
		writeError(w, http.StatusRequestTimeout, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
