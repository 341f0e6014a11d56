// Package server is the top-level entry point: it loads model pipelines,
// hands out sessions bound to them, and routes requests through to the
// engine/cache/executor/session machinery underneath.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/tutu-infer/internal/cache"
	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/engine"
	"github.com/tutu-network/tutu-infer/internal/executor"
	"github.com/tutu-network/tutu-infer/internal/membuf"
	"github.com/tutu-network/tutu-infer/internal/pool"
	"github.com/tutu-network/tutu-infer/internal/session"
)

// LoadConfig describes how to build a model pipeline's runtime shape:
// which stages make up the pipeline, how many parallel engine instances
// to fork, the batching strategy, batch size, and batch-assembly timeout
// (meaningful only for domain.Dynamic).
type LoadConfig struct {
	Info          domain.ModelInfo
	Stages        []engine.NamedStage
	EngineNum     int
	EngineDepth   int // max in-flight packages per engine
	BatchTimeout  time.Duration
	ExecutorCap   int // max in-flight packages across the whole model
}

// Server owns the shared worker pool, the bounded model cache, and every
// live session.
type Server struct {
	pool  *pool.Pool
	cache *modelCache

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	sess     *session.Session
	modelKey string
}

// New creates a Server with a worker pool of poolWorkers goroutines.
func New(poolWorkers int) *Server {
	return &Server{
		pool:     pool.New(poolWorkers, nil),
		cache:    newModelCache(),
		sessions: make(map[string]*sessionEntry),
	}
}

// Autoscale runs the shared pool's queue-depth-driven resize loop. It
// blocks until ctx is cancelled, so call it once, in a goroutine.
func (s *Server) Autoscale(ctx context.Context, cfg pool.AutoscaleConfig) {
	s.pool.Autoscale(ctx, cfg)
}

// WorkerCount returns the shared pool's current worker count, for wiring
// into a health.ThreadPoolCheck.
func (s *Server) WorkerCount() int {
	return s.pool.Workers()
}

// LoadModel builds and registers a pipeline under key, evicting the
// least-recently-used unused model if the cache is at MODEL_CACHE_LIMIT.
func (s *Server) LoadModel(key string, cfg LoadConfig) error {
	if len(cfg.Stages) == 0 {
		return fmt.Errorf("server: model %q has no stages", key)
	}
	if cfg.EngineNum < 1 {
		cfg.EngineNum = 1
	}
	if cfg.EngineDepth < 1 {
		cfg.EngineDepth = cfg.Info.BatchSize
		if cfg.EngineDepth < 1 {
			cfg.EngineDepth = 1
		}
	}

	base := engine.New(s.pool, cfg.EngineDepth, cfg.Stages...)
	engines := make([]*engine.Engine, cfg.EngineNum)
	engines[0] = base
	for i := 1; i < cfg.EngineNum; i++ {
		engines[i] = base.Fork()
	}

	var c cache.Cache
	if cfg.Info.Strategy == domain.Static {
		c = cache.NewStatic(cfg.Info.BatchSize)
	} else {
		timeout := cfg.BatchTimeout
		if timeout <= 0 {
			timeout = 20 * time.Millisecond
		}
		c = cache.NewDynamic(cfg.Info.BatchSize, timeout)
	}

	runners := make([]executor.Runner, len(engines))
	for i, e := range engines {
		runners[i] = e
	}

	execCap := cfg.ExecutorCap
	if execCap < 1 {
		execCap = cfg.EngineNum * cfg.EngineDepth
	}
	exec := executor.New(c, runners, execCap)
	exec.Run()

	entry := &modelEntry{
		key:     key,
		info:    cfg.Info,
		engines: engines,
		c:       c,
		exec:    exec,
	}
	return s.cache.insert(entry)
}

// UnloadModel force-unloads key regardless of in-use sessions' refcount,
// stopping its executor and cache. Sessions still bound to it will start
// returning errors on Send.
func (s *Server) UnloadModel(key string) error {
	if !s.cache.remove(key) {
		return fmt.Errorf("server: model %q not loaded", key)
	}
	return nil
}

// ClearModelCache unloads every model.
func (s *Server) ClearModelCache() {
	s.cache.clear()
}

// LoadedModels returns the keys of every currently loaded model.
func (s *Server) LoadedModels() []string {
	return s.cache.keys()
}

// CreateSession opens a session bound to modelKey, delivering completed
// requests to onResponse in FIFO submission order. The returned id is used
// with Request/RequestSync/WaitTaskDone/DiscardTask/DestroySession.
func (s *Server) CreateSession(modelKey string, onResponse session.ResponseFunc) (string, error) {
	entry, ok := s.cache.acquire(modelKey)
	if !ok {
		return "", fmt.Errorf("server: model %q not loaded", modelKey)
	}

	sess := session.New(entry.exec, s.pool, onResponse)
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = &sessionEntry{sess: sess, modelKey: modelKey}
	s.mu.Unlock()
	return id, nil
}

// DestroySession closes the session, waiting up to timeout for its
// in-flight requests to drain before returning, and releases its
// reference on the underlying model.
func (s *Server) DestroySession(sessionID string, timeout time.Duration) error {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("server: session %q not found", sessionID)
	}
	e.sess.Close(timeout)
	s.cache.release(e.modelKey)
	return nil
}

func (s *Server) lookup(sessionID string) (*session.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("server: session %q not found", sessionID)
	}
	return e.sess, nil
}

// Request submits ios asynchronously at the given base priority (clamped
// to [0,9]; see domain.NewPriority), returning a tag WaitTaskDone or
// DiscardTask can reference. The result is delivered later through the
// session's onResponse callback.
func (s *Server) Request(ctx context.Context, sessionID string, basePriority int, ios []membuf.ModelIO) (string, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	return sess.Send(ctx, domain.NewPriority(basePriority), ios)
}

// RequestSync submits ios and blocks until the request completes or ctx is
// cancelled, returning its outputs directly instead of going through the
// session's async onResponse callback.
func (s *Server) RequestSync(ctx context.Context, sessionID string, basePriority int, ios []membuf.ModelIO) ([]membuf.ModelIO, domain.Status, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, domain.StatusInvalidParam, err
	}
	return sess.SendSync(ctx, domain.NewPriority(basePriority), ios)
}

// WaitTaskDone blocks until the request identified by tag, sent through
// sessionID, has completed.
func (s *Server) WaitTaskDone(ctx context.Context, sessionID, tag string) (domain.Status, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return domain.StatusInvalidParam, err
	}
	return sess.WaitTaskDone(ctx, tag)
}

// DiscardTask withdraws every not-yet-processed item of tag within
// sessionID.
func (s *Server) DiscardTask(sessionID, tag string) error {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.DiscardTask(tag)
	return nil
}
