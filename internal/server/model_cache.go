package server

import (
	"container/list"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tutu-network/tutu-infer/internal/cache"
	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/engine"
	"github.com/tutu-network/tutu-infer/internal/executor"
)

// modelCacheLimitEnv names the environment variable that bounds how many
// distinct model pipelines the server keeps warm at once.
const modelCacheLimitEnv = "MODEL_CACHE_LIMIT"

// defaultModelCacheLimit is used when modelCacheLimitEnv is unset or
// invalid.
const defaultModelCacheLimit = 10

func modelCacheLimit() int {
	if v := os.Getenv(modelCacheLimitEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultModelCacheLimit
}

// modelEntry is one loaded pipeline: its engines, cache and executor, plus
// the LRU/refcount bookkeeping the modelCache evicts by.
type modelEntry struct {
	key      string
	info     domain.ModelInfo
	engines  []*engine.Engine
	c        cache.Cache
	exec     *executor.Executor
	refCount int32
	element  *list.Element
}

// modelCache is a process-local, bounded registry of loaded pipelines,
// evicting the least-recently-used entry that no session holds (refcount
// 1, the cache's own reference) when a new load would exceed its limit. Structurally this is the teacher's LRU
// model pool (hash map + doubly-linked list, O(1) acquire/evict),
// generalized from "one loaded LLM" to "one loaded inference pipeline."
type modelCache struct {
	mu    sync.Mutex
	limit int
	byKey map[string]*modelEntry
	lru   *list.List
}

func newModelCache() *modelCache {
	return &modelCache{
		limit: modelCacheLimit(),
		byKey: make(map[string]*modelEntry),
		lru:   list.New(),
	}
}

// acquire returns the entry for key, incrementing its refcount, or
// (nil, false) if it isn't loaded.
func (m *modelCache) acquire(key string) (*modelEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byKey[key]
	if !ok {
		return nil, false
	}
	atomic.AddInt32(&e.refCount, 1)
	m.lru.MoveToFront(e.element)
	return e, true
}

// insert registers a newly-built entry, evicting the least-recently-used
// entry no session holds first if the cache is already at its limit.
func (m *modelCache) insert(e *modelEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byKey[e.key]; exists {
		return fmt.Errorf("server: model %q already loaded", e.key)
	}

	for len(m.byKey) >= m.limit {
		if !m.evictOneLocked() {
			return fmt.Errorf("server: model cache full (limit %d) and every entry is in use", m.limit)
		}
	}

	e.refCount = 1
	e.element = m.lru.PushFront(e)
	m.byKey[e.key] = e
	return nil
}

// evictOneLocked removes the least-recently-used entry with refCount == 1:
// insert gives every entry that one reference for the cache itself, and
// each CreateSession adds one more until DestroySession releases it.
// Caller holds m.mu.
func (m *modelCache) evictOneLocked() bool {
	for el := m.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*modelEntry)
		if atomic.LoadInt32(&e.refCount) == 1 {
			m.stopEntry(e)
			m.lru.Remove(el)
			delete(m.byKey, e.key)
			return true
		}
	}
	return false
}

func (m *modelCache) stopEntry(e *modelEntry) {
	e.exec.Stop()
}

// release decrements key's refcount. It does not evict — eviction only
// happens lazily, on the next insert that needs room.
func (m *modelCache) release(key string) {
	m.mu.Lock()
	e, ok := m.byKey[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	atomic.AddInt32(&e.refCount, -1)
}

// remove force-unloads key regardless of refcount, stopping its executor.
func (m *modelCache) remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byKey[key]
	if !ok {
		return false
	}
	m.stopEntry(e)
	m.lru.Remove(e.element)
	delete(m.byKey, key)
	return true
}

// clear force-unloads every entry.
func (m *modelCache) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.byKey {
		m.stopEntry(e)
		delete(m.byKey, key)
	}
	m.lru = list.New()
}

// keys returns every currently loaded model key.
func (m *modelCache) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.byKey))
	for k := range m.byKey {
		out = append(out, k)
	}
	return out
}
