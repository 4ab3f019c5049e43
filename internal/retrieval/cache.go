package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// Store backends accepted by OpenStore.
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// StoreConfig selects and locates the vector store.
type StoreConfig struct {
	Backend    string
	PersistDir string
	QdrantAddr string
	Collection string
}

// Key identifies the store and collection a handle points at.
func (c StoreConfig) Key() string {
	switch c.Backend {
	case BackendQdrant:
		return "qdrant://" + c.QdrantAddr + "#" + c.Collection
	default:
		return filepath.Clean(c.PersistDir) + "#" + c.Collection
	}
}

// OpenStore opens the configured backend. Failures are reported as
// *IndexUnavailableError.
func OpenStore(cfg StoreConfig) (VectorStore, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return OpenSQLiteStore(cfg.PersistDir)
	case BackendQdrant:
		return NewQdrantStore(cfg.QdrantAddr)
	default:
		return nil, &IndexUnavailableError{Target: cfg.Backend, Err: fmt.Errorf("unknown store backend %q", cfg.Backend)}
	}
}

// HandleCache lazily opens the configured store on first use and shares it
// between concurrent queries. It holds at most one handle. Invalidate retires
// the current handle; it is closed once the last in-flight user releases it.
type HandleCache struct {
	mu      sync.Mutex
	cfg     StoreConfig
	open    func(StoreConfig) (VectorStore, error)
	current *handle
}

type handle struct {
	key   string
	store VectorStore
	refs  int
	stale bool
}

// NewHandleCache creates a cache for cfg. Nothing is opened until Acquire.
func NewHandleCache(cfg StoreConfig) *HandleCache {
	return &HandleCache{cfg: cfg, open: OpenStore}
}

// NewHandleCacheWith creates a cache that opens stores with open. Used to
// inject an already opened or fake store.
func NewHandleCacheWith(cfg StoreConfig, open func(StoreConfig) (VectorStore, error)) *HandleCache {
	return &HandleCache{cfg: cfg, open: open}
}

// Config returns the store configuration.
func (c *HandleCache) Config() StoreConfig { return c.cfg }

// Acquire returns the shared store and a release func that must be called
// when the caller is done with it.
func (c *HandleCache) Acquire(ctx context.Context) (VectorStore, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.cfg.Key()
	if c.current != nil && c.current.key != key {
		c.retireLocked()
	}
	if c.current == nil {
		store, err := c.open(c.cfg)
		if err != nil {
			return nil, nil, err
		}
		c.current = &handle{key: key, store: store}
	}

	h := c.current
	h.refs++
	var once sync.Once
	release := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			h.refs--
			if h.stale && h.refs == 0 {
				h.store.Close()
			}
		})
	}
	return h.store, release, nil
}

// Invalidate drops the cached handle so the next Acquire reopens the store.
func (c *HandleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retireLocked()
}

// Close retires the cached handle.
func (c *HandleCache) Close() error {
	c.Invalidate()
	return nil
}

func (c *HandleCache) retireLocked() {
	h := c.current
	if h == nil {
		return
	}
	c.current = nil
	h.stale = true
	if h.refs == 0 {
		h.store.Close()
	}
}
