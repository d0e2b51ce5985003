package consent

import (
	"context"
	"fmt"
	"sync"

	"portal-consent/internal/gateway"
	"portal-consent/internal/registry"
	"portal-consent/internal/store"

	"go.uber.org/zap"
)

// Session is one subject's store/manager pair.
type Session struct {
	Store   *Store
	Manager *Manager
}

// Engine hands out per-subject sessions over a shared gateway, registry
// and cache. Sessions are cached so a subject's pending-key state survives
// across requests; per-key serialization would be meaningless if every
// request built a fresh manager.
type Engine struct {
	gw         gateway.Gateway
	reg        *registry.Registry
	cache      store.KV
	storeCfg   StoreConfig
	managerCfg ManagerConfig
	events     EventSink
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewEngine creates the session factory.
func NewEngine(gw gateway.Gateway, reg *registry.Registry, cache store.KV, storeCfg StoreConfig, managerCfg ManagerConfig, events EventSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		gw:         gw,
		reg:        reg,
		cache:      cache,
		storeCfg:   storeCfg,
		managerCfg: managerCfg,
		events:     events,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Subject returns the cached session for the subject, creating it on
// first use.
func (e *Engine) Subject(subjectID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[subjectID]; ok {
		return s
	}
	st := NewStore(subjectID, e.gw, e.reg, e.cache, e.storeCfg, e.logger)
	s := &Session{
		Store:   st,
		Manager: NewManager(st, e.gw, e.reg, e.managerCfg, e.events, e.logger),
	}
	e.sessions[subjectID] = s
	return s
}

// InvalidateAllCached drops every cached consent snapshot across
// subjects. Run at startup when the cache outlives the process (Redis):
// snapshots written under a previous configuration (main study id, stock
// agreement marker) must not be served by this one.
func (e *Engine) InvalidateAllCached(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	keys, err := e.cache.ScanKeys(ctx, "consent:*")
	if err != nil {
		return fmt.Errorf("scan cached consents: %w", err)
	}
	for _, key := range keys {
		if err := e.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("invalidate cached consents %s: %w", key, err)
		}
	}
	if len(keys) > 0 {
		e.logger.Info("dropped cached consent snapshots", zap.Int("count", len(keys)))
	}
	return nil
}

// Registry exposes the shared organization registry.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// StoreConfig exposes the effective store knobs (after defaulting).
func (e *Engine) StoreConfig() StoreConfig {
	cfg := e.storeCfg
	cfg.normalize()
	return cfg
}
