package middleware

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/portal"
	"github.com/saiset-co/sai-desa/types"
)

const MaxMiddlewares = 64

// Middlewares that only run on routes which ask for them.
var optIn = map[string]bool{
	"auth": true,
}

type stopper interface {
	Stop() error
}

type Manager struct {
	ctx            context.Context
	config         *types.MiddlewaresConfig
	logger         types.Logger
	metrics        types.MetricsManager
	state          *portal.State
	ordered        []types.MiddlewareEntry
	registered     map[string]*types.MiddlewareEntry
	nameToIndex    map[string]int
	defaultMask    uint64
	compiledChains map[uint64][]types.Middleware
	chainsMu       sync.RWMutex
	mu             sync.RWMutex
	initialized    int32
}

func NewManager(ctx context.Context, config *types.MiddlewaresConfig, logger types.Logger, metrics types.MetricsManager, state *portal.State) *Manager {
	return &Manager{
		ctx:            ctx,
		config:         config,
		logger:         logger,
		metrics:        metrics,
		state:          state,
		registered:     make(map[string]*types.MiddlewareEntry),
		nameToIndex:    make(map[string]int),
		compiledChains: make(map[uint64][]types.Middleware),
	}
}

// RegisterMiddlewares installs the configured middlewares and freezes the
// chain order.
func (m *Manager) RegisterMiddlewares() error {
	if m.config == nil || !m.config.Enabled {
		return m.finalize()
	}

	candidates := []struct {
		item  *types.MiddlewareItemConfig
		build func(*types.MiddlewareItemConfig) types.Middleware
	}{
		{m.config.Recovery, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewRecoveryMiddleware(c, m.logger, m.metrics)
		}},
		{m.config.Logging, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewLoggingMiddleware(c, m.logger, m.metrics)
		}},
		{m.config.RateLimit, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewRateLimitMiddleware(m.ctx, c, m.logger, m.metrics)
		}},
		{m.config.BodyLimit, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewBodyLimitMiddleware(c, m.logger, m.metrics)
		}},
		{m.config.Compression, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewCompressionMiddleware(c, m.logger, m.metrics)
		}},
		{m.config.Auth, func(c *types.MiddlewareItemConfig) types.Middleware {
			return NewAuthMiddleware(m.ctx, c, m.state, m.logger, m.metrics)
		}},
	}

	for _, candidate := range candidates {
		if candidate.item == nil || !candidate.item.Enabled {
			continue
		}

		mw := candidate.build(candidate.item)
		if err := m.Register(mw); err != nil {
			return err
		}
		m.logger.Info("Middleware registered", zap.String("name", mw.Name()), zap.Int("weight", mw.Weight()))
	}

	return m.finalize()
}

func (m *Manager) Register(middleware types.Middleware) error {
	if middleware == nil {
		return types.ErrMiddlewareInvalidType
	}

	if atomic.LoadInt32(&m.initialized) == 1 {
		return types.ErrMiddlewareFinalized
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.registered) >= MaxMiddlewares {
		return types.Errorf(types.ErrMiddlewareOrderInvalid, "maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	m.registered[middleware.Name()] = &types.MiddlewareEntry{
		Name:       middleware.Name(),
		Middleware: middleware,
		Weight:     middleware.Weight(),
	}

	return nil
}

func (m *Manager) finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if atomic.LoadInt32(&m.initialized) == 1 {
		return types.ErrMiddlewareFinalized
	}

	weights := make(map[int]string, len(m.registered))
	for name, entry := range m.registered {
		if existing, exists := weights[entry.Weight]; exists {
			return types.Errorf(types.ErrMiddlewareOrderInvalid,
				"duplicate weight %d for middlewares '%s' and '%s'", entry.Weight, existing, name)
		}
		weights[entry.Weight] = name
	}

	m.ordered = make([]types.MiddlewareEntry, 0, len(m.registered))
	for _, entry := range m.registered {
		m.ordered = append(m.ordered, *entry)
	}

	sort.Slice(m.ordered, func(i, j int) bool {
		return m.ordered[i].Weight < m.ordered[j].Weight
	})

	m.defaultMask = 0
	for i, entry := range m.ordered {
		m.nameToIndex[entry.Name] = i
		if !optIn[entry.Name] {
			m.defaultMask |= 1 << uint(i)
		}
	}

	m.registered = nil
	atomic.StoreInt32(&m.initialized, 1)

	return nil
}

// Names lists the active middlewares in execution order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.ordered))
	for _, entry := range m.ordered {
		names = append(names, entry.Name)
	}
	return names
}

func (m *Manager) Execute(ctx *fasthttp.RequestCtx, handler func(*fasthttp.RequestCtx), config *types.RouteConfig) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		handler(ctx)
		return
	}

	chain := m.chain(m.mask(config))
	if len(chain) == 0 {
		handler(ctx)
		return
	}

	var index int
	var next func(*fasthttp.RequestCtx)
	next = func(ctx *fasthttp.RequestCtx) {
		if index >= len(chain) {
			handler(ctx)
			return
		}

		mw := chain[index]
		index++
		mw.Handle(ctx, next, config)
	}

	next(ctx)
}

func (m *Manager) mask(config *types.RouteConfig) uint64 {
	mask := m.defaultMask
	if config == nil {
		return mask
	}

	for _, name := range config.Middlewares {
		if index, exists := m.nameToIndex[strings.ToLower(name)]; exists {
			mask |= 1 << uint(index)
		}
	}

	for _, name := range config.DisabledMiddlewares {
		if index, exists := m.nameToIndex[strings.ToLower(name)]; exists {
			mask &^= 1 << uint(index)
		}
	}

	return mask
}

func (m *Manager) chain(mask uint64) []types.Middleware {
	m.chainsMu.RLock()
	chain, ok := m.compiledChains[mask]
	m.chainsMu.RUnlock()
	if ok {
		return chain
	}

	chain = make([]types.Middleware, 0, len(m.ordered))
	for i, entry := range m.ordered {
		if mask&(1<<uint(i)) != 0 {
			chain = append(chain, entry.Middleware)
		}
	}

	m.chainsMu.Lock()
	m.compiledChains[mask] = chain
	m.chainsMu.Unlock()

	return chain
}

// Clear stops background workers owned by middlewares and resets the chain.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.ordered {
		if s, ok := entry.Middleware.(stopper); ok {
			if err := s.Stop(); err != nil {
				m.logger.Warn("Middleware stop failed", zap.String("name", entry.Name), zap.Error(err))
			}
		}
	}

	m.ordered = nil
	m.nameToIndex = make(map[string]int)
	m.registered = make(map[string]*types.MiddlewareEntry)
	m.defaultMask = 0

	m.chainsMu.Lock()
	m.compiledChains = make(map[uint64][]types.Middleware)
	m.chainsMu.Unlock()

	atomic.StoreInt32(&m.initialized, 0)

	m.logger.Info("Middleware manager stopped")
}

func weightOf(item *types.MiddlewareItemConfig, fallback int) int {
	if item == nil || item.Weight == 0 {
		return fallback
	}
	return item.Weight
}

func paramsOf(item *types.MiddlewareItemConfig) map[string]interface{} {
	if item == nil {
		return nil
	}
	return item.Params
}
