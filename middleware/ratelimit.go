package middleware

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

const shardCount = 32

// RateLimitMiddleware applies a fixed window per client address. Mainly
// protects the public form endpoints from floods.
type RateLimitMiddleware struct {
	ctx             context.Context
	logger          types.Logger
	metrics         types.MetricsManager
	rateLimitConfig *RateLimitConfig
	shards          [shardCount]*rateLimitShard
	stopCleanup     chan struct{}
	workerGroup     sync.WaitGroup
	shutdown        int32
	weight          int
	now             func() time.Time
}

type rateLimitShard struct {
	mu      sync.Mutex
	clients map[string]*window
}

type window struct {
	start      time.Time
	count      int
	lastAccess time.Time
}

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	WindowSeconds     int `json:"window_seconds"`
}

func NewRateLimitMiddleware(ctx context.Context, item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *RateLimitMiddleware {
	rateLimitConfig := &RateLimitConfig{
		RequestsPerMinute: 120,
		WindowSeconds:     60,
	}

	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, rateLimitConfig); err != nil {
			logger.Error("Failed to unmarshal RateLimit middleware config", zap.Error(err))
		}
	}

	if rateLimitConfig.WindowSeconds <= 0 {
		rateLimitConfig.WindowSeconds = 60
	}

	rl := &RateLimitMiddleware{
		ctx:             ctx,
		logger:          logger,
		metrics:         metrics,
		rateLimitConfig: rateLimitConfig,
		stopCleanup:     make(chan struct{}),
		weight:          weightOf(item, 30),
		now:             time.Now,
	}

	for i := range rl.shards {
		rl.shards[i] = &rateLimitShard{clients: make(map[string]*window)}
	}

	rl.workerGroup.Add(1)
	go rl.cleanupWorker()

	return rl
}

func (rl *RateLimitMiddleware) Name() string { return "rate-limit" }
func (rl *RateLimitMiddleware) Weight() int  { return rl.weight }

func (rl *RateLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if rl.allow(remoteAddr(ctx)) {
		next(ctx)
		return
	}

	if rl.metrics != nil {
		rl.metrics.Counter("http_rate_limited_total", nil).Inc()
	}

	ctx.Response.Header.Set("Retry-After", strconv.Itoa(rl.rateLimitConfig.WindowSeconds))
	utils.CreateJSONError(ctx, fasthttp.StatusTooManyRequests, types.ErrRateLimitExceeded.Error())
}

func (rl *RateLimitMiddleware) allow(client string) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(client))
	shard := rl.shards[h.Sum32()%shardCount]

	now := rl.now()
	size := time.Duration(rl.rateLimitConfig.WindowSeconds) * time.Second

	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.clients[client]
	if !ok || now.Sub(w.start) >= size {
		w = &window{start: now}
		shard.clients[client] = w
	}

	w.lastAccess = now
	w.count++

	return w.count <= rl.rateLimitConfig.RequestsPerMinute
}

func (rl *RateLimitMiddleware) cleanupWorker() {
	defer rl.workerGroup.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.ctx.Done():
			return
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimitMiddleware) cleanup() {
	cutoff := rl.now().Add(-time.Hour)

	for _, shard := range rl.shards {
		shard.mu.Lock()
		for client, w := range shard.clients {
			if w.lastAccess.Before(cutoff) {
				delete(shard.clients, client)
			}
		}
		shard.mu.Unlock()
	}
}

func (rl *RateLimitMiddleware) Stop() error {
	if !atomic.CompareAndSwapInt32(&rl.shutdown, 0, 1) {
		return nil
	}

	close(rl.stopCleanup)
	rl.workerGroup.Wait()

	rl.logger.Debug("Rate limit middleware stopped")
	return nil
}
