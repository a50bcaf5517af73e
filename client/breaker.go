package client

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
)

type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// CircuitBreaker stops calls to the backend after FailureThreshold
// consecutive failures and lets HalfOpenRequests probes through once
// RecoveryTimeout has passed.
type CircuitBreaker struct {
	config    *types.CircuitBreakerConfig
	logger    types.Logger
	name      string
	state     atomic.Value
	failures  atomic.Int32
	successes atomic.Int32
	lastFail  atomic.Int64
	mutex     sync.Mutex
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger, name string) *CircuitBreaker {
	if config == nil {
		config = &types.CircuitBreakerConfig{Enabled: false}
	}

	cb := &CircuitBreaker{
		config: config,
		logger: logger,
		name:   name,
	}
	cb.state.Store(BreakerClosed)

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if !cb.config.Enabled {
		return true
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.current() {
	case BreakerOpen:
		if time.Since(time.Unix(0, cb.lastFail.Load())) >= cb.config.RecoveryTimeout {
			cb.toHalfOpen()
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.current() {
	case BreakerClosed:
		cb.failures.Store(0)
	case BreakerHalfOpen:
		successes := cb.successes.Add(1)
		if successes >= int32(cb.config.HalfOpenRequests) {
			cb.toClosed()
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFail.Store(time.Now().UnixNano())

	switch cb.current() {
	case BreakerClosed:
		failures := cb.failures.Add(1)
		cb.logger.Debug("Backend failure recorded",
			zap.String("client", cb.name),
			zap.Int32("failures", failures),
			zap.Int("threshold", cb.config.FailureThreshold))

		if failures >= int32(cb.config.FailureThreshold) {
			cb.toOpen()
		}
	case BreakerHalfOpen:
		cb.toOpen()
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.current()
}

func (cb *CircuitBreaker) String() string {
	if !cb.config.Enabled {
		return "disabled"
	}

	switch cb.State() {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (cb *CircuitBreaker) current() BreakerState {
	return cb.state.Load().(BreakerState)
}

func (cb *CircuitBreaker) toClosed() {
	cb.state.Store(BreakerClosed)
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.logger.Info("Circuit breaker closed", zap.String("client", cb.name))
}

func (cb *CircuitBreaker) toOpen() {
	cb.state.Store(BreakerOpen)
	cb.successes.Store(0)
	cb.logger.Warn("Circuit breaker opened",
		zap.String("client", cb.name),
		zap.Int32("failures", cb.failures.Load()))
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state.Store(BreakerHalfOpen)
	cb.successes.Store(0)
	cb.logger.Info("Circuit breaker half-open", zap.String("client", cb.name))
}

// IsCircuitBreakerFailure reports outcomes that count against the breaker:
// transport errors and the throttling and gateway status codes.
func IsCircuitBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}

	switch statusCode {
	case 408, 429, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsSuccessfulResponse treats client errors other than 408 and 429 as a
// delivered answer. The caller decides what a 401 or 404 means.
func IsSuccessfulResponse(statusCode int, err error) bool {
	if err != nil {
		return false
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return true
	case statusCode >= 400 && statusCode < 500:
		return statusCode != 429 && statusCode != 408
	default:
		return false
	}
}
