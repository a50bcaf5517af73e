package client

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

type State int32

const (
	StateRunning State = iota
	StateStopped
)

type Option func(*HTTPClient)

// WithDial replaces the network dialer, mainly for in-memory listeners.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *HTTPClient) { c.client.Dial = dial }
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(c *HTTPClient) { c.metrics = metrics }
}

// HTTPClient is a JSON client bound to one base URL. Retries back off
// exponentially from the configured base delay.
type HTTPClient struct {
	logger  types.Logger
	metrics types.MetricsManager
	name    string
	client  *fasthttp.Client
	config  *types.BackendConfig
	breaker *CircuitBreaker
	state   atomic.Value
}

func NewHTTPClient(name string, config *types.BackendConfig, logger types.Logger, opts ...Option) (*HTTPClient, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "backend")
	}

	c := &HTTPClient{
		logger: logger,
		name:   name,
		config: config,
		client: &fasthttp.Client{
			Name:                "sai-desa",
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 90 * time.Second,
		},
		breaker: NewCircuitBreaker(config.CircuitBreaker, logger, name),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.state.Store(StateRunning)
	return c, nil
}

func (c *HTTPClient) IsRunning() bool {
	return c.state.Load().(State) == StateRunning
}

func (c *HTTPClient) BreakerState() string {
	return c.breaker.String()
}

func (c *HTTPClient) Close() {
	if !c.state.CompareAndSwap(StateRunning, StateStopped) {
		return
	}
	c.client.CloseIdleConnections()
	c.logger.Debug("HTTP client closed", zap.String("client", c.name))
}

// Call performs one logical request. Client errors other than 408 and 429
// come back with a nil error so the caller can interpret the status; other
// failures are retried and reported with the last status seen.
func (c *HTTPClient) Call(ctx context.Context, method, path string, data interface{}, opts *types.CallOptions) ([]byte, int, error) {
	if !c.IsRunning() {
		return nil, 0, types.ErrClientNotRunning
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)

	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	if data != nil {
		body, err := utils.Marshal(data)
		if err != nil {
			return nil, 0, types.WrapError(err, "failed to marshal request data")
		}
		req.SetBody(body)
		req.Header.SetContentType("application/json")
	}

	timeout := c.config.Timeout
	retries := c.config.Retries
	backoff := c.config.RetryBackoff

	if opts != nil {
		for key, value := range opts.Headers {
			req.Header.Set(key, value)
		}
		for key, value := range opts.Query {
			req.URI().QueryArgs().Set(key, value)
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		if opts.Retry > 0 {
			retries = opts.Retry
		}
		if opts.Backoff > 0 {
			backoff = opts.Backoff
		}
	}

	start := time.Now()
	body, status, err := c.executeWithRetries(ctx, req, resp, timeout, retries, backoff)
	c.record(method, status, start)

	return body, status, err
}

func (c *HTTPClient) executeWithRetries(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration, maxRetries int, backoff time.Duration) ([]byte, int, error) {
	var (
		lastErr    error
		lastStatus int
	)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, lastStatus, types.WrapError(types.ErrClientTimeout, err.Error())
		}

		if !c.breaker.CanExecute() {
			return nil, 0, types.ErrCircuitBreakerOpen
		}

		err := c.client.DoDeadline(req, resp, c.deadline(ctx, timeout))
		status := resp.StatusCode()
		if err != nil {
			status = 0
		}
		lastStatus = status

		if IsSuccessfulResponse(status, err) {
			c.breaker.RecordSuccess()

			body := make([]byte, len(resp.Body()))
			copy(body, resp.Body())
			return body, status, nil
		}

		if IsCircuitBreakerFailure(status, err) {
			c.breaker.RecordFailure()
		}

		lastErr = err
		if err == nil {
			lastErr = types.Errorf(types.ErrClientResponseInvalid, "HTTP %d", status)
		}

		if attempt == maxRetries {
			break
		}

		delay := backoff << attempt

		c.logger.Debug("Retrying backend request",
			zap.String("client", c.name),
			zap.String("uri", string(req.URI().Path())),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, lastStatus, types.WrapError(types.ErrClientTimeout, ctx.Err().Error())
		}
	}

	return nil, lastStatus, types.Errorf(types.ErrClientRequestFailed,
		"%d attempts failed for %s: %v", maxRetries+1, c.name, lastErr)
}

func (c *HTTPClient) deadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}

func (c *HTTPClient) record(method string, status int, start time.Time) {
	if c.metrics == nil {
		return
	}

	labels := map[string]string{
		"client": c.name,
		"method": method,
		"status": strconv.Itoa(status),
	}

	c.metrics.Counter("backend_requests_total", labels).Inc()
	c.metrics.Histogram("backend_request_duration_seconds", nil, map[string]string{"client": c.name}).ObserveDuration(start)
}
