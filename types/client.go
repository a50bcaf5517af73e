package types

import (
	"context"
	"time"
)

type HTTPClient interface {
	Call(ctx context.Context, method, path string, data interface{}, opts *CallOptions) ([]byte, int, error)
	BreakerState() string
	Close()
}

type CallOptions struct {
	Timeout time.Duration
	Retry   int
	Backoff time.Duration
	Headers map[string]string
	Query   map[string]string
}
