package types

import "context"

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// Store is a byte-oriented key-value slot storage. A missing key is reported
// through the bool result, never as an error.
type Store interface {
	LifecycleManager
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Type() string
}
