package storage

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
)

const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
	TypeClover = "clover"
)

// New builds the key-value store selected by config.Type. The store is
// returned stopped; Start opens connections and files.
func New(ctx context.Context, config *types.StorageConfig, logger types.Logger) (types.Store, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	var (
		store types.Store
		err   error
	)

	switch config.Type {
	case "", TypeMemory:
		store = NewMemoryStore(logger)
	case TypeRedis:
		store, err = NewRedisStore(ctx, config.Redis, logger)
	case TypeSQLite:
		store, err = NewSQLiteStore(ctx, config.SQLite, logger)
	case TypeClover:
		store, err = NewCloverStore(config.Clover, logger)
	default:
		return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", config.Type)
	}

	if err != nil {
		return nil, err
	}

	logger.Info("Storage initialized", zap.String("type", store.Type()))
	return store, nil
}

// Purge removes every key starting with prefix and reports how many were
// deleted.
func Purge(ctx context.Context, store types.Store, prefix string) (int, error) {
	keys, err := store.Keys(ctx, prefix)
	if err != nil {
		return 0, types.WrapError(err, "failed to list keys")
	}

	removed := 0
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			return removed, types.WrapError(err, "failed to delete key "+key)
		}
		removed++
	}

	return removed, nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return types.ErrStorageKeyEmpty
	}
	return nil
}
