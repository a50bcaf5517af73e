package storage

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
)

type RedisStore struct {
	ctx     context.Context
	logger  types.Logger
	config  *types.RedisStorageConfig
	client  *redis.Client
	running int32
}

func NewRedisStore(ctx context.Context, config *types.RedisStorageConfig, logger types.Logger) (*RedisStore, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "redis storage")
	}

	return &RedisStore{
		ctx:    ctx,
		logger: logger,
		config: config,
	}, nil
}

func (r *RedisStore) Type() string { return TypeRedis }

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:         r.config.Addr,
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		_ = r.client.Close()
		atomic.StoreInt32(&r.running, 0)
		return types.WrapError(types.ErrStorageConnectionFailed, err.Error())
	}

	r.logger.Info("Redis storage connected",
		zap.String("addr", r.config.Addr),
		zap.Int("db", r.config.DB))

	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := r.client.Close(); err != nil {
		return types.WrapError(err, "failed to close redis client")
	}

	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.running) == 1
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := r.check(key); err != nil {
		return nil, false, err
	}

	value, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return value, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.check(key); err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.fullKey(key), value, 0).Err(); err != nil {
		return types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.check(key); err != nil {
		return err
	}

	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return nil
}

func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if !r.IsRunning() {
		return nil, types.ErrStorageNotRunning
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, r.fullKey(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.config.KeyPrefix))
	}

	if err := iter.Err(); err != nil {
		return nil, types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return keys, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if !r.IsRunning() {
		return types.ErrStorageNotRunning
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) check(key string) error {
	if !r.IsRunning() {
		return types.ErrStorageNotRunning
	}
	return validateKey(key)
}

func (r *RedisStore) fullKey(key string) string {
	return r.config.KeyPrefix + key
}
