package storage

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
)

const (
	cloverKeyField   = "key"
	cloverValueField = "value"
)

// CloverStore keeps each key as one document of a clover collection. Values
// are stored base64 encoded since clover documents only hold JSON values.
type CloverStore struct {
	logger  types.Logger
	config  *types.CloverStorageConfig
	db      *clover.DB
	mu      sync.Mutex
	running int32
}

func NewCloverStore(config *types.CloverStorageConfig, logger types.Logger) (*CloverStore, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "clover storage")
	}

	return &CloverStore{
		logger: logger,
		config: config,
	}, nil
}

func (c *CloverStore) Type() string { return TypeClover }

func (c *CloverStore) Start() error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	db, err := clover.Open(c.config.Dir)
	if err != nil {
		atomic.StoreInt32(&c.running, 0)
		return types.WrapError(types.ErrStorageConnectionFailed, err.Error())
	}

	exists, err := db.HasCollection(c.config.Collection)
	if err == nil && !exists {
		err = db.CreateCollection(c.config.Collection)
	}
	if err != nil {
		_ = db.Close()
		atomic.StoreInt32(&c.running, 0)
		return types.WrapError(types.ErrStorageConnectionFailed, err.Error())
	}

	c.db = db

	c.logger.Info("Clover storage opened",
		zap.String("dir", c.config.Dir),
		zap.String("collection", c.config.Collection))

	return nil
}

func (c *CloverStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close clover database")
	}

	return nil
}

func (c *CloverStore) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

func (c *CloverStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := c.check(key); err != nil {
		return nil, false, err
	}

	docs, err := c.byKey(key).FindAll()
	if err != nil {
		return nil, false, types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	doc := docs[0]

	encoded, ok := doc.Get(cloverValueField).(string)
	if !ok {
		return nil, false, types.Errorf(types.ErrStorageOperationFailed, "document %s has no value", key)
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return value, true, nil
}

func (c *CloverStore) Set(_ context.Context, key string, value []byte) error {
	if err := c.check(key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(value)

	count, err := c.byKey(key).Count()
	if err != nil {
		return types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	if count > 0 {
		err = c.byKey(key).Update(map[string]interface{}{cloverValueField: encoded})
	} else {
		doc := clover.NewDocument()
		doc.Set(cloverKeyField, key)
		doc.Set(cloverValueField, encoded)
		err = c.db.Insert(c.config.Collection, doc)
	}

	if err != nil {
		return types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return nil
}

func (c *CloverStore) Delete(_ context.Context, key string) error {
	if err := c.check(key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.byKey(key).Delete(); err != nil {
		return types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return nil
}

func (c *CloverStore) Keys(_ context.Context, prefix string) ([]string, error) {
	if !c.IsRunning() {
		return nil, types.ErrStorageNotRunning
	}

	docs, err := c.db.Query(c.config.Collection).FindAll()
	if err != nil {
		return nil, types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range docs {
		key, ok := doc.Get(cloverKeyField).(string)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

func (c *CloverStore) Ping(_ context.Context) error {
	if !c.IsRunning() {
		return types.ErrStorageNotRunning
	}

	if _, err := c.db.HasCollection(c.config.Collection); err != nil {
		return types.WrapError(types.ErrStorageConnectionFailed, err.Error())
	}

	return nil
}

func (c *CloverStore) byKey(key string) *clover.Query {
	return c.db.Query(c.config.Collection).Where(clover.Field(cloverKeyField).Eq(key))
}

func (c *CloverStore) check(key string) error {
	if !c.IsRunning() {
		return types.ErrStorageNotRunning
	}
	return validateKey(key)
}
