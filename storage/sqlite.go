package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
)

const (
	sqliteStopped int32 = iota
	sqliteRunning
	sqliteStarting
)

type SQLiteStore struct {
	ctx     context.Context
	logger  types.Logger
	config  *types.SQLiteStorageConfig
	db      *sql.DB
	running int32
}

func NewSQLiteStore(ctx context.Context, config *types.SQLiteStorageConfig, logger types.Logger) (*SQLiteStore, error) {
	if config == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "sqlite storage")
	}

	return &SQLiteStore{
		ctx:    ctx,
		logger: logger,
		config: config,
	}, nil
}

func (s *SQLiteStore) Type() string { return TypeSQLite }

func (s *SQLiteStore) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, sqliteStopped, sqliteStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := s.open(); err != nil {
		atomic.StoreInt32(&s.running, sqliteStopped)
		return err
	}
	atomic.StoreInt32(&s.running, sqliteRunning)

	s.logger.Info("SQLite storage opened",
		zap.String("path", s.config.Path),
		zap.String("table", s.config.Table))

	return nil
}

func (s *SQLiteStore) open() error {
	if dir := filepath.Dir(s.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return types.WrapError(types.ErrStorageConnectionFailed, err.Error())
		}
	}

	db, err := sql.Open("sqlite3", s.config.Path)
	if err != nil {
		return types.WrapError(types.ErrStorageConnectionFailed, err.Error())
	}
	db.SetMaxOpenConns(1)

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`, s.config.Table)

	if _, err := db.ExecContext(s.ctx, ddl); err != nil {
		_ = db.Close()
		return types.WrapError(types.ErrStorageConnectionFailed, err.Error())
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, sqliteRunning, sqliteStopped) {
		return types.ErrServerNotRunning
	}

	if err := s.db.Close(); err != nil {
		return types.WrapError(err, "failed to close sqlite database")
	}

	return nil
}

func (s *SQLiteStore) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == sqliteRunning
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(key); err != nil {
		return nil, false, err
	}

	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", s.config.Table)

	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.check(key); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, s.config.Table)

	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", s.config.Table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}

	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if !s.IsRunning() {
		return nil, types.ErrStorageNotRunning
	}

	query := fmt.Sprintf("SELECT key FROM %s WHERE key >= ? ORDER BY key", s.config.Table)
	args := []interface{}{prefix}
	if upper, ok := prefixUpperBound(prefix); ok {
		query = fmt.Sprintf("SELECT key FROM %s WHERE key >= ? AND key < ? ORDER BY key", s.config.Table)
		args = append(args, upper)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError(types.ErrStorageOperationFailed, err.Error())
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, types.WrapError(types.ErrStorageOperationFailed, err.Error())
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if !s.IsRunning() {
		return types.ErrStorageNotRunning
	}
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) check(key string) error {
	if !s.IsRunning() {
		return types.ErrStorageNotRunning
	}
	return validateKey(key)
}

// prefixUpperBound returns the smallest string greater than every string
// starting with prefix, compared bytewise. ok is false when no such bound
// exists (empty prefix or all 0xff bytes).
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
