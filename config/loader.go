package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-desa/types"
)

const EnvPrefix = "SAI_DESA_"

type Loader struct {
	validator   *validator.Validate
	environment map[string]string
}

// envOverrides lists the settings operators usually change per deployment.
type envOverrides struct {
	BackendURL  string `env:"BACKEND_URL"`
	HTTPHost    string `env:"HTTP_HOST"`
	HTTPPort    int    `env:"HTTP_PORT"`
	LogLevel    string `env:"LOG_LEVEL"`
	LogFormat   string `env:"LOG_FORMAT"`
	StorageType string `env:"STORAGE"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisPass   string `env:"REDIS_PASSWORD"`
	SQLitePath  string `env:"SQLITE_PATH"`
	CloverDir   string `env:"CLOVER_DIR"`
	CronEnabled string `env:"CRON_ENABLED"`
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithEnvironment replaces the process environment as the source of
// overrides.
func (l *Loader) WithEnvironment(environment map[string]string) *Loader {
	l.environment = environment
	return l
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrConfigNotFound, "file not found: "+configPath)
	}

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	data, err := l.ReadFileWithTimeout(readCtx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(types.ErrConfigParseFailed, err.Error())
	}

	if err := l.applyEnvironment(config); err != nil {
		return nil, err
	}

	fillStorageDefaults(config.Storage)

	if err := l.validator.Struct(config); err != nil {
		return nil, types.WrapError(types.ErrConfigValidateFailed, err.Error())
	}

	return config, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) applyEnvironment(config *types.ServiceConfig) error {
	opts := env.Options{Prefix: EnvPrefix}
	if l.environment != nil {
		opts.Environment = l.environment
	}

	var overrides envOverrides
	if err := env.ParseWithOptions(&overrides, opts); err != nil {
		return types.WrapError(types.ErrConfigParseFailed, err.Error())
	}

	if overrides.BackendURL != "" {
		config.Backend.BaseURL = overrides.BackendURL
	}
	if overrides.HTTPHost != "" {
		config.Server.HTTP.Host = overrides.HTTPHost
	}
	if overrides.HTTPPort != 0 {
		config.Server.HTTP.Port = overrides.HTTPPort
	}
	if overrides.LogLevel != "" {
		config.Logger.Level = overrides.LogLevel
	}
	if overrides.LogFormat != "" {
		config.Logger.Format = overrides.LogFormat
	}
	if overrides.StorageType != "" {
		config.Storage.Type = overrides.StorageType
	}
	if overrides.RedisAddr != "" {
		ensureRedis(config.Storage).Addr = overrides.RedisAddr
	}
	if overrides.RedisPass != "" {
		ensureRedis(config.Storage).Password = overrides.RedisPass
	}
	if overrides.SQLitePath != "" {
		ensureSQLite(config.Storage).Path = overrides.SQLitePath
	}
	if overrides.CloverDir != "" {
		ensureClover(config.Storage).Dir = overrides.CloverDir
	}
	if overrides.CronEnabled != "" {
		enabled, err := strconv.ParseBool(overrides.CronEnabled)
		if err != nil {
			return types.Errorf(types.ErrConfigParseFailed, "%sCRON_ENABLED: %v", EnvPrefix, err)
		}
		config.Cron.Enabled = enabled
	}

	return nil
}

func fillStorageDefaults(storage *types.StorageConfig) {
	switch storage.Type {
	case "redis":
		ensureRedis(storage)
	case "sqlite":
		ensureSQLite(storage)
	case "clover":
		ensureClover(storage)
	}
}

func ensureRedis(storage *types.StorageConfig) *types.RedisStorageConfig {
	if storage.Redis == nil {
		storage.Redis = &types.RedisStorageConfig{
			Addr:         "localhost:6379",
			KeyPrefix:    "sai-desa:",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		}
	}
	return storage.Redis
}

func ensureSQLite(storage *types.StorageConfig) *types.SQLiteStorageConfig {
	if storage.SQLite == nil {
		storage.SQLite = &types.SQLiteStorageConfig{
			Path:  "./data/desa.db",
			Table: "kv",
		}
	}
	return storage.SQLite
}

func ensureClover(storage *types.StorageConfig) *types.CloverStorageConfig {
	if storage.Clover == nil {
		storage.Clover = &types.CloverStorageConfig{
			Dir:        "./data/clover",
			Collection: "kv",
		}
	}
	return storage.Clover
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "sai-desa",
		Version: "dev",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "localhost",
				Port:            8080,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 5,
			},
			TLS: &types.TLSConfig{
				Enabled:  false,
				CacheDir: "./data/certs",
			},
		},
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Storage: &types.StorageConfig{
			Type: "memory",
		},
		Cache: &types.CacheConfig{
			ConfigTTL:   24 * time.Hour,
			ArticlesTTL: 30 * time.Minute,
			SessionTTL:  30 * time.Minute,
		},
		Backend: &types.BackendConfig{
			BaseURL:      "http://localhost:8000",
			Timeout:      10 * time.Second,
			Retries:      0,
			StatsRetries: 2,
			RetryBackoff: 500 * time.Millisecond,
			Headers: map[string]string{
				"Accept": "application/json",
			},
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 2,
			},
		},
		Cron: &types.CronConfig{
			Enabled:         true,
			Timezone:        "Asia/Jakarta",
			JobTimeout:      time.Minute,
			ConfigRefresh:   "0 */5 * * * *",
			ArticlesRefresh: "30 */5 * * * *",
		},
		Metrics: &types.MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "sai_desa",
			GoMetrics: true,
		},
		Health: &types.HealthConfig{
			Enabled:      true,
			Path:         "/health",
			CheckTimeout: 5 * time.Second,
		},
		Portal: &types.PortalConfig{
			SessionCookie: "desa_session",
			HomeArticles:  6,
			Text: &types.TextConfig{
				TitleMinLength: 5,
				SoftLimit:      400,
				MaxSentences:   3,
			},
		},
		Middlewares: &types.MiddlewaresConfig{
			Enabled: true,
			Recovery: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  10,
				Params: map[string]interface{}{
					"stack_trace": true,
				},
			},
			Logging: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  20,
				Params: map[string]interface{}{
					"log_level":   "info",
					"log_headers": false,
				},
			},
			RateLimit: &types.MiddlewareItemConfig{
				Enabled: false,
				Weight:  30,
				Params: map[string]interface{}{
					"requests_per_minute": 120,
				},
			},
			BodyLimit: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  40,
				Params: map[string]interface{}{
					"max_body_size": 2 * 1024 * 1024,
				},
			},
			Compression: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  50,
				Params: map[string]interface{}{
					"algorithm": "br",
					"level":     5,
					"threshold": 1024,
				},
			},
			Auth: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  60,
				Params: map[string]interface{}{
					"login_path": "/admin/login",
				},
			},
		},
	}
}
