package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Server      *ServerConfig      `yaml:"server" json:"server" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger" validate:"required"`
	Storage     *StorageConfig     `yaml:"storage" json:"storage" validate:"required"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache" validate:"required"`
	Backend     *BackendConfig     `yaml:"backend" json:"backend" validate:"required"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
	Portal      *PortalConfig      `yaml:"portal" json:"portal" validate:"required"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http" validate:"required"`
	TLS  *TLSConfig  `yaml:"tls" json:"tls"`
}

type HTTPConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type TLSConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	CertFile string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile  string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	AutoCert bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains  []string `yaml:"domains,omitempty" json:"domains,omitempty" validate:"required_if=AutoCert true"`
	Email    string   `yaml:"email,omitempty" json:"email,omitempty"`
	CacheDir string   `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level" validate:"required,oneof=debug info warn warning error fatal"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output" json:"output" validate:"omitempty,oneof=stdout stderr file"`
	File   string `yaml:"file" json:"file" validate:"required_if=Output file"`
}

type StorageConfig struct {
	Type   string               `yaml:"type" json:"type" validate:"required,oneof=memory redis sqlite clover"`
	Redis  *RedisStorageConfig  `yaml:"redis" json:"redis" validate:"required_if=Type redis"`
	SQLite *SQLiteStorageConfig `yaml:"sqlite" json:"sqlite" validate:"required_if=Type sqlite"`
	Clover *CloverStorageConfig `yaml:"clover" json:"clover" validate:"required_if=Type clover"`
}

type RedisStorageConfig struct {
	Addr         string        `yaml:"addr" json:"addr" validate:"required"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db" validate:"min=0"`
	KeyPrefix    string        `yaml:"key_prefix" json:"key_prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
}

type SQLiteStorageConfig struct {
	Path  string `yaml:"path" json:"path" validate:"required"`
	Table string `yaml:"table" json:"table" validate:"required,alphanum"`
}

type CloverStorageConfig struct {
	Dir        string `yaml:"dir" json:"dir" validate:"required"`
	Collection string `yaml:"collection" json:"collection" validate:"required"`
}

type CacheConfig struct {
	ConfigTTL   time.Duration `yaml:"config_ttl" json:"config_ttl" validate:"gt=0"`
	ArticlesTTL time.Duration `yaml:"articles_ttl" json:"articles_ttl" validate:"gt=0"`
	SessionTTL  time.Duration `yaml:"session_ttl" json:"session_ttl" validate:"gt=0"`
}

type BackendConfig struct {
	BaseURL        string                `yaml:"base_url" json:"base_url" validate:"required,url"`
	Timeout        time.Duration         `yaml:"timeout" json:"timeout" validate:"gt=0"`
	Retries        int                   `yaml:"retries" json:"retries" validate:"min=0"`
	StatsRetries   int                   `yaml:"stats_retries" json:"stats_retries" validate:"min=0"`
	RetryBackoff   time.Duration         `yaml:"retry_backoff" json:"retry_backoff"`
	Headers        map[string]string     `yaml:"headers" json:"headers"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"required_if=Enabled true"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

type CronConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Timezone        string        `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
	JobTimeout      time.Duration `yaml:"job_timeout" json:"job_timeout"`
	ConfigRefresh   string        `yaml:"config_refresh" json:"config_refresh"`
	ArticlesRefresh string        `yaml:"articles_refresh" json:"articles_refresh"`
}

type MiddlewaresConfig struct {
	Enabled     bool                  `yaml:"enabled" json:"enabled"`
	Recovery    *MiddlewareItemConfig `yaml:"recovery" json:"recovery"`
	Logging     *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	RateLimit   *MiddlewareItemConfig `yaml:"rate_limit" json:"rate_limit"`
	BodyLimit   *MiddlewareItemConfig `yaml:"body_limit" json:"body_limit"`
	Compression *MiddlewareItemConfig `yaml:"compression" json:"compression"`
	Auth        *MiddlewareItemConfig `yaml:"auth" json:"auth"`
}

type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}

type MetricsConfig struct {
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Path      string            `yaml:"path" json:"path" validate:"required_if=Enabled true"`
	Namespace string            `yaml:"namespace" json:"namespace"`
	Labels    map[string]string `yaml:"labels" json:"labels"`
	GoMetrics bool              `yaml:"go_metrics" json:"go_metrics"`
}

type HealthConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Path         string        `yaml:"path" json:"path"`
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout"`
}

type PortalConfig struct {
	SessionCookie string      `yaml:"session_cookie" json:"session_cookie" validate:"required"`
	SecureCookie  bool        `yaml:"secure_cookie" json:"secure_cookie"`
	HomeArticles  int         `yaml:"home_articles" json:"home_articles" validate:"min=1"`
	Text          *TextConfig `yaml:"text" json:"text"`
}

type TextConfig struct {
	TitleMinLength int `yaml:"title_min_length" json:"title_min_length" validate:"min=0"`
	SoftLimit      int `yaml:"soft_limit" json:"soft_limit" validate:"min=40"`
	MaxSentences   int `yaml:"max_sentences" json:"max_sentences" validate:"min=1"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}
