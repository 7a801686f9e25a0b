// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Upload   UploadConfig
	Engine   EngineConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// AllowedOrigins lists CORS origins for the browser dashboard (default: *)
	AllowedOrigins []string `env:"SERVER_ALLOWED_ORIGINS" default:"*"`
}

// UploadConfig holds file ingestion settings.
type UploadConfig struct {
	// MaxFileSizeMB is the size ceiling for an uploaded file in megabytes (default: 50)
	MaxFileSizeMB int `env:"UPLOAD_MAX_FILE_SIZE_MB" default:"50"`

	// MaxConcurrent is the maximum number of parallel parses (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a parse slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// SampleSize is how many leading rows feed column type inference (default: 10)
	SampleSize int `env:"UPLOAD_SAMPLE_SIZE" default:"10"`

	// Timeout is the maximum duration for a single parse (default: 2m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"2m"`

	// PreviewRows caps rows returned by the upload endpoint; 0 returns all (default: 100)
	PreviewRows int `env:"UPLOAD_PREVIEW_ROWS" default:"100"`
}

// EngineConfig holds settings for fetching the analytics engine bundle.
type EngineConfig struct {
	// BaseURL is the primary CDN location of the engine bundle
	BaseURL string `env:"ENGINE_BASE_URL" default:"https://cdn.jsdelivr.net/npm/@dataprism/core@latest/dist"`

	// AssetPath is appended to every base URL to locate the bundle
	AssetPath string `env:"ENGINE_ASSET_PATH" default:"/dataprism.min.js"`

	// FallbackBaseURLs are tried in order after BaseURL within one attempt
	FallbackBaseURLs []string `env:"ENGINE_FALLBACK_BASE_URLS"`

	// GlobalName is the object the bundle must define once executed (default: DataPrism)
	GlobalName string `env:"ENGINE_GLOBAL_NAME" default:"DataPrism"`

	// Endpoint is the engine API the real handle talks to; empty serves queries
	// from the in-process engine once the bundle is verified
	Endpoint string `env:"ENGINE_ENDPOINT"`

	// Timeout bounds a single script fetch attempt (default: 30s)
	Timeout time.Duration `env:"ENGINE_TIMEOUT" default:"30s"`

	// Retries is the number of fetch attempts before giving up (default: 3)
	Retries int `env:"ENGINE_RETRIES" default:"3"`

	// RetryDelay is the linear backoff step between attempts (default: 1s)
	RetryDelay time.Duration `env:"ENGINE_RETRY_DELAY" default:"1s"`

	// Fallback permits substituting the in-process stub engine (default: true)
	Fallback bool `env:"ENGINE_FALLBACK" default:"true"`

	// Preload issues a best-effort HEAD before fetching (default: true)
	Preload bool `env:"ENGINE_PRELOAD" default:"true"`

	// PreloadTimeout bounds the preload hint (default: 5s)
	PreloadTimeout time.Duration `env:"ENGINE_PRELOAD_TIMEOUT" default:"5s"`

	// PollInterval is the tick used by callers waiting on an in-flight load (default: 100ms)
	PollInterval time.Duration `env:"ENGINE_POLL_INTERVAL" default:"100ms"`

	// WaitTimeout bounds how long a concurrent caller waits; it may not be
	// shorter than LoadBudget (default: LoadBudget)
	WaitTimeout time.Duration `env:"ENGINE_WAIT_TIMEOUT"`

	// CompanionName is the library the engine needs present before it loads; empty skips the check (default: Arrow)
	CompanionName string `env:"ENGINE_COMPANION_NAME" default:"Arrow"`

	// CompanionURL is fetched when the companion is not yet installed; empty means it must already be present
	CompanionURL string `env:"ENGINE_COMPANION_URL" default:"https://cdn.jsdelivr.net/npm/apache-arrow@latest/Arrow.es2015.min.js"`

	// StubDelay is the artificial latency of the fallback engine (default: 100ms)
	StubDelay time.Duration `env:"ENGINE_STUB_DELAY" default:"100ms"`

	// LoadOnStartup triggers the loader when the server boots (default: true)
	LoadOnStartup bool `env:"ENGINE_LOAD_ON_STARTUP" default:"true"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey gates /api routes behind X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled mounts /metrics on the HTTP server (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// MaxFileSizeBytes returns the upload ceiling in bytes.
func (c *UploadConfig) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// Candidates returns every bundle URL in the order the loader tries them.
func (c *EngineConfig) Candidates() []string {
	urls := make([]string, 0, 1+len(c.FallbackBaseURLs))
	urls = append(urls, c.BaseURL+c.AssetPath)
	for _, base := range c.FallbackBaseURLs {
		urls = append(urls, base+c.AssetPath)
	}
	return urls
}

// EngineEndpoint returns the engine API root. Empty means no remote engine
// is configured.
func (c *EngineConfig) EngineEndpoint() string {
	return strings.TrimRight(c.Endpoint, "/")
}

// LoadBudget is the longest a single load can take when every step runs to
// its bound: the companion fetch, the preload hints, a fetch and an
// initialize per candidate per attempt, the backoff between attempts, the
// stub and one poll tick.
func (c *EngineConfig) LoadBudget() time.Duration {
	n := time.Duration(max(len(c.Candidates()), 1))
	retries := time.Duration(max(c.Retries, 1))

	budget := retries*n*2*c.Timeout + retries*(retries-1)/2*c.RetryDelay + c.PollInterval
	if c.CompanionName != "" {
		budget += c.Timeout
	}
	if c.Preload {
		budget += n * c.PreloadTimeout
	}
	if c.Fallback {
		budget += c.StubDelay
	}
	return budget
}
