// Package config handles loading and validation of lastfm-proxy configuration
// from YAML files and environment variables. Environment variables always
// override file-based values. Env var names follow the struct path with a
// LASTFM_PROXY_ prefix:
//
//	server.address → LASTFM_PROXY_SERVER_ADDRESS
//	rate_limit.window → LASTFM_PROXY_RATE_LIMIT_WINDOW
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// defaultConfigFile is the default path for the YAML configuration file.
// Override via LASTFM_PROXY_CONFIG_FILE environment variable.
const defaultConfigFile = "/etc/lastfm-proxy/config.yaml"

// envPrefix is prepended to every environment variable name.
const envPrefix = "LASTFM_PROXY_"

// ---------------------------------------------------------------------------
// Enum types. All canonical forms are lowercase; Load() normalizes before
// validation.
// ---------------------------------------------------------------------------

// FailurePolicy controls rate-limiter behavior when the counter store is
// unreachable.
type FailurePolicy string

const (
	FailurePolicyPassThrough      FailurePolicy = "passthrough"
	FailurePolicyFailClosed       FailurePolicy = "failclosed"
	FailurePolicyInMemoryFallback FailurePolicy = "inmemoryfallback"
)

func (fp FailurePolicy) Valid() bool {
	switch fp {
	case FailurePolicyPassThrough, FailurePolicyFailClosed, FailurePolicyInMemoryFallback:
		return true
	}
	return false
}

// StoreBackend selects the key-value store holding cache entries and
// rate-limit counters.
type StoreBackend string

const (
	StoreBackendRedis  StoreBackend = "redis"
	StoreBackendMemory StoreBackend = "memory"
)

func (b StoreBackend) Valid() bool {
	return b == StoreBackendRedis || b == StoreBackendMemory
}

// RedisMode identifies the Redis deployment topology.
type RedisMode string

const (
	RedisModeSingle   RedisMode = "single"
	RedisModeSentinel RedisMode = "sentinel"
	RedisModeCluster  RedisMode = "cluster"
)

func (m RedisMode) Valid() bool {
	switch m {
	case RedisModeSingle, RedisModeSentinel, RedisModeCluster:
		return true
	}
	return false
}

// SecretsProvider selects where the upstream credentials and the request
// signing key are read from.
type SecretsProvider string

const (
	SecretsProviderEnv    SecretsProvider = "env"
	SecretsProviderStatic SecretsProvider = "static"
	SecretsProviderVault  SecretsProvider = "vault"
)

func (p SecretsProvider) Valid() bool {
	switch p {
	case SecretsProviderEnv, SecretsProviderStatic, SecretsProviderVault:
		return true
	}
	return false
}

// LogLevel controls the minimum severity for structured log output.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// LogFormat selects the structured log encoding.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

func (f LogFormat) Valid() bool {
	return f == LogFormatJSON || f == LogFormatText
}

// TLSVersion selects the minimum TLS protocol version.
type TLSVersion string

const (
	TLSVersion12 TLSVersion = "1.2"
	TLSVersion13 TLSVersion = "1.3"
)

func (v TLSVersion) Valid() bool {
	return v == TLSVersion12 || v == TLSVersion13
}

// Config is the top-level lastfm-proxy configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"     envPrefix:"SERVER_"`
	Admin     AdminConfig     `yaml:"admin"      envPrefix:"ADMIN_"`
	Upstream  UpstreamConfig  `yaml:"upstream"   envPrefix:"UPSTREAM_"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Cache     CacheConfig     `yaml:"cache"      envPrefix:"CACHE_"`
	Store     StoreConfig     `yaml:"store"      envPrefix:"STORE_"`
	Redis     RedisConfig     `yaml:"redis"      envPrefix:"REDIS_"`
	Secrets   SecretsConfig   `yaml:"secrets"    envPrefix:"SECRETS_"`
	Events    EventsConfig    `yaml:"events"     envPrefix:"EVENTS_"`
	Logging   LoggingConfig   `yaml:"logging"    envPrefix:"LOGGING_"`
	Tracing   TracingConfig   `yaml:"tracing"    envPrefix:"TRACING_"`
}

// ServerConfig holds the main proxy server settings.
type ServerConfig struct {
	Address        string          `yaml:"address"         env:"ADDRESS"`
	ReadTimeout    string          `yaml:"read_timeout"    env:"READ_TIMEOUT"`
	WriteTimeout   string          `yaml:"write_timeout"   env:"WRITE_TIMEOUT"`
	IdleTimeout    string          `yaml:"idle_timeout"    env:"IDLE_TIMEOUT"`
	DrainTimeout   string          `yaml:"drain_timeout"   env:"DRAIN_TIMEOUT"`
	RequestTimeout string          `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	TLS            ServerTLSConfig `yaml:"tls"             envPrefix:"TLS_"`

	// AuthCallbackURL is the cb= value embedded in the /auth/url response.
	// The CLI listens on this address to receive the token after login.
	AuthCallbackURL string `yaml:"auth_callback_url" env:"AUTH_CALLBACK_URL"`
}

// ServerTLSConfig holds optional TLS termination settings.
type ServerTLSConfig struct {
	Enabled      bool       `yaml:"enabled"       env:"ENABLED"`
	CertFile     string     `yaml:"cert_file"     env:"CERT_FILE"`
	KeyFile      string     `yaml:"key_file"      env:"KEY_FILE"`
	HTTP3Enabled bool       `yaml:"http3_enabled" env:"HTTP3_ENABLED"`
	MinVersion   TLSVersion `yaml:"min_version"   env:"MIN_VERSION"`
}

// AdminConfig holds the admin/observability server settings.
type AdminConfig struct {
	Address      string `yaml:"address"       env:"ADDRESS"`
	ReadTimeout  string `yaml:"read_timeout"  env:"READ_TIMEOUT"`
	WriteTimeout string `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  string `yaml:"idle_timeout"  env:"IDLE_TIMEOUT"`
}

// UpstreamConfig describes the Last.fm API endpoint and the outbound transport.
type UpstreamConfig struct {
	BaseURL         string          `yaml:"base_url"          env:"BASE_URL"`
	AuthURL         string          `yaml:"auth_url"          env:"AUTH_URL"`
	Timeout         string          `yaml:"timeout"           env:"TIMEOUT"`
	MaxIdleConns    int             `yaml:"max_idle_conns"    env:"MAX_IDLE_CONNS"`
	IdleConnTimeout string          `yaml:"idle_conn_timeout" env:"IDLE_CONN_TIMEOUT"`
	MaxBodySize     int64           `yaml:"max_body_size"     env:"MAX_BODY_SIZE"` // bytes
	UserAgent       string          `yaml:"user_agent"        env:"USER_AGENT"`
	Transport       TransportConfig `yaml:"transport"         envPrefix:"TRANSPORT_"`
}

// TransportConfig holds low-level HTTP transport tuning for upstream calls.
type TransportConfig struct {
	DialTimeout         string `yaml:"dial_timeout"          env:"DIAL_TIMEOUT"`
	DialKeepAlive       string `yaml:"dial_keep_alive"       env:"DIAL_KEEP_ALIVE"`
	TLSHandshakeTimeout string `yaml:"tls_handshake_timeout" env:"TLS_HANDSHAKE_TIMEOUT"`
}

// RateLimitConfig holds the fixed-window rate limiting settings.
type RateLimitConfig struct {
	// Limit is the number of requests a client may make per window.
	// 0 disables rate limiting.
	Limit         int64         `yaml:"limit"          env:"LIMIT"`
	Window        string        `yaml:"window"         env:"WINDOW"`
	FailurePolicy FailurePolicy `yaml:"failure_policy" env:"FAILURE_POLICY"`
	KeyPrefix     string        `yaml:"key_prefix"     env:"KEY_PREFIX"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	TTL     string `yaml:"ttl"     env:"TTL"`

	// MaxBodySize is the largest response body cached, in bytes. Larger
	// responses are served but not stored. 0 means 1MB.
	MaxBodySize int64 `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
}

// StoreConfig selects the backing key-value store.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend" env:"BACKEND"`
	// MaxCost bounds the memory backend in bytes.
	MaxCost int64 `yaml:"max_cost" env:"MAX_COST"`
}

// RedisConfig holds Redis connection and topology settings.
type RedisConfig struct {
	Endpoints        []string       `yaml:"endpoints"         env:"ENDPOINTS" envSeparator:","`
	Mode             RedisMode      `yaml:"mode"              env:"MODE"`
	MasterName       string         `yaml:"master_name"       env:"MASTER_NAME"`
	Username         string         `yaml:"username"          env:"USERNAME"`
	Password         RedactedString `yaml:"password"          env:"PASSWORD"`
	DB               int            `yaml:"db"                env:"DB"`
	PoolSize         int            `yaml:"pool_size"         env:"POOL_SIZE"`
	DialTimeout      string         `yaml:"dial_timeout"      env:"DIAL_TIMEOUT"`
	ReadTimeout      string         `yaml:"read_timeout"      env:"READ_TIMEOUT"`
	WriteTimeout     string         `yaml:"write_timeout"     env:"WRITE_TIMEOUT"`
	TLS              RedisTLSConfig `yaml:"tls"               envPrefix:"TLS_"`
	SentinelUsername string         `yaml:"sentinel_username" env:"SENTINEL_USERNAME"`
	SentinelPassword RedactedString `yaml:"sentinel_password" env:"SENTINEL_PASSWORD"`
}

// RedisTLSConfig holds Redis TLS settings.
type RedisTLSConfig struct {
	Enabled            bool `yaml:"enabled"              env:"ENABLED"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// SecretsConfig tells the proxy where to find the upstream API key, the
// upstream API secret and the inbound request-signing key.
type SecretsConfig struct {
	Provider SecretsProvider `yaml:"provider" env:"PROVIDER"`

	// Names used by the env and vault providers.
	APIKeyName     string `yaml:"api_key_name"     env:"API_KEY_NAME"`
	APISecretName  string `yaml:"api_secret_name"  env:"API_SECRET_NAME"`
	SigningKeyName string `yaml:"signing_key_name" env:"SIGNING_KEY_NAME"`

	// Inline values used by the static provider.
	APIKey     RedactedString `yaml:"api_key"     env:"API_KEY"`
	APISecret  RedactedString `yaml:"api_secret"  env:"API_SECRET"`
	SigningKey RedactedString `yaml:"signing_key" env:"SIGNING_KEY"`

	Vault VaultConfig `yaml:"vault" envPrefix:"VAULT_"`
}

// VaultConfig locates a KV v2 secret in HashiCorp Vault.
type VaultConfig struct {
	Address string         `yaml:"address" env:"ADDRESS"`
	Token   RedactedString `yaml:"token"   env:"TOKEN"`
	Mount   string         `yaml:"mount"   env:"MOUNT"`
	Path    string         `yaml:"path"    env:"PATH"`
}

// EventsConfig holds optional request event emission settings.
// When enabled, every completed request is reported to an external HTTP
// receiver (webhook pattern).
type EventsConfig struct {
	Enabled       bool             `yaml:"enabled"        env:"ENABLED"`
	HTTP          EventsHTTPConfig `yaml:"http"           envPrefix:"HTTP_"`
	BatchSize     int              `yaml:"batch_size"     env:"BATCH_SIZE"`
	FlushInterval string           `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	BufferSize    int              `yaml:"buffer_size"    env:"BUFFER_SIZE"`
}

// EventsHTTPConfig holds HTTP event receiver settings.
type EventsHTTPConfig struct {
	URL string `yaml:"url" env:"URL"`
}

// RedactedString is a string that masks its value in String(), GoString(), and
// MarshalJSON() to prevent accidental leakage in logs or serialized output.
// Use .Value() to access the underlying secret.
type RedactedString string

const redactedPlaceholder = "[REDACTED]"

// Value returns the underlying secret string.
func (r RedactedString) Value() string { return string(r) }

// String implements fmt.Stringer and always returns a redacted placeholder.
func (r RedactedString) String() string {
	if r == "" {
		return ""
	}
	return redactedPlaceholder
}

// GoString implements fmt.GoStringer for %#v.
func (r RedactedString) GoString() string { return r.String() }

// MarshalJSON masks the value in JSON output.
func (r RedactedString) MarshalJSON() ([]byte, error) {
	if r == "" {
		return []byte(`""`), nil
	}
	return json.Marshal(redactedPlaceholder)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"  env:"LEVEL"`
	Format LogFormat `yaml:"format" env:"FORMAT"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"      env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint"     env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate  float64 `yaml:"sample_rate"  env:"SAMPLE_RATE"`
}

// Defaults returns a Config populated with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     "30s",
			WriteTimeout:    "30s",
			IdleTimeout:     "120s",
			DrainTimeout:    "30s",
			RequestTimeout:  "30s",
			AuthCallbackURL: "http://localhost:41419/auth/callback",
		},
		Admin: AdminConfig{
			Address:      ":9090",
			ReadTimeout:  "5s",
			WriteTimeout: "10s",
			IdleTimeout:  "30s",
		},
		Upstream: UpstreamConfig{
			BaseURL:         "https://ws.audioscrobbler.com/2.0/",
			AuthURL:         "https://www.last.fm/api/auth/",
			Timeout:         "10s",
			MaxIdleConns:    100,
			IdleConnTimeout: "90s",
			MaxBodySize:     5 << 20, // 5 MiB
			UserAgent:       "lastfm-proxy/1.0",
			Transport: TransportConfig{
				DialTimeout:         "5s",
				DialKeepAlive:       "30s",
				TLSHandshakeTimeout: "10s",
			},
		},
		RateLimit: RateLimitConfig{
			Limit:         100,
			Window:        "60s",
			FailurePolicy: FailurePolicyPassThrough,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     "1h",
		},
		Store: StoreConfig{
			Backend: StoreBackendRedis,
			MaxCost: 64 << 20, // 64 MiB
		},
		Redis: RedisConfig{
			Endpoints:    []string{"localhost:6379"},
			Mode:         RedisModeSingle,
			PoolSize:     10,
			DialTimeout:  "5s",
			ReadTimeout:  "3s",
			WriteTimeout: "3s",
		},
		Secrets: SecretsConfig{
			Provider:       SecretsProviderEnv,
			APIKeyName:     "LASTFM_API_KEY",
			APISecretName:  "LASTFM_API_SECRET",
			SigningKeyName: "REQUEST_SIGNING_KEY",
			Vault: VaultConfig{
				Mount: "secret",
				Path:  "lastfm-proxy",
			},
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
		},
		Tracing: TracingConfig{
			ServiceName: "lastfm-proxy",
			SampleRate:  0.1,
		},
	}
}

// ConfigFilePath returns the resolved config file path (from env or default).
func ConfigFilePath() string {
	configFile := os.Getenv(envPrefix + "CONFIG_FILE")
	if configFile == "" {
		configFile = defaultConfigFile
	}
	return configFile
}

// Load reads configuration from a YAML file and overlays environment variable
// overrides. The config file path defaults to /etc/lastfm-proxy/config.yaml and
// can be overridden via LASTFM_PROXY_CONFIG_FILE.
func Load() (*Config, error) {
	return LoadFromPath(ConfigFilePath())
}

// LoadFromPath reads configuration from the given YAML file and overlays
// environment variable overrides. Used by the config watcher to reload.
func LoadFromPath(configFile string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(configFile) // config file path is intentionally user-provided.
	if err == nil {
		if yamlErr := yaml.Unmarshal(data, cfg); yamlErr != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configFile, yamlErr)
		}
	}
	// If the file doesn't exist, we continue with defaults + env overrides.

	if envErr := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); envErr != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", envErr)
	}

	cfg.normalize()

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// normalize lowercases all enum fields so that YAML values like "passThrough"
// or env values like "PASSTHROUGH" match the canonical lowercase constants.
func (cfg *Config) normalize() {
	cfg.RateLimit.FailurePolicy = FailurePolicy(strings.ToLower(string(cfg.RateLimit.FailurePolicy)))
	cfg.Store.Backend = StoreBackend(strings.ToLower(string(cfg.Store.Backend)))
	cfg.Redis.Mode = RedisMode(strings.ToLower(string(cfg.Redis.Mode)))
	cfg.Secrets.Provider = SecretsProvider(strings.ToLower(string(cfg.Secrets.Provider)))
	cfg.Logging.Level = LogLevel(strings.ToLower(string(cfg.Logging.Level)))
	cfg.Logging.Format = LogFormat(strings.ToLower(string(cfg.Logging.Format)))
	cfg.Server.TLS.MinVersion = TLSVersion(normalizeTLSVersion(string(cfg.Server.TLS.MinVersion)))
}

// normalizeTLSVersion maps the various accepted spellings to canonical "1.2" / "1.3".
func normalizeTLSVersion(v string) string {
	switch strings.ToLower(v) {
	case "1.3", "tls13", "tls1.3":
		return string(TLSVersion13)
	case "1.2", "tls12", "tls1.2":
		return string(TLSVersion12)
	default:
		return v
	}
}

// Validate checks that the configuration is internally consistent.
func Validate(cfg *Config) error {
	if err := validateUpstream(cfg); err != nil {
		return err
	}
	if err := validateDurations(cfg); err != nil {
		return err
	}
	if err := validateTLS(cfg); err != nil {
		return err
	}
	if err := validateRateLimit(cfg); err != nil {
		return err
	}
	if cfg.Cache.MaxBodySize < 0 {
		return fmt.Errorf("cache.max_body_size must be >= 0")
	}
	if err := validateStore(cfg); err != nil {
		return err
	}
	if err := validateSecrets(cfg); err != nil {
		return err
	}
	if err := validateEvents(cfg); err != nil {
		return err
	}
	if err := validateLogging(cfg); err != nil {
		return err
	}
	return validateTracing(cfg)
}

func validateUpstream(cfg *Config) error {
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	for name, raw := range map[string]string{
		"upstream.base_url": cfg.Upstream.BaseURL,
		"upstream.auth_url": cfg.Upstream.AuthURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q: scheme and host are required", name, raw)
		}
	}
	if cfg.Upstream.MaxBodySize < 0 {
		return fmt.Errorf("upstream.max_body_size must be >= 0")
	}
	return nil
}

func validateDurations(cfg *Config) error {
	durations := []struct {
		name, val string
	}{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
		{"server.drain_timeout", cfg.Server.DrainTimeout},
		{"server.request_timeout", cfg.Server.RequestTimeout},
		{"admin.read_timeout", cfg.Admin.ReadTimeout},
		{"admin.write_timeout", cfg.Admin.WriteTimeout},
		{"admin.idle_timeout", cfg.Admin.IdleTimeout},
		{"upstream.timeout", cfg.Upstream.Timeout},
		{"upstream.idle_conn_timeout", cfg.Upstream.IdleConnTimeout},
		{"upstream.transport.dial_timeout", cfg.Upstream.Transport.DialTimeout},
		{"upstream.transport.dial_keep_alive", cfg.Upstream.Transport.DialKeepAlive},
		{"upstream.transport.tls_handshake_timeout", cfg.Upstream.Transport.TLSHandshakeTimeout},
		{"rate_limit.window", cfg.RateLimit.Window},
		{"cache.ttl", cfg.Cache.TTL},
		{"events.flush_interval", cfg.Events.FlushInterval},
	}

	for _, d := range durations {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.val, err)
		}
	}
	return nil
}

func validateTLS(cfg *Config) error {
	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
		}
	}
	if cfg.Server.TLS.HTTP3Enabled && !cfg.Server.TLS.Enabled {
		return fmt.Errorf("server.tls.http3_enabled requires server.tls.enabled to be true (QUIC mandates TLS)")
	}
	if v := cfg.Server.TLS.MinVersion; v != "" && !v.Valid() {
		return fmt.Errorf("invalid server.tls.min_version %q: must be 1.2 or 1.3", v)
	}
	return nil
}

func validateRateLimit(cfg *Config) error {
	if cfg.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must be >= 0")
	}
	if fp := cfg.RateLimit.FailurePolicy; fp != "" && !fp.Valid() {
		return fmt.Errorf("invalid rate_limit.failure_policy %q: must be passthrough, failclosed, or inmemoryfallback", fp)
	}
	if cfg.RateLimit.Window != "" {
		if d, _ := time.ParseDuration(cfg.RateLimit.Window); d < time.Second {
			return fmt.Errorf("rate_limit.window must be at least 1s, got %q", cfg.RateLimit.Window)
		}
	}
	return nil
}

func validateStore(cfg *Config) error {
	if !cfg.Store.Backend.Valid() {
		return fmt.Errorf("invalid store.backend %q: must be redis or memory", cfg.Store.Backend)
	}
	if cfg.Store.Backend == StoreBackendMemory {
		return nil
	}
	return validateRedisConfig(cfg.Redis, "redis")
}

func validateRedisConfig(rc RedisConfig, prefix string) error {
	if !rc.Mode.Valid() {
		return fmt.Errorf("invalid %s.mode %q", prefix, rc.Mode)
	}
	if len(rc.Endpoints) == 0 {
		return fmt.Errorf("%s.endpoints: at least one endpoint is required", prefix)
	}
	if rc.Mode == RedisModeSingle && len(rc.Endpoints) > 1 {
		return fmt.Errorf("%s.endpoints: single mode requires exactly one endpoint, got %d", prefix, len(rc.Endpoints))
	}
	if rc.Mode == RedisModeSentinel && rc.MasterName == "" {
		return fmt.Errorf("%s.master_name is required for sentinel mode", prefix)
	}
	return nil
}

func validateSecrets(cfg *Config) error {
	s := cfg.Secrets
	if !s.Provider.Valid() {
		return fmt.Errorf("invalid secrets.provider %q: must be env, static, or vault", s.Provider)
	}
	if s.Provider == SecretsProviderVault {
		if s.Vault.Address == "" {
			return fmt.Errorf("secrets.vault.address is required for the vault provider")
		}
		if s.Vault.Path == "" {
			return fmt.Errorf("secrets.vault.path is required for the vault provider")
		}
	}
	return nil
}

func validateEvents(cfg *Config) error {
	if cfg.Events.Enabled && cfg.Events.HTTP.URL == "" {
		return fmt.Errorf("events.http.url is required when events are enabled")
	}
	return nil
}

func validateLogging(cfg *Config) error {
	if !cfg.Logging.Level.Valid() {
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	if !cfg.Logging.Format.Valid() {
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	return nil
}

func validateTracing(cfg *Config) error {
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// ParseDuration parses a duration string, returning def if the string is empty.
func ParseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// MustParseDuration parses a duration string, returning def on empty or error.
func MustParseDuration(s string, def time.Duration) time.Duration {
	d, err := ParseDuration(s, def)
	if err != nil {
		return def
	}
	return d
}

// RequiresRestart compares this config to old and returns a list of field
// paths that changed and require a process restart. An empty slice means
// the new config can be hot-reloaded safely.
func (c *Config) RequiresRestart(old *Config) []string {
	if old == nil {
		return nil
	}
	var fields []string
	if c.Server.Address != old.Server.Address {
		fields = append(fields, "server.address")
	}
	if c.Admin.Address != old.Admin.Address {
		fields = append(fields, "admin.address")
	}
	if c.Store.Backend != old.Store.Backend {
		fields = append(fields, "store.backend")
	}
	if c.Redis.Mode != old.Redis.Mode {
		fields = append(fields, "redis.mode")
	}
	if c.Secrets.Provider != old.Secrets.Provider {
		fields = append(fields, "secrets.provider")
	}
	if c.Server.TLS.Enabled != old.Server.TLS.Enabled {
		fields = append(fields, "server.tls.enabled")
	}
	if c.Server.TLS.HTTP3Enabled != old.Server.TLS.HTTP3Enabled {
		fields = append(fields, "server.tls.http3_enabled")
	}
	return fields
}
