package config

// Config is the root configuration for the shopping agent.
type Config struct {
	Server  ServerConfig  `yaml:"server,omitempty"`
	Model   ModelConfig   `yaml:"model,omitempty"`
	Agent   AgentConfig   `yaml:"agent,omitempty"`
	Catalog CatalogConfig `yaml:"catalog,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket gateway.
type ServerConfig struct {
	Port           int             `yaml:"port,omitempty"`
	Bind           string          `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string          `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string        `yaml:"allowedOrigins,omitempty"`
	RateLimit      RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// RateLimitConfig bounds chat requests per client IP.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps,omitempty"`
	Burst int     `yaml:"burst,omitempty"`
}

// ModelConfig selects the reasoning model and its providers.
type ModelConfig struct {
	Provider        string                        `yaml:"provider,omitempty"` // "openai" | "anthropic" | "none"
	Model           string                        `yaml:"model,omitempty"`
	ExtractionModel string                        `yaml:"extractionModel,omitempty"`
	Fallbacks       []string                      `yaml:"fallbacks,omitempty"`
	MaxTokens       int                           `yaml:"maxTokens,omitempty"`
	Temperature     *float64                      `yaml:"temperature,omitempty"`
	Providers       map[string]ModelProviderEntry `yaml:"providers,omitempty"`
}

// ModelProviderEntry holds credentials for one provider.
type ModelProviderEntry struct {
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
	Model   string `yaml:"model,omitempty"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxIterations      int    `yaml:"maxIterations,omitempty"`
	TurnTimeoutSeconds int    `yaml:"turnTimeoutSeconds,omitempty"`
	MaxRetries         int    `yaml:"maxRetries,omitempty"`
	RetryBaseDelayMs   int    `yaml:"retryBaseDelayMs,omitempty"`
	Detector           string `yaml:"detector,omitempty"`  // "model" | "lexical"
	Extractor          string `yaml:"extractor,omitempty"` // "model" | "heuristic"
	ExtraPrompt        string `yaml:"extraPrompt,omitempty"`
}

// CatalogConfig points at the product catalog.
type CatalogConfig struct {
	Driver       string   `yaml:"driver,omitempty"` // "sqlite" | "postgres"
	DSN          string   `yaml:"dsn,omitempty"`
	MaxOpenConns int      `yaml:"maxOpenConns,omitempty"`
	DefaultLimit int      `yaml:"defaultLimit,omitempty"`
	MaxLimit     int      `yaml:"maxLimit,omitempty"`
	Categories   []string `yaml:"categories,omitempty"`
}

// SessionConfig defines session storage and eviction.
type SessionConfig struct {
	Store         string `yaml:"store,omitempty"` // "memory" | "sqlite" | "redis"
	MaxTurns      int    `yaml:"maxTurns,omitempty"`
	IdleMinutes   int    `yaml:"idleMinutes,omitempty"`
	MaxSessions   int    `yaml:"maxSessions,omitempty"`
	RedisAddr     string `yaml:"redisAddr,omitempty"`
	RedisPassword string `yaml:"redisPassword,omitempty"`
	RedisDB       int    `yaml:"redisDb,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled,omitempty"`
	Endpoint    string  `yaml:"endpoint,omitempty"` // OTLP gRPC, e.g. "localhost:4317"
	Insecure    bool    `yaml:"insecure,omitempty"`
	SampleRate  float64 `yaml:"sampleRate,omitempty"`
	ServiceName string  `yaml:"serviceName,omitempty"`
}
