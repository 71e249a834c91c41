package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and DSNs can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Catalog.DSN = expandEnvVars(cfg.Catalog.DSN)
	cfg.Session.RedisPassword = expandEnvVars(cfg.Session.RedisPassword)
	for name, provider := range cfg.Model.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		cfg.Model.Providers[name] = provider
	}
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			expandSensitiveFields(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "loopback"
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	if cfg.Server.RateLimit.RPS == 0 {
		cfg.Server.RateLimit.RPS = 5
	}
	if cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = 10
	}

	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "openai"
	}
	if cfg.Model.Model == "" && cfg.Model.Provider == "openai" {
		cfg.Model.Model = "gpt-4o"
	}
	if cfg.Model.ExtractionModel == "" && cfg.Model.Provider == "openai" {
		cfg.Model.ExtractionModel = "gpt-4o-mini"
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 1024
	}

	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 5
	}
	if cfg.Agent.TurnTimeoutSeconds == 0 {
		cfg.Agent.TurnTimeoutSeconds = 30
	}
	if cfg.Agent.MaxRetries == 0 {
		cfg.Agent.MaxRetries = 3
	}
	if cfg.Agent.RetryBaseDelayMs == 0 {
		cfg.Agent.RetryBaseDelayMs = 250
	}
	if cfg.Agent.Detector == "" {
		cfg.Agent.Detector = "model"
	}
	if cfg.Agent.Extractor == "" {
		cfg.Agent.Extractor = "model"
	}

	if cfg.Catalog.Driver == "" {
		cfg.Catalog.Driver = "sqlite"
	}
	if cfg.Catalog.MaxOpenConns == 0 {
		cfg.Catalog.MaxOpenConns = 5
	}
	if cfg.Catalog.DefaultLimit == 0 {
		cfg.Catalog.DefaultLimit = 10
	}
	if cfg.Catalog.MaxLimit == 0 {
		cfg.Catalog.MaxLimit = 50
	}

	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}
	if cfg.Session.MaxTurns == 0 {
		cfg.Session.MaxTurns = 50
	}
	if cfg.Session.IdleMinutes == 0 {
		cfg.Session.IdleMinutes = 30
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 10000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}

	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "localhost:4317"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "chat2purchase"
	}
}

// applyEnvOverrides reads CHAT2PURCHASE_* variables plus the provider and
// database variables the storefront deployment already exports.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHAT2PURCHASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHAT2PURCHASE_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("CHAT2PURCHASE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CHAT2PURCHASE_MODEL_PROVIDER"); v != "" {
		cfg.Model.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("CHAT2PURCHASE_MODEL"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("CHAT2PURCHASE_CATALOG_DRIVER"); v != "" {
		cfg.Catalog.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("CHAT2PURCHASE_CATALOG_DSN"); v != "" {
		cfg.Catalog.DSN = v
	}
	if v := os.Getenv("CHAT2PURCHASE_SESSION_STORE"); v != "" {
		cfg.Session.Store = strings.ToLower(v)
	}
	if v := os.Getenv("CHAT2PURCHASE_REDIS_ADDR"); v != "" {
		cfg.Session.RedisAddr = v
	}
	if v := os.Getenv("CHAT2PURCHASE_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}

	setProviderKey(cfg, "openai", os.Getenv("OPENAI_API_KEY"))
	setProviderKey(cfg, "anthropic", os.Getenv("ANTHROPIC_API_KEY"))

	if cfg.Catalog.Driver == "postgres" && cfg.Catalog.DSN == "" {
		cfg.Catalog.DSN = postgresDSNFromEnv()
	}
}

// setProviderKey fills a provider's API key from the environment unless the
// config file already set one.
func setProviderKey(cfg *Config, provider, key string) {
	if key == "" {
		return
	}
	if cfg.Model.Providers == nil {
		cfg.Model.Providers = make(map[string]ModelProviderEntry)
	}
	entry := cfg.Model.Providers[provider]
	if entry.APIKey == "" {
		entry.APIKey = key
	}
	cfg.Model.Providers[provider] = entry
}

// postgresDSNFromEnv builds a DSN from DB_HOST, DB_PORT, DB_NAME, DB_USER
// and DB_PASSWORD with the same defaults the catalog loader always used.
func postgresDSNFromEnv() string {
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(get("DB_USER", "postgres"), get("DB_PASSWORD", "postgres")),
		Host:     get("DB_HOST", "localhost") + ":" + get("DB_PORT", "5432"),
		Path:     "/" + get("DB_NAME", "chat_to_purchase"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
