package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			issues = append(issues, ValidationIssue{
				Path:    path,
				Message: fmt.Sprintf("must be one of %v, got %q", valid, value),
			})
		}
	}

	// Server validation
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "server.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Server.Port),
		})
	}
	oneOf("server.bind", cfg.Server.Bind, []string{"loopback", "lan", "custom"})
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "server.customBindHost",
			Message: "required when bind is custom",
		})
	}
	if cfg.Server.RateLimit.RPS < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "server.rateLimit.rps",
			Message: "must not be negative",
		})
	}

	// Model validation
	validProviders := []string{"openai", "anthropic", "none"}
	oneOf("model.provider", cfg.Model.Provider, validProviders)
	for _, fb := range cfg.Model.Fallbacks {
		if !slices.Contains(validProviders[:2], fb) {
			issues = append(issues, ValidationIssue{
				Path:    "model.fallbacks",
				Message: fmt.Sprintf("unknown provider %q", fb),
			})
		}
	}
	if t := cfg.Model.Temperature; t != nil && (*t < 0 || *t > 2) {
		issues = append(issues, ValidationIssue{
			Path:    "model.temperature",
			Message: fmt.Sprintf("must be between 0 and 2, got %g", *t),
		})
	}

	// Agent validation
	if cfg.Agent.MaxIterations < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.maxIterations",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Agent.MaxIterations),
		})
	}
	if cfg.Agent.TurnTimeoutSeconds < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.turnTimeoutSeconds",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Agent.TurnTimeoutSeconds),
		})
	}
	if cfg.Agent.MaxRetries < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.maxRetries",
			Message: "must not be negative",
		})
	}
	oneOf("agent.detector", cfg.Agent.Detector, []string{"model", "lexical"})
	oneOf("agent.extractor", cfg.Agent.Extractor, []string{"model", "heuristic"})

	// Catalog validation
	oneOf("catalog.driver", cfg.Catalog.Driver, []string{"sqlite", "postgres"})
	if cfg.Catalog.DefaultLimit < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "catalog.defaultLimit",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Catalog.DefaultLimit),
		})
	}
	if cfg.Catalog.MaxLimit < cfg.Catalog.DefaultLimit {
		issues = append(issues, ValidationIssue{
			Path:    "catalog.maxLimit",
			Message: fmt.Sprintf("must be >= defaultLimit (%d), got %d", cfg.Catalog.DefaultLimit, cfg.Catalog.MaxLimit),
		})
	}

	// Session validation
	oneOf("session.store", cfg.Session.Store, []string{"memory", "sqlite", "redis"})
	if cfg.Session.Store == "redis" && cfg.Session.RedisAddr == "" {
		issues = append(issues, ValidationIssue{
			Path:    "session.redisAddr",
			Message: "required when store is redis",
		})
	}
	if cfg.Session.MaxTurns < 2 {
		issues = append(issues, ValidationIssue{
			Path:    "session.maxTurns",
			Message: fmt.Sprintf("must be at least 2, got %d", cfg.Session.MaxTurns),
		})
	}

	// Logging validation
	oneOf("logging.level", cfg.Logging.Level, []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	// Tracing validation
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		issues = append(issues, ValidationIssue{
			Path:    "tracing.sampleRate",
			Message: fmt.Sprintf("must be between 0 and 1, got %g", cfg.Tracing.SampleRate),
		})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		issues = append(issues, ValidationIssue{
			Path:    "tracing.endpoint",
			Message: "required when tracing is enabled",
		})
	}

	return issues
}
