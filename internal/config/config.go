package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultCategories is the shoe-store category list used when the catalog
// does not report its own.
var DefaultCategories = []string{
	"ankle boots",
	"athletic shoes",
	"boots",
	"casual shoes",
	"creepers",
	"dress shoes",
	"flats",
	"heels",
	"hiking shoes",
	"loafers",
	"sneakers",
	"work shoes",
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}
