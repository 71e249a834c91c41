// Package version exposes build metadata stamped in by the linker:
//
//	go build -ldflags "-X github.com/Arize-ai/chat-to-purchase-router-agent/internal/version.Version=1.0.0
//	  -X github.com/Arize-ai/chat-to-purchase-router-agent/internal/version.Commit=abc123
//	  -X github.com/Arize-ai/chat-to-purchase-router-agent/internal/version.Date=2026-01-01"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("chat2purchase %s (commit: %s, built: %s, %s/%s)",
		Version, short(Commit), Date, runtime.GOOS, runtime.GOARCH)
}

// Build is the machine-readable form of Info, served by the gateway and
// printed by `version --json`.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go"`
}

// Current returns the running binary's build metadata.
func Current() Build {
	return Build{Version: Version, Commit: short(Commit), Date: Date, Go: runtime.Version()}
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
