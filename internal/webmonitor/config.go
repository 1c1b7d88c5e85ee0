package webmonitor

import (
	"path/filepath"
	"time"
)

// Config defines the runtime configuration for the card monitor HTTP surface.
type Config struct {
	Addr           string
	AssetsDir      string
	LatestViewPath string
	Keepalive      time.Duration // SSE keepalive comment interval
	HistorySize    int           // Change events kept for /health
}

// DefaultConfig returns a config aligned with the previous Flask service.
func DefaultConfig() Config {
	return Config{
		Addr:           ":5001",
		AssetsDir:      filepath.Clean("./frontend"),
		LatestViewPath: "cropped_screenshot.png",
		Keepalive:      30 * time.Second,
		HistorySize:    8,
	}
}
