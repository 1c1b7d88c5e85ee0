package webmonitor

// CardsResponse is the /cards payload. The key matches the Flask frontend.
type CardsResponse struct {
	DetectedCards []string `json:"detected_cards"`
}

// CardEvent is the payload for /cards/stream.
type CardEvent struct {
	Added         []string `json:"added"`
	Reset         bool     `json:"reset"`
	DetectedCards []string `json:"detected_cards"`
	Version       uint64   `json:"version"`
	Cycle         uint64   `json:"cycle"`
	Timestamp     float64  `json:"timestamp"`
}

// AppHealth mirrors the "app" block the Flask health.js reads.
type AppHealth struct {
	FrontendImageExists       bool        `json:"frontend_image_exists"`
	FrontendImageLastModified *float64    `json:"frontend_image_last_modified"`
	ModelLoaded               bool        `json:"model_loaded"`
	Cycles                    uint64      `json:"cycles"`
	LastCycleFailed           bool        `json:"last_cycle_failed"`
	LastError                 string      `json:"last_error,omitempty"`
	AccumulatedCards          int         `json:"accumulated_cards"`
	RecentChanges             []CardEvent `json:"recent_changes"`
}

// SystemHealth reports Go runtime figures.
type SystemHealth struct {
	Goroutines    int     `json:"goroutines"`
	HeapAlloc     uint64  `json:"heap_alloc"`
	NumGC         uint32  `json:"num_gc"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp float64      `json:"timestamp"`
	App       AppHealth    `json:"app"`
	System    SystemHealth `json:"system"`
}
