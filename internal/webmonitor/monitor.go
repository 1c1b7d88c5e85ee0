package webmonitor

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cardwatch/cardwatch/pkg/types"
)

// ModelStatus reports whether detection is available.
type ModelStatus interface {
	Loaded() bool
}

// Monitor assembles the health view from the published snapshot, the latest
// view file and the Go runtime. It also keeps a short change history.
type Monitor struct {
	startTime  time.Time
	latestPath string
	source     CardSource
	model      ModelStatus
	maxHistory int

	mu      sync.Mutex
	history []CardEvent
}

// NewMonitor creates a Monitor. model may be nil.
func NewMonitor(source CardSource, model ModelStatus, latestPath string, maxHistory int) *Monitor {
	if maxHistory <= 0 {
		maxHistory = DefaultConfig().HistorySize
	}
	return &Monitor{
		startTime:  time.Now(),
		latestPath: latestPath,
		source:     source,
		model:      model,
		maxHistory: maxHistory,
	}
}

// Record prepends a change event to the history.
func (m *Monitor) Record(ev CardEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append([]CardEvent{ev}, m.history...)
	if len(m.history) > m.maxHistory {
		m.history = m.history[:m.maxHistory]
	}
}

// History returns a copy of the recorded change events, newest first.
func (m *Monitor) History() []CardEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CardEvent, len(m.history))
	copy(out, m.history)
	return out
}

// Health returns the current health view. It fails only when the latest view
// cannot be inspected for a reason other than not existing yet.
func (m *Monitor) Health() (HealthResponse, error) {
	snap := m.source.Latest()

	app := AppHealth{
		Cycles:           snap.Cycle,
		LastCycleFailed:  snap.LastCycle.Failed,
		LastError:        snap.LastError,
		AccumulatedCards: len(snap.Cards),
		RecentChanges:    m.History(),
	}
	if m.model != nil {
		app.ModelLoaded = m.model.Loaded()
	}

	info, err := os.Stat(m.latestPath)
	switch {
	case err == nil:
		mod := float64(info.ModTime().Unix())
		app.FrontendImageExists = true
		app.FrontendImageLastModified = &mod
	case errors.Is(err, os.ErrNotExist):
	default:
		return HealthResponse{}, fmt.Errorf("stat %s: %w", m.latestPath, err)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return HealthResponse{
		Status:    "ok",
		Timestamp: float64(time.Now().Unix()),
		App:       app,
		System: SystemHealth{
			Goroutines:    runtime.NumGoroutine(),
			HeapAlloc:     mem.HeapAlloc,
			NumGC:         mem.NumGC,
			UptimeSeconds: time.Since(m.startTime).Seconds(),
		},
	}, nil
}

func newCardEvent(snap types.Snapshot, added []string, reset bool) CardEvent {
	if added == nil {
		added = []string{}
	}
	cards := snap.Cards
	if cards == nil {
		cards = []string{}
	}
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return CardEvent{
		Added:         added,
		Reset:         reset,
		DetectedCards: cards,
		Version:       snap.Version,
		Cycle:         snap.Cycle,
		Timestamp:     float64(ts.UnixMilli()) / 1000,
	}
}
