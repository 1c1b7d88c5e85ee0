package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/internal/metrics"
	"github.com/cardwatch/cardwatch/pkg/types"
)

// Tracker accumulates the labels seen since the last empty cycle.
type Tracker struct {
	mu      sync.Mutex
	acc     map[string]struct{}
	version uint64
	cycles  uint64
	last    types.Snapshot

	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates an empty tracker.
func New(m *metrics.Metrics) *Tracker {
	if m == nil {
		m = metrics.New()
	}
	return &Tracker{
		acc:     make(map[string]struct{}),
		metrics: m,
		now:     time.Now,
	}
}

// Reconcile folds one cycle result into the accumulated set:
//
//   - labels not yet seen are added
//   - an empty or failed result clears the set
//   - otherwise the set is unchanged
//
// It returns the new snapshot and, when the set changed, the change event.
func (t *Tracker) Reconcile(res types.CycleResult) (types.Snapshot, *types.ChangeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cycles++

	var ev *types.ChangeEvent
	if added := t.newLabels(res); len(added) > 0 {
		for _, l := range added {
			t.acc[l] = struct{}{}
		}
		t.version++
		ev = &types.ChangeEvent{Added: added}
		logger.Info("Tracker", "New cards: %v", added)
	} else if res.Empty() && len(t.acc) > 0 {
		t.acc = make(map[string]struct{})
		t.version++
		t.metrics.StateResets.Add(1)
		ev = &types.ChangeEvent{Reset: true}
		logger.Info("Tracker", "Empty cycle, accumulated cards cleared")
	}

	snap := types.Snapshot{
		Cards:     t.sorted(),
		Version:   t.version,
		Cycle:     t.cycles,
		UpdatedAt: t.now(),
		LastCycle: res,
	}
	if res.Err != nil {
		snap.LastError = res.Err.Error()
	}
	t.last = snap

	t.metrics.AccumulatedCards.Store(uint64(len(t.acc)))
	t.metrics.StateVersion.Store(t.version)

	if ev != nil {
		ev.Snapshot = snap
	}
	return snap, ev
}

// Snapshot returns the last reconciled view.
func (t *Tracker) Snapshot() types.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.Cards == nil {
		s := t.last
		s.Cards = []string{}
		return s
	}
	return t.last
}

func (t *Tracker) newLabels(res types.CycleResult) []string {
	if res.Failed {
		return nil
	}
	var added []string
	seen := make(map[string]struct{}, len(res.Labels))
	for _, l := range res.Labels {
		if _, ok := t.acc[l]; ok {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		added = append(added, l)
	}
	sort.Strings(added)
	return added
}

func (t *Tracker) sorted() []string {
	out := make([]string, 0, len(t.acc))
	for l := range t.acc {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
