package capture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cardwatch/cardwatch/internal/logger"
)

// maybeSweep runs Sweep if SweepInterval has passed since the last one.
func (s *FrameSource) maybeSweep() {
	now := s.now()

	s.stateMu.Lock()
	due := s.lastSweep.IsZero() || now.Sub(s.lastSweep) >= s.opts.SweepInterval
	if due {
		s.lastSweep = now
	}
	s.stateMu.Unlock()

	if due {
		s.Sweep()
	}
}

// Sweep removes leftover artifacts older than StaleAfter that no capture
// currently owns. It returns the number of files removed.
func (s *FrameSource) Sweep() int {
	cutoff := s.now().Add(-s.opts.StaleAfter)

	removed := s.sweepDir(s.opts.WorkDir, cutoff, rawPrefix, framePrefix)
	removed += s.sweepDir(filepath.Dir(s.opts.LatestPath), cutoff, latestPrefix)

	if removed > 0 {
		s.metrics.SweptArtifacts.Add(uint64(removed))
		logger.Info("Capture", "Swept %d stale artifacts", removed)
	}
	return removed
}

func (s *FrameSource) sweepDir(dir string, cutoff time.Time, prefixes ...string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("Capture", "Sweep: cannot read %s: %v", dir, err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !hasAnyPrefix(name, prefixes) || s.isInFlight(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.metrics.CleanupWarnings.Add(1)
				logger.Warn("Capture", "Sweep: failed to remove %s: %v", name, err)
			}
			continue
		}
		removed++
	}
	return removed
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
