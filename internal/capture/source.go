package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/internal/metrics"
	"github.com/cardwatch/cardwatch/pkg/types"
)

// ErrCapture wraps every capture step failure.
var ErrCapture = errors.New("capture failed")

const (
	rawPrefix    = "raw_"
	framePrefix  = "frame_"
	latestPrefix = ".latest-"
)

// Options configures a FrameSource.
type Options struct {
	DisplayIndex  int          // Negative values count from the last display
	Region        types.Region // Crop rectangle relative to the display
	WorkDir       string       // Per-cycle artifacts live here
	LatestPath    string       // Stable latest-view artifact
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// Frame is a per-cycle crop artifact. It belongs to the cycle that captured
// it and must be handed back through Release.
type Frame struct {
	Path       string
	LatestPath string
	CapturedAt time.Time
	Sequence   uint64
	Bounds     image.Rectangle
}

// FrameSource captures the configured display, crops it and publishes the
// latest view.
type FrameSource struct {
	screen  Screen
	opts    Options
	display image.Rectangle
	metrics *metrics.Metrics
	now     func() time.Time

	// mu serializes latest-view writes with inference reads (see Hold).
	mu sync.Mutex

	stateMu   sync.Mutex
	inFlight  map[string]struct{}
	lastSweep time.Time

	sequence atomic.Uint64
}

// NewFrameSource resolves the display once and prepares the artifact directories.
func NewFrameSource(screen Screen, opts Options, m *metrics.Metrics) (*FrameSource, error) {
	if err := opts.Region.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}

	displays, err := screen.Displays()
	if err != nil {
		return nil, fmt.Errorf("list displays: %w", err)
	}
	if len(displays) == 0 {
		return nil, errors.New("no displays available")
	}

	idx := opts.DisplayIndex
	if idx < 0 {
		idx += len(displays)
	}
	if idx < 0 || idx >= len(displays) {
		logger.Warn("Capture", "Display index %d out of range (%d displays), falling back to primary display",
			opts.DisplayIndex, len(displays))
		idx = 0
	}
	display := displays[idx]

	size := image.Rect(0, 0, display.Dx(), display.Dy())
	if !opts.Region.Rect().In(size) {
		return nil, fmt.Errorf("region %s lies outside display %d (%dx%d)",
			opts.Region, idx, display.Dx(), display.Dy())
	}

	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.LatestPath), 0o755); err != nil {
		return nil, fmt.Errorf("create latest view dir: %w", err)
	}

	logger.Info("Capture", "Using display %d at %v, region %s", idx, display, opts.Region)

	return &FrameSource{
		screen:   screen,
		opts:     opts,
		display:  display,
		metrics:  m,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}, nil
}

// Display returns the resolved display bounds.
func (s *FrameSource) Display() image.Rectangle {
	return s.display
}

// LatestPath returns the stable latest-view artifact path.
func (s *FrameSource) LatestPath() string {
	return s.opts.LatestPath
}

// Capture grabs the display, crops it and writes the per-cycle artifact and
// the latest view. On failure every file created by this call is removed.
func (s *FrameSource) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	s.maybeSweep()

	seq := s.sequence.Add(1)
	stem := artifactName(s.now())
	rawPath := filepath.Join(s.opts.WorkDir, rawPrefix+stem)
	cropPath := filepath.Join(s.opts.WorkDir, framePrefix+stem)

	s.track(rawPath, cropPath)
	defer s.untrack(rawPath)

	var created []string
	fail := func(step string, err error) (*Frame, error) {
		for _, p := range created {
			s.remove(p)
		}
		s.untrack(cropPath)
		return nil, fmt.Errorf("%w: %s: %w", ErrCapture, step, err)
	}

	grabbed, err := s.screen.Grab(s.display)
	if err != nil {
		return fail("grab", err)
	}
	if grabbed == nil {
		return fail("grab", errors.New("screen returned no image"))
	}

	created = append(created, rawPath)
	if err := imaging.Save(grabbed, rawPath); err != nil {
		return fail("encode", err)
	}

	raw, err := imaging.Open(rawPath)
	if err != nil {
		return fail("open", err)
	}

	rect := s.opts.Region.Rect()
	if !rect.In(raw.Bounds()) {
		return fail("crop", fmt.Errorf("region %s outside grabbed image %v", s.opts.Region, raw.Bounds()))
	}
	cropped := imaging.Crop(raw, rect)

	created = append(created, cropPath)
	if err := imaging.Save(cropped, cropPath); err != nil {
		return fail("write", err)
	}

	if err := s.publishLatest(cropped); err != nil {
		return fail("publish", err)
	}

	s.remove(rawPath)

	return &Frame{
		Path:       cropPath,
		LatestPath: s.opts.LatestPath,
		CapturedAt: s.now(),
		Sequence:   seq,
		Bounds:     cropped.Bounds(),
	}, nil
}

// Release deletes the per-cycle artifact. The latest view is kept.
func (s *FrameSource) Release(f *Frame) {
	if f == nil {
		return
	}
	s.remove(f.Path)
	s.untrack(f.Path)
}

// Hold runs fn while no latest-view write can happen. Inference reads of a
// frame go through here.
func (s *FrameSource) Hold(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// ReadLatest returns the latest-view bytes and modification time.
func (s *FrameSource) ReadLatest() ([]byte, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.opts.LatestPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(s.opts.LatestPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}

// publishLatest replaces the latest view atomically: the image is written to
// a temp file next to it and renamed over it.
func (s *FrameSource) publishLatest(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.opts.LatestPath)
	tmp, err := os.CreateTemp(dir, latestPrefix+"*.png")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		tmp.Close()
		s.remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		s.remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.opts.LatestPath); err != nil {
		s.remove(tmpPath)
		return err
	}
	return nil
}

func (s *FrameSource) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.metrics.CleanupWarnings.Add(1)
		logger.Warn("Capture", "Failed to remove %s: %v", path, err)
	}
}

func (s *FrameSource) track(paths ...string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for _, p := range paths {
		s.inFlight[filepath.Base(p)] = struct{}{}
	}
}

func (s *FrameSource) untrack(path string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	delete(s.inFlight, filepath.Base(path))
}

func (s *FrameSource) isInFlight(name string) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	_, ok := s.inFlight[name]
	return ok
}

// artifactName returns a collision-free file name: time ordered, with a
// random suffix for captures within the same nanosecond.
func artifactName(now time.Time) string {
	return fmt.Sprintf("%d_%s.png", now.UnixNano(), uuid.NewString())
}
