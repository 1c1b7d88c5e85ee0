package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cardwatch/cardwatch/internal/capture"
	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/internal/metrics"
	"github.com/cardwatch/cardwatch/pkg/types"
)

// ErrPanic marks a cycle that recovered from a panic.
var ErrPanic = errors.New("detection cycle panicked")

// FrameSource is the capture side of a cycle.
type FrameSource interface {
	Capture(ctx context.Context) (*capture.Frame, error)
	Release(f *capture.Frame)
	Hold(fn func() error) error
}

// Model runs inference over a captured frame.
type Model interface {
	Infer(ctx context.Context, path string) ([]string, error)
}

// Config controls retries.
type Config struct {
	RetryAttempts int
	RetryBackoff  time.Duration
}

type state int

const (
	stateCapture state = iota
	stateInfer
	stateExtract
	stateCleanup
	stateDone
)

func (s state) String() string {
	switch s {
	case stateCapture:
		return "capture"
	case stateInfer:
		return "infer"
	case stateExtract:
		return "extract"
	case stateCleanup:
		return "cleanup"
	case stateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Detector runs one capture, infer, extract cycle with bounded capture retries.
type Detector struct {
	frames  FrameSource
	model   Model
	cfg     Config
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Detector.
func New(frames FrameSource, model Model, cfg Config, m *metrics.Metrics) *Detector {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if m == nil {
		m = metrics.New()
	}
	return &Detector{
		frames:  frames,
		model:   model,
		cfg:     cfg,
		metrics: m,
		sleep:   sleepCtx,
	}
}

// cycle carries the per-run state through the machine.
type cycle struct {
	frame  *capture.Frame
	labels []string
	err    error
	tries  int
}

// RunCycle performs one detection cycle. It never panics and always leaves
// no per-cycle artifact behind.
func (d *Detector) RunCycle(ctx context.Context) (res types.CycleResult) {
	start := time.Now()
	c := &cycle{}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Detector", "Cycle panic: %v", r)
			c.err = fmt.Errorf("%w: %v", ErrPanic, r)
			d.cleanup(c)
			res = d.finish(c, start)
		}
	}()

	st := stateCapture
	for st != stateDone {
		st = d.step(ctx, st, c)
	}
	return d.finish(c, start)
}

func (d *Detector) step(ctx context.Context, st state, c *cycle) state {
	switch st {
	case stateCapture:
		return d.capture(ctx, c)
	case stateInfer:
		return d.infer(ctx, c)
	case stateExtract:
		c.labels = extract(c.labels)
		return stateCleanup
	case stateCleanup:
		d.cleanup(c)
		return stateDone
	default:
		c.err = fmt.Errorf("unexpected state %v", st)
		return stateCleanup
	}
}

func (d *Detector) capture(ctx context.Context, c *cycle) state {
	c.tries++
	d.metrics.CaptureAttempts.Add(1)
	if c.tries > 1 {
		d.metrics.CaptureRetries.Add(1)
	}

	f, err := d.frames.Capture(ctx)
	if err == nil {
		c.frame = f
		return stateInfer
	}

	d.metrics.CaptureFailures.Add(1)
	c.err = err
	if c.tries >= d.cfg.RetryAttempts || ctx.Err() != nil {
		logger.Debug("Detector", "Capture failed after %d attempts: %v", c.tries, err)
		return stateCleanup
	}

	logger.Debug("Detector", "Capture attempt %d/%d failed: %v", c.tries, d.cfg.RetryAttempts, err)
	if err := d.sleep(ctx, d.cfg.RetryBackoff); err != nil {
		c.err = fmt.Errorf("%w (retry aborted: %w)", c.err, err)
		return stateCleanup
	}
	return stateCapture
}

func (d *Detector) infer(ctx context.Context, c *cycle) state {
	var labels []string
	err := d.frames.Hold(func() error {
		var err error
		labels, err = d.model.Infer(ctx, c.frame.Path)
		return err
	})
	if err != nil {
		d.metrics.InferenceFailures.Add(1)
		c.err = err
		return stateCleanup
	}
	c.err = nil
	c.labels = labels
	return stateExtract
}

func (d *Detector) cleanup(c *cycle) {
	if c.frame == nil {
		return
	}
	d.frames.Release(c.frame)
	c.frame = nil
}

func (d *Detector) finish(c *cycle, start time.Time) types.CycleResult {
	elapsed := time.Since(start)
	d.metrics.Cycles.Add(1)
	d.metrics.UpdateCycleLatency(elapsed)

	res := types.CycleResult{
		Attempts: c.tries,
		Duration: elapsed,
	}
	if c.err != nil {
		d.metrics.FailedCycles.Add(1)
		res.Failed = true
		res.Err = c.err
		return res
	}
	res.Labels = c.labels
	if len(res.Labels) == 0 {
		d.metrics.EmptyCycles.Add(1)
	}
	return res
}

// extract returns the distinct labels, sorted.
func extract(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
