package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/internal/metrics"
)

var (
	// ErrModelLoad marks a failed model load. It is sticky for the life of a Handle.
	ErrModelLoad = errors.New("model load failed")
	// ErrAccessorSurface means the loaded artifact does not expose the prediction API.
	ErrAccessorSurface = errors.New("model does not expose predict and class names")
	// ErrInference wraps prediction failures.
	ErrInference = errors.New("inference failed")
)

// Prediction is one detected object.
type Prediction struct {
	ClassID    int
	Label      string
	Confidence float64
}

// Predictor runs detection over an image file.
type Predictor interface {
	Predict(path string, minConfidence float64) ([]Prediction, error)
}

// Labeler exposes the class index to label table of a model.
type Labeler interface {
	ClassNames() []string
}

// Loader deserializes the model artifact at path. It must check grant before
// touching the file. log receives the backend's own diagnostics.
type Loader func(path string, grant *TrustGrant, log *logger.Logger) (any, error)

// Options configures a Handle.
type Options struct {
	Path          string
	SHA256        string  // Optional pinned digest of the artifact
	MinConfidence float64 // Labels below this are dropped
	Log           *logger.Logger
}

// Handle lazily loads the model once and serializes inference.
type Handle struct {
	opts    Options
	loader  Loader
	log     *logger.Logger
	metrics *metrics.Metrics

	loadMu    sync.Mutex
	attempted bool
	predictor Predictor
	labeler   Labeler
	loadErr   error

	// Published after a successful load for readers that must not wait on loadMu.
	loaded atomic.Bool
	names  atomic.Pointer[[]string]

	inferMu sync.Mutex
}

// NewHandle creates a handle. Nothing is loaded until Get or Infer.
func NewHandle(loader Loader, opts Options, m *metrics.Metrics) *Handle {
	if m == nil {
		m = metrics.New()
	}
	log := opts.Log
	if log == nil {
		log = logger.New(logger.GetLevel(), os.Stderr, false)
	}
	return &Handle{
		opts:    opts,
		loader:  loader,
		log:     log,
		metrics: m,
	}
}

// Logger returns the logger handed to the backend. Infer silences it.
func (h *Handle) Logger() *logger.Logger {
	return h.log
}

// Get returns the loaded predictor, loading it on first use. Concurrent
// callers wait for the same load. A failed load is cached and returned on
// every later call.
func (h *Handle) Get(ctx context.Context) (Predictor, error) {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if h.attempted {
		return h.predictor, h.loadErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.attempted = true
	h.predictor, h.labeler, h.loadErr = h.load()
	if h.loadErr != nil {
		logger.Error("Model", "Detection disabled: %v", h.loadErr)
		return nil, h.loadErr
	}
	names := h.labeler.ClassNames()
	h.names.Store(&names)
	h.loaded.Store(true)
	h.metrics.ModelLoaded.Store(1)
	logger.Info("Model", "Loaded %s (%d classes)", h.opts.Path, len(names))
	return h.predictor, nil
}

func (h *Handle) load() (p Predictor, l Labeler, err error) {
	if h.loader == nil {
		return nil, nil, fmt.Errorf("%w: no loader configured", ErrModelLoad)
	}

	grant := newTrustGrant(h.opts.Path, h.opts.SHA256)
	logger.Info("Model", "Trust grant %s issued for %s", grant.ID(), h.opts.Path)
	defer func() {
		grant.revoke()
		logger.Info("Model", "Trust grant %s revoked", grant.ID())
	}()

	defer func() {
		if r := recover(); r != nil {
			p, l, err = nil, nil, fmt.Errorf("%w: loader panic: %v", ErrModelLoad, r)
		}
	}()

	v, err := h.loader(h.opts.Path, grant, h.log)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, h.opts.Path, err)
	}

	p, okP := v.(Predictor)
	l, okL := v.(Labeler)
	if !okP || !okL {
		return nil, nil, fmt.Errorf("%w: %w (got %T)", ErrModelLoad, ErrAccessorSurface, v)
	}
	return p, l, nil
}

// Loaded reports whether a model is ready for inference. It does not wait
// for a load in progress.
func (h *Handle) Loaded() bool {
	return h.loaded.Load()
}

// ClassNames returns the loaded model's labels, or nil before a successful load.
// It does not wait for a load in progress.
func (h *Handle) ClassNames() []string {
	names := h.names.Load()
	if names == nil {
		return nil
	}
	return *names
}

// Infer runs the model over the image at path and returns the distinct
// labels at or above the configured confidence, sorted. Backend logging is
// muted for the duration of the call.
func (h *Handle) Infer(ctx context.Context, path string) ([]string, error) {
	p, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}

	h.inferMu.Lock()
	defer h.inferMu.Unlock()

	restore := h.log.Silence()
	defer restore()

	start := time.Now()
	preds, err := predict(p, path, h.opts.MinConfidence)
	h.metrics.UpdateInferenceLatency(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	return distinctLabels(preds, h.opts.MinConfidence), nil
}

func predict(p Predictor, path string, minConf float64) (preds []Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predictor panic: %v", r)
		}
	}()
	return p.Predict(path, minConf)
}

func distinctLabels(preds []Prediction, minConf float64) []string {
	seen := make(map[string]struct{}, len(preds))
	labels := make([]string, 0, len(preds))
	for _, p := range preds {
		if p.Confidence < minConf || p.Label == "" {
			continue
		}
		if _, ok := seen[p.Label]; ok {
			continue
		}
		seen[p.Label] = struct{}{}
		labels = append(labels, p.Label)
	}
	sort.Strings(labels)
	return labels
}
