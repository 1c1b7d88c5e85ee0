package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/internal/metrics"
)

type scriptedModel struct {
	names []string
	preds []Prediction
	err   error
	log   *logger.Logger

	levelDuringPredict logger.LogLevel
}

func (m *scriptedModel) Predict(path string, minConf float64) ([]Prediction, error) {
	m.levelDuringPredict = m.log.GetLevel()
	if m.err != nil {
		return nil, m.err
	}
	return m.preds, nil
}

func (m *scriptedModel) ClassNames() []string { return m.names }

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "best.onnx")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func newHandle(t *testing.T, loader Loader, path string) *Handle {
	t.Helper()
	return NewHandle(loader, Options{
		Path:          path,
		MinConfidence: 0.8,
		Log:           logger.New(logger.INFO, nil, false),
	}, metrics.New())
}

func TestInferReturnsDistinctConfidentLabels(t *testing.T) {
	model := &scriptedModel{
		names: []string{"ace", "king", "queen"},
		preds: []Prediction{
			{ClassID: 1, Label: "king", Confidence: 0.95},
			{ClassID: 0, Label: "ace", Confidence: 0.81},
			{ClassID: 1, Label: "king", Confidence: 0.90},
			{ClassID: 2, Label: "queen", Confidence: 0.79},
		},
	}
	path := writeArtifact(t, "weights")
	h := newHandle(t, func(p string, g *TrustGrant, log *logger.Logger) (any, error) {
		require.NoError(t, g.Verify(p))
		model.log = log
		return model, nil
	}, path)

	labels, err := h.Infer(context.Background(), "frame.png")
	require.NoError(t, err)
	require.Equal(t, []string{"ace", "king"}, labels)
	require.True(t, h.Loaded())
	require.Equal(t, []string{"ace", "king", "queen"}, h.ClassNames())
	require.Equal(t, uint64(1), h.metrics.ModelLoaded.Load())
}

func TestInferSilencesBackendLoggerAndRestores(t *testing.T) {
	model := &scriptedModel{names: []string{"a"}}
	h := newHandle(t, func(p string, g *TrustGrant, log *logger.Logger) (any, error) {
		model.log = log
		return model, nil
	}, writeArtifact(t, "w"))

	_, err := h.Infer(context.Background(), "frame.png")
	require.NoError(t, err)
	require.Equal(t, logger.SILENT, model.levelDuringPredict)
	require.Equal(t, logger.INFO, h.Logger().GetLevel())

	model.err = errors.New("boom")
	_, err = h.Infer(context.Background(), "frame.png")
	require.ErrorIs(t, err, ErrInference)
	require.Equal(t, logger.INFO, h.Logger().GetLevel())
}

func TestInferRecoversPredictorPanic(t *testing.T) {
	h := newHandle(t, func(string, *TrustGrant, *logger.Logger) (any, error) {
		return panicModel{}, nil
	}, writeArtifact(t, "w"))

	_, err := h.Infer(context.Background(), "frame.png")
	require.ErrorIs(t, err, ErrInference)
	require.Equal(t, logger.INFO, h.Logger().GetLevel())
}

type panicModel struct{}

func (panicModel) Predict(string, float64) ([]Prediction, error) { panic("native crash") }
func (panicModel) ClassNames() []string                          { return nil }

func TestLoadFailureIsSticky(t *testing.T) {
	var calls atomic.Int32
	h := newHandle(t, func(string, *TrustGrant, *logger.Logger) (any, error) {
		calls.Add(1)
		return nil, errors.New("corrupt weights")
	}, writeArtifact(t, "w"))

	for i := 0; i < 3; i++ {
		_, err := h.Infer(context.Background(), "frame.png")
		require.ErrorIs(t, err, ErrModelLoad)
		require.Contains(t, err.Error(), "corrupt weights")
	}
	require.Equal(t, int32(1), calls.Load())
	require.False(t, h.Loaded())
	require.Nil(t, h.ClassNames())
}

func TestConcurrentGetLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	model := &scriptedModel{names: []string{"a"}}
	h := newHandle(t, func(string, *TrustGrant, *logger.Logger) (any, error) {
		calls.Add(1)
		return model, nil
	}, writeArtifact(t, "w"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := h.Get(context.Background())
			require.NoError(t, err)
			require.Same(t, model, p)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
}

func TestStatusReadsDoNotWaitForLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHandle(t, func(string, *TrustGrant, *logger.Logger) (any, error) {
		close(started)
		<-release
		return &scriptedModel{names: []string{"ace"}}, nil
	}, writeArtifact(t, "w"))

	loadDone := make(chan error, 1)
	go func() {
		_, err := h.Get(context.Background())
		loadDone <- err
	}()
	<-started

	status := make(chan bool, 1)
	go func() {
		loaded := h.Loaded()
		status <- loaded && h.ClassNames() != nil
	}()
	select {
	case ready := <-status:
		require.False(t, ready)
	case <-time.After(time.Second):
		t.Fatal("Loaded blocked behind the model load")
	}

	close(release)
	require.NoError(t, <-loadDone)
	require.True(t, h.Loaded())
	require.Equal(t, []string{"ace"}, h.ClassNames())
}

func TestGetWithCancelledContextDoesNotStickFailure(t *testing.T) {
	h := newHandle(t, func(string, *TrustGrant, *logger.Logger) (any, error) {
		return &scriptedModel{}, nil
	}, writeArtifact(t, "w"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, err = h.Get(context.Background())
	require.NoError(t, err)
}

func TestAccessorSurfaceCheck(t *testing.T) {
	h := newHandle(t, func(string, *TrustGrant, *logger.Logger) (any, error) {
		return struct{}{}, nil
	}, writeArtifact(t, "w"))

	_, err := h.Get(context.Background())
	require.ErrorIs(t, err, ErrModelLoad)
	require.ErrorIs(t, err, ErrAccessorSurface)
}

func TestLoaderPanicBecomesLoadFailure(t *testing.T) {
	h := newHandle(t, func(string, *TrustGrant, *logger.Logger) (any, error) {
		panic("bad pickle")
	}, writeArtifact(t, "w"))

	_, err := h.Get(context.Background())
	require.ErrorIs(t, err, ErrModelLoad)
}

func TestTrustGrantScopedToOneLoad(t *testing.T) {
	path := writeArtifact(t, "weights")
	var kept *TrustGrant
	h := newHandle(t, func(p string, g *TrustGrant, log *logger.Logger) (any, error) {
		kept = g
		require.NoError(t, g.Verify(p))
		require.ErrorIs(t, g.Verify(filepath.Join(filepath.Dir(p), "other.onnx")), ErrUntrusted)
		return &scriptedModel{}, nil
	}, path)

	_, err := h.Get(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, kept.ID())

	err = kept.Verify(path)
	require.ErrorIs(t, err, ErrUntrusted)
	require.Contains(t, err.Error(), "revoked")
}

func TestTrustGrantDigestPin(t *testing.T) {
	path := writeArtifact(t, "weights")
	sum := sha256.Sum256([]byte("weights"))

	good := newTrustGrant(path, hex.EncodeToString(sum[:]))
	require.NoError(t, good.Verify(path))

	bad := newTrustGrant(path, "00ff")
	require.ErrorIs(t, bad.Verify(path), ErrUntrusted)

	var nilGrant *TrustGrant
	require.ErrorIs(t, nilGrant.Verify(path), ErrUntrusted)
}
