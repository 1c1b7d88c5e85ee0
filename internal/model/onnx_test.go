//go:build gocv
// +build gocv

package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardwatch/cardwatch/internal/logger"
)

func TestONNXPredictRejectsUnreadableImage(t *testing.T) {
	m := &onnxModel{log: logger.Discard()}

	_, err := m.Predict(filepath.Join(t.TempDir(), "missing.png"), 0.8)
	require.EqualError(t, err, "failed to decode image")
}
