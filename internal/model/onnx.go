//go:build gocv
// +build gocv

package model

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/cardwatch/cardwatch/internal/logger"
)

// InputSize is the square input the exported YOLO network expects.
const InputSize = 640

type onnxModel struct {
	net   gocv.Net
	names []string
	log   *logger.Logger
}

// NewONNXLoader returns a Loader for YOLO networks exported to ONNX.
// namesPath is optional; without it labels fall back to class_<id>.
func NewONNXLoader(namesPath string) Loader {
	return func(path string, grant *TrustGrant, log *logger.Logger) (any, error) {
		if err := grant.Verify(path); err != nil {
			return nil, err
		}

		var names []string
		if namesPath != "" {
			var err error
			if names, err = LoadClassNames(namesPath); err != nil {
				return nil, err
			}
		}

		net := gocv.ReadNetFromONNX(path)
		if net.Empty() {
			_ = net.Close()
			return nil, fmt.Errorf("read onnx %s: empty network", path)
		}
		log.Debug("Model", "ONNX network %s ready, %d class names", path, len(names))

		return &onnxModel{net: net, names: names, log: log}, nil
	}
}

// Predict runs the network over the image file at path.
func (m *onnxModel) Predict(path string, minConfidence float64) ([]Prediction, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return nil, errors.New("failed to decode image")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(InputSize, InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	preds, err := decodeDetections(data, out.Size(), m.names, minConfidence)
	if err != nil {
		return nil, err
	}
	m.log.Debug("Model", "%s: %d detections", path, len(preds))
	return preds, nil
}

// ClassNames returns the class table loaded with the network.
func (m *onnxModel) ClassNames() []string {
	return m.names
}

// Close releases the network.
func (m *onnxModel) Close() error {
	return m.net.Close()
}
