package model

import "fmt"

// decodeDetections turns a raw YOLO output tensor into predictions.
//
// Two layouts are accepted:
//   - [1, 4+nc, N]: YOLOv8 style, attributes first, no objectness
//   - [1, N, 5+nc]: YOLOv5 style, one row per box with objectness at index 4
//
// With class names the layout is the one whose width fits them. Without
// names the longer axis is taken as the box axis.
func decodeDetections(data []float32, dims []int, names []string, minConf float64) ([]Prediction, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unsupported output shape %v", dims)
	}
	if len(data) < dims[1]*dims[2] {
		return nil, fmt.Errorf("output has %d values, shape %v needs %d", len(data), dims, dims[1]*dims[2])
	}

	var attrsFirst bool
	var nc int
	switch {
	case len(names) > 0 && dims[1] == 4+len(names):
		attrsFirst, nc = true, len(names)
	case len(names) > 0 && dims[2] == 5+len(names):
		nc = len(names)
	case len(names) > 0:
		return nil, fmt.Errorf("output shape %v does not match %d class names", dims, len(names))
	case dims[1] < dims[2]:
		attrsFirst, nc = true, dims[1]-4
	default:
		nc = dims[2] - 5
	}
	if nc <= 0 {
		return nil, fmt.Errorf("output shape %v has no class columns", dims)
	}

	if attrsFirst {
		return decodeAttrsFirst(data, dims[2], nc, names, minConf), nil
	}
	return decodeRows(data, dims[1], nc, names, minConf), nil
}

func decodeAttrsFirst(data []float32, boxes, nc int, names []string, minConf float64) []Prediction {
	var preds []Prediction
	for i := 0; i < boxes; i++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < nc; c++ {
			if s := data[(4+c)*boxes+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best >= 0 && float64(bestScore) >= minConf {
			preds = append(preds, Prediction{ClassID: best, Label: labelFor(names, best), Confidence: float64(bestScore)})
		}
	}
	return preds
}

func decodeRows(data []float32, boxes, nc int, names []string, minConf float64) []Prediction {
	stride := 5 + nc
	var preds []Prediction
	for i := 0; i < boxes; i++ {
		row := data[i*stride : (i+1)*stride]
		obj := row[4]
		best, bestScore := -1, float32(0)
		for c := 0; c < nc; c++ {
			if s := obj * row[5+c]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best >= 0 && float64(bestScore) >= minConf {
			preds = append(preds, Prediction{ClassID: best, Label: labelFor(names, best), Confidence: float64(bestScore)})
		}
	}
	return preds
}
