//go:build !gocv
// +build !gocv

package model

import (
	"errors"

	"github.com/cardwatch/cardwatch/internal/logger"
)

// NewONNXLoader returns a loader that always fails: the binary was built
// without the gocv tag, so detection stays disabled.
func NewONNXLoader(_ string) Loader {
	return func(path string, grant *TrustGrant, log *logger.Logger) (any, error) {
		if err := grant.Verify(path); err != nil {
			return nil, err
		}
		log.Warn("Model", "Built without gocv, cannot run %s", path)
		return nil, errors.New("gocv build tag is not enabled")
	}
}
