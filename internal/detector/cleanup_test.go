package detector

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardwatch/cardwatch/internal/capture"
	"github.com/cardwatch/cardwatch/internal/metrics"
	"github.com/cardwatch/cardwatch/pkg/types"
)

type blankScreen struct{}

func (blankScreen) Displays() ([]image.Rectangle, error) {
	return []image.Rectangle{image.Rect(0, 0, 64, 64)}, nil
}

func (blankScreen) Grab(r image.Rectangle) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy())), nil
}

type modelFunc func(ctx context.Context, path string) ([]string, error)

func (f modelFunc) Infer(ctx context.Context, path string) ([]string, error) { return f(ctx, path) }

func TestRunCycleLeavesOnlyLatestView(t *testing.T) {
	cases := []struct {
		name   string
		model  modelFunc
		failed bool
	}{
		{
			name: "success",
			model: func(_ context.Context, path string) ([]string, error) {
				if _, err := os.Stat(path); err != nil {
					return nil, err
				}
				return []string{"ace"}, nil
			},
		},
		{
			name: "inference error",
			model: func(context.Context, string) ([]string, error) {
				return nil, errors.New("bad tensor")
			},
			failed: true,
		},
		{
			name: "model panics",
			model: func(context.Context, string) ([]string, error) {
				panic("backend crashed")
			},
			failed: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			workDir := filepath.Join(root, "work")
			latest := filepath.Join(root, "latest.png")

			m := metrics.New()
			frames, err := capture.NewFrameSource(blankScreen{}, capture.Options{
				Region:        types.Region{Left: 8, Top: 8, Right: 40, Bottom: 40},
				WorkDir:       workDir,
				LatestPath:    latest,
				StaleAfter:    time.Minute,
				SweepInterval: time.Minute,
			}, m)
			require.NoError(t, err)

			res := New(frames, tc.model, Config{RetryAttempts: 3}, m).RunCycle(context.Background())
			require.Equal(t, tc.failed, res.Failed)

			entries, err := os.ReadDir(workDir)
			require.NoError(t, err)
			require.Empty(t, entries)
			require.FileExists(t, latest)

			// The latest view stays readable after any outcome.
			data, _, err := frames.ReadLatest()
			require.NoError(t, err)
			require.NotEmpty(t, data)
		})
	}
}
