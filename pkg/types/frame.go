package types

import (
	"fmt"
	"image"
	"time"
)

// Region is a capture rectangle in source-display pixel coordinates.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Validate checks that the region has positive width and height.
func (r Region) Validate() error {
	if r.Right <= r.Left || r.Bottom <= r.Top {
		return fmt.Errorf("invalid region (%d,%d,%d,%d): right must be > left and bottom > top",
			r.Left, r.Top, r.Right, r.Bottom)
	}
	return nil
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.Left, r.Top, r.Right, r.Bottom)
}

// CycleResult is the outcome of one detection cycle.
type CycleResult struct {
	Labels   []string      // Distinct labels, sorted
	Failed   bool          // Cycle gave up (capture exhausted, model unavailable, inference error)
	Err      error         // Cause when Failed
	Attempts int           // Capture attempts made
	Duration time.Duration // Wall time of the cycle
}

// Empty reports whether the cycle saw nothing. A failed cycle counts as empty.
func (r CycleResult) Empty() bool {
	return r.Failed || len(r.Labels) == 0
}

// Snapshot is the published view of the accumulated state.
type Snapshot struct {
	Cards     []string    // Accumulated labels, sorted
	Version   uint64      // Bumped whenever Cards changes
	Cycle     uint64      // Number of reconciled cycles
	UpdatedAt time.Time   // Time of the reconciliation that produced this snapshot
	LastCycle CycleResult // Most recent cycle outcome
	LastError string      // LastCycle.Err as text, if any
}

// ChangeEvent describes a reconciliation that changed the accumulated set.
type ChangeEvent struct {
	Added    []string
	Reset    bool
	Snapshot Snapshot
}
