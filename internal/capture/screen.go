package capture

import (
	"image"

	"github.com/vova616/screenshot"
)

// Screen is the OS screen-grab primitive.
type Screen interface {
	// Displays lists display bounds in desktop coordinates. Index 0 is the primary display.
	Displays() ([]image.Rectangle, error)
	// Grab returns the pixels inside r.
	Grab(r image.Rectangle) (*image.RGBA, error)
}

// ScreenshotScreen grabs the desktop through github.com/vova616/screenshot.
// The library only knows the primary screen, so Displays has one entry.
type ScreenshotScreen struct{}

// Displays returns the primary screen bounds.
func (ScreenshotScreen) Displays() ([]image.Rectangle, error) {
	r, err := screenshot.ScreenRect()
	if err != nil {
		return nil, err
	}
	return []image.Rectangle{r}, nil
}

// Grab captures r from the screen.
func (ScreenshotScreen) Grab(r image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(r)
}
