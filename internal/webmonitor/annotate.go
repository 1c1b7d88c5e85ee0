package webmonitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/cardwatch/cardwatch/pkg/types"
)

const (
	glyphWidth  = 7 // basicfont.Face7x13
	lineHeight  = 15
	bannerPad   = 4
	bannerChars = 28
)

// annotate renders the latest view with a banner listing the cycle, the
// snapshot time and the accumulated cards. The result is PNG encoded.
func annotate(pngData []byte, snap types.Snapshot) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("decode latest view: %w", err)
	}

	lines := bannerLines(snap, maxInt(src.Bounds().Dx()/glyphWidth, bannerChars))
	textWidth := 0
	for _, l := range lines {
		textWidth = maxInt(textWidth, len(l)*glyphWidth)
	}

	width := maxInt(src.Bounds().Dx(), textWidth+2*bannerPad)
	bannerHeight := len(lines)*lineHeight + 2*bannerPad
	canvas := image.NewRGBA(image.Rect(0, 0, width, src.Bounds().Dy()+bannerHeight))

	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(0, bannerHeight, src.Bounds().Dx(), bannerHeight+src.Bounds().Dy()),
		src, src.Bounds().Min, draw.Src)

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: basicfont.Face7x13,
	}
	for i, l := range lines {
		d.Dot = fixed.P(bannerPad, bannerPad+(i+1)*lineHeight-3)
		d.DrawString(l)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// bannerLines wraps the banner text to at most width characters per line.
func bannerLines(snap types.Snapshot, width int) []string {
	ts := "-"
	if !snap.UpdatedAt.IsZero() {
		ts = snap.UpdatedAt.Format(time.TimeOnly)
	}
	lines := []string{fmt.Sprintf("cycle %d  %s", snap.Cycle, ts)}

	if len(snap.Cards) == 0 {
		return append(lines, "cards: none")
	}

	cur := "cards:"
	for _, c := range snap.Cards {
		if len(cur)+1+len(c) > width && cur != "" {
			lines = append(lines, cur)
			cur = c
			continue
		}
		cur = strings.TrimSpace(cur + " " + c)
	}
	return append(lines, cur)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
