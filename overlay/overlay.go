// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package overlay draws timecode, frame-metrics, and a temporally-smoothed
// bounding box onto frames bound for the native-encoder sink, via gocv's
// text and rectangle drawing primitives.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/detector"
	"github.com/dsmescan/dsmescan/timecode"
)

// Config holds the overlay toggles and drawing parameters.
type Config struct {
	ShowTimecode     bool
	ShowFrameMetrics bool
	ShowBoundingBox  bool

	FontScale float64
	Thickness int
	Margin    int
	Border    int

	TextColor color.RGBA
	BoxColor  color.RGBA
	BGColor   color.RGBA

	// BBoxSmoothTime is T in the EMA formula, in seconds.
	BBoxSmoothTime float64
	// MinBoxSideFrac is the minimum box side length as a fraction of the
	// longest frame edge; the drawn (smoothed) box's sides are clamped up to
	// this floor so it never shrinks into a sub-pixel sliver while it is
	// still shown.
	MinBoxSideFrac float64
}

// DefaultConfig returns reasonable drawing defaults.
func DefaultConfig() Config {
	return Config{
		ShowTimecode:     true,
		ShowFrameMetrics: true,
		ShowBoundingBox:  true,
		FontScale:        0.6,
		Thickness:        1,
		Margin:           8,
		Border:           4,
		TextColor:        color.RGBA{R: 255, G: 255, B: 255, A: 255},
		BoxColor:         color.RGBA{G: 255, A: 255},
		BGColor:          color.RGBA{A: 180},
		BBoxSmoothTime:   0.3,
		MinBoxSideFrac:   0.01,
	}
}

// Renderer owns the EMA-smoothed box state across frames. Not safe for
// concurrent use; one Renderer per scan, driven by the encode worker in
// frame order.
type Renderer struct {
	cfg Config
	fps timecode.Rational

	haveBox bool
	smooth  detector.Box
}

// New constructs a Renderer bound to a stream's framerate (needed for Δt in
// the box-smoothing formula).
func New(cfg Config, fps timecode.Rational) *Renderer {
	return &Renderer{cfg: cfg, fps: fps}
}

// Draw renders enabled overlay elements onto img in place. tc is the
// frame's timecode, res is the detector's result for this frame (skipped
// frames never reach the encode stage, so every drawn frame has its own
// detection), and skip is the configured frame_skip (0 if disabled), used
// to scale Δt between drawn frames.
func (r *Renderer) Draw(img *gocv.Mat, tc timecode.Timecode, res detector.Result, skip uint32) {
	if r.cfg.ShowTimecode {
		r.drawTopLeft(img, tc.String())
	}
	if r.cfg.ShowFrameMetrics {
		text := fmt.Sprintf("frame=%d  score=%.2f", tc.Frame(), res.Score)
		r.drawTopRight(img, text)
	}
	if r.cfg.ShowBoundingBox {
		r.drawBox(img, res, skip)
	}
}

func (r *Renderer) drawTopLeft(img *gocv.Mat, text string) {
	r.drawTextWithBackground(img, text, image.Pt(r.cfg.Margin, r.cfg.Margin))
}

func (r *Renderer) drawTopRight(img *gocv.Mat, text string) {
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, r.cfg.FontScale, r.cfg.Thickness)
	x := img.Cols() - size.X - r.cfg.Margin - 2*r.cfg.Border
	if x < 0 {
		x = 0
	}
	r.drawTextWithBackground(img, text, image.Pt(x, r.cfg.Margin))
}

func (r *Renderer) drawTextWithBackground(img *gocv.Mat, text string, origin image.Point) {
	size := gocv.GetTextSize(text, gocv.FontHersheySimplex, r.cfg.FontScale, r.cfg.Thickness)
	bg := image.Rect(
		origin.X,
		origin.Y,
		origin.X+size.X+2*r.cfg.Border,
		origin.Y+size.Y+2*r.cfg.Border,
	)
	gocv.Rectangle(img, bg, r.cfg.BGColor, -1)
	textOrigin := image.Pt(origin.X+r.cfg.Border, origin.Y+r.cfg.Border+size.Y)
	gocv.PutText(img, text, textOrigin, gocv.FontHersheySimplex, r.cfg.FontScale, r.cfg.TextColor, r.cfg.Thickness)
}

// drawBox smooths res's raw box (if any) via EMA and draws it, decaying
// toward disappearance when no box is present this frame.
func (r *Renderer) drawBox(img *gocv.Mat, res detector.Result, skip uint32) {
	dt := (1.0 / r.fps.FPS()) * float64(skip+1)
	alpha := 1.0
	if r.cfg.BBoxSmoothTime > 0 {
		alpha = 1 - math.Exp(-dt/r.cfg.BBoxSmoothTime)
	}

	var raw detector.Box
	haveRaw := res.Box != nil
	if haveRaw {
		raw = *res.Box
	}

	longEdge := img.Cols()
	if img.Rows() > longEdge {
		longEdge = img.Rows()
	}
	minSide := int(r.cfg.MinBoxSideFrac * float64(longEdge))

	switch {
	case !r.haveBox && haveRaw:
		r.smooth = raw
		r.haveBox = true
	case r.haveBox && haveRaw:
		r.smooth = smoothBox(raw, r.smooth, alpha)
	case r.haveBox && !haveRaw:
		r.smooth = decayBox(r.smooth, alpha)
		if r.smooth.W <= 0 || r.smooth.H <= 0 {
			r.haveBox = false
		}
	}

	if !r.haveBox {
		return
	}
	b := r.smooth
	if b.W < minSide {
		b.W = minSide
	}
	if b.H < minSide {
		b.H = minSide
	}
	rect := image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
	gocv.Rectangle(img, rect, r.cfg.BoxColor, r.cfg.Thickness)
}

// smoothBox applies b_t = alpha*raw + (1-alpha)*prev componentwise.
func smoothBox(raw, prev detector.Box, alpha float64) detector.Box {
	lerp := func(a, b int) int {
		return int(math.Round(alpha*float64(a) + (1-alpha)*float64(b)))
	}
	return detector.Box{
		X: lerp(raw.X, prev.X),
		Y: lerp(raw.Y, prev.Y),
		W: lerp(raw.W, prev.W),
		H: lerp(raw.H, prev.H),
	}
}

// decayBox shrinks a box toward its own center by alpha each frame,
// preserving its location, until it vanishes.
func decayBox(prev detector.Box, alpha float64) detector.Box {
	cx := prev.X + prev.W/2
	cy := prev.Y + prev.H/2
	w := int(math.Floor(float64(prev.W) * (1 - alpha)))
	h := int(math.Floor(float64(prev.H) * (1 - alpha)))
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return detector.Box{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}
