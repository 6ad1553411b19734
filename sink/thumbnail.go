// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sink

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/tracker"
)

// ThumbnailConfig configures peak-frame image emission ("thumbnails=highscore").
type ThumbnailConfig struct {
	OutputDir string
	Stem      string
	UseWebP   bool
}

// Thumbnailer buffers the current event's peak-scoring frame (only known
// once the event closes) and flushes it at event-close time.
type Thumbnailer struct {
	cfg ThumbnailConfig

	have      bool
	peakFrame uint64
	peakScore float64
	buf       gocv.Mat
	seq       int
	written   []string
}

// NewThumbnailer constructs a Thumbnailer.
func NewThumbnailer(cfg ThumbnailConfig) *Thumbnailer {
	return &Thumbnailer{cfg: cfg, buf: gocv.NewMat()}
}

// Observe is called once per frame inside an open event with that frame's
// score; it retains the highest-scoring frame seen so far for the current
// event.
func (t *Thumbnailer) Observe(index uint64, pixels gocv.Mat, score float64) {
	if !t.have || score > t.peakScore {
		pixels.CopyTo(&t.buf)
		t.peakFrame = index
		t.peakScore = score
		t.have = true
	}
}

// Flush writes the buffered peak frame for ev and resets for the next
// event.
func (t *Thumbnailer) Flush(ev tracker.Event) error {
	if !t.have {
		return nil
	}
	t.seq++
	img, err := t.buf.ToImage()
	if err != nil {
		return err
	}
	ext := "png"
	if t.cfg.UseWebP {
		ext = "webp"
	}
	path := fmt.Sprintf("%s/%s", t.cfg.OutputDir, eventFileName(t.cfg.Stem+".thumb", t.seq, ext))
	t.have = false
	if err := encodeImage(path, img, t.cfg.UseWebP); err != nil {
		return err
	}
	t.written = append(t.written, path)
	return nil
}

// Close releases the buffer Mat.
func (t *Thumbnailer) Close() error {
	return t.buf.Close()
}

// ThumbnailOutput wraps another Sink, additionally tracking each open
// event's peak-scoring frame and flushing it to a side file when the event
// closes (the thumbnails=highscore mode).
type ThumbnailOutput struct {
	inner Sink
	thumb *Thumbnailer
}

// NewThumbnailOutput wraps inner with highscore-thumbnail emission.
func NewThumbnailOutput(inner Sink, cfg ThumbnailConfig) *ThumbnailOutput {
	return &ThumbnailOutput{inner: inner, thumb: NewThumbnailer(cfg)}
}

// Observe feeds one in-event frame's score to the underlying Thumbnailer.
// The Sink interface's OnFrame carries no score, so the pipeline calls this
// directly on frames it already knows are inside an open event.
func (o *ThumbnailOutput) Observe(index uint64, pixels gocv.Mat, score float64) {
	o.thumb.Observe(index, pixels, score)
}

func (o *ThumbnailOutput) OnFrame(index uint64, pixels gocv.Mat, inEvent bool) error {
	return o.inner.OnFrame(index, pixels, inEvent)
}

func (o *ThumbnailOutput) OnEventStart(ev tracker.Event) error {
	return o.inner.OnEventStart(ev)
}

func (o *ThumbnailOutput) OnEventEnd(ev tracker.Event) error {
	if err := o.thumb.Flush(ev); err != nil {
		return err
	}
	return o.inner.OnEventEnd(ev)
}

func (o *ThumbnailOutput) Close() error {
	if err := o.thumb.Close(); err != nil {
		o.inner.Close()
		return err
	}
	return o.inner.Close()
}

// WriteMask forwards to the wrapped sink when it is a mask writer, the
// ThumbnailOutput-wraps-MaskOutput mirror of MaskOutput.Observe above.
func (o *ThumbnailOutput) WriteMask(mat gocv.Mat) error {
	if mw, ok := o.inner.(maskWriter); ok {
		return mw.WriteMask(mat)
	}
	return nil
}

// Outputs lists the wrapped sink's outputs followed by the thumbnail side
// files.
func (o *ThumbnailOutput) Outputs() []string {
	var out []string
	if ol, ok := o.inner.(outputLister); ok {
		out = append(out, ol.Outputs()...)
	}
	return append(out, o.thumb.written...)
}

var _ Sink = (*ThumbnailOutput)(nil)
