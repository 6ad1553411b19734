// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sink

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/deepteams/webp"
	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/tracker"
)

// MaskConfig configures MaskOutput's side-channel mask emission.
type MaskConfig struct {
	OutputDir string
	Stem      string
	// UseWebP selects WebP encoding for mask sidecars; false falls back to
	// stdlib PNG (same fallback logic as thumbnail emission in thumbnail.go).
	UseWebP bool
}

// MaskOutput wraps another Sink, additionally writing the post-morphology
// mask (already upscaled back to source resolution by the caller) as a side
// file alongside each event.
type MaskOutput struct {
	inner Sink
	cfg   MaskConfig
	seq   int
	side  []string
}

// NewMaskOutput wraps inner with mask sidecar emission.
func NewMaskOutput(inner Sink, cfg MaskConfig) *MaskOutput {
	return &MaskOutput{inner: inner, cfg: cfg}
}

func (m *MaskOutput) OnFrame(index uint64, pixels gocv.Mat, inEvent bool) error {
	return m.inner.OnFrame(index, pixels, inEvent)
}

func (m *MaskOutput) OnEventStart(ev tracker.Event) error {
	return m.inner.OnEventStart(ev)
}

func (m *MaskOutput) OnEventEnd(ev tracker.Event) error {
	return m.inner.OnEventEnd(ev)
}

func (m *MaskOutput) Close() error {
	return m.inner.Close()
}

// Observe forwards to the wrapped sink when it (or one of its own wrapped
// sinks) is a thumbnail observer, so -mo and --thumbnails can be stacked in
// either wrapping order and both still receive every in-event frame.
func (m *MaskOutput) Observe(index uint64, pixels gocv.Mat, score float64) {
	if o, ok := m.inner.(thumbObserver); ok {
		o.Observe(index, pixels, score)
	}
}

// WriteMask emits a single mask frame (the detector's post-morphology mask
// at the event's close, already upscaled back to source resolution by the
// caller) as a side file. Callers invoke this explicitly once per event,
// since the mask image itself isn't part of the Sink interface's frame
// stream. Numbering follows Thumbnailer.Flush's own-counter pattern: one
// sequence number per call, independent of the wrapped inner Sink's.
func (m *MaskOutput) WriteMask(mat gocv.Mat) error {
	m.seq++
	img, err := mat.ToImage()
	if err != nil {
		return err
	}
	ext := "png"
	if m.cfg.UseWebP {
		ext = "webp"
	}
	path := fmt.Sprintf("%s/%s", m.cfg.OutputDir, eventFileName(m.cfg.Stem+".mask", m.seq, ext))
	if err := encodeImage(path, img, m.cfg.UseWebP); err != nil {
		return err
	}
	m.side = append(m.side, path)
	return nil
}

// Outputs lists the wrapped sink's outputs followed by the mask side files.
func (m *MaskOutput) Outputs() []string {
	var out []string
	if ol, ok := m.inner.(outputLister); ok {
		out = append(out, ol.Outputs()...)
	}
	return append(out, m.side...)
}

// encodeImage writes img to path as WebP when useWebP is set, else PNG.
func encodeImage(path string, img image.Image, useWebP bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if useWebP {
		return webp.Encode(f, img, nil)
	}
	return png.Encode(f, img)
}

var _ Sink = (*MaskOutput)(nil)

// maskWriter and thumbObserver are optional capabilities a Sink may expose
// alongside the base Sink interface. MaskOutput and ThumbnailOutput each
// implement the other's capability by forwarding to whatever they wrap, so
// -mo and --thumbnails compose regardless of which one wraps the other.
type maskWriter interface {
	WriteMask(gocv.Mat) error
}

type thumbObserver interface {
	Observe(index uint64, pixels gocv.Mat, score float64)
}

// outputLister is the capability sinks expose to report the files they
// produced; wrappers forward to whatever they wrap and append their own.
type outputLister interface {
	Outputs() []string
}
