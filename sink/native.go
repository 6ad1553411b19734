// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sink

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/scanerr"
	"github.com/dsmescan/dsmescan/tracker"
)

// NativeConfig configures Native.
type NativeConfig struct {
	// PerEvent selects native_per_event (true) vs native_single (false).
	PerEvent bool
	// OutputDir is where event/single files are written.
	OutputDir string
	// Stem is the first input file's basename without extension, used for
	// native_per_event naming.
	Stem string
	// Ext is the output container extension, e.g. "mp4".
	Ext string
	// SinglePath, when non-empty, overrides the default
	// OutputDir/Stem.Ext name for the single-file writer.
	SinglePath string
	// FourCC is the 4-character codec identifier passed to
	// gocv.VideoWriter, e.g. "mp4v" or "avc1".
	FourCC        string
	Width, Height int
	FPS           float64
}

// Native implements native_single and native_per_event via gocv.VideoWriter,
// the gocv domain dependency's own muxing entry point.
type Native struct {
	cfg NativeConfig

	// single-mode state
	singleWriter *gocv.VideoWriter
	singlePath   string
	sawEvent     bool

	// per-event-mode state
	cur     *gocv.VideoWriter
	curPath string
	seq     int

	inEvent bool
	outputs []string
}

// NewNative opens the single-mode writer eagerly (native_single) or leaves
// per-event writers to be opened lazily on OnEventStart.
func NewNative(cfg NativeConfig) (*Native, error) {
	n := &Native{cfg: cfg}
	if !cfg.PerEvent {
		path := cfg.SinglePath
		if path == "" {
			path = fmt.Sprintf("%s/%s.%s", cfg.OutputDir, cfg.Stem, cfg.Ext)
		}
		w, err := gocv.VideoWriterFile(path, cfg.FourCC, cfg.FPS, cfg.Width, cfg.Height, true)
		if err != nil {
			return nil, scanerr.Wrap(scanerr.EncoderUnavailable, "sink.NewNative", err)
		}
		n.singleWriter = w
		n.singlePath = path
	}
	return n, nil
}

// OnFrame writes frame to the currently active writer, if any, and if the
// frame falls inside an event (native_single only writes event frames; per
// frame tracking of inEvent comes from the caller, which knows the
// tracker's state precisely).
func (n *Native) OnFrame(index uint64, pixels gocv.Mat, inEvent bool) error {
	n.inEvent = inEvent
	if !inEvent {
		return nil
	}
	var w *gocv.VideoWriter
	if n.cfg.PerEvent {
		w = n.cur
	} else {
		w = n.singleWriter
		n.sawEvent = true
	}
	if w == nil {
		return nil
	}
	if err := w.Write(pixels); err != nil {
		return scanerr.Wrap(scanerr.EncoderFailed, "sink.Native.OnFrame", err)
	}
	return nil
}

// OnEventStart opens a new writer in per-event mode.
func (n *Native) OnEventStart(ev tracker.Event) error {
	if !n.cfg.PerEvent {
		return nil
	}
	n.seq++
	n.curPath = fmt.Sprintf("%s/%s", n.cfg.OutputDir, eventFileName(n.cfg.Stem, n.seq, n.cfg.Ext))
	w, err := gocv.VideoWriterFile(n.curPath, n.cfg.FourCC, n.cfg.FPS, n.cfg.Width, n.cfg.Height, true)
	if err != nil {
		return scanerr.Wrap(scanerr.EncoderUnavailable, "sink.Native.OnEventStart", err)
	}
	n.cur = w
	return nil
}

// OnEventEnd closes the per-event writer.
func (n *Native) OnEventEnd(ev tracker.Event) error {
	if !n.cfg.PerEvent || n.cur == nil {
		return nil
	}
	err := n.cur.Close()
	n.cur = nil
	if err != nil {
		return scanerr.Wrap(scanerr.EncoderFailed, "sink.Native.OnEventEnd", err)
	}
	n.outputs = append(n.outputs, n.curPath)
	return nil
}

// Close flushes any open writer. In native_single mode, the output file is
// deleted if no event was ever written to it; in per-event mode a writer
// still open here means the event was interrupted, and its partial file is
// deleted.
func (n *Native) Close() error {
	if n.cfg.PerEvent {
		if n.cur != nil {
			err := n.cur.Close()
			n.cur = nil
			if rmErr := removeIfExists(n.curPath); err == nil {
				err = rmErr
			}
			return err
		}
		return nil
	}
	if n.singleWriter == nil {
		return nil
	}
	err := n.singleWriter.Close()
	n.singleWriter = nil
	if err != nil {
		return err
	}
	if !n.sawEvent {
		return removeIfExists(n.singlePath)
	}
	return nil
}

// Outputs lists the files this sink completed: every closed per-event clip,
// or the single output file once at least one event was written to it.
func (n *Native) Outputs() []string {
	if n.cfg.PerEvent {
		return n.outputs
	}
	if n.sawEvent {
		return []string{n.singlePath}
	}
	return nil
}

var _ Sink = (*Native)(nil)
