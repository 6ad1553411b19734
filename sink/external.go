// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/scanerr"
	"github.com/dsmescan/dsmescan/timecode"
	"github.com/dsmescan/dsmescan/tracker"
)

// ExternalConfig configures External, which shells out to an encoder
// binary over the original input file instead of re-encoding decoded
// frames itself.
type ExternalConfig struct {
	// Binary is the encoder executable name, "ffmpeg" by convention but
	// configurable.
	Binary string
	// InputPath is the single original input file. external_per_event
	// rejects multi-file runs at construction.
	InputPath string
	OutputDir string
	Stem      string
	Ext       string
	// PreArgs/PostArgs are inserted before/after the "-i <input>" argument,
	// respectively (e.g. codec selection for reencode, or "-c copy" for
	// stream-copy mode).
	PreArgs  []string
	PostArgs []string

	FPS timecode.Rational
}

// External implements external_per_event: it does not decode frames for
// writing at all (OnFrame is a no-op observer), only invoking the encoder at
// each event's close.
type External struct {
	cfg     ExternalConfig
	seq     int
	outputs []string
}

// NewExternal validates the single-input-file constraint and constructs an
// External sink.
func NewExternal(cfg ExternalConfig) (*External, error) {
	if cfg.InputPath == "" {
		return nil, scanerr.New(scanerr.ConfigInvalid, "sink.NewExternal", "external_per_event requires exactly one input file")
	}
	return &External{cfg: cfg}, nil
}

// OnFrame is a no-op: external_per_event re-reads the original input files
// directly via the encoder's own -ss/-t seeking instead of the decoded
// frame stream.
func (e *External) OnFrame(uint64, gocv.Mat, bool) error { return nil }

// OnEventStart is a no-op; the clip is produced entirely at OnEventEnd.
func (e *External) OnEventStart(tracker.Event) error { return nil }

// OnEventEnd invokes the encoder over [ev.Start, ev.End) of the original
// input, producing the event's output file.
func (e *External) OnEventEnd(ev tracker.Event) error {
	if ev.End <= ev.Start {
		// Canceled mid-event: no real end index to cut at.
		return nil
	}
	e.seq++
	outPath := fmt.Sprintf("%s/%s", e.cfg.OutputDir, eventFileName(e.cfg.Stem, e.seq, e.cfg.Ext))

	start := timecode.New(ev.Start, e.cfg.FPS).Seconds()
	duration := timecode.New(ev.End-ev.Start, e.cfg.FPS).Seconds()

	args := []string{e.cfg.Binary, "-y", "-nostdin"}
	args = append(args, e.cfg.PreArgs...)
	args = append(args,
		"-ss", fmt.Sprintf("%.3f", start),
		"-t", fmt.Sprintf("%.3f", duration),
		"-i", e.cfg.InputPath,
	)
	args = append(args, e.cfg.PostArgs...)
	args = append(args, outPath)

	cmd := runExternal(context.Background(), args)
	if err := cmd.Run(); err != nil {
		return scanerr.Wrap(scanerr.EncoderFailed, "sink.External.OnEventEnd", err)
	}
	e.outputs = append(e.outputs, outPath)
	return nil
}

// Outputs lists the event files the encoder produced.
func (e *External) Outputs() []string { return e.outputs }

// Close is a no-op; each event's process already exited by OnEventEnd.
func (e *External) Close() error { return nil }

// runExternal builds the *exec.Cmd: stdout/stderr forwarded, no stdin,
// args logged at debug level.
func runExternal(ctx context.Context, args []string) *exec.Cmd {
	slog.Debug("sink: exec", "args", args)
	// #nosec G204 -- binary and args come from operator-controlled config.
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

var _ Sink = (*External)(nil)
