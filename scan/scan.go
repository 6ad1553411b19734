// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scan is the public façade: scan.Run(ctx, Config) composes the
// source, detector, tracker, overlay, sink, and pipeline packages into one
// call.
package scan

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/dsmescan/dsmescan/detector"
	"github.com/dsmescan/dsmescan/overlay"
	"github.com/dsmescan/dsmescan/pipeline"
	"github.com/dsmescan/dsmescan/region"
	"github.com/dsmescan/dsmescan/scanerr"
	"github.com/dsmescan/dsmescan/sink"
	"github.com/dsmescan/dsmescan/timecode"
	"github.com/dsmescan/dsmescan/tracker"
	"github.com/dsmescan/dsmescan/videosource"
)

// TrackerSpec carries the tracker's three time parameters as unresolved
// strings (HH:MM:SS[.fff], "<n>s", or a bare frame count — see
// timecode.Parse), since resolving them into frame counts requires the
// stream's fps, which isn't known until scan.Run opens the input.
type TrackerSpec struct {
	MinEventLength  string
	TimeBeforeEvent string
	TimePostEvent   string
}

// resolve converts spec's time values into a tracker.Config at fps. Empty
// strings resolve to 0 frames (the zero tracker.Config value).
func (spec TrackerSpec) resolve(fps timecode.Rational) (tracker.Config, error) {
	parse := func(s string) (uint64, error) {
		if s == "" {
			return 0, nil
		}
		tc, err := timecode.Parse(s, fps)
		if err != nil {
			return 0, err
		}
		return tc.Frame(), nil
	}
	l, err := parse(spec.MinEventLength)
	if err != nil {
		return tracker.Config{}, scanerr.Wrap(scanerr.ConfigInvalid, "scan.TrackerSpec.resolve", err)
	}
	b, err := parse(spec.TimeBeforeEvent)
	if err != nil {
		return tracker.Config{}, scanerr.Wrap(scanerr.ConfigInvalid, "scan.TrackerSpec.resolve", err)
	}
	p, err := parse(spec.TimePostEvent)
	if err != nil {
		return tracker.Config{}, scanerr.Wrap(scanerr.ConfigInvalid, "scan.TrackerSpec.resolve", err)
	}
	return tracker.Config{MinEventLength: l, TimeBeforeEvent: b, TimePostEvent: p}, nil
}

// Config is everything scan.Run needs: already-resolved component configs,
// not the raw config-file/CLI representation (the caller — typically
// cmd/dsmescan — is responsible for turning a config.Config plus CLI flags
// into this), except Tracker and StartTime/EndTime/Duration, whose time
// values can only be resolved once the stream's fps is known.
type Config struct {
	InputPaths []string
	UsePTS     bool

	// StartTime/EndTime/Duration trim the scanned range of the virtual
	// stream. Time values in the same formats as TrackerSpec; empty means
	// unbounded. Duration is measured from StartTime and wins over EndTime
	// when both are set.
	StartTime string
	EndTime   string
	Duration  string

	Region region.Region

	Detector detector.Config
	Tracker  TrackerSpec
	Overlay  overlay.Config

	// NewSink builds the output sink once the stream's width/height/fps are
	// known (Native/External sinks need them to open their writers); nil
	// defaults to sink.Discard{}.
	NewSink func(width, height int, fps timecode.Rational) (sink.Sink, error)

	Observers []pipeline.Observer

	// InstallSignalHandler makes scan.Run install signal.NotifyContext
	// itself, quitting on SIGINT.
	InstallSignalHandler bool
}

// Result is the public outcome of a scan.
type Result struct {
	Events  []tracker.Event
	Outputs []string
	// FPS is the stream's framerate, needed by callers to format Events as
	// timecodes.
	FPS timecode.Rational
	// Failure is set when the scan ended due to a non-cancellation error
	// after some events may already have been emitted.
	Failure error
}

// Run composes the source, detector, tracker, overlay, and sink into one
// pipeline and executes the scan to completion. Not thread-safe across
// concurrent calls whose NewSink hands out a shared sink; a fresh Config
// should be built per scan.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if len(cfg.InputPaths) == 0 {
		return Result{}, scanerr.New(scanerr.ConfigInvalid, "scan.Run", "no input files given")
	}

	if cfg.InstallSignalHandler {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, interruptSignals()...)
		defer cancel()
	}

	src, err := videosource.New(cfg.InputPaths, cfg.UsePTS)
	if err != nil {
		return Result{}, err
	}
	defer src.Close()

	meta, err := src.Open()
	if err != nil {
		return Result{}, err
	}

	mask, err := region.Build(cfg.Region, meta.Width, meta.Height)
	if err != nil {
		return Result{}, scanerr.Wrap(scanerr.RegionInvalid, "scan.Run", err)
	}
	defer mask.Close()

	det, err := detector.New(cfg.Detector, meta.Width, meta.Height, mask)
	if err != nil {
		return Result{}, err
	}
	defer det.Close()

	resolved, err := cfg.Tracker.resolve(meta.FPS)
	if err != nil {
		return Result{}, err
	}
	trackerCfg := resolved.ScaledForFrameSkip(cfg.Detector.FrameSkip)
	tr := tracker.New(trackerCfg)

	startIdx, endIdx, err := cfg.resolveRange(meta.FPS)
	if err != nil {
		return Result{}, err
	}
	if startIdx > 0 {
		if err := src.Seek(startIdx); err != nil {
			return Result{}, err
		}
	}
	total := meta.TotalFramesEstimate
	if endIdx > 0 && endIdx < total {
		total = endIdx
	}

	var ov *overlay.Renderer
	if cfg.Overlay.ShowTimecode || cfg.Overlay.ShowFrameMetrics || cfg.Overlay.ShowBoundingBox {
		ov = overlay.New(cfg.Overlay, meta.FPS)
	}

	var outSink sink.Sink = sink.Discard{}
	if cfg.NewSink != nil {
		outSink, err = cfg.NewSink(meta.Width, meta.Height, meta.FPS)
		if err != nil {
			return Result{}, err
		}
	}

	result, runErr := pipeline.Run(ctx, pipeline.Config{
		Source:              src,
		Detector:            det,
		Tracker:             tr,
		Sink:                outSink,
		Overlay:             ov,
		FrameSkip:           cfg.Detector.FrameSkip,
		EndIndex:            endIdx,
		TotalFramesEstimate: total,
		PreRollCapacity:     preRollCapacity(trackerCfg, cfg.Detector.FrameSkip),
		Observers:           cfg.Observers,
	})

	if closeErr := outSink.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	res := Result{Events: result.Events, FPS: meta.FPS}
	if ol, ok := outSink.(interface{ Outputs() []string }); ok {
		res.Outputs = ol.Outputs()
	}
	if runErr != nil {
		res.Failure = runErr
	}
	return res, runErr
}

// resolveRange turns StartTime/EndTime/Duration into global frame indices.
// endIdx is exclusive; 0 means unbounded.
func (cfg Config) resolveRange(fps timecode.Rational) (startIdx, endIdx uint64, err error) {
	parse := func(s string) (uint64, error) {
		if s == "" {
			return 0, nil
		}
		tc, err := timecode.Parse(s, fps)
		if err != nil {
			return 0, scanerr.Wrap(scanerr.ConfigInvalid, "scan.Run", err)
		}
		return tc.Frame(), nil
	}
	if startIdx, err = parse(cfg.StartTime); err != nil {
		return 0, 0, err
	}
	if endIdx, err = parse(cfg.EndTime); err != nil {
		return 0, 0, err
	}
	if cfg.Duration != "" {
		d, err := parse(cfg.Duration)
		if err != nil {
			return 0, 0, err
		}
		endIdx = startIdx + d
	}
	if endIdx > 0 && endIdx <= startIdx {
		return 0, 0, scanerr.New(scanerr.ConfigInvalid, "scan.Run", "end time precedes start time")
	}
	return startIdx, endIdx, nil
}

// preRollCapacity sizes the encode stage's ring buffer: the reach-back B
// (counted in decoded frames, so divided by skip+1 to get encoder-visible
// frames) plus the longest uncommitted candidate streak.
func preRollCapacity(cfg tracker.Config, skip uint32) int {
	div := uint64(skip) + 1
	b := (cfg.TimeBeforeEvent + div - 1) / div
	return int(b + cfg.MinEventLength + 1)
}

// FormatTimecodeCSV renders events as the one-line comma-separated
// timecode list printed in quiet mode.
func FormatTimecodeCSV(events []tracker.Event, fps timecode.Rational) string {
	out := ""
	for i, ev := range events {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%s-%s", timecode.New(ev.Start, fps), timecode.New(ev.End, fps))
	}
	return out
}
