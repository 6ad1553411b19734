// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the line-oriented "key = value" configuration file
// format: a small hand-written scanner (bufio.Scanner over lines), not a
// general-purpose config library, since the file format is bespoke.
package config

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dsmescan/dsmescan/scanerr"
)

// Config holds every recognized configuration key as raw typed values;
// component-specific conversion (e.g. into detector.Config) happens in
// cmd/dsmescan, and time values are parsed later by the scan package, which
// knows the stream's fps.
type Config struct {
	// Detector
	Threshold         float64
	MaxThreshold      float64
	VarianceThreshold float64
	LearningRate      float64
	KernelSize        int
	// KernelSizeSet distinguishes an explicit kernel-size (0 disables the
	// morphological step) from the unset default (auto-selection).
	KernelSizeSet   bool
	DownscaleFactor int
	FrameSkip       uint32
	BGSubtractor    string

	// Tracker — time values, parsed later against fps (timecode,
	// "<n>s", or bare frames; see timecode.Parse).
	MinEventLength  string
	TimeBeforeEvent string
	TimePostEvent   string

	// Detector gating
	MaxArea   float64
	MaxWidth  float64
	MaxHeight float64

	// Sink
	OutputDir        string
	OutputMode       string // scan_only / opencv / ffmpeg / copy
	OpenCVCodec      string
	FFmpegInputArgs  string
	FFmpegOutputArgs string
	Thumbnails       string // "" or "highscore"

	// Overlay
	BoundingBox           bool
	BoundingBoxColor      color.RGBA
	BoundingBoxThickness  int
	BoundingBoxSmoothTime float64
	BoundingBoxMinSize    float64
	TimeCode              bool
	FrameMetrics          bool
	TextMargin            int
	TextFontScale         float64
	TextFontThickness     int
	TextFontColor         color.RGBA
	TextBGColor           color.RGBA

	LoadRegion string

	// Observability
	Verbosity   string
	QuietMode   bool
	SaveLog     string
	MaxLogFiles int
}

// Default returns a Config with the detector/overlay defaults documented
// elsewhere (detector.DefaultConfig, overlay.DefaultConfig); Load only
// overrides keys actually present in the file.
func Default() Config {
	return Config{
		Threshold:             0.15,
		MaxThreshold:          255,
		VarianceThreshold:     16,
		LearningRate:          -1,
		BGSubtractor:          "MOG2",
		MaxArea:               1.0,
		MaxWidth:              1.0,
		MaxHeight:             1.0,
		OutputMode:            "scan_only",
		OpenCVCodec:           "mp4v",
		BoundingBox:           true,
		BoundingBoxColor:      color.RGBA{G: 255, A: 255},
		BoundingBoxThickness:  1,
		BoundingBoxSmoothTime: 0.3,
		BoundingBoxMinSize:    0.01,
		TimeCode:              true,
		FrameMetrics:          true,
		TextMargin:            8,
		TextFontScale:         0.6,
		TextFontThickness:     1,
		TextFontColor:         color.RGBA{R: 255, G: 255, B: 255, A: 255},
		TextBGColor:           color.RGBA{A: 180},
		Verbosity:             "info",
		MaxLogFiles:           5,
	}
}

// Load reads and parses a config file at path, starting from Default().
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, scanerr.Wrap(scanerr.ConfigInvalid, "config.Load", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the key=value format from r.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return cfg, scanerr.New(scanerr.ConfigInvalid, "config.Parse", fmt.Sprintf("line %d: missing '='", lineNo))
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if err := cfg.set(key, val); err != nil {
			return cfg, scanerr.Wrap(scanerr.ConfigInvalid, "config.Parse", fmt.Errorf("line %d: %w", lineNo, err))
		}
	}
	if err := sc.Err(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) set(key, val string) error {
	var err error
	switch key {
	case "threshold":
		cfg.Threshold, err = strconv.ParseFloat(val, 64)
	case "max-threshold":
		cfg.MaxThreshold, err = strconv.ParseFloat(val, 64)
	case "variance-threshold":
		cfg.VarianceThreshold, err = strconv.ParseFloat(val, 64)
	case "learning-rate":
		cfg.LearningRate, err = strconv.ParseFloat(val, 64)
	case "kernel-size":
		cfg.KernelSize, err = strconv.Atoi(val)
		cfg.KernelSizeSet = err == nil
	case "downscale-factor":
		cfg.DownscaleFactor, err = strconv.Atoi(val)
	case "frame-skip":
		var n uint64
		n, err = strconv.ParseUint(val, 10, 32)
		cfg.FrameSkip = uint32(n)
	case "bg-subtractor":
		cfg.BGSubtractor = val
	case "min-event-length":
		cfg.MinEventLength = val
	case "time-before-event":
		cfg.TimeBeforeEvent = val
	case "time-post-event":
		cfg.TimePostEvent = val
	case "max-area":
		cfg.MaxArea, err = strconv.ParseFloat(val, 64)
	case "max-width":
		cfg.MaxWidth, err = strconv.ParseFloat(val, 64)
	case "max-height":
		cfg.MaxHeight, err = strconv.ParseFloat(val, 64)
	case "output-dir":
		cfg.OutputDir = val
	case "output-mode":
		cfg.OutputMode = val
	case "opencv-codec":
		cfg.OpenCVCodec = val
	case "ffmpeg-input-args":
		cfg.FFmpegInputArgs = val
	case "ffmpeg-output-args":
		cfg.FFmpegOutputArgs = val
	case "thumbnails":
		cfg.Thumbnails = val
	case "bounding-box":
		cfg.BoundingBox, err = strconv.ParseBool(val)
	case "bounding-box-color":
		cfg.BoundingBoxColor, err = ParseColor(val)
	case "bounding-box-thickness":
		cfg.BoundingBoxThickness, err = strconv.Atoi(val)
	case "bounding-box-smooth-time":
		cfg.BoundingBoxSmoothTime, err = strconv.ParseFloat(val, 64)
	case "bounding-box-min-size":
		cfg.BoundingBoxMinSize, err = strconv.ParseFloat(val, 64)
	case "time-code":
		cfg.TimeCode, err = strconv.ParseBool(val)
	case "frame-metrics":
		cfg.FrameMetrics, err = strconv.ParseBool(val)
	case "text-margin":
		cfg.TextMargin, err = strconv.Atoi(val)
	case "text-font-scale":
		cfg.TextFontScale, err = strconv.ParseFloat(val, 64)
	case "text-font-thickness":
		cfg.TextFontThickness, err = strconv.Atoi(val)
	case "text-font-color":
		cfg.TextFontColor, err = ParseColor(val)
	case "text-bg-color":
		cfg.TextBGColor, err = ParseColor(val)
	case "load-region":
		cfg.LoadRegion = val
	case "verbosity":
		cfg.Verbosity = val
	case "quiet-mode":
		cfg.QuietMode, err = strconv.ParseBool(val)
	case "save-log":
		cfg.SaveLog = val
	case "max-log-files":
		cfg.MaxLogFiles, err = strconv.Atoi(val)
	default:
		return fmt.Errorf("unrecognized key %q", key)
	}
	return err
}

// ParseColor parses a "(R,G,B)" triple or a "0xRRGGBB" hex value.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
		parts := strings.Split(inner, ",")
		if len(parts) != 3 {
			return color.RGBA{}, fmt.Errorf("invalid color triple %q", s)
		}
		var vals [3]uint8
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil || n < 0 || n > 255 {
				return color.RGBA{}, fmt.Errorf("invalid color component %q in %q", p, s)
			}
			vals[i] = uint8(n)
		}
		return color.RGBA{R: vals[0], G: vals[1], B: vals[2], A: 255}, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
		}
		return color.RGBA{
			R: uint8(n >> 16),
			G: uint8(n >> 8),
			B: uint8(n),
			A: 255,
		}, nil
	}
	return color.RGBA{}, fmt.Errorf("unrecognized color format %q", s)
}
