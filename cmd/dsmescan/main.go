// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command dsmescan scans one or more video files for motion events.
//
// CLI flag parsing and wiring only; everything else lives in the scan
// package.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/dsmescan/dsmescan/config"
	"github.com/dsmescan/dsmescan/detector"
	"github.com/dsmescan/dsmescan/logging"
	"github.com/dsmescan/dsmescan/overlay"
	"github.com/dsmescan/dsmescan/region"
	"github.com/dsmescan/dsmescan/scan"
	"github.com/dsmescan/dsmescan/sink"
	"github.com/dsmescan/dsmescan/timecode"
)

func mainImpl() error {
	var level slog.LevelVar
	level.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      &level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	confPath := flag.String("c", "", "config file path")
	outputDir := flag.String("d", "", "output directory (default the working directory)")
	outputMode := flag.String("m", "", "output mode: scan_only/opencv/ffmpeg/copy")
	singleOut := flag.String("o", "", "write all events to this single output file (one input only)")
	scanOnly := flag.Bool("so", false, "scan only, write no output files")
	maskOutput := flag.Bool("mo", false, "also emit the post-morphology mask as a side file")
	thumbnails := flag.Bool("thumbnails", false, "also emit each event's peak-scoring frame as a side file (thumbnails=highscore)")
	regionPath := flag.String("R", "", "region file to load")
	addRegion := flag.String("a", "", "add one region polygon: \"x1 y1 x2 y2 ...\"")
	saveRegion := flag.String("s", "", "save the effective region to this file")
	startTime := flag.String("st", "", "start scanning at this time (HH:MM:SS, <n>s, or frame count)")
	endTime := flag.String("et", "", "stop scanning at this time")
	durationTime := flag.String("dt", "", "scan this long from the start time")
	minEventLength := flag.String("l", "", "minimum event length (HH:MM:SS, <n>s, or frame count)")
	timeBefore := flag.String("tb", "", "time reached back before an event")
	timePost := flag.String("tp", "", "time kept after an event")
	threshold := flag.Float64("t", -1, "detection threshold, -1 keeps the config/default value")
	varianceThreshold := flag.Float64("b", -1, "background-subtractor variance threshold, -1 keeps the config/default value")
	kernelSize := flag.Int("k", -1, "morphological kernel size, -1 keeps the config/auto value")
	downscale := flag.Int("df", -1, "downscale factor, -1 keeps the config/auto value")
	frameSkip := flag.Uint("fs", 0, "process every (frame_skip+1)th frame")
	boundingBox := flag.Bool("bb", true, "draw bounding boxes")
	timeCode := flag.Bool("tc", true, "draw timecode overlay")
	frameMetrics := flag.Bool("fm", true, "draw frame metrics overlay")
	usePTS := flag.Bool("use-pts", false, "accepted for compatibility; presentation time is always index/fps")
	quiet := flag.Bool("q", false, "quiet mode: print a comma-separated timecode list only")
	verbose := flag.Bool("v", false, "enable verbose logging")
	logFile := flag.String("logfile", "", "also write logs to a rolling file under this directory")
	flag.Parse()

	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	if *verbose {
		level.Set(slog.LevelDebug)
	}

	inputs := flag.Args()
	if len(inputs) == 0 {
		return errors.New("dsmescan: at least one input file is required")
	}

	cfg := config.Default()
	if *confPath != "" {
		var err error
		cfg, err = config.Load(*confPath)
		if err != nil {
			return err
		}
	}
	applyFlagOverrides(&cfg, flagOverrides{
		outputDir:         *outputDir,
		outputMode:        *outputMode,
		regionPath:        *regionPath,
		minEventLength:    *minEventLength,
		timeBefore:        *timeBefore,
		timePost:          *timePost,
		threshold:         *threshold,
		varianceThreshold: *varianceThreshold,
		kernelSize:        *kernelSize,
		downscale:         *downscale,
		frameSkip:         uint32(*frameSkip),
		quiet:             *quiet,
	})
	if *scanOnly {
		cfg.OutputMode = "scan_only"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	// Overlay toggles only override the config file when given explicitly.
	if setFlags["bb"] {
		cfg.BoundingBox = *boundingBox
	}
	if setFlags["tc"] {
		cfg.TimeCode = *timeCode
	}
	if setFlags["fm"] {
		cfg.FrameMetrics = *frameMetrics
	}

	// Quit whenever SIGINT is received.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *logFile != "" {
		rw, err := logging.NewRollingWriter(*logFile, "dsmescan", cfg.MaxLogFiles)
		if err != nil {
			return err
		}
		defer rw.Close()
		slog.SetDefault(slog.New(tint.NewHandler(rw, &tint.Options{
			Level:      &level,
			TimeFormat: time.TimeOnly,
			NoColor:    true,
		})))
	}

	var reg region.Region
	if cfg.LoadRegion != "" {
		var err error
		reg, err = region.Load(cfg.LoadRegion)
		if err != nil {
			return err
		}
	}
	if *addRegion != "" {
		extra, err := region.Parse(strings.NewReader(*addRegion))
		if err != nil {
			return err
		}
		reg = append(reg, extra...)
	}
	if *saveRegion != "" {
		if err := region.Save(*saveRegion, reg); err != nil {
			return err
		}
	}

	detCfg, err := detectorConfigFromFile(cfg)
	if err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(inputs[0]), filepath.Ext(inputs[0]))

	result, err := scan.Run(ctx, scan.Config{
		InputPaths: inputs,
		UsePTS:     *usePTS,
		StartTime:  *startTime,
		EndTime:    *endTime,
		Duration:   *durationTime,
		Region:     reg,
		Detector:   detCfg,
		Tracker: scan.TrackerSpec{
			MinEventLength:  cfg.MinEventLength,
			TimeBeforeEvent: cfg.TimeBeforeEvent,
			TimePostEvent:   cfg.TimePostEvent,
		},
		Overlay: overlayConfigFromFile(cfg),
		NewSink: sinkFactory(cfg, *maskOutput, *thumbnails || cfg.Thumbnails == "highscore", *singleOut, inputs, stem),
	})
	if err != nil {
		return err
	}

	if cfg.QuietMode {
		fmt.Println(scan.FormatTimecodeCSV(result.Events, result.FPS))
		return nil
	}
	return scan.WriteEventTable(os.Stdout, result.Events, result.FPS)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "dsmescan: %s\n", err.Error())
		os.Exit(1)
	}
}

// flagOverrides holds the subset of config.Config keys a CLI flag can
// override; zero/sentinel values mean "leave the config-file/default value
// alone".
type flagOverrides struct {
	outputDir         string
	outputMode        string
	regionPath        string
	minEventLength    string
	timeBefore        string
	timePost          string
	threshold         float64
	varianceThreshold float64
	kernelSize        int
	downscale         int
	frameSkip         uint32
	quiet             bool
}

func applyFlagOverrides(cfg *config.Config, o flagOverrides) {
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.outputMode != "" {
		cfg.OutputMode = o.outputMode
	}
	if o.regionPath != "" {
		cfg.LoadRegion = o.regionPath
	}
	if o.minEventLength != "" {
		cfg.MinEventLength = o.minEventLength
	}
	if o.timeBefore != "" {
		cfg.TimeBeforeEvent = o.timeBefore
	}
	if o.timePost != "" {
		cfg.TimePostEvent = o.timePost
	}
	if o.threshold >= 0 {
		cfg.Threshold = o.threshold
	}
	if o.varianceThreshold >= 0 {
		cfg.VarianceThreshold = o.varianceThreshold
	}
	if o.kernelSize >= 0 {
		cfg.KernelSize = o.kernelSize
		cfg.KernelSizeSet = true
	}
	if o.downscale >= 0 {
		cfg.DownscaleFactor = o.downscale
	}
	if o.frameSkip != 0 {
		cfg.FrameSkip = o.frameSkip
	}
	if o.quiet {
		cfg.QuietMode = true
	}
}

func detectorConfigFromFile(cfg config.Config) (detector.Config, error) {
	kind, err := detector.ParseKind(cfg.BGSubtractor)
	if err != nil {
		return detector.Config{}, err
	}
	d := detector.DefaultConfig()
	d.Kind = kind
	d.Threshold = float32(cfg.Threshold)
	d.MaxThreshold = float32(cfg.MaxThreshold)
	d.VarianceThreshold = float32(cfg.VarianceThreshold)
	d.LearningRate = float32(cfg.LearningRate)
	d.KernelSize = cfg.KernelSize
	if cfg.KernelSizeSet && cfg.KernelSize == 0 {
		d.DisableMorphology = true
	}
	d.DownscaleFactor = cfg.DownscaleFactor
	d.FrameSkip = cfg.FrameSkip
	d.MaxArea = float32(cfg.MaxArea)
	d.MaxWidth = float32(cfg.MaxWidth)
	d.MaxHeight = float32(cfg.MaxHeight)
	return d, nil
}

func overlayConfigFromFile(cfg config.Config) overlay.Config {
	return overlay.Config{
		ShowTimecode:     cfg.TimeCode,
		ShowFrameMetrics: cfg.FrameMetrics,
		ShowBoundingBox:  cfg.BoundingBox,
		FontScale:        cfg.TextFontScale,
		Thickness:        cfg.TextFontThickness,
		Margin:           cfg.TextMargin,
		Border:           4,
		TextColor:        cfg.TextFontColor,
		BoxColor:         cfg.BoundingBoxColor,
		BGColor:          cfg.TextBGColor,
		BBoxSmoothTime:   cfg.BoundingBoxSmoothTime,
		MinBoxSideFrac:   cfg.BoundingBoxMinSize,
	}
}

// sinkFactory returns a scan.Config.NewSink closure building the output
// sink once the stream's width/height/fps are known, per cfg.OutputMode.
func sinkFactory(cfg config.Config, maskOutput, thumbnails bool, singleOut string, inputs []string, stem string) func(int, int, timecode.Rational) (sink.Sink, error) {
	return func(width, height int, fps timecode.Rational) (sink.Sink, error) {
		mode := cfg.OutputMode
		if singleOut != "" && (mode == "" || mode == "scan_only") {
			mode = "opencv"
		}
		var base sink.Sink
		var err error
		switch mode {
		case "", "scan_only":
			base = sink.Discard{}
		case "opencv":
			if singleOut != "" && len(inputs) != 1 {
				return nil, errors.New("dsmescan: -o requires exactly one input file")
			}
			base, err = sink.NewNative(sink.NativeConfig{
				PerEvent:   singleOut == "",
				OutputDir:  cfg.OutputDir,
				Stem:       stem,
				Ext:        "mp4",
				SinglePath: singleOut,
				FourCC:     cfg.OpenCVCodec,
				Width:      width,
				Height:     height,
				FPS:        fps.FPS(),
			})
		case "ffmpeg", "copy":
			if len(inputs) != 1 {
				return nil, errors.New("dsmescan: -m ffmpeg/copy requires exactly one input file")
			}
			preArgs := strings.Fields(cfg.FFmpegInputArgs)
			postArgs := strings.Fields(cfg.FFmpegOutputArgs)
			if cfg.OutputMode == "copy" {
				postArgs = append([]string{"-c", "copy"}, postArgs...)
			}
			base, err = sink.NewExternal(sink.ExternalConfig{
				Binary:    "ffmpeg",
				InputPath: inputs[0],
				OutputDir: cfg.OutputDir,
				Stem:      stem,
				Ext:       "mp4",
				PreArgs:   preArgs,
				PostArgs:  postArgs,
				FPS:       fps,
			})
		default:
			return nil, fmt.Errorf("dsmescan: unrecognized output mode %q", cfg.OutputMode)
		}
		if err != nil {
			return nil, err
		}
		if maskOutput {
			base = sink.NewMaskOutput(base, sink.MaskConfig{
				OutputDir: cfg.OutputDir,
				Stem:      stem,
				UseWebP:   true,
			})
		}
		if thumbnails {
			base = sink.NewThumbnailOutput(base, sink.ThumbnailConfig{
				OutputDir: cfg.OutputDir,
				Stem:      stem,
				UseWebP:   true,
			})
		}
		return base, nil
	}
}
