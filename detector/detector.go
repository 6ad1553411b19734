// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package detector turns a decoded frame into a per-frame motion score and
// a single enclosing bounding box. It follows the downscale ->
// background-subtract -> mask (applied to the foreground) -> open -> score ->
// gate -> bbox pipeline, implemented with gocv the same way the rest of this
// module uses it for image work.
package detector

import (
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/region"
	"github.com/dsmescan/dsmescan/scanerr"
)

// Box is an axis-aligned bounding box in source-frame coordinates.
type Box struct {
	X, Y, W, H int
}

// Area returns W*H.
func (b Box) Area() int { return b.W * b.H }

// Result is what Process returns for a single frame.
type Result struct {
	// Motion is true when the frame passed the score gate and its enclosing
	// box passed the size filters.
	Motion bool
	// Box is the smallest axis-aligned rectangle covering every non-zero
	// foreground pixel, in source coordinates; nil when the frame reports
	// no motion.
	Box *Box
	// Score is the fraction of in-region pixels that changed, rescaled to
	// the 0-255 scale, before thresholding; useful for diagnostics and the
	// overlay.
	Score float64
}

// Detector holds background-subtractor state across frames. Not safe for
// concurrent use by more than one goroutine at a time; the pipeline's detect
// stage owns exactly one Detector per scan.
type Detector struct {
	cfg Config

	width, height    int // source resolution
	downFactor       int
	kernelSize       int
	mask             *region.Mask // at downscaled resolution, nil if AllIn
	maskAllIn        bool
	regionPixelCount int

	mog2 gocv.BackgroundSubtractorMOG2
	cnt  *cntSubtractor

	lastMask gocv.Mat // post-morphology foreground mask, at working (downscaled) resolution
}

// New constructs a Detector for frames of the given source resolution and an
// already-built region mask (at source resolution; Process will downscale it
// to match the working resolution). MOG2_GPU is rejected: no CUDA build is
// assumed to be available.
func New(cfg Config, width, height int, mask *region.Mask) (*Detector, error) {
	if cfg.Kind == MOG2GPU {
		return nil, scanerr.New(scanerr.ConfigInvalid, "detector.New", "MOG2_GPU requires a CUDA-enabled build, which this module does not assume")
	}
	if cfg.Threshold < 0 {
		return nil, scanerr.New(scanerr.ConfigInvalid, "detector.New", "threshold must be >= 0")
	}

	down := cfg.DownscaleFactor
	if down == autoValue {
		down = autoDownscale(width, height)
	}
	kernel := cfg.KernelSize
	if cfg.DisableMorphology {
		kernel = 0
	} else if kernel == autoValue {
		kernel = autoKernelSize(width, height, down)
	}

	d := &Detector{
		cfg:        cfg,
		width:      width,
		height:     height,
		downFactor: down,
		kernelSize: kernel,
		lastMask:   gocv.NewMat(),
	}

	dm, err := region.Downscale(mask, down)
	if err != nil {
		return nil, scanerr.Wrap(scanerr.Internal, "detector.New", err)
	}
	d.mask = dm
	d.maskAllIn = dm.AllIn
	d.regionPixelCount = region.CountInRegion(dm)
	if d.regionPixelCount == 0 {
		d.regionPixelCount = 1 // avoid division by zero; score stays 0
	}

	switch cfg.Kind {
	case MOG2:
		history := 500
		varThresh := float64(cfg.VarianceThreshold)
		// detect-shadows stays off: shadow pixels would inflate the score.
		d.mog2 = gocv.NewBackgroundSubtractorMOG2WithParams(history, varThresh, false)
		if cfg.LearningRate >= 0 {
			// gocv's MOG2 binding drives OpenCV's automatic learning rate;
			// the per-apply rate override isn't exposed.
			slog.Debug("detector: learning-rate override not supported by the MOG2 binding, using automatic", "requested", cfg.LearningRate)
		}
	case CNT:
		d.cnt = newCNTSubtractor(15, true)
	default:
		return nil, scanerr.New(scanerr.ConfigInvalid, "detector.New", fmt.Sprintf("unknown subtractor kind %d", cfg.Kind))
	}
	return d, nil
}

// Close releases the underlying subtractor state and mask.
func (d *Detector) Close() error {
	if d.mask != nil {
		d.mask.Close()
	}
	d.lastMask.Close()
	if d.cfg.Kind == MOG2 {
		return d.mog2.Close()
	}
	return nil
}

// LastMask returns the most recently computed post-morphology foreground
// mask, upscaled back to source resolution for mask side-file emission.
// Nearest-neighbor resize since the mask is binary and blending
// interpolation would smear its edges. The returned Mat is a copy the
// caller owns and must Close.
func (d *Detector) LastMask() gocv.Mat {
	out := gocv.NewMat()
	if d.lastMask.Empty() {
		return out
	}
	if d.downFactor <= 1 {
		d.lastMask.CopyTo(&out)
		return out
	}
	gocv.Resize(d.lastMask, &out, image.Pt(d.width, d.height), 0, 0, gocv.InterpolationNearestNeighbor)
	return out
}

// Process runs the detection pipeline for one source-resolution BGR frame.
// Frame skipping happens upstream in the orchestrator's decode stage;
// every frame handed to Process is fed to the background model.
func (d *Detector) Process(src gocv.Mat) (Result, error) {
	small := gocv.NewMat()
	defer small.Close()
	if d.downFactor > 1 {
		// Plain subsampling, no filtering: keep every k-th row and column.
		gocv.Resize(src, &small, image.Pt(d.width/d.downFactor, d.height/d.downFactor), 0, 0, gocv.InterpolationNearestNeighbor)
	} else {
		src.CopyTo(&small)
	}

	fg := gocv.NewMat()
	defer fg.Close()
	switch d.cfg.Kind {
	case MOG2:
		d.mog2.Apply(small, &fg)
	case CNT:
		d.cnt.apply(small, &fg)
	}

	working := fg
	var masked gocv.Mat
	if !d.maskAllIn {
		m, err := region.Apply(d.mask, fg)
		if err != nil {
			return Result{}, scanerr.Wrap(scanerr.Internal, "detector.Process", err)
		}
		masked = m
		defer masked.Close()
		working = masked
	}

	if d.kernelSize >= 3 {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(d.kernelSize, d.kernelSize))
		gocv.MorphologyEx(working, &working, gocv.MorphOpen, kernel)
		kernel.Close()
	}

	working.CopyTo(&d.lastMask)

	changed := gocv.CountNonZero(working)
	// Score is on the 0-255 scale: the default threshold 0.15 is a 0-255
	// value, not a raw changed-pixel fraction.
	score := (float64(changed) / float64(d.regionPixelCount)) * 255

	if score < float64(d.cfg.Threshold) || (d.cfg.MaxThreshold > 0 && score > float64(d.cfg.MaxThreshold)) {
		return Result{Motion: false, Score: score}, nil
	}

	box, found := d.enclosingBox(working)
	if !found {
		return Result{Motion: false, Score: score}, nil
	}
	if d.exceedsSizeLimits(box) {
		return Result{Motion: false, Score: score}, nil
	}
	return Result{Motion: true, Box: &box, Score: score}, nil
}

// enclosingBox computes the single smallest axis-aligned rectangle covering
// every non-zero pixel of the foreground mask, mapped back to source
// coordinates. Contours are only an intermediate to find the extrema; the
// externally visible unit is always the one envelope over all of them.
func (d *Detector) enclosingBox(fg gocv.Mat) (Box, bool) {
	contours := gocv.FindContours(fg, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var minX, minY, maxX, maxY int
	found := false
	for i := 0; i < contours.Size(); i++ {
		rect := gocv.BoundingRect(contours.At(i))
		if rect.Dx() <= 0 || rect.Dy() <= 0 {
			continue
		}
		if !found {
			minX, minY, maxX, maxY = rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y
			found = true
			continue
		}
		if rect.Min.X < minX {
			minX = rect.Min.X
		}
		if rect.Min.Y < minY {
			minY = rect.Min.Y
		}
		if rect.Max.X > maxX {
			maxX = rect.Max.X
		}
		if rect.Max.Y > maxY {
			maxY = rect.Max.Y
		}
	}
	if !found {
		return Box{}, false
	}
	return Box{
		X: minX * d.downFactor,
		Y: minY * d.downFactor,
		W: (maxX - minX) * d.downFactor,
		H: (maxY - minY) * d.downFactor,
	}, true
}

// exceedsSizeLimits gates the whole frame on the enclosing box's fractions
// of the frame area/width/height (1.0 disables a given filter).
func (d *Detector) exceedsSizeLimits(b Box) bool {
	maxArea := d.cfg.MaxArea
	if maxArea <= 0 {
		maxArea = 1.0
	}
	maxW := d.cfg.MaxWidth
	if maxW <= 0 {
		maxW = 1.0
	}
	maxH := d.cfg.MaxHeight
	if maxH <= 0 {
		maxH = 1.0
	}
	if float32(b.Area())/float32(d.width*d.height) > maxArea {
		return true
	}
	if float32(b.W)/float32(d.width) > maxW {
		return true
	}
	return float32(b.H)/float32(d.height) > maxH
}
