// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package detector

import "fmt"

// Kind selects the background-subtraction algorithm.
type Kind int

const (
	// MOG2 is a Gaussian-mixture-model subtractor (gocv's native MOG2).
	MOG2 Kind = iota
	// CNT is a counting-based subtractor (hand-rolled, gocv has no native
	// CNT implementation; see cnt.go).
	CNT
	// MOG2GPU is the CUDA-accelerated MOG2 variant. Not available in a
	// portable build; rejected at New() with ConfigInvalid.
	MOG2GPU
)

func (k Kind) String() string {
	switch k {
	case MOG2:
		return "MOG2"
	case CNT:
		return "CNT"
	case MOG2GPU:
		return "MOG2_GPU"
	default:
		return "unknown"
	}
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "MOG2", "mog2", "":
		return MOG2, nil
	case "CNT", "cnt":
		return CNT, nil
	case "MOG2_GPU", "mog2_gpu":
		return MOG2GPU, nil
	default:
		return 0, fmt.Errorf("detector: unknown subtractor kind %q", s)
	}
}

// autoValue is a sentinel for "kernel_size"/"downscale_factor" left to
// auto-selection based on resolution.
const autoValue = 0

// Config holds the per-frame detection parameters.
type Config struct {
	Kind Kind

	Threshold         float32
	MaxThreshold      float32
	VarianceThreshold float32
	LearningRate      float32

	// KernelSize is the morphological-open kernel side (odd, >=3), or 0 for
	// auto-selection based on resolution.
	KernelSize int
	// DisableMorphology turns the morphological step off entirely. It is
	// distinct from KernelSize=0, which means auto-selection.
	DisableMorphology bool

	// DownscaleFactor is the integer downscale factor k, or 0 for
	// auto-selection.
	DownscaleFactor int

	FrameSkip uint32

	MaxArea   float32
	MaxWidth  float32
	MaxHeight float32
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Kind:              MOG2,
		Threshold:         0.15,
		MaxThreshold:      255,
		VarianceThreshold: 16,
		LearningRate:      -1,
		MaxArea:           1.0,
		MaxWidth:          1.0,
		MaxHeight:         1.0,
	}
}

// autoDownscale picks the downscale factor from the source resolution,
// classified by its short edge (480p, 720p, 1080p, larger).
func autoDownscale(width, height int) int {
	shortEdge := width
	if height < shortEdge {
		shortEdge = height
	}
	switch {
	case shortEdge <= 480:
		return 1
	case shortEdge <= 720:
		return 2
	case shortEdge <= 1080:
		return 3
	default:
		return 4
	}
}

// autoKernelSize picks the morphological kernel side from the source
// resolution, scaled down when downscaling so the absolute kernel scale
// (in source pixels) stays constant, clamped to the nearest odd >= 3.
func autoKernelSize(width, height, downscale int) int {
	longEdge := width
	if height > longEdge {
		longEdge = height
	}
	var base int
	switch {
	case longEdge <= 480:
		base = 3
	case longEdge <= 720:
		base = 5
	default:
		base = 7
	}
	if downscale <= 1 {
		return base
	}
	scaled := base / downscale
	if scaled < 3 {
		scaled = 3
	}
	if scaled%2 == 0 {
		scaled++
	}
	return scaled
}
