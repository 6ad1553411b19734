// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package overlay

import (
	"math"
	"testing"

	"github.com/dsmescan/dsmescan/detector"
)

func TestSmoothBoxConvergesTowardRaw(t *testing.T) {
	prev := detector.Box{X: 0, Y: 0, W: 100, H: 100}
	raw := detector.Box{X: 100, Y: 100, W: 100, H: 100}
	// alpha close to 1: should land very near raw.
	b := smoothBox(raw, prev, 0.99)
	if b.X < 95 || b.Y < 95 {
		t.Fatalf("expected box near raw with high alpha, got %+v", b)
	}
	// alpha close to 0: should stay very near prev.
	b2 := smoothBox(raw, prev, 0.01)
	if b2.X > 5 || b2.Y > 5 {
		t.Fatalf("expected box near prev with low alpha, got %+v", b2)
	}
}

func TestDecayBoxShrinksTowardVanishing(t *testing.T) {
	b := detector.Box{X: 10, Y: 10, W: 40, H: 40}
	for i := 0; i < 200; i++ {
		b = decayBox(b, 0.3)
		if b.W < 0 || b.H < 0 {
			t.Fatalf("box dimensions went negative: %+v", b)
		}
	}
	if b.W != 0 && b.H != 0 {
		t.Fatalf("expected box to vanish after many decay steps, got %+v", b)
	}
}

// Box smoothing with frame skipping uses a larger per-step alpha over
// fewer steps; the result is close to, but not identical with, smoothing
// every frame. Accept any smoothed box whose area stays within 2x of the
// every-frame reference at the same points in time.
func TestSmoothingWithFrameSkipStaysNearReference(t *testing.T) {
	const (
		fps        = 30.0
		smoothTime = 0.3
		skip       = 1
	)
	raw := detector.Box{X: 200, Y: 150, W: 120, H: 90}
	start := detector.Box{X: 0, Y: 0, W: 20, H: 20}

	alphaEvery := 1 - math.Exp(-(1.0/fps)/smoothTime)
	alphaSkip := 1 - math.Exp(-(float64(skip+1)/fps)/smoothTime)

	ref, skipped := start, start
	for step := 1; step <= 60; step++ {
		ref = smoothBox(raw, ref, alphaEvery)
		if step%(skip+1) != 0 {
			continue
		}
		skipped = smoothBox(raw, skipped, alphaSkip)
		refArea := float64(ref.Area())
		skipArea := float64(skipped.Area())
		if skipArea > 2*refArea || refArea > 2*skipArea {
			t.Fatalf("step %d: skipped-smoothing area %v vs reference %v exceeds 2x tolerance", step, skipArea, refArea)
		}
	}
}

func TestDefaultConfigEnablesAllToggles(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.ShowTimecode || !cfg.ShowFrameMetrics || !cfg.ShowBoundingBox {
		t.Fatalf("expected all overlay toggles enabled by default, got %+v", cfg)
	}
}
