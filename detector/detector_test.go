// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package detector

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/region"
)

const (
	testFrameW = 64
	testFrameH = 48
)

// Two disjoint 8x8 blobs whose individual size fractions are tiny but whose
// shared envelope spans most of the frame: x 4..55 (52/64 wide), y 4..39
// (36/48 tall).
var (
	testBlobA = image.Rect(4, 4, 12, 12)
	testBlobB = image.Rect(48, 32, 56, 40)
)

func newTestDetector(t *testing.T, cfg Config) *Detector {
	t.Helper()
	mask, err := region.Build(nil, testFrameW, testFrameH)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mask.Close() })
	d, err := New(cfg, testFrameW, testFrameH, mask)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func blackFrame() gocv.Mat {
	m := gocv.NewMatWithSize(testFrameH, testFrameW, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(0, 0, 0, 0))
	return m
}

func twoBlobFrame() gocv.Mat {
	m := blackFrame()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.Rectangle(&m, testBlobA, white, -1)
	gocv.Rectangle(&m, testBlobB, white, -1)
	return m
}

// settleBackground feeds enough identical black frames through Process for
// the CNT subtractor's per-pixel stability counters to mark the whole frame
// as background.
func settleBackground(t *testing.T, d *Detector) {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := blackFrame()
		if _, err := d.Process(f); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
}

func processTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Kind = CNT
	cfg.DownscaleFactor = 1
	return cfg
}

func TestProcessUnionsDisjointBlobsIntoOneBox(t *testing.T) {
	d := newTestDetector(t, processTestConfig())
	settleBackground(t, d)

	f := twoBlobFrame()
	defer f.Close()
	res, err := d.Process(f)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Motion {
		t.Fatalf("Motion = false, want true (score %.2f)", res.Score)
	}
	if res.Box == nil {
		t.Fatal("Box = nil, want the enclosing envelope of both blobs")
	}
	want := Box{X: 4, Y: 4, W: 52, H: 36}
	if *res.Box != want {
		t.Fatalf("Box = %+v, want %+v", *res.Box, want)
	}
	if res.Score <= 0 {
		t.Fatalf("Score = %.2f, want > 0", res.Score)
	}
}

// The size filters gate the whole frame on the single enclosing box: two
// blobs each far under a limit must still report no motion when their shared
// envelope exceeds it.
func TestProcessGatesFrameOnEnvelopeSize(t *testing.T) {
	cases := []struct {
		name   string
		adjust func(*Config)
	}{
		{"max-area", func(c *Config) { c.MaxArea = 0.5 }},     // envelope 1872/3072 ≈ 0.61, each blob ≈ 0.02
		{"max-width", func(c *Config) { c.MaxWidth = 0.5 }},   // envelope 52/64 ≈ 0.81, each blob 0.125
		{"max-height", func(c *Config) { c.MaxHeight = 0.5 }}, // envelope 36/48 = 0.75, each blob ≈ 0.17
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := processTestConfig()
			tc.adjust(&cfg)
			d := newTestDetector(t, cfg)
			settleBackground(t, d)

			f := twoBlobFrame()
			defer f.Close()
			res, err := d.Process(f)
			if err != nil {
				t.Fatal(err)
			}
			if res.Motion {
				t.Fatalf("Motion = true, want false: envelope exceeds %s", tc.name)
			}
			if res.Box != nil {
				t.Fatalf("Box = %+v, want nil on a gated frame", *res.Box)
			}
			if res.Score <= 0 {
				t.Fatalf("Score = %.2f, want > 0 (score is reported even when gated)", res.Score)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"MOG2":     MOG2,
		"mog2":     MOG2,
		"":         MOG2,
		"CNT":      CNT,
		"MOG2_GPU": MOG2GPU,
	}
	for s, want := range cases {
		got, err := ParseKind(s)
		if err != nil {
			t.Fatalf("ParseKind(%q) error: %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseKind(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseKind("bogus"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestAutoDownscaleTable(t *testing.T) {
	cases := []struct {
		w, h, want int
	}{
		{640, 480, 1},
		{1280, 720, 2},
		{1920, 1080, 3},
		{3840, 2160, 4},
	}
	for _, c := range cases {
		if got := autoDownscale(c.w, c.h); got != c.want {
			t.Errorf("autoDownscale(%d,%d) = %d, want %d", c.w, c.h, got, c.want)
		}
	}
}

func TestAutoKernelSizeStaysOdd(t *testing.T) {
	for down := 1; down <= 4; down++ {
		k := autoKernelSize(1920, 1080, down)
		if k < 3 || k%2 == 0 {
			t.Errorf("autoKernelSize(.., down=%d) = %d, want odd >= 3", down, k)
		}
	}
}

func TestNewRejectsMOG2GPU(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = MOG2GPU
	_, err := New(cfg, 640, 480, nil)
	if err == nil {
		t.Fatalf("expected error for MOG2_GPU")
	}
}

func TestNewRejectsNegativeThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = -1
	_, err := New(cfg, 640, 480, nil)
	if err == nil {
		t.Fatalf("expected error for negative threshold")
	}
}

func TestBoxArea(t *testing.T) {
	b := Box{X: 0, Y: 0, W: 10, H: 5}
	if b.Area() != 50 {
		t.Fatalf("Area() = %d, want 50", b.Area())
	}
}
