// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"image/color"
	"strings"
	"testing"
)

func TestParseOverridesDefaults(t *testing.T) {
	input := "# comment\nthreshold = 0.3\nframe-skip = 2\noutput-mode = opencv\n\nbounding-box-color = (255,0,0)\n"
	cfg, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Threshold != 0.3 {
		t.Errorf("Threshold = %v, want 0.3", cfg.Threshold)
	}
	if cfg.FrameSkip != 2 {
		t.Errorf("FrameSkip = %v, want 2", cfg.FrameSkip)
	}
	if cfg.OutputMode != "opencv" {
		t.Errorf("OutputMode = %q, want opencv", cfg.OutputMode)
	}
	if cfg.BoundingBoxColor != (color.RGBA{R: 255, A: 255}) {
		t.Errorf("BoundingBoxColor = %+v, want {255 0 0 255}", cfg.BoundingBoxColor)
	}
	// Untouched keys keep their defaults.
	if cfg.MaxThreshold != 255 {
		t.Errorf("MaxThreshold = %v, want default 255", cfg.MaxThreshold)
	}
}

func TestParseRejectsUnrecognizedKey(t *testing.T) {
	_, err := Parse(strings.NewReader("bogus-key = 1\n"))
	if err == nil {
		t.Fatal("expected error for unrecognized key")
	}
}

func TestParseRejectsMissingEquals(t *testing.T) {
	_, err := Parse(strings.NewReader("threshold 0.3\n"))
	if err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestParseColorHex(t *testing.T) {
	c, err := ParseColor("0xFF0080")
	if err != nil {
		t.Fatal(err)
	}
	if c != (color.RGBA{R: 0xFF, G: 0x00, B: 0x80, A: 255}) {
		t.Errorf("got %+v", c)
	}
}

func TestParseColorTriple(t *testing.T) {
	c, err := ParseColor("(10, 20, 30)")
	if err != nil {
		t.Fatal(err)
	}
	if c != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("got %+v", c)
	}
}

func TestParseColorRejectsGarbage(t *testing.T) {
	if _, err := ParseColor("purple"); err == nil {
		t.Fatal("expected error for unrecognized color format")
	}
}
