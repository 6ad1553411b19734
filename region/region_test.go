// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package region

import (
	"image"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func square() Polygon {
	return Polygon{
		image.Pt(10, 10),
		image.Pt(30, 10),
		image.Pt(30, 30),
		image.Pt(10, 30),
	}
}

func TestBuildEmptyRegionIsAllIn(t *testing.T) {
	m, err := Build(nil, 100, 80)
	if err != nil {
		t.Fatal(err)
	}
	if !m.AllIn {
		t.Fatalf("expected AllIn for empty region")
	}
	if CountInRegion(m) != 100*80 {
		t.Fatalf("CountInRegion = %d, want %d", CountInRegion(m), 100*80)
	}
}

func TestBuildRejectsShortPolygon(t *testing.T) {
	_, err := Build(Region{{image.Pt(0, 0), image.Pt(1, 1)}}, 50, 50)
	if err == nil {
		t.Fatalf("expected error for 2-point polygon")
	}
}

func TestBuildRotationInvariant(t *testing.T) {
	poly := square()
	m1, err := Build(Region{poly}, 50, 50)
	if err != nil {
		t.Fatal(err)
	}
	defer m1.Close()
	rotated := Rotate(poly, 2)
	m2, err := Build(Region{rotated}, 50, 50)
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()
	if CountInRegion(m1) != CountInRegion(m2) {
		t.Fatalf("rotated polygon mask differs: %d vs %d", CountInRegion(m1), CountInRegion(m2))
	}
}

func TestParseSaveRoundTrip(t *testing.T) {
	input := "# a comment\n10 10 30 10 30 30 10 30\n\n5 5 6 6 7 7\n"
	reg, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(reg) != 2 {
		t.Fatalf("len(reg) = %d, want 2", len(reg))
	}
	if len(reg[0]) != 4 {
		t.Fatalf("len(reg[0]) = %d, want 4", len(reg[0]))
	}
	path := filepath.Join(t.TempDir(), "region.txt")
	if err := Save(path, reg); err != nil {
		t.Fatal(err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, reg) {
		t.Fatalf("round trip = %v, want %v", back, reg)
	}
}

func TestParseRejectsOddFieldCount(t *testing.T) {
	_, err := Parse(strings.NewReader("1 2 3\n"))
	if err == nil {
		t.Fatalf("expected error for odd field count")
	}
}

func TestParseRejectsTooFewPoints(t *testing.T) {
	_, err := Parse(strings.NewReader("1 2 3 4\n"))
	if err == nil {
		t.Fatalf("expected error for 2-point polygon")
	}
}

func TestClipToBounds(t *testing.T) {
	poly := Polygon{image.Pt(-5, -5), image.Pt(200, 200)}
	clipped := clipToBounds(poly, 100, 100)
	if clipped[0].X != 0 || clipped[0].Y != 0 {
		t.Fatalf("clip lower bound: got %v", clipped[0])
	}
	if clipped[1].X != 99 || clipped[1].Y != 99 {
		t.Fatalf("clip upper bound: got %v", clipped[1])
	}
}

func TestDownscaleAllIn(t *testing.T) {
	m, err := Build(nil, 100, 80)
	if err != nil {
		t.Fatal(err)
	}
	d, err := Downscale(m, 2)
	if err != nil {
		t.Fatal(err)
	}
	if d.Width != 50 || d.Height != 40 {
		t.Fatalf("Downscale dims = %dx%d, want 50x40", d.Width, d.Height)
	}
}
