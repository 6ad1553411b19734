// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package region rasterizes one or more polygons into a binary mask used
// both as a detection mask and as an overlay, mirroring the point-in-polygon
// rasterization used by SentryShot's motion addon but built on gocv so the
// same Mat type flows through the rest of the detection pipeline.
package region

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

// Polygon is an ordered list of points in source coordinates. A valid
// polygon has at least 3 points.
type Polygon []image.Point

// Region is an ordered list of polygons; the mask they derive is the union
// (OR) of each polygon's interior. An empty Region means "all in region".
type Region []Polygon

// Mask wraps the rasterized binary image (0 or 255 per pixel, single
// channel) at a given width/height.
type Mask struct {
	Mat    gocv.Mat
	Width  int
	Height int
	// AllIn is true when the region list was empty: every pixel is in
	// region and Mat may be an empty placeholder.
	AllIn bool
}

// Close releases the backing Mat.
func (m *Mask) Close() error {
	if m.Mat.Empty() {
		return nil
	}
	return m.Mat.Close()
}

// Build rasterizes region into a width x height single-channel mask. Each
// polygon is clipped to the frame bounds, filled individually, and OR-ed
// together (even-odd fill per polygon; overlap irrelevant since it's a
// union).
func Build(reg Region, width, height int) (*Mask, error) {
	if len(reg) == 0 {
		return &Mask{Width: width, Height: height, AllIn: true}, nil
	}
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8U)
	mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
	for _, poly := range reg {
		if len(poly) < 3 {
			mat.Close()
			return nil, fmt.Errorf("region: polygon has %d points, need >= 3", len(poly))
		}
		clipped := clipToBounds(poly, width, height)
		if len(clipped) < 3 {
			continue
		}
		single := gocv.NewPointsVectorFromPoints([][]image.Point{clipped})
		gocv.FillPoly(&mat, single, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		single.Close()
	}
	return &Mask{Mat: mat, Width: width, Height: height}, nil
}

// clipToBounds clips polygon vertices into [0,width) x [0,height), dropping
// nothing but saturating out-of-bounds coordinates (gocv.FillPoly requires
// in-bounds-ish points to rasterize sanely; this keeps the polygon's shape
// for the part that overlaps the frame).
func clipToBounds(poly Polygon, width, height int) []image.Point {
	out := make([]image.Point, len(poly))
	for i, p := range poly {
		x, y := p.X, p.Y
		if x < 0 {
			x = 0
		}
		if x > width-1 {
			x = width - 1
		}
		if y < 0 {
			y = 0
		}
		if y > height-1 {
			y = height - 1
		}
		out[i] = image.Pt(x, y)
	}
	return out
}

// Downscale samples the mask at stride factor to match the detector's
// working resolution. factor=1 returns a copy.
func Downscale(m *Mask, factor int) (*Mask, error) {
	if factor <= 0 {
		factor = 1
	}
	if m.AllIn {
		return &Mask{Width: m.Width / factor, Height: m.Height / factor, AllIn: true}, nil
	}
	w, h := m.Width/factor, m.Height/factor
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	out := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8U)
	src := m.Mat
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := src.GetUCharAt(y*factor, x*factor)
			out.SetUCharAt(y, x, v)
		}
	}
	return &Mask{Mat: out, Width: w, Height: h}, nil
}

// Apply zeroes out-of-region pixels of img in place semantics: returns a new
// Mat with the mask applied. img and the mask must share dimensions.
func Apply(m *Mask, img gocv.Mat) (gocv.Mat, error) {
	if m.AllIn {
		return img.Clone(), nil
	}
	if img.Rows() != m.Height || img.Cols() != m.Width {
		return gocv.NewMat(), fmt.Errorf("region: mask %dx%d does not match image %dx%d", m.Width, m.Height, img.Cols(), img.Rows())
	}
	out := gocv.NewMat()
	img.CopyToWithMask(&out, m.Mat)
	return out, nil
}

// CountInRegion returns the number of in-region pixels (255 in the mask), or
// width*height if AllIn.
func CountInRegion(m *Mask) int {
	if m.AllIn {
		return m.Width * m.Height
	}
	return gocv.CountNonZero(m.Mat)
}

// Load parses the plain-text region file format: one polygon per line,
// whitespace-separated integers "x1 y1 x2 y2 ... xn yn", n >= 3. Lines
// starting with '#' are comments; blank lines are ignored.
func Load(path string) (Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the region file format from r.
func Parse(r io.Reader) (Region, error) {
	var reg Region
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 || len(fields)%2 != 0 {
			return nil, fmt.Errorf("region: line %d: expected >= 3 coordinate pairs, got %d values", lineNo, len(fields))
		}
		poly := make(Polygon, 0, len(fields)/2)
		for i := 0; i < len(fields); i += 2 {
			x, err := strconv.Atoi(fields[i])
			if err != nil {
				return nil, fmt.Errorf("region: line %d: invalid x coordinate %q: %w", lineNo, fields[i], err)
			}
			y, err := strconv.Atoi(fields[i+1])
			if err != nil {
				return nil, fmt.Errorf("region: line %d: invalid y coordinate %q: %w", lineNo, fields[i+1], err)
			}
			poly = append(poly, image.Pt(x, y))
		}
		reg = append(reg, poly)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Save writes region back out in the same line format.
func Save(path string, reg Region) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, poly := range reg {
		parts := make([]string, 0, len(poly)*2)
		for _, p := range poly {
			parts = append(parts, strconv.Itoa(p.X), strconv.Itoa(p.Y))
		}
		if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Rotate returns a cyclic rotation of a polygon's vertex list by n
// positions; used to verify the build-mask rotation invariant in tests.
func Rotate(poly Polygon, n int) Polygon {
	l := len(poly)
	if l == 0 {
		return poly
	}
	n = ((n % l) + l) % l
	out := make(Polygon, l)
	for i := range poly {
		out[i] = poly[(i+n)%l]
	}
	return out
}
