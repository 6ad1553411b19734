// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package detector

import "gocv.io/x/gocv"

// cntSubtractor is a counting-based background subtractor: each pixel tracks
// a running "stable count" of consecutive frames it matched its background
// estimate within a fixed tolerance. A pixel is foreground when its count
// hasn't reached minStability yet. gocv has no native CNT implementation
// (unlike MOG2, which wraps OpenCV's own), so this mirrors the published CNT
// algorithm's shape without depending on an external binding for it.
type cntSubtractor struct {
	minStability  int
	detectShadows bool

	background    []uint8 // grayscale running background estimate, row-major
	stability     []int32
	width, height int
}

func newCNTSubtractor(minStability int, detectShadows bool) *cntSubtractor {
	return &cntSubtractor{minStability: minStability, detectShadows: detectShadows}
}

const cntTolerance = 20

// apply updates the background model from src (BGR) and writes a binary
// foreground mask (0/255, single channel) into dst.
func (c *cntSubtractor) apply(src gocv.Mat, dst *gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	w, h := gray.Cols(), gray.Rows()
	if c.background == nil || c.width != w || c.height != h {
		c.width, c.height = w, h
		n := w * h
		c.background = make([]uint8, n)
		c.stability = make([]int32, n)
		for i := 0; i < n; i++ {
			c.background[i] = 255 // force first frame to be treated as foreground-until-stable
		}
	}

	out := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8U)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			v := gray.GetUCharAt(y, x)
			bg := c.background[idx]
			diff := int(v) - int(bg)
			if diff < 0 {
				diff = -diff
			}
			if diff <= cntTolerance {
				if c.stability[idx] < int32(c.minStability) {
					c.stability[idx]++
				}
				// Slowly drift the background toward the observed pixel so
				// lighting changes don't pin the model forever.
				c.background[idx] = uint8((int(bg)*15 + int(v)) / 16)
			} else {
				c.stability[idx] = 0
				c.background[idx] = v
			}
			if c.stability[idx] < int32(c.minStability) {
				out.SetUCharAt(y, x, 255)
			} else {
				out.SetUCharAt(y, x, 0)
			}
		}
	}
	out.CopyTo(dst)
	out.Close()
}
