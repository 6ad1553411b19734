// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timecode converts between frame index, seconds, and
// HH:MM:SS[.sss] strings given a fixed framerate. Arithmetic is integer on
// frame indices; two Timecodes compare by index and require matching
// framerates.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Rational is a framerate expressed as a fraction to avoid float drift
// (e.g. NTSC's 30000/1001).
type Rational struct {
	Num, Den uint32
}

// FPS returns the framerate as a float64.
func (r Rational) FPS() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rationalize converts a float framerate (as reported by a decoder) into a
// Rational with millihertz precision, enough to distinguish common rates.
func Rationalize(fps float64) Rational {
	if fps <= 0 {
		return Rational{}
	}
	const den = 1000
	return Rational{Num: uint32(math.Round(fps * den)), Den: den}
}

// Timecode is a non-negative frame index paired with a framerate.
type Timecode struct {
	frame uint64
	fps   Rational
}

// New builds a Timecode from a frame index and framerate.
func New(frame uint64, fps Rational) Timecode {
	return Timecode{frame: frame, fps: fps}
}

// Frame returns the frame index.
func (t Timecode) Frame() uint64 { return t.frame }

// FPS returns the framerate.
func (t Timecode) FPS() Rational { return t.fps }

// Seconds returns the derived seconds value: index / fps.
func (t Timecode) Seconds() float64 {
	fps := t.fps.FPS()
	if fps == 0 {
		return 0
	}
	return float64(t.frame) / fps
}

// String formats as HH:MM:SS.fff.
func (t Timecode) String() string {
	total := t.Seconds()
	whole := int64(total)
	frac := total - float64(whole)
	h := whole / 3600
	m := (whole % 3600) / 60
	s := whole % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, int64(math.Round(frac*1000)))
}

// MixedFramerateError is returned by Compare/Sub when two Timecodes don't
// share a framerate.
type MixedFramerateError struct {
	A, B Rational
}

func (e *MixedFramerateError) Error() string {
	return fmt.Sprintf("mixed framerate: %s vs %s", e.A, e.B)
}

func (t Timecode) sameRate(o Timecode) error {
	if t.fps != o.fps {
		return &MixedFramerateError{A: t.fps, B: o.fps}
	}
	return nil
}

// Compare returns -1, 0, or 1 comparing frame indices. Returns an error if
// framerates differ.
func (t Timecode) Compare(o Timecode) (int, error) {
	if err := t.sameRate(o); err != nil {
		return 0, err
	}
	switch {
	case t.frame < o.frame:
		return -1, nil
	case t.frame > o.frame:
		return 1, nil
	default:
		return 0, nil
	}
}

// Add returns a Timecode n frames later (n may be negative; clamps at 0).
func (t Timecode) Add(n int64) Timecode {
	f := int64(t.frame) + n
	if f < 0 {
		f = 0
	}
	return Timecode{frame: uint64(f), fps: t.fps}
}

// Sub returns the signed frame delta t - o. Framerates must match.
func (t Timecode) Sub(o Timecode) (int64, error) {
	if err := t.sameRate(o); err != nil {
		return 0, err
	}
	return int64(t.frame) - int64(o.frame), nil
}

// Parse interprets s as one of: HH:MM:SS[.fff], "<seconds>s", or a bare
// integer frame count, converting seconds to the nearest frame with
// round-half-away-from-zero.
func Parse(s string, fps Rational) (Timecode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timecode{}, fmt.Errorf("timecode: empty string")
	}
	if strings.HasSuffix(s, "s") {
		secStr := strings.TrimSuffix(s, "s")
		sec, err := strconv.ParseFloat(secStr, 64)
		if err != nil {
			return Timecode{}, fmt.Errorf("timecode: invalid seconds value %q: %w", s, err)
		}
		return fromSeconds(sec, fps), nil
	}
	if strings.Contains(s, ":") {
		sec, err := parseClock(s)
		if err != nil {
			return Timecode{}, err
		}
		return fromSeconds(sec, fps), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Timecode{}, fmt.Errorf("timecode: invalid frame count %q: %w", s, err)
	}
	return Timecode{frame: n, fps: fps}, nil
}

func parseClock(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("timecode: invalid HH:MM:SS[.fff] value %q", s)
	}
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timecode: invalid hours in %q: %w", s, err)
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timecode: invalid minutes in %q: %w", s, err)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("timecode: invalid seconds in %q: %w", s, err)
	}
	return float64(h*3600+m*60) + sec, nil
}

// roundHalfAwayFromZero rounds x to the nearest integer, ties rounding away
// from zero.
func roundHalfAwayFromZero(x float64) float64 {
	if x >= 0 {
		return math.Floor(x + 0.5)
	}
	return math.Ceil(x - 0.5)
}

func fromSeconds(sec float64, fps Rational) Timecode {
	frame := roundHalfAwayFromZero(sec * fps.FPS())
	if frame < 0 {
		frame = 0
	}
	return Timecode{frame: uint64(frame), fps: fps}
}
