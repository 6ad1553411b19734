// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tracker turns a per-frame has-motion stream into (start, end)
// motion events. It's a plain state machine driven synchronously by the
// detect worker, counting processed frames rather than wall-clock time.
package tracker

// Event is a closed motion event in the virtual stream's frame-index space.
// Start is inclusive, End is exclusive.
type Event struct {
	Start     uint64
	End       uint64
	PeakScore float64
	PeakFrame uint64
}

// Config holds the event-extraction parameters, already converted to
// integer frame counts by the caller (the scan controller knows the
// stream's fps and frame_skip when building this).
type Config struct {
	// L: minimum consecutive-motion streak before a candidate becomes a
	// committed event.
	MinEventLength uint64
	// B: frames to reach back before the first motion frame when opening a
	// candidate. Always counted in original (decoded) frames, never scaled
	// for frame skipping.
	TimeBeforeEvent uint64
	// P: consecutive no-motion frames that close an open event.
	TimePostEvent uint64
}

// ScaledForFrameSkip returns a copy of cfg with L and P scaled by
// ceil(param/(skip+1)); B is left untouched.
func (cfg Config) ScaledForFrameSkip(skip uint32) Config {
	if skip == 0 {
		return cfg
	}
	div := uint64(skip) + 1
	return Config{
		MinEventLength:  ceilDiv(cfg.MinEventLength, div),
		TimeBeforeEvent: cfg.TimeBeforeEvent,
		TimePostEvent:   ceilDiv(cfg.TimePostEvent, div),
	}
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}

type state int

const (
	idle state = iota
	candidate
	inEvent
)

// Tracker is the stateful event-extraction machine. Not safe for concurrent
// use; the detect worker drives it with one Update call per frame, in
// strictly increasing frame-index order.
type Tracker struct {
	cfg Config
	st  state

	start     uint64
	streak    uint64
	peakScore float64
	peakFrame uint64

	framesSinceMotion uint64

	lastEnd     uint64
	haveLastEnd bool

	lastIndex uint64
}

// New constructs a Tracker. cfg should already be scaled for frame_skip via
// Config.ScaledForFrameSkip.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, st: idle}
}

// InEvent reports whether the tracker currently has a committed, open
// event (state IN_EVENT). A candidate that hasn't yet reached L does not
// count.
func (t *Tracker) InEvent() bool { return t.st == inEvent }

// CurrentEventStart returns the open event's start index (already reached
// back by B and clipped to the predecessor's end). Only meaningful while
// InEvent reports true; the encode stage uses it to flush buffered
// pre-roll frames once an event commits.
func (t *Tracker) CurrentEventStart() uint64 { return t.start }

// Update feeds one (frame_index, has_motion, score) triple. It returns a
// closed Event when one completes at this step.
func (t *Tracker) Update(frameIndex uint64, hasMotion bool, score float64) (Event, bool) {
	t.lastIndex = frameIndex

	switch t.st {
	case idle:
		if !hasMotion {
			return Event{}, false
		}
		t.openCandidate(frameIndex, score)
		return t.checkCommit()

	case candidate:
		if !hasMotion {
			t.st = idle
			return Event{}, false
		}
		t.streak++
		if score > t.peakScore {
			t.peakScore = score
			t.peakFrame = frameIndex
		}
		return t.checkCommit()

	case inEvent:
		if hasMotion {
			t.framesSinceMotion = 0
			if score > t.peakScore {
				t.peakScore = score
				t.peakFrame = frameIndex
			}
			return Event{}, false
		}
		t.framesSinceMotion++
		if t.framesSinceMotion >= t.cfg.TimePostEvent {
			end := frameIndex + 1
			ev := Event{Start: t.start, End: end, PeakScore: t.peakScore, PeakFrame: t.peakFrame}
			t.closeAt(end)
			return ev, true
		}
		return Event{}, false
	}
	return Event{}, false
}

func (t *Tracker) openCandidate(frameIndex uint64, score float64) {
	start := int64(frameIndex) - int64(t.cfg.TimeBeforeEvent)
	if start < 0 {
		start = 0
	}
	if t.haveLastEnd && uint64(start) < t.lastEnd {
		start = int64(t.lastEnd)
	}
	t.start = uint64(start)
	t.streak = 1
	t.peakScore = score
	t.peakFrame = frameIndex
	t.st = candidate
}

// checkCommit transitions candidate -> inEvent once the streak reaches L.
// A MinEventLength of 0 or 1 commits on the first motion frame.
func (t *Tracker) checkCommit() (Event, bool) {
	if t.streak >= maxu64(t.cfg.MinEventLength, 1) {
		t.st = inEvent
		t.framesSinceMotion = 0
	}
	return Event{}, false
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (t *Tracker) closeAt(end uint64) {
	t.lastEnd = end
	t.haveLastEnd = true
	t.st = idle
}

// Flush closes any still-open event at end of stream, clamped to
// streamLength. An uncommitted candidate that never reached L is dropped.
func (t *Tracker) Flush(streamLength uint64) (Event, bool) {
	if t.st != inEvent {
		t.st = idle
		return Event{}, false
	}
	end := t.lastIndex + t.cfg.TimePostEvent
	if end > streamLength {
		end = streamLength
	}
	ev := Event{Start: t.start, End: end, PeakScore: t.peakScore, PeakFrame: t.peakFrame}
	t.closeAt(end)
	return ev, true
}
