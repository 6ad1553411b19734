// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tracker

import "testing"

// motionSet builds a lookup from inclusive frame ranges, e.g. motionSet(100, 149).
func motionSet(ranges ...[2]uint64) map[uint64]bool {
	m := map[uint64]bool{}
	for _, r := range ranges {
		for i := r[0]; i <= r[1]; i++ {
			m[i] = true
		}
	}
	return m
}

func run(tr *Tracker, n uint64, motion map[uint64]bool) []Event {
	var events []Event
	for i := uint64(0); i < n; i++ {
		has := motion[i]
		score := 0.0
		if has {
			score = 50.0
		}
		if ev, ok := tr.Update(i, has, score); ok {
			events = append(events, ev)
		}
	}
	if ev, ok := tr.Flush(n); ok {
		events = append(events, ev)
	}
	return events
}

// Scenario 1: one event [85,164], peak inside [100,149].
func TestScenario1SingleEvent(t *testing.T) {
	cfg := Config{MinEventLength: 2, TimeBeforeEvent: 15, TimePostEvent: 15}
	tr := New(cfg)
	events := run(tr, 300, motionSet([2]uint64{100, 149}))
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Start != 85 {
		t.Errorf("Start = %d, want 85", ev.Start)
	}
	if ev.End != 165 {
		t.Errorf("End = %d, want 165 (last frame 164 inclusive)", ev.End)
	}
	if ev.PeakFrame < 100 || ev.PeakFrame > 149 {
		t.Errorf("PeakFrame = %d, want in [100,149]", ev.PeakFrame)
	}
}

// Scenario 2: single-frame spike never reaches L=2, zero events.
func TestScenario2SingleSpikeAbandoned(t *testing.T) {
	cfg := Config{MinEventLength: 2, TimeBeforeEvent: 15, TimePostEvent: 15}
	tr := New(cfg)
	events := run(tr, 300, motionSet([2]uint64{100, 100}))
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}

// Scenario 3: two disjoint bursts separated by 14 no-motion frames > P=10
// produce two events.
func TestScenario3TwoDisjointEvents(t *testing.T) {
	cfg := Config{MinEventLength: 2, TimeBeforeEvent: 0, TimePostEvent: 10}
	tr := New(cfg)
	events := run(tr, 300, motionSet([2]uint64{100, 120}, [2]uint64{135, 160}))
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
}

// Scenario 4: two bursts separated by only 9 no-motion frames < P=15 merge
// into one event.
func TestScenario4MergedEvent(t *testing.T) {
	cfg := Config{MinEventLength: 2, TimeBeforeEvent: 15, TimePostEvent: 15}
	tr := New(cfg)
	events := run(tr, 300, motionSet([2]uint64{100, 120}, [2]uint64{130, 150}))
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Start != 85 || events[0].End != 166 {
		t.Errorf("got [%d,%d), want [85,166)", events[0].Start, events[0].End)
	}
}

// Scenario 5: frame_skip=1 scales P from 15 to ceil(15/2)=8; with motion on
// every processed frame from 100-150, the event still opens.
func TestScenario5FrameSkipScalesParams(t *testing.T) {
	cfg := Config{MinEventLength: 2, TimeBeforeEvent: 15, TimePostEvent: 15}
	scaled := cfg.ScaledForFrameSkip(1)
	if scaled.TimePostEvent != 8 {
		t.Fatalf("TimePostEvent scaled = %d, want 8", scaled.TimePostEvent)
	}
	if scaled.MinEventLength != 1 {
		t.Fatalf("MinEventLength scaled = %d, want 1", scaled.MinEventLength)
	}
	if scaled.TimeBeforeEvent != 15 {
		t.Fatalf("TimeBeforeEvent must stay unscaled, got %d", scaled.TimeBeforeEvent)
	}
	tr := New(scaled)
	events := run(tr, 300, motionSet([2]uint64{100, 150}))
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
}

func TestEventsOrderedNonOverlapping(t *testing.T) {
	cfg := Config{MinEventLength: 1, TimeBeforeEvent: 5, TimePostEvent: 5}
	tr := New(cfg)
	events := run(tr, 200, motionSet([2]uint64{10, 20}, [2]uint64{50, 60}, [2]uint64{100, 110}))
	for i := 1; i < len(events); i++ {
		if events[i].Start < events[i-1].End {
			t.Fatalf("event %d overlaps predecessor: %+v after %+v", i, events[i], events[i-1])
		}
	}
}

func TestZeroLengthInputIsZeroEvents(t *testing.T) {
	cfg := Config{MinEventLength: 2, TimeBeforeEvent: 15, TimePostEvent: 15}
	tr := New(cfg)
	events := run(tr, 0, nil)
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}

func TestAllMotionInputSingleEvent(t *testing.T) {
	cfg := Config{MinEventLength: 2, TimeBeforeEvent: 15, TimePostEvent: 15}
	tr := New(cfg)
	motion := map[uint64]bool{}
	for i := uint64(0); i < 100; i++ {
		motion[i] = true
	}
	events := run(tr, 100, motion)
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Start != 0 {
		t.Errorf("Start = %d, want 0", events[0].Start)
	}
	if events[0].End != 100 {
		t.Errorf("End = %d, want 100 (clamped to stream length)", events[0].End)
	}
}
