// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scan

import (
	"context"
	"testing"

	"github.com/dsmescan/dsmescan/scanerr"
	"github.com/dsmescan/dsmescan/timecode"
	"github.com/dsmescan/dsmescan/tracker"
)

func TestRunRejectsNoInputs(t *testing.T) {
	_, err := Run(context.Background(), Config{})
	if !scanerr.Is(err, scanerr.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid, got %v", err)
	}
}

func TestFormatTimecodeCSV(t *testing.T) {
	fps := timecode.Rational{Num: 30, Den: 1}
	events := []tracker.Event{
		{Start: 0, End: 30},
		{Start: 60, End: 90},
	}
	got := FormatTimecodeCSV(events, fps)
	want := "00:00:00.000-00:00:01.000,00:00:02.000-00:00:03.000"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatTimecodeCSVEmpty(t *testing.T) {
	if got := FormatTimecodeCSV(nil, timecode.Rational{Num: 30, Den: 1}); got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}

func TestResolveRange(t *testing.T) {
	fps := timecode.Rational{Num: 30, Den: 1}

	cfg := Config{StartTime: "1s", EndTime: "3s"}
	start, end, err := cfg.resolveRange(fps)
	if err != nil {
		t.Fatal(err)
	}
	if start != 30 || end != 90 {
		t.Fatalf("got [%d,%d), want [30,90)", start, end)
	}

	// Duration wins over EndTime and is measured from the start.
	cfg = Config{StartTime: "2s", EndTime: "10s", Duration: "1s"}
	start, end, err = cfg.resolveRange(fps)
	if err != nil {
		t.Fatal(err)
	}
	if start != 60 || end != 90 {
		t.Fatalf("got [%d,%d), want [60,90)", start, end)
	}

	cfg = Config{StartTime: "5s", EndTime: "2s"}
	if _, _, err := cfg.resolveRange(fps); !scanerr.Is(err, scanerr.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid for inverted range, got %v", err)
	}
}

func TestPreRollCapacityCoversReachBack(t *testing.T) {
	cfg := tracker.Config{MinEventLength: 3, TimeBeforeEvent: 15, TimePostEvent: 15}
	if got := preRollCapacity(cfg, 0); got < 15+3 {
		t.Fatalf("capacity %d cannot hold B=15 plus an L-1 candidate streak", got)
	}
	// With frame_skip, B is counted in decoded frames but only every
	// (skip+1)-th reaches the encode stage.
	if got := preRollCapacity(cfg, 2); got < 5+3 {
		t.Fatalf("capacity %d too small for skip=2", got)
	}
}
