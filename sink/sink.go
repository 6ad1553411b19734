// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sink writes the frames and event clips a scan produces. Each
// output variant is its own small concrete type behind a common Sink
// interface rather than one configurable God-object.
package sink

import (
	"fmt"
	"os"

	"gocv.io/x/gocv"

	"github.com/dsmescan/dsmescan/tracker"
)

// Sink receives frames and event boundaries from the pipeline's encode
// worker, in increasing frame-index order.
type Sink interface {
	// OnFrame is called for every frame the encode worker receives, whether
	// or not it falls inside an open event; implementations decide whether
	// to act on it.
	OnFrame(index uint64, pixels gocv.Mat, inEvent bool) error
	// OnEventStart is called once an event is committed (tracker.Update
	// returns the transition into IN_EVENT), before any of its frames have
	// necessarily been seen by OnFrame again (pre-roll frames may already
	// have passed through OnFrame as non-event frames).
	OnEventStart(ev tracker.Event) error
	// OnEventEnd is called once an event closes.
	OnEventEnd(ev tracker.Event) error
	// Close flushes and releases any open writers.
	Close() error
}

// Discard implements scan_only: frames and events are observed but nothing
// is written.
type Discard struct{}

func (Discard) OnFrame(uint64, gocv.Mat, bool) error { return nil }
func (Discard) OnEventStart(tracker.Event) error     { return nil }
func (Discard) OnEventEnd(tracker.Event) error       { return nil }
func (Discard) Close() error                         { return nil }

// ensure the discard-style zero-cost sink satisfies Sink without reflection
// at call sites.
var _ Sink = Discard{}

// stemFromPath returns the filename without directory or extension, used to
// build per-event output names.
func stemFromPath(path string) string {
	base := path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' || base[i] == '\\' {
			base = base[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}

// eventFileName builds "<stem>.DSME_NNNN.<ext>" with NNNN zero-padded
// starting at 0001.
func eventFileName(stem string, seq int, ext string) string {
	return fmt.Sprintf("%s.DSME_%04d.%s", stem, seq, ext)
}

// removeIfExists deletes path, ignoring a not-exist error; used by
// native_single to delete its output when no events occurred.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
