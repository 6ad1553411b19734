// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pipeline wires the decode, detect, and encode stages into a
// three-worker errgroup connected by bounded channels: one eg.Go per
// stage, context cancellation on first error.
package pipeline

import (
	"context"
	"errors"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/dsmescan/dsmescan/detector"
	"github.com/dsmescan/dsmescan/overlay"
	"github.com/dsmescan/dsmescan/sink"
	"github.com/dsmescan/dsmescan/timecode"
	"github.com/dsmescan/dsmescan/tracker"
	"github.com/dsmescan/dsmescan/videosource"
)

// queueCapacity is the bound on both inter-stage channels.
const queueCapacity = 4

// maskWriter and thumbObserver are the optional side-channel capabilities
// sink.MaskOutput/sink.ThumbnailOutput expose beyond sink.Sink. Matched
// structurally so either wrapper (or a stack of both, in either order)
// satisfies them regardless of which one cfg.Sink's concrete type is.
type maskWriter interface {
	WriteMask(mat gocv.Mat) error
}

type thumbObserver interface {
	Observe(index uint64, pixels gocv.Mat, score float64)
}

// Reader is the decode stage's dependency on videosource.Source, narrowed to
// just what the decode worker calls. Letting Config take a Reader instead of
// a concrete *videosource.Source means Run can be driven by synthetic
// in-process frames in tests, without a real gocv-decodable video file.
type Reader interface {
	Read() (*videosource.Frame, error)
}

// Processor is the detect stage's dependency on detector.Detector, narrowed
// the same way as Reader. *detector.Detector also separately implements
// LastMask() gocv.Mat (used by the mask-output side channel above), but
// that's deliberately left out of this interface: a test Processor stub
// doesn't need to produce a mask to exercise frame sequencing/ordering.
type Processor interface {
	Process(src gocv.Mat) (detector.Result, error)
}

// maskSource is the optional capability *detector.Detector provides beyond
// Processor; cfg.Detector is asserted against it rather than requiring every
// Processor to implement it.
type maskSource interface {
	LastMask() gocv.Mat
}

var (
	_ Reader     = (*videosource.Source)(nil)
	_ Processor  = (*detector.Detector)(nil)
	_ maskSource = (*detector.Detector)(nil)
)

// pollInterval bounds how long a blocking queue put/get waits before
// re-checking for cancellation.
const pollInterval = 100 * time.Millisecond

// decodedItem travels from the decode worker to the detect worker.
type decodedItem struct {
	frame *videosource.Frame
}

// encodeItem travels from the detect worker to the encode worker. It
// carries the frame, the detection result, whether the frame falls inside
// an open event, and optional sentinel event-boundary markers.
type encodeItem struct {
	frame      *videosource.Frame
	result     detector.Result
	inEvent    bool
	eventStart *uint64        // non-nil exactly on the frame that commits an event
	eventDone  *tracker.Event // non-nil exactly on the frame that closes an event
}

// Config bundles everything the orchestrator needs to run one scan.
type Config struct {
	Source   Reader
	Detector Processor
	Tracker  *tracker.Tracker
	Sink     sink.Sink
	Overlay  *overlay.Renderer // nil disables overlay drawing

	FrameSkip uint32
	// EndIndex, when non-zero, stops the decode stage once the global
	// frame index reaches it (exclusive), implementing end-time/duration
	// trimming.
	EndIndex            uint64
	TotalFramesEstimate uint64

	// PreRollCapacity bounds the encode stage's ring buffer of recent
	// non-event frames, sized to cover the tracker's reach-back (B plus
	// the candidate streak). Zero disables pre-roll buffering.
	PreRollCapacity int

	Observers []Observer
}

// Result is what Run returns once the scan completes or is canceled.
type Result struct {
	Events []tracker.Event
}

// Run executes the three-stage pipeline to completion or until ctx is
// canceled, returning the events extracted by the tracker. Cancellation
// causes the decoder to stop reading, the detector to drain and close, and
// the encoder to drain and finalize any open event.
func Run(ctx context.Context, cfg Config) (Result, error) {
	decodedCh := make(chan decodedItem, queueCapacity)
	encodeCh := make(chan encodeItem, queueCapacity)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer close(decodedCh)
		return decodeWorker(ctx, cfg.Source, cfg.FrameSkip, cfg.EndIndex, decodedCh)
	})

	var events []tracker.Event
	eg.Go(func() error {
		defer close(encodeCh)
		var err error
		events, err = detectWorker(ctx, cfg, decodedCh, encodeCh)
		return err
	})

	eg.Go(func() error {
		return encodeWorker(ctx, cfg, encodeCh)
	})

	if err := eg.Wait(); err != nil {
		// Workers return nil on cooperative cancellation; an error here is a
		// real failure. The events extracted before it are still reported.
		if errors.Is(err, context.Canceled) {
			return Result{Events: events}, nil
		}
		return Result{Events: events}, err
	}
	return Result{Events: events}, nil
}

// decodeWorker repeatedly reads from the source, applying frame_skip by
// dropping skip frames per processed frame, and pushes survivors into out.
// A non-zero endIndex stops the stream early at that global frame index.
func decodeWorker(ctx context.Context, src Reader, skip uint32, endIndex uint64, out chan<- decodedItem) error {
	var counter uint32
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := src.Read()
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}
		if endIndex > 0 && f.Index >= endIndex {
			f.Close()
			return nil
		}
		keep := skip == 0 || counter%(skip+1) == 0
		counter++
		if !keep {
			f.Close()
			continue
		}
		if !sendWithCancel(ctx, out, decodedItem{frame: f}) {
			f.Close()
			return nil
		}
	}
}

// detectWorker pops decoded frames, runs detection, feeds the tracker, and
// pushes encode items with event-boundary sentinels attached.
func detectWorker(ctx context.Context, cfg Config, in <-chan decodedItem, out chan<- encodeItem) ([]tracker.Event, error) {
	var events []tracker.Event

	for {
		item, ok, canceled := recvWithCancel(ctx, in)
		if canceled {
			break
		}
		if !ok {
			break
		}
		f := item.frame

		res, err := cfg.Detector.Process(f.Pixels)
		if err != nil {
			f.Close()
			return events, err
		}

		wasIn := cfg.Tracker.InEvent()
		ev, closed := cfg.Tracker.Update(f.Index, res.Motion, res.Score)

		item2 := encodeItem{frame: f, result: res, inEvent: cfg.Tracker.InEvent()}
		if !wasIn && cfg.Tracker.InEvent() {
			start := cfg.Tracker.CurrentEventStart()
			item2.eventStart = &start
		}
		if closed {
			events = append(events, ev)
			item2.eventDone = &ev
			// The closing frame (end-1 in the event's half-open range) is
			// still the event's last frame even though the tracker has
			// already transitioned back to IDLE above.
			item2.inEvent = true
		}

		notify(cfg.Observers, Progress{
			FrameIndex:       f.Index,
			TotalFrames:      cfg.TotalFramesEstimate,
			EventsSoFar:      len(events),
			CurrentlyInEvent: cfg.Tracker.InEvent(),
		})

		if !sendWithCancel(ctx, out, item2) {
			f.Close()
			break
		}
	}

	// Release any frames still queued behind a cancellation.
	for item := range in {
		item.frame.Close()
	}

	if ev, ok := cfg.Tracker.Flush(cfg.TotalFramesEstimate); ok {
		events = append(events, ev)
		// Frameless sentinel so the encode stage closes the event with its
		// real end index rather than a synthesized one.
		sendWithCancel(ctx, out, encodeItem{eventDone: &ev})
	}
	return events, nil
}

// encodeWorker pops encode items and writes them via the configured sink,
// drawing overlays first when enabled, and drives the sink's event
// lifecycle from the eventStart/eventDone sentinels. Frames that arrive
// outside an event are parked in a small ring buffer instead of being
// handed to the sink immediately, so an event that commits with a
// reach-back start can still deliver its pre-roll frames in order.
func encodeWorker(ctx context.Context, cfg Config, in <-chan encodeItem) error {
	type parked struct {
		frame  *videosource.Frame
		result detector.Result
	}

	var wasInEvent bool
	var curStart uint64
	var ring []parked // non-event frames not yet handed to the sink, oldest first
	defer func() {
		for _, pk := range ring {
			pk.frame.Close()
		}
	}()

	writeFrame := func(f *videosource.Frame, res detector.Result, inEvent bool) error {
		if inEvent {
			if to, ok := cfg.Sink.(thumbObserver); ok {
				to.Observe(f.Index, f.Pixels, res.Score)
			}
		}
		return cfg.Sink.OnFrame(f.Index, f.Pixels, inEvent)
	}

	// drainRing hands every parked frame to the sink in order; frames at or
	// past start are event frames, the rest were older than the reach-back.
	drainRing := func(start uint64, haveStart bool) error {
		for _, pk := range ring {
			inEv := haveStart && pk.frame.Index >= start
			err := writeFrame(pk.frame, pk.result, inEv)
			pk.frame.Close()
			if err != nil {
				return err
			}
		}
		ring = ring[:0]
		return nil
	}

	for {
		item, ok, canceled := recvWithCancel(ctx, in)
		if canceled || !ok {
			if canceled {
				for leftover := range in {
					if leftover.frame != nil {
						leftover.frame.Close()
					}
				}
			}
			if err := drainRing(0, false); err != nil {
				return err
			}
			if wasInEvent {
				_ = cfg.Sink.OnEventEnd(tracker.Event{Start: curStart})
			}
			return nil
		}
		f := item.frame
		if f == nil {
			// End-of-stream close sentinel from the detect stage's flush.
			if item.eventDone != nil {
				if err := closeEvent(cfg, *item.eventDone); err != nil {
					return err
				}
				wasInEvent = false
			}
			continue
		}

		if cfg.Overlay != nil {
			tc := timecode.New(f.Index, f.PresentationTime.FPS())
			cfg.Overlay.Draw(&f.Pixels, tc, item.result, cfg.FrameSkip)
		}

		if item.eventStart != nil {
			curStart = *item.eventStart
			if err := cfg.Sink.OnEventStart(tracker.Event{Start: curStart}); err != nil {
				f.Close()
				return err
			}
			wasInEvent = true
			if err := drainRing(curStart, true); err != nil {
				f.Close()
				return err
			}
		}

		if !item.inEvent && cfg.PreRollCapacity > 0 {
			ring = append(ring, parked{frame: f, result: item.result})
			if len(ring) > cfg.PreRollCapacity {
				oldest := ring[0]
				ring = ring[1:]
				err := writeFrame(oldest.frame, oldest.result, false)
				oldest.frame.Close()
				if err != nil {
					return err
				}
			}
			continue
		}

		if err := writeFrame(f, item.result, item.inEvent); err != nil {
			f.Close()
			return err
		}

		if item.eventDone != nil {
			if err := closeEvent(cfg, *item.eventDone); err != nil {
				f.Close()
				return err
			}
			wasInEvent = false
		}
		f.Close()
	}
}

// closeEvent emits the post-morphology mask side file when both ends of
// that channel are present, then closes the event on the sink.
func closeEvent(cfg Config, ev tracker.Event) error {
	if mo, ok := cfg.Sink.(maskWriter); ok {
		if ms, ok := cfg.Detector.(maskSource); ok {
			mask := ms.LastMask()
			err := mo.WriteMask(mask)
			mask.Close()
			if err != nil {
				return err
			}
		}
	}
	return cfg.Sink.OnEventEnd(ev)
}

func notify(observers []Observer, p Progress) {
	for _, o := range observers {
		o.OnProgress(p)
	}
}

// sendWithCancel attempts to send v on ch, polling ctx.Done() at
// pollInterval. Returns false if the context was canceled before the send
// completed.
func sendWithCancel[T any](ctx context.Context, ch chan<- T, v T) bool {
	for {
		select {
		case ch <- v:
			return true
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

// recvWithCancel receives from ch, polling for cancellation the same way.
// ok is false once ch is closed and drained; canceled is true if ctx ended
// first.
func recvWithCancel[T any](ctx context.Context, ch <-chan T) (v T, ok bool, canceled bool) {
	for {
		select {
		case v, ok = <-ch:
			return v, ok, false
		case <-ctx.Done():
			return v, false, true
		case <-time.After(pollInterval):
		}
	}
}
