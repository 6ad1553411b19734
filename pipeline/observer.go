// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pipeline

import "sync"

// Progress is a snapshot of scan progress delivered to observers.
type Progress struct {
	FrameIndex       uint64
	TotalFrames      uint64
	EventsSoFar      int
	CurrentlyInEvent bool
}

// Observer receives non-blocking progress notifications. Implementations
// must not block; OnProgress is called from the pipeline's detect worker.
type Observer interface {
	OnProgress(Progress)
}

// broadcaster fans progress out to any number of subscribed observer
// channels without ever blocking the publisher: each listener channel
// holds at most one pending value, and a full channel has its stale value
// stolen and replaced rather than the publisher blocking.
type broadcaster struct {
	mu        sync.Mutex
	listeners []chan Progress
}

func newBroadcaster() *broadcaster {
	return &broadcaster{}
}

// subscribe registers a new listener channel (capacity 1) and returns it
// along with an unsubscribe function.
func (b *broadcaster) subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, 1)
	b.mu.Lock()
	b.listeners = append(b.listeners, ch)
	b.mu.Unlock()
	unsub := func() {
		b.mu.Lock()
		for i, l := range b.listeners {
			if l == ch {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// publish sends p to every listener, stealing and replacing a stale pending
// value on any channel that's already full instead of blocking.
func (b *broadcaster) publish(p Progress) {
	b.mu.Lock()
	ls := make([]chan Progress, len(b.listeners))
	copy(ls, b.listeners)
	b.mu.Unlock()
	for _, ch := range ls {
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}

// funcObserver adapts a plain function to the Observer interface.
type funcObserver func(Progress)

func (f funcObserver) OnProgress(p Progress) { f(p) }

// BroadcastObserver is an Observer that fans progress out to any number of
// dynamically-subscribing readers, e.g. a CLI progress bar and a structured
// log sink attached to the same scan. Subscribe/unsubscribe are safe to
// call while a scan is running.
type BroadcastObserver struct {
	b *broadcaster
}

// NewBroadcastObserver constructs an empty BroadcastObserver.
func NewBroadcastObserver() *BroadcastObserver {
	return &BroadcastObserver{b: newBroadcaster()}
}

// OnProgress implements Observer by publishing to every current subscriber.
func (o *BroadcastObserver) OnProgress(p Progress) { o.b.publish(p) }

// Subscribe returns a read-only channel receiving future progress updates
// and a function to unsubscribe it. The channel always holds the most
// recent update; stale pending values are replaced, never blocking the
// publisher.
func (o *BroadcastObserver) Subscribe() (<-chan Progress, func()) {
	return o.b.subscribe()
}
