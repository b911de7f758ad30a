package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrSinkClosed = errors.New("event sink closed")

// ChannelSink hands events to a presentation layer through a buffered
// channel. Publish never blocks: progress events that find the buffer full
// are dropped and counted, and RunCompleted evicts the oldest buffered
// events until it fits.
type ChannelSink struct {
	ch      chan Event
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Publish(ctx context.Context, e Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	if e.Kind != KindRunCompleted {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
		return nil
	}

	for {
		select {
		case s.ch <- e:
			return nil
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Dropped is the number of events that never reached the buffer or were
// evicted from it.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Events is the receive side of the feed.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Drain returns every event currently buffered without waiting.
func (s *ChannelSink) Drain() []Event {
	var out []Event
	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

// Close ends the feed; buffered events stay readable.
func (s *ChannelSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		close(s.ch)
	})
}
