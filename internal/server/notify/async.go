package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/gophupload/internal/logging"
)

// AsyncSink decouples publishers from a slow sink with a bounded buffer.
// Events are dropped when the buffer is full.
type AsyncSink struct {
	next    Sink
	events  chan Event
	logger  logging.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewAsyncSink(next Sink, buffer int, logger logging.Logger) *AsyncSink {
	if buffer < 1 {
		buffer = 1
	}
	s := &AsyncSink{
		next:   next,
		events: make(chan Event, buffer),
		logger: logger.With("module", "notify"),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for ev := range s.events {
		s.next.Publish(context.Background(), ev)
	}
}

func (s *AsyncSink) Publish(ctx context.Context, ev Event) {
	defer func() {
		// Publishing after Close is a drop.
		if recover() != nil {
			s.dropped.Add(1)
		}
	}()
	select {
	case s.events <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn(ctx, "notification buffer full, dropping", "dropped", n, "type", ev.Type)
		}
	}
}

// Dropped returns the number of events lost to overflow.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes buffered events and stops the delivery goroutine.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() { close(s.events) })
	<-s.done
}
