package install

import (
	"time"

	"github.com/JuanVilla424/mcpsetup/internal/metrics"
)

// sink hands progress to the consumer on its own goroutine. send never
// blocks: when the buffer is full the event is dropped.
type sink struct {
	ch   chan Progress
	done chan struct{}
}

func newSink(fn ProgressFunc, size int) *sink {
	if fn == nil {
		return &sink{}
	}
	s := &sink{ch: make(chan Progress, size), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for p := range s.ch {
			fn(p)
		}
	}()
	return s
}

func (s *sink) send(p Progress) {
	if s.ch == nil {
		return
	}
	select {
	case s.ch <- p:
	default:
		metrics.ProgressDropped.Inc()
	}
}

// close stops accepting events and waits up to wait for the consumer to
// drain what is buffered.
func (s *sink) close(wait time.Duration) {
	if s.ch == nil {
		return
	}
	close(s.ch)
	select {
	case <-s.done:
	case <-time.After(wait):
	}
}
