package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (s *recordingSink) Publish(_ context.Context, event Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversEvents(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8, nil)
	d.Start(context.Background())

	for i := 0; i < 3; i++ {
		if !d.Notify(Event{ContentID: "c", ProjectID: "p", Status: "approved"}) {
			t.Fatal("notify rejected with free buffer space")
		}
	}
	d.Close()

	if sink.count() != 3 {
		t.Errorf("delivered %d events, want 3", sink.count())
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, 1, nil)
	d.Start(context.Background())

	// First event occupies the worker, second fills the buffer, third must
	// be dropped without blocking.
	d.Notify(Event{ContentID: "a"})
	deadline := time.After(time.Second)
	for {
		if ok := d.Notify(Event{ContentID: "b"}); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("dispatcher never reported a full queue")
		default:
		}
	}

	close(sink.block)
	d.Close()
}

func TestDispatcherSurvivesSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	d := NewDispatcher(sink, 8, nil)
	d.Start(context.Background())

	d.Notify(Event{ContentID: "a"})
	d.Notify(Event{ContentID: "b"})
	d.Close()
	// Close returning at all proves the loop did not wedge on errors.
}
