package sink

import (
	"context"
	"errors"
	"sync"
)

// Fanout duplicates every event to several sinks. Each sink is attempted
// even if an earlier one fails.
type Fanout struct {
	sinks []Sink
}

// NewFanout combines the given sinks. Nil entries are skipped; a fanout
// over a single sink returns that sink directly.
func NewFanout(sinks ...Sink) Sink {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	switch len(kept) {
	case 0:
		return Nop()
	case 1:
		return kept[0]
	}
	return &Fanout{sinks: kept}
}

// Record appends to every sink and joins any failures.
func (f *Fanout) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nop struct{}

func (nop) Record(context.Context, Event) error { return nil }
func (nop) Close() error                        { return nil }

// Nop returns a sink that discards everything.
func Nop() Sink {
	return nop{}
}

// Memory retains events in order, for tests and the simulator's dry runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends the event to the in-memory list.
func (m *Memory) Record(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

var (
	_ Sink = (*Fanout)(nil)
	_ Sink = (*Memory)(nil)
)
