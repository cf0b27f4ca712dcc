package testutil

import (
	"sync"

	"github.com/mcoot/partylobby/internal/model"
)

// RecordingSink is an in-memory connection that records every event sent
// to it. It satisfies the room and multiplexer connection interfaces.
type RecordingSink struct {
	id string

	mu     sync.Mutex
	events []model.Event
	err    error
}

// NewRecordingSink creates a sink with the given connection id
func NewRecordingSink(id string) *RecordingSink {
	return &RecordingSink{id: id}
}

// ID returns the connection id
func (s *RecordingSink) ID() string {
	return s.id
}

// TrySend records the event, or returns the configured failure
func (s *RecordingSink) TrySend(event model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

// Fail makes subsequent sends return err. Pass nil to recover.
func (s *RecordingSink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Events returns a copy of the recorded events
func (s *RecordingSink) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]model.Event, len(s.events))
	copy(events, s.events)
	return events
}

// Types returns the recorded event types in order
func (s *RecordingSink) Types() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]model.EventType, len(s.events))
	for i, e := range s.events {
		types[i] = e.Type
	}
	return types
}

// Count returns how many events of the given type were recorded
func (s *RecordingSink) Count(eventType model.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// Last returns the most recent event of the given type
func (s *RecordingSink) Last(eventType model.EventType) (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == eventType {
			return s.events[i], true
		}
	}
	return model.Event{}, false
}

// Reset discards recorded events
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
