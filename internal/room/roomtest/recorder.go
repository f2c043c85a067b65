// Package roomtest provides a recording room.Conn for tests.
package roomtest

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("connection closed")

// Event is one recorded delivery.
type Event struct {
	Name    string
	Payload any
}

// Recorder is a room.Conn that records every event sent to it.
type Recorder struct {
	id string

	mu     sync.Mutex
	events []Event
	closed bool
}

// NewRecorder returns a Recorder with the given connection id.
func NewRecorder(id string) *Recorder {
	return &Recorder{id: id}
}

// ID returns the connection id.
func (r *Recorder) ID() string { return r.id }

// Send records the event.
func (r *Recorder) Send(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.events = append(r.events, Event{Name: event, Payload: payload})
	return nil
}

// Close makes further sends fail.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name, in order.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event with the given name.
func (r *Recorder) Last(name string) (Event, bool) {
	named := r.Named(name)
	if len(named) == 0 {
		return Event{}, false
	}
	return named[len(named)-1], true
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
