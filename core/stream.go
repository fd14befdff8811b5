package core

import (
	"errors"
	"sync"
	"time"
)

// ErrStreamClosed is returned when an event is emitted after the terminal
// end event. The offending event is dropped, never delivered out of order.
var ErrStreamClosed = errors.New("event stream already closed")

// Stream is the per-request event emitter. It guarantees a strictly
// increasing sequence number, exactly one terminal event, and that nothing
// is delivered after the terminal event. Safe for concurrent producers; the
// consumer reads the Events channel until it closes.
//
// Producers never block on a stalled consumer: when the buffer fills,
// non-terminal events are dropped, and one slot is always held back so the
// terminal event can be delivered regardless.
type Stream struct {
	requestID string

	mu     sync.Mutex
	seq    uint64
	closed bool
	ch     chan WorkflowEvent
}

// NewStream creates a stream for one request with the given channel buffer.
func NewStream(requestID string, buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	// One slot beyond the requested buffer is reserved for the terminal event.
	return &Stream{requestID: requestID, ch: make(chan WorkflowEvent, buffer+1)}
}

// RequestID returns the owning request identifier.
func (s *Stream) RequestID() string { return s.requestID }

// Events returns the ordered event channel. It is closed after the terminal
// event has been delivered.
func (s *Stream) Events() <-chan WorkflowEvent { return s.ch }

// Emit assigns the next sequence number and delivers a non-terminal event.
// Returns ErrStreamClosed once the terminal event has been sent. If the
// consumer has stopped draining and the buffer is full, the event is dropped
// and Emit returns nil.
func (s *Stream) Emit(ev WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if ev.IsTerminal() {
		return s.closeLocked(ev)
	}
	s.send(ev)
	return nil
}

// EmitStart delivers the opening event for the request.
func (s *Stream) EmitStart() error {
	return s.Emit(s.newEvent(EventStart))
}

// EmitPlan delivers the intermediate selection plan.
func (s *Stream) EmitPlan(plan SelectionResult) error {
	ev := s.newEvent(EventPlan)
	ev.Plan = &plan
	return s.Emit(ev)
}

// EmitFragment delivers one incremental piece of the final answer.
func (s *Stream) EmitFragment(text string) error {
	ev := s.newEvent(EventResponseFragment)
	ev.Text = text
	return s.Emit(ev)
}

// EmitFollowup delivers one follow-up suggestion.
func (s *Stream) EmitFollowup(text string) error {
	ev := s.newEvent(EventFollowup)
	ev.Text = text
	return s.Emit(ev)
}

// End delivers the terminal event and closes the stream. Only the first call
// succeeds; later calls (including racing ones) return ErrStreamClosed so a
// best-effort error path cannot double-terminate a completed stream.
func (s *Stream) End(final FinalPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	ev := s.newEvent(EventEnd)
	ev.Final = &final
	return s.closeLocked(ev)
}

// Closed reports whether the terminal event has been emitted.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// newEvent stamps identity and timestamp; Seq is assigned under the lock in
// send so concurrent producers cannot interleave out of order.
func (s *Stream) newEvent(t EventType) WorkflowEvent {
	return WorkflowEvent{
		ID:        NewID(),
		RequestID: s.requestID,
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// send runs under s.mu. The consumer only ever drains the channel, so the
// length check below cannot go stale: a non-terminal event is sent only when
// at least one free slot remains for the terminal event, which means neither
// send can block while holding the mutex.
func (s *Stream) send(ev WorkflowEvent) {
	if !ev.IsTerminal() && len(s.ch) >= cap(s.ch)-1 {
		return
	}
	s.seq++
	ev.Seq = s.seq
	s.ch <- ev
}

func (s *Stream) closeLocked(ev WorkflowEvent) error {
	s.send(ev)
	s.closed = true
	close(s.ch)
	return nil
}
