package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_OrderingAndTerminal(t *testing.T) {
	s := NewStream("req-1", 16)

	require.NoError(t, s.EmitStart())
	require.NoError(t, s.EmitPlan(SelectionResult{Domains: []Domain{DomainGeneral}, Confidence: 0.5}))
	require.NoError(t, s.EmitFragment("hello "))
	require.NoError(t, s.EmitFragment("world"))
	require.NoError(t, s.End(FinalPayload{Status: StatusCompleted, Answer: "hello world"}))

	var events []WorkflowEvent
	for ev := range s.Events() {
		events = append(events, ev)
	}

	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "req-1", ev.RequestID)
		assert.NotEmpty(t, ev.ID)
	}
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, EventPlan, events[1].Type)
	assert.Equal(t, EventResponseFragment, events[2].Type)
	assert.Equal(t, EventEnd, events[4].Type)
	require.NotNil(t, events[4].Final)
	assert.Equal(t, StatusCompleted, events[4].Final.Status)
}

func TestStream_RejectsAfterEnd(t *testing.T) {
	s := NewStream("req-2", 8)
	require.NoError(t, s.End(FinalPayload{Status: StatusError}))

	assert.ErrorIs(t, s.EmitFragment("late"), ErrStreamClosed)
	assert.ErrorIs(t, s.EmitStart(), ErrStreamClosed)
	assert.ErrorIs(t, s.End(FinalPayload{}), ErrStreamClosed)
	assert.True(t, s.Closed())

	// Exactly one event was delivered and the channel is closed.
	ev, ok := <-s.Events()
	require.True(t, ok)
	assert.Equal(t, EventEnd, ev.Type)
	_, ok = <-s.Events()
	assert.False(t, ok)
}

func TestStream_ConcurrentProducersStayOrdered(t *testing.T) {
	s := NewStream("req-3", 256)

	const producers = 8
	const perProducer = 20
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = s.EmitFragment("x")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.End(FinalPayload{Status: StatusCompleted}))

	var last uint64
	count := 0
	for ev := range s.Events() {
		count++
		assert.Greater(t, ev.Seq, last, "sequence must be strictly increasing")
		last = ev.Seq
	}
	assert.Equal(t, producers*perProducer+1, count)
}

func TestStream_ExactlyOneTerminalUnderRace(t *testing.T) {
	s := NewStream("req-4", 64)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.End(FinalPayload{Status: StatusCompleted})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrStreamClosed)
		}
	}
	assert.Equal(t, 1, succeeded)

	terminals := 0
	for ev := range s.Events() {
		if ev.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestStream_StalledConsumerNeverBlocksProducers(t *testing.T) {
	s := NewStream("req-6", 2)

	// Nobody reads the channel while the producer runs.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = s.EmitFragment("x")
		}
		_ = s.End(FinalPayload{Status: StatusError})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked on a stalled consumer")
	}
	assert.True(t, s.Closed())

	// Overflow fragments were dropped; the terminal event still arrived,
	// exactly once, with the sequence intact.
	var events []WorkflowEvent
	var last uint64
	for ev := range s.Events() {
		assert.Greater(t, ev.Seq, last)
		last = ev.Seq
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, EventResponseFragment, events[0].Type)
	assert.Equal(t, EventResponseFragment, events[1].Type)
	assert.Equal(t, EventEnd, events[2].Type)
}

func TestStream_TerminalViaEmitCloses(t *testing.T) {
	s := NewStream("req-5", 8)
	final := FinalPayload{Status: StatusCompleted}
	ev := WorkflowEvent{Type: EventEnd, Final: &final}
	require.NoError(t, s.Emit(ev))
	assert.True(t, s.Closed())
}
