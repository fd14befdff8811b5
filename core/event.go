package core

import (
	"time"
)

// EventType tags a WorkflowEvent with its ordinal category. The numeric
// values are part of the caller-facing contract and must not be renumbered.
type EventType int

const (
	// EventStart opens the stream for a request.
	EventStart EventType = 1
	// EventPlan carries the intermediate selection plan.
	EventPlan EventType = 2
	// EventResponseFragment carries one incremental piece of the final
	// answer; consumers concatenate fragments in arrival order.
	EventResponseFragment EventType = 3
	// EventFollowup carries suggested follow-up questions.
	EventFollowup EventType = 4
	// EventEnd terminates the stream. Exactly one is emitted per request.
	EventEnd EventType = 5
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventPlan:
		return "plan"
	case EventResponseFragment:
		return "response-fragment"
	case EventFollowup:
		return "followup"
	case EventEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Terminal status values carried by the end event.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

// ExecutionMetadata summarizes what a request actually did, kept accurate
// even on partial failure so the terminal event can attribute errors to the
// phase or domain that produced them.
type ExecutionMetadata struct {
	Elapsed        time.Duration     `json:"elapsed"`
	DomainsInvoked []string          `json:"domains_invoked,omitempty"`
	ToolsInvoked   []string          `json:"tools_invoked,omitempty"`
	PhaseErrors    map[string]string `json:"phase_errors,omitempty"` // phase or domain → user-safe error
}

// FinalPayload is the body of the terminal end event.
type FinalPayload struct {
	Status     string            `json:"status"` // StatusCompleted or StatusError
	Answer     string            `json:"answer"`
	Evidence   []string          `json:"evidence,omitempty"`
	Confidence float64           `json:"confidence"`
	FollowUps  []string          `json:"follow_ups,omitempty"`
	Metadata   ExecutionMetadata `json:"metadata"`
}

// WorkflowEvent is one record in the totally ordered per-request stream.
// Streaming text fragments and discrete workflow milestones are variants of
// this single type so callers reconstruct state from one monotonic sequence.
// Never mutated after emission.
type WorkflowEvent struct {
	ID        string           `json:"id"`
	RequestID string           `json:"request_id"`
	Seq       uint64           `json:"seq"` // strictly increasing per request
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Text      string           `json:"text,omitempty"` // fragment text or followup suggestion
	Plan      *SelectionResult `json:"plan,omitempty"`
	Final     *FinalPayload    `json:"final,omitempty"`
}

// IsTerminal reports whether this event closes the stream.
func (e WorkflowEvent) IsTerminal() bool { return e.Type == EventEnd }
