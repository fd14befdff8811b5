package core

import (
	"time"

	"github.com/google/uuid"
)

// Domain identifies a bounded area of specialist expertise. The valid set is
// closed at startup when specialists register with the pool; selection output
// is validated against that set and never dispatched free-form.
type Domain string

// DomainGeneral is the fallback domain that handles any query when no
// specialist matches or selection fails. It is always registered.
const DomainGeneral Domain = "general"

// ConversationTurn is one prior exchange in the bounded history window.
type ConversationTurn struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// UserContext carries the caller-supplied tenant/user mapping. It biases
// parameter resolution (relative dates resolve in the caller's timezone) and
// filters which domains and tools are eligible for selection.
type UserContext struct {
	UserID     string `json:"user_id"`
	TenantID   string `json:"tenant_id"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Timezone   string `json:"timezone"` // IANA name, e.g. "Asia/Tokyo"
}

// Location resolves the caller's timezone, falling back to UTC when empty or
// unknown.
func (u UserContext) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// QueryContext is the immutable input for one request: the raw query, the
// detected language, caller identity and access scope, and a bounded window
// of prior conversation turns. Created once per request and read-only
// thereafter; copies of the history slice are defensive.
type QueryContext struct {
	RequestID string
	Query     string
	Language  string
	User      UserContext
	History   []ConversationTurn
	StartedAt time.Time
}

// maxHistoryTurns bounds the conversation window carried into prompts.
const maxHistoryTurns = 10

// NewQueryContext builds a QueryContext with a fresh request id, trimming the
// history to the most recent turns.
func NewQueryContext(query, language string, user UserContext, history []ConversationTurn) *QueryContext {
	if language == "" {
		language = "en"
	}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	turns := make([]ConversationTurn, len(history))
	copy(turns, history)
	return &QueryContext{
		RequestID: NewID(),
		Query:     query,
		Language:  language,
		User:      user,
		History:   turns,
		StartedAt: time.Now().UTC(),
	}
}

// NewID generates a new unique identifier for requests and events.
func NewID() string { return uuid.NewString() }
