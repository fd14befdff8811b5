// Package model abstracts the language-model capability consumed by the
// orchestration engine. A backend turns a prompt into text, either whole
// (Invoke) or as a lazy sequence of fragments (InvokeStream). Provider
// failures are ordinary errors that callers treat as phase-local, never a
// process crash.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Request captures the normalized model input produced by the engine's
// prompt builders.
type Request struct {
	System      string  `json:"system,omitempty"` // system framing, may be empty
	Prompt      string  `json:"prompt"`           // user-visible prompt body
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the minimal interface required to drive generation.
//
// InvokeStream returns a fragment channel and an error channel; both are
// closed when generation finishes. A fragment must never be delivered after
// an error. Implementations must respect ctx cancellation at every send.
type Model interface {
	Invoke(ctx context.Context, req Request) (string, error)
	InvokeStream(ctx context.Context, req Request) (<-chan string, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests. Responses are
// matched by substring against the prompt so tests do not need to reproduce
// full prompt templates. Calls are recorded for assertions.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses []mockRule
	failWith  error
	calls     []Request
}

type mockRule struct {
	match    string
	response string
	err      error
}

// NewMockModel constructs a MockModel.
func NewMockModel() *MockModel {
	return &MockModel{info: Info{Name: "mock", Provider: "mock"}}
}

// AddResponse registers a canned completion for any prompt containing match.
// Rules are checked in registration order; first hit wins.
func (m *MockModel) AddResponse(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{match: match, response: response})
}

// AddError registers a failure for any prompt containing match.
func (m *MockModel) AddError(match string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{match: match, err: err})
}

// FailWith makes every call fail with err until reset with nil.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls returns a copy of all requests seen so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockModel) lookup(req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.failWith != nil {
		return "", m.failWith
	}
	full := req.System + "\n" + req.Prompt
	for _, r := range m.responses {
		if r.match != "" && contains(full, r.match) {
			if r.err != nil {
				return "", r.err
			}
			return r.response, nil
		}
	}
	return fmt.Sprintf("Mock response to: %s", req.Prompt), nil
}

// Invoke implements Model.
func (m *MockModel) Invoke(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.lookup(req)
}

// InvokeStream implements Model; emits the canned response in small chunks.
func (m *MockModel) InvokeStream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		full, err := m.lookup(req)
		if err != nil {
			errCh <- err
			return
		}
		const chunk = 4
		for i := 0; i < len(full); i += chunk {
			end := i + chunk
			if end > len(full) {
				end = len(full)
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- full[i:end]:
			}
		}
	}()
	return out, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

func contains(s, sub string) bool {
	return sub != "" && strings.Contains(s, sub)
}
