// Package resolver turns a free-text query plus a capability's parameter
// schema into a schema-valid parameter record, using the language-model
// capability. A failed attempt can be repaired once or twice by feeding the
// exact validation error back into the extractor; the retry budget is an
// explicit bounded loop owned by the caller, never recursion.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/internal/jsonx"
	"github.com/CoderFake/aichatbot/internal/schema"
	"github.com/CoderFake/aichatbot/logging"
	"github.com/CoderFake/aichatbot/model"
)

// DefaultRetryBudget is the number of repair attempts after the first
// failure. Two retries per tool call is the empirical bound.
const DefaultRetryBudget = 2

// ExtractionError reports that a resolution attempt did not satisfy the
// schema, naming the missing or malformed fields so the next attempt (or the
// owning specialist) can act on them.
type ExtractionError struct {
	Capability string   `json:"capability"`
	Fields     []string `json:"fields"`
	Attempt    int      `json:"attempt"`
	Message    string   `json:"message"`
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("parameter extraction failed for %s (attempt %d, fields: %s): %s",
		e.Capability, e.Attempt, strings.Join(e.Fields, ", "), e.Message)
}

// RetryContext carries the state of the previous failed attempt into the
// next prompt.
type RetryContext struct {
	Attempt    int
	LastError  string
	LastParams map[string]any
}

// Input is one resolution request.
type Input struct {
	Query  string
	Schema core.ToolSchema
	Prior  map[string]any // caller-supplied values, act as defaults
	User   core.UserContext
	Retry  *RetryContext // nil on the first attempt
}

// Resolver extracts structured tool parameters from natural language.
type Resolver struct {
	model  model.Model
	logger logging.Logger
	now    func() time.Time // injectable for tests
}

// New creates a Resolver backed by the given model.
func New(m model.Model, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Resolver{model: m, logger: logger, now: time.Now}
}

// Resolve performs a single extraction attempt: build the prompt, call the
// model, merge the JSON answer over caller-supplied defaults, and validate
// against the schema. The returned error is always an *ExtractionError when
// the schema is unsatisfied, so callers can feed it into a retry.
func (r *Resolver) Resolve(ctx context.Context, in Input) (core.ParsedParameters, error) {
	attempt := 1
	if in.Retry != nil {
		attempt = in.Retry.Attempt + 1
	}

	base := core.ParsedParameters{
		Capability: in.Schema.Name,
		Values:     map[string]any{},
		Provenance: map[string]core.ParameterSource{},
		Attempt:    attempt,
	}
	for k, v := range in.Prior {
		base.Values[k] = v
		base.Provenance[k] = core.SourceCaller
	}

	start := time.Now()
	raw, err := r.model.Invoke(ctx, model.Request{
		System: extractionSystem,
		Prompt: r.buildPrompt(in),
	})
	if err != nil {
		r.logger.Warn("parameter extraction model call failed", "capability", in.Schema.Name, "error", err)
		return base, &ExtractionError{
			Capability: in.Schema.Name,
			Attempt:    attempt,
			Message:    fmt.Sprintf("model call failed: %v", err),
		}
	}
	r.logger.Debug("parameter extraction completed", "capability", in.Schema.Name, "attempt", attempt, "duration_ms", time.Since(start).Milliseconds())

	extracted, err := jsonx.ObjectToMap(raw)
	if err != nil {
		return base, &ExtractionError{
			Capability: in.Schema.Name,
			Attempt:    attempt,
			Message:    err.Error(),
		}
	}

	merged := base.Merge(extracted)

	if errs := in.Schema.Validate(merged.Values); len(errs) > 0 {
		return merged, extractionErrorFrom(in.Schema.Name, attempt, errs)
	}
	return merged, nil
}

// ResolveWithRetry runs the bounded retry loop: the first attempt plus up to
// budget repair attempts, each carrying the previous failure into the
// prompt. Identical inputs either converge to the same corrected set or fail
// identically; there is no hidden randomness in the loop itself.
func (r *Resolver) ResolveWithRetry(ctx context.Context, in Input, budget int) (core.ParsedParameters, error) {
	if budget < 0 {
		budget = DefaultRetryBudget
	}

	var (
		lastErr    error
		lastParams core.ParsedParameters
	)
	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			extErr, ok := lastErr.(*ExtractionError)
			if !ok {
				break // non-repairable failure
			}
			in.Retry = &RetryContext{
				Attempt:    attempt,
				LastError:  extErr.Error(),
				LastParams: lastParams.Values,
			}
		}

		params, err := r.Resolve(ctx, in)
		if err == nil {
			return params, nil
		}
		if ctx.Err() != nil {
			return params, ctx.Err()
		}
		lastErr = err
		lastParams = params
		r.logger.Warn("parameter extraction attempt failed",
			"capability", in.Schema.Name, "attempt", attempt+1, "error", err)
	}
	return lastParams, lastErr
}

const extractionSystem = "You extract structured tool parameters from user requests. " +
	"Respond with a single JSON object containing only the parameter fields. No prose."

// buildPrompt renders the schema (required/optional split, per-field
// type/enum hints) and caller context. On retry it adds the prior failed
// parameters with the exact error, instructing the extractor not to repeat
// the failure.
func (r *Resolver) buildPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tool: %s (v%d)\n", in.Schema.Name, in.Schema.Version)
	if in.Schema.Description != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", in.Schema.Description)
	}

	b.WriteString("\nRequired parameters:\n")
	writeFields(&b, in.Schema, in.Schema.Required)
	if len(in.Schema.Optional) > 0 {
		b.WriteString("\nOptional parameters:\n")
		writeFields(&b, in.Schema, in.Schema.Optional)
	}

	loc := in.User.Location()
	now := r.now().In(loc)
	fmt.Fprintf(&b, "\nCaller timezone: %s. Current date there: %s.\n", loc.String(), now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Resolve relative dates (\"today\", \"next week\") in the caller's timezone.\n")
	if in.User.Role != "" || in.User.Department != "" {
		fmt.Fprintf(&b, "Caller role: %s, department: %s.\n", in.User.Role, in.User.Department)
	}

	if len(in.Prior) > 0 {
		fmt.Fprintf(&b, "\nAlready provided by the caller (use as defaults, override only when the request clearly says otherwise): %v\n", in.Prior)
	}

	if in.Retry != nil {
		fmt.Fprintf(&b, "\nA previous attempt produced: %v\n", in.Retry.LastParams)
		fmt.Fprintf(&b, "It failed with: %s\n", in.Retry.LastError)
		b.WriteString("Produce corrected parameters. Do not repeat that failure; fix the named fields and keep their declared types exactly.\n")
	}

	fmt.Fprintf(&b, "\nUser request: %s\n", in.Query)
	b.WriteString("\nRespond with exactly one JSON object mapping parameter names to values.")

	return b.String()
}

func writeFields(b *strings.Builder, ts core.ToolSchema, names []string) {
	for _, name := range names {
		prop := ts.Properties[name]
		fmt.Fprintf(b, "  - %s (%s)", name, prop.Type)
		if prop.Type == "array" && prop.Items != "" {
			fmt.Fprintf(b, " of %s", prop.Items)
		}
		if len(prop.Enum) > 0 {
			fmt.Fprintf(b, " one of [%s]", strings.Join(prop.Enum, ", "))
		}
		if prop.Description != "" {
			fmt.Fprintf(b, ": %s", prop.Description)
		}
		b.WriteByte('\n')
	}
}

func extractionErrorFrom(capability string, attempt int, errs []*schema.ValidationError) *ExtractionError {
	fields := make([]string, 0, len(errs))
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		fields = append(fields, e.Field)
		messages = append(messages, e.Error())
	}
	return &ExtractionError{
		Capability: capability,
		Fields:     fields,
		Attempt:    attempt,
		Message:    strings.Join(messages, "; "),
	}
}
