// Package selector analyzes a query against the enabled specialist domains
// and produces a ranked SelectionResult. Selection is advisory and fail-safe:
// a model failure or unparsable answer degrades to the general domain with
// low confidence, never an error to the caller.
package selector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/internal/jsonx"
	"github.com/CoderFake/aichatbot/logging"
	"github.com/CoderFake/aichatbot/model"
)

// DefaultComplexityThreshold is the empirical cut-off below which a
// multi-domain answer is trimmed to its primary domain. Multi-agent
// execution is reserved for genuinely cross-domain queries to bound latency
// and cost. Tunable, not a correctness requirement.
const DefaultComplexityThreshold = 0.8

// fallbackConfidence is reported when selection itself failed.
const fallbackConfidence = 0.3

// Options tune selection behavior.
type Options struct {
	ComplexityThreshold float64
}

// Selector picks specialist domains for a query using the model capability.
type Selector struct {
	model  model.Model
	logger logging.Logger
	opts   Options
}

// New creates a Selector.
func New(m model.Model, logger logging.Logger, optFns ...func(o *Options)) *Selector {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	opts := Options{ComplexityThreshold: DefaultComplexityThreshold}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Selector{model: m, logger: logger, opts: opts}
}

// Select analyzes the query and returns the domain set to invoke. The result
// always satisfies the selection invariants: the domain set is a non-empty
// subset of the profiled domains plus general, and both scores lie in [0,1].
func (s *Selector) Select(ctx context.Context, q *core.QueryContext, profiles []core.DomainProfile) core.SelectionResult {
	raw, err := s.model.Invoke(ctx, model.Request{
		System: selectionSystem,
		Prompt: buildPrompt(q, profiles),
	})
	if err != nil {
		s.logger.Warn("domain selection model call failed", "error", err)
		return fallback("selection model call failed")
	}

	result, err := jsonx.ParseObject(raw)
	if err != nil {
		s.logger.Warn("domain selection returned unparsable output", "error", err)
		return fallback("selection output unparsable")
	}

	known := make(map[core.Domain]struct{}, len(profiles))
	for _, p := range profiles {
		known[p.Domain] = struct{}{}
	}
	known[core.DomainGeneral] = struct{}{}

	var domains []core.Domain
	for _, name := range jsonx.StringList(result, "domains") {
		d := core.Domain(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := known[d]; !ok {
			s.logger.Debug("discarding unknown domain from selection", "domain", name)
			continue
		}
		if !containsDomain(domains, d) {
			domains = append(domains, d)
		}
	}

	sel := core.SelectionResult{
		Domains:           domains,
		ComplexityScore:   core.Clamp01(result.Get("complexity_score").Float()),
		Confidence:        core.Clamp01(result.Get("confidence").Float()),
		CrossDomain:       result.Get("cross_domain").Bool(),
		Rationale:         result.Get("rationale").String(),
		EstimatedDuration: time.Duration(result.Get("estimated_duration_seconds").Float() * float64(time.Second)),
	}

	if len(sel.Domains) == 0 {
		sel.Domains = []core.Domain{core.DomainGeneral}
		sel.Confidence = sel.Confidence / 2
		sel.Rationale = appendNote(sel.Rationale, "no known domain matched; defaulting to general")
		sel.CrossDomain = false
	}

	// Single-agent tie-break: multiple domains are only worth their cost for
	// genuinely complex queries.
	if len(sel.Domains) > 1 && sel.ComplexityScore <= s.opts.ComplexityThreshold {
		sel.Domains = sel.Domains[:1]
		sel.CrossDomain = false
		sel.Rationale = appendNote(sel.Rationale, "trimmed to primary domain below complexity threshold")
	}

	return sel
}

func fallback(note string) core.SelectionResult {
	return core.SelectionResult{
		Domains:    []core.Domain{core.DomainGeneral},
		Confidence: fallbackConfidence,
		Rationale:  note,
	}
}

const selectionSystem = "You route user queries to specialist domains. " +
	"Respond with a single JSON object: {\"domains\": [..], \"complexity_score\": 0..1, " +
	"\"confidence\": 0..1, \"cross_domain\": bool, \"rationale\": \"..\", " +
	"\"estimated_duration_seconds\": number}. Only use listed domain names."

func buildPrompt(q *core.QueryContext, profiles []core.DomainProfile) string {
	var b strings.Builder

	b.WriteString("Available specialist domains:\n")
	for _, p := range profiles {
		fmt.Fprintf(&b, "- %s: %s", p.Domain, p.Description)
		if len(p.Expertise) > 0 {
			fmt.Fprintf(&b, " (expertise: %s)", strings.Join(p.Expertise, ", "))
		}
		if len(p.Tools) > 0 {
			fmt.Fprintf(&b, " (tools: %s)", strings.Join(p.Tools, ", "))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "- %s: fallback for anything else\n", core.DomainGeneral)

	if len(q.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, turn := range q.History {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
	}

	if q.User.Role != "" || q.User.Department != "" {
		fmt.Fprintf(&b, "\nCaller role: %s, department: %s.\n", q.User.Role, q.User.Department)
	}
	fmt.Fprintf(&b, "\nQuery (%s): %s\n", q.Language, q.Query)
	b.WriteString("\nPick the smallest domain set that can fully answer the query, ranked by priority.")

	return b.String()
}

func appendNote(rationale, note string) string {
	if rationale == "" {
		return note
	}
	return rationale + "; " + note
}

func containsDomain(list []core.Domain, d core.Domain) bool {
	for _, v := range list {
		if v == d {
			return true
		}
	}
	return false
}
