package core

import (
	"time"
)

// SelectionResult is the Agent Selector's immutable verdict for one query:
// which specialist domains should handle it, expected complexity and the
// selector's own confidence, both in [0,1]. The workflow consumes it to pick
// the next phase.
type SelectionResult struct {
	Domains           []Domain      `json:"domains"`            // non-empty; priority order
	ComplexityScore   float64       `json:"complexity_score"`   // [0,1]
	Confidence        float64       `json:"confidence"`         // [0,1]
	CrossDomain       bool          `json:"cross_domain"`       // genuinely needs >1 domain
	Rationale         string        `json:"rationale"`          // model-reported reasoning
	EstimatedDuration time.Duration `json:"estimated_duration"` // rough budget hint
}

// Primary returns the highest-priority selected domain, or general when the
// domain set is empty.
func (s SelectionResult) Primary() Domain {
	if len(s.Domains) == 0 {
		return DomainGeneral
	}
	return s.Domains[0]
}

// DomainProfile advertises one enabled specialist domain to the selector:
// what it knows and which tools it may use. Profiles are derived from the
// registered pool, so selection is always validated against a closed set.
type DomainProfile struct {
	Domain      Domain   `json:"domain"`
	Description string   `json:"description"`
	Expertise   []string `json:"expertise,omitempty"`
	Tools       []string `json:"tools,omitempty"`
}

// Task is the unit of work handed to one specialist: the query plus the
// request context and the selection that chose this domain.
type Task struct {
	Domain    Domain
	Query     *QueryContext
	Selection SelectionResult
}

// AgentResponse is the typed result of exactly one specialist unit. Immutable
// once emitted; consumed by the synthesizer. A failed unit still produces a
// response with Success=false so the fan-in accounting stays complete.
type AgentResponse struct {
	Domain     Domain        `json:"domain"`
	Content    string        `json:"content"`
	Confidence float64       `json:"confidence"` // [0,1]
	Evidence   []string      `json:"evidence"`   // ordered source identifiers
	ToolsUsed  []string      `json:"tools_used"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}

// FailedResponse builds the canonical failure record for a domain so that
// timeouts and tool failures are indistinguishable from the synthesizer's
// point of view.
func FailedResponse(domain Domain, dur time.Duration, err error) AgentResponse {
	r := AgentResponse{Domain: domain, Duration: dur, Success: false}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// ResolutionMethod names how a ConflictResolution was produced.
type ResolutionMethod string

const (
	// ResolutionSingleWinner means exactly one usable response existed and
	// was passed through verbatim.
	ResolutionSingleWinner ResolutionMethod = "single_winner"
	// ResolutionEvidenceWeighted means multiple responses were merged by the
	// model, weighting by confidence.
	ResolutionEvidenceWeighted ResolutionMethod = "evidence_weighted"
	// ResolutionEscalation means synthesis could not merge and fell back to
	// the highest-confidence survivor.
	ResolutionEscalation ResolutionMethod = "escalation"
	// ResolutionAllFailed means no specialist produced a usable response.
	ResolutionAllFailed ResolutionMethod = "all_failed"
)

// ConflictResolution is the merged outcome of one-or-many specialist
// responses: a single answer, deduplicated evidence and a consensus score.
type ConflictResolution struct {
	Answer         string           `json:"answer"`
	Evidence       []string         `json:"evidence"`
	Confidence     float64          `json:"confidence"` // [0,1]
	Method         ResolutionMethod `json:"method"`
	ConsensusScore float64          `json:"consensus_score"` // [0,1]
}

// Clamp01 bounds a score to [0,1]. Model-reported confidences and
// complexities pass through this before being trusted.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DedupeStrings returns values with duplicates removed, preserving first-seen
// order. Used to merge evidence lists across responses.
func DedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
