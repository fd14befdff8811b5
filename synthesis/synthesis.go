// Package synthesis merges one-or-many specialist responses into a single
// answer, weighting by confidence and deduplicating evidence. Synthesis is
// fail-safe: a model failure falls back deterministically to the highest
// confidence surviving response, never an error to the workflow.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/logging"
	"github.com/CoderFake/aichatbot/model"
)

const (
	// allFailedConfidence is the fixed confidence reported when no
	// specialist produced a usable response.
	allFailedConfidence = 0.1
	// combinedConfidenceCap bounds the merged confidence: a merge is never
	// more certain than this regardless of its inputs.
	combinedConfidenceCap = 0.95
)

// Synthesizer reconciles specialist responses.
type Synthesizer struct {
	model  model.Model
	logger logging.Logger
}

// New creates a Synthesizer.
func New(m model.Model, logger logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Synthesizer{model: m, logger: logger}
}

// Synthesize merges responses into one ConflictResolution.
//
// Exactly one response is passed through verbatim with no model call. With
// several, failed responses are discarded first: if none survive, a fixed
// all-failed result is returned; otherwise the model merges the survivors,
// preferring higher-confidence evidence where they contradict. Combined
// confidence is the arithmetic mean of surviving confidences, capped.
func (s *Synthesizer) Synthesize(ctx context.Context, responses []core.AgentResponse, selection core.SelectionResult, language string) core.ConflictResolution {
	if len(responses) == 1 && responses[0].Success {
		r := responses[0]
		return core.ConflictResolution{
			Answer:         r.Content,
			Evidence:       r.Evidence,
			Confidence:     core.Clamp01(r.Confidence),
			Method:         core.ResolutionSingleWinner,
			ConsensusScore: 1,
		}
	}

	survivors := make([]core.AgentResponse, 0, len(responses))
	for _, r := range responses {
		if r.Success {
			survivors = append(survivors, r)
		}
	}

	switch len(survivors) {
	case 0:
		return core.ConflictResolution{
			Answer:     "All specialists failed to produce an answer.",
			Evidence:   []string{},
			Confidence: allFailedConfidence,
			Method:     core.ResolutionAllFailed,
		}
	case 1:
		r := survivors[0]
		return core.ConflictResolution{
			Answer:         r.Content,
			Evidence:       r.Evidence,
			Confidence:     core.Clamp01(r.Confidence),
			Method:         core.ResolutionSingleWinner,
			ConsensusScore: 1,
		}
	}

	confidence := combinedConfidence(survivors)
	evidence := mergedEvidence(survivors)

	answer, err := s.model.Invoke(ctx, model.Request{
		System: synthesisSystem,
		Prompt: buildPrompt(survivors, language),
	})
	if err != nil || strings.TrimSpace(answer) == "" {
		s.logger.Warn("synthesis model call failed, escalating to best response", "error", err)
		best := bestOf(survivors)
		return core.ConflictResolution{
			Answer:         best.Content,
			Evidence:       best.Evidence,
			Confidence:     core.Clamp01(best.Confidence),
			Method:         core.ResolutionEscalation,
			ConsensusScore: consensus(survivors),
		}
	}

	return core.ConflictResolution{
		Answer:         strings.TrimSpace(answer),
		Evidence:       evidence,
		Confidence:     confidence,
		Method:         core.ResolutionEvidenceWeighted,
		ConsensusScore: consensus(survivors),
	}
}

const synthesisSystem = "You reconcile answers from multiple specialist agents into one coherent answer. " +
	"Where they contradict, prefer the higher-confidence evidence. Do not mention the agents."

func buildPrompt(survivors []core.AgentResponse, language string) string {
	var b strings.Builder
	b.WriteString("Specialist answers:\n")
	for _, r := range survivors {
		fmt.Fprintf(&b, "\n[%s] (confidence %.2f)\n%s\n", r.Domain, r.Confidence, r.Content)
	}
	fmt.Fprintf(&b, "\nProduce one coherent answer in %s that resolves any contradictions.", language)
	return b.String()
}

func combinedConfidence(survivors []core.AgentResponse) float64 {
	var sum float64
	for _, r := range survivors {
		sum += core.Clamp01(r.Confidence)
	}
	mean := sum / float64(len(survivors))
	if mean > combinedConfidenceCap {
		return combinedConfidenceCap
	}
	return mean
}

func mergedEvidence(survivors []core.AgentResponse) []string {
	var all []string
	for _, r := range survivors {
		all = append(all, r.Evidence...)
	}
	return core.DedupeStrings(all)
}

func bestOf(survivors []core.AgentResponse) core.AgentResponse {
	best := survivors[0]
	for _, r := range survivors[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	return best
}

// consensus measures agreement as 1 minus the confidence spread: tightly
// clustered confidences suggest the specialists broadly agree on certainty.
func consensus(survivors []core.AgentResponse) float64 {
	min, max := survivors[0].Confidence, survivors[0].Confidence
	for _, r := range survivors[1:] {
		if r.Confidence < min {
			min = r.Confidence
		}
		if r.Confidence > max {
			max = r.Confidence
		}
	}
	return core.Clamp01(1 - (max - min))
}
