package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/logging"
	"github.com/CoderFake/aichatbot/model"
)

// generalConfidence is a placeholder constant, not a scoring algorithm: the
// general specialist has no signal to derive confidence from.
const generalConfidence = 0.7

// GeneralSpecialist answers queries that no domain specialist claimed, with
// a plain conversational model call and the bounded history window.
type GeneralSpecialist struct {
	model  model.Model
	logger logging.Logger
}

// NewGeneralSpecialist creates the fallback specialist.
func NewGeneralSpecialist(m model.Model, logger logging.Logger) *GeneralSpecialist {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &GeneralSpecialist{model: m, logger: logger}
}

// Domain implements Specialist.
func (g *GeneralSpecialist) Domain() core.Domain { return core.DomainGeneral }

// Profile implements Specialist.
func (g *GeneralSpecialist) Profile() core.DomainProfile {
	return core.DomainProfile{
		Domain:      core.DomainGeneral,
		Description: "General assistant for anything outside the specialist domains",
	}
}

// Handle implements Specialist.
func (g *GeneralSpecialist) Handle(ctx context.Context, task core.Task) core.AgentResponse {
	start := time.Now()

	var b strings.Builder
	if len(task.Query.History) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range task.Query.History {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Answer in %s.\n\n%s", task.Query.Language, task.Query.Query)

	content, err := g.model.Invoke(ctx, model.Request{
		System: "You are a helpful assistant. Answer concisely and factually.",
		Prompt: b.String(),
	})
	if err != nil {
		g.logger.Warn("general specialist model call failed", "error", err)
		return core.FailedResponse(core.DomainGeneral, time.Since(start), err)
	}

	return core.AgentResponse{
		Domain:     core.DomainGeneral,
		Content:    content,
		Confidence: generalConfidence,
		Duration:   time.Since(start),
		Success:    true,
	}
}
