package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoderFake/aichatbot/agent"
	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/internal/schema"
	"github.com/CoderFake/aichatbot/model"
	"github.com/CoderFake/aichatbot/registry"
	"github.com/CoderFake/aichatbot/resolver"
	"github.com/CoderFake/aichatbot/selector"
	"github.com/CoderFake/aichatbot/synthesis"
)

// newCalculatorEngine wires a full engine around a mock model with a math
// specialist backed by a real calculator capability.
func newCalculatorEngine(t *testing.T, m model.Model) *Engine {
	t.Helper()

	reg := registry.New()
	require.NoError(t, reg.Register(registry.NewFuncCapability(core.ToolSchema{
		Name:        "calculate",
		Description: "Evaluates an arithmetic expression",
		Version:     1,
		Required:    []string{"expression"},
		Properties: map[string]schema.Property{
			"expression": {Type: "string"},
		},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		if args["expression"] == "2+2" {
			return "4", nil
		}
		return nil, registry.NewCapabilityError("calculate", "unsupported expression", registry.CodeExecution)
	})))

	pool := agent.NewPool()
	require.NoError(t, pool.Register(agent.NewGeneralSpecialist(m, nil)))
	require.NoError(t, pool.Register(agent.NewToolSpecialist(agent.ToolSpecialistConfig{
		Domain:       "math",
		Description:  "Arithmetic and calculations",
		Capabilities: []string{"calculate"},
	}, m, reg, resolver.New(m, nil), nil)))

	return New(m, pool, selector.New(m, nil), synthesis.New(m, nil))
}

func runToCompletion(e *Engine, query string) []core.WorkflowEvent {
	q := core.NewQueryContext(query, "en", core.UserContext{}, nil)
	stream := core.NewStream(q.RequestID, 256)
	go e.Run(context.Background(), q, stream)

	var events []core.WorkflowEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	return events
}

func TestRun_CalculatorQuery(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Classify the user message", "task")
	m.AddResponse("specialist domains",
		`{"domains": ["math"], "complexity_score": 0.2, "confidence": 0.9, "rationale": "arithmetic"}`)
	m.AddResponse("Tool: calculate", `{"expression": "2+2"}`)
	m.AddResponse("Phrase this for the user", "4")
	m.AddResponse("Suggest follow-up questions", `{"followups": ["What is 3+3?"]}`)

	events := runToCompletion(newCalculatorEngine(t, m), "What is 2+2?")
	require.NotEmpty(t, events)

	// First event is start, then the plan for the math domain.
	assert.Equal(t, core.EventStart, events[0].Type)
	assert.Equal(t, core.EventPlan, events[1].Type)
	require.NotNil(t, events[1].Plan)
	assert.Equal(t, []core.Domain{"math"}, events[1].Plan.Domains)

	// Fragments concatenate to the phrased answer.
	var answer strings.Builder
	for _, ev := range events {
		if ev.Type == core.EventResponseFragment {
			answer.WriteString(ev.Text)
		}
	}
	assert.Equal(t, "4", answer.String())

	// Sequence numbers are strictly increasing and the terminal event is last.
	var last uint64
	for _, ev := range events {
		assert.Greater(t, ev.Seq, last)
		last = ev.Seq
	}
	final := events[len(events)-1]
	require.Equal(t, core.EventEnd, final.Type)
	require.NotNil(t, final.Final)
	assert.Equal(t, core.StatusCompleted, final.Final.Status)
	assert.Equal(t, "4", final.Final.Answer)
	assert.Equal(t, []string{"tool:calculate"}, final.Final.Evidence)
	assert.Equal(t, []string{"What is 3+3?"}, final.Final.FollowUps)
	assert.Equal(t, []string{"math"}, final.Final.Metadata.DomainsInvoked)
	assert.Equal(t, []string{"calculate"}, final.Final.Metadata.ToolsInvoked)
}

func TestRun_AllSpecialistsFail(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Classify the user message", "task")
	m.AddResponse("specialist domains",
		`{"domains": ["math"], "complexity_score": 0.2, "confidence": 0.9}`)
	// Extraction never produces valid parameters, exhausting the repair loop.
	m.AddResponse("Tool: calculate", "I cannot produce JSON today")

	events := runToCompletion(newCalculatorEngine(t, m), "What is 2+2?")
	require.NotEmpty(t, events)

	terminals := 0
	for _, ev := range events {
		assert.NotEqual(t, core.EventResponseFragment, ev.Type,
			"no fragments when nothing usable was produced")
		if ev.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)

	final := events[len(events)-1]
	require.NotNil(t, final.Final)
	assert.Equal(t, core.StatusError, final.Final.Status)
	assert.NotEmpty(t, final.Final.Answer, "error message is user-facing")
	assert.NotEmpty(t, final.Final.Metadata.PhaseErrors)
}

func TestRun_ChitchatBypassesSpecialists(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Classify the user message", "chitchat")
	m.AddResponse("friendly assistant", "Hey there! How can I help?")
	m.AddResponse("Suggest follow-up questions", `{"followups": []}`)

	events := runToCompletion(newCalculatorEngine(t, m), "hello!")

	for _, ev := range events {
		assert.NotEqual(t, core.EventPlan, ev.Type, "chitchat emits no plan")
	}
	final := events[len(events)-1]
	require.Equal(t, core.EventEnd, final.Type)
	assert.Equal(t, core.StatusCompleted, final.Final.Status)
	assert.Equal(t, "Hey there! How can I help?", final.Final.Answer)
	assert.Empty(t, final.Final.Metadata.DomainsInvoked)
}

func TestRun_ChitchatKeepsConversationContext(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Classify the user message", "chitchat")
	// Matches only when the phrasing prompt carries the earlier turns.
	m.AddResponse("I just planted a lemon tree", "You said you planted a lemon tree.")
	m.AddResponse("Suggest follow-up questions", `{"followups": []}`)

	e := newCalculatorEngine(t, m)
	q := core.NewQueryContext("what did I just say?", "en", core.UserContext{}, []core.ConversationTurn{
		{Role: "user", Content: "I just planted a lemon tree"},
		{Role: "assistant", Content: "Nice, lemon trees like full sun."},
	})
	stream := core.NewStream(q.RequestID, 64)
	go e.Run(context.Background(), q, stream)

	var events []core.WorkflowEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	final := events[len(events)-1]
	require.Equal(t, core.EventEnd, final.Type)
	assert.Equal(t, core.StatusCompleted, final.Final.Status)
	assert.Equal(t, "You said you planted a lemon tree.", final.Final.Answer)
}

// truncatingModel cuts off the stream for prompts containing marker after a
// few fragments; everything else goes to the embedded mock.
type truncatingModel struct {
	*model.MockModel
	marker    string
	fragments []string
	err       error
}

func (c *truncatingModel) InvokeStream(ctx context.Context, req model.Request) (<-chan string, <-chan error) {
	if !strings.Contains(req.System+"\n"+req.Prompt, c.marker) {
		return c.MockModel.InvokeStream(ctx, req)
	}
	out := make(chan string, len(c.fragments))
	errCh := make(chan error, 1)
	for _, f := range c.fragments {
		out <- f
	}
	close(out)
	errCh <- c.err
	close(errCh)
	return out, errCh
}

func TestRun_TruncatedPhrasingShowsInPhaseErrors(t *testing.T) {
	base := model.NewMockModel()
	base.AddResponse("Classify the user message", "task")
	base.AddResponse("specialist domains",
		`{"domains": ["math"], "complexity_score": 0.2, "confidence": 0.9}`)
	base.AddResponse("Tool: calculate", `{"expression": "2+2"}`)
	base.AddResponse("Suggest follow-up questions", `{"followups": []}`)

	m := &truncatingModel{
		MockModel: base,
		marker:    "Phrase this for the user",
		fragments: []string{"The answer ", "is"},
		err:       errors.New("connection reset"),
	}

	events := runToCompletion(newCalculatorEngine(t, m), "What is 2+2?")
	final := events[len(events)-1]
	require.Equal(t, core.EventEnd, final.Type)

	// The request still completes with the partial text, but the cut-off is
	// attributed in the terminal metadata.
	assert.Equal(t, core.StatusCompleted, final.Final.Status)
	assert.Equal(t, "The answer is", final.Final.Answer)
	require.Contains(t, final.Final.Metadata.PhaseErrors, string(PhaseFinalResponse))
	assert.Equal(t, "processing failed", final.Final.Metadata.PhaseErrors[string(PhaseFinalResponse)])
}

func TestRun_CancellationStillEmitsTerminalEvent(t *testing.T) {
	m := model.NewMockModel()
	e := newCalculatorEngine(t, m)

	q := core.NewQueryContext("What is 2+2?", "en", core.UserContext{}, nil)
	stream := core.NewStream(q.RequestID, 64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e.Run(ctx, q, stream)

	var events []core.WorkflowEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	final := events[len(events)-1]
	require.Equal(t, core.EventEnd, final.Type)
	assert.Equal(t, core.StatusError, final.Final.Status)
}

// slowSpecialist blocks until its context is done.
type slowSpecialist struct{ domain core.Domain }

func (s *slowSpecialist) Domain() core.Domain { return s.domain }
func (s *slowSpecialist) Profile() core.DomainProfile {
	return core.DomainProfile{Domain: s.domain, Description: "slow"}
}
func (s *slowSpecialist) Handle(ctx context.Context, task core.Task) core.AgentResponse {
	<-ctx.Done()
	return core.FailedResponse(s.domain, 0, ctx.Err())
}

func TestRun_PlanningDeadlineProducesFailureAccounting(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Classify the user message", "task")
	m.AddResponse("specialist domains",
		`{"domains": ["slow"], "complexity_score": 0.2, "confidence": 0.9}`)

	pool := agent.NewPool()
	require.NoError(t, pool.Register(&slowSpecialist{domain: "slow"}))

	e := New(m, pool, selector.New(m, nil), synthesis.New(m, nil), func(o *Options) {
		o.Timeouts = Timeouts{
			Reflection: time.Second,
			Planning:   30 * time.Millisecond,
			Synthesis:  time.Second,
			Response:   time.Second,
		}
	})

	events := runToCompletion(e, "do the slow thing")
	final := events[len(events)-1]
	require.Equal(t, core.EventEnd, final.Type)
	assert.Equal(t, core.StatusError, final.Final.Status)
	assert.Contains(t, final.Final.Metadata.PhaseErrors, "slow")
}

func TestRun_MultiDomainSynthesis(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Classify the user message", "task")
	m.AddResponse("specialist domains",
		`{"domains": ["alpha", "beta"], "complexity_score": 0.95, "confidence": 0.9, "cross_domain": true}`)
	m.AddResponse("Specialist answers", "Combined alpha and beta answer.")
	m.AddResponse("Phrase this for the user", "Combined alpha and beta answer.")
	m.AddResponse("Suggest follow-up questions", `{"followups": []}`)

	pool := agent.NewPool()
	require.NoError(t, pool.Register(&cannedSpecialist{domain: "alpha", content: "alpha says A", confidence: 0.8}))
	require.NoError(t, pool.Register(&cannedSpecialist{domain: "beta", content: "beta says B", confidence: 0.9}))

	e := New(m, pool, selector.New(m, nil), synthesis.New(m, nil))
	events := runToCompletion(e, "complex cross-domain question")

	final := events[len(events)-1]
	require.Equal(t, core.EventEnd, final.Type)
	assert.Equal(t, core.StatusCompleted, final.Final.Status)
	assert.Equal(t, "Combined alpha and beta answer.", final.Final.Answer)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, final.Final.Metadata.DomainsInvoked)
}

type cannedSpecialist struct {
	domain     core.Domain
	content    string
	confidence float64
}

func (s *cannedSpecialist) Domain() core.Domain { return s.domain }
func (s *cannedSpecialist) Profile() core.DomainProfile {
	return core.DomainProfile{Domain: s.domain, Description: string(s.domain)}
}
func (s *cannedSpecialist) Handle(ctx context.Context, task core.Task) core.AgentResponse {
	return core.AgentResponse{Domain: s.domain, Content: s.content, Confidence: s.confidence, Success: true}
}
