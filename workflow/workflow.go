// Package workflow composes selection, specialist fan-out, synthesis and
// response phrasing into a bounded state machine:
//
//	start → semantic_reflection → execute_planning → conflict_resolution →
//	final_response → end
//
// with a parallel error state reachable from every phase. Each phase has an
// independent timeout; a timeout is a phase-local failure, never a process
// crash. The machine always emits exactly one terminal event per request,
// including on cancellation.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/CoderFake/aichatbot/agent"
	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/internal/jsonx"
	"github.com/CoderFake/aichatbot/logging"
	"github.com/CoderFake/aichatbot/model"
	"github.com/CoderFake/aichatbot/selector"
	"github.com/CoderFake/aichatbot/synthesis"
)

// Phase names one state of the workflow machine.
type Phase string

// Workflow phases. PhaseError is reachable from every other phase.
const (
	PhaseStart              Phase = "start"
	PhaseSemanticReflection Phase = "semantic_reflection"
	PhaseExecutePlanning    Phase = "execute_planning"
	PhaseConflictResolution Phase = "conflict_resolution"
	PhaseFinalResponse      Phase = "final_response"
	PhaseError              Phase = "error"
	PhaseEnd                Phase = "end"
)

// Timeouts hold the independent per-phase deadlines.
type Timeouts struct {
	Reflection time.Duration
	Planning   time.Duration
	Synthesis  time.Duration
	Response   time.Duration
}

// DefaultTimeouts are safe development defaults.
var DefaultTimeouts = Timeouts{
	Reflection: 15 * time.Second,
	Planning:   90 * time.Second,
	Synthesis:  30 * time.Second,
	Response:   60 * time.Second,
}

// Options configure an Engine.
type Options struct {
	Timeouts Timeouts
	// ProductionSafe suppresses technical error detail in terminal events.
	ProductionSafe bool
	Logger         logging.Logger
}

// Engine runs the workflow state machine for one request at a time per call;
// the Engine itself is stateless across requests and safe for concurrent use.
type Engine struct {
	model       model.Model
	pool        *agent.Pool
	selector    *selector.Selector
	synthesizer *synthesis.Synthesizer
	logger      logging.Logger
	timeouts    Timeouts
	prodSafe    bool
	tracer      trace.Tracer
}

// New creates a workflow Engine.
func New(m model.Model, pool *agent.Pool, sel *selector.Selector, syn *synthesis.Synthesizer, optFns ...func(o *Options)) *Engine {
	opts := Options{Timeouts: DefaultTimeouts, ProductionSafe: true, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Engine{
		model:       m,
		pool:        pool,
		selector:    sel,
		synthesizer: syn,
		logger:      opts.Logger,
		timeouts:    opts.Timeouts,
		prodSafe:    opts.ProductionSafe,
		tracer:      otel.Tracer("aichatbot/workflow"),
	}
}

// runState accumulates execution accounting across phases so the terminal
// event's metadata stays accurate even on partial failure.
type runState struct {
	selection   core.SelectionResult
	responses   []core.AgentResponse
	resolution  *core.ConflictResolution
	chitchat    bool
	phaseErrors map[string]string
}

// Run executes the state machine for one request. It never returns an error:
// every failure mode, including cancellation, is converted into the single
// terminal event on the stream.
func (e *Engine) Run(ctx context.Context, q *core.QueryContext, stream *core.Stream) {
	state := &runState{phaseErrors: map[string]string{}}

	ctx, span := e.tracer.Start(ctx, "workflow.run")
	defer span.End()

	if err := stream.EmitStart(); err != nil {
		return // stream already terminated by a racing cancel
	}

	if !e.semanticReflection(ctx, q, stream, state) {
		e.terminalError(q, stream, state)
		return
	}

	if !state.chitchat {
		if !e.executePlanning(ctx, q, state) {
			e.terminalError(q, stream, state)
			return
		}
		if !e.routeResponses(ctx, q, state) {
			e.terminalError(q, stream, state)
			return
		}
	}

	e.finalResponse(ctx, q, stream, state)
}

// semanticReflection classifies the query as chitchat or task-oriented and,
// for tasks, runs domain selection and emits the plan. Classification
// failures default to task-oriented; only cancellation aborts.
func (e *Engine) semanticReflection(ctx context.Context, q *core.QueryContext, stream *core.Stream, state *runState) bool {
	phaseStart := time.Now()
	phaseCtx, cancel := context.WithTimeout(ctx, e.timeouts.Reflection)
	defer cancel()
	phaseCtx, span := e.tracer.Start(phaseCtx, string(PhaseSemanticReflection))
	defer span.End()

	chitchat, err := e.classify(phaseCtx, q)
	if err != nil {
		if ctx.Err() != nil {
			state.phaseErrors[string(PhaseSemanticReflection)] = "request cancelled"
			return false
		}
		// Classification is advisory; treat the query as task-oriented.
		e.logger.Warn("semantic reflection failed, assuming task query", "error", err)
	}
	state.chitchat = chitchat

	if !chitchat {
		state.selection = e.selector.Select(phaseCtx, q, e.pool.Profiles(q.User))
		if err := stream.EmitPlan(state.selection); err != nil {
			return false
		}
	}

	e.logPhase(PhaseSemanticReflection, phaseStart, nil)
	return true
}

// executePlanning fans out one specialist per selected domain and rejoins
// under the phase deadline. This is a barrier, not best-effort: a domain that
// has not responded by the deadline is recorded as a failed AgentResponse so
// the synthesizer always sees an accounting-consistent input set.
func (e *Engine) executePlanning(ctx context.Context, q *core.QueryContext, state *runState) bool {
	phaseStart := time.Now()
	planCtx, cancel := context.WithTimeout(ctx, e.timeouts.Planning)
	defer cancel()
	planCtx, span := e.tracer.Start(planCtx, string(PhaseExecutePlanning))
	defer span.End()

	domains := state.selection.Domains
	responses := make([]core.AgentResponse, len(domains))
	filled := make([]bool, len(domains))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, d := range domains {
		wg.Add(1)
		go func(i int, d core.Domain) {
			defer wg.Done()
			var resp core.AgentResponse
			if sp, ok := e.pool.Get(d); ok {
				resp = sp.Handle(planCtx, core.Task{Domain: d, Query: q, Selection: state.selection})
			} else {
				resp = core.FailedResponse(d, 0, fmt.Errorf("no specialist registered for domain %s", d))
			}
			mu.Lock()
			responses[i] = resp
			filled[i] = true
			mu.Unlock()
		}(i, d)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-planCtx.Done():
	}

	mu.Lock()
	out := make([]core.AgentResponse, len(domains))
	for i := range domains {
		if filled[i] {
			out[i] = responses[i]
		} else {
			out[i] = core.FailedResponse(domains[i], time.Since(phaseStart),
				fmt.Errorf("domain %s did not respond before the phase deadline", domains[i]))
		}
	}
	mu.Unlock()
	state.responses = out

	for _, r := range out {
		if !r.Success {
			state.phaseErrors[string(r.Domain)] = e.userSafeMsg(r.Error)
			e.logger.Warn("specialist failed", "domain", r.Domain, "error", r.Error)
		}
	}

	if ctx.Err() != nil {
		state.phaseErrors[string(PhaseExecutePlanning)] = "request cancelled"
		return false
	}

	e.logPhase(PhaseExecutePlanning, phaseStart, nil)
	return true
}

// routeResponses computes the routing decision after the fan-in: one usable
// response skips synthesis, two or more go through conflict_resolution, and
// none funnels into the error state.
func (e *Engine) routeResponses(ctx context.Context, q *core.QueryContext, state *runState) bool {
	usable := 0
	for _, r := range state.responses {
		if r.Success {
			usable++
		}
	}

	if usable == 0 {
		state.phaseErrors[string(PhaseExecutePlanning)] = "no specialist produced a usable answer"
		return false
	}

	if usable == 1 {
		// Single winner: the synthesizer passes it through verbatim without
		// a model call, so no conflict_resolution phase is entered.
		res := e.synthesizer.Synthesize(ctx, state.responses, state.selection, q.Language)
		state.resolution = &res
		return true
	}

	return e.conflictResolution(ctx, q, state)
}

// conflictResolution invokes the synthesizer under its own deadline and
// always routes forward to final_response.
func (e *Engine) conflictResolution(ctx context.Context, q *core.QueryContext, state *runState) bool {
	phaseStart := time.Now()
	synthCtx, cancel := context.WithTimeout(ctx, e.timeouts.Synthesis)
	defer cancel()
	synthCtx, span := e.tracer.Start(synthCtx, string(PhaseConflictResolution))
	defer span.End()

	res := e.synthesizer.Synthesize(synthCtx, state.responses, state.selection, q.Language)
	state.resolution = &res

	if ctx.Err() != nil {
		state.phaseErrors[string(PhaseConflictResolution)] = "request cancelled"
		return false
	}
	if res.Method == core.ResolutionAllFailed {
		state.phaseErrors[string(PhaseConflictResolution)] = "no specialist produced a usable answer"
		return false
	}

	e.logPhase(PhaseConflictResolution, phaseStart, nil)
	return true
}

// chitchatConfidence is the placeholder score for direct conversational
// answers that bypass the specialist pool.
const chitchatConfidence = 0.9

// finalResponse phrases the answer, streams it as fragments, generates
// follow-up suggestions, and emits the terminal event. It is the single
// place where upstream partial failures become a user-facing message.
func (e *Engine) finalResponse(ctx context.Context, q *core.QueryContext, stream *core.Stream, state *runState) {
	phaseStart := time.Now()
	respCtx, cancel := context.WithTimeout(ctx, e.timeouts.Response)
	defer cancel()
	respCtx, span := e.tracer.Start(respCtx, string(PhaseFinalResponse))
	defer span.End()

	var (
		answer     string
		streamErr  error
		evidence   []string
		confidence float64
	)

	if state.chitchat {
		answer, streamErr = e.streamAnswer(respCtx, stream, model.Request{
			System: "You are a friendly assistant. Reply briefly and naturally.",
			Prompt: e.chitchatPrompt(q),
		}, "")
		confidence = chitchatConfidence
	} else {
		res := state.resolution
		evidence = res.Evidence
		confidence = res.Confidence
		answer, streamErr = e.streamAnswer(respCtx, stream, model.Request{
			System: "You phrase final answers for the user. Keep all facts exactly as given; do not invent detail.",
			Prompt: fmt.Sprintf("Question: %s\n\nAnswer content:\n%s\n\nPhrase this for the user in %s.", q.Query, res.Answer, q.Language),
		}, res.Answer)
	}

	if answer == "" {
		// Nothing usable could be produced or streamed.
		state.phaseErrors[string(PhaseFinalResponse)] = "answer generation failed"
		e.terminalError(q, stream, state)
		return
	}
	if streamErr != nil {
		// Partial answer delivered; the cut-off must show up in the terminal
		// event's accounting even though the request completes.
		state.phaseErrors[string(PhaseFinalResponse)] = e.userSafeMsg(streamErr.Error())
	}

	followups := e.followups(respCtx, q, answer)
	for _, f := range followups {
		if err := stream.EmitFollowup(f); err != nil {
			return
		}
	}

	e.logPhase(PhaseFinalResponse, phaseStart, nil)

	_ = stream.End(core.FinalPayload{
		Status:     core.StatusCompleted,
		Answer:     answer,
		Evidence:   evidence,
		Confidence: core.Clamp01(confidence),
		FollowUps:  followups,
		Metadata:   e.metadata(q, state),
	})
}

// chitchatPrompt builds the direct conversational prompt, carrying the
// bounded history window so small talk keeps its context.
func (e *Engine) chitchatPrompt(q *core.QueryContext) string {
	var b strings.Builder
	if len(q.History) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range q.History {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Reply in %s.\n\n%s", q.Language, q.Query)
	return b.String()
}

// streamAnswer streams a phrasing call as response fragments, returning the
// concatenated answer and the streaming error, if any. On streaming failure
// it falls back to emitting the unphrased content as a single fragment; an
// empty answer means total failure.
func (e *Engine) streamAnswer(ctx context.Context, stream *core.Stream, req model.Request, fallbackText string) (string, error) {
	frags, errCh := e.model.InvokeStream(ctx, req)

	var b strings.Builder
	for frag := range frags {
		if frag == "" {
			continue
		}
		if err := stream.EmitFragment(frag); err != nil {
			return b.String(), nil
		}
		b.WriteString(frag)
	}
	if err := <-errCh; err != nil {
		e.logger.Warn("answer streaming failed", "error", err)
		if b.Len() == 0 && fallbackText != "" {
			if emitErr := stream.EmitFragment(fallbackText); emitErr == nil {
				return fallbackText, err
			}
			return "", err
		}
		return b.String(), err
	}
	return b.String(), nil
}

// followups asks for up to three short follow-up suggestions. Failures are
// silent: a request without followups is complete.
func (e *Engine) followups(ctx context.Context, q *core.QueryContext, answer string) []string {
	raw, err := e.model.Invoke(ctx, model.Request{
		System: "Suggest follow-up questions. Respond with JSON: {\"followups\": [\"..\"]}. At most three, each under 80 characters.",
		Prompt: fmt.Sprintf("Question (%s): %s\n\nAnswer: %s", q.Language, q.Query, answer),
	})
	if err != nil {
		return nil
	}
	result, err := jsonx.ParseObject(raw)
	if err != nil {
		return nil
	}
	followups := jsonx.StringList(result, "followups")
	if len(followups) > 3 {
		followups = followups[:3]
	}
	return followups
}

// terminalError emits the single terminal event for the error state with a
// localized, user-safe message. Technical detail is logged, not echoed.
func (e *Engine) terminalError(q *core.QueryContext, stream *core.Stream, state *runState) {
	e.logger.Error("workflow failed", "request_id", q.RequestID, "phase_errors", state.phaseErrors)
	_ = stream.End(core.FinalPayload{
		Status:     core.StatusError,
		Answer:     errorMessage(q.Language),
		Evidence:   []string{},
		Confidence: 0,
		Metadata:   e.metadata(q, state),
	})
}

// classify asks the model whether the query is chitchat or a task. The
// answer is a single word; anything unrecognized counts as a task.
func (e *Engine) classify(ctx context.Context, q *core.QueryContext) (bool, error) {
	raw, err := e.model.Invoke(ctx, model.Request{
		System: "Classify the user message. Reply with exactly one word: \"chitchat\" for greetings and small talk, \"task\" for anything that needs information or action.",
		Prompt: q.Query,
	})
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(raw), "chitchat"), nil
}

func (e *Engine) metadata(q *core.QueryContext, state *runState) core.ExecutionMetadata {
	md := core.ExecutionMetadata{
		Elapsed: time.Since(q.StartedAt),
	}
	for _, d := range state.selection.Domains {
		md.DomainsInvoked = append(md.DomainsInvoked, string(d))
	}
	var tools []string
	for _, r := range state.responses {
		tools = append(tools, r.ToolsUsed...)
	}
	md.ToolsInvoked = core.DedupeStrings(tools)
	if len(state.phaseErrors) > 0 {
		md.PhaseErrors = state.phaseErrors
	}
	return md
}

// userSafeMsg converts an internal error message into one safe for terminal
// event metadata. In production-safe mode the technical detail stays in the
// logs only.
func (e *Engine) userSafeMsg(msg string) string {
	if msg == "" {
		return ""
	}
	if e.prodSafe {
		return "processing failed"
	}
	return msg
}

func (e *Engine) logPhase(p Phase, start time.Time, err error) {
	if ol, ok := e.logger.(*logging.OrchestratorLogger); ok {
		ol.LogPhase(string(p), time.Since(start), err == nil, err)
		return
	}
	e.logger.Debug("phase completed", "phase", string(p), "duration_ms", time.Since(start).Milliseconds())
}

// errorMessage returns the localized user-safe failure text.
func errorMessage(language string) string {
	switch language {
	case "vi":
		return "Xin lỗi, đã có lỗi xảy ra khi xử lý yêu cầu của bạn. Vui lòng thử lại."
	case "ja":
		return "申し訳ありませんが、リクエストの処理中にエラーが発生しました。もう一度お試しください。"
	default:
		return "Sorry, something went wrong while processing your request. Please try again."
	}
}
