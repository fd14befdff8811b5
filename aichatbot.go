// Package aichatbot provides a high-level façade over the query
// orchestration engine: domain selection, parallel specialist execution,
// conflict synthesis and the ordered event stream. Most applications
// interact with this package by:
//  1. Creating an Orchestrator via New() (optionally overriding the model
//     backend and logger)
//  2. Registering capabilities and specialists, or applying a manifest
//  3. Asking questions via Ask (collected) or AskStream (ordered events)
//
// The façade delegates execution to workflow.Engine while keeping setup and
// usage ergonomics concise. All defaults are safe for local development;
// production deployments typically supply a structured logger and tuned
// timeouts via config.FromEnv.
package aichatbot

import (
	"context"
	"fmt"
	"sync"

	"github.com/CoderFake/aichatbot/agent"
	"github.com/CoderFake/aichatbot/config"
	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/logging"
	"github.com/CoderFake/aichatbot/model"
	"github.com/CoderFake/aichatbot/model/anthropic"
	"github.com/CoderFake/aichatbot/model/openai"
	"github.com/CoderFake/aichatbot/registry"
	"github.com/CoderFake/aichatbot/resolver"
	"github.com/CoderFake/aichatbot/selector"
	"github.com/CoderFake/aichatbot/synthesis"
	"github.com/CoderFake/aichatbot/workflow"
)

// CapabilityFunc implements a manifest-declared capability. Arguments have
// already passed schema validation.
type CapabilityFunc = func(ctx context.Context, args map[string]any) (any, error)

// Options configure the Orchestrator.
type Options struct {
	Config config.Config
	// Model overrides the backend built from Config.Provider. Required when
	// Config.Provider is "mock".
	Model  model.Model
	Logger logging.Logger
}

// Orchestrator ties configuration, the model backend, the capability
// registry, the specialist pool and the workflow engine together. Public
// methods are safe for concurrent use.
type Orchestrator struct {
	cfg         config.Config
	model       model.Model
	registry    *registry.Registry
	pool        *agent.Pool
	resolver    *resolver.Resolver
	synthesizer *synthesis.Synthesizer
	engine      *workflow.Engine
	logger      logging.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New constructs an Orchestrator with optional overrides. The general
// specialist is always registered so selection has a fallback target.
func New(optFns ...func(o *Options)) (*Orchestrator, error) {
	opts := Options{Config: config.Default(), Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	m := opts.Model
	if m == nil {
		var err error
		if m, err = buildModel(opts.Config.Provider); err != nil {
			return nil, err
		}
	}

	reg := registry.New()
	pool := agent.NewPool()
	res := resolver.New(m, opts.Logger)
	sel := selector.New(m, opts.Logger, func(o *selector.Options) {
		o.ComplexityThreshold = opts.Config.ComplexityThreshold
	})
	syn := synthesis.New(m, opts.Logger)
	engine := workflow.New(m, pool, sel, syn, func(o *workflow.Options) {
		o.Logger = opts.Logger
		o.ProductionSafe = opts.Config.ProductionSafe
		o.Timeouts = workflow.Timeouts{
			Reflection: opts.Config.ReflectionTimeout,
			Planning:   opts.Config.PlanningTimeout,
			Synthesis:  opts.Config.SynthesisTimeout,
			Response:   opts.Config.ResponseTimeout,
		}
	})

	o := &Orchestrator{
		cfg:         opts.Config,
		model:       m,
		registry:    reg,
		pool:        pool,
		resolver:    res,
		synthesizer: syn,
		engine:      engine,
		logger:      opts.Logger,
		active:      map[string]context.CancelFunc{},
	}

	if err := pool.Register(agent.NewGeneralSpecialist(m, opts.Logger)); err != nil {
		return nil, err
	}
	return o, nil
}

func buildModel(provider string) (model.Model, error) {
	switch provider {
	case "openai":
		return openai.NewModel(), nil
	case "anthropic":
		return anthropic.NewModel(), nil
	case "mock":
		return nil, fmt.Errorf("mock provider requires an explicit Model override")
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

// Registry exposes the capability registry for direct registration.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Pool exposes the specialist pool for direct registration.
func (o *Orchestrator) Pool() *agent.Pool { return o.pool }

// RegisterCapability adds a capability to the registry.
func (o *Orchestrator) RegisterCapability(c registry.Capability) error {
	return o.registry.Register(c)
}

// RegisterSpecialist adds a specialist to the pool.
func (o *Orchestrator) RegisterSpecialist(s agent.Specialist) error {
	return o.pool.Register(s)
}

// AddToolDomain registers a tool-backed specialist wired to the
// orchestrator's model, registry and parameter resolver. The named
// capabilities must already be registered.
func (o *Orchestrator) AddToolDomain(cfg agent.ToolSpecialistConfig) error {
	for _, name := range cfg.Capabilities {
		if _, err := o.registry.Get(name); err != nil {
			return err
		}
	}
	return o.pool.Register(agent.NewToolSpecialist(cfg, o.model, o.registry, o.resolver, o.logger))
}

// ApplyManifest registers every manifest-declared capability (paired with
// its handler by name) and builds a tool specialist per declared domain.
// Applying a manifest is hot: in-flight requests keep the capabilities they
// already resolved.
func (o *Orchestrator) ApplyManifest(m *config.Manifest, handlers map[string]CapabilityFunc) error {
	for _, schema := range m.Capabilities {
		fn, ok := handlers[schema.Name]
		if !ok {
			return fmt.Errorf("no handler bound for manifest capability %q", schema.Name)
		}
		if err := o.registry.Register(registry.NewFuncCapability(schema, fn)); err != nil {
			return err
		}
	}
	for _, d := range m.Domains {
		spec := agent.NewToolSpecialist(agent.ToolSpecialistConfig{
			Domain:             core.Domain(d.Domain),
			Description:        d.Description,
			Expertise:          d.Expertise,
			Capabilities:       d.Capabilities,
			AllowedDepartments: d.AllowedDepartments,
			RetryBudget:        o.cfg.ParamRetryBudget,
		}, o.model, o.registry, o.resolver, o.logger)
		if err := o.pool.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// AskStream starts a request and returns its id plus the ordered event
// channel. The channel closes after the terminal event. Cancel the request
// via the passed context or Cancel(requestID).
func (o *Orchestrator) AskStream(ctx context.Context, query, language string, user core.UserContext, history []core.ConversationTurn) (string, <-chan core.WorkflowEvent) {
	q := core.NewQueryContext(query, language, user, history)
	stream := core.NewStream(q.RequestID, o.cfg.EventBufferSize)

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.active[q.RequestID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.active, q.RequestID)
			o.mu.Unlock()
			cancel()
		}()
		o.engine.Run(runCtx, q, stream)
	}()

	return q.RequestID, stream.Events()
}

// Ask runs a request to completion and returns the terminal payload.
func (o *Orchestrator) Ask(ctx context.Context, query, language string, user core.UserContext, history []core.ConversationTurn) (core.FinalPayload, error) {
	_, events := o.AskStream(ctx, query, language, user, history)
	for ev := range events {
		if ev.Type == core.EventEnd && ev.Final != nil {
			return *ev.Final, nil
		}
	}
	return core.FinalPayload{}, fmt.Errorf("event stream closed without terminal event")
}

// Cancel aborts an in-flight request. It reports whether the request was
// still active; the request's stream still receives its terminal event.
func (o *Orchestrator) Cancel(requestID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[requestID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
