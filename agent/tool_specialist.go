package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/logging"
	"github.com/CoderFake/aichatbot/model"
	"github.com/CoderFake/aichatbot/registry"
	"github.com/CoderFake/aichatbot/resolver"
)

// toolConfidence is a placeholder constant for tool-backed answers; a tool
// that executed successfully is trusted more than free-form generation.
const toolConfidence = 0.85

// ToolSpecialistConfig describes one domain built from registry capabilities.
// Specialists like hr or finance are instances of this config loaded from the
// domain manifest.
type ToolSpecialistConfig struct {
	Domain             core.Domain
	Description        string
	Expertise          []string
	Capabilities       []string // registry capability names this domain may use
	AllowedDepartments []string // empty means unrestricted
	RetryBudget        int      // repair attempts per tool call; <0 selects the default
}

// ToolSpecialist binds a domain to one or more registry capabilities. For
// each task it picks a capability, resolves schema-valid parameters (with the
// bounded repair loop), executes the tool, and reports the result with the
// tool as evidence.
type ToolSpecialist struct {
	cfg      ToolSpecialistConfig
	model    model.Model
	registry *registry.Registry
	resolver *resolver.Resolver
	logger   logging.Logger
}

// NewToolSpecialist creates a tool-driven specialist.
func NewToolSpecialist(cfg ToolSpecialistConfig, m model.Model, reg *registry.Registry, res *resolver.Resolver, logger logging.Logger) *ToolSpecialist {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = resolver.DefaultRetryBudget
	}
	return &ToolSpecialist{cfg: cfg, model: m, registry: reg, resolver: res, logger: logger}
}

// Domain implements Specialist.
func (t *ToolSpecialist) Domain() core.Domain { return t.cfg.Domain }

// Profile implements Specialist.
func (t *ToolSpecialist) Profile() core.DomainProfile {
	return core.DomainProfile{
		Domain:      t.cfg.Domain,
		Description: t.cfg.Description,
		Expertise:   t.cfg.Expertise,
		Tools:       t.cfg.Capabilities,
	}
}

// Eligible implements Restricted: an empty department list means everyone.
func (t *ToolSpecialist) Eligible(user core.UserContext) bool {
	if len(t.cfg.AllowedDepartments) == 0 {
		return true
	}
	for _, d := range t.cfg.AllowedDepartments {
		if strings.EqualFold(d, user.Department) {
			return true
		}
	}
	return false
}

// Handle implements Specialist. A parameter-extraction failure after the
// retry budget, or a tool execution failure, is recorded as a failed
// response; it never aborts sibling specialists.
func (t *ToolSpecialist) Handle(ctx context.Context, task core.Task) core.AgentResponse {
	start := time.Now()
	log := t.logger

	capName, err := t.pickCapability(ctx, task)
	if err != nil {
		log.Warn("capability choice failed", "domain", t.cfg.Domain, "error", err)
		return core.FailedResponse(t.cfg.Domain, time.Since(start), err)
	}

	capability, err := t.registry.Get(capName)
	if err != nil {
		return core.FailedResponse(t.cfg.Domain, time.Since(start), err)
	}
	ts := capability.Schema()

	params, err := t.resolver.ResolveWithRetry(ctx, resolver.Input{
		Query:  task.Query.Query,
		Schema: ts,
		User:   task.Query.User,
	}, t.cfg.RetryBudget)
	if err != nil {
		log.Warn("parameter resolution exhausted", "domain", t.cfg.Domain, "tool", capName, "error", err)
		return core.FailedResponse(t.cfg.Domain, time.Since(start), err)
	}

	toolStart := time.Now()
	result, err := capability.Execute(ctx, params)
	if err != nil {
		log.Warn("tool execution failed", "domain", t.cfg.Domain, "tool", capName, "error", err)
		return core.FailedResponse(t.cfg.Domain, time.Since(start), err)
	}
	log.Info("tool execution completed", "domain", t.cfg.Domain, "tool", capName, "duration_ms", time.Since(toolStart).Milliseconds())

	return core.AgentResponse{
		Domain:     t.cfg.Domain,
		Content:    renderResult(result),
		Confidence: toolConfidence,
		Evidence:   []string{"tool:" + capName},
		ToolsUsed:  []string{capName},
		Duration:   time.Since(start),
		Success:    true,
	}
}

// pickCapability chooses which of the domain's capabilities serves the task.
// A single bound capability is used directly; with several, the model picks
// by name with the first capability as fallback.
func (t *ToolSpecialist) pickCapability(ctx context.Context, task core.Task) (string, error) {
	switch len(t.cfg.Capabilities) {
	case 0:
		return "", fmt.Errorf("domain %s has no capabilities bound", t.cfg.Domain)
	case 1:
		return t.cfg.Capabilities[0], nil
	}

	var b strings.Builder
	b.WriteString("Pick the single best tool for the request. Reply with only the tool name.\n\nTools:\n")
	for _, name := range t.cfg.Capabilities {
		if c, err := t.registry.Get(name); err == nil {
			fmt.Fprintf(&b, "- %s: %s\n", name, c.Schema().Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	fmt.Fprintf(&b, "\nRequest: %s", task.Query.Query)

	answer, err := t.model.Invoke(ctx, model.Request{Prompt: b.String()})
	if err != nil {
		return t.cfg.Capabilities[0], nil // fall back to the primary tool
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	for _, name := range t.cfg.Capabilities {
		if strings.Contains(answer, strings.ToLower(name)) {
			return name, nil
		}
	}
	return t.cfg.Capabilities[0], nil
}

// renderResult turns a tool result into response content. Strings pass
// through; everything else is JSON-encoded for the synthesis phase.
func renderResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}
