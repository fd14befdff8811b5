package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoderFake/aichatbot/core"
	"github.com/CoderFake/aichatbot/internal/schema"
	"github.com/CoderFake/aichatbot/model"
	"github.com/CoderFake/aichatbot/registry"
	"github.com/CoderFake/aichatbot/resolver"
)

func calcSchema() core.ToolSchema {
	return core.ToolSchema{
		Name:        "calculate",
		Description: "Evaluates an arithmetic expression",
		Version:     1,
		Required:    []string{"expression"},
		Properties: map[string]schema.Property{
			"expression": {Type: "string"},
		},
	}
}

func calcRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(registry.NewFuncCapability(calcSchema(),
		func(ctx context.Context, args map[string]any) (any, error) {
			if args["expression"] == "2+2" {
				return "4", nil
			}
			return nil, errors.New("unsupported expression")
		})))
	return reg
}

func mathSpecialist(m model.Model, reg *registry.Registry) *ToolSpecialist {
	return NewToolSpecialist(ToolSpecialistConfig{
		Domain:       "math",
		Description:  "Arithmetic and calculations",
		Capabilities: []string{"calculate"},
	}, m, reg, resolver.New(m, nil), nil)
}

func task(query string) core.Task {
	q := core.NewQueryContext(query, "en", core.UserContext{}, nil)
	return core.Task{Domain: "math", Query: q}
}

// -------------------- Pool --------------------

func TestPool_RegisterAndGet(t *testing.T) {
	p := NewPool()
	m := model.NewMockModel()
	require.NoError(t, p.Register(NewGeneralSpecialist(m, nil)))

	s, ok := p.Get(core.DomainGeneral)
	require.True(t, ok)
	assert.Equal(t, core.DomainGeneral, s.Domain())

	_, ok = p.Get("unknown")
	assert.False(t, ok)
}

func TestPool_ProfilesExcludeGeneral(t *testing.T) {
	p := NewPool()
	m := model.NewMockModel()
	require.NoError(t, p.Register(NewGeneralSpecialist(m, nil)))
	require.NoError(t, p.Register(mathSpecialist(m, calcRegistry(t))))

	profiles := p.Profiles(core.UserContext{})
	require.Len(t, profiles, 1)
	assert.Equal(t, core.Domain("math"), profiles[0].Domain)
	assert.Equal(t, []string{"calculate"}, profiles[0].Tools)
}

func TestPool_ProfilesFilterByDepartment(t *testing.T) {
	p := NewPool()
	m := model.NewMockModel()
	restricted := NewToolSpecialist(ToolSpecialistConfig{
		Domain:             "hr",
		Description:        "HR",
		Capabilities:       []string{"calculate"},
		AllowedDepartments: []string{"people"},
	}, m, calcRegistry(t), resolver.New(m, nil), nil)
	require.NoError(t, p.Register(restricted))

	assert.Empty(t, p.Profiles(core.UserContext{Department: "engineering"}))
	assert.Len(t, p.Profiles(core.UserContext{Department: "People"}), 1,
		"department match is case-insensitive")
}

func TestPool_RejectsEmptyDomain(t *testing.T) {
	p := NewPool()
	m := model.NewMockModel()
	s := NewToolSpecialist(ToolSpecialistConfig{}, m, nil, resolver.New(m, nil), nil)
	assert.Error(t, p.Register(s))
}

// -------------------- GeneralSpecialist --------------------

func TestGeneralSpecialist_Handle(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("capital of France", "Paris.")
	g := NewGeneralSpecialist(m, nil)

	resp := g.Handle(context.Background(), task("What is the capital of France?"))
	assert.True(t, resp.Success)
	assert.Equal(t, "Paris.", resp.Content)
	assert.Equal(t, generalConfidence, resp.Confidence)
	assert.Equal(t, core.DomainGeneral, resp.Domain)
}

func TestGeneralSpecialist_ModelFailure(t *testing.T) {
	m := model.NewMockModel()
	m.FailWith(errors.New("backend down"))
	g := NewGeneralSpecialist(m, nil)

	resp := g.Handle(context.Background(), task("anything"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "backend down")
}

// -------------------- ToolSpecialist --------------------

func TestToolSpecialist_HandleSuccess(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Tool: calculate", `{"expression": "2+2"}`)
	s := mathSpecialist(m, calcRegistry(t))

	resp := s.Handle(context.Background(), task("What is 2+2?"))
	require.True(t, resp.Success, "unexpected failure: %s", resp.Error)
	assert.Equal(t, "4", resp.Content)
	assert.Equal(t, toolConfidence, resp.Confidence)
	assert.Equal(t, []string{"tool:calculate"}, resp.Evidence)
	assert.Equal(t, []string{"calculate"}, resp.ToolsUsed)
}

func TestToolSpecialist_ResolutionExhaustionFails(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Tool: calculate", `not json at all`)
	s := mathSpecialist(m, calcRegistry(t))

	resp := s.Handle(context.Background(), task("What is 2+2?"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "parameter extraction failed")
}

func TestToolSpecialist_ExecutionFailureFails(t *testing.T) {
	m := model.NewMockModel()
	m.AddResponse("Tool: calculate", `{"expression": "1/0"}`)
	s := mathSpecialist(m, calcRegistry(t))

	resp := s.Handle(context.Background(), task("What is 1/0?"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unsupported expression")
}

func TestToolSpecialist_NoCapabilitiesBound(t *testing.T) {
	m := model.NewMockModel()
	s := NewToolSpecialist(ToolSpecialistConfig{Domain: "empty"}, m, registry.New(), resolver.New(m, nil), nil)

	resp := s.Handle(context.Background(), task("anything"))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no capabilities bound")
}

func TestToolSpecialist_PicksAmongMultipleCapabilities(t *testing.T) {
	reg := calcRegistry(t)
	weather := calcSchema()
	weather.Name = "weather_lookup"
	weather.Description = "Looks up the weather"
	require.NoError(t, reg.Register(registry.NewFuncCapability(weather,
		func(ctx context.Context, args map[string]any) (any, error) { return "sunny", nil })))

	m := model.NewMockModel()
	m.AddResponse("Pick the single best tool", "weather_lookup")
	m.AddResponse("Tool: weather_lookup", `{"expression": "Tokyo"}`)

	s := NewToolSpecialist(ToolSpecialistConfig{
		Domain:       "ops",
		Capabilities: []string{"calculate", "weather_lookup"},
	}, m, reg, resolver.New(m, nil), nil)

	resp := s.Handle(context.Background(), task("What is the weather in Tokyo?"))
	require.True(t, resp.Success, "unexpected failure: %s", resp.Error)
	assert.Equal(t, "sunny", resp.Content)
	assert.Equal(t, []string{"weather_lookup"}, resp.ToolsUsed)
}

func TestRenderResult(t *testing.T) {
	assert.Equal(t, "plain", renderResult("plain"))
	assert.Equal(t, `{"count":3}`, renderResult(map[string]int{"count": 3}))
}
