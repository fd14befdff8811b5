package core

import (
	"github.com/CoderFake/aichatbot/internal/schema"
)

// ToolSchema describes the typed parameter contract of one capability. Owned
// by the registry, read-only at runtime, and versioned so prompts can name
// the exact contract they were built against.
type ToolSchema struct {
	Name        string                     `json:"name" yaml:"name"`
	Description string                     `json:"description" yaml:"description"`
	Category    string                     `json:"category" yaml:"category"`
	Version     int                        `json:"version" yaml:"version"`
	Required    []string                   `json:"required" yaml:"required"`
	Optional    []string                   `json:"optional" yaml:"optional"`
	Properties  map[string]schema.Property `json:"properties" yaml:"properties"`
}

// Validate checks params against the schema, returning every failing field.
func (ts ToolSchema) Validate(params map[string]any) []*schema.ValidationError {
	return schema.Validate(params, ts.Properties, ts.Required)
}

// ParameterSource records where a parameter value came from.
type ParameterSource string

const (
	// SourceCaller marks values supplied by the caller before resolution.
	SourceCaller ParameterSource = "caller"
	// SourceExtracted marks values produced by the parameter resolver.
	SourceExtracted ParameterSource = "extracted"
)

// ParsedParameters is a name→value map validated against a ToolSchema. It
// carries provenance so repaired attempts can distinguish caller defaults
// from extractor output. One instance may be superseded by a repaired
// instance on retry.
type ParsedParameters struct {
	Capability string                     `json:"capability"`
	Values     map[string]any             `json:"values"`
	Provenance map[string]ParameterSource `json:"provenance"`
	Attempt    int                        `json:"attempt"` // 1-based resolution attempt
}

// Merge layers extracted values on top of caller-supplied defaults. Extractor
// output wins on conflict, matching the resolver contract.
func (p ParsedParameters) Merge(extracted map[string]any) ParsedParameters {
	merged := ParsedParameters{
		Capability: p.Capability,
		Values:     make(map[string]any, len(p.Values)+len(extracted)),
		Provenance: make(map[string]ParameterSource, len(p.Values)+len(extracted)),
		Attempt:    p.Attempt,
	}
	for k, v := range p.Values {
		merged.Values[k] = v
		merged.Provenance[k] = p.Provenance[k]
	}
	for k, v := range extracted {
		merged.Values[k] = v
		merged.Provenance[k] = SourceExtracted
	}
	return merged
}
