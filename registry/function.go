package registry

import (
	"context"
	"fmt"

	"github.com/CoderFake/aichatbot/core"
)

// FuncCapability is a generic adapter that exposes a plain Go function as a
// registered capability.
//
// Responsibilities:
//   - Holds the ToolSchema describing accepted arguments
//   - Validates supplied parameters against that schema before execution
//   - Normalizes error handling so callers receive *CapabilityError with
//     consistent codes:
//     VALIDATION_ERROR -> schema / argument mismatch
//     EXECUTION_ERROR  -> underlying function returned an error
//     (custom codes preserved if the function returns *CapabilityError)
//
// A FuncCapability has no internal mutable state after construction and is
// safe for concurrent use by multiple goroutines.
type FuncCapability struct {
	schema core.ToolSchema
	fn     func(ctx context.Context, args map[string]any) (any, error)
}

// NewFuncCapability constructs a FuncCapability from an explicit schema and
// function. The function receives arguments that have already passed schema
// validation.
func NewFuncCapability(schema core.ToolSchema, fn func(ctx context.Context, args map[string]any) (any, error)) *FuncCapability {
	return &FuncCapability{schema: schema, fn: fn}
}

// Schema returns the parameter contract for this capability.
func (c *FuncCapability) Schema() core.ToolSchema { return c.schema }

// Execute validates params against the declared schema then invokes the
// underlying function. Validation or execution failures are wrapped (or
// passed through) as *CapabilityError.
func (c *FuncCapability) Execute(ctx context.Context, params core.ParsedParameters) (any, error) {
	if errs := c.schema.Validate(params.Values); len(errs) > 0 {
		return nil, &CapabilityError{
			Capability: c.schema.Name,
			Message:    fmt.Sprintf("parameter validation failed: %v", errs[0]),
			Code:       CodeValidation,
			Details:    errs,
		}
	}

	result, err := c.fn(ctx, params.Values)
	if err != nil {
		if capErr, ok := err.(*CapabilityError); ok {
			return nil, capErr
		}
		return nil, &CapabilityError{
			Capability: c.schema.Name,
			Message:    err.Error(),
			Code:       CodeExecution,
		}
	}
	return result, nil
}
