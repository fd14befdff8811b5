// Package registry implements the capability catalog: every external tool a
// specialist may invoke, described by a typed parameter schema and reachable
// through an executable handle. The registry is read-mostly and safe for
// concurrent lookups from many simultaneous requests; registration and
// removal are serialized and never block reads for unrelated names.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CoderFake/aichatbot/core"
)

// Capability is an invocable external tool. Implementations must be safe for
// concurrent use; one Capability instance serves all requests.
type Capability interface {
	// Schema returns the typed parameter contract for this capability.
	Schema() core.ToolSchema

	// Execute runs the capability with already-validated parameters. The
	// returned value must be JSON-serializable by higher layers.
	Execute(ctx context.Context, params core.ParsedParameters) (any, error)
}

// Error codes attached to CapabilityError.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// CapabilityError represents errors that occur during capability lookup or
// execution, categorized by code for uniform downstream handling.
type CapabilityError struct {
	Capability string `json:"capability"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Details    any    `json:"details,omitempty"`
}

func (e *CapabilityError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("capability error [%s] in %s: %s", e.Code, e.Capability, e.Message)
	}
	return fmt.Sprintf("capability error in %s: %s", e.Capability, e.Message)
}

// NewCapabilityError creates a CapabilityError with the specified details.
func NewCapabilityError(capability, message, code string) *CapabilityError {
	return &CapabilityError{Capability: capability, Message: message, Code: code}
}

// Registry is the concurrent capability catalog. Lookups take a read lock;
// Register/Unregister take the write lock. In-flight requests that already
// resolved a Capability keep using it even if it is unregistered afterwards.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{capabilities: map[string]Capability{}}
}

// Register adds or replaces a capability under its schema name.
func (r *Registry) Register(c Capability) error {
	name := c.Schema().Name
	if name == "" {
		return fmt.Errorf("capability has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[name] = c
	return nil
}

// Unregister removes a capability by name. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.capabilities, name)
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[name]
	if !ok {
		return nil, NewCapabilityError(name, "capability not registered", CodeNotFound)
	}
	return c, nil
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns a snapshot of every registered schema, sorted by name.
// Prompt builders iterate this without holding the registry lock.
func (r *Registry) Schemas() []core.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]core.ToolSchema, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		schemas = append(schemas, c.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// ByCategory returns schemas tagged with the given category, sorted by name.
func (r *Registry) ByCategory(category string) []core.ToolSchema {
	all := r.Schemas()
	out := make([]core.ToolSchema, 0, len(all))
	for _, s := range all {
		if s.Category == category {
			out = append(out, s)
		}
	}
	return out
}
