// Package agent implements the specialist pool: a closed set of domain
// specialists registered at startup, each behind the uniform Handle contract.
// Selection output is validated against this registered set, never executed
// as free-form dispatch.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CoderFake/aichatbot/core"
)

// Specialist is one runnable domain unit. Handle never returns an error:
// every failure mode is folded into the AgentResponse so the fan-in
// accounting stays complete.
type Specialist interface {
	Domain() core.Domain
	Profile() core.DomainProfile
	Handle(ctx context.Context, task core.Task) core.AgentResponse
}

// Restricted is implemented by specialists whose eligibility depends on the
// caller's access scope. Unrestricted specialists are eligible for everyone.
type Restricted interface {
	Eligible(user core.UserContext) bool
}

// Pool holds the registered specialists keyed by domain. Reads are lock-free
// of mutation for unrelated domains; registration is serialized and safe to
// run while requests are in flight.
type Pool struct {
	mu          sync.RWMutex
	specialists map[core.Domain]Specialist
}

// NewPool creates an empty Pool.
func NewPool() *Pool {
	return &Pool{specialists: map[core.Domain]Specialist{}}
}

// Register adds or replaces a specialist under its domain.
func (p *Pool) Register(s Specialist) error {
	if s.Domain() == "" {
		return fmt.Errorf("specialist has empty domain")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specialists[s.Domain()] = s
	return nil
}

// Get returns the specialist registered for a domain.
func (p *Pool) Get(d core.Domain) (Specialist, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.specialists[d]
	return s, ok
}

// Domains returns all registered domains, sorted.
func (p *Pool) Domains() []core.Domain {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]core.Domain, 0, len(p.specialists))
	for d := range p.specialists {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Profiles returns the advertised profile of every specialist the caller is
// eligible for, sorted by domain. The general domain is excluded: it is the
// implicit fallback, not a selectable specialty.
func (p *Pool) Profiles(user core.UserContext) []core.DomainProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]core.DomainProfile, 0, len(p.specialists))
	for d, s := range p.specialists {
		if d == core.DomainGeneral {
			continue
		}
		if r, ok := s.(Restricted); ok && !r.Eligible(user) {
			continue
		}
		out = append(out, s.Profile())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}
