// Package core defines the shared data model of the orchestration engine:
// the immutable per-request QueryContext, selection and response types
// exchanged between components, tool schemas and parsed parameters, and the
// ordered workflow event stream delivered to callers.
//
// Types in this package are deliberately free of behavior beyond small
// helpers so that registry, resolver, selector, agent, synthesis and
// workflow can all depend on it without cycles.
package core
