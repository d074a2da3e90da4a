package graph

import (
	"github.com/loom-build/loom/resolver"
)

// ModuleFactory constructs the module variant for a dependency type tag —
// a pure function of the tag (§4.1 "Module factories"). Builder.Build
// only needs NormalModuleFactory/ExternalModuleFactory inline (handled
// directly in processResult, since both only ever mint one module per
// resolution); ContextModuleFactory is exposed separately because it
// expands one request into many matched paths.
type ModuleFactory interface {
	Kind() Kind
}

// ContextModuleFactory resolves a glob-like context request (spec §3.2's
// context module kind) into a context module identifier and the absolute
// paths of the matched files. It does not add a module or any
// dependencies to the graph itself.
type ContextModuleFactory struct{}

func (ContextModuleFactory) Kind() Kind { return KindNormal }

// Expand resolves req and returns the synthetic context module's
// identifier plus the per-match requests the builder should factorize.
// The identifier is deterministic (base dir + pattern) so repeated builds
// reuse the same context module across rebuilds.
func (ContextModuleFactory) Expand(req resolver.ContextRequest) (identifier string, matches []string, err error) {
	paths, err := resolver.ResolveContext(req)
	if err != nil {
		return "", nil, err
	}
	identifier = "context:" + req.BaseDir + "!" + req.Pattern
	return identifier, paths, nil
}
