package graph

import (
	"fmt"
	"sort"
	"sync"
)

// Graph is the module graph: the container spec §3 calls the module
// graph's queryable state. It is owned and mutated only by the builder's
// main lane (see Builder); every other reader must treat it as read-only
// once a Build call returns.
type Graph struct {
	mu sync.RWMutex

	modules     []*Module
	byIdentifier map[string]ModuleID

	dependencies []*Dependency
	blocks       []*AsyncDependenciesBlock
	connections  []*ModuleGraphConnection

	// Entries are the seed module ids requested by the compilation, in
	// the order the caller supplied them (determinism invariant §8).
	Entries []ModuleID

	// FailedModules records modules whose Diagnostics are non-empty;
	// the build still completes (§4.1 "Termination"), but §7 surfaces
	// these to the caller.
	FailedModules []ModuleID

	// lazy holds, per module, dependency ids deferred until
	// DrainLazy names their group (§4.1 "Lazy dependencies").
	lazy map[ModuleID]map[string][]DependencyID
}

// New returns an empty Graph ready for Builder.Build to populate.
func New() *Graph {
	return &Graph{
		byIdentifier: make(map[string]ModuleID),
		lazy:         make(map[ModuleID]map[string][]DependencyID),
	}
}

// ModuleByIdentifier returns the module with the given identifier and
// whether it exists — the cache-hit check FactorizeTask performs before
// minting a new Module (§4.1).
func (g *Graph) ModuleByIdentifier(identifier string) (ModuleID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byIdentifier[identifier]
	return id, ok
}

// Module returns the module for id. Panics on an out-of-range id, which
// would indicate a bug in the builder (ids are never fabricated outside
// addModule).
func (g *Graph) Module(id ModuleID) *Module {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.modules[id]
}

// Modules returns every module in the graph in id order (stable
// iteration, §8).
func (g *Graph) Modules() []*Module {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Module, len(g.modules))
	copy(out, g.modules)
	return out
}

// Dependency returns the dependency for id.
func (g *Graph) Dependency(id DependencyID) *Dependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependencies[id]
}

// Block returns the async dependencies block for id (ids are 1-based; 0
// means "no block").
func (g *Graph) Block(id BlockID) *AsyncDependenciesBlock {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blocks[id-1]
}

// Connection returns the resolved connection for id.
func (g *Graph) Connection(id ConnectionID) *ModuleGraphConnection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connections[id]
}

// addModule mints a new Module with a fresh id and registers it by
// identifier. Main-lane-only: callers must serialize addModule calls
// (Builder's main lane is the sole caller).
func (g *Graph) addModule(m *Module) ModuleID {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ModuleID(len(g.modules))
	m.ID = id
	m.Exports = newExportsInfo(id)
	g.modules = append(g.modules, m)
	g.byIdentifier[m.Identifier] = id
	return id
}

// addDependency mints a new Dependency with a fresh id, attaches it to its
// parent module or block, and returns the id. Main-lane-only.
func (g *Graph) addDependency(d Dependency) DependencyID {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := DependencyID(len(g.dependencies))
	d.ID = id
	g.dependencies = append(g.dependencies, &d)

	if d.ParentBlock != 0 {
		blk := g.blocks[d.ParentBlock-1]
		blk.DependencyIDs = append(blk.DependencyIDs, id)
	} else {
		parent := g.modules[d.Parent]
		parent.DependencyIDs = append(parent.DependencyIDs, id)
	}
	return id
}

// addBlock mints a new AsyncDependenciesBlock and attaches it to its
// parent module. Main-lane-only.
func (g *Graph) addBlock(parent ModuleID, name string, preload, prefetch bool) BlockID {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := BlockID(len(g.blocks) + 1) // reserve 0 as "no block"
	blk := &AsyncDependenciesBlock{ID: id, Parent: parent, Name: name, Preload: preload, Prefetch: prefetch}
	g.blocks = append(g.blocks, blk)
	g.modules[parent].BlockIDs = append(g.modules[parent].BlockIDs, id)
	return id
}

// connect records a ModuleGraphConnection from dep's parent module to
// target, and stamps dep.Resolved. Main-lane-only.
func (g *Graph) connect(depID DependencyID, target ModuleID) ConnectionID {
	g.mu.Lock()
	defer g.mu.Unlock()
	dep := g.dependencies[depID]
	id := ConnectionID(len(g.connections))
	conn := &ModuleGraphConnection{
		ID: id, OriginModule: dep.Parent, DependencyID: depID,
		ResolvedModule: target, Active: true,
	}
	g.connections = append(g.connections, conn)
	dep.Resolved = id
	dep.HasConnection = true
	return id
}

// markFailed records a module in FailedModules (§4.1 "Termination").
func (g *Graph) markFailed(id ModuleID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.FailedModules = append(g.FailedModules, id)
}

// AddLazy appends a dependency id to module m's lazy set under group,
// deferring its processing until DrainLazy(m, group) is called (§4.1
// "Lazy dependencies").
func (g *Graph) AddLazy(m ModuleID, group string, dep DependencyID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lazy[m] == nil {
		g.lazy[m] = make(map[string][]DependencyID)
	}
	g.lazy[m][group] = append(g.lazy[m][group], dep)
}

// DrainLazy removes and returns every dependency id queued for (m, group),
// the entry point a consumer uses before scheduling FactorizeTasks for
// them.
func (g *Graph) DrainLazy(m ModuleID, group string) []DependencyID {
	g.mu.Lock()
	defer g.mu.Unlock()
	deps := g.lazy[m][group]
	delete(g.lazy[m], group)
	return deps
}

// OutgoingConnections returns the resolved connections leaving m, sorted
// by dependency id for deterministic iteration (§8).
func (g *Graph) OutgoingConnections(m ModuleID) []*ModuleGraphConnection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*ModuleGraphConnection
	for _, dep := range g.modules[m].DependencyIDs {
		d := g.dependencies[dep]
		// A dependency with no resolved connection failed to factorize
		// (module-not-found); it has no outgoing edge.
		if !d.HasConnection {
			continue
		}
		out = append(out, g.connections[d.Resolved])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DependencyID < out[j].DependencyID })
	return out
}

// String renders a small identifier for logging/errors.
func (m *Module) String() string {
	return fmt.Sprintf("%s(%s)", m.Identifier, m.Kind)
}
