// Package incremental implements the state carried between compilations
// (spec §4.6): the previous module/chunk graphs, per-pass enabled flags
// keyed by a pass bit, file dependency counters, and the changed/removed-file
// to affected-module-or-full-rebuild decision a watcher-driven rebuild
// runs through.
package incremental

import (
	"sync"

	"github.com/loom-build/loom/chunk"
	"github.com/loom-build/loom/graph"
	"github.com/loom-build/loom/internal/logging"
	"github.com/loom-build/loom/internal/set"
)

// Pass is one of the bits spec §2's pass table names; artifacts declare
// which pass produced them so a rebuild can reset exactly the artifacts
// whose owning pass is disabled or invalidated (spec §4.6 step 1).
type Pass int

const (
	PassLoader Pass = iota
	PassParse
	PassModuleGraph
	PassOptimise
	PassChunkGraph
	PassSplitChunks
	PassRuntimeRequirements
	PassCodeGen
	numPasses
)

// MaxAffectedModulesBeforeFullRebuild bounds how many modules a changed-
// file set may touch before the core gives up on incremental recompute
// and reruns the full build (grounded on the teacher's
// ProcessChangedFilesWithSkip, which hard-codes the same threshold "for
// simplicity's sake").
const MaxAffectedModulesBeforeFullRebuild = 3

// FileDependencyCounters tracks, for each absolute path, the set of
// modules that declared it a file/context/missing/build dependency
// (spec §4.6's "File dependency counters"), so a rebuild can map a
// changed path straight to the modules it must revisit without
// rescanning the whole graph.
type FileDependencyCounters struct {
	mu       sync.RWMutex
	files    map[string]set.Set[graph.ModuleID]
	contexts map[string]set.Set[graph.ModuleID]
	missing  map[string]set.Set[graph.ModuleID]
	build    map[string]set.Set[graph.ModuleID]
}

// NewFileDependencyCounters returns empty counters.
func NewFileDependencyCounters() *FileDependencyCounters {
	return &FileDependencyCounters{
		files:    map[string]set.Set[graph.ModuleID]{},
		contexts: map[string]set.Set[graph.ModuleID]{},
		missing:  map[string]set.Set[graph.ModuleID]{},
		build:    map[string]set.Set[graph.ModuleID]{},
	}
}

// RecordModule merges one module's BuildInfo dependency path sets into
// the counters.
func (c *FileDependencyCounters) RecordModule(m *graph.Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addAll(c.files, m.BuildInfo.FileDependencies, m.ID)
	addAll(c.contexts, m.BuildInfo.ContextDependencies, m.ID)
	addAll(c.missing, m.BuildInfo.MissingDependencies, m.ID)
	addAll(c.build, m.BuildInfo.BuildDependencies, m.ID)
}

func addAll(into map[string]set.Set[graph.ModuleID], paths []string, m graph.ModuleID) {
	for _, p := range paths {
		if into[p] == nil {
			into[p] = set.New[graph.ModuleID]()
		}
		into[p].Add(m)
	}
}

// RecordAll merges every module in mg into the counters — the shape used
// right after a fresh full build closes, before the first rebuild.
func (c *FileDependencyCounters) RecordAll(mg *graph.Graph) {
	for _, m := range mg.Modules() {
		c.RecordModule(m)
	}
}

// TrackedFiles returns every path recorded as a file or context
// dependency by some module, in sorted order — the watcher subscription
// list for a build that just closed (spec §4.6: "the watcher accepts...
// paths to track", sourced from the compilation that produced them
// rather than scanned from disk).
func (c *FileDependencyCounters) TrackedFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := set.New[string]()
	for p := range c.files {
		seen.Add(p)
	}
	for p := range c.contexts {
		seen.Add(p)
	}
	return set.SortedStrings(seen)
}

// AffectedModules returns the set of modules that must be rebuilt because
// one of the given changed or removed paths is one of their tracked
// dependencies — a changed build dependency additionally reports
// "wholesale", signalling the caller to reset the owning pass entirely
// rather than targeting individual modules (spec §4.6 step 2).
func (c *FileDependencyCounters) AffectedModules(changed, removed []string) (modules []graph.ModuleID, wholesale bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := set.New[graph.ModuleID]()
	all := append(append([]string{}, changed...), removed...)
	for _, p := range all {
		for m := range c.files[p] {
			seen.Add(m)
		}
		for m := range c.contexts[p] {
			seen.Add(m)
		}
		for m := range c.missing[p] {
			seen.Add(m)
		}
		if len(c.build[p]) > 0 {
			wholesale = true
		}
	}
	return set.SortedMembers(seen, func(a, b graph.ModuleID) bool { return a < b }), wholesale
}

// Artifacts holds the cross-compilation state spec §4.6 lists: the
// previous module graph and chunk graph, the previous id assignments,
// the file dependency counters, and an enabled flag per Pass. No other
// per-pass data is kept; a disabled pass makes Decide force a full
// rebuild.
type Artifacts struct {
	ModuleGraph  *graph.Graph
	ChunkGraph   *chunk.Graph
	FileCounters *FileDependencyCounters

	// ModuleIDs/ChunkIDs are the previous build's id assignments,
	// reused verbatim by a rebuild that does not touch the graph's
	// membership (spec §8's idempotence law for the deterministic
	// policy: identical inputs, identical ids).
	ModuleIDs map[string]string
	ChunkIDs  map[string]string

	// passesEnabled is consulted before reusing any Pass's artifacts
	// (spec §4.6 step 1: "Consults each artifact's pass bit against a
	// passes_enabled mask. Any disabled pass forces its artifacts to
	// reset.").
	passesEnabled [numPasses]bool
}

// NewArtifacts returns Artifacts with every pass enabled by default.
func NewArtifacts() *Artifacts {
	a := &Artifacts{FileCounters: NewFileDependencyCounters()}
	for i := range a.passesEnabled {
		a.passesEnabled[i] = true
	}
	return a
}

// DisablePass marks p's artifacts as stale; the next Decide call forces a
// full rebuild regardless of the affected-module count.
func (a *Artifacts) DisablePass(p Pass) { a.passesEnabled[p] = false }

func (a *Artifacts) passDisabled() bool {
	for _, v := range a.passesEnabled {
		if !v {
			return true
		}
	}
	return false
}

// Decision is the outcome of Decide: either a full rebuild, or the
// specific set of modules to re-factorize/re-build incrementally.
type Decision struct {
	FullRebuild     bool
	AffectedModules []graph.ModuleID
	Reason          string
}

// Decide implements spec §4.6's rebuild entry point: given the watcher's
// (changed, removed) batch, decide whether to run the minimum set of
// passes over the affected modules or fall back to a fresh build.
func (a *Artifacts) Decide(changed, removed []string) Decision {
	if a.passDisabled() {
		return Decision{FullRebuild: true, Reason: "a pass was disabled since the last build"}
	}
	if a.ModuleGraph == nil {
		return Decision{FullRebuild: true, Reason: "no previous module graph to rebuild from"}
	}

	affected, wholesale := a.FileCounters.AffectedModules(changed, removed)
	if wholesale {
		return Decision{FullRebuild: true, Reason: "a build dependency changed"}
	}
	if len(affected) == 0 {
		logging.Default().Debug("incremental: no modules affected by %v", append(changed, removed...))
		return Decision{FullRebuild: false, AffectedModules: nil, Reason: "no modules affected"}
	}
	if len(affected) > MaxAffectedModulesBeforeFullRebuild {
		return Decision{FullRebuild: true, Reason: "too many affected modules for incremental rebuild"}
	}
	return Decision{FullRebuild: false, AffectedModules: affected, Reason: "incremental rebuild"}
}

// Capture snapshots the artifacts a just-closed compilation produced, for
// the next rebuild's Decide/Artifacts to consume (spec §4.6, pass I).
func Capture(mg *graph.Graph, cg *chunk.Graph, moduleIDs, chunkIDs map[string]string) *Artifacts {
	a := NewArtifacts()
	a.ModuleGraph = mg
	a.ChunkGraph = cg
	a.ModuleIDs = moduleIDs
	a.ChunkIDs = chunkIDs
	a.FileCounters.RecordAll(mg)
	return a
}
