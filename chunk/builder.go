package chunk

import (
	"github.com/loom-build/loom/graph"
)

// EntrySpec names one compilation entry point: the module to start the
// walk from, the chunk's requested name, and the (possibly shared) name
// of the runtime chunk it should attach to (spec §4.2's entry seeding;
// §4.4's "chunks sharing a runtime chunk share one runtime-globals
// union").
type EntrySpec struct {
	Name    string
	Module  graph.ModuleID
	Runtime string // "" defaults to a private runtime chunk named after Name
}

// Builder walks a closed module graph from a list of entries and
// produces the chunk graph (spec §4.2): "Chunk Graph Builder walks the
// module graph from each entry, assigning modules to chunks along the
// way; a dynamic import boundary starts a new chunk group."
type Builder struct {
	ModuleGraph *graph.Graph
}

func NewBuilder(mg *graph.Graph) *Builder {
	return &Builder{ModuleGraph: mg}
}

type visitKey struct {
	chunk  Ukey
	module graph.ModuleID
}

// Build runs the full chunk graph construction: entry seeding, the
// sync/async walk, and the available-modules pruning pass (§4.2's last
// step, "the single most impactful deduplication available before
// cache-group splitting runs").
func (b *Builder) Build(entries []EntrySpec) *Graph {
	g := newGraph()
	visited := map[visitKey]bool{}
	runtimeChunks := map[string]Ukey{}

	for _, e := range entries {
		grp := g.newGroup(GroupEntrypoint, e.Name, e.Module)

		rtName := e.Runtime
		if rtName == "" {
			rtName = e.Name
		}
		rtKey, ok := runtimeChunks[rtName]
		if !ok {
			rt := g.newChunkIn(KindRuntime, rtName+".runtime")
			rtKey = rt.Ukey
			runtimeChunks[rtName] = rtKey
		}
		grp.RuntimeChunk = rtKey
		g.Chunks[rtKey].Runtimes.Add(rtName)

		initial := g.newChunkIn(KindEntry, e.Name)
		initial.Runtimes.Add(rtName)
		grp.Chunks = append(grp.Chunks, initial.Ukey)

		b.walk(g, grp, initial.Ukey, rtName, e.Module, visited)
	}

	pruneAvailableModules(g, b.ModuleGraph)
	return g
}

// walk performs the depth-first traversal spec §4.2 describes: a sync
// dependency's target joins the current chunk; an async dependency opens
// a new ChunkGroup (child of the current one) whose initial chunk starts
// the walk over again from the dependency's target module.
func (b *Builder) walk(g *Graph, grp *ChunkGroup, chunkKey Ukey, runtime string, module graph.ModuleID, visited map[visitKey]bool) {
	key := visitKey{chunkKey, module}
	if visited[key] {
		return
	}
	visited[key] = true

	chunk := g.Chunks[chunkKey]
	chunk.Modules.Add(module)

	for _, conn := range b.ModuleGraph.OutgoingConnections(module) {
		if !conn.Active {
			continue
		}
		dep := b.ModuleGraph.Dependency(conn.DependencyID)

		if !dep.Type.IsAsync() {
			b.walk(g, grp, chunkKey, runtime, conn.ResolvedModule, visited)
			continue
		}

		childGroup := g.newGroup(GroupAsync, defaultAsyncName(b.ModuleGraph, dep), conn.ResolvedModule)
		childGroup.Parents = append(childGroup.Parents, grp.Ukey)
		grp.Children = append(grp.Children, childGroup.Ukey)

		childChunk := g.newChunkIn(KindNormal, childGroup.Name)
		childChunk.Runtimes.Add(runtime)
		childGroup.Chunks = append(childGroup.Chunks, childChunk.Ukey)

		b.walk(g, childGroup, childChunk.Ukey, runtime, conn.ResolvedModule, visited)
	}
}

// pruneAvailableModules removes, from every chunk, any module already
// loaded by one of its chunk group's ancestors (spec §4.2's available-
// modules pruning): a group's available set is the union, over its
// parent groups, of each parent's own available set and the modules in
// the parent's chunks. Groups are processed in creation order, which is
// always parents-before-children (see Graph.SortedGroups).
func pruneAvailableModules(g *Graph, mg *graph.Graph) {
	available := map[Ukey]map[graph.ModuleID]bool{}

	for _, grp := range g.SortedGroups() {
		avail := map[graph.ModuleID]bool{}
		for _, parentKey := range grp.Parents {
			for m := range available[parentKey] {
				avail[m] = true
			}
			for _, ck := range g.Groups[parentKey].Chunks {
				for m := range g.Chunks[ck].Modules {
					avail[m] = true
				}
			}
		}
		available[grp.Ukey] = avail

		for _, ck := range grp.Chunks {
			chunk := g.Chunks[ck]
			for m := range chunk.Modules {
				if avail[m] {
					chunk.Modules.Remove(m)
				}
			}
		}
	}
}
