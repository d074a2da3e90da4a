package chunk

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/loom-build/loom/graph"
	"github.com/loom-build/loom/internal/set"
)

// Graph is the chunk graph: every Chunk and ChunkGroup a Builder created,
// plus the parent/child edges between groups that drive available-modules
// pruning and runtime-globals propagation (§4.2, §4.4).
type Graph struct {
	Chunks map[Ukey]*Chunk
	Groups map[Ukey]*ChunkGroup

	next        uint64
	namesTaken  map[string]bool
}

func newGraph() *Graph {
	return &Graph{
		Chunks:     map[Ukey]*Chunk{},
		Groups:     map[Ukey]*ChunkGroup{},
		namesTaken: map[string]bool{},
	}
}

func (g *Graph) nextUkey() Ukey {
	g.next++
	return Ukey(g.next)
}

// uniqueName applies the chunk-name-collision suffixing scheme
// (original_source supplement: a second chunk wanting an already-taken
// name is renamed "name~2", a third "name~3", and so on).
func (g *Graph) uniqueName(base string) string {
	if base == "" {
		base = "chunk"
	}
	if !g.namesTaken[base] {
		g.namesTaken[base] = true
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "~" + itoa(n)
		if !g.namesTaken[candidate] {
			g.namesTaken[candidate] = true
			return candidate
		}
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (g *Graph) newChunkIn(kind Kind, name string) *Chunk {
	c := newChunk(g.nextUkey(), kind, g.uniqueName(name))
	g.Chunks[c.Ukey] = c
	return c
}

func (g *Graph) newGroup(kind GroupKind, name string, entry graph.ModuleID) *ChunkGroup {
	grp := &ChunkGroup{Ukey: g.nextUkey(), Kind: kind, Name: name, EntryModule: entry}
	g.Groups[grp.Ukey] = grp
	return grp
}

// SortedGroups returns every group ordered by Ukey, which is also
// creation order and therefore always a valid parents-before-children
// topological order: a group is only ever created after the group that
// spawned it (§4.2's walk always creates the parent group first).
func (g *Graph) SortedGroups() []*ChunkGroup {
	out := make([]*ChunkGroup, 0, len(g.Groups))
	for _, grp := range g.Groups {
		out = append(out, grp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ukey < out[j].Ukey })
	return out
}

// SortedChunks returns every chunk ordered by Ukey.
func (g *Graph) SortedChunks() []*Chunk {
	out := make([]*Chunk, 0, len(g.Chunks))
	for _, c := range g.Chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ukey < out[j].Ukey })
	return out
}

// ChunksForGroup returns a group's runtime chunk (if any) followed by its
// non-runtime chunks, in creation order.
func (g *Graph) ChunksForGroup(grpKey Ukey) []*Chunk {
	grp := g.Groups[grpKey]
	var out []*Chunk
	if grp.RuntimeChunk != 0 {
		out = append(out, g.Chunks[grp.RuntimeChunk])
	}
	for _, ck := range grp.Chunks {
		out = append(out, g.Chunks[ck])
	}
	return out
}

// ModulesOf returns the resolved *graph.Module set a chunk contains,
// given the module graph it was built from.
func ModulesOf(mg *graph.Graph, c *Chunk) []*graph.Module {
	ids := set.SortedMembers(c.Modules, func(a, b graph.ModuleID) bool { return a < b })
	out := make([]*graph.Module, 0, len(ids))
	for _, id := range ids {
		out = append(out, mg.Module(id))
	}
	return out
}

func defaultAsyncName(mg *graph.Graph, dep *graph.Dependency) string {
	if dep.ParentBlock != 0 {
		if blk := mg.Block(dep.ParentBlock); blk.Name != "" {
			return blk.Name
		}
	}
	base := filepath.Base(dep.Request)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
