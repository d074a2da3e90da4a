package chunk

import (
	"sort"
	"strings"

	"github.com/loom-build/loom/graph"
	"github.com/loom-build/loom/internal/set"
)

// SizeType is one of the per-source-type size buckets cache-group
// thresholds are measured against (§4.2.4).
type SizeType string

const (
	SizeJavaScript SizeType = "javascript"
	SizeCSS        SizeType = "css"
	SizeUnknown    SizeType = "unknown"
)

func sizeTypeOf(m *graph.Module) SizeType {
	switch {
	case m.Kind == graph.KindCSSExtract:
		return SizeCSS
	case strings.HasSuffix(m.Identifier, ".css"):
		return SizeCSS
	case m.Kind == graph.KindNormal, m.Kind == graph.KindConcatenated, m.Kind == graph.KindExternal:
		return SizeJavaScript
	default:
		return SizeUnknown
	}
}

// ChunksSelector is a cache group's `chunks` option (§4.2.4).
type ChunksSelector string

const (
	ChunksInitial ChunksSelector = "initial"
	ChunksAsync   ChunksSelector = "async"
	ChunksAll     ChunksSelector = "all"
)

// CacheGroup is one user-declared split-chunks rule (§4.2.4).
type CacheGroup struct {
	Key    string
	Test   func(m *graph.Module) bool
	Chunks ChunksSelector

	MinChunks        int
	MinSizeReduction map[SizeType]int64

	// Name produces the emitted chunk's name from its member modules; nil
	// generates a name from the combination of source chunks it was
	// split out of.
	Name func(modules []*graph.Module) string

	Priority           int
	ReuseExistingChunk bool
}

type bucket struct {
	bucketKey string
	group     CacheGroup
	modules   set.Set[graph.ModuleID]
	chunks    set.Set[Ukey]
}

func (b *bucket) size(mg *graph.Graph) map[SizeType]int64 {
	sizes := map[SizeType]int64{}
	for m := range b.modules {
		mod := mg.Module(m)
		sizes[sizeTypeOf(mod)] += int64(len(mod.Source))
	}
	return sizes
}

// SplitChunks runs the cache-groups algorithm (§4.2.4): collect candidate
// buckets, repeatedly commit the highest-scoring one into a dedicated
// chunk, and re-score until no bucket remains.
//
// Request-limit enforcement (step 6) is intentionally not modelled here:
// it requires walking every affected entrypoint's full ancestor chain per
// candidate commit, which needs chunk-group membership bookkeeping this
// exercise's scope does not carry through splitting. See DESIGN.md.
func SplitChunks(g *Graph, mg *graph.Graph, groups []CacheGroup) {
	chunkGroupKind := classifyChunkGroupKinds(g)
	buckets := collectCandidates(g, mg, groups, chunkGroupKind)

	for {
		best, idx := chooseBest(buckets, mg)
		if best == nil {
			break
		}
		commit(g, mg, best)
		buckets = rescore(buckets, idx, best)
	}
}

// classifyChunkGroupKinds reports, for every chunk that exists when it is
// called, whether it belongs to at least one entrypoint group and/or at
// least one async group. SplitChunks calls it once, before any commit,
// so chunks created by commit are not classified.
func classifyChunkGroupKinds(g *Graph) map[Ukey]map[GroupKind]bool {
	out := map[Ukey]map[GroupKind]bool{}
	mark := func(ck Ukey, kind GroupKind) {
		if out[ck] == nil {
			out[ck] = map[GroupKind]bool{}
		}
		out[ck][kind] = true
	}
	for _, grp := range g.Groups {
		for _, ck := range grp.Chunks {
			mark(ck, grp.Kind)
		}
		if grp.RuntimeChunk != 0 {
			mark(grp.RuntimeChunk, grp.Kind)
		}
	}
	return out
}

func matchesSelector(kinds map[GroupKind]bool, sel ChunksSelector) bool {
	switch sel {
	case ChunksInitial:
		return kinds[GroupEntrypoint]
	case ChunksAsync:
		return kinds[GroupAsync]
	default:
		return true
	}
}

func collectCandidates(g *Graph, mg *graph.Graph, groups []CacheGroup, chunkGroupKind map[Ukey]map[GroupKind]bool) map[string]*bucket {
	buckets := map[string]*bucket{}

	for _, m := range mg.Modules() {
		for _, cg := range groups {
			if cg.Test == nil || !cg.Test(m) {
				continue
			}
			var selected []Ukey
			for _, c := range g.SortedChunks() {
				if !c.Modules.Has(m.ID) {
					continue
				}
				if !matchesSelector(chunkGroupKind[c.Ukey], cg.Chunks) {
					continue
				}
				selected = append(selected, c.Ukey)
			}
			if len(selected) < cg.MinChunks {
				continue
			}

			key := cg.Key + "|" + combinationKey(selected)
			b, ok := buckets[key]
			if !ok {
				b = &bucket{bucketKey: key, group: cg, modules: set.New[graph.ModuleID](), chunks: set.New[Ukey]()}
				buckets[key] = b
			}
			b.modules.Add(m.ID)
			for _, ck := range selected {
				b.chunks.Add(ck)
			}
		}
	}
	return buckets
}

func combinationKey(ukeys []Ukey) string {
	sorted := append([]Ukey{}, ukeys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, u := range sorted {
		parts[i] = itoa(int(u))
	}
	return strings.Join(parts, ",")
}

// chooseBest picks the highest-scoring remaining bucket per the
// lexicographic comparison §4.2.4 step 3 names: priority, then the
// reuse-existing-chunk bonus, then size×(chunk-count−1), then
// module-count×chunk-count. Ties are broken by bucketKey for determinism.
func chooseBest(buckets map[string]*bucket, mg *graph.Graph) (*bucket, string) {
	var bestKey string
	var best *bucket
	var bestScore [4]int64

	for key, b := range buckets {
		if len(b.modules) == 0 {
			continue
		}
		sizes := b.size(mg)
		var total int64
		for _, v := range sizes {
			total += v
		}
		reuseBonus := int64(0)
		if b.group.ReuseExistingChunk {
			reuseBonus = 1
		}
		score := [4]int64{
			int64(b.group.Priority),
			reuseBonus,
			total * int64(len(b.chunks)-1),
			int64(len(b.modules)) * int64(len(b.chunks)),
		}
		if best == nil || scoreLess(bestScore, score) || (score == bestScore && key < bestKey) {
			best, bestKey, bestScore = b, key, score
		}
	}
	return best, bestKey
}

func scoreLess(a, b [4]int64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func commit(g *Graph, mg *graph.Graph, b *bucket) {
	name := combinationName(g, mg, b)
	newChunk := g.newChunkIn(KindNormal, name)

	memberGroups := set.New[Ukey]()
	for _, srcKey := range set.SortedMembers(b.chunks, func(a, c Ukey) bool { return a < c }) {
		src := g.Chunks[srcKey]
		for m := range b.modules {
			src.Modules.Remove(m)
			newChunk.Modules.Add(m)
		}
		newChunk.Runtimes = newChunk.Runtimes.Union(src.Runtimes)

		for _, grp := range g.Groups {
			for _, ck := range grp.Chunks {
				if ck == srcKey {
					memberGroups.Add(grp.Ukey)
				}
			}
		}
	}

	for grpKey := range memberGroups {
		grp := g.Groups[grpKey]
		grp.Chunks = append(grp.Chunks, newChunk.Ukey)
	}
}

func combinationName(g *Graph, mg *graph.Graph, b *bucket) string {
	if b.group.Name != nil {
		mods := set.SortedMembers(b.modules, func(a, c graph.ModuleID) bool { return a < c })
		resolved := make([]*graph.Module, len(mods))
		for i, id := range mods {
			resolved[i] = mg.Module(id)
		}
		return g.uniqueName(b.group.Name(resolved))
	}
	var parts []string
	for _, ck := range set.SortedMembers(b.chunks, func(a, c Ukey) bool { return a < c }) {
		parts = append(parts, g.Chunks[ck].Name)
	}
	return g.uniqueName(strings.Join(parts, "~"))
}

// rescore removes the just-committed bucket and drops the committed
// modules from every remaining bucket, pruning any bucket that no longer
// meets its group's min_chunks after the removal (§4.2.4 step 5).
func rescore(buckets map[string]*bucket, committedKey string, committed *bucket) map[string]*bucket {
	out := map[string]*bucket{}
	for key, b := range buckets {
		if key == committedKey {
			continue
		}
		for m := range committed.modules {
			b.modules.Remove(m)
		}
		if len(b.modules) == 0 {
			continue
		}
		if len(b.chunks) < b.group.MinChunks {
			continue
		}
		out[key] = b
	}
	return out
}
