// Package chunk implements the chunk graph builder (spec §4.2): given a
// closed, optimised module graph and a list of entry points, it builds
// the set of Chunks and the ChunkGroup DAG a runtime will load, including
// the cache-group driven split-chunks pass (§4.2.4).
package chunk

import (
	"github.com/loom-build/loom/graph"
	"github.com/loom-build/loom/internal/set"
)

// Ukey is a local, arena-style id (Design Note: "represent references as
// (arena, index) pairs rather than owning pointers") — monotonically
// assigned at creation, never reused within one Graph.
type Ukey uint64

// Kind is a Chunk's role.
type Kind string

const (
	KindEntry     Kind = "entry"
	KindRuntime   Kind = "runtime"
	KindNormal    Kind = "normal"
	KindHotUpdate Kind = "hot-update"
)

// GroupKind distinguishes the two ChunkGroup types spec §3 names.
type GroupKind string

const (
	GroupEntrypoint GroupKind = "entrypoint"
	GroupAsync      GroupKind = "async"
)

// Chunk is a bucket of modules destined for a single emitted artifact
// (spec §3's Chunk entity).
type Chunk struct {
	Ukey     Ukey
	Name     string
	ID       string
	Kind     Kind
	Runtimes set.Set[string]
	Modules  set.Set[graph.ModuleID]
	Files    []string
	Hashes   Hashes
}

// Hashes holds the full/chunk/per-source-type content hashes computed
// during code generation (populated by package codegen, not here).
type Hashes struct {
	Full  string
	Chunk string
	ByType map[string]string
}

// ChunkGroup is a set of chunks loaded together (spec §3's ChunkGroup
// entity): an entrypoint group carries a runtime chunk plus normal
// chunks; an async group is created at a dynamic-import boundary.
type ChunkGroup struct {
	Ukey         Ukey
	Kind         GroupKind
	Name         string
	EntryModule  graph.ModuleID
	RuntimeChunk Ukey
	// Chunks are the group's non-runtime chunks in creation order; the
	// first is the group's initial chunk.
	Chunks   []Ukey
	Parents  []Ukey
	Children []Ukey
}

func newChunk(ukey Ukey, kind Kind, name string) *Chunk {
	return &Chunk{
		Ukey: ukey, Kind: kind, Name: name,
		Runtimes: set.New[string](),
		Modules:  set.New[graph.ModuleID](),
	}
}
