// Package graph implements the module graph builder (spec §4.1): the
// parallel task loop that discovers, resolves, parses, and links modules
// into a directed graph with precise dependency attribution, plus the
// module-graph optimisation passes that run once the graph is closed.
package graph

// ModuleID, DependencyID, and BlockID are arena indices into Graph's
// backing slices rather than owning pointers, so the graph can be walked,
// copied, and diffed (package incremental) without chasing live pointers
// across rebuilds.
type ModuleID uint32
type DependencyID uint32
type BlockID uint32

// ConnectionID indexes Graph.connections.
type ConnectionID uint32

// Kind is the closed set of module variants spec §3 names.
type Kind string

const (
	KindNormal        Kind = "normal"
	KindExternal       Kind = "external"
	KindConcatenated   Kind = "concatenated"
	KindRuntime        Kind = "runtime"
	KindConsumeShared  Kind = "consume-shared"
	KindProvideShared  Kind = "provide-shared"
	KindCSSExtract     Kind = "css-extract"
)

// DependencyType is the closed set of dependency type tags spec §3 lists;
// it drives both chunk-graph edge classification (sync vs. async) and
// code generation.
type DependencyType string

const (
	ESMImport          DependencyType = "esm-import"
	ESMImportSpecifier DependencyType = "esm-import-specifier"
	ESMExport          DependencyType = "esm-export"
	CJSRequire         DependencyType = "cjs-require"
	DynamicImport      DependencyType = "dynamic-import"
	URLDependency      DependencyType = "url-dependency"
	WorkerDependency   DependencyType = "worker-dependency"
	ContextRequestType DependencyType = "context-request"
	HMRAccept          DependencyType = "hmr-accept"
	HMRDecline         DependencyType = "hmr-decline"
	CSSImport          DependencyType = "css-import"
	ContainerExposed   DependencyType = "container-exposed"
	Remote             DependencyType = "remote"
	ConsumeShared      DependencyType = "consume-shared"
	EntryDependency    DependencyType = "entry"
)

// IsAsync reports whether a dependency of this type creates a new chunk
// group (§4.2 "walk") rather than joining the current chunk's module set.
func (t DependencyType) IsAsync() bool {
	switch t {
	case DynamicImport, WorkerDependency, Remote:
		return true
	default:
		return false
	}
}

// BuildInfo carries the per-module file/context/missing/build dependency
// path sets and warnings the builder merges into the compilation's
// dependency counters for watcher invalidation (§4.1, §4.6).
type BuildInfo struct {
	FileDependencies    []string
	ContextDependencies []string
	MissingDependencies []string
	BuildDependencies   []string
	Warnings            []string
}

// Module is a single unit of source after loaders (spec §3's Module
// entity). It is created when first resolved, owned by the Graph, mutated
// only during its own build task, and dropped when the Graph is dropped.
type Module struct {
	ID         ModuleID
	Identifier string // resolved absolute path; the raw specifier for externals
	Kind       Kind
	BuildHash  string
	Source     []byte
	Layer      string

	DependencyIDs []DependencyID
	BlockIDs      []BlockID

	Exports   *ExportsInfo
	BuildInfo BuildInfo

	// SideEffectFree marks a module declared free of side effects (by
	// package.json `sideEffects` or a per-file override), enabling the
	// side-effects-elision optimisation pass (§4.1.4 step 3).
	SideEffectFree bool

	// Diagnostics holds build errors/warnings attached to this module;
	// a non-empty Diagnostics after the build marks the module in
	// Graph.FailedModules (§4.1 "Termination").
	Diagnostics []error

	// External is the raw external specifier for KindExternal modules.
	External string
}

// Dependency is an edge-like object attached to a source position within a
// module (spec §3's Dependency entity). Dependencies are one-way
// references; they do not own modules.
type Dependency struct {
	ID       DependencyID
	Type     DependencyType
	Request  string
	RangeLo  int
	RangeHi  int
	// Splice, when non-empty, is the JS code generation substitutes over
	// [RangeLo:RangeHi) of the parent module's source once this
	// dependency resolves, with every occurrence of parse.SplicePlaceholder
	// replaced by the resolved target module's quoted assigned id.
	Splice string
	// Specifier is the imported export name an ESMImportSpecifier
	// dependency consumes from its target module — used only by usage
	// analysis, never by code generation.
	Specifier string
	Parent   ModuleID
	ParentBlock BlockID // zero value (no block) unless inside an async block

	// Resolved is the ConnectionID once FactorizeTask has resolved this
	// dependency; HasConnection is false if resolution failed (e.g. a
	// module-not-found error was recorded instead) so a zero-value
	// ConnectionID is never mistaken for "resolved to connection 0".
	Resolved      ConnectionID
	HasConnection bool

	// LazyGroup names the lazy-dependency group this dependency belongs
	// to, or "" if it is processed eagerly (§4.1 "Lazy dependencies").
	LazyGroup string
}

// AsyncDependenciesBlock is a container of dependencies representing an
// async split point (spec §3). It forms the boundary across which a new
// chunk group is created during §4.2.
type AsyncDependenciesBlock struct {
	ID            BlockID
	Parent        ModuleID
	DependencyIDs []DependencyID
	Name          string
	Preload       bool
	Prefetch      bool
}

// ModuleGraphConnection is the resolved form of a Dependency (spec §3):
// (originating module, dependency id, resolved target module).
type ModuleGraphConnection struct {
	ID             ConnectionID
	OriginModule   ModuleID
	DependencyID   DependencyID
	ResolvedModule ModuleID
	// Active is false once side-effects elision (§4.1.4 step 3) drops
	// this connection from code generation; the edge itself remains for
	// diagnostics.
	Active bool
}

// UsageState is the per-runtime usage state of an export (spec §4.1.4
// step 2).
type UsageState int

const (
	UsageUnknown UsageState = iota
	UsageUnused
	UsageOnlyPropertiesUsed
	UsageUsed
)

// ExportInfo is one named export's provision and usage record.
type ExportInfo struct {
	Name       string
	Provided   TriState
	Usage      map[string]UsageState // keyed by runtime name
	MangledName string
	// ReExportFrom, if non-empty, is the request string, as written in
	// the source, of the module this export re-exports from;
	// provisionExports follows it one hop (§4.1.4 step 1).
	ReExportFrom string
}

// TriState models "provided / not-provided / unknown" (spec §3's
// ExportsInfo provision state).
type TriState int

const (
	TriUnknown TriState = iota
	TriProvided
	TriNotProvided
)

// ExportsInfo is the per-module export record described in spec §3: the
// substrate for tree-shaking and mangling.
type ExportsInfo struct {
	Module  ModuleID
	Exports map[string]*ExportInfo
	// UnknownExports is true if the module may export names not
	// statically discoverable (e.g. `export * from` a CJS module, or
	// dynamic `module.exports[x] = ...`).
	UnknownExports bool
}

func newExportsInfo(m ModuleID) *ExportsInfo {
	return &ExportsInfo{Module: m, Exports: make(map[string]*ExportInfo)}
}
