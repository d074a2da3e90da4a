package codegen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loom-build/loom/chunk"
	"github.com/loom-build/loom/graph"
	"github.com/loom-build/loom/runtime"
)

// ErrFormatUnsupported is returned by a stubbed chunk format's Render
// (spec §9 Open Question: System/AMD envelopes are out of proportion to
// what the tested end-to-end scenarios in §8 need — see DESIGN.md).
var ErrFormatUnsupported = errors.New("codegen: chunk format not implemented")

// RenderContext carries everything a Format needs to render one chunk:
// the closed graphs, the id assignments (spec §4.4), the per-(module,
// runtime) generation results, and the propagated per-chunk runtime
// globals (spec §4.4's union-per-chunk/group/runtime-chunk chain).
type RenderContext struct {
	ModuleGraph *graph.Graph
	ChunkGraph  *chunk.Graph
	Chunk       *chunk.Chunk
	// EntryModules are the chunk's entry modules to invoke at startup, in
	// the order their entrypoints were declared (only non-empty for
	// initial/entry chunks — spec §4.5 step 4).
	EntryModules []graph.ModuleID
	ModuleIDs    map[string]string // graph.Module.Identifier -> assigned id
	ChunkIDs     map[string]string // chunk name -> assigned id
	Results      *Results
	Globals      map[chunk.Ukey]*runtime.Globals
	PublicPath   string
}

func (rc *RenderContext) moduleID(m *graph.Module) string {
	if id, ok := rc.ModuleIDs[m.Identifier]; ok {
		return id
	}
	return m.Identifier
}

func (rc *RenderContext) chunkID(c *chunk.Chunk) string {
	if id, ok := rc.ChunkIDs[c.Name]; ok {
		return id
	}
	return c.Name
}

// Format renders one chunk's concatenated preamble + modules + runtime
// payloads + startup code (spec §4.5's four-part concatenation), and
// names the runtime chunk envelope it belongs to (spec §6).
type Format interface {
	Name() string
	Render(rc *RenderContext) ([]byte, error)
}

// ClassicFormat is the library-wrapper/global-namespace envelope: a
// module cache object plus a require() dispatcher in an IIFE, the
// default for a script-tag-loaded bundle (spec §6 "classical: global
// namespace + register functions").
type ClassicFormat struct{}

func (ClassicFormat) Name() string { return "classic" }

func (c ClassicFormat) Render(rc *RenderContext) ([]byte, error) {
	var buf strings.Builder
	buf.WriteString("(function(modules) {\n")
	buf.WriteString("  var installedModules = {};\n")
	buf.WriteString("  function __loom_require__(id) {\n")
	buf.WriteString("    if (installedModules[id]) return installedModules[id].exports;\n")
	buf.WriteString("    var module = installedModules[id] = { exports: {} };\n")
	buf.WriteString("    modules[id](module, module.exports, __loom_require__);\n")
	buf.WriteString("    return module.exports;\n")
	buf.WriteString("  }\n")

	if err := renderRuntimeModules(&buf, rc, "  "); err != nil {
		return nil, err
	}

	buf.WriteString("  var __loom_modules__ = {\n")
	for _, id := range SortedModuleIDs(rc.Chunk.Modules.Members()) {
		m := rc.ModuleGraph.Module(id)
		res, ok := rc.Results.Get(id, firstRuntime(rc.Chunk.Runtimes.Members()))
		if !ok {
			return nil, fmt.Errorf("codegen: no generation result for module %q", m.Identifier)
		}
		fmt.Fprintf(&buf, "    %q: function(module, exports, __loom_require__) {\n", rc.moduleID(m))
		writeIndented(&buf, res.Source, "      ")
		buf.WriteString("    },\n")
	}
	buf.WriteString("  };\n")
	buf.WriteString("  Object.assign(modules, __loom_modules__);\n")

	if len(rc.EntryModules) > 0 {
		buf.WriteString("  // startup\n")
		for _, id := range rc.EntryModules {
			m := rc.ModuleGraph.Module(id)
			fmt.Fprintf(&buf, "  __loom_require__(%q);\n", rc.moduleID(m))
		}
	}

	buf.WriteString("})(typeof self !== 'undefined' ? (self.__loom_modules__ = self.__loom_modules__ || {}) : {});\n")
	return []byte(buf.String()), nil
}

// ESMFormat emits the ESM runtime-chunk envelope spec §6 names: `export
// const runtime` for runtime chunks; `export const ids`, `export const
// modules`, and an `import { runtime } from "./<runtime chunk name>.js"`
// for non-runtime chunks.
type ESMFormat struct{}

func (ESMFormat) Name() string { return "esm" }

func (f ESMFormat) Render(rc *RenderContext) ([]byte, error) {
	var buf strings.Builder

	if rc.Chunk.Kind == chunk.KindRuntime {
		buf.WriteString("export const runtime = {\n")
		buf.WriteString("  installedModules: Object.create(null),\n")
		buf.WriteString("  require(id, modules) {\n")
		buf.WriteString("    if (this.installedModules[id]) return this.installedModules[id].exports;\n")
		buf.WriteString("    const module = this.installedModules[id] = { exports: {} };\n")
		buf.WriteString("    modules[id](module, module.exports, (dep) => this.require(dep, modules));\n")
		buf.WriteString("    return module.exports;\n")
		buf.WriteString("  },\n")
		buf.WriteString("};\n")
		if err := renderRuntimeModules(&buf, rc, ""); err != nil {
			return nil, err
		}
		return []byte(buf.String()), nil
	}

	runtimeChunkName := rc.ChunkGraph.Chunks[rc.runtimeChunkUkey()].Name
	fmt.Fprintf(&buf, "import { runtime } from %q;\n", "./"+runtimeChunkName+".js")
	buf.WriteString("export const ids = [\n")
	for _, id := range SortedModuleIDs(rc.Chunk.Modules.Members()) {
		fmt.Fprintf(&buf, "  %q,\n", rc.moduleID(rc.ModuleGraph.Module(id)))
	}
	buf.WriteString("];\n")
	buf.WriteString("export const modules = {\n")
	for _, id := range SortedModuleIDs(rc.Chunk.Modules.Members()) {
		m := rc.ModuleGraph.Module(id)
		res, ok := rc.Results.Get(id, firstRuntime(rc.Chunk.Runtimes.Members()))
		if !ok {
			return nil, fmt.Errorf("codegen: no generation result for module %q", m.Identifier)
		}
		fmt.Fprintf(&buf, "  %q: function(module, exports, __loom_require__) {\n", rc.moduleID(m))
		writeIndented(&buf, res.Source, "    ")
		buf.WriteString("  },\n")
	}
	buf.WriteString("};\n")

	if len(rc.EntryModules) > 0 {
		buf.WriteString("// startup\n")
		for _, id := range rc.EntryModules {
			m := rc.ModuleGraph.Module(id)
			fmt.Fprintf(&buf, "runtime.require(%q, modules);\n", rc.moduleID(m))
		}
	}
	return []byte(buf.String()), nil
}

// runtimeChunkUkey finds the ukey of the runtime chunk the render
// context's chunk belongs to by scanning the chunk-group DAG for a group
// whose Chunks slice contains this chunk.
func (rc *RenderContext) runtimeChunkUkey() chunk.Ukey {
	for _, grp := range rc.ChunkGraph.SortedGroups() {
		for _, ck := range grp.Chunks {
			if ck == rc.Chunk.Ukey {
				return grp.RuntimeChunk
			}
		}
	}
	return 0
}

// SystemFormat is the System/AMD library-target envelope named in spec
// §6; left unimplemented per the Open Question decision in DESIGN.md —
// no end-to-end scenario in §8 exercises it.
type SystemFormat struct{}

func (SystemFormat) Name() string                          { return "system" }
func (SystemFormat) Render(*RenderContext) ([]byte, error) { return nil, ErrFormatUnsupported }

// renderRuntimeModules writes the runtime-module payloads required for
// this render context's runtime chunk (spec §4.5 step 3: "only for
// runtime chunks"). Payload bodies are named by the RuntimeGlobals bits
// the chunk's propagated set declares.
func renderRuntimeModules(buf *strings.Builder, rc *RenderContext, indent string) error {
	if rc.Chunk.Kind != chunk.KindRuntime {
		return nil
	}
	globals := rc.Globals[rc.Chunk.Ukey]
	if globals == nil {
		return nil
	}
	for _, name := range globals.Names() {
		fmt.Fprintf(buf, "%s// runtime module: %s\n", indent, name)
	}
	return nil
}

func writeIndented(buf *strings.Builder, src []byte, indent string) {
	for _, line := range strings.Split(string(src), "\n") {
		if line == "" {
			continue
		}
		buf.WriteString(indent)
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
}

func firstRuntime(names []string) string {
	if len(names) == 0 {
		return ""
	}
	best := names[0]
	for _, n := range names[1:] {
		if n < best {
			best = n
		}
	}
	return best
}

// PropagateRuntimeGlobals implements spec §4.4's propagation chain:
// union per chunk (from its modules' generated globals), then union per
// chunk group, then per runtime chunk, so each runtime chunk ends up
// requiring exactly the helpers the chunks loaded under it need.
func PropagateRuntimeGlobals(cg *chunk.Graph, mg *graph.Graph, results *Results) map[chunk.Ukey]*runtime.Globals {
	perChunk := map[chunk.Ukey]*runtime.Globals{}
	for _, c := range cg.SortedChunks() {
		g := runtime.New()
		for _, id := range c.Modules.Members() {
			for _, rn := range c.Runtimes.Members() {
				if res, ok := results.Get(id, rn); ok {
					g.Union(res.Globals)
				}
			}
		}
		perChunk[c.Ukey] = g
	}

	for _, grp := range cg.SortedGroups() {
		if grp.RuntimeChunk == 0 {
			continue
		}
		rtGlobals := perChunk[grp.RuntimeChunk]
		for _, ck := range grp.Chunks {
			rtGlobals.Union(perChunk[ck])
		}
	}
	return perChunk
}
