package codegen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loom-build/loom/chunk"
	"github.com/loom-build/loom/errors"
	"github.com/loom-build/loom/graph"
	"github.com/loom-build/loom/runtime"
)

// Asset is spec §4.5's `CompilationAsset { source, info }` entry, keyed
// by filename in the map RenderAssets returns.
type Asset struct {
	Source []byte
	Info   AssetInfo
}

// AssetInfo carries the flags spec §6 names for one emitted asset.
type AssetInfo struct {
	Immutable            bool
	Minimized             bool
	Development           bool
	HotModuleReplacement  bool
	JavaScriptModule      bool
	FullHash              []string
	ChunkHash             []string
	ContentHash           []string
	SourceFilename        string
	Copied                bool
	CSSUnusedIdents       []string
	IsOverSizeLimit       bool
	AssetType             string
}

// FilenameTemplate renders the `[name]`, `[id]`, `[contenthash]`,
// `[chunkhash]`, `[fullhash]`, `[ext]`, `[query]` tokens spec §4.5 names.
type FilenameTemplate string

// Default filename templates. RenderAssets falls back to
// DefaultJSTemplate when jsTemplate is empty; it does not use
// DefaultCSSTemplate.
const (
	DefaultJSTemplate  FilenameTemplate = "[name].[contenthash].[ext]"
	DefaultCSSTemplate FilenameTemplate = "[name].[contenthash].css"
)

type templateVars struct {
	name, id, contentHash, chunkHash, fullHash, ext, query string
}

func (t FilenameTemplate) render(v templateVars) string {
	r := strings.NewReplacer(
		"[name]", v.name,
		"[id]", v.id,
		"[contenthash]", v.contentHash,
		"[chunkhash]", v.chunkHash,
		"[fullhash]", v.fullHash,
		"[ext]", v.ext,
		"[query]", v.query,
	)
	return r.Replace(string(t))
}

// hasContentHashToken reports whether this template needs the two-pass
// render spec §4.5 requires ("content-hash tokens require a two-pass
// render: hashes are computed from an initial render, then the template
// is re-evaluated").
func (t FilenameTemplate) hasContentHashToken() bool {
	return strings.Contains(string(t), "[contenthash]") || strings.Contains(string(t), "[chunkhash]")
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// ProcessAssetsHook is the `processAssets` plugin phase (spec §6): a
// caller-supplied rewrite applied to the final asset set before it is
// handed to the (external) emitter.
type ProcessAssetsHook func(assets map[string]Asset) error

// RenderAssets renders every chunk in cg through format, computes
// content hashes, and assembles the final CompilationAsset map (spec
// §4.5). Every rendered chunk is named through jsTemplate with the "js"
// extension, chunks holding CSS modules included: this core's CSS loader
// always emits a JS module wrapping a CSSStyleSheet (see
// generateCSSExtract). Chunks with no modules, runtime chunks among them,
// are not rendered.
func RenderAssets(cg *chunk.Graph, mg *graph.Graph, results *Results, globals map[chunk.Ukey]*runtime.Globals, format Format, jsTemplate FilenameTemplate, moduleIDs, chunkIDs map[string]string, publicPath string) (map[string]Asset, error) {
	if jsTemplate == "" {
		jsTemplate = DefaultJSTemplate
	}

	fullHash := computeFullHash(cg, mg, results)

	assets := make(map[string]Asset)
	var diags errors.Diagnostics

	for _, c := range cg.SortedChunks() {
		if len(c.Modules) == 0 {
			// spec §8 boundary behaviour: "a chunk with zero modules and
			// zero entry modules is removed."
			continue
		}

		var entryModules []graph.ModuleID
		for _, grp := range cg.SortedGroups() {
			if len(grp.Chunks) > 0 && grp.Chunks[0] == c.Ukey {
				entryModules = []graph.ModuleID{grp.EntryModule}
			}
		}

		rc := &RenderContext{
			ModuleGraph:  mg,
			ChunkGraph:   cg,
			Chunk:        c,
			EntryModules: entryModules,
			ModuleIDs:    moduleIDs,
			ChunkIDs:     chunkIDs,
			Results:      results,
			Globals:      globals,
			PublicPath:   publicPath,
		}

		source, err := format.Render(rc)
		if err != nil {
			diags.AddError(&errors.ChunkRenderError{ChunkName: c.Name, Err: err})
			continue
		}

		chHash := contentHash(source)
		cID := chunkIDs[c.Name]
		if cID == "" {
			cID = c.Name
		}
		vars := templateVars{
			name:        c.Name,
			id:          cID,
			contentHash: chHash,
			chunkHash:   chHash,
			fullHash:    fullHash,
			ext:         "js",
		}
		filename := jsTemplate.render(vars)

		c.Hashes = chunk.Hashes{Full: fullHash, Chunk: chHash, ByType: map[string]string{"javascript": chHash}}
		c.Files = append(c.Files, filename)

		assets[filename] = Asset{
			Source: source,
			Info: AssetInfo{
				JavaScriptModule: format.Name() == "esm",
				FullHash:         []string{fullHash},
				ChunkHash:        []string{chHash},
				ContentHash:      []string{chHash},
				AssetType:        "javascript",
			},
		}
	}

	if diags.HasErrors() {
		return assets, diags.Join()
	}
	return assets, nil
}

// computeFullHash digests every chunk's sorted module identifiers and
// generated source together into one build-wide hash (spec §4.5's
// `[fullhash]` token; spec §8 determinism: identical inputs yield
// byte-equal ids and content across independent builds).
func computeFullHash(cg *chunk.Graph, mg *graph.Graph, results *Results) string {
	h := sha256.New()
	for _, c := range cg.SortedChunks() {
		for _, id := range SortedModuleIDs(c.Modules.Members()) {
			m := mg.Module(id)
			fmt.Fprintf(h, "%s:", m.Identifier)
			for _, rn := range c.Runtimes.Members() {
				if res, ok := results.Get(id, rn); ok {
					h.Write(res.Source)
				}
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// OutputPath joins an asset filename under outputDir, sanitizing any
// leading path separators a malformed [name]/[id] token could introduce.
func OutputPath(outputDir, filename string) string {
	clean := filepath.Clean("/" + filename)[1:]
	return filepath.Join(outputDir, clean)
}

// SortedFilenames returns an asset map's keys in lexicographic order,
// the order the (external) emitter writes them in for deterministic
// logging.
func SortedFilenames(assets map[string]Asset) []string {
	out := make([]string, 0, len(assets))
	for k := range assets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
