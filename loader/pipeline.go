// Package loader implements the pitching/normal two-phase transformation
// pipeline spec §4.3 describes, applied to each resource before the
// module parser sees it: an LRU dependency-invalidating cache, a bounded
// concurrent pool, and the built-in TS/TSX/JS/JSX (esbuild) and CSS
// loaders.
package loader

import (
	"fmt"

	"github.com/loom-build/loom/errors"
)

// Patch is what a loader's Pitch or Run phase returns: a replacement for
// the accumulated content/source-map/additional-data, or nil for
// pass-through (spec §4.3's "A loader may return None").
type Patch struct {
	Content        []byte
	SourceMap      []byte
	AdditionalData map[string]any
	// Cacheable, if non-nil, ANDs into the context's cacheable flag.
	Cacheable *bool
}

// Loader is the contract every loader (built-in or user-registered via
// Pipeline.Register) implements.
type Loader interface {
	Name() string
	// Pitch runs left-to-right before the resource is read. remaining is
	// the loaders to the right (not yet pitched); previous is the
	// loaders to the left (already pitched). A non-nil patch short-
	// circuits straight to the Normal phase at the loader to this one's
	// left.
	Pitch(ctx *Context, remaining, previous []Loader) (*Patch, error)
	// Run runs right-to-left in the Normal phase, fed the previous
	// loader's output (or the raw resource bytes for the rightmost
	// loader).
	Run(ctx *Context, content []byte, sourceMap []byte, additionalData map[string]any) (*Patch, error)
}

// BaseLoader gives concrete loaders a no-op Pitch so they only need to
// implement Run, matching the common case (most loaders never pitch).
type BaseLoader struct{}

func (BaseLoader) Pitch(*Context, []Loader, []Loader) (*Patch, error) { return nil, nil }

// Request is one pipeline invocation: the resource path (used to select
// the loader chain and for diagnostics) and its raw source bytes.
type Request struct {
	ResourcePath string
	Source       []byte
	// Loaders overrides the chain selected by extension, for callers
	// that already know the chain (e.g. a rule match performed upstream,
	// spec §4.3's "the rules engine is external to this core").
	Loaders []Loader
}

// Pipeline runs the pitching/normal state machine over a resource,
// backed by a Cache that Run consults and fills. Run executes on the
// caller's goroutine; it does not submit work to Pool.
type Pipeline struct {
	byExtension map[string][]Loader
	Cache       *Cache
	Pool        *Pool
}

// NewPipeline returns a Pipeline with the built-in esbuild-backed
// TS/TSX/JS/JSX loaders and the CSS-module loader registered by
// extension, an LRU cache, and a bounded pool.
func NewPipeline() *Pipeline {
	p := &Pipeline{
		byExtension: make(map[string][]Loader),
		Cache:       NewCache(64 << 20),
		Pool:        NewPool(8, 256),
	}
	p.Register(".ts", NewEsbuildLoader(EsbuildTS))
	p.Register(".mts", NewEsbuildLoader(EsbuildTS))
	p.Register(".cts", NewEsbuildLoader(EsbuildTS))
	p.Register(".tsx", NewEsbuildLoader(EsbuildTSX))
	p.Register(".js", NewEsbuildLoader(EsbuildJS))
	p.Register(".mjs", NewEsbuildLoader(EsbuildJS))
	p.Register(".cjs", NewEsbuildLoader(EsbuildJS))
	p.Register(".jsx", NewEsbuildLoader(EsbuildJSX))
	p.Register(".css", NewCSSLoader())
	return p
}

// Register installs the loader chain used for resources with the given
// extension (including the leading dot).
func (p *Pipeline) Register(ext string, chain ...Loader) {
	p.byExtension[ext] = chain
}

// Run executes the full state machine (Init -> Pitching ->
// {ProcessResource|Normal} -> Finished) for one resource, consulting the
// cache first and populating it on a cacheable result.
func (p *Pipeline) Run(req Request) ([]byte, Context, error) {
	key := CacheKey{Path: req.ResourcePath}
	if entry, ok := p.Cache.Get(key); ok {
		return entry.Code, Context{ResourcePath: req.ResourcePath, FileDependencies: entry.Dependencies, cacheable: true}, nil
	}

	chain := req.Loaders
	if chain == nil {
		chain = p.byExtension[extOf(req.ResourcePath)]
	}

	ctx := NewContext(req.ResourcePath)
	content := req.Source

	if len(chain) > 0 {
		var err error
		content, err = p.runPitchingAndNormal(ctx, chain, content)
		if err != nil {
			return nil, *ctx, err
		}
	}

	if ctx.Cacheable() {
		p.Cache.Set(key, content, ctx.FileDependencies)
	}
	return content, *ctx, nil
}

// runPitchingAndNormal implements the state machine body: pitching
// traverses left-to-right and may short-circuit into Normal at an
// earlier index; Normal traverses right-to-left over whatever index
// pitching landed on.
func (p *Pipeline) runPitchingAndNormal(ctx *Context, chain []Loader, source []byte) ([]byte, error) {
	content := source
	normalStart := len(chain) - 1 // default: Normal runs the whole chain right-to-left

	for i := 0; i < len(chain); i++ {
		l := chain[i]
		patch, err := l.Pitch(ctx, chain[i+1:], chain[:i])
		if err != nil {
			return nil, &errors.ModuleBuildError{ModuleIdentifier: ctx.ResourcePath, LoaderChain: chainNames(chain), Err: err}
		}
		if patch != nil {
			content = applyPatch(ctx, patch, content)
			// Short-circuit: Normal resumes at the loader to the left
			// of the one that pitched (spec §4.3).
			normalStart = i - 1
			break
		}
	}

	for i := normalStart; i >= 0; i-- {
		l := chain[i]
		patch, err := l.Run(ctx, content, nil, nil)
		if err != nil {
			return nil, &errors.ModuleBuildError{ModuleIdentifier: ctx.ResourcePath, LoaderChain: chainNames(chain), Err: fmt.Errorf("%s: %w", l.Name(), err)}
		}
		if patch != nil {
			content = applyPatch(ctx, patch, content)
		}
	}

	return content, nil
}

func applyPatch(ctx *Context, patch *Patch, content []byte) []byte {
	if patch.Cacheable != nil {
		ctx.SetCacheable(*patch.Cacheable)
	}
	if patch.Content != nil {
		return patch.Content
	}
	return content
}

func chainNames(chain []Loader) []string {
	names := make([]string, len(chain))
	for i, l := range chain {
		names[i] = l.Name()
	}
	return names
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
