// Package compilation wires the engine's forward passes
// (Loader→Parse→ModuleGraph→Optimise→ChunkGraph→SplitChunks→
// RuntimeRequirements→CodeGen→Assets) and the incremental rebuild loop
// (spec §2's pass table, §4.6) into one Engine a caller drives with
// Build or Watch.
//
// Grounded on the teacher's GenerateSession/WatchSession split
// (generate/session_core.go, generate/session_watch.go): a long-lived,
// mutex-protected session object holding reusable setup state
// (resolver, parser, loader pipeline), a cheap GenerateFullManifest-style
// full-build entry point, and a WatchSession wrapping it with a debounced
// fsnotify loop and a RunWatch method logging duration the same way.
package compilation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loom-build/loom/chunk"
	"github.com/loom-build/loom/codegen"
	"github.com/loom-build/loom/config"
	"github.com/loom-build/loom/devnotify"
	"github.com/loom-build/loom/errors"
	"github.com/loom-build/loom/graph"
	"github.com/loom-build/loom/incremental"
	"github.com/loom-build/loom/internal/logging"
	"github.com/loom-build/loom/loader"
	"github.com/loom-build/loom/parse"
	"github.com/loom-build/loom/resolver"
	"github.com/loom-build/loom/runtime"
	"github.com/loom-build/loom/watcher"
)

// Result is one completed compilation's closed artifacts and emitted
// asset set (spec §4.5's final output), returned by both Build and each
// Watch rebuild.
type Result struct {
	ModuleGraph *graph.Graph
	ChunkGraph  *chunk.Graph
	Assets      map[string]codegen.Asset
	ModuleIDs   map[string]string
	ChunkIDs    map[string]string
	// Results is the per-(module, runtime) code generation output this
	// compilation produced, kept so a following incremental rebuild
	// (rebuild) can regenerate only the modules it actually touched
	// instead of every module in the graph (spec §4.6).
	Results     *codegen.Results
	Diagnostics *errors.Diagnostics
	Duration    time.Duration
}

// Engine holds the reusable setup state a compilation needs (resolver,
// parser, loader pipeline, config) so repeated builds in watch mode don't
// pay setup cost twice, the same role the teacher's GenerateContext
// plays for GenerateSession.
type Engine struct {
	cfg      *config.Config
	resolver resolver.Resolver
	parser   parse.Parser
	pipeline *loader.Pipeline

	mu         sync.RWMutex
	artifacts  *incremental.Artifacts
	lastResult *Result

	Notify *devnotify.Manager
	logger *logging.Logger
}

// New returns an Engine over cfg, with a filesystem resolver rooted at
// cfg.ProjectDir and a fresh loader pipeline (the caller registers
// loaders via Pipeline()).
func New(cfg *config.Config, pipeline *loader.Pipeline) *Engine {
	return &Engine{
		cfg:      cfg,
		resolver: resolver.NewFileSystemResolver(cfg.ProjectDir),
		parser:   parse.NewTreeSitterParser(),
		pipeline: pipeline,
		Notify:   devnotify.NewManager(),
		logger:   logging.Default(),
	}
}

// Pipeline exposes the engine's loader pipeline so the caller can
// register loader chains before the first Build.
func (e *Engine) Pipeline() *loader.Pipeline { return e.pipeline }

func (e *Engine) entryRequests() []graph.EntryRequest {
	out := make([]graph.EntryRequest, len(e.cfg.Entries))
	for i, en := range e.cfg.Entries {
		out[i] = graph.EntryRequest{Name: en.Name, Request: en.Request}
	}
	return out
}

func (e *Engine) entrySpecs(mg *graph.Graph) ([]chunk.EntrySpec, error) {
	out := make([]chunk.EntrySpec, 0, len(e.cfg.Entries))
	for _, en := range e.cfg.Entries {
		id, ok := mg.ModuleByIdentifier(en.Request)
		if !ok {
			return nil, fmt.Errorf("compilation: entry %q not found in module graph after build", en.Name)
		}
		out = append(out, chunk.EntrySpec{Name: en.Name, Module: id, Runtime: en.Runtime})
	}
	return out, nil
}

// compiledCacheGroups turns the config's declarative cache-group rules
// into chunk.CacheGroup predicates (config.CacheGroupConfig's doc
// comment: "compiled into a chunk.CacheGroup predicate by package
// compilation, since a predicate function cannot round-trip through
// YAML").
func compiledCacheGroups(cfgs []config.CacheGroupConfig) []chunk.CacheGroup {
	out := make([]chunk.CacheGroup, len(cfgs))
	for i, c := range cfgs {
		c := c
		out[i] = chunk.CacheGroup{
			Key: c.Key,
			Test: func(m *graph.Module) bool {
				return c.TestPattern == "" || contains(m.Identifier, c.TestPattern)
			},
			Chunks:             chunk.ChunksSelector(orDefault(c.Chunks, "all")),
			MinChunks:          maxInt(c.MinChunks, 1),
			MinSizeReduction:   map[chunk.SizeType]int64{chunk.SizeJavaScript: c.MinSizeReduction, chunk.SizeCSS: c.MinSizeReduction},
			Priority:           c.Priority,
			ReuseExistingChunk: c.ReuseExistingChunk,
		}
		if c.NamePattern != "" {
			name := c.NamePattern
			out[i].Name = func([]*graph.Module) string { return name }
		}
	}
	return out
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func idPolicy(name string) runtime.IDPolicy {
	switch name {
	case "named":
		return runtime.PolicyNamed
	case "natural":
		return runtime.PolicyNatural
	default:
		return runtime.PolicyDeterministic
	}
}

func chunkFormat(name string) codegen.Format {
	switch name {
	case "esm":
		return codegen.ESMFormat{}
	case "system":
		return codegen.SystemFormat{}
	default:
		return codegen.ClassicFormat{}
	}
}

// Build runs one complete compilation through every pass in order,
// capturing incremental artifacts for a subsequent Watch rebuild (spec
// §2's pass table L through I).
func (e *Engine) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	var diags errors.Diagnostics

	b := graph.NewBuilder(e.resolver, e.parser, e.pipeline)
	mg, err := b.Build(ctx, e.entryRequests())
	if err != nil {
		return nil, fmt.Errorf("compilation: build module graph: %w", err)
	}

	runtimeNames := e.runtimeNames()
	graph.Optimise(mg, runtimeNames, graph.OptimiseOptions{
		SideEffects: e.cfg.Optimization.SideEffects,
		Mangle:      e.cfg.Optimization.Mangle,
		InnerGraph:  e.cfg.Optimization.InnerGraph,
	})

	entries, err := e.entrySpecs(mg)
	if err != nil {
		return nil, err
	}
	cb := chunk.NewBuilder(mg)
	cg := cb.Build(entries)

	if len(e.cfg.CacheGroups) > 0 {
		chunk.SplitChunks(cg, mg, compiledCacheGroups(e.cfg.CacheGroups))
	}

	moduleIDs := runtime.AssignIDs(moduleIdentifiables(mg), idPolicy(e.cfg.ModuleIDPolicy))
	chunkIDs := runtime.AssignIDs(chunkIdentifiables(cg), idPolicy(e.cfg.ChunkIDPolicy))

	results := codegen.GenerateAll(mg, runtimeNames, moduleIDs)
	globals := codegen.PropagateRuntimeGlobals(cg, mg, results)

	format := chunkFormat(e.cfg.Format)
	assets, err := codegen.RenderAssets(cg, mg, results, globals, format, codegen.DefaultJSTemplate, moduleIDs, chunkIDs, e.cfg.PublicPath)
	if err != nil {
		diags.AddError(err)
	}

	artifacts := incremental.Capture(mg, cg, moduleIDs, chunkIDs)

	e.mu.Lock()
	e.artifacts = artifacts
	res := &Result{
		ModuleGraph: mg,
		ChunkGraph:  cg,
		Assets:      assets,
		ModuleIDs:   moduleIDs,
		ChunkIDs:    chunkIDs,
		Results:     results,
		Diagnostics: &diags,
		Duration:    time.Since(start),
	}
	e.lastResult = res
	e.mu.Unlock()

	return res, nil
}

// rebuild runs the incremental path spec §4.6 describes: re-factorize
// and re-parse only decision.AffectedModules in place on top of the
// previous module graph, then rerun optimisation, chunking and id
// assignment in full — those passes are pure functions of the graph's
// current state, cheap enough to always rerun, unlike the I/O- and
// parse-bound module graph build itself. Code generation reruns only for
// decision.AffectedModules on top of the previous results, and falls
// back to regenerating code for the whole graph if there is no previous
// per-module code generation output to extend.
func (e *Engine) rebuild(ctx context.Context, decision incremental.Decision) (*Result, error) {
	start := time.Now()
	var diags errors.Diagnostics

	e.mu.RLock()
	artifacts := e.artifacts
	prev := e.lastResult
	e.mu.RUnlock()

	b := graph.NewBuilder(e.resolver, e.parser, e.pipeline)
	b.Graph = artifacts.ModuleGraph
	if err := b.RebuildModules(ctx, decision.AffectedModules); err != nil {
		diags.AddError(err)
	}
	mg := b.Graph

	runtimeNames := e.runtimeNames()
	graph.Optimise(mg, runtimeNames, graph.OptimiseOptions{
		SideEffects: e.cfg.Optimization.SideEffects,
		Mangle:      e.cfg.Optimization.Mangle,
		InnerGraph:  e.cfg.Optimization.InnerGraph,
	})

	entries, err := e.entrySpecs(mg)
	if err != nil {
		return nil, err
	}
	cb := chunk.NewBuilder(mg)
	cg := cb.Build(entries)

	if len(e.cfg.CacheGroups) > 0 {
		chunk.SplitChunks(cg, mg, compiledCacheGroups(e.cfg.CacheGroups))
	}

	moduleIDs := runtime.AssignIDs(moduleIdentifiables(mg), idPolicy(e.cfg.ModuleIDPolicy))
	chunkIDs := runtime.AssignIDs(chunkIdentifiables(cg), idPolicy(e.cfg.ChunkIDPolicy))

	var results *codegen.Results
	if prev != nil && prev.Results != nil {
		results = codegen.GenerateIncremental(mg, runtimeNames, decision.AffectedModules, moduleIDs, prev.Results)
	} else {
		results = codegen.GenerateAll(mg, runtimeNames, moduleIDs)
	}
	globals := codegen.PropagateRuntimeGlobals(cg, mg, results)

	format := chunkFormat(e.cfg.Format)
	assets, err := codegen.RenderAssets(cg, mg, results, globals, format, codegen.DefaultJSTemplate, moduleIDs, chunkIDs, e.cfg.PublicPath)
	if err != nil {
		diags.AddError(err)
	}

	newArtifacts := incremental.Capture(mg, cg, moduleIDs, chunkIDs)

	e.mu.Lock()
	e.artifacts = newArtifacts
	res := &Result{
		ModuleGraph: mg,
		ChunkGraph:  cg,
		Assets:      assets,
		ModuleIDs:   moduleIDs,
		ChunkIDs:    chunkIDs,
		Results:     results,
		Diagnostics: &diags,
		Duration:    time.Since(start),
	}
	e.lastResult = res
	e.mu.Unlock()

	return res, diags.Join()
}

func (e *Engine) runtimeNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, en := range e.cfg.Entries {
		rn := en.Runtime
		if rn == "" {
			rn = en.Name
		}
		if !seen[rn] {
			seen[rn] = true
			names = append(names, rn)
		}
	}
	sort.Strings(names)
	return names
}

func moduleIdentifiables(mg *graph.Graph) []runtime.Identifiable {
	mods := mg.Modules()
	out := make([]runtime.Identifiable, len(mods))
	for i, m := range mods {
		out[i] = runtime.Identifiable{Key: m.Identifier, InsertionOrder: int(m.ID)}
	}
	return out
}

func chunkIdentifiables(cg *chunk.Graph) []runtime.Identifiable {
	chunks := cg.SortedChunks()
	out := make([]runtime.Identifiable, len(chunks))
	for i, c := range chunks {
		out[i] = runtime.Identifiable{Key: c.Name, InsertionOrder: int(c.Ukey)}
	}
	return out
}

// LastResult returns the most recently completed Build/rebuild's result,
// or nil before the first one closes.
func (e *Engine) LastResult() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastResult
}

// Watch runs an initial Build, then drives a watcher over every file and
// context dependency path the build recorded (both tracked as files;
// missing dependency paths are not watched), rebuilding
// (fully or incrementally per incremental.Artifacts.Decide) on every
// aggregated change batch until ctx is cancelled (spec §4.6's rebuild
// loop; teacher's WatchSession.RunWatch: initial generation, logged
// duration, then a for-select loop over the watcher's channel).
func (e *Engine) Watch(ctx context.Context) error {
	e.logger.Info("Starting watch mode...")

	start := time.Now()
	res, err := e.Build(ctx)
	if err != nil {
		e.logger.Error("Initial build failed: %v", err)
		return err
	}
	e.logger.Success("Built in %s", time.Since(start))
	e.broadcastResult(res, time.Since(start))

	w, err := e.setupWatcher()
	if err != nil {
		return fmt.Errorf("compilation: setup watcher: %w", err)
	}
	defer w.Close()

	e.logger.Info("Watching for file changes...")
	for {
		select {
		case <-ctx.Done():
			e.Notify.BroadcastShutdown()
			return ctx.Err()
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			e.handleBatch(ctx, batch, w)
		}
	}
}

func (e *Engine) setupWatcher() (*watcher.Watcher, error) {
	w, err := watcher.New(watcher.Options{
		FollowSymlinks:   e.cfg.Watch.FollowSymlinks,
		AggregateTimeout: time.Duration(e.cfg.Watch.AggregateTimeoutMS) * time.Millisecond,
		Ignored:          e.cfg.Watch.Ignored,
	})
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	artifacts := e.artifacts
	e.mu.RUnlock()

	var files, contexts, missing []string
	if artifacts != nil {
		files = append(files, keysOf(artifacts.FileCounters)...)
	}
	if err := w.Track(files, contexts, missing); err != nil {
		return nil, err
	}
	return w, nil
}

// keysOf exposes the tracked file paths from a FileDependencyCounters so
// the watcher can subscribe to exactly what the build actually touched.
func keysOf(c *incremental.FileDependencyCounters) []string {
	return c.TrackedFiles()
}

func (e *Engine) handleBatch(ctx context.Context, batch watcher.Batch, w *watcher.Watcher) {
	e.mu.RLock()
	artifacts := e.artifacts
	e.mu.RUnlock()
	if artifacts == nil {
		return
	}

	decision := artifacts.Decide(batch.Changed, batch.Removed)
	e.logger.Debug("incremental: %s", decision.Reason)

	if !decision.FullRebuild && len(decision.AffectedModules) == 0 {
		// Nothing the previous build tracked depends on this batch.
		return
	}

	start := time.Now()
	var res *Result
	var err error
	if decision.FullRebuild || e.LastResult() == nil {
		res, err = e.Build(ctx)
	} else {
		res, err = e.rebuild(ctx, decision)
	}
	duration := time.Since(start)
	if err != nil {
		e.logger.Error("Rebuild failed: %v", err)
		e.Notify.Broadcast(devnotify.Event{Type: devnotify.EventError, Errors: []string{err.Error()}, DurationMillis: duration.Milliseconds()})
		return
	}
	e.logger.Success("Rebuilt in %s (%s)", duration, decision.Reason)
	e.broadcastResult(res, duration)

	if artifacts2 := e.currentArtifacts(); artifacts2 != nil {
		_ = w.Track(keysOf(artifacts2.FileCounters), nil, nil)
	}
}

func (e *Engine) currentArtifacts() *incremental.Artifacts {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.artifacts
}

func (e *Engine) broadcastResult(res *Result, duration time.Duration) {
	changed := make([]string, 0, len(res.Assets))
	for name := range res.Assets {
		changed = append(changed, name)
	}
	sort.Strings(changed)
	var errs []string
	if res.Diagnostics != nil {
		for _, err := range res.Diagnostics.Errors() {
			errs = append(errs, err.Error())
		}
	}
	ev := devnotify.Event{Type: devnotify.EventOK, ChangedAssets: changed, DurationMillis: duration.Milliseconds()}
	if len(errs) > 0 {
		ev.Type = devnotify.EventError
		ev.Errors = errs
	}
	e.Notify.Broadcast(ev)
}
