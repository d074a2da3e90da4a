package graph

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/loom-build/loom/errors"
	"github.com/loom-build/loom/internal/logging"
	"github.com/loom-build/loom/loader"
	"github.com/loom-build/loom/parse"
	"github.com/loom-build/loom/resolver"
)

// EntryRequest names one entry point the builder must seed the graph
// with.
type EntryRequest struct {
	Name    string
	Request string
}

// Builder runs the task loop described in spec §4.1: FactorizeTask ->
// AddTask -> BuildTask -> BuildResultTask -> ProcessDependenciesTask,
// background tasks executing in parallel and the main lane the sole
// writer of the Graph. The worker-pool shape (buffered jobs channel, N
// pooled workers, single collecting loop) is the same one the teacher
// uses for its own batch module processing.
type Builder struct {
	Graph    *Graph
	Resolver resolver.Resolver
	Parser   parse.Parser
	Loader   *loader.Pipeline // nil: read files directly, no transform
	NumWorkers int
	Logger   *logging.Logger
}

// NewBuilder returns a Builder over a fresh Graph.
func NewBuilder(res resolver.Resolver, p parse.Parser, lp *loader.Pipeline) *Builder {
	return &Builder{
		Graph:      New(),
		Resolver:   res,
		Parser:     p,
		Loader:     lp,
		NumWorkers: runtime.NumCPU(),
		Logger:     logging.Default(),
	}
}

// factorizeJob is a background-lane unit of work: resolve a request, then
// (if it isn't a cache hit) load and parse it.
type factorizeJob struct {
	issuer      ModuleID
	hasIssuer   bool
	issuerPath  string
	request     string
	depType     DependencyType
	entryName   string
	rangeLo     int
	rangeHi     int
	splice      string
	specifier   string
	parentBlock BlockID
}

// jobResult is what a background worker sends back to the main lane.
type jobResult struct {
	job        factorizeJob
	resolution *resolver.Resolution
	parsed     *parse.Result
	source     []byte
	buildInfo  loader.Context
	err        error
}

// Build runs the task loop to completion: the graph is closed when the
// job queue is empty and no background task remains in flight (§4.1
// "Termination"). It returns every error recorded across modules, joined
// with errors.Join (nil if there were none), but always returns a fully linked
// Graph (build failures are recorded per-module, not fatal to the whole
// build).
func (b *Builder) Build(ctx context.Context, entries []EntryRequest) (*Graph, error) {
	numWorkers := b.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}

	jobs := make(chan factorizeJob, 4096)
	results := make(chan jobResult, 4096)

	var inFlight sync.WaitGroup
	var workers sync.WaitGroup

	workers.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer workers.Done()
			for job := range jobs {
				select {
				case <-ctx.Done():
					results <- jobResult{job: job, err: ctx.Err()}
					continue
				default:
				}
				results <- b.factorizeAndBuild(job)
			}
		}()
	}

	enqueue := func(j factorizeJob) {
		inFlight.Add(1)
		jobs <- j
	}

	for _, e := range entries {
		enqueue(factorizeJob{request: e.Request, depType: EntryDependency, entryName: e.Name})
	}

	closed := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(jobs)
		workers.Wait()
		close(results)
		close(closed)
	}()

	var diagnostics errors.Diagnostics
	entryIDs := make(map[string]ModuleID)
	for res := range results {
		moduleID, newJobs := b.processResult(res)
		if res.err != nil {
			diagnostics.AddError(res.err)
		}
		if moduleID != nil && res.job.depType == EntryDependency {
			entryIDs[res.job.entryName] = *moduleID
		}
		for _, j := range newJobs {
			enqueue(j)
		}
		inFlight.Done()
	}
	<-closed

	for _, e := range entries {
		if id, ok := entryIDs[e.Name]; ok {
			b.Graph.Entries = append(b.Graph.Entries, id)
		}
	}

	return b.Graph, diagnostics.Join()
}

// factorizeAndBuild is the background lane: FactorizeTask (resolve) +
// BuildTask (load + parse). It touches no shared graph state, only the
// job it was handed — the invariant spec §4.1 requires of background
// tasks.
func (b *Builder) factorizeAndBuild(job factorizeJob) jobResult {
	res, err := b.Resolver.Resolve(resolver.Request{Issuer: job.issuerPath, Specifier: job.request})
	if err != nil {
		return jobResult{job: job, err: &errors.ResolveError{Issuer: job.issuerPath, Request: job.request, Err: err}}
	}

	if res.External {
		return jobResult{job: job, resolution: res}
	}

	if _, ok := b.Graph.ModuleByIdentifier(res.Identifier); ok {
		// Cache hit: AddTask will just connect the dependency, no build
		// needed.
		return jobResult{job: job, resolution: res}
	}

	source, lang, ok := b.readAndDetectLanguage(res.Identifier)
	if !ok {
		return jobResult{job: job, resolution: res, err: fmt.Errorf("graph: %s: unrecognised source extension", res.Identifier)}
	}

	var buildInfo loader.Context
	if b.Loader != nil {
		out, lctx, lerr := b.Loader.Run(loader.Request{ResourcePath: res.Identifier, Source: source})
		if lerr != nil {
			return jobResult{job: job, resolution: res, err: &errors.ModuleBuildError{ModuleIdentifier: res.Identifier, Err: lerr}}
		}
		source = out
		buildInfo = lctx
	}

	parsed, perr := b.Parser.Parse(lang, source)
	if perr != nil {
		return jobResult{job: job, resolution: res, source: source, buildInfo: buildInfo,
			err: &errors.ModuleParseError{ModuleIdentifier: res.Identifier, Message: perr.Error()}}
	}

	return jobResult{job: job, resolution: res, parsed: parsed, source: source, buildInfo: buildInfo}
}

func (b *Builder) readAndDetectLanguage(path string) ([]byte, parse.Language, bool) {
	ext := extOf(path)
	lang, ok := parse.LanguageForExt(ext)
	if !ok {
		return nil, "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, lang, false
	}
	return data, lang, true
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

// processResult is AddTask + BuildResultTask + ProcessDependenciesTask,
// run on the main lane (the caller of processResult is Build's single
// results-draining loop, so calls are already serialized). It returns the
// module id produced (if any) and the new FactorizeTasks to enqueue.
func (b *Builder) processResult(res jobResult) (*ModuleID, []factorizeJob) {
	if res.err != nil && res.resolution == nil {
		// FactorizeTask failed outright (resolve error); nothing to link.
		return nil, nil
	}

	var moduleID ModuleID
	reused := false
	if res.resolution.External {
		moduleID = b.getOrCreateExternal(res.resolution.Identifier)
	} else if existing, ok := b.Graph.ModuleByIdentifier(res.resolution.Identifier); ok {
		moduleID = existing
		reused = true
	} else {
		m := &Module{
			Identifier: res.resolution.Identifier,
			Kind:       KindNormal,
			Source:     res.source,
		}
		if res.buildInfo.FileDependencies != nil || res.buildInfo.ContextDependencies != nil ||
			res.buildInfo.MissingDependencies != nil || res.buildInfo.BuildDependencies != nil {
			m.BuildInfo = BuildInfo{
				FileDependencies:    res.buildInfo.FileDependencies,
				ContextDependencies: res.buildInfo.ContextDependencies,
				MissingDependencies: res.buildInfo.MissingDependencies,
				BuildDependencies:   res.buildInfo.BuildDependencies,
			}
		}
		m.BuildInfo.FileDependencies = append(m.BuildInfo.FileDependencies, res.resolution.FileDependencies...)
		if res.err != nil {
			m.Diagnostics = append(m.Diagnostics, res.err)
		}
		moduleID = b.Graph.addModule(m)
		if len(m.Diagnostics) > 0 {
			b.Graph.markFailed(moduleID)
		}
	}

	// Connect the dependency that produced this job, unless this is a
	// bare entry request (no issuer dependency to connect).
	if res.job.hasIssuer {
		depID := b.Graph.addDependency(Dependency{
			Type: res.job.depType, Request: res.job.request,
			RangeLo: res.job.rangeLo, RangeHi: res.job.rangeHi,
			Splice: res.job.splice, Specifier: res.job.specifier,
			Parent: res.job.issuer, ParentBlock: res.job.parentBlock,
		})
		b.Graph.connect(depID, moduleID)
	}

	if res.parsed == nil || reused {
		return &moduleID, nil
	}

	// ProcessDependenciesTask: seed this module's exports and emit a
	// FactorizeTask for each discovered dependency.
	seedExports(b.Graph.Module(moduleID), res.parsed.Exports)

	var newJobs []factorizeJob
	for _, dep := range res.parsed.Dependencies {
		newJobs = append(newJobs, factorizeJob{
			issuer: moduleID, hasIssuer: true, issuerPath: res.resolution.Identifier,
			request: dep.Request, depType: depTypeFor(dep.Kind),
			rangeLo: dep.RangeStart, rangeHi: dep.RangeEnd,
			splice: dep.Splice, specifier: dep.Specifier,
		})
	}
	return &moduleID, newJobs
}

// RebuildModules reprocesses each named module's own source in place —
// re-reading, re-loading through the pipeline, and re-parsing it — then
// walks any newly discovered dependencies through the same
// factorize/build/process steps Build uses, sequentially rather than
// over the worker pool (spec §4.6's incremental rebuild targets a small,
// capped affected-module set — incremental.MaxAffectedModulesBeforeFullRebuild
// — so the concurrency Build needs for a from-scratch walk buys nothing
// here). Operates on b.Graph; the caller is responsible for pointing a
// fresh Builder's Graph field at the previous build's graph before
// calling this.
func (b *Builder) RebuildModules(ctx context.Context, ids []ModuleID) error {
	var diagnostics errors.Diagnostics
	var queue []factorizeJob

	for _, id := range ids {
		m := b.Graph.Module(id)
		source, lang, ok := b.readAndDetectLanguage(m.Identifier)
		if !ok {
			diagnostics.AddError(fmt.Errorf("graph: %s: unrecognised source extension", m.Identifier))
			continue
		}

		var buildInfo loader.Context
		if b.Loader != nil {
			out, lctx, lerr := b.Loader.Run(loader.Request{ResourcePath: m.Identifier, Source: source})
			if lerr != nil {
				diagnostics.AddError(&errors.ModuleBuildError{ModuleIdentifier: m.Identifier, Err: lerr})
				continue
			}
			source = out
			buildInfo = lctx
		}

		parsed, perr := b.Parser.Parse(lang, source)
		if perr != nil {
			diagnostics.AddError(&errors.ModuleParseError{ModuleIdentifier: m.Identifier, Message: perr.Error()})
			continue
		}

		m.Source = source
		m.BuildInfo = BuildInfo{
			FileDependencies:    buildInfo.FileDependencies,
			ContextDependencies: buildInfo.ContextDependencies,
			MissingDependencies: buildInfo.MissingDependencies,
			BuildDependencies:   buildInfo.BuildDependencies,
		}
		m.DependencyIDs = nil
		m.Exports = newExportsInfo(id)
		m.Diagnostics = nil
		seedExports(m, parsed.Exports)

		for _, dep := range parsed.Dependencies {
			queue = append(queue, factorizeJob{
				issuer: id, hasIssuer: true, issuerPath: m.Identifier,
				request: dep.Request, depType: depTypeFor(dep.Kind),
				rangeLo: dep.RangeStart, rangeHi: dep.RangeEnd,
				splice: dep.Splice, specifier: dep.Specifier,
			})
		}
	}

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		job := queue[0]
		queue = queue[1:]

		res := b.factorizeAndBuild(job)
		if res.err != nil {
			diagnostics.AddError(res.err)
		}
		_, newJobs := b.processResult(res)
		queue = append(queue, newJobs...)
	}

	return diagnostics.Join()
}

func (b *Builder) getOrCreateExternal(specifier string) ModuleID {
	if id, ok := b.Graph.ModuleByIdentifier(specifier); ok {
		return id
	}
	return b.Graph.addModule(&Module{Identifier: specifier, Kind: KindExternal, External: specifier})
}

func depTypeFor(k parse.DependencyKind) DependencyType {
	switch k {
	case parse.DepESMImport:
		return ESMImport
	case parse.DepESMImportSpecifier:
		return ESMImportSpecifier
	case parse.DepESMExportFrom:
		return ESMExport
	case parse.DepDynamicImport:
		return DynamicImport
	case parse.DepCJSRequire:
		return CJSRequire
	case parse.DepWorker:
		return WorkerDependency
	case parse.DepCSSImport:
		return CSSImport
	default:
		return ESMImport
	}
}

func seedExports(m *Module, decls []parse.ExportDecl) {
	for _, d := range decls {
		name := d.Name
		if name == "" {
			m.Exports.UnknownExports = true
			continue
		}
		m.Exports.Exports[name] = &ExportInfo{
			Name: name, Provided: TriProvided, ReExportFrom: d.ReExportFrom,
			Usage: make(map[string]UsageState),
		}
	}
}
