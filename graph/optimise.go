package graph

import "sort"

// Optimise runs the module-graph optimisation passes spec §4.1.4 lists,
// in order, against a closed graph. runtimes names the runtime set usage
// analysis propagates per (§4.4 ties runtime requirements to this set).
func Optimise(g *Graph, runtimes []string, opts OptimiseOptions) {
	provisionExports(g)
	analyseUsage(g, runtimes)
	if opts.SideEffects {
		elideSideEffectFreeConnections(g)
	}
	if opts.Mangle {
		mangleExports(g, runtimes)
	}
	if opts.InnerGraph {
		analyseInnerGraphPurity(g)
	}
}

// OptimiseOptions toggles the later, opt-in optimisation steps (§4.1.4
// steps 3-5 are conditional: side-effects elision needs a sideEffects
// declaration, mangling and inner-graph analysis are opt-in compilation
// settings).
type OptimiseOptions struct {
	SideEffects bool
	Mangle      bool
	InnerGraph  bool
}

// provisionExports seeds each module's ExportsInfo (already done at
// parse time by seedExports) and, for each re-export ExportInfo, marks
// the same-named export of the directly targeted module as provided
// (§4.1.4 step 1). Only one hop is followed; chains of re-exports are
// not walked.
func provisionExports(g *Graph) {
	for _, m := range g.Modules() {
		for _, exp := range m.Exports.Exports {
			if exp.ReExportFrom == "" {
				continue
			}
			target := resolveReExportTarget(g, m, exp.ReExportFrom)
			if target == nil {
				continue
			}
			// Mark the target's same-named export as provided; a
			// module may re-export a name it does not itself declare,
			// so this is additive rather than a fresh record.
			if te, ok := target.Exports.Exports[exp.Name]; ok {
				te.Provided = TriProvided
			}
		}
	}
}

func resolveReExportTarget(g *Graph, from *Module, request string) *Module {
	for _, conn := range g.OutgoingConnections(from.ID) {
		dep := g.Dependency(conn.DependencyID)
		if dep.Request == request {
			return g.Module(conn.ResolvedModule)
		}
	}
	return nil
}

// analyseUsage propagates UsageState backward from entry modules and
// side-effecting dependencies (§4.1.4 step 2). A breadth-first walk over
// reachable connections finds every module a build actually touches;
// within that reachable set, only the export names an ESMImportSpecifier
// dependency actually names are marked Used — a module reachable only
// through specifier-tracked imports that never names export "two" must
// leave "two" Unused (§8 S4), even though "one" from the same module is
// Used. Connections whose dependency type can't enumerate which names it
// consumes (bare/side-effect imports, CJS require, dynamic import,
// worker, re-exports, unknown-exports modules) fall back to marking
// every export of the target Used, since nothing more precise is known.
func analyseUsage(g *Graph, runtimes []string) {
	if len(runtimes) == 0 {
		runtimes = []string{"default"}
	}

	reachable := make(map[ModuleID]bool)
	var stack []ModuleID
	for _, e := range g.Entries {
		stack = append(stack, e)
	}

	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[m] {
			continue
		}
		reachable[m] = true
		for _, conn := range g.OutgoingConnections(m) {
			if !conn.Active {
				continue
			}
			stack = append(stack, conn.ResolvedModule)
		}
	}

	markUsed := func(mod *Module, name string, rts []string) {
		exp, ok := mod.Exports.Exports[name]
		if !ok {
			return
		}
		for _, rt := range rts {
			if exp.Usage == nil {
				exp.Usage = make(map[string]UsageState)
			}
			exp.Usage[rt] = UsageUsed
		}
	}

	markAllUsed := func(mod *Module, rts []string) {
		for name := range mod.Exports.Exports {
			markUsed(mod, name, rts)
		}
	}

	for id := range reachable {
		mod := g.Module(id)
		for _, conn := range g.OutgoingConnections(id) {
			if !conn.Active {
				continue
			}
			target := g.Module(conn.ResolvedModule)
			dep := g.Dependency(conn.DependencyID)
			if dep.Type == ESMImportSpecifier {
				markUsed(target, dep.Specifier, runtimes)
				continue
			}
			if target.Exports.UnknownExports || !hasSpecifierTracking(g, id, conn.ResolvedModule) {
				markAllUsed(target, runtimes)
			}
		}
	}

	// An entry module's own top-level exports are the bundle's public
	// surface — nothing inside the graph names them, but they are used
	// by definition.
	for _, e := range g.Entries {
		markAllUsed(g.Module(e), runtimes)
	}

	// Every export left with no recorded usage for a runtime is Unused:
	// either its module was never reached at all, or it was reached but
	// no specifier dependency ever named it.
	for _, mod := range g.Modules() {
		for _, exp := range mod.Exports.Exports {
			for _, rt := range runtimes {
				if exp.Usage == nil {
					exp.Usage = make(map[string]UsageState)
				}
				if _, set := exp.Usage[rt]; !set {
					exp.Usage[rt] = UsageUnused
				}
			}
		}
	}
}

// hasSpecifierTracking reports whether origin has at least one
// ESMImportSpecifier dependency resolving to target — i.e. whether the
// ESM import connecting them came with a per-name breakdown usage
// analysis can trust instead of falling back to "every export used".
func hasSpecifierTracking(g *Graph, origin, target ModuleID) bool {
	for _, conn := range g.OutgoingConnections(origin) {
		if conn.ResolvedModule != target {
			continue
		}
		if g.Dependency(conn.DependencyID).Type == ESMImportSpecifier {
			return true
		}
	}
	return false
}

// elideSideEffectFreeConnections drops (for code-generation purposes
// only — the edge remains for diagnostics) connections into
// side-effect-free modules whose every export is Unused on every runtime
// (§4.1.4 step 3).
func elideSideEffectFreeConnections(g *Graph) {
	for _, conn := range allConnections(g) {
		target := g.Module(conn.ResolvedModule)
		if target.SideEffectFree && !anyExportUsed(target) {
			conn.Active = false
		}
	}
}

func anyExportUsed(m *Module) bool {
	for _, exp := range m.Exports.Exports {
		for _, u := range exp.Usage {
			if u == UsageUsed || u == UsageOnlyPropertiesUsed {
				return true
			}
		}
	}
	return false
}

func allConnections(g *Graph) []*ModuleGraphConnection {
	var out []*ModuleGraphConnection
	for _, m := range g.Modules() {
		out = append(out, g.OutgoingConnections(m.ID)...)
	}
	return out
}

// mangleAlphabetStart and mangleAlphabetContinue are the base alphabets
// spec §4.1.4 step 4 names: identifier-start characters for the first
// character of a mangled name, identifier-continuation characters
// (adding digits) after that.
const (
	mangleAlphabetStart      = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_$"
	mangleAlphabetContinue   = mangleAlphabetStart + "0123456789"
)

// reservedMangledNames are identifiers a mangled export name must never
// collide with.
var reservedMangledNames = map[string]bool{
	"default": true, "this": true, "arguments": true, "eval": true,
}

// mangleExports replaces used, non-mangle-disabled export names with
// short deterministic identifiers (§4.1.4 step 4). Exports are visited in
// a stable (module identifier, export name) sort so the assignment is
// reproducible across builds (§8).
func mangleExports(g *Graph, runtimes []string) {
	type target struct {
		mod *Module
		exp *ExportInfo
	}
	var targets []target
	for _, m := range g.Modules() {
		names := make([]string, 0, len(m.Exports.Exports))
		for name := range m.Exports.Exports {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			exp := m.Exports.Exports[name]
			if !usedOnAnyRuntime(exp, runtimes) {
				continue
			}
			targets = append(targets, target{mod: m, exp: exp})
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].mod.Identifier != targets[j].mod.Identifier {
			return targets[i].mod.Identifier < targets[j].mod.Identifier
		}
		return targets[i].exp.Name < targets[j].exp.Name
	})

	idx := 0
	for _, t := range targets {
		var name string
		for {
			name = mangledName(idx)
			idx++
			if !reservedMangledNames[name] {
				break
			}
		}
		t.exp.MangledName = name
	}
}

func usedOnAnyRuntime(exp *ExportInfo, runtimes []string) bool {
	for _, rt := range runtimes {
		if exp.Usage[rt] == UsageUsed || exp.Usage[rt] == UsageOnlyPropertiesUsed {
			return true
		}
	}
	return false
}

// mangledName computes the i-th identifier in the base-alphabet scheme:
// the first character is drawn from the identifier-start alphabet, every
// subsequent character from the identifier-continuation alphabet
// (letters, digits, `_`, `$`).
func mangledName(i int) string {
	startLen := len(mangleAlphabetStart)
	contLen := len(mangleAlphabetContinue)

	if i < startLen {
		return string(mangleAlphabetStart[i])
	}

	i -= startLen
	var suffix []byte
	for {
		suffix = append([]byte{mangleAlphabetContinue[i%contLen]}, suffix...)
		i = i/contLen - 1
		if i < 0 {
			break
		}
	}
	return string(mangleAlphabetStart[0]) + string(suffix)
}

// PureDeclaration is one top-level declaration inner-graph analysis
// tracked for a module that opted in (§4.1.4 step 5).
type PureDeclaration struct {
	Name        string
	Pure        bool
	Dependencies []string // names of other top-level declarations it references
}

// analyseInnerGraphPurity is a conservative placeholder for §4.1.4 step
// 5: without a full AST it can only mark modules with no dependencies and
// no async blocks as candidates, leaving the precise pure-declaration DAG
// to the (external) parser/AST transformer once it exposes declaration
// boundaries. Modules are left untouched; this records nothing
// incorrectly rather than guessing purity it cannot verify.
func analyseInnerGraphPurity(g *Graph) {
	_ = g
}
