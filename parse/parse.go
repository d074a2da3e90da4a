// Package parse implements the external "parse(source) → AST + discovered
// dependency list" collaborator that spec §1 names as out of scope for the
// bundler core proper (the core consumes it, it does not define a full
// JS/TS grammar). It is implemented concretely with tree-sitter so the
// module graph builder (package graph) has a real producer to drive
// dependency discovery from.
package parse

// Language identifies which grammar a source file should be parsed with.
type Language string

const (
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangCSS        Language = "css"
)

// LanguageForExt maps a file extension (including the leading dot) to the
// grammar used to parse it. Unrecognised extensions return ("", false).
func LanguageForExt(ext string) (Language, bool) {
	switch ext {
	case ".ts", ".mts", ".cts", ".js", ".mjs", ".cjs":
		return LangTypeScript, true
	case ".tsx", ".jsx":
		return LangTSX, true
	case ".css":
		return LangCSS, true
	default:
		return "", false
	}
}

// DependencyKind classifies a discovered dependency the way the parser can
// tell just from syntax, before resolution assigns it a full
// graph.DependencyType.
type DependencyKind string

const (
	DepESMImport          DependencyKind = "esm-import"
	DepESMImportSpecifier DependencyKind = "esm-import-specifier"
	DepESMExportFrom      DependencyKind = "esm-export-from"
	DepDynamicImport      DependencyKind = "dynamic-import"
	DepCJSRequire         DependencyKind = "cjs-require"
	DepWorker             DependencyKind = "worker"
	DepCSSImport          DependencyKind = "css-import"
)

// SplicePlaceholder marks, inside Dependency.Splice, where code
// generation must substitute the target module's assigned, quoted id
// string. It is the NUL byte, which never otherwise appears in source
// text tree-sitter hands back.
const SplicePlaceholder = "\x00"

// Dependency is one discovered reference to another module, at a source
// position, before resolution.
type Dependency struct {
	Kind    DependencyKind
	Request string
	// Range is the byte offset range of the replaceable token within the
	// source: for Splice-bearing dependencies this spans the whole
	// import/export/require/import() construct, so code generation can
	// replace it wholesale; for DepESMImportSpecifier (which shares its
	// parent import's range and isn't independently spliced) it is zero.
	RangeStart int
	RangeEnd   int
	// Splice, when non-empty, is the JS source code generation must
	// substitute over [RangeStart:RangeEnd) once the dependency resolves,
	// with every SplicePlaceholder occurrence replaced by the target
	// module's quoted assigned id.
	Splice string
	// Specifier is the imported binding name for a DepESMImportSpecifier
	// dependency (the name as exported by the target module, not the
	// local alias) — used only for usage analysis, never code generation.
	Specifier string
}

// ExportDecl is one discovered top-level export, before linking into
// ExportsInfo.
type ExportDecl struct {
	Name         string // empty for bare re-export-all ("export * from ...")
	ReExportFrom string // non-empty if this export re-exports another module
	IsDefault    bool
}

// Result is the parser's output: enough information for the module graph
// builder to create dependencies and seed exports info, plus an opaque AST
// handle later passes may use for code generation. The concrete AST type
// is deliberately opaque here — spec §1 treats the full parser/AST
// transformer as an external collaborator; this core only needs the
// dependency list and export declarations out of it.
type Result struct {
	AST          any
	Dependencies []Dependency
	Exports      []ExportDecl
	// ReferencesImportMetaURL is true if the source references
	// `import.meta.url`, a runtime requirement signal (§4.4).
	ReferencesImportMetaURL bool
}

// Parser parses a single source buffer for one language.
type Parser interface {
	Parse(lang Language, source []byte) (*Result, error)
}
