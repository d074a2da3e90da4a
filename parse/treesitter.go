package parse

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsCSS "github.com/tree-sitter/tree-sitter-css/bindings/go"
	tsTypeScript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed queries/*/*.scm
var queryFiles embed.FS

var languages = struct {
	typescript *ts.Language
	tsx        *ts.Language
	css        *ts.Language
}{
	typescript: ts.NewLanguage(tsTypeScript.LanguageTypescript()),
	tsx:        ts.NewLanguage(tsTypeScript.LanguageTSX()),
	css:        ts.NewLanguage(tsCSS.Language()),
}

var tsParserPool = sync.Pool{New: func() any { return newPooledParser(languages.typescript) }}
var tsxParserPool = sync.Pool{New: func() any { return newPooledParser(languages.tsx) }}
var cssParserPool = sync.Pool{New: func() any { return newPooledParser(languages.css) }}

func newPooledParser(lang *ts.Language) *ts.Parser {
	p := ts.NewParser()
	if err := p.SetLanguage(lang); err != nil {
		panic(fmt.Sprintf("parse: failed to set language: %v", err))
	}
	return p
}

func poolFor(lang Language) (*sync.Pool, *ts.Language) {
	switch lang {
	case LangTSX:
		return &tsxParserPool, languages.tsx
	case LangCSS:
		return &cssParserPool, languages.css
	default:
		return &tsParserPool, languages.typescript
	}
}

// queryCache holds the compiled import/export query per language, loaded
// once from the embedded .scm files (Design Note: global state constructed
// in a one-shot initialisation before any compilation starts).
type queryCache struct {
	mu      sync.Mutex
	queries map[Language]*ts.Query
}

var queries = &queryCache{queries: make(map[Language]*ts.Query)}

func (c *queryCache) get(lang Language) (*ts.Query, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queries[lang]; ok {
		return q, nil
	}

	dir := "typescript"
	tsLang := languages.typescript
	if lang == LangCSS {
		dir = "css"
		tsLang = languages.css
	}
	if lang == LangTSX {
		tsLang = languages.tsx
	}

	src, err := queryFiles.ReadFile(fmt.Sprintf("queries/%s/imports.scm", dir))
	if err != nil {
		return nil, fmt.Errorf("parse: read embedded query for %s: %w", lang, err)
	}

	q, qerr := ts.NewQuery(tsLang, string(src))
	if qerr != nil {
		return nil, fmt.Errorf("parse: compile query for %s: %w", lang, qerr)
	}
	c.queries[lang] = q
	return q, nil
}

// TreeSitterParser implements Parser using pooled tree-sitter parsers and
// the embedded import/export queries.
type TreeSitterParser struct{}

var _ Parser = (*TreeSitterParser)(nil)

// NewTreeSitterParser returns the default parser implementation.
func NewTreeSitterParser() *TreeSitterParser { return &TreeSitterParser{} }

func (p *TreeSitterParser) Parse(lang Language, source []byte) (*Result, error) {
	pool, tsLang := poolFor(lang)
	parser := pool.Get().(*ts.Parser)
	defer func() {
		parser.Reset()
		pool.Put(parser)
	}()

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("parse: tree-sitter returned no tree (empty or unparseable source, %d bytes)", len(source))
	}
	defer tree.Close()

	query, err := queries.get(lang)
	if err != nil {
		return nil, err
	}
	_ = tsLang

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	result := &Result{AST: tree}

	matches := cursor.Matches(query, tree.RootNode(), source)
	for {
		m := matches.Next()
		if m == nil {
			break
		}
		processMatch(query, m, source, result)
	}

	result.ReferencesImportMetaURL = strings.Contains(string(source), "import.meta.url")

	return result, nil
}

// processMatch turns one query match into Dependency/ExportDecl entries.
// Import/require/dynamic-import/re-export captures also carry a whole-
// construct range (import.statement, import.bare.statement,
// import.dynamic.statement, import.require.statement, export.statement)
// alongside the bare specifier text, so code generation can replace the
// entire construct — not just the quoted string inside it — with a
// __loom_require__ call; an ESM import or export literally cannot be
// turned into a module-id lookup by rewriting the string alone.
func processMatch(query *ts.Query, match *ts.QueryMatch, source []byte, result *Result) {
	names := query.CaptureNames()

	var exportName, exportSource string
	var isDefault bool
	var exportStart, exportEnd int

	var importClauseText, importSource string
	var importStart, importEnd int
	var hasImportStatement bool

	var bareSource string
	var bareStart, bareEnd int
	var hasBareStatement bool

	var specName, specAlias, specSource string
	var hasSpecifier bool

	var dynSource string
	var dynStart, dynEnd int
	var hasDynamic bool

	var reqSource string
	var reqStart, reqEnd int
	var hasRequire bool

	var workerSource string
	var workerStart, workerEnd int

	for _, cap := range match.Captures {
		name := names[cap.Index]
		text := strings.TrimSpace(cap.Node.Utf8Text(source))
		start := int(cap.Node.StartByte())
		end := int(cap.Node.EndByte())

		switch name {
		case "import.clause":
			importClauseText = text
		case "import.source":
			importSource = text
		case "import.statement":
			importStart, importEnd = start, end
			hasImportStatement = true
		case "import.bare.source":
			bareSource = text
		case "import.bare.statement":
			bareStart, bareEnd = start, end
			hasBareStatement = true
		case "import.specifier.name":
			specName = text
			hasSpecifier = true
		case "import.specifier.alias":
			specAlias = text
		case "import.specifier.source":
			specSource = text
		case "import.dynamic.source":
			dynSource = text
		case "import.dynamic.statement":
			dynStart, dynEnd = start, end
			hasDynamic = true
		case "import.require.source":
			reqSource = text
		case "import.require.statement":
			reqStart, reqEnd = start, end
			hasRequire = true
		case "import.worker.source":
			workerSource = text
			workerStart, workerEnd = start, end
		case "import.url.source", "import.css.source":
			result.Dependencies = append(result.Dependencies, Dependency{
				Kind: DepCSSImport, Request: unquoteCSS(text), RangeStart: start, RangeEnd: end,
			})
		case "export.source":
			exportSource = text
		case "export.statement":
			exportStart, exportEnd = start, end
		case "export.class.name", "export.function.name", "export.variable.name":
			exportName = text
		case "export.default.name":
			exportName = text
			isDefault = true
		case "export.name":
			exportName = text
		}
	}

	switch {
	case hasSpecifier:
		// Per-specifier dependency: no range of its own to splice (it
		// shares the parent import's whole-statement range), used only to
		// tell usage analysis which export name this import consumes.
		_ = specAlias // alias is a local-binding detail; usage tracks the imported name
		result.Dependencies = append(result.Dependencies, Dependency{
			Kind: DepESMImportSpecifier, Request: specSource, Specifier: specName,
		})
		return
	case hasImportStatement:
		binding := parseImportClause(importClauseText)
		result.Dependencies = append(result.Dependencies, Dependency{
			Kind: DepESMImport, Request: importSource,
			RangeStart: importStart, RangeEnd: importEnd,
			Splice: buildImportSplice(binding),
		})
		return
	case hasBareStatement:
		result.Dependencies = append(result.Dependencies, Dependency{
			Kind: DepESMImport, Request: bareSource,
			RangeStart: bareStart, RangeEnd: bareEnd,
			Splice: "__loom_require__(" + SplicePlaceholder + ");\n",
		})
		return
	case hasDynamic:
		result.Dependencies = append(result.Dependencies, Dependency{
			Kind: DepDynamicImport, Request: dynSource,
			RangeStart: dynStart, RangeEnd: dynEnd,
			Splice: "Promise.resolve(__loom_require__(" + SplicePlaceholder + "))",
		})
		return
	case hasRequire:
		result.Dependencies = append(result.Dependencies, Dependency{
			Kind: DepCJSRequire, Request: reqSource,
			RangeStart: reqStart, RangeEnd: reqEnd,
			Splice: "__loom_require__(" + SplicePlaceholder + ")",
		})
		return
	case workerSource != "":
		// Worker chunk loading has no runtime counterpart;
		// the specifier is tracked for diagnostics but left unspliced.
		result.Dependencies = append(result.Dependencies, Dependency{
			Kind: DepWorker, Request: workerSource, RangeStart: workerStart, RangeEnd: workerEnd,
		})
		return
	case exportSource != "":
		result.Dependencies = append(result.Dependencies, Dependency{
			Kind: DepESMExportFrom, Request: exportSource,
			RangeStart: exportStart, RangeEnd: exportEnd,
			Splice: "Object.assign(exports, __loom_require__(" + SplicePlaceholder + "));\n",
		})
		result.Exports = append(result.Exports, ExportDecl{Name: exportName, ReExportFrom: exportSource})
		return
	}

	if exportName != "" {
		result.Exports = append(result.Exports, ExportDecl{Name: exportName, IsDefault: isDefault})
	}
}

// namedImport is one `{ imported as local }` binding inside an import
// clause's named_imports.
type namedImport struct {
	Imported string
	Local    string
}

// importBinding is an import_clause's shape, decomposed into the pieces
// code generation needs to reconstruct equivalent __loom_require__
// bindings: a default import, a namespace import, and any named imports.
type importBinding struct {
	Default   string
	Namespace string
	Named     []namedImport
}

// parseImportClause splits an import_clause's captured text (e.g. "a",
// "{ one, two as three }", "a, { one }", "* as ns") into the bindings it
// declares. This is the bundler's own lightweight stand-in for the
// clause shape a full AST transformer would expose structurally; precise
// enough to reconstruct equivalent bindings during code generation,
// nothing more.
func parseImportClause(clause string) importBinding {
	clause = strings.Join(strings.Fields(clause), " ")
	if clause == "" {
		return importBinding{}
	}

	defPart, rest := clause, ""
	switch {
	case strings.HasPrefix(clause, "{"), strings.HasPrefix(clause, "*"):
		defPart, rest = "", clause
	default:
		if idx := strings.Index(clause, ","); idx != -1 {
			defPart = strings.TrimSpace(clause[:idx])
			rest = strings.TrimSpace(clause[idx+1:])
		}
	}

	var b importBinding
	if defPart != "" {
		b.Default = defPart
	}

	switch {
	case strings.HasPrefix(rest, "*"):
		if fields := strings.Fields(rest); len(fields) == 3 {
			b.Namespace = fields[2]
		}
	case strings.HasPrefix(rest, "{"):
		inner := strings.TrimSuffix(strings.TrimPrefix(rest, "{"), "}")
		for _, item := range strings.Split(inner, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if idx := strings.Index(item, " as "); idx != -1 {
				b.Named = append(b.Named, namedImport{
					Imported: strings.TrimSpace(item[:idx]),
					Local:    strings.TrimSpace(item[idx+4:]),
				})
			} else {
				b.Named = append(b.Named, namedImport{Imported: item, Local: item})
			}
		}
	}
	return b
}

// buildImportSplice renders the code generation substitutes over an
// entire import statement's range: one `var` binding per default,
// namespace, or named specifier, each calling __loom_require__ against
// the not-yet-known resolved module id placeholder. __loom_require__
// caches by id, so calling it once per binding re-executes nothing.
func buildImportSplice(b importBinding) string {
	var out strings.Builder
	if b.Default != "" {
		fmt.Fprintf(&out, "var %s = __loom_require__(%s).default;\n", b.Default, SplicePlaceholder)
	}
	if b.Namespace != "" {
		fmt.Fprintf(&out, "var %s = __loom_require__(%s);\n", b.Namespace, SplicePlaceholder)
	}
	for _, n := range b.Named {
		fmt.Fprintf(&out, "var %s = __loom_require__(%s).%s;\n", n.Local, SplicePlaceholder, n.Imported)
	}
	if out.Len() == 0 {
		// A clause tree-sitter matched but this lightweight parser
		// couldn't shape (a grammar variant it doesn't model) must still
		// run the module for its side effects.
		fmt.Fprintf(&out, "__loom_require__(%s);\n", SplicePlaceholder)
	}
	return out.String()
}

func unquoteCSS(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `'"`)
	return s
}
