package codegen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-build/loom/chunk"
	"github.com/loom-build/loom/graph"
	"github.com/loom-build/loom/parse"
	"github.com/loom-build/loom/resolver"
	"github.com/loom-build/loom/runtime"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func buildGraphs(t *testing.T, files map[string]string, entry string) (*graph.Graph, *chunk.Graph) {
	t.Helper()
	root := writeFiles(t, files)
	b := graph.NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	mg, err := b.Build(context.Background(), []graph.EntryRequest{{Name: "main", Request: filepath.Join(root, entry)}})
	require.NoError(t, err)
	require.Len(t, mg.Entries, 1)

	cb := chunk.NewBuilder(mg)
	cg := cb.Build([]chunk.EntrySpec{{Name: "main", Module: mg.Entries[0]}})
	return mg, cg
}

func TestGenerateModuleNormal(t *testing.T) {
	mg := graph.New()
	m := &graph.Module{
		ID:         1,
		Identifier: "/src/a.ts",
		Kind:       graph.KindNormal,
		Source:     []byte("export const a = 1;"),
	}
	res := GenerateModule(mg, m, "main", nil)
	assert.Contains(t, string(res.Source), "export const a = 1;")
	assert.True(t, res.Globals.Has(runtime.RequireFunction))
}

func TestGenerateModuleExternal(t *testing.T) {
	mg := graph.New()
	m := &graph.Module{ID: 2, Identifier: "lodash", Kind: graph.KindExternal, External: "lodash"}
	res := GenerateModule(mg, m, "main", nil)
	assert.Contains(t, string(res.Source), `require("lodash")`)
}

func TestGenerateModuleCSSExtractEscapesTemplateLiteral(t *testing.T) {
	mg := graph.New()
	m := &graph.Module{ID: 3, Identifier: "/src/a.css", Kind: graph.KindCSSExtract, Source: []byte("a{content:\"`${x}</style>\"}")}
	res := GenerateModule(mg, m, "main", nil)
	assert.Contains(t, string(res.Source), "CSSStyleSheet")
	assert.Contains(t, string(res.Source), "\\`\\${x}<\\/style>")
}

func TestFilenameTemplateRender(t *testing.T) {
	tmpl := FilenameTemplate("[name].[contenthash].[ext]")
	require.True(t, tmpl.hasContentHashToken())
	out := tmpl.render(templateVars{name: "main", contentHash: "deadbeef", ext: "js"})
	assert.Equal(t, "main.deadbeef.js", out)
}

func TestRenderAssetsClassicFormat(t *testing.T) {
	mg, cg := buildGraphs(t, map[string]string{
		"entry.ts": "export const a = 1;\n",
	}, "entry.ts")

	results := GenerateAll(mg, []string{"main"}, map[string]string{})
	globals := PropagateRuntimeGlobals(cg, mg, results)

	assets, err := RenderAssets(cg, mg, results, globals, ClassicFormat{}, DefaultJSTemplate, map[string]string{}, map[string]string{}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, assets)

	for name, asset := range assets {
		assert.NotEmpty(t, asset.Source)
		assert.NotEmpty(t, name)
	}
}

func TestGenerateNormalSplicesImportSpecifierOverDependencyRange(t *testing.T) {
	mg, _ := buildGraphs(t, map[string]string{
		"entry.ts": "import { b } from './b';\nexport const a = b;\n",
		"b.ts":     "export const b = 2;\n",
	}, "entry.ts")

	entry := mg.Module(mg.Entries[0])
	bMod := mg.Module(mg.OutgoingConnections(entry.ID)[0].ResolvedModule)

	moduleIDs := map[string]string{bMod.Identifier: "1"}
	res := GenerateModule(mg, entry, "main", moduleIDs)

	src := string(res.Source)
	assert.Contains(t, src, `__loom_require__("1")`)
	assert.NotContains(t, src, "import { b }", "a spliced import clause must not survive into the factory body")
	assert.NotContains(t, src, "from './b'")
}

func TestSortedModuleIDsIsDeterministic(t *testing.T) {
	ids := []graph.ModuleID{5, 1, 3}
	sorted := SortedModuleIDs(ids)
	assert.Equal(t, []graph.ModuleID{1, 3, 5}, sorted)
	// original slice is untouched
	assert.Equal(t, []graph.ModuleID{5, 1, 3}, ids)
}
