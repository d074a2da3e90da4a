package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loom-build/loom/parse"
	"github.com/loom-build/loom/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestBuilderLinksTransitiveDependencies(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts":  "import { b } from './b';\nexport const a = 1;\n",
		"b.ts":      "import './c.css';\nexport const b = 2;\n",
		"c.css":     ".x { color: red; }",
	})

	b := NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	b.NumWorkers = 2

	g, err := b.Build(context.Background(), []EntryRequest{{Name: "main", Request: filepath.Join(root, "entry.ts")}})
	require.NoError(t, err)

	require.Len(t, g.Entries, 1)
	entry := g.Module(g.Entries[0])
	assert.Equal(t, filepath.Join(root, "entry.ts"), entry.Identifier)

	// The import statement and its `b` specifier are separate
	// dependencies, each connected to b.ts.
	conns := g.OutgoingConnections(entry.ID)
	require.Len(t, conns, 2)
	bMod := g.Module(conns[0].ResolvedModule)
	assert.Equal(t, filepath.Join(root, "b.ts"), bMod.Identifier)

	bConns := g.OutgoingConnections(bMod.ID)
	require.Len(t, bConns, 1)
	cMod := g.Module(bConns[0].ResolvedModule)
	assert.Equal(t, filepath.Join(root, "c.css"), cMod.Identifier)
	assert.Equal(t, KindNormal, cMod.Kind)
}

func TestBuilderClassifiesExternalModules(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts": "import { html } from 'lit';\nexport const x = html;\n",
	})

	b := NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	g, err := b.Build(context.Background(), []EntryRequest{{Name: "main", Request: filepath.Join(root, "entry.ts")}})
	require.NoError(t, err)

	entry := g.Module(g.Entries[0])
	// The import statement and its `html` specifier both connect to lit.
	conns := g.OutgoingConnections(entry.ID)
	require.Len(t, conns, 2)
	lit := g.Module(conns[0].ResolvedModule)
	assert.Equal(t, KindExternal, lit.Kind)
	assert.Equal(t, "lit", lit.External)
}

func TestBuilderReportsUnresolvedImportAsBuildError(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts": "import './missing';\n",
	})

	b := NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	g, err := b.Build(context.Background(), []EntryRequest{{Name: "main", Request: filepath.Join(root, "entry.ts")}})
	require.Error(t, err)
	require.Len(t, g.Entries, 1)
	// The entry module itself built fine; the failure is attributed to
	// the resolve step, not recorded against any Module.
	assert.Empty(t, g.FailedModules)
}

func TestOptimiseMarksEntryExportsUsed(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts": "export const used = 1;\n",
	})
	b := NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	g, err := b.Build(context.Background(), []EntryRequest{{Name: "main", Request: filepath.Join(root, "entry.ts")}})
	require.NoError(t, err)

	Optimise(g, []string{"browser"}, OptimiseOptions{})

	entry := g.Module(g.Entries[0])
	exp, ok := entry.Exports.Exports["used"]
	require.True(t, ok)
	assert.Equal(t, UsageUsed, exp.Usage["browser"])
}

func TestOptimiseUsageIsPerSpecifierNotPerModule(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts": "import { one } from './lib';\nexport const a = one;\n",
		"lib.ts":   "export const one = 1;\nexport const two = 2;\n",
	})
	b := NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	g, err := b.Build(context.Background(), []EntryRequest{{Name: "main", Request: filepath.Join(root, "entry.ts")}})
	require.NoError(t, err)

	Optimise(g, []string{"browser"}, OptimiseOptions{})

	entry := g.Module(g.Entries[0])
	lib := g.Module(g.OutgoingConnections(entry.ID)[0].ResolvedModule)
	assert.Equal(t, filepath.Join(root, "lib.ts"), lib.Identifier)

	// Only the specifically-imported name is Used; the sibling export
	// the entry never names stays Unused, even though lib.ts as a whole
	// is reachable.
	assert.Equal(t, UsageUsed, lib.Exports.Exports["one"].Usage["browser"])
	assert.Equal(t, UsageUnused, lib.Exports.Exports["two"].Usage["browser"])
}

func TestMangleExportsIsDeterministic(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts": "export const alpha = 1;\nexport const beta = 2;\n",
	})
	b := NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	g, err := b.Build(context.Background(), []EntryRequest{{Name: "main", Request: filepath.Join(root, "entry.ts")}})
	require.NoError(t, err)

	Optimise(g, []string{"browser"}, OptimiseOptions{Mangle: true})

	entry := g.Module(g.Entries[0])
	assert.Equal(t, "a", entry.Exports.Exports["alpha"].MangledName)
	assert.Equal(t, "b", entry.Exports.Exports["beta"].MangledName)
}
