package chunk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loom-build/loom/graph"
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

func buildModuleGraph(t *testing.T, files map[string]string, entryFile string) (*graph.Graph, graph.ModuleID) {
	t.Helper()
	root := writeFiles(t, files)
	b := graph.NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	g, err := b.Build(context.Background(), []graph.EntryRequest{{Name: "main", Request: filepath.Join(root, entryFile)}})
	require.NoError(t, err)
	require.Len(t, g.Entries, 1)
	return g, g.Entries[0]
}

func TestBuilderSeedsEntrypointWithRuntimeAndInitialChunk(t *testing.T) {
	mg, entry := buildModuleGraph(t, map[string]string{
		"entry.ts": "export const a = 1;\n",
	}, "entry.ts")

	cb := NewBuilder(mg)
	cg := cb.Build([]EntrySpec{{Name: "main", Module: entry}})

	require.Len(t, cg.Groups, 1)
	grp := cg.SortedGroups()[0]
	assert.Equal(t, GroupEntrypoint, grp.Kind)
	require.NotZero(t, grp.RuntimeChunk)
	require.Len(t, grp.Chunks, 1)

	initial := cg.Chunks[grp.Chunks[0]]
	assert.Equal(t, KindEntry, initial.Kind)
	assert.True(t, initial.Modules.Has(entry))
}

func TestBuilderPlacesSyncDependencyIntoSameChunk(t *testing.T) {
	mg, entry := buildModuleGraph(t, map[string]string{
		"entry.ts": "import { b } from './b';\nexport const a = b;\n",
		"b.ts":     "export const b = 2;\n",
	}, "entry.ts")

	cb := NewBuilder(mg)
	cg := cb.Build([]EntrySpec{{Name: "main", Module: entry}})

	grp := cg.SortedGroups()[0]
	initial := cg.Chunks[grp.Chunks[0]]

	bID, ok := mg.ModuleByIdentifier(filepath.Join(filepath.Dir(mg.Module(entry).Identifier), "b.ts"))
	require.True(t, ok)
	assert.True(t, initial.Modules.Has(entry))
	assert.True(t, initial.Modules.Has(bID))
}

func TestBuilderOpensAsyncChunkGroupAtDynamicImport(t *testing.T) {
	mg, entry := buildModuleGraph(t, map[string]string{
		"entry.ts": "export async function load() { return import('./lazy'); }\n",
		"lazy.ts":  "export const z = 1;\n",
	}, "entry.ts")

	cb := NewBuilder(mg)
	cg := cb.Build([]EntrySpec{{Name: "main", Module: entry}})

	groups := cg.SortedGroups()
	require.Len(t, groups, 2)

	root := groups[0]
	async := groups[1]
	assert.Equal(t, GroupEntrypoint, root.Kind)
	assert.Equal(t, GroupAsync, async.Kind)
	require.Len(t, async.Parents, 1)
	assert.Equal(t, root.Ukey, async.Parents[0])
	assert.Contains(t, root.Children, async.Ukey)

	require.Len(t, async.Chunks, 1)
	asyncChunk := cg.Chunks[async.Chunks[0]]
	assert.Equal(t, KindNormal, asyncChunk.Kind)

	lazyID, ok := mg.ModuleByIdentifier(filepath.Join(filepath.Dir(mg.Module(entry).Identifier), "lazy.ts"))
	require.True(t, ok)
	assert.True(t, asyncChunk.Modules.Has(lazyID))

	initial := cg.Chunks[root.Chunks[0]]
	assert.False(t, initial.Modules.Has(lazyID))
}

func TestTwoEntriesCanShareANamedRuntimeChunk(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.ts": "export const a = 1;\n",
		"b.ts": "export const b = 2;\n",
	})
	b := graph.NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	mg, err := b.Build(context.Background(), []graph.EntryRequest{
		{Name: "a", Request: filepath.Join(root, "a.ts")},
		{Name: "b", Request: filepath.Join(root, "b.ts")},
	})
	require.NoError(t, err)
	require.Len(t, mg.Entries, 2)

	cb := NewBuilder(mg)
	cg := cb.Build([]EntrySpec{
		{Name: "a", Module: mg.Entries[0], Runtime: "shared"},
		{Name: "b", Module: mg.Entries[1], Runtime: "shared"},
	})

	groups := cg.SortedGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, groups[0].RuntimeChunk, groups[1].RuntimeChunk)
}

func TestUniqueNameAppliesCollisionSuffix(t *testing.T) {
	g := newGraph()
	assert.Equal(t, "main", g.uniqueName("main"))
	assert.Equal(t, "main~2", g.uniqueName("main"))
	assert.Equal(t, "main~3", g.uniqueName("main"))
}

func TestSplitChunksPromotesSharedExternalIntoVendorChunk(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.ts": "import { html } from 'lit';\nexport const a = html;\n",
		"b.ts": "import { html } from 'lit';\nexport const b = html;\n",
	})
	gb := graph.NewBuilder(resolver.NewFileSystemResolver(root), parse.NewTreeSitterParser(), nil)
	mg, err := gb.Build(context.Background(), []graph.EntryRequest{
		{Name: "a", Request: filepath.Join(root, "a.ts")},
		{Name: "b", Request: filepath.Join(root, "b.ts")},
	})
	require.NoError(t, err)

	cb := NewBuilder(mg)
	cg := cb.Build([]EntrySpec{
		{Name: "a", Module: mg.Entries[0]},
		{Name: "b", Module: mg.Entries[1]},
	})

	vendorGroup := CacheGroup{
		Key:    "vendor",
		Test:   func(m *graph.Module) bool { return m.Kind == graph.KindExternal },
		Chunks: ChunksAll,
		MinChunks: 2,
		Name: func(mods []*graph.Module) string { return "vendor" },
	}
	SplitChunks(cg, mg, []CacheGroup{vendorGroup})

	var vendor *Chunk
	for _, c := range cg.SortedChunks() {
		if c.Name == "vendor" {
			vendor = c
		}
	}
	require.NotNil(t, vendor)

	litID, ok := mg.ModuleByIdentifier("lit")
	require.True(t, ok)
	assert.True(t, vendor.Modules.Has(litID))

	for _, grp := range cg.SortedGroups() {
		for _, ck := range grp.Chunks {
			if ck != vendor.Ukey {
				assert.False(t, cg.Chunks[ck].Modules.Has(litID))
			}
		}
	}
}

func TestAvailableModulesPruningRemovesParentCarriedModule(t *testing.T) {
	mg, entry := buildModuleGraph(t, map[string]string{
		"entry.ts": "import { b } from './b';\nexport async function load() { return import('./lazy'); }\nexport const a = b;\n",
		"b.ts":     "export const b = 2;\n",
		"lazy.ts":  "import { b } from './b';\nexport const z = b;\n",
	}, "entry.ts")

	cb := NewBuilder(mg)
	cg := cb.Build([]EntrySpec{{Name: "main", Module: entry}})

	bID, ok := mg.ModuleByIdentifier(filepath.Join(filepath.Dir(mg.Module(entry).Identifier), "b.ts"))
	require.True(t, ok)

	groups := cg.SortedGroups()
	async := groups[1]
	asyncChunk := cg.Chunks[async.Chunks[0]]

	// b.ts is already carried by the parent (entrypoint) chunk group, so
	// pruning removes it from the async chunk even though the walk
	// placed it there.
	assert.False(t, asyncChunk.Modules.Has(bID))
}
