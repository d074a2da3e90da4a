package compilation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-build/loom/config"
	"github.com/loom-build/loom/loader"
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

func TestEngineBuildProducesAssets(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts": "import { b } from './b';\nexport const a = b + 1;\n",
		"b.ts":     "export const b = 2;\n",
	})

	cfg := config.Default()
	cfg.ProjectDir = root
	cfg.Entries = []config.EntryConfig{{Name: "main", Request: filepath.Join(root, "entry.ts")}}

	engine := New(cfg, loader.NewPipeline())
	res, err := engine.Build(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Diagnostics.HasErrors())
	assert.NotEmpty(t, res.Assets)
	assert.NotNil(t, engine.LastResult())
}

func TestEngineBuildAssignsDeterministicModuleIDs(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts": "export const a = 1;\n",
	})

	cfg := config.Default()
	cfg.ProjectDir = root
	cfg.Entries = []config.EntryConfig{{Name: "main", Request: filepath.Join(root, "entry.ts")}}

	engine := New(cfg, loader.NewPipeline())
	first, err := engine.Build(context.Background())
	require.NoError(t, err)

	second, err := engine.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.ModuleIDs, second.ModuleIDs)
}

func TestEngineRebuildReflectsChangedModuleWithoutFullRebuild(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"entry.ts": "import { b } from './b';\nexport const a = b + 1;\n",
		"b.ts":     "export const b = 2;\n",
	})

	cfg := config.Default()
	cfg.ProjectDir = root
	cfg.Entries = []config.EntryConfig{{Name: "main", Request: filepath.Join(root, "entry.ts")}}

	engine := New(cfg, loader.NewPipeline())
	first, err := engine.Build(context.Background())
	require.NoError(t, err)
	require.False(t, first.Diagnostics.HasErrors())

	bPath := filepath.Join(root, "b.ts")
	require.NoError(t, os.WriteFile(bPath, []byte("export const b = 99;\n"), 0o644))

	artifacts := engine.currentArtifacts()
	require.NotNil(t, artifacts)
	decision := artifacts.Decide([]string{bPath}, nil)
	require.False(t, decision.FullRebuild)
	require.NotEmpty(t, decision.AffectedModules)

	second, err := engine.rebuild(context.Background(), decision)
	require.NoError(t, err)
	assert.False(t, second.Diagnostics.HasErrors())

	bID, ok := second.ModuleGraph.ModuleByIdentifier(bPath)
	require.True(t, ok)
	assert.Contains(t, string(second.ModuleGraph.Module(bID).Source), "99")
	assert.NotEmpty(t, second.Assets)
}
