package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "dist", cfg.OutputDir)
	assert.Equal(t, "deterministic", cfg.ModuleIDPolicy)
	assert.Equal(t, "classic", cfg.Format)
	assert.Contains(t, cfg.Watch.Ignored, "**/node_modules/**")
}

func TestParseYAMLOverridesDefaults(t *testing.T) {
	yaml := `
entries:
  - name: main
    request: ./src/index.ts
outputDir: build
format: esm
cacheGroups:
  - key: vendor
    test: node_modules
    chunks: all
    minChunks: 2
`
	cfg, err := ParseYAML([]byte(yaml))
	require.NoError(t, err)

	require.Len(t, cfg.Entries, 1)
	assert.Equal(t, "main", cfg.Entries[0].Name)
	assert.Equal(t, "build", cfg.OutputDir)
	assert.Equal(t, "esm", cfg.Format)
	require.Len(t, cfg.CacheGroups, 1)
	assert.Equal(t, "vendor", cfg.CacheGroups[0].Key)
	assert.Equal(t, 2, cfg.CacheGroups[0].MinChunks)

	// Fields the YAML document didn't set still carry Default()'s values.
	assert.Equal(t, "deterministic", cfg.ModuleIDPolicy)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cfg.Entries = []EntryConfig{{Name: "main", Request: "./a.ts"}}

	clone := cfg.Clone()
	clone.Entries[0].Name = "changed"
	clone.Watch.Ignored = append(clone.Watch.Ignored, "**/extra/**")

	assert.Equal(t, "main", cfg.Entries[0].Name)
	assert.NotContains(t, cfg.Watch.Ignored, "**/extra/**")
}

func TestIsPackageSpecifier(t *testing.T) {
	assert.True(t, IsPackageSpecifier("npm:lodash"))
	assert.True(t, IsPackageSpecifier("https://cdn.example.com/lib.js"))
	assert.False(t, IsPackageSpecifier("./local.ts"))
	assert.False(t, IsPackageSpecifier("../sibling.ts"))
}
