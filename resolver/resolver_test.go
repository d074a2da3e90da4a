package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestFileSystemResolverExtensionProbing(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/entry.ts":   "",
		"src/button.tsx": "",
		"src/theme.css":  "",
	})
	r := NewFileSystemResolver(root)

	issuer := filepath.Join(root, "src", "entry.ts")

	res, err := r.Resolve(Request{Issuer: issuer, Specifier: "./button"})
	require.NoError(t, err)
	assert.False(t, res.External)
	assert.Equal(t, filepath.Join(root, "src", "button.tsx"), res.Identifier)

	res, err = r.Resolve(Request{Issuer: issuer, Specifier: "./theme.css"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "theme.css"), res.Identifier)
}

func TestFileSystemResolverIndexFallback(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/entry.ts":           "",
		"src/components/index.ts": "",
	})
	r := NewFileSystemResolver(root)
	issuer := filepath.Join(root, "src", "entry.ts")

	res, err := r.Resolve(Request{Issuer: issuer, Specifier: "./components"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "components", "index.ts"), res.Identifier)
}

func TestFileSystemResolverNotFound(t *testing.T) {
	root := writeTree(t, map[string]string{"src/entry.ts": ""})
	r := NewFileSystemResolver(root)
	issuer := filepath.Join(root, "src", "entry.ts")

	_, err := r.Resolve(Request{Issuer: issuer, Specifier: "./missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSystemResolverExternalClassification(t *testing.T) {
	root := writeTree(t, map[string]string{"src/entry.ts": ""})
	r := NewFileSystemResolver(root)
	issuer := filepath.Join(root, "src", "entry.ts")

	cases := []string{
		"lodash",
		"@scope/pkg",
		"npm:@vaadin/button@24.3.5",
		"jsr:@std/testing",
		"https://esm.sh/lit@3",
	}
	for _, spec := range cases {
		res, err := r.Resolve(Request{Issuer: issuer, Specifier: spec})
		require.NoError(t, err, spec)
		assert.True(t, res.External, spec)
		assert.Equal(t, spec, res.Identifier, spec)
	}
}

func TestIsURLSpecifier(t *testing.T) {
	assert.True(t, IsURLSpecifier("https://esm.sh/lit@3"))
	assert.True(t, IsURLSpecifier("http://example.com/x"))
	assert.False(t, IsURLSpecifier("npm:lit"))
	assert.False(t, IsURLSpecifier("./local.js"))
	assert.False(t, IsURLSpecifier(""))
}

func TestIsPackageSpecifier(t *testing.T) {
	assert.True(t, IsPackageSpecifier("npm:lit@3"))
	assert.True(t, IsPackageSpecifier("jsr:@std/testing"))
	assert.False(t, IsPackageSpecifier("npm:"))
	assert.False(t, IsPackageSpecifier("https://esm.sh/lit"))
}

func TestResolveContext(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/entry.ts":              "",
		"src/components/a.ts":       "",
		"src/components/b.ts":       "",
		"src/components/ignore.css": "",
	})
	issuer := filepath.Join(root, "src", "entry.ts")

	matches, err := ResolveContext(ContextRequest{
		Issuer:  issuer,
		BaseDir: "./components",
		Pattern: "*.ts",
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, filepath.Join(root, "src", "components", "a.ts"), matches[0])
	assert.Equal(t, filepath.Join(root, "src", "components", "b.ts"), matches[1])
}
