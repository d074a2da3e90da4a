package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeScriptImports(t *testing.T) {
	src := []byte(`
import { b } from './b.js';
import './side-effect.js';
export { c } from './c.js';
export const one = 1;
export class Widget {}
const mod = await import('./dynamic.js');
`)

	p := NewTreeSitterParser()
	result, err := p.Parse(LangTypeScript, src)
	require.NoError(t, err)
	require.NotNil(t, result)

	var requests []string
	for _, d := range result.Dependencies {
		requests = append(requests, d.Request)
	}
	assert.Contains(t, requests, "./b.js")
	assert.Contains(t, requests, "./side-effect.js")
	assert.Contains(t, requests, "./c.js")
	assert.Contains(t, requests, "./dynamic.js")

	var exportNames []string
	for _, e := range result.Exports {
		exportNames = append(exportNames, e.Name)
	}
	assert.Contains(t, exportNames, "one")
	assert.Contains(t, exportNames, "Widget")
}

func TestParseCSSImports(t *testing.T) {
	src := []byte(`@import "./base.css"; .x { color: red; }`)

	p := NewTreeSitterParser()
	result, err := p.Parse(LangCSS, src)
	require.NoError(t, err)

	require.Len(t, result.Dependencies, 1)
	assert.Equal(t, DepCSSImport, result.Dependencies[0].Kind)
	assert.Equal(t, "./base.css", result.Dependencies[0].Request)
}

func TestParseEmptySourceDoesNotPanic(t *testing.T) {
	p := NewTreeSitterParser()
	_, err := p.Parse(LangTypeScript, []byte(""))
	// tree-sitter returns an (empty) tree even for empty source; only a nil
	// tree is an error. Assert no panic either way.
	_ = err
}

func TestLanguageForExt(t *testing.T) {
	cases := map[string]Language{
		".ts":  LangTypeScript,
		".js":  LangTypeScript,
		".tsx": LangTSX,
		".css": LangCSS,
	}
	for ext, want := range cases {
		got, ok := LanguageForExt(ext)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := LanguageForExt(".png")
	assert.False(t, ok)
}
