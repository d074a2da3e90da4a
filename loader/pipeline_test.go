package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRunsEsbuildLoader(t *testing.T) {
	p := NewPipeline()
	out, ctx, err := p.Run(Request{
		ResourcePath: "/src/widget.ts",
		Source:       []byte("const x: number = 1;\nexport default x;\n"),
	})
	require.NoError(t, err)
	assert.NotContains(t, string(out), ": number")
	assert.Contains(t, string(out), "export default")
	assert.True(t, ctx.Cacheable())
}

func TestPipelineRunsCSSLoader(t *testing.T) {
	p := NewPipeline()
	out, _, err := p.Run(Request{ResourcePath: "/src/theme.css", Source: []byte(".x { color: red; }")})
	require.NoError(t, err)
	assert.Contains(t, string(out), "CSSStyleSheet")
	assert.Contains(t, string(out), ".x { color: red; }")
}

func TestPipelineCachesResults(t *testing.T) {
	p := NewPipeline()
	req := Request{ResourcePath: "/src/a.ts", Source: []byte("export const a = 1;\n")}

	out1, _, err := p.Run(req)
	require.NoError(t, err)

	stats := p.Cache.Stats()
	assert.Equal(t, 1, stats.Entries)

	out2, _, err := p.Run(req)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Equal(t, int64(1), p.Cache.Stats().Hits)
}

type recordingLoader struct {
	BaseLoader
	name    string
	pitched *bool
	out     string
}

func (l *recordingLoader) Name() string { return l.name }
func (l *recordingLoader) Run(ctx *Context, content []byte, _ []byte, _ map[string]any) (*Patch, error) {
	return &Patch{Content: []byte(string(content) + l.out)}, nil
}

type pitchingLoader struct {
	BaseLoader
	name  string
	patch *Patch
}

func (l *pitchingLoader) Name() string { return l.name }
func (l *pitchingLoader) Pitch(ctx *Context, remaining, previous []Loader) (*Patch, error) {
	return l.patch, nil
}
func (l *pitchingLoader) Run(ctx *Context, content []byte, _ []byte, _ map[string]any) (*Patch, error) {
	return &Patch{Content: []byte(string(content) + "[run:" + l.name + "]")}, nil
}

func TestPipelineNormalPhaseRightToLeft(t *testing.T) {
	p := &Pipeline{byExtension: map[string][]Loader{}, Cache: NewCache(1 << 20), Pool: NewPool(1, 1)}
	chain := []Loader{
		&recordingLoader{name: "a", out: "-a"},
		&recordingLoader{name: "b", out: "-b"},
	}
	out, _, err := p.Run(Request{ResourcePath: "/x.custom", Source: []byte("src"), Loaders: chain})
	require.NoError(t, err)
	// b runs first (rightmost), then a.
	assert.Equal(t, "src-b-a", string(out))
}

func TestPipelinePitchShortCircuits(t *testing.T) {
	p := &Pipeline{byExtension: map[string][]Loader{}, Cache: NewCache(1 << 20), Pool: NewPool(1, 1)}
	chain := []Loader{
		&pitchingLoader{name: "outer"},
		&pitchingLoader{name: "inner", patch: &Patch{Content: []byte("pitched")}},
	}
	out, _, err := p.Run(Request{ResourcePath: "/y.custom", Source: []byte("src"), Loaders: chain})
	require.NoError(t, err)
	// inner's pitch short-circuits to Normal at the loader to its left
	// (outer), so only outer.Run executes.
	assert.Equal(t, "pitched[run:outer]", string(out))
}

func TestCacheInvalidateCascadesToDependents(t *testing.T) {
	c := NewCache(1 << 20)
	c.Set(CacheKey{Path: "/a.ts"}, []byte("a"), []string{"/dep.ts"})
	c.Set(CacheKey{Path: "/dep.ts"}, []byte("dep"), nil)

	invalidated := c.Invalidate("/dep.ts")
	assert.ElementsMatch(t, []string{"/dep.ts", "/a.ts"}, invalidated)

	_, ok := c.Get(CacheKey{Path: "/a.ts"})
	assert.False(t, ok)
}
