package incremental

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-build/loom/graph"
)

func moduleWithDeps(id graph.ModuleID, files ...string) *graph.Module {
	return &graph.Module{ID: id, Identifier: string(rune('a' + int(id))), BuildInfo: graph.BuildInfo{FileDependencies: files}}
}

func TestAffectedModulesMapsChangedFileToModule(t *testing.T) {
	c := NewFileDependencyCounters()
	c.RecordModule(moduleWithDeps(1, "/src/a.ts", "/src/shared.ts"))
	c.RecordModule(moduleWithDeps(2, "/src/b.ts"))

	affected, wholesale := c.AffectedModules([]string{"/src/shared.ts"}, nil)
	assert.False(t, wholesale)
	require.Len(t, affected, 1)
	assert.Equal(t, graph.ModuleID(1), affected[0])
}

func TestAffectedModulesWholesaleOnBuildDependency(t *testing.T) {
	c := NewFileDependencyCounters()
	m := &graph.Module{ID: 1, BuildInfo: graph.BuildInfo{BuildDependencies: []string{"/loom.yaml"}}}
	c.RecordModule(m)

	_, wholesale := c.AffectedModules([]string{"/loom.yaml"}, nil)
	assert.True(t, wholesale)
}

func TestDecideFullRebuildWithNoPreviousGraph(t *testing.T) {
	a := NewArtifacts()
	d := a.Decide([]string{"/src/a.ts"}, nil)
	assert.True(t, d.FullRebuild)
}

func TestDecideFullRebuildAboveThreshold(t *testing.T) {
	mg := graph.New()
	a := NewArtifacts()
	a.ModuleGraph = mg
	for i := graph.ModuleID(0); i < 5; i++ {
		a.FileCounters.RecordModule(moduleWithDeps(i, "/src/shared.ts"))
	}

	d := a.Decide([]string{"/src/shared.ts"}, nil)
	assert.True(t, d.FullRebuild)
	assert.Contains(t, d.Reason, "too many")
}

func TestDecideIncrementalUnderThreshold(t *testing.T) {
	mg := graph.New()
	a := NewArtifacts()
	a.ModuleGraph = mg
	a.FileCounters.RecordModule(moduleWithDeps(1, "/src/a.ts"))

	d := a.Decide([]string{"/src/a.ts"}, nil)
	assert.False(t, d.FullRebuild)
	require.Len(t, d.AffectedModules, 1)
}

func TestDecideNoAffectedModules(t *testing.T) {
	mg := graph.New()
	a := NewArtifacts()
	a.ModuleGraph = mg
	a.FileCounters.RecordModule(moduleWithDeps(1, "/src/a.ts"))

	d := a.Decide([]string{"/src/unrelated.ts"}, nil)
	assert.False(t, d.FullRebuild)
	assert.Empty(t, d.AffectedModules)
}

func TestDecideForcesFullRebuildWhenPassDisabled(t *testing.T) {
	mg := graph.New()
	a := NewArtifacts()
	a.ModuleGraph = mg
	a.DisablePass(PassOptimise)

	d := a.Decide(nil, nil)
	assert.True(t, d.FullRebuild)
}

func TestTrackedFilesSorted(t *testing.T) {
	c := NewFileDependencyCounters()
	c.RecordModule(moduleWithDeps(1, "/src/b.ts", "/src/a.ts"))
	assert.Equal(t, []string{"/src/a.ts", "/src/b.ts"}, c.TrackedFiles())
}
