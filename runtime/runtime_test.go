package runtime

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestGlobalsUnion(t *testing.T) {
	a := New()
	a.Set(ModuleCache)
	b := New()
	b.Set(RequireFunction)

	a.Union(b)
	assert.True(t, a.Has(ModuleCache))
	assert.True(t, a.Has(RequireFunction))
	assert.False(t, a.Has(HMRAccept))
	assert.Equal(t, uint(2), a.Count())
}

func TestGlobalsCloneIsIndependent(t *testing.T) {
	a := New()
	a.Set(PublicPath)
	b := a.Clone()
	b.Set(Global)

	assert.False(t, a.Has(Global))
	assert.True(t, b.Has(PublicPath))
}

func TestAssignIDsDeterministicIsStableAndShortest(t *testing.T) {
	entries := []Identifiable{
		{Key: "zebra"}, {Key: "apple"}, {Key: "mango"},
	}
	ids := AssignIDs(entries, PolicyDeterministic)
	assert.Equal(t, "0", ids["apple"])
	assert.Equal(t, "1", ids["mango"])
	assert.Equal(t, "2", ids["zebra"])

	// Re-running over the same (possibly reordered) input set produces
	// identical ids (§8 idempotence law).
	shuffled := []Identifiable{entries[2], entries[0], entries[1]}
	ids2 := AssignIDs(shuffled, PolicyDeterministic)
	if diff := cmp.Diff(ids, ids2); diff != "" {
		t.Errorf("AssignIDs(PolicyDeterministic) not idempotent (-first +second):\n%s", diff)
	}
}

func TestAssignIDsNaturalPreservesInsertionOrder(t *testing.T) {
	entries := []Identifiable{
		{Key: "third", InsertionOrder: 2},
		{Key: "first", InsertionOrder: 0},
		{Key: "second", InsertionOrder: 1},
	}
	ids := AssignIDs(entries, PolicyNatural)
	assert.Equal(t, "0", ids["first"])
	assert.Equal(t, "1", ids["second"])
	assert.Equal(t, "2", ids["third"])
}

func TestAssignIDsNamedIsPureFunctionOfKey(t *testing.T) {
	ids1 := AssignIDs([]Identifiable{{Key: "a/b.ts"}}, PolicyNamed)
	ids2 := AssignIDs([]Identifiable{{Key: "a/b.ts"}}, PolicyNamed)
	assert.Equal(t, ids1["a/b.ts"], ids2["a/b.ts"])
	assert.Len(t, ids1["a/b.ts"], 8)
}
