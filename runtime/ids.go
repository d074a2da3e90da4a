package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
)

// IDPolicy is one of the three named module/chunk id assignment policies
// spec §4.4 lists. Every policy must produce stable ids given stable
// inputs (the idempotence law in §8).
type IDPolicy string

const (
	PolicyNamed        IDPolicy = "named"
	PolicyDeterministic IDPolicy = "deterministic"
	PolicyNatural       IDPolicy = "natural"
)

// Identifiable is anything an id-assignment policy can assign an id to: a
// module or a chunk, keyed by a stable identifier string and (for
// natural ordering) an insertion index.
type Identifiable struct {
	Key            string
	InsertionOrder int
}

// AssignIDs assigns a string id to each entry per policy, returning a map
// from Key to assigned id. Entries are never reordered by this function;
// the policy only determines how ids are derived and in what order the
// deterministic policy's integer ids are handed out.
func AssignIDs(entries []Identifiable, policy IDPolicy) map[string]string {
	switch policy {
	case PolicyNamed:
		return assignNamed(entries)
	case PolicyNatural:
		return assignNatural(entries)
	default:
		return assignDeterministic(entries)
	}
}

// assignNamed derives each id from a short hash of the key, which is
// stable across builds (and across process runs) because it is a pure
// function of the key alone — no ordering or counter state involved.
func assignNamed(entries []Identifiable) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		sum := sha256.Sum256([]byte(e.Key))
		out[e.Key] = hex.EncodeToString(sum[:])[:8]
	}
	return out
}

// assignDeterministic sorts entries by key and assigns the shortest
// unused decimal integer id in that order (§4.4: "minimum-length integer
// ids assigned by a stable sort over modules").
func assignDeterministic(entries []Identifiable) map[string]string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	sort.Strings(keys)

	out := make(map[string]string, len(entries))
	for i, k := range keys {
		out[k] = strconv.Itoa(i)
	}
	return out
}

// assignNatural assigns ids in insertion order — the order modules/chunks
// were first created during this build.
func assignNatural(entries []Identifiable) map[string]string {
	sorted := make([]Identifiable, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].InsertionOrder < sorted[j].InsertionOrder })

	out := make(map[string]string, len(sorted))
	for i, e := range sorted {
		out[e.Key] = strconv.Itoa(i)
	}
	return out
}
