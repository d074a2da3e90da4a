// Package runtime implements the runtime-requirements bit set and the
// module/chunk id assignment policies spec §4.4 describes.
package runtime

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// Bit identifies one runtime helper feature generated code may require.
// Bits are registered once at process init (Design Note: "global state...
// process-wide but immutable once initialised") so every compilation
// shares the same bit layout.
type Bit uint

const (
	ModuleCache Bit = iota
	RequireFunction
	ChunkLoadDispatcher
	PublicPath
	CreateScript
	HMRAccept
	HMRRuntime
	HMRDownload
	DefineProperty
	ESModuleInterop
	Global
	ImportMetaURL
	OnChunksLoaded
	numBits
)

var bitNames = map[Bit]string{
	ModuleCache:         "module-cache",
	RequireFunction:     "require-function",
	ChunkLoadDispatcher: "chunk-load-dispatcher",
	PublicPath:          "public-path",
	CreateScript:        "create-script",
	HMRAccept:           "hmr-accept",
	HMRRuntime:          "hmr-runtime",
	HMRDownload:         "hmr-download",
	DefineProperty:      "define-property",
	ESModuleInterop:     "es-module-interop",
	Global:              "global",
	ImportMetaURL:       "import-meta-url",
	OnChunksLoaded:      "on-chunks-loaded",
}

// Name returns the diagnostic name for a bit.
func (b Bit) Name() string { return bitNames[b] }

var once sync.Once

// ensureBits is a no-op beyond documenting that bit identities are fixed
// at compile time here rather than computed; kept so future bits are
// added in one place and the "registered once" invariant stays visible.
func ensureBits() { once.Do(func() {}) }

// Globals is the RuntimeGlobals bit set spec §4.4 names, backed by
// bits-and-blooms/bitset so unions across module -> chunk -> chunk group
// -> runtime chunk are cheap, word-sized operations instead of map
// merges.
type Globals struct {
	bits *bitset.BitSet
}

// New returns an empty Globals.
func New() *Globals {
	ensureBits()
	return &Globals{bits: bitset.New(uint(numBits))}
}

// Set marks b as required.
func (g *Globals) Set(b Bit) { g.bits.Set(uint(b)) }

// Has reports whether b is required.
func (g *Globals) Has(b Bit) bool { return g.bits.Test(uint(b)) }

// Union merges other's bits into g in place and returns g, the operation
// §4.4 uses to take "union per chunk, then union per chunk group, then
// per runtime chunk".
func (g *Globals) Union(other *Globals) *Globals {
	if other == nil {
		return g
	}
	g.bits.InPlaceUnion(other.bits)
	return g
}

// Clone returns an independent copy of g.
func (g *Globals) Clone() *Globals {
	return &Globals{bits: g.bits.Clone()}
}

// Names returns the required bits' diagnostic names in a stable
// (ascending bit value) order.
func (g *Globals) Names() []string {
	var out []string
	for b := Bit(0); b < numBits; b++ {
		if g.Has(b) {
			out = append(out, b.Name())
		}
	}
	return out
}

// Count returns how many bits are set.
func (g *Globals) Count() uint { return g.bits.Count() }
