// Package errors defines the closed error taxonomy the engine attaches to
// modules, chunks, and the compilation as a whole (spec §7). Every error
// type here is attached to its nearest owning entity and surfaces in the
// compilation's Errors()/Warnings() slices rather than aborting the build.
package errors

import (
	"errors"
	"fmt"
)

// Is/As support: callers match with
// `var re *ResolveError; errors.As(err, &re)`.
var (
	_ error = (*ResolveError)(nil)
	_ error = (*EmptyDependencyError)(nil)
	_ error = (*ModuleBuildError)(nil)
	_ error = (*ModuleParseError)(nil)
	_ error = (*CapturedLoaderError)(nil)
	_ error = (*CriticalDependencyError)(nil)
	_ error = (*ChunkRenderError)(nil)
	_ error = (*HookError)(nil)
)

// ResolveError reports that a dependency's request could not be resolved.
type ResolveError struct {
	Issuer  string // module identifier that issued the request
	Request string
	Err     error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %q from %q: %v", e.Request, e.Issuer, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ModuleNotFoundError is the common concrete cause wrapped by ResolveError
// when no resolver candidate existed on disk.
type ModuleNotFoundError struct {
	Request string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module not found: %q", e.Request)
}

// EmptyDependencyError reports a dependency whose request string is empty.
type EmptyDependencyError struct {
	Issuer string
}

func (e *EmptyDependencyError) Error() string {
	return fmt.Sprintf("empty dependency request in %q", e.Issuer)
}

// ModuleBuildError wraps a loader or parser failure for a specific module,
// attaching the loader chain for diagnostics.
type ModuleBuildError struct {
	ModuleIdentifier string
	LoaderChain      []string
	Err              error
}

func (e *ModuleBuildError) Error() string {
	if len(e.LoaderChain) == 0 {
		return fmt.Sprintf("module build failed %q: %v", e.ModuleIdentifier, e.Err)
	}
	return fmt.Sprintf("module build failed %q (loaders: %v): %v", e.ModuleIdentifier, e.LoaderChain, e.Err)
}

func (e *ModuleBuildError) Unwrap() error { return e.Err }

// ModuleParseError is a fatal parser diagnostic.
type ModuleParseError struct {
	ModuleIdentifier string
	Message          string
}

func (e *ModuleParseError) Error() string {
	return fmt.Sprintf("parse error in %q: %s", e.ModuleIdentifier, e.Message)
}

// ModuleParseWarning is a non-fatal parser diagnostic.
type ModuleParseWarning struct {
	ModuleIdentifier string
	Message          string
}

func (e *ModuleParseWarning) Error() string {
	return fmt.Sprintf("parse warning in %q: %s", e.ModuleIdentifier, e.Message)
}

// CapturedLoaderError captures a loader panic/throw along with whatever
// dependency sets the loader had declared before failing.
type CapturedLoaderError struct {
	LoaderName          string
	Message             string
	Stack               string
	HideStack           bool
	FileDependencies    []string
	ContextDependencies []string
	MissingDependencies []string
	BuildDependencies   []string
}

func (e *CapturedLoaderError) Error() string {
	return fmt.Sprintf("loader %q failed: %s", e.LoaderName, e.Message)
}

// CriticalDependencyError reports a dependency whose request could not be
// statically analysed in a context where that is required (e.g. a fully
// dynamic require()).
type CriticalDependencyError struct {
	ModuleIdentifier string
	Message          string
}

func (e *CriticalDependencyError) Error() string {
	return fmt.Sprintf("critical dependency in %q: %s", e.ModuleIdentifier, e.Message)
}

// ChunkRenderError reports a failure rendering a chunk's assets.
type ChunkRenderError struct {
	ChunkName string
	Err       error
}

func (e *ChunkRenderError) Error() string {
	return fmt.Sprintf("render chunk %q: %v", e.ChunkName, e.Err)
}

func (e *ChunkRenderError) Unwrap() error { return e.Err }

// HookError reports a plugin hook that returned an error.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %q failed: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Diagnostics aggregates errors and warnings for an owning entity
// (Compilation, Module, Chunk). It has no internal locking: concurrent
// Add calls need external synchronisation, and callers needing the final
// slices should read them only after the producing pass has joined.
type Diagnostics struct {
	errs []error
	warn []error
}

// AddError records a fatal-to-the-entity diagnostic. It does not abort the
// surrounding build (per §7 propagation policy).
func (d *Diagnostics) AddError(err error) {
	if err == nil {
		return
	}
	d.errs = append(d.errs, err)
}

// AddWarning records a non-fatal diagnostic.
func (d *Diagnostics) AddWarning(err error) {
	if err == nil {
		return
	}
	d.warn = append(d.warn, err)
}

// Errors returns all recorded errors.
func (d *Diagnostics) Errors() []error { return d.errs }

// Warnings returns all recorded warnings.
func (d *Diagnostics) Warnings() []error { return d.warn }

// HasErrors reports whether any fatal diagnostic was recorded.
func (d *Diagnostics) HasErrors() bool { return len(d.errs) > 0 }

// Merge appends another Diagnostics' errors/warnings into d.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil {
		return
	}
	d.errs = append(d.errs, other.errs...)
	d.warn = append(d.warn, other.warn...)
}

// Join combines the errors slice into a single error via errors.Join, or
// returns nil if there are none. Useful for returning from a function that
// must report a single error value.
func (d *Diagnostics) Join() error {
	if len(d.errs) == 0 {
		return nil
	}
	return errors.Join(d.errs...)
}
