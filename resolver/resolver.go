// Package resolver implements FactorizeTask's resolve step: turning an
// (issuer, request) pair into a resolved module identifier. It covers local
// file resolution (extension probing, index-file fallback), classification
// of bare/URL/package specifiers as external modules, and glob-style context
// module requests.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNotFound is returned when a relative or absolute specifier does not
// resolve to any file on disk under the configured extensions/index names.
var ErrNotFound = errors.New("resolver: module not found")

// Request is what FactorizeTask asks the resolver to turn into an
// identifier: the specifier text discovered by the parser, and the absolute
// path of the module that referenced it (empty for entry requests).
type Request struct {
	Issuer    string
	Specifier string
}

// Resolution is the outcome of resolving a Request.
type Resolution struct {
	// Identifier is the resolved absolute module identifier: an absolute
	// filesystem path for local modules, or the raw specifier for
	// External modules (spec §3's external module kind).
	Identifier string
	External   bool
	// FileDependencies are the filesystem paths probed along the way;
	// the incremental core (package incremental) subscribes to these so
	// that adding a file that would have won index-resolution triggers a
	// rebuild of the issuer even though the issuer's own content did not
	// change.
	FileDependencies []string
}

// DefaultExtensions is the probe order used when a specifier omits its
// extension, matching the languages package parse understands.
var DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".css"}

// DefaultIndexFilenames is the probe order used when a specifier resolves
// to a directory.
var DefaultIndexFilenames = []string{"index.ts", "index.tsx", "index.js", "index.css"}

// Resolver resolves a single (issuer, request) pair.
type Resolver interface {
	Resolve(req Request) (*Resolution, error)
}

// FileSystemResolver resolves specifiers against a project root directory.
// Relative and absolute specifiers are probed as local files; everything
// else (bare specifiers, npm:/jsr: specifiers, http(s):// URLs) is
// classified external, mirroring the way the module graph treats node
// built-ins and npm dependencies as opaque boundary nodes (spec §3.2).
type FileSystemResolver struct {
	Root           string
	Extensions     []string
	IndexFilenames []string
}

var _ Resolver = (*FileSystemResolver)(nil)

// NewFileSystemResolver returns a resolver rooted at root with the default
// extension and index-file probe order.
func NewFileSystemResolver(root string) *FileSystemResolver {
	return &FileSystemResolver{
		Root:           root,
		Extensions:     DefaultExtensions,
		IndexFilenames: DefaultIndexFilenames,
	}
}

func (r *FileSystemResolver) Resolve(req Request) (*Resolution, error) {
	if IsURLSpecifier(req.Specifier) || IsPackageSpecifier(req.Specifier) || isBareSpecifier(req.Specifier) {
		return &Resolution{Identifier: req.Specifier, External: true}, nil
	}

	base := r.Root
	if req.Issuer != "" {
		base = filepath.Dir(req.Issuer)
	}

	var requested string
	if filepath.IsAbs(req.Specifier) {
		requested = filepath.Clean(req.Specifier)
	} else {
		requested = filepath.Clean(filepath.Join(base, req.Specifier))
	}

	var probed []string
	path, probed, err := r.probe(requested)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolving %q from %q: %w", req.Specifier, req.Issuer, err)
	}
	return &Resolution{Identifier: path, FileDependencies: probed}, nil
}

// probe tries requested verbatim, then with each extension appended, then
// (if requested is a directory) each index filename inside it. It returns
// every path it stat'd so callers can register file dependencies even on
// the paths that did NOT exist — a later-created file at one of those
// paths must invalidate the issuer.
func (r *FileSystemResolver) probe(requested string) (string, []string, error) {
	var probed []string

	if fi, err := os.Stat(requested); err == nil && !fi.IsDir() {
		return requested, append(probed, requested), nil
	}
	probed = append(probed, requested)

	for _, ext := range r.Extensions {
		candidate := requested + ext
		probed = append(probed, candidate)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, probed, nil
		}
	}

	if fi, err := os.Stat(requested); err == nil && fi.IsDir() {
		for _, name := range r.IndexFilenames {
			candidate := filepath.Join(requested, name)
			probed = append(probed, candidate)
			if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
				return candidate, probed, nil
			}
		}
	}

	return "", probed, ErrNotFound
}

// IsURLSpecifier reports whether spec is an absolute http(s) URL.
func IsURLSpecifier(spec string) bool {
	if !strings.HasPrefix(spec, "http://") && !strings.HasPrefix(spec, "https://") {
		return false
	}
	u, err := url.Parse(spec)
	return err == nil && u.Host != ""
}

// IsPackageSpecifier reports whether spec names a registry package via the
// npm: or jsr: scheme.
func IsPackageSpecifier(spec string) bool {
	for _, scheme := range [...]string{"npm:", "jsr:"} {
		if rest, ok := strings.CutPrefix(spec, scheme); ok && rest != "" {
			return true
		}
	}
	return false
}

// isBareSpecifier reports whether spec is a bare module specifier (not
// relative, not absolute, not a recognised URL/package scheme) — e.g.
// "lodash" or "@scope/pkg/path". Bare specifiers are always external: this
// core does not implement node_modules resolution.
func isBareSpecifier(spec string) bool {
	if spec == "" {
		return false
	}
	if strings.HasPrefix(spec, ".") || strings.HasPrefix(spec, "/") {
		return false
	}
	if IsURLSpecifier(spec) || IsPackageSpecifier(spec) {
		return false
	}
	return true
}

// ContextRequest is a glob-style request discovered in source such as
// `require.context("./components", true, /\.ts$/)`, represented here by
// its base directory plus a doublestar glob pattern.
type ContextRequest struct {
	Issuer  string
	BaseDir string
	Pattern string
}

// ResolveContext expands a ContextRequest into the sorted list of absolute
// file paths it matches, for the context-module factory (spec §3.2's
// context module kind: one module whose exports are keyed by matched
// path). Sorted output keeps context module content ordering deterministic
// (spec §8).
func ResolveContext(req ContextRequest) ([]string, error) {
	base := req.BaseDir
	if !filepath.IsAbs(base) {
		base = filepath.Join(filepath.Dir(req.Issuer), base)
	}
	base = filepath.Clean(base)

	fsys := os.DirFS(base)
	matches, err := doublestar.Glob(fsys, req.Pattern)
	if err != nil {
		return nil, fmt.Errorf("resolver: context glob %q under %q: %w", req.Pattern, base, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(base, m))
	}
	return out, nil
}
