package loader

import (
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
)

// EsbuildSyntax selects which esbuild loader a Syntax-tagged resource is
// transformed with.
type EsbuildSyntax string

const (
	EsbuildTS  EsbuildSyntax = "ts"
	EsbuildTSX EsbuildSyntax = "tsx"
	EsbuildJS  EsbuildSyntax = "js"
	EsbuildJSX EsbuildSyntax = "jsx"
)

// EsbuildLoader is the built-in TS/TSX/JS/JSX loader: it runs esbuild's
// single-file Transform API in the Normal phase (no pitching) to strip
// types and lower syntax to ESM, the only built-in loader implementation
// spec §1 requires this core to ship.
type EsbuildLoader struct {
	BaseLoader
	Syntax EsbuildSyntax
	Target api.Target
}

var _ Loader = (*EsbuildLoader)(nil)

// NewEsbuildLoader returns an EsbuildLoader targeting ES2020, matching
// the default the built-in transform pipeline it is grounded on uses.
func NewEsbuildLoader(syntax EsbuildSyntax) *EsbuildLoader {
	return &EsbuildLoader{Syntax: syntax, Target: api.ES2020}
}

func (l *EsbuildLoader) Name() string { return "builtin-esbuild-" + string(l.Syntax) }

func (l *EsbuildLoader) Run(ctx *Context, content []byte, _ []byte, _ map[string]any) (*Patch, error) {
	esbuildLoader := api.LoaderTS
	switch l.Syntax {
	case EsbuildTSX:
		esbuildLoader = api.LoaderTSX
	case EsbuildJS:
		esbuildLoader = api.LoaderJS
	case EsbuildJSX:
		esbuildLoader = api.LoaderJSX
	}

	result := api.Transform(string(content), api.TransformOptions{
		Loader:      esbuildLoader,
		Target:      l.Target,
		Format:      api.FormatESModule,
		Sourcemap:   api.SourceMapInline,
		Sourcefile:  ctx.ResourcePath,
		TsconfigRaw: `{"compilerOptions":{"importHelpers":false}}`,
	})

	if len(result.Errors) > 0 {
		msg := "transform failed:\n"
		for _, e := range result.Errors {
			msg += fmt.Sprintf("  %s\n", e.Text)
		}
		return nil, fmt.Errorf("%s", msg)
	}

	return &Patch{Content: result.Code}, nil
}
