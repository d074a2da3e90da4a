package loader

import (
	"fmt"
	"strings"
)

// CSSLoader is the built-in CSS loader: it wraps a stylesheet's source in
// a small ES module that constructs a CSSStyleSheet via replaceSync, the
// same constructable-stylesheet shape the transform pipeline it is
// grounded on emits for served CSS.
type CSSLoader struct{ BaseLoader }

var _ Loader = (*CSSLoader)(nil)

func NewCSSLoader() *CSSLoader { return &CSSLoader{} }

func (l *CSSLoader) Name() string { return "builtin-css" }

func (l *CSSLoader) Run(ctx *Context, content []byte, _ []byte, _ map[string]any) (*Patch, error) {
	escaped := escapeTemplateLiteral(string(content))
	out := fmt.Sprintf(`const sheet = new CSSStyleSheet();
sheet.replaceSync(%s);
export default sheet;
`, "`"+escaped+"`")
	return &Patch{Content: []byte(out)}, nil
}

// escapeTemplateLiteral escapes a string for safe inclusion inside a JS
// template literal: backslashes, backticks, "${" sequences, and "</"
// (which would otherwise close a surrounding <script> tag).
func escapeTemplateLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	prev := rune(0)
	runes := []rune(s)
	for i, r := range runes {
		switch r {
		case '\\', '`':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '$':
			if i+1 < len(runes) && runes[i+1] == '{' {
				b.WriteString(`\$`)
			} else {
				b.WriteRune(r)
			}
		case '/':
			if prev == '<' {
				b.WriteString(`\/`)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}
