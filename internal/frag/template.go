package frag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingValue is returned by Substitute when a placeholder in the
// template has no value in the supplied mapping.
var ErrMissingValue = errors.New("missing placeholder value")

// A part is a piece of a parsed template. It is either a bypass part,
// carrying literal SQL text, or a placeholder part, carrying the name of a
// placeholder to be substituted.
type part interface {
	// String returns a representation of the part used in tests to check
	// the parser output.
	String() string
}

// bypass carries literal SQL text copied to the output unchanged. Brace
// escapes have already been resolved in the text.
type bypass struct {
	text string
}

func (b *bypass) String() string {
	return "Bypass[" + b.text + "]"
}

// placeholder is a named substitution point in the template.
type placeholder struct {
	name string
}

func (p *placeholder) String() string {
	return "Placeholder[" + p.name + "]"
}

// Template is a parsed SQL template with named placeholders. Templates are
// immutable once parsed.
type Template struct {
	raw   string
	parts []part
}

// String returns a representation of the parsed parts of the template. It is
// used in tests to check the output of the parser.
func (t *Template) String() string {
	var sb strings.Builder
	sb.WriteString("Template[")
	for i, p := range t.parts {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString("]")
	return sb.String()
}

// Raw returns the template text as passed to the parser.
func (t *Template) Raw() string {
	return t.raw
}

// Placeholders returns the distinct placeholder names in the template in
// order of first appearance.
func (t *Template) Placeholders() []string {
	var names []string
	seen := map[string]bool{}
	for _, p := range t.parts {
		if p, ok := p.(*placeholder); ok && !seen[p.name] {
			seen[p.name] = true
			names = append(names, p.name)
		}
	}
	return names
}

// Substitute replaces every placeholder in the template with its fragment
// from values and returns the composed result. A placeholder with no entry
// in values fails with ErrMissingValue. Entries in values that do not appear
// in the template are ignored.
func (t *Template) Substitute(values map[string]Fragment) (Fragment, error) {
	var sb strings.Builder
	for _, p := range t.parts {
		switch p := p.(type) {
		case *bypass:
			sb.WriteString(p.text)
		case *placeholder:
			f, ok := values[p.name]
			if !ok {
				return Fragment{}, fmt.Errorf("%w for %q", ErrMissingValue, p.name)
			}
			sb.WriteString(f.sql)
		}
	}
	return Fragment{sql: sb.String()}, nil
}
