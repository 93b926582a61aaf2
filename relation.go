// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlweave

import (
	"fmt"
	"sort"

	"github.com/sqlweave/sqlweave/internal/frag"
)

// ErrUnresolvedPlaceholder is reported when a template names a placeholder
// that neither a dependency nor an extra value supplies.
var ErrUnresolvedPlaceholder = frag.ErrMissingValue

// M holds extra named substitution values for placeholders that are not
// bound to a dependency. Values must be of type [Ident], [Literal] or [Raw].
//
// Example:
//     rel := sqlweave.MustDefine(
//         "SELECT {col} FROM people WHERE team = {team}",
//         nil,
//         sqlweave.M{"col": sqlweave.Ident("name"), "team": sqlweave.Literal("engineering")},
//     )
type M map[string]any

// Deps maps placeholder names to the relations they stand for.
type Deps map[string]*Relation

// Ident is an extra value substituted as a quoted SQL identifier.
type Ident string

// Literal is an extra value substituted as a quoted SQL string literal.
type Literal string

// Raw is an extra value substituted verbatim. The caller is responsible for
// the safety of its content; identifiers and literals should use [Ident] and
// [Literal] instead.
type Raw string

// Relation is a relation-producing query template together with its named
// dependencies on other relations. The dependency graph formed this way must
// be acyclic.
//
// Relations are immutable once defined and are compared by identity: two
// relations are the same only if they are the same *Relation. Two relations
// defined from identical text are still distinct, and the same *Relation
// reused under several parents is recognised as shared. Sorting and CTE
// assembly deduplicate by this identity, never by template text.
type Relation struct {
	raw  string
	tmpl *frag.Template
	deps Deps
	// depNames holds the dependency names in lexicographic order. All
	// iteration over the dependencies follows depNames so that sorting and
	// rendering are deterministic for a fixed graph.
	depNames []string
	extras   M
}

// Define parses the template and returns a new [Relation] depending on the
// given relations. Placeholders are written {name}; {{ and }} escape literal
// braces. Extra values in extras are substituted wherever the template names
// them; a name bound both by a dependency and by an extra value is an error.
func Define(template string, deps Deps, extras M) (*Relation, error) {
	parser := frag.NewParser()
	tmpl, err := parser.Parse(template)
	if err != nil {
		return nil, err
	}

	r := &Relation{
		raw:    template,
		tmpl:   tmpl,
		deps:   make(Deps, len(deps)),
		extras: make(M, len(extras)),
	}
	for name, dep := range deps {
		if dep == nil {
			return nil, fmt.Errorf("cannot define relation: dependency %q is nil", name)
		}
		r.deps[name] = dep
		r.depNames = append(r.depNames, name)
	}
	sort.Strings(r.depNames)

	for name, value := range extras {
		if _, ok := r.deps[name]; ok {
			return nil, fmt.Errorf("cannot define relation: %w: %q is both a dependency and an extra value", ErrNameCollision, name)
		}
		if _, err := extraFragment(name, value); err != nil {
			return nil, fmt.Errorf("cannot define relation: %s", err)
		}
		r.extras[name] = value
	}
	return r, nil
}

// MustDefine is the same as [Define] except that it panics on error.
func MustDefine(template string, deps Deps, extras M) *Relation {
	r, err := Define(template, deps, extras)
	if err != nil {
		panic(err)
	}
	return r
}

// Template returns the template text the relation was defined with.
func (r *Relation) Template() string {
	return r.raw
}

// Dependencies returns a copy of the relation's named dependencies.
func (r *Relation) Dependencies() Deps {
	deps := make(Deps, len(r.deps))
	for name, dep := range r.deps {
		deps[name] = dep
	}
	return deps
}

// Extras returns a copy of the extra values the relation was defined with.
func (r *Relation) Extras() M {
	extras := make(M, len(r.extras))
	for name, value := range r.extras {
		extras[name] = value
	}
	return extras
}

// extraFragment converts a tagged extra value to a fragment.
func extraFragment(name string, value any) (frag.Fragment, error) {
	switch value := value.(type) {
	case Ident:
		return frag.Ident(string(value)), nil
	case Literal:
		return frag.Literal(string(value)), nil
	case Raw:
		return frag.SQL(string(value)), nil
	}
	return frag.Fragment{}, fmt.Errorf("invalid value for %q: type %T not supported, must be Ident, Literal or Raw", name, value)
}

// substValues merges the relation's own extra values with the call-level
// extras, rejecting any name that is bound more than once. Dependency
// fragments are added by the caller afterwards; collisions between extras
// and dependency names are rejected here, collisions between dependencies
// and the relation's own extras were already rejected by Define.
func (r *Relation) substValues(extras M) (map[string]frag.Fragment, error) {
	values := make(map[string]frag.Fragment, len(r.extras)+len(extras))
	for name, value := range r.extras {
		f, err := extraFragment(name, value)
		if err != nil {
			return nil, err
		}
		values[name] = f
	}
	names := make([]string, 0, len(extras))
	for name := range extras {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := values[name]; ok {
			return nil, fmt.Errorf("%w: %q supplied twice", ErrNameCollision, name)
		}
		if _, ok := r.deps[name]; ok {
			return nil, fmt.Errorf("%w: %q is both a dependency and an extra value", ErrNameCollision, name)
		}
		f, err := extraFragment(name, extras[name])
		if err != nil {
			return nil, err
		}
		values[name] = f
	}
	return values, nil
}
