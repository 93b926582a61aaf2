// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlweave

import (
	"fmt"

	"github.com/sqlweave/sqlweave/internal/frag"
)

// Aliases maps relations to the names they have been hoisted under. The map
// is keyed by relation identity.
type Aliases map[*Relation]string

// Subqueries renders the relation with every dependency inlined recursively
// as a parenthesised subquery aliased to its placeholder name. A relation
// shared by several parents is re-rendered once per appearance; use [RenderCTE]
// or [Relation.CTEs] when a shared relation must be evaluated only once.
//
// The extras are substituted into every relation in the graph that names
// them, in addition to each relation's own extra values.
func (r *Relation) Subqueries(extras M) (*Statement, error) {
	f, err := r.renderSubqueries(extras)
	if err != nil {
		return nil, fmt.Errorf("cannot render subqueries: %w", err)
	}
	return stmtCache.newStatement(f.String()), nil
}

func (r *Relation) renderSubqueries(extras M) (frag.Fragment, error) {
	values, err := r.substValues(extras)
	if err != nil {
		return frag.Fragment{}, err
	}
	for _, name := range r.depNames {
		sub, err := r.deps[name].renderSubqueries(extras)
		if err != nil {
			return frag.Fragment{}, err
		}
		values[name] = frag.Concat(frag.SQL("("), sub, frag.SQL(") AS "), frag.Ident(name))
	}
	return r.tmpl.Substitute(values)
}

// RenderNamed renders the relation with every dependency replaced by a
// reference to its alias, as "alias" AS "name". No dependency is rendered
// recursively. The alias map must cover every direct dependency of r;
// a dependency without an alias fails with [ErrMissingAlias].
func RenderNamed(r *Relation, aliases Aliases, extras M) (*Statement, error) {
	f, err := r.renderNamed(aliases, extras)
	if err != nil {
		return nil, fmt.Errorf("cannot render named references: %w", err)
	}
	return stmtCache.newStatement(f.String()), nil
}

func (r *Relation) renderNamed(aliases Aliases, extras M) (frag.Fragment, error) {
	values, err := r.substValues(extras)
	if err != nil {
		return frag.Fragment{}, err
	}
	for _, name := range r.depNames {
		alias, ok := aliases[r.deps[name]]
		if !ok {
			return frag.Fragment{}, fmt.Errorf("%w for dependency %q", ErrMissingAlias, name)
		}
		values[name] = frag.Concat(frag.Ident(alias), frag.SQL(" AS "), frag.Ident(name))
	}
	return r.tmpl.Substitute(values)
}

// RenderCTE renders root as a single statement that hoists the given
// relations into a WITH clause, each under a generated alias, followed by
// root's own query referencing them by alias. Every hoisted relation is
// rendered exactly once however many dependents reference it.
//
// The ctes must be in topological order and cover the full dependency
// closure of root, which is what [SortDependencies] produces once root
// itself is dropped from the end; [Relation.CTEs] does exactly that. An
// out-of-order list renders forward references that the database will
// reject. An empty ctes list renders root alone with no WITH clause.
func RenderCTE(root *Relation, ctes []*Relation, extras M) (*Statement, error) {
	aliases := make(Aliases, len(ctes))
	for i, rel := range ctes {
		if _, ok := aliases[rel]; ok {
			return nil, fmt.Errorf("cannot render CTE statement: relation hoisted twice (position %d)", i)
		}
		aliases[rel] = fmt.Sprintf("_cte%d", i)
	}

	clauses := make([]frag.Fragment, 0, len(ctes))
	for _, rel := range ctes {
		body, err := rel.renderNamed(aliases, extras)
		if err != nil {
			return nil, fmt.Errorf("cannot render CTE statement: %w", err)
		}
		clauses = append(clauses, frag.Concat(frag.Ident(aliases[rel]), frag.SQL(" AS ("), body, frag.SQL(")")))
	}

	tail, err := root.renderNamed(aliases, extras)
	if err != nil {
		return nil, fmt.Errorf("cannot render CTE statement: %w", err)
	}
	if len(clauses) == 0 {
		return stmtCache.newStatement(tail.String()), nil
	}
	f := frag.Concat(frag.SQL("WITH "), frag.Join("\n   , ", clauses), frag.SQL("\n"), tail)
	return stmtCache.newStatement(f.String()), nil
}

// CTEs sorts the relation's dependency graph and renders it with every
// dependency hoisted as a named CTE. It is shorthand for [SortDependencies]
// followed by [RenderCTE] with the relation itself dropped from the sorted
// sequence.
func (r *Relation) CTEs(extras M) (*Statement, error) {
	sorted, err := SortDependencies(r)
	if err != nil {
		return nil, err
	}
	return RenderCTE(r, sorted[:len(sorted)-1], extras)
}
