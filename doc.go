/*
Package sqlweave composes relation-producing query templates into a single executable SQL statement.

A query that produces a relation is defined once as a [Relation]: its template text plus named dependencies on other relations.
Dependencies appear in the template as placeholders written {name}.
A graph of relations is rendered into one statement in either of two ways: every dependency inlined as a nested subquery, or every dependency hoisted into a WITH clause as a named common table expression.

# Basics

A relation with no dependencies is just its template:

	hund := sqlweave.MustDefine("SELECT a, b FROM (VALUES (1, 100), (2, 200)) t(a, b)", nil, nil)
	thou := sqlweave.MustDefine("SELECT a, b FROM (VALUES (1, 1000)) t(a, b)", nil, nil)

A relation that reads from other relations names them as dependencies:

	combine := sqlweave.MustDefine(
		"SELECT h.a, h.b, t.b FROM {h} LEFT JOIN {t} USING (a)",
		sqlweave.Deps{"h": hund, "t": thou},
		nil,
	)

Rendering with [Relation.Subqueries] inlines each dependency as a parenthesised subquery:

	SELECT h.a, h.b, t.b FROM (SELECT ...) AS "h" LEFT JOIN (SELECT ...) AS "t" USING (a)

Rendering with [Relation.CTEs] hoists each dependency into a WITH clause:

	WITH "_cte0" AS (SELECT ...)
	   , "_cte1" AS (SELECT ...)
	SELECT h.a, h.b, t.b FROM "_cte0" AS "h" LEFT JOIN "_cte1" AS "t" USING (a)

# Identity and sharing

Relations are compared by identity, never by template text.
When the same *Relation appears under several parents, Subqueries re-renders it once per appearance while CTE rendering hoists it exactly once, referenced by alias from every parent.
[SortDependencies] orders the graph so that every relation precedes its dependents; it fails with [ErrCircularDependency] on a graph that cycles.

# Extra values

Placeholders not bound to a dependency are filled from extra values, either fixed at definition time or passed to a render call.
Extra values are tagged: [Ident] renders as a quoted identifier, [Literal] as a quoted string literal and [Raw] verbatim.
A name bound by more than one source is an error.

# Execution

A rendered [Statement] is run on a [DB] in the manner of database/sql:

	db := sqlweave.NewDB(sqldb)
	stmt, err := combine.CTEs(nil)
	...
	iter := db.Query(ctx, stmt).Iter()

Driver statements prepared for a Statement are cached per database and reused across runs.
*/
package sqlweave
