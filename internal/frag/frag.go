// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package frag

import (
	"strings"

	"github.com/lib/pq"
)

// Fragment is a piece of composed SQL text. Fragments are built from raw SQL,
// quoted identifiers or quoted literals, and combined with Concat and Join.
// The zero Fragment is the empty fragment.
type Fragment struct {
	sql string
}

// SQL returns a fragment containing the text verbatim.
func SQL(text string) Fragment {
	return Fragment{sql: text}
}

// Ident returns a fragment containing the name as a quoted SQL identifier.
func Ident(name string) Fragment {
	return Fragment{sql: pq.QuoteIdentifier(name)}
}

// Literal returns a fragment containing the value as a quoted SQL string
// literal.
func Literal(value string) Fragment {
	return Fragment{sql: pq.QuoteLiteral(value)}
}

// Concat joins the fragments into one with no separator.
func Concat(fragments ...Fragment) Fragment {
	var sb strings.Builder
	for _, f := range fragments {
		sb.WriteString(f.sql)
	}
	return Fragment{sql: sb.String()}
}

// Join joins the fragments into one, placing sep between adjacent fragments.
func Join(sep string, fragments []Fragment) Fragment {
	var sb strings.Builder
	for i, f := range fragments {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(f.sql)
	}
	return Fragment{sql: sb.String()}
}

// String returns the SQL text of the fragment.
func (f Fragment) String() string {
	return f.sql
}
