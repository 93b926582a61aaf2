/*
Package frag builds and composes SQL fragments.

A Template is raw SQL text with named placeholders written as {name}. The
parser splits the text into literal chunks and placeholders, leaving quoted
string literals and SQL comments untouched so that braces inside them are
never mistaken for placeholders. Substitute then replaces each placeholder
with a supplied Fragment.

Fragments are opaque pieces of composed SQL text. Identifiers and string
literals are always quoted on construction, so composed fragments never
contain a raw unescaped identifier.
*/
package frag
