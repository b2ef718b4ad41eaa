// Package registry provides the central glue between graph documents and
// compiled Go node implementations.
//
// The Registry maps the string identifiers used in graph documents (e.g.
// "arith.add") to the list of monomorphic implementations offered for that
// node kind, one per concrete input/output type combination the author
// registered. It is populated once at process start by Module values and is
// read-only afterwards; the compiler and executor only ever look entries up.
package registry
