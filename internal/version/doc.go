// Package version implements the document's logical clock and the
// identifier generators.
//
// Versions are strings over a 64-digit, ASCII-sorted alphabet that are
// incremented like big-endian counters. Equal-length versions compare with
// plain string comparison; versions of different lengths are left-padded
// first. Compare is the single ordering rule: the clock and every merge
// predicate use it, never the raw string operators.
//
// Identifiers are short, time-ordered strings produced by the same base-64
// encoding. Node ids only need to be unique within a document; replica ids
// carry an extra random tail.
package version
