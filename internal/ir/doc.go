// Package ir provides the plain in-memory representation of JSON data
// used by every other internal package.
//
// Documents are trees of objects and arrays over primitives. ir models
// that shape as a sealed Value interface so callers dispatch with a type
// switch rather than reflection. ir imports nothing internal.
//
// Key design constraints:
//   - Integers and fractional numbers are distinct types (Int, Float);
//     Equal compares them numerically
//   - Object key order is RFC 8785 (UTF-16 code units) everywhere output
//     must be deterministic
//   - MarshalCanonical is the only encoding used for hashing
package ir
