// Package ir provides the runtime value model for factrule.
//
// This package contains the types every other internal package shares:
// facts and their aspects, alignments, tagged runtime values, value sets
// grouped by alignment, and result messages. ir imports nothing internal,
// so it stays the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Alignment is immutable; the zero Alignment is the "none" alignment
//   - Value equality and Key() depend only on kind, payload and alignment
//   - Decimal payloads use apd so fact arithmetic is exact
//   - Content-addressed ids (cache keys, result ids) go through
//     MarshalCanonical and a domain-separated SHA-256
package ir
