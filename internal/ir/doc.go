// Package ir provides the constrained value model and canonical encoding used
// for every byte string that takes part in consensus.
//
// Nodes only agree when their capability responses are byte-identical, so any
// map-shaped data must serialize the same way on every node. This package is
// the single place that decides how:
//   - values are limited to string, int64, bool, array and object (no floats, no null)
//   - objects serialize with RFC 8785 key ordering (UTF-16 code units)
//   - strings must be valid UTF-8; MarshalCanonical NFC normalizes them,
//     MarshalCanonicalVerbatim (envelope payloads) keeps them as given
//
// ir imports nothing internal; envelope and everything above it depend on it.
package ir
