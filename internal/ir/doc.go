// Package ir holds the constrained value model shared by the query
// compiler: filter literals, argument values and the documents that are
// hashed into query fingerprints and join aliases.
//
// This package imports nothing internal. Key constraints:
//   - no float variant; decimals travel as text
//   - every hash goes through MarshalCanonical (RFC 8785) with a domain prefix
package ir
