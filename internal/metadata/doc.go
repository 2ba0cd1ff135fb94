// Package metadata describes the logical model the compiler works against:
// tables, their columns, declared arguments and the relationships between
// tables.
//
// Metadata is built once at startup (see internal/compiler for the CUE
// loader) and linked by NewCatalog. After linking it is immutable and safe
// for concurrent use by any number of query compilations.
//
// Column subtypes are a closed Kind enum with a payload rather than a type
// hierarchy: a Metric carries its Aggregation, a TimeDimension carries its
// supported Grains.
package metadata
