// Package queryir is the request model of the analytic query compiler.
//
// A Query names a logical table (or another Query), the metrics and
// dimensions to project, WHERE and HAVING filters, sorting and
// pagination. FilterExpression is a sealed interface over Predicate, And,
// Or and Not so compilers can switch over it exhaustively.
//
// Split partitions a client filter into its pre-aggregation (WHERE) and
// post-aggregation (HAVING) parts. Validate checks a Query before SQL is
// generated and reports the first problem as an InvalidOperationError with
// a message suitable for returning to the client.
package queryir
