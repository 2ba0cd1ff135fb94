// Package harness runs query scenarios against CUE models and pins the
// generated SQL with golden files.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: flat_plan
//	description: "What this scenario validates"
//	models: ../models
//	dialect: sqlite
//	setup:
//	  - CREATE TABLE playerStats (...)
//	  - INSERT INTO playerStats VALUES (...)
//	query:
//	  table: playerStats
//	  dimensions: [{field: overallRating}]
//	  metrics: [{field: highScore}]
//	expect:
//	  error: INVALID_OPERATION
//	  message: "Sorting on id"
//	assertions:
//	  - {type: join_count, count: 1}
//	  - {type: row, index: 0, expect: {overallRating: Good}}
//
// The query section is a querydoc document. Without setup SQL the query is
// only compiled; with it the query also runs against a fresh in-memory
// SQLite database and its records are hydrated.
//
// # Assertion Types
//
//   - sql_contains / sql_not_contains: substring checks on the data SQL
//   - join_count: number of JOIN clauses in the data SQL
//   - row_count: number of hydrated records
//   - row: attribute values of one record, compared by text form
//   - total: the pagination total
//
// # Golden Files
//
// Snapshot renders SQL, parameters, the COUNT query and records into a
// stable text form. Golden files live in testdata/scenarios/golden and are
// compared with goldie; the aggql test command uses the same files.
package harness
