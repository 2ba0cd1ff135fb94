// Package store is the SQL backend the engine executes against.
//
// A Store wraps a database/sql handle opened on SQLite (go-sqlite3) or
// DuckDB (duckdb-go). Besides running compiled queries it keeps one
// bookkeeping table:
//
//   - table_versions: table_name -> version, the freshness marker used in
//     result cache keys
//
// A modeled table may instead declare its own version query, e.g.
// "SELECT MAX(updated_at) FROM playerStats"; TableVersion prefers it.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
