// Package engine executes analytic queries against a backend.
//
// An Engine owns everything that outlives a single request: the model
// catalog, the formula parse cache, the SQL compiler for one dialect and
// the result cache. Nothing is global, so tests build a fresh Engine per
// case.
//
// Request flow for ExecuteQuery:
//  1. Compile: validate the query and build parameterized SQL
//  2. Fingerprint: hash the SQL, its parameters and the root table
//  3. Version: ask the backend for the root table's freshness marker
//  4. Cache: look up "<version>;<fingerprint>"; on a miss run the data
//     query (and the COUNT query, concurrently) and store the result
//
// Hydrate is a separate step so cached results stay in their raw backend
// form and are coerced the same way whether they came from the cache or
// the backend.
//
// Every ExecuteQuery call gets a request ID that appears on its log lines
// and on the QueryError it returns.
package engine
