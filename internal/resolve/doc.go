// Package resolve turns parsed column templates into SQL fragments.
//
// Resolution walks references recursively under an argument Scope,
// collecting the joins the fragments need. A join's alias is derived from
// a hash of its symbolic condition and source, so two traversals that
// would produce the same join share one clause while traversals whose
// condition differs (for example through a column argument) get their own.
// Reference chains that loop are reported as CycleError.
package resolve
