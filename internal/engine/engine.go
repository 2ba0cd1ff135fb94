package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/aggql/internal/cache"
	"github.com/roach88/aggql/internal/expr"
	"github.com/roach88/aggql/internal/hydrate"
	"github.com/roach88/aggql/internal/ir"
	"github.com/roach88/aggql/internal/metadata"
	"github.com/roach88/aggql/internal/queryir"
	"github.com/roach88/aggql/internal/querysql"
)

// Backend runs SQL against the store holding the modeled tables.
//
// Both methods block and must honor ctx cancellation.
type Backend interface {
	Query(ctx context.Context, sql string, params ...any) ([]map[string]any, error)

	// TableVersion returns a freshness marker for t. ok is false when the
	// backend cannot tell, in which case results are not cached.
	TableVersion(ctx context.Context, t *metadata.Table) (version string, ok bool, err error)
}

// Engine compiles and executes analytic queries.
//
// Thread-safety model:
//   - Explain, ExecuteQuery and Hydrate are safe from any goroutine
//   - the parse cache and the result cache are the only shared state
//   - concurrent identical cache misses run the backend once
type Engine struct {
	catalog  *metadata.Catalog
	backend  Backend
	dialect  querysql.Dialect
	parser   *expr.Parser
	compiler *querysql.SQLCompiler
	cache    cache.Cache
	logger   *slog.Logger
	ids      RequestIDGenerator
	timeout  time.Duration

	flight singleflight.Group
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithDialect sets the SQL dialect. Default: querysql.SQLite.
func WithDialect(d querysql.Dialect) EngineOption {
	return func(e *Engine) { e.dialect = d }
}

// WithCache sets the result cache. nil disables caching.
// Default: an unbounded in-memory cache.Map.
func WithCache(c cache.Cache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRequestIDGenerator sets the request ID source. Default: UUIDv7Generator.
func WithRequestIDGenerator(g RequestIDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithQueryTimeout bounds every backend call of one ExecuteQuery.
// Zero means only the caller's deadline applies.
func WithQueryTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// New creates an Engine over catalog and backend.
//
// backend may be nil for an engine that only explains queries.
func New(catalog *metadata.Catalog, backend Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog: catalog,
		backend: backend,
		dialect: querysql.SQLite,
		parser:  expr.NewParser(),
		cache:   cache.NewMap(),
		logger:  slog.Default(),
		ids:     UUIDv7Generator{},
	}

	// Apply options
	for _, opt := range opts {
		opt(e)
	}

	e.compiler = querysql.NewSQLCompiler(e.dialect, e.parser)
	return e
}

// Catalog returns the models the engine was built with.
func (e *Engine) Catalog() *metadata.Catalog { return e.catalog }

// Explanation is the SQL a query would run, without running it.
type Explanation struct {
	SQL         string `json:"sql"`
	Params      []any  `json:"params"`
	CountSQL    string `json:"count_sql,omitempty"`
	CountParams []any  `json:"count_params,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// Explain compiles q. The output is byte-identical for identical queries,
// whatever the iteration order of their argument maps.
func (e *Engine) Explain(_ context.Context, q *queryir.Query) (Explanation, error) {
	plan, err := e.compiler.Compile(q)
	if err != nil {
		return Explanation{}, compileError("", err)
	}
	fp, err := fingerprint(q, plan)
	if err != nil {
		return Explanation{}, compileError("", err)
	}
	return Explanation{
		SQL:         plan.SQL,
		Params:      plan.Params,
		CountSQL:    plan.CountSQL,
		CountParams: plan.CountParams,
		Fingerprint: fp,
	}, nil
}

// ExecuteQuery compiles q and runs it, answering from the cache when the
// root table's version has not changed since an identical query ran.
//
// The cache key is "<table version>;<fingerprint>". A query with
// BypassCache set, or whose table has no version, always runs. Failed
// executions are never cached. Concurrent misses on one key share a
// single execution that keeps running when the caller that started it
// goes away.
func (e *Engine) ExecuteQuery(ctx context.Context, q *queryir.Query) (*queryir.Result, error) {
	requestID := e.ids.Generate()
	log := e.logger.With("request_id", requestID)

	plan, err := e.compiler.Compile(q)
	if err != nil {
		return nil, compileError(requestID, err)
	}
	if e.backend == nil {
		return nil, executionError(requestID, fmt.Errorf("engine has no backend"))
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if q.BypassCache || e.cache == nil {
		log.Debug("cache bypassed")
		return e.run(ctx, log, requestID, plan)
	}

	fp, err := fingerprint(q, plan)
	if err != nil {
		return nil, compileError(requestID, err)
	}

	table := q.Root()
	version, ok, err := e.backend.TableVersion(ctx, table)
	if err != nil {
		log.Error("table version lookup failed", "table", table.Name, "error", err)
		return nil, executionError(requestID, fmt.Errorf("table version of %s: %w", table.Name, err))
	}
	if !ok {
		log.Debug("cache skipped: no table version", "table", table.Name)
		return e.run(ctx, log, requestID, plan)
	}

	key := version + ";" + fp
	cached, hit, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		log.Warn("cache read failed", "key", key, "error", err)
	case hit:
		log.Debug("cache hit", "key", key)
		return cached, nil
	default:
		log.Debug("cache miss", "key", key)
	}

	// The shared execution outlives any one caller: it runs detached from
	// ctx, bounded by the engine timeout, and each caller stops waiting
	// when its own ctx ends.
	ch := e.flight.DoChan(key, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if e.timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, e.timeout)
			defer cancel()
		}
		res, err := e.run(fctx, log, requestID, plan)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Put(fctx, key, res); err != nil {
			log.Warn("cache write failed", "key", key, "error", err)
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		log.Debug("caller gave up on in-flight execution", "key", key, "error", ctx.Err())
		return nil, executionError(requestID, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			log.Debug("shared in-flight execution", "key", key)
		}
		return r.Val.(*queryir.Result), nil
	}
}

// run executes the data query and, when requested, the COUNT query
// concurrently.
func (e *Engine) run(ctx context.Context, log *slog.Logger, requestID string, plan *querysql.Plan) (*queryir.Result, error) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	var rows []map[string]any
	g.Go(func() error {
		var err error
		rows, err = e.backend.Query(gctx, plan.SQL, plan.Params...)
		return err
	})

	var total *int64
	if plan.CountSQL != "" {
		g.Go(func() error {
			n, err := e.count(gctx, plan)
			total = &n
			return err
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("query execution failed", "error", err, "sql", plan.SQL)
		return nil, executionError(requestID, err)
	}

	res := &queryir.Result{Rows: make([]queryir.Row, len(rows)), Total: total}
	for i, r := range rows {
		res.Rows[i] = queryir.Row(r)
	}
	log.Info("query executed", "rows", len(rows), "duration", time.Since(start))
	return res, nil
}

func (e *Engine) count(ctx context.Context, plan *querysql.Plan) (int64, error) {
	rows, err := e.backend.Query(ctx, plan.CountSQL, plan.CountParams...)
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0]) != 1 {
		return 0, fmt.Errorf("count query returned %d rows", len(rows))
	}
	for _, v := range rows[0] {
		if v == nil {
			return 0, nil
		}
		return cast.ToInt64E(v)
	}
	return 0, nil
}

// Hydrate coerces the rows of res to the declared types of q.
func (e *Engine) Hydrate(q *queryir.Query, res *queryir.Result) ([]hydrate.Record, error) {
	records, err := hydrate.Hydrate(res.Rows, q)
	if err != nil {
		return nil, &QueryError{Code: ErrCodeHydrationFailed, Message: err.Error(), Err: err}
	}
	return records, nil
}

// fingerprint hashes everything that decides the rows a query returns.
// The SQL text already carries the resolved columns, arguments, filters,
// sort and pagination; the root table name separates identical SQL run
// against differently versioned models.
func fingerprint(q *queryir.Query, plan *querysql.Plan) (string, error) {
	params, err := paramArray(plan.Params)
	if err != nil {
		return "", err
	}
	countParams, err := paramArray(plan.CountParams)
	if err != nil {
		return "", err
	}
	root := q.Root()
	return ir.QueryFingerprint(ir.NewIRObject(
		ir.O("sql", ir.IRString(plan.SQL)),
		ir.O("params", params),
		ir.O("count_sql", ir.IRString(plan.CountSQL)),
		ir.O("count_params", countParams),
		ir.O("source", ir.IRString(root.Name)),
		ir.O("version", ir.IRString(root.Version)),
	))
}

func paramArray(params []any) (ir.IRArray, error) {
	arr := make(ir.IRArray, len(params))
	for i, p := range params {
		v, err := ir.FromAny(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		arr[i] = v
	}
	return arr, nil
}
