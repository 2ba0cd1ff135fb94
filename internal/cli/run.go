package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/aggql/internal/cache"
	"github.com/roach88/aggql/internal/engine"
	"github.com/roach88/aggql/internal/hydrate"
	"github.com/roach88/aggql/internal/queryir"
	"github.com/roach88/aggql/internal/querysql"
	"github.com/roach88/aggql/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	Driver      string
	Dialect     string
	Redis       string
	CacheSize   int
	BypassCache bool
	Timeout     time.Duration

	// RequestIDs allows overriding the request ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RequestIDs engine.RequestIDGenerator
}

// RunOutput is the JSON payload of a successful run.
type RunOutput struct {
	Columns []string         `json:"columns"`
	Records []hydrate.Record `json:"records"`
	Total   *int64           `json:"total,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <models-dir> <query.yaml>",
		Short: "Execute a query against a database",
		Long: `Compile a YAML query against CUE models, execute it against a SQLite
or DuckDB database and print the hydrated records.

Results are cached under the queried table's version. Without --redis the
cache lives in memory for the duration of the command; with it results
are shared between invocations.

Example:
  aggql run --db ./stats.db ./models ./queries/ratings.yaml
  aggql run --db ./stats.duckdb --driver duckdb --dialect duckdb ./models ./q.yaml
  aggql run --db ./stats.db --redis localhost:6379 ./models ./q.yaml --verbose`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the database (required)")
	cmd.Flags().StringVar(&opts.Driver, "driver", store.DriverSQLite, "database driver (sqlite3|duckdb)")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "SQL dialect (sqlite|duckdb|mysql); defaults to the driver's")
	cmd.Flags().StringVar(&opts.Redis, "redis", "", "Redis address for a shared result cache")
	cmd.Flags().IntVar(&opts.CacheSize, "cache-size", 1024, "entries kept by the in-memory result cache")
	cmd.Flags().BoolVar(&opts.BypassCache, "bypass-cache", false, "skip the result cache")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "bound on backend execution (0 = none)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runQuery(opts *RunOptions, modelsDir, queryPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Configure logging based on verbose flag
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(formatter.GetErrWriter(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	dialectName := opts.Dialect
	if dialectName == "" {
		dialectName = dialectForDriver(opts.Driver)
	}
	dialect, err := querysql.DialectByName(dialectName)
	if err != nil {
		return outputCommandError(formatter, ErrCodeGeneric, err.Error())
	}

	loadResult, loadErrors := LoadModels(modelsDir)
	if len(loadErrors) > 0 {
		return outputLoadErrors(formatter, loadErrors)
	}
	if errs := CheckModels(loadResult.Catalog); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}
	logger.Debug("models loaded", "dir", modelsDir, "tables", len(loadResult.Catalog.Tables()))

	q, err := LoadQuery(queryPath, loadResult.Catalog)
	if err != nil {
		return outputQueryError(formatter, err)
	}
	if opts.BypassCache {
		q.BypassCache = true
	}

	logger.Debug("opening database", "driver", opts.Driver, "path", opts.Database)
	st, err := store.OpenDriver(opts.Driver, opts.Database)
	if err != nil {
		return outputCommandError(formatter, ErrCodeBackend, fmt.Sprintf("failed to open database: %v", err))
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	resultCache, closeCache, err := openCache(opts)
	if err != nil {
		return outputCommandError(formatter, ErrCodeBackend, err.Error())
	}
	defer closeCache()

	engineOpts := []engine.EngineOption{
		engine.WithDialect(dialect),
		engine.WithCache(resultCache),
		engine.WithLogger(logger),
		engine.WithQueryTimeout(opts.Timeout),
	}
	if opts.RequestIDs != nil {
		engineOpts = append(engineOpts, engine.WithRequestIDGenerator(opts.RequestIDs))
	}
	eng := engine.New(loadResult.Catalog, st, engineOpts...)

	// Setup signal handling so Ctrl-C cancels the running query
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := eng.ExecuteQuery(ctx, q)
	if err != nil {
		return outputQueryError(formatter, err)
	}
	records, err := eng.Hydrate(q, res)
	if err != nil {
		return outputQueryError(formatter, err)
	}

	out := RunOutput{Columns: projectionNames(q), Records: records, Total: res.Total}
	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	if err := formatter.WriteRecords(out.Columns, out.Records); err != nil {
		return err
	}
	if out.Total != nil {
		fmt.Fprintf(formatter.Writer, "(%d of %d rows)\n", len(records), *out.Total)
	} else {
		fmt.Fprintf(formatter.Writer, "(%d rows)\n", len(records))
	}
	return nil
}

// openCache picks the result cache: Redis when an address is given, an
// LRU otherwise, none when caching is bypassed.
func openCache(opts *RunOptions) (cache.Cache, func(), error) {
	noop := func() {}
	if opts.BypassCache {
		return nil, noop, nil
	}
	if opts.Redis != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.Redis})
		return cache.NewRedis(client, "aggql:"), func() { _ = client.Close() }, nil
	}
	lru, err := cache.NewLRU(opts.CacheSize)
	if err != nil {
		return nil, noop, fmt.Errorf("invalid cache size %d: %w", opts.CacheSize, err)
	}
	return lru, noop, nil
}

func dialectForDriver(driver string) string {
	if driver == store.DriverDuckDB {
		return "duckdb"
	}
	return "sqlite"
}

// projectionNames lists output columns in projection order: dimensions,
// time dimensions, then metrics.
func projectionNames(q *queryir.Query) []string {
	var names []string
	for _, group := range [][]queryir.Projection{q.Dimensions, q.TimeDimensions, q.Metrics} {
		for _, p := range group {
			names = append(names, p.Name())
		}
	}
	return names
}
