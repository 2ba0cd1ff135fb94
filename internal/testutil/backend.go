package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/aggql/internal/metadata"
)

// Backend is an in-memory engine backend that counts the queries it
// answers. Data queries return Rows; COUNT queries return Total.
type Backend struct {
	mu sync.Mutex

	Rows  []map[string]any
	Total int64

	// QueryErr and VersionErr are returned instead of results when set.
	QueryErr   error
	VersionErr error

	// When Release is set, each query sends on Started (if set) and then
	// waits for Release to be closed or ctx to end.
	Started chan struct{}
	Release chan struct{}

	version   string
	versioned bool

	queries  []string
	versions int
}

// NewBackend creates a backend reporting version "1" for every table.
func NewBackend(rows ...map[string]any) *Backend {
	return &Backend{Rows: rows, version: "1", versioned: true}
}

// SetVersion changes the version reported for every table.
func (b *Backend) SetVersion(v string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version, b.versioned = v, true
}

// ClearVersion makes the backend report no version.
func (b *Backend) ClearVersion() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version, b.versioned = "", false
}

func (b *Backend) Query(ctx context.Context, sql string, _ ...any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.Release != nil {
		if b.Started != nil {
			b.Started <- struct{}{}
		}
		select {
		case <-b.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queries = append(b.queries, sql)
	if b.QueryErr != nil {
		return nil, b.QueryErr
	}
	if strings.HasPrefix(sql, "SELECT COUNT(") {
		return []map[string]any{{"count": b.Total}}, nil
	}
	out := make([]map[string]any, len(b.Rows))
	for i, r := range b.Rows {
		row := make(map[string]any, len(r))
		for k, v := range r {
			row[k] = v
		}
		out[i] = row
	}
	return out, nil
}

func (b *Backend) TableVersion(ctx context.Context, _ *metadata.Table) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.versions++
	if b.VersionErr != nil {
		return "", false, b.VersionErr
	}
	return b.version, b.versioned, nil
}

// Queries returns every SQL statement run so far, in order.
func (b *Backend) Queries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.queries...)
}

// VersionLookups returns how often TableVersion was called.
func (b *Backend) VersionLookups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.versions
}
