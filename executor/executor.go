// Package executor runs compiled statements against an injected
// *sql.DB, grounded on the teacher's driver/database.go: a thin,
// dialect-agnostic layer over database/sql that never constructs DDL
// or SQL itself, only runs what sqlbuilder/analysis already produced.
//
// Per spec.md §5 the connection pool lives outside the core: Executor
// never opens a connection, it only wraps one handed to it by the
// caller (cmd/semlayerd, in this repo).
package executor

import (
	"context"
	"database/sql"
	"time"

	"github.com/k0kubun/semlayer/errs"
)

// DefaultCancellationGrace is how long Close waits for the driver to
// tear down a statement after its context is cancelled, per spec.md
// §5 ("a cancellation-timeout elapses after cancellation is signalled
// to allow the driver to tear down cleanly").
const DefaultCancellationGrace = 5 * time.Second

// Executor runs parameterized statements against an injected
// connection pool and decodes the result into a generic columnar
// rowset ready for annotate.Annotator.
type Executor struct {
	DB                *sql.DB
	CancellationGrace time.Duration
}

func New(db *sql.DB) *Executor {
	return &Executor{DB: db, CancellationGrace: DefaultCancellationGrace}
}

// Result is a generic column-oriented rowset: driver column names in
// statement order, and one []any per row. Values are whatever the
// driver's default Scan destination produces (time.Time, string,
// int64, float64, []byte, nil, ...); annotate.Annotator interprets
// them against cube metadata.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Query runs sqlText with params bound positionally and decodes every
// row. If ctx is cancelled mid-scan the in-flight statement is
// aborted and any partially produced rows are discarded — this
// returns an error rather than the partial result, per spec.md §5.
func (e *Executor) Query(ctx context.Context, sqlText string, params []any) (*Result, error) {
	rows, err := e.DB.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, errs.ExecutionFailed(err)
	}
	defer e.closeWithGrace(rows)

	cols, err := rows.Columns()
	if err != nil {
		return nil, errs.ExecutionFailed(err)
	}

	result := &Result{Columns: cols}
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.ExecutionFailed(err)
		}
		result.Rows = append(result.Rows, dest)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ExecutionFailed(err)
	}
	return result, nil
}

// closeWithGrace closes rows in the background and waits up to
// CancellationGrace for it to finish. A statement aborted by context
// cancellation can take the driver a moment to tear down; Close must
// not block the caller indefinitely waiting for that.
func (e *Executor) closeWithGrace(rows *sql.Rows) {
	grace := e.CancellationGrace
	if grace <= 0 {
		grace = DefaultCancellationGrace
	}
	done := make(chan struct{})
	go func() {
		rows.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

// Ping verifies the injected pool is reachable, wrapping a failure as
// ExecutionFailed.
func (e *Executor) Ping(ctx context.Context) error {
	if err := e.DB.PingContext(ctx); err != nil {
		return errs.ExecutionFailed(err)
	}
	return nil
}

// Close closes the underlying connection pool. The pool is owned by
// the caller that injected it, but Executor offers this for the
// common case where it also owns the *sql.DB's lifetime (cmd/semlayerd's
// single long-lived pool).
func (e *Executor) Close() error {
	return e.DB.Close()
}
