// Package sqlexec runs permission-controlled SQL against the query backend.
package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"log"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/zulandar/querydesk/internal/state"
	"gorm.io/gorm"
)

// Executor runs read queries with a fixed result cap.
type Executor struct {
	db      *gorm.DB
	maxRows int
}

// New returns an Executor over db capped at state.MaxResultRows.
func New(db *gorm.DB) *Executor {
	return &Executor{db: db, maxRows: state.MaxResultRows}
}

// Query executes one SQL statement. On success the result carries the full
// backend row count, at most maxRows rows, and Truncated when the cap was
// hit. On failure the backend's error text is captured verbatim, never
// synthesized.
func (e *Executor) Query(ctx context.Context, sql string) *state.ExecutionResult {
	rows, err := e.db.WithContext(ctx).Raw(sql).Rows()
	if err != nil {
		return fail(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fail(err)
	}

	var (
		results  []map[string]any
		rowCount int
	)
	for rows.Next() {
		rowCount++
		if rowCount > e.maxRows {
			// Keep counting so RowCount reflects the true result
			// size, but stop materializing rows.
			continue
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fail(err)
		}
		record := make(map[string]any, len(columns))
		for i, col := range columns {
			record[col] = normalize(values[i])
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return fail(err)
	}

	return &state.ExecutionResult{
		Success:   true,
		Rows:      results,
		Columns:   columns,
		RowCount:  rowCount,
		Truncated: rowCount > e.maxRows,
	}
}

// fail records a backend failure. The MySQL error number is logged when
// the driver reports one; the result keeps the raw error text.
func fail(err error) *state.ExecutionResult {
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		log.Printf("sqlexec: query failed (mysql error %d)", myErr.Number)
	}
	return &state.ExecutionResult{Success: false, Error: err.Error()}
}

// normalize converts driver byte slices to strings so results serialize
// cleanly to JSON and prompts.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Ping verifies the backend connection, used by startup checks.
func (e *Executor) Ping(ctx context.Context) error {
	db, err := e.db.DB()
	if err != nil {
		return fmt.Errorf("sqlexec: backend handle: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlexec: ping: %w", err)
	}
	return nil
}
