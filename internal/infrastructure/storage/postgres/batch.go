package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"concreterp/internal/core/id"
)

// MaxRowsPerInsert bounds one multi-row INSERT; PostgreSQL allows at most
// 65535 bind parameters per statement.
const MaxRowsPerInsert = 500

// Builder returns a squirrel builder with PostgreSQL placeholders.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// StructRows converts items into rows ordered like columns, using "db" tags.
// Nil ids are written as NULL.
func StructRows[T any](items []T, columns []string) [][]any {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		m := StructToMap(it)
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = m[col]
			if v, ok := row[i].(id.ID); ok && id.IsNil(v) {
				row[i] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// BuildBulkInserts splits rows into multi-row INSERT statements.
func BuildBulkInserts(table string, columns []string, rows [][]any) ([]squirrel.InsertBuilder, error) {
	var out []squirrel.InsertBuilder
	for start := 0; start < len(rows); start += MaxRowsPerInsert {
		end := min(start+MaxRowsPerInsert, len(rows))
		q := Builder().Insert(table).Columns(columns...)
		for _, row := range rows[start:end] {
			if len(row) != len(columns) {
				return nil, fmt.Errorf("insert %s: row has %d values for %d columns", table, len(row), len(columns))
			}
			q = q.Values(row...)
		}
		out = append(out, q)
	}
	return out, nil
}

// BulkInsert inserts every item of a struct slice into table.
func BulkInsert[T any](ctx context.Context, q Querier, table string, columns []string, items []T) error {
	if len(items) == 0 {
		return nil
	}
	stmts, err := BuildBulkInserts(table, columns, StructRows(items, columns))
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		sql, args, err := stmt.ToSql()
		if err != nil {
			return fmt.Errorf("build insert %s: %w", table, err)
		}
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

// BatchQuery is one statement of ExecBatch.
type BatchQuery struct {
	SQL  string
	Args []any
}

// ExecBatch sends the queries in a single round-trip and checks every result.
func ExecBatch(ctx context.Context, q Querier, queries []BatchQuery) error {
	if len(queries) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, bq := range queries {
		b.Queue(bq.SQL, bq.Args...)
	}

	results := q.SendBatch(ctx, b)
	defer results.Close()

	for i := range queries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch query %d failed: %w", i, err)
		}
	}
	return nil
}
