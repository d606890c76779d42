// Package numerator provides the PostgreSQL implementation of order numbering.
// It implements core/numerator.Generator.
package numerator

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	corenumerator "concreterp/internal/core/numerator"
)

// Querier is the subset of pgx the service needs; both the pool and a
// transaction satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFunc resolves the querier for a call, e.g. TxManager.GetQuerier.
type QuerierFunc func(ctx context.Context) Querier

// Service hands out order numbers from sys_sequences, one sequence per plant
// and day.
type Service struct {
	querier QuerierFunc
}

var _ corenumerator.Generator = (*Service)(nil)

// New creates a numerator that always uses q.
func New(q Querier) *Service {
	return &Service{querier: func(context.Context) Querier { return q }}
}

// NewFromQuerierFunc creates a numerator that resolves its querier per call,
// so numbers are reserved inside the caller's transaction.
func NewFromQuerierFunc(fn QuerierFunc) *Service {
	return &Service{querier: fn}
}

// Plant codes may contain LIKE wildcards, so the prefix is matched literally.
const existingNumbersSQL = `SELECT order_number FROM orders WHERE starts_with(order_number, $1)`

// The sequence row is seeded from the orders already numbered for the day and
// never moves backwards, so numbers inserted by other means are skipped.
const reserveSQL = `INSERT INTO sys_sequences (key, current_val)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET current_val = GREATEST(sys_sequences.current_val + 1, EXCLUDED.current_val)
RETURNING current_val`

// NextOrderNumber reserves the next {plantCode}-{YYMMDD}-{seq} number.
func (s *Service) NextOrderNumber(ctx context.Context, plantCode string, day time.Time) (string, error) {
	if plantCode == "" {
		return "", fmt.Errorf("plant code is required")
	}
	prefix := corenumerator.DayPrefix(plantCode, day)
	q := s.querier(ctx)

	rows, err := q.Query(ctx, existingNumbersSQL, prefix+"-")
	if err != nil {
		return "", fmt.Errorf("load existing order numbers: %w", err)
	}
	existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("scan existing order numbers: %w", err)
	}

	var seq int64
	seed := corenumerator.NextFromExisting(prefix, existing)
	if err := q.QueryRow(ctx, reserveSQL, prefix, seed).Scan(&seq); err != nil {
		return "", fmt.Errorf("reserve order number: %w", err)
	}
	return corenumerator.Format(plantCode, day, seq), nil
}
