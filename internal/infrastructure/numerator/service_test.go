package numerator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRow struct {
	val int64
	err error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.val
	return nil
}

type mockRows struct {
	values []string
	pos    int
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return nil }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	*dest[0].(*string) = r.values[r.pos-1]
	return nil
}

func (r *mockRows) Values() ([]any, error) {
	return []any{r.values[r.pos-1]}, nil
}

// mockQuerier emulates the sys_sequences upsert in memory.
type mockQuerier struct {
	orders    []string
	seqs      map[string]int64
	rowErr    error
	lastQuery string
	lastArgs  []any
	listQuery string
	listArgs  []any
}

func (m *mockQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.listQuery = sql
	m.listArgs = args
	return &mockRows{values: m.orders}, nil
}

func (m *mockQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	m.lastQuery = sql
	m.lastArgs = args
	if m.rowErr != nil {
		return &mockRow{err: m.rowErr}
	}
	key := args[0].(string)
	seed := args[1].(int64)
	cur, ok := m.seqs[key]
	if !ok {
		m.seqs[key] = seed
	} else {
		m.seqs[key] = max(cur+1, seed)
	}
	return &mockRow{val: m.seqs[key]}
}

func newMock(orders ...string) *mockQuerier {
	return &mockQuerier{orders: orders, seqs: map[string]int64{}}
}

func TestNextOrderNumber_Sequential(t *testing.T) {
	q := newMock()
	svc := New(q)
	day := time.Date(2024, 1, 6, 9, 30, 0, 0, time.UTC)

	first, err := svc.NextOrderNumber(context.Background(), "P1", day)
	require.NoError(t, err)
	second, err := svc.NextOrderNumber(context.Background(), "P1", day)
	require.NoError(t, err)

	assert.Equal(t, "P1-240106-001", first)
	assert.Equal(t, "P1-240106-002", second)
	assert.Equal(t, "P1-240106", q.lastArgs[0])
	assert.Contains(t, q.lastQuery, "ON CONFLICT (key)")
}

func TestNextOrderNumber_ScopedPerPlantAndDay(t *testing.T) {
	svc := New(newMock())
	ctx := context.Background()
	day := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)

	_, err := svc.NextOrderNumber(ctx, "P1", day)
	require.NoError(t, err)

	other, err := svc.NextOrderNumber(ctx, "P2", day)
	require.NoError(t, err)
	nextDay, err := svc.NextOrderNumber(ctx, "P1", day.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, "P2-240106-001", other)
	assert.Equal(t, "P1-240107-001", nextDay)
}

func TestNextOrderNumber_SeedsFromExistingOrders(t *testing.T) {
	q := newMock("P1-240106-004", "P1-240106-009", "P1-240105-050")
	svc := New(q)

	n, err := svc.NextOrderNumber(context.Background(), "P1", time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "P1-240106-010", n)
	assert.Equal(t, int64(10), q.lastArgs[1])
}

func TestNextOrderNumber_Errors(t *testing.T) {
	_, err := New(newMock()).NextOrderNumber(context.Background(), "", time.Now())
	assert.Error(t, err)

	q := newMock()
	q.rowErr = errors.New("connection reset")
	_, err = New(q).NextOrderNumber(context.Background(), "P1", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserve order number")
}

func TestNextOrderNumber_PrefixMatchedLiterally(t *testing.T) {
	q := newMock("P_1-240106-003", "P%1-240106-007")
	svc := New(q)

	n, err := svc.NextOrderNumber(context.Background(), "P_1", time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "P_1-240106-004", n)
	assert.Contains(t, q.listQuery, "starts_with(order_number, $1)")
	assert.NotContains(t, q.listQuery, "LIKE")
	assert.Equal(t, []any{"P_1-240106-"}, q.listArgs)
}
