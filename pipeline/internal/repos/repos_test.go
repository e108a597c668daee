package repos

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/events"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls    []execCall
	affected int64
	err      error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 " + strconv.FormatInt(f.affected, 10)), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

// QueryRow answers single-count statements with affected.
func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return countRow{n: f.affected, err: f.err}
}

type countRow struct {
	n   int64
	err error
}

func (r countRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int) = int(r.n)
	return nil
}

func TestEnsureSchemaRunsEveryStatement(t *testing.T) {
	db := &fakeDB{}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if len(db.calls) != len(schema) {
		t.Fatalf("expected %d statements, got %d", len(schema), len(db.calls))
	}
	for _, c := range db.calls {
		if !strings.Contains(c.sql, "IF NOT EXISTS") {
			t.Fatalf("schema statements must be re-runnable: %s", c.sql)
		}
	}
}

func TestEnsureSchemaStopsOnError(t *testing.T) {
	db := &fakeDB{err: errors.New("permission denied")}
	if err := EnsureSchema(context.Background(), db); err == nil {
		t.Fatalf("expected error")
	}
	if len(db.calls) != 1 {
		t.Fatalf("expected to stop after the first failure, got %d calls", len(db.calls))
	}
}

func TestWritesAreConflictSafe(t *testing.T) {
	db := &fakeDB{affected: 1}
	graph := NewGraphRepo(db)
	analytics := NewAnalyticsRepo(db)
	ctx := context.Background()

	if _, err := graph.RecordInteraction(ctx, jobs.GraphData{EventID: "e1", ProductID: "p1", EventType: events.ProductViewed}); err != nil {
		t.Fatalf("interaction: %v", err)
	}
	if _, err := graph.RecordOrder(ctx, jobs.GraphData{EventID: "e2", OrderID: "o1", Items: []events.OrderItem{{ProductID: "a", Quantity: 2}}}); err != nil {
		t.Fatalf("order: %v", err)
	}
	if _, err := graph.RecordCoPurchase(ctx, jobs.GraphData{OrderID: "o1", ProductID: "a", RelatedProductID: "b"}); err != nil {
		t.Fatalf("co-purchase: %v", err)
	}
	if _, err := analytics.Insert(ctx, jobs.AnalyticsData{EventID: "e1", Properties: map[string]any{"q": "lamp"}}); err != nil {
		t.Fatalf("analytics: %v", err)
	}
	for _, c := range db.calls {
		if !strings.Contains(c.sql, "ON CONFLICT") {
			t.Fatalf("write must tolerate replays: %s", c.sql)
		}
	}
	if got := db.calls[3].args[5]; got != `{"q":"lamp"}` {
		t.Fatalf("unexpected properties argument: %v", got)
	}
}

func TestReplayReportsNoWrite(t *testing.T) {
	db := &fakeDB{affected: 0}
	written, err := NewGraphRepo(db).RecordInteraction(context.Background(), jobs.GraphData{EventID: "e1", ProductID: "p1"})
	if err != nil || written {
		t.Fatalf("expected no write on conflict, got written=%v err=%v", written, err)
	}
}

func TestMissingKeysAreRejected(t *testing.T) {
	db := &fakeDB{}
	graph := NewGraphRepo(db)
	ctx := context.Background()
	if _, err := graph.RecordInteraction(ctx, jobs.GraphData{EventID: "e1"}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if _, err := graph.RecordOrder(ctx, jobs.GraphData{EventID: "e1"}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if _, err := graph.RecordCoPurchase(ctx, jobs.GraphData{OrderID: "o1", ProductID: "a"}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if _, err := NewAnalyticsRepo(db).Insert(ctx, jobs.AnalyticsData{}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if len(db.calls) != 0 {
		t.Fatalf("rejected writes must not reach the database")
	}
}

func TestRecordOrderReportsTheOrderRow(t *testing.T) {
	ctx := context.Background()
	order := jobs.GraphData{EventID: "e3", OrderID: "o2"}

	written, err := NewGraphRepo(&fakeDB{affected: 1}).RecordOrder(ctx, order)
	if err != nil || !written {
		t.Fatalf("expected an order without items to count as written, got written=%v err=%v", written, err)
	}
	db := &fakeDB{affected: 0}
	written, err = NewGraphRepo(db).RecordOrder(ctx, order)
	if err != nil || written {
		t.Fatalf("expected replayed order to report no write, got written=%v err=%v", written, err)
	}
	if !strings.Contains(db.calls[0].sql, "SELECT count(*) FROM o") {
		t.Fatalf("order write must count the order row: %s", db.calls[0].sql)
	}
}
