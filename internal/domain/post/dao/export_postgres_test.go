package dao

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
)

type fakeDB struct {
	execs   []string
	batch   *pgx.Batch
	failAt  int // 1-based batch statement that fails, 0 for none
	results *fakeResults
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.batch = b
	f.results = &fakeResults{failAt: f.failAt}
	return f.results
}

type fakeResults struct {
	n      int
	failAt int
	closed bool
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.n++
	if r.n == r.failAt {
		return pgconn.CommandTag{}, errors.New("constraint violation")
	}
	return pgconn.CommandTag{}, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not used") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error {
	r.closed = true
	return nil
}

func exportFixture(t *testing.T) *PostMemory {
	t.Helper()
	store := NewPostMemory(WithClock(func() time.Time { return time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC) }))
	ctx := context.Background()
	for _, name := range []string{"a.jpg", "b.jpg"} {
		if _, _, err := store.QueueFile(ctx, QueueInput{Filename: name, MediaRef: "http://m/" + name}); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestExportUpsertsEveryPost(t *testing.T) {
	store := exportFixture(t)
	db := &fakeDB{}
	exp := NewExportPostgres(db, store)

	n, err := exp.Export(context.Background())
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported %d, want 2", n)
	}
	if db.batch.Len() != 3 {
		t.Fatalf("batch has %d statements, want 2 upserts and 1 removal sweep", db.batch.Len())
	}
	first := db.batch.QueuedQueries[0]
	if !strings.Contains(first.SQL, "ON CONFLICT (id) DO UPDATE") {
		t.Fatalf("unexpected upsert: %s", first.SQL)
	}
	if first.Arguments[1] != "a.jpg" || first.Arguments[5] != string(entity.StatusQueued) {
		t.Fatalf("arguments = %v", first.Arguments)
	}
	sweep := db.batch.QueuedQueries[2]
	ids, ok := sweep.Arguments[0].([]string)
	if !ok || len(ids) != 2 {
		t.Fatalf("sweep ids = %v", sweep.Arguments[0])
	}
	if !db.results.closed {
		t.Fatal("batch results must be closed")
	}
}

func TestExportReportsBatchFailure(t *testing.T) {
	store := exportFixture(t)
	db := &fakeDB{failAt: 2}

	if _, err := NewExportPostgres(db, store).Export(context.Background()); err == nil {
		t.Fatal("expected an export error")
	}
	if !db.results.closed {
		t.Fatal("batch results must be closed on failure")
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	if err := NewExportPostgres(db, exportFixture(t)).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS post_snapshots") {
		t.Fatalf("execs = %v", db.execs)
	}
}
