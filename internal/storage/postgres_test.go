package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/oakbridge/recordsync/internal/record"
	"github.com/oakbridge/recordsync/internal/source"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16",
		postgres.WithDatabase("recordsync"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		panic(fmt.Sprintf("start postgres container: %v", err))
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(fmt.Sprintf("get connection string: %v", err))
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("create pool: %v", err))
	}
	if err := RunMigrations(ctx, testPool); err != nil {
		panic(fmt.Sprintf("run migrations: %v", err))
	}

	code := m.Run()

	testPool.Close()
	_ = ctr.Terminate(ctx)

	os.Exit(code)
}

func testStore() *PostgresRecordStore {
	return NewPostgresRecordStore(testPool, 5*time.Second)
}

var collectionCounter int

// freshCollection returns a collection id unused by any other test, since
// all tests share one records table.
func freshCollection(t *testing.T) string {
	t.Helper()
	collectionCounter++
	return fmt.Sprintf("col_%s_%d", t.Name(), collectionCounter)
}

func at(h int) time.Time {
	return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC)
}

func TestInsertRecord(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	r, err := store.InsertRecord(ctx, collection, uuid.Nil, json.RawMessage(`{"value":12}`), at(0))
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if r.AddedID == 0 {
		t.Error("expected non-zero AddedID")
	}
	if r.ID == uuid.Nil {
		t.Error("expected a generated record id")
	}
	if r.Collection != collection {
		t.Errorf("Collection = %q, want %q", r.Collection, collection)
	}
}

func TestInsertRecord_DuplicateID(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)
	id := uuid.New()

	if _, err := store.InsertRecord(ctx, collection, id, json.RawMessage(`{}`), at(0)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := store.InsertRecord(ctx, collection, id, json.RawMessage(`{}`), at(1)); err == nil {
		t.Fatal("expected error on duplicate (collection, id)")
	}
}

func TestGetRecord(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	written, err := store.InsertRecord(ctx, collection, uuid.Nil, json.RawMessage(`{"value":3}`), at(0))
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	got, err := store.GetRecord(ctx, collection, written.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.AddedID != written.AddedID {
		t.Errorf("AddedID = %d, want %d", got.AddedID, written.AddedID)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	store := testStore()
	if _, err := store.GetRecord(context.Background(), freshCollection(t), uuid.New()); err != ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestDeleteRecord(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	written, err := store.InsertRecord(ctx, collection, uuid.Nil, json.RawMessage(`{}`), at(0))
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := store.DeleteRecord(ctx, collection, written.ID); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}

	if _, err := store.GetRecord(ctx, collection, written.ID); err != ErrRecordNotFound {
		t.Errorf("record still readable after delete: %v", err)
	}

	page, err := store.FetchPage(ctx, collection, "", nil, record.Interval{}, 10)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Deleted) != 1 || page.Deleted[0].ID != written.ID {
		t.Errorf("expected one tombstone for %s, got %+v", written.ID, page.Deleted)
	}
}

func TestDeleteRecord_NotFound(t *testing.T) {
	store := testStore()
	if err := store.DeleteRecord(context.Background(), freshCollection(t), uuid.New()); err != ErrRecordNotFound {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestListRecords_Paging(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	for i := 0; i < 5; i++ {
		if _, err := store.InsertRecord(ctx, collection, uuid.Nil,
			json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)), at(i)); err != nil {
			t.Fatalf("InsertRecord %d: %v", i, err)
		}
	}

	first, next, err := store.ListRecords(ctx, collection, nil, 3)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("first page = %d records, want 3", len(first))
	}
	if next == nil {
		t.Fatal("expected a next anchor on a full page")
	}

	second, _, err := store.ListRecords(ctx, collection, next, 3)
	if err != nil {
		t.Fatalf("ListRecords second page: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second page = %d records, want 2", len(second))
	}
	if second[0].AddedID <= first[2].AddedID {
		t.Error("second page does not continue past the first")
	}
}

func TestFetchPage_AnchoredPaging(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	for i := 0; i < 5; i++ {
		if _, err := store.InsertRecord(ctx, collection, uuid.Nil,
			json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)), at(i)); err != nil {
			t.Fatalf("InsertRecord %d: %v", i, err)
		}
	}

	var anchor []byte
	var total int
	for fetches := 0; ; fetches++ {
		if fetches > 10 {
			t.Fatal("fetch loop did not terminate")
		}
		page, err := store.FetchPage(ctx, collection, "", anchor, record.Interval{}, 2)
		if err != nil {
			t.Fatalf("FetchPage: %v", err)
		}
		if page.Empty() {
			break
		}
		total += len(page.Added)
		anchor = page.NewAnchor
	}
	if total != 5 {
		t.Errorf("fetched %d records across pages, want 5", total)
	}
}

func TestFetchPage_CorruptAnchorRestartsFromBeginning(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	for i := 0; i < 3; i++ {
		if _, err := store.InsertRecord(ctx, collection, uuid.Nil,
			json.RawMessage(`{}`), at(i)); err != nil {
			t.Fatalf("InsertRecord %d: %v", i, err)
		}
	}

	// A persisted anchor that no longer parses must not fail the fetch; it
	// serves the whole collection again, as on first run.
	page, err := store.FetchPage(ctx, collection, "", []byte("!!not-base64!!"), record.Interval{}, 100)
	if err != nil {
		t.Fatalf("FetchPage with corrupt anchor: %v", err)
	}
	if len(page.Added) != 3 {
		t.Errorf("expected all 3 records after anchor reset, got %d", len(page.Added))
	}
}

func TestFetchPage_IntervalBound(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	for i := 0; i < 6; i++ {
		if _, err := store.InsertRecord(ctx, collection, uuid.Nil,
			json.RawMessage(`{}`), at(i)); err != nil {
			t.Fatalf("InsertRecord %d: %v", i, err)
		}
	}

	// Half-open window: hours [2, 4) only.
	page, err := store.FetchPage(ctx, collection, "", nil,
		record.Interval{Start: at(2), End: at(4)}, 100)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Added) != 2 {
		t.Fatalf("expected 2 records inside the window, got %d", len(page.Added))
	}
	for _, r := range page.Added {
		if r.RecordedAt.Before(at(2)) || !r.RecordedAt.Before(at(4)) {
			t.Errorf("record at %s outside [%s, %s)", r.RecordedAt, at(2), at(4))
		}
	}
}

func TestFetchPage_Predicate(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	bodies := []string{`{"kind":"run","value":1}`, `{"kind":"walk","value":2}`, `{"kind":"run","value":3}`}
	for i, b := range bodies {
		if _, err := store.InsertRecord(ctx, collection, uuid.Nil, json.RawMessage(b), at(i)); err != nil {
			t.Fatalf("InsertRecord %d: %v", i, err)
		}
	}

	page, err := store.FetchPage(ctx, collection, `{"kind":"run"}`, nil, record.Interval{}, 100)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Added) != 2 {
		t.Errorf("expected 2 matching records, got %d", len(page.Added))
	}
}

func TestFetchAggregate(t *testing.T) {
	store := testStore()
	ctx := context.Background()
	collection := freshCollection(t)

	// Two records in hour 0, one in hour 1.
	for _, r := range []struct {
		value int
		hour  int
	}{{10, 0}, {20, 0}, {5, 1}} {
		if _, err := store.InsertRecord(ctx, collection, uuid.Nil,
			json.RawMessage(fmt.Sprintf(`{"value":%d}`, r.value)), at(r.hour)); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
	}
	iv := record.Interval{Start: at(0), End: at(2)}

	sums, err := store.FetchAggregate(ctx, collection, iv, time.Hour, source.AggregateSum)
	if err != nil {
		t.Fatalf("FetchAggregate sum: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(sums))
	}
	if sums[0].Value != 30 || sums[1].Value != 5 {
		t.Errorf("sums = [%v %v], want [30 5]", sums[0].Value, sums[1].Value)
	}

	counts, err := store.FetchAggregate(ctx, collection, iv, time.Hour, source.AggregateCount)
	if err != nil {
		t.Fatalf("FetchAggregate count: %v", err)
	}
	if len(counts) != 2 || counts[0].Value != 2 || counts[1].Value != 1 {
		t.Errorf("counts = %+v, want [2 1]", counts)
	}

	if _, err := store.FetchAggregate(ctx, collection, iv, time.Hour, "median"); err == nil {
		t.Error("expected error for unknown aggregate kind")
	}
	if _, err := store.FetchAggregate(ctx, collection, iv, 0, source.AggregateSum); err == nil {
		t.Error("expected error for zero granularity")
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	if err := RunMigrations(ctx, testPool); err != nil {
		t.Fatalf("second RunMigrations: %v", err)
	}
}

func TestRunPluginMigration(t *testing.T) {
	ctx := context.Background()
	if err := RunPluginMigration(ctx, testPool); err != nil {
		t.Fatalf("RunPluginMigration: %v", err)
	}

	_, err := testPool.Exec(ctx, `
		INSERT INTO plugins (id, name, endpoint, collections, status)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), fmt.Sprintf("test-plugin-%d", time.Now().UnixNano()),
		"http://localhost:9090", []string{"steps"}, "active")
	if err != nil {
		t.Fatalf("insert into plugins: %v", err)
	}

	if err := RunPluginMigration(ctx, testPool); err != nil {
		t.Fatalf("second RunPluginMigration: %v", err)
	}
}
