package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"dsl-ob-poc/internal/engine/idempotency"
)

// failingViews is an audit.Store whose Insert fails the test if called.
// Used to prove the Postgres Recorder path never performs a second,
// separate content write outside record_execution_with_view_state's own
// transaction.
type failingViews struct {
	t *testing.T
}

func (f failingViews) Insert(ctx context.Context, vs ViewState) (string, error) {
	f.t.Fatalf("unexpected separate content insert for a Postgres-backed idempotency store: %+v", vs)
	return "", nil
}

func (f failingViews) ByID(ctx context.Context, id string) (ViewState, error) {
	return ViewState{}, ErrNotFound
}

func (f failingViews) ByExecutionID(ctx context.Context, executionID string) ([]ViewState, error) {
	return nil, nil
}

func (f failingViews) ByAffectedEntity(ctx context.Context, entityType, entityID string) ([]ViewState, error) {
	return nil, nil
}

func (f failingViews) ByIdempotencyKey(ctx context.Context, key string) (ViewState, error) {
	return ViewState{}, ErrNotFound
}

func TestRecorderPostgresPathInsertsContentExactlyOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("opening sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	idemStore := idempotency.NewPostgresStore(sqlxDB)
	recorder := NewRecorder(idemStore, failingViews{t: t})

	payload := json.RawMessage(`{"ok":true}`)
	rows := sqlmock.NewRows([]string{"idempotency_key", "view_state_change_id", "was_cached", "recorded_at"}).
		AddRow("key-1", "vs-1", false, "2026-07-31T00:00:00Z")
	mock.ExpectQuery(`SELECT idempotency_key, view_state_change_id, was_cached, recorded_at`).
		WithArgs("key-1", "exec-1", 0, "cbu_created", []byte(payload), "vs-1", "cbu", "abc", "created", []byte(nil), []byte(payload)).
		WillReturnRows(rows)

	result := idempotency.CachedResult{
		IdempotencyKey: "key-1", ExecutionID: "exec-1", StatementIndex: 0,
		ResultType: idempotency.ResultCbuCreated, ResultJSON: payload,
	}
	vs := ViewState{ID: "vs-1", EntityType: "cbu", EntityID: "abc", ChangeType: "created", After: payload}

	atomic, got, err := recorder.RecordExecution(context.Background(), result, vs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.WasCached {
		t.Fatalf("expected a fresh record, not a cache hit")
	}
	if !atomic.ContentPersisted {
		t.Errorf("expected the Postgres path to report ContentPersisted=true")
	}
	if got.ID != "vs-1" || got.RecordedAt != "2026-07-31T00:00:00Z" {
		t.Errorf("unexpected returned view state: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecorderPostgresPathReplayLoadsExistingContent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("opening sqlmock: %v", err)
	}
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "postgres")

	idemStore := idempotency.NewPostgresStore(sqlxDB)
	views := NewMockStore()
	views.Insert(context.Background(), ViewState{ID: "vs-1", EntityType: "cbu", EntityID: "abc", ChangeType: "created"})
	recorder := NewRecorder(idemStore, views)

	payload := json.RawMessage(`{"ok":true}`)
	rows := sqlmock.NewRows([]string{"idempotency_key", "view_state_change_id", "was_cached", "recorded_at"}).
		AddRow("key-1", "vs-1", true, "2026-07-31T00:00:00Z")
	mock.ExpectQuery(`SELECT idempotency_key, view_state_change_id, was_cached, recorded_at`).
		WillReturnRows(rows)

	result := idempotency.CachedResult{IdempotencyKey: "key-1", ExecutionID: "exec-1", ResultType: idempotency.ResultCbuCreated, ResultJSON: payload}
	vs := ViewState{ID: "vs-1", EntityType: "cbu", EntityID: "abc", ChangeType: "created", After: payload}

	atomic, got, err := recorder.RecordExecution(context.Background(), result, vs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !atomic.WasCached {
		t.Fatalf("expected a cache hit")
	}
	if got.ID != "vs-1" {
		t.Errorf("expected the existing view state to be loaded by id, got %+v", got)
	}
}
