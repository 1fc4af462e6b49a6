package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by Store.Check when no cached result exists
// for a key.
var ErrNotFound = errors.New("idempotency: key not found")

// Store abstracts the durable idempotency table, following the adapter
// pattern the teacher uses throughout internal/datastore and
// internal/store: a Postgres-backed implementation for production, a
// mock for tests.
type Store interface {
	// Check looks up a prior result for key. Returns ErrNotFound if
	// none exists.
	Check(ctx context.Context, key string) (CachedResult, error)

	// Record inserts a new cached result. It is a no-op (not an error)
	// if the key already exists, matching INSERT ... ON CONFLICT DO
	// NOTHING semantics.
	Record(ctx context.Context, result CachedResult) error

	// RecordWithViewState atomically inserts the idempotency row and its
	// paired view-state-change row, so a crash between the two can never
	// leave one without the other (§6.3). Returns WasCached=true and the
	// existing row's view-state change if the key was already present.
	// Implementations that persist vs's content themselves (PostgresStore)
	// report ContentPersisted=true so the caller does not insert it again.
	RecordWithViewState(ctx context.Context, result CachedResult, vs ViewStateInput) (AtomicRecordResult, error)

	// ClearByExecutionID removes all cached results for an execution, so
	// a later run under the same id executes every step again. dslctl's
	// replay command does not call it.
	ClearByExecutionID(ctx context.Context, executionID string) error
}

// idempotencyRow mirrors the "dsl-ob-poc".idempotency_keys table,
// scanned via sqlx the way the teacher's internal/store package scans
// rows with `db:` struct tags.
type idempotencyRow struct {
	IdempotencyKey  string         `db:"idempotency_key"`
	ExecutionID     string         `db:"execution_id"`
	StatementIndex  int            `db:"statement_index"`
	ResultType      string         `db:"result_type"`
	ResultJSON      []byte         `db:"result_json"`
	ViewStateChange sql.NullString `db:"view_state_change_id"`
	RecordedAt      string         `db:"recorded_at"`
}

// ViewStateInput is the view-state-change content RecordWithViewState
// needs in order to insert it in the same transaction as the
// idempotency row, rather than as a later, separate write.
type ViewStateInput struct {
	ID         string
	EntityType string
	EntityID   string
	ChangeType string
	Before     json.RawMessage
	After      json.RawMessage
}

func (r idempotencyRow) toCachedResult() CachedResult {
	return CachedResult{
		IdempotencyKey:  r.IdempotencyKey,
		ExecutionID:     r.ExecutionID,
		StatementIndex:  r.StatementIndex,
		ResultType:      ResultType(r.ResultType),
		ResultJSON:      json.RawMessage(r.ResultJSON),
		ViewStateChange: r.ViewStateChange.String,
		RecordedAt:      r.RecordedAt,
	}
}

// PostgresStore implements Store against "dsl-ob-poc".idempotency_keys,
// using sqlx for struct-scanned reads the way internal/store/store.go
// uses lib/pq for its connection but hand-rolled Scan calls; this
// component instead exercises sqlx (declared in the teacher's go.mod
// but never imported at the root), per SPEC_FULL.md §11.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Check(ctx context.Context, key string) (CachedResult, error) {
	var row idempotencyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT idempotency_key, execution_id, statement_index, result_type,
		       result_json, view_state_change_id, recorded_at
		FROM "dsl-ob-poc".idempotency_keys
		WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedResult{}, ErrNotFound
	}
	if err != nil {
		return CachedResult{}, fmt.Errorf("checking idempotency key %s: %w", key, err)
	}
	return row.toCachedResult(), nil
}

func (s *PostgresStore) Record(ctx context.Context, result CachedResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO "dsl-ob-poc".idempotency_keys
			(idempotency_key, execution_id, statement_index, result_type, result_json, view_state_change_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (idempotency_key) DO NOTHING`,
		result.IdempotencyKey, result.ExecutionID, result.StatementIndex,
		string(result.ResultType), []byte(result.ResultJSON), nullIfEmpty(result.ViewStateChange))
	if err != nil {
		return fmt.Errorf("recording idempotency key %s: %w", result.IdempotencyKey, err)
	}
	return nil
}

// RecordWithViewState calls the "dsl-ob-poc".record_execution_with_view_state
// stored procedure (§6.3), passing vs's full content (not just its id) so
// the procedure inserts both the idempotency row and the view-state-change
// row itself, in one transaction. There is no second, separate insert on
// this path: a crash can never leave the idempotency row without its
// paired view-state content, or vice versa.
func (s *PostgresStore) RecordWithViewState(ctx context.Context, result CachedResult, vs ViewStateInput) (AtomicRecordResult, error) {
	var out AtomicRecordResult
	row := s.db.QueryRowxContext(ctx, `
		SELECT idempotency_key, view_state_change_id, was_cached, recorded_at
		FROM "dsl-ob-poc".record_execution_with_view_state($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		result.IdempotencyKey, result.ExecutionID, result.StatementIndex,
		string(result.ResultType), []byte(result.ResultJSON),
		vs.ID, vs.EntityType, vs.EntityID, vs.ChangeType, []byte(vs.Before), []byte(vs.After))
	if err := row.Scan(&out.IdempotencyKey, &out.ViewStateChange, &out.WasCached, &out.RecordedAt); err != nil {
		return AtomicRecordResult{}, fmt.Errorf("atomic record for %s: %w", result.IdempotencyKey, err)
	}
	out.ContentPersisted = true
	return out, nil
}

func (s *PostgresStore) ClearByExecutionID(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM "dsl-ob-poc".idempotency_keys WHERE execution_id = $1`, executionID)
	if err != nil {
		return fmt.Errorf("clearing idempotency keys for execution %s: %w", executionID, err)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// MockStore is an in-memory Store for tests and mock mode, matching the
// mutex-guarded map shape used across the engine's other mock adapters.
type MockStore struct {
	mu      sync.Mutex
	results map[string]CachedResult
}

func NewMockStore() *MockStore {
	return &MockStore{results: make(map[string]CachedResult)}
}

func (s *MockStore) Check(ctx context.Context, key string) (CachedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[key]
	if !ok {
		return CachedResult{}, ErrNotFound
	}
	return r, nil
}

func (s *MockStore) Record(ctx context.Context, result CachedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.results[result.IdempotencyKey]; exists {
		return nil
	}
	s.results[result.IdempotencyKey] = result
	return nil
}

// RecordWithViewState only tracks vs.ID against the idempotency row; it
// has no view_state_changes table of its own to write into, so
// ContentPersisted is always false and the caller (Recorder) is
// responsible for inserting vs's content into its audit.Store.
func (s *MockStore) RecordWithViewState(ctx context.Context, result CachedResult, vs ViewStateInput) (AtomicRecordResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.results[result.IdempotencyKey]; exists {
		return AtomicRecordResult{IdempotencyKey: existing.IdempotencyKey, ViewStateChange: existing.ViewStateChange, WasCached: true, RecordedAt: existing.RecordedAt}, nil
	}
	result.ViewStateChange = vs.ID
	s.results[result.IdempotencyKey] = result
	return AtomicRecordResult{IdempotencyKey: result.IdempotencyKey, ViewStateChange: vs.ID, WasCached: false}, nil
}

func (s *MockStore) ClearByExecutionID(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.results {
		if v.ExecutionID == executionID {
			delete(s.results, k)
		}
	}
	return nil
}
