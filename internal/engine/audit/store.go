package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("audit: view state not found")

// viewStateRow mirrors "dsl-ob-poc".view_state_changes, scanned via
// sqlx the same way idempotency.PostgresStore scans its rows.
type viewStateRow struct {
	ID             string `db:"id"`
	ExecutionID    string `db:"execution_id"`
	StatementIndex int    `db:"statement_index"`
	EntityType     string `db:"entity_type"`
	EntityID       string `db:"entity_id"`
	ChangeType     string `db:"change_type"`
	Before         []byte `db:"before_json"`
	After          []byte `db:"after_json"`
	RecordedAt     string `db:"recorded_at"`
}

func (r viewStateRow) toViewState() ViewState {
	return ViewState{
		ID: r.ID, ExecutionID: r.ExecutionID, StatementIndex: r.StatementIndex,
		EntityType: r.EntityType, EntityID: r.EntityID, ChangeType: r.ChangeType,
		Before: r.Before, After: r.After, RecordedAt: r.RecordedAt,
	}
}

// PostgresStore implements Store against "dsl-ob-poc".view_state_changes.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, vs ViewState) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO "dsl-ob-poc".view_state_changes
			(id, execution_id, statement_index, entity_type, entity_id, change_type, before_json, after_json, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		vs.ID, vs.ExecutionID, vs.StatementIndex, vs.EntityType, vs.EntityID, vs.ChangeType,
		[]byte(vs.Before), []byte(vs.After))
	if err != nil {
		return "", fmt.Errorf("inserting view state %s: %w", vs.ID, err)
	}
	return vs.ID, nil
}

func (s *PostgresStore) ByID(ctx context.Context, id string) (ViewState, error) {
	var row viewStateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, execution_id, statement_index, entity_type, entity_id, change_type, before_json, after_json, recorded_at
		FROM "dsl-ob-poc".view_state_changes
		WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ViewState{}, ErrNotFound
	}
	if err != nil {
		return ViewState{}, fmt.Errorf("querying view state %s: %w", id, err)
	}
	return row.toViewState(), nil
}

func (s *PostgresStore) ByExecutionID(ctx context.Context, executionID string) ([]ViewState, error) {
	var rows []viewStateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, execution_id, statement_index, entity_type, entity_id, change_type, before_json, after_json, recorded_at
		FROM "dsl-ob-poc".view_state_changes
		WHERE execution_id = $1
		ORDER BY statement_index ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("querying view states for execution %s: %w", executionID, err)
	}
	out := make([]ViewState, len(rows))
	for i, r := range rows {
		out[i] = r.toViewState()
	}
	return out, nil
}

func (s *PostgresStore) ByAffectedEntity(ctx context.Context, entityType, entityID string) ([]ViewState, error) {
	var rows []viewStateRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, execution_id, statement_index, entity_type, entity_id, change_type, before_json, after_json, recorded_at
		FROM "dsl-ob-poc".view_state_changes
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY recorded_at ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying view states for entity %s/%s: %w", entityType, entityID, err)
	}
	out := make([]ViewState, len(rows))
	for i, r := range rows {
		out[i] = r.toViewState()
	}
	return out, nil
}

func (s *PostgresStore) ByIdempotencyKey(ctx context.Context, key string) (ViewState, error) {
	var row viewStateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT v.id, v.execution_id, v.statement_index, v.entity_type, v.entity_id, v.change_type, v.before_json, v.after_json, v.recorded_at
		FROM "dsl-ob-poc".view_state_changes v
		JOIN "dsl-ob-poc".idempotency_keys i ON i.view_state_change_id = v.id
		WHERE i.idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return ViewState{}, ErrNotFound
	}
	if err != nil {
		return ViewState{}, fmt.Errorf("querying view state for idempotency key %s: %w", key, err)
	}
	return row.toViewState(), nil
}

// MockStore is an in-memory Store for tests and mock mode.
type MockStore struct {
	mu          sync.Mutex
	byID        map[string]ViewState
	byExecution map[string][]string // execution id -> ordered view state ids
}

func NewMockStore() *MockStore {
	return &MockStore{byID: make(map[string]ViewState), byExecution: make(map[string][]string)}
}

func (s *MockStore) Insert(ctx context.Context, vs ViewState) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[vs.ID] = vs
	s.byExecution[vs.ExecutionID] = append(s.byExecution[vs.ExecutionID], vs.ID)
	return vs.ID, nil
}

func (s *MockStore) ByID(ctx context.Context, id string) (ViewState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs, ok := s.byID[id]
	if !ok {
		return ViewState{}, ErrNotFound
	}
	return vs, nil
}

func (s *MockStore) ByExecutionID(ctx context.Context, executionID string) ([]ViewState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byExecution[executionID]
	out := make([]ViewState, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *MockStore) ByAffectedEntity(ctx context.Context, entityType, entityID string) ([]ViewState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ViewState
	for _, vs := range s.byID {
		if vs.EntityType == entityType && vs.EntityID == entityID {
			out = append(out, vs)
		}
	}
	return out, nil
}

// ByIdempotencyKey has no index to join against in mock mode; Recorder
// uses ByID with the idempotency store's returned view-state-change id
// instead, so this is only exercised by direct callers of the audit API.
func (s *MockStore) ByIdempotencyKey(ctx context.Context, key string) (ViewState, error) {
	return ViewState{}, ErrNotFound
}
