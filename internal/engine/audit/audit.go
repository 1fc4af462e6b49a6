// Package audit records the view-state change produced by each
// executed statement and recovers it for later queries (by session, by
// affected entity, by idempotency key). It is paired with
// internal/engine/idempotency so that the two tables are always
// written together (§6.3).
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/engine/idempotency"
)

// ViewState is one row of the append-only view-state-change log: a
// single entity mutation caused by one executed statement.
type ViewState struct {
	ID             string
	ExecutionID    string
	StatementIndex int
	EntityType     string
	EntityID       string
	ChangeType     string // "created", "updated", "role-assigned", ...
	Before         json.RawMessage
	After          json.RawMessage
	RecordedAt     string
}

// Store abstracts the view_state_changes table.
type Store interface {
	Insert(ctx context.Context, vs ViewState) (string, error)
	ByID(ctx context.Context, id string) (ViewState, error)
	ByExecutionID(ctx context.Context, executionID string) ([]ViewState, error)
	ByAffectedEntity(ctx context.Context, entityType, entityID string) ([]ViewState, error)
	ByIdempotencyKey(ctx context.Context, key string) (ViewState, error)
}

// Recorder pairs a view-state write with its idempotency-key write so
// a statement's audit trail and its replay cache always agree, even
// under a crash between the two tables (§6.3, testable property #7).
type Recorder struct {
	Idempotency idempotency.Store
	Views       Store
}

func NewRecorder(idem idempotency.Store, views Store) *Recorder {
	return &Recorder{Idempotency: idem, Views: views}
}

// RecordExecution inserts vs's content and the paired idempotency row
// atomically where the underlying stores support it. PostgresStore's
// RecordWithViewState passes vs's full content into the
// record_execution_with_view_state stored procedure, which inserts both
// tables in one transaction and reports ContentPersisted=true, so this
// method performs no separate insert on that path — there is exactly one
// write of vs's content, never two, and never a window where one table
// has a row the other doesn't. MockStore can't persist vs itself (it has
// no view_state_changes table), so it reports ContentPersisted=false and
// this method inserts vs into r.Views directly.
func (r *Recorder) RecordExecution(ctx context.Context, result idempotency.CachedResult, vs ViewState) (idempotency.AtomicRecordResult, ViewState, error) {
	if vs.ID == "" {
		vs.ID = uuid.NewString()
	}
	vs.ExecutionID = result.ExecutionID
	vs.StatementIndex = result.StatementIndex

	atomic, err := r.Idempotency.RecordWithViewState(ctx, result, idempotency.ViewStateInput{
		ID: vs.ID, EntityType: vs.EntityType, EntityID: vs.EntityID,
		ChangeType: vs.ChangeType, Before: vs.Before, After: vs.After,
	})
	if err != nil {
		return idempotency.AtomicRecordResult{}, ViewState{}, fmt.Errorf("recording execution %s: %w", result.IdempotencyKey, err)
	}
	if atomic.WasCached {
		existing, err := r.Views.ByID(ctx, atomic.ViewStateChange)
		if err != nil {
			return atomic, ViewState{}, fmt.Errorf("loading cached view state for %s: %w", result.IdempotencyKey, err)
		}
		return atomic, existing, nil
	}

	if atomic.RecordedAt != "" {
		vs.RecordedAt = atomic.RecordedAt
	}
	if !atomic.ContentPersisted {
		if _, err := r.Views.Insert(ctx, vs); err != nil {
			return atomic, ViewState{}, fmt.Errorf("inserting view state for %s: %w", result.IdempotencyKey, err)
		}
	}
	return atomic, vs, nil
}
