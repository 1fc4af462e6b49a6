package executor

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockDomainDB(t *testing.T) (*PostgresDomainStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("opening sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresDomainStore(db), mock
}

func TestPostgresEnsureCbuInsertsWhenNotFound(t *testing.T) {
	store, mock := newMockDomainDB(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT cbu_id, name, jurisdiction, description, nature_purpose`).
		WithArgs("Apex Fund", "LU").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO "dsl-ob-poc".cbus`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, created, err := store.EnsureCbu(ctx, "Apex Fund", "LU", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Errorf("expected a new cbu to be created")
	}
	if rec.Name != "Apex Fund" || rec.Jurisdiction != "LU" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresEnsureCbuReturnsExistingRow(t *testing.T) {
	store, mock := newMockDomainDB(t)
	ctx := context.Background()
	id := uuid.New()

	rows := sqlmock.NewRows([]string{"cbu_id", "name", "jurisdiction", "description", "nature_purpose"}).
		AddRow(id, "Apex Fund", "LU", "desc", "purpose")
	mock.ExpectQuery(`SELECT cbu_id, name, jurisdiction, description, nature_purpose`).
		WithArgs("Apex Fund", "LU").
		WillReturnRows(rows)

	rec, created, err := store.EnsureCbu(ctx, "Apex Fund", "LU", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Errorf("expected the existing row to be reused, not created")
	}
	if rec.ID != id {
		t.Errorf("expected id %s, got %s", id, rec.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresGetCbuWrapsNotFound(t *testing.T) {
	store, mock := newMockDomainDB(t)
	ctx := context.Background()
	id := uuid.New()

	mock.ExpectQuery(`SELECT cbu_id, name, jurisdiction, description, nature_purpose`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetCbu(ctx, id); err == nil {
		t.Fatalf("expected an error for a missing cbu")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
