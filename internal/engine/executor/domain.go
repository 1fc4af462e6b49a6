// Package executor runs a dependency-ordered plan phase by phase,
// dispatching each statement to a verb handler, checking/recording
// idempotency keys, and propagating producer bindings to later steps.
// It is the Go rendering of the execution half of
// original_source/rust/src/dsl_v2 (idempotency.rs's caller) combined
// with the teacher's internal/store query style for the underlying
// domain tables.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// CbuRecord is a Client Business Unit row, named after the teacher's
// internal/store.CBU but widened with the fields SPEC_FULL.md's
// cbu.ensure verb accepts.
type CbuRecord struct {
	ID            uuid.UUID
	Name          string
	Jurisdiction  string
	Description   string
	NaturePurpose string
}

// EntityRecord is a natural or legal person/entity row.
type EntityRecord struct {
	ID         uuid.UUID
	Name       string
	EntityType string
}

// DocumentRecord is a cataloged document attached to a CBU.
type DocumentRecord struct {
	ID      uuid.UUID
	CbuID   uuid.UUID
	DocType string
	Status  string
}

// DomainStore is the backing-store abstraction for verb handlers: a
// Postgres implementation for production, a mock for tests and
// mock-mode execution.
type DomainStore interface {
	EnsureCbu(ctx context.Context, name, jurisdiction, description, naturePurpose string) (rec CbuRecord, created bool, err error)
	GetCbu(ctx context.Context, id uuid.UUID) (CbuRecord, error)
	ListCbus(ctx context.Context) ([]CbuRecord, error)

	EnsureEntity(ctx context.Context, name, entityType string) (rec EntityRecord, created bool, err error)
	GetEntity(ctx context.Context, id uuid.UUID) (EntityRecord, error)
	ListEntities(ctx context.Context) ([]EntityRecord, error)

	AssignRole(ctx context.Context, cbuID, entityID uuid.UUID, role string) error

	CatalogDocument(ctx context.Context, cbuID uuid.UUID, docType string) (DocumentRecord, error)
	ExtractDocument(ctx context.Context, docID uuid.UUID) (map[string]any, error)
}

// PostgresDomainStore implements DomainStore with raw database/sql and
// lib/pq, matching the teacher's internal/store/store.go style (plain
// *sql.DB, hand-written Scan calls) rather than an ORM.
type PostgresDomainStore struct {
	db *sql.DB
}

func NewPostgresDomainStore(db *sql.DB) *PostgresDomainStore {
	return &PostgresDomainStore{db: db}
}

func (s *PostgresDomainStore) EnsureCbu(ctx context.Context, name, jurisdiction, description, naturePurpose string) (CbuRecord, bool, error) {
	var rec CbuRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT cbu_id, name, jurisdiction, description, nature_purpose
		FROM "dsl-ob-poc".cbus WHERE name = $1 AND jurisdiction = $2`, name, jurisdiction).
		Scan(&rec.ID, &rec.Name, &rec.Jurisdiction, &rec.Description, &rec.NaturePurpose)
	if err == nil {
		return rec, false, nil
	}
	if err != sql.ErrNoRows {
		return CbuRecord{}, false, fmt.Errorf("looking up cbu %q/%q: %w", name, jurisdiction, err)
	}

	rec = CbuRecord{ID: uuid.New(), Name: name, Jurisdiction: jurisdiction, Description: description, NaturePurpose: naturePurpose}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO "dsl-ob-poc".cbus (cbu_id, name, jurisdiction, description, nature_purpose)
		VALUES ($1, $2, $3, $4, $5)`, rec.ID, rec.Name, rec.Jurisdiction, rec.Description, rec.NaturePurpose)
	if err != nil {
		return CbuRecord{}, false, fmt.Errorf("inserting cbu %q: %w", name, err)
	}
	return rec, true, nil
}

func (s *PostgresDomainStore) GetCbu(ctx context.Context, id uuid.UUID) (CbuRecord, error) {
	var rec CbuRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT cbu_id, name, jurisdiction, description, nature_purpose
		FROM "dsl-ob-poc".cbus WHERE cbu_id = $1`, id).
		Scan(&rec.ID, &rec.Name, &rec.Jurisdiction, &rec.Description, &rec.NaturePurpose)
	if err != nil {
		return CbuRecord{}, fmt.Errorf("getting cbu %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresDomainStore) ListCbus(ctx context.Context) ([]CbuRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cbu_id, name, jurisdiction, description, nature_purpose
		FROM "dsl-ob-poc".cbus ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing cbus: %w", err)
	}
	defer rows.Close()

	var out []CbuRecord
	for rows.Next() {
		var rec CbuRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Jurisdiction, &rec.Description, &rec.NaturePurpose); err != nil {
			return nil, fmt.Errorf("scanning cbu row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresDomainStore) EnsureEntity(ctx context.Context, name, entityType string) (EntityRecord, bool, error) {
	var rec EntityRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, name, entity_type FROM "dsl-ob-poc".entities WHERE name = $1`, name).
		Scan(&rec.ID, &rec.Name, &rec.EntityType)
	if err == nil {
		return rec, false, nil
	}
	if err != sql.ErrNoRows {
		return EntityRecord{}, false, fmt.Errorf("looking up entity %q: %w", name, err)
	}

	rec = EntityRecord{ID: uuid.New(), Name: name, EntityType: entityType}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO "dsl-ob-poc".entities (entity_id, name, entity_type) VALUES ($1, $2, $3)`,
		rec.ID, rec.Name, rec.EntityType)
	if err != nil {
		return EntityRecord{}, false, fmt.Errorf("inserting entity %q: %w", name, err)
	}
	return rec, true, nil
}

func (s *PostgresDomainStore) GetEntity(ctx context.Context, id uuid.UUID) (EntityRecord, error) {
	var rec EntityRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, name, entity_type FROM "dsl-ob-poc".entities WHERE entity_id = $1`, id).
		Scan(&rec.ID, &rec.Name, &rec.EntityType)
	if err != nil {
		return EntityRecord{}, fmt.Errorf("getting entity %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresDomainStore) ListEntities(ctx context.Context) ([]EntityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, name, entity_type FROM "dsl-ob-poc".entities ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var out []EntityRecord
	for rows.Next() {
		var rec EntityRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.EntityType); err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresDomainStore) AssignRole(ctx context.Context, cbuID, entityID uuid.UUID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO "dsl-ob-poc".cbu_roles (cbu_id, entity_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (cbu_id, entity_id, role) DO NOTHING`, cbuID, entityID, role)
	if err != nil {
		return fmt.Errorf("assigning role %q for entity %s on cbu %s: %w", role, entityID, cbuID, err)
	}
	return nil
}

func (s *PostgresDomainStore) CatalogDocument(ctx context.Context, cbuID uuid.UUID, docType string) (DocumentRecord, error) {
	rec := DocumentRecord{ID: uuid.New(), CbuID: cbuID, DocType: docType, Status: "cataloged"}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO "dsl-ob-poc".documents (document_id, cbu_id, doc_type, status)
		VALUES ($1, $2, $3, $4)`, rec.ID, rec.CbuID, rec.DocType, rec.Status)
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("cataloging document for cbu %s: %w", cbuID, err)
	}
	return rec, nil
}

func (s *PostgresDomainStore) ExtractDocument(ctx context.Context, docID uuid.UUID) (map[string]any, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM "dsl-ob-poc".documents WHERE document_id = $1`, docID).Scan(&status)
	if err != nil {
		return nil, fmt.Errorf("extracting document %s: %w", docID, err)
	}
	return map[string]any{"document_id": docID.String(), "status": status}, nil
}

// MockDomainStore is an in-memory DomainStore for tests and mock mode.
type MockDomainStore struct {
	mu        sync.Mutex
	cbus      map[uuid.UUID]CbuRecord
	entities  map[uuid.UUID]EntityRecord
	documents map[uuid.UUID]DocumentRecord
	roles     []roleRow
}

type roleRow struct {
	CbuID, EntityID uuid.UUID
	Role            string
}

func NewMockDomainStore() *MockDomainStore {
	return &MockDomainStore{
		cbus:      make(map[uuid.UUID]CbuRecord),
		entities:  make(map[uuid.UUID]EntityRecord),
		documents: make(map[uuid.UUID]DocumentRecord),
	}
}

func (s *MockDomainStore) EnsureCbu(ctx context.Context, name, jurisdiction, description, naturePurpose string) (CbuRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.cbus {
		if rec.Name == name && rec.Jurisdiction == jurisdiction {
			return rec, false, nil
		}
	}
	rec := CbuRecord{ID: uuid.New(), Name: name, Jurisdiction: jurisdiction, Description: description, NaturePurpose: naturePurpose}
	s.cbus[rec.ID] = rec
	return rec, true, nil
}

func (s *MockDomainStore) GetCbu(ctx context.Context, id uuid.UUID) (CbuRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.cbus[id]
	if !ok {
		return CbuRecord{}, fmt.Errorf("cbu %s: %w", id, sql.ErrNoRows)
	}
	return rec, nil
}

func (s *MockDomainStore) ListCbus(ctx context.Context) ([]CbuRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CbuRecord, 0, len(s.cbus))
	for _, rec := range s.cbus {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MockDomainStore) EnsureEntity(ctx context.Context, name, entityType string) (EntityRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.entities {
		if rec.Name == name {
			return rec, false, nil
		}
	}
	rec := EntityRecord{ID: uuid.New(), Name: name, EntityType: entityType}
	s.entities[rec.ID] = rec
	return rec, true, nil
}

func (s *MockDomainStore) GetEntity(ctx context.Context, id uuid.UUID) (EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.entities[id]
	if !ok {
		return EntityRecord{}, fmt.Errorf("entity %s: %w", id, sql.ErrNoRows)
	}
	return rec, nil
}

func (s *MockDomainStore) ListEntities(ctx context.Context) ([]EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntityRecord, 0, len(s.entities))
	for _, rec := range s.entities {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MockDomainStore) AssignRole(ctx context.Context, cbuID, entityID uuid.UUID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.CbuID == cbuID && r.EntityID == entityID && r.Role == role {
			return nil
		}
	}
	s.roles = append(s.roles, roleRow{CbuID: cbuID, EntityID: entityID, Role: role})
	return nil
}

func (s *MockDomainStore) CatalogDocument(ctx context.Context, cbuID uuid.UUID, docType string) (DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := DocumentRecord{ID: uuid.New(), CbuID: cbuID, DocType: docType, Status: "cataloged"}
	s.documents[rec.ID] = rec
	return rec, nil
}

func (s *MockDomainStore) ExtractDocument(ctx context.Context, docID uuid.UUID) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.documents[docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, sql.ErrNoRows)
	}
	return map[string]any{"document_id": rec.ID.String(), "status": rec.Status, "extracted_at": time.Now().UTC().Format(time.RFC3339)}, nil
}
