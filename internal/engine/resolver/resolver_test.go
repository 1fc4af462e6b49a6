package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/engine/registry"
)

func TestResolveExactUUID(t *testing.T) {
	store := NewMockStore()
	id := uuid.New()
	store.Seed(registry.RefCbu, MockRecord{ID: id, Name: "Apex Fund", Code: "APEX", CreatedAt: time.Now()})

	r := New(store, DefaultConfig())
	result, err := r.Resolve(context.Background(), registry.RefCbu, id.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != Found || result.ID != id {
		t.Errorf("expected Found with id %s, got %+v", id, result)
	}
}

func TestResolveExactCode(t *testing.T) {
	store := NewMockStore()
	id := uuid.New()
	store.Seed(registry.RefRole, MockRecord{ID: id, Name: "Director", Code: "director", CreatedAt: time.Now()})

	r := New(store, DefaultConfig())
	result, err := r.Resolve(context.Background(), registry.RefRole, "director")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != FoundByCode || result.ID != id {
		t.Errorf("expected FoundByCode with id %s, got %+v", id, result)
	}
}

func TestResolveFuzzySuggestions(t *testing.T) {
	store := NewMockStore()
	store.Seed(registry.RefEntity, MockRecord{ID: uuid.New(), Name: "John Smith", CreatedAt: time.Now()})
	store.Seed(registry.RefEntity, MockRecord{ID: uuid.New(), Name: "Jon Smyth", CreatedAt: time.Now().Add(time.Hour)})

	r := New(store, DefaultConfig())
	result, err := r.Resolve(context.Background(), registry.RefEntity, "John Smith")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != Found {
		t.Fatalf("expected a single exact fuzzy match to resolve as Found, got %+v", result)
	}
}

func TestResolveNotFoundReturnsSuggestions(t *testing.T) {
	store := NewMockStore()
	store.Seed(registry.RefEntity, MockRecord{ID: uuid.New(), Name: "Someone Else", CreatedAt: time.Now()})

	r := New(store, DefaultConfig())
	result, err := r.Resolve(context.Background(), registry.RefEntity, "Totally Unrelated Name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != NotFound {
		t.Errorf("expected NotFound, got %+v", result)
	}
}

func TestResolveIsCachedPerValidation(t *testing.T) {
	store := NewMockStore()
	id := uuid.New()
	store.Seed(registry.RefCbu, MockRecord{ID: id, Name: "Apex Fund", Code: "APEX", CreatedAt: time.Now()})

	r := New(store, DefaultConfig())
	first, _ := r.Resolve(context.Background(), registry.RefCbu, "APEX")
	second, _ := r.Resolve(context.Background(), registry.RefCbu, "APEX")
	if first.ID != second.ID || first.Kind != second.Kind {
		t.Errorf("expected deterministic cached result, got %+v then %+v", first, second)
	}

	r.ClearCache()
	third, err := r.Resolve(context.Background(), registry.RefCbu, "APEX")
	if err != nil {
		t.Fatalf("unexpected error after cache clear: %v", err)
	}
	if third.ID != id {
		t.Errorf("expected same result after cache clear, got %+v", third)
	}
}

func TestSuggestionOrderingDeterministic(t *testing.T) {
	now := time.Now()
	matches := []SuggestedMatch{
		{Display: "B", Similarity: 0.5, CreatedAt: now},
		{Display: "A", Similarity: 0.9, CreatedAt: now.Add(time.Minute)},
		{Display: "C", Similarity: 0.9, CreatedAt: now},
	}
	sortSuggestions(matches)
	if matches[0].Display != "C" || matches[1].Display != "A" || matches[2].Display != "B" {
		t.Errorf("unexpected suggestion order: %+v", matches)
	}
}
