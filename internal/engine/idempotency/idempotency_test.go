package idempotency

import (
	"context"
	"testing"
)

func TestComputeArgsHashIsOrderIndependent(t *testing.T) {
	h1, err := ComputeArgsHash(map[string]any{"name": "Apex", "jurisdiction": "LU"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := ComputeArgsHash(map[string]any{"jurisdiction": "LU", "name": "Apex"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(h1) != string(h2) {
		t.Errorf("expected key-order-independent hash, got %x vs %x", h1, h2)
	}
}

func TestComputeArgsHashDiffersOnValue(t *testing.T) {
	h1, _ := ComputeArgsHash(map[string]any{"name": "Apex"})
	h2, _ := ComputeArgsHash(map[string]any{"name": "Zeta"})
	if string(h1) == string(h2) {
		t.Errorf("expected different hashes for different values")
	}
}

func TestComputeIdempotencyKeyIsDeterministic(t *testing.T) {
	argsHash, _ := ComputeArgsHash(map[string]any{"name": "Apex"})
	k1 := ComputeIdempotencyKey("exec-1", 0, "cbu.ensure", argsHash)
	k2 := ComputeIdempotencyKey("exec-1", 0, "cbu.ensure", argsHash)
	if k1 != k2 {
		t.Errorf("expected identical keys for identical inputs, got %s vs %s", k1, k2)
	}
}

func TestComputeIdempotencyKeyDiffersOnStatementIndex(t *testing.T) {
	argsHash, _ := ComputeArgsHash(map[string]any{"name": "Apex"})
	k1 := ComputeIdempotencyKey("exec-1", 0, "cbu.ensure", argsHash)
	k2 := ComputeIdempotencyKey("exec-1", 1, "cbu.ensure", argsHash)
	if k1 == k2 {
		t.Errorf("expected different keys for different statement indices")
	}
}

func TestComputeIdempotencyKeyDiffersOnExecutionID(t *testing.T) {
	argsHash, _ := ComputeArgsHash(map[string]any{"name": "Apex"})
	k1 := ComputeIdempotencyKey("exec-1", 0, "cbu.ensure", argsHash)
	k2 := ComputeIdempotencyKey("exec-2", 0, "cbu.ensure", argsHash)
	if k1 == k2 {
		t.Errorf("expected different keys for different execution ids, so replays of distinct runs never collide")
	}
}

func TestMockStoreRecordIsIdempotent(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	result := CachedResult{IdempotencyKey: "key-1", ExecutionID: "exec-1", ResultType: ResultCbuCreated, ResultJSON: []byte(`{"id":"abc"}`)}

	if err := store.Record(ctx, result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Record(ctx, CachedResult{IdempotencyKey: "key-1", ExecutionID: "exec-1", ResultType: ResultGeneric, ResultJSON: []byte(`{}`)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Check(ctx, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ResultType != ResultCbuCreated {
		t.Errorf("expected the first recorded result to win on a duplicate key, got %+v", got)
	}
}

func TestMockStoreCheckNotFound(t *testing.T) {
	store := NewMockStore()
	_, err := store.Check(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMockStoreRecordWithViewStateAtomicity(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	result := CachedResult{IdempotencyKey: "key-1", ExecutionID: "exec-1", ResultType: ResultCbuCreated, ResultJSON: []byte(`{}`)}

	first, err := store.RecordWithViewState(ctx, result, ViewStateInput{ID: "vsc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.WasCached {
		t.Errorf("expected first write to not be a cache hit")
	}
	if first.ViewStateChange != "vsc-1" {
		t.Errorf("expected view state change vsc-1, got %s", first.ViewStateChange)
	}
	if first.ContentPersisted {
		t.Errorf("expected MockStore to report ContentPersisted=false so the caller inserts content itself")
	}

	second, err := store.RecordWithViewState(ctx, result, ViewStateInput{ID: "vsc-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.WasCached {
		t.Errorf("expected replay to report WasCached=true")
	}
	if second.ViewStateChange != "vsc-1" {
		t.Errorf("expected replay to return the original view state change, got %s", second.ViewStateChange)
	}
}

func TestMockStoreClearByExecutionID(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	store.Record(ctx, CachedResult{IdempotencyKey: "k1", ExecutionID: "exec-1"})
	store.Record(ctx, CachedResult{IdempotencyKey: "k2", ExecutionID: "exec-2"})

	if err := store.ClearByExecutionID(ctx, "exec-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Check(ctx, "k1"); err != ErrNotFound {
		t.Errorf("expected k1 to be cleared")
	}
	if _, err := store.Check(ctx, "k2"); err != nil {
		t.Errorf("expected k2 to remain, got %v", err)
	}
}

func TestSourceAttributionBuilder(t *testing.T) {
	a := NewSourceAttribution(SourceCLI, ActorUser).WithActorID("user-42").WithRequestID("req-1")
	if a.Source != SourceCLI || a.ActorType != ActorUser || a.ActorID != "user-42" || a.RequestID != "req-1" {
		t.Errorf("unexpected attribution: %+v", a)
	}
}

func TestCachedResultToExecutionResult(t *testing.T) {
	c := CachedResult{ResultJSON: []byte(`{"name":"Apex"}`)}
	var dst struct {
		Name string `json:"name"`
	}
	if err := c.ToExecutionResult(&dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.Name != "Apex" {
		t.Errorf("expected decoded name Apex, got %s", dst.Name)
	}
}
