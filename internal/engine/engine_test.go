package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/engine/audit"
	"dsl-ob-poc/internal/engine/executor"
	"dsl-ob-poc/internal/engine/idempotency"
	"dsl-ob-poc/internal/engine/registry"
	"dsl-ob-poc/internal/engine/resolver"
)

func newTestEngine() *Engine {
	reg := registry.Builtin()
	resStore := resolver.NewMockStore()
	resStore.Seed(registry.RefJurisdiction, resolver.MockRecord{ID: uuid.New(), Name: "Luxembourg", Code: "LU", CreatedAt: time.Now()})
	domainStore := executor.NewMockDomainStore()
	idemStore := idempotency.NewMockStore()
	viewStore := audit.NewMockStore()
	return New(reg, resStore, domainStore, idemStore, viewStore)
}

// TestEndToEndS1ValidateAndExecute mirrors spec scenario S1 end to end:
// parse, validate, assemble, and execute a single cbu.ensure statement.
func TestEndToEndS1ValidateAndExecute(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	vp, diags := e.Validate(ctx, ValidationRequest{
		Source: `(cbu.ensure :name "Apex Fund" :jurisdiction "LU" :as @fund)`,
		Intent: registry.IntentOnboardCorporate,
	})
	if diags.HasErrors() {
		t.Fatalf("unexpected validation errors: %+v", diags)
	}

	out, err := e.Execute(ctx, vp, ExecutionRequest{
		ExecutionID: "exec-s1",
		Attribution: idempotency.NewSourceAttribution(idempotency.SourceTest, idempotency.ActorUser),
	})
	if err != nil {
		t.Fatalf("unexpected execution error: %v", err)
	}
	if out.Outcome.HasErrors() {
		t.Fatalf("unexpected step errors: %+v", out.Outcome.Steps)
	}
	if len(out.Outcome.Steps) != 1 || out.Outcome.Steps[0].Result.Display != "Apex Fund" {
		t.Errorf("unexpected outcome: %+v", out.Outcome.Steps)
	}
}

// TestEndToEndS5IdempotentReExecution verifies that re-running the same
// execution id against the same program never creates a second CBU.
func TestEndToEndS5IdempotentReExecution(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	source := `(cbu.ensure :name "Apex Fund" :jurisdiction "LU" :as @fund)`
	req := ExecutionRequest{ExecutionID: "exec-replay", Attribution: idempotency.NewSourceAttribution(idempotency.SourceTest, idempotency.ActorUser)}

	vp1, diags := e.Validate(ctx, ValidationRequest{Source: source, Intent: registry.IntentOnboardCorporate})
	if diags.HasErrors() {
		t.Fatalf("unexpected validation errors: %+v", diags)
	}
	first, err := e.Execute(ctx, vp1, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vp2, diags := e.Validate(ctx, ValidationRequest{Source: source, Intent: registry.IntentOnboardCorporate})
	if diags.HasErrors() {
		t.Fatalf("unexpected validation errors: %+v", diags)
	}
	second, err := e.Execute(ctx, vp2, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Outcome.Steps[0].CacheHit {
		t.Errorf("expected the first run to be a cache miss")
	}
	if !second.Outcome.Steps[0].CacheHit {
		t.Errorf("expected the replay to be a cache hit")
	}

	cbus, _ := e.DomainStore.ListCbus(ctx)
	if len(cbus) != 1 {
		t.Fatalf("expected exactly one CBU despite two executions, got %d", len(cbus))
	}
}

func TestValidateSyntaxErrorYieldsDiagnostic(t *testing.T) {
	e := newTestEngine()
	_, diags := e.Validate(context.Background(), ValidationRequest{Source: `(cbu.ensure :name "unterminated`})
	if !diags.HasErrors() {
		t.Fatalf("expected a syntax diagnostic")
	}
}

func TestExecuteWithoutValidatedProgramFails(t *testing.T) {
	e := newTestEngine()
	_, err := e.Execute(context.Background(), nil, ExecutionRequest{})
	if err == nil {
		t.Fatalf("expected an error when executing a nil validated program")
	}
}
