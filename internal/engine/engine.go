// Package engine exposes the DSL compiler/executor pipeline described
// by SPEC_FULL.md §6.1 as a single entry point: Validate parses and
// semantically checks a program; Execute assembles and runs a plan
// from an already-validated program.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/agent"
	"dsl-ob-poc/internal/engine/ast"
	"dsl-ob-poc/internal/engine/audit"
	"dsl-ob-poc/internal/engine/diagnostic"
	"dsl-ob-poc/internal/engine/executor"
	"dsl-ob-poc/internal/engine/idempotency"
	"dsl-ob-poc/internal/engine/parser"
	"dsl-ob-poc/internal/engine/plan"
	"dsl-ob-poc/internal/engine/registry"
	"dsl-ob-poc/internal/engine/resolver"
	"dsl-ob-poc/internal/engine/validator"
	"dsl-ob-poc/internal/telemetry"
)

// ValidationRequest is Validate's input: the source program plus the
// intent context it's being validated against.
type ValidationRequest struct {
	Source                string
	Intent                registry.Intent
	StrictOnUnusedBinding bool
}

// ExecutionRequest is Execute's input: the execution id, the source
// attribution, and the execution mode. The attribution is handed to the
// executor (Executor.Attribution); it is not written into the
// idempotency or view-state rows.
type ExecutionRequest struct {
	ExecutionID string
	Attribution idempotency.SourceAttribution
	Mode        executor.Mode
}

// ExecutionOutcome bundles the assembled plan's diagnostics with the
// executor's per-step outcomes.
type ExecutionOutcome struct {
	Plan    *plan.Result
	Outcome *executor.Outcome
}

// Engine wires the Registry, Reference Resolver, Semantic Validator,
// Plan Assembler, Idempotency Store, Audit Recorder, and Executor
// components (§2) into the two operations a caller needs.
type Engine struct {
	Registry    *registry.Registry
	Resolver    *resolver.Resolver
	Validator   *validator.Validator
	DomainStore executor.DomainStore
	Idem        idempotency.Store
	Views       audit.Store
	Agent       *agent.Agent // optional; nil means kyc.discover degrades to its stub
	logger      *telemetry.Logger
}

// New builds an Engine from its component stores. Pass resolver.MockStore
// and idempotency/audit's MockStore implementations for mock mode.
func New(reg *registry.Registry, resStore resolver.Store, domainStore executor.DomainStore, idemStore idempotency.Store, viewStore audit.Store) *Engine {
	return NewWithAgent(reg, resStore, domainStore, idemStore, viewStore, nil)
}

// NewWithAgent is New plus a configured KYC-discovery agent.
func NewWithAgent(reg *registry.Registry, resStore resolver.Store, domainStore executor.DomainStore, idemStore idempotency.Store, viewStore audit.Store, ag *agent.Agent) *Engine {
	res := resolver.New(resStore, resolver.DefaultConfig())
	return &Engine{
		Registry:    reg,
		Resolver:    res,
		Validator:   validator.New(reg, res),
		DomainStore: domainStore,
		Idem:        idemStore,
		Views:       viewStore,
		Agent:       ag,
		logger:      telemetry.New("engine"),
	}
}

// Validate lexes, parses, and semantically validates req.Source,
// returning either a ValidatedProgram or the accumulated diagnostics.
func (e *Engine) Validate(ctx context.Context, req ValidationRequest) (*validator.ValidatedProgram, diagnostic.List) {
	prog, err := parser.Parse(req.Source)
	if err != nil {
		return nil, diagnostic.List{diagnostic.New(diagnostic.Error, diagnostic.ESyntax, ast.Span{Line: 1, Column: 1}, err.Error())}
	}

	vctx := validator.Context{Intent: req.Intent, StrictOnUnusedBinding: req.StrictOnUnusedBinding}
	vp, diags := e.Validator.Validate(ctx, prog, vctx)
	if diags.HasErrors() {
		e.logger.Warn("validation failed with %d diagnostics", len(diags))
	}
	return vp, diags
}

// Execute assembles vp's statements into a dependency-ordered plan and
// runs it to completion (or until Strict mode halts on a failure, or
// ctx is cancelled).
func (e *Engine) Execute(ctx context.Context, vp *validator.ValidatedProgram, req ExecutionRequest) (*ExecutionOutcome, error) {
	if vp == nil {
		return nil, fmt.Errorf("execute: no validated program")
	}
	steps := plan.ExtractSteps(vp)
	assembled, err := plan.Assemble(steps)
	if err != nil {
		return nil, fmt.Errorf("assembling plan: %w", err)
	}

	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	recorder := audit.NewRecorder(e.Idem, e.Views)
	ex := executor.NewWithAgent(e.DomainStore, e.Idem, recorder, req.Attribution, e.Agent)
	ex.Mode = req.Mode

	outcome, err := ex.Execute(ctx, executionID, assembled)
	if err != nil {
		return &ExecutionOutcome{Plan: assembled, Outcome: outcome}, fmt.Errorf("executing plan: %w", err)
	}
	if outcome.HasErrors() {
		e.logger.Warn("execution %s completed with step errors", executionID)
	}
	return &ExecutionOutcome{Plan: assembled, Outcome: outcome}, nil
}
