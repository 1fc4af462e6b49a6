package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/agent"
	"dsl-ob-poc/internal/engine/audit"
	"dsl-ob-poc/internal/engine/idempotency"
	"dsl-ob-poc/internal/engine/plan"
	"dsl-ob-poc/internal/engine/validator"
)

// Mode controls whether a failed step aborts the remaining plan.
type Mode int

const (
	// Strict stops dispatching further phases once any step in a
	// completed phase failed.
	Strict Mode = iota
	// ContinueOnError runs every phase regardless of earlier failures;
	// steps that depended (transitively) on a failed producer are
	// marked skipped rather than dispatched.
	ContinueOnError
)

// BoundRef is the runtime value a producing step makes available to
// later steps that consume its binding.
type BoundRef struct {
	RefType string
	RefID   uuid.UUID
	Display string
}

// StepOutcome is the per-step record of one execution attempt.
type StepOutcome struct {
	StepID     int
	Verb       string
	BindAs     string
	CacheHit   bool
	Result     HandlerResult
	Err        error
	Skipped    bool
	Idempotency string
}

// Outcome is the full result of executing a plan.
type Outcome struct {
	ExecutionID string
	Steps       []StepOutcome
	Cancelled   bool
}

// HasErrors reports whether any step failed.
func (o *Outcome) HasErrors() bool {
	for _, s := range o.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Executor ties together the handler dispatch table, the idempotency
// store, and the audit recorder to run a plan.Result phase by phase.
type Executor struct {
	Handlers    map[string]Handler
	Store       DomainStore
	Idem        idempotency.Store
	Recorder    *audit.Recorder
	Mode        Mode
	Attribution idempotency.SourceAttribution
}

func New(store DomainStore, idem idempotency.Store, recorder *audit.Recorder, attribution idempotency.SourceAttribution) *Executor {
	return NewWithAgent(store, idem, recorder, attribution, nil)
}

// NewWithAgent builds an Executor whose kyc.discover handler calls into
// ag instead of degrading to the "not configured" stub. Pass nil ag for
// the same behavior as New.
func NewWithAgent(store DomainStore, idem idempotency.Store, recorder *audit.Recorder, attribution idempotency.SourceAttribution, ag *agent.Agent) *Executor {
	return &Executor{
		Handlers:    BuiltinHandlers(ag),
		Store:       store,
		Idem:        idem,
		Recorder:    recorder,
		Mode:        Strict,
		Attribution: attribution,
	}
}

// Execute runs every phase of result in order. Steps within one phase
// run concurrently, since a phase is precisely the set of steps with
// no dependency on one another (§5).
func (e *Executor) Execute(ctx context.Context, executionID string, result *plan.Result) (*Outcome, error) {
	outcome := &Outcome{ExecutionID: executionID, Steps: make([]StepOutcome, len(result.Steps))}
	bindings := make(map[string]BoundRef)
	failed := make(map[int]bool)

	for _, phase := range result.Phases {
		select {
		case <-ctx.Done():
			outcome.Cancelled = true
			return outcome, ctx.Err()
		default:
		}

		anyPriorFailure := len(failed) > 0
		if anyPriorFailure && e.Mode == Strict {
			for _, idx := range phase.StepIndices {
				outcome.Steps[idx] = StepOutcome{StepID: result.Steps[idx].StepID, Verb: result.Steps[idx].Verb, Skipped: true}
			}
			continue
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, idx := range phase.StepIndices {
			step := result.Steps[idx]

			if e.Mode == ContinueOnError && dependsOnFailed(step, failed) {
				outcome.Steps[idx] = StepOutcome{StepID: step.StepID, Verb: step.Verb, Skipped: true}
				failed[step.StepID] = true
				continue
			}

			wg.Add(1)
			go func(idx int, step plan.CompiledStep) {
				defer wg.Done()
				so := e.executeStep(ctx, executionID, step, &mu, bindings)
				mu.Lock()
				outcome.Steps[idx] = so
				if so.Err != nil {
					failed[step.StepID] = true
				}
				mu.Unlock()
			}(idx, step)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			outcome.Cancelled = true
			return outcome, ctx.Err()
		default:
		}
	}

	return outcome, nil
}

func dependsOnFailed(step plan.CompiledStep, failed map[int]bool) bool {
	for _, dep := range step.DependsOn {
		if failed[dep] {
			return true
		}
	}
	return false
}

// executeStep resolves step's arguments against bindings, checks the
// idempotency cache, dispatches the handler on a miss, and records the
// result atomically with its view-state row.
func (e *Executor) executeStep(ctx context.Context, executionID string, step plan.CompiledStep, mu *sync.Mutex, bindings map[string]BoundRef) StepOutcome {
	so := StepOutcome{StepID: step.StepID, Verb: step.Verb, BindAs: step.BindAs}

	mu.Lock()
	snapshot := make(map[string]BoundRef, len(bindings))
	for k, v := range bindings {
		snapshot[k] = v
	}
	mu.Unlock()

	args, err := e.resolveArgs(ctx, step.Args, snapshot)
	if err != nil {
		so.Err = fmt.Errorf("resolving arguments for %s: %w", step.Verb, err)
		return so
	}

	argsHash, err := idempotency.ComputeArgsHash(args)
	if err != nil {
		so.Err = fmt.Errorf("hashing arguments for %s: %w", step.Verb, err)
		return so
	}
	key := idempotency.ComputeIdempotencyKey(executionID, step.StepID, step.Verb, argsHash)
	so.Idempotency = key

	if cached, err := e.Idem.Check(ctx, key); err == nil {
		so.CacheHit = true
		so.Result = handlerResultFromCache(cached)
		e.bindResult(mu, bindings, step, so.Result)
		return so
	} else if err != idempotency.ErrNotFound {
		so.Err = fmt.Errorf("checking idempotency cache for %s: %w", step.Verb, err)
		return so
	}

	handler, ok := e.Handlers[step.Verb]
	if !ok {
		so.Err = fmt.Errorf("%s: %w", step.Verb, errNoHandler(step.Verb))
		return so
	}

	result, err := handler(ctx, e.Store, args)
	if err != nil {
		so.Err = err
		return so
	}
	so.Result = result

	payload, err := marshalPayload(result.Payload)
	if err != nil {
		so.Err = fmt.Errorf("marshaling result for %s: %w", step.Verb, err)
		return so
	}

	cached := idempotency.CachedResult{
		IdempotencyKey: key, ExecutionID: executionID, StatementIndex: step.StepID,
		ResultType: result.ResultType, ResultJSON: payload,
	}
	vs := audit.ViewState{EntityType: result.AffectedEntityType, EntityID: result.AffectedEntityID, ChangeType: result.ChangeType, After: payload}

	if e.Recorder != nil {
		if _, _, err := e.Recorder.RecordExecution(ctx, cached, vs); err != nil {
			so.Err = fmt.Errorf("recording execution for %s: %w", step.Verb, err)
			return so
		}
	} else if err := e.Idem.Record(ctx, cached); err != nil {
		so.Err = fmt.Errorf("recording idempotency key for %s: %w", step.Verb, err)
		return so
	}

	e.bindResult(mu, bindings, step, result)
	return so
}

func (e *Executor) bindResult(mu *sync.Mutex, bindings map[string]BoundRef, step plan.CompiledStep, result HandlerResult) {
	if step.BindAs == "" || result.RefID == uuid.Nil {
		return
	}
	mu.Lock()
	bindings[step.BindAs] = BoundRef{RefType: string(result.RefType), RefID: result.RefID, Display: result.Display}
	mu.Unlock()
}

type errNoHandler string

func (e errNoHandler) Error() string { return fmt.Sprintf("no handler registered for verb %q", string(e)) }

func handlerResultFromCache(c idempotency.CachedResult) HandlerResult {
	r := HandlerResult{ResultType: c.ResultType, Payload: c.ResultJSON}
	// Record payloads (CbuRecord, EntityRecord, DocumentRecord) carry the
	// produced id, which a cached step still binds for later steps.
	var rec struct {
		ID   uuid.UUID
		Name string
	}
	if json.Unmarshal(c.ResultJSON, &rec) == nil {
		r.RefID, r.Display = rec.ID, rec.Name
	}
	return r
}

// resolveArgs walks each argument's ResolvedArg tree, substituting
// symbol references with their bound runtime value and recursing into
// lists, maps, and nested calls.
func (e *Executor) resolveArgs(ctx context.Context, args []validator.ValidatedArgument, bindings map[string]BoundRef) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		v, err := e.resolveValue(ctx, arg.Value, bindings)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Key, err)
		}
		out[arg.Key] = v
	}
	return out, nil
}

func (e *Executor) resolveValue(ctx context.Context, v validator.ResolvedArg, bindings map[string]BoundRef) (any, error) {
	switch v.Kind {
	case validator.ResolvedString:
		return v.Str, nil
	case validator.ResolvedInteger:
		return v.Int, nil
	case validator.ResolvedDecimal:
		return v.Dec, nil
	case validator.ResolvedBoolean:
		return v.Bool, nil
	case validator.ResolvedNull:
		return nil, nil
	case validator.ResolvedRef:
		return v.RefID.String(), nil
	case validator.ResolvedSymbol:
		bound, ok := bindings[v.SymbolName]
		if !ok {
			return nil, fmt.Errorf("binding @%s has no runtime value", v.SymbolName)
		}
		return bound.RefID.String(), nil
	case validator.ResolvedList:
		items := make([]any, len(v.List))
		for i, item := range v.List {
			resolved, err := e.resolveValue(ctx, item, bindings)
			if err != nil {
				return nil, err
			}
			items[i] = resolved
		}
		return items, nil
	case validator.ResolvedMap:
		m := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			resolved, err := e.resolveValue(ctx, item, bindings)
			if err != nil {
				return nil, err
			}
			m[k] = resolved
		}
		return m, nil
	case validator.ResolvedNestedCall:
		handler, ok := e.Handlers[v.Nested.FullVerb()]
		if !ok {
			return nil, fmt.Errorf("%w", errNoHandler(v.Nested.FullVerb()))
		}
		nestedArgs, err := e.resolveArgs(ctx, v.Nested.Args, bindings)
		if err != nil {
			return nil, err
		}
		result, err := handler(ctx, e.Store, nestedArgs)
		if err != nil {
			return nil, fmt.Errorf("nested call %s: %w", v.Nested.FullVerb(), err)
		}
		if result.RefID != uuid.Nil {
			return result.RefID.String(), nil
		}
		return result.Payload, nil
	default:
		return nil, fmt.Errorf("unhandled resolved argument kind %d", v.Kind)
	}
}

func marshalPayload(v any) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
