package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/agent"
	"dsl-ob-poc/internal/engine/idempotency"
	"dsl-ob-poc/internal/engine/registry"
)

// HandlerResult is what a verb handler hands back to the executor: the
// identity it produced (if any), the payload to cache/audit, and the
// affected-entity coordinates for the view-state row.
type HandlerResult struct {
	RefType    registry.RefType
	RefID      uuid.UUID
	Display    string
	ResultType idempotency.ResultType
	Payload    any

	AffectedEntityType string
	AffectedEntityID   string
	ChangeType          string
}

// Handler executes one verb call against a DomainStore. args is the
// statement's arguments after symbol/ref resolution, keyed by argument
// name, with plain Go values (string, int64, bool, []any, map[string]any).
type Handler func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error)

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// BuiltinHandlers returns the dispatch table for the verbs registered
// by registry.Builtin(), keyed by "domain.verb". Pass a nil ag to keep
// kyc.discover degraded to its "not configured" stub.
func BuiltinHandlers(ag *agent.Agent) map[string]Handler {
	return map[string]Handler{
		"cbu.ensure": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			rec, created, err := store.EnsureCbu(ctx, argString(args, "name"), argString(args, "jurisdiction"),
				argString(args, "description"), argString(args, "nature-purpose"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("cbu.ensure: %w", err)
			}
			changeType := "existing"
			if created {
				changeType = "created"
			}
			return HandlerResult{
				RefType: registry.RefCbu, RefID: rec.ID, Display: rec.Name,
				ResultType: idempotency.ResultCbuCreated,
				Payload:    rec,
				AffectedEntityType: string(registry.RefCbu), AffectedEntityID: rec.ID.String(), ChangeType: changeType,
			}, nil
		},

		"cbu.get": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			id, err := uuid.Parse(argString(args, "cbu-id"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("cbu.get: invalid cbu-id: %w", err)
			}
			rec, err := store.GetCbu(ctx, id)
			if err != nil {
				return HandlerResult{}, fmt.Errorf("cbu.get: %w", err)
			}
			return HandlerResult{RefType: registry.RefCbu, RefID: rec.ID, Display: rec.Name, ResultType: idempotency.ResultGeneric, Payload: rec}, nil
		},

		"cbu.list": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			recs, err := store.ListCbus(ctx)
			if err != nil {
				return HandlerResult{}, fmt.Errorf("cbu.list: %w", err)
			}
			return HandlerResult{ResultType: idempotency.ResultGeneric, Payload: recs}, nil
		},

		"cbu.assign-role": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			cbuID, err := uuid.Parse(argString(args, "cbu-id"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("cbu.assign-role: invalid cbu-id: %w", err)
			}
			entityID, err := uuid.Parse(argString(args, "entity-id"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("cbu.assign-role: invalid entity-id: %w", err)
			}
			role := argString(args, "role")
			if err := store.AssignRole(ctx, cbuID, entityID, role); err != nil {
				return HandlerResult{}, fmt.Errorf("cbu.assign-role: %w", err)
			}
			return HandlerResult{
				ResultType: idempotency.ResultRoleAssigned,
				Payload:    map[string]any{"cbu_id": cbuID.String(), "entity_id": entityID.String(), "role": role},
				AffectedEntityType: string(registry.RefCbu), AffectedEntityID: cbuID.String(), ChangeType: "role-assigned",
			}, nil
		},

		"entity.ensure": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			rec, created, err := store.EnsureEntity(ctx, argString(args, "name"), argString(args, "entity-type"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("entity.ensure: %w", err)
			}
			changeType := "existing"
			if created {
				changeType = "created"
			}
			return HandlerResult{
				RefType: registry.RefEntity, RefID: rec.ID, Display: rec.Name,
				ResultType: idempotency.ResultEntityCreated,
				Payload:    rec,
				AffectedEntityType: string(registry.RefEntity), AffectedEntityID: rec.ID.String(), ChangeType: changeType,
			}, nil
		},

		"entity.get": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			id, err := uuid.Parse(argString(args, "entity-id"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("entity.get: invalid entity-id: %w", err)
			}
			rec, err := store.GetEntity(ctx, id)
			if err != nil {
				return HandlerResult{}, fmt.Errorf("entity.get: %w", err)
			}
			return HandlerResult{RefType: registry.RefEntity, RefID: rec.ID, Display: rec.Name, ResultType: idempotency.ResultGeneric, Payload: rec}, nil
		},

		"entity.list": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			recs, err := store.ListEntities(ctx)
			if err != nil {
				return HandlerResult{}, fmt.Errorf("entity.list: %w", err)
			}
			return HandlerResult{ResultType: idempotency.ResultGeneric, Payload: recs}, nil
		},

		"document.catalog": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			cbuID, err := uuid.Parse(argString(args, "cbu-id"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("document.catalog: invalid cbu-id: %w", err)
			}
			rec, err := store.CatalogDocument(ctx, cbuID, argString(args, "document-type"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("document.catalog: %w", err)
			}
			return HandlerResult{
				RefType: registry.RefDocument, RefID: rec.ID, Display: rec.DocType,
				ResultType: idempotency.ResultDocumentState,
				Payload:    rec,
				AffectedEntityType: string(registry.RefDocument), AffectedEntityID: rec.ID.String(), ChangeType: "cataloged",
			}, nil
		},

		"document.extract": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			docID, err := uuid.Parse(argString(args, "document-id"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("document.extract: invalid document-id: %w", err)
			}
			payload, err := store.ExtractDocument(ctx, docID)
			if err != nil {
				return HandlerResult{}, fmt.Errorf("document.extract: %w", err)
			}
			return HandlerResult{
				ResultType: idempotency.ResultDocumentState,
				Payload:    payload,
				AffectedEntityType: string(registry.RefDocument), AffectedEntityID: docID.String(), ChangeType: "extracted",
			}, nil
		},

		// kyc.discover is the optional AI-assisted verb (§11): with no
		// Gemini-backed agent wired in, it degrades to a no-op
		// acknowledgement rather than failing closed, since the verb is
		// never reachable under the onboarding-only intents (builtin.go).
		"kyc.discover": func(ctx context.Context, store DomainStore, args map[string]any) (HandlerResult, error) {
			if ag == nil {
				return HandlerResult{ResultType: idempotency.ResultGeneric, Payload: map[string]any{"status": "not configured"}}, nil
			}
			cbuID, err := uuid.Parse(argString(args, "cbu-id"))
			if err != nil {
				return HandlerResult{}, fmt.Errorf("kyc.discover: invalid cbu-id: %w", err)
			}
			cbu, err := store.GetCbu(ctx, cbuID)
			if err != nil {
				return HandlerResult{}, fmt.Errorf("kyc.discover: %w", err)
			}
			discovery, err := ag.DiscoverKYCRequirements(ctx, cbu.NaturePurpose, cbu.Jurisdiction)
			if err != nil {
				return HandlerResult{}, fmt.Errorf("kyc.discover: %w", err)
			}
			return HandlerResult{
				ResultType: idempotency.ResultGeneric,
				Payload:    discovery,
				AffectedEntityType: string(registry.RefCbu), AffectedEntityID: cbu.ID.String(), ChangeType: "kyc-discovered",
			}, nil
		},
	}
}
