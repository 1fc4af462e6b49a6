// Package idempotency computes and checks content-addressed idempotency
// keys for statement execution, so that replaying a plan (or retrying
// after a partial failure) never re-applies a side effect twice. It is
// the Go rendering of original_source/rust/src/dsl_v2/idempotency.rs.
package idempotency

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ExecutionSource identifies where an execution request originated.
type ExecutionSource int

const (
	SourceAPI ExecutionSource = iota
	SourceCLI
	SourceMCP
	SourceREPL
	SourceBatch
	SourceTest
	SourceMigration
	SourceUnknown
)

func (s ExecutionSource) String() string {
	switch s {
	case SourceAPI:
		return "api"
	case SourceCLI:
		return "cli"
	case SourceMCP:
		return "mcp"
	case SourceREPL:
		return "repl"
	case SourceBatch:
		return "batch"
	case SourceTest:
		return "test"
	case SourceMigration:
		return "migration"
	default:
		return "unknown"
	}
}

// ActorType classifies who (or what) drove the execution.
type ActorType int

const (
	ActorUser ActorType = iota
	ActorSystem
	ActorAgent
	ActorService
)

func (a ActorType) String() string {
	switch a {
	case ActorUser:
		return "user"
	case ActorSystem:
		return "system"
	case ActorAgent:
		return "agent"
	case ActorService:
		return "service"
	default:
		return "unknown"
	}
}

// SourceAttribution carries who/what/how for an execution request, built
// up via its With* methods.
type SourceAttribution struct {
	Source    ExecutionSource
	ActorType ActorType
	ActorID   string
	RequestID string
}

func NewSourceAttribution(source ExecutionSource, actorType ActorType) SourceAttribution {
	return SourceAttribution{Source: source, ActorType: actorType}
}

func (a SourceAttribution) WithActorID(id string) SourceAttribution {
	a.ActorID = id
	return a
}

func (a SourceAttribution) WithRequestID(id string) SourceAttribution {
	a.RequestID = id
	return a
}

// ComputeIdempotencyKey hashes (execution_id, statement_index, verb,
// args_hash) into a stable, content-addressed key. The byte layout
// mirrors idempotency.rs exactly: execution_id bytes, then the
// statement index as little-endian u64, then the verb bytes, then the
// args hash.
func ComputeIdempotencyKey(executionID string, statementIndex int, verb string, argsHash []byte) string {
	h := sha256.New()
	h.Write([]byte(executionID))
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], uint64(statementIndex))
	h.Write(idxBuf[:])
	h.Write([]byte(verb))
	h.Write(argsHash)
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeArgsHash hashes a canonical JSON projection of args: keys are
// sorted before hashing so that argument order in the source program
// never changes the key.
func ComputeArgsHash(args map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		v, err := json.Marshal(args[k])
		if err != nil {
			return nil, fmt.Errorf("canonicalizing arg %q: %w", k, err)
		}
		h.Write(v)
	}
	return h.Sum(nil), nil
}

// ResultType tags the shape stored in CachedResult.ResultJSON, so a
// cache hit can be reconstructed into a concrete execution result
// without a type switch over untyped JSON.
type ResultType string

const (
	ResultCbuCreated    ResultType = "cbu_created"
	ResultEntityCreated ResultType = "entity_created"
	ResultRoleAssigned  ResultType = "role_assigned"
	ResultDocumentState ResultType = "document_state"
	ResultGeneric       ResultType = "generic"
)

// CachedResult is the durable record of a prior execution of one
// statement, keyed by its idempotency key.
type CachedResult struct {
	IdempotencyKey  string
	ExecutionID     string
	StatementIndex  int
	ResultType      ResultType
	ResultJSON      json.RawMessage
	ViewStateChange string // empty if this statement produced no view-state row
	RecordedAt      string // RFC3339; stored as text to stay driver-agnostic
}

// ToExecutionResult decodes ResultJSON into dst according to ResultType.
// dst must be a pointer to the Go type corresponding to c.ResultType.
func (c CachedResult) ToExecutionResult(dst any) error {
	if len(c.ResultJSON) == 0 {
		return fmt.Errorf("cached result %s has no payload", c.IdempotencyKey)
	}
	if err := json.Unmarshal(c.ResultJSON, dst); err != nil {
		return fmt.Errorf("decoding cached result %s (%s): %w", c.IdempotencyKey, c.ResultType, err)
	}
	return nil
}

// AtomicRecordResult is returned by RecordWithViewState: it reports
// whether the row already existed (a genuine idempotent replay) and,
// if newly written, the view-state change it was paired with.
type AtomicRecordResult struct {
	IdempotencyKey  string
	ViewStateChange string
	WasCached       bool
	RecordedAt      string

	// ContentPersisted is true when RecordWithViewState already wrote
	// the full view-state-change content row itself (PostgresStore,
	// inside record_execution_with_view_state's own transaction).
	// Recorder.RecordExecution only performs its own, separate
	// audit.Store.Insert when this is false, so the content row is
	// never written twice.
	ContentPersisted bool
}
