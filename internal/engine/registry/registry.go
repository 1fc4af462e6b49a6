// Package registry provides the in-memory schema for verbs and attributes,
// analogous to the teacher's internal/dsl/compiler verb/attribute tables
// but generalized into a typed, queryable contract store.
package registry

import (
	"fmt"
)

// GovernanceStatus classifies a verb or attribute's lifecycle state.
type GovernanceStatus int

const (
	Active GovernanceStatus = iota
	Deprecated
)

// GovernanceTier classifies an attribute's sensitivity.
type GovernanceTier int

const (
	Governed GovernanceTier = iota
	Operational
)

// RefType is the kind of stable ID a textual reference should resolve to.
type RefType string

const (
	RefEntity       RefType = "Entity"
	RefCbu          RefType = "Cbu"
	RefDocument     RefType = "Document"
	RefAttributeID  RefType = "AttributeId"
	RefJurisdiction RefType = "Jurisdiction"
	RefRole         RefType = "Role"
	RefDocumentType RefType = "DocumentType"
	RefEntityType   RefType = "EntityType"
	RefInterestType RefType = "InterestType"
	RefCurrency     RefType = "Currency"
)

// LookupConfig names the RefType used when an argument's textual value
// must be resolved against a backing table.
type LookupConfig struct {
	RefType RefType
}

// ArgDef describes a single verb argument's contract.
type ArgDef struct {
	Name     string
	TypeTag  string // "string", "integer", "decimal", "boolean", "list", "map", "symbol"
	Lookup   *LookupConfig
	Valid    []string // optional enumerated valid values
	Default  *string
}

// VerbDef is a verb's schema. ProducesViewState marks verbs whose
// execution yields a view-state change (§4.8); the executor does not
// consult it and records a view-state row for every step it runs.
type VerbDef struct {
	Domain             string
	Verb               string
	RequiredArgs       []string
	OptionalArgs       []string
	Args               map[string]ArgDef
	Produces           RefType // empty if the verb returns no typed binding
	Status             GovernanceStatus
	ProducesViewState  bool
	CanRetry           bool
}

// FullName returns "domain.verb".
func (v VerbDef) FullName() string {
	if v.Domain == "" {
		return v.Verb
	}
	return v.Domain + "." + v.Verb
}

// AttributeDef binds a fully-qualified attribute name to its type and
// governance classification.
type AttributeDef struct {
	FQN           string
	TypeTag       string
	Tier          GovernanceTier
	TrustClass    string
	SecurityLabel string
	Status        GovernanceStatus
}

// Registry is process-wide, loaded once, and immutable during a run.
type Registry struct {
	verbs      map[string]VerbDef
	attributes map[string]AttributeDef
}

// New builds an empty registry; populate it with Register and
// RegisterAttribute, or use LoadFromFile, LoadFromBytes or Builtin.
func New() *Registry {
	return &Registry{
		verbs:      make(map[string]VerbDef),
		attributes: make(map[string]AttributeDef),
	}
}

// FindVerb looks up a (domain, verb) pair.
func (r *Registry) FindVerb(domain, verb string) (VerbDef, bool) {
	key := verb
	if domain != "" {
		key = domain + "." + verb
	}
	def, ok := r.verbs[key]
	return def, ok
}

// FindVerbByFullName looks up a verb by its "domain.verb" name.
func (r *Registry) FindVerbByFullName(full string) (VerbDef, bool) {
	def, ok := r.verbs[full]
	return def, ok
}

// FindAttribute looks up an attribute by fully-qualified name.
func (r *Registry) FindAttribute(fqn string) (AttributeDef, bool) {
	def, ok := r.attributes[fqn]
	return def, ok
}

// VerbNames returns every registered verb's full name, for "did you mean"
// suggestions and diagnostics.
func (r *Registry) VerbNames() []string {
	names := make([]string, 0, len(r.verbs))
	for name := range r.verbs {
		names = append(names, name)
	}
	return names
}

// Register adds or replaces a verb definition. Used by LoadFromBytes and Builtin.
func (r *Registry) Register(def VerbDef) {
	r.verbs[def.FullName()] = def
}

// RegisterAttribute adds or replaces an attribute definition.
func (r *Registry) RegisterAttribute(def AttributeDef) {
	r.attributes[def.FQN] = def
}

// ArgNames returns the union of required and optional argument names for
// "did you mean" suggestions.
func (v VerbDef) ArgNames() []string {
	names := make([]string, 0, len(v.RequiredArgs)+len(v.OptionalArgs))
	names = append(names, v.RequiredArgs...)
	names = append(names, v.OptionalArgs...)
	return names
}

// IsKnownArg reports whether name is a required or optional argument.
func (v VerbDef) IsKnownArg(name string) bool {
	for _, n := range v.RequiredArgs {
		if n == name {
			return true
		}
	}
	for _, n := range v.OptionalArgs {
		if n == name {
			return true
		}
	}
	return false
}

// ErrVerbNotFound describes a missing verb. FindVerb and
// FindVerbByFullName report a miss through their bool result and do not
// return it.
type ErrVerbNotFound struct {
	Domain, Verb string
}

func (e *ErrVerbNotFound) Error() string {
	full := e.Verb
	if e.Domain != "" {
		full = e.Domain + "." + e.Verb
	}
	return fmt.Sprintf("verb not found: %s", full)
}
