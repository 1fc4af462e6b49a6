package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Intent narrows which verbs are permitted during validation (§4.4.2).
type Intent string

const (
	IntentOnboardIndividual Intent = "OnboardIndividual"
	IntentOnboardCorporate  Intent = "OnboardCorporate"
	IntentGetCbuStatus      Intent = "GetCbuStatus"
	IntentListEntities      Intent = "ListEntities"
)

// intentAllowList maps an Intent to the verb-domain prefixes it permits.
// Not exhaustive, per the spec; read-only intents permit only query verbs.
var intentAllowList = map[Intent][]string{
	IntentOnboardIndividual: {"cbu.", "entity.", "document.catalog", "document.extract"},
	IntentOnboardCorporate:  {"cbu.", "entity.", "document.catalog", "document.extract"},
	IntentGetCbuStatus:      {"cbu.get", "cbu.list", "cbu.status"},
	IntentListEntities:      {"entity.list", "entity.get"},
}

// IsVerbAllowedForIntent reports whether fullVerb is permitted for intent.
// An empty/unknown intent permits everything (no narrowing configured).
func IsVerbAllowedForIntent(intent Intent, fullVerb string) bool {
	prefixes, ok := intentAllowList[intent]
	if !ok {
		return true
	}
	for _, p := range prefixes {
		if p == fullVerb {
			return true
		}
		if len(p) > 0 && p[len(p)-1] == '.' && len(fullVerb) >= len(p) && fullVerb[:len(p)] == p {
			return true
		}
	}
	return false
}

// cachedVerb and cachedAttribute are the JSON-serializable shapes of a
// compiled registry cache blob. The spec describes this as "a
// deterministic bincode-ish blob produced by a separate governance
// toolchain"; this implementation uses JSON, which is the serialization
// idiom the teacher already reaches for elsewhere (dsl_manager.DSLVersion,
// store.Attribute) rather than a bespoke binary format.
type cachedVerb struct {
	Domain            string            `json:"domain"`
	Verb              string            `json:"verb"`
	Required          []string          `json:"required"`
	Optional          []string          `json:"optional"`
	Args              map[string]ArgDef `json:"args"`
	Produces          string            `json:"produces"`
	Deprecated        bool              `json:"deprecated"`
	ProducesViewState bool              `json:"produces_view_state"`
	CanRetry          bool              `json:"can_retry"`
}

type cachedAttribute struct {
	FQN           string `json:"fqn"`
	TypeTag       string `json:"type_tag"`
	Governed      bool   `json:"governed"`
	TrustClass    string `json:"trust_class"`
	SecurityLabel string `json:"security_label"`
	Deprecated    bool   `json:"deprecated"`
}

type cacheFile struct {
	Verbs      []cachedVerb      `json:"verbs"`
	Attributes []cachedAttribute `json:"attributes"`
}

// LoadFromFile reads a compiled registry cache from disk. The core only
// reads this file; it never writes it.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read cache %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes decodes a compiled registry cache from an in-memory blob.
func LoadFromBytes(data []byte) (*Registry, error) {
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("registry: decode cache: %w", err)
	}
	r := New()
	for _, cv := range cf.Verbs {
		status := Active
		if cv.Deprecated {
			status = Deprecated
		}
		r.Register(VerbDef{
			Domain:            cv.Domain,
			Verb:              cv.Verb,
			RequiredArgs:      cv.Required,
			OptionalArgs:      cv.Optional,
			Args:              cv.Args,
			Produces:          RefType(cv.Produces),
			Status:            status,
			ProducesViewState: cv.ProducesViewState,
			CanRetry:          cv.CanRetry,
		})
	}
	for _, ca := range cf.Attributes {
		tier := Operational
		if ca.Governed {
			tier = Governed
		}
		status := Active
		if ca.Deprecated {
			status = Deprecated
		}
		r.RegisterAttribute(AttributeDef{
			FQN:           ca.FQN,
			TypeTag:       ca.TypeTag,
			Tier:          tier,
			TrustClass:    ca.TrustClass,
			SecurityLabel: ca.SecurityLabel,
			Status:        status,
		})
	}
	return r, nil
}

// Builtin returns a baseline registry covering the onboarding/KYC verbs
// named in the specification's concrete scenarios (cbu.ensure,
// cbu.assign-role, and their sibling query verbs), for use when no
// external cache file is configured — e.g. in tests and in mock mode.
func Builtin() *Registry {
	r := New()

	r.Register(VerbDef{
		Domain:       "cbu",
		Verb:         "ensure",
		RequiredArgs: []string{"name", "jurisdiction"},
		OptionalArgs: []string{"description", "nature-purpose"},
		Args: map[string]ArgDef{
			"name":           {Name: "name", TypeTag: "string"},
			"jurisdiction":   {Name: "jurisdiction", TypeTag: "string", Lookup: &LookupConfig{RefType: RefJurisdiction}},
			"description":    {Name: "description", TypeTag: "string"},
			"nature-purpose": {Name: "nature-purpose", TypeTag: "string"},
		},
		Produces:          RefCbu,
		ProducesViewState: true,
		CanRetry:          true,
	})

	r.Register(VerbDef{
		Domain:       "cbu",
		Verb:         "assign-role",
		RequiredArgs: []string{"cbu-id", "entity-id", "role"},
		Args: map[string]ArgDef{
			"cbu-id":    {Name: "cbu-id", TypeTag: "string", Lookup: &LookupConfig{RefType: RefCbu}},
			"entity-id": {Name: "entity-id", TypeTag: "string", Lookup: &LookupConfig{RefType: RefEntity}},
			"role":      {Name: "role", TypeTag: "string", Lookup: &LookupConfig{RefType: RefRole}},
		},
		ProducesViewState: true,
	})

	r.Register(VerbDef{
		Domain:       "cbu",
		Verb:         "get",
		RequiredArgs: []string{"cbu-id"},
		Args: map[string]ArgDef{
			"cbu-id": {Name: "cbu-id", TypeTag: "string", Lookup: &LookupConfig{RefType: RefCbu}},
		},
	})

	r.Register(VerbDef{
		Domain: "cbu",
		Verb:   "list",
	})

	r.Register(VerbDef{
		Domain:       "entity",
		Verb:         "ensure",
		RequiredArgs: []string{"name", "entity-type"},
		Args: map[string]ArgDef{
			"name":        {Name: "name", TypeTag: "string"},
			"entity-type": {Name: "entity-type", TypeTag: "string", Lookup: &LookupConfig{RefType: RefEntityType}},
		},
		Produces:          RefEntity,
		ProducesViewState: true,
	})

	r.Register(VerbDef{
		Domain:       "entity",
		Verb:         "get",
		RequiredArgs: []string{"entity-id"},
		Args: map[string]ArgDef{
			"entity-id": {Name: "entity-id", TypeTag: "string", Lookup: &LookupConfig{RefType: RefEntity}},
		},
	})

	r.Register(VerbDef{
		Domain: "entity",
		Verb:   "list",
	})

	r.Register(VerbDef{
		Domain:       "document",
		Verb:         "catalog",
		RequiredArgs: []string{"cbu-id", "document-type"},
		Args: map[string]ArgDef{
			"cbu-id":        {Name: "cbu-id", TypeTag: "string", Lookup: &LookupConfig{RefType: RefCbu}},
			"document-type": {Name: "document-type", TypeTag: "string", Lookup: &LookupConfig{RefType: RefDocumentType}},
		},
		Produces:          RefDocument,
		ProducesViewState: true,
	})

	r.Register(VerbDef{
		Domain:       "document",
		Verb:         "extract",
		RequiredArgs: []string{"document-id"},
		Args: map[string]ArgDef{
			"document-id": {Name: "document-id", TypeTag: "string", Lookup: &LookupConfig{RefType: RefDocument}},
		},
	})

	r.Register(VerbDef{
		Domain:       "kyc",
		Verb:         "discover",
		RequiredArgs: []string{"cbu-id"},
		Args: map[string]ArgDef{
			"cbu-id": {Name: "cbu-id", TypeTag: "string", Lookup: &LookupConfig{RefType: RefCbu}},
		},
		ProducesViewState: true,
	})

	return r
}
