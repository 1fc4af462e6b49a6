// Package validator walks a parsed Program, resolves every referenced
// entity/attribute/document/jurisdiction/role against the registry and
// resolver, builds the binding symbol table, and produces either a
// ValidatedProgram or a non-empty diagnostic list. It is the Go rendering
// of original_source/rust/src/dsl_v2/semantic_validator.rs.
package validator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"dsl-ob-poc/internal/engine/ast"
	"dsl-ob-poc/internal/engine/diagnostic"
	"dsl-ob-poc/internal/engine/registry"
	"dsl-ob-poc/internal/engine/resolver"
)

// ResolvedKind discriminates the ResolvedArg sum type.
type ResolvedKind int

const (
	ResolvedString ResolvedKind = iota
	ResolvedInteger
	ResolvedDecimal
	ResolvedBoolean
	ResolvedNull
	ResolvedRef
	ResolvedSymbol
	ResolvedList
	ResolvedMap
	ResolvedNestedCall
)

// ResolvedArg is the post-resolution replacement for ast.Value.
type ResolvedArg struct {
	Kind ResolvedKind

	Str  string
	Int  int64
	Dec  string
	Bool bool

	RefType registry.RefType
	RefID   uuid.UUID
	Display string

	SymbolName   string
	ResolvedType registry.RefType // inferred return type of the producing verb, if known

	List []ResolvedArg
	Map  map[string]ResolvedArg

	Nested *ValidatedStatement
}

// ValidatedArgument mirrors ast.Argument after resolution.
type ValidatedArgument struct {
	Key   string
	Value ResolvedArg
}

// ValidatedStatement mirrors ast.VerbCall after resolution.
type ValidatedStatement struct {
	Domain string
	Verb   string
	Args   []ValidatedArgument
	As     string
	Span   ast.Span
}

func (v *ValidatedStatement) FullVerb() string {
	if v.Domain == "" {
		return v.Verb
	}
	return v.Domain + "." + v.Verb
}

// SymbolInfo tracks a single `:as @name` binding through validation.
type SymbolInfo struct {
	RefType   registry.RefType
	DefinedAt ast.Span
	Used      bool
}

// ValidatedProgram is the output of a successful validation pass.
type ValidatedProgram struct {
	Statements []*ValidatedStatement
	Symbols    map[string]*SymbolInfo
}

// Intent narrows the permitted verb surface; zero value means unrestricted.
type Context struct {
	Intent                registry.Intent
	StrictOnUnusedBinding bool
}

// Validator ties together the Registry and Resolver for a single
// validation pass. It is re-usable across many Validate calls; each call
// clears the resolver's per-request cache first.
type Validator struct {
	reg *registry.Registry
	res *resolver.Resolver
}

func New(reg *registry.Registry, res *resolver.Resolver) *Validator {
	return &Validator{reg: reg, res: res}
}

// Validate walks prog and returns either a ValidatedProgram (diagnostics
// empty of errors, though warnings may be present) or a non-empty
// diagnostic list containing at least one Error.
func (v *Validator) Validate(ctx context.Context, prog *ast.Program, vctx Context) (*ValidatedProgram, diagnostic.List) {
	v.res.ClearCache()

	vp := &ValidatedProgram{Symbols: make(map[string]*SymbolInfo)}
	var diags diagnostic.List

	for _, stmt := range prog.Statements {
		call, ok := stmt.(*ast.VerbCall)
		if !ok {
			continue // comments carry no semantic weight
		}
		validated, stmtDiags := v.validateVerbCall(ctx, call, vctx, vp.Symbols)
		diags = append(diags, stmtDiags...)
		if validated != nil {
			vp.Statements = append(vp.Statements, validated)
		}
	}

	for name, sym := range vp.Symbols {
		if !sym.Used {
			sev := diagnostic.Warning
			if vctx.StrictOnUnusedBinding {
				sev = diagnostic.Error
			}
			diags = append(diags, diagnostic.New(sev, diagnostic.WUnusedBinding, sym.DefinedAt,
				fmt.Sprintf("binding @%s is never used", name)))
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return vp, diags
}

func (v *Validator) validateVerbCall(ctx context.Context, call *ast.VerbCall, vctx Context, symbols map[string]*SymbolInfo) (*ValidatedStatement, diagnostic.List) {
	var diags diagnostic.List
	full := call.FullVerb()

	def, ok := v.reg.FindVerbByFullName(full)
	if !ok {
		diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.EUnknownVerb, call.Pos,
			fmt.Sprintf("unknown verb %q", full)))
		return nil, diags
	}

	if def.Status == registry.Deprecated {
		diags = append(diags, diagnostic.New(diagnostic.Warning, diagnostic.WDeprecatedVerb, call.Pos,
			fmt.Sprintf("verb %q is deprecated", full)))
	}

	if vctx.Intent != "" && !registry.IsVerbAllowedForIntent(vctx.Intent, full) {
		diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.EVerbNotAllowedForIntent, call.Pos,
			fmt.Sprintf("verb %q is not allowed for intent %q", full, vctx.Intent)))
	}

	provided := make(map[string]bool, len(call.Args))
	for _, arg := range call.Args {
		provided[arg.Key] = true
	}
	for _, required := range def.RequiredArgs {
		if !provided[required] {
			diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.EMissingRequiredArg, call.Pos,
				fmt.Sprintf("missing required argument :%s for %q", required, full)))
		}
	}

	validated := &ValidatedStatement{Domain: call.Domain, Verb: call.Verb, Span: call.Pos}

	definedBefore := make(map[string]bool, len(symbols))
	for name := range symbols {
		definedBefore[name] = true
	}
	for _, arg := range call.Args {
		if !def.IsKnownArg(arg.Key) {
			d := diagnostic.New(diagnostic.Error, diagnostic.EUnknownArg, arg.KeySpan,
				fmt.Sprintf("unknown argument :%s for %q", arg.Key, full))
			if suggestion := closestName(arg.Key, def.ArgNames()); suggestion != "" {
				d = d.WithSuggestion(fmt.Sprintf("did you mean :%s?", suggestion), suggestion)
			}
			diags = append(diags, d)
			continue
		}

		argDef := def.Args[arg.Key]
		resolved, valDiags := v.validateValue(ctx, arg.Value, argDef, symbols)
		diags = append(diags, valDiags...)
		validated.Args = append(validated.Args, ValidatedArgument{Key: arg.Key, Value: resolved})
	}
	// A binding produced by a nested call and consumed within this same
	// statement is rejected (§9 open question b).
	for name, sym := range symbols {
		if !definedBefore[name] && sym.Used {
			diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.EDuplicateBinding, sym.DefinedAt,
				fmt.Sprintf("binding @%s is produced by a nested call and consumed in the same statement", name)))
		}
	}

	if call.As != "" {
		if existing, redefined := symbols[call.As]; redefined {
			_ = existing
			diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.EDuplicateBinding, call.AsSpan,
				fmt.Sprintf("binding @%s is already defined", call.As)))
		} else {
			returnType := def.Produces
			symbols[call.As] = &SymbolInfo{RefType: returnType, DefinedAt: call.AsSpan, Used: false}
		}
		validated.As = call.As
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return validated, diags
}

// validateValue implements §4.4.1: static shape plus resolver lookups.
func (v *Validator) validateValue(ctx context.Context, val ast.Value, argDef registry.ArgDef, symbols map[string]*SymbolInfo) (ResolvedArg, diagnostic.List) {
	var diags diagnostic.List

	switch val.Kind {
	case ast.ValueString:
		if argDef.Lookup != nil {
			result, err := v.res.Resolve(ctx, argDef.Lookup.RefType, val.Str)
			if err != nil {
				diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.EStoreUnavailable, val.Pos,
					fmt.Sprintf("resolver error: %v", err)))
				return ResolvedArg{}, diags
			}
			switch result.Kind {
			case resolver.Found, resolver.FoundByCode:
				return ResolvedArg{Kind: ResolvedRef, RefType: argDef.Lookup.RefType, RefID: result.ID, Display: result.Display}, diags
			case resolver.NotFound:
				diags = append(diags, notFoundDiagnostic(argDef.Lookup.RefType, val, result))
				return ResolvedArg{}, diags
			}
		}
		return ResolvedArg{Kind: ResolvedString, Str: val.Str}, diags

	case ast.ValueSymbol:
		sym, ok := symbols[val.Str]
		if !ok {
			diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.EUndefinedSymbol, val.Pos,
				fmt.Sprintf("undefined binding @%s", val.Str)))
			return ResolvedArg{}, diags
		}
		sym.Used = true
		return ResolvedArg{Kind: ResolvedSymbol, SymbolName: val.Str, ResolvedType: sym.RefType}, diags

	case ast.ValueTypedRef:
		refType, idText, ok := splitTypedRef(val.Str)
		if !ok {
			diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.ESyntax, val.Pos,
				fmt.Sprintf("malformed typed reference %q", val.Str)))
			return ResolvedArg{}, diags
		}
		result, err := v.res.Resolve(ctx, refType, idText)
		if err != nil {
			diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.EStoreUnavailable, val.Pos,
				fmt.Sprintf("resolver error: %v", err)))
			return ResolvedArg{}, diags
		}
		if result.Kind == resolver.NotFound {
			diags = append(diags, notFoundDiagnostic(refType, val, result))
			return ResolvedArg{}, diags
		}
		return ResolvedArg{Kind: ResolvedRef, RefType: refType, RefID: result.ID, Display: result.Display}, diags

	case ast.ValueNestedCall:
		// Recurse as a full statement; return a placeholder symbol so
		// downstream typing still works, per §4.4.1.
		nested, nestedDiags := v.validateVerbCall(ctx, val.Nested, Context{}, symbols)
		diags = append(diags, nestedDiags...)
		return ResolvedArg{Kind: ResolvedNestedCall, SymbolName: "_nested", Nested: nested}, diags

	case ast.ValueList:
		items := make([]ResolvedArg, 0, len(val.List))
		for _, item := range val.List {
			resolved, itemDiags := v.validateValue(ctx, item, argDef, symbols)
			diags = append(diags, itemDiags...)
			items = append(items, resolved)
		}
		return ResolvedArg{Kind: ResolvedList, List: items}, diags

	case ast.ValueMap:
		m := make(map[string]ResolvedArg, len(val.Map))
		for _, entry := range val.Map {
			resolved, entryDiags := v.validateValue(ctx, entry.Value, registry.ArgDef{}, symbols)
			diags = append(diags, entryDiags...)
			m[entry.Key] = resolved
		}
		return ResolvedArg{Kind: ResolvedMap, Map: m}, diags

	case ast.ValueInteger:
		return ResolvedArg{Kind: ResolvedInteger, Int: val.Int}, diags
	case ast.ValueDecimal:
		return ResolvedArg{Kind: ResolvedDecimal, Dec: val.Dec}, diags
	case ast.ValueBoolean:
		return ResolvedArg{Kind: ResolvedBoolean, Bool: val.Bool}, diags
	case ast.ValueNull:
		return ResolvedArg{Kind: ResolvedNull}, diags
	}

	diags = append(diags, diagnostic.New(diagnostic.Error, diagnostic.ESyntax, val.Pos, "unrecognized value shape"))
	return ResolvedArg{}, diags
}

// notFoundDiagnostic picks the type-specific diagnostic code for a
// resolver miss, per §4.4.1's list ("CbuNotFound", "EntityNotFound", etc).
func notFoundDiagnostic(refType registry.RefType, val ast.Value, result resolver.ResolveResult) diagnostic.Diagnostic {
	code := diagnostic.EEntityNotFound
	switch refType {
	case registry.RefCbu:
		code = diagnostic.ECbuNotFound
	case registry.RefDocument:
		code = diagnostic.EDocumentNotFound
	case registry.RefAttributeID:
		code = diagnostic.EUnknownAttributeID
	case registry.RefJurisdiction:
		code = diagnostic.EUnknownJurisdiction
	case registry.RefRole:
		code = diagnostic.EUnknownRole
	}
	d := diagnostic.New(diagnostic.Error, code, val.Pos, fmt.Sprintf("%s %q not found", refType, val.Str))
	for _, s := range result.Suggestions {
		d = d.WithSuggestion(fmt.Sprintf("did you mean %q?", s.Display), s.Display)
	}
	return d
}

func splitTypedRef(text string) (registry.RefType, string, bool) {
	idx := strings.Index(text, ":")
	if idx < 0 {
		return "", "", false
	}
	tag, id := text[:idx], text[idx+1:]
	switch tag {
	case "attr":
		return registry.RefAttributeID, id, true
	case "doc":
		return registry.RefDocument, id, true
	default:
		return "", "", false
	}
}

// closestName returns the best "did you mean" candidate for name among
// candidates, using Levenshtein distance with a loose cutoff, following
// the edit-distance approach the teacher's entity_resolver.go already
// uses for fuzzy entity matching.
func closestName(name string, candidates []string) string {
	type scored struct {
		name string
		dist int
	}
	var ranked []scored
	for _, c := range candidates {
		ranked = append(ranked, scored{c, levenshtein(name, c)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if len(ranked) == 0 {
		return ""
	}
	best := ranked[0]
	if best.dist > len(name)/2+2 {
		return ""
	}
	return best.name
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
