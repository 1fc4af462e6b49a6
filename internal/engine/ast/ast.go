// Package ast defines the typed tree produced by the parser and carried
// through validation into the compiled plan.
package ast

// Span is a byte range in the source text plus its derived line/column.
// It is attached to every node and carried through to diagnostics.
type Span struct {
	Offset int
	Length int
	Line   int
	Column int
}

// End returns the offset one past the last byte covered by the span.
func (s Span) End() int {
	return s.Offset + s.Length
}

// Program is an ordered sequence of statements.
type Program struct {
	Statements []Statement
}

// Statement is either a Comment or a VerbCall.
type Statement interface {
	statementNode()
	Span() Span
}

// Comment is a `;`-to-end-of-line comment. It carries no semantic weight
// but is preserved so pretty-printing can round-trip.
type Comment struct {
	Text string
	Pos  Span
}

func (c *Comment) statementNode() {}
func (c *Comment) Span() Span     { return c.Pos }

// VerbCall is a single `(domain.verb ...)` form.
type VerbCall struct {
	Domain    string
	Verb      string
	Args      []Argument
	As        string // binding name from `:as @name`, empty if absent
	AsSpan    Span
	Pos       Span
}

func (v *VerbCall) statementNode() {}
func (v *VerbCall) Span() Span     { return v.Pos }

// FullVerb returns "domain.verb", the name the registry is keyed by.
func (v *VerbCall) FullVerb() string {
	if v.Domain == "" {
		return v.Verb
	}
	return v.Domain + "." + v.Verb
}

// Argument is a single `:key value` pair inside a verb call. Order of
// appearance is preserved.
type Argument struct {
	Key      string
	KeySpan  Span
	Value    Value
	ValSpan  Span
}

// ValueKind discriminates the Value sum type.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueInteger
	ValueDecimal
	ValueBoolean
	ValueNull
	ValueList
	ValueMap
	ValueSymbol    // @name
	ValueTypedRef  // #attr:<uuid> / #doc:<uuid>
	ValueNestedCall
)

// Value is the sum type carried by an Argument before resolution.
type Value struct {
	Kind ValueKind
	Pos  Span

	Str     string // ValueString, ValueSymbol (name without @), ValueTypedRef (kind:uuid)
	Int     int64
	Dec     string // decimal kept as its literal text to avoid float rounding
	Bool    bool
	List    []Value
	Map     []MapEntry
	Nested  *VerbCall
}

// MapEntry preserves insertion order for ValueMap.
type MapEntry struct {
	Key      string
	KeySpan  Span
	Value    Value
}
