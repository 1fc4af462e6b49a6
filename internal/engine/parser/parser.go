// Package parser turns DSL source text into a Program AST. Parsing is
// purely syntactic and never consults the database.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"dsl-ob-poc/internal/engine/ast"
	"dsl-ob-poc/internal/engine/lexer"
)

// Parser holds the token stream for a single parse.
type Parser struct {
	src    string
	lex    *lexer.Lexer
	cur    lexer.Token
	peeked *lexer.Token
}

// Parse lexes and parses a full program. The returned *lexer.Error carries
// a span and short message per the parser's contract.
func Parse(src string) (*ast.Program, error) {
	p := &Parser{src: src, lex: lexer.New(src)}

	prog := &ast.Program{}
	for {
		// Top-level tokens are read directly from the lexer (not via the
		// comment-filtering p.next()) so leading/interstitial comments are
		// preserved as Comment statements.
		tok, err := p.lex.Next()
		if err != nil {
			return nil, err
		}
		if tok.Kind == lexer.TokenEOF {
			break
		}
		if tok.Kind == lexer.TokenComment {
			prog.Statements = append(prog.Statements, &ast.Comment{Text: tok.Text, Pos: tok.Span})
			continue
		}
		p.cur = tok
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		prog.Statements = append(prog.Statements, stmt)
	}
	return prog, nil
}

// next advances to the next non-comment token. Comments appearing inside
// a verb call (between arguments) are discarded rather than preserved as
// statements; only top-level comments become Comment nodes.
func (p *Parser) next() error {
	for {
		if p.peeked != nil {
			p.cur = *p.peeked
			p.peeked = nil
			return nil
		}
		tok, err := p.lex.Next()
		if err != nil {
			return err
		}
		if tok.Kind == lexer.TokenComment {
			continue
		}
		p.cur = tok
		return nil
	}
}

func (p *Parser) expect(kind lexer.TokenKind, what string) (lexer.Token, error) {
	if p.cur.Kind != kind {
		return lexer.Token{}, &lexer.Error{
			Code:    "E_SYNTAX",
			Message: fmt.Sprintf("expected %s, found %q", what, p.cur.Text),
			Span:    p.cur.Span,
		}
	}
	tok := p.cur
	if err := p.next(); err != nil {
		return lexer.Token{}, err
	}
	return tok, nil
}

func (p *Parser) parseStatement() (ast.Statement, error) {
	if p.cur.Kind != lexer.TokenLParen {
		return nil, &lexer.Error{
			Code:    "E_SYNTAX",
			Message: fmt.Sprintf("expected '(' to start a statement, found %q", p.cur.Text),
			Span:    p.cur.Span,
		}
	}
	call, err := p.parseVerbCall()
	if err != nil {
		return nil, err
	}
	return call, nil
}

// parseVerbCall parses `(domain.verb :k v ... :as @name)`. The current
// token must be the opening '('.
func (p *Parser) parseVerbCall() (*ast.VerbCall, error) {
	start := p.cur.Span
	if _, err := p.expect(lexer.TokenLParen, "'('"); err != nil {
		return nil, err
	}

	identTok, err := p.expect(lexer.TokenIdent, "verb name")
	if err != nil {
		return nil, err
	}
	domain, verb := splitVerb(identTok.Text)

	call := &ast.VerbCall{Domain: domain, Verb: verb, Pos: start}
	seenKeys := map[string]bool{}

	for p.cur.Kind == lexer.TokenKeyword || p.cur.Kind == lexer.TokenAs {
		if p.cur.Kind == lexer.TokenAs {
			asSpan := p.cur.Span
			if err := p.next(); err != nil {
				return nil, err
			}
			sym, err := p.expect(lexer.TokenSymbol, "symbol after ':as'")
			if err != nil {
				return nil, &lexer.Error{
					Code:    "E_EXPECTED_SYMBOL_AFTER_AS",
					Message: "expected a '@name' symbol after ':as'",
					Span:    asSpan,
				}
			}
			call.As = sym.Text
			call.AsSpan = sym.Span
			continue
		}

		keyTok := p.cur
		if err := p.next(); err != nil {
			return nil, err
		}
		if seenKeys[keyTok.Text] {
			return nil, &lexer.Error{
				Code:    "E_DUPLICATE_ARG_KEY",
				Message: fmt.Sprintf("duplicate argument ':%s'", keyTok.Text),
				Span:    keyTok.Span,
			}
		}
		seenKeys[keyTok.Text] = true

		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, ast.Argument{
			Key:     keyTok.Text,
			KeySpan: keyTok.Span,
			Value:   val,
			ValSpan: val.Pos,
		})
	}

	closeTok, err := p.expect(lexer.TokenRParen, "')'")
	if err != nil {
		return nil, err
	}
	call.Pos.Length = closeTok.Span.End() - start.Offset
	return call, nil
}

func (p *Parser) parseValue() (ast.Value, error) {
	switch p.cur.Kind {
	case lexer.TokenString:
		tok := p.cur
		if err := p.next(); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValueString, Str: tok.Text, Pos: tok.Span}, nil

	case lexer.TokenInteger:
		tok := p.cur
		if err := p.next(); err != nil {
			return ast.Value{}, err
		}
		n, convErr := strconv.ParseInt(tok.Text, 10, 64)
		if convErr != nil {
			return ast.Value{}, &lexer.Error{Code: "E_SYNTAX", Message: "invalid integer literal", Span: tok.Span}
		}
		return ast.Value{Kind: ast.ValueInteger, Int: n, Pos: tok.Span}, nil

	case lexer.TokenDecimal:
		tok := p.cur
		if err := p.next(); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValueDecimal, Dec: tok.Text, Pos: tok.Span}, nil

	case lexer.TokenBool:
		tok := p.cur
		if err := p.next(); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValueBoolean, Bool: tok.Text == "true", Pos: tok.Span}, nil

	case lexer.TokenNull:
		tok := p.cur
		if err := p.next(); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValueNull, Pos: tok.Span}, nil

	case lexer.TokenSymbol:
		tok := p.cur
		if err := p.next(); err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValueSymbol, Str: tok.Text, Pos: tok.Span}, nil

	case lexer.TokenIdent:
		// A typed reference is written as e.g. attr:<uuid> or doc:<uuid>.
		tok := p.cur
		if strings.Contains(tok.Text, ":") {
			if err := p.next(); err != nil {
				return ast.Value{}, err
			}
			return ast.Value{Kind: ast.ValueTypedRef, Str: tok.Text, Pos: tok.Span}, nil
		}
		return ast.Value{}, &lexer.Error{
			Code:    "E_SYNTAX",
			Message: fmt.Sprintf("unexpected bare identifier %q as value", tok.Text),
			Span:    tok.Span,
		}

	case lexer.TokenLBracket:
		return p.parseList()

	case lexer.TokenLBrace:
		return p.parseMap()

	case lexer.TokenLParen:
		start := p.cur.Span
		nested, err := p.parseVerbCall()
		if err != nil {
			return ast.Value{}, err
		}
		return ast.Value{Kind: ast.ValueNestedCall, Nested: nested, Pos: start}, nil

	default:
		return ast.Value{}, &lexer.Error{
			Code:    "E_SYNTAX",
			Message: fmt.Sprintf("expected a value, found %q", p.cur.Text),
			Span:    p.cur.Span,
		}
	}
}

func (p *Parser) parseList() (ast.Value, error) {
	start := p.cur.Span
	if _, err := p.expect(lexer.TokenLBracket, "'['"); err != nil {
		return ast.Value{}, err
	}
	var items []ast.Value
	for p.cur.Kind != lexer.TokenRBracket {
		v, err := p.parseValue()
		if err != nil {
			return ast.Value{}, err
		}
		items = append(items, v)
	}
	end, err := p.expect(lexer.TokenRBracket, "']'")
	if err != nil {
		return ast.Value{}, err
	}
	start.Length = end.Span.End() - start.Offset
	return ast.Value{Kind: ast.ValueList, List: items, Pos: start}, nil
}

func (p *Parser) parseMap() (ast.Value, error) {
	start := p.cur.Span
	if _, err := p.expect(lexer.TokenLBrace, "'{'"); err != nil {
		return ast.Value{}, err
	}
	var entries []ast.MapEntry
	for p.cur.Kind != lexer.TokenRBrace {
		keyTok, err := p.expect(lexer.TokenKeyword, "map key")
		if err != nil {
			return ast.Value{}, err
		}
		val, err := p.parseValue()
		if err != nil {
			return ast.Value{}, err
		}
		entries = append(entries, ast.MapEntry{Key: keyTok.Text, KeySpan: keyTok.Span, Value: val})
	}
	end, err := p.expect(lexer.TokenRBrace, "'}'")
	if err != nil {
		return ast.Value{}, err
	}
	start.Length = end.Span.End() - start.Offset
	return ast.Value{Kind: ast.ValueMap, Map: entries, Pos: start}, nil
}

// splitVerb splits "domain.verb" into its two parts. A name with no '.'
// is treated as a bare verb with an empty domain.
func splitVerb(name string) (domain, verb string) {
	idx := strings.Index(name, ".")
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

// Pretty renders a Program back to DSL source text, used by the parser
// round-trip property test.
func Pretty(prog *ast.Program) string {
	var b strings.Builder
	for i, stmt := range prog.Statements {
		if i > 0 {
			b.WriteString("\n")
		}
		switch s := stmt.(type) {
		case *ast.Comment:
			b.WriteString("; " + s.Text)
		case *ast.VerbCall:
			prettyVerbCall(&b, s)
		}
	}
	return b.String()
}

func prettyVerbCall(b *strings.Builder, v *ast.VerbCall) {
	b.WriteString("(")
	b.WriteString(v.FullVerb())
	for _, arg := range v.Args {
		b.WriteString(" :")
		b.WriteString(arg.Key)
		b.WriteString(" ")
		prettyValue(b, arg.Value)
	}
	if v.As != "" {
		b.WriteString(" :as @")
		b.WriteString(v.As)
	}
	b.WriteString(")")
}

func prettyValue(b *strings.Builder, v ast.Value) {
	switch v.Kind {
	case ast.ValueString:
		fmt.Fprintf(b, "%q", v.Str)
	case ast.ValueInteger:
		fmt.Fprintf(b, "%d", v.Int)
	case ast.ValueDecimal:
		b.WriteString(v.Dec)
	case ast.ValueBoolean:
		if v.Bool {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case ast.ValueNull:
		b.WriteString("null")
	case ast.ValueSymbol:
		b.WriteString("@" + v.Str)
	case ast.ValueTypedRef:
		b.WriteString(v.Str)
	case ast.ValueList:
		b.WriteString("[")
		for i, item := range v.List {
			if i > 0 {
				b.WriteString(" ")
			}
			prettyValue(b, item)
		}
		b.WriteString("]")
	case ast.ValueMap:
		b.WriteString("{")
		for i, entry := range v.Map {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(":" + entry.Key + " ")
			prettyValue(b, entry.Value)
		}
		b.WriteString("}")
	case ast.ValueNestedCall:
		prettyVerbCall(b, v.Nested)
	}
}
