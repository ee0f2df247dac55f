// Package cparse is a small recursive-descent parser (precedence
// climbing for binary operators) over internal/token's token stream,
// grounded in the teacher's pkg/parser/native_parser.go cursor style:
// a token slice plus peek/expect helpers, no backtracking, no grammar
// engine. It produces internal/ast trees for the C subset described in
// SPEC_FULL.md §6.1.
package cparse

import (
	"fmt"

	"github.com/zstg/oxide/internal/ast"
	"github.com/zstg/oxide/internal/token"
)

// Parser holds parse state over one token stream.
type Parser struct {
	toks    []token.Token
	pos     int
	structs map[string]*ast.Type
}

// Parse lexes and parses src into a File.
func Parse(src string) (*ast.File, error) {
	toks, err := token.New(src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks, structs: map[string]*ast.Type{}}
	return p.parseFile()
}

func (p *Parser) cur() token.Token  { return p.toks[p.pos] }
func (p *Parser) kind() token.Kind  { return p.toks[p.pos].Kind }
func (p *Parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) at(k token.Kind) bool { return p.kind() == k }

func (p *Parser) expect(k token.Kind, what string) (token.Token, error) {
	if !p.at(k) {
		return token.Token{}, fmt.Errorf("cparse: line %d: expected %s", p.cur().Line, what)
	}
	return p.advance(), nil
}

func (p *Parser) accept(k token.Kind) bool {
	if p.at(k) {
		p.advance()
		return true
	}
	return false
}

// ---- top level ----

func (p *Parser) parseFile() (*ast.File, error) {
	f := &ast.File{}
	for !p.at(token.EOF) {
		if p.at(token.KwStruct) && p.peekIsStructDef() {
			if err := p.parseStructDef(); err != nil {
				return nil, err
			}
			continue
		}
		decl, err := p.parseTopDecl()
		if err != nil {
			return nil, err
		}
		f.Decls = append(f.Decls, decl)
	}
	return f, nil
}

// peekIsStructDef distinguishes `struct Foo { ... }` (a type definition)
// from `struct Foo *p;` (a use of a previously defined struct type).
func (p *Parser) peekIsStructDef() bool {
	save := p.pos
	defer func() { p.pos = save }()
	p.advance() // 'struct'
	if !p.at(token.Ident) {
		return false
	}
	p.advance()
	return p.at(token.LBrace)
}

func (p *Parser) parseStructDef() error {
	p.advance() // 'struct'
	name, err := p.expect(token.Ident, "struct tag")
	if err != nil {
		return err
	}
	if _, err := p.expect(token.LBrace, "'{'"); err != nil {
		return err
	}
	st := &ast.Type{Kind: ast.TStruct, Name: name.Text}
	offset := 0
	for !p.at(token.RBrace) {
		fieldType, err := p.parseTypeSpec()
		if err != nil {
			return err
		}
		for {
			fieldType2, fname, err := p.parseDeclarator(fieldType)
			if err != nil {
				return err
			}
			st.Fields = append(st.Fields, ast.StructField{Name: fname, Type: fieldType2, Offset: offset})
			offset += fieldType2.Size()
			if !p.accept(token.Comma) {
				break
			}
		}
		if _, err := p.expect(token.Semi, "';'"); err != nil {
			return err
		}
	}
	if _, err := p.expect(token.RBrace, "'}'"); err != nil {
		return err
	}
	if _, err := p.expect(token.Semi, "';'"); err != nil {
		return err
	}
	p.structs[name.Text] = st
	return nil
}

func (p *Parser) parseTopDecl() (ast.Node, error) {
	isExtern := p.accept(token.KwExtern)
	base, err := p.parseTypeSpec()
	if err != nil {
		return nil, err
	}
	typ, name, err := p.parseDeclarator(base)
	if err != nil {
		return nil, err
	}
	if p.at(token.LParen) {
		return p.parseFuncRest(name, typ)
	}
	g := &ast.GlobalDecl{Name: name, Type: typ, IsExtern: isExtern}
	if p.accept(token.Assign) {
		init, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		g.Init = init
	}
	if _, err := p.expect(token.Semi, "';'"); err != nil {
		return nil, err
	}
	return g, nil
}

func (p *Parser) parseFuncRest(name string, ret *ast.Type) (ast.Node, error) {
	if _, err := p.expect(token.LParen, "'('"); err != nil {
		return nil, err
	}
	var params []ast.Param
	for !p.at(token.RParen) {
		if p.at(token.KwVoid) && len(params) == 0 {
			save := p.pos
			p.advance()
			if p.at(token.RParen) {
				break
			}
			p.pos = save
		}
		ptype, err := p.parseTypeSpec()
		if err != nil {
			return nil, err
		}
		ptype2, pname, err := p.parseDeclarator(ptype)
		if err != nil {
			return nil, err
		}
		params = append(params, ast.Param{Name: pname, Type: ptype2})
		if !p.accept(token.Comma) {
			break
		}
	}
	if _, err := p.expect(token.RParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.FuncDecl{Name: name, Params: params, ReturnType: ret, Body: body}, nil
}

func (p *Parser) parseTypeSpec() (*ast.Type, error) {
	switch {
	case p.accept(token.KwInt):
		return &ast.Type{Kind: ast.TInt}, nil
	case p.accept(token.KwChar):
		return &ast.Type{Kind: ast.TChar}, nil
	case p.accept(token.KwVoid):
		return &ast.Type{Kind: ast.TVoid}, nil
	case p.accept(token.KwStruct):
		name, err := p.expect(token.Ident, "struct tag")
		if err != nil {
			return nil, err
		}
		st, ok := p.structs[name.Text]
		if !ok {
			return nil, fmt.Errorf("cparse: line %d: undefined struct %s", p.cur().Line, name.Text)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("cparse: line %d: expected type specifier", p.cur().Line)
	}
}

// parseDeclarator parses `*`-prefixed pointer stars, the identifier, and
// a trailing `[N]` array suffix, wrapping base accordingly.
func (p *Parser) parseDeclarator(base *ast.Type) (*ast.Type, string, error) {
	typ := base
	for p.accept(token.Star) {
		typ = &ast.Type{Kind: ast.TPointer, Base: typ}
	}
	name, err := p.expect(token.Ident, "identifier")
	if err != nil {
		return nil, "", err
	}
	if p.accept(token.LBracket) {
		n, err := p.expect(token.IntLit, "array length")
		if err != nil {
			return nil, "", err
		}
		if _, err := p.expect(token.RBracket, "']'"); err != nil {
			return nil, "", err
		}
		typ = &ast.Type{Kind: ast.TArray, Base: typ, ArrayLen: int(n.IVal)}
	}
	return typ, name.Text, nil
}

// ---- statements ----

func (p *Parser) parseBlock() (*ast.Block, error) {
	if _, err := p.expect(token.LBrace, "'{'"); err != nil {
		return nil, err
	}
	b := &ast.Block{}
	for !p.at(token.RBrace) {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		b.Stmts = append(b.Stmts, s)
	}
	if _, err := p.expect(token.RBrace, "'}'"); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *Parser) isTypeStart() bool {
	switch p.kind() {
	case token.KwInt, token.KwChar, token.KwVoid, token.KwStruct:
		return true
	}
	return false
}

func (p *Parser) parseStmt() (ast.Node, error) {
	switch {
	case p.at(token.LBrace):
		return p.parseBlock()
	case p.accept(token.KwIf):
		return p.parseIf()
	case p.accept(token.KwWhile):
		return p.parseWhile()
	case p.accept(token.KwFor):
		return p.parseFor()
	case p.accept(token.KwDo):
		return p.parseDoWhile()
	case p.accept(token.KwBreak):
		_, err := p.expect(token.Semi, "';'")
		return &ast.Break{}, err
	case p.accept(token.KwContinue):
		_, err := p.expect(token.Semi, "';'")
		return &ast.Continue{}, err
	case p.accept(token.KwReturn):
		if p.accept(token.Semi) {
			return &ast.Return{}, nil
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(token.Semi, "';'")
		return &ast.Return{Value: v}, err
	case p.isTypeStart():
		return p.parseLocalDecl()
	case p.accept(token.Semi):
		return &ast.ExprStmt{}, nil
	default:
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(token.Semi, "';'")
		return &ast.ExprStmt{X: x}, err
	}
}

func (p *Parser) parseLocalDecl() (ast.Node, error) {
	base, err := p.parseTypeSpec()
	if err != nil {
		return nil, err
	}
	typ, name, err := p.parseDeclarator(base)
	if err != nil {
		return nil, err
	}
	v := &ast.VarDecl{Name: name, Type: typ}
	if p.accept(token.Assign) {
		init, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		v.Init = init
	}
	_, err = p.expect(token.Semi, "';'")
	return v, err
}

func (p *Parser) parseIf() (ast.Node, error) {
	if _, err := p.expect(token.LParen, "'('"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen, "')'"); err != nil {
		return nil, err
	}
	then, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	n := &ast.If{Cond: cond, Then: then}
	if p.accept(token.KwElse) {
		els, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		n.Else = els
	}
	return n, nil
}

func (p *Parser) parseWhile() (ast.Node, error) {
	if _, err := p.expect(token.LParen, "'('"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &ast.While{Cond: cond, Body: body}, nil
}

func (p *Parser) parseFor() (ast.Node, error) {
	if _, err := p.expect(token.LParen, "'('"); err != nil {
		return nil, err
	}
	f := &ast.For{}
	if !p.at(token.Semi) {
		var err error
		if p.isTypeStart() {
			f.Init, err = p.parseLocalDecl()
			if err != nil {
				return nil, err
			}
		} else {
			f.Init, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.Semi, "';'"); err != nil {
				return nil, err
			}
		}
	} else {
		p.advance()
	}
	if !p.at(token.Semi) {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		f.Cond = cond
	}
	if _, err := p.expect(token.Semi, "';'"); err != nil {
		return nil, err
	}
	if !p.at(token.RParen) {
		step, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		f.Step = step
	}
	if _, err := p.expect(token.RParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	f.Body = body
	return f, nil
}

func (p *Parser) parseDoWhile() (ast.Node, error) {
	body, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.KwWhile, "'while'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LParen, "'('"); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen, "')'"); err != nil {
		return nil, err
	}
	_, err = p.expect(token.Semi, "';'")
	return &ast.DoWhile{Body: body, Cond: cond}, err
}

// ---- expressions (precedence climbing) ----

func (p *Parser) parseExpr() (ast.Node, error) { return p.parseAssignExpr() }

func (p *Parser) parseAssignExpr() (ast.Node, error) {
	lhs, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.accept(token.Assign) {
		rhs, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Assign{Target: lhs, Value: rhs}, nil
	}
	return lhs, nil
}

type binOp struct {
	kind token.Kind
	sym  string
}

func (p *Parser) parseBinLevel(next func() (ast.Node, error), ops []binOp) (ast.Node, error) {
	lhs, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, o := range ops {
			if p.at(o.kind) {
				matched = o.sym
				break
			}
		}
		if matched == "" {
			return lhs, nil
		}
		p.advance()
		rhs, err := next()
		if err != nil {
			return nil, err
		}
		lhs = &ast.Binary{Op: matched, Left: lhs, Right: rhs}
	}
}

func (p *Parser) parseLogicalOr() (ast.Node, error) {
	return p.parseBinLevel(p.parseLogicalAnd, []binOp{{token.PipePipe, "||"}})
}
func (p *Parser) parseLogicalAnd() (ast.Node, error) {
	return p.parseBinLevel(p.parseBitOr, []binOp{{token.AmpAmp, "&&"}})
}
func (p *Parser) parseBitOr() (ast.Node, error) {
	return p.parseBinLevel(p.parseBitXor, []binOp{{token.Pipe, "|"}})
}
func (p *Parser) parseBitXor() (ast.Node, error) {
	return p.parseBinLevel(p.parseBitAnd, []binOp{{token.Caret, "^"}})
}
func (p *Parser) parseBitAnd() (ast.Node, error) {
	return p.parseBinLevel(p.parseEquality, []binOp{{token.Amp, "&"}})
}
func (p *Parser) parseEquality() (ast.Node, error) {
	return p.parseBinLevel(p.parseRelational, []binOp{{token.EqEq, "=="}, {token.NotEq, "!="}})
}
func (p *Parser) parseRelational() (ast.Node, error) {
	return p.parseBinLevel(p.parseShift, []binOp{
		{token.Lt, "<"}, {token.Le, "<="}, {token.Gt, ">"}, {token.Ge, ">="},
	})
}
func (p *Parser) parseShift() (ast.Node, error) {
	return p.parseBinLevel(p.parseAdditive, []binOp{{token.Shl, "<<"}, {token.Shr, ">>"}})
}
func (p *Parser) parseAdditive() (ast.Node, error) {
	return p.parseBinLevel(p.parseMultiplicative, []binOp{{token.Plus, "+"}, {token.Minus, "-"}})
}
func (p *Parser) parseMultiplicative() (ast.Node, error) {
	return p.parseBinLevel(p.parseUnary, []binOp{
		{token.Star, "*"}, {token.Slash, "/"}, {token.Percent, "%"},
	})
}

func (p *Parser) parseUnary() (ast.Node, error) {
	switch {
	case p.accept(token.Minus):
		x, err := p.parseUnary()
		return &ast.Unary{Op: "-", Operand: x}, err
	case p.accept(token.Bang):
		x, err := p.parseUnary()
		return &ast.Unary{Op: "!", Operand: x}, err
	case p.accept(token.Tilde):
		x, err := p.parseUnary()
		return &ast.Unary{Op: "~", Operand: x}, err
	case p.accept(token.Amp):
		x, err := p.parseUnary()
		return &ast.Unary{Op: "&", Operand: x}, err
	case p.accept(token.Star):
		x, err := p.parseUnary()
		return &ast.Unary{Op: "*", Operand: x}, err
	case p.accept(token.PlusPlus):
		x, err := p.parseUnary()
		return &ast.Unary{Op: "++pre", Operand: x}, err
	case p.accept(token.MinusMinus):
		x, err := p.parseUnary()
		return &ast.Unary{Op: "--pre", Operand: x}, err
	default:
		return p.parsePostfix()
	}
}

func (p *Parser) parsePostfix() (ast.Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept(token.LBracket):
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RBracket, "']'"); err != nil {
				return nil, err
			}
			x = &ast.Index{Array: x, Idx: idx}
		case p.accept(token.Dot):
			name, err := p.expect(token.Ident, "field name")
			if err != nil {
				return nil, err
			}
			x = &ast.Member{Base: x, Field: name.Text}
		case p.accept(token.Arrow):
			name, err := p.expect(token.Ident, "field name")
			if err != nil {
				return nil, err
			}
			x = &ast.Member{Base: x, Field: name.Text, Arrow: true}
		case p.accept(token.PlusPlus):
			x = &ast.Unary{Op: "++post", Operand: x}
		case p.accept(token.MinusMinus):
			x = &ast.Unary{Op: "--post", Operand: x}
		default:
			return x, nil
		}
	}
}

func (p *Parser) parsePrimary() (ast.Node, error) {
	switch {
	case p.at(token.IntLit), p.at(token.CharLit):
		t := p.advance()
		return &ast.IntLit{Value: t.IVal}, nil
	case p.at(token.StringLit):
		t := p.advance()
		return &ast.StringLit{Value: t.SVal}, nil
	case p.accept(token.LParen):
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(token.RParen, "')'")
		return x, err
	case p.accept(token.KwSizeof):
		if _, err := p.expect(token.LParen, "'('"); err != nil {
			return nil, err
		}
		typ, err := p.parseTypeSpec()
		if err != nil {
			return nil, err
		}
		for p.accept(token.Star) {
			typ = &ast.Type{Kind: ast.TPointer, Base: typ}
		}
		if _, err := p.expect(token.RParen, "')'"); err != nil {
			return nil, err
		}
		return &ast.IntLit{Value: int64(typ.Size())}, nil
	case p.at(token.Ident):
		name := p.advance().Text
		if p.accept(token.LParen) {
			var args []ast.Node
			for !p.at(token.RParen) {
				a, err := p.parseAssignExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if !p.accept(token.Comma) {
					break
				}
			}
			if _, err := p.expect(token.RParen, "')'"); err != nil {
				return nil, err
			}
			return &ast.Call{Callee: name, Args: args}, nil
		}
		return &ast.Ident{Name: name}, nil
	default:
		return nil, fmt.Errorf("cparse: line %d: unexpected token in expression", p.cur().Line)
	}
}
