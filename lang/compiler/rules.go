package compiler

import (
	"github.com/mna/ember/lang/heap"
	"github.com/mna/ember/lang/scanner"
	"github.com/mna/ember/lang/token"
)

// precedence mirrors the reference compiler's Precedence enum exactly;
// parsePrecedence(p) parses everything binding at least as tightly as p.
type precedence uint8

const (
	precNone precedence = iota
	precAssign
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precSub // indexing: a[i]
	precCall
	precPrimary
)

type parseFn func(p *Parser, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

var rules map[token.Token]parseRule

func init() {
	rules = map[token.Token]parseRule{
		token.LPAREN:   {grouping, call, precCall},
		token.LBRACK:   {list, sub, precSub},
		token.DOT:      {nil, dot, precCall},
		token.MINUS:    {unary, binary, precTerm},
		token.PLUS:     {nil, binary, precTerm},
		token.SLASH:    {nil, binary, precFactor},
		token.STAR:     {nil, binary, precFactor},
		token.CARET:    {nil, binary, precFactor},
		token.PERCENT:  {nil, binary, precFactor},
		token.BANG:     {unary, nil, precNone},
		token.BANG_EQU: {nil, binary, precEquality},
		token.EQU_EQU:  {nil, binary, precEquality},
		token.GT:       {nil, binary, precComparison},
		token.GT_EQU:   {nil, binary, precComparison},
		token.LT:       {nil, binary, precComparison},
		token.LT_EQU:   {nil, binary, precComparison},
		token.IDENT:    {variable, nil, precNone},
		token.STRING:   {strLit, nil, precNone},
		token.FLOAT:    {number, nil, precNone},
		token.INT:      {number, nil, precNone},
		token.ANDAND:   {nil, and_, precAnd},
		token.OROR:     {nil, or_, precOr},
		token.FALSE:    {literal, nil, precNone},
		token.NIL:      {literal, nil, precNone},
		token.TRUE:     {literal, nil, precNone},
		token.SUPER:    {super_, nil, precNone},
		token.THIS:     {this_, nil, precNone},
	}
}

func getRule(k token.Token) parseRule {
	if r, ok := rules[k]; ok {
		return r
	}
	return parseRule{precedence: precNone}
}

// parsePrecedence is the Pratt loop: parse the prefix rule for the current
// token, then keep consuming infix rules whose precedence is at least
// prec. canAssign is threaded through so `=` is accepted only when this
// call is itself at or below assignment precedence.
func (p *Parser) parsePrecedence(prec precedence) {
	p.advance()
	rule := getRule(p.previous.kind)
	if rule.prefix == nil {
		p.error("Expected an expression.")
		return
	}
	canAssign := prec <= precAssign
	rule.prefix(p, canAssign)

	for prec <= getRule(p.current.kind).precedence {
		p.advance()
		infix := getRule(p.previous.kind).infix
		infix(p, canAssign)
	}

	if canAssign && p.match(token.EQU) {
		p.error("Invalid assignment target.")
	}
}

func (p *Parser) expression() { p.parsePrecedence(precAssign) }

func grouping(p *Parser, _ bool) {
	p.expression()
	p.consume(token.RPAREN, "Expected ')' after expression.")
}

func number(p *Parser, _ bool) {
	p.emitConstant(heap.Number(p.previous.val.Float))
}

func strLit(p *Parser, _ bool) {
	p.emitConstant(heap.FromObj(p.heap.InternString(p.previous.val.String)))
}

func literal(p *Parser, _ bool) {
	switch p.previous.kind {
	case token.FALSE:
		p.emitOp(heap.OpFalse)
	case token.NIL:
		p.emitOp(heap.OpNil)
	case token.TRUE:
		p.emitOp(heap.OpTrue)
	}
}

func unary(p *Parser, _ bool) {
	op := p.previous.kind
	p.parsePrecedence(precUnary)
	switch op {
	case token.BANG:
		p.emitOp(heap.OpNot)
	case token.MINUS:
		p.emitOp(heap.OpNegate)
	}
}

func binary(p *Parser, _ bool) {
	op := p.previous.kind
	rule := getRule(op)
	p.parsePrecedence(rule.precedence + 1)
	switch op {
	case token.BANG_EQU:
		p.emitOp(heap.OpNotEqu)
	case token.EQU_EQU:
		p.emitOp(heap.OpEqu)
	case token.GT:
		p.emitOp(heap.OpGt)
	case token.GT_EQU:
		p.emitOp(heap.OpGtEqu)
	case token.LT:
		p.emitOp(heap.OpLt)
	case token.LT_EQU:
		p.emitOp(heap.OpLtEqu)
	case token.PLUS:
		p.emitOp(heap.OpAdd)
	case token.MINUS:
		p.emitOp(heap.OpSub)
	case token.STAR:
		p.emitOp(heap.OpMul)
	case token.CARET:
		p.emitOp(heap.OpPow)
	case token.PERCENT:
		p.emitOp(heap.OpMod)
	case token.SLASH:
		p.emitOp(heap.OpDiv)
	}
}

func and_(p *Parser, _ bool) {
	endJump := p.emitJump(heap.OpJmpFalse)
	p.emitOp(heap.OpPop)
	p.parsePrecedence(precAnd)
	p.patchJump(endJump)
}

func or_(p *Parser, _ bool) {
	elseJump := p.emitJump(heap.OpJmpFalse)
	endJump := p.emitJump(heap.OpJmp)
	p.patchJump(elseJump)
	p.emitOp(heap.OpPop)
	p.parsePrecedence(precOr)
	p.patchJump(endJump)
}

func (p *Parser) argList() byte {
	var argc int
	if !p.check(token.RPAREN) {
		for {
			p.expression()
			if argc == 255 {
				p.error("Cannot have more than 255 arguments.")
			}
			argc++
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "Expected ')' after arguments.")
	return byte(argc)
}

func call(p *Parser, _ bool) {
	argc := p.argList()
	p.emitOpByte(heap.OpCall, argc)
}

func dot(p *Parser, canAssign bool) {
	p.consume(token.IDENT, "Expected a property name after '.'.")
	name := p.identifierConstant(p.previous)
	switch {
	case canAssign && p.match(token.EQU):
		p.expression()
		p.emitOpByte(heap.OpSetProp, name)
	case p.match(token.LPAREN):
		argc := p.argList()
		p.emitOpByte(heap.OpInvoke, name)
		p.emitByte(argc)
	default:
		p.emitOpByte(heap.OpGetProp, name)
	}
}

func list(p *Parser, _ bool) {
	var count int
	if !p.check(token.RBRACK) {
		for {
			if p.check(token.RBRACK) {
				break
			}
			p.parsePrecedence(precOr)
			if count == 255 {
				p.error("Cannot have more than 255 items in a list.")
			}
			count++
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RBRACK, "Expected ']' after list.")
	p.emitOpByte(heap.OpBuildList, byte(count))
}

func sub(p *Parser, canAssign bool) {
	p.parsePrecedence(precOr)
	p.consume(token.RBRACK, "Expected ']' after index.")
	if canAssign && p.match(token.EQU) {
		p.expression()
		p.emitOp(heap.OpStoreSub)
	} else {
		p.emitOp(heap.OpIndexSub)
	}
}

// --- variable resolution ---

func identsEqual(a, b tok) bool { return a.lexeme() == b.lexeme() }

func (p *Parser) resolveLocal(c *compiler, name tok) int {
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if identsEqual(name, l.name) {
			if l.depth == -1 {
				p.error("Cannot read a local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (p *Parser) addUpval(c *compiler, index byte, isLocal bool) int {
	n := c.fn.UpvalCount
	for i := 0; i < n; i++ {
		uv := &c.upvals[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if n == maxLocals {
		p.error("Too many variables in function.")
		return 0
	}
	c.upvals[n] = upvalRef{index: index, isLocal: isLocal}
	c.fn.UpvalCount++
	return n
}

func (p *Parser) resolveUpval(c *compiler, name tok) int {
	if c.enclosing == nil {
		return -1
	}
	if l := p.resolveLocal(c.enclosing, name); l != -1 {
		c.enclosing.locals[l].isCaptured = true
		return p.addUpval(c, byte(l), true)
	}
	if u := p.resolveUpval(c.enclosing, name); u != -1 {
		return p.addUpval(c, byte(u), false)
	}
	return -1
}

func (p *Parser) namedVariable(name tok, canAssign bool) {
	var getOp, setOp heap.Opcode
	var arg int
	if i := p.resolveLocal(p.cur, name); i != -1 {
		arg, getOp, setOp = i, heap.OpGetLocal, heap.OpSetLocal
	} else if i := p.resolveUpval(p.cur, name); i != -1 {
		arg, getOp, setOp = i, heap.OpGetUpval, heap.OpSetUpval
	} else {
		if p.declaringGlobal != "" && p.cur == p.declaringGlobalScope && name.lexeme() == p.declaringGlobal {
			p.error("Cannot read a global variable in its own initializer.")
		}
		arg, getOp, setOp = int(p.identifierConstant(name)), heap.OpGetGlobal, heap.OpSetGlobal
	}
	if canAssign && p.match(token.EQU) {
		p.expression()
		p.emitOpByte(setOp, byte(arg))
	} else {
		p.emitOpByte(getOp, byte(arg))
	}
}

func variable(p *Parser, canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

func syntheticToken(text string) tok {
	return tok{kind: token.IDENT, val: scanner.Value{Raw: text}}
}

func this_(p *Parser, _ bool) {
	if p.cls == nil {
		p.error("Cannot use 'this' outside of a class.")
		return
	}
	variable(p, false)
}

func super_(p *Parser, _ bool) {
	if p.cls == nil {
		p.error("Cannot use 'super' outside of a class.")
	} else if !p.cls.hasSuperclass {
		p.error("Cannot use 'super' in a class with no superclass.")
	}
	p.consume(token.DOT, "Expected '.' after 'super'.")
	p.consume(token.IDENT, "Expected superclass method name.")
	name := p.identifierConstant(p.previous)
	p.namedVariable(syntheticToken("this"), false)
	if p.match(token.LPAREN) {
		argc := p.argList()
		p.namedVariable(syntheticToken("super"), false)
		p.emitOpByte(heap.OpInvokeSuper, name)
		p.emitByte(argc)
	} else {
		p.namedVariable(syntheticToken("super"), false)
		p.emitOpByte(heap.OpGetSuper, name)
	}
}
