package compiler

import (
	"github.com/mna/ember/lang/heap"
	"github.com/mna/ember/lang/token"
)

func (p *Parser) declaration() {
	switch {
	case p.match(token.FUNC):
		p.funcDeclaration()
	case p.match(token.CLASS):
		p.classDeclaration()
	case p.match(token.LET):
		p.varDeclaration()
	default:
		p.statement()
	}
	if p.panic {
		p.sync()
	}
}

func (p *Parser) statement() {
	switch {
	case p.match(token.IF):
		p.ifStatement()
	case p.match(token.RETURN):
		p.returnStatement()
	case p.match(token.WHILE):
		p.whileStatement()
	case p.match(token.FOR):
		p.forStatement()
	case p.match(token.MATCH):
		p.matchStatement()
	case p.match(token.LBRACE):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
		p.match(token.SEMI)
	}
}

func (p *Parser) block() {
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.declaration()
	}
	p.consume(token.RBRACE, "Expected '}' after block.")
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.emitOp(heap.OpPop)
}

// --- variable declaration ---

func (p *Parser) declareVariable() {
	c := p.cur
	if c.scopeDepth == 0 {
		return
	}
	name := p.previous
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if identsEqual(name, l.name) {
			p.error("Duplicate variable in scope.")
		}
	}
	p.addLocal(name)
}

func (p *Parser) addLocal(name tok) {
	c := p.cur
	if c.localCount == maxLocals {
		p.error("Too many locals in function.")
		return
	}
	l := &c.locals[c.localCount]
	c.localCount++
	l.name = name
	l.depth = -1
	l.isCaptured = false
}

func (p *Parser) markInitialized() {
	c := p.cur
	if c.scopeDepth == 0 {
		return
	}
	c.locals[c.localCount-1].depth = c.scopeDepth
}

func (p *Parser) parseVariable(msg string) byte {
	p.consume(token.IDENT, msg)
	p.declareVariable()
	if p.cur.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous)
}

func (p *Parser) defineVariable(global byte) {
	if p.cur.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOpByte(heap.OpDefGlobal, global)
}

func (p *Parser) varDeclaration() {
	global := p.parseVariable("Expected variable name.")
	name := p.previous
	if p.match(token.EQU) {
		// Guards a top-level `let x = x;` the same way a local's `depth ==
		// -1` guards `let x = x;` in a block: resolveLocal never sees globals,
		// so namedVariable's global fallback needs its own check here.
		isGlobal := p.cur.scopeDepth == 0
		if isGlobal {
			p.declaringGlobal = name.lexeme()
			p.declaringGlobalScope = p.cur
		}
		p.expression()
		if isGlobal {
			p.declaringGlobal = ""
			p.declaringGlobalScope = nil
		}
	} else {
		p.emitOp(heap.OpNil)
	}
	p.consume(token.SEMI, "Expected ';' after variable declaration.")
	p.defineVariable(global)
}

// --- functions, methods, classes ---

func (p *Parser) function(typ funcType) {
	c := &compiler{typ: typ, fn: p.heap.NewFunction(p.heap.InternString(p.previous.lexeme()))}
	p.pushCompiler(c)
	p.reserveSlotZero()
	p.beginScope()

	p.consume(token.LPAREN, "Expected '(' after function name.")
	if !p.check(token.RPAREN) {
		for {
			c.fn.Arity++
			if c.fn.Arity > 255 {
				p.errorAtCurrent("Cannot have more than 255 parameters.")
			}
			constant := p.parseVariable("Expected a parameter name.")
			p.defineVariable(constant)
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "Expected ')' after function parameters.")
	p.consume(token.LBRACE, "Expected a block after function parameters.")
	p.block()

	fn := p.endCompiler()
	p.emitOpByte(heap.OpClosure, p.makeConstant(heap.FromObj(fn)))
	for i := 0; i < fn.UpvalCount; i++ {
		if c.upvals[i].isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(c.upvals[i].index)
	}
}

func (p *Parser) funcDeclaration() {
	global := p.parseVariable("Expected a function name.")
	p.markInitialized()
	p.function(typeFunction)
	p.defineVariable(global)
}

func (p *Parser) method() {
	p.consume(token.IDENT, "Expected a method name.")
	nameTok := p.previous
	constant := p.identifierConstant(nameTok)
	typ := typeMethod
	if nameTok.lexeme() == "init" {
		typ = typeInitializer
	}
	p.function(typ)
	p.emitOpByte(heap.OpMethod, constant)
}

func (p *Parser) classDeclaration() {
	p.consume(token.IDENT, "Expected a class name.")
	className := p.previous
	nameConst := p.identifierConstant(p.previous)
	p.declareVariable()
	p.emitOpByte(heap.OpClass, nameConst)
	p.defineVariable(nameConst)

	cls := &classState{enclosing: p.cls}
	p.cls = cls

	if p.match(token.EXTENDS) {
		p.consume(token.IDENT, "Expected a superclass name.")
		variable(p, false)
		if identsEqual(className, p.previous) {
			p.error("Classes cannot inherit from themselves.")
		}
		p.beginScope()
		p.addLocal(syntheticToken("super"))
		p.defineVariable(0)
		p.namedVariable(className, false)
		p.emitOp(heap.OpInherit)
		cls.hasSuperclass = true
	}

	p.namedVariable(className, false)
	p.consume(token.LBRACE, "Expected '{' before class body.")
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		if p.match(token.FUNC) {
			p.method()
		} else {
			p.errorAtCurrent("Invalid class body contents.")
			break
		}
	}
	p.consume(token.RBRACE, "Expected '}' after class body.")
	p.emitOp(heap.OpPop)

	if cls.hasSuperclass {
		p.endScope()
	}
	p.cls = cls.enclosing
}

// --- control flow ---

func (p *Parser) ifStatement() {
	p.consume(token.LPAREN, "Expected '(' after 'if'.")
	p.expression()
	p.consume(token.RPAREN, "Expected ')' after condition.")

	thenJump := p.emitJump(heap.OpJmpFalse)
	p.emitOp(heap.OpPop)
	p.consume(token.LBRACE, "Expected a block after condition.")
	p.beginScope()
	p.block()
	elseJump := p.emitJump(heap.OpJmp)
	p.patchJump(thenJump)
	p.emitOp(heap.OpPop)
	p.endScope()

	if p.match(token.ELSE) {
		if p.match(token.IF) {
			p.ifStatement()
		} else {
			p.consume(token.LBRACE, "Expected a block after 'else'.")
			p.beginScope()
			p.block()
			p.endScope()
		}
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := len(p.chunk().Code)
	p.consume(token.LPAREN, "Expected '(' after 'while'.")
	p.expression()
	p.consume(token.RPAREN, "Expected ')' after condition.")

	exitJump := p.emitJump(heap.OpJmpFalse)
	p.emitOp(heap.OpPop)
	p.consume(token.LBRACE, "Expected a block after condition.")
	p.beginScope()
	p.block()
	p.emitLoop(loopStart)
	p.patchJump(exitJump)
	p.emitOp(heap.OpPop)
	p.endScope()
}

func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(token.LPAREN, "Expected '(' after 'for'.")
	switch {
	case p.match(token.SEMI):
		// no initializer
	case p.match(token.LET):
		p.varDeclaration()
	default:
		p.expressionStatement()
		p.consume(token.SEMI, "Expected ';' after loop expression.")
	}

	loopStart := len(p.chunk().Code)
	exitJump := -1
	if !p.match(token.SEMI) {
		p.expression()
		p.consume(token.SEMI, "Expected ';' after loop condition.")
		exitJump = p.emitJump(heap.OpJmpFalse)
		p.emitOp(heap.OpPop)
	}

	if !p.match(token.RPAREN) {
		bodyJump := p.emitJump(heap.OpJmp)
		incrStart := len(p.chunk().Code)
		p.expression()
		p.emitOp(heap.OpPop)
		p.consume(token.RPAREN, "Expected ')' after for clause.")
		p.emitLoop(loopStart)
		loopStart = incrStart
		p.patchJump(bodyJump)
	}

	p.consume(token.LBRACE, "Expected a block after for clause.")
	p.block()
	p.emitLoop(loopStart)
	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(heap.OpPop)
	}
	p.endScope()
}

func (p *Parser) returnStatement() {
	if p.cur.typ == typeScript {
		p.error("Cannot return from top-level.")
	}
	if p.match(token.SEMI) {
		p.emitReturn()
		return
	}
	if p.cur.typ == typeInitializer {
		p.error("Cannot return a value from an initializer.")
	}
	p.expression()
	p.consume(token.SEMI, "Expected ';' after return value.")
	p.emitOp(heap.OpReturn)
}

// matchStatement compiles `match (expr) { (with pat -> stmt)* (_ -> stmt)? }`.
// state: 0 = before any case, 1 = inside one or more `with` cases, 2 = after
// the default case.
func (p *Parser) matchStatement() {
	p.consume(token.LPAREN, "Expected '(' after 'match'.")
	p.expression()
	p.consume(token.RPAREN, "Expected ')' after value.")
	p.consume(token.LBRACE, "Expected '{' before cases.")

	state := 0
	var caseEnds []int
	previousCaseSkip := -1

	for !p.match(token.RBRACE) && !p.check(token.EOF) {
		if p.match(token.WITH) || p.match(token.UNDERSCORE) {
			caseKind := p.previous.kind
			if state == 2 {
				p.error("Cannot have another case after the default case.")
			}
			if state == 1 {
				caseEnds = append(caseEnds, p.emitJump(heap.OpJmp))
				p.patchJump(previousCaseSkip)
				p.emitOp(heap.OpPop)
			}
			if caseKind == token.WITH {
				state = 1
				p.emitOp(heap.OpDup)
				p.expression()
				p.consume(token.ARROW, "Expected '->' after each case.")
				p.emitOp(heap.OpEqu)
				previousCaseSkip = p.emitJump(heap.OpJmpFalse)
				p.emitOp(heap.OpPop)
			} else {
				state = 2
				p.consume(token.ARROW, "Expected '->' after the default case.")
				previousCaseSkip = -1
			}
			if len(caseEnds) >= maxCases {
				p.error("Too many cases in a match statement.")
			}
		} else {
			if state == 0 {
				p.error("Cannot have statements before any case.")
			}
			p.statement()
		}
	}

	if state == 0 {
		p.error("Cannot have an empty match statement.")
	}
	if state == 1 {
		p.patchJump(previousCaseSkip)
		p.emitOp(heap.OpPop)
	}
	if state == 2 && len(caseEnds) == 0 {
		p.error("Cannot have a default-only match statement.")
	}
	for _, end := range caseEnds {
		p.patchJump(end)
	}
	p.emitOp(heap.OpPop)
}
