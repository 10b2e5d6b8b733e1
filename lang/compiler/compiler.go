// Package compiler implements ember's single-pass Pratt compiler: it scans
// source directly into bytecode, with no intermediate syntax tree.
package compiler

import (
	gscanner "go/scanner"
	gotoken "go/token"

	"github.com/mna/ember/lang/heap"
	"github.com/mna/ember/lang/scanner"
	"github.com/mna/ember/lang/token"
)

const maxLocals = 256
const maxCases = 256

type funcType uint8

const (
	typeFunction funcType = iota
	typeInitializer
	typeMethod
	typeScript
)

// tok bundles a token kind with the scanner's value (lexeme text and
// position), so the compiler doesn't need to re-derive a lexeme from
// offsets the way a FileSet-based scanner would require.
type tok struct {
	kind token.Token
	val  scanner.Value
}

func (t tok) lexeme() string {
	if t.val.Raw != "" {
		return t.val.Raw
	}
	return t.kind.String()
}

type local struct {
	name       tok
	depth      int
	isCaptured bool
}

type upvalRef struct {
	index   uint8
	isLocal bool
}

// classState tracks the enclosing chain of class bodies being compiled, so
// `super`/`this` can validate their context and classDeclaration can detect
// self-inheritance.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// compiler is one compilation context: one per function body (including
// the top-level script), chained through enclosing to support nested
// function/closure compilation.
type compiler struct {
	enclosing *compiler
	fn        *heap.Function
	typ       funcType

	locals     [maxLocals]local
	localCount int
	upvals     [maxLocals]upvalRef
	scopeDepth int
}

// MarkRoots implements heap.RootMarker: the in-flight Function chain must
// survive a GC triggered by string interning mid-compile, mirroring the
// reference compiler's markCompilerRoots.
func (c *compiler) MarkRoots(h *heap.Heap) {
	for cc := c; cc != nil; cc = cc.enclosing {
		h.MarkExternal(cc.fn)
	}
}

// Parser drives one compilation from source text to a top-level Function.
// It owns the scanner, the current/previous token pair, the compiler
// context stack (via `cur`), and the two-flag (err/panic) error protocol
// described in the language's error-handling design.
type Parser struct {
	heap *heap.Heap
	scan scanner.Scanner

	cur  *compiler
	cls  *classState

	previous tok
	current  tok

	// declaringGlobal names the global currently being initialized by a
	// top-level `let`, so namedVariable can reject a self-reference in its
	// own initializer the same way resolveLocal rejects one for a local.
	// Empty when no global initializer is in progress. declaringGlobalScope
	// is the compiler active when the initializer expression started, so a
	// name read inside a nested func/class body (deferred to call time, not
	// evaluated now) doesn't false-trigger the guard — only a direct read
	// in the initializer's own compiler counts as a true self-reference.
	declaringGlobal      string
	declaringGlobalScope *compiler

	errs  gscanner.ErrorList
	panic bool
}

// New returns a Parser ready to Compile source against the shared heap h.
func New(h *heap.Heap) *Parser {
	return &Parser{heap: h}
}

// Compile compiles src as a top-level script and returns the resulting
// Function. If any compile error occurred, the returned error wraps the
// accumulated go/scanner.ErrorList (sorted) and fn is nil.
func (p *Parser) Compile(src []byte) (*heap.Function, error) {
	p.errs = nil
	p.panic = false
	p.scan.Init(src, func(pos gotoken.Position, msg string) {
		p.errs.Add(pos, msg)
	})

	top := &compiler{typ: typeScript, fn: p.heap.NewFunction(nil)}
	p.pushCompiler(top)
	p.reserveSlotZero()

	p.advance()
	for !p.match(token.EOF) {
		p.declaration()
	}
	fn := p.endCompiler()

	p.errs.Sort()
	if err := p.errs.Err(); err != nil {
		return nil, err
	}
	return fn, nil
}

func (p *Parser) pushCompiler(c *compiler) {
	c.enclosing = p.cur
	p.cur = c
	p.heap.RegisterRoots(c)
}

func (p *Parser) reserveSlotZero() {
	c := p.cur
	l := &c.locals[c.localCount]
	c.localCount++
	l.depth = 0
	l.isCaptured = false
	if c.typ != typeFunction {
		l.name = tok{kind: token.THIS, val: scanner.Value{Raw: "this"}}
	} else {
		l.name = tok{kind: token.IDENT, val: scanner.Value{Raw: ""}}
	}
}

func (p *Parser) chunk() *heap.Chunk { return &p.cur.fn.Chunk }

// --- token stream plumbing ---

func (p *Parser) advance() {
	p.previous = p.current
	for {
		k, v := p.scan.Scan()
		p.current = tok{kind: k, val: v}
		if k != token.ILLEGAL {
			break
		}
	}
}

func (p *Parser) check(k token.Token) bool { return p.current.kind == k }

func (p *Parser) match(k token.Token) bool {
	if !p.check(k) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(k token.Token, msg string) {
	if p.current.kind == k {
		p.advance()
		return
	}
	p.errorAtCurrent(msg)
}

// --- error handling: the err/panic two-flag protocol ---

func (p *Parser) errorAt(t tok, msg string) {
	if p.panic {
		return
	}
	p.panic = true
	pos := gotoken.Position{Line: t.val.Line, Column: t.val.Col}
	if t.kind == token.EOF {
		msg = "at end: " + msg
	} else {
		msg = "at '" + t.lexeme() + "': " + msg
	}
	p.errs.Add(pos, msg)
}

func (p *Parser) error(msg string)        { p.errorAt(p.previous, msg) }
func (p *Parser) errorAtCurrent(msg string) { p.errorAt(p.current, msg) }

// sync discards tokens until it finds a likely statement boundary, after a
// panic-level error, so a single mistake doesn't cascade into a wall of
// spurious diagnostics.
func (p *Parser) sync() {
	p.panic = false
	for p.current.kind != token.EOF {
		if p.previous.kind == token.SEMI {
			return
		}
		switch p.current.kind {
		case token.CLASS, token.FUNC, token.LET, token.FOR, token.IF, token.WHILE, token.RETURN:
			return
		}
		p.advance()
	}
}

// --- emit helpers ---

func (p *Parser) emitByte(b byte) {
	p.chunk().Write(b, p.previous.val.Line)
}

func (p *Parser) emitOp(op heap.Opcode) { p.emitByte(byte(op)) }

func (p *Parser) emitBytes(b1, b2 byte) {
	p.emitByte(b1)
	p.emitByte(b2)
}

func (p *Parser) emitOpByte(op heap.Opcode, b byte) {
	p.emitByte(byte(op))
	p.emitByte(b)
}

func (p *Parser) emitLoop(loopStart int) {
	p.emitOp(heap.OpLoop)
	offset := len(p.chunk().Code) - loopStart + 2
	if offset > 0xffff {
		p.error("Loop body is too large.")
	}
	p.emitByte(byte(offset >> 8))
	p.emitByte(byte(offset))
}

func (p *Parser) emitJump(op heap.Opcode) int {
	p.emitOp(op)
	p.emitByte(0xff)
	p.emitByte(0xff)
	return len(p.chunk().Code) - 2
}

func (p *Parser) patchJump(offset int) {
	jump := len(p.chunk().Code) - offset - 2
	if jump > 0xffff {
		p.error("Jump too long.")
	}
	p.chunk().Code[offset] = byte(jump >> 8)
	p.chunk().Code[offset+1] = byte(jump)
}

func (p *Parser) emitReturn() {
	if p.cur.typ == typeInitializer {
		p.emitOpByte(heap.OpGetLocal, 0)
	} else {
		p.emitOp(heap.OpNil)
	}
	p.emitOp(heap.OpReturn)
}

func (p *Parser) makeConstant(v heap.Value) byte {
	idx := p.chunk().AddConstant(v)
	if idx > 255 {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (p *Parser) emitConstant(v heap.Value) {
	p.emitOpByte(heap.OpConst, p.makeConstant(v))
}

func (p *Parser) identifierConstant(t tok) byte {
	return p.makeConstant(heap.FromObj(p.heap.InternString(t.lexeme())))
}

func (p *Parser) endCompiler() *heap.Function {
	p.emitReturn()
	fn := p.cur.fn
	p.heap.UnregisterRoots(p.cur)
	p.cur = p.cur.enclosing
	return fn
}

func (p *Parser) beginScope() { p.cur.scopeDepth++ }

func (p *Parser) endScope() {
	p.cur.scopeDepth--
	c := p.cur
	for c.localCount > 0 && c.locals[c.localCount-1].depth > c.scopeDepth {
		if c.locals[c.localCount-1].isCaptured {
			p.emitOp(heap.OpCloseUpval)
		} else {
			p.emitOp(heap.OpPop)
		}
		c.localCount--
	}
}
