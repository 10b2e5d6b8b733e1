package heap

// Opcode identifies a single bytecode instruction. Operand encoding:
// b8 = one-byte immediate, s16 = big-endian 16-bit immediate, k = a
// one-byte index into the chunk's constant pool.
type Opcode uint8

const (
	OpConst     Opcode = iota // k        push constants[k]
	OpNil                     //          push nil
	OpTrue                    //          push true
	OpFalse                   //          push false
	OpDup                     //          push top
	OpPop                     //          discard top
	OpGetLocal                // b8       push slots[b8]
	OpSetLocal                // b8       slots[b8] = peek(0)
	OpGetGlobal               // k        push globals[name]
	OpDefGlobal               // k        globals[name] = pop()
	OpSetGlobal               // k        globals[name] = peek(0)
	OpGetUpval                // b8       push closure.upvals[b8]
	OpSetUpval                // b8       closure.upvals[b8] = peek(0)
	OpGetProp                 // k        push receiver.name
	OpSetProp                 // k        receiver.name = peek(0)
	OpGetSuper                // k        bind method from superclass
	OpBuildList               // b8       pop n items, push a List
	OpIndexSub                //          list[index] -> push
	OpStoreSub                //          list[index] = value
	OpEqu                     //          ==
	OpNotEqu                  //          !=
	OpGt                      //          >
	OpLt                      //          <
	OpGtEqu                   //          >=
	OpLtEqu                   //          <=
	OpAdd                     //          + (string concat if either side a string)
	OpSub                     //          -
	OpMul                     //          *
	OpDiv                     //          /
	OpMod                     //          %
	OpPow                     //          ^
	OpNot                     //          unary !
	OpNegate                  //          unary -
	OpJmp                     // s16      ip += offset
	OpJmpFalse                // s16      if !truthy(peek(0)) ip += offset
	OpLoop                    // s16      ip -= offset
	OpCall                    // b8       call top-argc with argc args
	OpInvoke                  // k, b8    fused property-get + call
	OpInvokeSuper             // k, b8    fused super-method-get + call
	OpClosure                 // k, ...   allocate closure, bind upvalues
	OpCloseUpval              //          close stack top's upvalue, pop
	OpReturn                  //          return from the current frame
	OpClass                   // k        push a fresh class
	OpInherit                 //          copy superclass methods into subclass
	OpMethod                  // k        install closure as a method

	maxOpcode
)

var opcodeNames = [...]string{
	OpConst:       "CONST",
	OpNil:         "NIL",
	OpTrue:        "TRUE",
	OpFalse:       "FALSE",
	OpDup:         "DUP",
	OpPop:         "POP",
	OpGetLocal:    "GET_LOCAL",
	OpSetLocal:    "SET_LOCAL",
	OpGetGlobal:   "GET_GLOBAL",
	OpDefGlobal:   "DEF_GLOBAL",
	OpSetGlobal:   "SET_GLOBAL",
	OpGetUpval:    "GET_UPVAL",
	OpSetUpval:    "SET_UPVAL",
	OpGetProp:     "GET_PROP",
	OpSetProp:     "SET_PROP",
	OpGetSuper:    "GET_SUPER",
	OpBuildList:   "BUILD_LIST",
	OpIndexSub:    "INDEX_SUB",
	OpStoreSub:    "STORE_SUB",
	OpEqu:         "EQU",
	OpNotEqu:      "NOT_EQU",
	OpGt:          "GT",
	OpLt:          "LT",
	OpGtEqu:       "GT_EQU",
	OpLtEqu:       "LT_EQU",
	OpAdd:         "ADD",
	OpSub:         "SUB",
	OpMul:         "MUL",
	OpDiv:         "DIV",
	OpMod:         "MOD",
	OpPow:         "POW",
	OpNot:         "NOT",
	OpNegate:      "NEGATE",
	OpJmp:         "JMP",
	OpJmpFalse:    "JMPF",
	OpLoop:        "LOOP",
	OpCall:        "CALL",
	OpInvoke:      "INVOKE",
	OpInvokeSuper: "INVOKE_SUPER",
	OpClosure:     "CLOSURE",
	OpCloseUpval:  "CLOSE_UPVAL",
	OpReturn:      "RETURN",
	OpClass:       "CLASS",
	OpInherit:     "INHERIT",
	OpMethod:      "METHOD",
}

func (op Opcode) String() string {
	if op >= maxOpcode {
		return "UNKNOWN"
	}
	return opcodeNames[op]
}
