package compiler

import (
	"fmt"
	"strings"

	"github.com/mna/ember/lang/heap"
)

// Disassemble renders chunk as human-readable text: one line per
// instruction, with its source line, byte offset, mnemonic, operand, and
// (for constant-referencing opcodes) the constant's value — the same
// layout idiom as the teacher's asm.go Dasm, adapted to ember's
// single-byte-operand encoding. It is used by the run command's
// -debug-chunk flag and by compiler tests; it plays no part in execution.
func Disassemble(chunk *heap.Chunk, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", name)
	offset := 0
	for offset < len(chunk.Code) {
		offset = disassembleInstr(&sb, chunk, offset)
	}
	return sb.String()
}

func disassembleInstr(sb *strings.Builder, chunk *heap.Chunk, offset int) int {
	fmt.Fprintf(sb, "%04d ", offset)
	line := chunk.LineAt(offset)
	if offset > 0 && line == chunk.LineAt(offset-1) {
		fmt.Fprint(sb, "   | ")
	} else {
		fmt.Fprintf(sb, "%4d ", line)
	}

	op := heap.Opcode(chunk.Code[offset])
	switch op {
	case heap.OpConst, heap.OpGetGlobal, heap.OpDefGlobal, heap.OpSetGlobal,
		heap.OpGetProp, heap.OpSetProp, heap.OpGetSuper, heap.OpClass, heap.OpMethod:
		return constantInstr(sb, chunk, op, offset)
	case heap.OpGetLocal, heap.OpSetLocal, heap.OpGetUpval, heap.OpSetUpval,
		heap.OpBuildList, heap.OpCall:
		return byteInstr(sb, chunk, op, offset)
	case heap.OpInvoke, heap.OpInvokeSuper:
		return invokeInstr(sb, chunk, op, offset)
	case heap.OpJmp, heap.OpJmpFalse:
		return jumpInstr(sb, chunk, op, offset, 1)
	case heap.OpLoop:
		return jumpInstr(sb, chunk, op, offset, -1)
	case heap.OpClosure:
		return closureInstr(sb, chunk, offset)
	default:
		fmt.Fprintf(sb, "%s\n", op)
		return offset + 1
	}
}

func constantInstr(sb *strings.Builder, chunk *heap.Chunk, op heap.Opcode, offset int) int {
	idx := chunk.Code[offset+1]
	fmt.Fprintf(sb, "%-16s %4d '%s'\n", op, idx, chunk.Constants[idx].String())
	return offset + 2
}

func byteInstr(sb *strings.Builder, chunk *heap.Chunk, op heap.Opcode, offset int) int {
	slot := chunk.Code[offset+1]
	fmt.Fprintf(sb, "%-16s %4d\n", op, slot)
	return offset + 2
}

func invokeInstr(sb *strings.Builder, chunk *heap.Chunk, op heap.Opcode, offset int) int {
	idx := chunk.Code[offset+1]
	argc := chunk.Code[offset+2]
	fmt.Fprintf(sb, "%-16s (%d args) %4d '%s'\n", op, argc, idx, chunk.Constants[idx].String())
	return offset + 3
}

func jumpInstr(sb *strings.Builder, chunk *heap.Chunk, op heap.Opcode, offset, sign int) int {
	jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
	fmt.Fprintf(sb, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
	return offset + 3
}

func closureInstr(sb *strings.Builder, chunk *heap.Chunk, offset int) int {
	offset++
	idx := chunk.Code[offset]
	offset++
	fmt.Fprintf(sb, "%-16s %4d '%s'\n", heap.OpClosure, idx, chunk.Constants[idx].String())
	fn, ok := chunk.Constants[idx].AsObj().(*heap.Function)
	if !ok {
		return offset
	}
	for i := 0; i < fn.UpvalCount; i++ {
		isLocal := chunk.Code[offset]
		index := chunk.Code[offset+1]
		offset += 2
		kind := "upvalue"
		if isLocal != 0 {
			kind = "local"
		}
		fmt.Fprintf(sb, "%04d      |                     %s %d\n", offset-2, kind, index)
	}
	return offset
}
