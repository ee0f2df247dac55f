// Package regalloc implements the two-pass linear-scan register allocator
// described in spec.md §4.2, grounded on the teacher's
// pkg/codegen/register_allocator.go (Z80RegisterAllocator): a liveness
// pass that records first-def/last-use per virtual register, followed by
// an assignment pass that walks the same instruction list, freeing and
// claiming physical registers as ranges end and begin. Where the teacher
// allocator is Z80-specific (register pairs, shadow registers, spill
// slots keyed by content tracking), this allocator targets a flat pool of
// seven general-purpose x86-64 registers and spills by erasing the
// defining instruction, per the front end's live-register budget
// guarantee.
package regalloc

import (
	"fmt"

	"github.com/zstg/oxide/internal/ir"
)

// NumPhysical is the size of the physical register pool (spec.md §4.2).
const NumPhysical = 7

// PhysNames is the ordered physical-register pool: two caller-saved
// scratch registers followed by five callee-saved, matching the
// register-choice convention spec.md §4.2 and the emitter rely on.
var PhysNames = [NumPhysical]string{"r10", "r11", "rbx", "r12", "r13", "r14", "r15"}

type liveRange struct {
	firstDef int
	lastUse  int
	hasUse   bool
}

// operandShape classifies how one instruction references the Lhs/Rhs
// fields for allocator purposes: whether each is a virtual-register
// reference at all (as opposed to an immediate, frame offset, label id,
// or ABI argument-register index reusing the same int-typed field), and
// whether a register reference is read, written, or both (read-modify-
// write, matching the "Mov dst,left then op dst ⊕= right" IR-generation
// template).
type operandShape struct {
	lhsReg, lhsRead, lhsWrite bool
	rhsReg                    bool // Rhs, when a register, is always a read
}

func shapeOf(op ir.Op) operandShape {
	switch op {
	case ir.OpMov, ir.OpImm, ir.OpLoad, ir.OpLabelAddr:
		return operandShape{lhsReg: true, lhsWrite: true, rhsReg: op == ir.OpMov || op == ir.OpLoad}
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr,
		ir.OpEQ, ir.OpNE, ir.OpLT, ir.OpLE:
		return operandShape{lhsReg: true, lhsRead: true, lhsWrite: true, rhsReg: true}
	case ir.OpAddImm, ir.OpSubImm, ir.OpMulImm, ir.OpNeg:
		return operandShape{lhsReg: true, lhsRead: true, lhsWrite: true}
	case ir.OpBprel:
		return operandShape{lhsReg: true, lhsWrite: true} // rhs is a frame offset
	case ir.OpReturn:
		return operandShape{lhsReg: true, lhsRead: true} // lhs may be 0 (void return)
	case ir.OpKill:
		return operandShape{lhsReg: true, lhsRead: true}
	case ir.OpStore:
		return operandShape{lhsReg: true, lhsRead: true, rhsReg: true} // lhs=addr, rhs=value
	case ir.OpStoreArg:
		return operandShape{} // lhs=frame offset, rhs=ABI arg-register index, neither a vreg
	case ir.OpIf, ir.OpUnless:
		return operandShape{lhsReg: true, lhsRead: true}
	case ir.OpCall:
		return operandShape{lhsReg: true, lhsWrite: true} // Call.Args handled separately
	case ir.OpJmp, ir.OpLabel, ir.OpNop:
		return operandShape{}
	default:
		return operandShape{}
	}
}

// Allocate runs liveness + assignment over fn in place: every operand
// that was a virtual-register index becomes a physical-register index
// (0..NumPhysical-1), and dead-def instructions are rewritten to Nop.
func Allocate(fn *ir.Function) error {
	live := computeLiveness(fn)
	return assign(fn, live)
}

// computeLiveness is the liveness pass: a single forward walk recording
// first-def and last-use per virtual register. Kill ends a range at its
// own index, matching spec.md §4.2 step 1 verbatim.
func computeLiveness(fn *ir.Function) map[ir.Reg]*liveRange {
	live := map[ir.Reg]*liveRange{}
	touchDef := func(r ir.Reg, idx int) {
		if r == 0 {
			return
		}
		if _, ok := live[r]; !ok {
			live[r] = &liveRange{firstDef: idx, lastUse: idx}
		}
	}
	touchUse := func(r ir.Reg, idx int) {
		if r == 0 {
			return
		}
		lr, ok := live[r]
		if !ok {
			lr = &liveRange{firstDef: idx, lastUse: idx}
			live[r] = lr
		}
		lr.lastUse = idx
		lr.hasUse = true
	}

	for i, inst := range fn.IR {
		sh := shapeOf(inst.Op)
		if sh.lhsReg {
			if sh.lhsWrite {
				touchDef(inst.Lhs, i)
			}
			if sh.lhsRead {
				touchUse(inst.Lhs, i)
			}
		}
		if sh.rhsReg {
			touchUse(inst.Rhs, i)
		}
		if inst.Op == ir.OpCall && inst.Call != nil {
			for a := 0; a < inst.Call.Nargs; a++ {
				touchUse(inst.Call.Args[a], i)
			}
		}
	}
	return live
}

// assign is the assignment pass: spec.md §4.2 step 2.
func assign(fn *ir.Function, live map[ir.Reg]*liveRange) error {
	vreg2preg := map[ir.Reg]int{}
	busy := [NumPhysical]bool{}

	claim := func(v ir.Reg) (int, bool) {
		for p := 0; p < NumPhysical; p++ {
			if !busy[p] {
				busy[p] = true
				vreg2preg[v] = p
				return p, true
			}
		}
		return 0, false
	}
	release := func(v ir.Reg) {
		if p, ok := vreg2preg[v]; ok {
			busy[p] = false
			delete(vreg2preg, v)
		}
	}
	releaseIfDone := func(v ir.Reg, idx int) {
		if v == 0 {
			return
		}
		if lr, ok := live[v]; ok && lr.lastUse == idx {
			release(v)
		}
	}
	rewrite := func(v ir.Reg) ir.Reg {
		if p, ok := vreg2preg[v]; ok {
			return ir.Reg(p)
		}
		return v
	}

	for i := range fn.IR {
		inst := &fn.IR[i]
		sh := shapeOf(inst.Op)

		// Operands read here are rewritten to the physical register they
		// hold on entry, even when this instruction is their last use and
		// frees that register below.
		origLhs, origRhs := inst.Lhs, inst.Rhs
		readLhs, readRhs := rewrite(origLhs), rewrite(origRhs)
		var readArgs [6]ir.Reg
		if inst.Op == ir.OpCall && inst.Call != nil {
			for a := 0; a < inst.Call.Nargs; a++ {
				readArgs[a] = rewrite(inst.Call.Args[a])
			}
		}

		// Free registers for ranges ending on a read at this instruction,
		// before claiming new ones (spec.md §4.2: "reads first").
		if sh.lhsReg && sh.lhsRead {
			releaseIfDone(inst.Lhs, i)
		}
		if sh.rhsReg {
			releaseIfDone(inst.Rhs, i)
		}
		if inst.Op == ir.OpCall && inst.Call != nil {
			for a := 0; a < inst.Call.Nargs; a++ {
				releaseIfDone(inst.Call.Args[a], i)
			}
		}

		// Claim a register for a newly defined vreg.
		if sh.lhsReg && sh.lhsWrite && origLhs != 0 {
			if _, already := vreg2preg[origLhs]; !already {
				if _, ok := claim(origLhs); !ok {
					lr := live[origLhs]
					if lr != nil && !lr.hasUse {
						// Dead def (never read again): degrade to Nop instead
						// of reporting an internal error, matching spec.md
						// §4.2's Kill-as-Nop treatment of unused results.
						inst.Op = ir.OpNop
						continue
					}
					return fmt.Errorf("regalloc: function %s: more than %d simultaneously live registers at instruction %d", fn.Name, NumPhysical, i)
				}
			}
		}

		// Rewrite operands from virtual to physical indices.
		if sh.lhsReg {
			if sh.lhsWrite {
				inst.Lhs = rewrite(origLhs)
			} else {
				inst.Lhs = readLhs
			}
		}
		if sh.rhsReg {
			inst.Rhs = readRhs
		}
		if inst.Op == ir.OpCall && inst.Call != nil {
			for a := 0; a < inst.Call.Nargs; a++ {
				inst.Call.Args[a] = readArgs[a]
			}
		}
		if inst.Op == ir.OpKill {
			inst.Op = ir.OpNop
		}

		// A just-claimed def with no later use (e.g. a discarded call
		// result) dies immediately.
		if sh.lhsReg && sh.lhsWrite && origLhs != 0 {
			releaseIfDone(origLhs, i)
		}
	}
	return nil
}
