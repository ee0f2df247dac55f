package regalloc

import (
	"testing"

	"github.com/zstg/oxide/internal/ir"
)

// TestRegisterBudget checks spec's register-budget invariant: after
// allocation every operand naming a register satisfies 0 <= r <= 6.
func TestRegisterBudget(t *testing.T) {
	tests := []struct {
		name string
		fn   *ir.Function
	}{
		{
			name: "simple arithmetic",
			fn: &ir.Function{Name: "f", IR: []ir.Instruction{
				{Op: ir.OpImm, Lhs: 1, Imm: 1},
				{Op: ir.OpImm, Lhs: 2, Imm: 2},
				{Op: ir.OpMov, Lhs: 3, Rhs: 1},
				{Op: ir.OpAdd, Lhs: 3, Rhs: 2},
				{Op: ir.OpKill, Lhs: 1},
				{Op: ir.OpKill, Lhs: 2},
				{Op: ir.OpReturn, Lhs: 3},
			}},
		},
		{
			name: "storearg operand untouched",
			fn: &ir.Function{Name: "g", IR: []ir.Instruction{
				{Op: ir.OpStoreArg, Lhs: -8, Rhs: 0, Size: ir.Size8},
				{Op: ir.OpBprel, Lhs: 1, Rhs: -8},
				{Op: ir.OpLoad, Lhs: 2, Rhs: 1, Size: ir.Size8},
				{Op: ir.OpKill, Lhs: 1},
				{Op: ir.OpReturn, Lhs: 2},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Allocate(tt.fn); err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			for i, inst := range tt.fn.IR {
				sh := shapeOf(inst.Op)
				if sh.lhsReg && (inst.Lhs < 0 || inst.Lhs >= NumPhysical) {
					t.Errorf("instruction %d: lhs %d out of [0,%d)", i, inst.Lhs, NumPhysical)
				}
				if sh.rhsReg && (inst.Rhs < 0 || inst.Rhs >= NumPhysical) {
					t.Errorf("instruction %d: rhs %d out of [0,%d)", i, inst.Rhs, NumPhysical)
				}
			}
		})
	}
}

// TestStoreArgUntouched verifies OpStoreArg's lhs (frame offset) and rhs
// (ABI argument index) survive allocation unmodified, since neither is a
// virtual register.
func TestStoreArgUntouched(t *testing.T) {
	fn := &ir.Function{Name: "h", IR: []ir.Instruction{
		{Op: ir.OpStoreArg, Lhs: -24, Rhs: 3, Size: ir.Size8},
		{Op: ir.OpImm, Lhs: 1, Imm: 0},
		{Op: ir.OpReturn, Lhs: 1},
	}}
	if err := Allocate(fn); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if fn.IR[0].Lhs != -24 || fn.IR[0].Rhs != 3 {
		t.Fatalf("StoreArg operands rewritten: got lhs=%d rhs=%d", fn.IR[0].Lhs, fn.IR[0].Rhs)
	}
}

// TestSpillsDeadDefToNop checks that a def with no later use degrades to
// Nop rather than erroring, once the 7-register budget is exhausted.
func TestSpillsDeadDefToNop(t *testing.T) {
	var insts []ir.Instruction
	// Eight live-simultaneously defs: r1..r7 stay live (read by the Kills below),
	// r8 is defined and immediately discarded (no use) so it must spill.
	for v := 1; v <= 8; v++ {
		insts = append(insts, ir.Instruction{Op: ir.OpImm, Lhs: ir.Reg(v), Imm: int64(v)})
	}
	for v := 1; v <= 7; v++ {
		insts = append(insts, ir.Instruction{Op: ir.OpKill, Lhs: ir.Reg(v)})
	}
	fn := &ir.Function{Name: "spill", IR: insts}

	if err := Allocate(fn); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if fn.IR[7].Op != ir.OpNop {
		t.Fatalf("expected dead 8th def to degrade to Nop, got %v", fn.IR[7].Op)
	}
}

// TestTooManyLiveRegsErrors checks that a def whose value IS later read,
// once the 7-register budget is exhausted, produces a hard error rather
// than silently dropping a live value.
func TestTooManyLiveRegsErrors(t *testing.T) {
	var insts []ir.Instruction
	for v := 1; v <= 8; v++ {
		insts = append(insts, ir.Instruction{Op: ir.OpImm, Lhs: ir.Reg(v), Imm: int64(v)})
	}
	// All eight are read at the end, so none may be dropped as dead.
	for v := 1; v <= 8; v++ {
		insts = append(insts, ir.Instruction{Op: ir.OpKill, Lhs: ir.Reg(v)})
	}
	fn := &ir.Function{Name: "overbudget", IR: insts}

	if err := Allocate(fn); err == nil {
		t.Fatal("expected an error for more than 7 simultaneously live registers")
	}
}

// TestRMWExtendsLastUse guards against the liveness bug fixed during
// development: an RMW op's Lhs must count as a use at that instruction,
// not release its register one step early.
func TestRMWExtendsLastUse(t *testing.T) {
	fn := &ir.Function{Name: "rmw", IR: []ir.Instruction{
		{Op: ir.OpImm, Lhs: 1, Imm: 10},
		{Op: ir.OpImm, Lhs: 2, Imm: 1},
		{Op: ir.OpAdd, Lhs: 1, Rhs: 2}, // r1 read+written here; r2 read here
		{Op: ir.OpKill, Lhs: 2},
		{Op: ir.OpReturn, Lhs: 1},
	}}
	live := computeLiveness(fn)
	if live[1].lastUse < 2 {
		t.Fatalf("expected vreg 1's lastUse to extend through the Add at index 2, got %d", live[1].lastUse)
	}
}
