package irdump

import (
	"bytes"
	"testing"

	"github.com/zstg/oxide/internal/ir"
)

// TestRoundTrip exercises spec.md §8's round-trip property: dumping then
// re-parsing an instruction stream yields the same IR.
func TestRoundTrip(t *testing.T) {
	mod := &ir.Module{Functions: []*ir.Function{
		{Name: "main", IR: []ir.Instruction{
			{Op: ir.OpImm, Lhs: 1, Imm: 7},
			{Op: ir.OpMov, Lhs: 2, Rhs: 1},
			{Op: ir.OpAdd, Lhs: 2, Rhs: 1},
			{Op: ir.OpAddImm, Lhs: 2, Imm: -3},
			{Op: ir.OpLabel, Label: 0},
			{Op: ir.OpIf, Lhs: 2, Label: 0},
			{Op: ir.OpJmp, Label: 0},
			{Op: ir.OpLoad, Lhs: 3, Rhs: 1, Size: ir.Size4},
			{Op: ir.OpStore, Lhs: 1, Rhs: 3, Size: ir.Size1},
			{Op: ir.OpStoreArg, Lhs: -16, Rhs: 0, Size: ir.Size8},
			{Op: ir.OpLabelAddr, Lhs: 4, Symbol: ".LC0"},
			{Op: ir.OpCall, Lhs: 5, Call: &ir.Call{Name: "f", Nargs: 2, Args: [6]ir.Reg{1, 2}}},
			{Op: ir.OpReturn, Lhs: 5},
		}},
	}}

	var buf bytes.Buffer
	if err := Dump(&buf, mod); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	parsed, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 1 || parsed[0].Name != "main" {
		t.Fatalf("unexpected parsed functions: %+v", parsed)
	}

	want := mod.Functions[0].IR
	got := parsed[0].IR
	if len(got) != len(want) {
		t.Fatalf("instruction count mismatch: got %d want %d\ngot: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Op != want[i].Op {
			t.Errorf("instruction %d: op mismatch got %v want %v", i, got[i].Op, want[i].Op)
		}
		if got[i].Lhs != want[i].Lhs || got[i].Rhs != want[i].Rhs {
			t.Errorf("instruction %d: operand mismatch got (%d,%d) want (%d,%d)", i, got[i].Lhs, got[i].Rhs, want[i].Lhs, want[i].Rhs)
		}
		if got[i].Imm != want[i].Imm {
			t.Errorf("instruction %d: imm mismatch got %d want %d", i, got[i].Imm, want[i].Imm)
		}
		if got[i].Label != want[i].Label {
			t.Errorf("instruction %d: label mismatch got %d want %d", i, got[i].Label, want[i].Label)
		}
		if got[i].Size != want[i].Size {
			t.Errorf("instruction %d: size mismatch got %d want %d", i, got[i].Size, want[i].Size)
		}
		if got[i].Op == ir.OpCall {
			if got[i].Call.Name != want[i].Call.Name || got[i].Call.Nargs != want[i].Call.Nargs {
				t.Errorf("instruction %d: call mismatch got %+v want %+v", i, got[i].Call, want[i].Call)
			}
		}
	}
}

// TestAmbiguousMnemonicDisambiguation checks that MOV/ADD/SUB/MUL parse
// back to the RegReg opcode when the second operand is a register, and
// the RegImm opcode when it is not.
func TestAmbiguousMnemonicDisambiguation(t *testing.T) {
	tests := []struct {
		line string
		want ir.Op
	}{
		{"MOV r1, r2", ir.OpMov},
		{"MOV r1, 5", ir.OpImm},
		{"ADD r1, r2", ir.OpAdd},
		{"ADD r1, 5", ir.OpAddImm},
		{"SUB r1, r2", ir.OpSub},
		{"SUB r1, 5", ir.OpSubImm},
		{"MUL r1, r2", ir.OpMul},
		{"MUL r1, 5", ir.OpMulImm},
	}
	for _, tt := range tests {
		inst, err := parseLine(tt.line)
		if err != nil {
			t.Fatalf("parseLine(%q): %v", tt.line, err)
		}
		if inst.Op != tt.want {
			t.Errorf("parseLine(%q): got op %v, want %v", tt.line, inst.Op, tt.want)
		}
	}
}

// TestSizeSuffixedMnemonics checks the peeled-size-suffix lookup path for
// Load/Store/StoreArg mnemonics, which Format renders with no separator
// between the mnemonic and its byte width.
func TestSizeSuffixedMnemonics(t *testing.T) {
	inst, err := parseLine("LOAD4 r1, r2")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if inst.Op != ir.OpLoad || inst.Size != ir.Size4 {
		t.Fatalf("got %+v", inst)
	}

	inst, err = parseLine("STORE_ARG8 -16, r3")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if inst.Op != ir.OpStoreArg || inst.Size != ir.Size8 || inst.Lhs != -16 || inst.Rhs != 3 {
		t.Fatalf("got %+v", inst)
	}
}
