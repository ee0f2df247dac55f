package x86

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/zstg/oxide/internal/ir"
)

// TestFrameAlignment checks spec's frame-alignment invariant: emitted
// `sub rsp, K` always satisfies K mod 64 == 0 and K >= stacksize.
func TestFrameAlignment(t *testing.T) {
	tests := []struct {
		name      string
		stacksize int
	}{
		{"zero", 0},
		{"under one slot", 8},
		{"exact multiple", 64},
		{"just over", 65},
		{"large", 1000},
	}
	subRsp := regexp.MustCompile(`sub rsp, (\d+)`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := &ir.Module{Functions: []*ir.Function{
				{Name: "f", Stacksize: tt.stacksize, IR: []ir.Instruction{
					{Op: ir.OpImm, Lhs: 0, Imm: 0},
					{Op: ir.OpReturn, Lhs: 0},
				}},
			}}
			var buf bytes.Buffer
			if err := New(&buf).Emit(mod); err != nil {
				t.Fatalf("Emit: %v", err)
			}
			m := subRsp.FindStringSubmatch(buf.String())
			if m == nil {
				t.Fatalf("no sub rsp instruction found in:\n%s", buf.String())
			}
			var k int
			for _, c := range m[1] {
				k = k*10 + int(c-'0')
			}
			if k%64 != 0 {
				t.Errorf("K=%d is not a multiple of 64", k)
			}
			if k < tt.stacksize {
				t.Errorf("K=%d is less than stacksize %d", k, tt.stacksize)
			}
		})
	}
}

// TestSinglePrologue guards against the original's duplicate-prologue
// bug: exactly one "push rbp" / one "sub rsp" per function.
func TestSinglePrologue(t *testing.T) {
	mod := &ir.Module{Functions: []*ir.Function{
		{Name: "f", Stacksize: 16, IR: []ir.Instruction{
			{Op: ir.OpImm, Lhs: 0, Imm: 0},
			{Op: ir.OpReturn, Lhs: 0},
		}},
	}}
	var buf bytes.Buffer
	if err := New(&buf).Emit(mod); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	out := buf.String()
	if n := strings.Count(out, "push rbp"); n != 1 {
		t.Errorf("expected exactly one \"push rbp\", got %d", n)
	}
	if n := strings.Count(out, "sub rsp,"); n != 1 {
		t.Errorf("expected exactly one \"sub rsp,\", got %d", n)
	}
}

// TestCallingConvention checks that a Call with nargs=n produces exactly
// one mov into each of the first n argument registers, ascending, right
// before the call instruction.
func TestCallingConvention(t *testing.T) {
	mod := &ir.Module{Functions: []*ir.Function{
		{Name: "main", Stacksize: 0, IR: []ir.Instruction{
			{Op: ir.OpImm, Lhs: 0, Imm: 1},
			{Op: ir.OpImm, Lhs: 1, Imm: 2},
			{Op: ir.OpImm, Lhs: 2, Imm: 3},
			{Op: ir.OpCall, Lhs: 3, Call: &ir.Call{Name: "f", Nargs: 3, Args: [6]ir.Reg{0, 1, 2}}},
			{Op: ir.OpReturn, Lhs: 3},
		}},
	}}
	var buf bytes.Buffer
	if err := New(&buf).Emit(mod); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	var callIdx int = -1
	for i, l := range lines {
		if strings.Contains(l, "call f") {
			callIdx = i
			break
		}
	}
	if callIdx < 0 {
		t.Fatalf("no call to f found:\n%s", buf.String())
	}
	var movs []string
	for i := 0; i < callIdx; i++ {
		if strings.Contains(lines[i], "mov rdi,") || strings.Contains(lines[i], "mov rsi,") || strings.Contains(lines[i], "mov rdx,") {
			movs = append(movs, strings.TrimSpace(lines[i]))
		}
	}
	want := []string{"mov rdi, r10", "mov rsi, r11", "mov rdx, rbx"}
	if len(movs) != len(want) {
		t.Fatalf("expected %d argument-register movs before call, got %v", len(want), movs)
	}
	for i, w := range want {
		if movs[i] != w {
			t.Errorf("arg mov %d: got %q, want %q", i, movs[i], w)
		}
	}
}

// TestStoreArgUsesArgumentRegisterClass guards against replicating
// original_source/gen_x86.rs:196-203's bug, where StoreArg indexed the
// scratch-register tables by the raw ABI ordinal instead of routing
// through argreg(): a StoreArg of arg index 1 must read esi/rsi/sil,
// never the scratch register at pool slot 1 (r11d/r11/r11b).
func TestStoreArgUsesArgumentRegisterClass(t *testing.T) {
	mod := &ir.Module{Functions: []*ir.Function{
		{Name: "f", Stacksize: 64, IR: []ir.Instruction{
			{Op: ir.OpStoreArg, Lhs: -8, Rhs: 1, Size: ir.Size8},
			{Op: ir.OpStoreArg, Lhs: -12, Rhs: 1, Size: ir.Size4},
			{Op: ir.OpStoreArg, Lhs: -13, Rhs: 1, Size: ir.Size1},
			{Op: ir.OpReturn},
		}},
	}}
	var buf bytes.Buffer
	if err := New(&buf).Emit(mod); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"mov qword [rbp-8], rsi", "mov dword [rbp-12], esi", "mov byte [rbp-13], sil"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in emitted StoreArg output:\n%s", want, out)
		}
	}
	for _, bad := range []string{"r11", "r11d", "r11b"} {
		if strings.Contains(out, bad) {
			t.Errorf("emitted StoreArg output wrongly used scratch register %q:\n%s", bad, out)
		}
	}
}

// TestEscapeCompleteness checks spec's escape-completeness invariant for
// a string with several characters needing escapes.
func TestEscapeCompleteness(t *testing.T) {
	data := []byte("hi\n\t\"\\")
	out := backslashEscape(data, len(data)+1)
	for _, want := range []string{`"h"`, `"i"`, `\n`, `\t`, `\"`, `\\`, `"\000"`} {
		if !strings.Contains(out, want) {
			t.Errorf("escaped output missing %q: got %s", want, out)
		}
	}
}
