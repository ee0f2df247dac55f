// Package irdump renders an ir.Module to the human-readable text format
// consumed by -dump-ir1/-dump-ir2/-dump-ir3, and parses that same format
// back into IR for the round-trip testable property (spec.md §8). It is
// grounded on original_source/irdump.rs's IRInfo table (one mnemonic +
// operand shape per opcode) and on the teacher's saveIRModule in
// cmd/minzc/main.go, which writes a comparable per-function text dump.
package irdump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zstg/oxide/internal/ir"
)

// shape mirrors original_source/irdump.rs's IRType: the operand layout a
// mnemonic is rendered (and parsed) with.
type shape int

const (
	shapeLabel shape = iota
	shapeLabelAddr
	shapeImm
	shapeReg
	shapeJmp
	shapeRegReg
	shapeMem
	shapeStoreArg
	shapeRegImm
	shapeRegLabel
	shapeCall
	shapeNoarg
)

type opInfo struct {
	mnemonic string
	shape    shape
}

var infoTable = map[ir.Op]opInfo{
	ir.OpNop:      {"NOP", shapeNoarg},
	ir.OpMov:      {"MOV", shapeRegReg},
	ir.OpAdd:      {"ADD", shapeRegReg},
	ir.OpSub:      {"SUB", shapeRegReg},
	ir.OpMul:      {"MUL", shapeRegReg},
	ir.OpDiv:      {"DIV", shapeRegReg},
	ir.OpMod:      {"MOD", shapeRegReg},
	ir.OpAnd:      {"AND", shapeRegReg},
	ir.OpOr:       {"OR", shapeRegReg},
	ir.OpXor:      {"XOR", shapeRegReg},
	ir.OpShl:      {"SHL", shapeRegReg},
	ir.OpShr:      {"SHR", shapeRegReg},
	ir.OpEQ:       {"EQ", shapeRegReg},
	ir.OpNE:       {"NE", shapeRegReg},
	ir.OpLT:       {"LT", shapeRegReg},
	ir.OpLE:       {"LE", shapeRegReg},
	ir.OpImm:      {"MOV", shapeImm},
	ir.OpAddImm:   {"ADD", shapeRegImm},
	ir.OpSubImm:   {"SUB", shapeRegImm},
	ir.OpMulImm:   {"MUL", shapeRegImm},
	ir.OpBprel:    {"BPREL", shapeRegImm},
	ir.OpReturn:   {"RET", shapeReg},
	ir.OpNeg:      {"NEG", shapeReg},
	ir.OpKill:     {"KILL", shapeReg},
	ir.OpLoad:     {"LOAD", shapeMem},
	ir.OpStore:    {"STORE", shapeMem},
	ir.OpStoreArg: {"STORE_ARG", shapeStoreArg},
	ir.OpJmp:      {"JMP", shapeJmp},
	ir.OpLabel:    {"", shapeLabel},
	ir.OpIf:       {"IF", shapeRegLabel},
	ir.OpUnless:   {"UNLESS", shapeRegLabel},
	ir.OpCall:     {"", shapeCall},
	ir.OpLabelAddr: {"LABEL_ADDR", shapeLabelAddr},

	ir.OpAVX512Add:        {"AVX512_ADD", shapeRegReg},
	ir.OpAVX512Sub:        {"AVX512_SUB", shapeRegReg},
	ir.OpAVX512Mul:        {"AVX512_MUL", shapeRegReg},
	ir.OpAVX512Div:        {"AVX512_DIV", shapeRegReg},
	ir.OpAVX512Addi:       {"AVX512_ADDI", shapeRegReg},
	ir.OpAVX512Subi:       {"AVX512_SUBI", shapeRegReg},
	ir.OpAVX512Muli:       {"AVX512_MULI", shapeRegReg},
	ir.OpAVX512Load:       {"AVX512_LOAD", shapeMem},
	ir.OpAVX512LoadStack:  {"AVX512_LOAD_STACK", shapeMem},
	ir.OpAVX512Store:      {"AVX512_STORE", shapeMem},
	ir.OpAVX512StoreStack: {"AVX512_STORE_STACK", shapeMem},
	ir.OpAVX512Loadi:      {"AVX512_LOADI", shapeMem},
	ir.OpAVX512Storei:     {"AVX512_STOREI", shapeMem},
	ir.OpAVX512Mov:        {"AVX512_MOV", shapeRegReg},
	ir.OpAVX512Movi:       {"AVX512_MOVI", shapeRegReg},
	ir.OpAVX512Zero:       {"AVX512_ZERO", shapeReg},
	ir.OpAVX512Set1:       {"AVX512_SET1", shapeRegReg},
	ir.OpAVX512Set1i:      {"AVX512_SET1I", shapeRegReg},
	ir.OpAVX512Cmplt:      {"AVX512_CMPLT", shapeRegReg},
	ir.OpAVX512Cmple:      {"AVX512_CMPLE", shapeRegReg},
	ir.OpAVX512Cmpeq:      {"AVX512_CMPEQ", shapeRegReg},
	ir.OpAVX512MaskMove:   {"AVX512_MASK_MOV", shapeRegReg},
	ir.OpAVX512MaskLoad:   {"AVX512_MASK_LOAD", shapeMem},
	ir.OpAVX512MaskStore:  {"AVX512_MASK_STORE", shapeMem},
	ir.OpAVX512Cvtdq2pd:   {"AVX512_CVTDQ2PD", shapeRegReg},
	ir.OpAVX512Cvtpd2dq:   {"AVX512_CVTPD2DQ", shapeRegReg},
	ir.OpAVX512Extract:    {"AVX512_EXTRACT", shapeRegReg},
	ir.OpAVX512Insert:     {"AVX512_INSERT", shapeRegReg},
	ir.OpAVX512Sqrt:       {"AVX512_SQRT", shapeRegReg},
	ir.OpAVX512And:        {"AVX512_AND", shapeRegReg},
	ir.OpAVX512Max:        {"AVX512_MAX", shapeRegReg},
	ir.OpAVX512Min:        {"AVX512_MIN", shapeRegReg},
	ir.OpAVX512FMA:        {"AVX512_FMA", shapeRegReg},
}

// ambiguousImm maps a RegImm-shaped mnemonic to its opcode. MOV/ADD/SUB/MUL
// are shared between a RegReg opcode and a RegImm one (OpImm reuses "MOV",
// matching original_source/irdump.rs), so the reverse map below excludes
// them and parseLine disambiguates by inspecting the second operand.
var ambiguousImm = map[string]ir.Op{
	"MOV": ir.OpImm,
	"ADD": ir.OpAddImm,
	"SUB": ir.OpSubImm,
	"MUL": ir.OpMulImm,
}

var mnemonicToOp = func() map[string]ir.Op {
	m := make(map[string]ir.Op, len(infoTable))
	for op, info := range infoTable {
		if info.mnemonic == "" {
			continue
		}
		if _, ambiguous := ambiguousImm[info.mnemonic]; ambiguous && info.shape != shapeRegReg {
			continue // the RegReg variant (Mov/Add/Sub/Mul) wins the plain entry
		}
		m[info.mnemonic] = op
	}
	return m
}()

// Dump writes the text rendering of mod to w.
func Dump(w io.Writer, mod *ir.Module) error {
	for _, fn := range mod.Functions {
		if _, err := fmt.Fprintf(w, "%s(): \n", fn.Name); err != nil {
			return err
		}
		for _, inst := range fn.IR {
			line, err := Format(inst)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

// Format renders one instruction per the operand-shape table in spec.md §4.4.
func Format(i ir.Instruction) (string, error) {
	info, ok := infoTable[i.Op]
	if !ok {
		return "", fmt.Errorf("irdump: unknown opcode %d", i.Op)
	}
	switch info.shape {
	case shapeLabel:
		return fmt.Sprintf(".L%d:", i.Label), nil
	case shapeLabelAddr:
		return fmt.Sprintf("  %s r%d, %s", info.mnemonic, i.Lhs, i.Symbol), nil
	case shapeImm:
		return fmt.Sprintf("  %s r%d, %d", info.mnemonic, i.Lhs, i.Imm), nil
	case shapeReg:
		if i.Lhs == 0 {
			return fmt.Sprintf("  %s", info.mnemonic), nil
		}
		return fmt.Sprintf("  %s r%d", info.mnemonic, i.Lhs), nil
	case shapeJmp:
		return fmt.Sprintf("  %s .L%d", info.mnemonic, i.Label), nil
	case shapeRegReg:
		return fmt.Sprintf("  %s r%d, r%d", info.mnemonic, i.Lhs, i.Rhs), nil
	case shapeMem:
		return fmt.Sprintf("  %s%d r%d, r%d", info.mnemonic, i.Size, i.Lhs, i.Rhs), nil
	case shapeStoreArg:
		return fmt.Sprintf("  %s%d %d, r%d", info.mnemonic, i.Size, i.Lhs, i.Rhs), nil
	case shapeRegImm:
		if i.Op == ir.OpBprel {
			// Bprel keeps its signed frame offset in Rhs, not Imm.
			return fmt.Sprintf("  %s r%d, %d", info.mnemonic, i.Lhs, i.Rhs), nil
		}
		return fmt.Sprintf("  %s r%d, %d", info.mnemonic, i.Lhs, i.Imm), nil
	case shapeRegLabel:
		return fmt.Sprintf("  %s r%d, .L%d", info.mnemonic, i.Lhs, i.Label), nil
	case shapeCall:
		var sb strings.Builder
		fmt.Fprintf(&sb, "  r%d = %s(", i.Lhs, i.Call.Name)
		for a := 0; a < i.Call.Nargs; a++ {
			if a != 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "r%d", i.Call.Args[a])
		}
		sb.WriteByte(')')
		return sb.String(), nil
	case shapeNoarg:
		return fmt.Sprintf("  %s", info.mnemonic), nil
	}
	return "", fmt.Errorf("irdump: unhandled shape for opcode %d", i.Op)
}

// ParsedFunction is one function recovered by Parse: a name and its
// instruction stream, renamed registers/labels intact as written (the
// round-trip property compares structurally, modulo renaming, not by
// recovering the exact original vreg numbering).
type ParsedFunction struct {
	Name string
	IR   []ir.Instruction
}

// Parse reads the text format Dump produces (or any -dump-irN capture)
// back into IR. It is intentionally forgiving about whitespace but
// strict about the grammar the shapes above commit to.
func Parse(r io.Reader) ([]ParsedFunction, error) {
	var fns []ParsedFunction
	var cur *ParsedFunction
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasSuffix(trimmed, "(): ") || strings.HasSuffix(trimmed, "():") {
			if cur != nil {
				fns = append(fns, *cur)
			}
			name := strings.TrimSuffix(strings.TrimSuffix(trimmed, "(): "), "():")
			cur = &ParsedFunction{Name: name}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("irdump: instruction line before any function header: %q", line)
		}
		inst, err := parseLine(trimmed)
		if err != nil {
			return nil, err
		}
		cur.IR = append(cur.IR, inst)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cur != nil {
		fns = append(fns, *cur)
	}
	return fns, nil
}

func parseLine(line string) (ir.Instruction, error) {
	if strings.HasPrefix(line, ".L") && strings.HasSuffix(line, ":") {
		n, err := strconv.Atoi(line[2 : len(line)-1])
		if err != nil {
			return ir.Instruction{}, fmt.Errorf("irdump: bad label %q: %w", line, err)
		}
		return ir.Instruction{Op: ir.OpLabel, Label: n}, nil
	}

	if eq := strings.Index(line, " = "); eq >= 0 && strings.Contains(line, "(") {
		return parseCall(line, eq)
	}

	fields := strings.SplitN(line, " ", 2)
	head := fields[0]
	var rest string
	if len(fields) > 1 {
		rest = strings.TrimSpace(fields[1])
	}

	// MOV/ADD/SUB/MUL are shared between a RegReg opcode and a RegImm one;
	// tell them apart by the shape of the second operand.
	if immOp, ambiguous := ambiguousImm[head]; ambiguous {
		parts := strings.SplitN(rest, ", ", 2)
		if len(parts) == 2 && !strings.HasPrefix(strings.TrimSpace(parts[1]), "r") {
			lhs, err := parseReg(parts[0])
			if err != nil {
				return ir.Instruction{}, err
			}
			imm, err := parseInt(parts[1])
			return ir.Instruction{Op: immOp, Lhs: lhs, Imm: imm}, err
		}
	}

	// Mem/StoreArg mnemonics carry their byte-width suffixed directly onto
	// the word (e.g. "LOAD4", "STORE_ARG8") with no separating space, per
	// Format's %s%d rendering — try the bare mnemonic first, then peel a
	// trailing size off it.
	op, ok := mnemonicToOp[head]
	var sz ir.Size
	if !ok {
		base, s, err := splitSizeSuffix(head)
		if err != nil {
			return ir.Instruction{}, fmt.Errorf("irdump: unknown mnemonic %q", head)
		}
		op, ok = mnemonicToOp[base]
		if !ok {
			return ir.Instruction{}, fmt.Errorf("irdump: unknown mnemonic %q", head)
		}
		sz = s
	}
	info := infoTable[op]

	switch info.shape {
	case shapeNoarg:
		return ir.Instruction{Op: op}, nil
	case shapeReg:
		if rest == "" {
			return ir.Instruction{Op: op}, nil
		}
		lhs, err := parseReg(rest)
		return ir.Instruction{Op: op, Lhs: lhs}, err
	case shapeJmp:
		lbl, err := parseLabelRef(rest)
		return ir.Instruction{Op: op, Label: lbl}, err
	case shapeImm, shapeRegImm:
		lhs, imm, err := parseRegComma(rest, parseInt)
		if op == ir.OpBprel {
			return ir.Instruction{Op: op, Lhs: lhs, Rhs: ir.Reg(imm)}, err
		}
		return ir.Instruction{Op: op, Lhs: lhs, Imm: imm}, err
	case shapeRegReg:
		lhs, rhs, err := parseRegComma(rest, parseReg)
		return ir.Instruction{Op: op, Lhs: lhs, Rhs: rhs}, err
	case shapeRegLabel:
		lhs, lbl, err := parseRegComma(rest, parseLabelRef)
		return ir.Instruction{Op: op, Lhs: lhs, Label: lbl}, err
	case shapeLabelAddr:
		parts := strings.SplitN(rest, ", ", 2)
		if len(parts) != 2 {
			return ir.Instruction{}, fmt.Errorf("irdump: malformed LABEL_ADDR operands %q", rest)
		}
		lhs, err := parseReg(parts[0])
		return ir.Instruction{Op: op, Lhs: lhs, Symbol: parts[1]}, err
	case shapeMem:
		lhs, rhs, err := parseRegComma(rest, parseReg)
		return ir.Instruction{Op: op, Size: sz, Lhs: lhs, Rhs: rhs}, err
	case shapeStoreArg:
		parts := strings.SplitN(rest, ", ", 2)
		if len(parts) != 2 {
			return ir.Instruction{}, fmt.Errorf("irdump: malformed STORE_ARG operands %q", rest)
		}
		off, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return ir.Instruction{}, err
		}
		rhs, err := parseReg(parts[1])
		return ir.Instruction{Op: op, Size: sz, Lhs: ir.Reg(off), Rhs: rhs}, err
	}
	return ir.Instruction{}, fmt.Errorf("irdump: unhandled shape parsing %q", line)
}

func parseCall(line string, eq int) (ir.Instruction, error) {
	lhsStr := strings.TrimSpace(line[:eq])
	lhs, err := parseReg(lhsStr)
	if err != nil {
		return ir.Instruction{}, err
	}
	rest := strings.TrimSpace(line[eq+3:])
	open := strings.Index(rest, "(")
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return ir.Instruction{}, fmt.Errorf("irdump: malformed call %q", line)
	}
	name := rest[:open]
	argStr := rest[open+1 : len(rest)-1]
	call := &ir.Call{Name: name}
	if argStr != "" {
		for _, a := range strings.Split(argStr, ", ") {
			r, err := parseReg(strings.TrimSpace(a))
			if err != nil {
				return ir.Instruction{}, err
			}
			call.Args[call.Nargs] = r
			call.Nargs++
		}
	}
	return ir.Instruction{Op: ir.OpCall, Lhs: lhs, Call: call}, nil
}

func parseReg(s string) (ir.Reg, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "r") {
		return 0, fmt.Errorf("irdump: expected register operand, got %q", s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, fmt.Errorf("irdump: bad register %q: %w", s, err)
	}
	return ir.Reg(n), nil
}

func parseLabelRef(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, ".L") {
		return 0, fmt.Errorf("irdump: expected label operand, got %q", s)
	}
	return strconv.Atoi(s[2:])
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// parseRegComma parses "r<N>, <rest>" where rest is decoded by parseRhs.
func parseRegComma[T any](s string, parseRhs func(string) (T, error)) (ir.Reg, T, error) {
	parts := strings.SplitN(s, ", ", 2)
	var zero T
	if len(parts) != 2 {
		return 0, zero, fmt.Errorf("irdump: expected two comma-separated operands in %q", s)
	}
	lhs, err := parseReg(parts[0])
	if err != nil {
		return 0, zero, err
	}
	rhs, err := parseRhs(parts[1])
	if err != nil {
		return 0, zero, err
	}
	return lhs, rhs, nil
}

// splitSizeSuffix peels a trailing decimal byte-width off a mnemonic that
// Format rendered as "MNEM<size>" (e.g. "LOAD4" -> "LOAD", 4).
func splitSizeSuffix(mnemonic string) (string, ir.Size, error) {
	for i := len(mnemonic) - 1; i >= 0; i-- {
		if mnemonic[i] < '0' || mnemonic[i] > '9' {
			if i == len(mnemonic)-1 {
				return "", 0, fmt.Errorf("irdump: mnemonic %q missing size suffix", mnemonic)
			}
			n, err := strconv.Atoi(mnemonic[i+1:])
			if err != nil {
				return "", 0, err
			}
			return mnemonic[:i+1], ir.Size(n), nil
		}
	}
	return "", 0, fmt.Errorf("irdump: mnemonic %q missing size suffix", mnemonic)
}
