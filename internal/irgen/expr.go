package irgen

import (
	"fmt"

	"github.com/zstg/oxide/internal/ast"
	"github.com/zstg/oxide/internal/ir"
)

var intType = &ast.Type{Kind: ast.TInt}
var charPtrType = &ast.Type{Kind: ast.TPointer, Base: &ast.Type{Kind: ast.TChar}}

// genAddr lowers n to a register holding the *address* of n, stopping
// short of any Load, per spec.md §4.1 ("&x stops before the Load a plain
// read of x would append"). It returns the type of the addressed value
// (not a pointer to it).
func (g *Generator) genAddr(n ast.Node) (ir.Reg, *ast.Type, error) {
	switch e := n.(type) {
	case *ast.Ident:
		if lv, ok := g.fi.Locals[e.Name]; ok {
			dst := g.newReg()
			g.emit(ir.Instruction{Op: ir.OpBprel, Lhs: dst, Rhs: ir.Reg(lv.Offset)})
			return dst, lv.Type, nil
		}
		if gv, ok := g.prog.GlobalMap[e.Name]; ok {
			dst := g.newReg()
			g.emit(ir.Instruction{Op: ir.OpLabelAddr, Lhs: dst, Symbol: gv.Name})
			return dst, gv.Type, nil
		}
		return 0, nil, fmt.Errorf("irgen: undefined identifier %s", e.Name)

	case *ast.Unary:
		if e.Op != "*" {
			return 0, nil, fmt.Errorf("irgen: %s is not addressable", e.Op)
		}
		ptr, ptrType, err := g.genExpr(e.Operand)
		if err != nil {
			return 0, nil, err
		}
		if ptrType.Kind != ast.TPointer {
			return 0, nil, fmt.Errorf("irgen: dereferencing non-pointer")
		}
		return ptr, ptrType.Base, nil

	case *ast.Index:
		return g.genIndexAddr(e)

	case *ast.Member:
		return g.genMemberAddr(e)

	default:
		return 0, nil, fmt.Errorf("irgen: %T is not addressable", n)
	}
}

func (g *Generator) genIndexAddr(e *ast.Index) (ir.Reg, *ast.Type, error) {
	var base ir.Reg
	var arrType *ast.Type
	arrAddr, t, err := g.genAddr(e.Array)
	if err != nil {
		return 0, nil, err
	}
	switch t.Kind {
	case ast.TArray:
		base = arrAddr
		arrType = t.Base
	case ast.TPointer:
		dst := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpLoad, Lhs: dst, Rhs: arrAddr, Size: ir.Size(sizeOf(t))})
		base = dst
		arrType = t.Base
	default:
		return 0, nil, fmt.Errorf("irgen: indexing non-array, non-pointer type")
	}

	elemSize := int64(sizeOf(arrType))
	if lit, ok := e.Idx.(*ast.IntLit); ok {
		dst := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpMov, Lhs: dst, Rhs: base})
		if off := lit.Value * elemSize; off != 0 {
			g.emit(ir.Instruction{Op: ir.OpAddImm, Lhs: dst, Imm: off})
		}
		return dst, arrType, nil
	}

	idx, _, err := g.genExpr(e.Idx)
	if err != nil {
		return 0, nil, err
	}
	scaled := g.newReg()
	g.emit(ir.Instruction{Op: ir.OpMov, Lhs: scaled, Rhs: idx})
	g.emit(ir.Instruction{Op: ir.OpMulImm, Lhs: scaled, Imm: elemSize})
	dst := g.newReg()
	g.emit(ir.Instruction{Op: ir.OpMov, Lhs: dst, Rhs: base})
	g.emit(ir.Instruction{Op: ir.OpAdd, Lhs: dst, Rhs: scaled})
	g.emit(ir.Instruction{Op: ir.OpKill, Lhs: scaled})
	return dst, arrType, nil
}

func (g *Generator) genMemberAddr(e *ast.Member) (ir.Reg, *ast.Type, error) {
	var base ir.Reg
	var structType *ast.Type
	if e.Arrow {
		ptr, t, err := g.genExpr(e.Base)
		if err != nil {
			return 0, nil, err
		}
		if t.Kind != ast.TPointer {
			return 0, nil, fmt.Errorf("irgen: -> on non-pointer")
		}
		base, structType = ptr, t.Base
	} else {
		addr, t, err := g.genAddr(e.Base)
		if err != nil {
			return 0, nil, err
		}
		base, structType = addr, t
	}
	if structType.Kind != ast.TStruct {
		return 0, nil, fmt.Errorf("irgen: member access on non-struct")
	}
	for _, f := range structType.Fields {
		if f.Name == e.Field {
			if f.Offset == 0 {
				return base, f.Type, nil
			}
			dst := g.newReg()
			g.emit(ir.Instruction{Op: ir.OpMov, Lhs: dst, Rhs: base})
			g.emit(ir.Instruction{Op: ir.OpAddImm, Lhs: dst, Imm: int64(f.Offset)})
			return dst, f.Type, nil
		}
	}
	return 0, nil, fmt.Errorf("irgen: struct %s has no field %s", structType.Name, e.Field)
}

// genExpr lowers n to a register holding its value, per spec.md §4.1's
// post-order expression-emission rules.
func (g *Generator) genExpr(n ast.Node) (ir.Reg, *ast.Type, error) {
	switch e := n.(type) {
	case *ast.IntLit:
		dst := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpImm, Lhs: dst, Imm: e.Value})
		return dst, intType, nil

	case *ast.StringLit:
		name := g.internString(e.Value)
		dst := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpLabelAddr, Lhs: dst, Symbol: name})
		return dst, charPtrType, nil

	case *ast.Ident:
		addr, t, err := g.genAddr(e)
		if err != nil {
			return 0, nil, err
		}
		if t.Kind == ast.TArray {
			return addr, t, nil
		}
		dst := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpLoad, Lhs: dst, Rhs: addr, Size: ir.Size(sizeOf(t))})
		return dst, t, nil

	case *ast.Index:
		addr, t, err := g.genIndexAddr(e)
		if err != nil {
			return 0, nil, err
		}
		if t.Kind == ast.TArray {
			return addr, t, nil
		}
		dst := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpLoad, Lhs: dst, Rhs: addr, Size: ir.Size(sizeOf(t))})
		return dst, t, nil

	case *ast.Member:
		addr, t, err := g.genMemberAddr(e)
		if err != nil {
			return 0, nil, err
		}
		if t.Kind == ast.TArray || t.Kind == ast.TStruct {
			return addr, t, nil
		}
		dst := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpLoad, Lhs: dst, Rhs: addr, Size: ir.Size(sizeOf(t))})
		return dst, t, nil

	case *ast.Unary:
		return g.genUnary(e)

	case *ast.Binary:
		return g.genBinary(e)

	case *ast.Assign:
		addr, t, err := g.genAddr(e.Target)
		if err != nil {
			return 0, nil, err
		}
		val, _, err := g.genExpr(e.Value)
		if err != nil {
			return 0, nil, err
		}
		g.emit(ir.Instruction{Op: ir.OpStore, Lhs: addr, Rhs: val, Size: ir.Size(sizeOf(t))})
		return val, t, nil

	case *ast.Call:
		return g.genCall(e)

	default:
		return 0, nil, fmt.Errorf("irgen: unsupported expression %T", n)
	}
}

func (g *Generator) internString(s string) string {
	name := fmt.Sprintf(".LC%d", g.stringIDs)
	g.stringIDs++
	g.mod.Globals = append(g.mod.Globals, ir.Global{Name: name, Data: []byte(s), IsString: true, Len: len(s) + 1})
	return name
}

func (g *Generator) genUnary(e *ast.Unary) (ir.Reg, *ast.Type, error) {
	switch e.Op {
	case "-":
		v, t, err := g.genExpr(e.Operand)
		if err != nil {
			return 0, nil, err
		}
		g.emit(ir.Instruction{Op: ir.OpNeg, Lhs: v})
		return v, t, nil

	case "!":
		v, _, err := g.genExpr(e.Operand)
		if err != nil {
			return 0, nil, err
		}
		zero := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpImm, Lhs: zero, Imm: 0})
		g.emit(ir.Instruction{Op: ir.OpEQ, Lhs: v, Rhs: zero})
		g.emit(ir.Instruction{Op: ir.OpKill, Lhs: zero})
		return v, intType, nil

	case "~":
		v, t, err := g.genExpr(e.Operand)
		if err != nil {
			return 0, nil, err
		}
		allOnes := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpImm, Lhs: allOnes, Imm: -1})
		g.emit(ir.Instruction{Op: ir.OpXor, Lhs: v, Rhs: allOnes})
		g.emit(ir.Instruction{Op: ir.OpKill, Lhs: allOnes})
		return v, t, nil

	case "&":
		addr, t, err := g.genAddr(e.Operand)
		if err != nil {
			return 0, nil, err
		}
		return addr, &ast.Type{Kind: ast.TPointer, Base: t}, nil

	case "*":
		ptr, t, err := g.genExpr(e.Operand)
		if err != nil {
			return 0, nil, err
		}
		if t.Kind != ast.TPointer {
			return 0, nil, fmt.Errorf("irgen: * on non-pointer")
		}
		dst := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpLoad, Lhs: dst, Rhs: ptr, Size: ir.Size(sizeOf(t.Base))})
		return dst, t.Base, nil

	case "++pre", "--pre", "++post", "--post":
		addr, t, err := g.genAddr(e.Operand)
		if err != nil {
			return 0, nil, err
		}
		size := ir.Size(sizeOf(t))
		old := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpLoad, Lhs: old, Rhs: addr, Size: size})

		step := int64(1)
		if t.Kind == ast.TPointer {
			step = int64(sizeOf(t.Base))
		}

		isPost := e.Op == "++post" || e.Op == "--post"
		var saved ir.Reg
		if isPost {
			saved = g.newReg()
			g.emit(ir.Instruction{Op: ir.OpMov, Lhs: saved, Rhs: old})
		}
		if e.Op == "++pre" || e.Op == "++post" {
			g.emit(ir.Instruction{Op: ir.OpAddImm, Lhs: old, Imm: step})
		} else {
			g.emit(ir.Instruction{Op: ir.OpSubImm, Lhs: old, Imm: step})
		}
		g.emit(ir.Instruction{Op: ir.OpStore, Lhs: addr, Rhs: old, Size: size})
		if isPost {
			g.emit(ir.Instruction{Op: ir.OpKill, Lhs: old})
			return saved, t, nil
		}
		return old, t, nil

	default:
		return 0, nil, fmt.Errorf("irgen: unsupported unary operator %s", e.Op)
	}
}

var cmpOps = map[string]ir.Op{"==": ir.OpEQ, "!=": ir.OpNE, "<": ir.OpLT, "<=": ir.OpLE}
var arithOps = map[string]ir.Op{
	"+": ir.OpAdd, "-": ir.OpSub, "*": ir.OpMul, "/": ir.OpDiv, "%": ir.OpMod,
	"&": ir.OpAnd, "|": ir.OpOr, "^": ir.OpXor, "<<": ir.OpShl, ">>": ir.OpShr,
}

func (g *Generator) genBinary(e *ast.Binary) (ir.Reg, *ast.Type, error) {
	switch e.Op {
	case "&&":
		return g.genShortCircuit(e, true)
	case "||":
		return g.genShortCircuit(e, false)
	}

	// '>' and '>=' have no direct opcode; lower as swapped '<'/'<='.
	op := e.Op
	left, right := e.Left, e.Right
	if op == ">" {
		op, left, right = "<", e.Right, e.Left
	} else if op == ">=" {
		op, left, right = "<=", e.Right, e.Left
	}

	l, lt, err := g.genExpr(left)
	if err != nil {
		return 0, nil, err
	}
	// A literal right-hand multiplier takes the MulImm fast path instead
	// of being materialised in a register of its own.
	if lit, ok := right.(*ast.IntLit); ok && op == "*" {
		dst := g.newRegFromMov(l)
		g.emit(ir.Instruction{Op: ir.OpMulImm, Lhs: dst, Imm: lit.Value})
		g.emit(ir.Instruction{Op: ir.OpKill, Lhs: l})
		return dst, lt, nil
	}
	r, _, err := g.genExpr(right)
	if err != nil {
		return 0, nil, err
	}

	if irop, ok := cmpOps[op]; ok {
		dst := g.newRegFromMov(l)
		g.emit(ir.Instruction{Op: irop, Lhs: dst, Rhs: r})
		g.emit(ir.Instruction{Op: ir.OpKill, Lhs: r})
		g.emit(ir.Instruction{Op: ir.OpKill, Lhs: l})
		return dst, intType, nil
	}

	irop, ok := arithOps[op]
	if !ok {
		return 0, nil, fmt.Errorf("irgen: unsupported binary operator %s", e.Op)
	}
	dst := g.newRegFromMov(l)
	g.emit(ir.Instruction{Op: irop, Lhs: dst, Rhs: r})
	g.emit(ir.Instruction{Op: ir.OpKill, Lhs: r})
	g.emit(ir.Instruction{Op: ir.OpKill, Lhs: l})
	return dst, lt, nil
}

// newRegFromMov allocates a fresh register holding a copy of src, per
// spec.md §4.1's "Mov dst,left then op dst ⊕= right" binary-lowering
// template (dst is never the same vreg as left, since vregs are
// single-assignment with reuse only via explicit Mov/Kill).
func (g *Generator) newRegFromMov(src ir.Reg) ir.Reg {
	dst := g.newReg()
	g.emit(ir.Instruction{Op: ir.OpMov, Lhs: dst, Rhs: src})
	return dst
}

func (g *Generator) genShortCircuit(e *ast.Binary, isAnd bool) (ir.Reg, *ast.Type, error) {
	dst := g.newReg()
	short := g.newLabel()
	end := g.newLabel()

	l, _, err := g.genExpr(e.Left)
	if err != nil {
		return 0, nil, err
	}
	if isAnd {
		g.emit(ir.Instruction{Op: ir.OpUnless, Lhs: l, Label: short})
	} else {
		g.emit(ir.Instruction{Op: ir.OpIf, Lhs: l, Label: short})
	}
	g.emit(ir.Instruction{Op: ir.OpKill, Lhs: l})

	r, _, err := g.genExpr(e.Right)
	if err != nil {
		return 0, nil, err
	}
	if isAnd {
		g.emit(ir.Instruction{Op: ir.OpUnless, Lhs: r, Label: short})
	} else {
		g.emit(ir.Instruction{Op: ir.OpIf, Lhs: r, Label: short})
	}
	g.emit(ir.Instruction{Op: ir.OpKill, Lhs: r})

	var normal, shorted int64
	if isAnd {
		normal, shorted = 1, 0
	} else {
		normal, shorted = 0, 1
	}
	g.emit(ir.Instruction{Op: ir.OpImm, Lhs: dst, Imm: normal})
	g.emit(ir.Instruction{Op: ir.OpJmp, Label: end})
	g.emit(ir.Instruction{Op: ir.OpLabel, Label: short})
	g.emit(ir.Instruction{Op: ir.OpImm, Lhs: dst, Imm: shorted})
	g.emit(ir.Instruction{Op: ir.OpLabel, Label: end})
	return dst, intType, nil
}

func (g *Generator) genCall(e *ast.Call) (ir.Reg, *ast.Type, error) {
	if len(e.Args) > 6 {
		return 0, nil, fmt.Errorf("irgen: call to %s: more than 6 arguments unsupported", e.Callee)
	}
	call := &ir.Call{Name: e.Callee, Nargs: len(e.Args)}
	for i, a := range e.Args {
		v, _, err := g.genExpr(a)
		if err != nil {
			return 0, nil, err
		}
		call.Args[i] = v
	}
	dst := g.newReg()
	g.emit(ir.Instruction{Op: ir.OpCall, Lhs: dst, Call: call})
	for _, a := range call.Args[:call.Nargs] {
		g.emit(ir.Instruction{Op: ir.OpKill, Lhs: a})
	}
	ret, ok := g.funcRet[e.Callee]
	if !ok {
		ret = intType
	}
	return dst, ret, nil
}
