// Package irgen lowers a checked C AST (internal/ast, as produced by
// internal/cparse + internal/sema) into the flat internal/ir
// three-address form, per spec.md §4.1. Expressions are emitted
// post-order; every inner node returns the virtual register holding
// its result, exactly as the spec describes.
package irgen

import (
	"fmt"

	"github.com/zstg/oxide/internal/ast"
	"github.com/zstg/oxide/internal/counter"
	"github.com/zstg/oxide/internal/ir"
	"github.com/zstg/oxide/internal/sema"
)

// Counters bundles the two process-wide id sources the IR generator
// owns (spec.md §5): fresh virtual-register ids and fresh label ids.
// Both are explicit, not ambient globals, per the DESIGN NOTES refactor
// target — callers construct one pair per compilation.
type Counters struct {
	Regs   *counter.Counter
	Labels *counter.Counter
}

// NewCounters returns a fresh Counters pair, registers starting at 1
// (0 is reserved to mean "no register", as in a void Return).
func NewCounters() *Counters {
	return &Counters{Regs: counter.New(1), Labels: counter.New(0)}
}

type loopLabels struct {
	brk, cont int
}

// Generator lowers one sema.Program into an ir.Module.
type Generator struct {
	counters  *Counters
	prog      *sema.Program
	mod       *ir.Module
	fn        *ir.Function
	fi        *sema.FuncInfo
	loops     []loopLabels
	funcRet   map[string]*ast.Type
	stringIDs int
}

// Generate lowers prog into a Module.
func Generate(prog *sema.Program, counters *Counters) (*ir.Module, error) {
	g := &Generator{
		counters: counters,
		prog:     prog,
		mod:      &ir.Module{},
		funcRet:  map[string]*ast.Type{},
	}
	for _, fi := range prog.Funcs {
		g.funcRet[fi.Decl.Name] = fi.Decl.ReturnType
	}
	for _, g2 := range prog.Globals {
		g.mod.Globals = append(g.mod.Globals, globalFromDecl(g2))
	}
	for _, fi := range prog.Funcs {
		fn, err := g.genFunc(fi)
		if err != nil {
			return nil, err
		}
		g.mod.Functions = append(g.mod.Functions, fn)
	}
	return g.mod, nil
}

func globalFromDecl(g *sema.GlobalVar) ir.Global {
	out := ir.Global{Name: g.Name, IsExtern: g.IsExtern, Len: g.Type.Size()}
	if g.IsExtern || g.Init == nil {
		return out
	}
	switch init := g.Init.(type) {
	case *ast.StringLit:
		out.Data = []byte(init.Value)
		out.IsString = true
		out.Len = len(init.Value) + 1
	case *ast.IntLit:
		out.Data = leBytes(init.Value, g.Type.Size())
	}
	return out
}

func leBytes(v int64, size int) []byte {
	b := make([]byte, size)
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func (g *Generator) newReg() ir.Reg   { return ir.Reg(g.counters.Regs.Next()) }
func (g *Generator) newLabel() int    { return g.counters.Labels.Next() }

func (g *Generator) emit(inst ir.Instruction) { g.fn.Emit(inst) }

func (g *Generator) genFunc(fi *sema.FuncInfo) (*ir.Function, error) {
	g.fn = &ir.Function{Name: fi.Decl.Name, Stacksize: fi.Stacksize}
	g.fi = fi
	g.loops = nil

	for i, p := range fi.Decl.Params {
		lv := fi.Locals[p.Name]
		g.emit(ir.Instruction{Op: ir.OpStoreArg, Lhs: ir.Reg(lv.Offset), Rhs: ir.Reg(i), Size: ir.Size(sizeOf(p.Type))})
	}

	if err := g.genStmt(fi.Decl.Body); err != nil {
		return nil, err
	}
	return g.fn, nil
}

func sizeOf(t *ast.Type) int {
	switch t.Size() {
	case 1:
		return 1
	case 4:
		return 4
	default:
		return 8
	}
}

// ---- statements ----

func (g *Generator) genStmt(n ast.Node) error {
	switch s := n.(type) {
	case nil:
		return nil
	case *ast.Block:
		for _, st := range s.Stmts {
			if err := g.genStmt(st); err != nil {
				return err
			}
		}
		return nil

	case *ast.ExprStmt:
		if s.X == nil {
			return nil
		}
		_, _, err := g.genExpr(s.X)
		return err

	case *ast.VarDecl:
		if s.Init == nil {
			return nil
		}
		lv := g.fi.Locals[s.Name]
		addr := g.newReg()
		g.emit(ir.Instruction{Op: ir.OpBprel, Lhs: addr, Rhs: ir.Reg(lv.Offset)})
		val, _, err := g.genExpr(s.Init)
		if err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpStore, Lhs: addr, Rhs: val, Size: ir.Size(sizeOf(lv.Type))})
		return nil

	case *ast.If:
		cond, _, err := g.genExpr(s.Cond)
		if err != nil {
			return err
		}
		lelse := g.newLabel()
		lend := g.newLabel()
		g.emit(ir.Instruction{Op: ir.OpUnless, Lhs: cond, Label: lelse})
		if err := g.genStmt(s.Then); err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpJmp, Label: lend})
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lelse})
		if s.Else != nil {
			if err := g.genStmt(s.Else); err != nil {
				return err
			}
		}
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lend})
		return nil

	case *ast.While:
		lcond := g.newLabel()
		lbrk := g.newLabel()
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lcond})
		cond, _, err := g.genExpr(s.Cond)
		if err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpUnless, Lhs: cond, Label: lbrk})
		g.loops = append(g.loops, loopLabels{brk: lbrk, cont: lcond})
		if err := g.genStmt(s.Body); err != nil {
			return err
		}
		g.loops = g.loops[:len(g.loops)-1]
		g.emit(ir.Instruction{Op: ir.OpJmp, Label: lcond})
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lbrk})
		return nil

	case *ast.For:
		if err := g.genStmt(s.Init); err != nil {
			return err
		}
		lcond := g.newLabel()
		lbrk := g.newLabel()
		lcont := g.newLabel()
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lcond})
		if s.Cond != nil {
			cond, _, err := g.genExpr(s.Cond)
			if err != nil {
				return err
			}
			g.emit(ir.Instruction{Op: ir.OpUnless, Lhs: cond, Label: lbrk})
		}
		g.loops = append(g.loops, loopLabels{brk: lbrk, cont: lcont})
		if err := g.genStmt(s.Body); err != nil {
			return err
		}
		g.loops = g.loops[:len(g.loops)-1]
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lcont})
		if s.Step != nil {
			if _, _, err := g.genExpr(s.Step); err != nil {
				return err
			}
		}
		g.emit(ir.Instruction{Op: ir.OpJmp, Label: lcond})
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lbrk})
		return nil

	case *ast.DoWhile:
		lbody := g.newLabel()
		lcont := g.newLabel()
		lbrk := g.newLabel()
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lbody})
		g.loops = append(g.loops, loopLabels{brk: lbrk, cont: lcont})
		if err := g.genStmt(s.Body); err != nil {
			return err
		}
		g.loops = g.loops[:len(g.loops)-1]
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lcont})
		cond, _, err := g.genExpr(s.Cond)
		if err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpIf, Lhs: cond, Label: lbody})
		g.emit(ir.Instruction{Op: ir.OpLabel, Label: lbrk})
		return nil

	case *ast.Break:
		if len(g.loops) == 0 {
			return fmt.Errorf("irgen: break outside loop")
		}
		g.emit(ir.Instruction{Op: ir.OpJmp, Label: g.loops[len(g.loops)-1].brk})
		return nil

	case *ast.Continue:
		if len(g.loops) == 0 {
			return fmt.Errorf("irgen: continue outside loop")
		}
		g.emit(ir.Instruction{Op: ir.OpJmp, Label: g.loops[len(g.loops)-1].cont})
		return nil

	case *ast.Return:
		if s.Value == nil {
			g.emit(ir.Instruction{Op: ir.OpReturn})
			return nil
		}
		v, _, err := g.genExpr(s.Value)
		if err != nil {
			return err
		}
		g.emit(ir.Instruction{Op: ir.OpReturn, Lhs: v})
		return nil

	default:
		return fmt.Errorf("irgen: unsupported statement %T", n)
	}
}
