// Package vectorize implements the experimental AVX-512 auto-vectorizer
// described in spec.md §4.3: four cumulative, deliberately unsound
// pattern-matching strategies applied per function. It is grounded on
// original_source/vectorize.rs's can_vectorize_loop/convert_to_avx512
// heuristic (back-edge + Load-run + arithmetic detection), generalized
// to the richer strategy set spec.md describes, and on the teacher's
// pkg/optimizer.Pass shape (Name() + Run(*Module) (bool, error)) for how
// a rewrite pass plugs into the pipeline.
package vectorize

import "github.com/zstg/oxide/internal/ir"

// Pass is one vectorizer stage, matching the teacher's optimizer.Pass
// shape: a name for diagnostics and a Run that reports whether it
// changed anything.
type Pass interface {
	Name() string
	Run(fn *ir.Function) bool
}

type funcPass struct {
	name string
	run  func(*ir.Function) bool
}

func (p funcPass) Name() string           { return p.name }
func (p funcPass) Run(fn *ir.Function) bool { return p.run(fn) }

// loopPasses are strategies 1-3, tried in order; the first that fires
// short-circuits the rest, since a loop-level rewrite already covers any
// range or reduction within that loop.
var loopPasses = []Pass{
	funcPass{"whole-function-loop-rewrite", wholeFunctionRewrite},
	funcPass{"range-rewrite", rangeRewrite},
	funcPass{"reduction-detect", reductionDetect},
}

// alwaysPasses run unconditionally after the loop passes, regardless of
// whether any of those fired.
var alwaysPasses = []Pass{
	funcPass{"math-call-rewrite", mathCallRewrite},
	funcPass{"fma-fusion", fmaFusion},
}

// Run processes every function in mod: it tries strategies 1-3 in order,
// stopping at the first that fires, then always runs the math-call
// rewrite and FMA fusion.
func Run(mod *ir.Module) {
	for _, fn := range mod.Functions {
		for _, p := range loopPasses {
			if p.Run(fn) {
				break
			}
		}
		for _, p := range alwaysPasses {
			p.Run(fn)
		}
	}
}

// scalarToSIMD is the single unified scalar -> SIMD lookup table backing
// strategies 1-3 below (spec.md §4.3's "Scalar -> SIMD table"). Add/Sub/
// Mul/Div/LT/LE/EQ have only a double-precision SIMD counterpart; AddImm/
// SubImm/MulImm have only an int32 one; Load/Store have both, chosen by
// operand byte width. Mov always maps to the double-precision AVX512Mov
// (AVX512Movi is never produced). One table, shared by those strategies,
// avoids the duplicated per-strategy tables and the missing-Mov entry that
// original_source/vectorize.rs's ad hoc match arms were prone to; the
// math-call rewrite and FMA fusion use their own fixed mappings.
func scalarToSIMD(op ir.Op, size ir.Size) (ir.Op, bool) {
	switch op {
	case ir.OpAdd:
		return ir.OpAVX512Add, true
	case ir.OpSub:
		return ir.OpAVX512Sub, true
	case ir.OpMul:
		return ir.OpAVX512Mul, true
	case ir.OpDiv:
		return ir.OpAVX512Div, true
	case ir.OpAddImm:
		return ir.OpAVX512Addi, true
	case ir.OpSubImm:
		return ir.OpAVX512Subi, true
	case ir.OpMulImm:
		return ir.OpAVX512Muli, true
	case ir.OpEQ:
		return ir.OpAVX512Cmpeq, true
	case ir.OpLT:
		return ir.OpAVX512Cmplt, true
	case ir.OpLE:
		return ir.OpAVX512Cmple, true
	case ir.OpLoad:
		if size == ir.Size4 {
			return ir.OpAVX512Loadi, true
		}
		return ir.OpAVX512Load, true
	case ir.OpStore:
		if size == ir.Size4 {
			return ir.OpAVX512Storei, true
		}
		return ir.OpAVX512Store, true
	case ir.OpMov:
		return ir.OpAVX512Mov, true // Mov carries no width of its own; default to the double path
	}
	return 0, false
}

// hasBackEdge reports whether fn contains a Label L that some later Jmp L
// jumps back to.
func hasBackEdge(fn *ir.Function) bool {
	labelPos := map[int]int{}
	for i, inst := range fn.IR {
		if inst.Op == ir.OpLabel {
			labelPos[inst.Label] = i
		}
	}
	for i, inst := range fn.IR {
		if inst.Op == ir.OpJmp {
			if pos, ok := labelPos[inst.Label]; ok && pos < i {
				return true
			}
		}
	}
	return false
}

func hasThreeConsecutiveLoads(fn *ir.Function) bool {
	run := 0
	for _, inst := range fn.IR {
		if inst.Op == ir.OpLoad {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func hasArith(fn *ir.Function) bool {
	for _, inst := range fn.IR {
		switch inst.Op {
		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
			return true
		}
	}
	return false
}

// wholeFunctionRewrite is strategy 1.
func wholeFunctionRewrite(fn *ir.Function) bool {
	if !hasBackEdge(fn) || !hasThreeConsecutiveLoads(fn) || !hasArith(fn) {
		return false
	}
	for i := range fn.IR {
		inst := &fn.IR[i]
		if simd, ok := scalarToSIMD(inst.Op, inst.Size); ok {
			inst.Op = simd
		}
	}
	return true
}

func isArith(op ir.Op) bool {
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		return true
	}
	return false
}

// rangeRewrite is strategy 2: the first Load -> arith -> Store triplet.
func rangeRewrite(fn *ir.Function) bool {
	for i := 0; i+2 < len(fn.IR); i++ {
		load, arith, store := &fn.IR[i], &fn.IR[i+1], &fn.IR[i+2]
		if load.Op != ir.OpLoad || !isArith(arith.Op) || store.Op != ir.OpStore {
			continue
		}
		loadSIMD, _ := scalarToSIMD(load.Op, load.Size)
		arithSIMD, _ := scalarToSIMD(arith.Op, 0)
		storeSIMD, _ := scalarToSIMD(store.Op, store.Size)
		load.Op, arith.Op, store.Op = loadSIMD, arithSIMD, storeSIMD
		return true
	}
	return false
}

// reductionDetect is strategy 3: Load(dst,src) -> Add|Mul -> Store(_,dst)
// writing back to the same address src, a degenerate accumulator pattern
// whose vector value is assumed already resident from a prior sweep: the
// load/store ends are dropped and only the arithmetic survives, rewritten
// to its SIMD counterpart.
func reductionDetect(fn *ir.Function) bool {
	fired := false
	for i := 0; i+2 < len(fn.IR); i++ {
		load, arith, store := &fn.IR[i], &fn.IR[i+1], &fn.IR[i+2]
		if load.Op != ir.OpLoad {
			continue
		}
		if arith.Op != ir.OpAdd && arith.Op != ir.OpMul {
			continue
		}
		if store.Op != ir.OpStore {
			continue
		}
		if arith.Lhs != load.Lhs || store.Lhs != load.Rhs || store.Rhs != load.Lhs {
			continue
		}
		simd, _ := scalarToSIMD(arith.Op, 0)
		arith.Op = simd
		load.Op = ir.OpNop
		store.Op = ir.OpNop
		fired = true
	}
	return fired
}

var oneArgMath = map[string]ir.Op{"sqrt": ir.OpAVX512Sqrt, "fabs": ir.OpAVX512And}
var twoArgMath = map[string]ir.Op{"fmax": ir.OpAVX512Max, "fmin": ir.OpAVX512Min}

// mathCallRewrite is strategy 4: it always runs, independent of whether
// 1-3 fired. A one-arg call becomes a single SIMD instruction reading its
// argument register directly (Lhs=result, Rhs=arg, mirroring Load's
// distinct dst/src convention). A two-arg call needs its first argument
// copied into the result register before the in-place SIMD op applies,
// the same Mov-then-op shape internal/irgen's genBinary uses for scalar
// binary operators.
func mathCallRewrite(fn *ir.Function) bool {
	out := make([]ir.Instruction, 0, len(fn.IR))
	changed := false
	for _, inst := range fn.IR {
		if inst.Op != ir.OpCall || inst.Call == nil {
			out = append(out, inst)
			continue
		}
		if simd, ok := oneArgMath[inst.Call.Name]; ok && inst.Call.Nargs == 1 {
			out = append(out, ir.Instruction{Op: simd, Lhs: inst.Lhs, Rhs: inst.Call.Args[0]})
			changed = true
			continue
		}
		if simd, ok := twoArgMath[inst.Call.Name]; ok && inst.Call.Nargs == 2 {
			out = append(out, ir.Instruction{Op: ir.OpMov, Lhs: inst.Lhs, Rhs: inst.Call.Args[0]})
			out = append(out, ir.Instruction{Op: simd, Lhs: inst.Lhs, Rhs: inst.Call.Args[1]})
			changed = true
			continue
		}
		out = append(out, inst)
	}
	fn.IR = out
	return changed
}

// fmaFusion fuses a Mul immediately followed by an Add sharing the same
// destination register into a single AVX512FMA, per spec.md §4.3.
func fmaFusion(fn *ir.Function) bool {
	changed := false
	for i := 0; i+1 < len(fn.IR); i++ {
		mul, add := &fn.IR[i], &fn.IR[i+1]
		if mul.Op == ir.OpMul && add.Op == ir.OpAdd && mul.Lhs == add.Lhs {
			mul.Op = ir.OpAVX512FMA
			add.Op = ir.OpNop
			changed = true
		}
	}
	return changed
}
