// Package sema performs the minimal semantic pass spec.md assumes has
// already run by the time the IR generator sees a function: resolving
// every declared name to a Local (frame offset, size, alignment) or
// Global scope record, and sizing each function's stack frame.
// Per spec.md §4.1 ("the frame layout... is supplied by the front end;
// IR generation only records offsets"), internal/irgen never invents an
// offset — it only reads what this package computed.
package sema

import (
	"fmt"

	"github.com/zstg/oxide/internal/ast"
)

// LocalVar is a resolved local variable or parameter.
type LocalVar struct {
	Name   string
	Type   *ast.Type
	Offset int // byte offset from rbp; always negative (callee frame slot)
}

// GlobalVar is a resolved global declaration.
type GlobalVar struct {
	Name     string
	Type     *ast.Type
	Init     ast.Node
	IsExtern bool
}

// FuncInfo is one function's resolved frame: every local (including
// parameters, which are spilled to their own frame slots per spec.md
// §4.1's StoreArg contract) plus the function's total Stacksize.
type FuncInfo struct {
	Decl      *ast.FuncDecl
	Locals    map[string]*LocalVar
	Order     []string // declaration order, for deterministic iteration
	Stacksize int
}

// Program is the fully resolved translation unit.
type Program struct {
	Globals   []*GlobalVar
	GlobalMap map[string]*GlobalVar
	Funcs     []*FuncInfo
}

// Analyze resolves every declaration in file.
func Analyze(file *ast.File) (*Program, error) {
	prog := &Program{GlobalMap: map[string]*GlobalVar{}}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GlobalDecl:
			g := &GlobalVar{Name: d.Name, Type: d.Type, Init: d.Init, IsExtern: d.IsExtern}
			prog.Globals = append(prog.Globals, g)
			prog.GlobalMap[d.Name] = g
		case *ast.FuncDecl:
			fi, err := analyzeFunc(d)
			if err != nil {
				return nil, err
			}
			prog.Funcs = append(prog.Funcs, fi)
		default:
			return nil, fmt.Errorf("sema: unsupported top-level declaration %T", decl)
		}
	}
	return prog, nil
}

func analyzeFunc(fn *ast.FuncDecl) (*FuncInfo, error) {
	fi := &FuncInfo{Decl: fn, Locals: map[string]*LocalVar{}}
	offset := 0

	alloc := func(name string, typ *ast.Type) error {
		if _, exists := fi.Locals[name]; exists {
			return fmt.Errorf("sema: function %s: %s redeclared", fn.Name, name)
		}
		size := typ.Size()
		align := typ.Align()
		offset = roundDown(offset-size, align)
		fi.Locals[name] = &LocalVar{Name: name, Type: typ, Offset: offset}
		fi.Order = append(fi.Order, name)
		return nil
	}

	if len(fn.Params) > 6 {
		return nil, fmt.Errorf("sema: function %s: more than 6 parameters unsupported", fn.Name)
	}
	for _, p := range fn.Params {
		if err := alloc(p.Name, p.Type); err != nil {
			return nil, err
		}
	}

	var walk func(n ast.Node) error
	walk = func(n ast.Node) error {
		switch s := n.(type) {
		case nil:
			return nil
		case *ast.VarDecl:
			return alloc(s.Name, s.Type)
		case *ast.Block:
			for _, st := range s.Stmts {
				if err := walk(st); err != nil {
					return err
				}
			}
		case *ast.If:
			if err := walk(s.Then); err != nil {
				return err
			}
			return walk(s.Else)
		case *ast.While:
			return walk(s.Body)
		case *ast.DoWhile:
			return walk(s.Body)
		case *ast.For:
			if err := walk(s.Init); err != nil {
				return err
			}
			return walk(s.Body)
		}
		return nil
	}
	if err := walk(fn.Body); err != nil {
		return nil, err
	}

	fi.Stacksize = -offset
	return fi, nil
}

// roundDown rounds v down to the nearest multiple of align (align a
// power of two), used when growing the frame downward from rbp.
func roundDown(v, align int) int {
	if align <= 1 {
		return v
	}
	r := v % align
	if r == 0 {
		return v
	}
	if v < 0 {
		return v - (align + r)
	}
	return v - r
}
