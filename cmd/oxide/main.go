// Command oxide is the driver binary: a single cobra Command wiring
// tokenize -> parse -> analyze -> generate IR -> [dump] -> allocate
// registers -> [dump] -> vectorize -> [dump] -> emit NASM, per spec.md
// §6. Grounded on the teacher's cmd/minzc/main.go: a package-level flag
// var block, a single rootCmd.Run closure, and a compile(sourceFile)
// helper returning error so main can centralize the os.Exit(1) path.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zstg/oxide/internal/cparse"
	"github.com/zstg/oxide/internal/irdump"
	"github.com/zstg/oxide/internal/irgen"
	"github.com/zstg/oxide/internal/regalloc"
	"github.com/zstg/oxide/internal/sema"
	"github.com/zstg/oxide/internal/vectorize"
	"github.com/zstg/oxide/internal/version"
	"github.com/zstg/oxide/internal/x86"
)

var (
	dumpIR1    bool
	dumpIR2    bool
	dumpIR3    bool
	noVec      bool
	showVer    bool
)

var rootCmd = &cobra.Command{
	Use:   "oxide [flags] <file>",
	Short: "oxide - a small C-to-x86-64 compiler back end",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVer {
			fmt.Println(version.Get().String())
			return nil
		}
		if len(args) == 0 {
			cmd.Usage()
			return fmt.Errorf("no source file given")
		}
		return compile(args[0])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolVar(&dumpIR1, "dump-ir1", false, "dump IR after generation")
	rootCmd.Flags().BoolVar(&dumpIR2, "dump-ir2", false, "dump IR after register allocation")
	rootCmd.Flags().BoolVar(&dumpIR3, "dump-ir3", false, "dump IR after vectorization")
	rootCmd.Flags().BoolVar(&noVec, "no-vec", false, "disable the auto-vectorizer")
	rootCmd.Flags().BoolVarP(&showVer, "version", "v", false, "show version")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "oxide: %v\n", err)
		os.Exit(1)
	}
}

func compile(sourceFile string) error {
	src, err := os.ReadFile(sourceFile)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", sourceFile, err)
	}

	file, err := cparse.Parse(string(src))
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}

	prog, err := sema.Analyze(file)
	if err != nil {
		return fmt.Errorf("semantic error: %w", err)
	}

	mod, err := irgen.Generate(prog, irgen.NewCounters())
	if err != nil {
		return fmt.Errorf("IR generation error: %w", err)
	}
	if dumpIR1 {
		if err := irdump.Dump(os.Stderr, mod); err != nil {
			return fmt.Errorf("dump-ir1: %w", err)
		}
	}

	for _, fn := range mod.Functions {
		if err := regalloc.Allocate(fn); err != nil {
			return fmt.Errorf("register allocation error: %w", err)
		}
	}
	if dumpIR2 {
		if err := irdump.Dump(os.Stderr, mod); err != nil {
			return fmt.Errorf("dump-ir2: %w", err)
		}
	}

	if !noVec {
		vectorize.Run(mod)
	}
	if dumpIR3 {
		if err := irdump.Dump(os.Stderr, mod); err != nil {
			return fmt.Errorf("dump-ir3: %w", err)
		}
	}

	emitter := x86.New(os.Stdout)
	if err := emitter.Emit(mod); err != nil {
		return fmt.Errorf("code generation error: %w", err)
	}
	return nil
}
