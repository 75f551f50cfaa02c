// Command ovsmc compiles OVSM LISP source files to deployable Solana
// sBPF ELF binaries.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openSVM/ovsmc/internal/compiler"
)

var command = &cobra.Command{
	Use:  "ovsmc source [-o output]",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.PersistentFlags().GetString("output")
		if output == "" {
			output = defaultOutputPath(args[0])
		}

		optLevel, _ := cmd.PersistentFlags().GetInt("opt-level")
		computeBudget, _ := cmd.PersistentFlags().GetUint64("compute-budget")
		sbpfVersion, _ := cmd.PersistentFlags().GetString("sbpf-version")
		enableSolanaAbi, _ := cmd.PersistentFlags().GetBool("solana-abi")
		typeCheckMode, _ := cmd.PersistentFlags().GetString("type-check-mode")
		verificationMode, _ := cmd.PersistentFlags().GetString("verification-mode")
		debugInfo, _ := cmd.PersistentFlags().GetBool("debug-info")

		options := compiler.DefaultCompileOptions()
		options.OptLevel = uint8(optLevel)
		options.ComputeBudget = computeBudget
		options.EnableSolanaAbi = enableSolanaAbi
		options.DebugInfo = debugInfo

		version, err := parseSbpfVersion(sbpfVersion)
		if err != nil {
			fail(err)
		}
		options.SbpfVersion = version

		mode, err := parseTypeCheckMode(typeCheckMode)
		if err != nil {
			fail(err)
		}
		options.TypeCheckMode = mode

		vmode, err := parseVerificationMode(verificationMode)
		if err != nil {
			fail(err)
		}
		options.VerificationMode = vmode

		source, err := os.ReadFile(args[0])
		if err != nil {
			fail(err)
		}

		result, err := compiler.New(options).Compile(string(source))
		if err != nil {
			fail(err)
		}

		for _, w := range result.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}

		if err := os.WriteFile(output, result.ElfBytes, 0o644); err != nil {
			fail(err)
		}

		fmt.Fprintf(os.Stderr,
			"compiled %s -> %s (%d IR instructions, %d sBPF instructions, ~%d CU)\n",
			args[0], output, result.IrInstructionCount, result.SbpfInstructionCount, result.EstimatedCU)
	},
}

func defaultOutputPath(source string) string {
	ext := ""
	for i := len(source) - 1; i >= 0 && source[i] != '/'; i-- {
		if source[i] == '.' {
			ext = source[i:]
			break
		}
	}
	return source[:len(source)-len(ext)] + ".so"
}

func parseSbpfVersion(s string) (compiler.SbpfVersion, error) {
	switch s {
	case "v1", "V1", "":
		return compiler.V1, nil
	case "v2", "V2":
		return compiler.V2, nil
	default:
		return 0, fmt.Errorf("unknown sbpf-version %q (want v1 or v2)", s)
	}
}

func parseTypeCheckMode(s string) (compiler.TypeCheckMode, error) {
	switch s {
	case "legacy", "":
		return compiler.Legacy, nil
	case "gradual":
		return compiler.Gradual, nil
	case "strict":
		return compiler.Strict, nil
	default:
		return 0, fmt.Errorf("unknown type-check-mode %q (want legacy, gradual or strict)", s)
	}
}

func parseVerificationMode(s string) (compiler.VerificationMode, error) {
	switch s {
	case "skip":
		return compiler.Skip, nil
	case "warn":
		return compiler.Warn, nil
	case "require", "":
		return compiler.Require, nil
	default:
		return 0, fmt.Errorf("unknown verification-mode %q (want skip, warn or require)", s)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func init() {
	command.PersistentFlags().StringP("output", "o", "", "output path for the compiled ELF (defaults to the source path with its extension replaced by .so)")
	command.PersistentFlags().Int("opt-level", 2, "optimizer level (0-3)")
	command.PersistentFlags().Uint64("compute-budget", 200_000, "target compute unit budget, used for CU warnings")
	command.PersistentFlags().String("sbpf-version", "v1", "sBPF ELF flavor to emit (v1, v2)")
	command.PersistentFlags().Bool("solana-abi", false, "inject the Solana entrypoint ABI wrapper")
	command.PersistentFlags().String("type-check-mode", "legacy", "type checking mode (legacy, gradual, strict)")
	command.PersistentFlags().String("verification-mode", "require", "formal verification gating (skip, warn, require)")
	command.PersistentFlags().Bool("debug-info", false, "reserved: request debug info in the output")
}

func main() {
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
