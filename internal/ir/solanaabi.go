package ir

// InjectEntrypointWrapper prepends the Solana ABI entry sequence to an
// already-generated program: the raw input buffer pointer and its
// length arrive in R1/R2 per the sBPF calling convention, and the rest
// of the program body may call into syscalls that clobber R1..R5 at
// any point, so the two ABI-bound virtual registers (1, 2) are copied
// into the pair the physical register model reserves for saved ABI
// inputs (6, 7 → R6/R7) before anything else runs.
//
// Registers 1, 2, 6 and 7 are never allocated by the ordinary IR
// generator (see Generator.New, which starts general allocation at
// r11), and the register allocator pre-colors exactly this set for the
// ABI, so this wrapper composes with every other IR-producing pass
// without renumbering anything.
func InjectEntrypointWrapper(prog *Program) {
	wrapper := []Instr{
		&Move{Dst: 6, Src: 1},
		&Move{Dst: 7, Src: 2},
	}

	insertAt := 0
	if len(prog.Instructions) > 0 {
		if _, ok := prog.Instructions[0].(*Label); ok {
			insertAt = 1
		}
	}

	out := make([]Instr, 0, len(prog.Instructions)+len(wrapper))
	out = append(out, prog.Instructions[:insertAt]...)
	out = append(out, wrapper...)
	out = append(out, prog.Instructions[insertAt:]...)
	prog.Instructions = out
}
