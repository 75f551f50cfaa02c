package codegen

// Target describes the sBPF feature set the code generator may emit
// against, the same capability-bit idea the teacher's arch parsers use
// for host ISA features, scoped down to the one knob that changes
// codegen per spec.md §4.7: whether a syscall's call immediate resolves
// through a dynamic relocation table (V1, immediate baked as zero) or
// carries the statically baked-in Murmur3 hash directly (V2).
//
// Unlike a host-CPU feature struct, Target never reads the machine
// ovsmc itself runs on — sbpf_version is a CompileOptions input, so
// codegen output stays a pure function of (source, options), never of
// the host.
type Target struct {
	DynamicSyscalls bool
}

// TargetV1 models the legacy dynamic-linking sBPF ABI: syscalls are
// resolved via .dynsym/.rel.dyn at load time.
var TargetV1 = Target{DynamicSyscalls: true}

// TargetV2 models the static-linking sBPF ABI: syscall hashes are
// baked directly into the call immediate and no relocations are
// needed.
var TargetV2 = Target{DynamicSyscalls: false}
