// Package elfpkg packages compiled sBPF programs into ET_DYN ELF
// shared objects deployable to the Solana runtime, mirroring the two
// output shapes the loader accepts: a minimal static layout for
// programs with neither syscalls nor string data, and a
// dynamically-linked layout with .rodata and a .dynsym/.dynstr/.rel.dyn
// chain for the rest.
package elfpkg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/samber/lo"

	"github.com/openSVM/ovsmc/internal/codegen"
)

// SbpfVersion selects the sBPF ABI a program targets: V1 resolves
// syscalls through ELF relocations, V2 bakes syscall hashes directly
// into the call immediate and needs no dynamic section at all.
type SbpfVersion int

const (
	SbpfV1 SbpfVersion = iota
	SbpfV2
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

const (
	elfClass64   = 2
	elfData2Lsb  = 1
	evCurrent    = 1
	elfOsAbiNone = 0
	etDyn        = 3
	emSbf        = 263

	efSbfV1 = 0x0
	efSbfV2 = 0x20

	shtNull    = 0
	shtProgbit = 1
	shtSymtab  = 2
	shtStrtab  = 3
	shtRel     = 9
	shtDynsym  = 11
	shtDynamic = 6

	shfAlloc     = 0x2
	shfExecinstr = 0x4
	shfWrite     = 0x1

	ptLoad    = 1
	ptDynamic = 2

	dtNull      = 0
	dtStrtab    = 5
	dtSymtab    = 6
	dtStrsz     = 10
	dtSyment    = 11
	dtRel       = 17
	dtRelsz     = 18
	dtRelent    = 19
	dtTextrel   = 22
	dtFlags     = 30
	dtRelcount  = 0x6ffffffa

	rBpf6464     = 1
	rBpf64Rel    = 8
	rBpf6432     = 10

	pfX = 0x1
	pfW = 0x2
	pfR = 0x4

	textVaddr       = 0x120
	mmProgramStart  = 0x100000000

	stbGlobal = 1
	sttFunc   = 2
)

// SyscallSite is re-exported here as the type the ELF writer consumes;
// it matches codegen.SyscallSite field for field.
type SyscallSite = codegen.SyscallSite

// StringLoadSite is re-exported from codegen for the same reason.
type StringLoadSite = codegen.StringLoadSite

// Writer accumulates string-table state across one or more Write calls,
// matching the original's pattern of a long-lived writer with its own
// strtab/shstrtab/dynstr buffers.
type Writer struct {
	strtab   []byte
	shstrtab []byte
	dynstr   []byte
}

func New() *Writer {
	return &Writer{strtab: []byte{0}, shstrtab: []byte{0}, dynstr: []byte{0}}
}

func (w *Writer) addStrtab(s string) int {
	idx := len(w.strtab)
	w.strtab = append(w.strtab, []byte(s)...)
	w.strtab = append(w.strtab, 0)
	return idx
}

func (w *Writer) addShstrtab(s string) int {
	idx := len(w.shstrtab)
	w.shstrtab = append(w.shstrtab, []byte(s)...)
	w.shstrtab = append(w.shstrtab, 0)
	return idx
}

func (w *Writer) addDynstr(s string) int {
	idx := len(w.dynstr)
	w.dynstr = append(w.dynstr, []byte(s)...)
	w.dynstr = append(w.dynstr, 0)
	return idx
}

func align8(n int) int { return (n + 7) &^ 7 }

func le16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func le64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

func encodeText(program []codegen.Instruction) []byte {
	var buf bytes.Buffer
	for _, in := range program {
		buf.Write(in.Encode())
	}
	return buf.Bytes()
}

func efFlags(version SbpfVersion) uint32 {
	if version == SbpfV2 {
		return efSbfV2
	}
	return efSbfV1
}

// Write packages program as a minimal ET_DYN ELF with no syscall
// relocations: just .text, .strtab, .symtab and .shstrtab.
func (w *Writer) Write(program []codegen.Instruction, version SbpfVersion) ([]byte, error) {
	textSection := encodeText(program)
	if len(textSection) == 0 {
		return nil, fmt.Errorf("elfpkg: cannot create ELF with empty program")
	}

	entrypointStrIdx := w.addStrtab("entrypoint")
	w.addShstrtab(".shstrtab")
	textName := w.addShstrtab(".text")
	strtabName := w.addShstrtab(".strtab")
	symtabName := w.addShstrtab(".symtab")

	const ehdrSize = 64
	const phdrSize = 56
	const shdrSize = 64
	const numPhdrs = 1
	const numSections = 5

	phdrOffset := ehdrSize
	textOffset := textVaddr
	textSize := len(textSection)

	strtabOffset := textOffset + textSize
	strtabSize := len(w.strtab)

	symtabOffset := strtabOffset + strtabSize
	const symtabEntrySize = 24
	symtabSize := symtabEntrySize * 2

	shstrtabOffset := symtabOffset + symtabSize
	shstrtabSize := len(w.shstrtab)

	shdrOffset := align8(shstrtabOffset + shstrtabSize)

	var elf bytes.Buffer

	elf.Write(elfMagic[:])
	elf.WriteByte(elfClass64)
	elf.WriteByte(elfData2Lsb)
	elf.WriteByte(evCurrent)
	elf.WriteByte(elfOsAbiNone)
	elf.Write(make([]byte, 8))

	elf.Write(le16(etDyn))
	elf.Write(le16(emSbf))
	elf.Write(le32(1))
	elf.Write(le64(textVaddr))
	elf.Write(le64(uint64(phdrOffset)))
	elf.Write(le64(uint64(shdrOffset)))
	elf.Write(le32(efFlags(version)))
	elf.Write(le16(ehdrSize))
	elf.Write(le16(phdrSize))
	elf.Write(le16(numPhdrs))
	elf.Write(le16(shdrSize))
	elf.Write(le16(numSections))
	elf.Write(le16(numSections - 1))

	writePhdrAligned(&elf, ptLoad, pfR|pfX, textOffset, textVaddr, textSize)

	for elf.Len() < textOffset {
		elf.WriteByte(0)
	}

	elf.Write(textSection)
	elf.Write(w.strtab)

	elf.Write(make([]byte, 24))
	elf.Write(le32(uint32(entrypointStrIdx)))
	elf.WriteByte((stbGlobal << 4) | sttFunc)
	elf.WriteByte(0)
	elf.Write(le16(1))
	elf.Write(le64(textVaddr))
	elf.Write(le64(uint64(textSize)))

	elf.Write(w.shstrtab)

	for elf.Len() < shdrOffset {
		elf.WriteByte(0)
	}

	elf.Write(make([]byte, 64))
	writeShdr(&elf, textName, shtProgbit, shfAlloc|shfExecinstr, textVaddr, textOffset, textSize, 0, 0, 0x1000, 0)
	writeShdr(&elf, strtabName, shtStrtab, 0, 0, strtabOffset, strtabSize, 0, 0, 1, 0)
	writeShdr(&elf, symtabName, shtSymtab, 0, 0, symtabOffset, symtabSize, 2, 1, 8, symtabEntrySize)
	writeShdr(&elf, 1, shtStrtab, 0, 0, shstrtabOffset, shstrtabSize, 0, 0, 1, 0)

	return elf.Bytes(), nil
}

// WriteWithSyscalls packages program as a dynamically-linked ET_DYN
// ELF: .text, .rodata, .dynamic, .dynsym, .dynstr, .rel.dyn and
// .shstrtab, patching every string-load LDDW site to its final
// runtime address along the way.
func (w *Writer) WriteWithSyscalls(program []codegen.Instruction, syscalls []SyscallSite, stringLoads []StringLoadSite, rodata []byte, version SbpfVersion) ([]byte, error) {
	if len(syscalls) == 0 && len(stringLoads) == 0 {
		return w.Write(program, version)
	}

	textSection := encodeText(program)
	if len(textSection) == 0 {
		return nil, fmt.Errorf("elfpkg: cannot create ELF with empty program")
	}

	uniqueNames := lo.Uniq(lo.Map(syscalls, func(s SyscallSite, _ int) string { return s.Name }))
	symIdx := map[string]int{}
	for i, name := range uniqueNames {
		w.addDynstr(name)
		symIdx[name] = i + 1
	}

	w.addShstrtab(".shstrtab")
	textName := w.addShstrtab(".text")
	rodataName := w.addShstrtab(".rodata")
	dynamicName := w.addShstrtab(".dynamic")
	dynsymName := w.addShstrtab(".dynsym")
	dynstrName := w.addShstrtab(".dynstr")
	reldynName := w.addShstrtab(".rel.dyn")

	const ehdrSize = 64
	const phdrSize = 56
	const shdrSize = 64
	const numPhdrs = 4
	const numSections = 8

	textOffset := textVaddr
	textSize := len(textSection)

	rodataOffset := textOffset + textSize
	rodataSize := len(rodata)
	rodataData := rodata
	if rodataSize == 0 {
		rodataSize = 8
		rodataData = make([]byte, 8)
	}

	dynamicOffset := align8(rodataOffset + rodataSize)
	const dynamicSize = 11 * 16

	dynsymOffset := dynamicOffset + dynamicSize
	const dynsymEntrySize = 24
	dynsymSize := dynsymEntrySize * (1 + len(uniqueNames))

	dynstrOffset := dynsymOffset + dynsymSize
	dynstrSize := len(w.dynstr)

	reldynOffset := align8(dynstrOffset + dynstrSize)
	const reldynEntrySize = 16
	reldynSize := reldynEntrySize * len(syscalls)

	shstrtabOffset := reldynOffset + reldynSize
	shstrtabSize := len(w.shstrtab)

	shdrOffset := align8(shstrtabOffset + shstrtabSize)

	rodataVaddr := uint64(textVaddr + textSize)
	dynamicVaddr := (rodataVaddr + uint64(rodataSize) + 7) &^ 7
	dynsymVaddr := dynamicVaddr + uint64(dynamicSize)
	dynstrVaddr := dynsymVaddr + uint64(dynsymSize)
	reldynVaddr := (dynstrVaddr + uint64(dynstrSize) + 7) &^ 7

	patched := append([]byte(nil), textSection...)
	for _, site := range stringLoads {
		absAddr := uint64(mmProgramStart) + rodataVaddr + uint64(site.RodataOffset)
		low32 := uint32(absAddr & 0xFFFFFFFF)
		high32 := uint32(absAddr >> 32)
		off := site.TextOffset
		if off+16 <= len(patched) {
			copy(patched[off+4:off+8], le32(low32))
			copy(patched[off+12:off+16], le32(high32))
		}
	}

	var elf bytes.Buffer

	elf.Write(elfMagic[:])
	elf.WriteByte(elfClass64)
	elf.WriteByte(elfData2Lsb)
	elf.WriteByte(evCurrent)
	elf.WriteByte(elfOsAbiNone)
	elf.Write(make([]byte, 8))

	elf.Write(le16(etDyn))
	elf.Write(le16(emSbf))
	elf.Write(le32(1))
	elf.Write(le64(textVaddr))
	elf.Write(le64(ehdrSize))
	elf.Write(le64(uint64(shdrOffset)))
	elf.Write(le32(efFlags(version)))
	elf.Write(le16(ehdrSize))
	elf.Write(le16(phdrSize))
	elf.Write(le16(numPhdrs))
	elf.Write(le16(shdrSize))
	elf.Write(le16(numSections))
	elf.Write(le16(numSections - 1))

	writePhdrAligned(&elf, ptLoad, pfR|pfX, textOffset, textVaddr, textSize)
	writePhdrAligned(&elf, ptLoad, pfR|pfW, rodataOffset, rodataVaddr, rodataSize)
	dynSectionsSize := (reldynOffset + reldynSize) - dynsymOffset
	writePhdrAligned(&elf, ptLoad, pfR, dynsymOffset, dynsymVaddr, dynSectionsSize)

	elf.Write(le32(ptDynamic))
	elf.Write(le32(pfR | pfW))
	elf.Write(le64(uint64(dynamicOffset)))
	elf.Write(le64(dynamicVaddr))
	elf.Write(le64(dynamicVaddr))
	elf.Write(le64(uint64(dynamicSize)))
	elf.Write(le64(uint64(dynamicSize)))
	elf.Write(le64(8))

	for elf.Len() < textOffset {
		elf.WriteByte(0)
	}

	elf.Write(patched)
	elf.Write(rodataData)

	for elf.Len() < dynamicOffset {
		elf.WriteByte(0)
	}

	elf.Write(le64(dtFlags))
	elf.Write(le64(0x4))
	elf.Write(le64(dtRel))
	elf.Write(le64(reldynVaddr))
	elf.Write(le64(dtRelsz))
	elf.Write(le64(uint64(reldynSize)))
	elf.Write(le64(dtRelent))
	elf.Write(le64(reldynEntrySize))
	elf.Write(le64(dtRelcount))
	elf.Write(le64(uint64(len(syscalls))))
	elf.Write(le64(dtSymtab))
	elf.Write(le64(dynsymVaddr))
	elf.Write(le64(dtSyment))
	elf.Write(le64(24))
	elf.Write(le64(dtStrtab))
	elf.Write(le64(dynstrVaddr))
	elf.Write(le64(dtStrsz))
	elf.Write(le64(uint64(dynstrSize)))
	elf.Write(le64(dtTextrel))
	elf.Write(le64(0))
	elf.Write(le64(dtNull))
	elf.Write(le64(0))

	elf.Write(make([]byte, 24))
	dynstrIdx := map[string]int{}
	off := 1
	for _, name := range uniqueNames {
		dynstrIdx[name] = off
		off += len(name) + 1
	}
	for _, name := range uniqueNames {
		elf.Write(le32(uint32(dynstrIdx[name])))
		elf.WriteByte((stbGlobal << 4) | sttFunc)
		elf.WriteByte(0)
		elf.Write(le16(0))
		elf.Write(le64(0))
		elf.Write(le64(0))
	}

	elf.Write(w.dynstr)

	for elf.Len() < reldynOffset {
		elf.WriteByte(0)
	}

	for _, sc := range syscalls {
		idx := symIdx[sc.Name]
		rOffset := uint64(textVaddr) + uint64(sc.TextOffset)
		rInfo := (uint64(idx) << 32) | rBpf6432
		elf.Write(le64(rOffset))
		elf.Write(le64(rInfo))
	}

	elf.Write(w.shstrtab)

	for elf.Len() < shdrOffset {
		elf.WriteByte(0)
	}

	elf.Write(make([]byte, 64))
	writeShdr(&elf, textName, shtProgbit, shfAlloc|shfExecinstr, textVaddr, textOffset, textSize, 0, 0, 0x1000, 0)
	writeShdr(&elf, rodataName, shtProgbit, shfAlloc|shfWrite, rodataVaddr, rodataOffset, rodataSize, 0, 0, 1, 0)
	writeShdr(&elf, dynamicName, shtDynamic, shfAlloc|shfWrite, dynamicVaddr, dynamicOffset, dynamicSize, 5, 0, 8, 16)
	writeShdr(&elf, dynsymName, shtDynsym, shfAlloc, dynsymVaddr, dynsymOffset, dynsymSize, 5, 1, 8, dynsymEntrySize)
	writeShdr(&elf, dynstrName, shtStrtab, shfAlloc, dynstrVaddr, dynstrOffset, dynstrSize, 0, 0, 1, 0)
	writeShdr(&elf, reldynName, shtRel, shfAlloc, reldynVaddr, reldynOffset, reldynSize, 4, 0, 8, reldynEntrySize)
	writeShdr(&elf, 1, shtStrtab, 0, 0, shstrtabOffset, shstrtabSize, 0, 0, 1, 0)

	return elf.Bytes(), nil
}

func writePhdrAligned(buf *bytes.Buffer, pType, pFlags uint32, pOffset int, pVaddr uint64, pSize int) {
	buf.Write(le32(pType))
	buf.Write(le32(pFlags))
	buf.Write(le64(uint64(pOffset)))
	buf.Write(le64(pVaddr))
	buf.Write(le64(pVaddr))
	buf.Write(le64(uint64(pSize)))
	buf.Write(le64(uint64(pSize)))
	buf.Write(le64(0x1000))
}

func writeShdr(buf *bytes.Buffer, shName int, shType uint32, shFlags uint64, shAddr uint64, shOffset, shSize int, shLink, shInfo uint32, shAddralign uint64, shEntsize int) {
	buf.Write(le32(uint32(shName)))
	buf.Write(le32(shType))
	buf.Write(le64(shFlags))
	buf.Write(le64(shAddr))
	buf.Write(le64(uint64(shOffset)))
	buf.Write(le64(uint64(shSize)))
	buf.Write(le32(shLink))
	buf.Write(le32(shInfo))
	buf.Write(le64(shAddralign))
	buf.Write(le64(uint64(shEntsize)))
}

// Validate performs the minimal sanity checks the loader itself runs
// before attempting to parse section/program headers.
func Validate(data []byte) error {
	if len(data) < 64 {
		return fmt.Errorf("elfpkg: ELF file too small")
	}
	if !bytes.Equal(data[0:4], elfMagic[:]) {
		return fmt.Errorf("elfpkg: invalid ELF magic")
	}
	if data[4] != elfClass64 {
		return fmt.Errorf("elfpkg: not a 64-bit ELF")
	}
	machine := binary.LittleEndian.Uint16(data[18:20])
	if machine != emSbf && machine != 247 {
		return fmt.Errorf("elfpkg: not a BPF ELF: machine=%d", machine)
	}
	return nil
}
