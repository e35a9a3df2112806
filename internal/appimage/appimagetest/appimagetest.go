// Package appimagetest builds synthetic AppImage files for tests. Type-2
// fixtures are minimal but valid ELF64 images whose section table carries
// the .upd_info, .sha256_sig and .sig_key sections at known offsets.
package appimagetest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// Type2Spec describes a synthetic type-2 AppImage.
type Type2Spec struct {
	// Payload is filler placed before the section data. It shifts the
	// section offsets, which lets tests position a skip region relative to
	// hash chunk boundaries.
	Payload []byte

	UpdateInfo     string
	UpdateInfoSize int // section size, content NUL-padded; default 512

	Signature     []byte
	SignatureSize int // default 2048

	SigningKey     []byte
	SigningKeySize int // default 4096

	// KeyFirst places .sig_key before .sha256_sig in the file.
	KeyFirst bool

	// TableFirst writes the section header table before the section data,
	// so that the last section's bytes end exactly at end of file.
	TableFirst bool
}

// Layout reports where the generated sections ended up.
type Layout struct {
	SigOffset int64
	SigLength int64
	KeyOffset int64
	KeyLength int64
	FileSize  int64
}

type section struct {
	name    string
	content []byte
	size    int
	typ     uint32
}

const (
	elfHeaderSize    = 64
	sectionHdrSize   = 64
	shtProgbits      = 1
	shtStrtab        = 3
	appImageMagicOff = 8
)

// WriteType2 writes a synthetic type-2 AppImage to path and returns the
// section layout.
func WriteType2(path string, spec Type2Spec) (Layout, error) {
	if spec.UpdateInfoSize == 0 {
		spec.UpdateInfoSize = 512
	}
	if spec.SignatureSize == 0 {
		spec.SignatureSize = 2048
	}
	if spec.SigningKeySize == 0 {
		spec.SigningKeySize = 4096
	}
	if len(spec.UpdateInfo) > spec.UpdateInfoSize ||
		len(spec.Signature) > spec.SignatureSize ||
		len(spec.SigningKey) > spec.SigningKeySize {
		return Layout{}, fmt.Errorf("section content larger than section size")
	}

	sections := []section{
		{name: ".upd_info", content: []byte(spec.UpdateInfo), size: spec.UpdateInfoSize, typ: shtProgbits},
		{name: ".sha256_sig", content: spec.Signature, size: spec.SignatureSize, typ: shtProgbits},
		{name: ".sig_key", content: spec.SigningKey, size: spec.SigningKeySize, typ: shtProgbits},
	}
	if spec.KeyFirst {
		sections[1], sections[2] = sections[2], sections[1]
	}

	// String table: leading NUL, then each section name, then ".shstrtab".
	strtab := &bytes.Buffer{}
	strtab.WriteByte(0)
	nameOffsets := make([]uint32, len(sections))
	for i, s := range sections {
		nameOffsets[i] = uint32(strtab.Len())
		strtab.WriteString(s.name)
		strtab.WriteByte(0)
	}
	shstrtabNameOff := uint32(strtab.Len())
	strtab.WriteString(".shstrtab")
	strtab.WriteByte(0)

	align8 := func(v int64) int64 {
		for v%8 != 0 {
			v++
		}
		return v
	}

	tableSize := int64(sectionHdrSize * (len(sections) + 2)) // NULL + sections + shstrtab

	// Two layouts: data first (default) or section header table first, in
	// which case the last section's data ends at end of file.
	var shoff, strtabOff, dataStart int64
	if spec.TableFirst {
		strtabOff = elfHeaderSize
		shoff = align8(strtabOff + int64(strtab.Len()))
		dataStart = shoff + tableSize + int64(len(spec.Payload))
	} else {
		dataStart = elfHeaderSize + int64(len(spec.Payload))
	}

	offsets := make([]int64, len(sections))
	pos := dataStart
	for i, s := range sections {
		offsets[i] = pos
		pos += int64(s.size)
	}
	if !spec.TableFirst {
		strtabOff = pos
		pos += int64(strtab.Len())
		shoff = align8(pos)
	}

	var layout Layout
	for i, s := range sections {
		switch s.name {
		case ".sha256_sig":
			layout.SigOffset = offsets[i]
			layout.SigLength = int64(s.size)
		case ".sig_key":
			layout.KeyOffset = offsets[i]
			layout.KeyLength = int64(s.size)
		}
	}

	buf := &bytes.Buffer{}

	// ELF header.
	ident := make([]byte, 16)
	copy(ident, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	// The AppImage magic lives in the e_ident padding.
	ident[appImageMagicOff] = 'A'
	ident[appImageMagicOff+1] = 'I'
	ident[appImageMagicOff+2] = 2
	buf.Write(ident)

	le := binary.LittleEndian
	write16 := func(v uint16) { _ = binary.Write(buf, le, v) }
	write32 := func(v uint32) { _ = binary.Write(buf, le, v) }
	write64 := func(v uint64) { _ = binary.Write(buf, le, v) }

	write16(2)  // e_type: ET_EXEC
	write16(62) // e_machine: EM_X86_64
	write32(1)  // e_version
	write64(0)  // e_entry
	write64(0)  // e_phoff
	write64(uint64(shoff))
	write32(0) // e_flags
	write16(elfHeaderSize)
	write16(0) // e_phentsize
	write16(0) // e_phnum
	write16(sectionHdrSize)
	write16(uint16(len(sections) + 2))
	write16(uint16(len(sections) + 1)) // e_shstrndx

	pad := func(target int64) {
		for int64(buf.Len()) < target {
			buf.WriteByte(0)
		}
	}

	writeSectionHeader := func(nameOff, typ uint32, off int64, size int) {
		write32(nameOff)
		write32(typ)
		write64(0) // sh_flags
		write64(0) // sh_addr
		write64(uint64(off))
		write64(uint64(size))
		write32(0) // sh_link
		write32(0) // sh_info
		write64(1) // sh_addralign
		write64(0) // sh_entsize
	}

	writeTable := func() {
		buf.Write(make([]byte, sectionHdrSize)) // NULL section
		for i, s := range sections {
			writeSectionHeader(nameOffsets[i], s.typ, offsets[i], s.size)
		}
		writeSectionHeader(shstrtabNameOff, shtStrtab, strtabOff, strtab.Len())
	}

	writeData := func() {
		for i, s := range sections {
			pad(offsets[i])
			buf.Write(s.content)
			buf.Write(make([]byte, s.size-len(s.content)))
		}
	}

	if spec.TableFirst {
		pad(strtabOff)
		buf.Write(strtab.Bytes())
		pad(shoff)
		writeTable()
		buf.Write(spec.Payload)
		writeData()
	} else {
		buf.Write(spec.Payload)
		writeData()
		pad(strtabOff)
		buf.Write(strtab.Bytes())
		pad(shoff)
		writeTable()
	}

	layout.FileSize = int64(buf.Len())

	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

// WriteType1 writes a synthetic type-1 AppImage with the given update hint
// at the fixed type-1 offset.
func WriteType1(path, updateInfo string) error {
	const hintOffset = 0x8373
	data := make([]byte, hintOffset+512)
	copy(data, []byte{0x7f, 'E', 'L', 'F'})
	data[8] = 'A'
	data[9] = 'I'
	data[10] = 1
	copy(data[hintOffset:], updateInfo)
	return os.WriteFile(path, data, 0o755)
}

// WriteLegacyType1 writes a file without AppImage magic bytes but with both
// the ELF and ISO 9660 magic values, as produced by early type-1 tooling.
func WriteLegacyType1(path, updateInfo string) error {
	const hintOffset = 0x8373
	data := make([]byte, hintOffset+512)
	copy(data, []byte{0x7f, 'E', 'L', 'F'})
	copy(data[32769:], "CD001")
	copy(data[hintOffset:], updateInfo)
	return os.WriteFile(path, data, 0o755)
}
