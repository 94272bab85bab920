// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buildid

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testID = ID{
	0x1f, 0x2e, 0x3d, 0x4c, 0x5b, 0x6a, 0x79, 0x88, 0x97, 0xa6,
	0xb5, 0xc4, 0xd3, 0xe2, 0xf1, 0x00, 0x0f, 0x1e, 0x2d, 0x3c,
}

// gnuNote returns an NT_GNU_BUILD_ID note for id.
func gnuNote(order binary.ByteOrder, id []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, [3]uint32{4, uint32(len(id)), ntGNUBuildID})
	buf.WriteString("GNU\x00")
	buf.Write(id)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// otherNote returns a note that is not a build ID.
func otherNote(order binary.ByteOrder) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, order, [3]uint32{3, 8, 1})
	buf.WriteString("Go\x00\x00")
	buf.Write(make([]byte, 8))
	return buf.Bytes()
}

// writeELF writes a minimal 64-bit little-endian ELF file whose only
// content is a .note.gnu.build-id section holding notes.
func writeELF(t *testing.T, path string, notes []byte) {
	t.Helper()
	order := binary.LittleEndian
	shstrtab := []byte("\x00.note.gnu.build-id\x00.shstrtab\x00")
	const ehsize = 64
	noteOff := uint64(ehsize)
	strOff := noteOff + uint64(len(notes)+7)&^7
	shOff := strOff + uint64(len(shstrtab)+7)&^7

	var buf bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shOff,
		Ehsize:    ehsize,
		Shentsize: 64,
		Shnum:     3,
		Shstrndx:  2,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	require.NoError(t, binary.Write(&buf, order, &hdr))
	pad := func(off uint64) {
		for uint64(buf.Len()) < off {
			buf.WriteByte(0)
		}
	}
	buf.Write(notes)
	pad(strOff)
	buf.Write(shstrtab)
	pad(shOff)
	secs := []elf.Section64{
		{},
		{Name: 1, Type: uint32(elf.SHT_NOTE), Flags: uint64(elf.SHF_ALLOC), Off: noteOff, Size: uint64(len(notes)), Addralign: 4},
		{Name: 21, Type: uint32(elf.SHT_STRTAB), Off: strOff, Size: uint64(len(shstrtab)), Addralign: 1},
	}
	for i := range secs {
		require.NoError(t, binary.Write(&buf, order, &secs[i]))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestParse(t *testing.T) {
	id, err := Parse("1f2e3d4c5b6a798897a6b5c4d3e2f1000f1e2d3c")
	require.NoError(t, err)
	assert.True(t, id.Equal(testID))
	assert.Equal(t, "1f", id.Index0())
	assert.Equal(t, "2e3d4c5b6a798897a6b5c4d3e2f1000f1e2d3c", id.Index1())

	_, err = Parse("xyz")
	assert.Error(t, err)
	_, err = Parse("")
	assert.Error(t, err)
}

func TestParseNotes(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		data := append(otherNote(order), gnuNote(order, testID)...)
		assert.Equal(t, testID, parseNotes(data, order), "%v", order)
	}
	assert.Nil(t, parseNotes(otherNote(binary.LittleEndian), binary.LittleEndian))
	// Truncated descriptor.
	note := gnuNote(binary.LittleEndian, testID)
	assert.Nil(t, parseNotes(note[:20], binary.LittleEndian))
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog")
	writeELF(t, path, gnuNote(binary.LittleEndian, testID))
	id, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, testID, id)

	path = filepath.Join(dir, "noid")
	writeELF(t, path, otherNote(binary.LittleEndian))
	_, err = FromFile(path)
	assert.True(t, errors.Is(err, ErrNoBuildID))

	path = filepath.Join(dir, "script")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	_, err = FromFile(path)
	assert.Error(t, err)
}

func TestKernel(t *testing.T) {
	old := sysKernelNotes
	defer func() { sysKernelNotes = old }()

	sysKernelNotes = filepath.Join(t.TempDir(), "notes")
	data := append(otherNote(binary.NativeEndian), gnuNote(binary.NativeEndian, testID)...)
	require.NoError(t, os.WriteFile(sysKernelNotes, data, 0444))

	id, err := Kernel()
	require.NoError(t, err)
	assert.Equal(t, testID, id)

	id, err = FromFile(KernelFilename)
	require.NoError(t, err)
	assert.Equal(t, testID, id)
}
