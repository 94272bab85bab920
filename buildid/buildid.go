// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buildid reads GNU build IDs from ELF files and the running
// kernel, and manages the perf build ID cache in ~/.debug.
package buildid // import "github.com/aclements/go-perfdata/buildid"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// An ID is a build ID. GNU build IDs are usually 20 bytes.
type ID []byte

// Parse parses the hex form of a build ID.
func Parse(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad build ID %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty build ID")
	}
	return ID(b), nil
}

func (id ID) String() string {
	return hex.EncodeToString(id)
}

// Equal reports whether id and o are the same build ID.
func (id ID) Equal(o ID) bool {
	return bytes.Equal(id, o)
}

// Index0 returns the first directory component of id in the build ID
// cache: the first byte in hex.
func (id ID) Index0() string {
	return id.String()[:2]
}

// Index1 returns the second directory component of id in the build
// ID cache: everything after the first byte.
func (id ID) Index1() string {
	return id.String()[2:]
}

// KernelFilename is the name perf uses for the kernel image.
const KernelFilename = "[kernel.kallsyms]"

// sysKernelNotes holds the ELF notes of the running kernel.
var sysKernelNotes = "/sys/kernel/notes"

// ErrNoBuildID is returned when a file carries no GNU build ID note.
var ErrNoBuildID = errors.New("no GNU build ID")

const ntGNUBuildID = 3

// Kernel returns the build ID of the running kernel.
func Kernel() (ID, error) {
	data, err := os.ReadFile(sysKernelNotes)
	if err != nil {
		return nil, err
	}
	// Note fields are 32 bits in native order, even on 64-bit
	// kernels.
	if id := parseNotes(data, binary.NativeEndian); id != nil {
		return id, nil
	}
	return nil, fmt.Errorf("%s: %w", sysKernelNotes, ErrNoBuildID)
}

// FromFile returns the build ID of the ELF file at path. The name
// KernelFilename refers to the running kernel.
func FromFile(path string) (ID, error) {
	if path == KernelFilename {
		return Kernel()
	}
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for _, name := range []string{".note.gnu.build-id", ".notes", ".note"} {
		sec := f.Section(name)
		if sec == nil || sec.Type != elf.SHT_NOTE {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("%s: reading %s: %w", path, name, err)
		}
		if id := parseNotes(data, f.ByteOrder); id != nil {
			return id, nil
		}
	}
	// Stripped section headers leave only the program headers.
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("%s: reading note segment: %w", path, err)
		}
		if id := parseNotes(data, f.ByteOrder); id != nil {
			return id, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNoBuildID)
}

// parseNotes returns the descriptor of the first NT_GNU_BUILD_ID note
// named "GNU" in data, or nil.
func parseNotes(data []byte, order binary.ByteOrder) ID {
	align := func(n uint32) int { return int((n + 3) &^ 3) }
	for len(data) >= 12 {
		namesz := order.Uint32(data[0:])
		descsz := order.Uint32(data[4:])
		typ := order.Uint32(data[8:])
		data = data[12:]
		nameLen, descLen := align(namesz), align(descsz)
		if nameLen < 0 || descLen < 0 || nameLen+descLen > len(data) {
			return nil
		}
		name := strings.TrimRight(string(data[:namesz]), "\x00")
		if typ == ntGNUBuildID && name == "GNU" && descsz > 0 {
			return ID(append([]byte(nil), data[nameLen:nameLen+int(descsz)]...))
		}
		data = data[nameLen+descLen:]
	}
	return nil
}
