// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfsession

import (
	"debug/elf"
	"fmt"
)

// A Segment is a loadable segment of an ELF file.
type Segment struct {
	Vaddr  uint64 // Virtual address the segment is linked at
	Size   uint64 // Size in memory
	Perms  string // "rwx"-style permissions
	Offset uint64 // Offset of the segment in the file
}

// Segments returns the PT_LOAD segments of the ELF file at path.
func Segments(path string) ([]Segment, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return elfSegments(f), nil
}

func elfSegments(f *elf.File) []Segment {
	var out []Segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		out = append(out, Segment{p.Vaddr, p.Memsz, progPerms(p.Flags), p.Off})
	}
	return out
}

func progPerms(fl elf.ProgFlag) string {
	perm := []byte("---")
	if fl&elf.PF_R != 0 {
		perm[0] = 'r'
	}
	if fl&elf.PF_W != 0 {
		perm[1] = 'w'
	}
	if fl&elf.PF_X != 0 {
		perm[2] = 'x'
	}
	return string(perm)
}

func (s Segment) String() string {
	return fmt.Sprintf("%016x-%016x %s %08x", s.Vaddr, s.Vaddr+s.Size, s.Perms, s.Offset)
}

// offsetToVaddr translates a file offset to the virtual address it
// is linked at.
func offsetToVaddr(segs []Segment, off uint64) (uint64, bool) {
	for _, s := range segs {
		if s.Offset <= off && off-s.Offset < s.Size {
			return s.Vaddr + (off - s.Offset), true
		}
	}
	return 0, false
}
