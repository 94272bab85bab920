// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfsession

import (
	"debug/elf"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/go-perfdata/perffile"
)

// textMapping returns a mapping of the executable segment of the ELF
// file at path, loaded at base if the file is position-independent,
// and the link address of the named symbol.
func textMapping(t *testing.T, path, symbol string, base uint64) (*Mmap, uint64) {
	t.Helper()
	f, err := elf.Open(path)
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.Symbols()
	require.NoError(t, err)
	var value uint64
	for _, s := range syms {
		if s.Name == symbol {
			value = s.Value
		}
	}
	require.NotZero(t, value, "symbol %s not found", symbol)

	segs, err := Segments(path)
	require.NoError(t, err)
	for _, seg := range segs {
		if !strings.Contains(seg.Perms, "x") || value < seg.Vaddr || value >= seg.Vaddr+seg.Size {
			continue
		}
		addr := seg.Vaddr
		if f.Type == elf.ET_DYN {
			addr = base
		}
		m := &Mmap{RecordMmap: perffile.RecordMmap{Addr: addr, Len: seg.Size, FileOffset: seg.Offset, Filename: path}}
		return m, addr + (value - seg.Vaddr)
	}
	t.Fatalf("no executable segment contains %s", symbol)
	return nil, 0
}

// symbolizeFixture is a program with a function that survives
// linking under a known name.
const symbolizeFixture = `package main

//go:noinline
func fixtureTarget(x int) int { return x*3 + 1 }

func main() { println(fixtureTarget(41)) }
`

// buildFixture builds symbolizeFixture with symbols and returns the
// path of the binary. go test links test binaries without a symbol
// table, so the test binary itself cannot be used.
func buildFixture(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds a binary")
	}
	goTool := filepath.Join(runtime.GOROOT(), "bin", "go")
	if _, err := os.Stat(goTool); err != nil {
		if goTool, err = exec.LookPath("go"); err != nil {
			t.Skip("go tool not found")
		}
	}
	dir := t.TempDir()
	src := filepath.Join(dir, "fixture.go")
	require.NoError(t, os.WriteFile(src, []byte(symbolizeFixture), 0666))
	bin := filepath.Join(dir, "fixture")
	cmd := exec.Command(goTool, "build", "-o", bin, src)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GOFLAGS=", "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "%s", out)
	return bin
}

func TestSymbolize(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("binaries are not ELF")
	}
	bin := buildFixture(t)

	const name = "main.fixtureTarget"
	m, ip := textMapping(t, bin, name, 0x7f0000000000)

	s := New(nil, &Config{SymbolTables: 2})
	sym, ok := s.Symbolize(m, ip)
	require.True(t, ok)
	assert.Equal(t, name, sym.Symbol)
	assert.Equal(t, name, sym.FuncName)
	require.NotNil(t, sym.Line.File)
	assert.Equal(t, "fixture.go", filepath.Base(sym.Line.File.Name))

	// Tables are cached, including failures.
	_, ok = s.Symbolize(&Mmap{RecordMmap: perffile.RecordMmap{Filename: "/nonexistent"}}, 0)
	assert.False(t, ok)
	assert.Equal(t, 2, s.syms.tables.Len())
}

func TestSegmentTranslation(t *testing.T) {
	segs := []Segment{
		{Vaddr: 0x400000, Size: 0x1000, Perms: "r-x", Offset: 0},
		{Vaddr: 0x601000, Size: 0x800, Perms: "rw-", Offset: 0x1000},
	}
	v, ok := offsetToVaddr(segs, 0x10)
	require.True(t, ok)
	assert.Equal(t, uint64(0x400010), v)
	v, ok = offsetToVaddr(segs, 0x1010)
	require.True(t, ok)
	assert.Equal(t, uint64(0x601010), v)
	_, ok = offsetToVaddr(segs, 0x2000)
	assert.False(t, ok)

	assert.Equal(t, "0000000000400000-0000000000401000 r-x 00000000", segs[0].String())
	assert.Equal(t, "r-x", progPerms(elf.PF_R|elf.PF_X))
}

func TestDemangle(t *testing.T) {
	s := New(nil, nil)
	tab := &symbolTable{}
	tab.addFuncs([]funcRange{
		{"_ZN3foo3barEv", 0x400100, 0x400200},
		{"alias", 0x400180, 0x400190},
	})
	assert.Equal(t, 1, tab.funcs.Len())
	s.syms.tables.Add("/bin/cxx", tab)
	m := &Mmap{RecordMmap: perffile.RecordMmap{Addr: 0x400000, Len: 0x1000, Filename: "/bin/cxx"}}

	sym, ok := s.Symbolize(m, 0x400150)
	require.True(t, ok)
	assert.Equal(t, "_ZN3foo3barEv", sym.Symbol)
	assert.Equal(t, "foo::bar()", sym.FuncName)

	sym, ok = s.Symbolize(m, 0x400200)
	require.True(t, ok)
	assert.Empty(t, sym.Symbol)
}
