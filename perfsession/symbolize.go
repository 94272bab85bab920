// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfsession

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"io"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ianlancetaylor/demangle"
	"github.com/sirupsen/logrus"

	"github.com/aclements/go-perfdata/datamap"
)

// Symbolic is the symbolic location of an instruction.
type Symbolic struct {
	// Symbol is the raw name of the function, or "" if unknown.
	Symbol string

	// FuncName is Symbol demangled.
	FuncName string

	// Line is the source line, if the file has DWARF line
	// tables.
	Line dwarf.LineEntry
}

const defaultSymbolTables = 64

type symbolizer struct {
	tables *lru.Cache // path -> *symbolTable, nil if unloadable
	log    logrus.FieldLogger
}

func newSymbolizer(size int, log logrus.FieldLogger) *symbolizer {
	if size <= 0 {
		size = defaultSymbolTables
	}
	tables, err := lru.New(size)
	if err != nil {
		// Only fails for non-positive sizes.
		panic(err)
	}
	return &symbolizer{tables, log}
}

// Symbolize returns the symbolic location of ip within mapping m. It
// returns false if m's file cannot be loaded.
func (s *Session) Symbolize(m *Mmap, ip uint64) (Symbolic, bool) {
	path := m.File
	if path == "" {
		path = m.Filename
	}
	t := s.syms.table(path)
	if t == nil {
		return Symbolic{}, false
	}
	var out Symbolic
	addr := ip
	if t.isDyn {
		// Translate ip to a file offset and then to the address
		// the file is linked at.
		var ok bool
		addr, ok = offsetToVaddr(t.segs, ip-m.Addr+m.FileOffset)
		if !ok {
			return out, true
		}
	}
	name, l := t.find(addr)
	if name != "" {
		out.Symbol = name
		out.FuncName = demangle.Filter(name)
	}
	if l != nil {
		out.Line = *l
	}
	return out, true
}

func (sy *symbolizer) table(path string) *symbolTable {
	if v, ok := sy.tables.Get(path); ok {
		return v.(*symbolTable)
	}
	t, err := newSymbolTable(path)
	if err != nil {
		sy.log.Debugf("symbolizing %s: %v", path, err)
		t = nil
	}
	sy.tables.Add(path, t)
	return t
}

type symbolTable struct {
	funcs   datamap.Ranges[string]
	linetab []dwarf.LineEntry
	segs    []Segment

	// isDyn indicates a position-independent file whose load
	// address differs from its link address.
	isDyn bool
}

func newSymbolTable(path string) (*symbolTable, error) {
	elff, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading ELF file %s: %w", path, err)
	}
	defer elff.Close()

	t := &symbolTable{segs: elfSegments(elff), isDyn: elff.Type == elf.ET_DYN}
	if elff.Section(".debug_info") != nil || elff.Section(".zdebug_info") != nil {
		dwarff, err := elff.DWARF()
		if err != nil {
			return nil, fmt.Errorf("loading DWARF from %s: %w", path, err)
		}
		t.addFuncs(dwarfFuncTable(dwarff))
		if t.linetab, err = dwarfLineTable(dwarff); err != nil {
			return nil, fmt.Errorf("reading line table of %s: %w", path, err)
		}
	}
	if t.funcs.Len() == 0 {
		// Make do with the ELF symbols.
		funcs, err := elfFuncTable(elff)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		t.addFuncs(funcs)
	}
	return t, nil
}

// addFuncs adds the sorted function ranges fs to t, dropping any
// that overlap an earlier one.
func (t *symbolTable) addFuncs(fs []funcRange) {
	var end uint64
	for _, f := range fs {
		if f.lowpc < end || f.highpc <= f.lowpc {
			continue
		}
		t.funcs.Add(f.lowpc, f.highpc, f.name)
		end = f.highpc
	}
}

// find returns the name of the function containing addr and its line
// table entry. Either may be missing.
func (t *symbolTable) find(addr uint64) (name string, l *dwarf.LineEntry) {
	_, _, name, _ = t.funcs.Get(addr)

	i := sort.Search(len(t.linetab), func(i int) bool {
		return addr < t.linetab[i].Address
	})
	// A sequence may start where another ends.
	for j := i - 1; j >= 0 && t.linetab[j].Address == t.linetab[i-1].Address; j-- {
		if !t.linetab[j].EndSequence {
			l = &t.linetab[j]
			break
		}
	}
	return
}

type funcRange struct {
	name          string
	lowpc, highpc uint64
}

func dwarfFuncTable(dwarff *dwarf.Data) []funcRange {
	r := dwarff.Reader()
	var out []funcRange
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
		// TODO: Support DW_AT_ranges.
	tag:
		switch ent.Tag {
		case dwarf.TagSubprogram:
			r.SkipChildren()
			name, ok := ent.Val(dwarf.AttrName).(string)
			if !ok {
				break
			}
			lowpc, ok := ent.Val(dwarf.AttrLowpc).(uint64)
			if !ok {
				break
			}
			var highpc uint64
			switch highpcx := ent.Val(dwarf.AttrHighpc).(type) {
			case uint64:
				highpc = highpcx
			case int64:
				highpc = lowpc + uint64(highpcx)
			default:
				break tag
			}
			out = append(out, funcRange{name, lowpc, highpc})

		case dwarf.TagCompileUnit, dwarf.TagModule, dwarf.TagNamespace:

		default:
			r.SkipChildren()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lowpc < out[j].lowpc })
	return out
}

func elfFuncTable(elff *elf.File) ([]funcRange, error) {
	syms, err := elff.Symbols()
	if err == elf.ErrNoSymbols {
		syms, err = elff.DynamicSymbols()
	}
	if err == elf.ErrNoSymbols {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var out []funcRange
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Section == elf.SHN_UNDEF {
			continue
		}
		out = append(out, funcRange{sym.Name, sym.Value, sym.Value + sym.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lowpc < out[j].lowpc })

	// Give symbols without a size one that reaches the next symbol.
	for i := range out {
		if out[i].highpc == out[i].lowpc {
			if i == len(out)-1 {
				out[i].highpc++
			} else {
				out[i].highpc = out[i+1].lowpc
			}
		}
	}
	return out, nil
}

func dwarfLineTable(dwarff *dwarf.Data) ([]dwarf.LineEntry, error) {
	var out []dwarf.LineEntry
	dr := dwarff.Reader()
	for {
		ent, err := dr.Next()
		if err != nil {
			return nil, err
		} else if ent == nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			dr.SkipChildren()
			continue
		}

		lr, err := dwarff.LineReader(ent)
		if err != nil {
			return nil, err
		} else if lr == nil {
			continue
		}
		for {
			var lent dwarf.LineEntry
			err := lr.Next(&lent)
			if err == io.EOF {
				break
			} else if err != nil {
				return nil, err
			}
			out = append(out, lent)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
