// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package perfsession replays the records of a perf.data file to
// track the processes, threads, and memory mappings of the profiled
// system, so that addresses in later records can be resolved to the
// mapping that contained them.
package perfsession // import "github.com/aclements/go-perfdata/perfsession"

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aclements/go-perfdata/buildid"
	"github.com/aclements/go-perfdata/perffile"
	"github.com/sirupsen/logrus"
)

// KernelPID is the process ID of the kernel address space. Its
// mappings apply to every process.
const KernelPID = -1

// Config configures a Session. The zero value is usable.
type Config struct {
	// BuildIDCache, if non-nil, is consulted for copies of
	// mapped files with matching build IDs.
	BuildIDCache *buildid.Cache

	// VerifyFiles, if set and BuildIDCache is nil, accepts a
	// mapped file on disk as a mapping's file only if its build
	// ID matches the recorded one.
	VerifyFiles bool

	// SymbolTables is the number of symbol tables kept loaded
	// by Symbolize. 0 means a default.
	SymbolTables int

	// Logger receives diagnostics. nil means the standard
	// logger.
	Logger logrus.FieldLogger
}

// A Session is the replayed state of the processes in a profile.
type Session struct {
	File *perffile.File

	cfg     Config
	log     logrus.FieldLogger
	kernel  *Process
	procs   map[int]*Process
	threads map[int]*Thread
	syms    *symbolizer
}

// A Process is an address space.
type Process struct {
	PID int

	// Maps is the list of mappings in the order they were
	// created. Mappings are never removed; a later mapping
	// shadows any earlier one it overlaps.
	Maps []*Mmap

	// Threads is the set of known threads in this process,
	// indexed by TID.
	Threads map[int]*Thread
}

// A Thread is a thread of execution. A thread's process is set at
// most once.
type Thread struct {
	TID     int
	Name    string
	Process *Process
}

// An Mmap is a mapping in a process's address space.
type Mmap struct {
	perffile.RecordMmap

	// BuildID is the build ID of the mapped file, from the
	// mapping record itself or from the file's build ID table,
	// or nil if unknown.
	BuildID buildid.ID

	// File is the path of a local file with the mapped file's
	// build ID: a cached copy, the original path if verified, or
	// "" if none was found.
	File string
}

// New returns a Session for f. cfg may be nil.
func New(f *perffile.File, cfg *Config) *Session {
	s := &Session{
		File:    f,
		procs:   make(map[int]*Process),
		threads: make(map[int]*Thread),
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	s.log = s.cfg.Logger
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.kernel = s.process(KernelPID)
	swapper := &Thread{TID: 0, Name: "swapper"}
	s.threads[0] = swapper
	s.setProcess(swapper, s.kernel)
	s.syms = newSymbolizer(s.cfg.SymbolTables, s.log)
	return s
}

func (s *Session) process(pid int) *Process {
	p, ok := s.procs[pid]
	if !ok {
		p = &Process{PID: pid, Threads: make(map[int]*Thread)}
		s.procs[pid] = p
	}
	return p
}

func (s *Session) thread(tid int) *Thread {
	t, ok := s.threads[tid]
	if !ok {
		t = &Thread{TID: tid}
		s.threads[tid] = t
	}
	return t
}

func (s *Session) setProcess(t *Thread, p *Process) error {
	if t.Process == nil {
		t.Process = p
		p.Threads[t.TID] = t
		return nil
	}
	if t.Process != p {
		return fmt.Errorf("thread %v changed process from %v to %v", t, t.Process, p)
	}
	return nil
}

// Update applies the effects of r to s. Records are expected in time
// order.
func (s *Session) Update(r perffile.Record) error {
	var err error
	switch r := r.(type) {
	case *perffile.RecordComm:
		t := s.thread(r.TID)
		err = s.setProcess(t, s.process(r.PID))
		t.Name = r.Comm

	case *perffile.RecordFork:
		p := s.process(r.PID)
		if r.PID != r.PPID {
			if r.TID != r.PID {
				err = fmt.Errorf("new process %d has TID %d", r.PID, r.TID)
				break
			}
			if parent, ok := s.procs[r.PPID]; ok {
				p.Maps = cloneMaps(parent.Maps)
			}
		}
		t := s.thread(r.TID)
		if err = s.setProcess(t, p); err != nil {
			break
		}
		if pt, ok := s.threads[r.PTID]; ok && pt.Name != "" {
			t.Name = pt.Name
		}

	case *perffile.RecordMmap:
		m := &Mmap{RecordMmap: *r}
		s.resolveFile(m)
		p := s.process(r.PID)
		p.Maps = append(p.Maps, m)

	case *perffile.RecordExit:
		// Exited processes and threads stay in s. Their
		// mappings may still be needed to resolve records
		// that sort after the exit.

	case *perffile.RecordSample:
		// Kernel samples can precede the COMM record of
		// their process.
		s.process(r.PID)
	}
	if err != nil {
		return &perffile.StructuralError{Offset: r.Common().Offset, Msg: err.Error()}
	}
	return nil
}

func cloneMaps(maps []*Mmap) []*Mmap {
	out := make([]*Mmap, len(maps))
	for i, m := range maps {
		m2 := *m
		out[i] = &m2
	}
	return out
}

// resolveFile fills in m's build ID and local file.
func (s *Session) resolveFile(m *Mmap) {
	if len(m.RecordMmap.BuildID) > 0 {
		m.BuildID = buildid.ID(m.RecordMmap.BuildID)
	} else if s.File != nil {
		if id, ok := s.File.LookupBuildID(m.PID, m.Filename); ok {
			m.BuildID = buildid.ID(id)
		}
	}
	if m.BuildID == nil {
		return
	}
	switch {
	case s.cfg.BuildIDCache != nil:
		m.File, _ = s.cfg.BuildIDCache.Matching(m.BuildID, m.Filename)
	case s.cfg.VerifyFiles:
		if id, err := buildid.FromFile(m.Filename); err == nil && id.Equal(m.BuildID) {
			m.File = m.Filename
		}
	}
}

// LookupPID returns the process pid, or nil if it has not been seen.
func (s *Session) LookupPID(pid int) *Process {
	return s.procs[pid]
}

// LookupTID returns the thread tid, or nil if it has not been seen.
func (s *Session) LookupTID(tid int) *Thread {
	return s.threads[tid]
}

// Processes returns every known process, ordered by PID. The kernel
// comes first.
func (s *Session) Processes() []*Process {
	out := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// LookupAddr returns the mapping containing addr in process pid, or
// in the kernel address space if pid has no such mapping. It returns
// nil if neither does.
func (s *Session) LookupAddr(pid int, addr uint64) *Mmap {
	if p, ok := s.procs[pid]; ok && p != s.kernel {
		if m := p.LookupMmap(addr); m != nil {
			return m
		}
	}
	return s.kernel.LookupMmap(addr)
}

// An AddrMatch is a mapping found by LookupAll.
type AddrMatch struct {
	PID  int
	Mmap *Mmap
}

// LookupAll returns the kernel mapping containing addr if there is
// one, and otherwise the mapping containing addr in every process
// that has one, ordered by PID.
func (s *Session) LookupAll(addr uint64) []AddrMatch {
	if m := s.kernel.LookupMmap(addr); m != nil {
		return []AddrMatch{{KernelPID, m}}
	}
	var out []AddrMatch
	for _, p := range s.Processes() {
		if p == s.kernel {
			continue
		}
		if m := p.LookupMmap(addr); m != nil {
			out = append(out, AddrMatch{p.PID, m})
		}
	}
	return out
}

// ProcMaps writes the mappings of every process in the style of
// /proc/pid/maps, kernel first.
func (s *Session) ProcMaps(w io.Writer) error {
	for i, p := range s.Processes() {
		if i > 0 {
			if _, err := fmt.Fprintf(w, "\n[%d]\n", p.PID); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, p.ProcMaps()); err != nil {
			return err
		}
	}
	return nil
}

// LookupMmap returns the newest mapping in p containing addr, or nil.
func (p *Process) LookupMmap(addr uint64) *Mmap {
	for i := len(p.Maps) - 1; i >= 0; i-- {
		if m := p.Maps[i]; m.Contains(addr) {
			return m
		}
	}
	return nil
}

// ProcMaps returns p's mappings in the style of /proc/pid/maps.
func (p *Process) ProcMaps() string {
	var b strings.Builder
	for _, m := range p.Maps {
		b.WriteString(m.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (p *Process) String() string {
	return fmt.Sprintf("[pid=%d]", p.PID)
}

func (t *Thread) String() string {
	if t.Name != "" {
		return fmt.Sprintf("%s:%d", t.Name, t.TID)
	}
	return fmt.Sprintf("[tid=%d]", t.TID)
}

// Protection bits of RecordMmap.Prot and sharing bits of
// RecordMmap.Flags, from <sys/mman.h>.
const (
	protRead   = 0x1
	protWrite  = 0x2
	protExec   = 0x4
	mapShared  = 0x1
	mapPrivate = 0x2
)

// String formats m as a line of /proc/pid/maps.
func (m *Mmap) String() string {
	perm := []byte("----")
	if !m.Extended {
		// Plain mmap records carry no protection bits.
		perm = []byte("--x?")
		if m.Data {
			perm[2] = '-'
		}
	} else {
		if m.Prot&protRead != 0 {
			perm[0] = 'r'
		}
		if m.Prot&protWrite != 0 {
			perm[1] = 'w'
		}
		if m.Prot&protExec != 0 {
			perm[2] = 'x'
		}
		switch {
		case m.Flags&mapShared != 0:
			perm[3] = 's'
		case m.Flags&mapPrivate != 0:
			perm[3] = 'p'
		}
	}
	s := fmt.Sprintf("%016x-%016x %s %08x", m.Addr, m.Addr+m.Len, perm, m.FileOffset)
	if m.Extended && len(m.RecordMmap.BuildID) == 0 {
		s += fmt.Sprintf(" %02x:%02x %d", m.Major, m.Minor, m.Ino)
	}
	return s + " " + m.Filename
}
