// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auxtrace

import (
	"fmt"
	"io"
	"sort"

	"github.com/aclements/go-perfdata/perffile"
	"github.com/sirupsen/logrus"
)

// ETM metadata magic numbers, one per trace unit architecture.
const (
	MagicETMv3 = 0x3030303030303030
	MagicETMv4 = 0x4040404040404040
	MagicETE   = 0x5050505050505050
)

var etmRegNames = map[uint64][]string{
	MagicETMv3: {"ETMCR", "ETMTRACEIDR", "ETMCCER", "ETMIDR"},
	MagicETMv4: {"TRCCONFIGR", "TRCTRACEIDR", "TRCIDR0", "TRCIDR1", "TRCIDR2", "TRCIDR8", "TRCAUTHSTATUS"},
	MagicETE:   {"TRCCONFIGR", "TRCTRACEIDR", "TRCIDR0", "TRCIDR1", "TRCIDR2", "TRCIDR8", "TRCAUTHSTATUS", "TRCDEVARCH"},
}

// ETMInfo is the trace configuration of a CoreSight ETM profile.
type ETMInfo struct {
	Version  uint64
	PMUType  perffile.EventType
	Snapshot uint64

	// CPUs is the trace unit configuration of each CPU, ordered
	// by CPU number.
	CPUs []*ETMCPU
}

// ETMCPU is the trace unit configuration of one CPU.
type ETMCPU struct {
	CPU   int
	Magic uint64

	// RegNames and Regs are the names and values of the trace
	// unit ID and configuration registers.
	RegNames []string
	Regs     []uint64
}

// Reg returns the value of register name.
func (c *ETMCPU) Reg(name string) (uint64, bool) {
	for i, n := range c.RegNames {
		if n == name && i < len(c.Regs) {
			return c.Regs[i], true
		}
	}
	return 0, false
}

// TraceID returns the ATB trace ID of c's trace unit.
func (c *ETMCPU) TraceID() uint8 {
	reg := "TRCTRACEIDR"
	if c.Magic == MagicETMv3 {
		reg = "ETMTRACEIDR"
	}
	v, _ := c.Reg(reg)
	return uint8(v & 0x7f)
}

// Arch returns the trace unit architecture, such as "ETMv4.2".
func (c *ETMCPU) Arch() string {
	switch c.Magic {
	case MagicETMv3:
		return "ETMv3"
	case MagicETMv4:
		idr1, _ := c.Reg("TRCIDR1")
		if idr1&0xff0 == 0xff0 {
			return "ETM-future"
		}
		return fmt.Sprintf("ETMv4.%d", (idr1&0xf0)>>4)
	case MagicETE:
		devarch, _ := c.Reg("TRCDEVARCH")
		return fmt.Sprintf("ETEv%d", devarch&0xf)
	}
	return fmt.Sprintf("unknown(%#x)", c.Magic)
}

func (c *ETMCPU) String() string {
	s := fmt.Sprintf("CPU #%d: %s [", c.CPU, c.Arch())
	for i, v := range c.Regs {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%#x", c.RegNames[i], v)
	}
	return s + "]"
}

// ParseETM decodes the private data of a CoreSight ETM
// RecordAuxtraceInfo. Registers beyond those known for a CPU's trace
// unit are skipped and reported to log, if non-nil.
//
// The private data starts with the header version, the CPU count and
// PMU type packed in one word, and the snapshot flag. Each CPU then
// has its magic number, its CPU number, a register count if the
// version is 1, and its registers.
func ParseETM(info *perffile.RecordAuxtraceInfo, log logrus.FieldLogger) (*ETMInfo, error) {
	if info.Kind != perffile.AuxtraceCSETM {
		return nil, fmt.Errorf("auxtrace: %v info is not CoreSight ETM", info.Kind)
	}
	p := info.Priv
	if len(p) < 3 {
		return nil, fmt.Errorf("auxtrace: ETM info too short (%d words)", len(p))
	}
	e := &ETMInfo{
		Version:  p[0],
		PMUType:  perffile.EventType(p[1] >> 32),
		Snapshot: p[2],
	}
	nCPUs := int(uint32(p[1]))
	pos := 3
	seen := make(map[int]bool)
	for i := 0; i < nCPUs; i++ {
		if pos+2 > len(p) {
			return nil, fmt.Errorf("auxtrace: ETM info truncated at CPU %d of %d", i, nCPUs)
		}
		c := &ETMCPU{Magic: p[pos], CPU: int(p[pos+1])}
		pos += 2
		names, ok := etmRegNames[c.Magic]
		if !ok {
			// The register count of an unknown trace unit is
			// unknown, so nothing after it can be parsed.
			return nil, fmt.Errorf("auxtrace: unknown ETM magic %#x for CPU %d", c.Magic, c.CPU)
		}
		if seen[c.CPU] {
			return nil, fmt.Errorf("auxtrace: duplicate ETM metadata for CPU %d", c.CPU)
		}
		seen[c.CPU] = true
		n := len(names)
		if e.Version == 1 {
			if pos >= len(p) {
				return nil, fmt.Errorf("auxtrace: ETM info truncated at CPU %d", c.CPU)
			}
			n = int(p[pos])
			pos++
		}
		known := n
		if known > len(names) {
			known = len(names)
		}
		if pos+known > len(p) {
			return nil, fmt.Errorf("auxtrace: ETM info truncated in registers of CPU %d", c.CPU)
		}
		c.RegNames = names[:known]
		c.Regs = append([]uint64(nil), p[pos:pos+known]...)
		pos += known
		// Skip registers this package doesn't know, up to the
		// next CPU's magic number.
		for ; pos < len(p) && etmRegNames[p[pos]] == nil; pos++ {
			if log != nil {
				log.Warnf("ETM: CPU #%d: ignoring unknown register %#016x", c.CPU, p[pos])
			}
		}
		e.CPUs = append(e.CPUs, c)
	}
	if pos != len(p) {
		return nil, fmt.Errorf("auxtrace: ETM info has %d words, want %d", len(p), pos)
	}
	sort.Slice(e.CPUs, func(i, j int) bool { return e.CPUs[i].CPU < e.CPUs[j].CPU })
	return e, nil
}

// ETMHandler handles CoreSight ETM traces.
type ETMHandler struct {
	// Logger receives warnings about unknown registers. nil
	// discards them.
	Logger logrus.FieldLogger
}

// AuxtraceInfo checks that info is well formed.
func (h *ETMHandler) AuxtraceInfo(f *perffile.File, info *perffile.RecordAuxtraceInfo) error {
	e, err := ParseETM(info, h.Logger)
	if err != nil {
		return err
	}
	if f.Meta.PMUMappings != nil {
		if _, ok := f.Meta.PMUMappings[e.PMUType]; !ok {
			return fmt.Errorf("auxtrace: ETM PMU type %d not in PMU mappings", e.PMUType)
		}
	}
	return nil
}

func (h *ETMHandler) ReportAuxtraceInfo(w io.Writer, info *perffile.RecordAuxtraceInfo) error {
	e, err := ParseETM(info, nil)
	if err != nil {
		return err
	}
	if err := field(w, "Header version", "%d", e.Version); err != nil {
		return err
	}
	if err := field(w, "PMU type/num cpus", "%x", uint64(e.PMUType)<<32|uint64(len(e.CPUs))); err != nil {
		return err
	}
	if err := field(w, "Snapshot", "%x", e.Snapshot); err != nil {
		return err
	}
	for _, c := range e.CPUs {
		if err := field(w, "Magic number", "%x", c.Magic); err != nil {
			return err
		}
		if err := field(w, "CPU", "%d", c.CPU); err != nil {
			return err
		}
		for i, v := range c.Regs {
			if err := field(w, c.RegNames[i], "%x", v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ETMHandler) ReportAuxtrace(w io.Writer, rec *perffile.RecordAuxtrace) error {
	return hexDump(w, rec.Data)
}
