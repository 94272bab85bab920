// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FileMeta is the metadata recorded in the feature sections of a
// perf.data file or in the RecordTypeHeaderFeature records of a pipe.
// Fields are zero if the corresponding feature is absent.
type FileMeta struct {
	// BuildIDs is the list of build IDs for processes and
	// libraries in this profile, or nil if unknown. Note that in
	// "live mode" (e.g., a file written by perf inject), it's
	// possible for build IDs to be introduced in the sample
	// stream itself.
	BuildIDs []BuildIDInfo

	// Hostname is the hostname of the machine that recorded this
	// profile, or "" if unknown.
	Hostname string

	// OSRelease is the OS release of the machine that recorded
	// this profile such as "3.13.0-62", or "" if unknown.
	OSRelease string

	// Version is the perf version that recorded this profile such
	// as "3.13.11", or "" if unknown.
	Version string

	// Arch is the host architecture of the machine that recorded
	// this profile such as "x86_64", or "" if unknown.
	Arch string

	// CPUsAvail and CPUsOnline are the number of available and
	// online CPUs of the machine that recorded this profile, or
	// 0, 0 if unknown.
	CPUsAvail, CPUsOnline int

	// CPUDesc describes the CPU of the machine that recorded this
	// profile such as "Intel(R) Core(TM) i7-4600U CPU @ 2.10GHz",
	// or "" if unknown.
	CPUDesc string

	// CPUID describes the CPU type of the machine that recorded
	// this profile, or "" if unknown. The exact format of this
	// varies between architectures. On x86 architectures, it is a
	// comma-separated list of vendor, family, model, and
	// stepping, such as "GenuineIntel,6,69,1".
	CPUID string

	// TotalMem is the total memory in bytes of the machine that
	// recorded this profile, or 0 if unknown.
	TotalMem int64

	// CmdLine is the list of command line arguments perf was
	// invoked with, or nil if unknown.
	CmdLine []string

	// CoreGroups and ThreadGroups describe the CPU topology of
	// the machine that recorded this profile. Each CPUSet in
	// CoreGroups is a set of CPUs in the same package, and each
	// CPUSet in ThreadGroups is a set of hardware threads in the
	// same core. These will be nil if unknown.
	CoreGroups, ThreadGroups []CPUSet

	// NUMANodes is the set of NUMA nodes in the NUMA topology of
	// the machine that recorded this profile, or nil if unknown.
	NUMANodes []NUMANode

	// PMUMappings maps dynamic event types to PMU names for event
	// classes supported by the machine that recorded this
	// profile, or nil if unknown. PMUTypes is its inverse.
	PMUMappings map[EventType]string
	PMUTypes    map[string]EventType

	// Groups is the descriptions of each perf event group in this
	// profile, or nil if unknown.
	Groups []GroupDesc

	// ClockResolution is the resolution in nanoseconds of the
	// clock selected by EventAttr.ClockID, or 0 if unknown.
	ClockResolution uint64

	// SampleTimeFirst and SampleTimeLast bound the timestamps of
	// the samples in this profile, or are 0 if unknown.
	SampleTimeFirst, SampleTimeLast uint64

	// Compression describes how the record stream was
	// compressed, or is nil if it was not.
	Compression *CompressionInfo
}

// VersionNumber returns the major and minor components of Version
// packed as major<<16 | minor, or 0 if Version is unknown or
// malformed.
func (m *FileMeta) VersionNumber() uint32 {
	parts := strings.SplitN(m.Version, ".", 3)
	if len(parts) < 2 {
		return 0
	}
	major, err1 := strconv.ParseUint(leadingDigits(parts[0]), 10, 16)
	minor, err2 := strconv.ParseUint(leadingDigits(parts[1]), 10, 16)
	if err1 != nil || err2 != nil {
		return 0
	}
	return uint32(major<<16 | minor)
}

func leadingDigits(s string) string {
	for i, c := range s {
		if c < '0' || c > '9' {
			return s[:i]
		}
	}
	return s
}

// A BuildIDInfo records the mapping between a single build ID and the
// path of an executable with that build ID.
type BuildIDInfo struct {
	CPUMode  CPUMode
	PID      int // Usually -1; for VM kernels
	BuildID  BuildID
	Filename string
}

type BuildID []byte

func (b BuildID) String() string {
	return fmt.Sprintf("%x", []byte(b))
}

// A NUMANode represents a single hardware NUMA node.
type NUMANode struct {
	// Node is the system identifier of this NUMA node.
	Node int

	// MemTotal and MemFree are the total and free number of bytes
	// of memory in this NUMA node.
	MemTotal, MemFree int64

	// CPUs is the set of CPUs in this NUMA node.
	CPUs CPUSet
}

// A GroupDesc describes a group of PMU events that are scheduled
// together. Leader is the index in File.Events of the group leader,
// and the group's members are the NumMembers events starting there.
type GroupDesc struct {
	Name       string
	Leader     int
	NumMembers int
}

// CompressionInfo gives the parameters of a compressed record
// stream.
type CompressionInfo struct {
	Version uint32
	Type    CompressionType
	Level   uint32
	Ratio   uint32

	// MmapLen is the size of the buffer the records were
	// compressed from. No decompressed RecordTypeCompressed
	// payload is larger than this.
	MmapLen uint32
}

type featureParser func(m *FileMeta, bd *bufDecoder) error

var featureParsers = map[Feature]featureParser{
	FeatureBuildID:      (*FileMeta).parseBuildID,
	FeatureHostname:     stringFeature(func(m *FileMeta) *string { return &m.Hostname }),
	FeatureOSRelease:    stringFeature(func(m *FileMeta) *string { return &m.OSRelease }),
	FeatureVersion:      stringFeature(func(m *FileMeta) *string { return &m.Version }),
	FeatureArch:         stringFeature(func(m *FileMeta) *string { return &m.Arch }),
	FeatureNrCPUs:       (*FileMeta).parseNrCPUs,
	FeatureCPUDesc:      stringFeature(func(m *FileMeta) *string { return &m.CPUDesc }),
	FeatureCPUID:        stringFeature(func(m *FileMeta) *string { return &m.CPUID }),
	FeatureTotalMem:     (*FileMeta).parseTotalMem,
	FeatureCmdline:      (*FileMeta).parseCmdLine,
	FeatureCPUTopology:  (*FileMeta).parseCPUTopology,
	FeatureNUMATopology: (*FileMeta).parseNUMATopology,
	FeaturePMUMappings:  (*FileMeta).parsePMUMappings,
	FeatureGroupDesc:    (*FileMeta).parseGroupDesc,
	FeatureClockID:      (*FileMeta).parseClockID,
	FeatureSampleTime:   (*FileMeta).parseSampleTime,
	FeatureCompressed:   (*FileMeta).parseCompressed,
}

// parse decodes the contents of feature section f into m. Features
// without a parser are ignored.
func (m *FileMeta) parse(f Feature, data []byte) error {
	parser := featureParsers[f]
	if parser == nil {
		return nil
	}
	bd := &bufDecoder{buf: data, order: binary.LittleEndian}
	if err := parser(m, bd); err != nil {
		return fmt.Errorf("parsing %v feature: %w", f, err)
	}
	if bd.short {
		return fmt.Errorf("parsing %v feature: section truncated", f)
	}
	return nil
}

func stringFeature(field func(*FileMeta) *string) featureParser {
	return func(m *FileMeta, bd *bufDecoder) error {
		*field(m) = bd.lenString()
		return nil
	}
}

func (m *FileMeta) parseBuildID(bd *bufDecoder) error {
	m.BuildIDs = make([]BuildIDInfo, 0)
	off := int64(0)
	for len(bd.buf) > 0 {
		// Each entry is a build_id_event, which starts with a
		// record header whose type is unused.
		if len(bd.buf) < recordHeaderSize {
			return fmt.Errorf("truncated build ID entry at %#x", off)
		}
		var hdr recordHeader
		hdr.decode(bd.buf)
		if int(hdr.Size) < recordHeaderSize || int(hdr.Size) > len(bd.buf) {
			return fmt.Errorf("bad build ID entry size %d at %#x", hdr.Size, off)
		}
		hdr.Type = RecordTypeBuildID
		ent := bd.take(int(hdr.Size))
		rec, err := decodeSynthetic(&hdr, ent[recordHeaderSize:], RecordCommon{Offset: -1})
		if err != nil {
			return err
		}
		r := rec.(*RecordBuildID)
		m.BuildIDs = append(m.BuildIDs, BuildIDInfo{
			CPUMode:  r.CPUMode,
			PID:      r.PID,
			BuildID:  BuildID(r.BuildID),
			Filename: r.Filename,
		})
		off += int64(hdr.Size)
	}
	return nil
}

func (m *FileMeta) parseNrCPUs(bd *bufDecoder) error {
	m.CPUsAvail, m.CPUsOnline = int(bd.u32()), int(bd.u32())
	return nil
}

func (m *FileMeta) parseTotalMem(bd *bufDecoder) error {
	m.TotalMem = int64(bd.u64()) * 1024
	return nil
}

func (m *FileMeta) parseCmdLine(bd *bufDecoder) error {
	m.CmdLine = bd.stringList()
	return nil
}

func (m *FileMeta) parseCPUTopology(bd *bufDecoder) error {
	var err error
	cores, threads := bd.stringList(), bd.stringList()
	// Newer perf versions append per-CPU core and socket IDs,
	// which we ignore.
	bd.buf = nil
	m.CoreGroups = make([]CPUSet, len(cores))
	for i, str := range cores {
		m.CoreGroups[i], err = ParseCPUSet(str)
		if err != nil {
			return err
		}
	}
	m.ThreadGroups = make([]CPUSet, len(threads))
	for i, str := range threads {
		m.ThreadGroups[i], err = ParseCPUSet(str)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *FileMeta) parseNUMATopology(bd *bufDecoder) error {
	var err error
	count := bd.u32()
	m.NUMANodes = []NUMANode{}
	for i := uint32(0); i < count && !bd.short; i++ {
		node := NUMANode{
			Node:     int(bd.u32()),
			MemTotal: int64(bd.u64()) * 1024,
			MemFree:  int64(bd.u64()) * 1024,
		}
		node.CPUs, err = ParseCPUSet(bd.lenString())
		if err != nil {
			return err
		}
		m.NUMANodes = append(m.NUMANodes, node)
	}
	return nil
}

func (m *FileMeta) parsePMUMappings(bd *bufDecoder) error {
	count := bd.u32()
	m.PMUMappings = map[EventType]string{}
	m.PMUTypes = map[string]EventType{}
	for i := uint32(0); i < count && !bd.short; i++ {
		typ := EventType(bd.u32())
		name := bd.lenString()
		m.PMUMappings[typ] = name
		m.PMUTypes[name] = typ
	}
	return nil
}

func (m *FileMeta) parseGroupDesc(bd *bufDecoder) error {
	count := bd.u32()
	m.Groups = []GroupDesc{}
	for i := uint32(0); i < count && !bd.short; i++ {
		m.Groups = append(m.Groups, GroupDesc{
			Name:       bd.lenString(),
			Leader:     int(bd.u32()),
			NumMembers: int(bd.u32()),
		})
	}
	return nil
}

func (m *FileMeta) parseClockID(bd *bufDecoder) error {
	m.ClockResolution = bd.u64()
	return nil
}

func (m *FileMeta) parseSampleTime(bd *bufDecoder) error {
	m.SampleTimeFirst, m.SampleTimeLast = bd.u64(), bd.u64()
	return nil
}

func (m *FileMeta) parseCompressed(bd *bufDecoder) error {
	m.Compression = &CompressionInfo{
		Version: bd.u32(),
		Type:    CompressionType(bd.u32()),
		Level:   bd.u32(),
		Ratio:   bd.u32(),
		MmapLen: bd.u32(),
	}
	return nil
}

// encodeFeatures returns the encoded feature sections for every
// non-zero field of m.
func (m *FileMeta) encodeFeatures() map[Feature][]byte {
	out := make(map[Feature][]byte)
	str := func(f Feature, s string) {
		if s != "" {
			var e bufEncoder
			e.lenString(s)
			out[f] = e.buf
		}
	}
	str(FeatureHostname, m.Hostname)
	str(FeatureOSRelease, m.OSRelease)
	str(FeatureVersion, m.Version)
	str(FeatureArch, m.Arch)
	str(FeatureCPUDesc, m.CPUDesc)
	str(FeatureCPUID, m.CPUID)

	var e bufEncoder
	if m.BuildIDs != nil {
		for _, b := range m.BuildIDs {
			rec := &RecordBuildID{CPUMode: b.CPUMode, BuildID: b.BuildID, Filename: b.Filename}
			rec.PID = b.PID
			buf, err := encodeRecord(rec, nil)
			if err != nil {
				continue
			}
			// The header type of build ID entries is unused.
			binary.LittleEndian.PutUint32(buf, 0)
			e.bytes(buf)
		}
		out[FeatureBuildID], e = e.buf, bufEncoder{}
	}
	if m.CPUsAvail != 0 || m.CPUsOnline != 0 {
		e.u32(uint32(m.CPUsAvail))
		e.u32(uint32(m.CPUsOnline))
		out[FeatureNrCPUs], e = e.buf, bufEncoder{}
	}
	if m.TotalMem != 0 {
		e.u64(uint64(m.TotalMem / 1024))
		out[FeatureTotalMem], e = e.buf, bufEncoder{}
	}
	if m.CmdLine != nil {
		e.stringList(m.CmdLine)
		out[FeatureCmdline], e = e.buf, bufEncoder{}
	}
	if m.CoreGroups != nil || m.ThreadGroups != nil {
		e.stringList(cpuSetStrings(m.CoreGroups))
		e.stringList(cpuSetStrings(m.ThreadGroups))
		out[FeatureCPUTopology], e = e.buf, bufEncoder{}
	}
	if m.NUMANodes != nil {
		e.u32(uint32(len(m.NUMANodes)))
		for _, n := range m.NUMANodes {
			e.u32(uint32(n.Node))
			e.u64(uint64(n.MemTotal / 1024))
			e.u64(uint64(n.MemFree / 1024))
			e.lenString(n.CPUs.String())
		}
		out[FeatureNUMATopology], e = e.buf, bufEncoder{}
	}
	if m.PMUMappings != nil {
		types := make([]EventType, 0, len(m.PMUMappings))
		for t := range m.PMUMappings {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		e.u32(uint32(len(types)))
		for _, t := range types {
			e.u32(uint32(t))
			e.lenString(m.PMUMappings[t])
		}
		out[FeaturePMUMappings], e = e.buf, bufEncoder{}
	}
	if m.Groups != nil {
		e.u32(uint32(len(m.Groups)))
		for _, g := range m.Groups {
			e.lenString(g.Name)
			e.u32(uint32(g.Leader))
			e.u32(uint32(g.NumMembers))
		}
		out[FeatureGroupDesc], e = e.buf, bufEncoder{}
	}
	if m.ClockResolution != 0 {
		e.u64(m.ClockResolution)
		out[FeatureClockID], e = e.buf, bufEncoder{}
	}
	if m.SampleTimeFirst != 0 || m.SampleTimeLast != 0 {
		e.u64(m.SampleTimeFirst)
		e.u64(m.SampleTimeLast)
		out[FeatureSampleTime], e = e.buf, bufEncoder{}
	}
	if c := m.Compression; c != nil {
		e.u32(c.Version)
		e.u32(uint32(c.Type))
		e.u32(c.Level)
		e.u32(c.Ratio)
		e.u32(c.MmapLen)
		out[FeatureCompressed] = e.buf
	}
	return out
}
