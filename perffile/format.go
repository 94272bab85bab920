// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"io"
)

const (
	fileMagic = "PERFILE2"

	// fileHeaderSize is the size of a seekable file's header.
	// A pipe-mode header is only the magic and its own size.
	fileHeaderSize     = 104
	pipeHeaderSize     = 16
	fileSectionSize    = 16
	recordHeaderSize   = 8
	maxRecordSize      = 1<<16 - 1
	numFeatureBits     = 256
	fileAttrIDsSize    = fileSectionSize
	defaultAttrEntSize = AttrSizeDefault + fileAttrIDsSize
)

// perf_file_header from tools/perf/util/header.h
type fileHeader struct {
	Magic      [8]byte
	Size       uint64      // Size of fileHeader on disk
	AttrSize   uint64      // Size of one attrs entry on disk
	Attrs      fileSection // Array of attrs entries
	Data       fileSection // Alternating recordHeader and record
	EventTypes fileSection // Ignored since perf.data v2

	Features [numFeatureBits / 64]uint64 // Bitmap of Feature
}

func (h *fileHeader) hasFeature(f Feature) bool {
	return h.Features[f/64]&(1<<(uint(f)%64)) != 0
}

func (h *fileHeader) setFeature(f Feature) {
	h.Features[f/64] |= 1 << (uint(f) % 64)
}

func (h *fileHeader) decode(b []byte) {
	bd := bufDecoder{buf: b, order: binary.LittleEndian}
	bd.bytes(h.Magic[:])
	h.Size = bd.u64()
	h.AttrSize = bd.u64()
	h.Attrs = bd.section()
	h.Data = bd.section()
	h.EventTypes = bd.section()
	for i := range h.Features {
		h.Features[i] = bd.u64()
	}
}

func (h *fileHeader) encode() []byte {
	var be bufEncoder
	be.bytes(h.Magic[:])
	be.u64(h.Size)
	be.u64(h.AttrSize)
	be.section(h.Attrs)
	be.section(h.Data)
	be.section(h.EventTypes)
	for _, w := range h.Features {
		be.u64(w)
	}
	return be.buf
}

// perf_file_section from tools/perf/util/header.h
type fileSection struct {
	Offset, Size uint64
}

func (s fileSection) sectionReader(r io.ReaderAt) *io.SectionReader {
	return io.NewSectionReader(r, int64(s.Offset), int64(s.Size))
}

func (s fileSection) end() uint64 {
	return s.Offset + s.Size
}

// A Feature identifies an optional metadata section of a perf.data
// file. In a seekable file each feature is stored in its own
// sub-header section; in a pipe each is carried by a
// RecordTypeHeaderFeature record.
//
// This corresponds to the HEADER_* enum from tools/perf/util/header.h
type Feature int

const (
	featureReserved Feature = iota // always cleared
	FeatureTracingData
	FeatureBuildID

	FeatureHostname
	FeatureOSRelease
	FeatureVersion
	FeatureArch
	FeatureNrCPUs
	FeatureCPUDesc
	FeatureCPUID
	FeatureTotalMem
	FeatureCmdline
	FeatureEventDesc
	FeatureCPUTopology
	FeatureNUMATopology
	FeatureBranchStack
	FeaturePMUMappings
	FeatureGroupDesc
	FeatureAuxtrace
	FeatureStat
	FeatureCache
	FeatureSampleTime
	FeatureMemTopology
	FeatureClockID
	FeatureDirFormat
	FeatureBPFProgInfo
	FeatureBPFBTF
	FeatureCompressed
	FeatureCPUPMUCaps
	FeatureClockData

	numKnownFeatures
)

// An EventType is a general class of performance event.
//
// This corresponds to the perf_type_id enum from
// include/uapi/linux/perf_event.h
type EventType uint32

const (
	EventTypeHardware EventType = iota
	EventTypeSoftware
	EventTypeTracepoint
	EventTypeHWCache
	EventTypeRaw
	EventTypeBreakpoint
)

// An EventID combined with an EventType describes a specific event.
type EventID uint64

// A SampleFormat is a bitmask of the fields recorded by a sample.
//
// This corresponds to the perf_event_sample_format enum from
// include/uapi/linux/perf_event.h
type SampleFormat uint64

const (
	SampleFormatIP SampleFormat = 1 << iota
	SampleFormatTID
	SampleFormatTime
	SampleFormatAddr
	SampleFormatRead
	SampleFormatCallchain
	SampleFormatID
	SampleFormatCPU
	SampleFormatPeriod
	SampleFormatStreamID
	SampleFormatRaw
	SampleFormatBranchStack
	SampleFormatRegsUser
	SampleFormatStackUser
	SampleFormatWeight
	SampleFormatDataSrc
	SampleFormatIdentifier
	SampleFormatTransaction
	SampleFormatRegsIntr
	SampleFormatPhysAddr
	SampleFormatAux
	SampleFormatCGroup
	SampleFormatDataPageSize
	SampleFormatCodePageSize
	SampleFormatWeightStruct
)

// noOffset is returned by the offset methods of SampleFormat when the
// field is not present.
const noOffset = 1 << 30

// sampleIDOffset returns the byte offset of the ID field within a
// sample record payload with this sample format, or noOffset.
func (s SampleFormat) sampleIDOffset() int {
	// See __perf_evsel__calc_id_pos in tools/perf/util/evsel.c.
	if s&SampleFormatIdentifier != 0 {
		return 0
	}
	if s&SampleFormatID == 0 {
		return noOffset
	}
	return 8 * weight(uint64(s&(SampleFormatIP|SampleFormatTID|SampleFormatTime|SampleFormatAddr)))
}

// recordIDOffset returns the byte offset of the ID field of
// non-sample records relative to the end of the payload, or noOffset.
// The sample_id trailer must be enabled for the ID to be present.
func (s SampleFormat) recordIDOffset() int {
	// See __perf_evsel__calc_is_pos in tools/perf/util/evsel.c.
	if s&SampleFormatIdentifier != 0 {
		return -8
	}
	if s&SampleFormatID == 0 {
		return noOffset
	}
	return -8 - 8*weight(uint64(s&(SampleFormatCPU|SampleFormatStreamID)))
}

// sampleTimeOffset is like sampleIDOffset, but for the Time field.
func (s SampleFormat) sampleTimeOffset() int {
	if s&SampleFormatTime == 0 {
		return noOffset
	}
	return 8 * weight(uint64(s&(SampleFormatIdentifier|SampleFormatIP|SampleFormatTID)))
}

// recordTimeOffset is like recordIDOffset, but for the Time field.
func (s SampleFormat) recordTimeOffset() int {
	if s&SampleFormatTime == 0 {
		return noOffset
	}
	return -8 - 8*weight(uint64(s&(SampleFormatIdentifier|SampleFormatCPU|SampleFormatStreamID|SampleFormatID)))
}

// trailerFormat is the subset of s present in the sample_id trailer.
const trailerFormat = SampleFormatTID | SampleFormatTime | SampleFormatID | SampleFormatStreamID | SampleFormatCPU | SampleFormatIdentifier

// trailerBytes returns the length of the sample_id trailer of
// non-sample records.
func (s SampleFormat) trailerBytes() int {
	return 8 * weight(uint64(s&trailerFormat))
}

// ReadFormat is a bitmask of the fields recorded in the SampleRead
// field(s) of a sample.
//
// This corresponds to the perf_event_read_format enum from
// include/uapi/linux/perf_event.h
type ReadFormat uint64

const (
	ReadFormatTotalTimeEnabled ReadFormat = 1 << iota
	ReadFormatTotalTimeRunning
	ReadFormatID
	ReadFormatGroup
	ReadFormatLost
)

// EventFlags is a bitmask of boolean properties of an event. It is
// the flag word at byte 40 of perf_event_attr, excluding the
// precise_ip sub-field.
type EventFlags uint64

const (
	// Event is disabled by default
	EventFlagDisabled EventFlags = 1 << iota
	// Children inherit this event
	EventFlagInherit
	// Event must always be on the PMU
	EventFlagPinned
	// Event is only group on PMU
	EventFlagExclusive
	// Don't count events in user/kernel/hypervisor/when idle
	EventFlagExcludeUser
	EventFlagExcludeKernel
	EventFlagExcludeHypervisor
	EventFlagExcludeIdle
	// Include mmap data
	EventFlagMmap
	// Include comm data
	EventFlagComm
	// Use frequency, not period
	EventFlagFreq
	// Per task counts
	EventFlagInheritStat
	// Next exec enables this event
	EventFlagEnableOnExec
	// Trace fork/exit
	EventFlagTask
	// WakeupWatermark is set rather than WakeupEvents.
	EventFlagWakeupWatermark

	// Two bits here hold the precise_ip sub-field.

	// Non-exec mmap data
	EventFlagMmapData EventFlags = 1 << (2 + iota)
	// All events have SampleField fields
	EventFlagSampleIDAll
	// Don't count events in host/guest
	EventFlagExcludeHost
	EventFlagExcludeGuest
	// Don't include kernel/user callchains
	EventFlagExcludeCallchainKernel
	EventFlagExcludeCallchainUser
	// Include inode data in mmap events
	EventFlagMmapInodeData
	// Flag comm events that are due to an exec
	EventFlagCommExec
	// Use clock specified by clockid for time fields
	EventFlagClockID
	// Record context switch data. Enables RecordTypeSwitch and
	// RecordTypeSwitchCPUWide events.
	EventFlagContextSwitch
	// Write ring buffer from end to beginning.
	EventFlagWriteBackward
	// Include namespaces data.
	EventFlagNamespaces
	// Include ksymbol events.
	EventFlagKsymbol
	// Include BPF events.
	EventFlagBPFEvent
	// Generate aux records instead of events.
	EventFlagAuxOutput
	// Include cgroup events.
	EventFlagCGroup
	// Include text poke events.
	EventFlagTextPoke
	// Use build ID in mmap2 events instead of inode.
	EventFlagBuildID
	// Children only inherit if cloned with CLONE_THREAD.
	EventFlagInheritThread
	// Event is removed from task on exec.
	EventFlagRemoveOnExec
	// Send synchronous SIGTRAP on event.
	EventFlagSigtrap

	eventFlagPreciseShift = 15
	eventFlagPreciseMask  = 0x3 << eventFlagPreciseShift
)

// An EventPrecision indicates the precision of instruction pointers
// recorded by an event. This can vary depending on the exact method
// used to capture IPs.
type EventPrecision int

const (
	EventPrecisionArbitrarySkid EventPrecision = iota
	EventPrecisionConstantSkid
	EventPrecisionTryZeroSkid
	EventPrecisionZeroSkip
)

// BranchSampleType is a bit-field of the types of branches to record
// in the branch stack.
//
// This can include privilege levels to record, which can be different
// from the privilege levels of the event being sampled. If none of
// the privilege level bits are set, it defaults to the privilege
// levels of the event.
//
// This corresponds to the perf_branch_sample_type enum from
// include/uapi/linux/perf_event.h
type BranchSampleType uint64

const (
	BranchSampleUser   BranchSampleType = 1 << iota // User branches
	BranchSampleKernel                              // Kernel branches
	BranchSampleHV                                  // Hypervisor branches

	BranchSampleAny       // Any branch types
	BranchSampleAnyCall   // Any call branch
	BranchSampleAnyReturn // Any return branch
	BranchSampleIndCall   // Indirect calls
	BranchSampleAbortTX   // Transaction aborts
	BranchSampleInTX      // In transaction
	BranchSampleNoTX      // Not in transaction
	BranchSampleCond      // Conditional branches

	BranchSampleCallStack // Call/ret stack
	BranchSampleIndJump   // Indirect jumps
	BranchSampleCall      // Direct call

	BranchSampleNoFlags  // Don't set BranchRecord.Flags
	BranchSampleNoCycles // Don't set BranchRecord.Cycles
	BranchSampleTypeSave // Do set BranchRecord.Type
	BranchSampleHWIndex  // Do set RecordSample.BranchHWIndex
	BranchSamplePrivSave // Save privilege mode
)

// perf_event_header from include/uapi/linux/perf_event.h
type recordHeader struct {
	Type RecordType
	Misc recordMisc
	Size uint16
}

func (h *recordHeader) decode(b []byte) {
	h.Type = RecordType(binary.LittleEndian.Uint32(b))
	h.Misc = recordMisc(binary.LittleEndian.Uint16(b[4:]))
	h.Size = binary.LittleEndian.Uint16(b[6:])
}

func (h *recordHeader) encode(b []byte) {
	binary.LittleEndian.PutUint32(b, uint32(h.Type))
	binary.LittleEndian.PutUint16(b[4:], uint16(h.Misc))
	binary.LittleEndian.PutUint16(b[6:], h.Size)
}

// A RecordType indicates the type of a record in a profile. A record
// can either be a profiling sample or give information about changes
// to system state, such as a process calling mmap.
//
// Types below RecordTypeUserStart are produced by the kernel. Types
// at or above it are synthesized by the perf tool and only appear in
// perf.data files and pipes.
type RecordType uint32

const (
	RecordTypeMmap RecordType = 1 + iota
	RecordTypeLost
	RecordTypeComm
	RecordTypeExit
	RecordTypeThrottle
	RecordTypeUnthrottle
	RecordTypeFork
	RecordTypeRead
	RecordTypeSample
	RecordTypeMmap2 // decoded as RecordMmap
	RecordTypeAux
	RecordTypeItraceStart
	RecordTypeLostSamples
	RecordTypeSwitch
	RecordTypeSwitchCPUWide
	RecordTypeNamespaces
	RecordTypeKsymbol
	RecordTypeBPFEvent
	RecordTypeCGroup
	RecordTypeTextPoke
	RecordTypeAuxOutputHardwareID

	RecordTypeUserStart RecordType = 64
)

// perf_user_event_type in tools/perf/util/event.h
const (
	RecordTypeHeaderAttr RecordType = RecordTypeUserStart + iota
	recordTypeEventType             // deprecated
	recordTypeTracingData
	RecordTypeBuildID
	RecordTypeFinishedRound
	RecordTypeIDIndex
	RecordTypeAuxtraceInfo
	RecordTypeAuxtrace
	RecordTypeAuxtraceError
	RecordTypeThreadMap
	RecordTypeCPUMap
	recordTypeStatConfig
	recordTypeStat
	recordTypeStatRound
	recordTypeEventUpdate
	RecordTypeTimeConv
	RecordTypeHeaderFeature
	RecordTypeCompressed
)

// isKernel reports whether t is produced by the kernel and therefore
// needs an event descriptor to decode.
func (t RecordType) isKernel() bool {
	return t < RecordTypeUserStart
}

// PERF_RECORD_MISC_* from include/uapi/linux/perf_event.h
type recordMisc uint16

const (
	recordMiscCPUModeMask         recordMisc = 7
	recordMiscProcMapParseTimeout recordMisc = 1 << 12 // /proc/PID/maps parsing was truncated by a time-out
	recordMiscMmapData            recordMisc = 1 << 13 // RecordTypeMmap* events
	recordMiscCommExec            recordMisc = 1 << 13 // RecordTypeComm events
	recordMiscForkExec            recordMisc = 1 << 13 // RecordTypeFork events (perf tool internal)
	recordMiscSwitchOut           recordMisc = 1 << 13 // RecordTypeSwitch* events

	// recordMiscExactIP applies to RecordTypeSample records. It
	// indicates that the sample IP points to the actual
	// instruction that triggered the event.
	recordMiscExactIP recordMisc = 1 << 14

	// recordMiscSwitchOutPreempt applies to RecordTypeSwitch*
	// records. It indicates that the thread was preempted in a
	// TASK_RUNNING state.
	recordMiscSwitchOutPreempt recordMisc = 1 << 14

	// recordMiscMmapBuildID applies to RecordTypeMmap2 records. It
	// indicates that the record carries a build ID rather than
	// inode data.
	recordMiscMmapBuildID recordMisc = 1 << 14

	// recordMiscBuildIDSize applies to RecordTypeBuildID records.
	// It indicates that the build ID length is stored after the
	// build ID bytes.
	recordMiscBuildIDSize recordMisc = 1 << 15
)

// AuxtraceType identifies the format of the hardware trace carried
// by RecordAuxtrace records.
//
// This corresponds to the auxtrace_type enum from
// tools/perf/util/auxtrace.h
type AuxtraceType uint32

const (
	AuxtraceUnknown AuxtraceType = iota
	AuxtraceIntelPT
	AuxtraceIntelBTS
	AuxtraceCSETM
	AuxtraceARMSPE
	AuxtraceS390CPUMSF
)

// CompressionType is the algorithm of RecordTypeCompressed payloads.
type CompressionType uint32

const (
	CompressionNone CompressionType = iota
	CompressionZstd
)

// zstdMagic starts every zstd frame.
const zstdMagic = 0xFD2FB528

func weight(x uint64) int {
	x -= (x >> 1) & 0x5555555555555555
	x = (x & 0x3333333333333333) + ((x >> 2) & 0x3333333333333333)
	x = (x + (x >> 4)) & 0x0f0f0f0f0f0f0f0f
	return int((x * 0x0101010101010101) >> 56)
}
