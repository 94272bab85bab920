// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import "fmt"

// Record is the common interface implemented by all profile record
// types.
type Record interface {
	Type() RecordType
	Common() *RecordCommon
}

// RecordCommon stores fields that are common to all record types, as
// well as additional metadata. It is not itself a Record.
//
// Many fields are optional and their presence is determined by the
// bitmask Format. Some record types guarantee that some of these
// fields will be filled.
type RecordCommon struct {
	// Offset is the byte offset of this record in the perf.data
	// file or stream, or -1 if the record was expanded from a
	// RecordTypeCompressed record.
	Offset int64

	// Format is a bit mask of SampleFormat* values that indicate
	// which optional fields of this record are valid.
	Format SampleFormat

	// EventAttr is the event, if any, associated with this record.
	// It is nil for records synthesized by the perf tool.
	EventAttr *EventAttr

	PID, TID int    // if SampleFormatTID
	Time     uint64 // if SampleFormatTime
	ID       uint64 // if SampleFormatID or SampleFormatIdentifier
	StreamID uint64 // if SampleFormatStreamID
	CPU, Res uint32 // if SampleFormatCPU

	// Anomalies lists ABI inconsistencies found while decoding
	// this record, such as unconsumed sample format bits or
	// trailing bytes. Decoding continues past an anomaly on a
	// best-effort basis.
	Anomalies []string
}

func (r *RecordCommon) Common() *RecordCommon {
	return r
}

func (r *RecordCommon) anomalyf(format string, args ...interface{}) {
	r.Anomalies = append(r.Anomalies, fmt.Sprintf(format, args...))
}

// A RecordUnknown is a Record of unknown or unimplemented type.
type RecordUnknown struct {
	RecordCommon

	Kind RecordType
	Misc uint16
	Data []byte
}

func (r *RecordUnknown) Type() RecordType {
	return r.Kind
}

// A RecordMmap records when a process being profiled called mmap.
// RecordMmaps can also occur at the beginning of a profile to
// describe the existing memory layout.
//
// Both RecordTypeMmap and RecordTypeMmap2 decode to RecordMmap.
type RecordMmap struct {
	// RecordCommon.PID and .TID will always be filled
	RecordCommon

	Data bool // from header.misc

	// Addr and Len are the virtual address of the start of this
	// mapping and its length in bytes.
	Addr, Len uint64
	// FileOffset is the byte offset in the mapped file of the
	// beginning of this mapping.
	FileOffset uint64

	// Extended is set for RecordTypeMmap2 records. Only these
	// carry the fields below; a plain mmap record is always an
	// executable mapping.
	Extended bool

	Major, Minor       uint32 // if !EventFlagBuildID
	Ino, InoGeneration uint64 // if !EventFlagBuildID

	BuildID []byte // if EventFlagBuildID

	Prot, Flags uint32
	Filename    string
}

func (r *RecordMmap) Type() RecordType {
	if r.Extended {
		return RecordTypeMmap2
	}
	return RecordTypeMmap
}

// Contains reports whether addr falls within the mapping.
func (r *RecordMmap) Contains(addr uint64) bool {
	return addr >= r.Addr && addr-r.Addr < r.Len
}

// A RecordLost records that profiling events were lost because of a
// buffer overflow.
type RecordLost struct {
	// RecordCommon.ID will always be filled
	RecordCommon

	NumLost uint64
}

func (r *RecordLost) Type() RecordType {
	return RecordTypeLost
}

// A RecordComm records that a process being profiled called exec.
// RecordComms can also occur at the beginning of a profile to
// describe the existing set of processes.
type RecordComm struct {
	// RecordCommon.PID and .TID will always be filled
	RecordCommon

	Exec bool // from header.misc

	Comm string
}

func (r *RecordComm) Type() RecordType {
	return RecordTypeComm
}

// A RecordExit records that a process or thread exited.
type RecordExit struct {
	// RecordCommon.PID, .TID, and .Time will always be filled
	RecordCommon

	PPID, PTID int
}

func (r *RecordExit) Type() RecordType {
	return RecordTypeExit
}

// A RecordThrottle records that interrupt throttling was enabled or
// disabled.
type RecordThrottle struct {
	// RecordCommon.Time, .ID, and .StreamID will always be filled
	RecordCommon

	Enable bool
}

func (r *RecordThrottle) Type() RecordType {
	if r.Enable {
		return RecordTypeThrottle
	}
	return RecordTypeUnthrottle
}

// A RecordFork records that a process called clone to either fork the
// process or create a new thread.
type RecordFork struct {
	// RecordCommon.PID, .TID, and .Time will always be filled
	RecordCommon

	PPID, PTID int
}

func (r *RecordFork) Type() RecordType {
	return RecordTypeFork
}

// A RecordRead records counter values read from an inherited event.
type RecordRead struct {
	// RecordCommon.PID and .TID will always be filled
	RecordCommon

	Values []Count
}

func (r *RecordRead) Type() RecordType {
	return RecordTypeRead
}

// A RecordAux records that data was added to the AUX buffer.
type RecordAux struct {
	RecordCommon

	// AuxOffset and AuxSize locate the new data in the AUX
	// buffer. File.AuxData retrieves it.
	AuxOffset, AuxSize uint64
	Flags              AuxFlags
	PMUFormat          AuxPMUFormat
}

func (r *RecordAux) Type() RecordType {
	return RecordTypeAux
}

// AuxFlags gives flags for an RecordAux event.
type AuxFlags uint64

const (
	// Record was truncated to fit in the ring buffer.
	AuxFlagTruncated AuxFlags = 1 << iota

	// AUX data was collected in overwrite mode, so the AUX buffer
	// was treated as a circular ring buffer.
	AuxFlagOverwrite

	// Record contains gaps.
	AuxFlagPartial

	// Sample collided with another.
	AuxFlagCollision

	auxFlagMask AuxFlags = 0xff
)

// AuxPMUFormat is the PMU specific trace format type. Values are
// architecture dependent.
type AuxPMUFormat uint8

const (
	// ARM
	AuxPMUFormatCoresightCoresight AuxPMUFormat = 0 // ARM Coresight format CORESIGHT.
	AuxPMUFormatCoresightRaw       AuxPMUFormat = 1 // ARM Coresight format RAW.

	AuxPMUFormatDefault AuxPMUFormat = 0
)

// A RecordItraceStart indicates that an instruction trace started.
type RecordItraceStart struct {
	// PID and TID will always be filled in.
	RecordCommon
}

func (r *RecordItraceStart) Type() RecordType {
	return RecordTypeItraceStart
}

// A RecordLostSamples records the number of dropped or lost samples.
type RecordLostSamples struct {
	RecordCommon

	Lost uint64
}

func (r *RecordLostSamples) Type() RecordType {
	return RecordTypeLostSamples
}

// A RecordSwitch records a context switch in or out of the monitored
// process. See also RecordSwitchCPUWide.
type RecordSwitch struct {
	RecordCommon

	// Out indicates this is a switch out. Otherwise, this is a
	// switch in.
	Out bool

	// Preempt indicates that the preempted thread was in
	// TASK_RUNNING state.
	Preempt bool
}

func (r *RecordSwitch) Type() RecordType {
	return RecordTypeSwitch
}

// RecordSwitchCPUWide is a CPU-wide version of RecordSwitch.
type RecordSwitchCPUWide struct {
	RecordCommon

	Out, Preempt bool

	// SwitchPID and SwitchTID are the PID and TID of the process
	// being switched in or switched out.
	SwitchPID, SwitchTID int
}

func (r *RecordSwitchCPUWide) Type() RecordType {
	return RecordTypeSwitchCPUWide
}

type RecordNamespaces struct {
	// PID and TID are always filled in.
	RecordCommon

	Namespaces []Namespace
}

func (r *RecordNamespaces) Type() RecordType {
	return RecordTypeNamespaces
}

type Namespace struct {
	Dev, Inode uint64
}

// RecordKsymbol record kernel symbol register/unregister information, for
// dynamically loaded or JITed kernel functions.
type RecordKsymbol struct {
	RecordCommon

	Addr     uint64
	Len      uint32
	KsymType KsymbolType
	Flags    KsymbolFlags
	Name     string
}

func (r *RecordKsymbol) Type() RecordType {
	return RecordTypeKsymbol
}

type KsymbolType uint16

const (
	KsymbolTypeUnknown KsymbolType = iota
	KsymbolTypeBpf
	KsymbolTypeOol
)

// KsymbolFlags gives flags for a RecordKsymbol event.
type KsymbolFlags uint16

const (
	// Ksymbol was unregistered.
	KsymbolFlagUnregister KsymbolFlags = 1 << iota
)

// RecordBPFEvent records BPF program load/unload information.
type RecordBPFEvent struct {
	RecordCommon

	EventType BPFEventType
	Flags     BPFEventFlags
	ProgID    uint32
	Tag       [8]byte
}

func (r *RecordBPFEvent) Type() RecordType {
	return RecordTypeBPFEvent
}

type BPFEventType uint16

const (
	BPFEventTypeUnknown BPFEventType = iota
	BPFEventTypeProgLoad
	BPFEventTypeProgUnload
)

// No BPFEvent flags are defined yet.
type BPFEventFlags uint16

// RecordCGroup records the association between a cgroup id and path.
type RecordCGroup struct {
	RecordCommon

	CGroupID uint64
	Path     string
}

func (r *RecordCGroup) Type() RecordType {
	return RecordTypeCGroup
}

// RecordTextPoke records single instruction changes to the kernel text. This
// event records the address modified and the old and new code.
type RecordTextPoke struct {
	RecordCommon

	Addr uint64
	Old  []byte
	New  []byte
}

func (r *RecordTextPoke) Type() RecordType {
	return RecordTypeTextPoke
}

// RecordAuxOutputHardwareID records an architecture-specific hardware ID
// associated with the aux data for this event ID.
type RecordAuxOutputHardwareID struct {
	RecordCommon

	HardwareID uint64
}

func (r *RecordAuxOutputHardwareID) Type() RecordType {
	return RecordTypeAuxOutputHardwareID
}

// A RecordHeaderAttr carries an event description in a perf.data
// pipe, where there is no attrs section.
type RecordHeaderAttr struct {
	RecordCommon

	Attr *EventAttr
	IDs  []uint64
}

func (r *RecordHeaderAttr) Type() RecordType {
	return RecordTypeHeaderAttr
}

// A RecordHeaderFeature carries the contents of one feature section
// in a perf.data pipe.
type RecordHeaderFeature struct {
	RecordCommon

	Feature Feature
	Data    []byte
}

func (r *RecordHeaderFeature) Type() RecordType {
	return RecordTypeHeaderFeature
}

// A RecordBuildID associates a build ID with a file name, like an
// entry of the build ID feature section.
type RecordBuildID struct {
	RecordCommon

	CPUMode  CPUMode
	BuildID  []byte
	Filename string
}

func (r *RecordBuildID) Type() RecordType {
	return RecordTypeBuildID
}

// A RecordFinishedRound marks a point in the stream before which all
// records are known to be ordered.
type RecordFinishedRound struct {
	RecordCommon
}

func (r *RecordFinishedRound) Type() RecordType {
	return RecordTypeFinishedRound
}

// A RecordIDIndex maps event IDs to the per-CPU or per-thread
// instances they were opened for.
type RecordIDIndex struct {
	RecordCommon

	Entries []IDIndexEntry
}

func (r *RecordIDIndex) Type() RecordType {
	return RecordTypeIDIndex
}

type IDIndexEntry struct {
	ID, Idx, CPU, TID uint64
}

// A RecordAuxtraceInfo describes the hardware trace carried by the
// RecordAuxtrace records that follow it. Its Priv data is specific to
// Kind.
type RecordAuxtraceInfo struct {
	RecordCommon

	Kind AuxtraceType
	Priv []uint64
}

func (r *RecordAuxtraceInfo) Type() RecordType {
	return RecordTypeAuxtraceInfo
}

// A RecordAuxtrace is a chunk of hardware trace copied out of an AUX
// buffer. The chunk immediately follows the record in the stream.
type RecordAuxtrace struct {
	// TID and CPU are always filled in. CPU is ^uint32(0) for a
	// per-thread buffer.
	RecordCommon

	// Size is the length of Data.
	Size uint64

	// AuxOffset is the offset of Data in the overall stream of the
	// AUX buffer. RecordAux.AuxOffset is relative to the same
	// stream.
	AuxOffset uint64

	// Ref is a unique identifier for this auxtrace block.
	Ref uint64

	// Idx is the zero-based index of the event instance that
	// owns this buffer, which matches the position of its ID in
	// the event's ID list.
	Idx uint32

	// DataOffset is the offset of Data in the file, or -1.
	DataOffset int64

	// Data is the raw auxiliary data. It is nil if the iterator
	// skipped it. The encoding depends on the container's
	// RecordAuxtraceInfo.
	Data []byte

	// Aux lists the RecordAux records, in stream order, that
	// announced data in this buffer.
	Aux []*RecordAux

	// ItraceTID is the thread of the most recent RecordItraceStart
	// before this record in the stream, or -1 if there was none.
	// It is only set by Records.
	ItraceTID int
}

func (r *RecordAuxtrace) Type() RecordType {
	return RecordTypeAuxtrace
}

// A RecordAuxtraceError reports a hardware trace decoding error
// recorded by the perf tool.
type RecordAuxtraceError struct {
	// PID, TID, CPU and Time are always filled in.
	RecordCommon

	ErrorType uint32
	Code      uint32
	IP        uint64
	Msg       string

	// MachinePID and VCPU are present in newer (Fmt >= 2) records.
	Fmt        uint32
	MachinePID uint32
	VCPU       uint32
}

func (r *RecordAuxtraceError) Type() RecordType {
	return RecordTypeAuxtraceError
}

// A RecordThreadMap lists the threads a session was recording.
type RecordThreadMap struct {
	RecordCommon

	Threads []ThreadMapEntry
}

func (r *RecordThreadMap) Type() RecordType {
	return RecordTypeThreadMap
}

type ThreadMapEntry struct {
	TID  int
	Comm string
}

// A RecordCPUMap lists the CPUs a session was recording.
type RecordCPUMap struct {
	RecordCommon

	CPUs CPUSet
}

func (r *RecordCPUMap) Type() RecordType {
	return RecordTypeCPUMap
}

// A RecordTimeConv gives the parameters for converting between TSC
// values and perf timestamps.
type RecordTimeConv struct {
	RecordCommon

	Shift, Mult, Zero uint64

	// Extended is set if the record carries the fields below.
	Extended         bool
	Cycles, Mask     uint64
	CapUserTimeZero  bool
	CapUserTimeShort bool
}

func (r *RecordTimeConv) Type() RecordType {
	return RecordTypeTimeConv
}

// A RecordCompressed holds a compressed sequence of records. Records
// iterators expand these transparently, so callers only see them by
// decoding a RawRecord directly.
type RecordCompressed struct {
	RecordCommon

	Data []byte
}

func (r *RecordCompressed) Type() RecordType {
	return RecordTypeCompressed
}

// A RecordSample records a profiling sample event.
//
// Typically only a subset of the fields are used. Which fields are
// set can be determined from the bitmask RecordSample.Format.
type RecordSample struct {
	// RecordCommon.EventAttr will always be filled.
	// RecordCommon.Format describes the optional fields in this
	// structure, as well as the optional common fields.
	RecordCommon

	CPUMode CPUMode // from header.misc
	ExactIP bool    // from header.misc

	IP   uint64 // if SampleFormatIP
	Addr uint64 // if SampleFormatAddr

	// Period is the number of events on this CPU until the next
	// sample. In frequency sampling mode, this is adjusted
	// dynamically based on the rate of recent events. In period
	// sampling mode, this is fixed and is filled from the event
	// even without SampleFormatPeriod.
	Period uint64

	// SampleRead records raw event counter values. If this is an
	// event group, this slice will have more than one element;
	// otherwise, it will have one element.
	SampleRead []Count // if SampleFormatRead

	// Callchain gives the call stack of the sampled instruction,
	// starting from the sampled instruction itself. The call
	// chain may span several types of stacks (e.g., it may start
	// in a kernel stack, then transition to a user stack). Before
	// the first IP from each stack there will be a Callchain*
	// constant indicating the stack type for the following IPs.
	Callchain []uint64 // if SampleFormatCallchain

	Raw []byte // if SampleFormatRaw

	// BranchHWIndex is the low level index of the raw hardware
	// branch record (e.g., LBR) for BranchStack[0], or -1 if
	// unknown.
	BranchHWIndex int64

	BranchStack []BranchRecord // if SampleFormatBranchStack

	// RegsUserABI and RegsUser record the ABI and values of
	// user-space registers as of this sample. Note that these are
	// the current user-space registers even if this sample
	// occurred at a kernel PC. RegsUser[i] records the value of
	// the register indicated by the i-th set bit of
	// EventAttr.SampleRegsUser.
	RegsUserABI SampleRegsABI // if SampleFormatRegsUser
	RegsUser    []uint64      // if SampleFormatRegsUser

	StackUser        []byte // if SampleFormatStackUser
	StackUserDynSize uint64 // if SampleFormatStackUser

	Weight  uint64  // if SampleFormatWeight or SampleFormatWeightStruct
	Weights Weights // if SampleFormatWeightStruct

	DataSrc DataSrc // if SampleFormatDataSrc

	Transaction Transaction // if SampleFormatTransaction
	AbortCode   uint32      // if SampleFormatTransaction

	// RegsIntrABI And RegsIntr record the ABI and values of
	// registers as of this sample. Unlike RegsUser, these can be
	// kernel-space registers if this sample occurs in the kernel.
	RegsIntrABI SampleRegsABI // if SampleFormatRegsIntr
	RegsIntr    []uint64      // if SampleFormatRegsIntr

	PhysAddr uint64 // if SampleFormatPhysAddr

	CGroup uint64 // if SampleFormatCGroup

	DataPageSize uint64 // if SampleFormatDataPageSize
	CodePageSize uint64 // if SampleFormatCodePageSize

	Aux []byte // if SampleFormatAux
}

func (r *RecordSample) Type() RecordType {
	return RecordTypeSample
}

func (r *RecordSample) String() string {
	f := r.Format
	s := fmt.Sprintf("{Offset:%v Format:%v CPUMode:%v ExactIP:%v", r.Offset, r.Format, r.CPUMode, r.ExactIP)
	if f&(SampleFormatID|SampleFormatIdentifier) != 0 {
		s += fmt.Sprintf(" ID:%d", r.ID)
	}
	if f&SampleFormatIP != 0 {
		s += fmt.Sprintf(" IP:%#x", r.IP)
	}
	if f&SampleFormatTID != 0 {
		s += fmt.Sprintf(" PID:%d TID:%d", r.PID, r.TID)
	}
	if f&SampleFormatTime != 0 {
		s += fmt.Sprintf(" Time:%d", r.Time)
	}
	if f&SampleFormatAddr != 0 {
		s += fmt.Sprintf(" Addr:%#x", r.Addr)
	}
	if f&SampleFormatStreamID != 0 {
		s += fmt.Sprintf(" StreamID:%d", r.StreamID)
	}
	if f&SampleFormatCPU != 0 {
		s += fmt.Sprintf(" CPU:%d Res:%d", r.CPU, r.Res)
	}
	if f&SampleFormatPeriod != 0 {
		s += fmt.Sprintf(" Period:%d", r.Period)
	}
	if f&SampleFormatRead != 0 {
		s += fmt.Sprintf(" SampleRead:%v", r.SampleRead)
	}
	if f&SampleFormatCallchain != 0 {
		s += fmt.Sprintf(" Callchain:%#x", r.Callchain)
	}
	if f&SampleFormatRaw != 0 {
		s += fmt.Sprintf(" Raw:[%d bytes]", len(r.Raw))
	}
	if f&SampleFormatBranchStack != 0 {
		s += fmt.Sprintf(" BranchHWIndex:%d BranchStack:%v", r.BranchHWIndex, r.BranchStack)
	}
	if f&SampleFormatRegsUser != 0 {
		s += fmt.Sprintf(" RegsUserABI:%v RegsUser:%v", r.RegsUserABI, r.RegsUser)
	}
	if f&SampleFormatStackUser != 0 {
		s += fmt.Sprintf(" StackUser:[%d bytes] StackUserDynSize:%d", len(r.StackUser), r.StackUserDynSize)
	}
	if f&(SampleFormatWeight|SampleFormatWeightStruct) != 0 {
		s += fmt.Sprintf(" Weight:%d", r.Weight)
	}
	if f&SampleFormatWeightStruct != 0 {
		s += fmt.Sprintf(" Weights:%+v", r.Weights)
	}
	if f&SampleFormatDataSrc != 0 {
		s += fmt.Sprintf(" DataSrc:%+v", r.DataSrc)
	}
	if f&SampleFormatTransaction != 0 {
		s += fmt.Sprintf(" Transaction:%#x AbortCode:%d", int(r.Transaction), r.AbortCode)
	}
	if f&SampleFormatRegsIntr != 0 {
		s += fmt.Sprintf(" RegsIntrABI:%v RegsIntr:%v", r.RegsIntrABI, r.RegsIntr)
	}
	if f&SampleFormatPhysAddr != 0 {
		s += fmt.Sprintf(" PhysAddr:%#x", r.PhysAddr)
	}
	if f&SampleFormatCGroup != 0 {
		s += fmt.Sprintf(" CGroup:%d", r.CGroup)
	}
	if f&SampleFormatDataPageSize != 0 {
		s += fmt.Sprintf(" DataPageSize:%#x", r.DataPageSize)
	}
	if f&SampleFormatCodePageSize != 0 {
		s += fmt.Sprintf(" CodePageSize:%#x", r.CodePageSize)
	}
	if f&SampleFormatAux != 0 {
		s += fmt.Sprintf(" Aux:[%d bytes]", len(r.Aux))
	}
	return s + "}"
}

// Fields returns the list of names of valid fields in r based on
// r.Format. This is useful for writing custom printing functions.
func (r *RecordSample) Fields() []string {
	f := r.Format
	fs := []string{"Offset", "Format", "EventAttr", "CPUMode", "ExactIP"}
	for _, fl := range sampleFieldNames {
		if f&fl.bit != 0 {
			fs = append(fs, fl.names...)
		}
	}
	return fs
}

var sampleFieldNames = []struct {
	bit   SampleFormat
	names []string
}{
	{SampleFormatID | SampleFormatIdentifier, []string{"ID"}},
	{SampleFormatIP, []string{"IP"}},
	{SampleFormatTID, []string{"PID", "TID"}},
	{SampleFormatTime, []string{"Time"}},
	{SampleFormatAddr, []string{"Addr"}},
	{SampleFormatStreamID, []string{"StreamID"}},
	{SampleFormatCPU, []string{"CPU", "Res"}},
	{SampleFormatPeriod, []string{"Period"}},
	{SampleFormatRead, []string{"SampleRead"}},
	{SampleFormatCallchain, []string{"Callchain"}},
	{SampleFormatRaw, []string{"Raw"}},
	{SampleFormatBranchStack, []string{"BranchHWIndex", "BranchStack"}},
	{SampleFormatRegsUser, []string{"RegsUserABI", "RegsUser"}},
	{SampleFormatStackUser, []string{"StackUser", "StackUserDynSize"}},
	{SampleFormatWeight | SampleFormatWeightStruct, []string{"Weight"}},
	{SampleFormatWeightStruct, []string{"Weights"}},
	{SampleFormatDataSrc, []string{"DataSrc"}},
	{SampleFormatTransaction, []string{"Transaction", "AbortCode"}},
	{SampleFormatRegsIntr, []string{"RegsIntrABI", "RegsIntr"}},
	{SampleFormatPhysAddr, []string{"PhysAddr"}},
	{SampleFormatCGroup, []string{"CGroup"}},
	{SampleFormatDataPageSize, []string{"DataPageSize"}},
	{SampleFormatCodePageSize, []string{"CodePageSize"}},
	{SampleFormatAux, []string{"Aux"}},
}

// A CPUMode indicates the privilege level of a sample or event.
//
// This corresponds to PERF_RECORD_MISC_CPUMODE from
// include/uapi/linux/perf_event.h
type CPUMode uint16

const (
	CPUModeUnknown CPUMode = iota
	CPUModeKernel
	CPUModeUser
	CPUModeHypervisor
	CPUModeGuestKernel
	CPUModeGuestUser
)

// A Count records the raw value of an event counter.
//
// Typically only a subset of the fields are used. Which fields are
// set can be determined from the event's ReadFormat.
//
// This corresponds to perf_event_read_format from
// include/uapi/linux/perf_event.h
type Count struct {
	Value       uint64 // Event counter value
	TimeEnabled uint64 // if ReadFormatTotalTimeEnabled
	TimeRunning uint64 // if ReadFormatTotalTimeRunning
	ID          uint64 // if ReadFormatID
	Lost        uint64 // if ReadFormatLost
}

// A BranchRecord records a single branching event in a sample.
type BranchRecord struct {
	From, To uint64
	Flags    BranchFlags

	Cycles uint16 // Cycle count to last branch (or 0)

	// Type is the type of branch instruction that caused this
	// branch. If supported, this is set by the kernel by
	// disassembling the branch instruction, since the binary
	// itself may not be available at decoding time. This is only
	// set if EventAttr.BranchSampleType&BranchSampleTypeSave is
	// set in the event.
	Type BranchType
}

type BranchFlags uint64

const (
	// BranchFlagMispredicted indicates branch target was mispredicted.
	BranchFlagMispredicted BranchFlags = 1 << iota

	// BranchFlagPredicted indicates branch target was predicted.
	// In case predicted/mispredicted information is unavailable,
	// both flags will be unset.
	BranchFlagPredicted

	// BranchFlagInTransaction indicates the branch occurred in a
	// transaction.
	BranchFlagInTransaction

	// BranchFlagAbort indicates the branch is a transaction abort.
	BranchFlagAbort
)

type BranchType uint8

const (
	BranchTypeUnknown  BranchType = iota // unknown
	BranchTypeCond                       // conditional
	BranchTypeUncond                     // unconditional
	BranchTypeInd                        // indirect
	BranchTypeCall                       // function call
	BranchTypeIndCall                    // indirect function call
	BranchTypeRet                        // function return
	BranchTypeSyscall                    // syscall
	BranchTypeSysret                     // syscall return
	BranchTypeCondCall                   // conditional function call
	BranchTypeCondRet                    // conditional function return
	BranchTypeEret                       // exception return
	BranchTypeIrq                        // interrupt
)

// Special markers used in RecordSample.Callchain to mark boundaries
// between types of stacks.
//
// These correspond to PERF_CONTEXT_* from
// include/uapi/linux/perf_event.h
const (
	CallchainHV          uint64 = 0xffffffffffffffe0 // -32
	CallchainKernel      uint64 = 0xffffffffffffff80 // -128
	CallchainUser        uint64 = 0xfffffffffffffe00 // -512
	CallchainGuest       uint64 = 0xfffffffffffff800 // -2048
	CallchainGuestKernel uint64 = 0xfffffffffffff780 // -2176
	CallchainGuestUser   uint64 = 0xfffffffffffff600 // -2560
)

// SampleRegsABI indicates the register ABI of a given sample for
// architectures that support multiple ABIs.
//
// This corresponds to the perf_sample_regs_abi enum from
// include/uapi/linux/perf_event.h
type SampleRegsABI uint64

const (
	SampleRegsABINone SampleRegsABI = iota
	SampleRegsABI32
	SampleRegsABI64
)

// DataSrc describes the memory hierarchy level that satisfied a
// sampled load or store.
type DataSrc struct {
	Op       DataSrcOp
	Miss     bool // if true, Level specifies miss, rather than hit
	Level    DataSrcLevel
	Snoop    DataSrcSnoop
	Locked   DataSrcLock
	TLB      DataSrcTLB
	LevelNum DataSrcLevelNum
	Remote   bool
	Block    DataSrcBlock
	Hops     DataSrcHops
}

type DataSrcOp int

const (
	DataSrcOpLoad DataSrcOp = 1 << iota
	DataSrcOpStore
	DataSrcOpPrefetch
	DataSrcOpExec

	DataSrcOpNA DataSrcOp = 0
)

type DataSrcLevel int

const (
	DataSrcLevelL1  DataSrcLevel = 1 << iota
	DataSrcLevelLFB              // Line fill buffer
	DataSrcLevelL2
	DataSrcLevelL3
	DataSrcLevelLocalRAM     // Local DRAM
	DataSrcLevelRemoteRAM1   // Remote DRAM (1 hop)
	DataSrcLevelRemoteRAM2   // Remote DRAM (2 hops)
	DataSrcLevelRemoteCache1 // Remote cache (1 hop)
	DataSrcLevelRemoteCache2 // Remote cache (2 hops)
	DataSrcLevelIO           // I/O memory
	DataSrcLevelUncached

	DataSrcLevelNA DataSrcLevel = 0
)

type DataSrcSnoop int

const (
	DataSrcSnoopNone DataSrcSnoop = 1 << iota
	DataSrcSnoopHit
	DataSrcSnoopMiss
	DataSrcSnoopHitM // Snoop hit modified
	DataSrcSnoopFwd  // Snoop forward (from the extended snoop bits)
	DataSrcSnoopPeer // Snoop hit in a peer cache

	DataSrcSnoopNA DataSrcSnoop = 0
)

type DataSrcLock int

const (
	DataSrcLockNA DataSrcLock = iota
	DataSrcLockUnlocked
	DataSrcLockLocked
)

type DataSrcTLB int

const (
	DataSrcTLBHit DataSrcTLB = 1 << iota
	DataSrcTLBMiss
	DataSrcTLBL1
	DataSrcTLBL2
	DataSrcTLBHardwareWalker
	DataSrcTLBOSFaultHandler

	DataSrcTLBNA DataSrcTLB = 0
)

type DataSrcLevelNum int

const (
	DataSrcLevelNumL1       DataSrcLevelNum = 0x01 // L1
	DataSrcLevelNumL2       DataSrcLevelNum = 0x02 // L2
	DataSrcLevelNumL3       DataSrcLevelNum = 0x03 // L3
	DataSrcLevelNumL4       DataSrcLevelNum = 0x04 // L4
	DataSrcLevelNumAnyCache DataSrcLevelNum = 0x0b // Any cache
	DataSrcLevelNumLFB      DataSrcLevelNum = 0x0c // LFB
	DataSrcLevelNumRAM      DataSrcLevelNum = 0x0d // RAM
	DataSrcLevelNumPMEM     DataSrcLevelNum = 0x0e // PMEM
	DataSrcLevelNumNA       DataSrcLevelNum = 0x0f // N/A
)

type DataSrcBlock int

const (
	DataSrcBlockData DataSrcBlock = 1 << iota // Data could not be forwarded
	DataSrcBlockAddr                          // Address conflict

	DataSrcBlockNA DataSrcBlock = 0
)

type DataSrcHops int

const (
	DataSrcHopsNA     DataSrcHops = 0
	DataSrcHopsCore   DataSrcHops = 1 // Remote core, same node
	DataSrcHopsNode   DataSrcHops = 2 // Remote node, same socket
	DataSrcHopsSocket DataSrcHops = 3 // Remote socket, same board
	DataSrcHopsBoard  DataSrcHops = 4 // Remote board
)

// See perf_mem_data_src in include/uapi/linux/perf_event.h
const (
	dataSrcOpShift     = 0
	dataSrcLvlShift    = 5
	dataSrcSnoopShift  = 19
	dataSrcLockShift   = 24
	dataSrcTLBShift    = 26
	dataSrcLvlNumShift = 33
	dataSrcRemoteShift = 37
	dataSrcSnoopXShift = 38
	dataSrcBlockShift  = 40
	dataSrcHopsShift   = 43
)

func decodeDataSrc(d uint64) (out DataSrc) {
	op := (d >> dataSrcOpShift) & 0x1f
	lvl := (d >> dataSrcLvlShift) & 0x3fff
	snoop := (d >> dataSrcSnoopShift) & 0x1f
	lock := (d >> dataSrcLockShift) & 0x3
	dtlb := (d >> dataSrcTLBShift) & 0x7f
	snoopx := (d >> dataSrcSnoopXShift) & 0x3

	if op&0x1 != 0 {
		out.Op = DataSrcOpNA
	} else {
		out.Op = DataSrcOp(op >> 1)
	}

	if lvl&0x1 != 0 {
		out.Miss, out.Level = false, DataSrcLevelNA
	} else {
		out.Miss = (lvl & 0x4) != 0
		out.Level = DataSrcLevel(lvl >> 3)
	}

	if snoop&0x1 != 0 {
		out.Snoop = DataSrcSnoopNA
	} else {
		out.Snoop = DataSrcSnoop(snoop >> 1)
	}
	out.Snoop |= DataSrcSnoop(snoopx << 4)

	if lock&0x1 != 0 {
		out.Locked = DataSrcLockNA
	} else if lock&0x02 != 0 {
		out.Locked = DataSrcLockLocked
	} else {
		out.Locked = DataSrcLockUnlocked
	}

	if dtlb&0x1 != 0 {
		out.TLB = DataSrcTLBNA
	} else {
		out.TLB = DataSrcTLB(dtlb >> 1)
	}

	out.LevelNum = DataSrcLevelNum((d >> dataSrcLvlNumShift) & 0xf)
	out.Remote = (d>>dataSrcRemoteShift)&1 != 0
	out.Block = DataSrcBlock((d >> dataSrcBlockShift) & 0x7 >> 1)
	out.Hops = DataSrcHops((d >> dataSrcHopsShift) & 0x7)
	return
}

// encodeDataSrc is the inverse of decodeDataSrc.
func encodeDataSrc(s DataSrc) uint64 {
	var d uint64
	if s.Op == DataSrcOpNA {
		d |= 1 << dataSrcOpShift
	} else {
		d |= uint64(s.Op) << 1 << dataSrcOpShift
	}

	if s.Level == DataSrcLevelNA && !s.Miss {
		d |= 1 << dataSrcLvlShift
	} else {
		lvl := uint64(s.Level) << 3
		if s.Miss {
			lvl |= 0x4
		} else {
			lvl |= 0x2
		}
		d |= lvl << dataSrcLvlShift
	}

	snoop := uint64(s.Snoop) & 0xf
	if snoop == 0 {
		d |= 1 << dataSrcSnoopShift
	} else {
		d |= snoop << 1 << dataSrcSnoopShift
	}
	d |= (uint64(s.Snoop) >> 4 & 0x3) << dataSrcSnoopXShift

	switch s.Locked {
	case DataSrcLockNA:
		d |= 1 << dataSrcLockShift
	case DataSrcLockLocked:
		d |= 2 << dataSrcLockShift
	}

	if s.TLB == DataSrcTLBNA {
		d |= 1 << dataSrcTLBShift
	} else {
		d |= uint64(s.TLB) << 1 << dataSrcTLBShift
	}

	d |= uint64(s.LevelNum&0xf) << dataSrcLvlNumShift
	if s.Remote {
		d |= 1 << dataSrcRemoteShift
	}
	if s.Block == DataSrcBlockNA {
		d |= 1 << dataSrcBlockShift
	} else {
		d |= uint64(s.Block) << 1 << dataSrcBlockShift
	}
	d |= uint64(s.Hops&0x7) << dataSrcHopsShift
	return d
}

type Transaction int

const (
	TransactionElision       Transaction = 1 << iota // From elision
	TransactionTransaction                           // From transaction
	TransactionSync                                  // Instruction is related
	TransactionAsync                                 // Instruction is not related
	TransactionRetry                                 // Retry possible
	TransactionConflict                              // Conflict abort
	TransactionCapacityWrite                         // Capacity write abort
	TransactionCapacityRead                          // Capacity read abort
)

// Weights is the structured form of the sample weight, used when
// the event sets SampleFormatWeightStruct.
type Weights struct {
	Var1 uint32
	Var2 uint16
	Var3 uint16
}
