// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Sizes of the published versions of perf_event_attr.
const (
	AttrSizeV0 = 64 // first published struct
	AttrSizeV1 = 72 // add config2
	AttrSizeV2 = 80 // add branch_sample_type
	AttrSizeV3 = 96 // add sample_regs_user, sample_stack_user
	AttrSizeV4 = 104
	AttrSizeV5 = 112 // add aux_watermark, sample_max_stack

	// AttrSizeDefault is the size of EventAttrs created by this
	// package unless the caller asks otherwise.
	AttrSizeDefault = AttrSizeV5
)

// An AttrField names a field of perf_event_attr.
type AttrField int

const (
	AttrType AttrField = iota
	AttrSize
	AttrConfig
	AttrSamplePeriod // shares storage with AttrSampleFreq
	AttrSampleFreq
	AttrSampleType
	AttrReadFormat

	AttrDisabled
	AttrInherit
	AttrPinned
	AttrExclusive
	AttrExcludeUser
	AttrExcludeKernel
	AttrExcludeHV
	AttrExcludeIdle
	AttrMmap
	AttrComm
	AttrFreq
	AttrInheritStat
	AttrEnableOnExec
	AttrTask
	AttrWatermark
	AttrPreciseIP
	AttrMmapData
	AttrSampleIDAll
	AttrExcludeHost
	AttrExcludeGuest
	AttrExcludeCallchainKernel
	AttrExcludeCallchainUser
	AttrMmap2
	AttrCommExec
	AttrUseClockID
	AttrContextSwitch
	AttrWriteBackward
	AttrNamespaces
	AttrKsymbol
	AttrBPFEvent
	AttrAuxOutput
	AttrCGroup
	AttrTextPoke

	AttrWakeupEvents // shares storage with AttrWakeupWatermark
	AttrWakeupWatermark
	AttrBPType
	AttrConfig1 // also bp_addr
	AttrConfig2 // also bp_len
	AttrBranchSampleType
	AttrSampleRegsUser
	AttrSampleStackUser
	AttrClockID
	AttrSampleRegsIntr
	AttrAuxWatermark
	AttrSampleMaxStack
	AttrAuxSampleSize

	numAttrFields
)

// attrFieldInfo locates a field in the raw perf_event_attr image.
type attrFieldInfo struct {
	name  string
	off   int // byte offset of the containing little-endian word
	word  int // size in bytes of the containing word
	shift int // bit offset within the word
	bits  int

	// Union members name their discriminating flag and the flag
	// value that selects them.
	sel    AttrField
	selVal uint64
	union  bool
}

func (fi *attrFieldInfo) firstBit() int {
	return fi.off*8 + fi.shift
}

// end returns the byte offset just past the last byte holding fi.
func (fi *attrFieldInfo) end() int {
	return fi.off + (fi.shift+fi.bits-1)/8 + 1
}

var attrFields [numAttrFields]attrFieldInfo

func init() {
	word := func(f AttrField, name string, off, size int) {
		attrFields[f] = attrFieldInfo{name: name, off: off, word: size, bits: size * 8}
	}
	flag := func(f AttrField, name string, bit, n int) {
		attrFields[f] = attrFieldInfo{name: name, off: 40, word: 8, shift: bit, bits: n}
	}
	word(AttrType, "type", 0, 4)
	word(AttrSize, "size", 4, 4)
	word(AttrConfig, "config", 8, 8)
	word(AttrSamplePeriod, "sample_period", 16, 8)
	word(AttrSampleFreq, "sample_freq", 16, 8)
	word(AttrSampleType, "sample_type", 24, 8)
	word(AttrReadFormat, "read_format", 32, 8)
	for i, name := range []string{
		"disabled", "inherit", "pinned", "exclusive",
		"exclude_user", "exclude_kernel", "exclude_hv", "exclude_idle",
		"mmap", "comm", "freq", "inherit_stat", "enable_on_exec",
		"task", "watermark",
	} {
		flag(AttrDisabled+AttrField(i), name, i, 1)
	}
	flag(AttrPreciseIP, "precise_ip", eventFlagPreciseShift, 2)
	for i, name := range []string{
		"mmap_data", "sample_id_all", "exclude_host", "exclude_guest",
		"exclude_callchain_kernel", "exclude_callchain_user", "mmap2",
		"comm_exec", "use_clockid", "context_switch", "write_backward",
		"namespaces", "ksymbol", "bpf_event", "aux_output", "cgroup",
		"text_poke",
	} {
		flag(AttrMmapData+AttrField(i), name, 17+i, 1)
	}
	word(AttrWakeupEvents, "wakeup_events", 48, 4)
	word(AttrWakeupWatermark, "wakeup_watermark", 48, 4)
	word(AttrBPType, "bp_type", 52, 4)
	word(AttrConfig1, "config1", 56, 8)
	word(AttrConfig2, "config2", 64, 8)
	word(AttrBranchSampleType, "branch_sample_type", 72, 8)
	word(AttrSampleRegsUser, "sample_regs_user", 80, 8)
	word(AttrSampleStackUser, "sample_stack_user", 88, 4)
	word(AttrClockID, "clockid", 92, 4)
	word(AttrSampleRegsIntr, "sample_regs_intr", 96, 8)
	word(AttrAuxWatermark, "aux_watermark", 104, 4)
	word(AttrSampleMaxStack, "sample_max_stack", 108, 2)
	word(AttrAuxSampleSize, "aux_sample_size", 112, 4)

	union := func(f, sel AttrField, val uint64) {
		attrFields[f].union = true
		attrFields[f].sel = sel
		attrFields[f].selVal = val
	}
	union(AttrSamplePeriod, AttrFreq, 0)
	union(AttrSampleFreq, AttrFreq, 1)
	union(AttrWakeupEvents, AttrWatermark, 0)
	union(AttrWakeupWatermark, AttrWatermark, 1)
}

func (f AttrField) String() string {
	if f < 0 || f >= numAttrFields {
		return fmt.Sprintf("AttrField(%d)", int(f))
	}
	return attrFields[f].name
}

// LookupAttrField returns the field with the given perf_event_attr
// name, such as "sample_type" or "exclude_kernel".
func LookupAttrField(name string) (AttrField, bool) {
	for f := AttrField(0); f < numAttrFields; f++ {
		if attrFields[f].name == name {
			return f, true
		}
	}
	return 0, false
}

// ErrFieldUnset is returned when reading a field of an EventAttr that
// has not been set.
var ErrFieldUnset = errors.New("perffile: event attribute field is not set")

// A UnionError is returned when reading one member of the
// period/frequency or events/watermark union while the discriminating
// flag selects the other member.
type UnionError struct {
	Field    AttrField
	Selector AttrField
}

func (e *UnionError) Error() string {
	return fmt.Sprintf("perffile: %s is not valid when %s=%d", e.Field, e.Selector, 1-attrFields[e.Field].selVal)
}

// A FieldRangeError is returned when writing a field that does not
// fit in an EventAttr's size.
type FieldRangeError struct {
	Field AttrField
	Size  int
}

func (e *FieldRangeError) Error() string {
	return fmt.Sprintf("perffile: %s lies beyond the %d-byte event attribute", e.Field, e.Size)
}

// EventAttr describes an event and how that event should be recorded.
//
// An EventAttr is the raw perf_event_attr structure from
// include/uapi/linux/perf_event.h together with a record of which of
// its bits have been set. A field that was never set reads as
// ErrFieldUnset, which is distinct from a field that was set to zero.
// EventAttrs parsed from a file have every field set.
//
// The size of an EventAttr is fixed when it is created. Two
// EventAttrs are Equal if their raw bytes are equal, regardless of
// which fields are marked set.
type EventAttr struct {
	raw []byte
	set []uint64 // one bit per bit of raw
}

// NewEventAttr returns an EventAttr of size bytes with no fields set
// other than its size. It panics if size is smaller than AttrSizeV0.
func NewEventAttr(size int) *EventAttr {
	if size < AttrSizeV0 {
		panic(fmt.Sprintf("perffile: event attribute size %d is too small", size))
	}
	a := &EventAttr{raw: make([]byte, size), set: make([]uint64, (size*8+63)/64)}
	binary.LittleEndian.PutUint32(a.raw[4:], uint32(size))
	a.markSet(&attrFields[AttrSize])
	return a
}

// ParseEventAttr returns an EventAttr with every field set from raw.
// The size field in raw must equal len(raw).
func ParseEventAttr(raw []byte) (*EventAttr, error) {
	if len(raw) < AttrSizeV0 {
		return nil, &StructuralError{Msg: "event attribute too short", Offset: -1, Want: AttrSizeV0, Got: uint64(len(raw))}
	}
	if size := binary.LittleEndian.Uint32(raw[4:]); int(size) != len(raw) {
		return nil, &StructuralError{Msg: "event attribute size field mismatch", Offset: -1, Want: uint64(len(raw)), Got: uint64(size)}
	}
	a := &EventAttr{raw: append([]byte(nil), raw...), set: make([]uint64, (len(raw)*8+63)/64)}
	for i := range a.set {
		a.set[i] = ^uint64(0)
	}
	return a, nil
}

// Size returns the size in bytes of a's raw structure.
func (a *EventAttr) Size() int {
	return len(a.raw)
}

// Bytes returns a copy of the raw perf_event_attr image.
func (a *EventAttr) Bytes() []byte {
	return append([]byte(nil), a.raw...)
}

// Clone returns a deep copy of a, including which fields are set.
func (a *EventAttr) Clone() *EventAttr {
	return &EventAttr{
		raw: append([]byte(nil), a.raw...),
		set: append([]uint64(nil), a.set...),
	}
}

// Equal reports whether a and b have identical raw bytes.
func (a *EventAttr) Equal(b *EventAttr) bool {
	return bytes.Equal(a.raw, b.raw)
}

func (a *EventAttr) bitSet(i int) bool {
	return i < len(a.raw)*8 && a.set[i/64]&(1<<(i%64)) != 0
}

func (a *EventAttr) fieldSet(fi *attrFieldInfo) bool {
	for i := fi.firstBit(); i < fi.firstBit()+fi.bits; i++ {
		if !a.bitSet(i) {
			return false
		}
	}
	return true
}

func (a *EventAttr) markSet(fi *attrFieldInfo) {
	for i := fi.firstBit(); i < fi.firstBit()+fi.bits; i++ {
		a.set[i/64] |= 1 << (i % 64)
	}
}

func (a *EventAttr) markUnset(fi *attrFieldInfo) {
	for i := fi.firstBit(); i < fi.firstBit()+fi.bits && i < len(a.raw)*8; i++ {
		a.set[i/64] &^= 1 << (i % 64)
	}
}

func (a *EventAttr) readWord(fi *attrFieldInfo) uint64 {
	b := a.raw[fi.off:]
	switch fi.word {
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func (a *EventAttr) writeWord(fi *attrFieldInfo, x uint64) {
	b := a.raw[fi.off:]
	switch fi.word {
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(x))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(x))
	default:
		binary.LittleEndian.PutUint64(b, x)
	}
}

func (fi *attrFieldInfo) mask() uint64 {
	if fi.bits == 64 {
		return ^uint64(0)
	}
	return 1<<fi.bits - 1
}

// raw reads fi regardless of whether it is set. Fields beyond a's
// size read as zero.
func (a *EventAttr) rawField(fi *attrFieldInfo) uint64 {
	if fi.off+fi.word > len(a.raw) {
		return 0
	}
	return (a.readWord(fi) >> fi.shift) & fi.mask()
}

// Has reports whether f is set and, for a union member, whether the
// discriminating flag does not select the other member.
func (a *EventAttr) Has(f AttrField) bool {
	_, err := a.Get(f)
	return err == nil
}

// Get returns the value of field f. It returns ErrFieldUnset if f has
// not been set, or a *UnionError if f is a union member that the
// discriminating flag does not select.
//
// Period and events are the default union members: they can be read
// while freq or watermark is unset.
func (a *EventAttr) Get(f AttrField) (uint64, error) {
	fi := &attrFields[f]
	if !a.fieldSet(fi) {
		return 0, ErrFieldUnset
	}
	if fi.union {
		sel, err := a.Get(fi.sel)
		if fi.selVal == 1 && err != nil || err == nil && sel != fi.selVal {
			return 0, &UnionError{Field: f, Selector: fi.sel}
		}
	}
	return a.rawField(fi), nil
}

// Set sets field f to x and marks it set. Setting a union member also
// sets its discriminating flag. Set returns a *FieldRangeError if f
// does not fit in a's size; the size field itself cannot be set.
func (a *EventAttr) Set(f AttrField, x uint64) error {
	if f == AttrSize {
		return fmt.Errorf("perffile: event attribute size is fixed at %d", len(a.raw))
	}
	fi := &attrFields[f]
	if fi.end() > len(a.raw) {
		return &FieldRangeError{Field: f, Size: len(a.raw)}
	}
	if x&^fi.mask() != 0 {
		return fmt.Errorf("perffile: value %#x does not fit in %d-bit field %s", x, fi.bits, f)
	}
	if fi.union {
		a.Set(fi.sel, fi.selVal)
	}
	w := a.readWord(fi)
	w &^= fi.mask() << fi.shift
	w |= x << fi.shift
	a.writeWord(fi, w)
	a.markSet(fi)
	return nil
}

// SetDefault sets f to x only if f is unset. For a union member, it
// does nothing if either member of the union is already chosen, so a
// default period never replaces an explicit frequency.
func (a *EventAttr) SetDefault(f AttrField, x uint64) error {
	fi := &attrFields[f]
	if fi.union {
		if a.fieldSet(&attrFields[fi.sel]) || a.fieldSet(fi) {
			return nil
		}
	} else if a.fieldSet(fi) {
		return nil
	}
	return a.Set(f, x)
}

// Clear marks field f unset. Its raw bits are left unchanged.
func (a *EventAttr) Clear(f AttrField) {
	if f == AttrSize {
		return
	}
	a.markUnset(&attrFields[f])
}

// unionGroups lists the storage and selector of each union. Merging
// and defaulting treat each group as a unit.
var unionGroups = [...][2]AttrField{
	{AttrSamplePeriod, AttrFreq},
	{AttrWakeupEvents, AttrWatermark},
}

func (a *EventAttr) copyBit(b *EventAttr, i int) {
	mask := byte(1) << (i % 8)
	a.raw[i/8] = a.raw[i/8]&^mask | b.raw[i/8]&mask
	a.set[i/64] |= 1 << (i % 64)
}

func (a *EventAttr) mergeBits(b *EventAttr, skip func(i int) bool) {
	n := len(a.raw)
	if len(b.raw) < n {
		n = len(b.raw)
	}
	size := &attrFields[AttrSize]
	for i := 0; i < n*8; i++ {
		if i >= size.firstBit() && i < size.firstBit()+size.bits {
			continue
		}
		if b.bitSet(i) && !skip(i) {
			a.copyBit(b, i)
		}
	}
}

// Merge copies every field that is set in b into a, overriding a's
// value. The size field is never copied, and fields beyond a's size
// are dropped.
func (a *EventAttr) Merge(b *EventAttr) {
	a.mergeBits(b, func(int) bool { return false })
}

// SetDefaults copies from b every field that is set in b but unset
// in a. A union is copied only if a has chosen neither its member nor
// its discriminating flag.
func (a *EventAttr) SetDefaults(b *EventAttr) {
	var skipRanges [][2]int
	for _, g := range unionGroups {
		st, sel := &attrFields[g[0]], &attrFields[g[1]]
		if a.fieldSet(st) || a.fieldSet(sel) {
			skipRanges = append(skipRanges,
				[2]int{st.firstBit(), st.firstBit() + st.bits},
				[2]int{sel.firstBit(), sel.firstBit() + sel.bits})
		}
	}
	a.mergeBits(b, func(i int) bool {
		if a.bitSet(i) {
			return true
		}
		for _, r := range skipRanges {
			if r[0] <= i && i < r[1] {
				return true
			}
		}
		return false
	})
}

func (a *EventAttr) value(f AttrField) uint64 {
	x, _ := a.Get(f)
	return x
}

func (a *EventAttr) mustSet(f AttrField, x uint64) {
	if err := a.Set(f, x); err != nil {
		panic(err)
	}
}

// Type returns the major event class, or 0 if unset.
func (a *EventAttr) Type() EventType { return EventType(a.value(AttrType)) }

// Config returns the event-specific config word, or 0 if unset.
func (a *EventAttr) Config() uint64 { return a.value(AttrConfig) }

// SampleFormat returns the sample_type bitmask. It determines the
// layout of RecordSample payloads and, with EventFlagSampleIDAll, of
// the trailer of other kernel records.
func (a *EventAttr) SampleFormat() SampleFormat { return SampleFormat(a.value(AttrSampleType)) }

// ReadFormat returns the read_format bitmask, which determines the
// layout of counter values in samples and RecordRead.
func (a *EventAttr) ReadFormat() ReadFormat { return ReadFormat(a.value(AttrReadFormat)) }

// Flags returns the set boolean flags. Unset flags read as clear.
func (a *EventAttr) Flags() EventFlags {
	var fl EventFlags
	for f := AttrDisabled; f <= AttrTextPoke; f++ {
		if f == AttrPreciseIP {
			continue
		}
		if a.value(f) != 0 {
			fl |= 1 << attrFields[f].shift
		}
	}
	return fl
}

// Precise returns the precise_ip sub-field.
func (a *EventAttr) Precise() EventPrecision { return EventPrecision(a.value(AttrPreciseIP)) }

// BPType returns the breakpoint operation for breakpoint events.
func (a *EventAttr) BPType() uint32 { return uint32(a.value(AttrBPType)) }

func (a *EventAttr) Config1() uint64 { return a.value(AttrConfig1) }
func (a *EventAttr) Config2() uint64 { return a.value(AttrConfig2) }

func (a *EventAttr) BranchSampleType() BranchSampleType {
	return BranchSampleType(a.value(AttrBranchSampleType))
}

// SampleRegsUser is a bitmask of user-space registers captured at
// each sample in RecordSample.RegsUser. The hardware register
// corresponding to each bit depends on the register ABI.
func (a *EventAttr) SampleRegsUser() uint64 { return a.value(AttrSampleRegsUser) }

// SampleStackUser is the size of user stack to dump on samples.
func (a *EventAttr) SampleStackUser() uint32 { return uint32(a.value(AttrSampleStackUser)) }

func (a *EventAttr) ClockID() int32 { return int32(uint32(a.value(AttrClockID))) }

// SampleRegsIntr is a bitmask of registers captured at each sample
// in RecordSample.RegsIntr.
func (a *EventAttr) SampleRegsIntr() uint64 { return a.value(AttrSampleRegsIntr) }

func (a *EventAttr) AuxWatermark() uint32   { return uint32(a.value(AttrAuxWatermark)) }
func (a *EventAttr) SampleMaxStack() uint16 { return uint16(a.value(AttrSampleMaxStack)) }
func (a *EventAttr) AuxSampleSize() uint32  { return uint32(a.value(AttrAuxSampleSize)) }

// SamplePeriod returns the approximate number of events between
// samples. It fails if the event samples by frequency.
func (a *EventAttr) SamplePeriod() (uint64, error) { return a.Get(AttrSamplePeriod) }

// SampleFreq returns the approximate number of samples per second
// per core. It fails unless the event samples by frequency.
func (a *EventAttr) SampleFreq() (uint64, error) { return a.Get(AttrSampleFreq) }

// WakeupEvents fails if the event wakes up on a byte watermark.
func (a *EventAttr) WakeupEvents() (uint32, error) {
	x, err := a.Get(AttrWakeupEvents)
	return uint32(x), err
}

// WakeupWatermark fails unless the event wakes up on a byte watermark.
func (a *EventAttr) WakeupWatermark() (uint32, error) {
	x, err := a.Get(AttrWakeupWatermark)
	return uint32(x), err
}

// BreakpointAddr returns config1 if a is a breakpoint event.
func (a *EventAttr) BreakpointAddr() (uint64, bool) {
	if a.Type() != EventTypeBreakpoint || !a.Has(AttrConfig1) {
		return 0, false
	}
	return a.Config1(), true
}

// BreakpointLen returns config2 if a is a breakpoint event.
func (a *EventAttr) BreakpointLen() (uint64, bool) {
	if a.Type() != EventTypeBreakpoint || !a.Has(AttrConfig2) {
		return 0, false
	}
	return a.Config2(), true
}

// fixedPeriod returns the sampling period if a samples with a fixed
// period.
func (a *EventAttr) fixedPeriod() (uint64, bool) {
	p, err := a.SamplePeriod()
	return p, err == nil
}

// The setters below cover fields present in every attribute version,
// so they cannot fail.

func (a *EventAttr) SetType(t EventType)            { a.mustSet(AttrType, uint64(t)) }
func (a *EventAttr) SetConfig(c uint64)             { a.mustSet(AttrConfig, c) }
func (a *EventAttr) SetSampleFormat(s SampleFormat) { a.mustSet(AttrSampleType, uint64(s)) }
func (a *EventAttr) SetReadFormat(r ReadFormat)     { a.mustSet(AttrReadFormat, uint64(r)) }
func (a *EventAttr) SetPrecise(p EventPrecision)    { a.mustSet(AttrPreciseIP, uint64(p)) }
func (a *EventAttr) SetSamplePeriod(p uint64)       { a.mustSet(AttrSamplePeriod, p) }
func (a *EventAttr) SetSampleFreq(f uint64)         { a.mustSet(AttrSampleFreq, f) }
func (a *EventAttr) SetWakeupEvents(n uint32)       { a.mustSet(AttrWakeupEvents, uint64(n)) }
func (a *EventAttr) SetWakeupWatermark(n uint32)    { a.mustSet(AttrWakeupWatermark, uint64(n)) }
func (a *EventAttr) SetBranchSampleType(b BranchSampleType) {
	a.mustSet(AttrBranchSampleType, uint64(b))
}

// SetFlags sets every flag in fl and clears every other flag, marking
// all flags set.
func (a *EventAttr) SetFlags(fl EventFlags) {
	for f := AttrDisabled; f <= AttrTextPoke; f++ {
		if f == AttrPreciseIP {
			continue
		}
		a.mustSet(f, uint64(fl>>attrFields[f].shift)&1)
	}
}

// Event returns the event counted or sampled by a.
func (a *EventAttr) Event() Event {
	g := EventGeneric{Type: a.Type(), ID: a.Config()}
	if g.Type == EventTypeBreakpoint {
		g.ID = uint64(a.BPType())
		g.Config = []uint64{a.Config1(), a.Config2()}
	}
	return g.Decode()
}

// SetEvent sets the type and config fields of a to describe e.
func (a *EventAttr) SetEvent(e Event) {
	g := e.Generic()
	a.SetType(g.Type)
	if g.Type == EventTypeBreakpoint {
		a.mustSet(AttrBPType, g.ID)
		if len(g.Config) == 2 {
			a.mustSet(AttrConfig1, g.Config[0])
			a.mustSet(AttrConfig2, g.Config[1])
		}
		return
	}
	a.SetConfig(g.ID)
	if len(g.Config) > 0 {
		a.mustSet(AttrConfig1, g.Config[0])
	}
}

func (a *EventAttr) fieldString(f AttrField, x uint64) string {
	switch f {
	case AttrType:
		return EventType(x).String()
	case AttrSampleType:
		return SampleFormat(x).String()
	case AttrReadFormat:
		return ReadFormat(x).String()
	case AttrBranchSampleType:
		return BranchSampleType(x).String()
	case AttrConfig, AttrConfig1, AttrConfig2, AttrSampleRegsUser, AttrSampleRegsIntr:
		return fmt.Sprintf("%#x", x)
	}
	return fmt.Sprint(x)
}

// String lists the non-zero set fields of a in structure order, as
// "name: value" pairs. Union storage is named after the member its
// flag selects.
func (a *EventAttr) String() string {
	var parts []string
	for f := AttrField(0); f < numAttrFields; f++ {
		fi := &attrFields[f]
		if f == AttrSize {
			continue
		}
		x, err := a.Get(f)
		if err != nil || x == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fi.name, a.fieldString(f, x)))
	}
	return strings.Join(parts, ", ")
}
