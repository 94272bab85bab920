// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"fmt"
)

// RecordState is the decoding progress of a RawRecord.
type RecordState int

const (
	// StateRaw records have only been framed.
	StateRaw RecordState = iota
	// StateKindKnown records have a parsed header.
	StateKindKnown
	// StateDecoded records have been decoded into a Record.
	StateDecoded
)

func (s RecordState) String() string {
	return enumString("RecordState", uint64(s), []string{"Raw", "KindKnown", "Decoded"})
}

// A RawRecord is a single framed record: an 8-byte header followed by
// its payload. It decodes lazily. Its type is parsed on first use and
// its fields on the first call to Decode, whose result is memoized.
type RawRecord struct {
	// Offset is the byte offset of the record in its file or
	// stream, or -1 for records expanded from a compressed
	// record.
	Offset int64

	buf   []byte
	state RecordState
	hdr   recordHeader

	attr *EventAttr
	rec  Record
}

// NewRawRecord returns a RawRecord for the header and payload in b.
// b must hold exactly one record, as given by its header size.
func NewRawRecord(b []byte, offset int64) (*RawRecord, error) {
	if len(b) < 8 {
		return nil, structuralf(offset, "record shorter than its header")
	}
	if size := int(binary.LittleEndian.Uint16(b[6:])); size != len(b) {
		return nil, &StructuralError{Offset: offset, Msg: "record size mismatch", Want: uint64(size), Got: uint64(len(b))}
	}
	return &RawRecord{Offset: offset, buf: b}, nil
}

// Bytes returns the record's header and payload. The caller must not
// modify the result.
func (r *RawRecord) Bytes() []byte {
	return r.buf
}

// Payload returns the record's bytes after its header.
func (r *RawRecord) Payload() []byte {
	return r.buf[8:]
}

func (r *RawRecord) State() RecordState {
	return r.state
}

func (r *RawRecord) header() *recordHeader {
	if r.state == StateRaw {
		r.hdr.decode(r.buf)
		r.state = StateKindKnown
	}
	return &r.hdr
}

// Type returns the record type from r's header.
func (r *RawRecord) Type() RecordType {
	return r.header().Type
}

// Misc returns the misc bits from r's header.
func (r *RawRecord) Misc() uint16 {
	return uint16(r.header().Misc)
}

// Record returns the memoized decoded record, or nil if r has not
// been decoded.
func (r *RawRecord) Record() Record {
	return r.rec
}

// Decode decodes r using attr as its event descriptor and memoizes
// the result. Kernel records require attr; records synthesized by
// the perf tool ignore it.
//
// Decoding the same kernel record again with a different descriptor
// is an error.
func (r *RawRecord) Decode(attr *EventAttr) (Record, error) {
	hdr := r.header()
	if !hdr.Type.isKernel() {
		attr = nil
	}
	if r.state == StateDecoded {
		if r.attr != attr && (r.attr == nil || attr == nil || !r.attr.Equal(attr)) {
			return nil, structuralf(r.Offset, "%v record already decoded with a different event", hdr.Type)
		}
		return r.rec, nil
	}
	rec, err := decodeRecord(hdr, r.buf[8:], attr, r.Offset)
	if err != nil {
		return nil, err
	}
	r.attr, r.rec, r.state = attr, rec, StateDecoded
	return rec, nil
}

// peek64 returns the u64 at off bytes into the payload, or, if off is
// negative, -off bytes before its end.
func (r *RawRecord) peek64(off int) (uint64, bool) {
	p := r.buf[8:]
	if off == noOffset {
		return 0, false
	}
	if off < 0 {
		off += len(p)
	}
	if off < 0 || off+8 > len(p) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(p[off:]), true
}

// peekID extracts the event ID of a kernel record without decoding
// it, given the sample formats shared by all events.
func (r *RawRecord) peekID(sampleIDOffset, recordIDOffset int) (uint64, bool) {
	if r.Type() == RecordTypeSample {
		return r.peek64(sampleIDOffset)
	}
	return r.peek64(recordIDOffset)
}

// peekTime extracts the timestamp of a kernel record without
// decoding it.
func (r *RawRecord) peekTime(attr *EventAttr) (uint64, bool) {
	typ := r.Type()
	if attr == nil || !typ.isKernel() {
		return 0, false
	}
	sf := attr.SampleFormat()
	if typ == RecordTypeSample {
		return r.peek64(sf.sampleTimeOffset())
	}
	if attr.Flags()&EventFlagSampleIDAll == 0 {
		return 0, false
	}
	return r.peek64(sf.recordTimeOffset())
}

func decodeRecord(hdr *recordHeader, payload []byte, attr *EventAttr, offset int64) (Record, error) {
	common := RecordCommon{Offset: offset, EventAttr: attr}
	if !hdr.Type.isKernel() {
		return decodeSynthetic(hdr, payload, common)
	}
	if attr == nil {
		return nil, &AssociationError{Offset: offset, Type: hdr.Type}
	}
	bd := &bufDecoder{buf: payload, order: binary.LittleEndian}
	if hdr.Type == RecordTypeSample {
		return decodeSample(hdr, bd, attr, common), nil
	}
	if attr.Flags()&EventFlagSampleIDAll != 0 {
		if !decodeTrailer(bd, attr.SampleFormat(), &common) {
			common.anomalyf("%v record too short for sample_id trailer", hdr.Type)
		}
	}
	return decodeKernel(hdr, bd, common), nil
}

// decodeTrailer parses the sample_id trailer from the end of bd.buf
// into o and removes it from bd.
func decodeTrailer(bd *bufDecoder, t SampleFormat, o *RecordCommon) bool {
	n := t.trailerBytes()
	if n > len(bd.buf) {
		return false
	}
	tail := &bufDecoder{buf: bd.buf[len(bd.buf)-n:], order: bd.order}
	bd.buf = bd.buf[:len(bd.buf)-n]

	o.Format = t & trailerFormat
	if t&SampleFormatTID != 0 {
		o.PID = int(tail.i32())
		o.TID = int(tail.i32())
	}
	o.Time = tail.u64If(t&SampleFormatTime != 0)
	o.ID = tail.u64If(t&SampleFormatID != 0)
	o.StreamID = tail.u64If(t&SampleFormatStreamID != 0)
	if t&SampleFormatCPU != 0 {
		o.CPU, o.Res = tail.u32(), tail.u32()
	}
	if t&SampleFormatIdentifier != 0 {
		o.ID = tail.u64()
	}
	return true
}

// finish records truncation and trailing bytes of a fixed-layout
// record.
func finish(bd *bufDecoder, typ RecordType, o *RecordCommon) {
	if bd.short {
		o.anomalyf("truncated %v record", typ)
	} else if len(bd.buf) != 0 {
		o.anomalyf("%d bytes unexpected data at end of %v record", len(bd.buf), typ)
	}
}

func (o *RecordCommon) readString(bd *bufDecoder, typ RecordType) string {
	s, ok := bd.paddedString()
	if !ok {
		o.anomalyf("malformed string in %v record", typ)
	}
	return s
}

func decodeKernel(hdr *recordHeader, bd *bufDecoder, common RecordCommon) Record {
	switch hdr.Type {
	case RecordTypeMmap, RecordTypeMmap2:
		r := &RecordMmap{RecordCommon: common, Extended: hdr.Type == RecordTypeMmap2}
		r.Format |= SampleFormatTID
		r.Data = hdr.Misc&recordMiscMmapData != 0
		r.PID, r.TID = int(bd.i32()), int(bd.i32())
		r.Addr, r.Len, r.FileOffset = bd.u64(), bd.u64(), bd.u64()
		if r.Extended {
			if hdr.Misc&recordMiscMmapBuildID != 0 {
				n := int(bd.u8())
				bd.skip(3)
				id := bd.take(20)
				if n > len(id) {
					r.anomalyf("build ID size %d too large", n)
					n = len(id)
				}
				r.BuildID = append([]byte(nil), id[:n]...)
			} else {
				r.Major, r.Minor = bd.u32(), bd.u32()
				r.Ino, r.InoGeneration = bd.u64(), bd.u64()
			}
			r.Prot, r.Flags = bd.u32(), bd.u32()
		}
		if bd.short {
			r.anomalyf("truncated %v record", hdr.Type)
		}
		r.Filename = r.readString(bd, hdr.Type)
		return r

	case RecordTypeLost:
		r := &RecordLost{RecordCommon: common}
		r.Format |= SampleFormatID
		r.ID, r.NumLost = bd.u64(), bd.u64()
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeComm:
		r := &RecordComm{RecordCommon: common}
		r.Format |= SampleFormatTID
		r.Exec = hdr.Misc&recordMiscCommExec != 0
		r.PID, r.TID = int(bd.i32()), int(bd.i32())
		r.Comm = r.readString(bd, hdr.Type)
		return r

	case RecordTypeExit, RecordTypeFork:
		c := common
		c.Format |= SampleFormatTID | SampleFormatTime
		c.PID = int(bd.i32())
		ppid := int(bd.i32())
		c.TID = int(bd.i32())
		ptid := int(bd.i32())
		// The sample_id timestamp is preferred to the one in the
		// record body.
		t := bd.u64()
		if common.Format&SampleFormatTime == 0 {
			c.Time = t
		}
		finish(bd, hdr.Type, &c)
		if hdr.Type == RecordTypeExit {
			return &RecordExit{RecordCommon: c, PPID: ppid, PTID: ptid}
		}
		return &RecordFork{RecordCommon: c, PPID: ppid, PTID: ptid}

	case RecordTypeThrottle, RecordTypeUnthrottle:
		r := &RecordThrottle{RecordCommon: common, Enable: hdr.Type == RecordTypeThrottle}
		r.Format |= SampleFormatTime | SampleFormatID | SampleFormatStreamID
		r.Time, r.ID, r.StreamID = bd.u64(), bd.u64(), bd.u64()
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeRead:
		r := &RecordRead{RecordCommon: common}
		r.Format |= SampleFormatTID
		r.PID, r.TID = int(bd.i32()), int(bd.i32())
		r.Values = decodeReadFormat(bd, common.EventAttr.ReadFormat())
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeAux:
		r := &RecordAux{RecordCommon: common}
		r.AuxOffset, r.AuxSize = bd.u64(), bd.u64()
		flags := bd.u64()
		r.Flags = AuxFlags(flags) & auxFlagMask
		r.PMUFormat = AuxPMUFormat(flags >> 8)
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeItraceStart:
		r := &RecordItraceStart{RecordCommon: common}
		r.Format |= SampleFormatTID
		r.PID, r.TID = int(bd.i32()), int(bd.i32())
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeLostSamples:
		r := &RecordLostSamples{RecordCommon: common}
		r.Lost = bd.u64()
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeSwitch:
		r := &RecordSwitch{RecordCommon: common}
		r.Out = hdr.Misc&recordMiscSwitchOut != 0
		r.Preempt = hdr.Misc&recordMiscSwitchOutPreempt != 0
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeSwitchCPUWide:
		r := &RecordSwitchCPUWide{RecordCommon: common}
		r.Out = hdr.Misc&recordMiscSwitchOut != 0
		r.Preempt = hdr.Misc&recordMiscSwitchOutPreempt != 0
		r.SwitchPID, r.SwitchTID = int(bd.i32()), int(bd.i32())
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeNamespaces:
		r := &RecordNamespaces{RecordCommon: common}
		r.Format |= SampleFormatTID
		r.PID, r.TID = int(bd.i32()), int(bd.i32())
		n := bd.u64()
		if n > uint64(len(bd.buf))/16 {
			bd.short = true
			n = uint64(len(bd.buf)) / 16
		}
		r.Namespaces = make([]Namespace, n)
		for i := range r.Namespaces {
			r.Namespaces[i] = Namespace{Dev: bd.u64(), Inode: bd.u64()}
		}
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeKsymbol:
		r := &RecordKsymbol{RecordCommon: common}
		r.Addr, r.Len = bd.u64(), bd.u32()
		r.KsymType, r.Flags = KsymbolType(bd.u16()), KsymbolFlags(bd.u16())
		if bd.short {
			r.anomalyf("truncated %v record", hdr.Type)
		}
		r.Name = r.readString(bd, hdr.Type)
		return r

	case RecordTypeBPFEvent:
		r := &RecordBPFEvent{RecordCommon: common}
		r.EventType, r.Flags = BPFEventType(bd.u16()), BPFEventFlags(bd.u16())
		r.ProgID = bd.u32()
		bd.bytes(r.Tag[:])
		finish(bd, hdr.Type, &r.RecordCommon)
		return r

	case RecordTypeCGroup:
		r := &RecordCGroup{RecordCommon: common}
		r.CGroupID = bd.u64()
		r.Path = r.readString(bd, hdr.Type)
		return r

	case RecordTypeTextPoke:
		r := &RecordTextPoke{RecordCommon: common}
		r.Addr = bd.u64()
		oldLen, newLen := int(bd.u16()), int(bd.u16())
		r.Old = append([]byte(nil), bd.take(oldLen)...)
		r.New = append([]byte(nil), bd.take(newLen)...)
		// The remainder is padding to 8 bytes.
		if bd.short {
			r.anomalyf("truncated %v record", hdr.Type)
		}
		return r

	case RecordTypeAuxOutputHardwareID:
		r := &RecordAuxOutputHardwareID{RecordCommon: common}
		r.HardwareID = bd.u64()
		finish(bd, hdr.Type, &r.RecordCommon)
		return r
	}

	r := &RecordUnknown{RecordCommon: common, Kind: hdr.Type, Misc: uint16(hdr.Misc)}
	r.Data = append([]byte(nil), bd.buf...)
	r.anomalyf("unknown kernel record type %d", uint32(hdr.Type))
	return r
}

func decodeReadFormat(bd *bufDecoder, f ReadFormat) []Count {
	if f&ReadFormatGroup == 0 {
		var c Count
		c.Value = bd.u64()
		c.TimeEnabled = bd.u64If(f&ReadFormatTotalTimeEnabled != 0)
		c.TimeRunning = bd.u64If(f&ReadFormatTotalTimeRunning != 0)
		c.ID = bd.u64If(f&ReadFormatID != 0)
		c.Lost = bd.u64If(f&ReadFormatLost != 0)
		return []Count{c}
	}

	n := bd.u64()
	enabled := bd.u64If(f&ReadFormatTotalTimeEnabled != 0)
	running := bd.u64If(f&ReadFormatTotalTimeRunning != 0)
	per := 1 + weight(uint64(f&(ReadFormatID|ReadFormatLost)))
	if n > uint64(len(bd.buf)/(8*per)) {
		bd.short = true
		n = uint64(len(bd.buf) / (8 * per))
	}
	out := make([]Count, n)
	for i := range out {
		out[i] = Count{
			Value:       bd.u64(),
			TimeEnabled: enabled,
			TimeRunning: running,
			ID:          bd.u64If(f&ReadFormatID != 0),
			Lost:        bd.u64If(f&ReadFormatLost != 0),
		}
	}
	return out
}

// sampleStep decodes one sample field from bd into o.
type sampleStep struct {
	bit    SampleFormat
	decode func(bd *bufDecoder, o *RecordSample, a *EventAttr)
}

// sampleSteps lists sample fields in the order the kernel writes
// them. See perf_output_sample in kernel/events/core.c.
var sampleSteps = []sampleStep{
	{SampleFormatIdentifier, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.ID = bd.u64() }},
	{SampleFormatIP, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.IP = bd.u64() }},
	{SampleFormatTID, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		o.PID, o.TID = int(bd.i32()), int(bd.i32())
	}},
	{SampleFormatTime, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.Time = bd.u64() }},
	{SampleFormatAddr, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.Addr = bd.u64() }},
	{SampleFormatID, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.ID = bd.u64() }},
	{SampleFormatStreamID, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.StreamID = bd.u64() }},
	{SampleFormatCPU, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.CPU, o.Res = bd.u32(), bd.u32() }},
	{SampleFormatPeriod, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.Period = bd.u64() }},
	{SampleFormatRead, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		o.SampleRead = decodeReadFormat(bd, a.ReadFormat())
	}},
	{SampleFormatCallchain, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		n := bd.u64()
		if n > uint64(len(bd.buf)/8) {
			bd.short = true
			return
		}
		o.Callchain = make([]uint64, n)
		bd.u64s(o.Callchain)
	}},
	{SampleFormatRaw, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		o.Raw = append([]byte(nil), bd.take(int(bd.u32()))...)
	}},
	{SampleFormatBranchStack, decodeBranchStack},
	{SampleFormatRegsUser, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		o.RegsUserABI, o.RegsUser = decodeRegs(bd, a.SampleRegsUser())
	}},
	{SampleFormatStackUser, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		size := bd.u64()
		if size > uint64(len(bd.buf)) {
			bd.short = true
			return
		}
		o.StackUser = append([]byte(nil), bd.take(int(size))...)
		if size != 0 {
			o.StackUserDynSize = bd.u64()
		}
	}},
	{SampleFormatWeight | SampleFormatWeightStruct, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		if o.Format&SampleFormatWeightStruct == 0 {
			o.Weight = bd.u64()
			return
		}
		o.Weights.Var1 = bd.u32()
		o.Weights.Var2 = bd.u16()
		o.Weights.Var3 = bd.u16()
		o.Weight = uint64(o.Weights.Var1)
	}},
	{SampleFormatDataSrc, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.DataSrc = decodeDataSrc(bd.u64()) }},
	{SampleFormatTransaction, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		x := bd.u64()
		o.Transaction = Transaction(x & 0xffffffff)
		o.AbortCode = uint32(x >> 32)
	}},
	{SampleFormatRegsIntr, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		o.RegsIntrABI, o.RegsIntr = decodeRegs(bd, a.SampleRegsIntr())
	}},
	{SampleFormatPhysAddr, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.PhysAddr = bd.u64() }},
	{SampleFormatCGroup, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.CGroup = bd.u64() }},
	{SampleFormatDataPageSize, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.DataPageSize = bd.u64() }},
	{SampleFormatCodePageSize, func(bd *bufDecoder, o *RecordSample, a *EventAttr) { o.CodePageSize = bd.u64() }},
	{SampleFormatAux, func(bd *bufDecoder, o *RecordSample, a *EventAttr) {
		size := bd.u64()
		if size > uint64(len(bd.buf)) {
			bd.short = true
			return
		}
		o.Aux = append([]byte(nil), bd.take(int(size))...)
	}},
}

func decodeSample(hdr *recordHeader, bd *bufDecoder, attr *EventAttr, common RecordCommon) *RecordSample {
	o := &RecordSample{RecordCommon: common, BranchHWIndex: -1}
	o.Format = attr.SampleFormat()
	o.CPUMode = CPUMode(hdr.Misc & recordMiscCPUModeMask)
	o.ExactIP = hdr.Misc&recordMiscExactIP != 0
	if o.Format&SampleFormatPeriod == 0 {
		if p, ok := attr.fixedPeriod(); ok {
			o.Period = p
		}
	}

	left := o.Format
	for _, step := range sampleSteps {
		if left&step.bit == 0 {
			continue
		}
		left &^= step.bit
		step.decode(bd, o, attr)
		if bd.short {
			o.anomalyf("sample truncated in %v", step.bit&o.Format)
			return o
		}
	}
	if left != 0 {
		o.anomalyf("unconsumed sample_type bits: %v", left)
	}
	if len(bd.buf) != 0 {
		o.anomalyf("%d bytes unexpected data at end of sample", len(bd.buf))
	}
	return o
}

func decodeBranchStack(bd *bufDecoder, o *RecordSample, a *EventAttr) {
	n := bd.u64()
	if a.BranchSampleType()&BranchSampleHWIndex != 0 {
		o.BranchHWIndex = bd.i64()
	} else if x, ok := bd.peekI64(); ok && n > 0 && x == -1 {
		// Some kernels emit hw_idx even when it was not
		// requested.
		bd.skip(8)
		o.anomalyf("working around branch stack format bug")
	}
	if n > uint64(len(bd.buf)/24) {
		bd.short = true
		return
	}
	o.BranchStack = make([]BranchRecord, n)
	for i := range o.BranchStack {
		from, to, flags := bd.u64(), bd.u64(), bd.u64()
		o.BranchStack[i] = BranchRecord{
			From:   from,
			To:     to,
			Flags:  BranchFlags(flags & 0xf),
			Cycles: uint16(flags >> 4),
			Type:   BranchType((flags >> 20) & 0xf),
		}
	}
}

func decodeRegs(bd *bufDecoder, mask uint64) (SampleRegsABI, []uint64) {
	abi := SampleRegsABI(bd.u64())
	if abi == SampleRegsABINone {
		return abi, nil
	}
	regs := make([]uint64, weight(mask))
	bd.u64s(regs)
	return abi, regs
}

func decodeSynthetic(hdr *recordHeader, payload []byte, common RecordCommon) (Record, error) {
	bd := &bufDecoder{buf: payload, order: binary.LittleEndian}
	switch hdr.Type {
	case RecordTypeHeaderAttr:
		if len(payload) < 8 {
			return nil, structuralf(common.Offset, "HEADER_ATTR record too short")
		}
		size := int(binary.LittleEndian.Uint32(payload[4:]))
		if size < AttrSizeV0 || size > len(payload) {
			return nil, &StructuralError{Offset: common.Offset, Msg: "bad event attribute size in HEADER_ATTR record", Want: uint64(len(payload)), Got: uint64(size)}
		}
		attr, err := ParseEventAttr(bd.take(size))
		if err != nil {
			return nil, err
		}
		r := &RecordHeaderAttr{RecordCommon: common, Attr: attr}
		r.IDs = make([]uint64, len(bd.buf)/8)
		bd.u64s(r.IDs)
		finish(bd, hdr.Type, &r.RecordCommon)
		return r, nil

	case RecordTypeHeaderFeature:
		r := &RecordHeaderFeature{RecordCommon: common}
		r.Feature = Feature(bd.u64())
		if bd.short {
			return nil, structuralf(common.Offset, "HEADER_FEATURE record too short")
		}
		r.Data = bd.buf
		return r, nil

	case RecordTypeBuildID:
		r := &RecordBuildID{RecordCommon: common}
		r.CPUMode = CPUMode(hdr.Misc & recordMiscCPUModeMask)
		r.Format |= SampleFormatTID
		r.PID = int(bd.i32())
		r.TID = r.PID
		id := bd.take(24)
		n := 20
		if hdr.Misc&recordMiscBuildIDSize != 0 && id != nil {
			n = int(id[20])
			if n > 20 {
				r.anomalyf("build ID size %d too large", n)
				n = 20
			}
		}
		if id != nil {
			r.BuildID = append([]byte(nil), id[:n]...)
		}
		r.Filename = r.readString(bd, hdr.Type)
		return r, nil

	case RecordTypeFinishedRound:
		r := &RecordFinishedRound{RecordCommon: common}
		finish(bd, hdr.Type, &r.RecordCommon)
		return r, nil

	case RecordTypeIDIndex:
		r := &RecordIDIndex{RecordCommon: common}
		n := bd.u64()
		if n > uint64(len(bd.buf)/32) {
			bd.short = true
			n = uint64(len(bd.buf) / 32)
		}
		r.Entries = make([]IDIndexEntry, n)
		for i := range r.Entries {
			r.Entries[i] = IDIndexEntry{ID: bd.u64(), Idx: bd.u64(), CPU: bd.u64(), TID: bd.u64()}
		}
		finish(bd, hdr.Type, &r.RecordCommon)
		return r, nil

	case RecordTypeAuxtraceInfo:
		r := &RecordAuxtraceInfo{RecordCommon: common}
		r.Kind = AuxtraceType(bd.u32())
		bd.skip(4)
		r.Priv = make([]uint64, len(bd.buf)/8)
		bd.u64s(r.Priv)
		finish(bd, hdr.Type, &r.RecordCommon)
		return r, nil

	case RecordTypeAuxtrace:
		r := &RecordAuxtrace{RecordCommon: common, DataOffset: -1, ItraceTID: -1}
		r.Format |= SampleFormatTID | SampleFormatCPU
		r.Size, r.AuxOffset, r.Ref = bd.u64(), bd.u64(), bd.u64()
		r.Idx = bd.u32()
		r.TID = int(bd.i32())
		r.PID = -1
		r.CPU = bd.u32()
		bd.skip(4)
		finish(bd, hdr.Type, &r.RecordCommon)
		return r, nil

	case RecordTypeAuxtraceError:
		r := &RecordAuxtraceError{RecordCommon: common}
		r.Format |= SampleFormatTID | SampleFormatCPU | SampleFormatTime
		r.ErrorType, r.Code = bd.u32(), bd.u32()
		r.CPU = bd.u32()
		r.PID, r.TID = int(bd.i32()), int(bd.i32())
		r.Fmt = bd.u32()
		r.IP, r.Time = bd.u64(), bd.u64()
		msg, _ := (&bufDecoder{buf: bd.take(64)}).cstring()
		r.Msg = msg
		if r.Fmt >= 2 {
			r.MachinePID, r.VCPU = bd.u32(), bd.u32()
		}
		if bd.short {
			r.anomalyf("truncated %v record", hdr.Type)
		}
		return r, nil

	case RecordTypeThreadMap:
		r := &RecordThreadMap{RecordCommon: common}
		n := bd.u64()
		if n > uint64(len(bd.buf)/24) {
			bd.short = true
			n = uint64(len(bd.buf) / 24)
		}
		r.Threads = make([]ThreadMapEntry, n)
		for i := range r.Threads {
			tid := int(bd.i64())
			comm, _ := (&bufDecoder{buf: bd.take(16)}).cstring()
			r.Threads[i] = ThreadMapEntry{TID: tid, Comm: comm}
		}
		finish(bd, hdr.Type, &r.RecordCommon)
		return r, nil

	case RecordTypeCPUMap:
		r := &RecordCPUMap{RecordCommon: common}
		r.CPUs = decodeCPUMap(bd, &r.RecordCommon)
		return r, nil

	case RecordTypeTimeConv:
		r := &RecordTimeConv{RecordCommon: common}
		r.Shift, r.Mult, r.Zero = bd.u64(), bd.u64(), bd.u64()
		if len(bd.buf) >= 24 {
			r.Extended = true
			r.Cycles, r.Mask = bd.u64(), bd.u64()
			r.CapUserTimeZero = bd.u8() != 0
			r.CapUserTimeShort = bd.u8() != 0
			bd.skip(6)
		}
		finish(bd, hdr.Type, &r.RecordCommon)
		return r, nil

	case RecordTypeCompressed:
		return &RecordCompressed{RecordCommon: common, Data: bd.buf}, nil
	}

	return &RecordUnknown{RecordCommon: common, Kind: hdr.Type, Misc: uint16(hdr.Misc), Data: bd.buf}, nil
}

// CPU map encodings from tools/lib/perf/include/perf/event.h.
const (
	cpuMapCPUs = 0
	cpuMapMask = 1
)

func decodeCPUMap(bd *bufDecoder, o *RecordCommon) CPUSet {
	typ := bd.u16()
	var out CPUSet
	switch typ {
	case cpuMapCPUs:
		n := int(bd.u16())
		for i := 0; i < n && !bd.short; i++ {
			out = append(out, int(bd.u16()))
		}
	case cpuMapMask:
		n := int(bd.u16())
		longSize := int(bd.u16())
		if longSize != 4 && longSize != 8 {
			o.anomalyf("bad CPU map long size %d", longSize)
			return nil
		}
		if longSize == 8 {
			// 64-bit masks are preceded by padding.
			bd.skip(4)
		}
		words := make([]uint64, 0, n)
		for i := 0; i < n && !bd.short; i++ {
			if longSize == 4 {
				words = append(words, uint64(bd.u32()))
			} else {
				words = append(words, bd.u64())
			}
		}
		out = cpuSetFromMask(words, longSize*8)
	default:
		o.anomalyf("unknown CPU map type %d", typ)
		return nil
	}
	if bd.short {
		o.anomalyf("truncated %v record", RecordTypeCPUMap)
	}
	return out
}

func (r *RawRecord) String() string {
	return fmt.Sprintf("{Offset:%#x Type:%v Misc:%#x Size:%d State:%v}", r.Offset, r.Type(), r.Misc(), len(r.buf), r.state)
}
