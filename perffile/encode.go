// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import "fmt"

// encodeRecord returns the header and payload of r, laid out as the
// kernel or perf tool would, using attr as r's event descriptor.
// Kernel records other than samples get a sample_id trailer if attr
// has EventFlagSampleIDAll.
func encodeRecord(r Record, attr *EventAttr) ([]byte, error) {
	typ := r.Type()
	if typ.isKernel() && attr == nil {
		return nil, &AssociationError{Offset: -1, Type: typ}
	}
	e := &bufEncoder{buf: make([]byte, 8, 64)}
	misc, err := encodePayload(e, r, attr)
	if err != nil {
		return nil, err
	}
	if typ.isKernel() && typ != RecordTypeSample && attr.Flags()&EventFlagSampleIDAll != 0 {
		encodeTrailer(e, attr.SampleFormat(), r.Common())
	}
	// Compressed frames are not padded: trailing bytes would be
	// read as another frame.
	for typ != RecordTypeCompressed && len(e.buf)%8 != 0 {
		e.buf = append(e.buf, 0)
	}
	if len(e.buf) > maxRecordSize {
		return nil, fmt.Errorf("perffile: %v record of %d bytes is too large", typ, len(e.buf))
	}
	hdr := recordHeader{Type: typ, Misc: misc, Size: uint16(len(e.buf))}
	hdr.encode(e.buf)
	return e.buf, nil
}

func encodeTrailer(e *bufEncoder, t SampleFormat, c *RecordCommon) {
	if t&SampleFormatTID != 0 {
		e.i32(int32(c.PID))
		e.i32(int32(c.TID))
	}
	if t&SampleFormatTime != 0 {
		e.u64(c.Time)
	}
	if t&SampleFormatID != 0 {
		e.u64(c.ID)
	}
	if t&SampleFormatStreamID != 0 {
		e.u64(c.StreamID)
	}
	if t&SampleFormatCPU != 0 {
		e.u32(c.CPU)
		e.u32(c.Res)
	}
	if t&SampleFormatIdentifier != 0 {
		e.u64(c.ID)
	}
}

func encodePayload(e *bufEncoder, r Record, attr *EventAttr) (recordMisc, error) {
	var misc recordMisc
	switch r := r.(type) {
	case *RecordMmap:
		if r.Data {
			misc |= recordMiscMmapData
		}
		e.i32(int32(r.PID))
		e.i32(int32(r.TID))
		e.u64(r.Addr)
		e.u64(r.Len)
		e.u64(r.FileOffset)
		if r.Extended {
			if r.BuildID != nil {
				if len(r.BuildID) > 20 {
					return 0, fmt.Errorf("perffile: build ID of %d bytes is too long", len(r.BuildID))
				}
				misc |= recordMiscMmapBuildID
				e.bytes([]byte{byte(len(r.BuildID)), 0, 0, 0})
				e.bytes(r.BuildID)
				e.zeros(20 - len(r.BuildID))
			} else {
				e.u32(r.Major)
				e.u32(r.Minor)
				e.u64(r.Ino)
				e.u64(r.InoGeneration)
			}
			e.u32(r.Prot)
			e.u32(r.Flags)
		}
		e.cstring(r.Filename, 8)

	case *RecordComm:
		if r.Exec {
			misc |= recordMiscCommExec
		}
		e.i32(int32(r.PID))
		e.i32(int32(r.TID))
		e.cstring(r.Comm, 8)

	case *RecordExit:
		encodeTask(e, &r.RecordCommon, r.PPID, r.PTID)

	case *RecordFork:
		encodeTask(e, &r.RecordCommon, r.PPID, r.PTID)

	case *RecordLost:
		e.u64(r.ID)
		e.u64(r.NumLost)

	case *RecordThrottle:
		e.u64(r.Time)
		e.u64(r.ID)
		e.u64(r.StreamID)

	case *RecordRead:
		e.i32(int32(r.PID))
		e.i32(int32(r.TID))
		encodeReadFormat(e, attr.ReadFormat(), r.Values)

	case *RecordAux:
		e.u64(r.AuxOffset)
		e.u64(r.AuxSize)
		e.u64(uint64(r.Flags&auxFlagMask) | uint64(r.PMUFormat)<<8)

	case *RecordItraceStart:
		e.i32(int32(r.PID))
		e.i32(int32(r.TID))

	case *RecordLostSamples:
		e.u64(r.Lost)

	case *RecordSwitch:
		misc |= switchMisc(r.Out, r.Preempt)

	case *RecordSwitchCPUWide:
		misc |= switchMisc(r.Out, r.Preempt)
		e.i32(int32(r.SwitchPID))
		e.i32(int32(r.SwitchTID))

	case *RecordCGroup:
		e.u64(r.CGroupID)
		e.cstring(r.Path, 8)

	case *RecordSample:
		misc |= recordMisc(r.CPUMode) & recordMiscCPUModeMask
		if r.ExactIP {
			misc |= recordMiscExactIP
		}
		if err := encodeSample(e, r, attr); err != nil {
			return 0, err
		}

	case *RecordHeaderAttr:
		e.bytes(r.Attr.raw)
		for _, id := range r.IDs {
			e.u64(id)
		}

	case *RecordHeaderFeature:
		e.u64(uint64(r.Feature))
		e.bytes(r.Data)

	case *RecordBuildID:
		misc |= recordMisc(r.CPUMode)&recordMiscCPUModeMask | recordMiscBuildIDSize
		if len(r.BuildID) > 20 {
			return 0, fmt.Errorf("perffile: build ID of %d bytes is too long", len(r.BuildID))
		}
		e.i32(int32(r.PID))
		e.bytes(r.BuildID)
		e.zeros(20 - len(r.BuildID))
		e.bytes([]byte{byte(len(r.BuildID)), 0, 0, 0})
		e.cstring(r.Filename, 8)

	case *RecordFinishedRound:

	case *RecordIDIndex:
		e.u64(uint64(len(r.Entries)))
		for _, ent := range r.Entries {
			e.u64(ent.ID)
			e.u64(ent.Idx)
			e.u64(ent.CPU)
			e.u64(ent.TID)
		}

	case *RecordAuxtraceInfo:
		e.u32(uint32(r.Kind))
		e.u32(0)
		for _, p := range r.Priv {
			e.u64(p)
		}

	case *RecordAuxtrace:
		// The data itself follows the record; see Writer.WriteRecord.
		e.u64(uint64(len(r.Data)))
		e.u64(r.AuxOffset)
		e.u64(r.Ref)
		e.u32(r.Idx)
		e.i32(int32(r.TID))
		e.u32(r.CPU)
		e.u32(0)

	case *RecordThreadMap:
		e.u64(uint64(len(r.Threads)))
		for _, t := range r.Threads {
			e.u64(uint64(int64(t.TID)))
			comm := make([]byte, 16)
			copy(comm[:15], t.Comm)
			e.bytes(comm)
		}

	case *RecordCPUMap:
		e.u16(cpuMapCPUs)
		e.u16(uint16(len(r.CPUs)))
		for _, cpu := range r.CPUs {
			e.u16(uint16(cpu))
		}

	case *RecordTimeConv:
		e.u64(r.Shift)
		e.u64(r.Mult)
		e.u64(r.Zero)
		if r.Extended {
			e.u64(r.Cycles)
			e.u64(r.Mask)
			e.bytes([]byte{boolByte(r.CapUserTimeZero), boolByte(r.CapUserTimeShort)})
			e.zeros(6)
		}

	case *RecordCompressed:
		e.bytes(r.Data)

	case *RecordUnknown:
		misc = recordMisc(r.Misc)
		e.bytes(r.Data)

	default:
		return 0, fmt.Errorf("perffile: cannot encode %v records", r.Type())
	}
	return misc, nil
}

func encodeTask(e *bufEncoder, c *RecordCommon, ppid, ptid int) {
	e.i32(int32(c.PID))
	e.i32(int32(ppid))
	e.i32(int32(c.TID))
	e.i32(int32(ptid))
	e.u64(c.Time)
}

func switchMisc(out, preempt bool) recordMisc {
	var m recordMisc
	if out {
		m |= recordMiscSwitchOut
	}
	if preempt {
		m |= recordMiscSwitchOutPreempt
	}
	return m
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func encodeReadFormat(e *bufEncoder, f ReadFormat, cs []Count) {
	if f&ReadFormatGroup == 0 {
		var c Count
		if len(cs) > 0 {
			c = cs[0]
		}
		e.u64(c.Value)
		if f&ReadFormatTotalTimeEnabled != 0 {
			e.u64(c.TimeEnabled)
		}
		if f&ReadFormatTotalTimeRunning != 0 {
			e.u64(c.TimeRunning)
		}
		if f&ReadFormatID != 0 {
			e.u64(c.ID)
		}
		if f&ReadFormatLost != 0 {
			e.u64(c.Lost)
		}
		return
	}

	e.u64(uint64(len(cs)))
	var c0 Count
	if len(cs) > 0 {
		c0 = cs[0]
	}
	if f&ReadFormatTotalTimeEnabled != 0 {
		e.u64(c0.TimeEnabled)
	}
	if f&ReadFormatTotalTimeRunning != 0 {
		e.u64(c0.TimeRunning)
	}
	for _, c := range cs {
		e.u64(c.Value)
		if f&ReadFormatID != 0 {
			e.u64(c.ID)
		}
		if f&ReadFormatLost != 0 {
			e.u64(c.Lost)
		}
	}
}

func encodeRegs(e *bufEncoder, mask uint64, abi SampleRegsABI, regs []uint64) error {
	e.u64(uint64(abi))
	if abi == SampleRegsABINone {
		return nil
	}
	if len(regs) != weight(mask) {
		return fmt.Errorf("perffile: have %d registers, register mask wants %d", len(regs), weight(mask))
	}
	for _, r := range regs {
		e.u64(r)
	}
	return nil
}

// encodeSample is the inverse of decodeSample.
func encodeSample(e *bufEncoder, r *RecordSample, attr *EventAttr) error {
	f := attr.SampleFormat()
	if f&SampleFormatIdentifier != 0 {
		e.u64(r.ID)
	}
	if f&SampleFormatIP != 0 {
		e.u64(r.IP)
	}
	if f&SampleFormatTID != 0 {
		e.i32(int32(r.PID))
		e.i32(int32(r.TID))
	}
	if f&SampleFormatTime != 0 {
		e.u64(r.Time)
	}
	if f&SampleFormatAddr != 0 {
		e.u64(r.Addr)
	}
	if f&SampleFormatID != 0 {
		e.u64(r.ID)
	}
	if f&SampleFormatStreamID != 0 {
		e.u64(r.StreamID)
	}
	if f&SampleFormatCPU != 0 {
		e.u32(r.CPU)
		e.u32(r.Res)
	}
	if f&SampleFormatPeriod != 0 {
		e.u64(r.Period)
	}
	if f&SampleFormatRead != 0 {
		encodeReadFormat(e, attr.ReadFormat(), r.SampleRead)
	}
	if f&SampleFormatCallchain != 0 {
		e.u64(uint64(len(r.Callchain)))
		for _, ip := range r.Callchain {
			e.u64(ip)
		}
	}
	if f&SampleFormatRaw != 0 {
		e.u32(uint32(len(r.Raw)))
		e.bytes(r.Raw)
	}
	if f&SampleFormatBranchStack != 0 {
		e.u64(uint64(len(r.BranchStack)))
		if attr.BranchSampleType()&BranchSampleHWIndex != 0 {
			e.u64(uint64(r.BranchHWIndex))
		}
		for _, b := range r.BranchStack {
			e.u64(b.From)
			e.u64(b.To)
			e.u64(uint64(b.Flags&0xf) | uint64(b.Cycles)<<4 | uint64(b.Type&0xf)<<20)
		}
	}
	if f&SampleFormatRegsUser != 0 {
		if err := encodeRegs(e, attr.SampleRegsUser(), r.RegsUserABI, r.RegsUser); err != nil {
			return err
		}
	}
	if f&SampleFormatStackUser != 0 {
		e.u64(uint64(len(r.StackUser)))
		e.bytes(r.StackUser)
		if len(r.StackUser) != 0 {
			e.u64(r.StackUserDynSize)
		}
	}
	if f&SampleFormatWeightStruct != 0 {
		e.u32(r.Weights.Var1)
		e.u16(r.Weights.Var2)
		e.u16(r.Weights.Var3)
	} else if f&SampleFormatWeight != 0 {
		e.u64(r.Weight)
	}
	if f&SampleFormatDataSrc != 0 {
		e.u64(encodeDataSrc(r.DataSrc))
	}
	if f&SampleFormatTransaction != 0 {
		e.u64(uint64(uint32(r.Transaction)) | uint64(r.AbortCode)<<32)
	}
	if f&SampleFormatRegsIntr != 0 {
		if err := encodeRegs(e, attr.SampleRegsIntr(), r.RegsIntrABI, r.RegsIntr); err != nil {
			return err
		}
	}
	if f&SampleFormatPhysAddr != 0 {
		e.u64(r.PhysAddr)
	}
	if f&SampleFormatCGroup != 0 {
		e.u64(r.CGroup)
	}
	if f&SampleFormatDataPageSize != 0 {
		e.u64(r.DataPageSize)
	}
	if f&SampleFormatCodePageSize != 0 {
		e.u64(r.CodePageSize)
	}
	if f&SampleFormatAux != 0 {
		e.u64(uint64(len(r.Aux)))
		e.bytes(r.Aux)
	}
	return nil
}
