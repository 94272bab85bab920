// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRaw(t *testing.T, r Record, attr *EventAttr) *RawRecord {
	t.Helper()
	buf, err := encodeRecord(r, attr)
	require.NoError(t, err)
	raw, err := NewRawRecord(buf, 0)
	require.NoError(t, err)
	return raw
}

// rawFromPayload builds a record with the given type and payload.
func rawFromPayload(t *testing.T, typ RecordType, misc uint16, payload []byte) *RawRecord {
	t.Helper()
	buf := make([]byte, recordHeaderSize+len(payload))
	hdr := recordHeader{Type: typ, Misc: recordMisc(misc), Size: uint16(len(buf))}
	hdr.encode(buf)
	copy(buf[recordHeaderSize:], payload)
	raw, err := NewRawRecord(buf, 0)
	require.NoError(t, err)
	return raw
}

func u64s(xs ...uint64) []byte {
	var out []byte
	for _, x := range xs {
		out = binary.LittleEndian.AppendUint64(out, x)
	}
	return out
}

func TestDecodeTwice(t *testing.T) {
	attr := testAttr(testSampleFormat)
	raw := mustRaw(t, testSample(7, 0x4000, 99, 42), attr)
	assert.Equal(t, StateRaw, raw.State())
	assert.Equal(t, RecordTypeSample, raw.Type())

	r1, err := raw.Decode(attr)
	require.NoError(t, err)
	assert.Equal(t, StateDecoded, raw.State())
	r2, err := raw.Decode(attr.Clone())
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	other := testAttr(testSampleFormat | SampleFormatCPU)
	_, err = raw.Decode(other)
	var se *StructuralError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Msg, "already decoded")
}

func TestDecodeKernelWithoutEvent(t *testing.T) {
	raw := mustRaw(t, testSample(1, 1, 1, 42), testAttr(testSampleFormat))
	_, err := raw.Decode(nil)
	var ae *AssociationError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, RecordTypeSample, ae.Type)
}

func TestNewRawRecordSize(t *testing.T) {
	_, err := NewRawRecord([]byte{1, 0, 0, 0, 0, 0, 16, 0}, 0)
	assert.Error(t, err)
	_, err = NewRawRecord([]byte{1, 0, 0}, 0)
	assert.Error(t, err)
}

func TestSampleAnomalies(t *testing.T) {
	attr := testAttr(SampleFormatIP)

	raw := rawFromPayload(t, RecordTypeSample, 0, u64s(0x1234, 0))
	rec, err := raw.Decode(attr)
	require.NoError(t, err)
	s := rec.(*RecordSample)
	assert.Equal(t, uint64(0x1234), s.IP)
	assert.Equal(t, []string{"8 bytes unexpected data at end of sample"}, s.Anomalies)

	raw = rawFromPayload(t, RecordTypeSample, 0, nil)
	rec, err = raw.Decode(attr)
	require.NoError(t, err)
	require.Len(t, rec.Common().Anomalies, 1)
	assert.Contains(t, rec.Common().Anomalies[0], "sample truncated")

	attr = testAttr(SampleFormatIP | 1<<50)
	raw = rawFromPayload(t, RecordTypeSample, 0, u64s(0x1234))
	rec, err = raw.Decode(attr)
	require.NoError(t, err)
	require.Len(t, rec.Common().Anomalies, 1)
	assert.Contains(t, rec.Common().Anomalies[0], "unconsumed sample_type bits")
}

func TestSampleFixedPeriod(t *testing.T) {
	attr := testAttr(SampleFormatIP)
	raw := rawFromPayload(t, RecordTypeSample, uint16(CPUModeUser)|uint16(recordMiscExactIP), u64s(0x10))
	rec, err := raw.Decode(attr)
	require.NoError(t, err)
	s := rec.(*RecordSample)
	assert.Equal(t, uint64(1000), s.Period)
	assert.Equal(t, CPUModeUser, s.CPUMode)
	assert.True(t, s.ExactIP)
}

func TestBranchStackWorkaround(t *testing.T) {
	attr := testAttr(SampleFormatBranchStack)
	flags := uint64(1) | 12<<4 | 3<<20
	payload := u64s(1, ^uint64(0), 0x100, 0x200, flags)
	rec, err := rawFromPayload(t, RecordTypeSample, 0, payload).Decode(attr)
	require.NoError(t, err)
	s := rec.(*RecordSample)
	assert.Equal(t, []string{"working around branch stack format bug"}, s.Anomalies)
	require.Len(t, s.BranchStack, 1)
	assert.Equal(t, BranchRecord{From: 0x100, To: 0x200, Flags: BranchFlagMispredicted, Cycles: 12, Type: BranchType(3)}, s.BranchStack[0])
	assert.Equal(t, int64(-1), s.BranchHWIndex)

	// With HW_INDEX requested, the index is a real field.
	attr.SetBranchSampleType(BranchSampleHWIndex)
	rec, err = rawFromPayload(t, RecordTypeSample, 0, u64s(1, 5, 0x100, 0x200, 0)).Decode(attr)
	require.NoError(t, err)
	s = rec.(*RecordSample)
	assert.Empty(t, s.Anomalies)
	assert.Equal(t, int64(5), s.BranchHWIndex)

	// An empty stack never triggers the workaround.
	attr = testAttr(SampleFormatBranchStack | SampleFormatIP)
	rec, err = rawFromPayload(t, RecordTypeSample, 0, u64s(0x42, 0)).Decode(attr)
	require.NoError(t, err)
	assert.Empty(t, rec.Common().Anomalies)
}

func TestUnknownKernelRecord(t *testing.T) {
	attr := testAttr(testSampleFormat)
	rec, err := rawFromPayload(t, RecordType(40), 0, u64s(1, 2, 3, 4)).Decode(attr)
	require.NoError(t, err)
	u := rec.(*RecordUnknown)
	assert.Equal(t, RecordType(40), u.Kind)
	assert.Equal(t, []string{"unknown kernel record type 40"}, u.Anomalies)

	rec, err = rawFromPayload(t, RecordType(200), 0, u64s(1)).Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, rec.Common().Anomalies)
}

func TestIDOffsets(t *testing.T) {
	tests := []struct {
		sf             SampleFormat
		sample, record int
		sampleTime     int
		recordTime     int
	}{
		{SampleFormatIdentifier | SampleFormatIP, 0, -8, noOffset, noOffset},
		{SampleFormatIP | SampleFormatTID | SampleFormatTime | SampleFormatID, 24, -8, 16, -16},
		{SampleFormatID | SampleFormatCPU | SampleFormatStreamID, 0, -24, noOffset, noOffset},
		{SampleFormatIP, noOffset, noOffset, noOffset, noOffset},
		{SampleFormatTime | SampleFormatCPU, noOffset, noOffset, 0, -16},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.sample, tt.sf.sampleIDOffset(), "sample ID offset of %v", tt.sf)
		assert.Equal(t, tt.record, tt.sf.recordIDOffset(), "record ID offset of %v", tt.sf)
		assert.Equal(t, tt.sampleTime, tt.sf.sampleTimeOffset(), "sample time offset of %v", tt.sf)
		assert.Equal(t, tt.recordTime, tt.sf.recordTimeOffset(), "record time offset of %v", tt.sf)
	}
}

func TestKernelRecordTrailer(t *testing.T) {
	attr := testAttr(SampleFormatTID | SampleFormatTime | SampleFormatCPU | SampleFormatIdentifier)
	comm := &RecordComm{Exec: true, Comm: "bash"}
	comm.PID, comm.TID, comm.Time, comm.CPU, comm.ID = 10, 11, 12345, 3, 77

	raw := mustRaw(t, comm, attr)
	id, ok := raw.peekID(attr.SampleFormat().sampleIDOffset(), attr.SampleFormat().recordIDOffset())
	require.True(t, ok)
	assert.Equal(t, uint64(77), id)
	tm, ok := raw.peekTime(attr)
	require.True(t, ok)
	assert.Equal(t, uint64(12345), tm)

	rec, err := raw.Decode(attr)
	require.NoError(t, err)
	got := rec.(*RecordComm)
	assert.Equal(t, "bash", got.Comm)
	assert.True(t, got.Exec)
	assert.Equal(t, 10, got.PID)
	assert.Equal(t, 11, got.TID)
	assert.Equal(t, uint64(12345), got.Time)
	assert.Equal(t, uint32(3), got.CPU)
	assert.Equal(t, uint64(77), got.ID)
	assert.Empty(t, got.Anomalies)
}

func TestSyntheticRecords(t *testing.T) {
	tm := &RecordThreadMap{Threads: []ThreadMapEntry{{TID: 1, Comm: "init"}, {TID: -1, Comm: "idle"}}}
	rec, err := mustRaw(t, tm, nil).Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, tm.Threads, rec.(*RecordThreadMap).Threads)

	cm := &RecordCPUMap{CPUs: CPUSet{0, 1, 5}}
	rec, err = mustRaw(t, cm, nil).Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, CPUSet{0, 1, 5}, rec.(*RecordCPUMap).CPUs)

	tc := &RecordTimeConv{Shift: 10, Mult: 20, Zero: 30, Extended: true, Cycles: 40, Mask: 50, CapUserTimeZero: true}
	rec, err = mustRaw(t, tc, nil).Decode(nil)
	require.NoError(t, err)
	got := rec.(*RecordTimeConv)
	assert.Equal(t, uint64(40), got.Cycles)
	assert.True(t, got.Extended)
	assert.True(t, got.CapUserTimeZero)

	bid := &RecordBuildID{CPUMode: CPUModeKernel, BuildID: []byte{1, 2, 3}, Filename: "[kernel.kallsyms]"}
	bid.PID = -1
	rec, err = mustRaw(t, bid, nil).Decode(nil)
	require.NoError(t, err)
	gotID := rec.(*RecordBuildID)
	assert.Equal(t, []byte{1, 2, 3}, gotID.BuildID)
	assert.Equal(t, -1, gotID.PID)
	assert.Equal(t, "[kernel.kallsyms]", gotID.Filename)
}

func TestCPUMapMask(t *testing.T) {
	// type 1, nr 1, long_size 8, 4 bytes of padding, one mask word.
	payload := []byte{1, 0, 1, 0, 8, 0, 0, 0, 0, 0}
	payload = append(payload, u64s(0x8003)...)
	payload = append(payload, 0, 0, 0, 0, 0, 0)
	rec, err := rawFromPayload(t, RecordTypeCPUMap, 0, payload).Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, CPUSet{0, 1, 15}, rec.(*RecordCPUMap).CPUs)
}

func TestDecompressor(t *testing.T) {
	attr := testAttr(testSampleFormat)
	a, err := encodeRecord(testSample(1, 0x10, 1, 42), attr)
	require.NoError(t, err)
	b, err := encodeRecord(testSample(1, 0x20, 2, 42), attr)
	require.NoError(t, err)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	frame := enc.EncodeAll(append(append([]byte(nil), a...), b...), nil)
	require.NoError(t, enc.Close())

	var d decompressor
	defer d.close()
	recs, err := d.expand(mustRaw(t, &RecordCompressed{Data: frame}, nil))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, a, recs[0].Bytes())
	assert.Equal(t, b, recs[1].Bytes())
	assert.Equal(t, int64(-1), recs[0].Offset)
	require.NoError(t, d.finish())

	_, err = d.expand(mustRaw(t, &RecordCompressed{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}, nil))
	var se *StructuralError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, uint64(zstdMagic), se.Want)
}
