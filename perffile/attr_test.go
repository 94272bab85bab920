// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttrRoundTrip(t *testing.T) {
	a := NewEventAttr(AttrSizeDefault)
	a.SetEvent(EventHardwareInstructions)
	a.SetSampleFormat(SampleFormatIP | SampleFormatTID)
	a.SetFlags(EventFlagDisabled | EventFlagSampleIDAll)
	a.SetSampleFreq(4000)
	a.SetBranchSampleType(BranchSampleHWIndex)
	require.NoError(t, a.Set(AttrSampleMaxStack, 127))

	b, err := ParseEventAttr(a.Bytes())
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, EventHardwareInstructions, b.Event())
	assert.Equal(t, SampleFormatIP|SampleFormatTID, b.SampleFormat())
	assert.Equal(t, EventFlagDisabled|EventFlagSampleIDAll|EventFlagFreq, b.Flags())
	freq, err := b.SampleFreq()
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), freq)
	assert.Equal(t, uint16(127), b.SampleMaxStack())
	assert.Equal(t, a.String(), b.String())
}

func TestAttrUnset(t *testing.T) {
	a := NewEventAttr(AttrSizeV0)
	assert.Equal(t, AttrSizeV0, a.Size())
	size, err := a.Get(AttrSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(AttrSizeV0), size)

	_, err = a.Get(AttrConfig)
	assert.True(t, errors.Is(err, ErrFieldUnset))
	assert.False(t, a.Has(AttrSampleType))

	// Fields beyond the attribute's size cannot be set.
	var fre *FieldRangeError
	err = a.Set(AttrBranchSampleType, 1)
	require.True(t, errors.As(err, &fre))

	assert.Panics(t, func() { NewEventAttr(AttrSizeV0 - 8) })
}

func TestAttrUnion(t *testing.T) {
	a := NewEventAttr(AttrSizeDefault)

	// Period is the default union member.
	a.SetSamplePeriod(100)
	p, err := a.SamplePeriod()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), p)
	_, err = a.SampleFreq()
	var ue *UnionError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, AttrFreq, ue.Selector)

	a.SetSampleFreq(99)
	_, err = a.SamplePeriod()
	require.True(t, errors.As(err, &ue))
	f, err := a.SampleFreq()
	require.NoError(t, err)
	assert.Equal(t, uint64(99), f)

	a.SetWakeupWatermark(4096)
	_, err = a.WakeupEvents()
	assert.Error(t, err)
	a.SetWakeupEvents(1)
	n, err := a.WakeupEvents()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)
}

func TestAttrClear(t *testing.T) {
	a := NewEventAttr(AttrSizeDefault)
	a.SetConfig(7)
	require.True(t, a.Has(AttrConfig))
	a.Clear(AttrConfig)
	assert.False(t, a.Has(AttrConfig))
	a.Clear(AttrSize)
	assert.True(t, a.Has(AttrSize))
}

func TestAttrSetDefaults(t *testing.T) {
	defaults := NewEventAttr(AttrSizeDefault)
	defaults.SetSamplePeriod(4000)
	defaults.SetSampleFormat(SampleFormatIP)
	defaults.SetConfig(1)

	a := NewEventAttr(AttrSizeDefault)
	a.SetSampleFreq(10)
	a.SetConfig(2)
	a.SetDefaults(defaults)

	// The explicit frequency survives the default period.
	f, err := a.SampleFreq()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), f)
	assert.Equal(t, uint64(2), a.Config())
	assert.Equal(t, SampleFormatIP, a.SampleFormat())

	b := NewEventAttr(AttrSizeDefault)
	b.SetDefaults(defaults)
	p, err := b.SamplePeriod()
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), p)

	// Merge overrides.
	a.Merge(defaults)
	assert.Equal(t, uint64(1), a.Config())
	p, err = a.SamplePeriod()
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), p)
}

func TestAttrBreakpoint(t *testing.T) {
	a := NewEventAttr(AttrSizeDefault)
	a.SetEvent(EventBreakpoint{Op: BreakpointOpW, Addr: 0x1000, Len: 8})
	addr, ok := a.BreakpointAddr()
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), addr)
	l, ok := a.BreakpointLen()
	require.True(t, ok)
	assert.Equal(t, uint64(8), l)

	a.SetEvent(EventHardwareCPUCycles)
	_, ok = a.BreakpointAddr()
	assert.False(t, ok)
}

func TestParseEventAttrSize(t *testing.T) {
	a := NewEventAttr(AttrSizeDefault)
	raw := append(a.Bytes(), make([]byte, 8)...)
	_, err := ParseEventAttr(raw)
	var se *StructuralError
	require.True(t, errors.As(err, &se))

	_, err = ParseEventAttr(raw[:32])
	assert.Error(t, err)
}
