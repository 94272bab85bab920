// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

// TestKernelABI checks our copies of perf_event.h constants against
// golang.org/x/sys/unix.
func TestKernelABI(t *testing.T) {
	records := map[RecordType]uint64{
		RecordTypeMmap:          unix.PERF_RECORD_MMAP,
		RecordTypeLost:          unix.PERF_RECORD_LOST,
		RecordTypeComm:          unix.PERF_RECORD_COMM,
		RecordTypeExit:          unix.PERF_RECORD_EXIT,
		RecordTypeThrottle:      unix.PERF_RECORD_THROTTLE,
		RecordTypeUnthrottle:    unix.PERF_RECORD_UNTHROTTLE,
		RecordTypeFork:          unix.PERF_RECORD_FORK,
		RecordTypeRead:          unix.PERF_RECORD_READ,
		RecordTypeSample:        unix.PERF_RECORD_SAMPLE,
		RecordTypeMmap2:         unix.PERF_RECORD_MMAP2,
		RecordTypeAux:           unix.PERF_RECORD_AUX,
		RecordTypeItraceStart:   unix.PERF_RECORD_ITRACE_START,
		RecordTypeLostSamples:   unix.PERF_RECORD_LOST_SAMPLES,
		RecordTypeSwitch:        unix.PERF_RECORD_SWITCH,
		RecordTypeSwitchCPUWide: unix.PERF_RECORD_SWITCH_CPU_WIDE,
		RecordTypeNamespaces:    unix.PERF_RECORD_NAMESPACES,
	}
	for ours, theirs := range records {
		assert.EqualValues(t, theirs, ours, "%v", ours)
	}

	samples := map[SampleFormat]uint64{
		SampleFormatIP:          unix.PERF_SAMPLE_IP,
		SampleFormatTID:         unix.PERF_SAMPLE_TID,
		SampleFormatTime:        unix.PERF_SAMPLE_TIME,
		SampleFormatAddr:        unix.PERF_SAMPLE_ADDR,
		SampleFormatRead:        unix.PERF_SAMPLE_READ,
		SampleFormatCallchain:   unix.PERF_SAMPLE_CALLCHAIN,
		SampleFormatID:          unix.PERF_SAMPLE_ID,
		SampleFormatCPU:         unix.PERF_SAMPLE_CPU,
		SampleFormatPeriod:      unix.PERF_SAMPLE_PERIOD,
		SampleFormatStreamID:    unix.PERF_SAMPLE_STREAM_ID,
		SampleFormatRaw:         unix.PERF_SAMPLE_RAW,
		SampleFormatBranchStack: unix.PERF_SAMPLE_BRANCH_STACK,
		SampleFormatRegsUser:    unix.PERF_SAMPLE_REGS_USER,
		SampleFormatStackUser:   unix.PERF_SAMPLE_STACK_USER,
		SampleFormatWeight:      unix.PERF_SAMPLE_WEIGHT,
		SampleFormatDataSrc:     unix.PERF_SAMPLE_DATA_SRC,
		SampleFormatIdentifier:  unix.PERF_SAMPLE_IDENTIFIER,
		SampleFormatTransaction: unix.PERF_SAMPLE_TRANSACTION,
		SampleFormatRegsIntr:    unix.PERF_SAMPLE_REGS_INTR,
		SampleFormatPhysAddr:    unix.PERF_SAMPLE_PHYS_ADDR,
	}
	for ours, theirs := range samples {
		assert.EqualValues(t, theirs, ours, "%v", ours)
	}

	reads := map[ReadFormat]uint64{
		ReadFormatTotalTimeEnabled: unix.PERF_FORMAT_TOTAL_TIME_ENABLED,
		ReadFormatTotalTimeRunning: unix.PERF_FORMAT_TOTAL_TIME_RUNNING,
		ReadFormatID:               unix.PERF_FORMAT_ID,
		ReadFormatGroup:            unix.PERF_FORMAT_GROUP,
	}
	for ours, theirs := range reads {
		assert.EqualValues(t, theirs, ours, "%v", ours)
	}

	types := map[EventType]uint64{
		EventTypeHardware:   unix.PERF_TYPE_HARDWARE,
		EventTypeSoftware:   unix.PERF_TYPE_SOFTWARE,
		EventTypeTracepoint: unix.PERF_TYPE_TRACEPOINT,
		EventTypeHWCache:    unix.PERF_TYPE_HW_CACHE,
		EventTypeRaw:        unix.PERF_TYPE_RAW,
		EventTypeBreakpoint: unix.PERF_TYPE_BREAKPOINT,
	}
	for ours, theirs := range types {
		assert.EqualValues(t, theirs, ours, "%v", ours)
	}

	assert.EqualValues(t, unix.PERF_ATTR_SIZE_VER0, AttrSizeV0)
	assert.EqualValues(t, unix.PERF_ATTR_SIZE_VER1, AttrSizeV1)
	assert.EqualValues(t, unix.PERF_ATTR_SIZE_VER2, AttrSizeV2)
	assert.EqualValues(t, unix.PERF_ATTR_SIZE_VER3, AttrSizeV3)
	assert.EqualValues(t, unix.PERF_ATTR_SIZE_VER4, AttrSizeV4)
	assert.EqualValues(t, unix.PERF_ATTR_SIZE_VER5, AttrSizeV5)

	assert.EqualValues(t, unix.PERF_RECORD_MISC_CPUMODE_MASK, recordMiscCPUModeMask)
	assert.EqualValues(t, unix.PERF_RECORD_MISC_EXACT_IP, recordMiscExactIP)
	assert.EqualValues(t, unix.PERF_RECORD_MISC_MMAP_DATA, recordMiscMmapData)
}
