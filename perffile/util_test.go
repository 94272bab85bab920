// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSampleFormat = SampleFormatIP | SampleFormatTID | SampleFormatTime | SampleFormatID | SampleFormatPeriod

func testAttr(sf SampleFormat) *EventAttr {
	a := NewEventAttr(AttrSizeDefault)
	a.SetEvent(EventHardwareCPUCycles)
	a.SetSampleFormat(sf)
	a.SetFlags(EventFlagSampleIDAll | EventFlagMmap | EventFlagComm)
	a.SetSamplePeriod(1000)
	return a
}

type testEvent struct {
	attr *EventAttr
	name string
	ids  []uint64
}

// writeTestFile writes a seekable profile to a temporary file and
// returns its path.
func writeTestFile(t *testing.T, evs []testEvent, meta *FileMeta, recs []Record, opts ...WriterOption) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perf.data")
	fh, err := os.Create(path)
	require.NoError(t, err)
	defer fh.Close()
	writeTestProfile(t, fh, evs, meta, recs, opts...)
	return path
}

// writeTestPipe writes a profile in pipe mode and returns its bytes.
func writeTestPipe(t *testing.T, evs []testEvent, meta *FileMeta, recs []Record, opts ...WriterOption) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeTestProfile(t, &buf, evs, meta, recs, opts...)
	return buf.Bytes()
}

func writeTestProfile(t *testing.T, dst io.Writer, evs []testEvent, meta *FileMeta, recs []Record, opts ...WriterOption) {
	t.Helper()
	w, err := NewWriter(dst, opts...)
	require.NoError(t, err)
	for _, ev := range evs {
		_, err := w.AddEvent(ev.attr, ev.name, ev.ids)
		require.NoError(t, err)
	}
	if meta != nil {
		require.NoError(t, w.SetMeta(meta))
	}
	for _, r := range recs {
		require.NoError(t, w.WriteRecord(r))
	}
	require.NoError(t, w.Close())
}

// readAll returns every record of f in the given order.
func readAll(t *testing.T, f *File, order RecordsOrder) []Record {
	t.Helper()
	var out []Record
	rs := f.Records(order)
	for rs.Next() {
		out = append(out, rs.Record)
	}
	require.NoError(t, rs.Err())
	return out
}

func recordTypes(recs []Record) []RecordType {
	out := make([]RecordType, len(recs))
	for i, r := range recs {
		out[i] = r.Type()
	}
	return out
}

func testSample(pid int, ip, time uint64, id uint64) *RecordSample {
	s := &RecordSample{IP: ip, Period: 1000}
	s.PID, s.TID, s.Time, s.ID = pid, pid, time, id
	return s
}
