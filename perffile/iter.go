// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"fmt"
	"io"
	"sort"
)

// RecordsOrder specifies the order in which File.Records returns
// records.
type RecordsOrder int

const (
	// RecordsFileOrder requests records in the order they appear
	// in the file or stream. This is the only order available
	// for streams.
	RecordsFileOrder RecordsOrder = iota

	// RecordsTimeOrder requests records in time-stamp order.
	// Records without a time stamp sort as time 0. Records with
	// equal time stamps keep their file order.
	//
	// This requires two passes over the file and memory for the
	// offset and time stamp of every record.
	RecordsTimeOrder
)

func (o RecordsOrder) String() string {
	switch o {
	case RecordsFileOrder:
		return "file"
	case RecordsTimeOrder:
		return "time"
	}
	return fmt.Sprintf("RecordsOrder(%d)", int(o))
}

// Records is an iterator over the records in a File. Records are
// decoded as they are returned.
//
// A typical use is:
//
//	rs := f.Records(perffile.RecordsFileOrder)
//	for rs.Next() {
//		switch r := rs.Record.(type) {
//		case *perffile.RecordSample:
//			...
//		}
//	}
//	if err := rs.Err(); err != nil { ... }
type Records struct {
	// Record is the current record. It is valid until the next
	// call to Next.
	Record Record

	// Raw is the undecoded form of Record.
	Raw *RawRecord

	// SkipAuxtraceData causes Next to skip over the hardware
	// trace that follows each RecordAuxtrace rather than reading
	// it into RecordAuxtrace.Data. It must be set before the
	// first call to Next.
	SkipAuxtraceData bool

	f     *File
	order RecordsOrder
	err   error
	done  bool

	rr      *recordReader
	ahead   []*RawRecord // framed but unprocessed stream records
	pending []*RawRecord // records expanded from a compressed record
	decomp  decompressor
	linker  auxLinker

	started bool
	sorted  []timedRecord
	pos     int
}

// timedRecord is a record collected by the first pass of a time
// ordered iteration. raw is nil if the record must be re-read from
// offset.
type timedRecord struct {
	time   uint64
	offset int64
	raw    *RawRecord
}

// Records returns an iterator over the records in f in the given
// order.
//
// A stream can be iterated only once and only in file order.
func (f *File) Records(order RecordsOrder) *Records {
	rs := &Records{f: f, order: order}
	rs.linker.f = f

	switch {
	case f.r == nil:
		if order != RecordsFileOrder {
			rs.err = fmt.Errorf("perffile: %v order requires a seekable file", order)
			return rs
		}
		if f.consumed {
			rs.err = fmt.Errorf("perffile: stream records can only be read once")
			return rs
		}
		f.consumed = true
		rs.rr = f.streamRR
		rs.ahead = f.readAhead
		f.readAhead = nil

	case f.pipe:
		end := int64(-1)
		if f.size >= 0 {
			end = f.size
		}
		rs.rr = newRecordReader(io.NewSectionReader(f.r, pipeHeaderSize, 1<<62), pipeHeaderSize, end)

	default:
		data := f.hdr.Data
		rs.rr = newRecordReader(data.sectionReader(f.r), int64(data.Offset), int64(data.end()))
	}
	return rs
}

// Err returns the first error encountered by rs.
func (rs *Records) Err() error {
	return rs.err
}

// Next fetches the next record into rs.Record and rs.Raw. It returns
// true if successful, and false if it reaches the end of the records
// or encounters an error. An error, including a record that cannot be
// associated with an event, stops the iteration.
func (rs *Records) Next() bool {
	if rs.err != nil || rs.done {
		return false
	}
	rs.Record, rs.Raw = nil, nil

	var raw *RawRecord
	var err error
	if rs.order == RecordsTimeOrder {
		raw, err = rs.nextTimed()
	} else {
		raw, err = rs.nextScanned(!rs.SkipAuxtraceData)
	}
	if err == nil && raw != nil {
		err = rs.decode(raw)
	}
	if err != nil {
		rs.fail(err)
		return false
	}
	if raw == nil {
		rs.finish()
		return false
	}
	return true
}

func (rs *Records) fail(err error) {
	rs.err = rs.f.wrap(err)
	rs.decomp.close()
}

func (rs *Records) finish() {
	rs.done = true
	if err := rs.decomp.finish(); err != nil {
		rs.err = rs.f.wrap(err)
	}
	rs.decomp.close()
}

// decode associates raw with its event and decodes it into
// rs.Record.
func (rs *Records) decode(raw *RawRecord) error {
	ev, err := rs.f.events.forRecord(raw)
	if err != nil {
		return err
	}
	var attr *EventAttr
	if ev != nil {
		attr = ev.Attr
	}
	rec, err := raw.Decode(attr)
	if err != nil {
		return err
	}
	rs.Record, rs.Raw = rec, raw
	return nil
}

// nextRaw reads the next framed record in file order, expanding
// compressed records. It reads or skips the trace data following a
// RecordAuxtrace. It returns nil, nil at the end of the records.
func (rs *Records) nextRaw(readData bool) (*RawRecord, error) {
	for {
		if len(rs.pending) > 0 {
			raw := rs.pending[0]
			rs.pending = rs.pending[1:]
			return raw, nil
		}
		var raw *RawRecord
		if len(rs.ahead) > 0 {
			raw = rs.ahead[0]
			rs.ahead = rs.ahead[1:]
		} else {
			var err error
			raw, err = rs.rr.next()
			if err == io.EOF {
				return nil, nil
			} else if err != nil {
				return nil, err
			}
		}

		switch raw.Type() {
		case RecordTypeCompressed:
			recs, err := rs.decomp.expand(raw)
			if err != nil {
				return nil, err
			}
			rs.pending = append(rs.pending, recs...)
			continue

		case RecordTypeAuxtrace:
			if err := rs.auxtraceData(raw, readData); err != nil {
				return nil, err
			}
		}
		return raw, nil
	}
}

// auxtraceData reads or skips the trace data that follows raw.
func (rs *Records) auxtraceData(raw *RawRecord, readData bool) error {
	rec, err := raw.Decode(nil)
	if err != nil {
		return err
	}
	at := rec.(*RecordAuxtrace)
	at.DataOffset = rs.rr.pos
	if err := rs.rr.checkData(at.Size); err != nil {
		return err
	}
	if !readData {
		return rs.rr.discard(int64(at.Size))
	}
	at.Data, err = rs.rr.readData(at.Size)
	return err
}

// nextScanned returns the next record in file order after applying
// its side effects on the File and on AUX linkage.
func (rs *Records) nextScanned(readData bool) (*RawRecord, error) {
	raw, err := rs.nextRaw(readData)
	if raw == nil || err != nil {
		return nil, err
	}
	if err := rs.scan(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// scan applies the side effects of raw: metadata records update the
// File and AUX records are linked to their AUXTRACE buffer.
func (rs *Records) scan(raw *RawRecord) error {
	f := rs.f
	if ok, err := f.applyMeta(raw); ok || err != nil {
		return err
	}
	switch raw.Type() {
	case RecordTypeAuxtraceInfo:
		rec, err := raw.Decode(nil)
		if err != nil {
			return err
		}
		return f.handleAuxtraceInfo(rec.(*RecordAuxtraceInfo))

	case RecordTypeAux:
		if err := rs.decode(raw); err != nil {
			return err
		}
		rs.Record, rs.Raw = nil, nil
		return rs.linker.aux(raw.Record().(*RecordAux))

	case RecordTypeItraceStart:
		rs.linker.itraceStart(raw)

	case RecordTypeAuxtrace:
		rec, err := raw.Decode(nil)
		if err != nil {
			return err
		}
		rs.linker.auxtrace(rec.(*RecordAuxtrace))
	}
	return nil
}

// nextTimed returns the next record in time order, collecting and
// sorting all records on the first call.
func (rs *Records) nextTimed() (*RawRecord, error) {
	if !rs.started {
		rs.started = true
		if err := rs.collect(); err != nil {
			return nil, err
		}
	}
	if rs.pos >= len(rs.sorted) {
		return nil, nil
	}
	tr := rs.sorted[rs.pos]
	rs.sorted[rs.pos] = timedRecord{}
	rs.pos++

	raw := tr.raw
	if raw == nil {
		var err error
		if raw, err = readRecordAt(rs.f.r, tr.offset); err != nil {
			return nil, err
		}
	}
	if at, ok := raw.Record().(*RecordAuxtrace); ok && !rs.SkipAuxtraceData && at.Data == nil && at.DataOffset >= 0 {
		data, err := readSection(rs.f.r, at.DataOffset, at.Size, rs.f.size)
		if err != nil {
			return nil, err
		}
		at.Data = data
	}
	return raw, nil
}

// collect is the first pass of time ordering. It applies every
// record's side effects in file order and records each record's time
// stamp.
func (rs *Records) collect() error {
	for {
		raw, err := rs.nextScanned(false)
		if err != nil {
			return err
		}
		if raw == nil {
			break
		}
		ev, err := rs.f.events.forRecord(raw)
		if err != nil {
			return err
		}
		var attr *EventAttr
		if ev != nil {
			attr = ev.Attr
		}
		t, _ := raw.peekTime(attr)
		tr := timedRecord{time: t, offset: raw.Offset}
		if raw.Offset < 0 || raw.State() == StateDecoded {
			// Expanded records can't be re-read, and linked
			// AUX records must keep their identity.
			tr.raw = raw
		}
		rs.sorted = append(rs.sorted, tr)
	}
	if err := rs.decomp.finish(); err != nil {
		return err
	}
	sort.SliceStable(rs.sorted, func(i, j int) bool {
		return rs.sorted[i].time < rs.sorted[j].time
	})
	return nil
}
