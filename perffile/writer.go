// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
)

// A Writer writes a perf.data profile.
//
// If the destination is an io.WriteSeeker, the Writer produces a
// seekable file with a section table, which it completes when closed.
// Otherwise, it produces a pipe, where the events and metadata are
// carried by records that precede all other records.
//
// All events must be added with AddEvent, and metadata set with
// SetMeta or SetFeature, before the first record is written.
type Writer struct {
	dst  io.Writer
	ws   io.WriteSeeker // nil in pipe mode
	bw   *bufio.Writer
	pipe bool
	pos  int64

	events   eventTable
	meta     FileMeta
	features map[Feature][]byte

	started   bool
	closed    bool
	dataStart int64
	attrSize  int

	comp     *compressor
	auxIndex []auxtraceIndexEntry

	log logrus.FieldLogger
}

// A WriterOption configures a Writer.
type WriterOption func(*Writer) error

// WithPipe forces the Writer to produce a pipe even if its destination
// is seekable.
func WithPipe() WriterOption {
	return func(w *Writer) error {
		w.ws = nil
		w.pipe = true
		return nil
	}
}

// WithCompression packs the records written into zstd-compressed
// RecordTypeCompressed records at the given zstd level.
func WithCompression(level int) WriterOption {
	return func(w *Writer) error {
		c, err := newCompressor(level)
		if err != nil {
			return err
		}
		w.comp = c
		return nil
	}
}

// WithWriterLogger sets the logger for w.
func WithWriterLogger(l logrus.FieldLogger) WriterOption {
	return func(w *Writer) error {
		w.log = l
		return nil
	}
}

// NewWriter returns a Writer that writes a profile to dst.
func NewWriter(dst io.Writer, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		dst:      dst,
		features: make(map[Feature][]byte),
		log:      logrus.StandardLogger(),
	}
	if ws, ok := dst.(io.WriteSeeker); ok {
		if pos, err := ws.Seek(0, io.SeekCurrent); err == nil && pos == 0 {
			w.ws = ws
		}
	}
	w.pipe = w.ws == nil
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.bw = bufio.NewWriterSize(dst, 64<<10)
	return w, nil
}

// AddEvent adds an event with the given attributes, name, and
// instance IDs. IDs must be unique across all events.
func (w *Writer) AddEvent(attr *EventAttr, name string, ids []uint64) (*EventDesc, error) {
	if w.started {
		return nil, fmt.Errorf("perffile: AddEvent after first record")
	}
	ev := &EventDesc{Attr: attr.Clone(), Name: name, IDs: append([]uint64(nil), ids...)}
	if _, err := w.events.add(ev, false); err != nil {
		return nil, err
	}
	return ev, nil
}

// SetMeta sets the metadata written with the profile. Fields that are
// zero are omitted.
func (w *Writer) SetMeta(m *FileMeta) error {
	if w.started {
		return fmt.Errorf("perffile: SetMeta after first record")
	}
	w.meta = *m
	return nil
}

// SetFeature sets the raw contents of feature section f. This
// overrides any contents derived from SetMeta.
func (w *Writer) SetFeature(f Feature, data []byte) error {
	if w.started {
		return fmt.Errorf("perffile: SetFeature after first record")
	}
	if f == featureReserved || f >= numFeatureBits {
		return fmt.Errorf("perffile: bad feature %v", f)
	}
	w.features[f] = data
	return nil
}

func (w *Writer) write(b []byte) error {
	n, err := w.bw.Write(b)
	w.pos += int64(n)
	if err != nil {
		return &IOError{Op: "write", Offset: w.pos, Len: len(b), Err: err}
	}
	return nil
}

// featureData returns every feature section to write, keyed by bit.
func (w *Writer) featureData() map[Feature][]byte {
	out := w.meta.encodeFeatures()
	out[FeatureEventDesc] = encodeEventDesc(w.events.events)
	if w.comp != nil {
		var e bufEncoder
		e.u32(1)
		e.u32(uint32(CompressionZstd))
		e.u32(uint32(w.comp.level))
		e.u32(0)
		e.u32(maxRecordSize / 2)
		out[FeatureCompressed] = e.buf
	}
	if len(w.auxIndex) > 0 {
		out[FeatureAuxtrace] = encodeAuxtraceIndex(w.auxIndex)
	}
	for f, data := range w.features {
		out[f] = data
	}
	return out
}

func sortedFeatures(m map[Feature][]byte) []Feature {
	out := make([]Feature, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// start writes everything that precedes the first record.
func (w *Writer) start() error {
	if w.started {
		return nil
	}
	w.started = true
	if len(w.events.events) == 0 {
		return fmt.Errorf("perffile: profile has no events")
	}
	if w.pipe {
		return w.startPipe()
	}
	return w.startFile()
}

func (w *Writer) startPipe() error {
	var hdr [pipeHeaderSize]byte
	copy(hdr[:], fileMagic)
	binary.LittleEndian.PutUint64(hdr[8:], pipeHeaderSize)
	if err := w.write(hdr[:]); err != nil {
		return err
	}
	for _, ev := range w.events.events {
		buf, err := encodeRecord(&RecordHeaderAttr{Attr: ev.Attr, IDs: ev.IDs}, nil)
		if err != nil {
			return err
		}
		if err := w.write(buf); err != nil {
			return err
		}
	}
	feats := w.featureData()
	for _, f := range sortedFeatures(feats) {
		buf, err := encodeRecord(&RecordHeaderFeature{Feature: f, Data: feats[f]}, nil)
		if err != nil {
			return err
		}
		if err := w.write(buf); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) startFile() error {
	w.attrSize = AttrSizeDefault
	for _, ev := range w.events.events {
		if ev.Attr.Size() > w.attrSize {
			w.attrSize = ev.Attr.Size()
		}
	}
	entSize := w.attrSize + fileAttrIDsSize
	attrsOff := int64(fileHeaderSize)
	idsOff := attrsOff + int64(entSize*len(w.events.events))

	// Placeholder header, completed by Close.
	if err := w.write(make([]byte, fileHeaderSize)); err != nil {
		return err
	}
	var e bufEncoder
	off := idsOff
	for _, ev := range w.events.events {
		e.bytes(ev.Attr.raw)
		e.zeros(w.attrSize - ev.Attr.Size())
		size := int64(8 * len(ev.IDs))
		e.section(fileSection{uint64(off), uint64(size)})
		off += size
	}
	for _, ev := range w.events.events {
		for _, id := range ev.IDs {
			e.u64(id)
		}
	}
	if err := w.write(e.buf); err != nil {
		return err
	}
	w.dataStart = w.pos
	return nil
}

// attrFor returns the event attributes used to encode r.
func (w *Writer) attrFor(r Record) (*EventAttr, error) {
	typ := r.Type()
	if !typ.isKernel() {
		return nil, nil
	}
	evs := w.events.events
	if len(evs) == 1 {
		return evs[0].Attr, nil
	}
	id := r.Common().ID
	if id == 0 {
		return evs[0].Attr, nil
	}
	ev := w.events.byID[id]
	if ev == nil {
		return nil, &AssociationError{Offset: -1, Type: typ, ID: id, HasID: true}
	}
	return ev.Attr, nil
}

// WriteRecord encodes and appends r. The data of a RecordAuxtrace is
// written immediately after it.
func (w *Writer) WriteRecord(r Record) error {
	if w.closed {
		return fmt.Errorf("perffile: WriteRecord on closed Writer")
	}
	if err := w.start(); err != nil {
		return err
	}
	switch r.Type() {
	case RecordTypeHeaderAttr, RecordTypeHeaderFeature:
		return fmt.Errorf("perffile: %v records are written by the Writer", r.Type())
	}
	attr, err := w.attrFor(r)
	if err != nil {
		return err
	}
	if at, ok := r.(*RecordAuxtrace); ok {
		at.Size = uint64(len(at.Data))
	}
	buf, err := encodeRecord(r, attr)
	if err != nil {
		return err
	}
	var data []byte
	if at, ok := r.(*RecordAuxtrace); ok {
		data = at.Data
	}
	return w.writeEncoded(r.Type(), buf, data)
}

// WriteRaw appends an already encoded record. If raw is a
// RecordAuxtrace, auxData is its trace data.
func (w *Writer) WriteRaw(raw *RawRecord, auxData []byte) error {
	if w.closed {
		return fmt.Errorf("perffile: WriteRaw on closed Writer")
	}
	if err := w.start(); err != nil {
		return err
	}
	switch raw.Type() {
	case RecordTypeHeaderAttr, RecordTypeHeaderFeature:
		// Regenerated from the Writer's events and features.
		return nil
	}
	return w.writeEncoded(raw.Type(), raw.Bytes(), auxData)
}

func (w *Writer) writeEncoded(typ RecordType, buf, auxData []byte) error {
	if typ == RecordTypeAuxtrace {
		// Trace data is never compressed, and the index must
		// point at the record itself.
		if err := w.flushCompressed(); err != nil {
			return err
		}
		if !w.pipe {
			w.auxIndex = append(w.auxIndex, auxtraceIndexEntry{uint64(w.pos), uint64(len(buf))})
		}
		if err := w.write(buf); err != nil {
			return err
		}
		return w.write(auxData)
	}
	if w.comp != nil {
		if w.comp.add(buf) {
			return w.flushCompressed()
		}
		return nil
	}
	return w.write(buf)
}

func (w *Writer) flushCompressed() error {
	if w.comp == nil {
		return nil
	}
	recs, err := w.comp.flush()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := w.write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close completes the profile. For a seekable destination, it writes
// the feature sections and rewrites the file header. Close does not
// close the destination.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.start(); err != nil {
		return err
	}
	w.closed = true
	if err := w.flushCompressed(); err != nil {
		return err
	}
	if w.comp != nil {
		if err := w.comp.close(); err != nil {
			return err
		}
	}
	if !w.pipe {
		if err := w.finishFile(); err != nil {
			return err
		}
	}
	if err := w.bw.Flush(); err != nil {
		return &IOError{Op: "write", Offset: w.pos, Err: err}
	}
	w.log.Debugf("wrote %d byte profile", w.pos)
	return nil
}

func (w *Writer) finishFile() error {
	hdr := fileHeader{
		Size:     fileHeaderSize,
		AttrSize: uint64(w.attrSize + fileAttrIDsSize),
		Attrs: fileSection{
			Offset: fileHeaderSize,
			Size:   uint64((w.attrSize + fileAttrIDsSize) * len(w.events.events)),
		},
		Data: fileSection{Offset: uint64(w.dataStart), Size: uint64(w.pos - w.dataStart)},
	}
	copy(hdr.Magic[:], fileMagic)

	// The descriptor array follows the data section, then the
	// contents of each feature section in bit order.
	feats := w.featureData()
	order := sortedFeatures(feats)
	off := uint64(w.pos) + uint64(len(order)*fileSectionSize)
	var desc bufEncoder
	for _, f := range order {
		hdr.setFeature(f)
		desc.section(fileSection{off, uint64(len(feats[f]))})
		off += uint64(len(feats[f]))
	}
	if err := w.write(desc.buf); err != nil {
		return err
	}
	for _, f := range order {
		if err := w.write(feats[f]); err != nil {
			return err
		}
	}

	if err := w.bw.Flush(); err != nil {
		return &IOError{Op: "write", Offset: w.pos, Err: err}
	}
	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return &IOError{Op: "seek", Offset: 0, Err: err}
	}
	if _, err := w.ws.Write(hdr.encode()); err != nil {
		return &IOError{Op: "write", Offset: 0, Len: fileHeaderSize, Err: err}
	}
	if _, err := w.ws.Seek(w.pos, io.SeekStart); err != nil {
		return &IOError{Op: "seek", Offset: w.pos, Err: err}
	}
	return nil
}
