// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/aclements/go-perfdata/datamap"
	"github.com/sirupsen/logrus"
)

// A File is a perf.data profile, read from either a seekable file or
// a pipe.
type File struct {
	// Meta is the profile metadata. In pipe mode, it is updated
	// as RecordTypeHeaderFeature records are read.
	Meta FileMeta

	// KcoreDir is the kcore_dir directory recorded next to a
	// perf.data directory, or "" if f was not opened from a
	// directory.
	KcoreDir string

	name   string
	r      io.ReaderAt // nil for a stream
	stream io.Reader   // non-nil for a stream
	closer io.Closer
	size   int64 // -1 if unknown
	pipe   bool

	hdr    fileHeader
	layout *datamap.Map

	events   eventTable
	sections map[Feature]fileSection
	secData  map[Feature][]byte

	buildIDs map[buildIDKey]BuildID

	auxtrace     *AuxtraceRegistry
	auxtraceInfo *RecordAuxtraceInfo
	auxBuffers   []*RecordAuxtrace
	auxIndexRead bool

	// seenMeta records the offsets of metadata records that have
	// already updated f, so iterating again does not reapply
	// them.
	seenMeta map[int64]bool

	// readAhead holds the records read by NewStream while
	// collecting leading metadata.
	readAhead []*RawRecord
	streamRR  *recordReader
	consumed  bool

	log logrus.FieldLogger
}

type buildIDKey struct {
	pid      int
	filename string
}

// An Option configures how a File is read.
type Option func(*File)

// WithLogger directs the warnings logged while reading a File, such as
// recoverable format skew, to l. The default is
// logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(f *File) { f.log = l }
}

// WithAuxtrace sets the registry of handlers for hardware trace
// formats. When a RecordTypeAuxtraceInfo record is read, the handler
// registered for its type is invoked.
func WithAuxtrace(reg *AuxtraceRegistry) Option {
	return func(f *File) { f.auxtrace = reg }
}

// WithName sets the name used for f in errors and log messages.
func WithName(name string) Option {
	return func(f *File) { f.name = name }
}

func newFile(opts []Option) *File {
	f := &File{
		size:     -1,
		sections: make(map[Feature]fileSection),
		secData:  make(map[Feature][]byte),
		buildIDs: make(map[buildIDKey]BuildID),
		seenMeta: make(map[int64]bool),
		layout:   datamap.New(),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.layout.Logger = f.log
	if f.name != "" {
		f.log = f.log.WithField("file", f.name)
	}
	return f
}

// New reads a perf.data file from r.
//
// The caller must keep r open as long as it is using the returned
// *File.
func New(r io.ReaderAt, opts ...Option) (*File, error) {
	f := newFile(opts)
	f.r = r
	if s, ok := r.(interface{ Size() int64 }); ok {
		f.size = s.Size()
	} else if st, ok := r.(interface{ Stat() (os.FileInfo, error) }); ok {
		if fi, err := st.Stat(); err == nil && fi.Mode().IsRegular() {
			f.size = fi.Size()
		}
	}

	// See perf_session__read_header in tools/perf/util/header.c
	var magic [pipeHeaderSize]byte
	if err := readAt(r, magic[:], 0); err != nil {
		return nil, f.wrap(err)
	}
	if string(magic[:8]) != fileMagic {
		return nil, f.wrap(&StructuralError{Offset: 0, Msg: fmt.Sprintf("bad or unsupported file magic %q", magic[:8])})
	}
	switch size := binary.LittleEndian.Uint64(magic[8:]); size {
	case pipeHeaderSize:
		f.pipe = true
		end := int64(-1)
		if f.size >= 0 {
			end = f.size
		}
		f.streamRR = newRecordReader(io.NewSectionReader(r, pipeHeaderSize, 1<<62), pipeHeaderSize, end)
		if err := f.readStreamMeta(); err != nil {
			return nil, f.wrap(err)
		}
		// Records re-reads a seekable pipe from the start.
		f.readAhead, f.streamRR = nil, nil
		return f, nil
	case fileHeaderSize:
	default:
		return nil, f.wrap(&StructuralError{Offset: 8, Msg: "bad header size", Want: fileHeaderSize, Got: size})
	}

	if err := f.readHeader(); err != nil {
		return nil, f.wrap(err)
	}
	return f, nil
}

// NewStream reads a perf.data pipe from r. Records from a stream can
// only be iterated once, in file order. NewStream consumes the
// metadata records at the start of the stream, so f.Meta and f.Events
// are populated when it returns.
func NewStream(r io.Reader, opts ...Option) (*File, error) {
	f := newFile(opts)
	f.pipe = true
	f.stream = r

	var magic [pipeHeaderSize]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, f.wrap(&IOError{Op: "read", Offset: 0, Len: pipeHeaderSize, Err: err})
	}
	if string(magic[:8]) != fileMagic {
		return nil, f.wrap(&StructuralError{Offset: 0, Msg: fmt.Sprintf("bad or unsupported file magic %q", magic[:8])})
	}
	if size := binary.LittleEndian.Uint64(magic[8:]); size != pipeHeaderSize {
		return nil, f.wrap(&StructuralError{Offset: 8, Msg: "stream is not in pipe mode", Want: pipeHeaderSize, Got: size})
	}
	f.streamRR = newRecordReader(r, pipeHeaderSize, -1)
	if err := f.readStreamMeta(); err != nil {
		return nil, f.wrap(err)
	}
	return f, nil
}

// Open opens the named perf.data file using os.Open. If name is a
// directory, Open reads name/data, and name/kcore_dir must exist.
//
// The caller must call f.Close() on the returned file when it is
// done.
func Open(name string, opts ...Option) (*File, error) {
	var kcoreDir string
	if fi, err := os.Stat(name); err == nil && fi.IsDir() {
		kcoreDir = filepath.Join(name, "kcore_dir")
		if _, err := os.Stat(kcoreDir); err != nil {
			return nil, fmt.Errorf("perffile: %s is a directory without kcore_dir: %w", name, err)
		}
		name = filepath.Join(name, "data")
	}
	fh, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithName(name)}, opts...)
	f, err := New(fh, opts...)
	if err != nil {
		fh.Close()
		return nil, err
	}
	f.closer = fh
	f.KcoreDir = kcoreDir
	return f, nil
}

// Close closes the File.
//
// If the File was created using New or NewStream directly instead of
// Open, Close has no effect.
func (f *File) Close() error {
	var err error
	if f.closer != nil {
		err = f.closer.Close()
		f.closer = nil
	}
	return err
}

// wrap attaches f's name to structural errors.
func (f *File) wrap(err error) error {
	if se, ok := err.(*StructuralError); ok && se.File == "" {
		se.File = f.name
	}
	return err
}

func (f *File) readHeader() error {
	var hdrBuf [fileHeaderSize]byte
	if err := readAt(f.r, hdrBuf[:], 0); err != nil {
		return err
	}
	f.hdr.decode(hdrBuf[:])
	hdr := &f.hdr

	if hdr.AttrSize < AttrSizeV0+fileAttrIDsSize {
		return &StructuralError{Offset: 16, Msg: "bad attr entry size", Want: defaultAttrEntSize, Got: hdr.AttrSize}
	}

	// hdr.Data.Size is the last thing written out by perf, so if
	// it's zero, we're working with a partial file.
	partial := false
	if hdr.Data.Size == 0 {
		f.log.Warnf("data section is empty; capture session may have been improperly terminated")
		if f.size > int64(hdr.Data.Offset) {
			hdr.Data.Size = uint64(f.size) - hdr.Data.Offset
		}
		partial = true
	}

	if err := f.addRange(0, fileHeaderSize, "header"); err != nil {
		return err
	}
	if err := f.addRange(hdr.Attrs.Offset, hdr.Attrs.Size, "attrs"); err != nil {
		return err
	}
	if err := f.addRange(hdr.Data.Offset, hdr.Data.Size, "data"); err != nil {
		return err
	}
	if err := f.addRange(hdr.EventTypes.Offset, hdr.EventTypes.Size, "event_types"); err != nil {
		return err
	}

	if !partial {
		if err := f.readFeatureSections(); err != nil {
			return err
		}
	}

	// Parse the attrs section and reconcile it with EVENT_DESC.
	attrEvents, err := f.readAttrs()
	if err != nil {
		return err
	}
	events := attrEvents
	if data, ok := f.secData[FeatureEventDesc]; ok {
		descEvents, err := parseEventDesc(data)
		if err != nil {
			return err
		}
		f.reconcileEvents(descEvents, attrEvents)
		events = descEvents
	}
	for _, ev := range events {
		if _, err := f.events.add(ev, false); err != nil {
			return err
		}
	}
	if len(f.events.events) == 0 {
		f.log.Warnf("profile describes no events")
	}

	for bit := Feature(0); bit < numFeatureBits; bit++ {
		if data, ok := f.secData[bit]; ok && bit != FeatureEventDesc {
			if err := f.applyFeature(bit, data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *File) addRange(off, size uint64, label string) error {
	if _, err := f.layout.Insert(off, size, label); err != nil {
		return &StructuralError{Offset: int64(off), Msg: fmt.Sprintf("%s section overlaps another section", label), Err: err}
	}
	if f.size >= 0 && off+size > uint64(f.size) {
		return &StructuralError{Offset: int64(off), Msg: fmt.Sprintf("%s section extends past end of file", label), Want: off + size, Got: uint64(f.size)}
	}
	return nil
}

func (f *File) readFeatureSections() error {
	var features []Feature
	for bit := Feature(0); bit < numFeatureBits; bit++ {
		if f.hdr.hasFeature(bit) {
			features = append(features, bit)
		}
	}
	if len(features) == 0 {
		return nil
	}

	descOff := f.hdr.Data.end()
	descBuf := make([]byte, len(features)*fileSectionSize)
	if f.size >= 0 && descOff+uint64(len(descBuf)) > uint64(f.size) {
		f.log.Warnf("header descriptors incompletely written; ignoring %d feature sections", len(features))
		return nil
	}
	if err := readAt(f.r, descBuf, int64(descOff)); err != nil {
		return err
	}
	if err := f.addRange(descOff, uint64(len(descBuf)), "feature descriptors"); err != nil {
		return err
	}
	bd := &bufDecoder{buf: descBuf, order: binary.LittleEndian}
	for _, bit := range features {
		sec := bd.section()
		f.sections[bit] = sec
		if err := f.addRange(sec.Offset, sec.Size, "feature "+bit.String()); err != nil {
			return err
		}
		data, err := readSection(f.r, int64(sec.Offset), sec.Size, f.size)
		if err != nil {
			return err
		}
		f.secData[bit] = data
	}
	return nil
}

func (f *File) readAttrs() ([]*EventDesc, error) {
	entSize := f.hdr.AttrSize
	if f.hdr.Attrs.Size%entSize != 0 {
		return nil, &StructuralError{Offset: int64(f.hdr.Attrs.Offset), Msg: "attrs section is not a multiple of the entry size", Want: entSize, Got: f.hdr.Attrs.Size}
	}
	data, err := readSection(f.r, int64(f.hdr.Attrs.Offset), f.hdr.Attrs.Size, f.size)
	if err != nil {
		return nil, err
	}
	var out []*EventDesc
	for i := uint64(0); i < f.hdr.Attrs.Size/entSize; i++ {
		ent := data[i*entSize : (i+1)*entSize]
		slot := ent[:entSize-fileAttrIDsSize]
		attr, err := parseAttrEntry(slot)
		if err != nil {
			return nil, err
		}
		if attr.Size() != len(slot) {
			f.log.Debugf("event %d attribute is %d bytes in a %d byte slot", i, attr.Size(), len(slot))
		}
		bd := &bufDecoder{buf: ent[len(slot):], order: binary.LittleEndian}
		idSec := bd.section()
		if err := f.addRange(idSec.Offset, idSec.Size, fmt.Sprintf("ids of event %d", i)); err != nil {
			return nil, err
		}
		idBuf, err := readSection(f.r, int64(idSec.Offset), idSec.Size, f.size)
		if err != nil {
			return nil, err
		}
		ids := make([]uint64, idSec.Size/8)
		(&bufDecoder{buf: idBuf, order: binary.LittleEndian}).u64s(ids)
		out = append(out, &EventDesc{Attr: attr, IDs: ids})
	}
	return out, nil
}

// reconcileEvents logs differences between the events described by
// EVENT_DESC and by the attrs section. EVENT_DESC wins, but it may
// lack IDs that the attrs section has.
func (f *File) reconcileEvents(desc, attrs []*EventDesc) {
	if len(desc) != len(attrs) {
		f.log.Warnf("EVENT_DESC describes %d events, attrs section has %d", len(desc), len(attrs))
		return
	}
	for i, d := range desc {
		a := attrs[i]
		if !d.Attr.Equal(a.Attr) {
			f.log.Warnf("event %d differs between EVENT_DESC and attrs section", i)
		}
		if len(d.IDs) == 0 && len(a.IDs) != 0 {
			d.IDs = a.IDs
		} else if len(d.IDs) != len(a.IDs) {
			f.log.Warnf("event %d has %d IDs in EVENT_DESC and %d in attrs section", i, len(d.IDs), len(a.IDs))
		}
	}
}

// applyFeature updates f from the contents of a feature section.
func (f *File) applyFeature(bit Feature, data []byte) error {
	f.secData[bit] = data
	switch bit {
	case FeatureEventDesc:
		events, err := parseEventDesc(data)
		if err != nil {
			return err
		}
		for i, ev := range events {
			if old := f.matchEvent(i, ev); old != nil {
				// A repeat of an event from a HEADER_ATTR
				// record, which lacks the name.
				if old.Name == "" {
					old.Name = ev.Name
				}
				continue
			}
			if _, err := f.events.add(ev, f.pipe); err != nil {
				return err
			}
		}
		return nil
	case FeatureAuxtrace:
		// Read on demand by AuxData.
		return nil
	}
	if err := f.Meta.parse(bit, data); err != nil {
		return &StructuralError{Offset: int64(f.sections[bit].Offset), Msg: "malformed feature section", Err: err}
	}
	if bit == FeatureBuildID {
		for _, b := range f.Meta.BuildIDs {
			f.buildIDs[buildIDKey{b.PID, b.Filename}] = b.BuildID
		}
	}
	return nil
}

// matchEvent returns the known event that ev, the i'th event of an
// EVENT_DESC section, describes again, or nil. An event with IDs
// matches if all of its IDs belong to one known event. An event
// without IDs matches the i'th known event if their attributes are
// identical.
func (f *File) matchEvent(i int, ev *EventDesc) *EventDesc {
	if len(ev.IDs) > 0 {
		old := f.events.byID[ev.IDs[0]]
		for _, id := range ev.IDs[1:] {
			if f.events.byID[id] != old {
				return nil
			}
		}
		return old
	}
	if i < len(f.events.events) {
		if old := f.events.events[i]; len(old.IDs) == 0 && old.Attr.Equal(ev.Attr) {
			return old
		}
	}
	return nil
}

// readStreamMeta consumes the metadata records at the start of a
// pipe and saves the first other record for iteration.
func (f *File) readStreamMeta() error {
	for {
		raw, err := f.streamRR.next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		f.readAhead = append(f.readAhead, raw)
		switch raw.Type() {
		case RecordTypeHeaderAttr, RecordTypeHeaderFeature:
			if _, err := f.applyMeta(raw); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// applyMeta updates f from a pipe-mode metadata record or a build ID
// record, and reports whether raw was one.
func (f *File) applyMeta(raw *RawRecord) (bool, error) {
	typ := raw.Type()
	if typ != RecordTypeHeaderAttr && typ != RecordTypeHeaderFeature && typ != RecordTypeBuildID {
		return false, nil
	}
	rec, err := raw.Decode(nil)
	if err != nil {
		return true, err
	}
	if raw.Offset >= 0 {
		if f.seenMeta[raw.Offset] {
			return true, nil
		}
		f.seenMeta[raw.Offset] = true
	}
	switch r := rec.(type) {
	case *RecordHeaderAttr:
		if _, err := f.events.add(&EventDesc{Attr: r.Attr, IDs: r.IDs}, true); err != nil {
			return true, err
		}
	case *RecordHeaderFeature:
		if err := f.applyFeature(r.Feature, r.Data); err != nil {
			return true, err
		}
	case *RecordBuildID:
		f.buildIDs[buildIDKey{r.PID, r.Filename}] = BuildID(r.BuildID)
	}
	return true, nil
}

// Pipe reports whether f is in pipe mode, which lacks a section table.
func (f *File) Pipe() bool {
	return f.pipe
}

// Name returns the name f was opened with, if any.
func (f *File) Name() string {
	return f.name
}

// Events returns the events recorded in f, in index order.
func (f *File) Events() []*EventDesc {
	return f.events.events
}

// EventByID returns the event with the given instance ID.
func (f *File) EventByID(id uint64) (*EventDesc, bool) {
	ev, ok := f.events.byID[id]
	return ev, ok
}

// Layout returns the map of sections in f. It is empty in pipe mode.
func (f *File) Layout() *datamap.Map {
	return f.layout
}

// Features returns the features present in f, in order.
func (f *File) Features() []Feature {
	var out []Feature
	for bit := range f.secData {
		out = append(out, bit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FeatureData returns the raw contents of feature section bit.
func (f *File) FeatureData(bit Feature) ([]byte, bool) {
	data, ok := f.secData[bit]
	return data, ok
}

// LookupBuildID returns the build ID recorded for filename in
// process pid, falling back to the kernel's entries (pid -1). The
// anonymous mapping "//anon" never has a build ID.
func (f *File) LookupBuildID(pid int, filename string) (BuildID, bool) {
	if filename == "//anon" {
		return nil, false
	}
	if id, ok := f.buildIDs[buildIDKey{pid, filename}]; ok {
		return id, true
	}
	id, ok := f.buildIDs[buildIDKey{-1, filename}]
	return id, ok
}

// AuxtraceInfo returns the RecordAuxtraceInfo record seen in f, or
// nil if none has been read yet.
func (f *File) AuxtraceInfo() *RecordAuxtraceInfo {
	return f.auxtraceInfo
}

// String returns a short description of f for diagnostics.
func (f *File) String() string {
	var b bytes.Buffer
	mode := "file"
	if f.pipe {
		mode = "pipe"
	}
	fmt.Fprintf(&b, "perf.data %s", mode)
	if f.name != "" {
		fmt.Fprintf(&b, " %s", f.name)
	}
	fmt.Fprintf(&b, " (%d events)", len(f.events.events))
	return b.String()
}
