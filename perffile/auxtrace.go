// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
)

// An AuxtraceHandler interprets the format-specific parts of a
// hardware trace. Its AuxtraceInfo method is called when a File
// reads the RecordAuxtraceInfo record for its format.
type AuxtraceHandler interface {
	AuxtraceInfo(f *File, info *RecordAuxtraceInfo) error
}

// An AuxtraceReporter is an AuxtraceHandler that can also describe
// its records for dumps.
type AuxtraceReporter interface {
	AuxtraceHandler

	ReportAuxtraceInfo(w io.Writer, info *RecordAuxtraceInfo) error
	ReportAuxtrace(w io.Writer, rec *RecordAuxtrace) error
}

// An AuxtraceRegistry maps hardware trace formats to their handlers.
// It is safe for concurrent use.
type AuxtraceRegistry struct {
	mu       sync.RWMutex
	handlers map[AuxtraceType]AuxtraceHandler
}

// NewAuxtraceRegistry returns an empty registry.
func NewAuxtraceRegistry() *AuxtraceRegistry {
	return &AuxtraceRegistry{handlers: make(map[AuxtraceType]AuxtraceHandler)}
}

// Register sets the handler for trace format kind, replacing any
// previous handler.
func (r *AuxtraceRegistry) Register(kind AuxtraceType, h AuxtraceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Lookup returns the handler for kind.
func (r *AuxtraceRegistry) Lookup(kind AuxtraceType) (AuxtraceHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered trace formats in order.
func (r *AuxtraceRegistry) Kinds() []AuxtraceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AuxtraceType
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// handleAuxtraceInfo fixes f's trace format and invokes its handler.
func (f *File) handleAuxtraceInfo(info *RecordAuxtraceInfo) error {
	if f.auxtraceInfo != nil {
		if f.auxtraceInfo.Offset == info.Offset && info.Offset >= 0 {
			return nil
		}
		return structuralf(info.Offset, "multiple AUXTRACE_INFO records (first at %#x)", f.auxtraceInfo.Offset)
	}
	f.auxtraceInfo = info
	if h, ok := f.auxtrace.Lookup(info.Kind); ok {
		if err := h.AuxtraceInfo(f, info); err != nil {
			return fmt.Errorf("%v auxtrace info: %w", info.Kind, err)
		}
	}
	return nil
}

// auxLinker pairs RecordAux records with the RecordAuxtrace record
// that carries their data.
type auxLinker struct {
	f *File

	// event is the event that produced the AUX records. All AUX
	// records in a profile come from one event.
	event   *EventDesc
	pending map[uint64][]*RecordAux

	// itraceTID is the TID of the last ITRACE_START record, if
	// sawItrace.
	itraceTID int
	sawItrace bool
}

// itraceStart notes the thread of an ITRACE_START record. The pid and
// tid lead the payload, so this needs no event association.
func (l *auxLinker) itraceStart(raw *RawRecord) {
	p := raw.Payload()
	if len(p) < 8 {
		return
	}
	l.itraceTID = int(int32(binary.LittleEndian.Uint32(p[4:])))
	l.sawItrace = true
}

func (l *auxLinker) aux(r *RecordAux) error {
	ev, ok := l.f.EventByID(r.ID)
	if !ok {
		if len(l.f.events.events) != 1 {
			return &AssociationError{Offset: r.Offset, Type: RecordTypeAux, ID: r.ID, HasID: true}
		}
		ev = l.f.events.events[0]
	}
	if l.event == nil {
		l.event = ev
	} else if l.event != ev {
		return structuralf(r.Offset, "AUX records from events #%d and #%d", l.event.Index, ev.Index)
	}
	if l.pending == nil {
		l.pending = make(map[uint64][]*RecordAux)
	}
	l.pending[r.ID] = append(l.pending[r.ID], r)
	return nil
}

func (l *auxLinker) auxtrace(r *RecordAuxtrace) {
	r.ItraceTID = -1
	if l.sawItrace {
		r.ItraceTID = l.itraceTID
	}
	if l.f.auxtraceInfo == nil {
		l.f.log.Warnf("AUXTRACE record at %#x precedes AUXTRACE_INFO", r.Offset)
	}
	if l.event == nil {
		l.f.log.Warnf("no AUX record seen before AUXTRACE record at %#x", r.Offset)
		r.Aux = nil
		return
	}
	id := uint64(r.Idx)
	if len(l.event.IDs) > 0 {
		if int(r.Idx) >= len(l.event.IDs) {
			l.f.log.Warnf("AUXTRACE record at %#x has index %d but event has %d IDs", r.Offset, r.Idx, len(l.event.IDs))
			return
		}
		id = l.event.IDs[r.Idx]
	}
	r.ID = id
	r.Aux = l.pending[id]
	delete(l.pending, id)
}

// auxtraceIndexEntry locates one RecordAuxtrace record in the file.
type auxtraceIndexEntry struct {
	Offset, Size uint64
}

func parseAuxtraceIndex(data []byte) []auxtraceIndexEntry {
	bd := &bufDecoder{buf: data, order: binary.LittleEndian}
	var out []auxtraceIndexEntry
	for len(bd.buf) >= 8 {
		n := bd.u64()
		if n > uint64(len(bd.buf)/16) {
			break
		}
		for i := uint64(0); i < n; i++ {
			out = append(out, auxtraceIndexEntry{bd.u64(), bd.u64()})
		}
	}
	return out
}

func encodeAuxtraceIndex(ents []auxtraceIndexEntry) []byte {
	var e bufEncoder
	e.u64(uint64(len(ents)))
	for _, ent := range ents {
		e.u64(ent.Offset)
		e.u64(ent.Size)
	}
	return e.buf
}

// auxtraceBuffers returns the RecordAuxtrace records listed in the
// AUXTRACE feature section.
func (f *File) auxtraceBuffers() ([]*RecordAuxtrace, error) {
	if f.auxIndexRead {
		return f.auxBuffers, nil
	}
	if f.r == nil {
		return nil, fmt.Errorf("perffile: AUXTRACE index unavailable in a stream")
	}
	data, ok := f.secData[FeatureAuxtrace]
	if !ok {
		f.auxIndexRead = true
		return nil, nil
	}
	for _, ent := range parseAuxtraceIndex(data) {
		raw, err := readRecordAt(f.r, int64(ent.Offset))
		if err != nil {
			return nil, err
		}
		if raw.Type() != RecordTypeAuxtrace {
			return nil, structuralf(int64(ent.Offset), "AUXTRACE index entry points to %v record", raw.Type())
		}
		rec, err := raw.Decode(nil)
		if err != nil {
			return nil, err
		}
		at := rec.(*RecordAuxtrace)
		at.DataOffset = raw.Offset + int64(len(raw.buf))
		f.auxBuffers = append(f.auxBuffers, at)
	}
	f.auxIndexRead = true
	return f.auxBuffers, nil
}

// AuxData returns the hardware trace bytes described by aux. It
// returns an empty slice if aux describes no data, and an error if
// no AUXTRACE buffer listed in the file's index contains them.
//
// AuxData requires a seekable file.
func (f *File) AuxData(aux *RecordAux) ([]byte, error) {
	if aux.AuxSize == 0 {
		return []byte{}, nil
	}
	idx := aux.ID
	if ev, ok := f.EventByID(aux.ID); ok && len(ev.IDs) > 0 {
		idx = uint64(ev.idIndex(aux.ID))
	}
	bufs, err := f.auxtraceBuffers()
	if err != nil {
		return nil, err
	}
	for _, b := range bufs {
		if uint64(b.Idx) != idx {
			continue
		}
		if aux.AuxOffset < b.AuxOffset || aux.AuxOffset+aux.AuxSize > b.AuxOffset+b.Size {
			continue
		}
		return readSection(f.r, b.DataOffset+int64(aux.AuxOffset-b.AuxOffset), aux.AuxSize, f.size)
	}
	return nil, structuralf(aux.Offset, "no AUXTRACE buffer holds AUX data at %#x+%#x", aux.AuxOffset, aux.AuxSize)
}
