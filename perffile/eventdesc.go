// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"fmt"
)

// An EventDesc is one event recorded in a profile: its attributes,
// its name if known, and the IDs of its instances (typically one per
// CPU or per thread).
type EventDesc struct {
	Attr *EventAttr
	Name string
	IDs  []uint64

	// Index is the position of this event in File.Events.
	Index int
}

func (e *EventDesc) String() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("%v", e.Attr.Event())
}

// idIndex returns the position of id in e.IDs, or -1.
func (e *EventDesc) idIndex(id uint64) int {
	for i, x := range e.IDs {
		if x == id {
			return i
		}
	}
	return -1
}

// eventTable maps event IDs to events. All events in a table share
// the locations of the ID field in records, since records must be
// associated with an event before they can be decoded.
type eventTable struct {
	events []*EventDesc
	byID   map[uint64]*EventDesc

	sampleIDOffset, recordIDOffset int
}

// add appends ev to t. In pipe mode, an event whose IDs are all
// already known is a repeat description and is dropped, and add
// reports false.
func (t *eventTable) add(ev *EventDesc, pipe bool) (bool, error) {
	if t.byID == nil {
		t.byID = make(map[uint64]*EventDesc)
	}
	if pipe && len(ev.IDs) > 0 {
		known := true
		for _, id := range ev.IDs {
			if t.byID[id] == nil {
				known = false
				break
			}
		}
		if known {
			return false, nil
		}
	}

	sf := ev.Attr.SampleFormat()
	sampleOff, recordOff := sf.sampleIDOffset(), sf.recordIDOffset()
	if len(t.events) == 0 {
		t.sampleIDOffset, t.recordIDOffset = sampleOff, recordOff
	} else if sampleOff != t.sampleIDOffset {
		return false, &StructuralError{Offset: -1, Msg: fmt.Sprintf("event #%d disagrees on sample ID offset", len(t.events)), Want: uint64(t.sampleIDOffset), Got: uint64(sampleOff)}
	} else if recordOff != t.recordIDOffset {
		return false, &StructuralError{Offset: -1, Msg: fmt.Sprintf("event #%d disagrees on record ID offset", len(t.events)), Want: uint64(int64(t.recordIDOffset)), Got: uint64(int64(recordOff))}
	}

	ev.Index = len(t.events)
	for _, id := range ev.IDs {
		if prev := t.byID[id]; prev != nil {
			return false, structuralf(-1, "event id %d is duplicated between descriptors #%d and #%d", id, prev.Index, ev.Index)
		}
	}
	for _, id := range ev.IDs {
		t.byID[id] = ev
	}
	t.events = append(t.events, ev)
	return true, nil
}

// forRecord returns the event that produced kernel record r. It
// returns nil, nil for records synthesized by the perf tool.
func (t *eventTable) forRecord(r *RawRecord) (*EventDesc, error) {
	if !r.Type().isKernel() {
		return nil, nil
	}
	if len(t.events) == 0 {
		return nil, &AssociationError{Offset: r.Offset, Type: r.Type()}
	}
	if len(t.events) == 1 {
		return t.events[0], nil
	}
	id, ok := r.peekID(t.sampleIDOffset, t.recordIDOffset)
	if !ok || id == 0 {
		// Records synthesized by perf, such as the initial
		// MMAPs, have no ID and belong to the default event.
		return t.events[0], nil
	}
	ev := t.byID[id]
	if ev == nil {
		return nil, &AssociationError{Offset: r.Offset, Type: r.Type(), ID: id, HasID: true}
	}
	return ev, nil
}

// parseEventDesc parses the EVENT_DESC feature section.
func parseEventDesc(data []byte) ([]*EventDesc, error) {
	bd := &bufDecoder{buf: data, order: binary.LittleEndian}
	n, attrSize := bd.u32(), int(bd.u32())
	if attrSize < AttrSizeV0 {
		return nil, &StructuralError{Offset: -1, Msg: "bad attribute size in EVENT_DESC", Want: AttrSizeV0, Got: uint64(attrSize)}
	}
	var out []*EventDesc
	for i := uint32(0); i < n; i++ {
		raw := bd.take(attrSize)
		if bd.short {
			break
		}
		attr, err := parseAttrEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("EVENT_DESC event %d: %w", i, err)
		}
		nIDs := bd.u32()
		name := bd.lenString()
		if uint64(nIDs) > uint64(len(bd.buf)/8) {
			bd.short = true
			break
		}
		ids := make([]uint64, nIDs)
		bd.u64s(ids)
		out = append(out, &EventDesc{Attr: attr, Name: name, IDs: ids})
	}
	if bd.short {
		return nil, structuralf(-1, "EVENT_DESC section truncated")
	}
	return out, nil
}

// parseAttrEntry parses an event attribute stored in a slot of
// len(raw) bytes. The attribute may be smaller than its slot.
func parseAttrEntry(raw []byte) (*EventAttr, error) {
	size := int(binary.LittleEndian.Uint32(raw[4:]))
	if size < AttrSizeV0 || size > len(raw) {
		return nil, &StructuralError{Offset: -1, Msg: "bad event attribute size", Want: uint64(len(raw)), Got: uint64(size)}
	}
	return ParseEventAttr(raw[:size])
}

func encodeEventDesc(events []*EventDesc) []byte {
	var e bufEncoder
	attrSize := AttrSizeV0
	for _, ev := range events {
		if ev.Attr.Size() > attrSize {
			attrSize = ev.Attr.Size()
		}
	}
	e.u32(uint32(len(events)))
	e.u32(uint32(attrSize))
	for _, ev := range events {
		e.bytes(ev.Attr.raw)
		e.zeros(attrSize - ev.Attr.Size())
		e.u32(uint32(len(ev.IDs)))
		e.lenString(ev.Name)
		for _, id := range ev.IDs {
			e.u64(id)
		}
	}
	return e.buf
}
