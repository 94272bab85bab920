// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// A decompressor expands RecordTypeCompressed records into the
// records they contain. A record may be split across the end of one
// compressed record and the start of the next.
type decompressor struct {
	dec  *zstd.Decoder
	rest []byte
}

// expand decompresses the payload of raw and returns the complete
// records it yields. The returned records have Offset -1.
func (d *decompressor) expand(raw *RawRecord) ([]*RawRecord, error) {
	payload := raw.Payload()
	if len(payload) < 4 || binary.LittleEndian.Uint32(payload) != zstdMagic {
		var got uint64
		if len(payload) >= 4 {
			got = uint64(binary.LittleEndian.Uint32(payload))
		}
		return nil, &StructuralError{Offset: raw.Offset, Msg: "bad zstd magic in COMPRESSED record", Want: zstdMagic, Got: got}
	}
	if d.dec == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		d.dec = dec
	}
	buf, err := d.dec.DecodeAll(payload, d.rest)
	if err != nil {
		return nil, &StructuralError{Offset: raw.Offset, Msg: "decompressing COMPRESSED record", Err: err}
	}
	d.rest = nil

	var out []*RawRecord
	for len(buf) >= recordHeaderSize {
		size := int(binary.LittleEndian.Uint16(buf[6:]))
		if size < recordHeaderSize {
			return nil, &StructuralError{Offset: raw.Offset, Msg: "bad record size in COMPRESSED record", Want: recordHeaderSize, Got: uint64(size)}
		}
		if size > len(buf) {
			break
		}
		rec := make([]byte, size)
		copy(rec, buf)
		out = append(out, &RawRecord{Offset: -1, buf: rec})
		buf = buf[size:]
	}
	if len(buf) > 0 {
		d.rest = append([]byte(nil), buf...)
	}
	return out, nil
}

// finish reports an error if a record was left incomplete.
func (d *decompressor) finish() error {
	if len(d.rest) > 0 {
		return structuralf(-1, "%d bytes of incomplete record after last COMPRESSED record", len(d.rest))
	}
	return nil
}

func (d *decompressor) close() {
	if d.dec != nil {
		d.dec.Close()
		d.dec = nil
	}
}

// A compressor packs encoded records into RecordTypeCompressed
// records, each holding one zstd frame.
type compressor struct {
	enc   *zstd.Encoder
	level int
	buf   []byte
}

func newCompressor(level int) (*compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("perffile: creating zstd encoder: %w", err)
	}
	return &compressor{enc: enc, level: level}, nil
}

// add queues an encoded record. It reports whether the queue should
// be flushed before more records are added.
func (c *compressor) add(rec []byte) bool {
	c.buf = append(c.buf, rec...)
	return len(c.buf) >= maxRecordSize/2
}

// flush returns the queued records as encoded COMPRESSED records.
// Each COMPRESSED record must fit in a record header's size field,
// so the queue is split as needed.
func (c *compressor) flush() ([][]byte, error) {
	var out [][]byte
	data := c.buf
	c.buf = c.buf[:0]
	for len(data) > 0 {
		// Take whole records until the uncompressed chunk is
		// large enough that its frame might not fit.
		n := 0
		for n < len(data) {
			size := int(binary.LittleEndian.Uint16(data[n+6:]))
			if n > 0 && n+size > maxRecordSize/2 {
				break
			}
			n += size
		}
		frame := c.enc.EncodeAll(data[:n], nil)
		if recordHeaderSize+len(frame) > maxRecordSize {
			return nil, fmt.Errorf("perffile: compressed record of %d bytes too large", len(frame))
		}
		rec, err := encodeRecord(&RecordCompressed{Data: frame}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		data = data[n:]
	}
	return out, nil
}

func (c *compressor) close() error {
	return c.enc.Close()
}
