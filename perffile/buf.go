// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// recordReader frames records from a sequential byte stream and
// tracks the offset of each record in the underlying file or stream.
//
// It is used for both the data section of a seekable file and for
// pipes, so it never seeks.
type recordReader struct {
	br  *bufio.Reader
	pos int64 // offset of the next unread byte
	end int64 // offset of the end of the stream, or -1 if unbounded
}

func newRecordReader(r io.Reader, pos, end int64) *recordReader {
	return &recordReader{
		br:  bufio.NewReaderSize(r, 64<<10),
		pos: pos,
		end: end,
	}
}

// next reads the next record. It returns io.EOF at a clean end of
// the stream.
func (r *recordReader) next() (*RawRecord, error) {
	if r.end >= 0 && r.pos >= r.end {
		return nil, io.EOF
	}
	var hdrBuf [recordHeaderSize]byte
	start := r.pos
	n, err := io.ReadFull(r.br, hdrBuf[:])
	r.pos += int64(n)
	if err == io.EOF {
		return nil, io.EOF
	} else if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, structuralf(start, "truncated record header")
	} else if err != nil {
		return nil, &IOError{Op: "read", Offset: start, Len: recordHeaderSize, Err: err}
	}

	size := int(binary.LittleEndian.Uint16(hdrBuf[6:]))
	if size < recordHeaderSize {
		return nil, &StructuralError{Offset: start, Msg: "bad record size", Want: recordHeaderSize, Got: uint64(size)}
	}
	if r.end >= 0 && start+int64(size) > r.end {
		return nil, structuralf(start, "record extends past end of data section")
	}
	buf := make([]byte, size)
	copy(buf, hdrBuf[:])
	if _, err := r.readFull(buf[recordHeaderSize:]); err != nil {
		return nil, err
	}
	return &RawRecord{Offset: start, buf: buf}, nil
}

// readFull reads exactly len(buf) bytes.
func (r *recordReader) readFull(buf []byte) (int, error) {
	start := r.pos
	n, err := io.ReadFull(r.br, buf)
	r.pos += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
		return n, &StructuralError{Offset: start, Msg: "truncated record", Want: uint64(len(buf)), Got: uint64(n)}
	} else if err != nil {
		return n, &IOError{Op: "read", Offset: start, Len: len(buf), Err: err}
	}
	return n, nil
}

// readData reads the n bytes of trace data that follow a record. If
// the end of the stream is unknown, the result grows only as bytes
// arrive, so a corrupt size cannot force a huge allocation.
func (r *recordReader) readData(n uint64) ([]byte, error) {
	start := r.pos
	if err := r.checkData(n); err != nil {
		return nil, err
	}
	if r.end >= 0 {
		buf := make([]byte, n)
		_, err := r.readFull(buf)
		return buf, err
	}
	var buf bytes.Buffer
	m, err := io.CopyN(&buf, r.br, int64(n))
	r.pos += m
	if err == io.EOF {
		return nil, &StructuralError{Offset: start, Msg: "truncated AUXTRACE data", Want: n, Got: uint64(m)}
	} else if err != nil {
		return nil, &IOError{Op: "read", Offset: r.pos, Len: int(n - uint64(m)), Err: err}
	}
	return buf.Bytes(), nil
}

// checkData checks that n bytes of trace data fit before the end of
// the stream.
func (r *recordReader) checkData(n uint64) error {
	if n > 1<<62 || (r.end >= 0 && n > uint64(r.end-r.pos)) {
		return &StructuralError{Offset: r.pos, Msg: "AUXTRACE data extends past end of data", Want: n}
	}
	return nil
}

// discard skips n bytes.
func (r *recordReader) discard(n int64) error {
	start := r.pos
	for n > 0 {
		chunk := n
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		m, err := r.br.Discard(int(chunk))
		r.pos += int64(m)
		n -= int64(m)
		if err == io.EOF {
			return structuralf(start, "truncated AUXTRACE data")
		} else if err != nil {
			return &IOError{Op: "read", Offset: r.pos, Len: int(chunk), Err: err}
		}
	}
	return nil
}

// readAt reads len(buf) bytes at off from r, wrapping failures.
func readAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == io.EOF || err == nil {
		return &StructuralError{Offset: off, Msg: "unexpected end of file", Want: uint64(len(buf)), Got: uint64(n)}
	}
	return &IOError{Op: "read", Offset: off, Len: len(buf), Err: err}
}

// readSection reads n bytes at off from r, where size is the size of
// r or -1 if it is unknown. With an unknown size the buffer grows only
// as bytes are actually read.
func readSection(r io.ReaderAt, off int64, n uint64, size int64) ([]byte, error) {
	if off < 0 || n > 1<<62 {
		return nil, &StructuralError{Offset: off, Msg: "section out of range", Got: n}
	}
	if size >= 0 {
		if off > size || n > uint64(size-off) {
			var have uint64
			if off < size {
				have = uint64(size - off)
			}
			return nil, &StructuralError{Offset: off, Msg: "unexpected end of file", Want: n, Got: have}
		}
		buf := make([]byte, n)
		return buf, readAt(r, buf, off)
	}
	var buf bytes.Buffer
	m, err := io.CopyN(&buf, io.NewSectionReader(r, off, int64(n)), int64(n))
	if err == io.EOF {
		return nil, &StructuralError{Offset: off, Msg: "unexpected end of file", Want: n, Got: uint64(m)}
	} else if err != nil {
		return nil, &IOError{Op: "read", Offset: off + m, Len: int(n - uint64(m)), Err: err}
	}
	return buf.Bytes(), nil
}

// readRecordAt reads the record at off.
func readRecordAt(r io.ReaderAt, off int64) (*RawRecord, error) {
	var hdrBuf [recordHeaderSize]byte
	if err := readAt(r, hdrBuf[:], off); err != nil {
		return nil, err
	}
	size := int(binary.LittleEndian.Uint16(hdrBuf[6:]))
	if size < recordHeaderSize {
		return nil, &StructuralError{Offset: off, Msg: "bad record size", Want: recordHeaderSize, Got: uint64(size)}
	}
	buf := make([]byte, size)
	if err := readAt(r, buf, off); err != nil {
		return nil, err
	}
	return &RawRecord{Offset: off, buf: buf}, nil
}
