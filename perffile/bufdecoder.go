// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"encoding/binary"
)

// bufDecoder consumes fixed-layout fields from the front of buf.
//
// Reads past the end of buf never panic. Instead they return zero
// values, empty buf, and set short. Callers check short once after
// decoding a structure.
type bufDecoder struct {
	buf   []byte
	order binary.ByteOrder
	short bool
}

func (b *bufDecoder) take(n int) []byte {
	if n < 0 || n > len(b.buf) {
		b.short = true
		b.buf = b.buf[len(b.buf):]
		return nil
	}
	x := b.buf[:n]
	b.buf = b.buf[n:]
	return x
}

func (b *bufDecoder) skip(n int) {
	b.take(n)
}

func (b *bufDecoder) bytes(x []byte) {
	copy(x, b.take(len(x)))
}

func (b *bufDecoder) u8() uint8 {
	if x := b.take(1); x != nil {
		return x[0]
	}
	return 0
}

func (b *bufDecoder) u16() uint16 {
	if x := b.take(2); x != nil {
		return b.order.Uint16(x)
	}
	return 0
}

func (b *bufDecoder) u32() uint32 {
	if x := b.take(4); x != nil {
		return b.order.Uint32(x)
	}
	return 0
}

func (b *bufDecoder) i32() int32 {
	return int32(b.u32())
}

func (b *bufDecoder) u64() uint64 {
	if x := b.take(8); x != nil {
		return b.order.Uint64(x)
	}
	return 0
}

func (b *bufDecoder) i64() int64 {
	return int64(b.u64())
}

func (b *bufDecoder) u64s(x []uint64) {
	for i := range x {
		x[i] = b.u64()
	}
}

func (b *bufDecoder) u32If(cond bool) uint32 {
	if cond {
		return b.u32()
	}
	return 0
}

func (b *bufDecoder) i32If(cond bool) int32 {
	if cond {
		return b.i32()
	}
	return 0
}

func (b *bufDecoder) u64If(cond bool) uint64 {
	if cond {
		return b.u64()
	}
	return 0
}

func (b *bufDecoder) section() fileSection {
	return fileSection{Offset: b.u64(), Size: b.u64()}
}

// peekI64 returns the next int64 without consuming it.
func (b *bufDecoder) peekI64() (int64, bool) {
	if len(b.buf) < 8 {
		return 0, false
	}
	return int64(b.order.Uint64(b.buf)), true
}

// cstring consumes a NUL-terminated string. If there is no NUL, it
// consumes the rest of buf and reports ok == false.
func (b *bufDecoder) cstring() (s string, ok bool) {
	i := bytes.IndexByte(b.buf, 0)
	if i < 0 {
		s = string(b.buf)
		b.buf = b.buf[len(b.buf):]
		return s, false
	}
	s = string(b.buf[:i])
	b.buf = b.buf[i+1:]
	return s, true
}

// paddedString consumes a NUL-terminated string that fills the rest
// of buf, followed by NUL padding. It reports ok == false if the NUL
// is missing or the padding contains anything other than NULs.
func (b *bufDecoder) paddedString() (string, bool) {
	s, ok := b.cstring()
	for _, c := range b.buf {
		if c != 0 {
			ok = false
			break
		}
	}
	b.buf = b.buf[len(b.buf):]
	return s, ok
}

// lenString consumes a u32 length followed by a NUL-padded string of
// that many bytes.
func (b *bufDecoder) lenString() string {
	l := b.u32()
	if uint64(l) > uint64(len(b.buf)) {
		b.short = true
		l = uint32(len(b.buf))
	}
	s, _ := (&bufDecoder{buf: b.take(int(l))}).cstring()
	return s
}

func (b *bufDecoder) stringList() []string {
	out := []string{}
	count := b.u32()
	for i := uint32(0); i < count && !b.short; i++ {
		out = append(out, b.lenString())
	}
	return out
}

// bufEncoder is the inverse of bufDecoder. It always encodes little
// endian.
type bufEncoder struct {
	buf []byte
}

func (b *bufEncoder) bytes(x []byte) {
	b.buf = append(b.buf, x...)
}

func (b *bufEncoder) zeros(n int) {
	for ; n > 0; n-- {
		b.buf = append(b.buf, 0)
	}
}

func (b *bufEncoder) u16(x uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, x)
}

func (b *bufEncoder) u32(x uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, x)
}

func (b *bufEncoder) i32(x int32) {
	b.u32(uint32(x))
}

func (b *bufEncoder) u64(x uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, x)
}

func (b *bufEncoder) section(s fileSection) {
	b.u64(s.Offset)
	b.u64(s.Size)
}

// cstring appends s, a NUL, and NUL padding to a multiple of align
// bytes.
func (b *bufEncoder) cstring(s string, align int) {
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	for len(b.buf)%align != 0 {
		b.buf = append(b.buf, 0)
	}
}

// lenString appends s in the u32 length + NUL-padded string layout
// used by perf header sections.
func (b *bufEncoder) lenString(s string) {
	n := (len(s) + 1 + 63) &^ 63
	b.u32(uint32(n))
	start := len(b.buf)
	b.buf = append(b.buf, s...)
	b.zeros(n - (len(b.buf) - start))
}

func (b *bufEncoder) stringList(ss []string) {
	b.u32(uint32(len(ss)))
	for _, s := range ss {
		b.lenString(s)
	}
}
