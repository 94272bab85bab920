// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import "fmt"

// A StructuralError reports a malformed perf.data file or stream,
// such as a bad magic number, a truncated section, overlapping
// sections, or duplicate event IDs.
type StructuralError struct {
	File   string // File name, if known
	Offset int64  // Byte offset of the problem, or -1
	Msg    string

	// Want and Got give the expected and actual values, if the
	// error is a mismatch. Both are 0 otherwise.
	Want, Got uint64

	Err error // Underlying cause, if any
}

func (e *StructuralError) Error() string {
	s := "perffile: "
	if e.File != "" {
		s += e.File + ": "
	}
	s += e.Msg
	if e.Offset >= 0 {
		s += fmt.Sprintf(" at offset %#x", e.Offset)
	}
	if e.Want != 0 || e.Got != 0 {
		s += fmt.Sprintf(" (want %d, got %d)", e.Want, e.Got)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

func structuralf(offset int64, format string, args ...interface{}) *StructuralError {
	return &StructuralError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// An AssociationError reports a kernel record that cannot be matched
// to an event descriptor, so its fields cannot be decoded.
type AssociationError struct {
	Offset int64 // Byte offset of the record, or -1
	Type   RecordType
	ID     uint64 // The event ID that failed to resolve, if any
	HasID  bool
}

func (e *AssociationError) Error() string {
	where := ""
	if e.Offset >= 0 {
		where = fmt.Sprintf(" at offset %#x", e.Offset)
	}
	if e.HasID {
		return fmt.Sprintf("perffile: %v record%s has unknown event ID %d", e.Type, where, e.ID)
	}
	return fmt.Sprintf("perffile: %v record%s has no event descriptor", e.Type, where)
}

// An IOError wraps a failure to read, write or seek the underlying
// file.
type IOError struct {
	Op     string // "read", "write" or "seek"
	Offset int64
	Len    int
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("perffile: %s of %d bytes at offset %#x: %v", e.Op, e.Len, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
