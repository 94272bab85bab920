// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package perffile reads and writes Linux perf.data profiles.
//
// Reading a perf.data profile starts with a call to New, Open, or
// NewStream. A profile consists of a sequence of records, which can
// be retrieved with File.Records, as well as metadata in File.Meta
// and the event descriptions returned by File.Events.
//
// Records are framed without decoding and decoded on demand against
// the event that produced them; see RawRecord.
//
// A Writer produces profiles in either the seekable or the pipe
// format.
package perffile // import "github.com/aclements/go-perfdata/perffile"
