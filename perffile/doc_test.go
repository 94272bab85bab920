// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"fmt"
	"log"
)

func Example() {
	f, err := Open("perf.data")
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	rs := f.Records(RecordsTimeOrder)
	for rs.Next() {
		switch r := rs.Record.(type) {
		case *RecordSample:
			fmt.Printf("sample: %+v\n", r)
		}
	}
	if err := rs.Err(); err != nil {
		log.Fatal(err)
	}
}

func ExampleWriter() {
	attr := NewEventAttr(AttrSizeDefault)
	attr.SetEvent(EventHardwareCPUCycles)
	attr.SetSampleFormat(SampleFormatIP | SampleFormatTID | SampleFormatTime | SampleFormatID)
	attr.SetFlags(EventFlagSampleIDAll | EventFlagMmap)
	attr.SetSamplePeriod(1000)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, WithPipe())
	if err != nil {
		log.Fatal(err)
	}
	if _, err := w.AddEvent(attr, "cycles", []uint64{7}); err != nil {
		log.Fatal(err)
	}
	if err := w.SetMeta(&FileMeta{Hostname: "example"}); err != nil {
		log.Fatal(err)
	}
	mmap := &RecordMmap{Addr: 0x400000, Len: 0x1000, Filename: "/bin/example"}
	mmap.PID, mmap.TID, mmap.Time, mmap.ID = 1, 1, 10, 7
	sample := &RecordSample{IP: 0x400123}
	sample.PID, sample.TID, sample.Time, sample.ID = 1, 1, 20, 7
	for _, r := range []Record{mmap, sample} {
		if err := w.WriteRecord(r); err != nil {
			log.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	f, err := NewStream(&buf)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("host:", f.Meta.Hostname)
	fmt.Println("event:", f.Events()[0].Name)
	rs := f.Records(RecordsFileOrder)
	for rs.Next() {
		switch r := rs.Record.(type) {
		case *RecordMmap:
			fmt.Printf("mmap %#x-%#x %s\n", r.Addr, r.Addr+r.Len, r.Filename)
		case *RecordSample:
			fmt.Printf("sample pid %d ip %#x\n", r.PID, r.IP)
		}
	}
	if err := rs.Err(); err != nil {
		log.Fatal(err)
	}
	// Output:
	// host: example
	// event: cycles
	// mmap 0x400000-0x401000 /bin/example
	// sample pid 1 ip 0x400123
}
