// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aclements/go-perfdata/perffile"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func newRewriteCmd(root *rootConfig) *ffcli.Command {
	fs := flag.NewFlagSet("perfdump rewrite", flag.ContinueOnError)
	out := fs.String("o", "", "output `file`; - writes a pipe to stdout")
	pipe := fs.Bool("pipe", false, "write pipe format even to a file")
	level := fs.Int("compress", 0, "compress records at zstd `level`; 0 disables compression")
	fillHost := fs.Bool("fill-host", false, "fill missing environment headers from this machine")
	return &ffcli.Command{
		Name:       "rewrite",
		ShortUsage: "perfdump rewrite -o file [-pipe] [-compress level] [-fill-host]",
		ShortHelp:  "rewrite a profile as a file or pipe",
		LongHelp: "rewrite copies every record of the input to the output,\n" +
			"converting between file and pipe formats and adding or\n" +
			"removing compression.",
		FlagSet: fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) > 0 || *out == "" {
				return flag.ErrHelp
			}
			f, err := root.open()
			if err != nil {
				return err
			}
			defer f.Close()

			meta := f.Meta
			if *fillHost {
				host, err := perffile.HostMeta("perfdump")
				if err != nil {
					return err
				}
				fillMeta(&meta, host)
			}

			var opts []perffile.WriterOption
			opts = append(opts, perffile.WithWriterLogger(root.log))
			if *pipe {
				opts = append(opts, perffile.WithPipe())
			}
			if *level > 0 {
				opts = append(opts, perffile.WithCompression(*level))
			}
			var dst io.Writer = root.stdout
			if *out != "-" {
				file, err := os.Create(*out)
				if err != nil {
					return err
				}
				defer file.Close()
				dst = file
			}
			n, err := rewrite(dst, f, &meta, opts...)
			if err != nil {
				return err
			}
			root.log.Infof("rewrote %d records", n)
			return nil
		},
	}
}

// rewrite copies the events and records of f to a new profile with
// metadata meta written to dst. It returns the number of records
// copied.
func rewrite(dst io.Writer, f *perffile.File, meta *perffile.FileMeta, opts ...perffile.WriterOption) (int, error) {
	w, err := perffile.NewWriter(dst, opts...)
	if err != nil {
		return 0, err
	}
	for _, ev := range f.Events() {
		if _, err := w.AddEvent(ev.Attr, ev.Name, ev.IDs); err != nil {
			return 0, err
		}
	}
	m := *meta
	// The Writer describes its own compression.
	m.Compression = nil
	if err := w.SetMeta(&m); err != nil {
		return 0, err
	}

	n := 0
	rs := f.Records(perffile.RecordsFileOrder)
	for rs.Next() {
		var data []byte
		if at, ok := rs.Record.(*perffile.RecordAuxtrace); ok {
			data = at.Data
			if uint64(len(data)) != at.Size {
				return n, fmt.Errorf("auxtrace record at %d: have %d of %d data bytes", at.Offset, len(data), at.Size)
			}
		}
		switch rs.Record.Type() {
		case perffile.RecordTypeHeaderAttr, perffile.RecordTypeHeaderFeature:
			continue
		}
		if err := w.WriteRaw(rs.Raw, data); err != nil {
			return n, err
		}
		n++
	}
	if err := rs.Err(); err != nil {
		return n, err
	}
	return n, w.Close()
}

// fillMeta sets the environment headers of m that are unset to those
// of host.
func fillMeta(m, host *perffile.FileMeta) {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&m.Hostname, host.Hostname)
	fill(&m.OSRelease, host.OSRelease)
	fill(&m.Version, host.Version)
	fill(&m.Arch, host.Arch)
	fill(&m.CPUDesc, host.CPUDesc)
	fill(&m.CPUID, host.CPUID)
	if m.CPUsAvail == 0 && m.CPUsOnline == 0 {
		m.CPUsAvail, m.CPUsOnline = host.CPUsAvail, host.CPUsOnline
	}
	if m.TotalMem == 0 {
		m.TotalMem = host.TotalMem
	}
}
