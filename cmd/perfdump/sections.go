// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/aclements/go-perfdata/datamap"
	"github.com/aclements/go-perfdata/perffile"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func newSectionsCmd(root *rootConfig) *ffcli.Command {
	fs := flag.NewFlagSet("perfdump sections", flag.ContinueOnError)
	gaps := fs.Bool("gaps", false, "list only the bytes not covered by any section")
	return &ffcli.Command{
		Name:       "sections",
		ShortUsage: "perfdump sections [-gaps]",
		ShortHelp:  "print the byte layout of the file",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return flag.ErrHelp
			}
			f, err := root.open()
			if err != nil {
				return err
			}
			defer f.Close()
			return dumpSections(root.stdout, f, *gaps)
		},
	}
}

func dumpSections(w io.Writer, f *perffile.File, gapsOnly bool) error {
	if f.Pipe() {
		_, err := fmt.Fprintln(w, "pipe-mode profiles have no section layout")
		return err
	}
	layout := f.Layout()
	if err := layout.Check(); err != nil {
		return err
	}
	if !gapsOnly {
		return layout.Render(w)
	}
	var err error
	report := func(r *datamap.Range) {
		g := r.Unmapped()
		for g.Next() && err == nil {
			hole := g.Range()
			_, err = fmt.Fprintf(w, "%#-10x %#-10x in %s\n", hole.Base, hole.Limit(), hole.Parent())
		}
	}
	report(layout.Top())
	layout.Walk(func(depth int, r *datamap.Range) bool {
		if len(r.Children()) > 0 {
			report(r)
		}
		return err == nil
	})
	return err
}
