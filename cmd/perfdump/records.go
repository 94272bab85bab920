// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"reflect"

	"github.com/aclements/go-perfdata/auxtrace"
	"github.com/aclements/go-perfdata/perffile"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func newRecordsCmd(root *rootConfig) *ffcli.Command {
	fs := flag.NewFlagSet("perfdump records", flag.ContinueOnError)
	order := fs.String("order", "", "sort `order`; one of: file, time (default time, or file for pipes)")
	aux := fs.Bool("aux", true, "report hardware trace data")
	return &ffcli.Command{
		Name:       "records",
		ShortUsage: "perfdump records [-order file|time] [-aux=false]",
		ShortHelp:  "print every record, field by field",
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
			o := orderFor(f)
			if *order != "" {
				var ok bool
				if o, ok = parseOrder(*order); !ok {
					return fmt.Errorf("unknown order %q", *order)
				}
			}
			return dumpRecords(root.stdout, f, o, *aux)
		},
	}
}

// recordPrinter prints records using reflection.
type recordPrinter struct {
	w     io.Writer
	names map[*perffile.EventAttr]string
	aux   *perffile.AuxtraceRegistry
	info  *perffile.RecordAuxtraceInfo
}

func dumpRecords(w io.Writer, f *perffile.File, order perffile.RecordsOrder, reportAux bool) error {
	p := &recordPrinter{w: w, names: make(map[*perffile.EventAttr]string)}
	for _, ev := range f.Events() {
		p.names[ev.Attr] = ev.Name
	}
	if reportAux {
		p.aux = auxtrace.Default()
	}

	rs := f.Records(order)
	rs.SkipAuxtraceData = !reportAux
	for rs.Next() {
		if err := p.print(rs.Record); err != nil {
			return err
		}
	}
	return rs.Err()
}

func (p *recordPrinter) print(rec perffile.Record) error {
	fmt.Fprintf(p.w, "%v{\n", rec.Type())
	switch r := rec.(type) {
	case *perffile.RecordSample:
		v := reflect.ValueOf(r).Elem()
		for _, n := range r.Fields() {
			fmt.Fprintf(p.w, "\t%s,\n", p.fmtVal(n, v.FieldByName(n)))
		}
	default:
		p.printFields(reflect.ValueOf(r))
	}
	fmt.Fprintf(p.w, "}\n")

	switch r := rec.(type) {
	case *perffile.RecordAuxtraceInfo:
		p.info = r
		if rep := p.reporter(r.Kind); rep != nil {
			return rep.ReportAuxtraceInfo(p.w, r)
		}
	case *perffile.RecordAuxtrace:
		if p.info == nil || r.Data == nil {
			break
		}
		if rep := p.reporter(p.info.Kind); rep != nil {
			return rep.ReportAuxtrace(p.w, r)
		}
	}
	return nil
}

func (p *recordPrinter) reporter(kind perffile.AuxtraceType) perffile.AuxtraceReporter {
	if p.aux == nil {
		return nil
	}
	h, ok := p.aux.Lookup(kind)
	if !ok {
		return nil
	}
	rep, _ := h.(perffile.AuxtraceReporter)
	return rep
}

func (p *recordPrinter) printFields(v reflect.Value) {
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		info := t.Field(i)
		f := v.Field(i)
		if !info.IsExported() {
			continue
		} else if info.Anonymous {
			p.printFields(f)
		} else if (f.Kind() == reflect.Ptr || f.Kind() == reflect.Slice) && f.IsNil() {
			// Skip
		} else {
			fmt.Fprintf(p.w, "\t%s,\n", p.fmtVal(info.Name, f))
		}
	}
}

func (p *recordPrinter) fmtVal(name string, v reflect.Value) string {
	label := name + ":"
	switch x := v.Interface().(type) {
	case *perffile.EventAttr:
		if n, ok := p.names[x]; ok {
			return fmt.Sprintf("%-14s %s", label, n)
		}
		return fmt.Sprintf("%-14s %v", label, x.Event())
	case []*perffile.RecordAux:
		offs := make([]uint64, len(x))
		for i, a := range x {
			offs[i] = a.AuxOffset
		}
		return fmt.Sprintf("%-14s %#x", label, offs)
	}
	switch name {
	case "IP", "Addr", "Callchain":
		return fmt.Sprintf("%-14s %#x", label, v.Interface())
	case "Data", "Raw", "Aux", "StackUser":
		if v.Kind() == reflect.Slice {
			return fmt.Sprintf("%-14s %d bytes", label, v.Len())
		}
	}
	if v.Kind() == reflect.Ptr {
		return fmt.Sprintf("%-14s %+v", label, v.Elem().Interface())
	}
	return fmt.Sprintf("%-14s %+v", label, v.Interface())
}
