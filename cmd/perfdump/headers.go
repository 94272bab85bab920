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
	"sort"
	"strings"

	"github.com/aclements/go-perfdata/perffile"
	"github.com/olekukonko/tablewriter"
	"github.com/peterbourgon/ff/v3/ffcli"
	"gopkg.in/yaml.v2"
)

func newHeadersCmd(root *rootConfig) *ffcli.Command {
	fs := flag.NewFlagSet("perfdump headers", flag.ContinueOnError)
	asYAML := fs.Bool("yaml", false, "print headers as YAML")
	return &ffcli.Command{
		Name:       "headers",
		ShortUsage: "perfdump headers [-yaml]",
		ShortHelp:  "print the events and metadata headers",
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
			if *asYAML {
				return writeHeadersYAML(root.stdout, f)
			}
			return writeHeadersTable(root.stdout, f)
		},
	}
}

type header struct {
	label string
	val   interface{}
}

// headers returns the non-zero headers of f in display order.
func headers(f *perffile.File) []header {
	m := &f.Meta
	var features []string
	for _, ft := range f.Features() {
		features = append(features, ft.String())
	}
	var buildIDs []string
	for _, b := range m.BuildIDs {
		buildIDs = append(buildIDs, fmt.Sprintf("%v %d %s %s", b.CPUMode, b.PID, b.BuildID, b.Filename))
	}
	var pmus []string
	for typ, name := range m.PMUMappings {
		pmus = append(pmus, fmt.Sprintf("%d=%s", uint32(typ), name))
	}
	sort.Strings(pmus)
	var groups []string
	for _, g := range m.Groups {
		groups = append(groups, fmt.Sprintf("%s leader=%d members=%d", g.Name, g.Leader, g.NumMembers))
	}
	var numa []string
	for _, n := range m.NUMANodes {
		numa = append(numa, fmt.Sprintf("node%d total=%d free=%d cpus=%v", n.Node, n.MemTotal, n.MemFree, n.CPUs))
	}
	var compression string
	if c := m.Compression; c != nil {
		compression = fmt.Sprintf("type=%d level=%d ratio=%d", c.Type, c.Level, c.Ratio)
	}

	all := []header{
		{"hostname", m.Hostname},
		{"OS release", m.OSRelease},
		{"version", m.Version},
		{"arch", m.Arch},
		{"CPUs online", m.CPUsOnline},
		{"CPUs available", m.CPUsAvail},
		{"CPU desc", m.CPUDesc},
		{"CPUID", m.CPUID},
		{"total memory", m.TotalMem},
		{"cmdline", strings.Join(m.CmdLine, " ")},
		{"core groups", cpuSets(m.CoreGroups)},
		{"thread groups", cpuSets(m.ThreadGroups)},
		{"NUMA nodes", numa},
		{"PMU mappings", pmus},
		{"groups", groups},
		{"clock resolution", m.ClockResolution},
		{"first sample time", m.SampleTimeFirst},
		{"last sample time", m.SampleTimeLast},
		{"compression", compression},
		{"build IDs", buildIDs},
		{"features", features},
	}
	out := all[:0]
	for _, h := range all {
		if reflect.ValueOf(h.val).IsZero() {
			continue
		}
		out = append(out, h)
	}
	return out
}

func cpuSets(sets []perffile.CPUSet) []string {
	var out []string
	for _, s := range sets {
		out = append(out, s.String())
	}
	return out
}

func writeHeadersTable(w io.Writer, f *perffile.File) error {
	events := tablewriter.NewWriter(w)
	events.SetHeader([]string{"Index", "Event", "IDs", "Attr"})
	events.SetAutoWrapText(false)
	for _, ev := range f.Events() {
		events.Append([]string{fmt.Sprint(ev.Index), ev.String(), fmt.Sprint(ev.IDs), ev.Attr.String()})
	}
	events.Render()

	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Header", "Value"})
	table.SetAutoWrapText(false)
	for _, h := range headers(f) {
		var val string
		if ss, ok := h.val.([]string); ok {
			val = strings.Join(ss, "\n")
		} else {
			val = fmt.Sprint(h.val)
		}
		table.Append([]string{h.label, val})
	}
	table.Render()
	return nil
}

func writeHeadersYAML(w io.Writer, f *perffile.File) error {
	var events []yaml.MapSlice
	for _, ev := range f.Events() {
		events = append(events, yaml.MapSlice{
			{Key: "name", Value: ev.String()},
			{Key: "ids", Value: ev.IDs},
			{Key: "attr", Value: ev.Attr.String()},
		})
	}
	doc := yaml.MapSlice{
		{Key: "file", Value: f.Name()},
		{Key: "pipe", Value: f.Pipe()},
		{Key: "events", Value: events},
	}
	for _, h := range headers(f) {
		doc = append(doc, yaml.MapItem{Key: h.label, Value: h.val})
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
