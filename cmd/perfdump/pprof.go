// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/aclements/go-perfdata/perffile"
	"github.com/aclements/go-perfdata/perfsession"
	"github.com/google/pprof/profile"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func newPprofCmd(root *rootConfig) *ffcli.Command {
	fs := flag.NewFlagSet("perfdump pprof", flag.ContinueOnError)
	out := fs.String("o", "", "write the profile to `file` instead of stdout")
	event := fs.String("event", "", "convert only samples of the event `name`")
	return &ffcli.Command{
		Name:       "pprof",
		ShortUsage: "perfdump pprof [-o file] [-event name]",
		ShortHelp:  "convert samples to a pprof profile",
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
			s := root.session(f)
			c := newPprofConverter(s, *event)
			if err := replay(f, s, c.add); err != nil {
				return err
			}
			p := c.profile()
			if err := p.CheckValid(); err != nil {
				return err
			}
			var w io.Writer = root.stdout
			if *out != "" {
				file, err := os.Create(*out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			root.log.Infof("converted %d samples into %d locations", c.samples, len(p.Location))
			return p.Write(w)
		},
	}
}

// callchainContextMin is the smallest callchain entry that marks a
// context switch (user, kernel, ...) rather than an address.
const callchainContextMin = ^uint64(4095)

type locKey struct {
	pid int
	ip  uint64
}

type funcKey struct {
	name, file string
}

type sampleKey struct {
	comm  string
	pid   int
	stack string
}

// pprofConverter accumulates samples into a pprof profile.
type pprofConverter struct {
	s     *perfsession.Session
	event string

	p         *profile.Profile
	mappings  map[*perfsession.Mmap]*profile.Mapping
	locations map[locKey]*profile.Location
	functions map[funcKey]*profile.Function
	sampleIdx map[sampleKey]*profile.Sample
	names     map[*perffile.EventAttr]string
	samples   int
	minTime   uint64
	maxTime   uint64
}

func newPprofConverter(s *perfsession.Session, event string) *pprofConverter {
	c := &pprofConverter{
		s:     s,
		event: event,
		p: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "samples", Unit: "count"},
				{Type: "events", Unit: "count"},
			},
			DefaultSampleType: "events",
		},
		mappings:  make(map[*perfsession.Mmap]*profile.Mapping),
		locations: make(map[locKey]*profile.Location),
		functions: make(map[funcKey]*profile.Function),
		sampleIdx: make(map[sampleKey]*profile.Sample),
		names:     make(map[*perffile.EventAttr]string),
	}
	for _, ev := range s.File.Events() {
		c.names[ev.Attr] = ev.String()
	}
	return c
}

func (c *pprofConverter) add(r perffile.Record) error {
	sample, ok := r.(*perffile.RecordSample)
	if !ok {
		return nil
	}
	if c.event != "" && c.names[sample.EventAttr] != c.event {
		return nil
	}
	c.samples++
	if sample.Time != 0 {
		if c.minTime == 0 || sample.Time < c.minTime {
			c.minTime = sample.Time
		}
		if sample.Time > c.maxTime {
			c.maxTime = sample.Time
		}
	}

	var pcs []uint64
	if sample.Format&perffile.SampleFormatCallchain != 0 {
		for _, pc := range sample.Callchain {
			if pc < callchainContextMin {
				pcs = append(pcs, pc)
			}
		}
	} else if sample.Format&perffile.SampleFormatIP != 0 {
		pcs = []uint64{sample.IP}
	}

	comm := ""
	if t := c.s.LookupTID(sample.TID); t != nil {
		comm = t.Name
	}
	key := sampleKey{comm: comm, pid: sample.PID, stack: stackKey(pcs)}
	ps, ok := c.sampleIdx[key]
	if !ok {
		ps = &profile.Sample{Value: []int64{0, 0}}
		for _, pc := range pcs {
			ps.Location = append(ps.Location, c.location(sample.PID, pc))
		}
		if comm != "" {
			ps.Label = map[string][]string{"comm": {comm}}
		}
		ps.NumLabel = map[string][]int64{"pid": {int64(sample.PID)}}
		c.p.Sample = append(c.p.Sample, ps)
		c.sampleIdx[key] = ps
	}
	ps.Value[0]++
	ps.Value[1] += int64(samplePeriod(sample))
	return nil
}

func stackKey(pcs []uint64) string {
	b := make([]byte, 0, 8*len(pcs))
	for _, pc := range pcs {
		for i := 0; i < 8; i++ {
			b = append(b, byte(pc>>(8*i)))
		}
	}
	return string(b)
}

func (c *pprofConverter) location(pid int, pc uint64) *profile.Location {
	key := locKey{pid, pc}
	if loc, ok := c.locations[key]; ok {
		return loc
	}
	loc := &profile.Location{
		ID:      uint64(len(c.p.Location) + 1),
		Address: pc,
	}
	if m := c.s.LookupAddr(pid, pc); m != nil {
		loc.Mapping = c.mapping(m)
		if sym, ok := c.s.Symbolize(m, pc); ok {
			file := ""
			var line int64
			if sym.Line.File != nil {
				file = sym.Line.File.Name
				line = int64(sym.Line.Line)
			}
			loc.Line = []profile.Line{{Function: c.function(sym, file), Line: line}}
			loc.Mapping.HasFunctions = true
		}
	}
	c.p.Location = append(c.p.Location, loc)
	c.locations[key] = loc
	return loc
}

func (c *pprofConverter) mapping(m *perfsession.Mmap) *profile.Mapping {
	if pm, ok := c.mappings[m]; ok {
		return pm
	}
	pm := &profile.Mapping{
		ID:      uint64(len(c.p.Mapping) + 1),
		Start:   m.Addr,
		Limit:   m.Addr + m.Len,
		Offset:  m.FileOffset,
		File:    m.Filename,
		BuildID: m.BuildID.String(),
	}
	c.p.Mapping = append(c.p.Mapping, pm)
	c.mappings[m] = pm
	return pm
}

func (c *pprofConverter) function(sym perfsession.Symbolic, file string) *profile.Function {
	key := funcKey{sym.FuncName, file}
	if fn, ok := c.functions[key]; ok {
		return fn
	}
	fn := &profile.Function{
		ID:         uint64(len(c.p.Function) + 1),
		Name:       sym.FuncName,
		SystemName: sym.Symbol,
		Filename:   file,
	}
	c.p.Function = append(c.p.Function, fn)
	c.functions[key] = fn
	return fn
}

func (c *pprofConverter) profile() *profile.Profile {
	if c.maxTime > c.minTime {
		c.p.TimeNanos = int64(c.minTime)
		c.p.DurationNanos = int64(c.maxTime - c.minTime)
	}
	return c.p
}
