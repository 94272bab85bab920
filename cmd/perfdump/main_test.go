// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/google/pprof/profile"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/aclements/go-perfdata/perffile"
	"github.com/aclements/go-perfdata/perfsession"
)

const testID = 9

func testAttr() *perffile.EventAttr {
	a := perffile.NewEventAttr(perffile.AttrSizeDefault)
	a.SetEvent(perffile.EventHardwareCPUCycles)
	a.SetSampleFormat(perffile.SampleFormatIP | perffile.SampleFormatTID | perffile.SampleFormatTime | perffile.SampleFormatID | perffile.SampleFormatPeriod)
	a.SetFlags(perffile.EventFlagSampleIDAll | perffile.EventFlagMmap | perffile.EventFlagComm)
	a.SetSamplePeriod(1000)
	return a
}

func testRecords() []perffile.Record {
	c := &perffile.RecordComm{Comm: "true"}
	c.PID, c.TID = 100, 100
	m := &perffile.RecordMmap{Addr: 0x400000, Len: 0x2000, Filename: "/bin/true"}
	m.PID, m.TID = 100, 100
	s1 := &perffile.RecordSample{IP: 0x400100, Period: 1000}
	s1.PID, s1.TID = 100, 100
	s2 := &perffile.RecordSample{IP: 0x400100, Period: 3000}
	s2.PID, s2.TID = 100, 100
	s3 := &perffile.RecordSample{IP: 0x401800, Period: 2000}
	s3.PID, s3.TID = 100, 100
	return []perffile.Record{c, m, s1, s2, s3}
}

// writeProfile writes a small perf.data file and returns its path.
func writeProfile(t *testing.T, opts ...perffile.WriterOption) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perf.data")
	fh, err := os.Create(path)
	require.NoError(t, err)
	w, err := perffile.NewWriter(fh, opts...)
	require.NoError(t, err)
	_, err = w.AddEvent(testAttr(), "cycles", []uint64{testID})
	require.NoError(t, err)
	require.NoError(t, w.SetMeta(&perffile.FileMeta{
		Hostname:  "dumphost",
		Arch:      "x86_64",
		CPUsAvail: 4, CPUsOnline: 4,
		CmdLine: []string{"perf", "record", "true"},
	}))
	for i, r := range testRecords() {
		r.Common().ID = testID
		r.Common().Time = uint64(i+1) * 10
		require.NoError(t, w.WriteRecord(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, fh.Close())
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := realMain(context.Background(), append([]string{"-buildid-dir", ""}, args...), strings.NewReader(""), &stdout, &stderr)
	require.NoError(t, err, "stderr: %s", stderr.String())
	return stdout.String()
}

func TestRecords(t *testing.T) {
	path := writeProfile(t)
	out := run(t, "-i", path, "records", "-order", "file")
	assert.Contains(t, out, "COMM{")
	assert.Contains(t, out, "Filename:      /bin/true")
	assert.Contains(t, out, "EventAttr:     cycles")
	assert.Contains(t, out, "IP:            0x400100")
	assert.Equal(t, 3, strings.Count(out, "SAMPLE{"))
	snaps.MatchSnapshot(t, out)
}

func TestRecordsTimeOrder(t *testing.T) {
	path := writeProfile(t)
	fileOrder := run(t, "-i", path, "records", "-order", "file")
	timeOrder := run(t, "-i", path, "records")
	assert.Equal(t, fileOrder, timeOrder)
}

func TestRecordsStdin(t *testing.T) {
	path := writeProfile(t, perffile.WithPipe())
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	err = realMain(context.Background(), []string{"-i", "-", "records"}, bytes.NewReader(data), &stdout, &stderr)
	require.NoError(t, err, "stderr: %s", stderr.String())
	assert.Equal(t, 3, strings.Count(stdout.String(), "SAMPLE{"))
}

func TestHeaders(t *testing.T) {
	path := writeProfile(t)
	out := run(t, "-i", path, "headers")
	assert.Contains(t, out, "dumphost")
	assert.Contains(t, out, "perf record true")
	assert.Contains(t, out, "cycles")
	snaps.MatchSnapshot(t, out)
}

func TestHeadersYAML(t *testing.T) {
	path := writeProfile(t)
	out := run(t, "-i", path, "headers", "-yaml")

	var doc struct {
		File     string `yaml:"file"`
		Pipe     bool   `yaml:"pipe"`
		Hostname string `yaml:"hostname"`
		CPUs     int    `yaml:"CPUs online"`
		Events   []struct {
			Name string   `yaml:"name"`
			IDs  []uint64 `yaml:"ids"`
		} `yaml:"events"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, path, doc.File)
	assert.False(t, doc.Pipe)
	assert.Equal(t, "dumphost", doc.Hostname)
	assert.Equal(t, 4, doc.CPUs)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, "cycles", doc.Events[0].Name)
	assert.Equal(t, []uint64{testID}, doc.Events[0].IDs)
}

func TestSections(t *testing.T) {
	path := writeProfile(t)
	out := run(t, "-i", path, "sections")
	assert.Contains(t, out, "header")
	assert.Contains(t, out, "data")
	assert.Contains(t, out, "feature HOSTNAME")

	pipe := writeProfile(t, perffile.WithPipe())
	out = run(t, "-i", pipe, "sections")
	assert.Contains(t, out, "no section layout")
}

func TestMaps(t *testing.T) {
	path := writeProfile(t)
	out := run(t, "-i", path, "maps")
	assert.Contains(t, out, "[100]")
	assert.Contains(t, out, "/bin/true")

	out = run(t, "-i", path, "maps", "-pid", "100", "0x400100", "0x900000")
	assert.Equal(t, "0x400100: [100] "+strings.TrimSpace(mapLine(t, path))+"\n0x900000: not mapped\n", out)
}

// mapLine returns the maps line for /bin/true in the test profile.
func mapLine(t *testing.T, path string) string {
	f, err := perffile.Open(path)
	require.NoError(t, err)
	defer f.Close()
	s := perfsession.New(f, nil)
	require.NoError(t, replay(f, s, nil))
	m := s.LookupAddr(100, 0x400100)
	require.NotNil(t, m)
	return m.String()
}

func TestStats(t *testing.T) {
	path := writeProfile(t)
	textfile := filepath.Join(t.TempDir(), "perfdata.prom")
	out := run(t, "-i", path, "stats", "-hist", "-textfile", textfile)
	assert.Contains(t, out, "SAMPLE")
	assert.Contains(t, out, "cycles")
	assert.Contains(t, out, "6000")
	assert.Contains(t, out, "log scale")

	prom, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `perfdata_records_total{type="SAMPLE"} 3`)
	assert.Contains(t, string(prom), `perfdata_records_total{type="MMAP"} 1`)
	assert.Contains(t, string(prom), `perfdata_sample_period_total{event="cycles"} 6000`)
}

func TestBranches(t *testing.T) {
	s := perfsession.New(&perffile.File{}, nil)
	agg := newBranchAgg(s)
	branch := func(from uint64, mispredicted bool) *perffile.RecordSample {
		flags := perffile.BranchFlagPredicted
		if mispredicted {
			flags = perffile.BranchFlagMispredicted
		}
		r := &perffile.RecordSample{
			Period:      100,
			BranchStack: []perffile.BranchRecord{{From: from, To: from + 0x10, Flags: flags}},
		}
		r.Format = branchFormat | perffile.SampleFormatPeriod
		r.PID, r.TID = 1, 1
		return r
	}
	for _, r := range []*perffile.RecordSample{
		branch(0x10, true), branch(0x10, true), branch(0x10, false), branch(0x10, false),
		branch(0x20, false), branch(0x20, false),
		branch(0x30, true),
	} {
		require.NoError(t, agg.add(r))
	}
	require.NoError(t, agg.add(&perffile.RecordSample{}))

	rows := agg.rows()
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(0x10), rows[0].PC)
	assert.EqualValues(t, 200, rows[0].Mispredicted)
	assert.InDelta(t, 0.5, rows[0].rate, 1e-9)
	assert.Equal(t, uint64(0x30), rows[1].PC)
	assert.EqualValues(t, 100, rows[1].Mispredicted)
	assert.Equal(t, uint64(0x20), rows[2].PC)
	assert.EqualValues(t, 0, rows[2].Mispredicted)

	var out bytes.Buffer
	require.NoError(t, agg.write(&out, 2, false))
	assert.Contains(t, out.String(), "# Total branches: 700")
	assert.Contains(t, out.String(), "# Total mispredicts: 300")
	assert.Contains(t, out.String(), "0x10")
	assert.NotContains(t, out.String(), "0x20")
}

func TestPprof(t *testing.T) {
	path := writeProfile(t)
	out := filepath.Join(t.TempDir(), "cpu.pprof")
	run(t, "-i", path, "pprof", "-o", out)

	fh, err := os.Open(out)
	require.NoError(t, err)
	defer fh.Close()
	p, err := profile.Parse(fh)
	require.NoError(t, err)

	require.Len(t, p.Sample, 2)
	require.Len(t, p.Mapping, 1)
	assert.Equal(t, "/bin/true", p.Mapping[0].File)
	var samples, events int64
	for _, s := range p.Sample {
		samples += s.Value[0]
		events += s.Value[1]
		assert.Equal(t, []string{"true"}, s.Label["comm"])
		assert.Equal(t, []int64{100}, s.NumLabel["pid"])
	}
	assert.EqualValues(t, 3, samples)
	assert.EqualValues(t, 6000, events)
	assert.EqualValues(t, 30, p.TimeNanos)
	assert.EqualValues(t, 20, p.DurationNanos)
}

func TestRewrite(t *testing.T) {
	path := writeProfile(t)
	out := filepath.Join(t.TempDir(), "pipe.data")
	run(t, "-i", path, "rewrite", "-o", out, "-pipe", "-compress", "3")

	f, err := perffile.Open(out)
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, f.Pipe())
	assert.Equal(t, "dumphost", f.Meta.Hostname)
	require.NotNil(t, f.Meta.Compression)

	var types []perffile.RecordType
	rs := f.Records(perffile.RecordsFileOrder)
	for rs.Next() {
		switch rs.Record.Type() {
		case perffile.RecordTypeHeaderAttr, perffile.RecordTypeHeaderFeature:
			continue
		}
		types = append(types, rs.Record.Type())
	}
	require.NoError(t, rs.Err())
	assert.Equal(t, []perffile.RecordType{
		perffile.RecordTypeComm, perffile.RecordTypeMmap,
		perffile.RecordTypeSample, perffile.RecordTypeSample, perffile.RecordTypeSample,
	}, types)

	// And back again, uncompressed.
	back := filepath.Join(t.TempDir(), "perf.data")
	run(t, "-i", out, "rewrite", "-o", back)
	assert.Equal(t, withoutOffsets(run(t, "-i", path, "records")), withoutOffsets(run(t, "-i", back, "records")))
}

func withoutOffsets(dump string) string {
	var keep []string
	for _, line := range strings.Split(dump, "\n") {
		if !strings.Contains(line, "Offset:") {
			keep = append(keep, line)
		}
	}
	return strings.Join(keep, "\n")
}

func TestConfig(t *testing.T) {
	path := writeProfile(t)

	cfg := filepath.Join(t.TempDir(), "perfdump.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("i: "+path+"\nlog-level: error\n"), 0o644))
	assert.Contains(t, run(t, "-config", cfg, "headers"), "dumphost")

	t.Setenv("PERFDUMP_I", path)
	assert.Contains(t, run(t, "headers"), "dumphost")
}

func TestErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := realMain(context.Background(), []string{"-i", filepath.Join(t.TempDir(), "missing"), "headers"}, nil, &stdout, &stderr)
	assert.Error(t, err)

	err = realMain(context.Background(), []string{"-log-level", "loud", "headers"}, nil, &stdout, &stderr)
	assert.Error(t, err)

	path := writeProfile(t)
	err = realMain(context.Background(), []string{"-i", path, "records", "-order", "causal"}, nil, &stdout, &stderr)
	assert.EqualError(t, err, `unknown order "causal"`)
}

func TestSessionCacheMissing(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	cfg := &rootConfig{cacheDir: filepath.Join(t.TempDir(), "nope"), log: log}
	s := cfg.session(&perffile.File{})
	require.NotNil(t, s)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "does not exist")
}

func TestFillMeta(t *testing.T) {
	m := &perffile.FileMeta{Hostname: "recorded", CPUsAvail: 2, CPUsOnline: 1}
	fillMeta(m, &perffile.FileMeta{
		Hostname: "here", Arch: "arm64", CPUsAvail: 8, CPUsOnline: 8, TotalMem: 1 << 30,
	})
	assert.Equal(t, "recorded", m.Hostname)
	assert.Equal(t, "arm64", m.Arch)
	assert.Equal(t, 2, m.CPUsAvail)
	assert.Equal(t, 1, m.CPUsOnline)
	assert.EqualValues(t, 1<<30, m.TotalMem)
}
