// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aclements/go-moremath/scale"
	"github.com/aclements/go-moremath/stats"
	"github.com/aclements/go-perfdata/perffile"
	"github.com/olekukonko/tablewriter"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/prometheus/client_golang/prometheus"
)

func newStatsCmd(root *rootConfig) *ffcli.Command {
	fs := flag.NewFlagSet("perfdump stats", flag.ContinueOnError)
	textfile := fs.String("textfile", "", "also write Prometheus metrics to `file`")
	hist := fs.Bool("hist", false, "print a histogram of record sizes")
	return &ffcli.Command{
		Name:       "stats",
		ShortUsage: "perfdump stats [-hist] [-textfile file]",
		ShortHelp:  "summarize record counts and sizes",
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
			st, err := collectStats(f)
			if err != nil {
				return err
			}
			if err := st.write(root.stdout); err != nil {
				return err
			}
			if *hist {
				if err := st.writeHistogram(root.stdout); err != nil {
					return err
				}
			}
			if *textfile != "" {
				reg := prometheus.NewRegistry()
				st.register(reg)
				if err := prometheus.WriteToTextfile(*textfile, reg); err != nil {
					return err
				}
				root.log.Infof("wrote metrics to %s", *textfile)
			}
			return nil
		},
	}
}

type typeStats struct {
	count int
	bytes int
	sizes []float64
}

type eventStats struct {
	samples int
	period  uint64
}

type profileStats struct {
	types     map[perffile.RecordType]*typeStats
	events    map[string]*eventStats
	lost      uint64
	anomalies int
	sizes     []float64
}

func collectStats(f *perffile.File) (*profileStats, error) {
	st := &profileStats{
		types:  make(map[perffile.RecordType]*typeStats),
		events: make(map[string]*eventStats),
	}
	names := make(map[*perffile.EventAttr]string)
	for _, ev := range f.Events() {
		names[ev.Attr] = ev.String()
	}

	rs := f.Records(perffile.RecordsFileOrder)
	rs.SkipAuxtraceData = true
	for rs.Next() {
		r := rs.Record
		size := len(rs.Raw.Bytes())
		ts := st.types[r.Type()]
		if ts == nil {
			ts = &typeStats{}
			st.types[r.Type()] = ts
		}
		ts.count++
		ts.bytes += size
		ts.sizes = append(ts.sizes, float64(size))
		st.sizes = append(st.sizes, float64(size))
		st.anomalies += len(r.Common().Anomalies)

		switch r := r.(type) {
		case *perffile.RecordSample:
			name := "<unknown>"
			if n, ok := names[r.EventAttr]; ok {
				name = n
			}
			es := st.events[name]
			if es == nil {
				es = &eventStats{}
				st.events[name] = es
			}
			es.samples++
			es.period += samplePeriod(r)
		case *perffile.RecordLost:
			st.lost += r.NumLost
		case *perffile.RecordLostSamples:
			st.lost += r.Lost
		}
	}
	return st, rs.Err()
}

// samplePeriod returns the number of events r stands for, or 1 if it
// is unknown.
func samplePeriod(r *perffile.RecordSample) uint64 {
	if r.Format&perffile.SampleFormatPeriod != 0 {
		return r.Period
	}
	if r.EventAttr != nil {
		if p, err := r.EventAttr.SamplePeriod(); err == nil && p != 0 {
			return p
		}
	}
	return 1
}

func (st *profileStats) sortedTypes() []perffile.RecordType {
	var out []perffile.RecordType
	for t := range st.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (st *profileStats) write(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Record", "Count", "Bytes", "Mean", "P50", "Max"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	var count, bytes int
	for _, t := range st.sortedTypes() {
		ts := st.types[t]
		count += ts.count
		bytes += ts.bytes
		s := stats.Sample{Xs: ts.sizes}
		_, max := s.Bounds()
		table.Append([]string{
			t.String(),
			fmt.Sprint(ts.count),
			fmt.Sprint(ts.bytes),
			fmt.Sprintf("%.1f", s.Mean()),
			fmt.Sprintf("%.0f", s.Quantile(0.5)),
			fmt.Sprintf("%.0f", max),
		})
	}
	table.SetFooter([]string{"Total", fmt.Sprint(count), fmt.Sprint(bytes), "", "", ""})
	table.Render()

	if len(st.events) > 0 {
		fmt.Fprintln(w)
		events := tablewriter.NewWriter(w)
		events.SetHeader([]string{"Event", "Samples", "Period"})
		var names []string
		for n := range st.events {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			es := st.events[n]
			events.Append([]string{n, fmt.Sprint(es.samples), fmt.Sprint(es.period)})
		}
		events.Render()
	}

	if st.lost > 0 {
		fmt.Fprintf(w, "lost events: %d\n", st.lost)
	}
	if st.anomalies > 0 {
		fmt.Fprintf(w, "records with anomalies: %d\n", st.anomalies)
	}
	return nil
}

const sizeHistogramBins = 20

// writeHistogram prints a log-scaled histogram of record sizes.
func (st *profileStats) writeHistogram(w io.Writer) error {
	if len(st.sizes) == 0 {
		return nil
	}
	_, max := stats.Sample{Xs: st.sizes}.Bounds()
	if max < 16 {
		max = 16
	}
	scaler, err := scale.NewLog(8, max, 2)
	if err != nil {
		return err
	}
	scaler.Nice(scale.TickOptions{Max: 8})

	bins := make([]int, sizeHistogramBins)
	for _, x := range st.sizes {
		bin := int(scaler.Map(x) * sizeHistogramBins)
		if bin < 0 {
			bin = 0
		}
		if bin >= sizeHistogramBins {
			bin = sizeHistogramBins - 1
		}
		bins[bin]++
	}
	most := 0
	for _, n := range bins {
		if n > most {
			most = n
		}
	}

	fmt.Fprintf(w, "\nrecord sizes (%g to %g bytes, log scale):\n", scaler.Min, scaler.Max)
	for i, n := range bins {
		lo := scaler.Unmap(float64(i) / sizeHistogramBins)
		bar := strings.Repeat("#", (n*50+most-1)/most)
		fmt.Fprintf(w, "%8.0f %8d %s\n", lo, n, bar)
	}
	return nil
}

// register adds st's counters to reg.
func (st *profileStats) register(reg *prometheus.Registry) {
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfdata",
		Name:      "records_total",
		Help:      "Number of records by type.",
	}, []string{"type"})
	recordBytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfdata",
		Name:      "record_bytes_total",
		Help:      "Bytes of records by type.",
	}, []string{"type"})
	samples := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfdata",
		Name:      "samples_total",
		Help:      "Number of samples by event.",
	}, []string{"event"})
	period := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfdata",
		Name:      "sample_period_total",
		Help:      "Sum of sample periods by event.",
	}, []string{"event"})
	lost := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "perfdata",
		Name:      "lost_events_total",
		Help:      "Events the kernel reported lost.",
	})
	reg.MustRegister(records, recordBytes, samples, period, lost)

	for t, ts := range st.types {
		records.WithLabelValues(t.String()).Add(float64(ts.count))
		recordBytes.WithLabelValues(t.String()).Add(float64(ts.bytes))
	}
	for n, es := range st.events {
		samples.WithLabelValues(n).Add(float64(es.samples))
		period.WithLabelValues(n).Add(float64(es.period))
	}
	lost.Add(float64(st.lost))
}
