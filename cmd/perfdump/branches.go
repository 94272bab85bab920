// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/aclements/go-perfdata/perffile"
	"github.com/aclements/go-perfdata/perfsession"
	"github.com/olekukonko/tablewriter"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func newBranchesCmd(root *rootConfig) *ffcli.Command {
	fs := flag.NewFlagSet("perfdump branches", flag.ContinueOnError)
	top := fs.Int("top", 20, "show the `n` branches with the most mispredicts; 0 shows all")
	source := fs.Bool("source", false, "show source lines around each branch")
	return &ffcli.Command{
		Name:       "branches",
		ShortUsage: "perfdump branches [-top n] [-source]",
		ShortHelp:  "report branch mispredict rates from branch stacks",
		LongHelp: "branches expects a profile collected with\n\n" +
			"    perf record -e branches -j any -c 400009\n\n" +
			"Each row estimates how often a branch executed and was\n" +
			"mispredicted, using the most recent entry of each sample's\n" +
			"branch stack.",
		FlagSet: fs,
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
			agg := newBranchAgg(s)
			if err := replay(f, s, agg.add); err != nil {
				return err
			}
			return agg.write(root.stdout, *top, *source)
		},
	}
}

type branchPC struct {
	PC   uint64
	Comm string
}

type branchCount struct {
	Mmap         *perfsession.Mmap
	Events       uint64
	Predicted    int64
	Mispredicted int64
}

type branchRow struct {
	branchPC
	branchCount
	rate float64
}

type branchAgg struct {
	s   *perfsession.Session
	agg map[branchPC]branchCount
}

func newBranchAgg(s *perfsession.Session) *branchAgg {
	return &branchAgg{s: s, agg: make(map[branchPC]branchCount)}
}

const branchFormat = perffile.SampleFormatTID | perffile.SampleFormatBranchStack

func (b *branchAgg) add(r perffile.Record) error {
	sample, ok := r.(*perffile.RecordSample)
	if !ok || sample.Format&branchFormat != branchFormat || len(sample.BranchStack) == 0 {
		return nil
	}

	comm := "<unknown>"
	if t := b.s.LookupTID(sample.TID); t != nil && t.Name != "" {
		comm = t.Name
	}

	// The sample IP is often not a branch, even in precise mode.
	// The most recent branch record is an unbiased sample of
	// branches, and only its prediction flags are used.
	br := sample.BranchStack[0]
	pc := branchPC{br.From, comm}

	a := b.agg[pc]
	a.Events += samplePeriod(sample)
	a.Mmap = b.s.LookupAddr(sample.PID, br.From)
	if br.Flags&perffile.BranchFlagMispredicted != 0 {
		a.Mispredicted++
	}
	if br.Flags&perffile.BranchFlagPredicted != 0 {
		a.Predicted++
	}
	b.agg[pc] = a
	return nil
}

// rows rescales the counts by sample period and sorts them by
// mispredicts, most first.
func (b *branchAgg) rows() []branchRow {
	var rows []branchRow
	for pc, a := range b.agg {
		if a.Events == 0 || a.Predicted+a.Mispredicted == 0 {
			continue
		}
		rate := float64(a.Mispredicted) / float64(a.Predicted+a.Mispredicted)
		a.Mispredicted = int64(rate * float64(a.Events))
		a.Predicted = int64(a.Events) - a.Mispredicted
		rows = append(rows, branchRow{pc, a, rate})
	}
	sort.Slice(rows, func(i, j int) bool {
		p, q := rows[i], rows[j]
		if p.Mispredicted != q.Mispredicted {
			return p.Mispredicted > q.Mispredicted
		}
		if p.Events != q.Events {
			return p.Events > q.Events
		}
		if p.Comm != q.Comm {
			return p.Comm < q.Comm
		}
		return p.PC < q.PC
	})
	return rows
}

func (b *branchAgg) write(w io.Writer, top int, source bool) error {
	rows := b.rows()
	var total branchCount
	for _, r := range rows {
		total.Events += r.Events
		total.Mispredicted += r.Mispredicted
	}
	if total.Events == 0 {
		_, err := fmt.Fprintln(w, "no samples with branch stacks")
		return err
	}
	fmt.Fprintf(w, "# Total branches: %d\n", total.Events)
	fmt.Fprintf(w, "# Total mispredicts: %d (%2.1f%% of all branches)\n\n", total.Mispredicted, 100*float64(total.Mispredicted)/float64(total.Events))

	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Comm", "PC", "Branches", "Mispredicts"})
	table.SetAutoWrapText(false)
	for _, r := range rows {
		pos := fmt.Sprintf("%#x", r.PC)
		var sym perfsession.Symbolic
		var ok bool
		if r.Mmap != nil {
			sym, ok = b.s.Symbolize(r.Mmap, r.PC)
		}
		if ok && sym.Line.File != nil {
			pos = fmt.Sprintf("%s:%d", filepath.Base(sym.Line.File.Name), sym.Line.Line)
			if source {
				start := sym.Line.Line - 1
				if start < 1 {
					start = 1
				}
				if lines, err := getLines(sym.Line.File.Name, start, sym.Line.Line+1); err == nil {
					for i, l := range lines {
						pos += fmt.Sprintf("\n%5d %s", start+i, l)
					}
				}
			}
		} else if ok {
			pos = fmt.Sprintf("%s (%#x)", sym.FuncName, r.PC)
		}
		table.Append([]string{
			r.Comm,
			pos,
			fmt.Sprint(r.Events),
			fmt.Sprintf("%d (%2.1f%%)", r.Mispredicted, 100*r.rate),
		})
	}
	table.Render()
	return nil
}

// getLines returns lines minLine through maxLine of path, 1-based.
func getLines(path string, minLine, maxLine int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for n := 1; n <= maxLine && scanner.Scan(); n++ {
		if n >= minLine {
			lines = append(lines, scanner.Text())
		}
	}
	return lines, scanner.Err()
}
