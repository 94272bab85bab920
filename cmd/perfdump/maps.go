// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/aclements/go-perfdata/perfsession"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func newMapsCmd(root *rootConfig) *ffcli.Command {
	fs := flag.NewFlagSet("perfdump maps", flag.ContinueOnError)
	pid := fs.Int("pid", 0, "print only process `pid`")
	return &ffcli.Command{
		Name:       "maps",
		ShortUsage: "perfdump maps [-pid pid] [addr...]",
		ShortHelp:  "replay the profile and print each process's mappings",
		LongHelp: "With address arguments, maps prints the mappings containing\n" +
			"each address instead of the full maps.",
		FlagSet: fs,
		Exec: func(ctx context.Context, args []string) error {
			var addrs []uint64
			for _, arg := range args {
				a, err := strconv.ParseUint(arg, 0, 64)
				if err != nil {
					return fmt.Errorf("bad address %q: %w", arg, err)
				}
				addrs = append(addrs, a)
			}
			f, err := root.open()
			if err != nil {
				return err
			}
			defer f.Close()
			s := root.session(f)
			if err := replay(f, s, nil); err != nil {
				return err
			}
			return dumpMaps(root.stdout, s, *pid, addrs)
		},
	}
}

func dumpMaps(w io.Writer, s *perfsession.Session, pid int, addrs []uint64) error {
	if len(addrs) > 0 {
		for _, addr := range addrs {
			var matches []perfsession.AddrMatch
			if pid != 0 {
				if m := s.LookupAddr(pid, addr); m != nil {
					matches = append(matches, perfsession.AddrMatch{PID: pid, Mmap: m})
				}
			} else {
				matches = s.LookupAll(addr)
			}
			if len(matches) == 0 {
				fmt.Fprintf(w, "%#x: not mapped\n", addr)
			}
			for _, m := range matches {
				fmt.Fprintf(w, "%#x: [%d] %s\n", addr, m.PID, m.Mmap)
			}
		}
		return nil
	}
	if pid != 0 {
		p := s.LookupPID(pid)
		if p == nil {
			return fmt.Errorf("no process %d", pid)
		}
		_, err := io.WriteString(w, p.ProcMaps())
		return err
	}
	return s.ProcMaps(w)
}
