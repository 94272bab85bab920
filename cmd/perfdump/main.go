// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command perfdump inspects and converts perf.data profiles.
//
// Usage:
//
//	perfdump [-i perf.data] <subcommand> [flags]
//
// Subcommands:
//
//	records   print every record, field by field
//	headers   print the events and metadata headers
//	sections  print the byte layout of the file
//	maps      replay the profile and print each process's mappings
//	stats     summarize record counts and sizes
//	branches  report branch mispredict rates from branch stacks
//	pprof     convert samples to a pprof profile
//	rewrite   rewrite a profile as a file or pipe
//
// Flags may also be set in a YAML file given by -config or in
// PERFDUMP_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"

	"github.com/aclements/go-perfdata/auxtrace"
	"github.com/aclements/go-perfdata/buildid"
	"github.com/aclements/go-perfdata/perffile"
	"github.com/aclements/go-perfdata/perfsession"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/peterbourgon/ff/v3/ffyaml"
	"github.com/sirupsen/logrus"
)

func main() {
	err := realMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	} else if err != nil {
		logrus.Fatalf("perfdump: %v", err)
	}
}

// rootConfig holds the flags shared by every subcommand.
type rootConfig struct {
	input    string
	logLevel string
	cacheDir string
	verify   bool

	stdin  io.Reader
	stdout io.Writer
	log    *logrus.Logger
}

func realMain(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg := &rootConfig{stdin: stdin, stdout: stdout, log: logrus.New()}
	cfg.log.SetOutput(stderr)

	fs := flag.NewFlagSet("perfdump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.input, "i", "perf.data", "input perf.data `file`, or - for a pipe on stdin")
	fs.StringVar(&cfg.logLevel, "log-level", "warning", "log `level`")
	fs.StringVar(&cfg.cacheDir, "buildid-dir", buildid.DefaultDir(), "build ID cache `directory`; empty disables the cache")
	fs.BoolVar(&cfg.verify, "verify", false, "only use mapped files whose build ID matches")
	fs.String("config", "", "YAML config `file`")

	root := &ffcli.Command{
		Name:       "perfdump",
		ShortUsage: "perfdump [flags] <subcommand> [flags]",
		FlagSet:    fs,
		Options: []ff.Option{
			ff.WithEnvVarPrefix("PERFDUMP"),
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
		},
		Subcommands: []*ffcli.Command{
			newRecordsCmd(cfg),
			newHeadersCmd(cfg),
			newSectionsCmd(cfg),
			newMapsCmd(cfg),
			newStatsCmd(cfg),
			newBranchesCmd(cfg),
			newPprofCmd(cfg),
			newRewriteCmd(cfg),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
	for _, sub := range root.Subcommands {
		sub.FlagSet.SetOutput(stderr)
	}

	if err := root.Parse(args); err != nil {
		return err
	}
	level, err := logrus.ParseLevel(cfg.logLevel)
	if err != nil {
		return err
	}
	cfg.log.SetLevel(level)
	return root.Run(ctx)
}

// open opens the input profile.
func (c *rootConfig) open() (*perffile.File, error) {
	opts := []perffile.Option{
		perffile.WithLogger(c.log),
		perffile.WithAuxtrace(auxtrace.Default()),
	}
	if c.input == "-" {
		opts = append(opts, perffile.WithName("<stdin>"))
		return perffile.NewStream(c.stdin, opts...)
	}
	return perffile.Open(c.input, opts...)
}

// session returns a replay session for f configured by the shared
// flags.
func (c *rootConfig) session(f *perffile.File) *perfsession.Session {
	cfg := &perfsession.Config{VerifyFiles: c.verify, Logger: c.log}
	if c.cacheDir != "" {
		cache := buildid.NewCache(c.cacheDir, c.log)
		if cache.Exists() {
			cfg.BuildIDCache = cache
		} else {
			c.log.Debugf("build ID cache %s does not exist", c.cacheDir)
		}
	}
	return perfsession.New(f, cfg)
}

// replay feeds every record of f to fn after updating s with it.
func replay(f *perffile.File, s *perfsession.Session, fn func(r perffile.Record) error) error {
	rs := f.Records(orderFor(f))
	rs.SkipAuxtraceData = true
	for rs.Next() {
		if err := s.Update(rs.Record); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(rs.Record); err != nil {
				return err
			}
		}
	}
	return rs.Err()
}

// orderFor returns the best record order available for f.
func orderFor(f *perffile.File) perffile.RecordsOrder {
	if f.Pipe() {
		return perffile.RecordsFileOrder
	}
	return perffile.RecordsTimeOrder
}

func parseOrder(order string) (perffile.RecordsOrder, bool) {
	switch order {
	case "file":
		return perffile.RecordsFileOrder, true
	case "time":
		return perffile.RecordsTimeOrder, true
	}
	return 0, false
}
