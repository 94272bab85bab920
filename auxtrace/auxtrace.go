// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package auxtrace provides perffile.AuxtraceHandlers for the ARM
// hardware trace formats: the Statistical Profiling Extension (SPE)
// and CoreSight ETM.
//
// The handlers validate and describe the trace configuration stored
// in RecordAuxtraceInfo. They do not decode the trace packets.
package auxtrace // import "github.com/aclements/go-perfdata/auxtrace"

import (
	"fmt"
	"io"
	"sync"

	"github.com/aclements/go-perfdata/perffile"
	"github.com/sirupsen/logrus"
)

var (
	defaultOnce sync.Once
	defaultReg  *perffile.AuxtraceRegistry
)

// Default returns a registry with handlers for every format in this
// package, logging to the standard logger.
func Default() *perffile.AuxtraceRegistry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry(logrus.StandardLogger())
	})
	return defaultReg
}

// NewRegistry returns a new registry with handlers for every format
// in this package.
func NewRegistry(log logrus.FieldLogger) *perffile.AuxtraceRegistry {
	reg := perffile.NewAuxtraceRegistry()
	reg.Register(perffile.AuxtraceARMSPE, &SPEHandler{})
	reg.Register(perffile.AuxtraceCSETM, &ETMHandler{Logger: log})
	return reg
}

// hexDump writes data in the style of perf report -D, 16 bytes per
// line.
func hexDump(w io.Writer, data []byte) error {
	for pos := 0; pos < len(data); pos += 16 {
		line := data[pos:]
		if len(line) > 16 {
			line = line[:16]
		}
		if _, err := fmt.Fprintf(w, ".  %08x: ", pos); err != nil {
			return err
		}
		for _, b := range line {
			if _, err := fmt.Fprintf(w, " %02x", b); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// field writes one name/value line of an AUXTRACE_INFO report.
func field(w io.Writer, name string, format string, args ...interface{}) error {
	_, err := fmt.Fprintf(w, "  %-20s%s\n", name, fmt.Sprintf(format, args...))
	return err
}
