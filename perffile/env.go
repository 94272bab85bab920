// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// HostMeta returns metadata describing the current machine: its host
// name, kernel release, architecture, CPU counts and description, and
// memory size. Fields that cannot be determined are left zero.
//
// version is recorded as the profile's tool version.
func HostMeta(version string) (*FileMeta, error) {
	m := &FileMeta{Version: version, CmdLine: os.Args}

	info, err := host.Info()
	if err != nil {
		return nil, fmt.Errorf("perffile: reading host info: %w", err)
	}
	m.Hostname = info.Hostname
	m.OSRelease = info.KernelVersion
	m.Arch = info.KernelArch
	if m.Arch == "" {
		m.Arch = runtime.GOARCH
	}

	if n, err := cpu.Counts(true); err == nil {
		m.CPUsAvail, m.CPUsOnline = n, n
	}
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		c := cpus[0]
		m.CPUDesc = c.ModelName
		if c.VendorID != "" {
			// perf's x86 CPUID format.
			m.CPUID = fmt.Sprintf("%s,%s,%s,%d", c.VendorID, c.Family, c.Model, c.Stepping)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.TotalMem = int64(vm.Total)
	}
	return m, nil
}
