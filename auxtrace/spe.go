// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auxtrace

import (
	"fmt"
	"io"
	"strings"

	"github.com/aclements/go-perfdata/perffile"
)

// SPEInfo is the trace configuration of an ARM SPE profile.
type SPEInfo struct {
	// PMUType is the dynamic event type of the SPE PMU.
	PMUType perffile.EventType
}

// ParseSPE decodes the private data of an ARM SPE
// RecordAuxtraceInfo.
func ParseSPE(info *perffile.RecordAuxtraceInfo) (*SPEInfo, error) {
	if info.Kind != perffile.AuxtraceARMSPE {
		return nil, fmt.Errorf("auxtrace: %v info is not ARM SPE", info.Kind)
	}
	if len(info.Priv) < 1 {
		return nil, fmt.Errorf("auxtrace: ARM SPE info has no PMU type")
	}
	return &SPEInfo{PMUType: perffile.EventType(info.Priv[0])}, nil
}

// SPEHandler handles ARM SPE traces.
type SPEHandler struct{}

// AuxtraceInfo checks that the PMU type of info is an SPE PMU in f's
// PMU mappings, if f has them.
func (h *SPEHandler) AuxtraceInfo(f *perffile.File, info *perffile.RecordAuxtraceInfo) error {
	spe, err := ParseSPE(info)
	if err != nil {
		return err
	}
	if f.Meta.PMUMappings == nil {
		return nil
	}
	name, ok := f.Meta.PMUMappings[spe.PMUType]
	if !ok {
		return fmt.Errorf("auxtrace: ARM SPE PMU type %d not in PMU mappings", spe.PMUType)
	}
	if !strings.HasPrefix(name, "arm_spe") {
		return fmt.Errorf("auxtrace: ARM SPE PMU type %d is PMU %q", spe.PMUType, name)
	}
	return nil
}

func (h *SPEHandler) ReportAuxtraceInfo(w io.Writer, info *perffile.RecordAuxtraceInfo) error {
	spe, err := ParseSPE(info)
	if err != nil {
		return err
	}
	return field(w, "PMU Type", "%d", spe.PMUType)
}

func (h *SPEHandler) ReportAuxtrace(w io.Writer, rec *perffile.RecordAuxtrace) error {
	return hexDump(w, rec.Data)
}
