// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auxtrace

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aclements/go-perfdata/perffile"
)

const spePMU = 8

func speInfo() *perffile.RecordAuxtraceInfo {
	return &perffile.RecordAuxtraceInfo{Kind: perffile.AuxtraceARMSPE, Priv: []uint64{spePMU}}
}

func fileWithPMUs(pmus map[perffile.EventType]string) *perffile.File {
	return &perffile.File{Meta: perffile.FileMeta{PMUMappings: pmus}}
}

func TestSPE(t *testing.T) {
	h := &SPEHandler{}
	info := speInfo()

	spe, err := ParseSPE(info)
	require.NoError(t, err)
	assert.Equal(t, perffile.EventType(spePMU), spe.PMUType)

	// No PMU mappings to check against.
	assert.NoError(t, h.AuxtraceInfo(fileWithPMUs(nil), info))
	assert.NoError(t, h.AuxtraceInfo(fileWithPMUs(map[perffile.EventType]string{spePMU: "arm_spe_0"}), info))
	err = h.AuxtraceInfo(fileWithPMUs(map[perffile.EventType]string{spePMU: "cs_etm"}), info)
	assert.ErrorContains(t, err, `is PMU "cs_etm"`)
	err = h.AuxtraceInfo(fileWithPMUs(map[perffile.EventType]string{4: "cpu"}), info)
	assert.ErrorContains(t, err, "not in PMU mappings")

	_, err = ParseSPE(&perffile.RecordAuxtraceInfo{Kind: perffile.AuxtraceARMSPE})
	assert.Error(t, err)
	_, err = ParseSPE(&perffile.RecordAuxtraceInfo{Kind: perffile.AuxtraceIntelPT, Priv: []uint64{1}})
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, h.ReportAuxtraceInfo(&buf, info))
	assert.Equal(t, "  PMU Type            8\n", buf.String())
}

func TestHexDump(t *testing.T) {
	var buf bytes.Buffer
	data := make([]byte, 18)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, (&SPEHandler{}).ReportAuxtrace(&buf, &perffile.RecordAuxtrace{Data: data}))
	assert.Equal(t,
		".  00000000:  00 01 02 03 04 05 06 07 08 09 0a 0b 0c 0d 0e 0f\n"+
			".  00000010:  10 11\n",
		buf.String())
}

// etmInfo returns the private data of an ETM AUXTRACE_INFO record
// with an ETMv4 CPU 1 and an ETMv3 CPU 0.
func etmInfo(version uint64, extra ...uint64) *perffile.RecordAuxtraceInfo {
	const pmuType = 9
	priv := []uint64{version, pmuType<<32 | 2, 0}
	priv = append(priv, MagicETMv4, 1)
	if version == 1 {
		priv = append(priv, uint64(7+len(extra)))
	}
	priv = append(priv, 0x11, 0x12, 0x13, 0x20, 0x15, 0x16, 0x17)
	priv = append(priv, extra...)
	priv = append(priv, MagicETMv3, 0)
	if version == 1 {
		priv = append(priv, 4)
	}
	priv = append(priv, 0x1, 0x22, 0x3, 0x4)
	return &perffile.RecordAuxtraceInfo{Kind: perffile.AuxtraceCSETM, Priv: priv}
}

func TestETM(t *testing.T) {
	for _, version := range []uint64{0, 1} {
		e, err := ParseETM(etmInfo(version), nil)
		require.NoError(t, err, "version %d", version)
		assert.Equal(t, perffile.EventType(9), e.PMUType)
		require.Len(t, e.CPUs, 2)

		c0, c1 := e.CPUs[0], e.CPUs[1]
		assert.Equal(t, 0, c0.CPU)
		assert.Equal(t, "ETMv3", c0.Arch())
		assert.Equal(t, uint8(0x22), c0.TraceID())
		assert.Equal(t, 1, c1.CPU)
		assert.Equal(t, "ETMv4.2", c1.Arch())
		assert.Equal(t, uint8(0x12), c1.TraceID())
		v, ok := c1.Reg("TRCIDR2")
		require.True(t, ok)
		assert.Equal(t, uint64(0x15), v)
		assert.Equal(t, "CPU #0: ETMv3 [ETMCR=0x1, ETMTRACEIDR=0x22, ETMCCER=0x3, ETMIDR=0x4]", c0.String())
	}
}

func TestETMUnknownRegisters(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	e, err := ParseETM(etmInfo(1, 0xdead, 0xbeef), log)
	require.NoError(t, err)
	require.Len(t, e.CPUs, 2)
	assert.Len(t, e.CPUs[1].Regs, 7)

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "CPU #1")
}

func TestETMErrors(t *testing.T) {
	bad := etmInfo(0)
	bad.Priv[3] = 0x6060606060606060
	_, err := ParseETM(bad, nil)
	assert.ErrorContains(t, err, "unknown ETM magic")

	short := etmInfo(0)
	short.Priv = short.Priv[:len(short.Priv)-2]
	_, err = ParseETM(short, nil)
	assert.ErrorContains(t, err, "truncated")

	dup := etmInfo(0)
	dup.Priv[len(dup.Priv)-5] = 1
	_, err = ParseETM(dup, nil)
	assert.ErrorContains(t, err, "duplicate")

	h := &ETMHandler{}
	err = h.AuxtraceInfo(fileWithPMUs(map[perffile.EventType]string{8: "arm_spe_0"}), etmInfo(0))
	assert.ErrorContains(t, err, "not in PMU mappings")
	assert.NoError(t, h.AuxtraceInfo(fileWithPMUs(map[perffile.EventType]string{9: "cs_etm"}), etmInfo(0)))
}

func TestETMReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&ETMHandler{}).ReportAuxtraceInfo(&buf, etmInfo(0)))
	out := buf.String()
	assert.Contains(t, out, "  PMU type/num cpus   900000002\n")
	assert.Contains(t, out, "  TRCTRACEIDR         12\n")
	assert.Contains(t, out, "  Magic number        3030303030303030\n")
}

func TestDefault(t *testing.T) {
	reg := Default()
	assert.Same(t, reg, Default())
	assert.Equal(t, []perffile.AuxtraceType{perffile.AuxtraceCSETM, perffile.AuxtraceARMSPE}, reg.Kinds())
	h, ok := reg.Lookup(perffile.AuxtraceARMSPE)
	require.True(t, ok)
	_, ok = h.(perffile.AuxtraceReporter)
	assert.True(t, ok)
}

// TestFileIntegration checks the handlers as invoked by perffile
// while reading a profile.
func TestFileIntegration(t *testing.T) {
	attr := perffile.NewEventAttr(perffile.AttrSizeDefault)
	attr.SetType(spePMU)
	attr.SetConfig(0)
	attr.SetSampleFormat(perffile.SampleFormatTID | perffile.SampleFormatTime | perffile.SampleFormatIdentifier)
	attr.SetFlags(perffile.EventFlagSampleIDAll)

	write := func(pmuName string) []byte {
		var buf bytes.Buffer
		w, err := perffile.NewWriter(&buf, perffile.WithPipe())
		require.NoError(t, err)
		_, err = w.AddEvent(attr, "arm_spe_0//", []uint64{3})
		require.NoError(t, err)
		require.NoError(t, w.SetMeta(&perffile.FileMeta{
			PMUMappings: map[perffile.EventType]string{spePMU: pmuName},
		}))
		require.NoError(t, w.WriteRecord(speInfo()))
		require.NoError(t, w.Close())
		return buf.Bytes()
	}

	f, err := perffile.NewStream(bytes.NewReader(write("arm_spe_0")), perffile.WithAuxtrace(NewRegistry(nil)))
	require.NoError(t, err)
	rs := f.Records(perffile.RecordsFileOrder)
	for rs.Next() {
	}
	require.NoError(t, rs.Err())
	require.NotNil(t, f.AuxtraceInfo())

	f, err = perffile.NewStream(bytes.NewReader(write("cs_etm")), perffile.WithAuxtrace(NewRegistry(nil)))
	require.NoError(t, err)
	rs = f.Records(perffile.RecordsFileOrder)
	for rs.Next() {
	}
	assert.ErrorContains(t, rs.Err(), `is PMU "cs_etm"`)
}
