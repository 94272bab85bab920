// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"bytes"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostMeta(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("host metadata is only complete on linux")
	}
	m, err := HostMeta("9.9.9")
	require.NoError(t, err)

	host, err := os.Hostname()
	require.NoError(t, err)
	assert.Equal(t, host, m.Hostname)
	assert.Equal(t, "9.9.9", m.Version)
	assert.NotEmpty(t, m.OSRelease)
	assert.NotEmpty(t, m.Arch)
	assert.Positive(t, m.CPUsOnline)
	assert.Positive(t, m.TotalMem)
	assert.Equal(t, os.Args, m.CmdLine)

	// The environment headers survive a round trip.
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WithPipe())
	require.NoError(t, err)
	_, err = w.AddEvent(testAttr(testSampleFormat), "cycles", []uint64{42})
	require.NoError(t, err)
	require.NoError(t, w.SetMeta(m))
	require.NoError(t, w.Close())

	f, err := NewStream(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Hostname, f.Meta.Hostname)
	assert.Equal(t, m.OSRelease, f.Meta.OSRelease)
	assert.Equal(t, m.CPUsOnline, f.Meta.CPUsOnline)
	assert.Equal(t, m.TotalMem, f.Meta.TotalMem)
}
