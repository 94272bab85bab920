// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUSet(t *testing.T) {
	for _, test := range []struct {
		in   string
		want CPUSet
		str  string
	}{
		{"", CPUSet{}, ""},
		{"3", CPUSet{3}, "3"},
		{"0-3,8", CPUSet{0, 1, 2, 3, 8}, "0-3,8"},
		{"8,0-1,1,2", CPUSet{0, 1, 2, 8}, "0-2,8"},
		{"4-5,7,9-10", CPUSet{4, 5, 7, 9, 10}, "4-5,7,9-10"},
	} {
		got, err := ParseCPUSet(test.in)
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, got, test.in)
		assert.Equal(t, test.str, got.String(), test.in)
	}

	for _, bad := range []string{"x", "1-", "3-1", "-2", "1,,2"} {
		_, err := ParseCPUSet(bad)
		assert.Error(t, err, bad)
	}

	c := CPUSet{1, 4, 9}
	assert.True(t, c.Contains(4))
	assert.False(t, c.Contains(5))
	assert.False(t, CPUSet(nil).Contains(0))
}

func TestCPUSetFromMask(t *testing.T) {
	assert.Equal(t, CPUSet{0, 2, 33}, cpuSetFromMask([]uint64{0x5, 0x2}, 32))
	assert.Equal(t, CPUSet{63, 64}, cpuSetFromMask([]uint64{1 << 63, 1}, 64))
	assert.Nil(t, cpuSetFromMask([]uint64{0}, 64))
}
