// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perffile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// A CPUSet is a sorted set of CPU indexes.
//
// CPU sets appear in the topology headers as kernel cpulist strings
// ("0-3,8") and in RecordCPUMap as lists or bitmasks.
type CPUSet []int

// ParseCPUSet parses a cpulist string such as "0-3,8". The empty
// string is the empty set.
func ParseCPUSet(str string) (CPUSet, error) {
	out := CPUSet{}
	if str == "" {
		return out, nil
	}
	for _, elt := range strings.Split(str, ",") {
		loStr, hiStr, isRange := strings.Cut(elt, "-")
		lo, err := strconv.Atoi(loStr)
		if err != nil {
			return nil, fmt.Errorf("bad CPU list %q: %w", str, err)
		}
		hi := lo
		if isRange {
			if hi, err = strconv.Atoi(hiStr); err != nil {
				return nil, fmt.Errorf("bad CPU list %q: %w", str, err)
			}
		}
		if lo < 0 || hi < lo {
			return nil, fmt.Errorf("bad CPU range %q in %q", elt, str)
		}
		for cpu := lo; cpu <= hi; cpu++ {
			out = append(out, cpu)
		}
	}
	return out.normalize(), nil
}

// cpuSetFromMask returns the CPUs whose bits are set in words, each
// word holding bits CPUs.
func cpuSetFromMask(words []uint64, bits int) CPUSet {
	var out CPUSet
	for i, w := range words {
		for bit := 0; bit < bits && w != 0; bit++ {
			if w&1 != 0 {
				out = append(out, i*bits+bit)
			}
			w >>= 1
		}
	}
	return out
}

// normalize sorts c and removes duplicates in place.
func (c CPUSet) normalize() CPUSet {
	sort.Ints(c)
	j := 0
	for i, cpu := range c {
		if i > 0 && cpu == c[j-1] {
			continue
		}
		c[j] = cpu
		j++
	}
	return c[:j]
}

// Contains reports whether cpu is in c.
func (c CPUSet) Contains(cpu int) bool {
	i := sort.SearchInts(c, cpu)
	return i < len(c) && c[i] == cpu
}

// String returns c in cpulist form.
func (c CPUSet) String() string {
	var b strings.Builder
	for i := 0; i < len(c); {
		j := i
		for j+1 < len(c) && c[j+1] == c[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(c[i]))
		if j > i {
			fmt.Fprintf(&b, "-%d", c[j])
		}
		i = j + 1
	}
	return b.String()
}

func cpuSetStrings(sets []CPUSet) []string {
	out := make([]string, len(sets))
	for i, s := range sets {
		out[i] = s.String()
	}
	return out
}
