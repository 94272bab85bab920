// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datamap

import (
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nested() *Map {
	m := New()
	m.Add(15, 8, "A")
	m.Add(17, 2, "B")
	m.Add(1, 8, "C")
	m.Add(12, 20, "D")
	m.Add(1, 3, "E")
	m.Add(2, 1, "F")
	m.Add(4, 2, "G")
	return m
}

func labels(rs []*Range) string {
	var ls []string
	for _, r := range rs {
		ls = append(ls, r.Label)
	}
	return strings.Join(ls, ",")
}

func TestNesting(t *testing.T) {
	m := nested()
	require.NoError(t, m.Check())

	assert.Equal(t, "C,D", labels(m.Top().Children()))
	c := m.Top().Children()[0]
	assert.Equal(t, "E,G", labels(c.Children()))
	d := m.Top().Children()[1]
	assert.Equal(t, "A", labels(d.Children()))
	assert.Equal(t, "B", labels(d.Children()[0].Children()))

	for _, test := range []struct {
		addr uint64
		path string
	}{
		{0, ""},
		{1, "E,C"},
		{2, "F,E,C"},
		{3, "E,C"},
		{5, "G,C"},
		{8, "C"},
		{9, ""},
		{12, "D"},
		{16, "A,D"},
		{18, "B,A,D"},
		{31, "D"},
		{32, ""},
	} {
		r := m.Find(test.addr)
		assert.Equal(t, test.path, labels(r.Path()), "Find(%d)", test.addr)
		assert.Equal(t, test.path != "", m.Contains(test.addr), "Contains(%d)", test.addr)
		if test.path == "" {
			assert.True(t, r.IsTop())
		}
	}
}

func TestInsertionOrder(t *testing.T) {
	type add struct {
		base, size uint64
		label      string
	}
	adds := []add{
		{0, 37132, "file"},
		{0, 104, "header"},
		{120, 256, "data"},
		{104, 8, "desc 0"},
		{112, 8, "desc 1"},
	}
	var want string
	var permute func(k int)
	permute = func(k int) {
		if k == len(adds) {
			m := New()
			for _, a := range adds {
				_, err := m.Insert(a.base, a.size, a.label)
				require.NoError(t, err)
			}
			require.NoError(t, m.Check())
			got := m.Dump()
			if want == "" {
				want = got
			}
			assert.Equal(t, want, got)
			return
		}
		for i := k; i < len(adds); i++ {
			adds[k], adds[i] = adds[i], adds[k]
			permute(k + 1)
			adds[k], adds[i] = adds[i], adds[k]
		}
	}
	permute(0)

	assert.Equal(t, "TOP\n"+
		"  0x0-0x910c file\n"+
		"    0x0-0x68 header\n"+
		"    0x68-0x70 desc 0\n"+
		"    0x70-0x78 desc 1\n"+
		"    0x78-0x178 data\n", want)
}

func TestZeroSize(t *testing.T) {
	m := New()
	assert.Nil(t, m.Add(10, 0, "empty"))
	assert.Empty(t, m.Top().Children())
	assert.False(t, m.Contains(10))
}

func TestOverlap(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	m := New()
	m.Logger = logger
	m.Add(10, 10, "first")

	_, err := m.Insert(15, 10, "second")
	require.Error(t, err)
	var ce *CheckError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Error(), "overlapping")
	assert.Equal(t, []string{"0xa+0xa first", "0xf+0xa second"}, ce.Log)
	assert.Contains(t, ce.Tree, "second")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	m2 := New()
	m2.Logger = logger
	m2.Add(0, 8, "a")
	assert.Panics(t, func() { m2.Add(4, 8, "b") })
}

func TestWrap(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	m := New()
	m.Logger = logger
	_, err := m.Insert(^uint64(0)-1, 4, "wrap")
	assert.Error(t, err)
}

func TestUnmapped(t *testing.T) {
	m := nested()
	holes := func(r *Range) []string {
		var out []string
		for g := r.Unmapped(); g.Next(); {
			h := g.Range()
			assert.Equal(t, UnmappedLabel, h.Label)
			assert.Same(t, r, h.Parent())
			out = append(out, h.String())
		}
		return out
	}
	top := m.Top()
	assert.Equal(t, []string{"0x9-0xc **unmapped**"}, holes(top))
	c, d := top.Children()[0], top.Children()[1]
	assert.Equal(t, []string{"0x6-0x9 **unmapped**"}, holes(c))
	assert.Equal(t, []string{"0xc-0xf **unmapped**", "0x17-0x20 **unmapped**"}, holes(d))
	assert.Equal(t, []string{"0xf-0x11 **unmapped**", "0x13-0x17 **unmapped**"}, holes(d.Children()[0]))
	assert.Nil(t, holes(New().Top()))
}

func TestWalkAndRender(t *testing.T) {
	m := nested()
	var got []string
	m.Walk(func(depth int, r *Range) bool {
		got = append(got, strings.Repeat(".", depth)+r.Label)
		return true
	})
	assert.Equal(t, []string{"C", ".E", "..F", ".G", "D", ".A", "..B"}, got)

	n := 0
	m.Walk(func(int, *Range) bool {
		n++
		return n < 3
	})
	assert.Equal(t, 3, n)

	var b strings.Builder
	require.NoError(t, m.Render(&b))
	lines := strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")
	require.Len(t, lines, 8)
	assert.True(t, strings.HasSuffix(lines[4], UnmappedLabel), lines[4])
	assert.True(t, strings.HasPrefix(lines[4], "0x9 "), lines[4])
	assert.True(t, strings.HasSuffix(lines[5], " D"), lines[5])
}

func TestRanges(t *testing.T) {
	var r Ranges[string]
	r.Add(0x2000, 0x3000, "b")
	r.Add(0x1000, 0x1800, "a")
	assert.Equal(t, 2, r.Len())

	lo, hi, v, ok := r.Get(0x2800)
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, uint64(0x2000), lo)
	assert.Equal(t, uint64(0x3000), hi)

	_, _, _, ok = r.Get(0x1900)
	assert.False(t, ok)
	_, _, v, ok = r.Get(0x1000)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	var nilRanges *Ranges[int]
	_, _, _, ok = nilRanges.Get(0)
	assert.False(t, ok)
}
