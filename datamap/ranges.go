// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datamap

import "sort"

// Ranges is a flat set of disjoint ranges of uint64 values, each
// carrying a value of type V, with logarithmic lookup.
//
// Unlike Map, Ranges does not validate its input and does not nest.
// It is meant for large, read-mostly tables such as symbol tables.
type Ranges[V any] struct {
	rs     []rangeEnt[V]
	sorted bool
}

type rangeEnt[V any] struct {
	lo, hi uint64
	val    V
}

// Add inserts val for range [lo, hi).
//
// Add is undefined if [lo, hi) overlaps a range already in r.
func (r *Ranges[V]) Add(lo, hi uint64, val V) {
	r.rs = append(r.rs, rangeEnt[V]{lo, hi, val})
	r.sorted = false
}

// Len returns the number of ranges in r.
func (r *Ranges[V]) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rs)
}

// Get returns the bounds and the value of the range containing idx.
func (r *Ranges[V]) Get(idx uint64) (lo, hi uint64, val V, ok bool) {
	if r == nil {
		return
	}
	rs := r.rs
	if !r.sorted {
		sort.Slice(rs, func(i, j int) bool {
			return rs[i].lo < rs[j].lo
		})
		r.sorted = true
	}
	i := sort.Search(len(rs), func(i int) bool {
		return idx < rs[i].hi
	})
	if i < len(rs) && rs[i].lo <= idx && idx < rs[i].hi {
		return rs[i].lo, rs[i].hi, rs[i].val, true
	}
	return
}
