// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package datamap maintains a hierarchical map of the regions of a
// flat address space, such as the sections of a file.
//
// A Map is a tree of Ranges. Sibling ranges never overlap and are
// kept ordered by base address. A range that lies entirely within
// another range becomes its child. Map checks its own consistency
// after every insertion, so an inconsistent layout is detected at the
// insertion that caused it.
package datamap // import "github.com/aclements/go-perfdata/datamap"

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// UnmappedLabel is the label of the synthetic ranges produced by
// Range.Unmapped.
const UnmappedLabel = "**unmapped**"

// A Range is a labeled region [Base, Base+Size) of the address space.
type Range struct {
	Base, Size uint64
	Label      string

	parent   *Range
	children []*Range // ordered by Base
	top      bool
}

// Limit returns the first address after r.
func (r *Range) Limit() uint64 {
	return r.Base + r.Size
}

// IsTop reports whether r is the unbounded root of a Map.
func (r *Range) IsTop() bool {
	return r.top
}

// Contains reports whether addr lies within r.
func (r *Range) Contains(addr uint64) bool {
	return r.top || (r.Base <= addr && addr < r.Limit())
}

// ContainsRange reports whether o lies entirely within r.
func (r *Range) ContainsRange(o *Range) bool {
	return r.top || (r.Base <= o.Base && o.Limit() <= r.Limit())
}

// Parent returns the range containing r, or nil if r is the top of
// its Map.
func (r *Range) Parent() *Range {
	return r.parent
}

// Children returns the ranges directly contained by r in address
// order. The caller must not modify the returned slice.
func (r *Range) Children() []*Range {
	return r.children
}

// Path returns r followed by each of its ancestors up to, but not
// including, the top of the Map.
func (r *Range) Path() []*Range {
	var out []*Range
	for x := r; x != nil && !x.top; x = x.parent {
		out = append(out, x)
	}
	return out
}

func (r *Range) String() string {
	if r.top {
		return "TOP"
	}
	return fmt.Sprintf("%#x-%#x %s", r.Base, r.Limit(), r.Label)
}

func (r *Range) insert(n *Range) error {
	if !r.ContainsRange(n) {
		return fmt.Errorf("%s should contain %s", r, n)
	}
	var down []*Range
	for _, c := range r.children {
		if c.ContainsRange(n) {
			if len(down) != 0 {
				return fmt.Errorf("%s is inside %s but contains %s", n, c, down[0])
			}
			return c.insert(n)
		}
		if n.ContainsRange(c) {
			down = append(down, c)
		}
	}
	if len(down) != 0 {
		keep := r.children[:0]
		for _, c := range r.children {
			if n.ContainsRange(c) {
				c.parent = nil
				if err := n.insert(c); err != nil {
					return err
				}
			} else {
				keep = append(keep, c)
			}
		}
		r.children = keep
	}
	n.parent = r
	i := 0
	for _, c := range r.children {
		if n.Limit() <= c.Base {
			break
		}
		i++
	}
	r.children = append(r.children, nil)
	copy(r.children[i+1:], r.children[i:])
	r.children[i] = n
	return nil
}

// Unmapped returns an iterator over the holes in r: the parts of r's
// extent not covered by any child. For the top range, only the holes
// between children are reported.
func (r *Range) Unmapped() *Gaps {
	g := &Gaps{parent: r}
	if r.top {
		if len(r.children) == 0 {
			g.done = true
		} else {
			g.start = r.children[0].Base
		}
	} else {
		g.start = r.Base
	}
	return g
}

// Gaps iterates over the unmapped holes of a Range.
//
//	g := r.Unmapped()
//	for g.Next() {
//		hole := g.Range()
//		...
//	}
type Gaps struct {
	parent *Range
	next   int
	start  uint64
	cur    *Range
	done   bool
}

// Next advances to the next hole and reports whether there is one.
func (g *Gaps) Next() bool {
	for !g.done {
		if g.next < len(g.parent.children) {
			c := g.parent.children[g.next]
			g.next++
			start := g.start
			g.start = c.Limit()
			if start < c.Base {
				g.cur = &Range{Base: start, Size: c.Base - start, Label: UnmappedLabel, parent: g.parent}
				return true
			}
			continue
		}
		g.done = true
		if !g.parent.top && g.start < g.parent.Limit() {
			g.cur = &Range{Base: g.start, Size: g.parent.Limit() - g.start, Label: UnmappedLabel, parent: g.parent}
			return true
		}
	}
	g.cur = nil
	return false
}

// Range returns the current hole.
func (g *Gaps) Range() *Range {
	return g.cur
}

// findChild returns the immediate child of r containing addr.
func (r *Range) findChild(addr uint64) *Range {
	for _, c := range r.children {
		if c.Contains(addr) {
			return c
		}
	}
	return nil
}

func (r *Range) check() error {
	var last *Range
	for _, c := range r.children {
		if !r.ContainsRange(c) {
			return fmt.Errorf("%s does not contain child %s", r, c)
		}
		if last != nil {
			if c.Base < last.Base {
				return fmt.Errorf("%s has out-of-order children %s and %s", r, last, c)
			}
			if c.Base < last.Limit() {
				return fmt.Errorf("%s has overlapping children %s and %s", r, last, c)
			}
		}
		if err := c.check(); err != nil {
			return err
		}
		last = c
	}
	return nil
}

func (r *Range) dump(b *strings.Builder, depth int) {
	fmt.Fprintf(b, "%s%s\n", strings.Repeat("  ", depth), r)
	for _, c := range r.children {
		c.dump(b, depth+1)
	}
}

// A Map is a tree of non-overlapping, possibly nested ranges.
//
// The zero Map is not usable; create Maps with New.
type Map struct {
	top Range
	log []*Range

	// Logger receives the tree dump when a consistency check
	// fails. If nil, the standard logrus logger is used.
	Logger logrus.FieldLogger
}

// New returns an empty Map whose top range spans the whole address
// space.
func New() *Map {
	m := &Map{}
	m.top = Range{Label: "TOP", top: true}
	return m
}

// Top returns the unbounded root range of m.
func (m *Map) Top() *Range {
	return &m.top
}

// Add inserts the range [base, base+size) labeled label and returns
// it. If size is 0, Add only records the request in the insertion log
// and returns nil.
//
// Add panics with a *CheckError if the insertion leaves the map
// inconsistent, for example because the new range partially overlaps
// an existing one. Use Insert to get an error instead.
func (m *Map) Add(base, size uint64, label string) *Range {
	r, err := m.Insert(base, size, label)
	if err != nil {
		panic(err)
	}
	return r
}

// Insert is like Add, but returns a *CheckError instead of panicking
// if the map becomes inconsistent. After Insert fails, m must not be
// used further except to report the failure.
func (m *Map) Insert(base, size uint64, label string) (*Range, error) {
	r := &Range{Base: base, Size: size, Label: label}
	m.log = append(m.log, r)
	if size == 0 {
		return nil, nil
	}
	if base+size < base {
		return nil, m.fail(fmt.Errorf("range %s wraps around the address space", r))
	}
	if err := m.top.insert(r); err != nil {
		return nil, m.fail(err)
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return r, nil
}

// Find returns the most specific range containing addr. If no range
// contains addr, it returns the top range.
func (m *Map) Find(addr uint64) *Range {
	r := &m.top
	for {
		c := r.findChild(addr)
		if c == nil {
			return r
		}
		r = c
	}
}

// Contains reports whether any top-level range contains addr.
func (m *Map) Contains(addr uint64) bool {
	return m.top.findChild(addr) != nil
}

// Walk calls fn for every range in m in depth-first address order.
// depth is 0 for top-level ranges. If fn returns false, Walk stops.
func (m *Map) Walk(fn func(depth int, r *Range) bool) {
	var walk func(r *Range, depth int) bool
	walk = func(r *Range, depth int) bool {
		for _, c := range r.children {
			if !fn(depth, c) || !walk(c, depth+1) {
				return false
			}
		}
		return true
	}
	walk(&m.top, 0)
}

// Render writes every range in m to w, one per line, indented by
// depth. A hole between two consecutive ranges at the same depth is
// shown as an UnmappedLabel line.
func (m *Map) Render(w io.Writer) error {
	var err error
	last := map[int]*Range{}
	m.Walk(func(depth int, r *Range) bool {
		indent := strings.Repeat("  ", depth)
		if l := last[depth]; l != nil && l.parent == r.parent && l.Limit() < r.Base {
			_, err = fmt.Fprintf(w, "%s%#-10x %#-10x %s\n", indent, l.Limit(), r.Base, UnmappedLabel)
			if err != nil {
				return false
			}
		}
		_, err = fmt.Fprintf(w, "%s%#-10x %#-10x %s\n", indent, r.Base, r.Limit(), r.Label)
		last[depth] = r
		return err == nil
	})
	return err
}

// Check verifies that every range contains its children and that
// sibling ranges are ordered and disjoint. On failure it logs the
// whole tree and the insertion log and returns a *CheckError.
func (m *Map) Check() error {
	if err := m.top.check(); err != nil {
		return m.fail(err)
	}
	return nil
}

// Dump returns a textual rendering of the tree, one range per line,
// indented by depth.
func (m *Map) Dump() string {
	var b strings.Builder
	m.top.dump(&b, 0)
	return b.String()
}

func (m *Map) fail(err error) *CheckError {
	ce := &CheckError{Err: err, Tree: m.Dump()}
	for _, r := range m.log {
		ce.Log = append(ce.Log, fmt.Sprintf("%#x+%#x %s", r.Base, r.Size, r.Label))
	}
	log := m.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithField("tree", ce.Tree).WithField("insertions", strings.Join(ce.Log, "; ")).
		Errorf("data map consistency check failed [%s]", err)
	return ce
}

// A CheckError reports an inconsistent Map.
type CheckError struct {
	Err  error
	Tree string   // Dump of the map at the time of failure
	Log  []string // Every insertion, in order
}

func (e *CheckError) Error() string {
	return "datamap: " + e.Err.Error()
}

func (e *CheckError) Unwrap() error {
	return e.Err
}
