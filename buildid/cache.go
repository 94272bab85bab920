// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buildid

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
)

// A Cache is a perf build ID cache directory, usually ~/.debug.
//
// Its index is dir/.build-id/xx/rest, where xx is the first byte of
// the build ID in hex and rest is the remainder. Each index entry is a
// symbolic link to dir/<original path>/<build ID>, a directory holding
// a copy of the file, usually named "elf".
//
// A Cache also memoizes the build IDs of files on disk. It is safe for
// concurrent use.
type Cache struct {
	dir string
	log logrus.FieldLogger

	// fileID reads the build ID of a file. It is FromFile except
	// in tests.
	fileID func(path string) (ID, error)

	mu   sync.Mutex
	memo *lru.Cache
}

// An Entry is one file in the build ID cache.
type Entry struct {
	ID       ID
	Filename string
}

type memoEntry struct {
	mtime time.Time
	size  int64
	id    ID
	err   error
}

const memoSize = 512

// DefaultDir returns the default cache directory, $HOME/.debug.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".debug"
	}
	return filepath.Join(home, ".debug")
}

// NewCache returns the build ID cache rooted at dir. If dir is "", it
// uses DefaultDir. If log is nil, it uses the standard logger.
func NewCache(dir string, log logrus.FieldLogger) *Cache {
	if dir == "" {
		dir = DefaultDir()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{dir: dir, log: log, fileID: FromFile, memo: lru.New(memoSize)}
}

// Dir returns the root directory of c.
func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) index() string {
	return filepath.Join(c.dir, ".build-id")
}

// Exists reports whether c's index directory exists.
func (c *Cache) Exists() bool {
	_, err := os.Stat(c.index())
	return err == nil
}

// IDDir returns the index path for id.
func (c *Cache) IDDir(id ID) string {
	return filepath.Join(c.index(), id.Index0(), id.Index1())
}

// Contains reports whether c has an entry for id.
func (c *Cache) Contains(id ID) bool {
	_, err := os.Stat(c.IDDir(id))
	return err == nil
}

// Files returns the names of the files cached for id, often just
// "elf".
func (c *Cache) Files(id ID) ([]string, error) {
	ents, err := os.ReadDir(c.IDDir(id))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ents))
	for i, ent := range ents {
		names[i] = ent.Name()
	}
	return names, nil
}

// Contents returns the path of the cached file name for id. If name
// is "", id must have exactly one cached file.
func (c *Cache) Contents(id ID, name string) (string, bool) {
	if name == "" {
		names, err := c.Files(id)
		if err != nil || len(names) != 1 {
			return "", false
		}
		name = names[0]
	}
	path := filepath.Join(c.IDDir(id), name)
	if st, err := os.Stat(path); err != nil || !st.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// Matching returns the path of a file with build ID id: its cached
// copy if there is one, else filename if that file on disk has build
// ID id.
func (c *Cache) Matching(id ID, filename string) (string, bool) {
	if path, ok := c.Contents(id, ""); ok {
		return path, true
	}
	if filename == "" {
		return "", false
	}
	fid, err := c.FileID(filename)
	if err != nil {
		c.log.Debugf("build ID of %s: %v", filename, err)
		return "", false
	}
	if !fid.Equal(id) {
		c.log.Debugf("%s has build ID %s, want %s", filename, fid, id)
		return "", false
	}
	return filename, true
}

// FileID returns the build ID of the file at path. Results are
// memoized until the file's size or modification time changes.
func (c *Cache) FileID(path string) (ID, error) {
	if path == KernelFilename {
		return c.fileID(path)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	v, ok := c.memo.Get(path)
	c.mu.Unlock()
	if ok {
		e := v.(*memoEntry)
		if e.mtime.Equal(st.ModTime()) && e.size == st.Size() {
			return e.id, e.err
		}
	}
	id, err := c.fileID(path)
	c.mu.Lock()
	c.memo.Add(path, &memoEntry{st.ModTime(), st.Size(), id, err})
	c.mu.Unlock()
	return id, err
}

// Add copies the file at path into the cache under its build ID. If
// the cache already has an entry for that ID, Add does nothing and
// returns false unless force is set.
func (c *Cache) Add(path string, force bool) (bool, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	id, err := c.FileID(path)
	if err != nil {
		return false, err
	}
	return c.add(path, id, force)
}

func (c *Cache) add(path string, id ID, force bool) (bool, error) {
	if c.Contains(id) && !force {
		c.log.Debugf("cache already contains %s %s", path, id)
		return false, nil
	}
	target := filepath.Join(c.dir, path, id.String())
	if err := os.MkdirAll(target, 0755); err != nil {
		return false, err
	}
	if err := copyFile(filepath.Join(target, "elf"), path); err != nil {
		return false, err
	}
	link := c.IDDir(id)
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return false, err
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	rel := filepath.Join("..", "..", path, id.String())
	if err := os.Symlink(rel, link); err != nil {
		return false, err
	}
	return true, nil
}

// Remove removes the cache entry for the build ID of the file at
// path. It returns false if there was no such entry.
func (c *Cache) Remove(path string) (bool, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	id, err := c.FileID(path)
	if err != nil {
		return false, err
	}
	return c.remove(path, id)
}

func (c *Cache) remove(path string, id ID) (bool, error) {
	if !c.Contains(id) {
		return false, nil
	}
	if err := os.Remove(c.IDDir(id)); err != nil {
		return false, err
	}
	if err := os.RemoveAll(filepath.Join(c.dir, path, id.String())); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every entry in the cache index, sorted by build ID.
func (c *Cache) List() ([]Entry, error) {
	var out []Entry
	d0s, err := os.ReadDir(c.index())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	for _, d0 := range d0s {
		d1s, err := os.ReadDir(filepath.Join(c.index(), d0.Name()))
		if err != nil {
			return nil, err
		}
		for _, d1 := range d1s {
			ent, err := c.entry(d0.Name(), d1.Name())
			if err != nil {
				c.log.Warnf("build ID cache: %v", err)
				continue
			}
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (c *Cache) entry(index0, index1 string) (Entry, error) {
	link := filepath.Join(c.index(), index0, index1)
	target, err := os.Readlink(link)
	if err != nil {
		return Entry{}, err
	}
	// Link targets are "../../<path>/<build ID>", or absolute
	// paths under c.dir.
	var rel string
	switch {
	case strings.HasPrefix(target, "../../"):
		rel = target[len("../.."):]
	case strings.HasPrefix(target, c.dir+string(filepath.Separator)):
		rel = target[len(c.dir):]
	default:
		return Entry{}, fmt.Errorf("unexpected link target %s -> %s", link, target)
	}
	id, err := Parse(filepath.Base(rel))
	if err != nil {
		return Entry{}, err
	}
	name := filepath.Dir(rel)
	if strings.HasPrefix(name, "/[") && strings.HasSuffix(name, "]") {
		// [kernel.kallsyms], [vdso]
		name = name[1:]
	}
	return Entry{ID: id, Filename: name}, nil
}

// Valid reports whether e's file on disk still has e's build ID.
func (c *Cache) Valid(e Entry) bool {
	id, err := c.FileID(e.Filename)
	return err == nil && id.Equal(e.ID)
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
