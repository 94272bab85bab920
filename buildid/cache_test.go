// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buildid

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheAddList(t *testing.T) {
	tmp := t.TempDir()
	bin := filepath.Join(tmp, "bin", "prog")
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0755))
	writeELF(t, bin, gnuNote(binary.LittleEndian, testID))

	c := NewCache(filepath.Join(tmp, "debug"), nil)
	assert.False(t, c.Exists())
	assert.False(t, c.Contains(testID))
	ents, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, ents)

	added, err := c.Add(bin, false)
	require.NoError(t, err)
	require.True(t, added)
	assert.True(t, c.Exists())
	assert.True(t, c.Contains(testID))

	// Adding again is a no-op unless forced.
	added, err = c.Add(bin, false)
	require.NoError(t, err)
	assert.False(t, added)
	added, err = c.Add(bin, true)
	require.NoError(t, err)
	assert.True(t, added)

	files, err := c.Files(testID)
	require.NoError(t, err)
	assert.Equal(t, []string{"elf"}, files)
	path, ok := c.Contents(testID, "")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(c.IDDir(testID), "elf"), path)

	ents, err = c.List()
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, testID, ents[0].ID)
	assert.Equal(t, bin, ents[0].Filename)
	assert.True(t, c.Valid(ents[0]))

	removed, err := c.Remove(bin)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, c.Contains(testID))
	removed, err = c.Remove(bin)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCacheMatching(t *testing.T) {
	tmp := t.TempDir()
	bin := filepath.Join(tmp, "prog")
	writeELF(t, bin, gnuNote(binary.LittleEndian, testID))

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	c := NewCache(filepath.Join(tmp, "debug"), log)

	// Not cached, but the file on disk matches.
	path, ok := c.Matching(testID, bin)
	require.True(t, ok)
	assert.Equal(t, bin, path)

	other := ID{1, 2, 3, 4}
	_, ok = c.Matching(other, bin)
	assert.False(t, ok)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "want 01020304")

	_, ok = c.Matching(other, "")
	assert.False(t, ok)

	// A cached copy wins over the file on disk.
	_, err := c.add(bin, other, false)
	require.NoError(t, err)
	path, ok = c.Matching(other, bin)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(c.IDDir(other), "elf"), path)
}

func TestCacheMemo(t *testing.T) {
	tmp := t.TempDir()
	bin := filepath.Join(tmp, "prog")
	require.NoError(t, os.WriteFile(bin, []byte("v1"), 0644))

	c := NewCache(tmp, nil)
	calls := 0
	c.fileID = func(string) (ID, error) {
		calls++
		return testID, nil
	}
	for i := 0; i < 3; i++ {
		id, err := c.FileID(bin)
		require.NoError(t, err)
		assert.Equal(t, testID, id)
	}
	assert.Equal(t, 1, calls)

	// A size change invalidates the memo.
	require.NoError(t, os.WriteFile(bin, []byte("version 2"), 0644))
	_, err := c.FileID(bin)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
