// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfdata

import (
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var licenseHeader = regexp.MustCompile(`^// Copyright 20\d\d The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
`)

// goFiles returns the Go source files of this module, skipping
// directories the go tool ignores.
func goFiles(t *testing.T) []string {
	var out []string
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			n := d.Name()
			if path != "." && (strings.HasPrefix(n, "_") || strings.HasPrefix(n, ".") || n == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".go" {
			out = append(out, path)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestLicenseHeaders(t *testing.T) {
	for _, path := range goFiles(t) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, licenseHeader.Match(data), "%s lacks the license header", path)
	}
}

// modInfo returns the module path and required module paths listed
// in go.mod.
func modInfo(t *testing.T) (string, []string) {
	data, err := os.ReadFile("go.mod")
	require.NoError(t, err)
	var mod string
	var reqs []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(strings.TrimPrefix(line, "require "))
		switch {
		case len(fields) == 2 && fields[0] == "module":
			mod = fields[1]
		case len(fields) >= 2 && strings.Contains(fields[0], ".") && strings.HasPrefix(fields[1], "v"):
			reqs = append(reqs, fields[0])
		}
	}
	return mod, reqs
}

// TestImports checks that every non-standard import is a package of
// this module or of a module it requires.
func TestImports(t *testing.T) {
	mod, reqs := modInfo(t)
	require.NotEmpty(t, mod)
	allowed := append([]string{mod}, reqs...)

	fset := token.NewFileSet()
	for _, path := range goFiles(t) {
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			p, err := strconv.Unquote(imp.Path.Value)
			require.NoError(t, err)
			if !strings.Contains(strings.SplitN(p, "/", 2)[0], ".") {
				continue // standard library
			}
			ok := false
			for _, a := range allowed {
				if p == a || strings.HasPrefix(p, a+"/") {
					ok = true
					break
				}
			}
			assert.True(t, ok, "%s imports %s, which no required module provides", path, p)
		}
	}
}
