package core_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// imports returns the import paths of every non-test Go file under dir.
func imports(t *testing.T, dir string) map[string][]string {
	t.Helper()
	fset := token.NewFileSet()
	out := make(map[string][]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, imp := range f.Imports {
			out[path] = append(out[path], strings.Trim(imp.Path.Value, `"`))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
	return out
}

// pkg/core sits at the bottom of the graph: stdlib only.
func TestCoreImportsOnlyStdlib(t *testing.T) {
	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("empty core directory")
	}
	for file, paths := range imports(t, ".") {
		for _, p := range paths {
			if strings.Contains(p, ".") {
				t.Errorf("%s imports non-stdlib package %s", file, p)
			}
		}
	}
}

// Library packages must not depend on the application layer. Test
// fixture packages may load projects from disk.
func TestPkgDoesNotImportApplication(t *testing.T) {
	forbidden := []string{"/internal/cli", "/internal/config", "/internal/loader", "/internal/server", "/internal/state"}
	for file, paths := range imports(t, "..") {
		if strings.Contains(filepath.ToSlash(file), "/modeltest/") {
			continue
		}
		for _, p := range paths {
			for _, f := range forbidden {
				if strings.Contains(p, f) {
					t.Errorf("%s imports application package %s", file, p)
				}
			}
		}
	}
}
