// Package testutil holds test helpers that keep labcore's package boundaries
// honest: the pure engines must not reach storage, the network or the infra
// tree, and pkg/domain must not depend on internal packages.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// ImportPredicate reports whether an import path is forbidden.
type ImportPredicate func(importPath string) bool

// Prefixes matches each prefix itself and every package below it, so "os"
// matches "os/exec" but not "osext".
func Prefixes(prefixes ...string) ImportPredicate {
	return func(importPath string) bool {
		for _, p := range prefixes {
			if importPath == p || strings.HasPrefix(importPath, p+"/") {
				return true
			}
		}
		return false
	}
}

// AnyOf matches when any of the predicates match.
func AnyOf(preds ...ImportPredicate) ImportPredicate {
	return func(importPath string) bool {
		for _, pred := range preds {
			if pred(importPath) {
				return true
			}
		}
		return false
	}
}

var (
	// StorageAndNetwork matches standard library packages that reach a
	// database or the network.
	StorageAndNetwork = Prefixes("net", "database/sql", "syscall")
	// Infra matches the concrete storage and blob backends.
	Infra = Prefixes("labcore/internal/infra")
	// Internal matches every labcore internal package.
	Internal = Prefixes("labcore/internal")
)

// IOImportForbidden matches anything that touches the file system, a database,
// the network or the infra tree.
func IOImportForbidden(importPath string) bool {
	return AnyOf(Prefixes("os", "io/fs"), StorageAndNetwork, Infra)(importPath)
}

// Imports maps each non-test Go file of dir to its sorted import paths.
// Subdirectories are not visited and build tags are ignored.
func Imports(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	out := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(file.Imports))
		for _, imp := range file.Imports {
			paths = append(paths, strings.Trim(imp.Path.Value, "\""))
		}
		sort.Strings(paths)
		out[name] = paths
	}
	return out, nil
}

// Violations lists "path (in file)" for every forbidden import in dir,
// ordered by file name.
func Violations(dir string, forbidden ImportPredicate) ([]string, error) {
	imports, err := Imports(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(imports))
	for name := range imports {
		files = append(files, name)
	}
	sort.Strings(files)
	var viols []string
	for _, name := range files {
		for _, ip := range imports[name] {
			if forbidden(ip) {
				viols = append(viols, fmt.Sprintf("%s (in %s)", ip, name))
			}
		}
	}
	return viols, nil
}

// AssertNoDirectImports fails t when a non-test file in dir imports a
// forbidden path. reason is reported with the offending imports.
func AssertNoDirectImports(t testing.TB, dir string, forbidden ImportPredicate, reason string) {
	t.Helper()
	viols, err := Violations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan imports of %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
