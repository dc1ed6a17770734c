package testutil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestImportPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred ImportPredicate
		in   string
		want bool
	}{
		{"io os", IOImportForbidden, "os", true},
		{"io os exec", IOImportForbidden, "os/exec", true},
		{"io fs", IOImportForbidden, "io/fs", true},
		{"io plain io", IOImportForbidden, "io", false},
		{"io net http", IOImportForbidden, "net/http", true},
		{"io sql", IOImportForbidden, "database/sql", true},
		{"io infra", IOImportForbidden, "labcore/internal/infra/persistence/memory", true},
		{"io sort", IOImportForbidden, "sort", false},
		{"io prefix lookalike", IOImportForbidden, "osext", false},
		{"io status", IOImportForbidden, "labcore/internal/status", false},
		{"storage allows os", StorageAndNetwork, "os", false},
		{"storage net", StorageAndNetwork, "net", true},
		{"internal", Internal, "labcore/internal/status", true},
		{"internal lookalike", Internal, "labcore/internalx", false},
		{"domain not internal", Internal, "labcore/pkg/domain", false},
		{"any of none", AnyOf(), "os", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.pred(tc.in); got != tc.want {
				t.Fatalf("predicate(%q)=%v want %v", tc.in, got, tc.want)
			}
		})
	}
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestImportsAndViolations(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"pure.go":      "package tmp\nimport \"sort\"\nvar _ = sort.Ints\n",
		"dirty.go":     "package tmp\nimport (\n\talias \"net/http\"\n\t\"os\"\n)\nvar _ = os.Getenv\nvar _ = alias.Get\n",
		"pure_test.go": "package tmp\nimport \"os\"\nvar _ = os.Args\n",
		"notes.txt":    "import \"os\"",
		"sub/deep.go":  "package sub\nimport \"database/sql\"\nvar _ = sql.Open\n",
	})

	imports, err := Imports(dir)
	if err != nil {
		t.Fatalf("imports: %v", err)
	}
	want := map[string][]string{
		"pure.go":  {"sort"},
		"dirty.go": {"net/http", "os"},
	}
	if !reflect.DeepEqual(imports, want) {
		t.Fatalf("unexpected imports %v", imports)
	}

	viols, err := Violations(dir, IOImportForbidden)
	if err != nil {
		t.Fatalf("violations: %v", err)
	}
	if !reflect.DeepEqual(viols, []string{"net/http (in dirty.go)", "os (in dirty.go)"}) {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestImportsErrors(t *testing.T) {
	if _, err := Imports(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected missing dir to fail")
	}
	dir := writeTree(t, map[string]string{"broken.go": "package tmp\nimport (\n"})
	if _, err := Violations(dir, IOImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestAssertNoDirectImportsPasses(t *testing.T) {
	dir := writeTree(t, map[string]string{"pure.go": "package tmp\nimport \"strings\"\nvar _ = strings.TrimSpace\n"})
	AssertNoDirectImports(t, dir, IOImportForbidden, "pure package")
}
