package blob

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// TestInfraImportBoundaries loads every package of the module, tests
// included, and checks that concrete backends are only reached through their
// owning wrapper: blob drivers through this package, persistence drivers
// through internal/core.
func TestInfraImportBoundaries(t *testing.T) {
	boundaries := []struct {
		infra   string
		allowed []string
	}{
		{infra: "labcore/internal/infra/blob", allowed: []string{"labcore/internal/blob", "labcore/internal/infra/blob"}},
		{infra: "labcore/internal/infra/persistence", allowed: []string{"labcore/internal/core", "labcore/internal/infra/persistence"}},
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "labcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		// Test variants are reported as "path [path.test]"; only the path matters.
		pkgPath, _, _ := strings.Cut(pkg.PkgPath, " ")
		for _, b := range boundaries {
			allowed := false
			for _, prefix := range b.allowed {
				if hasPathPrefix(pkgPath, prefix) {
					allowed = true
					break
				}
			}
			if allowed {
				continue
			}
			for importPath := range pkg.Imports {
				if hasPathPrefix(importPath, b.infra) {
					seen[fmt.Sprintf("%s imports %s", pkgPath, importPath)] = struct{}{}
				}
			}
		}
	}
	if len(seen) == 0 {
		return
	}
	violations := make([]string, 0, len(seen))
	for v := range seen {
		violations = append(violations, v)
	}
	sort.Strings(violations)
	t.Fatalf("infra backends imported outside their wrapper:\n%s", strings.Join(violations, "\n"))
}
