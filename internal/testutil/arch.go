// Package testutil holds shared test helpers for architectural guard tests.
package testutil

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertNoImportsWithPrefix loads the packages matched by pattern and fails
// when any of them imports a package under forbiddenPrefix. Packages whose
// own import path starts with one of allowedPrefixes are exempt.
func AssertNoImportsWithPrefix(t *testing.T, pattern, forbiddenPrefix string, allowedPrefixes ...string) {
	t.Helper()
	// Tests are excluded: test packages may reach into internal helpers.
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if hasAnyPrefix(pkg.PkgPath, allowedPrefixes) {
			continue
		}
		for importPath := range pkg.Imports {
			if importPath == forbiddenPrefix || strings.HasPrefix(importPath, forbiddenPrefix+"/") {
				seen[pkg.PkgPath+": "+importPath] = struct{}{}
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
	for _, v := range violations {
		t.Errorf("forbidden import: %s", v)
	}
	t.Fatalf("found %d forbidden imports under %s", len(violations), forbiddenPrefix)
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
