// Package testutil provides helpers for enforcing the layering rules of the
// repository from package tests: the engine stays free of backends, and each
// backend only reaches the store contract and its own shared helpers.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Module is the module path of this repository.
const Module = "persistkit"

// BackendLibraries lists the third-party modules that only storage backends may import.
var BackendLibraries = []string{
	"github.com/aws/aws-sdk-go-v2",
	"github.com/jackc/pgx",
	"github.com/redis/go-redis",
	"modernc.org/sqlite",
}

// AssertNoTransitiveDependency shells out to `go list -deps` with the provided pattern
// (e.g. ./... or .) and fails the test if any dependency path satisfies the forbidden predicate.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, out, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("go list failed: %v\n%s", err, string(out))
	}
	failIfViolations(t, "forbidden transitive dependency", reason, viols)
}

// AssertNoDirectImports scans the non-test .go files in dir and fails if any
// import path satisfies the forbidden predicate. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports", reason, viols)
}

// InternalImportForbidden matches any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// BackendImportForbidden matches storage backend packages of this module and
// the driver libraries they wrap.
func BackendImportForbidden(path string) bool {
	if strings.HasPrefix(path, Module+"/internal/infra/") {
		return true
	}
	for _, lib := range BackendLibraries {
		if path == lib || strings.HasPrefix(path, lib+"/") {
			return true
		}
	}
	return false
}

// ModuleImportsOutside returns a predicate matching imports of this module
// that are not in allowed. Imports from other modules never match.
func ModuleImportsOutside(allowed ...string) func(string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(path string) bool {
		if path != Module && !strings.HasPrefix(path, Module+"/") {
			return false
		}
		_, ok := set[path]
		return !ok
	}
}

var goListDeps = func(pattern string) ([]byte, error) {
	cmd := exec.Command("go", "list", "-deps", pattern)
	return cmd.CombinedOutput()
}

func transitiveDependencyViolations(pattern string, forbidden func(path string) bool) ([]string, []byte, error) {
	out, err := goListDeps(pattern)
	if err != nil {
		return nil, out, err
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && forbidden(line) {
			viols = append(viols, line)
		}
	}
	return viols, out, nil
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		fileAst, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, what, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s detected (%s):\n%s", what, reason, strings.Join(viols, "\n"))
	}
}
