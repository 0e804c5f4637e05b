package domain

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// allowedDomainImports lists the only third-party modules the domain layer may
// use. Everything under farmcore/internal is off limits.
var allowedDomainImports = []string{"github.com/shopspring/decimal"}

func TestDomainImportsStayMinimal(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				t.Fatalf("%s: bad import %s", name, imp.Path.Value)
			}
			if !importAllowed(path) {
				t.Errorf("%s imports %s; the domain layer may only use the standard library and %v", name, path, allowedDomainImports)
			}
		}
	}
}

func importAllowed(path string) bool {
	first := strings.SplitN(path, "/", 2)[0]
	if !strings.Contains(first, ".") && first != "farmcore" {
		return true // standard library
	}
	for _, allowed := range allowedDomainImports {
		if path == allowed || strings.HasPrefix(path, allowed+"/") {
			return true
		}
	}
	return false
}

func TestImportAllowed(t *testing.T) {
	cases := map[string]bool{
		"context":                         true,
		"encoding/json":                   true,
		"github.com/shopspring/decimal":   true,
		"farmcore/internal/core":          false,
		"github.com/redis/go-redis/v9":    false,
		"farmcore/internal/infra/persist": false,
	}
	for path, want := range cases {
		if got := importAllowed(path); got != want {
			t.Fatalf("importAllowed(%q) = %v, want %v", path, got, want)
		}
	}
	if _, err := os.Stat("entities.go"); err != nil {
		t.Fatalf("expected to run from the package directory: %v", err)
	}
}
