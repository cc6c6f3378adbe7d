package indexer

import (
	"path"
	"sort"
	"strings"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// candidate extensions tried when an import omits one, in preference order
var importExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".py", ".go"}

// resolveImports maps a file's import statements onto files of the same
// codebase. relToAbs maps slash-separated relative paths to absolute ones;
// imports that resolve to nothing inside the codebase (stdlib, third-party
// packages) are dropped. The result is sorted and deterministic.
func resolveImports(relPath string, imports []types.Import, relToAbs map[string]string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(abs string) {
		if abs != "" && !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}

	dir := path.Dir(relPath)
	for _, imp := range imports {
		module := strings.TrimSpace(imp.Module)
		if module == "" {
			continue
		}

		if strings.HasPrefix(module, ".") {
			add(resolveRelative(dir, module, relToAbs))
			continue
		}
		add(resolveBare(module, relToAbs))
	}

	sort.Strings(out)
	return out
}

// resolveRelative handles "./utils" style imports against the importing
// file's directory
func resolveRelative(dir, module string, relToAbs map[string]string) string {
	base := path.Clean(path.Join(dir, module))
	for _, cand := range expandCandidates(base) {
		if abs, ok := relToAbs[cand]; ok {
			return abs
		}
	}
	return ""
}

// resolveBare handles package-style imports ("pkg/util", "mypackage") by
// suffix matching against the codebase's files. The lexicographically
// smallest match wins so resolution is deterministic.
func resolveBare(module string, relToAbs map[string]string) string {
	candidates := expandCandidates(module)

	var matches []string
	for rel := range relToAbs {
		stripped := strings.TrimSuffix(rel, path.Ext(rel))
		for _, cand := range candidates {
			candStripped := strings.TrimSuffix(cand, path.Ext(cand))
			if rel == cand || stripped == candStripped ||
				strings.HasSuffix(stripped, "/"+candStripped) {
				matches = append(matches, rel)
				break
			}
		}
	}
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return relToAbs[matches[0]]
}

// expandCandidates lists the relative paths an extensionless module specifier
// could refer to: the path itself, with each known extension, and as a
// directory index module
func expandCandidates(base string) []string {
	if path.Ext(base) != "" {
		return []string{base}
	}
	out := []string{base}
	for _, ext := range importExtensions {
		out = append(out, base+ext)
	}
	for _, ext := range importExtensions {
		out = append(out, base+"/index"+ext)
	}
	out = append(out, base+"/__init__.py")
	return out
}
