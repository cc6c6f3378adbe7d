package lang

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// MaxParseBytes is the largest input the provider accepts in a single parse
// call. Content above this limit must be windowed by the caller.
const MaxParseBytes = 32 * 1024

// Spec describes how one language maps onto the chunk model
type Spec struct {
	// Language is the tree-sitter grammar
	Language *sitter.Language

	// Extensions lists file extensions (without dot) handled by this spec
	Extensions []string

	// UnitTypes maps node types recognized as semantic units to chunk types
	UnitTypes map[string]types.ChunkType

	// ContainerTypes marks unit node types whose children must not be
	// re-emitted as separate top-level units (classes, namespaces)
	ContainerTypes map[string]bool

	// SymbolKinds maps declaration node types to symbol kinds for
	// tree-based symbol extraction
	SymbolKinds map[string]types.SymbolKind

	// ImportTypes lists node types carrying import statements
	ImportTypes map[string]bool
}

// Registry maps file extensions to language specs
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]*registered
}

type registered struct {
	name string
	spec *Spec
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]*registered)}
}

// Default returns a registry with all built-in languages registered
func Default() *Registry {
	r := NewRegistry()
	RegisterGo(r)
	RegisterJavaScript(r)
	RegisterTypeScript(r)
	RegisterPython(r)
	return r
}

// Register adds a language spec under the given name
func (r *Registry) Register(name string, spec *Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range spec.Extensions {
		r.byExt[ext] = &registered{name: name, spec: spec}
	}
}

// Lookup returns the spec and language name for a file path, or nil
func (r *Registry) Lookup(path string) (*Spec, string) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byExt[ext]
	if !ok {
		return nil, ""
	}
	return reg.spec, reg.name
}

// ByName returns the spec registered under a language name, or nil
func (r *Registry) ByName(name string) *Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byExt {
		if reg.name == name {
			return reg.spec
		}
	}
	return nil
}

// Extensions returns the set of all registered file extensions (without dot)
func (r *Registry) Extensions() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make(map[string]bool, len(r.byExt))
	for ext := range r.byExt {
		exts[ext] = true
	}
	return exts
}

// Parse parses source text with the grammar registered under the language
// name. Inputs over MaxParseBytes are rejected with types.ErrInputTooLarge;
// callers fall back to windowed parsing.
func (r *Registry) Parse(ctx context.Context, src []byte, language string) (*sitter.Tree, *Spec, error) {
	spec := r.ByName(language)
	if spec == nil {
		return nil, nil, fmt.Errorf("%w: %s", types.ErrUnsupportedLanguage, language)
	}
	if len(src) > MaxParseBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes", types.ErrInputTooLarge, len(src))
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", language, err)
	}
	return tree, spec, nil
}

// NodeName returns the declared name of a unit node when the grammar exposes
// one through the "name" field
func NodeName(node *sitter.Node, src []byte) string {
	name := node.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	return name.Content(src)
}
