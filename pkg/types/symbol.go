package types

// SymbolKind identifies the kind of declaration a symbol came from
type SymbolKind string

const (
	KindClass     SymbolKind = "class"
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	KindVariable  SymbolKind = "variable"
	KindConstant  SymbolKind = "constant"
	KindEnum      SymbolKind = "enum"
	KindModule    SymbolKind = "module"
)

// Symbol is a named declaration discovered inside a chunk
type Symbol struct {
	Name string
	Kind SymbolKind
	Line int // 1-based, file-absolute
}

// Import records one import statement in a source file
type Import struct {
	Module string   // Module or package path being imported
	Names  []string // Imported identifiers; empty for whole-module imports
	Line   int      // 1-based
}
