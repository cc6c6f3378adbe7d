package lang

import (
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/codemapper/codemap-mcp/pkg/types"
)

// RegisterGo registers the Go grammar
func RegisterGo(r *Registry) {
	r.Register("go", &Spec{
		Language:   golang.GetLanguage(),
		Extensions: []string{"go"},
		UnitTypes: map[string]types.ChunkType{
			"function_declaration": types.ChunkFunction,
			"method_declaration":   types.ChunkFunction,
			"type_declaration":     types.ChunkTypeAlias,
			"const_declaration":    types.ChunkMixed,
			"var_declaration":      types.ChunkMixed,
		},
		ContainerTypes: map[string]bool{},
		SymbolKinds: map[string]types.SymbolKind{
			"function_declaration": types.KindFunction,
			"method_declaration":   types.KindMethod,
			"type_spec":            types.KindType,
			"const_spec":           types.KindConstant,
			"var_spec":             types.KindVariable,
		},
		ImportTypes: map[string]bool{"import_declaration": true},
	})
}

// RegisterJavaScript registers the JavaScript grammar
func RegisterJavaScript(r *Registry) {
	r.Register("javascript", &Spec{
		Language:   javascript.GetLanguage(),
		Extensions: []string{"js", "jsx", "mjs", "cjs"},
		UnitTypes: map[string]types.ChunkType{
			"class_declaration":              types.ChunkClass,
			"function_declaration":           types.ChunkFunction,
			"generator_function_declaration": types.ChunkFunction,
			"method_definition":              types.ChunkFunction,
			"lexical_declaration":            types.ChunkMixed,
			"export_statement":               types.ChunkMixed,
		},
		ContainerTypes: map[string]bool{
			"class_declaration": true,
		},
		SymbolKinds: map[string]types.SymbolKind{
			"class_declaration":              types.KindClass,
			"function_declaration":           types.KindFunction,
			"generator_function_declaration": types.KindFunction,
			"method_definition":              types.KindMethod,
			"variable_declarator":            types.KindVariable,
		},
		ImportTypes: map[string]bool{"import_statement": true},
	})
}

// RegisterTypeScript registers the TypeScript grammar
func RegisterTypeScript(r *Registry) {
	r.Register("typescript", &Spec{
		Language:   typescript.GetLanguage(),
		Extensions: []string{"ts", "tsx"},
		UnitTypes: map[string]types.ChunkType{
			"class_declaration":              types.ChunkClass,
			"abstract_class_declaration":     types.ChunkClass,
			"function_declaration":           types.ChunkFunction,
			"generator_function_declaration": types.ChunkFunction,
			"method_definition":              types.ChunkFunction,
			"interface_declaration":          types.ChunkInterface,
			"type_alias_declaration":         types.ChunkTypeAlias,
			"enum_declaration":               types.ChunkTypeAlias,
			"internal_module":                types.ChunkModule,
			"lexical_declaration":            types.ChunkMixed,
			"export_statement":               types.ChunkMixed,
		},
		ContainerTypes: map[string]bool{
			"class_declaration":          true,
			"abstract_class_declaration": true,
			"internal_module":            true,
		},
		SymbolKinds: map[string]types.SymbolKind{
			"class_declaration":              types.KindClass,
			"abstract_class_declaration":     types.KindClass,
			"function_declaration":           types.KindFunction,
			"generator_function_declaration": types.KindFunction,
			"method_definition":              types.KindMethod,
			"interface_declaration":          types.KindInterface,
			"type_alias_declaration":         types.KindType,
			"enum_declaration":               types.KindEnum,
			"internal_module":                types.KindModule,
			"variable_declarator":            types.KindVariable,
		},
		ImportTypes: map[string]bool{"import_statement": true},
	})
}

// RegisterPython registers the Python grammar
func RegisterPython(r *Registry) {
	r.Register("python", &Spec{
		Language:   python.GetLanguage(),
		Extensions: []string{"py"},
		UnitTypes: map[string]types.ChunkType{
			"class_definition":     types.ChunkClass,
			"function_definition":  types.ChunkFunction,
			"decorated_definition": types.ChunkMixed,
		},
		ContainerTypes: map[string]bool{
			"class_definition": true,
		},
		SymbolKinds: map[string]types.SymbolKind{
			"class_definition":    types.KindClass,
			"function_definition": types.KindFunction,
		},
		ImportTypes: map[string]bool{
			"import_statement":      true,
			"import_from_statement": true,
		},
	})
}
