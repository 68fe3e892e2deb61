package symbols

import (
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// language bundles a parser, its compiled definition query, and the node
// kinds treated as identifiers for reference extraction.
type language struct {
	parser *tree_sitter.Parser
	lang   *tree_sitter.Language
	query  *tree_sitter.Query
}

// newLanguages builds the per-extension language table. Extensions whose
// query fails to compile are silently absent; symbol extraction is
// best-effort by design.
func newLanguages() map[string]*language {
	table := make(map[string]*language)

	register := func(langPtr unsafe.Pointer, queryStr string, exts ...string) {
		lang := tree_sitter.NewLanguage(langPtr)
		parser := tree_sitter.NewParser()
		if err := parser.SetLanguage(lang); err != nil {
			return
		}
		query, _ := tree_sitter.NewQuery(lang, queryStr)
		if query == nil {
			return
		}
		l := &language{parser: parser, lang: lang, query: query}
		for _, ext := range exts {
			table[ext] = l
		}
	}

	register(tree_sitter_go.Language(), `
        (function_declaration name: (identifier) @function.name) @function
        (method_declaration name: (field_identifier) @method.name) @method
        (type_declaration (type_spec name: (type_identifier) @type.name)) @type
        (source_file (var_declaration (var_spec name: (identifier) @variable.name)) @variable)
    `, ".go")

	register(tree_sitter_python.Language(), `
        (class_definition
            body: (block
                (function_definition name: (identifier) @method.name) @method))
        (module (function_definition name: (identifier) @function.name) @function)
        (class_definition name: (identifier) @class.name) @class
        (module (expression_statement
            (assignment left: (identifier) @variable.name) @variable))
    `, ".py", ".pyi")

	register(tree_sitter_javascript.Language(), `
        (function_declaration name: (identifier) @function.name) @function
        (generator_function_declaration name: (identifier) @function.name) @function
        (variable_declarator
            name: (identifier) @function.name
            value: [(arrow_function) (function_expression)]) @function
        (method_definition name: (property_identifier) @method.name) @method
        (class_declaration name: (identifier) @class.name) @class
    `, ".js", ".jsx", ".mjs", ".cjs")

	register(tree_sitter_typescript.LanguageTypescript(), `
        (function_declaration name: (identifier) @function.name) @function
        (method_definition name: (property_identifier) @method.name) @method
        (class_declaration name: (type_identifier) @class.name) @class
        (interface_declaration name: (type_identifier) @type.name) @type
        (type_alias_declaration name: (type_identifier) @type.name) @type
        (enum_declaration name: (identifier) @type.name) @type
        (variable_declarator
            name: (identifier) @function.name
            value: (arrow_function)) @function
    `, ".ts", ".tsx")

	register(tree_sitter_rust.Language(), `
        (impl_item
            body: (declaration_list
                (function_item name: (identifier) @method.name) @method))
        (source_file (function_item name: (identifier) @function.name) @function)
        (struct_item name: (type_identifier) @class.name) @class
        (enum_item name: (type_identifier) @type.name) @type
        (trait_item name: (type_identifier) @type.name) @type
        (static_item name: (identifier) @variable.name) @variable
    `, ".rs")

	return table
}

// identifierKinds are the node kinds counted as reference sites. Comments
// and string literals never contain these nodes, which is what excludes
// them from reference results.
var identifierKinds = map[string]struct{}{
	"identifier":                    {},
	"field_identifier":              {},
	"type_identifier":               {},
	"property_identifier":           {},
	"shorthand_property_identifier": {},
}
