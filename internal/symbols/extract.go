package symbols

import (
	"errors"
	"strconv"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/locussearch/locus-mcp/pkg/types"
)

var errParseFailed = errors.New("tree-sitter parse failed")

// extract runs the language's definition query over content and walks the
// tree for identifier reference sites.
func extract(lang *language, content []byte) ([]types.SymbolInfo, []types.Reference, error) {
	tree := lang.parser.Parse(content, nil)
	if tree == nil {
		return nil, nil, errParseFailed
	}
	defer tree.Close()

	defs := extractDefinitions(lang, tree, content)
	refs := extractReferences(tree, content, defs)
	return defs, refs, nil
}

func extractDefinitions(lang *language, tree *tree_sitter.Tree, content []byte) []types.SymbolInfo {
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	captureNames := lang.query.CaptureNames()
	matches := qc.Matches(lang.query, tree.RootNode(), content)

	var defs []types.SymbolInfo
	seen := make(map[string]struct{})

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		// Collect the .name captures of this match first; the main
		// capture supplies the extent.
		names := make(map[string]string, 2)
		for _, c := range match.Captures {
			capName := captureNames[c.Index]
			if strings.HasSuffix(capName, ".name") {
				names[capName] = string(content[c.Node.StartByte():c.Node.EndByte()])
			}
		}

		for _, c := range match.Captures {
			capName := captureNames[c.Index]
			kind := captureKind(capName)
			if kind == "" {
				continue
			}
			name := names[capName+".name"]
			if name == "" {
				continue
			}
			node := c.Node
			start := int(node.StartPosition().Row) + 1
			end := int(node.EndPosition().Row) + 1

			// Nested matches (a method also matching the function
			// pattern) produce duplicates; keep the first.
			key := name + "\x00" + string(kind) + "\x00" + strconv.Itoa(start)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			defs = append(defs, types.SymbolInfo{
				Name:      name,
				Kind:      kind,
				StartLine: start,
				EndLine:   end,
			})
		}
	}
	return defs
}

// captureKind maps a main capture name to a symbol kind; sub-captures
// (anything with a dot) are skipped.
func captureKind(capture string) types.SymbolKind {
	switch capture {
	case "function":
		return types.SymbolFunction
	case "method":
		return types.SymbolMethod
	case "class":
		return types.SymbolClass
	case "type":
		return types.SymbolType
	case "variable":
		return types.SymbolVariable
	}
	return ""
}

// extractReferences walks the tree collecting identifier nodes, skipping
// the lines that hold a same-named definition so declaration sites are not
// double-counted as references.
func extractReferences(tree *tree_sitter.Tree, content []byte, defs []types.SymbolInfo) []types.Reference {
	defLines := make(map[string]map[int]struct{}, len(defs))
	for _, d := range defs {
		if defLines[d.Name] == nil {
			defLines[d.Name] = make(map[int]struct{})
		}
		defLines[d.Name][d.StartLine] = struct{}{}
	}

	var refs []types.Reference
	var walk func(node tree_sitter.Node)
	walk = func(node tree_sitter.Node) {
		if _, ok := identifierKinds[node.Kind()]; ok {
			name := string(content[node.StartByte():node.EndByte()])
			line := int(node.StartPosition().Row) + 1
			if lines, isDef := defLines[name]; isDef {
				if _, onDefLine := lines[line]; onDefLine {
					return
				}
			}
			refs = append(refs, types.Reference{Name: name, Line: line})
			return
		}
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child != nil {
				walk(*child)
			}
		}
	}
	walk(*tree.RootNode())
	return refs
}
