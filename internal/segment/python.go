package segment

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"codequiz/internal/config"
	"codequiz/internal/model"
)

// PythonSegmenter is the syntax-tree strategy: it parses the file and takes
// the span of every top-level function or class definition.
type PythonSegmenter struct {
	lang *sitter.Language
}

// NewPythonSegmenter creates the Python syntax-tree segmenter.
func NewPythonSegmenter() *PythonSegmenter {
	return &PythonSegmenter{lang: python.GetLanguage()}
}

func (p *PythonSegmenter) Extensions() []string {
	return []string{".py"}
}

// Segment parses the file and emits one snippet per top-level definition.
// A file that fails to parse yields zero snippets.
func (p *PythonSegmenter) Segment(file model.RepoFile, cfg config.Snippets) []model.Snippet {
	parser := sitter.NewParser()
	parser.SetLanguage(p.lang)

	source := []byte(file.Content)
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return nil
	}

	var snippets []model.Snippet
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if !isDefinition(node) {
			continue
		}
		startIdx := int(node.StartPoint().Row)
		endLine := int(node.EndPoint().Row) + 1
		if snippet, ok := buildSnippet(file, startIdx, endLine, cfg); ok {
			snippets = append(snippets, snippet)
		}
		if len(snippets) >= cfg.MaxSnippetsPerFile {
			break
		}
	}
	return snippets
}

// isDefinition reports whether a top-level node is a function or class
// definition. Decorated definitions count as a whole, decorators included.
func isDefinition(node *sitter.Node) bool {
	switch node.Type() {
	case "function_definition", "class_definition":
		return true
	case "decorated_definition":
		inner := node.ChildByFieldName("definition")
		return inner != nil && (inner.Type() == "function_definition" || inner.Type() == "class_definition")
	default:
		return false
	}
}
