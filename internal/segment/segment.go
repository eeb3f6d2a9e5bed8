// Package segment splits repo files into structurally meaningful excerpts:
// one snippet per top-level function, method, class, or arrow-function
// assignment. Strategies are selected by file extension.
package segment

import (
	"path"
	"strings"

	"codequiz/internal/config"
	"codequiz/internal/model"
)

// Segmenter extracts snippets from a single file. Implementations cover one
// language family each; new families are added as new implementations.
type Segmenter interface {
	// Extensions lists the file extensions this segmenter handles.
	Extensions() []string
	// Segment returns the file's snippets in discovery order.
	Segment(file model.RepoFile, cfg config.Snippets) []model.Snippet
}

var registry = buildRegistry(
	NewPythonSegmenter(),
	NewBraceSegmenter(),
)

func buildRegistry(segmenters ...Segmenter) map[string]Segmenter {
	m := make(map[string]Segmenter)
	for _, s := range segmenters {
		for _, ext := range s.Extensions() {
			m[ext] = s
		}
	}
	return m
}

// ForFile returns the segmenter responsible for the file's extension, or nil
// when no strategy covers it.
func ForFile(filePath string) Segmenter {
	return registry[strings.ToLower(path.Ext(filePath))]
}

// ExtractSnippets runs every file through its segmenter. Output order is
// file order, then in-file discovery order; files without a strategy
// contribute nothing.
func ExtractSnippets(files []model.RepoFile, cfg config.Snippets) []model.Snippet {
	var snippets []model.Snippet
	for _, file := range files {
		seg := ForFile(file.Path)
		if seg == nil {
			continue
		}
		snippets = append(snippets, seg.Segment(file, cfg)...)
	}
	return snippets
}

// buildSnippet bounds one unit. startIdx is 0-based, endLine is the 1-based
// inclusive end (equal to the exclusive 0-based end index).
func buildSnippet(file model.RepoFile, startIdx, endLine int, cfg config.Snippets) (model.Snippet, bool) {
	if endLine <= startIdx {
		return model.Snippet{}, false
	}
	if endLine-startIdx > cfg.SnippetMaxLines {
		return model.Snippet{}, false
	}
	if startIdx < 0 || endLine > len(file.Lines) {
		return model.Snippet{}, false
	}
	excerptLines := file.Lines[startIdx:endLine]
	if len(excerptLines) == 0 {
		return model.Snippet{}, false
	}
	excerpt := strings.Join(excerptLines, "\n")
	return model.Snippet{
		FilePath:    file.Path,
		LineStart:   startIdx + 1,
		LineEnd:     endLine,
		ExcerptText: excerpt,
		ExcerptHash: model.HashExcerpt(excerpt),
	}, true
}
