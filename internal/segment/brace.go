package segment

import (
	"regexp"

	"codequiz/internal/config"
	"codequiz/internal/model"
)

// declPattern matches the start of a unit in curly-brace languages: an
// optionally exported/default/async function or class declaration, or a
// const arrow-function assignment.
var declPattern = regexp.MustCompile(
	`^\s*(export\s+)?(default\s+)?(async\s+)?(function|class)\s+\w+` +
		`|^\s*(export\s+)?const\s+\w+\s*=\s*.*=>`,
)

// BraceSegmenter is the heuristic strategy for curly-brace languages: it
// finds declaration lines and scans forward counting net brace depth until
// the unit closes.
type BraceSegmenter struct{}

// NewBraceSegmenter creates the brace-matching segmenter.
func NewBraceSegmenter() *BraceSegmenter {
	return &BraceSegmenter{}
}

func (b *BraceSegmenter) Extensions() []string {
	return []string{".js", ".ts", ".tsx"}
}

func (b *BraceSegmenter) Segment(file model.RepoFile, cfg config.Snippets) []model.Snippet {
	var snippets []model.Snippet
	for idx, line := range file.Lines {
		if !declPattern.MatchString(line) {
			continue
		}
		endLine, ok := findBlockEnd(file.Lines, idx)
		if !ok {
			continue
		}
		if snippet, built := buildSnippet(file, idx, endLine, cfg); built {
			snippets = append(snippets, snippet)
		}
		if len(snippets) >= cfg.MaxSnippetsPerFile {
			break
		}
	}
	return snippets
}

// findBlockEnd scans forward from the declaration counting `{`/`}` net
// depth. The unit ends on the line where depth returns to zero after having
// been opened. A declaration that never opens a brace is a one-line unit; an
// unterminated block yields nothing.
func findBlockEnd(lines []string, startIdx int) (int, bool) {
	depth := 0
	opened := false
	for idx := startIdx; idx < len(lines); idx++ {
		for _, ch := range lines[idx] {
			switch ch {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth == 0 {
			return idx + 1, true
		}
	}
	if !opened {
		end := startIdx + 1
		if end > len(lines) {
			end = len(lines)
		}
		return end, true
	}
	return 0, false
}
