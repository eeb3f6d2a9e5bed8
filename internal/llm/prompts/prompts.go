// Package prompts renders the typed prompt templates and response-shape
// contracts for the three LLM tasks: question generation, snippet
// selection, and grading.
package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"codequiz/internal/config"
	"codequiz/internal/llm/schema"
	"codequiz/internal/model"
)

// Prompt is a rendered system/user message pair together with the schema
// the response must satisfy.
type Prompt struct {
	System string
	User   string
	Schema *schema.Node
}

const questionSystem = `You are a code comprehension interviewer. You write short, specific questions
about excerpts of a candidate's own repository. Each question must be answerable
from the excerpt alone. Respond ONLY with a JSON object matching the requested shape.`

const questionUserTmpl = `Repository: {{.Meta.Owner}}/{{.Meta.Name}} ({{.Meta.RepoURL}}) at commit {{.Meta.CommitSHA}}.

Write exactly {{.QuestionCount}} questions about the code excerpts below.
Each question object has:
- "question_text": the question, one or two sentences
- "snippet_index": the zero-based index of the excerpt it is about
- "category": one of [{{.Categories}}]

Excerpts:

{{.Snippets}}

Respond with {"questions": [ ... ]} and nothing else.`

const selectionSystem = `You are selecting the code excerpts that best represent a repository's
purpose. Respond ONLY with a JSON object matching the requested shape.`

const selectionUserTmpl = `Repository: {{.Meta.Owner}}/{{.Meta.Name}} ({{.Meta.RepoURL}}) at commit {{.Meta.CommitSHA}}.

From the candidate excerpts below, choose the {{.SelectionCount}} most relevant
to understanding what this repository does. Prefer core logic over boilerplate.

Candidates:

{{.Snippets}}

Respond with {"selected_indices": [ ... ]} listing zero-based indices, most
relevant first, and nothing else.`

const gradeSystem = `You grade a free-text answer to a question about a code excerpt. Judge only
whether the answer demonstrates understanding of the excerpt. Respond ONLY with
a JSON object matching the requested shape.`

const gradeUserTmpl = `QUESTION: {{.QuestionText}}

EXCERPT:
{{.Snippet}}

ANSWER:
{{.AnswerText}}

Respond with {"score": <integer {{.MinScore}}-{{.MaxScore}}>, "rationale": "<one or two sentences>",
"confidence": <number {{.MinConfidence}}-{{.MaxConfidence}}>} and nothing else.`

var (
	questionTmpl  = template.Must(template.New("question").Parse(questionUserTmpl))
	selectionTmpl = template.Must(template.New("selection").Parse(selectionUserTmpl))
	gradeTmpl     = template.Must(template.New("grade").Parse(gradeUserTmpl))
)

// BuildQuestionPrompt renders the question-generation prompt for exactly
// questionCount questions over the given snippets.
func BuildQuestionPrompt(meta model.RepoMeta, snippets []model.Snippet, questionCount int, categories []string) Prompt {
	data := struct {
		Meta          model.RepoMeta
		QuestionCount int
		Categories    string
		Snippets      string
	}{meta, questionCount, strings.Join(categories, ", "), FormatSnippets(snippets)}

	var buf bytes.Buffer
	_ = questionTmpl.Execute(&buf, data)
	return Prompt{
		System: questionSystem,
		User:   buf.String(),
		Schema: QuestionSchema(questionCount, categories, len(snippets)),
	}
}

// BuildSelectionPrompt renders the snippet-selection prompt.
func BuildSelectionPrompt(meta model.RepoMeta, snippets []model.Snippet, selectionCount int) Prompt {
	data := struct {
		Meta           model.RepoMeta
		SelectionCount int
		Snippets       string
	}{meta, selectionCount, FormatSnippets(snippets)}

	var buf bytes.Buffer
	_ = selectionTmpl.Execute(&buf, data)
	return Prompt{
		System: selectionSystem,
		User:   buf.String(),
		Schema: SelectionSchema(selectionCount, len(snippets)),
	}
}

// BuildGradePrompt renders the grading prompt for one answer against the
// excerpt its question is bound to.
func BuildGradePrompt(questionText string, excerpt model.Snippet, answerText string, grading config.Grading) Prompt {
	data := struct {
		QuestionText  string
		Snippet       string
		AnswerText    string
		MinScore      int
		MaxScore      int
		MinConfidence float64
		MaxConfidence float64
	}{
		strings.TrimSpace(questionText),
		FormatSnippet(excerpt, -1),
		strings.TrimSpace(answerText),
		grading.MinScore,
		grading.MaxScore,
		grading.MinConfidence,
		grading.MaxConfidence,
	}

	var buf bytes.Buffer
	_ = gradeTmpl.Execute(&buf, data)
	return Prompt{
		System: gradeSystem,
		User:   buf.String(),
		Schema: GradeSchema(grading),
	}
}

// FormatSnippets renders snippets as an indexed list for prompt embedding.
func FormatSnippets(snippets []model.Snippet) string {
	parts := make([]string, 0, len(snippets))
	for i, s := range snippets {
		parts = append(parts, FormatSnippet(s, i))
	}
	return strings.Join(parts, "\n\n")
}

// FormatSnippet renders one snippet. A negative index omits the index
// header.
func FormatSnippet(s model.Snippet, index int) string {
	header := "Snippet:"
	if index >= 0 {
		header = fmt.Sprintf("Snippet %d:", index)
	}
	return strings.Join([]string{
		header,
		"path: " + s.FilePath,
		fmt.Sprintf("lines: %d-%d", s.LineStart, s.LineEnd),
		"```",
		s.ExcerptText,
		"```",
	}, "\n")
}

// QuestionSchema is the response contract for question generation: exactly
// count question objects with snippet indices inside the candidate range
// and categories from the closed set.
func QuestionSchema(count int, categories []string, snippetCount int) *schema.Node {
	indexNode := schema.Integer(schema.Bound(0), nil)
	if snippetCount > 0 {
		indexNode = schema.Integer(schema.Bound(0), schema.Bound(float64(snippetCount-1)))
	}
	return schema.Object(
		[]string{"questions"},
		map[string]*schema.Node{
			"questions": schema.Array(
				schema.Object(
					[]string{"question_text", "snippet_index", "category"},
					map[string]*schema.Node{
						"question_text": schema.String(),
						"snippet_index": indexNode,
						"category":      schema.String(categories...),
					},
				),
				count, count,
			),
		},
	)
}

// SelectionSchema is the response contract for snippet selection.
func SelectionSchema(selectionCount, snippetCount int) *schema.Node {
	indexNode := schema.Integer(schema.Bound(0), nil)
	if snippetCount > 0 {
		indexNode = schema.Integer(schema.Bound(0), schema.Bound(float64(snippetCount-1)))
	}
	return schema.Object(
		[]string{"selected_indices"},
		map[string]*schema.Node{
			"selected_indices": schema.Array(indexNode, selectionCount, selectionCount),
		},
	)
}

// GradeSchema is the response contract for grading, bounded by the
// configured score and confidence ranges.
func GradeSchema(grading config.Grading) *schema.Node {
	return schema.Object(
		[]string{"score", "rationale", "confidence"},
		map[string]*schema.Node{
			"score": schema.Integer(
				schema.Bound(float64(grading.MinScore)),
				schema.Bound(float64(grading.MaxScore)),
			),
			"rationale": schema.String(),
			"confidence": schema.Number(
				schema.Bound(grading.MinConfidence),
				schema.Bound(grading.MaxConfidence),
			),
		},
	)
}
