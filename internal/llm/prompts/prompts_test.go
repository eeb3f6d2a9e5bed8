package prompts

import (
	"strings"
	"testing"

	"codequiz/internal/config"
	"codequiz/internal/llm/schema"
	"codequiz/internal/model"
)

func sampleMeta() model.RepoMeta {
	return model.RepoMeta{
		RepoURL:   "https://github.com/octocat/hello",
		Owner:     "octocat",
		Name:      "hello",
		CommitSHA: "abc123",
	}
}

func sampleSnippets() []model.Snippet {
	return []model.Snippet{
		{FilePath: "app.py", LineStart: 1, LineEnd: 3, ExcerptText: "def hello():\n    return 1"},
		{FilePath: "util.js", LineStart: 10, LineEnd: 12, ExcerptText: "function f() {\n  return 2;\n}"},
	}
}

func TestBuildQuestionPrompt(t *testing.T) {
	p := BuildQuestionPrompt(sampleMeta(), sampleSnippets(), 5, []string{"why", "design"})

	for _, want := range []string{
		"octocat/hello",
		"abc123",
		"exactly 5 questions",
		"why, design",
		"Snippet 0:",
		"Snippet 1:",
		"path: app.py",
		"lines: 10-12",
		"def hello():",
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if p.System == "" {
		t.Error("system prompt is empty")
	}
	if p.Schema == nil {
		t.Fatal("schema is nil")
	}
}

func TestQuestionSchemaContract(t *testing.T) {
	node := QuestionSchema(2, []string{"why"}, 3)

	valid := map[string]any{"questions": []any{
		map[string]any{"question_text": "a", "snippet_index": float64(0), "category": "why"},
		map[string]any{"question_text": "b", "snippet_index": float64(2), "category": "why"},
	}}
	if _, errs := schema.Validate(valid, node); len(errs) != 0 {
		t.Errorf("valid payload rejected: %v", errs)
	}

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{
			"wrong count",
			map[string]any{"questions": []any{
				map[string]any{"question_text": "a", "snippet_index": float64(0), "category": "why"},
			}},
		},
		{
			"index out of range",
			map[string]any{"questions": []any{
				map[string]any{"question_text": "a", "snippet_index": float64(3), "category": "why"},
				map[string]any{"question_text": "b", "snippet_index": float64(0), "category": "why"},
			}},
		},
		{
			"category outside the set",
			map[string]any{"questions": []any{
				map[string]any{"question_text": "a", "snippet_index": float64(0), "category": "trivia"},
				map[string]any{"question_text": "b", "snippet_index": float64(0), "category": "why"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, errs := schema.Validate(tt.payload, node); len(errs) == 0 {
				t.Error("expected validation errors")
			}
		})
	}
}

func TestBuildSelectionPrompt(t *testing.T) {
	p := BuildSelectionPrompt(sampleMeta(), sampleSnippets(), 2)

	if !strings.Contains(p.User, "choose the 2 most relevant") {
		t.Errorf("user prompt missing selection count: %s", p.User)
	}
	valid := map[string]any{"selected_indices": []any{float64(1), float64(0)}}
	if _, errs := schema.Validate(valid, p.Schema); len(errs) != 0 {
		t.Errorf("valid payload rejected: %v", errs)
	}
	tooMany := map[string]any{"selected_indices": []any{float64(0), float64(1), float64(1)}}
	if _, errs := schema.Validate(tooMany, p.Schema); len(errs) == 0 {
		t.Error("expected error for over-long index list")
	}
}

func TestBuildGradePrompt(t *testing.T) {
	grading := config.Grading{MinScore: 1, MaxScore: 5, MinConfidence: 0, MaxConfidence: 1}
	p := BuildGradePrompt("  What does hello return?  ", sampleSnippets()[0], "It returns 1.", grading)

	for _, want := range []string{
		"QUESTION: What does hello return?",
		"ANSWER:\nIt returns 1.",
		"def hello():",
		"1-5",
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if strings.Contains(p.User, "Snippet 0:") {
		t.Error("grade prompt should not carry an index header")
	}

	valid := map[string]any{"score": float64(4), "rationale": "good", "confidence": float64(0.9)}
	if _, errs := schema.Validate(valid, p.Schema); len(errs) != 0 {
		t.Errorf("valid payload rejected: %v", errs)
	}
	outOfRange := map[string]any{"score": float64(7), "rationale": "good", "confidence": float64(0.9)}
	if _, errs := schema.Validate(outOfRange, p.Schema); len(errs) == 0 {
		t.Error("expected error for out-of-range score")
	}
}
