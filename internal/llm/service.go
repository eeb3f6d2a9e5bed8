package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"codequiz/internal/config"
	"codequiz/internal/llm/prompts"
	"codequiz/internal/model"
)

// fallbackModel labels grades produced without a successful LLM call.
const fallbackModel = "fallback"

// Service converts validated LLM output, or its deterministic fallback,
// into domain questions and grades.
type Service struct {
	caller     Caller
	cfg        config.Config
	modelLabel string
	hasAPIKey  bool
}

// NewService creates the mapper. A nil caller or empty apiKey means every
// operation degrades to its fallback without a network call.
func NewService(caller Caller, cfg config.Config, apiKey string) *Service {
	return &Service{
		caller:     caller,
		cfg:        cfg,
		modelLabel: cfg.LLM.Model,
		hasAPIKey:  apiKey != "",
	}
}

// GenerateQuestions produces exactly question_count questions bound to the
// given snippets. Shortfalls are padded with deterministic template
// questions; overlong results are truncated.
func (s *Service) GenerateQuestions(ctx context.Context, snippets []model.Snippet, meta model.RepoMeta) []model.GeneratedQuestion {
	if len(snippets) == 0 {
		return nil
	}
	capped := capSnippets(snippets, s.cfg.LLM.MaxSnippets)

	if !s.ready() {
		slog.Info("llm unavailable, using fallback question generation")
		return s.fallbackQuestions(capped)
	}

	p := prompts.BuildQuestionPrompt(meta, capped, s.cfg.QuestionCount, s.cfg.QuestionCategories)
	resp, err := s.caller.Call(ctx, p)
	if err != nil {
		slog.Warn("question generation degraded to fallback", "error", err)
		return s.fallbackQuestions(capped)
	}
	return s.mapQuestions(resp, capped)
}

// SelectSnippets asks the model for the selection_count most relevant
// candidates. The model's picks are deduplicated in first-seen order and
// backfilled deterministically; any failure takes the first candidates
// verbatim.
func (s *Service) SelectSnippets(ctx context.Context, snippets []model.Snippet, meta model.RepoMeta) []model.Snippet {
	if len(snippets) == 0 {
		return nil
	}
	candidates := snippets
	if s.cfg.Snippets.MaxCandidates > 0 && len(candidates) > s.cfg.Snippets.MaxCandidates {
		candidates = candidates[:s.cfg.Snippets.MaxCandidates]
	}
	selectionCount := s.cfg.Snippets.SelectionCount
	if selectionCount > len(candidates) {
		selectionCount = len(candidates)
	}
	if selectionCount <= 0 {
		return nil
	}

	if !s.ready() {
		slog.Info("llm unavailable, using fallback snippet selection")
		return candidates[:selectionCount]
	}

	p := prompts.BuildSelectionPrompt(meta, candidates, selectionCount)
	resp, err := s.caller.Call(ctx, p)
	if err != nil {
		slog.Warn("snippet selection degraded to fallback", "error", err)
		return candidates[:selectionCount]
	}

	selected := make([]model.Snippet, 0, selectionCount)
	seen := make(map[int]bool)
	for _, raw := range anySlice(resp["selected_indices"]) {
		idx, ok := asInt(raw)
		if !ok || idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		selected = append(selected, candidates[idx])
		seen[idx] = true
		if len(selected) >= selectionCount {
			break
		}
	}
	// Backfill with untouched candidates in original order.
	for idx := 0; idx < len(candidates) && len(selected) < selectionCount; idx++ {
		if !seen[idx] {
			selected = append(selected, candidates[idx])
			seen[idx] = true
		}
	}
	return selected
}

// GradeAnswer grades one answer against the question's excerpt. It never
// fails: blank answers, missing credentials, and orchestrator failures all
// short-circuit to the minimum score with the fallback model label.
func (s *Service) GradeAnswer(ctx context.Context, answerText string, question model.GeneratedQuestion) model.GradeResult {
	if strings.TrimSpace(answerText) == "" {
		return s.fallbackGrade("Blank answer.")
	}
	if !s.ready() {
		slog.Info("llm unavailable, using fallback grading")
		return s.fallbackGrade("LLM unavailable; fallback grading applied.")
	}

	p := prompts.BuildGradePrompt(question.QuestionText, question.Snippet(), answerText, s.cfg.Grading)
	resp, err := s.caller.Call(ctx, p)
	if err != nil {
		slog.Warn("grading degraded to fallback", "error", err)
		return s.fallbackGrade("LLM failure; fallback grading applied.")
	}
	return s.normalizeGrade(resp)
}

func (s *Service) ready() bool {
	return s.caller != nil && s.hasAPIKey
}

// mapQuestions converts the validated payload into bound questions,
// dropping out-of-range indices and padding with fallbacks to exactly
// question_count.
func (s *Service) mapQuestions(resp map[string]any, snippets []model.Snippet) []model.GeneratedQuestion {
	var questions []model.GeneratedQuestion
	for _, raw := range anySlice(resp["questions"]) {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		idx, ok := asInt(obj["snippet_index"])
		if !ok || idx < 0 || idx >= len(snippets) {
			continue
		}
		text, _ := obj["question_text"].(string)
		snippet := snippets[idx]
		questions = append(questions, model.GeneratedQuestion{
			QuestionText: strings.TrimSpace(text),
			FilePath:     snippet.FilePath,
			LineStart:    snippet.LineStart,
			LineEnd:      snippet.LineEnd,
			ExcerptText:  snippet.ExcerptText,
			ExcerptHash:  snippet.ExcerptHash,
		})
	}
	if len(questions) < s.cfg.QuestionCount {
		fallback := s.fallbackQuestions(snippets)
		if len(fallback) > len(questions) {
			questions = append(questions, fallback[len(questions):]...)
		}
	}
	if len(questions) > s.cfg.QuestionCount {
		questions = questions[:s.cfg.QuestionCount]
	}
	return questions
}

// fallbackQuestions assigns snippets and categories cyclically to template
// question texts. Deterministic: identical input always yields identical
// questions.
func (s *Service) fallbackQuestions(snippets []model.Snippet) []model.GeneratedQuestion {
	if len(snippets) == 0 {
		return nil
	}
	categories := s.cfg.QuestionCategories
	questions := make([]model.GeneratedQuestion, 0, s.cfg.QuestionCount)
	for i := 0; i < s.cfg.QuestionCount; i++ {
		snippet := snippets[i%len(snippets)]
		category := categories[i%len(categories)]
		questions = append(questions, model.GeneratedQuestion{
			QuestionText: fallbackQuestionText(snippet, category),
			FilePath:     snippet.FilePath,
			LineStart:    snippet.LineStart,
			LineEnd:      snippet.LineEnd,
			ExcerptText:  snippet.ExcerptText,
			ExcerptHash:  snippet.ExcerptHash,
		})
	}
	return questions
}

func fallbackQuestionText(s model.Snippet, category string) string {
	base := fmt.Sprintf("In `%s` (lines %d-%d)", s.FilePath, s.LineStart, s.LineEnd)
	switch category {
	case "design":
		return base + ", what design choice does this code reflect?"
	case "tradeoff":
		return base + ", what tradeoff does this implementation make?"
	default:
		return base + ", explain why this code works."
	}
}

func (s *Service) fallbackGrade(rationale string) model.GradeResult {
	return model.GradeResult{
		Score:      s.cfg.Grading.MinScore,
		Rationale:  rationale,
		Confidence: s.cfg.Grading.DefaultConfidence,
		Model:      fallbackModel,
	}
}

// normalizeGrade clamps the validated payload into the configured bounds.
func (s *Service) normalizeGrade(resp map[string]any) model.GradeResult {
	g := s.cfg.Grading

	score := g.MinScore
	if raw, ok := asInt(resp["score"]); ok {
		score = clampInt(raw, g.MinScore, g.MaxScore)
	}
	confidence := g.DefaultConfidence
	if raw, ok := asFloat(resp["confidence"]); ok {
		confidence = clampFloat(raw, g.MinConfidence, g.MaxConfidence)
	}
	rationale, _ := resp["rationale"].(string)

	return model.GradeResult{
		Score:      score,
		Rationale:  strings.TrimSpace(rationale),
		Confidence: confidence,
		Model:      s.modelLabel,
	}
}

func capSnippets(snippets []model.Snippet, max int) []model.Snippet {
	if max <= 0 || len(snippets) <= max {
		return snippets
	}
	return snippets[:max]
}

func anySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
