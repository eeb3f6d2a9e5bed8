// Package handler exposes the pipeline over a thin JSON API. Session and
// identity concerns live outside this service.
package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"codequiz/internal/grading"
	"codequiz/internal/ingest"
	"codequiz/internal/model"
	"codequiz/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	ingester *ingest.Service
	runner   *grading.Runner
}

// New creates a new Handler.
func New(s *store.Store, ing *ingest.Service, r *grading.Runner) *Handler {
	return &Handler{store: s, ingester: ing, runner: r}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/repos/ingest", h.handleIngest)
	r.Get("/submissions/{submissionID}/questions", h.handleQuestions)
	r.Post("/answers", h.handleAnswers)
	r.Get("/submissions/{submissionID}/grades", h.handleGrades)
}

type ingestRequest struct {
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
}

type questionResponse struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Excerpt   string `json:"excerpt"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url is required")
		return
	}

	result, err := h.ingester.Ingest(r.Context(), req.RepoURL, req.CommitSHA)
	if err != nil {
		if errors.Is(err, ingest.ErrNoSnippets) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("ingestion failed", "repo_url", req.RepoURL, "error", err)
		writeError(w, http.StatusBadGateway, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"submission_id": result.SubmissionID,
		"commit_sha":    result.CommitSHA,
		"status":        model.SubmissionReady,
		"questions":     toQuestionResponses(result.Questions),
	})
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := parseID(w, r, "submissionID")
	if !ok {
		return
	}
	if _, err := h.store.GetSubmission(submissionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	questions, err := h.store.ListQuestions(submissionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": toQuestionResponses(questions)})
}

type answerPayload struct {
	SubmissionID   int64  `json:"submission_id"`
	QuestionID     int64  `json:"question_id"`
	AnswerText     string `json:"answer_text"`
	TimeSpentMS    int    `json:"time_spent_ms"`
	PasteAttempts  int    `json:"paste_attempts"`
	FocusLossCount int    `json:"focus_loss_count"`
}

type answersRequest struct {
	Answers []answerPayload `json:"answers"`
}

func (h *Handler) handleAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "answers must be a non-empty list")
		return
	}

	// Validate the whole batch before persisting anything.
	submissionID := req.Answers[0].SubmissionID
	for _, a := range req.Answers {
		if a.SubmissionID != submissionID {
			writeError(w, http.StatusBadRequest, "all answers must share the same submission_id")
			return
		}
		question, err := h.store.GetQuestion(a.QuestionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "question not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if question.SubmissionID != submissionID {
			writeError(w, http.StatusNotFound, "question not found")
			return
		}
	}

	results := make([]map[string]any, 0, len(req.Answers))
	answerIDs := make([]int64, 0, len(req.Answers))
	for _, a := range req.Answers {
		answerID, err := h.store.CreateAnswer(model.Answer{
			QuestionID:     a.QuestionID,
			SubmissionID:   a.SubmissionID,
			AnswerText:     a.AnswerText,
			TimeSpentMS:    a.TimeSpentMS,
			PasteAttempts:  a.PasteAttempts,
			FocusLossCount: a.FocusLossCount,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		answerIDs = append(answerIDs, answerID)

		if isBlank(a.AnswerText) {
			questionID := a.QuestionID
			if _, err := h.store.CreateIntegrityEvent(model.IntegrityEvent{
				SubmissionID: a.SubmissionID,
				QuestionID:   &questionID,
				EventType:    model.EventBlankAnswer,
				EventData:    `{"integrity_score":0}`,
			}); err != nil {
				slog.Error("integrity event insert failed", "answer_id", answerID, "error", err)
			}
		}

		results = append(results, map[string]any{
			"answer_id":   answerID,
			"question_id": a.QuestionID,
			"status":      "queued",
		})
	}

	if err := h.runner.Enqueue(submissionID, answerIDs); err != nil {
		// The answers are persisted; an idempotent re-run can still grade
		// them later.
		slog.Warn("grading enqueue failed", "submission_id", submissionID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"answers": results})
}

func (h *Handler) handleGrades(w http.ResponseWriter, r *http.Request) {
	submissionID, ok := parseID(w, r, "submissionID")
	if !ok {
		return
	}
	if _, err := h.store.GetSubmission(submissionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	grades, err := h.store.ListGrades(submissionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]map[string]any, 0, len(grades))
	for _, g := range grades {
		payload = append(payload, map[string]any{
			"answer_id":  g.AnswerID,
			"score":      g.Score,
			"rationale":  g.Rationale,
			"confidence": g.Confidence,
			"model":      g.Model,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"grades": payload})
}

func toQuestionResponses(questions []model.Question) []questionResponse {
	out := make([]questionResponse, 0, len(questions))
	for _, q := range questions {
		out = append(out, questionResponse{
			ID:        q.ID,
			Text:      q.QuestionText,
			FilePath:  q.FilePath,
			LineStart: q.LineStart,
			LineEnd:   q.LineEnd,
			Excerpt:   q.ExcerptText,
		})
	}
	return out
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", param))
		return 0, false
	}
	return id, true
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
