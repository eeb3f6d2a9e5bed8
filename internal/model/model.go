package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SubmissionStatus represents the lifecycle state of a submission.
type SubmissionStatus string

const (
	SubmissionReady     SubmissionStatus = "ready"
	SubmissionCompleted SubmissionStatus = "completed"
)

// IntegrityEventType classifies behavioral observations on answers.
type IntegrityEventType string

const (
	// EventBlankAnswer records a whitespace-only answer submission.
	EventBlankAnswer IntegrityEventType = "blank_answer"
)

// RepoFile is one ingested text file. Created once per ingestion run,
// immutable, never persisted.
type RepoFile struct {
	Path    string
	Content string
	Lines   []string
}

// Snippet is a structurally bounded excerpt of a repo file.
// Line numbers are 1-based and inclusive.
type Snippet struct {
	FilePath    string `json:"file_path"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	ExcerptText string `json:"excerpt_text"`
	ExcerptHash string `json:"excerpt_hash"`
}

// HashExcerpt produces the content digest used for integrity and dedup
// checks. Identical excerpt text always reproduces the same digest.
func HashExcerpt(excerptText string) string {
	sum := sha256.Sum256([]byte(excerptText))
	return hex.EncodeToString(sum[:])
}

// GeneratedQuestion is a question bound to exactly one snippet, produced by
// the LLM or by the deterministic fallback.
type GeneratedQuestion struct {
	QuestionText string `json:"question_text"`
	FilePath     string `json:"file_path"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
	ExcerptText  string `json:"excerpt_text"`
	ExcerptHash  string `json:"excerpt_hash"`
}

// Snippet returns the excerpt the question is bound to.
func (q GeneratedQuestion) Snippet() Snippet {
	return Snippet{
		FilePath:    q.FilePath,
		LineStart:   q.LineStart,
		LineEnd:     q.LineEnd,
		ExcerptText: q.ExcerptText,
		ExcerptHash: q.ExcerptHash,
	}
}

// GradeResult is the outcome of grading one answer, before persistence.
type GradeResult struct {
	Score      int     `json:"score"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

// RepoMeta describes the repository state a submission was generated from.
// Embedded into prompts so the model can reason about the repo's purpose.
type RepoMeta struct {
	RepoURL   string `json:"repo_url"`
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	CommitSHA string `json:"commit_sha"`
}

// Repo is a registered repository.
type Repo struct {
	ID        int64     `json:"id"`
	RepoURL   string    `json:"repo_url"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Submission groups one ingestion run's generated questions for a
// repository state.
type Submission struct {
	ID          int64            `json:"id"`
	RepoID      int64            `json:"repo_id"`
	CommitSHA   string           `json:"commit_sha"`
	Manifest    []string         `json:"manifest"`
	Status      SubmissionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Question is a persisted generated question under a submission.
type Question struct {
	ID           int64     `json:"id"`
	SubmissionID int64     `json:"submission_id"`
	QuestionText string    `json:"question_text"`
	FilePath     string    `json:"file_path"`
	LineStart    int       `json:"line_start"`
	LineEnd      int       `json:"line_end"`
	ExcerptText  string    `json:"excerpt_text"`
	ExcerptHash  string    `json:"excerpt_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Generated strips the persisted question down to its generation-time form
// for re-grading.
func (q Question) Generated() GeneratedQuestion {
	return GeneratedQuestion{
		QuestionText: q.QuestionText,
		FilePath:     q.FilePath,
		LineStart:    q.LineStart,
		LineEnd:      q.LineEnd,
		ExcerptText:  q.ExcerptText,
		ExcerptHash:  q.ExcerptHash,
	}
}

// Answer is user-submitted text tied to one question. The telemetry fields
// feed integrity events only; they never alter the score.
type Answer struct {
	ID             int64     `json:"id"`
	QuestionID     int64     `json:"question_id"`
	SubmissionID   int64     `json:"submission_id"`
	AnswerText     string    `json:"answer_text"`
	TimeSpentMS    int       `json:"time_spent_ms"`
	PasteAttempts  int       `json:"paste_attempts"`
	FocusLossCount int       `json:"focus_loss_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Grade is the persisted grading outcome. At most one grade exists per
// answer.
type Grade struct {
	ID         int64     `json:"id"`
	AnswerID   int64     `json:"answer_id"`
	Score      int       `json:"score"`
	Rationale  string    `json:"rationale"`
	Confidence float64   `json:"confidence"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// IntegrityEvent is an append-only behavioral observation attached to a
// submission and optionally a question.
type IntegrityEvent struct {
	ID           int64              `json:"id"`
	SubmissionID int64              `json:"submission_id"`
	QuestionID   *int64             `json:"question_id,omitempty"`
	EventType    IntegrityEventType `json:"event_type"`
	EventData    string             `json:"event_data,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}
