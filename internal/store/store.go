// Package store is the persistence boundary: sqlite-backed storage for
// repos, submissions, questions, answers, grades, and integrity events.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"codequiz/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_url TEXT NOT NULL UNIQUE,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id INTEGER NOT NULL,
		commit_sha TEXT NOT NULL,
		manifest_json TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'ready',
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		FOREIGN KEY (repo_id) REFERENCES repos(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		file_path TEXT NOT NULL,
		line_start INTEGER NOT NULL,
		line_end INTEGER NOT NULL,
		excerpt_text TEXT NOT NULL,
		excerpt_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL,
		submission_id INTEGER NOT NULL,
		answer_text TEXT NOT NULL,
		time_spent_ms INTEGER NOT NULL DEFAULT 0,
		paste_attempts INTEGER NOT NULL DEFAULT 0,
		focus_loss_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (question_id) REFERENCES questions(id),
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS grades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		answer_id INTEGER NOT NULL UNIQUE,
		score INTEGER NOT NULL,
		rationale TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (answer_id) REFERENCES answers(id)
	);

	CREATE TABLE IF NOT EXISTS integrity_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		question_id INTEGER,
		event_type TEXT NOT NULL,
		event_data TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (submission_id) REFERENCES submissions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GetOrCreateRepo returns the repo registered for the URL, creating it on
// first sight.
func (s *Store) GetOrCreateRepo(repoURL, owner, name string) (model.Repo, error) {
	var r model.Repo
	err := s.db.QueryRow(
		`SELECT id, repo_url, owner, name, created_at FROM repos WHERE repo_url = ?`, repoURL,
	).Scan(&r.ID, &r.RepoURL, &r.Owner, &r.Name, &r.CreatedAt)
	if err == nil {
		return r, nil
	}
	if err != sql.ErrNoRows {
		return model.Repo{}, err
	}
	now := time.Now()
	res, err := s.db.Exec(
		`INSERT INTO repos (repo_url, owner, name, created_at) VALUES (?, ?, ?, ?)`,
		repoURL, owner, name, now,
	)
	if err != nil {
		return model.Repo{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Repo{}, err
	}
	return model.Repo{ID: id, RepoURL: repoURL, Owner: owner, Name: name, CreatedAt: now}, nil
}

// CleanupCounts reports what a lifecycle cleanup removed.
type CleanupCounts struct {
	Questions   int64
	Submissions int64
	Events      int64
}

// CreateSubmission prunes the repo's abandoned attempts and inserts the new
// submission with its questions, all in one transaction. Questions that
// accumulated answers, and the submissions holding them, survive untouched.
func (s *Store) CreateSubmission(repoID int64, commitSHA string, manifest []string, questions []model.GeneratedQuestion) (int64, CleanupCounts, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, CleanupCounts{}, err
	}
	defer tx.Rollback()

	counts, err := cleanupRepo(tx, repoID)
	if err != nil {
		return 0, CleanupCounts{}, fmt.Errorf("cleanup: %w", err)
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return 0, CleanupCounts{}, err
	}
	now := time.Now()
	res, err := tx.Exec(
		`INSERT INTO submissions (repo_id, commit_sha, manifest_json, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		repoID, commitSHA, string(manifestJSON), model.SubmissionReady, now,
	)
	if err != nil {
		return 0, CleanupCounts{}, err
	}
	submissionID, err := res.LastInsertId()
	if err != nil {
		return 0, CleanupCounts{}, err
	}

	for _, q := range questions {
		_, err := tx.Exec(
			`INSERT INTO questions (submission_id, question_text, file_path, line_start, line_end, excerpt_text, excerpt_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			submissionID, q.QuestionText, q.FilePath, q.LineStart, q.LineEnd, q.ExcerptText, q.ExcerptHash, now,
		)
		if err != nil {
			return 0, CleanupCounts{}, err
		}
	}

	return submissionID, counts, tx.Commit()
}

// cleanupRepo deletes every question under the repo's submissions that has
// zero answers (with its integrity events), then every submission left with
// zero questions and zero answers (with its events).
func cleanupRepo(tx *sql.Tx, repoID int64) (CleanupCounts, error) {
	var counts CleanupCounts

	res, err := tx.Exec(
		`DELETE FROM integrity_events WHERE question_id IN (
			SELECT q.id FROM questions q
			JOIN submissions s ON q.submission_id = s.id
			LEFT JOIN answers a ON a.question_id = q.id
			WHERE s.repo_id = ? AND a.id IS NULL
		)`, repoID,
	)
	if err != nil {
		return counts, err
	}
	counts.Events, _ = res.RowsAffected()

	res, err = tx.Exec(
		`DELETE FROM questions WHERE id IN (
			SELECT q.id FROM questions q
			JOIN submissions s ON q.submission_id = s.id
			LEFT JOIN answers a ON a.question_id = q.id
			WHERE s.repo_id = ? AND a.id IS NULL
		)`, repoID,
	)
	if err != nil {
		return counts, err
	}
	counts.Questions, _ = res.RowsAffected()

	res, err = tx.Exec(
		`DELETE FROM integrity_events WHERE submission_id IN (
			SELECT s.id FROM submissions s
			WHERE s.repo_id = ?
			AND NOT EXISTS (SELECT 1 FROM questions q WHERE q.submission_id = s.id)
			AND NOT EXISTS (SELECT 1 FROM answers a WHERE a.submission_id = s.id)
		)`, repoID,
	)
	if err != nil {
		return counts, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		counts.Events += n
	}

	res, err = tx.Exec(
		`DELETE FROM submissions WHERE id IN (
			SELECT s.id FROM submissions s
			WHERE s.repo_id = ?
			AND NOT EXISTS (SELECT 1 FROM questions q WHERE q.submission_id = s.id)
			AND NOT EXISTS (SELECT 1 FROM answers a WHERE a.submission_id = s.id)
		)`, repoID,
	)
	if err != nil {
		return counts, err
	}
	counts.Submissions, _ = res.RowsAffected()

	return counts, nil
}

// GetSubmission returns a submission by ID.
func (s *Store) GetSubmission(id int64) (model.Submission, error) {
	var sub model.Submission
	var manifestJSON string
	err := s.db.QueryRow(
		`SELECT id, repo_id, commit_sha, manifest_json, status, created_at, completed_at
		 FROM submissions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.RepoID, &sub.CommitSHA, &manifestJSON, &sub.Status, &sub.CreatedAt, &sub.CompletedAt)
	if err != nil {
		return model.Submission{}, err
	}
	if err := json.Unmarshal([]byte(manifestJSON), &sub.Manifest); err != nil {
		return model.Submission{}, fmt.Errorf("decode manifest: %w", err)
	}
	return sub, nil
}

// ListSubmissions returns all submissions for a repo, newest first.
func (s *Store) ListSubmissions(repoID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, repo_id, commit_sha, manifest_json, status, created_at, completed_at
		 FROM submissions WHERE repo_id = ? ORDER BY id DESC`, repoID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		var manifestJSON string
		if err := rows.Scan(&sub.ID, &sub.RepoID, &sub.CommitSHA, &manifestJSON, &sub.Status, &sub.CreatedAt, &sub.CompletedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(manifestJSON), &sub.Manifest); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListQuestions returns all questions under a submission in insertion
// order.
func (s *Store) ListQuestions(submissionID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, submission_id, question_text, file_path, line_start, line_end, excerpt_text, excerpt_hash, created_at
		 FROM questions WHERE submission_id = ? ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SubmissionID, &q.QuestionText, &q.FilePath, &q.LineStart, &q.LineEnd, &q.ExcerptText, &q.ExcerptHash, &q.CreatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	var q model.Question
	err := s.db.QueryRow(
		`SELECT id, submission_id, question_text, file_path, line_start, line_end, excerpt_text, excerpt_hash, created_at
		 FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.SubmissionID, &q.QuestionText, &q.FilePath, &q.LineStart, &q.LineEnd, &q.ExcerptText, &q.ExcerptHash, &q.CreatedAt)
	return q, err
}

// CreateAnswer inserts an answer for a question.
func (s *Store) CreateAnswer(a model.Answer) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO answers (question_id, submission_id, answer_text, time_spent_ms, paste_attempts, focus_loss_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.QuestionID, a.SubmissionID, a.AnswerText, a.TimeSpentMS, a.PasteAttempts, a.FocusLossCount, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAnswer returns an answer by ID.
func (s *Store) GetAnswer(id int64) (model.Answer, error) {
	var a model.Answer
	err := s.db.QueryRow(
		`SELECT id, question_id, submission_id, answer_text, time_spent_ms, paste_attempts, focus_loss_count, created_at
		 FROM answers WHERE id = ?`, id,
	).Scan(&a.ID, &a.QuestionID, &a.SubmissionID, &a.AnswerText, &a.TimeSpentMS, &a.PasteAttempts, &a.FocusLossCount, &a.CreatedAt)
	return a, err
}

// GradeExists reports whether an answer already has a grade.
func (s *Store) GradeExists(answerID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM grades WHERE answer_id = ?`, answerID).Scan(&count)
	return count > 0, err
}

// CreateGrade inserts the grade for an answer. The UNIQUE constraint on
// answer_id keeps grading idempotent under races.
func (s *Store) CreateGrade(answerID int64, result model.GradeResult) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO grades (answer_id, score, rationale, confidence, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		answerID, result.Score, result.Rationale, result.Confidence, result.Model, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GradeForAnswer returns the grade for an answer, or nil when ungraded.
func (s *Store) GradeForAnswer(answerID int64) (*model.Grade, error) {
	var g model.Grade
	err := s.db.QueryRow(
		`SELECT id, answer_id, score, rationale, confidence, model, created_at
		 FROM grades WHERE answer_id = ?`, answerID,
	).Scan(&g.ID, &g.AnswerID, &g.Score, &g.Rationale, &g.Confidence, &g.Model, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGrades returns all grades for a submission's answers in answer order.
func (s *Store) ListGrades(submissionID int64) ([]model.Grade, error) {
	rows, err := s.db.Query(
		`SELECT g.id, g.answer_id, g.score, g.rationale, g.confidence, g.model, g.created_at
		 FROM grades g
		 JOIN answers a ON g.answer_id = a.id
		 WHERE a.submission_id = ? ORDER BY a.id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grades []model.Grade
	for rows.Next() {
		var g model.Grade
		if err := rows.Scan(&g.ID, &g.AnswerID, &g.Score, &g.Rationale, &g.Confidence, &g.Model, &g.CreatedAt); err != nil {
			return nil, err
		}
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// CreateIntegrityEvent appends an integrity observation.
func (s *Store) CreateIntegrityEvent(e model.IntegrityEvent) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO integrity_events (submission_id, question_id, event_type, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.SubmissionID, e.QuestionID, e.EventType, e.EventData, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListIntegrityEvents returns a submission's integrity events in insertion
// order.
func (s *Store) ListIntegrityEvents(submissionID int64) ([]model.IntegrityEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, submission_id, question_id, event_type, event_data, created_at
		 FROM integrity_events WHERE submission_id = ? ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []model.IntegrityEvent
	for rows.Next() {
		var e model.IntegrityEvent
		if err := rows.Scan(&e.ID, &e.SubmissionID, &e.QuestionID, &e.EventType, &e.EventData, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// QuestionCount returns the number of questions under a submission.
func (s *Store) QuestionCount(submissionID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions WHERE submission_id = ?`, submissionID).Scan(&count)
	return count, err
}
