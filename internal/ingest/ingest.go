// Package ingest composes the pipeline: fetch archive, extract files,
// segment snippets, select the relevant ones, generate questions, and
// persist the submission.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codequiz/internal/archive"
	"codequiz/internal/config"
	"codequiz/internal/github"
	"codequiz/internal/llm"
	"codequiz/internal/model"
	"codequiz/internal/segment"
	"codequiz/internal/store"
)

// ErrNoSnippets means the repository held no segmentable code; nothing was
// persisted.
var ErrNoSnippets = errors.New("no code snippets found in repo")

// Result is the outcome of one ingestion run.
type Result struct {
	Repo         model.Repo
	SubmissionID int64
	CommitSHA    string
	Questions    []model.Question
}

// Service runs the ingestion pipeline.
type Service struct {
	github *github.Client
	store  *store.Store
	llm    *llm.Service
	cfg    config.Config
}

// NewService wires the pipeline's collaborators.
func NewService(gh *github.Client, st *store.Store, svc *llm.Service, cfg config.Config) *Service {
	return &Service{github: gh, store: st, llm: svc, cfg: cfg}
}

// Ingest runs the full pipeline for a repo URL. commitSHA may be empty to
// use the default branch head. Ingestion failures reject the request with
// nothing persisted; LLM failures inside degrade to fallbacks and still
// produce a submission.
func (s *Service) Ingest(ctx context.Context, repoURL, commitSHA string) (*Result, error) {
	meta, err := s.github.VerifyRepo(ctx, repoURL)
	if err != nil {
		return nil, fmt.Errorf("verify repo: %w", err)
	}
	if !meta.IsPersonal {
		return nil, errors.New("only personal repositories are supported")
	}

	resolvedSHA := commitSHA
	if resolvedSHA == "" {
		resolvedSHA, err = s.github.CommitSHA(ctx, meta.Owner, meta.Name, meta.DefaultBranch)
		if err != nil {
			return nil, fmt.Errorf("resolve commit: %w", err)
		}
	}

	archiveBytes, err := s.github.DownloadArchive(ctx, meta.Owner, meta.Name, resolvedSHA)
	if err != nil {
		return nil, fmt.Errorf("download archive: %w", err)
	}

	files, err := archive.Extract(archiveBytes, s.cfg.Snippets)
	if err != nil {
		return nil, fmt.Errorf("extract archive: %w", err)
	}

	candidates := segment.ExtractSnippets(files, s.cfg.Snippets)
	if len(candidates) == 0 {
		return nil, ErrNoSnippets
	}

	repoMeta := model.RepoMeta{
		RepoURL:   repoURL,
		Owner:     meta.Owner,
		Name:      meta.Name,
		CommitSHA: resolvedSHA,
	}
	snippets := s.llm.SelectSnippets(ctx, candidates, repoMeta)
	generated := s.llm.GenerateQuestions(ctx, snippets, repoMeta)

	repo, err := s.store.GetOrCreateRepo(repoURL, meta.Owner, meta.Name)
	if err != nil {
		return nil, fmt.Errorf("register repo: %w", err)
	}

	manifest := make([]string, 0, len(files))
	for _, f := range files {
		manifest = append(manifest, f.Path)
	}

	submissionID, cleaned, err := s.store.CreateSubmission(repo.ID, resolvedSHA, manifest, generated)
	if err != nil {
		return nil, fmt.Errorf("persist submission: %w", err)
	}
	if cleaned.Questions > 0 || cleaned.Submissions > 0 {
		slog.Info("pruned abandoned attempts",
			"repo", repo.RepoURL,
			"questions", cleaned.Questions,
			"submissions", cleaned.Submissions,
			"events", cleaned.Events,
		)
	}

	questions, err := s.store.ListQuestions(submissionID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	slog.Info("ingestion complete",
		"repo", repo.RepoURL,
		"commit", resolvedSHA,
		"files", len(files),
		"candidates", len(candidates),
		"snippets", len(snippets),
		"questions", len(questions),
	)
	return &Result{
		Repo:         repo,
		SubmissionID: submissionID,
		CommitSHA:    resolvedSHA,
		Questions:    questions,
	}, nil
}
