// Package grading runs submitted answers through the grader as background
// batches: sequential within a batch, concurrent across batches, idempotent
// throughout.
package grading

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"codequiz/internal/model"
)

// ErrQueueFull means the job queue is saturated. The answers stay pending;
// a later idempotent re-run can grade them.
var ErrQueueFull = errors.New("grading queue full")

// Storage is the slice of the persistence boundary the runner needs.
type Storage interface {
	GradeExists(answerID int64) (bool, error)
	GetAnswer(id int64) (model.Answer, error)
	GetQuestion(id int64) (model.Question, error)
	CreateGrade(answerID int64, result model.GradeResult) (int64, error)
}

// Grader grades one answer against its question. It never fails; it
// degrades.
type Grader interface {
	GradeAnswer(ctx context.Context, answerText string, question model.GeneratedQuestion) model.GradeResult
}

// batch is one grading job: a submission's pending answers in order.
type batch struct {
	submissionID int64
	answerIDs    []int64
}

// Runner dispatches grading batches to a fixed worker pool. Within a batch,
// answers are graded sequentially with a spacing sleep between calls;
// different batches may run on different workers concurrently.
type Runner struct {
	store   Storage
	grader  Grader
	spacing time.Duration

	jobs   chan batch
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewRunner starts workerCount workers draining a queue of queueSize
// pending batches.
func NewRunner(store Storage, grader Grader, workerCount, queueSize int, spacing time.Duration) *Runner {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:   store,
		grader:  grader,
		spacing: spacing,
		jobs:    make(chan batch, queueSize),
		cancel:  cancel,
	}
	r.group, _ = errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		r.group.Go(func() error {
			r.work(ctx)
			return nil
		})
	}
	return r
}

// Enqueue queues one submission's answers for grading. It never blocks the
// caller; a saturated queue returns ErrQueueFull.
func (r *Runner) Enqueue(submissionID int64, answerIDs []int64) error {
	if len(answerIDs) == 0 {
		return nil
	}
	ids := make([]int64, len(answerIDs))
	copy(ids, answerIDs)
	select {
	case r.jobs <- batch{submissionID: submissionID, answerIDs: ids}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs, drains queued batches, and waits for workers
// to finish. Dispatched batches run to completion; there is no mid-batch
// cancellation.
func (r *Runner) Close() {
	close(r.jobs)
	_ = r.group.Wait()
	r.cancel()
}

func (r *Runner) work(ctx context.Context) {
	for b := range r.jobs {
		r.RunBatch(ctx, b.submissionID, b.answerIDs)
	}
}

// RunBatch grades a submission's answers in the given order. Already-graded
// answers are skipped; a fixed spacing sleep separates consecutive LLM
// calls (never before the first). Failures are logged and leave the answer
// ungraded for a later re-run.
func (r *Runner) RunBatch(ctx context.Context, submissionID int64, answerIDs []int64) {
	slog.Info("grading batch started", "submission_id", submissionID, "answers", len(answerIDs))
	for i, answerID := range answerIDs {
		if i > 0 && r.spacing > 0 {
			select {
			case <-ctx.Done():
				slog.Warn("grading batch interrupted", "submission_id", submissionID)
				return
			case <-time.After(r.spacing):
			}
		}
		r.gradeOne(ctx, answerID)
	}
	slog.Info("grading batch completed", "submission_id", submissionID, "answers", len(answerIDs))
}

func (r *Runner) gradeOne(ctx context.Context, answerID int64) {
	exists, err := r.store.GradeExists(answerID)
	if err != nil {
		slog.Error("grade lookup failed", "answer_id", answerID, "error", err)
		return
	}
	if exists {
		return
	}

	answer, err := r.store.GetAnswer(answerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Warn("answer not found for grading", "answer_id", answerID)
		} else {
			slog.Error("answer fetch failed", "answer_id", answerID, "error", err)
		}
		return
	}
	question, err := r.store.GetQuestion(answer.QuestionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Warn("question not found for grading", "question_id", answer.QuestionID)
		} else {
			slog.Error("question fetch failed", "question_id", answer.QuestionID, "error", err)
		}
		return
	}

	result := r.grader.GradeAnswer(ctx, answer.AnswerText, question.Generated())
	if _, err := r.store.CreateGrade(answerID, result); err != nil {
		slog.Error("grade insert failed", "answer_id", answerID, "error", err)
	}
}
