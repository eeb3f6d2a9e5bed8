package grading

import (
	"context"
	"sync"
	"testing"
	"time"

	"codequiz/internal/model"
)

// memStorage is an in-memory Storage fake keyed by answer ID.
type memStorage struct {
	mu        sync.Mutex
	answers   map[int64]model.Answer
	questions map[int64]model.Question
	grades    map[int64]model.GradeResult
	inserts   int
}

func newMemStorage() *memStorage {
	return &memStorage{
		answers:   make(map[int64]model.Answer),
		questions: make(map[int64]model.Question),
		grades:    make(map[int64]model.GradeResult),
	}
}

func (m *memStorage) addAnswer(a model.Answer, q model.Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[a.ID] = a
	m.questions[q.ID] = q
}

func (m *memStorage) GradeExists(answerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.grades[answerID]
	return ok, nil
}

func (m *memStorage) GetAnswer(id int64) (model.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answers[id], nil
}

func (m *memStorage) GetQuestion(id int64) (model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.questions[id], nil
}

func (m *memStorage) CreateGrade(answerID int64, result model.GradeResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	m.grades[answerID] = result
	return int64(m.inserts), nil
}

func (m *memStorage) insertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// stubGrader returns a fixed score and records the answers it saw.
type stubGrader struct {
	mu    sync.Mutex
	seen  []string
	score int
}

func (g *stubGrader) GradeAnswer(_ context.Context, answerText string, _ model.GeneratedQuestion) model.GradeResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, answerText)
	return model.GradeResult{Score: g.score, Rationale: "ok", Confidence: 0.9, Model: "stub"}
}

func (g *stubGrader) answers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.seen...)
}

func seedBatch(store *memStorage, subID int64, texts ...string) []int64 {
	ids := make([]int64, 0, len(texts))
	for i, text := range texts {
		id := int64(i + 1)
		store.addAnswer(
			model.Answer{ID: id, QuestionID: id, SubmissionID: subID, AnswerText: text},
			model.Question{ID: id, SubmissionID: subID, QuestionText: "why?"},
		)
		ids = append(ids, id)
	}
	return ids
}

func TestRunBatchGradesInOrder(t *testing.T) {
	store := newMemStorage()
	grader := &stubGrader{score: 4}
	r := NewRunner(store, grader, 1, 4, 0)
	defer r.Close()

	ids := seedBatch(store, 1, "first", "second", "third")
	r.RunBatch(context.Background(), 1, ids)

	if got := grader.answers(); len(got) != 3 || got[0] != "first" || got[2] != "third" {
		t.Errorf("graded answers = %v, want batch order preserved", got)
	}
	if store.insertCount() != 3 {
		t.Errorf("grade inserts = %d, want 3", store.insertCount())
	}
}

func TestRunBatchIsIdempotent(t *testing.T) {
	store := newMemStorage()
	grader := &stubGrader{score: 4}
	r := NewRunner(store, grader, 1, 4, 0)
	defer r.Close()

	ids := seedBatch(store, 1, "only")
	r.RunBatch(context.Background(), 1, ids)
	r.RunBatch(context.Background(), 1, ids)

	if store.insertCount() != 1 {
		t.Errorf("grade inserts = %d, want 1 after re-run", store.insertCount())
	}
	if len(grader.answers()) != 1 {
		t.Errorf("grader calls = %d, want 1 after re-run", len(grader.answers()))
	}
}

func TestEnqueueProcessesBatch(t *testing.T) {
	store := newMemStorage()
	grader := &stubGrader{score: 3}
	r := NewRunner(store, grader, 2, 4, 0)

	ids := seedBatch(store, 7, "a", "b")
	if err := r.Enqueue(7, ids); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	r.Close()

	if store.insertCount() != 2 {
		t.Errorf("grade inserts = %d, want 2 after drain", store.insertCount())
	}
}

func TestEnqueueEmptyBatchIsNoop(t *testing.T) {
	store := newMemStorage()
	r := NewRunner(store, &stubGrader{score: 1}, 1, 1, 0)
	defer r.Close()

	if err := r.Enqueue(1, nil); err != nil {
		t.Errorf("empty enqueue should succeed, got %v", err)
	}
}

func TestEnqueueFullQueue(t *testing.T) {
	store := newMemStorage()
	grader := &stubGrader{score: 1}
	// Zero workers are bumped to one; a spacing long enough to hold the
	// worker busy lets the single-slot queue fill up.
	r := NewRunner(store, grader, 1, 1, 50*time.Millisecond)
	defer r.Close()

	ids := seedBatch(store, 1, "a", "b")
	// Saturate: one batch in flight, one in the queue slot.
	_ = r.Enqueue(1, ids)
	_ = r.Enqueue(1, ids)

	// The worker needs at least the spacing interval per batch, so one of
	// these immediate submissions must find the queue full.
	var sawFull bool
	for i := 0; i < 10; i++ {
		if err := r.Enqueue(1, ids); err == ErrQueueFull {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Error("expected ErrQueueFull from a saturated queue")
	}
}
