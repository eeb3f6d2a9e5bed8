package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"codequiz/internal/config"
	"codequiz/internal/github"
	"codequiz/internal/grading"
	"codequiz/internal/ingest"
	"codequiz/internal/llm"
	"codequiz/internal/model"
	"codequiz/internal/store"
)

// stubGrader grades everything with a fixed score.
type stubGrader struct{}

func (stubGrader) GradeAnswer(_ context.Context, _ string, _ model.GeneratedQuestion) model.GradeResult {
	return model.GradeResult{Score: 4, Rationale: "ok", Confidence: 0.9, Model: "stub"}
}

type fixture struct {
	store  *store.Store
	runner *grading.Runner
	router chi.Router
}

func newFixture(t *testing.T, ing *ingest.Service) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	runner := grading.NewRunner(s, stubGrader{}, 1, 8, 0)
	h := New(s, ing, runner)
	r := chi.NewRouter()
	h.Routes(r)
	return &fixture{store: s, runner: runner, router: r}
}

func (f *fixture) seedSubmission(t *testing.T, questionCount int) (int64, []model.Question) {
	t.Helper()
	repo, err := f.store.GetOrCreateRepo("https://github.com/octocat/hello", "octocat", "hello")
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	questions := make([]model.GeneratedQuestion, 0, questionCount)
	for i := 0; i < questionCount; i++ {
		questions = append(questions, model.GeneratedQuestion{
			QuestionText: fmt.Sprintf("question %d", i),
			FilePath:     "app.py",
			LineStart:    1,
			LineEnd:      3,
			ExcerptText:  "def hello():\n    return 1",
		})
	}
	subID, _, err := f.store.CreateSubmission(repo.ID, "abc123", []string{"app.py"}, questions)
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	stored, err := f.store.ListQuestions(subID)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	return subID, stored
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestQuestionsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	defer f.runner.Close()
	subID, _ := f.seedSubmission(t, 2)

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/submissions/%d/questions", subID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	questions, _ := body["questions"].([]any)
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	first := questions[0].(map[string]any)
	if first["text"] != "question 0" || first["file_path"] != "app.py" {
		t.Errorf("unexpected question payload: %v", first)
	}
}

func TestQuestionsEndpointErrors(t *testing.T) {
	f := newFixture(t, nil)
	defer f.runner.Close()

	if rec := f.do(t, http.MethodGet, "/submissions/999/questions", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing submission: status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/submissions/zero/questions", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestAnswersEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	subID, questions := f.seedSubmission(t, 2)

	payload := map[string]any{"answers": []map[string]any{
		{
			"submission_id": subID,
			"question_id":   questions[0].ID,
			"answer_text":   "it returns one",
			"time_spent_ms": 4200,
		},
		{
			"submission_id": subID,
			"question_id":   questions[1].ID,
			"answer_text":   "   ",
		},
	}}
	rec := f.do(t, http.MethodPost, "/answers", payload)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	answers, _ := body["answers"].([]any)
	if len(answers) != 2 {
		t.Fatalf("expected 2 answer results, got %d", len(answers))
	}
	if status := answers[0].(map[string]any)["status"]; status != "queued" {
		t.Errorf("answer status = %v", status)
	}

	// The blank answer left an integrity event behind.
	events, err := f.store.ListIntegrityEvents(subID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != model.EventBlankAnswer {
		t.Errorf("expected one blank-answer event, got %+v", events)
	}
	if events[0].QuestionID == nil || *events[0].QuestionID != questions[1].ID {
		t.Error("event should reference the blank answer's question")
	}

	// Draining the runner grades both answers exactly once.
	f.runner.Close()
	grades, err := f.store.ListGrades(subID)
	if err != nil {
		t.Fatalf("list grades: %v", err)
	}
	if len(grades) != 2 {
		t.Fatalf("expected 2 grades, got %d", len(grades))
	}
	for _, g := range grades {
		if g.Score != 4 || g.Model != "stub" {
			t.Errorf("unexpected grade: %+v", g)
		}
	}
}

func TestAnswersEndpointValidation(t *testing.T) {
	f := newFixture(t, nil)
	defer f.runner.Close()
	subID, questions := f.seedSubmission(t, 1)

	t.Run("empty batch", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/answers", map[string]any{"answers": []any{}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("mixed submissions", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/answers", map[string]any{"answers": []map[string]any{
			{"submission_id": subID, "question_id": questions[0].ID, "answer_text": "a"},
			{"submission_id": subID + 1, "question_id": questions[0].ID, "answer_text": "b"},
		}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown question", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/answers", map[string]any{"answers": []map[string]any{
			{"submission_id": subID, "question_id": int64(999), "answer_text": "a"},
		}})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	// Nothing was persisted by the rejected batches.
	answeredGrades, err := f.store.ListGrades(subID)
	if err != nil {
		t.Fatalf("list grades: %v", err)
	}
	if len(answeredGrades) != 0 {
		t.Errorf("rejected batches should persist nothing, got %d grades", len(answeredGrades))
	}
}

func TestGradesEndpointNotFound(t *testing.T) {
	f := newFixture(t, nil)
	defer f.runner.Close()

	if rec := f.do(t, http.MethodGet, "/submissions/999/grades", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// githubStub serves the three endpoints the ingest pipeline hits, with an
// in-memory zipball.
func githubStub(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	archive := buf.Bytes()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/zipball/"):
			w.Write(archive)
		case strings.Contains(r.URL.Path, "/commits/"):
			w.Write([]byte(`{"sha":"abc123"}`))
		default:
			w.Write([]byte(`{"default_branch":"main","owner":{"id":1,"login":"octocat","type":"User"}}`))
		}
	}))
}

func TestIngestEndpointFallbackPipeline(t *testing.T) {
	srv := githubStub(t, map[string]string{
		"hello-abc123/app.py": "def hello():\n    return 1\n",
	})
	defer srv.Close()

	f := newIngestFixture(t, srv.URL)
	defer f.runner.Close()

	rec := f.do(t, http.MethodPost, "/repos/ingest", map[string]any{
		"repo_url": "https://github.com/octocat/hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["commit_sha"] != "abc123" {
		t.Errorf("commit_sha = %v", body["commit_sha"])
	}
	questions, _ := body["questions"].([]any)
	if len(questions) != defaultTestConfig().QuestionCount {
		t.Errorf("expected exactly %d fallback questions, got %d", defaultTestConfig().QuestionCount, len(questions))
	}
}

// newIngestFixture wires the full pipeline against a stubbed GitHub API,
// with no LLM credentials so questions come from the deterministic fallback.
func newIngestFixture(t *testing.T, githubURL string) *fixture {
	t.Helper()
	f := newFixture(t, nil)
	cfg := defaultTestConfig()
	gh := github.NewClient(config.GitHub{APIBase: githubURL, TimeoutSeconds: 5}, "")
	svc := llm.NewService(nil, cfg, "")
	ing := ingest.NewService(gh, f.store, svc, cfg)
	r := chi.NewRouter()
	New(f.store, ing, f.runner).Routes(r)
	f.router = r
	return f
}

func TestIngestEndpointNoSnippets(t *testing.T) {
	srv := githubStub(t, map[string]string{
		"hello-abc123/README.md": "# nothing to segment\n",
	})
	defer srv.Close()

	f := newIngestFixture(t, srv.URL)
	defer f.runner.Close()

	rec := f.do(t, http.MethodPost, "/repos/ingest", map[string]any{
		"repo_url": "https://github.com/octocat/hello",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a repo without code", rec.Code)
	}
}

func TestIngestEndpointMissingURL(t *testing.T) {
	f := newFixture(t, nil)
	defer f.runner.Close()

	rec := f.do(t, http.MethodPost, "/repos/ingest", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func defaultTestConfig() config.Config {
	return config.Config{
		QuestionCount:      3,
		QuestionCategories: []string{"why", "design", "tradeoff"},
		Snippets: config.Snippets{
			AllowedExtensions:  []string{".py", ".js"},
			ExcludedDirs:       []string{"node_modules"},
			MaxFileSizeKB:      256,
			SnippetMaxLines:    120,
			MaxSnippetsPerFile: 5,
			SelectionCount:     6,
			MaxCandidates:      40,
		},
		LLM: config.LLM{Model: "gpt-4o-mini", MaxSnippets: 12},
		Grading: config.Grading{
			MinScore: 1, MaxScore: 5,
			MinConfidence: 0, MaxConfidence: 1, DefaultConfidence: 0.5,
		},
		Workers: config.Workers{Count: 1, QueueSize: 8},
	}
}
