package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/learnd/internal/effectiveness"
	"github.com/fyrsmithlabs/learnd/internal/evaluation"
	"github.com/fyrsmithlabs/learnd/internal/indexer"
	"github.com/fyrsmithlabs/learnd/internal/knowledge"
	"github.com/fyrsmithlabs/learnd/internal/logging"
	"github.com/fyrsmithlabs/learnd/internal/retrieval"
	"github.com/fyrsmithlabs/learnd/internal/services"
)

type fakeSink struct {
	outcomes []effectiveness.Outcome
	attempts []effectiveness.Attempt
	err      error
}

func (f *fakeSink) RecordAttempt(a effectiveness.Attempt) error {
	if f.err != nil {
		return f.err
	}
	f.attempts = append(f.attempts, a)
	return nil
}

func (f *fakeSink) RecordOutcome(o effectiveness.Outcome) error {
	if f.err != nil {
		return f.err
	}
	f.outcomes = append(f.outcomes, o)
	return nil
}

func newTestService(t *testing.T, sink services.OutcomeSink) *services.LearnService {
	t.Helper()
	return newTestServiceWith(t, func(*effectiveness.Tracker) services.OutcomeSink { return sink })
}

// newTestServiceWith builds the service with the sink returned by newSink,
// which receives the service's tracker.
func newTestServiceWith(t *testing.T, newSink func(*effectiveness.Tracker) services.OutcomeSink) *services.LearnService {
	t.Helper()
	ctx := context.Background()
	store := knowledge.NewMemoryStore()
	for _, d := range []knowledge.Document{
		{ID: "k1", Content: "rule k1", Example: "ex k1", SkillTags: []string{"ser_estar"}, ErrorTypes: []string{"ser_estar_confusion"},
			Embedding: &knowledge.Embedding{Vector: []float32{1, 0}, Model: "m"}},
		{ID: "k2", Content: "rule k2", SkillTags: []string{"ser_estar"}, Priority: 1,
			Effectiveness: knowledge.Effectiveness{TimesUsed: 10, HelpedCorrect: 9}},
		{ID: "k3", Content: "rule k3", SkillTags: []string{"ser_estar"},
			Effectiveness: knowledge.Effectiveness{TimesUsed: 6, HelpedCorrect: 1}},
		{ID: "k4", Content: "rule k4", SkillTags: []string{"past_tense"}},
	} {
		require.NoError(t, store.Put(ctx, d))
	}

	ret, err := retrieval.New(store, nil, retrieval.Config{}, nil)
	require.NoError(t, err)
	tracker, err := effectiveness.NewTracker(store, store, nil)
	require.NoError(t, err)
	reporter, err := evaluation.NewReporter(store, store, nil)
	require.NoError(t, err)
	ix, err := indexer.New(store, nil, indexer.Config{}, nil)
	require.NoError(t, err)

	svc, err := services.NewLearnService(services.Options{
		Retriever: ret,
		Tracker:   tracker,
		Reporter:  reporter,
		Indexer:   ix,
		Outcomes:  newSink(tracker),
	})
	require.NoError(t, err)
	return svc
}

func setupTestServer(t *testing.T, svc LearnAPI) *Server {
	t.Helper()
	if svc == nil {
		svc = newTestService(t, nil)
	}
	server, err := NewServer(svc, zap.NewNop(), &Config{Host: "localhost", Port: 0, Version: "test"})
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewServer(t *testing.T) {
	t.Run("requires service", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("requires logger", func(t *testing.T) {
		_, err := NewServer(newTestService(t, nil), nil, nil)
		assert.Error(t, err)
	})

	t.Run("defaults config", func(t *testing.T) {
		s, err := NewServer(newTestService(t, nil), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9090", s.config.addr())
		assert.Equal(t, 7, s.config.ReportDays)
	})
}

func TestServer_Health(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HealthResponse{Status: "ok", Version: "test"}, decode[HealthResponse](t, rec))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestServer_Metrics(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# TYPE")
}

func TestServer_Retrieve(t *testing.T) {
	s := setupTestServer(t, nil)

	t.Run("returns ranked documents without vectors", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/retrieve", retrieval.Query{
			SkillTags:  []string{"ser_estar"},
			ErrorTypes: []string{"ser_estar_confusion"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[DocumentsResponse](t, rec)
		require.Equal(t, 3, resp.Count)
		assert.Equal(t, "k1", resp.Documents[0].ID)
		assert.NotContains(t, rec.Body.String(), `"vector"`)
	})

	t.Run("unknown tag returns empty list", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/retrieve", retrieval.Query{SkillTags: []string{"subjunctive"}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, decode[DocumentsResponse](t, rec).Count)
		assert.Contains(t, rec.Body.String(), `"documents":[]`)
	})

	t.Run("invalid query is a bad request", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/retrieve", retrieval.Query{SkillTags: []string{"ser_estar"}, Limit: -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "limit")
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/retrieve", "invalid json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_Context(t *testing.T) {
	s := setupTestServer(t, nil)

	t.Run("feedback", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/context/feedback", services.FeedbackRequest{
			SkillTags: []string{"ser_estar"},
			ErrorType: "ser_estar_confusion",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[services.RenderedContext](t, rec)
		assert.Contains(t, resp.Text, "Detected error: ser_estar_confusion")
		require.NotEmpty(t, resp.KnowledgeIDs)
		assert.Equal(t, "k1", resp.KnowledgeIDs[0])
	})

	t.Run("exercise", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/context/exercise", services.ExerciseRequest{
			SkillTags: []string{"past_tense"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[services.RenderedContext](t, rec)
		assert.Equal(t, []string{"k4"}, resp.KnowledgeIDs)
		assert.Contains(t, resp.Text, "Target skills: past_tense")
	})

	t.Run("exercise with bad difficulty", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/context/exercise", services.ExerciseRequest{
			SkillTags:  []string{"past_tense"},
			Difficulty: "expert",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_RecordOutcome(t *testing.T) {
	t.Run("queues outcome", func(t *testing.T) {
		sink := &fakeSink{}
		s := setupTestServer(t, newTestService(t, sink))

		rec := doJSON(t, s, http.MethodPost, "/api/v1/outcomes", effectiveness.Outcome{
			UserID: "u1", ExerciseID: "e1", KnowledgeIDs: []string{"k1"}, Helped: true,
		})

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, AcceptedResponse{Status: "accepted"}, decode[AcceptedResponse](t, rec))
		require.Len(t, sink.outcomes, 1)
		assert.Equal(t, "u1", sink.outcomes[0].UserID)
	})

	t.Run("missing user is a bad request", func(t *testing.T) {
		sink := &fakeSink{}
		s := setupTestServer(t, newTestService(t, sink))

		rec := doJSON(t, s, http.MethodPost, "/api/v1/outcomes", effectiveness.Outcome{KnowledgeIDs: []string{"k1"}})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, sink.outcomes)
	})

	t.Run("full queue is unavailable", func(t *testing.T) {
		s := setupTestServer(t, newTestService(t, &fakeSink{err: effectiveness.ErrQueueFull}))

		rec := doJSON(t, s, http.MethodPost, "/api/v1/outcomes", effectiveness.Outcome{
			UserID: "u1", KnowledgeIDs: []string{"k1"},
		})

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("synchronous outcome updates counters", func(t *testing.T) {
		s := setupTestServer(t, nil)

		rec := doJSON(t, s, http.MethodPost, "/api/v1/outcomes", effectiveness.Outcome{
			UserID: "u1", KnowledgeIDs: []string{"k4"}, Helped: true,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		rec = doJSON(t, s, http.MethodGet, "/api/v1/knowledge/k4/effectiveness", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decode[effectiveness.Stats](t, rec)
		assert.Equal(t, 1, stats.TimesUsed)
		assert.Equal(t, 1, stats.HelpedCorrect)
	})
}

func TestServer_Effectiveness(t *testing.T) {
	s := setupTestServer(t, nil)

	t.Run("known document", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/knowledge/k2/effectiveness", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decode[effectiveness.Stats](t, rec)
		assert.Equal(t, "k2", stats.ID)
		assert.InDelta(t, 0.9, stats.HelpRate, 1e-9)
	})

	t.Run("unknown document", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/knowledge/missing/effectiveness", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("reset", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/knowledge/k3/effectiveness/reset", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, s, http.MethodGet, "/api/v1/knowledge/k3/effectiveness", nil)
		stats := decode[effectiveness.Stats](t, rec)
		assert.Zero(t, stats.TimesUsed)
		assert.NotNil(t, stats.ResetAt)
	})

	t.Run("reset unknown document", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/knowledge/missing/effectiveness/reset", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_Ranked(t *testing.T) {
	s := setupTestServer(t, nil)

	tests := []struct {
		name   string
		target string
		status int
		want   []string
	}{
		{name: "most by default", target: "/api/v1/knowledge/effective", status: http.StatusOK, want: []string{"k2", "k3"}},
		{name: "least", target: "/api/v1/knowledge/effective?order=least", status: http.StatusOK, want: []string{"k3", "k2"}},
		{name: "limit", target: "/api/v1/knowledge/effective?order=most&limit=1", status: http.StatusOK, want: []string{"k2"}},
		{name: "skill tag", target: "/api/v1/knowledge/effective?skill_tag=past_tense", status: http.StatusOK, want: []string{}},
		{name: "bad order", target: "/api/v1/knowledge/effective?order=best", status: http.StatusBadRequest},
		{name: "bad limit", target: "/api/v1/knowledge/effective?limit=ten", status: http.StatusBadRequest},
		{name: "negative limit", target: "/api/v1/knowledge/effective?limit=-1", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodGet, tt.target, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			resp := decode[RankedResponse](t, rec)
			got := make([]string, 0, len(resp.Documents))
			for _, d := range resp.Documents {
				got = append(got, d.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServer_Reports(t *testing.T) {
	s := setupTestServer(t, nil)

	t.Run("default window", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/reports/performance", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		report := decode[evaluation.PerformanceReport](t, rec)
		assert.Equal(t, 7, report.Days)
		assert.Equal(t, 4, report.Coverage.Total)
	})

	t.Run("explicit window", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/reports/performance?days=30", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 30, decode[evaluation.PerformanceReport](t, rec).Days)
	})

	t.Run("invalid window", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/reports/performance?days=0", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("coverage", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/embeddings/coverage", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, indexer.Coverage{Total: 4, WithEmbeddings: 1, WithoutEmbeddings: 3, CoveragePct: 25}, decode[indexer.Coverage](t, rec))
	})
}

// failingAPI returns err from every call it implements.
type failingAPI struct {
	LearnAPI
	err error
}

func (f failingAPI) Effectiveness(context.Context, string) (*effectiveness.Stats, error) {
	return nil, f.err
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "validation", err: knowledge.NewValidationError("id", "required"), status: http.StatusBadRequest},
		{name: "not found", err: knowledge.ErrNotFound, status: http.StatusNotFound},
		{name: "storage", err: knowledge.WrapStorage("get", errors.New("disk I/O error")), status: http.StatusServiceUnavailable},
		{name: "recorder stopped", err: effectiveness.ErrNotRunning, status: http.StatusServiceUnavailable},
		{name: "timeout", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, failingAPI{err: tt.err})
			rec := doJSON(t, s, http.MethodGet, "/api/v1/knowledge/k1/effectiveness", nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestServer_RequestLogging(t *testing.T) {
	logger := logging.NewTestLogger()
	s, err := NewServer(newTestService(t, nil), logger.Logger, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/missing/effectiveness", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
	logger.AssertLogged(t, zapcore.InfoLevel, "http request")
	logger.AssertField(t, "http request", "request.id", "req-123")
	logger.AssertField(t, "http request", "status", int64(http.StatusNotFound))
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := setupTestServer(t, nil)
	s.config.Host = "127.0.0.1"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, s.Shutdown(context.Background()))
}
