package retrieval

import (
	"context"
	"errors"
	"fmt"
	"go/build"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls atomic.Int32
	text  atomic.Value
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.text.Store(text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

// providerErr mirrors the method set of embeddings.ProviderError.
type providerErr struct{ provider string }

func (e *providerErr) Error() string             { return e.provider + ": embedding generation failed" }
func (e *providerErr) EmbeddingProvider() string { return e.provider }

func failingEmbedder() *fakeEmbedder {
	return &fakeEmbedder{err: fmt.Errorf("embed query: %w", &providerErr{provider: "tei"})}
}

type failingSource struct{ err error }

func (f failingSource) GetByFilter(context.Context, []string, knowledge.Difficulty) ([]knowledge.Document, error) {
	return nil, f.err
}

func newStore(t *testing.T, docs ...knowledge.Document) *knowledge.MemoryStore {
	t.Helper()
	s := knowledge.NewMemoryStore()
	for _, d := range docs {
		require.NoError(t, s.Put(context.Background(), d))
	}
	return s
}

func newRetriever(t *testing.T, src DocumentSource, emb Embedder) *Retriever {
	t.Helper()
	r, err := New(src, emb, Config{}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func ids(docs []knowledge.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestRetrieve_FallbackOrdersByPriorityThenInput(t *testing.T) {
	store := newStore(t,
		knowledge.Document{ID: "a", Content: "hola", SkillTags: []string{"greetings"}, Priority: 1},
		knowledge.Document{ID: "b", Content: "buenos días", SkillTags: []string{"greetings"}, Priority: 2},
		knowledge.Document{ID: "c", Content: "adiós", SkillTags: []string{"greetings"}, Priority: 1},
	)
	r := newRetriever(t, store, failingEmbedder())

	scored, err := r.RetrieveScored(context.Background(), Query{
		SkillTags:  []string{"greetings"},
		WeakSkills: []string{"greetings"},
		ErrorTypes: []string{},
		Limit:      2,
	})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "b", scored[0].Document.ID)
	assert.InDelta(t, 6.0, scored[0].TotalScore, 1e-9)
	assert.Equal(t, "a", scored[1].Document.ID)
	assert.InDelta(t, 5.0, scored[1].TotalScore, 1e-9)
}

func TestRetrieve_FallbackScoring(t *testing.T) {
	store := newStore(t,
		knowledge.Document{ID: "two-tags", Content: "x", SkillTags: []string{"ser_estar", "location"}},
		knowledge.Document{ID: "error", Content: "x", SkillTags: []string{"ser_estar"}, ErrorTypes: []string{"confusion"}},
		knowledge.Document{ID: "weak", Content: "x", SkillTags: []string{"ser_estar"}, Priority: 1},
	)
	r := newRetriever(t, store, failingEmbedder())

	scored, err := r.RetrieveScored(context.Background(), Query{
		SkillTags:  []string{"ser_estar", "location"},
		ErrorTypes: []string{"confusion"},
		WeakSkills: []string{"ser_estar"},
	})
	require.NoError(t, err)
	require.Len(t, scored, 3)

	byID := map[string]float64{}
	for _, c := range scored {
		byID[c.Document.ID] = c.TotalScore
		assert.Zero(t, c.SemanticScore)
	}
	assert.InDelta(t, 2*2.0+2.0, byID["two-tags"], 1e-9)
	assert.InDelta(t, 2.0+3.0+2.0, byID["error"], 1e-9)
	assert.InDelta(t, 2.0+2.0+1, byID["weak"], 1e-9)
	assert.Equal(t, "error", scored[0].Document.ID)
}

func TestRetrieve_FilterProperty(t *testing.T) {
	var docs []knowledge.Document
	tags := []string{"ser_estar", "past_tense", "gender", "plural"}
	levels := []knowledge.Difficulty{knowledge.DifficultyBeginner, knowledge.DifficultyIntermediate, knowledge.DifficultyAdvanced}
	for i := 0; i < 30; i++ {
		docs = append(docs, knowledge.Document{
			ID:         fmt.Sprintf("k%02d", i),
			Content:    "rule",
			SkillTags:  []string{tags[i%len(tags)], tags[(i/3)%len(tags)]},
			Difficulty: levels[i%len(levels)],
			Priority:   i % 4,
		})
	}
	store := newStore(t, docs...)

	for _, emb := range []Embedder{failingEmbedder(), &fakeEmbedder{vec: []float32{1, 0}}} {
		r := newRetriever(t, store, emb)
		q := Query{SkillTags: []string{"gender"}, Difficulty: knowledge.DifficultyIntermediate, Limit: 50}

		got, err := r.Retrieve(context.Background(), q)
		require.NoError(t, err)
		require.NotEmpty(t, got)
		for _, d := range got {
			assert.True(t, knowledge.Intersects(d.SkillTags, q.SkillTags), d.ID)
			assert.Equal(t, knowledge.DifficultyIntermediate, d.Difficulty, d.ID)
		}
	}
}

func TestRetrieve_EmptyFilterReturnsEmptyWithoutEmbedding(t *testing.T) {
	store := newStore(t, knowledge.Document{ID: "a", Content: "a", SkillTags: []string{"ser_estar"}})
	emb := &fakeEmbedder{vec: []float32{1}}
	r := newRetriever(t, store, emb)

	for _, q := range []Query{
		{SkillTags: []string{"subjunctive"}},
		{SkillTags: nil},
		{SkillTags: []string{"ser_estar"}, Difficulty: knowledge.DifficultyAdvanced},
	} {
		got, err := r.Retrieve(context.Background(), q)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
	assert.Zero(t, emb.calls.Load())
}

func TestRetrieve_SemanticRanking(t *testing.T) {
	now := time.Now()
	store := newStore(t,
		knowledge.Document{ID: "far", Content: "x", SkillTags: []string{"s"},
			Embedding: &knowledge.Embedding{Vector: []float32{0, 1}, Model: "m", GeneratedAt: now}},
		knowledge.Document{ID: "near", Content: "x", SkillTags: []string{"s"},
			Embedding: &knowledge.Embedding{Vector: []float32{1, 0.1}, Model: "m", GeneratedAt: now}},
		knowledge.Document{ID: "none", Content: "x", SkillTags: []string{"s"}},
	)
	r := newRetriever(t, store, &fakeEmbedder{vec: []float32{1, 0}})

	scored, err := r.RetrieveScored(context.Background(), Query{SkillTags: []string{"s"}})
	require.NoError(t, err)
	require.Len(t, scored, 3)
	assert.Equal(t, "near", scored[0].Document.ID)
	assert.Greater(t, scored[0].SemanticScore, 4.9)
	assert.LessOrEqual(t, scored[0].SemanticScore, 5.0)

	// "far" is orthogonal and "none" has no vector: both score zero and keep input order.
	assert.Equal(t, []string{"far", "none"}, []string{scored[1].Document.ID, scored[2].Document.ID})
	assert.Zero(t, scored[2].SemanticScore)
}

func TestRetrieve_Boosts(t *testing.T) {
	store := newStore(t,
		knowledge.Document{ID: "plain", Content: "x", SkillTags: []string{"s"}},
		knowledge.Document{ID: "boosted", Content: "x", SkillTags: []string{"s", "weak"},
			ErrorTypes: []string{"e1", "e2"}, ExerciseTypes: []string{"fill_blank"}, Priority: 3},
	)
	r := newRetriever(t, store, &fakeEmbedder{vec: []float32{1}})

	scored, err := r.RetrieveScored(context.Background(), Query{
		SkillTags:    []string{"s"},
		ErrorTypes:   []string{"e1", "e2"},
		ExerciseType: "fill_blank",
		WeakSkills:   []string{"weak"},
	})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "boosted", scored[0].Document.ID)
	// Error types count once no matter how many match.
	assert.InDelta(t, 3.0+2.0+2.0+3, scored[0].BoostScore, 1e-9)
	assert.InDelta(t, 0, scored[1].BoostScore, 1e-9)
}

func TestRetrieve_EffectivenessGate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t,
		knowledge.Document{ID: "four", Content: "x", SkillTags: []string{"s"}},
		knowledge.Document{ID: "five", Content: "x", SkillTags: []string{"s"}},
	)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.IncrementEffectiveness(ctx, "four", true, time.Now()))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, store.IncrementEffectiveness(ctx, "five", i < 4, time.Now()))
	}
	r := newRetriever(t, store, failingEmbedder())
	hybrid := newRetriever(t, store, &fakeEmbedder{vec: []float32{1}})

	scored, err := hybrid.RetrieveScored(ctx, Query{SkillTags: []string{"s"}})
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "five", scored[0].Document.ID)
	assert.InDelta(t, 0.8*1.5, scored[0].BoostScore, 1e-9)
	assert.InDelta(t, 0, scored[1].BoostScore, 1e-9)

	// The fallback path has no effectiveness term.
	fallback, err := r.RetrieveScored(ctx, Query{SkillTags: []string{"s"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"four", "five"}, []string{fallback[0].Document.ID, fallback[1].Document.ID})
}

func TestRetrieve_LimitDefaultsAndCaps(t *testing.T) {
	var docs []knowledge.Document
	for i := 0; i < 8; i++ {
		docs = append(docs, knowledge.Document{ID: fmt.Sprintf("k%d", i), Content: "x", SkillTags: []string{"s"}})
	}
	r := newRetriever(t, newStore(t, docs...), failingEmbedder())

	got, err := r.Retrieve(context.Background(), Query{SkillTags: []string{"s"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1", "k2", "k3", "k4"}, ids(got))

	got, err = r.Retrieve(context.Background(), Query{SkillTags: []string{"s"}, Limit: 20})
	require.NoError(t, err)
	assert.Len(t, got, 8)
}

func TestRetrieve_Validation(t *testing.T) {
	r := newRetriever(t, newStore(t), failingEmbedder())

	tests := []struct {
		name  string
		query Query
		field string
	}{
		{"negative limit", Query{SkillTags: []string{"s"}, Limit: -1}, "limit"},
		{"unknown difficulty", Query{SkillTags: []string{"s"}, Difficulty: "expert"}, "difficulty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Retrieve(context.Background(), tt.query)
			require.Error(t, err)
			var ve *knowledge.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRetrieve_StoreErrorPropagates(t *testing.T) {
	storeErr := &knowledge.StorageError{Op: "get_by_filter", Err: errors.New("disk gone")}
	r := newRetriever(t, failingSource{err: storeErr}, failingEmbedder())

	_, err := r.Retrieve(context.Background(), Query{SkillTags: []string{"s"}})
	require.Error(t, err)
	assert.True(t, knowledge.IsStorage(err))
}

func TestRetrieve_DegradationIsLoggedNotRaised(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := newStore(t, knowledge.Document{ID: "a", Content: "a", SkillTags: []string{"s"}})
	r, err := New(store, failingEmbedder(), Config{}, zap.New(core))
	require.NoError(t, err)

	got, err := r.Retrieve(context.Background(), Query{SkillTags: []string{"s"}})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	entries := logs.FilterMessage("query embedding failed, using fallback ranking").All()
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].ContextMap()["provider_error"])
	assert.Equal(t, "tei", entries[0].ContextMap()["provider"])
}

func TestFailedProvider(t *testing.T) {
	name, ok := failedProvider(fmt.Errorf("wrapped: %w", &providerErr{provider: "fastembed"}))
	assert.True(t, ok)
	assert.Equal(t, "fastembed", name)

	_, ok = failedProvider(errors.New("no embedding provider configured"))
	assert.False(t, ok)
}

func TestPackageImportsNoEmbeddingBackend(t *testing.T) {
	pkg, err := build.ImportDir(".", 0)
	require.NoError(t, err)
	for _, imp := range pkg.Imports {
		assert.NotContains(t, imp, "internal/embeddings")
		assert.NotContains(t, imp, "fastembed")
	}
}

func TestRetrieve_NilEmbedderUsesFallback(t *testing.T) {
	store := newStore(t,
		knowledge.Document{ID: "a", Content: "a", SkillTags: []string{"s"}},
		knowledge.Document{ID: "b", Content: "b", SkillTags: []string{"s"}, Priority: 1},
	)
	r := newRetriever(t, store, nil)

	got, err := r.Retrieve(context.Background(), Query{SkillTags: []string{"s"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(got))
}

func TestRetrieve_DimensionMismatchScoresZero(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := newStore(t,
		knowledge.Document{ID: "old-model", Content: "x", SkillTags: []string{"s"},
			Embedding: &knowledge.Embedding{Vector: []float32{1, 0, 0}, Model: "old"}},
	)
	r, err := New(store, &fakeEmbedder{vec: []float32{1, 0}}, Config{}, zap.New(core))
	require.NoError(t, err)

	scored, err := r.RetrieveScored(context.Background(), Query{SkillTags: []string{"s"}})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Zero(t, scored[0].SemanticScore)
	assert.Equal(t, 1, logs.FilterMessage("stored embedding dimension does not match query").Len())
}

func TestRetrieve_CancelledContext(t *testing.T) {
	store := newStore(t, knowledge.Document{ID: "a", Content: "a", SkillTags: []string{"s"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newRetriever(t, store, &fakeEmbedder{err: context.Canceled})

	_, err := r.Retrieve(ctx, Query{SkillTags: []string{"s"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuery_EmbeddingText(t *testing.T) {
	assert.Equal(t, "estar location", Query{Text: "  estar location "}.embeddingText())
	assert.Equal(t, "ser_estar past_tense confusion fill_blank", Query{
		SkillTags:    []string{"ser_estar", "past_tense"},
		ErrorTypes:   []string{"confusion"},
		ExerciseType: "fill_blank",
	}.embeddingText())

	emb := &fakeEmbedder{vec: []float32{1}}
	r := newRetriever(t, newStore(t, knowledge.Document{ID: "a", Content: "a", SkillTags: []string{"s"}}), emb)
	_, err := r.Retrieve(context.Background(), Query{SkillTags: []string{"s"}, ExerciseType: "translate"})
	require.NoError(t, err)
	assert.Equal(t, "s translate", emb.text.Load())
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(nil, nil, Config{}, nil)
	assert.Error(t, err)
}
