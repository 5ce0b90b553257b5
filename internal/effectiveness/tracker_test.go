package effectiveness

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

func newTestTracker(t *testing.T, docs ...knowledge.Document) (*Tracker, *knowledge.MemoryStore) {
	t.Helper()
	store := knowledge.NewMemoryStore()
	for _, d := range docs {
		require.NoError(t, store.Put(context.Background(), d))
	}
	tr, err := NewTracker(store, store, zap.NewNop())
	require.NoError(t, err)
	return tr, store
}

func doc(id string, tags ...string) knowledge.Document {
	return knowledge.Document{ID: id, Content: "rule " + id, SkillTags: tags}
}

func TestTracker_UpdateFiveHelped(t *testing.T) {
	tr, _ := newTestTracker(t, doc("k1", "s"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Update(ctx, []string{"k1"}, true))
	}

	st, err := tr.Effectiveness(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 5, st.TimesUsed)
	assert.Equal(t, 5, st.HelpedCorrect)
	assert.InDelta(t, 1.0, st.HelpRate, 1e-9)
	assert.NotNil(t, st.LastUsed)
}

func TestTracker_UpdateDoubleCounts(t *testing.T) {
	tr, _ := newTestTracker(t, doc("k1", "s"), doc("k2", "s"))
	ctx := context.Background()

	require.NoError(t, tr.Update(ctx, []string{"k1", "k2"}, false))
	require.NoError(t, tr.Update(ctx, []string{"k1", "k2"}, false))

	st, err := tr.Effectiveness(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, 2, st.TimesUsed)
	assert.Zero(t, st.HelpedCorrect)
	assert.Zero(t, st.HelpRate)
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tr, _ := newTestTracker(t, doc("k1", "s"))
	ctx := context.Background()

	const helped, unhelped = 60, 40
	var wg sync.WaitGroup
	for i := 0; i < helped+unhelped; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, tr.Update(ctx, []string{"k1"}, i < helped))
		}(i)
	}
	wg.Wait()

	st, err := tr.Effectiveness(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, helped+unhelped, st.TimesUsed)
	assert.Equal(t, helped, st.HelpedCorrect)
}

func TestTracker_UpdateContinuesPastUnknownIDs(t *testing.T) {
	tr, _ := newTestTracker(t, doc("k1", "s"))
	ctx := context.Background()

	err := tr.Update(ctx, []string{"missing", "k1"}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrNotFound)

	st, err := tr.Effectiveness(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TimesUsed)
}

func TestTracker_TrackUsage(t *testing.T) {
	tr, store := newTestTracker(t, doc("k1", "s"))
	ctx := context.Background()
	start := time.Now().Add(-time.Second)

	require.NoError(t, tr.TrackUsage(ctx, "u1", "ex1", []string{"k1"}, true))
	assert.True(t, knowledge.IsValidation(tr.TrackUsage(ctx, "", "ex1", []string{"k1"}, true)))

	recs, err := store.UsageBetween(ctx, start, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.Equal(t, "u1", recs[0].UserID)
	assert.Equal(t, []string{"k1"}, recs[0].KnowledgeIDs)
	assert.True(t, recs[0].WasHelpful)
}

func TestTracker_MostAndLeastEffective(t *testing.T) {
	tr, _ := newTestTracker(t,
		doc("low", "s"), doc("high", "s"), doc("mid", "s"), doc("few", "s"), doc("other", "t"),
	)
	ctx := context.Background()

	use := func(id string, helped, total int) {
		for i := 0; i < total; i++ {
			require.NoError(t, tr.Update(ctx, []string{id}, i < helped))
		}
	}
	use("low", 1, 5)
	use("high", 5, 5)
	use("mid", 3, 6)
	use("few", 4, 4)
	use("other", 6, 6)

	most, err := tr.MostEffective(ctx, "s", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "mid", "low"}, docIDs(most))

	least, err := tr.LeastEffective(ctx, "s", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "mid"}, docIDs(least))

	all, err := tr.MostEffective(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "other", "mid", "low"}, docIDs(all))

	_, err = tr.MostEffective(ctx, "", -1)
	assert.True(t, knowledge.IsValidation(err))
}

func TestTracker_BelowThresholdIsExcluded(t *testing.T) {
	tr, _ := newTestTracker(t, doc("k1", "s"))
	ctx := context.Background()
	for i := 0; i < knowledge.MinSignificantUses-1; i++ {
		require.NoError(t, tr.Update(ctx, []string{"k1"}, true))
	}

	most, err := tr.MostEffective(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, most)

	require.NoError(t, tr.Update(ctx, []string{"k1"}, true))
	most, err = tr.MostEffective(ctx, "", 5)
	require.NoError(t, err)
	assert.Len(t, most, 1)
}

func TestTracker_Reset(t *testing.T) {
	tr, _ := newTestTracker(t, doc("k1", "s"))
	ctx := context.Background()
	require.NoError(t, tr.Update(ctx, []string{"k1"}, true))

	require.NoError(t, tr.Reset(ctx, "k1"))
	st, err := tr.Effectiveness(ctx, "k1")
	require.NoError(t, err)
	assert.Zero(t, st.TimesUsed)
	assert.NotNil(t, st.ResetAt)

	assert.ErrorIs(t, tr.Reset(ctx, "missing"), knowledge.ErrNotFound)
	_, err = tr.Effectiveness(ctx, "missing")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func docIDs(docs []knowledge.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func ExampleTracker_Update() {
	store := knowledge.NewMemoryStore()
	_ = store.Put(context.Background(), knowledge.Document{ID: "k1", Content: "estar for location", SkillTags: []string{"ser_estar"}})
	tr, _ := NewTracker(store, store, nil)

	_ = tr.Update(context.Background(), []string{"k1"}, true)
	_ = tr.Update(context.Background(), []string{"k1"}, false)

	st, _ := tr.Effectiveness(context.Background(), "k1")
	fmt.Printf("%d/%d %.2f\n", st.HelpedCorrect, st.TimesUsed, st.HelpRate)
	// Output: 1/2 0.50
}

func TestTracker_TrackAttempt(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	err := tr.TrackAttempt(ctx, Attempt{UserID: "u1", SkillTags: []string{"ser_estar"}, ErrorTypes: []string{"gender"}})
	require.NoError(t, err)

	got, err := store.AttemptsBetween(ctx, knowledge.AttemptFilter{ErrorType: "gender", From: now, To: now.Add(time.Second)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].UserID)
	assert.True(t, got[0].Timestamp.Equal(now))
	assert.NotEmpty(t, got[0].ID)

	assert.True(t, knowledge.IsValidation(tr.TrackAttempt(ctx, Attempt{SkillTags: []string{"s"}})))
}

func TestTracker_EnableFeatureKeepsFirstAnchor(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return first }

	at, set, err := tr.EnableFeature(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, set)
	assert.True(t, at.Equal(first))

	tr.now = func() time.Time { return first.Add(24 * time.Hour) }
	at, set, err = tr.EnableFeature(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, set)
	assert.True(t, at.Equal(first))

	stored, err := store.FeatureEnabledAt(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stored.Equal(first))

	_, _, err = tr.EnableFeature(ctx, "")
	assert.True(t, knowledge.IsValidation(err))
}

func TestTracker_SetFeatureEnabledAtOverwrites(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()
	_, _, err := tr.EnableFeature(ctx, "u1")
	require.NoError(t, err)

	backfill := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tr.SetFeatureEnabledAt(ctx, "u1", backfill))

	stored, err := store.FeatureEnabledAt(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, stored.Equal(backfill))
	assert.True(t, knowledge.IsValidation(tr.SetFeatureEnabledAt(ctx, "", backfill)))
}
