package effectiveness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

type fakeApplier struct {
	mu         sync.Mutex
	updates    int
	tracked    int
	attempts   []Attempt
	updateErr  error
	trackErr   error
	attemptErr error

	// block, when set, holds every Update until closed; started receives
	// one value per Update that begins.
	block   chan struct{}
	started chan struct{}
}

func (f *fakeApplier) Update(_ context.Context, _ []string, _ bool) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return f.updateErr
}

func (f *fakeApplier) TrackUsage(_ context.Context, _, _ string, _ []string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked++
	return f.trackErr
}

func (f *fakeApplier) TrackAttempt(_ context.Context, a Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, a)
	return f.attemptErr
}

func (f *fakeApplier) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates, f.tracked
}

func outcome() Outcome {
	return Outcome{UserID: "u1", ExerciseID: "ex1", KnowledgeIDs: []string{"k1"}, Helped: true}
}

func TestRecorder_AppliesAndDrainsOnStop(t *testing.T) {
	store := knowledge.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, knowledge.Document{ID: "k1", Content: "c", SkillTags: []string{"s"}}))
	tr, err := NewTracker(store, store, zap.NewNop())
	require.NoError(t, err)

	rec, err := NewRecorder(tr, RecorderConfig{Workers: 3, QueueSize: 100}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	const helped, unhelped = 30, 20
	for i := 0; i < helped+unhelped; i++ {
		o := outcome()
		o.Helped = i < helped
		require.NoError(t, rec.RecordOutcome(o))
	}
	require.NoError(t, rec.Stop(ctx))

	st, err := tr.Effectiveness(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, helped+unhelped, st.TimesUsed)
	assert.Equal(t, helped, st.HelpedCorrect)

	usage, err := store.UsageBetween(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, usage, helped+unhelped)
}

func TestRecorder_QueueFullDropsOutcome(t *testing.T) {
	app := &fakeApplier{block: make(chan struct{}), started: make(chan struct{}, 4)}
	rec, err := NewRecorder(app, RecorderConfig{Workers: 1, QueueSize: 1}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	dropped := testutil.ToFloat64(OutcomesTotal.WithLabelValues("dropped"))

	require.NoError(t, rec.RecordOutcome(outcome()))
	<-app.started // the single worker is now busy

	require.NoError(t, rec.RecordOutcome(outcome()))
	assert.ErrorIs(t, rec.RecordOutcome(outcome()), ErrQueueFull)
	assert.InDelta(t, dropped+1, testutil.ToFloat64(OutcomesTotal.WithLabelValues("dropped")), 1e-9)

	close(app.block)
	require.NoError(t, rec.Stop(context.Background()))

	updates, tracked := app.counts()
	assert.Equal(t, 2, updates)
	assert.Equal(t, 2, tracked)
}

func TestRecorder_StepsFailIndependently(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	app := &fakeApplier{updateErr: errors.New("store down")}
	rec, err := NewRecorder(app, RecorderConfig{Workers: 1}, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	failures := testutil.ToFloat64(BookkeepingFailures.WithLabelValues("update"))

	require.NoError(t, rec.RecordOutcome(outcome()))
	require.NoError(t, rec.Stop(context.Background()))

	updates, tracked := app.counts()
	assert.Equal(t, 1, updates)
	assert.Equal(t, 1, tracked, "usage is still tracked when the counter update fails")
	assert.Equal(t, 1, logs.FilterMessage("effectiveness update failed").Len())
	assert.InDelta(t, failures+1, testutil.ToFloat64(BookkeepingFailures.WithLabelValues("update")), 1e-9)
}

func TestRecorder_Lifecycle(t *testing.T) {
	rec, err := NewRecorder(&fakeApplier{}, RecorderConfig{}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, rec.RecordOutcome(outcome()), ErrNotRunning)
	require.NoError(t, rec.Stop(context.Background()))

	require.NoError(t, rec.Start())
	assert.Error(t, rec.Start())
	require.NoError(t, rec.Stop(context.Background()))
	assert.ErrorIs(t, rec.RecordOutcome(outcome()), ErrNotRunning)

	require.NoError(t, rec.Start())
	require.NoError(t, rec.RecordOutcome(outcome()))
	require.NoError(t, rec.Stop(context.Background()))
}

func TestRecorder_Validation(t *testing.T) {
	rec, err := NewRecorder(&fakeApplier{}, RecorderConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Start())
	t.Cleanup(func() { _ = rec.Stop(context.Background()) })

	assert.True(t, knowledge.IsValidation(rec.RecordOutcome(Outcome{KnowledgeIDs: []string{"k1"}})))
	assert.True(t, knowledge.IsValidation(rec.RecordOutcome(Outcome{UserID: "u1"})))

	_, err = NewRecorder(nil, RecorderConfig{}, nil)
	assert.Error(t, err)
}

func TestRecorder_StopHonoursContext(t *testing.T) {
	app := &fakeApplier{block: make(chan struct{}), started: make(chan struct{}, 1)}
	rec, err := NewRecorder(app, RecorderConfig{Workers: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	require.NoError(t, rec.RecordOutcome(outcome()))
	<-app.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rec.Stop(ctx), context.DeadlineExceeded)

	close(app.block)
}

func attempt(correct bool) Attempt {
	return Attempt{UserID: "u1", ExerciseID: "ex1", SkillTags: []string{"ser_estar"}, Correct: correct}
}

func TestRecorder_AttemptsReachTheLog(t *testing.T) {
	store := knowledge.NewMemoryStore()
	tr, err := NewTracker(store, store, zap.NewNop())
	require.NoError(t, err)
	rec, err := NewRecorder(tr, RecorderConfig{Workers: 2}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	past := time.Now().Add(-48 * time.Hour)
	old := attempt(false)
	old.Timestamp = past
	require.NoError(t, rec.RecordAttempt(old))
	for i := 0; i < 3; i++ {
		require.NoError(t, rec.RecordAttempt(attempt(true)))
	}
	require.NoError(t, rec.Stop(context.Background()))

	got, err := store.AttemptsBetween(context.Background(), knowledge.AttemptFilter{
		UserID: "u1",
		From:   past.Add(-time.Minute),
		To:     time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.True(t, got[0].Timestamp.Equal(past), "an explicit timestamp is kept")
	assert.False(t, got[0].Correct)
	for _, a := range got[1:] {
		assert.True(t, a.Correct)
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, []string{"ser_estar"}, a.SkillTags)
	}
}

func TestRecorder_AttemptStampedAtEnqueue(t *testing.T) {
	app := &fakeApplier{}
	rec, err := NewRecorder(app, RecorderConfig{Workers: 1}, nil)
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	before := time.Now()
	require.NoError(t, rec.RecordAttempt(attempt(true)))
	after := time.Now()
	require.NoError(t, rec.Stop(context.Background()))

	require.Len(t, app.attempts, 1)
	ts := app.attempts[0].Timestamp
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))
}

func TestRecorder_AttemptFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	app := &fakeApplier{attemptErr: errors.New("store down")}
	rec, err := NewRecorder(app, RecorderConfig{Workers: 1}, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	failed := testutil.ToFloat64(AttemptsTotal.WithLabelValues("failed"))

	require.NoError(t, rec.RecordAttempt(attempt(false)))
	require.NoError(t, rec.Stop(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("attempt tracking failed").Len())
	assert.InDelta(t, failed+1, testutil.ToFloat64(AttemptsTotal.WithLabelValues("failed")), 1e-9)
}

func TestRecorder_AttemptValidation(t *testing.T) {
	rec, err := NewRecorder(&fakeApplier{}, RecorderConfig{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, rec.RecordAttempt(attempt(true)), ErrNotRunning)

	require.NoError(t, rec.Start())
	t.Cleanup(func() { _ = rec.Stop(context.Background()) })

	assert.True(t, knowledge.IsValidation(rec.RecordAttempt(Attempt{SkillTags: []string{"s"}})))
	assert.True(t, knowledge.IsValidation(rec.RecordAttempt(Attempt{UserID: "u1"})))
}

func TestRecorder_QueueDepthTracksDropsAndDrain(t *testing.T) {
	app := &fakeApplier{block: make(chan struct{}), started: make(chan struct{}, 4)}
	rec, err := NewRecorder(app, RecorderConfig{Workers: 1, QueueSize: 1}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, rec.Start())

	base := testutil.ToFloat64(QueueDepth)

	require.NoError(t, rec.RecordOutcome(outcome()))
	<-app.started
	assert.InDelta(t, base, testutil.ToFloat64(QueueDepth), 1e-9, "the running job has left the queue")

	require.NoError(t, rec.RecordOutcome(outcome()))
	assert.ErrorIs(t, rec.RecordAttempt(attempt(true)), ErrQueueFull)
	assert.InDelta(t, base+1, testutil.ToFloat64(QueueDepth), 1e-9, "a dropped job leaves the gauge unchanged")

	close(app.block)
	require.NoError(t, rec.Stop(context.Background()))
	assert.InDelta(t, base, testutil.ToFloat64(QueueDepth), 1e-9)
}
