package effectiveness

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

var (
	// ErrQueueFull is returned when the outcome queue has no room; the
	// outcome is dropped.
	ErrQueueFull = errors.New("outcome queue full")

	// ErrNotRunning is returned when recording on a recorder that is not started.
	ErrNotRunning = errors.New("outcome recorder not running")
)

// Outcome is a learner result for an exercise grounded on knowledge documents.
type Outcome struct {
	UserID       string   `json:"user_id"`
	ExerciseID   string   `json:"exercise_id"`
	KnowledgeIDs []string `json:"knowledge_ids"`
	Helped       bool     `json:"helped"`
}

// Validate checks caller input.
func (o Outcome) Validate() error {
	if o.UserID == "" {
		return knowledge.NewValidationError("user_id", "required")
	}
	if len(o.KnowledgeIDs) == 0 {
		return knowledge.NewValidationError("knowledge_ids", "at least one knowledge ID is required")
	}
	return nil
}

// Applier writes outcomes and attempts. Tracker implements it.
type Applier interface {
	Update(ctx context.Context, ids []string, helped bool) error
	TrackUsage(ctx context.Context, userID, exerciseID string, ids []string, wasHelpful bool) error
	TrackAttempt(ctx context.Context, a Attempt) error
}

// job is one queued unit of bookkeeping: exactly one field is set.
type job struct {
	outcome *Outcome
	attempt *Attempt
}

// RecorderConfig sizes the worker pool.
type RecorderConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

func (c *RecorderConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Second
	}
}

// Recorder applies outcomes and attempts asynchronously on a bounded queue
// served by a fixed number of workers. The counter update and the usage log
// write of an outcome run independently: a failure of one does not skip the
// other.
type Recorder struct {
	applier Applier
	cfg     RecorderConfig
	logger  *zap.Logger

	mu      sync.RWMutex
	running bool
	queue   chan job
	wg      sync.WaitGroup
}

// NewRecorder creates a Recorder. Call Start before recording.
func NewRecorder(applier Applier, cfg RecorderConfig, logger *zap.Logger) (*Recorder, error) {
	if applier == nil {
		return nil, errors.New("applier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Recorder{applier: applier, cfg: cfg, logger: logger}, nil
}

// Start launches the workers.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("outcome recorder is already running")
	}
	r.queue = make(chan job, r.cfg.QueueSize)
	r.running = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go func(queue <-chan job) {
			defer r.wg.Done()
			for j := range queue {
				QueueDepth.Dec()
				r.run(j)
			}
		}(r.queue)
	}

	r.logger.Info("outcome recorder started",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("queue_size", r.cfg.QueueSize))
	return nil
}

// Stop stops accepting outcomes and waits for queued ones to be applied,
// or for ctx to end.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("outcome recorder stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("outcome recorder stop timed out with outcomes pending")
		return ctx.Err()
	}
}

// RecordOutcome queues an outcome without blocking.
func (r *Recorder) RecordOutcome(o Outcome) error {
	if err := o.Validate(); err != nil {
		return err
	}
	o.KnowledgeIDs = append([]string(nil), o.KnowledgeIDs...)

	err := r.enqueue(job{outcome: &o}, OutcomesTotal)
	if errors.Is(err, ErrQueueFull) {
		r.logger.Warn("outcome queue full, dropping outcome",
			zap.String("user_id", o.UserID),
			zap.String("exercise_id", o.ExerciseID))
	}
	return err
}

// RecordAttempt queues a learner attempt without blocking. A zero
// timestamp is stamped at enqueue time, not when a worker applies it.
func (r *Recorder) RecordAttempt(a Attempt) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a = a.prepared(time.Now())

	err := r.enqueue(job{attempt: &a}, AttemptsTotal)
	if errors.Is(err, ErrQueueFull) {
		r.logger.Warn("outcome queue full, dropping attempt",
			zap.String("user_id", a.UserID),
			zap.String("exercise_id", a.ExerciseID))
	}
	return err
}

func (r *Recorder) enqueue(j job, results *prometheus.CounterVec) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running {
		return ErrNotRunning
	}
	// The gauge rises before the send so a worker's Dec never runs first.
	QueueDepth.Inc()
	select {
	case r.queue <- j:
		results.WithLabelValues("queued").Inc()
		return nil
	default:
		QueueDepth.Dec()
		results.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

func (r *Recorder) run(j job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JobTimeout)
	defer cancel()

	switch {
	case j.outcome != nil:
		r.apply(ctx, *j.outcome)
	case j.attempt != nil:
		r.applyAttempt(ctx, *j.attempt)
	}
	ApplyDuration.Observe(time.Since(start).Seconds())
}

func (r *Recorder) applyAttempt(ctx context.Context, a Attempt) {
	if err := r.applier.TrackAttempt(ctx, a); err != nil {
		BookkeepingFailures.WithLabelValues("track_attempt").Inc()
		AttemptsTotal.WithLabelValues("failed").Inc()
		r.logger.Error("attempt tracking failed",
			zap.String("user_id", a.UserID),
			zap.String("exercise_id", a.ExerciseID),
			zap.Error(err))
		return
	}
	AttemptsTotal.WithLabelValues("applied").Inc()
}

func (r *Recorder) apply(ctx context.Context, o Outcome) {
	failed := false
	if err := r.applier.Update(ctx, o.KnowledgeIDs, o.Helped); err != nil {
		failed = true
		BookkeepingFailures.WithLabelValues("update").Inc()
		r.logger.Error("effectiveness update failed",
			zap.Strings("knowledge_ids", o.KnowledgeIDs),
			zap.Error(err))
	}
	if err := r.applier.TrackUsage(ctx, o.UserID, o.ExerciseID, o.KnowledgeIDs, o.Helped); err != nil {
		failed = true
		BookkeepingFailures.WithLabelValues("track_usage").Inc()
		r.logger.Error("usage tracking failed",
			zap.String("user_id", o.UserID),
			zap.String("exercise_id", o.ExerciseID),
			zap.Error(err))
	}

	if failed {
		OutcomesTotal.WithLabelValues("failed").Inc()
		return
	}
	OutcomesTotal.WithLabelValues("applied").Inc()
}
