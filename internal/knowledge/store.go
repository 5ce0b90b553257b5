package knowledge

import (
	"context"
	"time"
)

// Store is the read/write contract for knowledge documents.
//
// Implementations must make IncrementEffectiveness atomic per document:
// concurrent writers may fire it for the same ID and no increment may be lost.
type Store interface {
	// GetByFilter returns documents whose skill tags intersect skillTags and,
	// when difficulty is non-empty, whose difficulty matches exactly. Results
	// come back in a stable store order.
	GetByFilter(ctx context.Context, skillTags []string, difficulty Difficulty) ([]Document, error)

	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)

	// List returns every document, or only those tagged skillTag when non-empty.
	List(ctx context.Context, skillTag string) ([]Document, error)

	// Put creates or replaces a document's curated fields. Effectiveness
	// counters of an existing document are preserved.
	Put(ctx context.Context, doc Document) error

	// SetEmbedding stores the vector for a document.
	SetEmbedding(ctx context.Context, id string, emb Embedding) error

	// IncrementEffectiveness adds one use, and one helped-correct when helped,
	// and stamps LastUsed.
	IncrementEffectiveness(ctx context.Context, id string, helped bool, at time.Time) error

	// ResetEffectiveness zeros the counters and stamps ResetAt.
	ResetEffectiveness(ctx context.Context, id string, at time.Time) error

	// DistinctSkillTags lists every skill tag in use, sorted.
	DistinctSkillTags(ctx context.Context) ([]string, error)

	// Stats returns document coverage counts.
	Stats(ctx context.Context) (Stats, error)
}

// UsageLog is the append-only usage and attempt log.
type UsageLog interface {
	AppendUsage(ctx context.Context, rec UsageRecord) error
	AppendAttempt(ctx context.Context, rec AttemptRecord) error

	// UsageBetween returns usage records with from <= Timestamp < to.
	UsageBetween(ctx context.Context, from, to time.Time) ([]UsageRecord, error)

	// AttemptsBetween returns attempts matching the filter, oldest first.
	AttemptsBetween(ctx context.Context, filter AttemptFilter) ([]AttemptRecord, error)

	// FeatureEnabledAt returns when knowledge-grounded feedback was enabled
	// for the user, or ErrNotFound.
	FeatureEnabledAt(ctx context.Context, userID string) (time.Time, error)
	SetFeatureEnabledAt(ctx context.Context, userID string, at time.Time) error
}
