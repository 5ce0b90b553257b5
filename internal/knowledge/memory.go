package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store and UsageLog.
//
// It keeps insertion order so GetByFilter returns a stable order, which the
// retriever relies on for its tiebreak. All methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	order    []string
	docs     map[string]*Document
	usage    []UsageRecord
	attempts []AttemptRecord
	enabled  map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]*Document),
		enabled: make(map[string]time.Time),
	}
}

// GetByFilter returns matching documents in insertion order.
func (s *MemoryStore) GetByFilter(ctx context.Context, skillTags []string, difficulty Difficulty) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Document{}
	for _, id := range s.order {
		doc := s.docs[id]
		if !Intersects(doc.SkillTags, skillTags) {
			continue
		}
		if difficulty != "" && doc.Difficulty != difficulty {
			continue
		}
		result = append(result, cloneDocument(doc))
	}
	return result, nil
}

// Get returns a copy of the document.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneDocument(doc)
	return &c, nil
}

// List returns all documents, optionally restricted to a skill tag.
func (s *MemoryStore) List(ctx context.Context, skillTag string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Document, 0, len(s.order))
	for _, id := range s.order {
		doc := s.docs[id]
		if skillTag != "" && !Contains(doc.SkillTags, skillTag) {
			continue
		}
		result = append(result, cloneDocument(doc))
	}
	return result, nil
}

// Put inserts or replaces a document, preserving existing counters.
func (s *MemoryStore) Put(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return ErrEmptyID
	}
	c := cloneDocument(&doc)
	Normalize(&c)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.docs[c.ID]; ok {
		c.Effectiveness = existing.Effectiveness
		if c.Embedding == nil {
			c.Embedding = existing.Embedding
		}
		c.CreatedAt = existing.CreatedAt
	} else {
		s.order = append(s.order, c.ID)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	}
	c.UpdatedAt = now
	s.docs[c.ID] = &c
	return nil
}

// SetEmbedding stores a document vector.
func (s *MemoryStore) SetEmbedding(ctx context.Context, id string, emb Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	vec := make([]float32, len(emb.Vector))
	copy(vec, emb.Vector)
	doc.Embedding = &Embedding{Vector: vec, Model: emb.Model, GeneratedAt: emb.GeneratedAt}
	return nil
}

// IncrementEffectiveness atomically bumps the counters under the store lock.
func (s *MemoryStore) IncrementEffectiveness(ctx context.Context, id string, helped bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Effectiveness.TimesUsed++
	if helped {
		doc.Effectiveness.HelpedCorrect++
	}
	t := at
	doc.Effectiveness.LastUsed = &t
	return nil
}

// ResetEffectiveness zeros the counters.
func (s *MemoryStore) ResetEffectiveness(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	doc.Effectiveness = Effectiveness{ResetAt: &t}
	return nil
}

// DistinctSkillTags lists all skill tags in use.
func (s *MemoryStore) DistinctSkillTags(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lists := make([][]string, 0, len(s.docs))
	for _, doc := range s.docs {
		lists = append(lists, doc.SkillTags)
	}
	return SortedUnique(lists...), nil
}

// Stats counts documents, embedded documents and used documents.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Total: len(s.docs)}
	for _, doc := range s.docs {
		if doc.HasEmbedding() {
			st.WithEmbeddings++
		}
		if doc.Effectiveness.TimesUsed > 0 {
			st.Used++
		}
	}
	return st, nil
}

// AppendUsage appends a usage record.
func (s *MemoryStore) AppendUsage(ctx context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.KnowledgeIDs = append([]string(nil), rec.KnowledgeIDs...)
	s.usage = append(s.usage, rec)
	return nil
}

// AppendAttempt appends an attempt record.
func (s *MemoryStore) AppendAttempt(ctx context.Context, rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.SkillTags = append([]string(nil), rec.SkillTags...)
	rec.ErrorTypes = append([]string(nil), rec.ErrorTypes...)
	s.attempts = append(s.attempts, rec)
	return nil
}

// UsageBetween returns usage records in [from, to).
func (s *MemoryStore) UsageBetween(ctx context.Context, from, to time.Time) ([]UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []UsageRecord{}
	for _, rec := range s.usage {
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		result = append(result, rec)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// AttemptsBetween returns matching attempts, oldest first.
func (s *MemoryStore) AttemptsBetween(ctx context.Context, filter AttemptFilter) ([]AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []AttemptRecord{}
	for _, rec := range s.attempts {
		if filter.Matches(rec) {
			result = append(result, rec)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// FeatureEnabledAt returns the user's feature anchor.
func (s *MemoryStore) FeatureEnabledAt(ctx context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.enabled[userID]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return at, nil
}

// SetFeatureEnabledAt records the user's feature anchor.
func (s *MemoryStore) SetFeatureEnabledAt(ctx context.Context, userID string, at time.Time) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled[userID] = at
	return nil
}

// cloneDocument deep-copies the slices and pointers of a document so callers
// cannot mutate store state.
func cloneDocument(d *Document) Document {
	c := *d
	c.Examples = append([]string(nil), d.Examples...)
	c.SkillTags = append([]string(nil), d.SkillTags...)
	c.ErrorTypes = append([]string(nil), d.ErrorTypes...)
	c.ExerciseTypes = append([]string(nil), d.ExerciseTypes...)
	if d.Embedding != nil {
		emb := *d.Embedding
		emb.Vector = append([]float32(nil), d.Embedding.Vector...)
		c.Embedding = &emb
	}
	if d.Effectiveness.LastUsed != nil {
		t := *d.Effectiveness.LastUsed
		c.Effectiveness.LastUsed = &t
	}
	if d.Effectiveness.ResetAt != nil {
		t := *d.Effectiveness.ResetAt
		c.Effectiveness.ResetAt = &t
	}
	return c
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ UsageLog = (*MemoryStore)(nil)
)
