// Package sqlitestore persists knowledge documents and usage logs in SQLite.
//
// Tag sets and vectors are stored as JSON columns; timestamps are stored as
// Unix nanoseconds. Effectiveness counters are bumped with a single UPDATE
// statement so concurrent increments on one document are never lost.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"

	_ "modernc.org/sqlite"
)

// Store implements knowledge.Store and knowledge.UsageLog on SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, knowledge.WrapStorage("open", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.Named("sqlitestore")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, knowledge.WrapStorage("migrate", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return knowledge.WrapStorage("ping", s.db.PingContext(ctx))
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS knowledge_documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		example TEXT NOT NULL DEFAULT '',
		examples TEXT NOT NULL DEFAULT '[]',
		skill_tags TEXT NOT NULL DEFAULT '[]',
		error_types TEXT NOT NULL DEFAULT '[]',
		exercise_types TEXT NOT NULL DEFAULT '[]',
		difficulty TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		embedding TEXT,
		embedding_model TEXT NOT NULL DEFAULT '',
		embedding_generated_at INTEGER,
		times_used INTEGER NOT NULL DEFAULT 0,
		helped_correct INTEGER NOT NULL DEFAULT 0,
		last_used INTEGER,
		reset_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		exercise_id TEXT NOT NULL,
		knowledge_ids TEXT NOT NULL DEFAULT '[]',
		was_helpful INTEGER NOT NULL,
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_records_ts ON usage_records(ts);

	CREATE TABLE IF NOT EXISTS attempt_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		exercise_id TEXT NOT NULL,
		skill_tags TEXT NOT NULL DEFAULT '[]',
		error_types TEXT NOT NULL DEFAULT '[]',
		correct INTEGER NOT NULL,
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attempt_records_user_ts ON attempt_records(user_id, ts);

	CREATE TABLE IF NOT EXISTS feature_anchors (
		user_id TEXT PRIMARY KEY,
		enabled_at INTEGER NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const documentColumns = `id, content, example, examples, skill_tags, error_types, exercise_types,
	difficulty, priority, embedding, embedding_model, embedding_generated_at,
	times_used, helped_correct, last_used, reset_at, created_at, updated_at`

// GetByFilter returns matching documents in insertion order.
func (s *Store) GetByFilter(ctx context.Context, skillTags []string, difficulty knowledge.Difficulty) ([]knowledge.Document, error) {
	if len(skillTags) == 0 {
		return []knowledge.Document{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(skillTags)), ",")
	query := `SELECT ` + documentColumns + ` FROM knowledge_documents d
		WHERE EXISTS (SELECT 1 FROM json_each(d.skill_tags) t WHERE t.value IN (` + placeholders + `))`
	args := make([]any, 0, len(skillTags)+1)
	for _, tag := range skillTags {
		args = append(args, tag)
	}
	if difficulty != "" {
		query += ` AND d.difficulty = ?`
		args = append(args, string(difficulty))
	}
	query += ` ORDER BY d.rowid`

	docs, err := s.queryDocuments(ctx, query, args...)
	return docs, knowledge.WrapStorage("get_by_filter", err)
}

// Get returns one document.
func (s *Store) Get(ctx context.Context, id string) (*knowledge.Document, error) {
	if id == "" {
		return nil, knowledge.ErrEmptyID
	}
	docs, err := s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM knowledge_documents WHERE id = ?`, id)
	if err != nil {
		return nil, knowledge.WrapStorage("get", err)
	}
	if len(docs) == 0 {
		return nil, knowledge.ErrNotFound
	}
	return &docs[0], nil
}

// List returns all documents, optionally restricted to a skill tag.
func (s *Store) List(ctx context.Context, skillTag string) ([]knowledge.Document, error) {
	if skillTag == "" {
		docs, err := s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM knowledge_documents ORDER BY rowid`)
		return docs, knowledge.WrapStorage("list", err)
	}
	docs, err := s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM knowledge_documents d
		WHERE EXISTS (SELECT 1 FROM json_each(d.skill_tags) t WHERE t.value = ?)
		ORDER BY d.rowid`, skillTag)
	return docs, knowledge.WrapStorage("list", err)
}

// Put upserts a document's curated fields. Counters and created_at of an
// existing row are left alone; a nil embedding keeps the stored one.
func (s *Store) Put(ctx context.Context, doc knowledge.Document) error {
	if doc.ID == "" {
		return knowledge.ErrEmptyID
	}
	knowledge.Normalize(&doc)

	examples, err := json.Marshal(nonNil(doc.Examples))
	if err != nil {
		return knowledge.WrapStorage("put", err)
	}
	skillTags, _ := json.Marshal(doc.SkillTags)
	errorTypes, _ := json.Marshal(doc.ErrorTypes)
	exerciseTypes, _ := json.Marshal(doc.ExerciseTypes)

	var (
		embedding      sql.NullString
		embeddingModel string
		generatedAt    sql.NullInt64
	)
	if doc.HasEmbedding() {
		vec, err := json.Marshal(doc.Embedding.Vector)
		if err != nil {
			return knowledge.WrapStorage("put", err)
		}
		embedding = sql.NullString{String: string(vec), Valid: true}
		embeddingModel = doc.Embedding.Model
		generatedAt = nullTime(&doc.Embedding.GeneratedAt)
	}

	now := time.Now()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_documents (id, content, example, examples, skill_tags, error_types,
			exercise_types, difficulty, priority, embedding, embedding_model, embedding_generated_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			example = excluded.example,
			examples = excluded.examples,
			skill_tags = excluded.skill_tags,
			error_types = excluded.error_types,
			exercise_types = excluded.exercise_types,
			difficulty = excluded.difficulty,
			priority = excluded.priority,
			embedding = COALESCE(excluded.embedding, knowledge_documents.embedding),
			embedding_model = CASE WHEN excluded.embedding IS NULL
				THEN knowledge_documents.embedding_model ELSE excluded.embedding_model END,
			embedding_generated_at = COALESCE(excluded.embedding_generated_at, knowledge_documents.embedding_generated_at),
			updated_at = excluded.updated_at`,
		doc.ID, doc.Content, doc.Example, string(examples), string(skillTags), string(errorTypes),
		string(exerciseTypes), string(doc.Difficulty), doc.Priority, embedding, embeddingModel, generatedAt,
		createdAt.UnixNano(), now.UnixNano(),
	)
	return knowledge.WrapStorage("put", err)
}

// SetEmbedding stores a document vector.
func (s *Store) SetEmbedding(ctx context.Context, id string, emb knowledge.Embedding) error {
	vec, err := json.Marshal(nonNilVector(emb.Vector))
	if err != nil {
		return knowledge.WrapStorage("set_embedding", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_documents
		SET embedding = ?, embedding_model = ?, embedding_generated_at = ?
		WHERE id = ?`,
		string(vec), emb.Model, nullTime(&emb.GeneratedAt), id)
	return knowledge.WrapStorage("set_embedding", affectedOne(res, err))
}

// IncrementEffectiveness bumps the counters in one statement.
func (s *Store) IncrementEffectiveness(ctx context.Context, id string, helped bool, at time.Time) error {
	helpedInc := 0
	if helped {
		helpedInc = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_documents
		SET times_used = times_used + 1, helped_correct = helped_correct + ?, last_used = ?
		WHERE id = ?`,
		helpedInc, at.UnixNano(), id)
	return knowledge.WrapStorage("increment_effectiveness", affectedOne(res, err))
}

// ResetEffectiveness zeros the counters and stamps reset_at.
func (s *Store) ResetEffectiveness(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_documents
		SET times_used = 0, helped_correct = 0, last_used = NULL, reset_at = ?
		WHERE id = ?`,
		at.UnixNano(), id)
	return knowledge.WrapStorage("reset_effectiveness", affectedOne(res, err))
}

// DistinctSkillTags lists all skill tags in use, sorted.
func (s *Store) DistinctSkillTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT t.value FROM knowledge_documents d, json_each(d.skill_tags) t
		ORDER BY t.value`)
	if err != nil {
		return nil, knowledge.WrapStorage("distinct_skill_tags", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, knowledge.WrapStorage("distinct_skill_tags", err)
		}
		tags = append(tags, tag)
	}
	return tags, knowledge.WrapStorage("distinct_skill_tags", rows.Err())
}

// Stats counts documents, embedded documents and used documents.
func (s *Store) Stats(ctx context.Context) (knowledge.Stats, error) {
	var st knowledge.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN embedding IS NOT NULL AND embedding != '[]' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN times_used > 0 THEN 1 ELSE 0 END), 0)
		FROM knowledge_documents`).Scan(&st.Total, &st.WithEmbeddings, &st.Used)
	if err != nil {
		return knowledge.Stats{}, knowledge.WrapStorage("stats", err)
	}
	return st, nil
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]knowledge.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []knowledge.Document{}
	for rows.Next() {
		doc, err := s.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) scanDocument(rows *sql.Rows) (knowledge.Document, error) {
	var (
		doc                                            knowledge.Document
		difficulty                                     string
		examples, skillTags, errorTypes, exerciseTypes string
		embedding                                      sql.NullString
		embeddingModel                                 string
		generatedAt, lastUsed, resetAt                 sql.NullInt64
		createdAt, updatedAt                           int64
	)
	err := rows.Scan(&doc.ID, &doc.Content, &doc.Example, &examples, &skillTags, &errorTypes, &exerciseTypes,
		&difficulty, &doc.Priority, &embedding, &embeddingModel, &generatedAt,
		&doc.Effectiveness.TimesUsed, &doc.Effectiveness.HelpedCorrect, &lastUsed, &resetAt,
		&createdAt, &updatedAt)
	if err != nil {
		return knowledge.Document{}, fmt.Errorf("scanning document: %w", err)
	}

	doc.Difficulty = knowledge.Difficulty(difficulty)
	doc.CreatedAt = fromNanos(createdAt)
	doc.UpdatedAt = fromNanos(updatedAt)
	doc.Effectiveness.LastUsed = timePtr(lastUsed)
	doc.Effectiveness.ResetAt = timePtr(resetAt)

	// An undecodable list is left empty; the document stays readable.
	for _, col := range []struct {
		name string
		raw  string
		dst  *[]string
	}{
		{"examples", examples, &doc.Examples},
		{"skill_tags", skillTags, &doc.SkillTags},
		{"error_types", errorTypes, &doc.ErrorTypes},
		{"exercise_types", exerciseTypes, &doc.ExerciseTypes},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dst); err != nil {
			*col.dst = nil
			s.logger.Warn("discarding undecodable column",
				zap.String("knowledge_id", doc.ID),
				zap.String("column", col.name),
				zap.Error(err))
		}
	}

	if embedding.Valid {
		emb := &knowledge.Embedding{Model: embeddingModel}
		if generatedAt.Valid {
			emb.GeneratedAt = fromNanos(generatedAt.Int64)
		}
		if err := json.Unmarshal([]byte(embedding.String), &emb.Vector); err != nil {
			s.logger.Warn("discarding undecodable embedding",
				zap.String("knowledge_id", doc.ID),
				zap.Error(err))
		}
		doc.Embedding = emb
	}

	if defaulted := knowledge.Normalize(&doc); len(defaulted) > 0 {
		s.logger.Warn("knowledge document had missing or invalid fields",
			zap.String("knowledge_id", doc.ID),
			zap.Strings("defaulted", defaulted))
	}
	return doc, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return knowledge.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilVector(v []float32) []float32 {
	if v == nil {
		return []float32{}
	}
	return v
}

// isNoRows reports whether err is sql.ErrNoRows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

var (
	_ knowledge.Store    = (*Store)(nil)
	_ knowledge.UsageLog = (*Store)(nil)
)
