package sqlitestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/learnd/internal/knowledge"
)

// AppendUsage appends a usage record, assigning an ID when empty.
func (s *Store) AppendUsage(ctx context.Context, rec knowledge.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	ids, err := json.Marshal(nonNil(rec.KnowledgeIDs))
	if err != nil {
		return knowledge.WrapStorage("append_usage", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, exercise_id, knowledge_ids, was_helpful, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.ExerciseID, string(ids), rec.WasHelpful, rec.Timestamp.UnixNano())
	return knowledge.WrapStorage("append_usage", err)
}

// AppendAttempt appends an attempt record, assigning an ID when empty.
func (s *Store) AppendAttempt(ctx context.Context, rec knowledge.AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	skillTags, _ := json.Marshal(nonNil(rec.SkillTags))
	errorTypes, _ := json.Marshal(nonNil(rec.ErrorTypes))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempt_records (id, user_id, exercise_id, skill_tags, error_types, correct, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.ExerciseID, string(skillTags), string(errorTypes), rec.Correct, rec.Timestamp.UnixNano())
	return knowledge.WrapStorage("append_attempt", err)
}

// UsageBetween returns usage records in [from, to), oldest first.
func (s *Store) UsageBetween(ctx context.Context, from, to time.Time) ([]knowledge.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, exercise_id, knowledge_ids, was_helpful, ts
		FROM usage_records WHERE ts >= ? AND ts < ?
		ORDER BY ts, rowid`,
		from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, knowledge.WrapStorage("usage_between", err)
	}
	defer rows.Close()

	records := []knowledge.UsageRecord{}
	for rows.Next() {
		var (
			rec knowledge.UsageRecord
			ids string
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ExerciseID, &ids, &rec.WasHelpful, &ts); err != nil {
			return nil, knowledge.WrapStorage("usage_between", err)
		}
		if err := json.Unmarshal([]byte(ids), &rec.KnowledgeIDs); err != nil {
			return nil, knowledge.WrapStorage("usage_between", err)
		}
		rec.Timestamp = fromNanos(ts)
		records = append(records, rec)
	}
	return records, knowledge.WrapStorage("usage_between", rows.Err())
}

// AttemptsBetween returns matching attempts, oldest first. The window and
// user are filtered in SQL; tag membership is checked with the filter itself.
func (s *Store) AttemptsBetween(ctx context.Context, filter knowledge.AttemptFilter) ([]knowledge.AttemptRecord, error) {
	query := `SELECT id, user_id, exercise_id, skill_tags, error_types, correct, ts
		FROM attempt_records WHERE ts >= ? AND ts < ?`
	args := []any{filter.From.UnixNano(), filter.To.UnixNano()}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY ts, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, knowledge.WrapStorage("attempts_between", err)
	}
	defer rows.Close()

	records := []knowledge.AttemptRecord{}
	for rows.Next() {
		var (
			rec                   knowledge.AttemptRecord
			skillTags, errorTypes string
			ts                    int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ExerciseID, &skillTags, &errorTypes, &rec.Correct, &ts); err != nil {
			return nil, knowledge.WrapStorage("attempts_between", err)
		}
		if err := json.Unmarshal([]byte(skillTags), &rec.SkillTags); err != nil {
			return nil, knowledge.WrapStorage("attempts_between", err)
		}
		if err := json.Unmarshal([]byte(errorTypes), &rec.ErrorTypes); err != nil {
			return nil, knowledge.WrapStorage("attempts_between", err)
		}
		rec.Timestamp = fromNanos(ts)
		if filter.Matches(rec) {
			records = append(records, rec)
		}
	}
	return records, knowledge.WrapStorage("attempts_between", rows.Err())
}

// FeatureEnabledAt returns the user's feature anchor or knowledge.ErrNotFound.
func (s *Store) FeatureEnabledAt(ctx context.Context, userID string) (time.Time, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx, `SELECT enabled_at FROM feature_anchors WHERE user_id = ?`, userID).Scan(&ns)
	if isNoRows(err) {
		return time.Time{}, knowledge.ErrNotFound
	}
	if err != nil {
		return time.Time{}, knowledge.WrapStorage("feature_enabled_at", err)
	}
	return fromNanos(ns), nil
}

// SetFeatureEnabledAt records or replaces the user's feature anchor.
func (s *Store) SetFeatureEnabledAt(ctx context.Context, userID string, at time.Time) error {
	if userID == "" {
		return knowledge.ErrEmptyUserID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_anchors (user_id, enabled_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET enabled_at = excluded.enabled_at`,
		userID, at.UnixNano())
	return knowledge.WrapStorage("set_feature_enabled_at", err)
}
