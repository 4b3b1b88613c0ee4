package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Queries runs the agora SQL statements against a connection or a transaction.
type Queries struct {
	q querier
}

// NewQueries wraps a connection or transaction.
func NewQueries(q querier) *Queries {
	return &Queries{q: q}
}

const topicColumns = `id, title, description, created_by, status,
	participant_count, round_count, current_round, max_rounds, created_at`

const roundColumns = `id, topic_id, round_number, status, comment_count,
	max_comments, start_time, end_time, summarizing, summarizing_at`

const commentColumns = `id, topic_id, round_id, author_id, content,
	position_type, is_anonymous, status, created_at`

const summaryColumns = `id, round_id, title, overview, consensus_json,
	disagreements_json, new_questions_json, referenced_json, sentiment,
	convergence_score, model_version, degraded, created_at`

// CreateTopic inserts a new topic.
func (q *Queries) CreateTopic(ctx context.Context, t *discussion.Topic) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO topics (`+topicColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Title, t.Description, t.CreatedBy, string(t.Status),
		t.ParticipantCount, t.RoundCount, t.CurrentRound, t.MaxRounds, t.CreatedAt,
	)
	return mapWriteError(err)
}

// GetTopic retrieves a topic by ID. Archived topics are returned as-is.
func (q *Queries) GetTopic(ctx context.Context, id string) (*discussion.Topic, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	t, err := scanTopic(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("topic", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return t, nil
}

// AdvanceTopicRound moves the round counters of a topic forward, guarded by
// the expected round_count and the max_rounds ceiling.
func (q *Queries) AdvanceTopicRound(ctx context.Context, topicID string, expectedRoundCount, newRound int) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE topics
		SET round_count = ?, current_round = ?
		WHERE id = ? AND round_count = ? AND ? <= max_rounds
	`, newRound, newRound, topicID, expectedRoundCount, newRound)
	if err != nil {
		return mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewStoreConflict("topic round counters changed concurrently")
	}
	return nil
}

// SetTopicStatus updates the status of a topic.
func (q *Queries) SetTopicStatus(ctx context.Context, topicID string, status discussion.TopicStatus) error {
	res, err := q.q.ExecContext(ctx, `UPDATE topics SET status = ? WHERE id = ?`, string(status), topicID)
	if err != nil {
		return mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("topic", topicID)
	}
	return nil
}

// AddParticipant records a first contribution of authorID to topicID.
func (q *Queries) AddParticipant(ctx context.Context, topicID, authorID string, at int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO topic_participants (topic_id, author_id, first_seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT (topic_id, author_id) DO NOTHING
	`, topicID, authorID, at)
	if err != nil {
		return false, mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n == 1, nil
}

// IncrementParticipantCount adds one to participant_count.
func (q *Queries) IncrementParticipantCount(ctx context.Context, topicID string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE topics SET participant_count = participant_count + 1 WHERE id = ?
	`, topicID)
	if err != nil {
		return mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound("topic", topicID)
	}
	return nil
}

// CreateRound inserts a new round.
func (q *Queries) CreateRound(ctx context.Context, r *discussion.Round) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO rounds (`+roundColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.TopicID, r.RoundNumber, string(r.Status), r.CommentCount,
		r.MaxComments, r.StartTime, toNullInt64(r.EndTime), boolToInt(r.Summarizing), toNullInt64(r.SummarizingAt),
	)
	return mapWriteError(err)
}

// GetRound retrieves a round by ID.
func (q *Queries) GetRound(ctx context.Context, id string) (*discussion.Round, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = ?`, id)
	return q.oneRound(row, "round", id)
}

// GetRoundByNumber retrieves the round with the given number within a topic.
func (q *Queries) GetRoundByNumber(ctx context.Context, topicID string, number int) (*discussion.Round, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM rounds WHERE topic_id = ? AND round_number = ?
	`, topicID, number)
	return q.oneRound(row, "round", topicID)
}

// GetActiveRound retrieves the single active round of a topic.
func (q *Queries) GetActiveRound(ctx context.Context, topicID string) (*discussion.Round, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM rounds WHERE topic_id = ? AND status = 'active'
	`, topicID)
	return q.oneRound(row, "active round", topicID)
}

func (q *Queries) oneRound(row *sql.Row, entity, id string) (*discussion.Round, error) {
	r, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(entity, id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListRounds returns the rounds of a topic ordered by round number.
func (q *Queries) ListRounds(ctx context.Context, topicID string) ([]discussion.Round, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM rounds WHERE topic_id = ? ORDER BY round_number ASC
	`, topicID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	rounds := []discussion.Round{}
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		rounds = append(rounds, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return rounds, nil
}

// CompleteRound closes an active round. Returns false if it was already closed.
func (q *Queries) CompleteRound(ctx context.Context, roundID string, endTime int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE rounds SET status = 'completed', end_time = ?
		WHERE id = ? AND status = 'active'
	`, endTime, roundID)
	if err != nil {
		return false, mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n == 1, nil
}

// IncrementCommentCount adds one to the comment count of an active round.
func (q *Queries) IncrementCommentCount(ctx context.Context, roundID string) (int, error) {
	var count int
	err := q.q.QueryRowContext(ctx, `
		UPDATE rounds SET comment_count = comment_count + 1
		WHERE id = ? AND status = 'active'
		RETURNING comment_count
	`, roundID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, errors.NewRoundNotActive(roundID)
	}
	if err != nil {
		return 0, mapWriteError(err)
	}
	return count, nil
}

// CreateComment inserts a comment.
func (q *Queries) CreateComment(ctx context.Context, c *discussion.Comment) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO comments (`+commentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.TopicID, c.RoundID, c.AuthorID, c.Content,
		c.PositionType, boolToInt(c.IsAnonymous), string(c.Status), c.CreatedAt,
	)
	return mapWriteError(err)
}

// ListComments returns the comments of a round in admission order.
func (q *Queries) ListComments(ctx context.Context, roundID string, status discussion.CommentStatus) ([]discussion.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE round_id = ?`
	args := []any{roundID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY rowid ASC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	comments := []discussion.Comment{}
	for rows.Next() {
		var (
			c         discussion.Comment
			status    string
			anonymous int
		)
		if err := rows.Scan(
			&c.ID, &c.TopicID, &c.RoundID, &c.AuthorID, &c.Content,
			&c.PositionType, &anonymous, &status, &c.CreatedAt,
		); err != nil {
			return nil, errors.NewInternal(err)
		}
		c.Status = discussion.CommentStatus(status)
		c.IsAnonymous = anonymous != 0
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return comments, nil
}

// CreateSummary inserts the summary of a round. A round holds at most one summary.
func (q *Queries) CreateSummary(ctx context.Context, s *discussion.Summary) error {
	consensus, err := marshalList(s.Consensus)
	if err != nil {
		return errors.NewInternal(err)
	}
	disagreements, err := marshalList(s.Disagreements)
	if err != nil {
		return errors.NewInternal(err)
	}
	questions, err := marshalList(s.NewQuestions)
	if err != nil {
		return errors.NewInternal(err)
	}
	referenced, err := marshalList(s.ReferencedComments)
	if err != nil {
		return errors.NewInternal(err)
	}

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO summaries (`+summaryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.RoundID, s.Title, s.Overview, consensus,
		disagreements, questions, referenced, s.Sentiment,
		s.ConvergenceScore, s.ModelVersion, boolToInt(s.Degraded), s.CreatedAt,
	)
	return mapWriteError(err)
}

// GetSummaryByRound retrieves the summary of a round.
func (q *Queries) GetSummaryByRound(ctx context.Context, roundID string) (*discussion.Summary, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM summaries WHERE round_id = ?`, roundID)
	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("summary", roundID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

func scanTopic(row scanner) (*discussion.Topic, error) {
	var (
		t      discussion.Topic
		status string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.CreatedBy, &status,
		&t.ParticipantCount, &t.RoundCount, &t.CurrentRound, &t.MaxRounds, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = discussion.TopicStatus(status)
	return &t, nil
}

func scanRound(row scanner) (*discussion.Round, error) {
	var (
		r             discussion.Round
		status        string
		endTime       sql.NullInt64
		summarizing   int
		summarizingAt sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.TopicID, &r.RoundNumber, &status, &r.CommentCount,
		&r.MaxComments, &r.StartTime, &endTime, &summarizing, &summarizingAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = discussion.RoundStatus(status)
	r.EndTime = fromNullInt64(endTime)
	r.Summarizing = summarizing != 0
	r.SummarizingAt = fromNullInt64(summarizingAt)
	return &r, nil
}

func scanSummary(row scanner) (*discussion.Summary, error) {
	var (
		s             discussion.Summary
		consensus     string
		disagreements string
		questions     string
		referenced    string
		degraded      int
	)
	err := row.Scan(
		&s.ID, &s.RoundID, &s.Title, &s.Overview, &consensus,
		&disagreements, &questions, &referenced, &s.Sentiment,
		&s.ConvergenceScore, &s.ModelVersion, &degraded, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Degraded = degraded != 0

	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{consensus, &s.Consensus},
		{disagreements, &s.Disagreements},
		{questions, &s.NewQuestions},
		{referenced, &s.ReferencedComments},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, err
		}
		if *f.dst == nil {
			*f.dst = []string{}
		}
	}
	return &s, nil
}

// mapWriteError translates driver errors into agora errors.
// Lost races (unique violations, lock contention) become STORE_CONFLICT.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if isUniqueConstraintError(err) {
		return errors.NewStoreConflict("unique constraint violation")
	}
	if isBusyError(err) {
		return errors.NewStoreConflict("database is busy")
	}
	return errors.NewInternal(err)
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isBusyError checks for SQLITE_BUSY / SQLITE_LOCKED after busy_timeout expired.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
