// Package admission admits comments into the active round of a topic.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/logging"
	"github.com/hpungsan/agora/internal/store"
)

// Input is a comment submission.
type Input struct {
	TopicID string `json:"topic_id"`

	// RoundID targets a specific round. Empty means the topic's current round.
	RoundID string `json:"round_id,omitempty"`

	AuthorID     string `json:"author_id"`
	Content      string `json:"content"`
	PositionType string `json:"position_type,omitempty"`
	IsAnonymous  bool   `json:"is_anonymous,omitempty"`
}

// Admission is the result of an accepted comment.
type Admission struct {
	Comment *discussion.Comment `json:"comment"`

	// CommentCount is the round's comment count including this comment
	CommentCount int `json:"comment_count"`

	Round          *discussion.Round `json:"round"`
	NewParticipant bool              `json:"new_participant"`
}

// Gate validates comments and records them with their counters in one transaction.
type Gate struct {
	store    store.Store
	maxChars int
	retries  int
}

// NewGate creates a Gate.
func NewGate(s store.Store, cfg *config.Config) *Gate {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Gate{store: s, maxChars: cfg.MaxCommentChars, retries: cfg.ConflictRetries}
}

// Admit records a comment in its round. A round locked concurrently makes
// the admission fail with ROUND_NOT_ACTIVE; the comment is never attached to
// a completed round.
func (g *Gate) Admit(ctx context.Context, in Input) (*Admission, error) {
	if err := g.validate(&in); err != nil {
		return nil, err
	}
	ctx = logging.WithFields(ctx, logging.Fields{TopicID: in.TopicID, Component: "agora.admission"})

	var result *Admission
	err := store.RetryConflict(ctx, g.retries, func() error {
		return g.store.WithTx(ctx, func(tx store.Tx) error {
			r, err := g.admit(ctx, tx, in)
			result = r
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "comment admitted",
		"round_id", result.Round.ID, "comment_id", result.Comment.ID, "comment_count", result.CommentCount)
	return result, nil
}

func (g *Gate) validate(in *Input) error {
	in.TopicID = strings.TrimSpace(in.TopicID)
	in.RoundID = strings.TrimSpace(in.RoundID)
	in.AuthorID = strings.TrimSpace(in.AuthorID)

	if in.TopicID == "" {
		return errors.NewInvalidRequest("topic_id is required")
	}
	if in.AuthorID == "" {
		return errors.NewInvalidRequest("author_id is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return errors.NewInvalidRequest("content is required")
	}
	if g.maxChars > 0 {
		if n := discussion.CountChars(in.Content); n > g.maxChars {
			return errors.NewInvalidRequest(fmt.Sprintf("content exceeds %d characters (got %d)", g.maxChars, n))
		}
	}
	in.PositionType = discussion.PositionOrDefault(in.PositionType)
	return nil
}

func (g *Gate) admit(ctx context.Context, tx store.Tx, in Input) (*Admission, error) {
	round, err := resolveRound(ctx, tx, in.TopicID, in.RoundID)
	if err != nil {
		return nil, err
	}
	if !round.IsActive() {
		return nil, errors.NewRoundNotActive(round.ID)
	}

	count, err := tx.IncrementCommentCount(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	round.CommentCount = count

	id, err := discussion.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()
	c := &discussion.Comment{
		ID:           id,
		TopicID:      in.TopicID,
		RoundID:      round.ID,
		AuthorID:     in.AuthorID,
		Content:      in.Content,
		PositionType: in.PositionType,
		IsAnonymous:  in.IsAnonymous,
		Status:       discussion.CommentActive,
		CreatedAt:    now,
	}
	if err := tx.CreateComment(ctx, c); err != nil {
		return nil, err
	}

	isNew, err := tx.AddParticipant(ctx, in.TopicID, in.AuthorID, now)
	if err != nil {
		return nil, err
	}
	if isNew {
		if err := tx.IncrementParticipantCount(ctx, in.TopicID); err != nil {
			return nil, err
		}
	}

	return &Admission{Comment: c, CommentCount: count, Round: round, NewParticipant: isNew}, nil
}

// resolveRound finds the round a comment is submitted to.
func resolveRound(ctx context.Context, tx store.Reader, topicID, roundID string) (*discussion.Round, error) {
	topic, err := tx.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic.IsArchived() {
		return nil, errors.NewTopicArchived(topicID)
	}

	if roundID != "" {
		r, err := tx.GetRound(ctx, roundID)
		if err != nil {
			return nil, err
		}
		if r.TopicID != topicID {
			return nil, errors.NewNotFound("round", roundID)
		}
		return r, nil
	}

	if topic.CurrentRound == 0 {
		return nil, errors.NewNoActiveRound(topicID)
	}
	return tx.GetRoundByNumber(ctx, topicID, topic.CurrentRound)
}
