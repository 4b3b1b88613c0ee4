package ops

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/logging"
	"github.com/hpungsan/agora/internal/round"
	"github.com/hpungsan/agora/internal/store"
)

// CreateTopicInput contains parameters for the CreateTopic operation.
type CreateTopicInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	MaxRounds   int    `json:"max_rounds,omitempty"` // 0 uses the configured default
}

// CreateTopicOutput contains the result of the CreateTopic operation.
type CreateTopicOutput struct {
	Topic *discussion.Topic `json:"topic"`
	Round *discussion.Round `json:"round"`
}

// CreateTopic creates a topic with its creator as first participant and opens round 1.
func (s *Service) CreateTopic(ctx context.Context, input CreateTopicInput) (*CreateTopicOutput, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.NewInvalidRequest("title is required")
	}
	if discussion.CountChars(title) > MaxTitleChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("title exceeds %d characters", MaxTitleChars))
	}
	description := strings.TrimSpace(input.Description)
	if discussion.CountChars(description) > MaxDescriptionChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("description exceeds %d characters", MaxDescriptionChars))
	}
	createdBy, err := requireID("created_by", input.CreatedBy)
	if err != nil {
		return nil, err
	}

	maxRounds := input.MaxRounds
	if maxRounds == 0 {
		maxRounds = s.cfg.DefaultMaxRounds
	}
	if maxRounds < 1 || maxRounds > s.cfg.MaxRoundsLimit {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("max_rounds must be between 1 and %d", s.cfg.MaxRoundsLimit))
	}

	id, err := discussion.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()
	topic := &discussion.Topic{
		ID:               id,
		Title:            title,
		Description:      description,
		CreatedBy:        createdBy,
		Status:           discussion.TopicActive,
		MaxRounds:        maxRounds,
		ParticipantCount: 1,
		CreatedAt:        now,
	}

	// Topic, creator and round 1 commit together
	var (
		created *discussion.Topic
		opened  *discussion.Round
	)
	err = store.RetryConflict(ctx, s.cfg.ConflictRetries, func() error {
		return s.store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.CreateTopic(ctx, topic); err != nil {
				return err
			}
			if _, err := tx.AddParticipant(ctx, topic.ID, createdBy, now); err != nil {
				return err
			}
			r, err := s.rounds.OpenFirstRound(ctx, tx, topic.ID)
			if err != nil {
				return err
			}
			opened = r
			created, err = tx.GetTopic(ctx, topic.ID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = logging.WithFields(ctx, logging.Fields{TopicID: created.ID, Component: "agora.ops"})
	slog.InfoContext(ctx, "topic created",
		"max_rounds", maxRounds, "created_by", createdBy, "round_id", opened.ID)

	return &CreateTopicOutput{Topic: created, Round: opened}, nil
}

// GetTopicInput contains parameters for the GetTopic operation.
type GetTopicInput struct {
	ID string `json:"id"`
}

// RoundDetail is one round of a topic with its Summary, if any.
type RoundDetail struct {
	discussion.Round
	Summary *discussion.Summary `json:"summary,omitempty"`
}

// GetTopicOutput contains the result of the GetTopic operation.
type GetTopicOutput struct {
	Topic  *discussion.Topic `json:"topic"`
	State  round.State       `json:"state"`
	Rounds []RoundDetail     `json:"rounds"`
}

// GetTopic returns a topic, its derived round state and its rounds in order.
// Archived topics are returned as well.
func (s *Service) GetTopic(ctx context.Context, input GetTopicInput) (*GetTopicOutput, error) {
	id, err := requireID("id", input.ID)
	if err != nil {
		return nil, err
	}

	topic, err := s.store.GetTopic(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := round.DeriveState(ctx, s.store, topic)
	if err != nil {
		return nil, err
	}

	rounds, err := s.store.ListRounds(ctx, id)
	if err != nil {
		return nil, err
	}
	details := make([]RoundDetail, 0, len(rounds))
	for _, r := range rounds {
		sum, err := s.store.GetSummaryByRound(ctx, r.ID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		details = append(details, RoundDetail{Round: r, Summary: sum})
	}

	return &GetTopicOutput{Topic: topic, State: state, Rounds: details}, nil
}

// ArchiveTopicInput contains parameters for the ArchiveTopic operation.
type ArchiveTopicInput struct {
	ID string `json:"id"`
}

// ArchiveTopicOutput contains the result of the ArchiveTopic operation.
type ArchiveTopicOutput struct {
	Topic *discussion.Topic `json:"topic"`

	// Locked is the round completed by archiving, if one was active
	Locked *discussion.Round `json:"locked,omitempty"`
}

// ArchiveTopic completes the active round, if any, and archives the topic.
// Archiving an archived topic is a no-op.
func (s *Service) ArchiveTopic(ctx context.Context, input ArchiveTopicInput) (*ArchiveTopicOutput, error) {
	id, err := requireID("id", input.ID)
	if err != nil {
		return nil, err
	}

	topic, err := s.store.GetTopic(ctx, id)
	if err != nil {
		return nil, err
	}
	if topic.IsArchived() {
		return &ArchiveTopicOutput{Topic: topic}, nil
	}

	out := &ArchiveTopicOutput{}
	locked, changed, err := s.rounds.Archive(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		out.Locked = locked
	}

	if out.Topic, err = s.store.GetTopic(ctx, id); err != nil {
		return nil, err
	}
	return out, nil
}
