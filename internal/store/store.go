package store

import (
	"context"
	"time"

	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
)

// Reader is the read side of the store. Missing rows are reported as
// errors.ErrNotFound.
type Reader interface {
	GetTopic(ctx context.Context, id string) (*discussion.Topic, error)
	GetRound(ctx context.Context, id string) (*discussion.Round, error)
	GetRoundByNumber(ctx context.Context, topicID string, number int) (*discussion.Round, error)
	GetActiveRound(ctx context.Context, topicID string) (*discussion.Round, error)
	ListRounds(ctx context.Context, topicID string) ([]discussion.Round, error)

	// ListComments returns comments in the order the store recorded them.
	// An empty status returns comments of every status.
	ListComments(ctx context.Context, roundID string, status discussion.CommentStatus) ([]discussion.Comment, error)

	GetSummaryByRound(ctx context.Context, roundID string) (*discussion.Summary, error)
}

// Tx is the write surface available inside a transaction boundary.
// Every counter mutation is expressed as a conditional update evaluated by the store.
type Tx interface {
	Reader

	CreateTopic(ctx context.Context, t *discussion.Topic) error
	CreateRound(ctx context.Context, r *discussion.Round) error

	// AdvanceTopicRound sets round_count and current_round to newRound, provided
	// round_count still equals expectedRoundCount and newRound fits under max_rounds.
	// Returns errors.ErrStoreConflict when the condition no longer holds.
	AdvanceTopicRound(ctx context.Context, topicID string, expectedRoundCount, newRound int) error

	// CompleteRound marks an active round completed. Returns false if it was not active.
	CompleteRound(ctx context.Context, roundID string, endTime int64) (bool, error)

	// IncrementCommentCount adds one to comment_count of an active round and returns
	// the new value. Returns errors.ErrRoundNotActive if the round is not active.
	IncrementCommentCount(ctx context.Context, roundID string) (int, error)

	// AddParticipant records authorID as a participant of topicID.
	// Returns true if the author was not a participant before.
	AddParticipant(ctx context.Context, topicID, authorID string, at int64) (bool, error)
	IncrementParticipantCount(ctx context.Context, topicID string) error

	CreateComment(ctx context.Context, c *discussion.Comment) error

	// CreateSummary inserts a summary. A second summary for the same round
	// yields errors.ErrStoreConflict.
	CreateSummary(ctx context.Context, s *discussion.Summary) error

	SetTopicStatus(ctx context.Context, topicID string, status discussion.TopicStatus) error
}

// Store is the persistence collaborator consumed by the engine.
type Store interface {
	Reader

	// WithTx runs fn inside a transaction. fn's error rolls the transaction back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// ClaimSummarization atomically marks a round as being summarized.
	// With requireThreshold, the claim also requires an active round whose
	// comment_count reached max_comments. A claim older than staleBefore is
	// treated as abandoned. Rounds that already have a summary are never claimed.
	ClaimSummarization(ctx context.Context, roundID string, requireThreshold bool, staleBefore int64) (bool, error)

	// ReleaseSummarization clears the claim of a round that has no summary.
	ReleaseSummarization(ctx context.Context, roundID string) error
}

// RetryConflict runs fn up to attempts times while it fails with
// errors.ErrStoreConflict. Any other error, or success, returns immediately.
func RetryConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, errors.ErrStoreConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}

		backoff := time.Duration(i+1) * 10 * time.Millisecond
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}
	return err
}
