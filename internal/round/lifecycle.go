// Package round owns the round state machine of a topic: opening rounds up to
// the topic's ceiling, locking them, and advancing from one round to the next.
package round

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/logging"
	"github.com/hpungsan/agora/internal/store"
)

// State is the derived round state of a topic.
type State string

const (
	StateNoRound     State = "no_round"
	StateRoundActive State = "round_active"
	StateRoundLocked State = "round_locked"
	StateExhausted   State = "exhausted"
)

// errAdvanced reports that the topic moved past the round being advanced from.
var errAdvanced = stderrors.New("topic already advanced")

// Advance is the outcome of AdvanceRound.
type Advance struct {
	// Locked is the round advanced from. Nil when the topic had no round.
	Locked *discussion.Round `json:"locked,omitempty"`

	// Opened is the topic's current round after the call.
	Opened *discussion.Round `json:"opened"`

	// Seed is the Summary of the locked round, if one exists.
	Seed *discussion.Summary `json:"seed,omitempty"`

	// Advanced is false when an earlier call already opened the next round.
	Advanced bool `json:"advanced"`
}

// Manager drives round transitions.
type Manager struct {
	store       store.Store
	maxComments int
	retries     int
}

// NewManager creates a Manager. Rounds are opened with cfg.MaxComments as
// their summarization threshold.
func NewManager(s store.Store, cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		store:       s,
		maxComments: cfg.MaxComments,
		retries:     cfg.ConflictRetries,
	}
}

// OpenRound opens the next round of a topic.
func (m *Manager) OpenRound(ctx context.Context, topicID string) (*discussion.Round, error) {
	ctx = logging.WithFields(ctx, logging.Fields{TopicID: topicID, Component: "agora.round"})

	var opened *discussion.Round
	err := store.RetryConflict(ctx, m.retries, func() error {
		return m.store.WithTx(ctx, func(tx store.Tx) error {
			r, err := m.open(ctx, tx, topicID, -1)
			opened = r
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "round opened", "round_number", opened.RoundNumber, "round_id", opened.ID)
	return opened, nil
}

// OpenFirstRound opens round 1 inside tx, typically the transaction that
// created the topic.
func (m *Manager) OpenFirstRound(ctx context.Context, tx store.Tx, topicID string) (*discussion.Round, error) {
	return m.open(ctx, tx, topicID, 0)
}

// open inserts round roundCount+1 and moves the topic counters to it.
// With expectCurrent >= 0 the topic's current round must still equal it,
// otherwise errAdvanced is returned.
func (m *Manager) open(ctx context.Context, tx store.Tx, topicID string, expectCurrent int) (*discussion.Round, error) {
	topic, err := tx.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic.IsArchived() {
		return nil, errors.NewTopicArchived(topicID)
	}
	if expectCurrent >= 0 && topic.CurrentRound != expectCurrent {
		return nil, errAdvanced
	}
	if !topic.CanOpenRound() {
		return nil, errors.NewRoundLimitExceeded(topicID, topic.MaxRounds)
	}

	active, err := tx.GetActiveRound(ctx, topicID)
	if err == nil {
		return nil, errors.NewRoundAlreadyActive(topicID, active.RoundNumber)
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	id, err := discussion.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	r := &discussion.Round{
		ID:          id,
		TopicID:     topicID,
		RoundNumber: topic.RoundCount + 1,
		Status:      discussion.RoundActive,
		MaxComments: m.maxComments,
		StartTime:   time.Now().Unix(),
	}
	if err := tx.CreateRound(ctx, r); err != nil {
		return nil, err
	}
	if err := tx.AdvanceTopicRound(ctx, topicID, topic.RoundCount, r.RoundNumber); err != nil {
		return nil, err
	}
	return r, nil
}

// LockRound completes the topic's current round. It reports false, without
// error, when there is no current round or it is already completed.
func (m *Manager) LockRound(ctx context.Context, topicID string) (*discussion.Round, bool, error) {
	ctx = logging.WithFields(ctx, logging.Fields{TopicID: topicID, Component: "agora.round"})

	var (
		locked  *discussion.Round
		changed bool
	)
	err := store.RetryConflict(ctx, m.retries, func() error {
		return m.store.WithTx(ctx, func(tx store.Tx) error {
			topic, err := tx.GetTopic(ctx, topicID)
			if err != nil {
				return err
			}
			if topic.IsArchived() {
				return errors.NewTopicArchived(topicID)
			}
			locked, changed, err = lock(ctx, tx, topicID, topic.CurrentRound)
			return err
		})
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		slog.InfoContext(ctx, "round locked", "round_number", locked.RoundNumber, "round_id", locked.ID)
	}
	return locked, changed, nil
}

// Archive completes the topic's current round, if active, and archives the
// topic in the same transaction. Archiving an archived topic changes nothing.
func (m *Manager) Archive(ctx context.Context, topicID string) (*discussion.Round, bool, error) {
	ctx = logging.WithFields(ctx, logging.Fields{TopicID: topicID, Component: "agora.round"})

	var (
		locked  *discussion.Round
		changed bool
	)
	err := store.RetryConflict(ctx, m.retries, func() error {
		return m.store.WithTx(ctx, func(tx store.Tx) error {
			topic, err := tx.GetTopic(ctx, topicID)
			if err != nil {
				return err
			}
			if topic.IsArchived() {
				locked, changed = nil, false
				return nil
			}
			if locked, changed, err = lock(ctx, tx, topicID, topic.CurrentRound); err != nil {
				return err
			}
			return tx.SetTopicStatus(ctx, topicID, discussion.TopicArchived)
		})
	})
	if err != nil {
		return nil, false, err
	}

	slog.InfoContext(ctx, "topic archived", "locked_round", changed)
	return locked, changed, nil
}

// lock completes round number n of a topic if it is active.
func lock(ctx context.Context, tx store.Tx, topicID string, n int) (*discussion.Round, bool, error) {
	if n == 0 {
		return nil, false, nil
	}
	r, err := tx.GetRoundByNumber(ctx, topicID, n)
	if err != nil {
		return nil, false, err
	}
	if !r.IsActive() {
		return r, false, nil
	}

	now := time.Now().Unix()
	ok, err := tx.CompleteRound(ctx, r.ID, now)
	if err != nil {
		return nil, false, err
	}
	if ok {
		r.Status = discussion.RoundCompleted
		r.EndTime = &now
	}
	return r, ok, nil
}

// AdvanceRound locks round fromRound and opens the next one. A fromRound of 0
// means the topic's current round at call time. When the topic has already
// moved past fromRound, the open round is returned with Advanced false, so
// repeated or concurrent calls for the same round open exactly one round.
//
// Lock and open commit separately: if opening fails (for example at the round
// ceiling) the round stays locked and the call can be retried.
func (m *Manager) AdvanceRound(ctx context.Context, topicID string, fromRound int) (*Advance, error) {
	ctx = logging.WithFields(ctx, logging.Fields{TopicID: topicID, Component: "agora.round"})
	sp := logging.StartSpan(ctx, "round.advance")
	defer sp.End()
	ctx = sp.Context()

	adv, err := m.advance(ctx, topicID, fromRound)
	if err != nil {
		sp.RecordError(err)
		return nil, err
	}
	return adv, nil
}

func (m *Manager) advance(ctx context.Context, topicID string, fromRound int) (*Advance, error) {
	adv := &Advance{}

	// Lock step
	err := store.RetryConflict(ctx, m.retries, func() error {
		return m.store.WithTx(ctx, func(tx store.Tx) error {
			topic, err := tx.GetTopic(ctx, topicID)
			if err != nil {
				return err
			}
			if topic.IsArchived() {
				return errors.NewTopicArchived(topicID)
			}
			if fromRound == 0 {
				fromRound = topic.CurrentRound
			}
			if fromRound > topic.CurrentRound {
				return errors.NewInvalidRequest(fmt.Sprintf("round %d of topic %s has not been opened", fromRound, topicID))
			}
			if topic.CurrentRound > fromRound {
				return errAdvanced
			}

			locked, _, err := lock(ctx, tx, topicID, fromRound)
			adv.Locked = locked
			return err
		})
	})
	if err != nil && err != errAdvanced {
		return nil, err
	}

	// Open step, skipped when the topic already moved on
	if err == nil {
		err = store.RetryConflict(ctx, m.retries, func() error {
			return m.store.WithTx(ctx, func(tx store.Tx) error {
				r, err := m.open(ctx, tx, topicID, fromRound)
				adv.Opened = r
				return err
			})
		})
		if err == nil {
			adv.Advanced = true
			slog.InfoContext(ctx, "round advanced",
				"from_round", fromRound, "round_number", adv.Opened.RoundNumber, "round_id", adv.Opened.ID)
		} else if err != errAdvanced {
			return nil, err
		}
	}

	if !adv.Advanced {
		if err := m.loadAdvanced(ctx, topicID, fromRound, adv); err != nil {
			return nil, err
		}
	}

	if adv.Locked != nil {
		seed, err := m.store.GetSummaryByRound(ctx, adv.Locked.ID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		adv.Seed = seed
	}
	return adv, nil
}

// loadAdvanced fills adv from rows written by an earlier advance.
func (m *Manager) loadAdvanced(ctx context.Context, topicID string, fromRound int, adv *Advance) error {
	topic, err := m.store.GetTopic(ctx, topicID)
	if err != nil {
		return err
	}
	opened, err := m.store.GetRoundByNumber(ctx, topicID, topic.CurrentRound)
	if err != nil {
		return err
	}
	adv.Opened = opened

	if adv.Locked == nil && fromRound > 0 {
		locked, err := m.store.GetRoundByNumber(ctx, topicID, fromRound)
		if err != nil {
			return err
		}
		adv.Locked = locked
	}

	slog.DebugContext(ctx, "advance already applied", "from_round", fromRound, "round_number", opened.RoundNumber)
	return nil
}

// State derives the round state of a topic.
func (m *Manager) State(ctx context.Context, topicID string) (State, error) {
	topic, err := m.store.GetTopic(ctx, topicID)
	if err != nil {
		return "", err
	}
	return DeriveState(ctx, m.store, topic)
}

// DeriveState computes the round state of a loaded topic.
func DeriveState(ctx context.Context, r store.Reader, topic *discussion.Topic) (State, error) {
	if topic.CurrentRound == 0 {
		if topic.CanOpenRound() {
			return StateNoRound, nil
		}
		return StateExhausted, nil
	}

	_, err := r.GetActiveRound(ctx, topic.ID)
	if err == nil {
		return StateRoundActive, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return "", err
	}
	if !topic.CanOpenRound() {
		return StateExhausted, nil
	}
	return StateRoundLocked, nil
}
