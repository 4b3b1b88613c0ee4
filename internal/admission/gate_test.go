package admission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/db"
	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/round"
	"github.com/hpungsan/agora/internal/store"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *db.Store
	gate    *Gate
	rounds  *round.Manager
	topicID string
}

func setup(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	s := db.NewStore(database)

	topicID, err := discussion.NewID()
	require.NoError(t, err)
	ctx := context.Background()
	err = s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateTopic(ctx, &discussion.Topic{
			ID: topicID, Title: "Title", Description: "Desc", CreatedBy: "alice",
			Status: discussion.TopicActive, MaxRounds: 3, ParticipantCount: 1,
		}); err != nil {
			return err
		}
		_, err := tx.AddParticipant(ctx, topicID, "alice", 0)
		return err
	})
	require.NoError(t, err)

	return &fixture{store: s, gate: NewGate(s, cfg), rounds: round.NewManager(s, cfg), topicID: topicID}
}

func TestAdmit_NoActiveRound(t *testing.T) {
	f := setup(t, nil)

	_, err := f.gate.Admit(context.Background(), Input{TopicID: f.topicID, AuthorID: "bob", Content: "hi"})
	require.True(t, errors.Is(err, errors.ErrNoActiveRound), "err = %v", err)
}

func TestAdmit_Basic(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	r, err := f.rounds.OpenRound(ctx, f.topicID)
	require.NoError(t, err)

	adm, err := f.gate.Admit(ctx, Input{
		TopicID: f.topicID, AuthorID: "bob", Content: "I support this", PositionType: " Support ",
	})
	require.NoError(t, err)
	require.Equal(t, 1, adm.CommentCount)
	require.Equal(t, r.ID, adm.Round.ID)
	require.Equal(t, "support", adm.Comment.PositionType)
	require.True(t, adm.NewParticipant)

	// Default stance and explicit round id
	adm, err = f.gate.Admit(ctx, Input{TopicID: f.topicID, RoundID: r.ID, AuthorID: "bob", Content: "again"})
	require.NoError(t, err)
	require.Equal(t, 2, adm.CommentCount)
	require.Equal(t, discussion.DefaultPositionType, adm.Comment.PositionType)
	require.False(t, adm.NewParticipant)

	topic, err := f.store.GetTopic(ctx, f.topicID)
	require.NoError(t, err)
	require.Equal(t, 2, topic.ParticipantCount, "creator plus bob")
}

func TestAdmit_CreatorIsNotNewParticipant(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	_, err := f.rounds.OpenRound(ctx, f.topicID)
	require.NoError(t, err)

	adm, err := f.gate.Admit(ctx, Input{TopicID: f.topicID, AuthorID: "alice", Content: "opening remarks"})
	require.NoError(t, err)
	require.False(t, adm.NewParticipant)

	topic, _ := f.store.GetTopic(ctx, f.topicID)
	require.Equal(t, 1, topic.ParticipantCount)
}

func TestAdmit_Validation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxCommentChars = 10
	f := setup(t, cfg)
	ctx := context.Background()
	_, err := f.rounds.OpenRound(ctx, f.topicID)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   Input
	}{
		{"missing topic", Input{AuthorID: "bob", Content: "x"}},
		{"missing author", Input{TopicID: f.topicID, AuthorID: "  ", Content: "x"}},
		{"blank content", Input{TopicID: f.topicID, AuthorID: "bob", Content: " \n\t"}},
		{"too long", Input{TopicID: f.topicID, AuthorID: "bob", Content: strings.Repeat("é", 11)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gate.Admit(ctx, tt.in)
			require.True(t, errors.Is(err, errors.ErrInvalidRequest), "err = %v", err)
		})
	}

	// Exactly at the limit, counted in runes
	_, err = f.gate.Admit(ctx, Input{TopicID: f.topicID, AuthorID: "bob", Content: strings.Repeat("é", 10)})
	require.NoError(t, err)
}

func TestAdmit_UnknownOrForeignRound(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	_, err := f.rounds.OpenRound(ctx, f.topicID)
	require.NoError(t, err)

	_, err = f.gate.Admit(ctx, Input{TopicID: f.topicID, RoundID: "missing", AuthorID: "bob", Content: "x"})
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)

	_, err = f.gate.Admit(ctx, Input{TopicID: "missing", AuthorID: "bob", Content: "x"})
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
}

func TestAdmit_LockedRound(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	r, err := f.rounds.OpenRound(ctx, f.topicID)
	require.NoError(t, err)
	_, _, err = f.rounds.LockRound(ctx, f.topicID)
	require.NoError(t, err)

	_, err = f.gate.Admit(ctx, Input{TopicID: f.topicID, AuthorID: "bob", Content: "late"})
	require.True(t, errors.Is(err, errors.ErrRoundNotActive), "err = %v", err)

	got, _ := f.store.GetRound(ctx, r.ID)
	require.Equal(t, 0, got.CommentCount)
}

func TestAdmit_ArchivedTopic(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	_, err := f.rounds.OpenRound(ctx, f.topicID)
	require.NoError(t, err)
	err = f.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetTopicStatus(ctx, f.topicID, discussion.TopicArchived)
	})
	require.NoError(t, err)

	_, err = f.gate.Admit(ctx, Input{TopicID: f.topicID, AuthorID: "bob", Content: "x"})
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
}

func TestAdmit_ConcurrentCounts(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	r, err := f.rounds.OpenRound(ctx, f.topicID)
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.gate.Admit(ctx, Input{
				TopicID:  f.topicID,
				AuthorID: fmt.Sprintf("user-%d", i%5),
				Content:  fmt.Sprintf("comment %d", i),
			})
			if err != nil {
				t.Errorf("Admit failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, n, got.CommentCount, "no admission below the threshold is rejected or lost")

	comments, err := f.store.ListComments(ctx, r.ID, discussion.CommentActive)
	require.NoError(t, err)
	require.Len(t, comments, n)

	topic, _ := f.store.GetTopic(ctx, f.topicID)
	require.Equal(t, 6, topic.ParticipantCount, "creator plus five distinct authors")
}

func TestAdmit_RaceWithLock(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	r, err := f.rounds.OpenRound(ctx, f.topicID)
	require.NoError(t, err)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.gate.Admit(ctx, Input{TopicID: f.topicID, AuthorID: "bob", Content: fmt.Sprintf("c%d", i)})
			switch {
			case err == nil:
				mu.Lock()
				accepted++
				mu.Unlock()
			case errors.Is(err, errors.ErrRoundNotActive):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
		if i == n/2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := f.rounds.LockRound(ctx, f.topicID); err != nil {
					t.Errorf("LockRound failed: %v", err)
				}
			}()
		}
	}
	wg.Wait()

	got, err := f.store.GetRound(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, discussion.RoundCompleted, got.Status)
	require.Equal(t, accepted, got.CommentCount)

	comments, err := f.store.ListComments(ctx, r.ID, "")
	require.NoError(t, err)
	require.Len(t, comments, accepted, "every stored comment was admitted while the round was active")
}
