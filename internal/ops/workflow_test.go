package ops

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/db"
	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/round"
	"github.com/hpungsan/agora/internal/store"
	"github.com/hpungsan/agora/internal/summarize"
	"github.com/stretchr/testify/require"
)

// stubSummarizer returns a fixed digest and counts its calls.
type stubSummarizer struct {
	calls atomic.Int32
	fail  bool
}

func (s *stubSummarizer) Summarize(_ context.Context, req summarize.Request) (*summarize.Response, error) {
	s.calls.Add(1)
	if s.fail {
		return nil, fmt.Errorf("model endpoint down")
	}
	return &summarize.Response{
		Model: "stub-model",
		Payload: map[string]any{
			"title":              fmt.Sprintf("Round %d digest", req.RoundNumber),
			"overview":           "Participants mostly agree.",
			"consensus":          []any{"Keep the weekly sync"},
			"disagreements":      []any{"Meeting length"},
			"newQuestions":       []any{"Who chairs it?"},
			"referencedComments": []any{req.Comments[0].ID},
			"sentiment":          "positive",
			"convergenceScore":   0.8,
		},
	}, nil
}

func newTestService(t *testing.T, cfg *config.Config, summarizer summarize.Summarizer) (*Service, *db.Store) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	s := db.NewStore(database)
	return New(s, summarizer, cfg), s
}

func createTopic(t *testing.T, svc *Service, maxRounds int) *CreateTopicOutput {
	t.Helper()
	out, err := svc.CreateTopic(context.Background(), CreateTopicInput{
		Title:       "Weekly sync",
		Description: "Should we keep the weekly sync?",
		CreatedBy:   "alice",
		MaxRounds:   maxRounds,
	})
	require.NoError(t, err)
	return out
}

func admitN(t *testing.T, svc *Service, topicID string, n int) []*AdmitCommentOutput {
	t.Helper()
	outs := make([]*AdmitCommentOutput, 0, n)
	for i := 0; i < n; i++ {
		out, err := svc.AdmitComment(context.Background(), AdmitCommentInput{
			TopicID:  topicID,
			AuthorID: fmt.Sprintf("user-%d", i),
			Content:  fmt.Sprintf("opinion %d", i),
		})
		require.NoError(t, err)
		outs = append(outs, out)
	}
	return outs
}

// TestFullWorkflow runs a two-round topic from creation to exhaustion:
// create → 10 comments → summary → next → round 2 → start fails at the ceiling.
func TestFullWorkflow(t *testing.T) {
	ctx := context.Background()
	sum := &stubSummarizer{}
	svc, _ := newTestService(t, nil, sum)

	// 1. Create opens round 1
	created := createTopic(t, svc, 2)
	topicID := created.Topic.ID
	require.Equal(t, 1, created.Round.RoundNumber)
	require.Equal(t, 1, created.Topic.CurrentRound)
	require.Equal(t, 1, created.Topic.ParticipantCount)

	// 2. Ten comments reach the threshold; the tenth produces the summary
	outs := admitN(t, svc, topicID, 10)
	for _, out := range outs[:9] {
		require.Nil(t, out.Summary)
	}
	last := outs[9]
	require.Equal(t, 10, last.CommentCount)
	require.NotNil(t, last.Summary)
	require.Equal(t, "Round 1 digest", last.Summary.Title)
	require.False(t, last.Summary.Degraded)
	require.Nil(t, last.Advance, "auto-advance is off by default")
	require.Equal(t, int32(1), sum.calls.Load())

	// 3. Advance from round 1
	next, err := svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionNext, FromRound: 1})
	require.NoError(t, err)
	require.True(t, next.Changed)
	require.Equal(t, 2, next.Round.RoundNumber)
	require.Equal(t, discussion.RoundCompleted, next.Locked.Status)
	require.NotNil(t, next.Seed)
	require.Equal(t, last.Summary.ID, next.Seed.ID)
	require.Contains(t, next.SeedMarkdown, "Round 1 digest")
	require.Contains(t, next.SeedMarkdown, "Keep the weekly sync")
	require.Equal(t, round.StateRoundActive, next.State)

	// 4. Repeating the same advance opens nothing
	again, err := svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionNext, FromRound: 1})
	require.NoError(t, err)
	require.False(t, again.Changed)
	require.Equal(t, next.Round.ID, again.Round.ID)

	// 5. Topic view
	got, err := svc.GetTopic(ctx, GetTopicInput{ID: topicID})
	require.NoError(t, err)
	require.Equal(t, 2, got.Topic.RoundCount)
	require.Equal(t, 2, got.Topic.CurrentRound)
	require.Equal(t, 11, got.Topic.ParticipantCount)
	require.Len(t, got.Rounds, 2)
	require.Equal(t, discussion.RoundCompleted, got.Rounds[0].Status)
	require.NotNil(t, got.Rounds[0].Summary)
	require.Equal(t, discussion.RoundActive, got.Rounds[1].Status)
	require.Nil(t, got.Rounds[1].Summary)

	// 6. The ceiling is reached
	_, err = svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionStart})
	require.True(t, errors.Is(err, errors.ErrRoundLimitExceeded), "err = %v", err)

	got, err = svc.GetTopic(ctx, GetTopicInput{ID: topicID})
	require.NoError(t, err)
	require.Equal(t, 2, got.Topic.RoundCount)
}

func TestAdmitComment_AutoAdvance(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxComments = 2
	cfg.AutoAdvance = true
	svc, _ := newTestService(t, cfg, &stubSummarizer{})

	topicID := createTopic(t, svc, 2).Topic.ID

	outs := admitN(t, svc, topicID, 2)
	require.NotNil(t, outs[1].Summary)
	require.NotNil(t, outs[1].Advance)
	require.True(t, outs[1].Advance.Advanced)
	require.Equal(t, 2, outs[1].Advance.Opened.RoundNumber)
	require.False(t, outs[1].Exhausted)

	// Round 2 summarizes, then the ceiling stops the advance without failing the admission
	outs = admitN(t, svc, topicID, 2)
	require.Equal(t, 2, outs[1].RoundNumber)
	require.NotNil(t, outs[1].Summary)
	require.Nil(t, outs[1].Advance)
	require.True(t, outs[1].Exhausted)

	got, err := svc.GetTopic(context.Background(), GetTopicInput{ID: topicID})
	require.NoError(t, err)
	require.Equal(t, round.StateExhausted, got.State)
	require.Equal(t, discussion.RoundCompleted, got.Rounds[1].Status)

	_, err = svc.AdmitComment(context.Background(), AdmitCommentInput{TopicID: topicID, AuthorID: "late", Content: "too late"})
	require.True(t, errors.Is(err, errors.ErrRoundNotActive), "err = %v", err)
}

func TestAdmitComment_SummarizerFailureDegrades(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxComments = 3
	cfg.AutoAdvance = true
	svc, _ := newTestService(t, cfg, &stubSummarizer{fail: true})

	topicID := createTopic(t, svc, 3).Topic.ID
	outs := admitN(t, svc, topicID, 3)

	last := outs[2]
	require.NotNil(t, last.Summary)
	require.True(t, last.Summary.Degraded)
	require.Equal(t, summarize.DegradedModel, last.Summary.ModelVersion)
	require.NotNil(t, last.Advance, "a degraded digest still advances")
	require.Equal(t, 2, last.Advance.Opened.RoundNumber)
}

func TestAdmitComment_NilSummarizerDegrades(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxComments = 1
	svc, _ := newTestService(t, cfg, nil)

	topicID := createTopic(t, svc, 1).Topic.ID
	outs := admitN(t, svc, topicID, 1)
	require.NotNil(t, outs[0].Summary)
	require.True(t, outs[0].Summary.Degraded)
}

func TestCreateTopic_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	tests := []struct {
		name  string
		input CreateTopicInput
	}{
		{"missing title", CreateTopicInput{Title: "  ", CreatedBy: "alice"}},
		{"long title", CreateTopicInput{Title: strings.Repeat("t", MaxTitleChars+1), CreatedBy: "alice"}},
		{"long description", CreateTopicInput{Title: "T", Description: strings.Repeat("d", MaxDescriptionChars+1), CreatedBy: "alice"}},
		{"missing creator", CreateTopicInput{Title: "T"}},
		{"negative rounds", CreateTopicInput{Title: "T", CreatedBy: "alice", MaxRounds: -1}},
		{"rounds above limit", CreateTopicInput{Title: "T", CreatedBy: "alice", MaxRounds: 21}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTopic(context.Background(), tc.input)
			require.True(t, errors.Is(err, errors.ErrInvalidRequest), "err = %v", err)
		})
	}
}

func TestCreateTopic_DefaultMaxRounds(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	out := createTopic(t, svc, 0)
	require.Equal(t, 3, out.Topic.MaxRounds)
	require.Equal(t, discussion.TopicActive, out.Topic.Status)
	require.Equal(t, out.Topic.ID, out.Round.TopicID)
}

func TestGetTopic_NotFound(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.GetTopic(context.Background(), GetTopicInput{ID: "missing"})
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)

	_, err = svc.GetTopic(context.Background(), GetTopicInput{})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "err = %v", err)
}

func TestArchiveTopic(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, nil)
	topicID := createTopic(t, svc, 3).Topic.ID

	out, err := svc.ArchiveTopic(ctx, ArchiveTopicInput{ID: topicID})
	require.NoError(t, err)
	require.Equal(t, discussion.TopicArchived, out.Topic.Status)
	require.NotNil(t, out.Locked)
	require.Equal(t, discussion.RoundCompleted, out.Locked.Status)

	// Archived topics refuse comments and round actions
	_, err = svc.AdmitComment(ctx, AdmitCommentInput{TopicID: topicID, AuthorID: "bob", Content: "hi"})
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
	_, err = svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionStart})
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)

	// Archiving again changes nothing
	again, err := svc.ArchiveTopic(ctx, ArchiveTopicInput{ID: topicID})
	require.NoError(t, err)
	require.Nil(t, again.Locked)

	// Still readable
	got, err := svc.GetTopic(ctx, GetTopicInput{ID: topicID})
	require.NoError(t, err)
	require.Equal(t, discussion.TopicArchived, got.Topic.Status)
}

func TestPerformRoundAction_LockThenStart(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, nil)
	topicID := createTopic(t, svc, 3).Topic.ID

	_, err := svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionStart})
	require.True(t, errors.Is(err, errors.ErrRoundAlreadyActive), "err = %v", err)

	locked, err := svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: " LOCK "})
	require.NoError(t, err)
	require.True(t, locked.Changed)
	require.Equal(t, round.StateRoundLocked, locked.State)

	again, err := svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionLock})
	require.NoError(t, err)
	require.False(t, again.Changed)

	started, err := svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionStart})
	require.NoError(t, err)
	require.Equal(t, 2, started.Round.RoundNumber)
	require.Equal(t, round.StateRoundActive, started.State)
}

func TestPerformRoundAction_NextWithoutSummary(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	topicID := createTopic(t, svc, 3).Topic.ID

	out, err := svc.PerformRoundAction(context.Background(), RoundActionInput{TopicID: topicID, Action: ActionNext})
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Nil(t, out.Seed)
	require.Empty(t, out.SeedMarkdown)
	require.Equal(t, 1, out.Locked.RoundNumber)
	require.Equal(t, 2, out.Round.RoundNumber)
}

func TestPerformRoundAction_InvalidInput(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	topicID := createTopic(t, svc, 3).Topic.ID

	tests := []struct {
		name  string
		input RoundActionInput
	}{
		{"unknown action", RoundActionInput{TopicID: topicID, Action: "pause"}},
		{"empty action", RoundActionInput{TopicID: topicID}},
		{"missing topic", RoundActionInput{Action: ActionLock}},
		{"negative from_round", RoundActionInput{TopicID: topicID, Action: ActionNext, FromRound: -1}},
		{"unopened from_round", RoundActionInput{TopicID: topicID, Action: ActionNext, FromRound: 5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PerformRoundAction(context.Background(), tc.input)
			require.True(t, errors.Is(err, errors.ErrInvalidRequest), "err = %v", err)
		})
	}
}

func TestRequestSummary(t *testing.T) {
	ctx := context.Background()
	sum := &stubSummarizer{}
	svc, _ := newTestService(t, nil, sum)
	created := createTopic(t, svc, 3)
	roundID := created.Round.ID

	// No summary yet
	_, err := svc.GetSummary(ctx, SummaryInput{RoundID: roundID})
	require.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)

	// Empty round cannot be summarized
	_, err = svc.RequestSummary(ctx, SummaryInput{RoundID: roundID})
	require.True(t, errors.Is(err, errors.ErrEmptyRound), "err = %v", err)

	// Below threshold, an explicit request still summarizes
	admitN(t, svc, created.Topic.ID, 2)
	out, err := svc.RequestSummary(ctx, SummaryInput{RoundID: roundID, HTML: true})
	require.NoError(t, err)
	require.Equal(t, "Round 1 digest", out.Summary.Title)
	require.Equal(t, 1, out.RoundNumber)
	require.Equal(t, created.Topic.ID, out.TopicID)
	require.Contains(t, out.Markdown, "## Consensus")
	require.Contains(t, out.HTML, "<h1>Round 1 digest</h1>")

	// Requests and reads return the same row
	again, err := svc.RequestSummary(ctx, SummaryInput{RoundID: roundID})
	require.NoError(t, err)
	require.Equal(t, out.Summary.ID, again.Summary.ID)
	require.Empty(t, again.HTML)

	got, err := svc.GetSummary(ctx, SummaryInput{RoundID: roundID})
	require.NoError(t, err)
	require.Equal(t, out.Summary.ID, got.Summary.ID)
	require.Equal(t, int32(1), sum.calls.Load())
}

func TestGetSummary_UnknownRound(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.GetSummary(context.Background(), SummaryInput{RoundID: "nope"})
	aErr, ok := errors.As(err)
	require.True(t, ok, "err = %v", err)
	require.Equal(t, errors.ErrNotFound, aErr.Code)
	require.Equal(t, "round", aErr.Details["entity"])

	_, err = svc.RequestSummary(context.Background(), SummaryInput{RoundID: " "})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "err = %v", err)
}

// roundFailStore fails every round insert made inside a transaction.
type roundFailStore struct {
	*db.Store
}

func (s roundFailStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(roundFailTx{tx})
	})
}

type roundFailTx struct {
	store.Tx
}

func (roundFailTx) CreateRound(context.Context, *discussion.Round) error {
	return errors.NewInternal(fmt.Errorf("disk full"))
}

func TestCreateTopic_RoundFailureLeavesNoTopic(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	svc := New(roundFailStore{db.NewStore(database)}, nil, nil)
	_, err = svc.CreateTopic(context.Background(), CreateTopicInput{Title: "Weekly sync", CreatedBy: "alice"})
	require.True(t, errors.Is(err, errors.ErrInternal), "err = %v", err)

	for _, table := range []string{"topics", "topic_participants", "rounds"} {
		var n int
		require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		require.Zero(t, n, "%s rows left after a failed create", table)
	}
}

func TestCreateTopic_OpensFirstRoundAtomically(t *testing.T) {
	svc, s := newTestService(t, nil, nil)
	created := createTopic(t, svc, 2)

	require.Equal(t, 1, created.Topic.RoundCount)
	require.Equal(t, 1, created.Topic.CurrentRound)
	require.Equal(t, 1, created.Topic.ParticipantCount)

	active, err := s.GetActiveRound(context.Background(), created.Topic.ID)
	require.NoError(t, err)
	require.Equal(t, created.Round.ID, active.ID)
}

func TestAdmitComment_ConcurrentThresholdCrossing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxComments = 10
	sum := &stubSummarizer{}
	svc, _ := newTestService(t, cfg, sum)

	topicID := createTopic(t, svc, 3).Topic.ID
	admitN(t, svc, topicID, 9)

	var (
		wg   sync.WaitGroup
		outs [2]*AdmitCommentOutput
		errs [2]error
	)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = svc.AdmitComment(context.Background(), AdmitCommentInput{
				TopicID:  topicID,
				AuthorID: fmt.Sprintf("racer-%d", i),
				Content:  "last word",
			})
		}(i)
	}
	wg.Wait()

	summaries := 0
	counts := map[int]bool{}
	for i := range outs {
		require.NoError(t, errs[i])
		counts[outs[i].CommentCount] = true
		if outs[i].Summary != nil {
			summaries++
		}
	}
	require.Equal(t, map[int]bool{10: true, 11: true}, counts)
	require.Equal(t, 1, summaries)
	require.Equal(t, int32(1), sum.calls.Load())
}

func TestPerformRoundAction_NextEchoesFromRound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil, nil)
	topicID := createTopic(t, svc, 3).Topic.ID

	first, err := svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionNext})
	require.NoError(t, err)
	require.True(t, first.Changed)
	require.Equal(t, 1, first.FromRound)

	// Repeating with the echoed round is a no-op
	again, err := svc.PerformRoundAction(ctx, RoundActionInput{TopicID: topicID, Action: ActionNext, FromRound: first.FromRound})
	require.NoError(t, err)
	require.False(t, again.Changed)
	require.Equal(t, 1, again.FromRound)
	require.Equal(t, 2, again.Round.RoundNumber)
}

func TestPerformRoundAction_DegradedSeedCarriesPlaceholders(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxComments = 2
	svc, _ := newTestService(t, cfg, &stubSummarizer{fail: true})

	topicID := createTopic(t, svc, 3).Topic.ID
	outs := admitN(t, svc, topicID, 2)
	require.True(t, outs[1].Summary.Degraded)

	out, err := svc.PerformRoundAction(context.Background(), RoundActionInput{TopicID: topicID, Action: ActionNext})
	require.NoError(t, err)
	require.NotNil(t, out.Seed)
	for _, want := range []string{summarize.DegradedConsensus, summarize.DegradedDisagreements, summarize.DegradedQuestions} {
		require.Contains(t, out.SeedMarkdown, want)
	}
}
