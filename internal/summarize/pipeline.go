package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/logging"
	"github.com/hpungsan/agora/internal/store"
)

// Pipeline claims rounds for summarization and persists their Summary.
// The Summarizer is called outside any transaction.
type Pipeline struct {
	store      store.Store
	summarizer Summarizer
	timeout    time.Duration
	retries    int
}

// NewPipeline creates a Pipeline. A nil summarizer behaves like Unavailable.
func NewPipeline(s store.Store, summarizer Summarizer, cfg *config.Config) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if summarizer == nil {
		summarizer = Unavailable{}
	}
	timeout := cfg.SummarizerTimeout()
	if timeout <= 0 {
		timeout = config.DefaultConfig().SummarizerTimeout()
	}
	return &Pipeline{store: s, summarizer: summarizer, timeout: timeout, retries: cfg.ConflictRetries}
}

// staleBefore is the claim age after which a holder is presumed dead.
func (p *Pipeline) staleBefore() int64 {
	return time.Now().Add(-2 * p.timeout).Unix()
}

// MaybeTrigger summarizes the round if its comment count reached the
// threshold and no other caller holds the claim. Returns nil, nil when
// there is nothing to do.
func (p *Pipeline) MaybeTrigger(ctx context.Context, roundID string) (*discussion.Summary, error) {
	claimed, err := p.store.ClaimSummarization(ctx, roundID, true, p.staleBefore())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}

	r, err := p.store.GetRound(ctx, roundID)
	if err != nil {
		p.release(ctx, roundID)
		return nil, err
	}
	return p.summarize(ctx, r)
}

// Request returns the Summary of a round, producing it if needed regardless
// of the threshold or the round's status.
func (p *Pipeline) Request(ctx context.Context, roundID string) (*discussion.Summary, error) {
	if s, err := p.existing(ctx, roundID); s != nil || err != nil {
		return s, err
	}

	r, err := p.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}

	claimed, err := p.store.ClaimSummarization(ctx, roundID, false, p.staleBefore())
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Finished between our check and the claim, or still in progress
		if s, err := p.existing(ctx, roundID); s != nil || err != nil {
			return s, err
		}
		return nil, errors.NewStoreConflict(fmt.Sprintf("summary of round %s is being produced", roundID))
	}
	return p.summarize(ctx, r)
}

func (p *Pipeline) existing(ctx context.Context, roundID string) (*discussion.Summary, error) {
	s, err := p.store.GetSummaryByRound(ctx, roundID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return s, err
}

// summarize runs after a successful claim. Every failure path releases the claim.
func (p *Pipeline) summarize(ctx context.Context, r *discussion.Round) (*discussion.Summary, error) {
	ctx = logging.WithFields(ctx, logging.Fields{TopicID: r.TopicID, RoundID: r.ID, Component: "agora.summarize"})
	sp := logging.StartSpan(ctx, "summarize.round")
	defer sp.End()
	ctx = sp.Context()

	req, err := p.buildRequest(ctx, r)
	if err != nil {
		p.release(ctx, r.ID)
		sp.RecordError(err)
		return nil, err
	}

	sum := p.produce(ctx, req)
	id, err := discussion.NewID()
	if err != nil {
		p.release(ctx, r.ID)
		return nil, errors.NewInternal(err)
	}
	sum.ID = id
	sum.RoundID = r.ID
	sum.CreatedAt = time.Now().Unix()

	err = store.RetryConflict(ctx, p.retries, func() error {
		err := p.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.CreateSummary(ctx, sum)
		})
		if errors.Is(err, errors.ErrStoreConflict) {
			// A concurrent holder of a superseded claim may have won
			if existing, gerr := p.store.GetSummaryByRound(ctx, r.ID); gerr == nil {
				sum = existing
				return nil
			}
		}
		return err
	})
	if err != nil {
		p.release(ctx, r.ID)
		sp.RecordError(err)
		slog.ErrorContext(ctx, "summary persist failed", "error", err)
		return nil, err
	}

	slog.InfoContext(ctx, "round summarized",
		"summary_id", sum.ID, "degraded", sum.Degraded, "model", sum.ModelVersion, "comments", len(req.Comments))
	return sum, nil
}

func (p *Pipeline) buildRequest(ctx context.Context, r *discussion.Round) (Request, error) {
	comments, err := p.store.ListComments(ctx, r.ID, discussion.CommentActive)
	if err != nil {
		return Request{}, err
	}
	if len(comments) == 0 {
		return Request{}, errors.NewEmptyRound(r.ID)
	}

	topic, err := p.store.GetTopic(ctx, r.TopicID)
	if err != nil {
		return Request{}, err
	}

	req := Request{TopicTitle: topic.Title, RoundNumber: r.RoundNumber}
	for _, c := range comments {
		req.Comments = append(req.Comments, Comment{
			ID:           c.ID,
			Content:      c.Content,
			PositionType: c.PositionType,
			AuthorID:     c.AuthorID,
		})
	}
	return req, nil
}

// produce calls the Summarizer with a deadline and repairs its payload.
// Any failure yields a degraded digest.
func (p *Pipeline) produce(ctx context.Context, req Request) *discussion.Summary {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.summarizer.Summarize(callCtx, req)
	if err == nil && resp == nil {
		err = ErrMalformedPayload
	}
	var sum *discussion.Summary
	if err == nil {
		sum, err = Repair(resp.Payload, req, resp.Model)
	}
	if err != nil {
		diag := errors.NewSummarizerUnavailable(err)
		slog.WarnContext(ctx, "summarizer unavailable, using degraded digest",
			"code", string(diag.Code), "error", err, "timeout", p.timeout)
		return Degraded(req)
	}
	return sum
}

func (p *Pipeline) release(ctx context.Context, roundID string) {
	// The caller's context may already be done
	if err := p.store.ReleaseSummarization(context.WithoutCancel(ctx), roundID); err != nil {
		slog.WarnContext(ctx, "release summarization claim failed", "round_id", roundID, "error", err)
	}
}
