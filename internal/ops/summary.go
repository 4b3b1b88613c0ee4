package ops

import (
	"context"

	"github.com/hpungsan/agora/internal/digest"
	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
)

// SummaryInput addresses the Summary of one round.
type SummaryInput struct {
	RoundID string `json:"round_id"`

	// HTML also renders the digest as HTML
	HTML bool `json:"html,omitempty"`
}

// SummaryOutput contains a round Summary and its rendered digest.
type SummaryOutput struct {
	Summary     *discussion.Summary `json:"summary"`
	TopicID     string              `json:"topic_id"`
	RoundNumber int                 `json:"round_number"`
	Markdown    string              `json:"markdown"`
	HTML        string              `json:"html,omitempty"`
}

// RequestSummary returns the Summary of a round, producing it first if the
// round has none. The comment threshold does not apply.
func (s *Service) RequestSummary(ctx context.Context, input SummaryInput) (*SummaryOutput, error) {
	roundID, err := requireID("round_id", input.RoundID)
	if err != nil {
		return nil, err
	}

	sum, err := s.pipeline.Request(ctx, roundID)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, roundID, sum, input.HTML)
}

// GetSummary returns the existing Summary of a round without producing one.
func (s *Service) GetSummary(ctx context.Context, input SummaryInput) (*SummaryOutput, error) {
	roundID, err := requireID("round_id", input.RoundID)
	if err != nil {
		return nil, err
	}

	sum, err := s.store.GetSummaryByRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// Distinguish a missing round from a round without a summary
			if _, rerr := s.store.GetRound(ctx, roundID); rerr != nil {
				return nil, rerr
			}
		}
		return nil, err
	}
	return s.render(ctx, roundID, sum, input.HTML)
}

func (s *Service) render(ctx context.Context, roundID string, sum *discussion.Summary, withHTML bool) (*SummaryOutput, error) {
	r, err := s.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	topic, err := s.store.GetTopic(ctx, r.TopicID)
	if err != nil {
		return nil, err
	}

	out := &SummaryOutput{
		Summary:     sum,
		TopicID:     topic.ID,
		RoundNumber: r.RoundNumber,
		Markdown:    digest.Markdown(topic.Title, r.RoundNumber, sum),
	}
	if withHTML {
		html, err := digest.HTML(out.Markdown)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out.HTML = html
	}
	return out, nil
}
