package ops

import (
	"context"
	"log/slog"

	"github.com/hpungsan/agora/internal/admission"
	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/logging"
	"github.com/hpungsan/agora/internal/round"
)

// AdmitCommentInput contains parameters for the AdmitComment operation.
type AdmitCommentInput = admission.Input

// AdmitCommentOutput contains the result of the AdmitComment operation.
type AdmitCommentOutput struct {
	Comment        *discussion.Comment `json:"comment"`
	CommentCount   int                 `json:"comment_count"`
	RoundID        string              `json:"round_id"`
	RoundNumber    int                 `json:"round_number"`
	NewParticipant bool                `json:"new_participant"`

	// Summary is set when this comment crossed the threshold and produced the round's digest
	Summary *discussion.Summary `json:"summary,omitempty"`

	// Advance is set when auto-advance opened the next round
	Advance *round.Advance `json:"advance,omitempty"`

	// Exhausted reports that auto-advance found the round ceiling reached
	Exhausted bool `json:"exhausted,omitempty"`
}

// AdmitComment admits a comment and, once the round reaches its threshold,
// summarizes it. Summarization and auto-advance never fail the admission.
func (s *Service) AdmitComment(ctx context.Context, input AdmitCommentInput) (*AdmitCommentOutput, error) {
	adm, err := s.gate.Admit(ctx, input)
	if err != nil {
		return nil, err
	}

	out := &AdmitCommentOutput{
		Comment:        adm.Comment,
		CommentCount:   adm.CommentCount,
		RoundID:        adm.Round.ID,
		RoundNumber:    adm.Round.RoundNumber,
		NewParticipant: adm.NewParticipant,
	}
	if !adm.Round.ThresholdReached() {
		return out, nil
	}

	ctx = logging.WithFields(ctx, logging.Fields{
		TopicID:   adm.Round.TopicID,
		RoundID:   adm.Round.ID,
		Component: "agora.ops",
	})

	sum, err := s.pipeline.MaybeTrigger(ctx, adm.Round.ID)
	if err != nil {
		slog.WarnContext(ctx, "summarization trigger failed", "error", err)
		return out, nil
	}
	if sum == nil {
		return out, nil
	}
	out.Summary = sum

	if !s.cfg.AutoAdvance {
		return out, nil
	}

	adv, err := s.rounds.AdvanceRound(ctx, adm.Round.TopicID, adm.Round.RoundNumber)
	switch {
	case errors.Is(err, errors.ErrRoundLimitExceeded):
		out.Exhausted = true
		slog.InfoContext(ctx, "topic exhausted its rounds", "round_number", adm.Round.RoundNumber)
	case err != nil:
		slog.WarnContext(ctx, "auto-advance failed", "error", err)
	default:
		out.Advance = adv
	}
	return out, nil
}
