package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/agora/internal/digest"
	"github.com/hpungsan/agora/internal/discussion"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/round"
)

// RoundActionInput contains parameters for the PerformRoundAction operation.
type RoundActionInput struct {
	TopicID string `json:"topic_id"`
	Action  string `json:"action"` // start, lock or next

	// FromRound is the round "next" advances from; 0 means the current round
	FromRound int `json:"from_round,omitempty"`
}

// RoundActionOutput contains the result of the PerformRoundAction operation.
type RoundActionOutput struct {
	Action string      `json:"action"`
	State  round.State `json:"state"`

	// Changed is false when the action found nothing to do
	Changed bool `json:"changed"`

	// FromRound is the round number next advanced from. Repeating next with
	// it opens no further round.
	FromRound int `json:"from_round,omitempty"`

	// Round is the round opened by start or next, or the current round after next
	Round *discussion.Round `json:"round,omitempty"`

	// Locked is the round completed by lock or next
	Locked *discussion.Round `json:"locked,omitempty"`

	// Seed is the Summary of the locked round handed to the next round
	Seed         *discussion.Summary `json:"seed,omitempty"`
	SeedMarkdown string              `json:"seed_markdown,omitempty"`
}

// PerformRoundAction starts, locks or advances the rounds of a topic.
func (s *Service) PerformRoundAction(ctx context.Context, input RoundActionInput) (*RoundActionOutput, error) {
	topicID, err := requireID("topic_id", input.TopicID)
	if err != nil {
		return nil, err
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))
	if input.FromRound < 0 {
		return nil, errors.NewInvalidRequest("from_round must not be negative")
	}

	out := &RoundActionOutput{Action: action}
	switch action {
	case ActionStart:
		r, err := s.rounds.OpenRound(ctx, topicID)
		if err != nil {
			return nil, err
		}
		out.Round, out.Changed = r, true

	case ActionLock:
		r, changed, err := s.rounds.LockRound(ctx, topicID)
		if err != nil {
			return nil, err
		}
		out.Locked, out.Changed = r, changed

	case ActionNext:
		adv, err := s.rounds.AdvanceRound(ctx, topicID, input.FromRound)
		if err != nil {
			return nil, err
		}
		out.Round, out.Locked, out.Changed = adv.Opened, adv.Locked, adv.Advanced
		out.FromRound = input.FromRound
		if out.FromRound == 0 && adv.Locked != nil {
			out.FromRound = adv.Locked.RoundNumber
		}
		if adv.Seed != nil {
			topic, err := s.store.GetTopic(ctx, topicID)
			if err != nil {
				return nil, err
			}
			out.Seed = adv.Seed
			out.SeedMarkdown = digest.Markdown(topic.Title, adv.Locked.RoundNumber, adv.Seed)
		}

	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown round action %q (want start, lock or next)", input.Action))
	}

	state, err := s.rounds.State(ctx, topicID)
	if err != nil {
		return nil, err
	}
	out.State = state
	return out, nil
}
