// Package summarize turns the comments of a round into a Summary, exactly once
// per round, falling back to a degraded digest when the model is unavailable.
package summarize

import (
	"context"
	stderrors "errors"
)

// Comment is the view of a comment handed to a Summarizer.
type Comment struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	PositionType string `json:"position_type"`
	AuthorID     string `json:"author_id"`
}

// Request is the input of one summarization.
type Request struct {
	Comments    []Comment `json:"comments"`
	TopicTitle  string    `json:"topic_title"`
	RoundNumber int       `json:"round_number"`
}

// Response is the raw, untrusted output of a Summarizer.
type Response struct {
	Payload map[string]any
	Model   string
}

// Summarizer produces a digest payload for a round.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*Response, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, req Request) (*Response, error)

func (f SummarizerFunc) Summarize(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Unavailable is a Summarizer that always fails. Every summary produced
// through it is degraded.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Summarize(context.Context, Request) (*Response, error) {
	reason := u.Reason
	if reason == "" {
		reason = "no summarizer configured"
	}
	return nil, stderrors.New(reason)
}
