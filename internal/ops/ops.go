// Package ops exposes the discussion operations shared by the CLI and the
// MCP server. Each operation takes an XInput struct and returns an XOutput.
package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/agora/internal/admission"
	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/round"
	"github.com/hpungsan/agora/internal/store"
	"github.com/hpungsan/agora/internal/summarize"
)

// Topic field limits
const (
	MaxTitleChars       = 200
	MaxDescriptionChars = 10000
)

// Round actions accepted by PerformRoundAction.
const (
	ActionStart = "start"
	ActionLock  = "lock"
	ActionNext  = "next"
)

// Service wires the round manager, admission gate and summarization
// pipeline over one Store.
type Service struct {
	store    store.Store
	cfg      *config.Config
	rounds   *round.Manager
	gate     *admission.Gate
	pipeline *summarize.Pipeline
}

// New creates a Service. A nil summarizer always yields degraded digests.
func New(s store.Store, summarizer summarize.Summarizer, cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Service{
		store:    s,
		cfg:      cfg,
		rounds:   round.NewManager(s, cfg),
		gate:     admission.NewGate(s, cfg),
		pipeline: summarize.NewPipeline(s, summarizer, cfg),
	}
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// requireID trims an identifier and rejects it when empty.
func requireID(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.NewInvalidRequest(field + " is required")
	}
	return value, nil
}

// checkContext converts a finished context into an error.
func checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewInternal(fmt.Errorf("%s cancelled: %w", op, err))
	}
	return nil
}
