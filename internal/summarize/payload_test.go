package summarize

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/hpungsan/agora/internal/discussion"
)

func testRequest(n int) Request {
	req := Request{TopicTitle: "Four-day week", RoundNumber: 2}
	for i := 0; i < n; i++ {
		req.Comments = append(req.Comments, Comment{ID: string(rune('A' + i)), Content: "c"})
	}
	return req
}

func TestRepair_WellFormed(t *testing.T) {
	payload := map[string]any{
		"title":              "Productivity concerns",
		"summary":            "People mostly agree.",
		"consensus":          []any{"trial first", "measure output"},
		"disagreements":      []any{"which day off"},
		"newQuestions":       []any{"what about support staff?"},
		"referencedComments": []any{"A", "C"},
		"sentiment":          "Positive",
		"convergenceScore":   0.8,
	}

	s, err := Repair(payload, testRequest(3), "gpt-test")
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if s.Title != "Productivity concerns" || s.Overview != "People mostly agree." {
		t.Errorf("title/overview = %q / %q", s.Title, s.Overview)
	}
	if len(s.Consensus) != 2 || len(s.Disagreements) != 1 || len(s.NewQuestions) != 1 {
		t.Errorf("lists = %v %v %v", s.Consensus, s.Disagreements, s.NewQuestions)
	}
	if s.Sentiment != discussion.SentimentPositive {
		t.Errorf("Sentiment = %q, want positive", s.Sentiment)
	}
	if s.ConvergenceScore != 0.8 || s.ModelVersion != "gpt-test" || s.Degraded {
		t.Errorf("score/model/degraded = %v / %q / %v", s.ConvergenceScore, s.ModelVersion, s.Degraded)
	}
}

func TestRepair_FieldByField(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		check func(t *testing.T, s *discussion.Summary)
	}{
		{
			name:  "single string list",
			input: map[string]any{"consensus": "everyone agrees"},
			check: func(t *testing.T, s *discussion.Summary) {
				if len(s.Consensus) != 1 || s.Consensus[0] != "everyone agrees" {
					t.Errorf("Consensus = %v", s.Consensus)
				}
			},
		},
		{
			name:  "non-strings dropped",
			input: map[string]any{"disagreements": []any{"x", 3.0, nil, map[string]any{}, "  ", "y"}},
			check: func(t *testing.T, s *discussion.Summary) {
				if len(s.Disagreements) != 2 {
					t.Errorf("Disagreements = %v, want [x y]", s.Disagreements)
				}
			},
		},
		{
			name:  "snake case keys",
			input: map[string]any{"new_questions": []any{"q"}, "convergence_score": 0.25},
			check: func(t *testing.T, s *discussion.Summary) {
				if len(s.NewQuestions) != 1 || s.ConvergenceScore != 0.25 {
					t.Errorf("NewQuestions = %v, score = %v", s.NewQuestions, s.ConvergenceScore)
				}
			},
		},
		{
			name:  "unknown references filtered",
			input: map[string]any{"referencedComments": []any{"A", "ZZZ", "B", "A"}},
			check: func(t *testing.T, s *discussion.Summary) {
				if strings.Join(s.ReferencedComments, ",") != "A,B" {
					t.Errorf("ReferencedComments = %v, want [A B]", s.ReferencedComments)
				}
			},
		},
		{
			name:  "invalid sentiment",
			input: map[string]any{"sentiment": "ecstatic"},
			check: func(t *testing.T, s *discussion.Summary) {
				if s.Sentiment != discussion.SentimentNeutral {
					t.Errorf("Sentiment = %q, want neutral", s.Sentiment)
				}
			},
		},
		{
			name:  "score clamped high",
			input: map[string]any{"convergenceScore": 7.0},
			check: func(t *testing.T, s *discussion.Summary) {
				if s.ConvergenceScore != 1 {
					t.Errorf("score = %v, want 1", s.ConvergenceScore)
				}
			},
		},
		{
			name:  "score clamped low",
			input: map[string]any{"convergenceScore": -2},
			check: func(t *testing.T, s *discussion.Summary) {
				if s.ConvergenceScore != 0 {
					t.Errorf("score = %v, want 0", s.ConvergenceScore)
				}
			},
		},
		{
			name:  "non-numeric score",
			input: map[string]any{"convergenceScore": "high"},
			check: func(t *testing.T, s *discussion.Summary) {
				if s.ConvergenceScore != DefaultConvergence {
					t.Errorf("score = %v, want default", s.ConvergenceScore)
				}
			},
		},
		{
			name:  "NaN score",
			input: map[string]any{"convergenceScore": math.NaN()},
			check: func(t *testing.T, s *discussion.Summary) {
				if s.ConvergenceScore != DefaultConvergence {
					t.Errorf("score = %v, want default", s.ConvergenceScore)
				}
			},
		},
		{
			name:  "long title truncated",
			input: map[string]any{"title": strings.Repeat("标", 80)},
			check: func(t *testing.T, s *discussion.Summary) {
				if discussion.CountChars(s.Title) != MaxTitleRunes {
					t.Errorf("title runes = %d, want %d", discussion.CountChars(s.Title), MaxTitleRunes)
				}
			},
		},
		{
			name:  "missing title falls back",
			input: map[string]any{"title": 42.0, "summary": "s"},
			check: func(t *testing.T, s *discussion.Summary) {
				if s.Title != "Round 2 summary (3 comments)" {
					t.Errorf("Title = %q", s.Title)
				}
			},
		},
		{
			name:  "missing lists are empty",
			input: map[string]any{"summary": "s"},
			check: func(t *testing.T, s *discussion.Summary) {
				if s.Consensus == nil || s.ReferencedComments == nil || len(s.Consensus) != 0 {
					t.Errorf("lists should be empty, not nil: %#v", s)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Repair(tt.input, testRequest(3), "m")
			if err != nil {
				t.Fatalf("Repair failed: %v", err)
			}
			tt.check(t, s)
		})
	}
}

func TestRepair_Malformed(t *testing.T) {
	for _, payload := range []map[string]any{nil, {}, {"unrelated": "x"}, {"title": nil}} {
		if _, err := Repair(payload, testRequest(1), "m"); err != ErrMalformedPayload {
			t.Errorf("Repair(%v) err = %v, want ErrMalformedPayload", payload, err)
		}
	}
}

func TestDegraded(t *testing.T) {
	s := Degraded(testRequest(5))

	if !s.Degraded || s.ModelVersion != DegradedModel {
		t.Errorf("Degraded/Model = %v / %q", s.Degraded, s.ModelVersion)
	}
	if strings.Join(s.ReferencedComments, ",") != "A,B,C" {
		t.Errorf("ReferencedComments = %v, want first three", s.ReferencedComments)
	}
	if s.Sentiment != discussion.SentimentNeutral || s.ConvergenceScore != 0.5 {
		t.Errorf("sentiment/score = %q / %v", s.Sentiment, s.ConvergenceScore)
	}
	if s.Title != "Round 2 summary (5 comments)" {
		t.Errorf("Title = %q", s.Title)
	}
	placeholders := [][]string{s.Consensus, s.Disagreements, s.NewQuestions}
	want := []string{DegradedConsensus, DegradedDisagreements, DegradedQuestions}
	for i, got := range placeholders {
		if len(got) != 1 || got[0] != want[i] {
			t.Errorf("placeholder %d = %v, want [%q]", i, got, want[i])
		}
		if len(got) == 1 && !strings.Contains(got[0], "unavailable") {
			t.Errorf("placeholder %q does not state analysis was unavailable", got[0])
		}
	}

	if got := Degraded(testRequest(1)).ReferencedComments; len(got) != 1 {
		t.Errorf("ReferencedComments = %v, want one", got)
	}
}

func TestUnavailable(t *testing.T) {
	if _, err := (Unavailable{}).Summarize(context.Background(), Request{}); err == nil {
		t.Error("Unavailable should fail")
	}
}
