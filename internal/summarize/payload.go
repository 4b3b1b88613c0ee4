package summarize

import (
	stderrors "errors"
	"fmt"
	"math"
	"strings"

	"github.com/hpungsan/agora/internal/discussion"
)

const (
	// MaxTitleRunes bounds summary titles.
	MaxTitleRunes = 50

	// DefaultConvergence is used when the model gives no usable score.
	DefaultConvergence = 0.5
)

// ErrMalformedPayload reports a payload with none of the digest fields.
var ErrMalformedPayload = stderrors.New("malformed summarizer payload")

// digestKeys lists accepted spellings per field, first match wins.
var digestKeys = struct {
	title, overview, consensus, disagreements, questions, referenced, sentiment, score []string
}{
	title:         []string{"title"},
	overview:      []string{"summary", "overview"},
	consensus:     []string{"consensus"},
	disagreements: []string{"disagreements"},
	questions:     []string{"newQuestions", "new_questions"},
	referenced:    []string{"referencedComments", "referenced_comments"},
	sentiment:     []string{"sentiment"},
	score:         []string{"convergenceScore", "convergence_score"},
}

// Repair builds a Summary from an untrusted payload, field by field.
// Only a payload carrying no recognizable field is rejected.
func Repair(payload map[string]any, req Request, model string) (*discussion.Summary, error) {
	if !hasAny(payload) {
		return nil, ErrMalformedPayload
	}

	s := &discussion.Summary{
		ModelVersion:       model,
		Overview:           stringField(payload, digestKeys.overview),
		Consensus:          listField(payload, digestKeys.consensus),
		Disagreements:      listField(payload, digestKeys.disagreements),
		NewQuestions:       listField(payload, digestKeys.questions),
		ReferencedComments: referencedField(payload, req),
		Sentiment:          sentimentField(payload),
		ConvergenceScore:   scoreField(payload),
	}

	s.Title = discussion.TruncateRunes(strings.TrimSpace(stringField(payload, digestKeys.title)), MaxTitleRunes)
	if s.Title == "" {
		s.Title = FallbackTitle(req)
	}
	if s.ModelVersion == "" {
		s.ModelVersion = "unknown"
	}
	return s, nil
}

// FallbackTitle names a round digest when the model gave no title.
func FallbackTitle(req Request) string {
	return discussion.TruncateRunes(
		fmt.Sprintf("Round %d summary (%d comments)", req.RoundNumber, len(req.Comments)),
		MaxTitleRunes,
	)
}

func hasAny(payload map[string]any) bool {
	for _, keys := range [][]string{
		digestKeys.title, digestKeys.overview, digestKeys.consensus, digestKeys.disagreements,
		digestKeys.questions, digestKeys.referenced, digestKeys.sentiment, digestKeys.score,
	} {
		if _, ok := lookup(payload, keys); ok {
			return true
		}
	}
	return false
}

func lookup(payload map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(payload map[string]any, keys []string) string {
	v, _ := lookup(payload, keys)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// listField accepts a list of strings (non-strings dropped) or a single string.
func listField(payload map[string]any, keys []string) []string {
	out := []string{}
	v, ok := lookup(payload, keys)
	if !ok {
		return out
	}

	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			out = append(out, s)
		}
	case []string:
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// referencedField keeps only ids of comments present in the request, once each.
func referencedField(payload map[string]any, req Request) []string {
	known := make(map[string]bool, len(req.Comments))
	for _, c := range req.Comments {
		known[c.ID] = true
	}

	out := []string{}
	seen := make(map[string]bool)
	for _, id := range listField(payload, digestKeys.referenced) {
		if known[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func sentimentField(payload map[string]any) string {
	switch s := strings.ToLower(stringField(payload, digestKeys.sentiment)); s {
	case discussion.SentimentPositive, discussion.SentimentNegative, discussion.SentimentNeutral:
		return s
	default:
		return discussion.SentimentNeutral
	}
}

func scoreField(payload map[string]any) float64 {
	v, ok := lookup(payload, digestKeys.score)
	if !ok {
		return DefaultConvergence
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return DefaultConvergence
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultConvergence
	}
	return math.Max(0, math.Min(1, f))
}
