// Package digest renders round summaries as Markdown and HTML.
package digest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/hpungsan/agora/internal/discussion"
	"github.com/yuin/goldmark"
)

// Markdown renders a Summary as the seed context of the next round.
func Markdown(topicTitle string, roundNumber int, s *discussion.Summary) string {
	if s == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", oneLine(s.Title))
	fmt.Fprintf(&b, "_%s, round %d_\n\n", oneLine(topicTitle), roundNumber)

	if s.Degraded {
		b.WriteString("> Automated analysis was unavailable; this digest is a placeholder.\n\n")
	}
	if s.Overview != "" {
		b.WriteString(s.Overview)
		b.WriteString("\n\n")
	}

	section(&b, "Consensus", s.Consensus)
	section(&b, "Disagreements", s.Disagreements)
	section(&b, "Open questions", s.NewQuestions)

	if len(s.ReferencedComments) > 0 {
		b.WriteString("## Referenced comments\n\n")
		for _, id := range s.ReferencedComments {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Sentiment: **%s** · Convergence: **%.0f%%** · Model: `%s`\n",
		s.Sentiment, s.ConvergenceScore*100, s.ModelVersion)
	return b.String()
}

// HTML converts Markdown to HTML. Raw HTML in the input is not passed through.
func HTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func section(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", oneLine(item))
	}
	b.WriteString("\n")
}

// oneLine keeps model text from breaking list and heading structure.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
