package llm

import (
	"fmt"
	"strings"

	"github.com/hpungsan/agora/internal/summarize"
)

const systemPrompt = "You are the recorder of a structured multi-round discussion. " +
	"Distill the core viewpoints of the round you are given. " +
	"Answer in the language the participants use, as a single JSON object."

// BuildPrompt renders the user prompt for one round.
func BuildPrompt(req summarize.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze round %d of the discussion %q and produce a structured digest.\n\n", req.RoundNumber, req.TopicTitle)
	b.WriteString("Comments:\n")
	for i, c := range req.Comments {
		fmt.Fprintf(&b, "[%d] (id=%s, stance=%s) %s\n", i+1, c.ID, c.PositionType, strings.TrimSpace(c.Content))
	}
	b.WriteString(`
Provide:
1. title: a headline of at most 50 characters
2. summary: an overall summary of about 200 words
3. consensus: 3-5 concrete points of agreement
4. disagreements: 3-5 concrete points of disagreement
5. newQuestions: 2-3 questions worth exploring next
6. referencedComments: ids of the 3-5 most representative comments, copied from the list above
7. sentiment: positive, negative or neutral
8. convergenceScore: 0 to 1, where 0.7 means the group is converging well
`)
	return b.String()
}
