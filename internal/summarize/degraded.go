package summarize

import "github.com/hpungsan/agora/internal/discussion"

const (
	// DegradedModel tags summaries synthesized without a model.
	DegradedModel = "degraded"

	degradedOverview = "Automated analysis was unavailable for this round. " +
		"The referenced comments are the first contributions, listed for manual review."

	// Placeholders standing in for the analyzed sections of a degraded digest.
	DegradedConsensus     = "Consensus could not be analyzed: automated analysis was unavailable."
	DegradedDisagreements = "Disagreements could not be analyzed: automated analysis was unavailable."
	DegradedQuestions     = "Open questions could not be analyzed: automated analysis was unavailable."

	degradedReferences = 3
)

// Degraded builds the placeholder digest used when the Summarizer fails.
func Degraded(req Request) *discussion.Summary {
	refs := []string{}
	for i := 0; i < len(req.Comments) && i < degradedReferences; i++ {
		refs = append(refs, req.Comments[i].ID)
	}

	return &discussion.Summary{
		Title:              FallbackTitle(req),
		Overview:           degradedOverview,
		Consensus:          []string{DegradedConsensus},
		Disagreements:      []string{DegradedDisagreements},
		NewQuestions:       []string{DegradedQuestions},
		ReferencedComments: refs,
		Sentiment:          discussion.SentimentNeutral,
		ConvergenceScore:   DefaultConvergence,
		ModelVersion:       DegradedModel,
		Degraded:           true,
	}
}
