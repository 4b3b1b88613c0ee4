package mcp

import "github.com/mark3labs/mcp-go/mcp"

var topicCreateToolDef = mcp.NewTool("topic_create",
	mcp.WithDescription("Create a discussion topic and open its first round. The creator counts as the first participant."),
	mcp.WithString("title", mcp.Required(), mcp.Description("Topic title (max 200 characters)")),
	mcp.WithString("description", mcp.Description("What the discussion is about")),
	mcp.WithString("created_by", mcp.Required(), mcp.Description("Author id of the creator")),
	mcp.WithNumber("max_rounds", mcp.Description("Round ceiling; defaults to the configured value"), mcp.Min(1)),
)

var topicGetToolDef = mcp.NewTool("topic_get",
	mcp.WithDescription("Get a topic with its round state, its rounds in order and each round's summary."),
	mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic id")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var topicArchiveToolDef = mcp.NewTool("topic_archive",
	mcp.WithDescription("Archive a topic. Its active round is locked; archived topics accept no comments or round actions."),
	mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic id")),
	mcp.WithIdempotentHintAnnotation(true),
)

var topicExportToolDef = mcp.NewTool("topic_export",
	mcp.WithDescription("Export a topic transcript (topic, rounds, comments, summaries) to a JSONL file."),
	mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic id")),
	mcp.WithString("path", mcp.Description("Destination .jsonl file directly inside the exports directory or an allowed path; defaults to a timestamped file in ~/.agora/exports")),
)

var commentAdmitToolDef = mcp.NewTool("comment_admit",
	mcp.WithDescription("Add a comment to the active round of a topic. Reaching the round's comment threshold produces its summary."),
	mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic id")),
	mcp.WithString("round_id", mcp.Description("Target round; defaults to the topic's current round")),
	mcp.WithString("author_id", mcp.Required(), mcp.Description("Author id")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Comment text")),
	mcp.WithString("position_type", mcp.Description("Stance tag, e.g. support, oppose; defaults to neutral")),
	mcp.WithBoolean("is_anonymous", mcp.Description("Hide the author in rendered output")),
)

var roundActionToolDef = mcp.NewTool("round_action",
	mcp.WithDescription("Start a round, lock the current round, or advance to the next round (lock + start). Advancing returns the locked round's summary as seed context."),
	mcp.WithString("topic_id", mcp.Required(), mcp.Description("Topic id")),
	mcp.WithString("action", mcp.Required(), mcp.Enum("start", "lock", "next"), mcp.Description("Round action")),
	mcp.WithNumber("from_round", mcp.Description("For next: the round number being advanced from. Omitted means the current round, so a repeated call without it advances again; pass the from_round echoed by the first call to repeat safely."), mcp.Min(0)),
)

var summaryRequestToolDef = mcp.NewTool("summary_request",
	mcp.WithDescription("Return the summary of a round, producing it now if it does not exist yet."),
	mcp.WithString("round_id", mcp.Required(), mcp.Description("Round id")),
	mcp.WithBoolean("html", mcp.Description("Also render the digest as HTML")),
	mcp.WithIdempotentHintAnnotation(true),
)

var summaryGetToolDef = mcp.NewTool("summary_get",
	mcp.WithDescription("Get the existing summary of a round with its Markdown digest."),
	mcp.WithString("round_id", mcp.Required(), mcp.Description("Round id")),
	mcp.WithBoolean("html", mcp.Description("Also render the digest as HTML")),
	mcp.WithReadOnlyHintAnnotation(true),
)
