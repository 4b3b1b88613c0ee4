package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/agora/internal/errors"
	"github.com/hpungsan/agora/internal/ops"
)

// maxStdinBytes caps comment content read from stdin.
const maxStdinBytes = 1 << 20

// newCLIApp creates the CLI application with all commands.
// svc may be nil when only help or version output is needed.
func newCLIApp(svc *ops.Service) *cli.App {
	app := &cli.App{
		Name:    "agora",
		Usage:   "Round-based discussions with summaries",
		Version: Version,
		Commands: []*cli.Command{
			topicCmd(svc),
			commentCmd(svc),
			roundCmd(svc),
			summaryCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func topicCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "topic",
		Usage: "Create, show, archive and export topics",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a topic and open its first round",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Topic title", Required: true},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Topic description"},
					&cli.StringFlag{Name: "by", Usage: "Creator author id", Required: true},
					&cli.IntFlag{Name: "max-rounds", Usage: "Round ceiling (0 uses the configured default)"},
				},
				Action: func(c *cli.Context) error {
					output, err := svc.CreateTopic(c.Context, ops.CreateTopicInput{
						Title:       c.String("title"),
						Description: c.String("description"),
						CreatedBy:   c.String("by"),
						MaxRounds:   c.Int("max-rounds"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show a topic with its rounds and summaries",
				ArgsUsage: "<topic-id>",
				Action: func(c *cli.Context) error {
					output, err := svc.GetTopic(c.Context, ops.GetTopicInput{ID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "archive",
				Usage:     "Archive a topic, locking its active round",
				ArgsUsage: "<topic-id>",
				Action: func(c *cli.Context) error {
					output, err := svc.ArchiveTopic(c.Context, ops.ArchiveTopicInput{ID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "export",
				Usage:     "Export a topic transcript to JSONL",
				ArgsUsage: "<topic-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Destination .jsonl file (default: ~/.agora/exports)"},
				},
				Action: func(c *cli.Context) error {
					output, err := svc.ExportTopic(c.Context, ops.ExportInput{
						TopicID: c.Args().First(),
						Path:    c.String("path"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

func commentCmd(svc *ops.Service) *cli.Command {
	return &cli.Command{
		Name:  "comment",
		Usage: "Add comments to rounds",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a comment (content from arguments or stdin)",
				ArgsUsage: "[content]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "topic", Usage: "Topic id", Required: true},
					&cli.StringFlag{Name: "round", Usage: "Round id (default: current round)"},
					&cli.StringFlag{Name: "author", Aliases: []string{"a"}, Usage: "Author id", Required: true},
					&cli.StringFlag{Name: "position", Usage: "Stance tag, e.g. support, oppose"},
					&cli.BoolFlag{Name: "anonymous", Usage: "Hide the author in rendered output"},
				},
				Action: func(c *cli.Context) error {
					content := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if content == "" && stdinHasData() {
						var err error
						content, err = readStdin(maxStdinBytes)
						if err != nil {
							return outputError(errors.NewInvalidRequest(err.Error()))
						}
					}

					output, err := svc.AdmitComment(c.Context, ops.AdmitCommentInput{
						TopicID:      c.String("topic"),
						RoundID:      c.String("round"),
						AuthorID:     c.String("author"),
						Content:      content,
						PositionType: c.String("position"),
						IsAnonymous:  c.Bool("anonymous"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

func roundCmd(svc *ops.Service) *cli.Command {
	action := func(name string) cli.ActionFunc {
		return func(c *cli.Context) error {
			return runRoundAction(c.Context, svc, ops.RoundActionInput{
				TopicID:   c.Args().First(),
				Action:    name,
				FromRound: c.Int("from"),
			})
		}
	}

	return &cli.Command{
		Name:  "round",
		Usage: "Start, lock or advance the rounds of a topic",
		Subcommands: []*cli.Command{
			{
				Name:      ops.ActionStart,
				Usage:     "Open the next round",
				ArgsUsage: "<topic-id>",
				Action:    action(ops.ActionStart),
			},
			{
				Name:      ops.ActionLock,
				Usage:     "Lock the active round",
				ArgsUsage: "<topic-id>",
				Action:    action(ops.ActionLock),
			},
			{
				Name:      ops.ActionNext,
				Usage:     "Lock the active round and open the next one",
				ArgsUsage: "<topic-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "from", Usage: "Round number being advanced from; omitted means the current round, so only runs with --from are safe to repeat"},
				},
				Action: action(ops.ActionNext),
			},
		},
	}
}

func runRoundAction(ctx context.Context, svc *ops.Service, input ops.RoundActionInput) error {
	output, err := svc.PerformRoundAction(ctx, input)
	if err != nil {
		return outputError(err)
	}
	return outputJSON(output)
}

func summaryCmd(svc *ops.Service) *cli.Command {
	htmlFlag := &cli.BoolFlag{Name: "html", Usage: "Also render the digest as HTML"}

	return &cli.Command{
		Name:  "summary",
		Usage: "Produce or show round summaries",
		Subcommands: []*cli.Command{
			{
				Name:      "request",
				Usage:     "Return a round's summary, producing it if missing",
				ArgsUsage: "<round-id>",
				Flags:     []cli.Flag{htmlFlag},
				Action: func(c *cli.Context) error {
					output, err := svc.RequestSummary(c.Context, ops.SummaryInput{
						RoundID: c.Args().First(),
						HTML:    c.Bool("html"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show an existing round summary",
				ArgsUsage: "<round-id>",
				Flags:     []cli.Flag{htmlFlag},
				Action: func(c *cli.Context) error {
					output, err := svc.GetSummary(c.Context, ops.SummaryInput{
						RoundID: c.Args().First(),
						HTML:    c.Bool("html"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// outputJSON writes indented JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if aErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", aErr.Code, aErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}
