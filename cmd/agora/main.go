package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/db"
	"github.com/hpungsan/agora/internal/llm"
	"github.com/hpungsan/agora/internal/logging"
	"github.com/hpungsan/agora/internal/mcp"
	"github.com/hpungsan/agora/internal/ops"
	"github.com/hpungsan/agora/internal/summarize"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"topic": true, "comment": true, "round": true, "summary": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
     _
    / \   __ _  ___  _ __ __ _
   / _ \ / _' |/ _ \| '__/ _' |
  / ___ \ (_| | (_) | | | (_| |
 /_/   \_\__, |\___/|_|  \__,_|
         |___/

  Round-based discussions with summaries

  Usage: agora <command> [options]
         agora --help

  MCP server mode requires piped input.`)
}

// newSummarizer picks the model-backed summarizer when an API key is
// configured. Without one every summary is degraded.
func newSummarizer(cfg *config.Config) summarize.Summarizer {
	if !cfg.AI.Enabled() {
		return summarize.Unavailable{Reason: "no AI_API_KEY configured"}
	}
	client, err := llm.New(cfg.AI)
	if err != nil {
		slog.Warn("summarizer disabled", "error", err)
		return summarize.Unavailable{Reason: err.Error()}
	}
	slog.Info("summarizer enabled", "model", client.Model())
	return client
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".agora")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	config.LoadEnv(cfg, ".env")
	cfg.ExportsDir = filepath.Join(baseDir, "exports")
	logging.Setup(cfg)

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	svc := ops.New(db.NewStore(database), newSummarizer(cfg), cfg)

	if isCLIMode() {
		app := newCLIApp(svc)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'agora --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		slog.Warn("unknown tools in disabled_tools", "tools", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		slog.Warn("unknown types in disabled_types", "types", unknown)
	}

	if err := mcp.Run(svc, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
