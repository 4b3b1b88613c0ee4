package mcp

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/agora/internal/config"
	"github.com/hpungsan/agora/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"topic", "comment", "round", "summary"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"topic_create": {
		def:     topicCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTopicCreate },
	},
	"topic_get": {
		def:     topicGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTopicGet },
	},
	"topic_archive": {
		def:     topicArchiveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTopicArchive },
	},
	"topic_export": {
		def:     topicExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTopicExport },
	},
	"comment_admit": {
		def:     commentAdmitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCommentAdmit },
	},
	"round_action": {
		def:     roundActionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRoundAction },
	},
	"summary_request": {
		def:     summaryRequestToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSummaryRequest },
	},
	"summary_get": {
		def:     summaryGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSummaryGet },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "topic_create" → "topic").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates an MCP server exposing the discussion operations.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(svc *ops.Service, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"agora",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(svc)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(svc *ops.Service, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(svc, cfg, version))
}
