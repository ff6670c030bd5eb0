package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/oracle/internal/errs"
	"github.com/kalambet/oracle/internal/oracle"
	"github.com/kalambet/oracle/internal/retrieval"
)

// NewMCPServer registers the oracle tools on an MCP server. Tools report
// failures as error results rather than protocol errors.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"oracle",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithInstructions("Oracle: evidence search and next-step suggestions for incubator teams."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_evidence",
			mcp.WithDescription("Semantically search indexed content and past answers."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Maximum number of results (default 5, max 20)")),
			mcp.WithString("role", mcp.Description("Only return rows visible to this role")),
		),
		mcpSearchEvidence(deps),
	)

	s.AddTool(
		mcp.NewTool("suggest_next_steps",
			mcp.WithDescription("Suggest people, resources and actions for a team or project."),
			mcp.WithString("actor_id", mcp.Description("ID of the person asking"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What the team is working on or needs"), mcp.Required()),
			mcp.WithString("subject_id", mcp.Description("Team or project ID, used to look up related people")),
			mcp.WithString("title", mcp.Description("Team or project title")),
			mcp.WithNumber("k", mcp.Description("Evidence lines to consider")),
		),
		mcpSuggest(deps),
	)

	s.AddTool(
		mcp.NewTool("add_content",
			mcp.WithDescription("Store a document so later searches and suggestions can cite it."),
			mcp.WithString("text", mcp.Description("Document text"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Document title")),
			mcp.WithString("source_type", mcp.Description("Kind of document, e.g. skill_offer")),
			mcp.WithArray("role_visibility", mcp.Description("Roles allowed to see the document; empty means everyone")),
		),
		mcpAddContent(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Rate a previous suggestion so the oracle can learn from it."),
			mcp.WithString("interaction_id", mcp.Description("interactionId from the suggestion response"), mcp.Required()),
			mcp.WithNumber("satisfaction", mcp.Description("Rating from 1 to 5"), mcp.Required()),
			mcp.WithBoolean("helpful", mcp.Description("Whether the suggestion helped")),
		),
		mcpSubmitFeedback(deps),
	)

	return s
}

func mcpSearchEvidence(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		k := deps.searchK(req.GetInt("k", 0))

		hits, err := deps.Searcher.Search(ctx, query, k, retrieval.Filter{Role: req.GetString("role", "")})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %s", errs.SafeMessage(err))), nil
		}
		if hits == nil {
			hits = []retrieval.Hit{}
		}
		return mcpJSON(hits)
	}
}

func mcpSuggest(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actor, err := req.RequireString("actor_id")
		if err != nil {
			return mcpError("actor_id is required"), nil
		}
		desc, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		res, err := deps.Suggester.Suggest(ctx, oracle.Request{
			ActorID: actor,
			Subject: oracle.Subject{
				ID:          req.GetString("subject_id", ""),
				Title:       req.GetString("title", ""),
				Description: desc,
			},
			EvidenceLimit: req.GetInt("k", 0),
		})
		if err != nil {
			return mcpError(errs.SafeMessage(err)), nil
		}
		return mcpJSON(res.Response)
	}
}

func mcpAddContent(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		resp, err := submitContent(ctx, deps, ContentRequest{
			Title:          req.GetString("title", ""),
			Text:           text,
			SourceType:     req.GetString("source_type", ""),
			RoleVisibility: req.GetStringSlice("role_visibility", nil),
		}, "mcp")
		if err != nil {
			return mcpError(errs.SafeMessage(err)), nil
		}
		return mcpText(fmt.Sprintf("Stored content %s; indexing queued", resp.ID)), nil
	}
}

func mcpSubmitFeedback(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("interaction_id")
		if err != nil {
			return mcpError("interaction_id is required"), nil
		}
		sat := req.GetInt("satisfaction", 0)

		var helpful *bool
		if v, ok := req.GetArguments()["helpful"].(bool); ok {
			helpful = &v
		}
		if err := deps.Feedback.Feedback(ctx, id, sat, helpful); err != nil {
			return mcpError(errs.SafeMessage(err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded rating %d for %s", sat, id)), nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
