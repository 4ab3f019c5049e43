package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dailydrip/internal/rag"
	"github.com/kalambet/dailydrip/internal/storage"
)

// BuildLister abstracts build history for the MCP layer.
type BuildLister interface {
	GetRecentBuilds(limit int) ([]storage.Build, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service Retriever
	Builds  BuildLister // optional; if nil, the builds resource is not registered
	Version string
}

// NewMCPServer creates an MCP server with the brew lookup tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"dailydrip",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("dailydrip: find past coffee brews for a bean and use their recipes and ratings as a reference."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("find_reference_brews",
			mcp.WithDescription("Find past brews of similar beans, optionally reranked by how well they were rated."),
			mcp.WithObject("bean", mcp.Description("Bean description, e.g. {\"name\":..., \"origin\":..., \"process\":...}")),
			mcp.WithString("query", mcp.Description("Free-text query, used when no bean is given")),
			mcp.WithNumber("k", mcp.Description(fmt.Sprintf("Number of results (1-%d, default %d)", rag.MaxK, rag.DefaultK))),
			mcp.WithBoolean("use_evaluation_reranking", mcp.Description("Rerank candidates by their evaluation")),
			mcp.WithNumber("similarity_weight", mcp.Description("Weight of similarity vs evaluation when reranking (0-1)")),
			mcp.WithNumber("retrieval_multiplier", mcp.Description(fmt.Sprintf("Candidates fetched per result when reranking (1-%d)", rag.MaxMultiplier))),
			mcp.WithString("user_id", mcp.Description("Include this user's private brews")),
		),
		mcpFindReferenceBrews(deps),
	)

	s.AddTool(
		mcp.NewTool("add_brew",
			mcp.WithDescription("Store a private brew record for a user so later lookups can use it."),
			mcp.WithString("user_id", mcp.Description("Owner of the record"), mcp.Required()),
			mcp.WithObject("record", mcp.Description("Brew record with bean, brewing and evaluation sections"), mcp.Required()),
			mcp.WithString("id", mcp.Description("Record id, scoped to the user; derived from the content when omitted")),
		),
		mcpAddBrew(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"dailydrip://health",
			"Index Health",
			mcp.WithResourceDescription("Collection name, entry count and status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHealth(deps),
	)

	if deps.Builds != nil {
		s.AddResource(
			mcp.NewResource(
				"dailydrip://builds/recent",
				"Recent Builds",
				mcp.WithResourceDescription("Last 10 ingest/index runs"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecentBuilds(deps),
		)
	}

	return s
}

func mcpFindReferenceBrews(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		q := rag.Query{
			Text:                   req.GetString("query", ""),
			UseEvaluationReranking: req.GetBool("use_evaluation_reranking", false),
			UserID:                 req.GetString("user_id", ""),
		}
		if bean, ok := args["bean"].(map[string]any); ok {
			q.Bean = bean
		}
		if _, ok := args["k"]; ok {
			k := req.GetInt("k", rag.DefaultK)
			q.K = &k
		}
		if _, ok := args["similarity_weight"]; ok {
			w := req.GetFloat("similarity_weight", rag.DefaultWeight)
			q.SimilarityWeight = &w
		}
		if _, ok := args["retrieval_multiplier"]; ok {
			m := req.GetInt("retrieval_multiplier", rag.DefaultMultiplier)
			q.RetrievalMultiplier = &m
		}

		resp, err := deps.Service.Retrieve(ctx, q)
		if err != nil {
			return mcpError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddBrew(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		record, ok := req.GetArguments()["record"].(map[string]any)
		if !ok {
			return mcpError("record is required"), nil
		}

		res, err := deps.Service.Feedback(ctx, rag.FeedbackInput{
			UserID: userID,
			ID:     req.GetString("id", ""),
			Record: record,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store brew: %v", err)), nil
		}
		if res.Created {
			return mcpText(fmt.Sprintf("Stored brew %s", res.ID)), nil
		}
		return mcpText(fmt.Sprintf("Updated brew %s", res.ID)), nil
	}
}

func mcpResourceHealth(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Service.Health(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health: %w", err)
		}
		return mcpJSONResource(req.Params.URI, b), nil
	}
}

func mcpResourceRecentBuilds(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		builds, err := deps.Builds.GetRecentBuilds(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent builds: %w", err)
		}
		if builds == nil {
			builds = []storage.Build{}
		}

		b, err := json.Marshal(builds)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal builds: %w", err)
		}
		return mcpJSONResource(req.Params.URI, b), nil
	}
}

func mcpJSONResource(uri string, b []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}
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
