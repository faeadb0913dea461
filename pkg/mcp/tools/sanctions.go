// Package tools provides MCP tool implementations for the sanctions engine.
package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/logging"
	"github.com/ekaya-inc/sanctions-engine/pkg/models"
	"github.com/ekaya-inc/sanctions-engine/pkg/repositories"
	"github.com/ekaya-inc/sanctions-engine/pkg/services"
)

// SanctionsToolDeps contains dependencies for sanctions tools.
type SanctionsToolDeps struct {
	MatchService services.MatchService
	SyncService  services.SanctionsSyncService
	Repo         repositories.SanctionsRepository
	Logger       *zap.Logger
}

// RegisterSanctionsTools registers the screening, sync-status and entity tools.
func RegisterSanctionsTools(s *server.MCPServer, deps *SanctionsToolDeps) {
	registerScreenCompanyTool(s, deps)
	registerSyncStatusTool(s, deps)
	registerGetEntityTool(s, deps)
}

func registerScreenCompanyTool(s *server.MCPServer, deps *SanctionsToolDeps) {
	tool := mcp.NewTool(
		"screen_company",
		mcp.WithDescription(
			"Screens a company name against the stored sanctions subset. "+
				"Names in any script are matched semantically, so an Arabic spelling finds the "+
				"Latin listing. Returns ranked matches with a 0-100 score, the stage that produced "+
				"them and a reason. An empty match list means no listed company resembles the name. "+
				"Example: screen_company(query='Nile Grain', country='Egypt')",
		),
		mcp.WithString(
			"query",
			mcp.Required(),
			mcp.Description("Company name to screen, in any language or script"),
		),
		mcp.WithString(
			"country",
			mcp.Description("Optional country to restrict candidates (e.g. 'Egypt')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return invalidParameter("query", "query parameter is required"), nil
		}
		query = trimString(query)
		if query == "" {
			return invalidParameter("query", "query parameter cannot be empty"), nil
		}

		resp, err := deps.MatchService.Search(ctx, models.MatchQuery{
			Query:   query,
			Country: trimString(req.GetString("country", "")),
		})
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			deps.Logger.Error("screen_company failed",
				zap.String("query", logging.SanitizeSearchQuery(query)),
				zap.String("error", logging.SanitizeError(err)))
			return nil, err
		}

		return jsonResult(resp)
	})
}

type syncStatusResult struct {
	Latest         *models.SyncMetadata   `json:"latest"`
	History        []*models.SyncMetadata `json:"history"`
	StoredEntities int                    `json:"stored_entities"`
	State          services.SyncState     `json:"state"`
}

func registerSyncStatusTool(s *server.MCPServer, deps *SanctionsToolDeps) {
	tool := mcp.NewTool(
		"sanctions_sync_status",
		mcp.WithDescription(
			"Reports when the sanctions list was last synced, whether the sync succeeded, "+
				"how many entities are stored and whether a sync or embedding backfill is running. "+
				"Use this to judge how fresh screening results are.",
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Number of past sync attempts to include (default 5, max 50)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := intArgument(req, "limit", 5, 50)

		history, err := deps.Repo.ListSyncs(ctx, limit)
		if err != nil {
			return nil, err
		}
		count, err := deps.Repo.Count(ctx)
		if err != nil {
			return nil, err
		}

		result := syncStatusResult{
			History:        history,
			StoredEntities: count,
			State:          deps.SyncService.State(),
		}
		if len(history) > 0 {
			result.Latest = history[0]
		}
		return jsonResult(result)
	})
}

func registerGetEntityTool(s *server.MCPServer, deps *SanctionsToolDeps) {
	tool := mcp.NewTool(
		"get_sanctioned_entity",
		mcp.WithDescription(
			"Returns the full stored record for a sanctioned entity by uid: aliases, addresses, "+
				"countries, programs, identifiers and remarks. Use after screen_company to inspect a match.",
		),
		mcp.WithString(
			"uid",
			mcp.Required(),
			mcp.Description("Entity uid as returned in screen_company matches"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		uid, err := req.RequireString("uid")
		if err != nil || trimString(uid) == "" {
			return invalidParameter("uid", "uid parameter is required"), nil
		}

		entity, err := deps.Repo.GetByUID(ctx, trimString(uid))
		if err != nil {
			if result := serviceErrorResult(err); result != nil {
				return result, nil
			}
			return nil, err
		}
		return jsonResult(entity)
	})
}
