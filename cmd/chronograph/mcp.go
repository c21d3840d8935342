package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/spf13/cobra"
)

const mcpVersion = "0.1.0"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the graph as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		group := rt.cfg.MCP.DefaultGroupID
		rt.logger.Info("serving MCP over stdio", "default_group", group)
		return server.ServeStdio(newMCPServer(rt.client, group))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// addEpisodeArgs are the arguments of the add_episode tool.
type addEpisodeArgs struct {
	Name              string `json:"name"`
	EpisodeBody       string `json:"episode_body"`
	GroupID           string `json:"group_id"`
	Source            string `json:"source"`
	SourceDescription string `json:"source_description"`
	OccurredAt        string `json:"occurred_at"`
	UUID              string `json:"uuid"`
}

type searchArgs struct {
	Query    string   `json:"query"`
	GroupIDs []string `json:"group_ids"`
	MaxFacts int      `json:"max_facts"`
	AsOf     string   `json:"as_of"`
	Rerank   bool     `json:"rerank"`
}

type searchNodesArgs struct {
	Query    string   `json:"query"`
	GroupIDs []string `json:"group_ids"`
	MaxNodes int      `json:"max_nodes"`
}

type episodesArgs struct {
	GroupID string `json:"group_id"`
	LastN   int    `json:"last_n"`
	Before  string `json:"before"`
}

type factsArgs struct {
	GroupID  string `json:"group_id"`
	SourceID string `json:"source_uuid"`
	TargetID string `json:"target_uuid"`
	AsOf     string `json:"as_of"`
}

// newMCPServer registers the graph tools. Tool calls without a group_id use
// defaultGroup.
func newMCPServer(engine chronograph.Engine, defaultGroup string) *server.MCPServer {
	s := server.NewMCPServer("chronograph", mcpVersion, server.WithToolCapabilities(true))
	t := &mcpTools{engine: engine, defaultGroup: defaultGroup}

	s.AddTool(mcp.NewTool("add_episode",
		mcp.WithDescription("Add an episode (a piece of text, a chat transcript or a JSON document) to the knowledge graph. Facts it contradicts are closed as of the episode's time."),
		mcp.WithString("episode_body", mcp.Required(), mcp.Description("The content of the episode")),
		mcp.WithString("name", mcp.Description("Name of the episode")),
		mcp.WithString("group_id", mcp.Description("Graph partition to write to")),
		mcp.WithString("source", mcp.Description("text, message or json. Default: text")),
		mcp.WithString("source_description", mcp.Description("Where the episode came from")),
		mcp.WithString("occurred_at", mcp.Description("When the episode happened, RFC3339. Default: now")),
		mcp.WithString("uuid", mcp.Description("Episode id. Generated when empty")),
	), t.addEpisode)

	s.AddTool(mcp.NewTool("search_facts",
		mcp.WithDescription("Search the knowledge graph for facts relevant to a query, optionally as of a point in time."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
		mcp.WithArray("group_ids", mcp.Description("Graph partitions to search")),
		mcp.WithNumber("max_facts", mcp.Description("Maximum number of facts to return. Default: 10")),
		mcp.WithString("as_of", mcp.Description("Only return facts valid at this instant, RFC3339")),
		mcp.WithBoolean("rerank", mcp.Description("Rerank the fused results")),
	), t.searchFacts)

	s.AddTool(mcp.NewTool("search_nodes",
		mcp.WithDescription("Search the knowledge graph for entities relevant to a query. Returns entity names, labels and summaries."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
		mcp.WithArray("group_ids", mcp.Description("Graph partitions to search")),
		mcp.WithNumber("max_nodes", mcp.Description("Maximum number of entities to return. Default: 10")),
	), t.searchNodes)

	s.AddTool(mcp.NewTool("get_episodes",
		mcp.WithDescription("Get the most recent episodes of a group, newest first."),
		mcp.WithString("group_id", mcp.Description("Graph partition")),
		mcp.WithNumber("last_n", mcp.Description("Number of episodes to return. Default: 10")),
		mcp.WithString("before", mcp.Description("Only return episodes that occurred before this instant, RFC3339")),
	), t.getEpisodes)

	s.AddTool(mcp.NewTool("get_entity_edge",
		mcp.WithDescription("Get a fact by its id."),
		mcp.WithString("uuid", mcp.Required(), mcp.Description("Fact id")),
	), t.getEdge)

	s.AddTool(mcp.NewTool("get_facts_between",
		mcp.WithDescription("Get the history of facts between two entities, both directions, oldest first."),
		mcp.WithString("source_uuid", mcp.Required(), mcp.Description("First entity id")),
		mcp.WithString("target_uuid", mcp.Required(), mcp.Description("Second entity id")),
		mcp.WithString("group_id", mcp.Description("Graph partition")),
		mcp.WithString("as_of", mcp.Description("Only return facts valid at this instant, RFC3339")),
	), t.factsBetween)

	return s
}

type mcpTools struct {
	engine       chronograph.Engine
	defaultGroup string
}

func (t *mcpTools) group(g string) string {
	if g == "" {
		return t.defaultGroup
	}
	return g
}

func (t *mcpTools) addEpisode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args addEpisodeArgs
	if err := decodeArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.EpisodeBody == "" {
		return mcp.NewToolResultError("episode_body is required"), nil
	}
	occurredAt, err := parseInstant(args.OccurredAt, "occurred_at")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx = context.WithValue(ctx, types.ContextKeyRequestSource, "mcp")
	res, err := t.engine.AddEpisode(ctx, chronograph.EpisodeInput{
		ID:                args.UUID,
		Name:              args.Name,
		Content:           args.EpisodeBody,
		GroupID:           t.group(args.GroupID),
		Source:            types.ParseEpisodeType(args.Source),
		SourceDescription: args.SourceDescription,
		OccurredAt:        occurredAt,
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"episode":           dto.NewEpisodeResponse(res),
		"facts_added":       len(res.Edges),
		"facts_invalidated": len(res.InvalidatedEdges),
	})
}

func (t *mcpTools) searchFacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchArgs
	if err := decodeArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	asOf, err := parseInstant(args.AsOf, "as_of")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	groups := args.GroupIDs
	if len(groups) == 0 && t.defaultGroup != "" {
		groups = []string{t.defaultGroup}
	}
	limit := args.MaxFacts
	if limit <= 0 {
		limit = 10
	}

	res, err := t.engine.Search(ctx, types.SearchQuery{
		Query:    args.Query,
		GroupIDs: groups,
		Limit:    limit,
		AsOf:     asOf,
		Rerank:   args.Rerank,
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"facts":    dto.NewFactResults(res.Edges()),
		"degraded": res.Degraded,
	})
}

func (t *mcpTools) searchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args searchNodesArgs
	if err := decodeArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	groups := args.GroupIDs
	if len(groups) == 0 && t.defaultGroup != "" {
		groups = []string{t.defaultGroup}
	}
	limit := args.MaxNodes
	if limit <= 0 {
		limit = 10
	}

	// Nodes and facts share one ranking, so ask for the widest page and keep
	// the entities.
	res, err := t.engine.Search(ctx, types.SearchQuery{
		Query:    args.Query,
		GroupIDs: groups,
		Limit:    max(limit, dto.MaxSearchLimit),
	})
	if err != nil {
		return toolError(err), nil
	}
	nodes := dto.NewSearchResponse(res).Entities
	if len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return jsonResult(map[string]any{
		"nodes":    nodes,
		"degraded": res.Degraded,
	})
}

func (t *mcpTools) getEpisodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args episodesArgs
	if err := decodeArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	before, err := parseInstant(args.Before, "before")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.LastN > dto.MaxEpisodeLimit {
		return mcp.NewToolResultError(fmt.Sprintf("last_n must be at most %d", dto.MaxEpisodeLimit)), nil
	}
	episodes, err := t.engine.ListEpisodes(ctx, t.group(args.GroupID), before, args.LastN)
	if err != nil {
		return toolError(err), nil
	}
	if episodes == nil {
		episodes = []*types.EpisodicNode{}
	}
	return jsonResult(map[string]any{"episodes": episodes})
}

func (t *mcpTools) getEdge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		UUID string `json:"uuid"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.UUID == "" {
		return mcp.NewToolResultError("uuid is required"), nil
	}
	edge, err := t.engine.GetEdge(ctx, args.UUID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(dto.NewFactResult(edge))
}

func (t *mcpTools) factsBetween(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args factsArgs
	if err := decodeArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	asOf, err := parseInstant(args.AsOf, "as_of")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edges, err := t.engine.EdgesBetween(ctx, t.group(args.GroupID), args.SourceID, args.TargetID, asOf)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"facts": dto.NewFactResults(edges)})
}

// decodeArgs round-trips the tool arguments through JSON into dst.
func decodeArgs(req mcp.CallToolRequest, dst any) error {
	args, _ := req.Params.Arguments.(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func parseInstant(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%s must be RFC3339: %w", field, err)
	}
	return &t, nil
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", errkind.KindOf(err), err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
