package driver

import (
	"fmt"
	"strings"

	"github.com/soundprediction/chronograph/pkg/types"
)

// cypherStmt is a parameterized Cypher statement shared by the Neo4j and
// FalkorDB backends.
type cypherStmt struct {
	query  string
	params map[string]any
}

// GetRangeIndices returns the index creation statements for a Cypher backend.
func GetRangeIndices(provider types.GraphProvider) []string {
	switch provider {
	case types.GraphProviderFalkorDB:
		return []string{
			"CREATE INDEX FOR (n:Entity) ON (n.uuid, n.group_id, n.name, n.created_at)",
			"CREATE INDEX FOR (n:Episodic) ON (n.uuid, n.group_id, n.valid_at)",
			"CREATE INDEX FOR ()-[e:RELATES_TO]-() ON (e.uuid, e.group_id, e.label, e.valid_at, e.invalid_at)",
		}

	default: // Neo4j
		return []string{
			"CREATE INDEX entity_uuid IF NOT EXISTS FOR (n:Entity) ON (n.uuid)",
			"CREATE INDEX episode_uuid IF NOT EXISTS FOR (n:Episodic) ON (n.uuid)",
			"CREATE INDEX relation_uuid IF NOT EXISTS FOR ()-[e:RELATES_TO]-() ON (e.uuid)",
			"CREATE INDEX entity_group_id IF NOT EXISTS FOR (n:Entity) ON (n.group_id)",
			"CREATE INDEX episode_group_id IF NOT EXISTS FOR (n:Episodic) ON (n.group_id)",
			"CREATE INDEX relation_group_id IF NOT EXISTS FOR ()-[e:RELATES_TO]-() ON (e.group_id)",
			"CREATE INDEX valid_at_edge_index IF NOT EXISTS FOR ()-[e:RELATES_TO]-() ON (e.valid_at)",
			"CREATE INDEX invalid_at_edge_index IF NOT EXISTS FOR ()-[e:RELATES_TO]-() ON (e.invalid_at)",
		}
	}
}

func upsertEpisodeCypher(ep *types.EpisodicNode) cypherStmt {
	return cypherStmt{
		query:  "MERGE (e:Episodic {uuid: $uuid}) SET e += $props RETURN e.uuid AS uuid",
		params: map[string]any{"uuid": ep.ID, "props": episodeProps(ep)},
	}
}

func getEpisodeCypher(id string) cypherStmt {
	return cypherStmt{
		query:  "MATCH (e:Episodic {uuid: $uuid}) RETURN " + returnColumns("e", episodeColumns),
		params: map[string]any{"uuid": id},
	}
}

func listEpisodesCypher(q EpisodeQuery) cypherStmt {
	params := map[string]any{}
	var where []string
	if len(q.GroupIDs) > 0 {
		where = append(where, "e.group_id IN $group_ids")
		params["group_ids"] = q.GroupIDs
	}
	if q.Before != nil {
		where = append(where, "e.valid_at < $before")
		params["before"] = unixMicros(*q.Before)
	}
	return cypherStmt{
		query:  "MATCH (e:Episodic)" + whereClause(where) + " RETURN " + returnColumns("e", episodeColumns) + " ORDER BY valid_at DESC, uuid" + cypherLimit(q.Limit),
		params: params,
	}
}

func deleteEpisodeCypher(id string) cypherStmt {
	return cypherStmt{
		query:  "MATCH (e:Episodic {uuid: $uuid}) DETACH DELETE e",
		params: map[string]any{"uuid": id},
	}
}

func upsertNodeCypher(n *types.EntityNode) cypherStmt {
	return cypherStmt{
		query:  "MERGE (n:Entity {uuid: $uuid}) SET n += $props RETURN n.uuid AS uuid",
		params: map[string]any{"uuid": n.ID, "props": nodeProps(n)},
	}
}

func updateNodeCypher(n *types.EntityNode) cypherStmt {
	return cypherStmt{
		query:  "MATCH (n:Entity {uuid: $uuid}) SET n += $props RETURN n.uuid AS uuid",
		params: map[string]any{"uuid": n.ID, "props": nodeProps(n)},
	}
}

func deleteNodeCypher(id string) cypherStmt {
	return cypherStmt{
		query:  "MATCH (n:Entity {uuid: $uuid}) DETACH DELETE n",
		params: map[string]any{"uuid": id},
	}
}

func listNodesCypher(q NodeQuery) cypherStmt {
	params := map[string]any{}
	var where []string
	if len(q.GroupIDs) > 0 {
		where = append(where, "n.group_id IN $group_ids")
		params["group_ids"] = q.GroupIDs
	}
	if len(q.IDs) > 0 {
		where = append(where, "n.uuid IN $ids")
		params["ids"] = q.IDs
	}
	return cypherStmt{
		query:  "MATCH (n:Entity)" + whereClause(where) + " RETURN " + returnColumns("n", nodeColumns) + " ORDER BY created_at, uuid" + cypherLimit(q.Limit),
		params: params,
	}
}

// upsertEdgeCypher only writes when both endpoints exist; an empty result
// means one of them is missing.
func upsertEdgeCypher(e *types.EntityEdge) cypherStmt {
	return cypherStmt{
		query: `MATCH (s:Entity {uuid: $source_id}), (t:Entity {uuid: $target_id})
MERGE (s)-[r:RELATES_TO {uuid: $uuid}]->(t)
SET r += $props
RETURN r.uuid AS uuid`,
		params: map[string]any{"uuid": e.ID, "source_id": e.SourceID, "target_id": e.TargetID, "props": edgeProps(e)},
	}
}

func updateEdgeCypher(e *types.EntityEdge) cypherStmt {
	return cypherStmt{
		query:  "MATCH ()-[r:RELATES_TO {uuid: $uuid}]->() SET r += $props RETURN r.uuid AS uuid",
		params: map[string]any{"uuid": e.ID, "props": edgeProps(e)},
	}
}

func deleteEdgeCypher(id string) cypherStmt {
	return cypherStmt{
		query:  "MATCH ()-[r:RELATES_TO {uuid: $uuid}]->() DELETE r",
		params: map[string]any{"uuid": id},
	}
}

func edgeFilters(groupIDs []string, asOf *int64, params map[string]any) []string {
	var where []string
	if len(groupIDs) > 0 {
		where = append(where, "r.group_id IN $group_ids")
		params["group_ids"] = groupIDs
	}
	if asOf != nil {
		where = append(where, "r.valid_at <= $as_of", "(r.invalid_at IS NULL OR r.invalid_at > $as_of)")
		params["as_of"] = *asOf
	}
	return where
}

// listEdgesCypher leaves label filtering to the caller, since labels are
// compared after normalization. The limit is dropped when a label is given.
func listEdgesCypher(q EdgeQuery) cypherStmt {
	params := map[string]any{}
	var asOf *int64
	if q.AsOf != nil {
		n := unixMicros(*q.AsOf)
		asOf = &n
	}
	where := edgeFilters(q.GroupIDs, asOf, params)
	if q.SourceID != "" {
		where = append(where, "r.source_id = $source_id")
		params["source_id"] = q.SourceID
	}
	if q.TargetID != "" {
		where = append(where, "r.target_id = $target_id")
		params["target_id"] = q.TargetID
	}
	if len(q.NodeIDs) > 0 {
		where = append(where, "(r.source_id IN $node_ids OR r.target_id IN $node_ids)")
		params["node_ids"] = q.NodeIDs
	}
	limit := q.Limit
	if q.Label != "" {
		limit = 0
	}
	return cypherStmt{
		query:  "MATCH ()-[r:RELATES_TO]->()" + whereClause(where) + " RETURN " + returnColumns("r", edgeColumns) + " ORDER BY created_at, uuid" + cypherLimit(limit),
		params: params,
	}
}

func searchNodesCypher(tokens []string, opts *SearchOptions) cypherStmt {
	params := map[string]any{"tokens": tokens}
	var where []string
	if groups := opts.groupIDs(); len(groups) > 0 {
		where = append(where, "n.group_id IN $group_ids")
		params["group_ids"] = groups
	}
	where = append(where, "any(tok IN $tokens WHERE toLower(n.name) CONTAINS tok OR toLower(coalesce(n.summary, '')) CONTAINS tok)")
	return cypherStmt{
		query:  "MATCH (n:Entity)" + whereClause(where) + " RETURN " + returnColumns("n", nodeColumns) + " ORDER BY created_at, uuid" + cypherLimit(opts.limit()),
		params: params,
	}
}

func searchEdgesCypher(tokens []string, opts *SearchOptions) cypherStmt {
	params := map[string]any{"tokens": tokens}
	var asOf *int64
	if t := opts.asOf(); t != nil {
		n := unixMicros(*t)
		asOf = &n
	}
	where := edgeFilters(opts.groupIDs(), asOf, params)
	where = append(where, "any(tok IN $tokens WHERE toLower(coalesce(r.fact, '')) CONTAINS tok)")
	return cypherStmt{
		query:  "MATCH ()-[r:RELATES_TO]->()" + whereClause(where) + " RETURN " + returnColumns("r", edgeColumns) + " ORDER BY created_at, uuid" + cypherLimit(opts.limit()),
		params: params,
	}
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func cypherLimit(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}
