package driver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/soundprediction/chronograph/pkg/types"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS episodes (
		uuid TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		name TEXT,
		content TEXT NOT NULL,
		source TEXT,
		source_description TEXT,
		payload TEXT,
		valid_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entities (
		uuid TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		name TEXT NOT NULL,
		labels TEXT,
		attributes TEXT,
		summary TEXT,
		name_embedding TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entity_edges (
		uuid TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		source_id TEXT NOT NULL REFERENCES entities(uuid) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES entities(uuid) ON DELETE CASCADE,
		label TEXT NOT NULL,
		fact TEXT,
		fact_embedding TEXT,
		valid_at INTEGER NOT NULL,
		invalid_at INTEGER,
		created_at INTEGER NOT NULL,
		episode_id TEXT,
		episodes TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_episodes_group ON episodes(group_id, valid_at)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_group ON entities(group_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_group ON entity_edges(group_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_source ON entity_edges(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_target ON entity_edges(target_id)`,
}

// SQLiteDriver stores the graph in three relational tables. Nested fields are
// JSON text and times are unix microseconds.
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLiteDriver opens the database file at path and ensures the schema.
// ":memory:" gives a private in-memory database.
func NewSQLiteDriver(ctx context.Context, path string) (*SQLiteDriver, error) {
	if path == "" {
		return nil, invalid("sqlite.Open", fmt.Errorf("database path is required"))
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("sqlite.Open", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("sqlite.Open", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, storageErr("sqlite.migrate", err)
		}
	}
	return &SQLiteDriver{db: db}, nil
}

func (s *SQLiteDriver) Provider() types.GraphProvider { return types.GraphProviderSQLite }

func (s *SQLiteDriver) Close() error { return s.db.Close() }

// upsertSQL builds an INSERT that overwrites every column on conflict.
func upsertSQL(table string, cols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+" = excluded."+c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(uuid) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), placeholders, strings.Join(sets, ", "))
}

func updateSQL(table string, cols []string) string {
	sets := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		sets = append(sets, c+" = ?")
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE uuid = ?", table, strings.Join(sets, ", "))
}

func orderedArgs(cols []string, props map[string]any) []any {
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = props[c]
	}
	return args
}

// updateArgs orders values for updateSQL: every column but uuid, then uuid.
func updateArgs(cols []string, props map[string]any) []any {
	args := orderedArgs(cols[1:], props)
	return append(args, props[cols[0]])
}

func (s *SQLiteDriver) queryRows(ctx context.Context, cols []string, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, rowMap(cols, vals))
	}
	return out, rows.Err()
}

func inClause(column string, values []string, args []any) (string, []any) {
	ph := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	for _, v := range values {
		args = append(args, v)
	}
	return column + " IN (" + ph + ")", args
}

func limitClause(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}

func (s *SQLiteDriver) CreateEpisode(ctx context.Context, episode *types.EpisodicNode) error {
	if err := episode.Validate(); err != nil {
		return invalid("sqlite.CreateEpisode", err)
	}
	_, err := s.db.ExecContext(ctx, upsertSQL("episodes", episodeColumns), orderedArgs(episodeColumns, episodeProps(episode))...)
	if err != nil {
		return storageErr("sqlite.CreateEpisode", err)
	}
	return nil
}

func (s *SQLiteDriver) GetEpisode(ctx context.Context, id string) (*types.EpisodicNode, error) {
	rows, err := s.queryRows(ctx, episodeColumns,
		"SELECT "+strings.Join(episodeColumns, ", ")+" FROM episodes WHERE uuid = ?", id)
	if err != nil {
		return nil, storageErr("sqlite.GetEpisode", err)
	}
	if len(rows) == 0 {
		return nil, notFound("sqlite.GetEpisode", "episode", id)
	}
	ep, err := decodeEpisode(rows[0])
	if err != nil {
		return nil, storageErr("sqlite.GetEpisode", err)
	}
	return ep, nil
}

func (s *SQLiteDriver) ListEpisodes(ctx context.Context, q EpisodeQuery) ([]*types.EpisodicNode, error) {
	var where []string
	var args []any
	if len(q.GroupIDs) > 0 {
		var clause string
		clause, args = inClause("group_id", q.GroupIDs, args)
		where = append(where, clause)
	}
	if q.Before != nil {
		where = append(where, "valid_at < ?")
		args = append(args, unixMicros(*q.Before))
	}
	query := "SELECT " + strings.Join(episodeColumns, ", ") + " FROM episodes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY valid_at DESC, uuid" + limitClause(q.Limit)

	rows, err := s.queryRows(ctx, episodeColumns, query, args...)
	if err != nil {
		return nil, storageErr("sqlite.ListEpisodes", err)
	}
	out := make([]*types.EpisodicNode, 0, len(rows))
	for _, r := range rows {
		ep, err := decodeEpisode(r)
		if err != nil {
			return nil, storageErr("sqlite.ListEpisodes", err)
		}
		out = append(out, ep)
	}
	return out, nil
}

func (s *SQLiteDriver) DeleteEpisode(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM episodes WHERE uuid = ?", id); err != nil {
		return storageErr("sqlite.DeleteEpisode", err)
	}
	return nil
}

func (s *SQLiteDriver) CreateNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return invalid("sqlite.CreateNode", err)
	}
	_, err := s.db.ExecContext(ctx, upsertSQL("entities", nodeColumns), orderedArgs(nodeColumns, nodeProps(node))...)
	if err != nil {
		return storageErr("sqlite.CreateNode", err)
	}
	return nil
}

func (s *SQLiteDriver) UpdateNode(ctx context.Context, node *types.EntityNode) error {
	if err := node.Validate(); err != nil {
		return invalid("sqlite.UpdateNode", err)
	}
	res, err := s.db.ExecContext(ctx, updateSQL("entities", nodeColumns), updateArgs(nodeColumns, nodeProps(node))...)
	if err != nil {
		return storageErr("sqlite.UpdateNode", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("sqlite.UpdateNode", "node", node.ID)
	}
	return nil
}

func (s *SQLiteDriver) GetNode(ctx context.Context, id string) (*types.EntityNode, error) {
	nodes, err := s.ListNodes(ctx, NodeQuery{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, notFound("sqlite.GetNode", "node", id)
	}
	return nodes[0], nil
}

func (s *SQLiteDriver) selectNodes(ctx context.Context, where []string, args []any, limit int) ([]*types.EntityNode, error) {
	query := "SELECT " + strings.Join(nodeColumns, ", ") + " FROM entities"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, uuid" + limitClause(limit)

	rows, err := s.queryRows(ctx, nodeColumns, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*types.EntityNode, 0, len(rows))
	for _, r := range rows {
		n, err := decodeNode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *SQLiteDriver) ListNodes(ctx context.Context, q NodeQuery) ([]*types.EntityNode, error) {
	var where []string
	var args []any
	if len(q.GroupIDs) > 0 {
		var clause string
		clause, args = inClause("group_id", q.GroupIDs, args)
		where = append(where, clause)
	}
	if len(q.IDs) > 0 {
		var clause string
		clause, args = inClause("uuid", q.IDs, args)
		where = append(where, clause)
	}
	nodes, err := s.selectNodes(ctx, where, args, q.Limit)
	if err != nil {
		return nil, storageErr("sqlite.ListNodes", err)
	}
	return nodes, nil
}

// DeleteNode removes the node; attached edges go with it by cascade.
func (s *SQLiteDriver) DeleteNode(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE uuid = ?", id); err != nil {
		return storageErr("sqlite.DeleteNode", err)
	}
	return nil
}

func (s *SQLiteDriver) endpointsExist(ctx context.Context, e *types.EntityEdge) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities WHERE uuid IN (?, ?)", e.SourceID, e.TargetID).Scan(&n)
	if err != nil {
		return false, err
	}
	want := 2
	if e.SourceID == e.TargetID {
		want = 1
	}
	return n == want, nil
}

func (s *SQLiteDriver) CreateEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return invalid("sqlite.CreateEdge", err)
	}
	ok, err := s.endpointsExist(ctx, edge)
	if err != nil {
		return storageErr("sqlite.CreateEdge", err)
	}
	if !ok {
		return missingEndpoint("sqlite.CreateEdge", edge)
	}
	_, err = s.db.ExecContext(ctx, upsertSQL("entity_edges", edgeColumns), orderedArgs(edgeColumns, edgeProps(edge))...)
	if err != nil {
		return storageErr("sqlite.CreateEdge", err)
	}
	return nil
}

func (s *SQLiteDriver) UpdateEdge(ctx context.Context, edge *types.EntityEdge) error {
	if err := edge.Validate(); err != nil {
		return invalid("sqlite.UpdateEdge", err)
	}
	res, err := s.db.ExecContext(ctx, updateSQL("entity_edges", edgeColumns), updateArgs(edgeColumns, edgeProps(edge))...)
	if err != nil {
		return storageErr("sqlite.UpdateEdge", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("sqlite.UpdateEdge", "edge", edge.ID)
	}
	return nil
}

func (s *SQLiteDriver) GetEdge(ctx context.Context, id string) (*types.EntityEdge, error) {
	edges, err := s.selectEdges(ctx, []string{"uuid = ?"}, []any{id}, 0)
	if err != nil {
		return nil, storageErr("sqlite.GetEdge", err)
	}
	if len(edges) == 0 {
		return nil, notFound("sqlite.GetEdge", "edge", id)
	}
	return edges[0], nil
}

func (s *SQLiteDriver) selectEdges(ctx context.Context, where []string, args []any, limit int) ([]*types.EntityEdge, error) {
	query := "SELECT " + strings.Join(edgeColumns, ", ") + " FROM entity_edges"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, uuid" + limitClause(limit)

	rows, err := s.queryRows(ctx, edgeColumns, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*types.EntityEdge, 0, len(rows))
	for _, r := range rows {
		e, err := decodeEdge(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func edgeWhere(groupIDs []string, asOf *int64) ([]string, []any) {
	var where []string
	var args []any
	if len(groupIDs) > 0 {
		var clause string
		clause, args = inClause("group_id", groupIDs, args)
		where = append(where, clause)
	}
	if asOf != nil {
		where = append(where, "valid_at <= ?", "(invalid_at IS NULL OR invalid_at > ?)")
		args = append(args, *asOf, *asOf)
	}
	return where, args
}

func (s *SQLiteDriver) ListEdges(ctx context.Context, q EdgeQuery) ([]*types.EntityEdge, error) {
	var asOf *int64
	if q.AsOf != nil {
		n := unixMicros(*q.AsOf)
		asOf = &n
	}
	where, args := edgeWhere(q.GroupIDs, asOf)
	if q.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, q.SourceID)
	}
	if q.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, q.TargetID)
	}
	if len(q.NodeIDs) > 0 {
		var src, dst string
		src, args = inClause("source_id", q.NodeIDs, args)
		dst, args = inClause("target_id", q.NodeIDs, args)
		where = append(where, "("+src+" OR "+dst+")")
	}

	// Labels are normalized in Go, so the limit is applied after filtering.
	edges, err := s.selectEdges(ctx, where, args, 0)
	if err != nil {
		return nil, storageErr("sqlite.ListEdges", err)
	}
	if q.Label != "" {
		filtered := edges[:0]
		for _, e := range edges {
			if q.Matches(e) {
				filtered = append(filtered, e)
			}
		}
		edges = filtered
	}
	return truncate(edges, q.Limit), nil
}

func (s *SQLiteDriver) DeleteEdge(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entity_edges WHERE uuid = ?", id); err != nil {
		return storageErr("sqlite.DeleteEdge", err)
	}
	return nil
}

// likeAny matches any token as a case-insensitive substring of one of cols.
func likeAny(cols []string, tokens []string, args []any) (string, []any) {
	var parts []string
	for _, t := range tokens {
		for _, c := range cols {
			parts = append(parts, "LOWER("+c+") LIKE ? ESCAPE '\\'")
			args = append(args, "%"+escapeLike(t)+"%")
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLiteDriver) SearchNodes(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityNode, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	var where []string
	var args []any
	if groups := options.groupIDs(); len(groups) > 0 {
		var clause string
		clause, args = inClause("group_id", groups, args)
		where = append(where, clause)
	}
	var clause string
	clause, args = likeAny([]string{"name", "COALESCE(summary, '')"}, tokens, args)
	where = append(where, clause)

	nodes, err := s.selectNodes(ctx, where, args, options.limit())
	if err != nil {
		return nil, storageErr("sqlite.SearchNodes", err)
	}
	return nodes, nil
}

func (s *SQLiteDriver) SearchEdges(ctx context.Context, query string, options *SearchOptions) ([]*types.EntityEdge, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	var asOf *int64
	if t := options.asOf(); t != nil {
		n := unixMicros(*t)
		asOf = &n
	}
	where, args := edgeWhere(options.groupIDs(), asOf)
	var clause string
	clause, args = likeAny([]string{"COALESCE(fact, '')"}, tokens, args)
	where = append(where, clause)

	edges, err := s.selectEdges(ctx, where, args, options.limit())
	if err != nil {
		return nil, storageErr("sqlite.SearchEdges", err)
	}
	return edges, nil
}
