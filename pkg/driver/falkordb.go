package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/soundprediction/chronograph/pkg/errkind"
	"github.com/soundprediction/chronograph/pkg/types"
)

// FalkorConfig locates a FalkorDB server. ConnectionString, when set, takes
// precedence over the individual fields.
type FalkorConfig struct {
	Host             string
	Port             int
	Database         int
	Username         string
	Password         string
	ConnectionString string
}

var redisURLPattern = regexp.MustCompile(`^redis://(?:(?:([^:/@]*):?([^@/]*)@)?([^:/@]+|:(?:\d+)?)?(?::(\d+))?)?(?:/(\d+))?$`)

// FalkorConfigFromEnv reads FALKORDB_CONNECTION_STRING, or failing that
// FALKORDB_HOST, FALKORDB_PORT, FALKORDB_DATABASE and FALKORDB_PASSWORD.
func FalkorConfigFromEnv() (*FalkorConfig, error) {
	if cs := os.Getenv("FALKORDB_CONNECTION_STRING"); cs != "" {
		return ParseFalkorConnectionString(cs)
	}
	cfg := &FalkorConfig{
		Host:     envOr("FALKORDB_HOST", "localhost"),
		Password: os.Getenv("FALKORDB_PASSWORD"),
	}
	var err error
	if cfg.Port, err = strconv.Atoi(envOr("FALKORDB_PORT", "6379")); err != nil {
		return nil, errkind.Ef(errkind.Configuration, "falkordb.config", "invalid FALKORDB_PORT: %v", err)
	}
	if cfg.Database, err = strconv.Atoi(envOr("FALKORDB_DATABASE", "0")); err != nil {
		return nil, errkind.Ef(errkind.Configuration, "falkordb.config", "invalid FALKORDB_DATABASE: %v", err)
	}
	return cfg, cfg.Validate()
}

// ParseFalkorConnectionString parses redis://[user][:password]@[host][:port][/db].
func ParseFalkorConnectionString(cs string) (*FalkorConfig, error) {
	const op = "falkordb.config"
	if strings.TrimSpace(cs) == "" {
		return nil, errkind.Ef(errkind.Configuration, op, "connection string cannot be empty")
	}
	if cs == "redis://" || !redisURLPattern.MatchString(cs) {
		return nil, errkind.Ef(errkind.Configuration, op,
			"invalid connection string format: %s. Expected format: redis://[user][:password]@[host][:port][/db]", cs)
	}
	u, err := url.Parse(cs)
	if err != nil {
		return nil, errkind.E(errkind.Configuration, op, err)
	}

	cfg := &FalkorConfig{Host: u.Hostname(), Port: 6379, ConnectionString: cs}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if p := u.Port(); p != "" {
		if cfg.Port, err = strconv.Atoi(p); err != nil {
			return nil, errkind.Ef(errkind.Configuration, op, "invalid port %q", p)
		}
	}
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		if cfg.Database, err = strconv.Atoi(path); err != nil {
			return nil, errkind.Ef(errkind.Configuration, op, "invalid database number in connection string: %s", path)
		}
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	return cfg, cfg.Validate()
}

// Validate checks the port range and database number.
func (c *FalkorConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errkind.Ef(errkind.Configuration, "falkordb.config", "port must be between 1 and 65535, got: %d", c.Port)
	}
	if c.Database < 0 {
		return errkind.Ef(errkind.Configuration, "falkordb.config", "database number must be non-negative, got: %d", c.Database)
	}
	return nil
}

// GraphName maps the database number to a graph key; 0 is "default_db".
func (c *FalkorConfig) GraphName() string {
	if c.Database == 0 {
		return "default_db"
	}
	return strconv.Itoa(c.Database)
}

// Addr returns host:port.
func (c *FalkorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// FalkorDriver talks to FalkorDB through GRAPH.QUERY over a Redis connection.
type FalkorDriver struct {
	*cypherStore
	client *redis.Client
	graph  string
}

// NewFalkorDriver connects to FalkorDB and ensures indexes.
func NewFalkorDriver(ctx context.Context, cfg *FalkorConfig, logger *slog.Logger) (*FalkorDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storageErr("falkordb.Open", err)
	}

	d := &FalkorDriver{client: client, graph: cfg.GraphName()}
	d.cypherStore = &cypherStore{name: "falkordb", runner: d}

	for _, q := range GetRangeIndices(types.GraphProviderFalkorDB) {
		_, err := d.write(ctx, cypherStmt{query: q})
		if err != nil && !strings.Contains(err.Error(), "already indexed") && logger != nil {
			logger.Warn("index creation failed", "query", q, "error", err)
		}
	}
	return d, nil
}

func (f *FalkorDriver) Provider() types.GraphProvider { return types.GraphProviderFalkorDB }

func (f *FalkorDriver) Close() error { return f.client.Close() }

func (f *FalkorDriver) read(ctx context.Context, stmt cypherStmt) ([]map[string]any, error) {
	return f.query(ctx, "GRAPH.RO_QUERY", stmt)
}

func (f *FalkorDriver) write(ctx context.Context, stmt cypherStmt) ([]map[string]any, error) {
	return f.query(ctx, "GRAPH.QUERY", stmt)
}

func (f *FalkorDriver) query(ctx context.Context, cmd string, stmt cypherStmt) ([]map[string]any, error) {
	reply, err := f.client.Do(ctx, cmd, f.graph, withCypherParams(stmt)).Result()
	if err != nil {
		return nil, err
	}
	return parseGraphReply(reply)
}

// withCypherParams inlines parameters with FalkorDB's "CYPHER k=v" prefix.
func withCypherParams(stmt cypherStmt) string {
	if len(stmt.params) == 0 {
		return stmt.query
	}
	keys := make([]string, 0, len(stmt.params))
	for k := range stmt.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("CYPHER")
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(cypherLiteral(stmt.params[k]))
	}
	b.WriteString(" ")
	b.WriteString(stmt.query)
	return b.String()
}

var cypherStringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// cypherLiteral renders a Go value as a Cypher literal.
func cypherLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "'" + cypherStringEscaper.Replace(x) + "'"
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = cypherLiteral(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = cypherLiteral(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + cypherLiteral(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return cypherLiteral(fmt.Sprint(x))
	}
}

// parseGraphReply turns a GRAPH.QUERY reply of [header, rows, stats] into
// maps keyed by column name. Replies without a result set yield no rows.
func parseGraphReply(reply any) ([]map[string]any, error) {
	parts, ok := reply.([]any)
	if !ok {
		return nil, NewTypeConversionError("[]any", fmt.Sprintf("%T", reply), "reply")
	}
	if len(parts) < 3 {
		return nil, nil
	}

	rawHeader, ok := parts[0].([]any)
	if !ok {
		return nil, NewTypeConversionError("[]any", fmt.Sprintf("%T", parts[0]), "header")
	}
	header := make([]string, len(rawHeader))
	for i, h := range rawHeader {
		switch col := h.(type) {
		case string:
			header[i] = col
		case []any:
			// Compact replies carry [type, name] pairs.
			if len(col) > 0 {
				header[i], _ = AsString(col[len(col)-1])
			}
		}
	}

	rawRows, ok := parts[1].([]any)
	if !ok {
		return nil, NewTypeConversionError("[]any", fmt.Sprintf("%T", parts[1]), "rows")
	}
	rows := make([]map[string]any, 0, len(rawRows))
	for _, r := range rawRows {
		vals, ok := r.([]any)
		if !ok {
			return nil, NewTypeConversionError("[]any", fmt.Sprintf("%T", r), "row")
		}
		rows = append(rows, rowMap(header, vals))
	}
	return rows, nil
}
