package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the graph with hybrid retrieval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringSlice("group", nil, "group ids to search (repeatable)")
	f.Int("limit", 10, "maximum number of results")
	f.String("as-of", "", "only return facts valid at this instant (RFC3339)")
	f.Bool("rerank", false, "rerank the fused results")
	f.Bool("context", false, "print the results as a prompt context block")
	f.StringP("output", "o", "json", "output format (json, yaml)")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	groups, _ := f.GetStringSlice("group")
	limit, _ := f.GetInt("limit")
	asOf, _ := f.GetString("as-of")
	rerank, _ := f.GetBool("rerank")
	asContext, _ := f.GetBool("context")
	output, _ := f.GetString("output")

	q := types.SearchQuery{
		Query:    strings.Join(args, " "),
		GroupIDs: groups,
		Limit:    limit,
		Rerank:   rerank,
	}
	if asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
		q.AsOf = &t
	}

	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	if asContext {
		text, err := rt.client.SearchContext(cmd.Context(), q)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
		return err
	}

	res, err := rt.client.Search(cmd.Context(), q)
	if err != nil {
		return err
	}
	if res.Degraded {
		rt.logger.Warn("search ran degraded", "query", q.Query)
	}
	return render(cmd.OutOrStdout(), output, res)
}
