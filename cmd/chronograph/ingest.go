package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/types"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest one episode from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIngest,
}

func init() {
	f := ingestCmd.Flags()
	f.String("group", "", "group (graph partition) id")
	f.String("name", "", "episode name")
	f.String("id", "", "episode id (generated when empty)")
	f.String("source", "text", "episode source (text, message, json)")
	f.String("description", "", "source description")
	f.String("occurred-at", "", "when the episode happened (RFC3339)")
	f.StringP("output", "o", "json", "output format (json, yaml)")
	_ = ingestCmd.MarkFlagRequired("group")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	group, _ := f.GetString("group")
	name, _ := f.GetString("name")
	id, _ := f.GetString("id")
	source, _ := f.GetString("source")
	desc, _ := f.GetString("description")
	occurred, _ := f.GetString("occurred-at")
	output, _ := f.GetString("output")

	content, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	in := chronograph.EpisodeInput{
		ID:                id,
		Name:              name,
		Content:           content,
		GroupID:           group,
		Source:            types.ParseEpisodeType(source),
		SourceDescription: desc,
	}
	if occurred != "" {
		t, err := time.Parse(time.RFC3339, occurred)
		if err != nil {
			return fmt.Errorf("invalid --occurred-at: %w", err)
		}
		in.OccurredAt = &t
	}

	rt, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.client.AddEpisode(cmd.Context(), in)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), output, res)
}

// readInput returns the contents of the named file, or of r when no file
// (or "-") is given.
func readInput(r io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
