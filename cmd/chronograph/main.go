// Command chronograph runs the temporal knowledge graph engine as a REST
// server, an assistant tool server or one-shot ingest and search commands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
