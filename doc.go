// Package chronograph is a temporal knowledge graph engine.
//
// Text episodes are turned into entities and facts by an extractor, entities
// are merged into the nodes already in the graph, and facts are stored as
// edges carrying a validity window. When a new fact contradicts an old one
// the old edge is closed rather than deleted, so the graph can be queried as
// of any instant.
//
// # Basic Usage
//
// Build a client from a configuration file:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	client, err := chronograph.New(ctx, cfg, slog.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// or from ready-made providers with NewClient, which is how tests wire an
// in-memory driver and a scripted extractor:
//
//	client, err := chronograph.NewClient(chronograph.Options{
//		Driver:    driver.NewMemoryDriver(),
//		Extractor: myExtractor,
//		Config:    chronograph.DefaultConfig(),
//	})
//
// # Adding Episodes
//
//	occurred := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
//	res, err := client.AddEpisode(ctx, chronograph.EpisodeInput{
//		GroupID:    "acme-hr",
//		Content:    "Alice moved from Acme to Globex.",
//		OccurredAt: &occurred,
//	})
//
// An episode is all-or-nothing: if extraction, embedding or any write fails
// the writes already made are undone and the error is returned. Errors carry
// a kind from package errkind.
//
// # Searching
//
//	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
//	results, err := client.Search(ctx, types.SearchQuery{
//		Query:    "where does Alice work",
//		GroupIDs: []string{"acme-hr"},
//		AsOf:     &asOf,
//	})
//
// Search fuses semantic, lexical and graph traversal rankings. When one
// strategy fails the others still answer and results.Degraded is set.
package chronograph
