package types

import (
	"errors"
)

// Validation errors
var (
	ErrEmptyName     = errors.New("name cannot be empty")
	ErrEmptyGroupID  = errors.New("group_id cannot be empty")
	ErrEmptyID       = errors.New("id cannot be empty")
	ErrEmptyContent  = errors.New("content cannot be empty")
	ErrEmptyLabel    = errors.New("label cannot be empty")
	ErrEmptyEndpoint = errors.New("source and target ids cannot be empty")
	ErrMissingValid  = errors.New("valid_at must be set")
	ErrInvalidWindow = errors.New("invalid_at must not be before valid_at")
	ErrInvalidLimit  = errors.New("limit must be positive")
)

// NodeType represents the type of a node.
type NodeType string

const (
	// EntityNodeType represents entities extracted from content.
	EntityNodeType NodeType = "entity"
	// EpisodicNodeType represents ingested episodes.
	EpisodicNodeType NodeType = "episodic"
)

// EpisodeType describes how the content of an episode should be interpreted.
type EpisodeType string

const (
	// TextEpisodeType is free-form prose.
	TextEpisodeType EpisodeType = "text"
	// MessageEpisodeType is a chat transcript in "speaker: message" lines.
	MessageEpisodeType EpisodeType = "message"
	// JSONEpisodeType is a structured JSON document.
	JSONEpisodeType EpisodeType = "json"
)

// ParseEpisodeType maps a user supplied string to an EpisodeType, defaulting to text.
func ParseEpisodeType(s string) EpisodeType {
	switch EpisodeType(s) {
	case MessageEpisodeType, JSONEpisodeType:
		return EpisodeType(s)
	default:
		return TextEpisodeType
	}
}

// GraphProvider identifies a storage backend.
type GraphProvider string

const (
	GraphProviderMemory   GraphProvider = "memory"
	GraphProviderBadger   GraphProvider = "badger"
	GraphProviderSQLite   GraphProvider = "sqlite"
	GraphProviderNeo4j    GraphProvider = "neo4j"
	GraphProviderFalkorDB GraphProvider = "falkordb"
)
