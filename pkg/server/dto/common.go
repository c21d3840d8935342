package dto

import (
	"errors"
	"strings"
	"time"

	"github.com/soundprediction/chronograph/pkg/types"
)

// Validation errors
var (
	ErrEmptyGroupID   = errors.New("group_id cannot be empty")
	ErrGroupIDTooLong = errors.New("group_id exceeds maximum length (256)")
	ErrNameTooLong    = errors.New("name exceeds maximum length (1024)")
	ErrContentTooLong = errors.New("content exceeds maximum length (1MB)")
	ErrEmptyContent   = errors.New("content or messages must be provided")
	ErrEmptyQuery     = errors.New("query cannot be empty")
	ErrTooManyItems   = errors.New("too many items in request")
)

// Field limits, enforced before anything reaches the engine.
const (
	MaxGroupIDLength = 256
	MaxNameLength    = 1024
	MaxContentLength = 1024 * 1024 // 1MB
	MaxMessagesCount = 1000
	MaxBulkEpisodes  = 100
	MaxSearchLimit   = 100
	MaxEpisodeLimit  = 100
)

// Message is one chat turn of a message episode.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ValidRoles defines acceptable message roles
var ValidRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// Validate performs validation on Message
func (m *Message) Validate() error {
	if !ValidRoles[strings.ToLower(strings.TrimSpace(m.Role))] {
		return errors.New("invalid role: must be user, assistant, or system")
	}
	if strings.TrimSpace(m.Content) == "" {
		return errors.New("message content cannot be empty")
	}
	return nil
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// FactResult is an edge as returned to API clients.
type FactResult struct {
	ID        string     `json:"id"`
	GroupID   string     `json:"group_id"`
	SourceID  string     `json:"source_id"`
	TargetID  string     `json:"target_id"`
	Label     string     `json:"label"`
	Fact      string     `json:"fact"`
	ValidAt   time.Time  `json:"valid_at"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Episodes  []string   `json:"episodes"`
	Score     *float64   `json:"score,omitempty"`
}

// NewFactResult converts an edge, dropping its embedding.
func NewFactResult(e *types.EntityEdge) FactResult {
	return FactResult{
		ID:        e.ID,
		GroupID:   e.GroupID,
		SourceID:  e.SourceID,
		TargetID:  e.TargetID,
		Label:     e.Label,
		Fact:      e.Fact,
		ValidAt:   e.ValidAt,
		InvalidAt: e.InvalidAt,
		CreatedAt: e.CreatedAt,
		Episodes:  e.Episodes,
	}
}

// NewFactResults converts a list of edges.
func NewFactResults(edges []*types.EntityEdge) []FactResult {
	out := make([]FactResult, 0, len(edges))
	for _, e := range edges {
		out = append(out, NewFactResult(e))
	}
	return out
}

// EntityResult is a node as returned to API clients.
type EntityResult struct {
	ID         string         `json:"id"`
	GroupID    string         `json:"group_id"`
	Name       string         `json:"name"`
	Labels     []string       `json:"labels,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Score      *float64       `json:"score,omitempty"`
}

// NewEntityResult converts a node, dropping its embedding.
func NewEntityResult(n *types.EntityNode) EntityResult {
	return EntityResult{
		ID:         n.ID,
		GroupID:    n.GroupID,
		Name:       n.Name,
		Labels:     n.Labels,
		Summary:    n.Summary,
		Attributes: n.Attributes,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

func validGroupID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyGroupID
	}
	if len(id) > MaxGroupIDLength {
		return ErrGroupIDTooLong
	}
	return nil
}
