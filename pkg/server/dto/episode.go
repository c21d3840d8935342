package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/types"
)

// AddEpisodeRequest is the body of POST /api/v1/episodes. Either Content or
// Messages must be set; messages become a message episode with one
// "role: content" line per turn.
type AddEpisodeRequest struct {
	ID                 string         `json:"id,omitempty"`
	GroupID            string         `json:"group_id"`
	Name               string         `json:"name,omitempty"`
	Content            string         `json:"content,omitempty"`
	Messages           []Message      `json:"messages,omitempty"`
	Source             string         `json:"source,omitempty"`
	SourceDescription  string         `json:"source_description,omitempty"`
	OccurredAt         *time.Time     `json:"occurred_at,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
	PreviousEpisodeIDs []string       `json:"previous_episode_ids,omitempty"`
}

// Validate performs validation on AddEpisodeRequest
func (r *AddEpisodeRequest) Validate() error {
	if err := validGroupID(r.GroupID); err != nil {
		return err
	}
	if len(r.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	if strings.TrimSpace(r.Content) == "" && len(r.Messages) == 0 {
		return ErrEmptyContent
	}
	if len(r.Messages) > MaxMessagesCount {
		return fmt.Errorf("%w: at most %d messages", ErrTooManyItems, MaxMessagesCount)
	}
	size := len(r.Content)
	for i := range r.Messages {
		if err := r.Messages[i].Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		size += len(r.Messages[i].Content)
	}
	if size > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// ToInput converts the request into an engine episode.
func (r *AddEpisodeRequest) ToInput() chronograph.EpisodeInput {
	in := chronograph.EpisodeInput{
		ID:                 r.ID,
		Name:               r.Name,
		Content:            r.Content,
		GroupID:            r.GroupID,
		Source:             types.ParseEpisodeType(r.Source),
		SourceDescription:  r.SourceDescription,
		OccurredAt:         r.OccurredAt,
		Payload:            r.Payload,
		PreviousEpisodeIDs: r.PreviousEpisodeIDs,
	}
	if in.Content == "" && len(r.Messages) > 0 {
		lines := make([]string, len(r.Messages))
		for i, m := range r.Messages {
			lines[i] = strings.ToLower(m.Role) + ": " + m.Content
		}
		in.Content = strings.Join(lines, "\n")
		in.Source = types.MessageEpisodeType
		if in.OccurredAt == nil {
			in.OccurredAt = r.Messages[0].Timestamp
		}
	}
	return in
}

// AddEpisodeBulkRequest is the body of POST /api/v1/episodes/bulk.
type AddEpisodeBulkRequest struct {
	Episodes []AddEpisodeRequest `json:"episodes"`
}

// Validate performs validation on AddEpisodeBulkRequest
func (r *AddEpisodeBulkRequest) Validate() error {
	if len(r.Episodes) == 0 {
		return ErrEmptyContent
	}
	if len(r.Episodes) > MaxBulkEpisodes {
		return fmt.Errorf("%w: at most %d episodes", ErrTooManyItems, MaxBulkEpisodes)
	}
	for i := range r.Episodes {
		if err := r.Episodes[i].Validate(); err != nil {
			return fmt.Errorf("episode %d: %w", i, err)
		}
	}
	return nil
}

// EpisodeResponse summarizes one ingested episode.
type EpisodeResponse struct {
	EpisodeID   string       `json:"episode_id"`
	GroupID     string       `json:"group_id"`
	Entities    []string     `json:"entities"`
	Facts       []FactResult `json:"facts"`
	Invalidated []FactResult `json:"invalidated"`
	Confirmed   []FactResult `json:"confirmed"`
}

// NewEpisodeResponse converts an ingestion result.
func NewEpisodeResponse(res *types.AddEpisodeResult) EpisodeResponse {
	names := make([]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		names = append(names, n.Name)
	}
	return EpisodeResponse{
		EpisodeID:   res.Episode.ID,
		GroupID:     res.Episode.GroupID,
		Entities:    names,
		Facts:       NewFactResults(res.Edges),
		Invalidated: NewFactResults(res.InvalidatedEdges),
		Confirmed:   NewFactResults(res.ConfirmedEdges),
	}
}

// BulkEpisodeResult is one entry of a bulk response, aligned with the
// request order.
type BulkEpisodeResult struct {
	Episode *EpisodeResponse `json:"episode,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ListEpisodesRequest is the query of GET /api/v1/groups/:group_id/episodes.
type ListEpisodesRequest struct {
	GroupID string     `uri:"group_id"`
	Before  *time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit   int        `form:"limit"`
}

// Validate performs validation on ListEpisodesRequest
func (r *ListEpisodesRequest) Validate() error {
	if err := validGroupID(r.GroupID); err != nil {
		return err
	}
	if r.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if r.Limit > MaxEpisodeLimit {
		return fmt.Errorf("%w: at most %d episodes", ErrTooManyItems, MaxEpisodeLimit)
	}
	return nil
}
