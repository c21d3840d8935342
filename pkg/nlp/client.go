package nlp

import (
	"context"

	"github.com/soundprediction/chronograph/pkg/types"
)

// Client is a chat model. Implementations must be safe for concurrent use.
type Client interface {
	Chat(ctx context.Context, messages []types.Message) (*types.Response, error)
	// ChatWithStructuredOutput asks for a JSON object answer. schema is a
	// hint; providers without schema support ignore it and use JSON mode.
	ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error)
	Close() error
}

// Chat roles.
const (
	RoleSystem    types.Role = "system"
	RoleUser      types.Role = "user"
	RoleAssistant types.Role = "assistant"
)

// Config holds the sampling parameters of a client. Nil pointers leave the
// provider default in place.
type Config struct {
	Model       string   `json:"model"`
	BaseURL     string   `json:"base_url,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

func NewSystemMessage(content string) types.Message {
	return types.Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) types.Message {
	return types.Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage replays an earlier model answer, e.g. before a
// continuation prompt.
func NewAssistantMessage(content string) types.Message {
	return types.Message{Role: RoleAssistant, Content: content}
}
