package types

// Role is the author of a chat message.
type Role string

// Message is one turn of a chat completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is a language model completion.
type Response struct {
	Content      string      `json:"content"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Model        string      `json:"model,omitempty"`
	TokensUsed   *TokenUsage `json:"tokens_used,omitempty"`
}

// TokenUsage reports the tokens billed for one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type contextKey string

// Context keys read by telemetry sinks.
const (
	ContextKeyUserID          contextKey = "user_id"
	ContextKeySessionID       contextKey = "session_id"
	ContextKeyRequestSource   contextKey = "request_source"
	ContextKeyIngestionSource contextKey = "ingestion_source"
	ContextKeyGroupID         contextKey = "group_id"
)
