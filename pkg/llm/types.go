package llm

import (
	"fmt"
	"strings"
)

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserMessage is a convenience constructor for a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// Request is the provider-agnostic input to Client.Complete.
type Request struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// StopReason explains why generation stopped.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Usage reports token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the provider-agnostic output of Client.Complete.
type Response struct {
	Text       string     `json:"text"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// ParseModelID splits "provider:model-name" into its two parts. Both parts
// must be non-empty.
func ParseModelID(id string) (provider, modelName string, err error) {
	provider, modelName, ok := strings.Cut(id, ":")
	if !ok {
		return "", "", fmt.Errorf("model ID %q: missing 'provider:model-name' format", id)
	}
	if provider == "" {
		return "", "", fmt.Errorf("model ID %q: empty provider name", id)
	}
	if modelName == "" {
		return "", "", fmt.Errorf("model ID %q: empty model name", id)
	}
	return provider, modelName, nil
}
