package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ravi-parthasarathy/nodeflow/pkg/llm"
)

func init() {
	llm.RegisterProvider("openai", func(modelName string) (llm.Client, error) {
		return newOpenAIClient(modelName)
	})
}

type openaiClient struct {
	sdk       *openai.Client
	modelName string
}

func newOpenAIClient(modelName string) (*openaiClient, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY environment variable not set")
	}
	return &openaiClient{
		sdk:       openai.NewClient(key),
		modelName: modelName,
	}, nil
}

func (c *openaiClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	resp, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.modelName,
		MaxTokens: maxTokens(req),
		Messages:  buildMessages(req.Messages, req.System),
	})
	if err != nil {
		return llm.Response{}, mapOpenAIError(err)
	}
	return convertOpenAIResponse(resp)
}

// buildMessages converts messages to OpenAI's chat format, with the system
// prompt first.
func buildMessages(msgs []llm.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text})
		case llm.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text})
		}
	}
	return out
}

func convertOpenAIResponse(resp openai.ChatCompletionResponse) (llm.Response, error) {
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return llm.Response{}, fmt.Errorf("openai: %w", llm.ErrEmptyResponse)
	}
	choice := resp.Choices[0]

	stop := llm.StopReasonEndTurn
	if choice.FinishReason == openai.FinishReasonLength {
		stop = llm.StopReasonMaxTokens
	}
	return llm.Response{
		Text:       choice.Message.Content,
		StopReason: stop,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	return fmt.Errorf("openai: %w", err)
}
