// Package providers registers LLM provider adapters.
// Import this package with a blank identifier to activate all providers:
//
//	import _ "github.com/ravi-parthasarathy/nodeflow/pkg/llm/providers"
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/ravi-parthasarathy/nodeflow/pkg/llm"
)

const defaultMaxTokens = 1024

func init() {
	llm.RegisterProvider("anthropic", func(modelName string) (llm.Client, error) {
		return newAnthropicClient(modelName), nil
	})
}

type anthropicClient struct {
	sdk       anthropicsdk.Client
	modelName string
}

func newAnthropicClient(modelName string) *anthropicClient {
	sdk := anthropicsdk.NewClient() // ANTHROPIC_API_KEY is read from the environment
	return &anthropicClient{sdk: sdk, modelName: modelName}
}

func (a *anthropicClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	msg, err := a.sdk.Messages.New(ctx, anthropicParams(a.modelName, req))
	if err != nil {
		return llm.Response{}, mapAnthropicError(err)
	}
	return convertAnthropicResponse(msg)
}

func anthropicParams(model string, req llm.Request) anthropicsdk.MessageNewParams {
	msgs := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropicsdk.NewTextBlock(m.Text)
		switch m.Role {
		case llm.RoleUser:
			msgs = append(msgs, anthropicsdk.NewUserMessage(block))
		case llm.RoleAssistant:
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(block))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: int64(maxTokens(req)),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	return params
}

func convertAnthropicResponse(msg *anthropicsdk.Message) (llm.Response, error) {
	var sb strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 {
		return llm.Response{}, fmt.Errorf("anthropic: %w", llm.ErrEmptyResponse)
	}

	stop := llm.StopReasonEndTurn
	if msg.StopReason == anthropicsdk.StopReasonMaxTokens {
		stop = llm.StopReasonMaxTokens
	}
	return llm.Response{
		Text:       sb.String(),
		StopReason: stop,
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func mapAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 529 {
			return &llm.ServerError{LLMError: llm.LLMError{Code: apiErr.StatusCode, Message: apiErr.Error(), Cause: err}}
		}
		return llm.FromStatus(apiErr.StatusCode, apiErr.Error(), err)
	}
	return fmt.Errorf("anthropic: %w", err)
}

func maxTokens(req llm.Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
