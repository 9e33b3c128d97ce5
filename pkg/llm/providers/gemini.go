package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ravi-parthasarathy/nodeflow/pkg/llm"
)

func init() {
	llm.RegisterProvider("gemini", func(modelName string) (llm.Client, error) {
		return newGeminiClient(modelName)
	})
}

type geminiClient struct {
	sdk       *genai.Client
	modelName string
}

func newGeminiClient(modelName string) (*geminiClient, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("gemini: GEMINI_API_KEY environment variable not set")
	}
	// genai.NewClient requires a context; use Background for construction.
	sdk, err := genai.NewClient(context.Background(), option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiClient{sdk: sdk, modelName: modelName}, nil
}

func (c *geminiClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := c.sdk.GenerativeModel(c.modelName)
	n := int32(maxTokens(req))
	model.MaxOutputTokens = &n
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	history, last := buildContents(req.Messages)
	if last == nil {
		return llm.Response{}, fmt.Errorf("gemini: no user message to send")
	}
	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return llm.Response{}, mapGeminiError(err)
	}
	return convertGeminiResponse(resp)
}

// buildContents splits messages into the chat history and the final turn
// sent with SendMessage.
func buildContents(msgs []llm.Message) ([]*genai.Content, *genai.Content) {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Text)},
		})
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1]
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) (llm.Response, error) {
	var sb strings.Builder
	stop := llm.StopReasonEndTurn
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					sb.WriteString(string(text))
				}
			}
		}
		if cand.FinishReason == genai.FinishReasonSafety {
			return llm.Response{}, &llm.ContentFilterError{LLMError: llm.LLMError{Message: "gemini: blocked by safety filter"}}
		}
		if cand.FinishReason == genai.FinishReasonMaxTokens {
			stop = llm.StopReasonMaxTokens
		}
	}
	if sb.Len() == 0 {
		return llm.Response{}, fmt.Errorf("gemini: %w", llm.ErrEmptyResponse)
	}

	var usage llm.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return llm.Response{Text: sb.String(), StopReason: stop, Usage: usage}, nil
}

func mapGeminiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return llm.FromStatus(apiErr.Code, apiErr.Message, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
