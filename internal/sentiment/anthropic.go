package sentiment

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

type AnthropicClassifier struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClassifier builds a Claude-backed classifier. Extra request
// options are applied after the API key.
func NewAnthropicClassifier(apiKey, model string, opts ...option.RequestOption) *AnthropicClassifier {
	if model == "" {
		model = defaultAnthropicModel
	}
	client := anthropic.NewClient(
		append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...,
	)
	return &AnthropicClassifier{client: &client, model: model}
}

func (c *AnthropicClassifier) Classify(ctx context.Context, text string) (Prediction, error) {
	prompt := verdictInstruction + "\n\n" + verdictPrompt(text)

	// Prefill "{" so the reply continues a JSON object.
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock("{")),
		},
	})
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to call Claude API: %w", err)
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	if responseText == "" {
		return Prediction{}, fmt.Errorf("claude returned empty response")
	}
	return parseVerdict("{" + responseText)
}

func (c *AnthropicClassifier) Close() error {
	return nil
}
