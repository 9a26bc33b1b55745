package analyze

import (
	"context"
	"encoding/base64"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIAnalyzer implements Analyzer using an OpenAI vision model.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIAnalyzer creates an OpenAI-backed analyzer.
func NewOpenAIAnalyzer(apiKey, model string, logger *zap.Logger) (*OpenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIAnalyzer{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}, nil
}

// Analyze extracts receipt fields from the image in req.
func (o *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	raw, err := base64.StdEncoding.DecodeString(req.Base64Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}

	prepared, mimeType, err := prepareImage(raw, req.MimeType)
	if err != nil {
		return nil, err
	}
	imageURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(prepared))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: buildPrompt(req.Language, req.Categories),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: imageURL,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		o.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	result, err := parseResult(content)
	if err != nil {
		o.logger.Error("Failed to parse OpenAI response",
			zap.Error(err),
			zap.String("content", content))
		return nil, err
	}
	return result, nil
}
