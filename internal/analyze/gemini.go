package analyze

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GeminiAnalyzer implements Analyzer using Google Gemini.
type GeminiAnalyzer struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *zap.Logger
}

// NewGeminiAnalyzer creates a Gemini-backed analyzer.
func NewGeminiAnalyzer(ctx context.Context, apiKey, modelName string, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"

	return &GeminiAnalyzer{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

// Analyze extracts receipt fields from the image in req.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	raw, err := base64.StdEncoding.DecodeString(req.Base64Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}

	prepared, _, err := prepareImage(raw, req.MimeType)
	if err != nil {
		return nil, err
	}

	parts := []genai.Part{
		genai.ImageData("png", prepared),
		genai.Text(buildPrompt(req.Language, req.Categories)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		g.logger.Error("Gemini API call failed", zap.Error(err))
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	result, err := parseResult(text.String())
	if err != nil {
		g.logger.Error("Failed to parse gemini response",
			zap.Error(err),
			zap.String("content", text.String()))
		return nil, err
	}
	return result, nil
}

// Close releases the underlying client.
func (g *GeminiAnalyzer) Close() error {
	return g.client.Close()
}
