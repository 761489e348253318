// Package gemini adapts the Gemini API to the call service: it is the
// classifier oracle, the speech synthesizer and the transcriber.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model answers without usable content
var ErrEmptyResponse = errors.New("gemini returned an empty response")

// generator is the slice of the genai Models service this package uses
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewClient connects to the Gemini API with an API key
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// firstInlineData returns the first inline blob of the first candidate
func firstInlineData(resp *genai.GenerateContentResponse) (*genai.Blob, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, false
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData, true
		}
	}
	return nil, false
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}
