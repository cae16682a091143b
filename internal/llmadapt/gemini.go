// Package llmadapt adapts genesis's existing google.golang.org/genai
// dependency (already pulled in for pkg/llm/gemini) into the narrow,
// single-shot capability interfaces internal/tools and internal/topicrouter
// declare: one vision question, one image generation, one JSON
// classification call apiece, none of which need the full streaming
// StreamChat turn loop pkg/llm/gemini.GeminiClient implements.
package llmadapt

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"genesis/internal/topicrouter"
)

// GeminiAdapter wraps a single genai.Client/model pair and backs
// tools.VisionClient, tools.ImageGenClient, and topicrouter.Classifier.
type GeminiAdapter struct {
	client      *genai.Client
	visionModel string
	imageModel  string
}

// NewGeminiAdapter builds an adapter using its own genai.Client, separate
// from the streaming gemini.GeminiClient instances pkg/llm/loader.go builds,
// since none of those expose the raw client needed for one-shot calls.
func NewGeminiAdapter(ctx context.Context, apiKey, visionModel, imageModel string) (*GeminiAdapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llmadapt: gemini client init: %w", err)
	}
	return &GeminiAdapter{client: client, visionModel: visionModel, imageModel: imageModel}, nil
}

// AnalyzeAttachment implements tools.VisionClient: one non-streaming
// question-about-an-attachment call.
func (a *GeminiAdapter) AnalyzeAttachment(ctx context.Context, data []byte, mimeType, question string) (string, int, error) {
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			{Text: question},
		},
	}}

	resp, err := a.client.Models.GenerateContent(ctx, a.visionModel, contents, nil)
	if err != nil {
		return "", 0, fmt.Errorf("llmadapt: vision call failed: %w", err)
	}

	var answer string
	tokens := 0
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			answer += p.Text
		}
	}
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return answer, tokens, nil
}

// GenerateImage implements tools.ImageGenClient.
func (a *GeminiAdapter) GenerateImage(ctx context.Context, prompt string, sourceImages [][]byte, aspectRatio string, useSearchGrounding bool) ([]byte, string, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, img := range sourceImages {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: img}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if useSearchGrounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if aspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.imageModel, contents, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("llmadapt: image generation failed: %w", err)
	}

	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return p.InlineData.Data, nonEmptyOr(p.InlineData.MIMEType, "image/png"), nil
			}
		}
	}
	return nil, "", fmt.Errorf("llmadapt: no image data in response")
}

// Classify implements topicrouter.Classifier: one forced-JSON completion.
func (a *GeminiAdapter) Classify(ctx context.Context, systemPrompt, userPrompt string) (result topicrouter.ClassifierResult, err error) {
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: userPrompt}}}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		ResponseMIMEType:  "application/json",
	}

	resp, genErr := a.client.Models.GenerateContent(ctx, a.visionModel, contents, cfg)
	if genErr != nil {
		return result, fmt.Errorf("llmadapt: classify call failed: %w", genErr)
	}

	var raw string
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			raw += p.Text
		}
	}

	if jsonErr := json.Unmarshal([]byte(raw), &result); jsonErr != nil {
		return result, fmt.Errorf("llmadapt: classify response not valid JSON: %w", jsonErr)
	}
	return result, nil
}

func nonEmptyOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
