package tools

import (
	"context"
	"fmt"

	"genesis/pkg/api"
)

// ImageGenClient is the narrow image-generation capability generate_image
// needs. The concrete adapter (genesis's existing google.golang.org/genai
// client, the same SDK pkg/llm/gemini.GeminiClient already depends on)
// is wired in cmd/genesis/main.go rather than imported directly here, the
// same deferred-adapter pattern used for toolloop.LLMStreamer and
// topicrouter.Classifier.
type ImageGenClient interface {
	GenerateImage(ctx context.Context, prompt string, sourceImages [][]byte, aspectRatio string, useSearchGrounding bool) (data []byte, mimeType string, err error)
}

const imageGenCostUSD = 0.04

// GenerateImageTool implements the generate_image tool (spec §6): creative
// image generation, optionally conditioned on source images or grounded in
// a live web search.
type GenerateImageTool struct {
	files FileResolver
	gen   ImageGenClient
}

func NewGenerateImageTool(files FileResolver, gen ImageGenClient) *GenerateImageTool {
	return &GenerateImageTool{files: files, gen: gen}
}

func (t *GenerateImageTool) Name() string { return "generate_image" }

func (t *GenerateImageTool) Description() string {
	return "Generate a creative image from a text prompt, optionally conditioned on up to a few source images or grounded with a live web search."
}

func (t *GenerateImageTool) Parameters() map[string]any {
	return map[string]any{
		"prompt":            map[string]any{"type": "string", "description": "Description of the image to generate"},
		"source_file_ids":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Optional file ids of images to condition on"},
		"aspect_ratio":      map[string]any{"type": "string", "description": "Optional aspect ratio, e.g. '1:1', '16:9'"},
		"image_size":        map[string]any{"type": "string", "description": "Optional output size hint"},
		"use_google_search": map[string]any{"type": "boolean", "description": "Ground the generation in a live web search"},
	}
}

func (t *GenerateImageTool) RequiredParameters() []string { return []string{"prompt"} }

func (t *GenerateImageTool) IsPaid() bool { return true }

func (t *GenerateImageTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	prompt := argString(args, "prompt")
	if prompt == "" {
		return errResult("prompt is required"), nil
	}
	aspectRatio := argString(args, "aspect_ratio")
	useSearch := argBool(args, "use_google_search")

	var sourceImages [][]byte
	if raw, ok := args["source_file_ids"].([]any); ok {
		for _, v := range raw {
			id, ok := v.(string)
			if !ok {
				continue
			}
			data, _, err := t.files.Get(ctx, id, true)
			if err != nil {
				continue
			}
			sourceImages = append(sourceImages, data)
		}
	}

	data, mimeType, err := t.gen.GenerateImage(ctx, prompt, sourceImages, aspectRatio, useSearch)
	if err != nil {
		return nil, fmt.Errorf("generate_image: %w", err)
	}

	mode := "image_generation"
	if useSearch {
		mode = "image_generation_grounded"
	}
	result := imageResult("", data, mimeType, imageGenCostUSD)
	result.Details["mode"] = mode
	return result, nil
}
