package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"genesis/pkg/api"
)

// TranscribeAudioTool implements the transcribe_audio tool (spec §6) against
// an OpenAI-compatible /v1/audio/transcriptions endpoint. Grounded on
// manifold's internal/tools/tts.Tool, which calls the sibling
// /v1/audio/speech endpoint the same way (plain net/http POST honoring a
// configured base URL and bearer key) — inverted here from synthesis to
// transcription.
type TranscribeAudioTool struct {
	files      FileResolver
	http       *http.Client
	baseURL    string
	apiKey     string
	model      string
	costPerMin float64
}

func NewTranscribeAudioTool(files FileResolver, httpClient *http.Client, baseURL, apiKey, model string, costPerMinute float64) *TranscribeAudioTool {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if model == "" {
		model = "whisper-1"
	}
	return &TranscribeAudioTool{
		files:      files,
		http:       httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		costPerMin: costPerMinute,
	}
}

func (t *TranscribeAudioTool) Name() string { return "transcribe_audio" }

func (t *TranscribeAudioTool) Description() string {
	return "Transcribe a previously uploaded audio or voice message to text."
}

func (t *TranscribeAudioTool) Parameters() map[string]any {
	return map[string]any{
		"file_id": map[string]any{"type": "string", "description": "The file id of the audio to transcribe"},
	}
}

func (t *TranscribeAudioTool) RequiredParameters() []string { return []string{"file_id"} }

func (t *TranscribeAudioTool) IsPaid() bool { return true }

func (t *TranscribeAudioTool) Execute(ctx context.Context, args map[string]any) (*api.ToolResult, error) {
	fileID := argString(args, "file_id")
	if fileID == "" {
		return errResult("file_id is required"), nil
	}

	data, meta, err := t.files.Get(ctx, fileID, false)
	if err != nil {
		return errResult("could not load %s: %v", fileID, err), nil
	}

	started := time.Now()
	transcript, err := t.transcribe(ctx, data, meta.Filename)
	if err != nil {
		return nil, fmt.Errorf("transcribe_audio: %w", err)
	}
	duration := time.Since(started).Seconds()

	cost := t.costPerMin * (duration / 60.0)
	return textResult(transcript, cost, map[string]any{
		"duration": duration,
		"language": "auto",
	}), nil
}

func (t *TranscribeAudioTool) transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", nonEmpty(filename, "audio.ogg"))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	reqURL := t.baseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return "", fmt.Errorf("transcription server error: %d %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return out.Text, nil
}
