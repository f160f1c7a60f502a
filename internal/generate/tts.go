package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reelsmith/reelsmith/internal/jobs"
	"github.com/reelsmith/reelsmith/internal/storage"
)

// DefaultVoice is used when a job does not choose one.
const DefaultVoice = "onyx"

// SpeechClient synthesises narration through an OpenAI-compatible
// /audio/speech endpoint and stores the MP3.
type SpeechClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	store      storage.Storage
}

var _ jobs.SpeechSynthesizer = (*SpeechClient)(nil)

func NewSpeechClient(baseURL, apiKey, model string, store storage.Storage, httpClient *http.Client) *SpeechClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &SpeechClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		store:      store,
	}
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func (c *SpeechClient) Synthesize(ctx context.Context, key, text, voice string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("speech: %w", ErrNotConfigured)
	}
	if voice == "" {
		voice = DefaultVoice
	}

	body, err := json.Marshal(speechRequest{Model: c.model, Input: text, Voice: voice, ResponseFormat: "mp3"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech API error (status %d): %s", resp.StatusCode, truncate(string(audio), 300))
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("speech API returned no audio")
	}

	return storeMedia(ctx, c.store, "audio/"+key+".mp3", audio, "audio/mpeg")
}
