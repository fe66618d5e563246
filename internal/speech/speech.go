// Package speech converts text to audio with the ElevenLabs API.
//
// Speech is a standalone collaborator served by the HTTP API. It is never
// called by the build pipeline.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/buildbuddy/internal/config"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultModelID = "eleven_monolingual_v1"
	defaultTimeout = 30 * time.Second

	// ContentType is the media type of synthesized audio.
	ContentType = "audio/mpeg"

	// MaxTextLength bounds a single synthesis request.
	MaxTextLength = 5000

	maxAudioSize = 32 << 20
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("text-to-speech is not configured")
	// ErrEmptyText is returned for blank input.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrTextTooLong is returned when text exceeds MaxTextLength.
	ErrTextTooLong = fmt.Errorf("text exceeds %d characters", MaxTextLength)
)

// APIError is a non-2xx response from the speech API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs API error (%d): %s", e.StatusCode, e.Message)
}

// Synthesizer turns text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Client calls the ElevenLabs text-to-speech endpoint.
type Client struct {
	apiKey     string `json:"-"`
	baseURL    string
	voiceID    string
	modelID    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Synthesizer = (*Client)(nil)

// New creates a Client. It returns ErrNotConfigured when cfg has no API key.
func New(cfg config.SpeechConfig) (*Client, error) {
	if !cfg.APIKey.IsSet() {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = defaultModelID
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:     cfg.APIKey.Value(),
		baseURL:    baseURL,
		voiceID:    voiceID,
		modelID:    modelID,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
	}, nil
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Synthesize returns MPEG audio for text. An empty voiceID uses the
// configured default voice.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if len([]rune(text)) > MaxTextLength {
		return nil, ErrTextTooLong
	}
	if voiceID == "" {
		voiceID = c.voiceID
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	body, err := json.Marshal(synthesizeRequest{Text: text, ModelID: c.modelID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/v1/text-to-speech/" + voiceID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", ContentType)
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		var errResp errorResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Detail.Message != "" {
			msg = errResp.Detail.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio response")
	}
	return data, nil
}
