// Package backend talks to the plain HTTP endpoints of the conversation backend:
// the opening greeting and the deferred voice upload.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ai-voice-turn-client/internal/models"
	"ai-voice-turn-client/internal/observability/metrics"
)

// ErrBackend is returned when the backend answers with a non-zero code.
var ErrBackend = errors.New("backend error")

// VoiceUpload is the recorded audio of one committed user turn.
type VoiceUpload struct {
	UserID    string
	SessionID string
	TextID    string
	FileName  string
	WAV       []byte
}

// Key returns the object key of the upload: <userId>/<sessionId>/<textId>.wav
func (u VoiceUpload) Key() string {
	return fmt.Sprintf("%s/%s/%s.wav", u.UserID, u.SessionID, u.TextID)
}

// Config holds HTTP endpoint settings.
type Config struct {
	BaseURL      string
	UploadPath   string
	GreetingPath string
	Timeout      time.Duration
	UserAgent    string
}

// DefaultConfig returns settings for a local backend.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:8000",
		UploadPath:   "/api/upload_voice",
		GreetingPath: "/api/get_latest_ai_message",
		Timeout:      10 * time.Second,
		UserAgent:    "ai-voice-turn-client/1.0",
	}
}

// Client calls the backend HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		metrics:    metrics.DefaultMetrics,
		logger:     log.With().Str("component", "backend").Logger(),
	}
}

// Name identifies the upload backend in metrics.
func (c *Client) Name() string { return "http" }

// LatestAssistantMessage returns the last assistant message stored for userID.
// An empty string means the backend has none.
func (c *Client) LatestAssistantMessage(ctx context.Context, userID string) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.GreetingPath + "?user_id=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create greeting request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("get latest message: %w", err)
	}

	var resp models.LatestMessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse latest message: %w", err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("%w: code %d: %s", ErrBackend, resp.Code, resp.Msg)
	}
	return resp.Data.AIMessage, nil
}

// UploadVoice posts the WAV of a committed turn as multipart form data.
func (c *Client) UploadVoice(ctx context.Context, u VoiceUpload) error {
	start := time.Now()
	err := c.uploadVoice(ctx, u)
	c.metrics.RecordUpload(c.Name(), err, time.Since(start).Seconds())
	return err
}

func (c *Client) uploadVoice(ctx context.Context, u VoiceUpload) error {
	body, contentType, err := multipartBody(u)
	if err != nil {
		return fmt.Errorf("create upload body: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + c.cfg.UploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	respBody, err := c.do(req)
	if err != nil {
		return fmt.Errorf("upload voice: %w", err)
	}

	var resp models.UploadResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		// some deployments answer with an empty body
		c.logger.Debug().Err(err).Msg("Upload response is not JSON")
		return nil
	}
	if resp.Code != 0 {
		return fmt.Errorf("%w: code %d: %s", ErrBackend, resp.Code, resp.Msg)
	}

	c.logger.Debug().
		Str("textId", u.TextID).
		Int("bytes", len(u.WAV)).
		Msg("Voice uploaded")
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func multipartBody(u VoiceUpload) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	name := u.FileName
	if name == "" {
		name = u.TextID + ".wav"
	}
	fileWriter, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fileWriter.Write(u.WAV); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	fields := []struct{ key, value string }{
		{"user_id", u.UserID},
		{"session_id", u.SessionID},
		{"text_id", u.TextID},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.key, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
