// Package transcribe is the client for the PolyVoice transcription service,
// the sink every finished recording artifact is handed to.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MaxArtifactBytes mirrors the service-side upload cap.
const MaxArtifactBytes = 25 * 1024 * 1024

var supportedExtensions = map[string]bool{
	".wav":  true,
	".m4a":  true,
	".mp3":  true,
	".ogg":  true,
	".webm": true,
}

// Result is the transcription response for one artifact.
type Result struct {
	Text             string  `json:"text"`
	ModelUsed        string  `json:"model_used"`
	ProcessingTimeMs int     `json:"processing_time_ms"`
	EstimatedCost    float64 `json:"estimated_cost"`
	EstimatedMinutes float64 `json:"estimated_minutes"`
}

// Health is the service health report.
type Health struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Version          string `json:"version"`
	OpenAIConfigured bool   `json:"openai_configured"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Transcriber converts a finished audio artifact to text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifactPath string) (Result, error)
}

// Client talks to the PolyVoice backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "transcribe").Logger(),
	}
}

// CheckHealth verifies the service is reachable and configured.
func (c *Client) CheckHealth(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return Health{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("health check returned %s", resp.Status)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode health response: %w", err)
	}
	return h, nil
}

// Transcribe uploads the artifact and returns the transcribed text. The
// artifact must be a closed, readable file in a supported format.
func (c *Client) Transcribe(ctx context.Context, artifactPath string) (Result, error) {
	ext := strings.ToLower(filepath.Ext(artifactPath))
	if !supportedExtensions[ext] {
		return Result{}, fmt.Errorf("unsupported audio format %q", ext)
	}

	info, err := os.Stat(artifactPath)
	if err != nil {
		return Result{}, fmt.Errorf("artifact not readable: %w", err)
	}
	if info.Size() > MaxArtifactBytes {
		return Result{}, fmt.Errorf("artifact is %d bytes, exceeds the %d byte limit", info.Size(), MaxArtifactBytes)
	}

	file, err := os.Open(artifactPath)
	if err != nil {
		return Result{}, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(artifactPath))
	if err != nil {
		return Result{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return Result{}, fmt.Errorf("read artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transcribe", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Debug().Str("artifact", artifactPath).Int64("bytes", info.Size()).Msg("Uploading artifact")

	begin := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return Result{}, fmt.Errorf("transcription failed: %s", apiErr.Error)
		}
		return Result{}, fmt.Errorf("transcription failed: %s", resp.Status)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}

	c.log.Info().
		Str("model", result.ModelUsed).
		Int("server_ms", result.ProcessingTimeMs).
		Dur("round_trip", time.Since(begin)).
		Msg("Artifact transcribed")

	return result, nil
}
