// Package engines provides synthesizer implementations for the speech
// coordinator.
package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/okabe15/panelvoice/speech"
)

// DefaultEndpoint is the backend TTS route.
const DefaultEndpoint = "/api/tts/generate"

// maxErrorBody caps how much of an error response body is quoted back.
const maxErrorBody = 512

// Voices maps platform voice types to the neural voices the backend
// resolves them to. The mapping is informational (for listings and
// validation); the backend performs the actual resolution.
var Voices = map[string]string{
	"classic":  "en-GB-RyanNeural",  // British male for classic text
	"modern":   "en-US-GuyNeural",   // American male for modern text
	"narrator": "en-US-AriaNeural",  // Female narrator voice
	"male":     "en-US-DavisNeural", // Male voice
	"female":   "en-US-JennyNeural", // Female voice
}

// VoiceDescriptions holds the human-readable voice listing shown to
// users.
var VoiceDescriptions = map[string]string{
	"modern":   "Modern American male voice - clear and natural",
	"classic":  "British male voice - perfect for classic literature",
	"narrator": "American female narrator - warm and engaging",
	"male":     "American male voice - versatile and clear",
	"female":   "American female voice - friendly and expressive",
}

// Edge synthesizes speech through the platform backend's TTS endpoint.
type Edge struct {
	baseURL  string
	endpoint string
	client   *http.Client
	logger   *log.Logger
}

// EdgeConfig contains settings for the Edge synthesizer.
type EdgeConfig struct {
	BaseURL  string        // Backend base URL, e.g. "http://localhost:8000"
	Endpoint string        // TTS route; DefaultEndpoint when empty
	Timeout  time.Duration // HTTP client timeout; 0 relies on the request context
	Logger   *log.Logger   // nil uses the default logger
}

// NewEdge creates an Edge synthesizer.
func NewEdge(cfg EdgeConfig) *Edge {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Edge{
		baseURL:  cfg.BaseURL,
		endpoint: endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Synthesize posts the request to the backend and returns the binary
// audio payload. Unknown voice types fall back to "modern", matching the
// backend's own behavior. A zero-byte payload is a failure.
func (e *Edge) Synthesize(ctx context.Context, req speech.Request) ([]byte, error) {
	if _, ok := Voices[req.VoiceType]; !ok {
		e.logger.Warn("unknown voice type, using 'modern'", "voice_type", req.VoiceType)
		req.VoiceType = "modern"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	target, err := url.JoinPath(e.baseURL, e.endpoint)
	if err != nil {
		return nil, fmt.Errorf("build synthesis url: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	e.logger.Debug("synthesis request",
		"request_id", requestID,
		"voice_type", req.VoiceType,
		"rate", req.Rate,
		"pitch", req.Pitch,
		"text_len", len(req.Text))

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("synthesis backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	if len(audio) == 0 {
		return nil, speech.ErrEmptyAudio
	}

	e.logger.Debug("synthesis response", "request_id", requestID, "bytes", len(audio))
	return audio, nil
}
