package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/heartline/backend/internal/model/speech"
)

var (
	// ErrNotConfigured is returned when an adapter has no endpoint.
	ErrNotConfigured = errors.New("speech: service endpoint not configured")
	// ErrEmptyTranscript is returned when the recording held no recognisable speech.
	ErrEmptyTranscript = errors.New("speech: transcription returned no text")
)

// Transcriber converts recorded audio to text before a turn begins.
type Transcriber interface {
	Transcribe(ctx context.Context, req *speech.TranscribeRequest) (*speech.Transcript, error)
}

// Renderer turns reply text into a playable artifact reference.
type Renderer interface {
	Render(ctx context.Context, req *speech.RenderRequest) (*speech.Rendering, error)
}

// Service talks to external transcription and rendering services over HTTP.
type Service struct {
	transcribeURL string
	renderURL     string
	client        *http.Client
	now           func() time.Time
}

// NewService creates the adapter. Either URL may be empty to disable that direction.
func NewService(transcribeURL, renderURL string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		transcribeURL: strings.TrimSpace(transcribeURL),
		renderURL:     strings.TrimSpace(renderURL),
		client:        &http.Client{Timeout: timeout},
		now:           time.Now,
	}
}

// TranscriptionEnabled reports whether audio turns can be accepted.
func (s *Service) TranscriptionEnabled() bool { return s != nil && s.transcribeURL != "" }

// RenderingEnabled reports whether replies can be spoken.
func (s *Service) RenderingEnabled() bool { return s != nil && s.renderURL != "" }

// Transcribe uploads the audio as multipart field "audio" and expects
// {"text": "...", "confidence": 0.9, "duration": 1200}.
func (s *Service) Transcribe(ctx context.Context, req *speech.TranscribeRequest) (*speech.Transcript, error) {
	if !s.TranscriptionEnabled() {
		return nil, ErrNotConfigured
	}
	if req == nil || req.Audio == nil {
		return nil, errors.New("speech: audio is required")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	filename := req.Filename
	if filename == "" {
		filename = "audio." + defaultString(req.Format, "wav")
	}
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("speech: build upload: %w", err)
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return nil, fmt.Errorf("speech: read audio: %w", err)
	}
	_ = writer.WriteField("format", req.Format)
	_ = writer.WriteField("language", req.Language)
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("speech: build upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.transcribeURL, &body)
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	var payload struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
		Duration   int64   `json:"duration"`
	}
	if err := s.do(httpReq, &payload); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	return &speech.Transcript{
		SessionID:  req.SessionID,
		Text:       text,
		Confidence: payload.Confidence,
		Duration:   payload.Duration,
		CreatedAt:  s.now(),
	}, nil
}

// Render posts the request as JSON and expects {"audioUrl": "...", "duration": 900, "format": "mp3"}.
func (s *Service) Render(ctx context.Context, req *speech.RenderRequest) (*speech.Rendering, error) {
	if !s.RenderingEnabled() {
		return nil, ErrNotConfigured
	}
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("speech: text is required")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("speech: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.renderURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var payload struct {
		AudioURL string `json:"audioUrl"`
		Duration int64  `json:"duration"`
		Format   string `json:"format"`
	}
	if err := s.do(httpReq, &payload); err != nil {
		return nil, err
	}
	if payload.AudioURL == "" {
		return nil, errors.New("speech: rendering returned no audio reference")
	}
	return &speech.Rendering{
		SessionID: req.SessionID,
		AudioURL:  payload.AudioURL,
		Duration:  payload.Duration,
		Format:    defaultString(payload.Format, req.Format),
		CreatedAt: s.now(),
	}, nil
}

func (s *Service) do(req *http.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("speech: call %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("speech: %s returned %d: %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("speech: decode response: %w", err)
	}
	return nil
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
