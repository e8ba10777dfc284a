package signal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// HTTPSpeechClassifier uploads a recording to a speech-affect service.
// The audio reference is a local file path.
type HTTPSpeechClassifier struct {
	url    string
	client *http.Client
}

func NewHTTPSpeechClassifier(url string, timeout time.Duration) *HTTPSpeechClassifier {
	return &HTTPSpeechClassifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPSpeechClassifier) Classify(ctx context.Context, audioRef string) (string, error) {
	if audioRef == "" {
		return "", errors.New("signal: audio reference is required")
	}
	file, err := os.Open(audioRef)
	if err != nil {
		return "", fmt.Errorf("signal: open audio: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioRef))
	if err != nil {
		return "", fmt.Errorf("signal: build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("signal: read audio: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("signal: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", fmt.Errorf("signal: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return doLabelRequest(c.client, req)
}
