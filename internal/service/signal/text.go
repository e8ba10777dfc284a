package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPTextClassifier posts {"text": ...} to a sentiment service and returns its label,
// e.g. "4 stars" or "sad".
type HTTPTextClassifier struct {
	url    string
	client *http.Client
}

func NewHTTPTextClassifier(url string, timeout time.Duration) *HTTPTextClassifier {
	return &HTTPTextClassifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPTextClassifier) Classify(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("signal: encode text: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("signal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doLabelRequest(c.client, req)
}
