// Package signal adapts the external emotion providers to the workflow's channel interfaces.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoLabel is returned when a provider answers without a label.
var ErrNoLabel = errors.New("signal: provider returned no label")

// labelPayload accepts the field names used by the providers we talk to.
type labelPayload struct {
	Emotion string `json:"emotion"`
	Label   string `json:"label"`
}

func (p labelPayload) value() string {
	if v := strings.TrimSpace(p.Emotion); v != "" {
		return v
	}
	return strings.TrimSpace(p.Label)
}

func doLabelRequest(client *http.Client, req *http.Request) (string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signal: call %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("signal: %s returned %d: %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload labelPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("signal: decode response: %w", err)
	}
	label := payload.value()
	if label == "" {
		return "", ErrNoLabel
	}
	return label, nil
}
