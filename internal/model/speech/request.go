package speech

import (
	"io"
)

// TranscribeRequest carries recorded audio to the transcription service.
type TranscribeRequest struct {
	SessionID string    `json:"sessionId"`
	Audio     io.Reader `json:"-"`
	Filename  string    `json:"filename"`
	Format    string    `json:"format"`   // wav, mp3, webm, etc.
	Language  string    `json:"language"` // en-US, zh-CN, etc.
}

// RenderRequest asks the audio rendering service to speak a reply.
type RenderRequest struct {
	SessionID    string  `json:"sessionId"`
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	Emotion      string  `json:"emotion,omitempty"`
	EmotionScale float32 `json:"emotionScale,omitempty"`
	Format       string  `json:"format"`
	Language     string  `json:"language"`
}
