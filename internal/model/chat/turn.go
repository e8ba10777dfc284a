package chat

import (
	"time"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
)

// Modality is how the user produced the input of a turn.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// Valid reports whether m is a supported modality.
func (m Modality) Valid() bool {
	return m == ModalityText || m == ModalityAudio
}

// Turn is one persisted input/reply exchange. ID makes appends idempotent.
type Turn struct {
	ID        string              `json:"id"`
	Input     string              `json:"input"`
	Modality  Modality            `json:"modality"`
	Emotions  emotion.Observation `json:"emotions"`
	Reply     string              `json:"reply"`
	Timestamp time.Time           `json:"timestamp"`
}

// ConflictRecord captures a turn whose emotion channels disagreed.
type ConflictRecord struct {
	ID          string              `json:"id"`
	UserID      string              `json:"userId"`
	Observation emotion.Observation `json:"observation"`
	Dominant    string              `json:"dominant"`
	Timestamp   time.Time           `json:"timestamp"`
}
