package speech

import "time"

// Transcript is the UTF-8 text recognised from one recording.
type Transcript struct {
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Duration   int64     `json:"duration"` // milliseconds
	CreatedAt  time.Time `json:"createdAt"`
}

// Rendering references a playable artifact for a reply.
type Rendering struct {
	SessionID string    `json:"sessionId"`
	AudioURL  string    `json:"audioUrl"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"createdAt"`
}
