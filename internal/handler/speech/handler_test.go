package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/heartline/backend/internal/model/speech"
	"github.com/zhouzirui/heartline/backend/internal/service/session"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

type fakeSpeechService struct {
	mu            sync.Mutex
	transcript    string
	transcribeErr error
	renderErr     error
	rendering     bool
	heard         []byte
	rendered      []*speechmodel.RenderRequest
}

func (f *fakeSpeechService) Transcribe(_ context.Context, req *speechmodel.TranscribeRequest) (*speechmodel.Transcript, error) {
	data, _ := io.ReadAll(req.Audio)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heard = data
	if f.transcribeErr != nil {
		return nil, f.transcribeErr
	}
	return &speechmodel.Transcript{SessionID: req.SessionID, Text: f.transcript, CreatedAt: time.Now()}, nil
}

func (f *fakeSpeechService) Render(_ context.Context, req *speechmodel.RenderRequest) (*speechmodel.Rendering, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rendered = append(f.rendered, req)
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return &speechmodel.Rendering{SessionID: req.SessionID, AudioURL: "https://cdn.example/reply.mp3", Format: "mp3"}, nil
}

func (f *fakeSpeechService) TranscriptionEnabled() bool { return true }
func (f *fakeSpeechService) RenderingEnabled() bool     { return f.rendering }

// pathRecorder is the speech-affect channel; it checks the recording exists while the turn runs.
type pathRecorder struct {
	mu      sync.Mutex
	paths   []string
	existed bool
}

func (p *pathRecorder) Classify(_ context.Context, audioRef string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, audioRef)
	_, err := os.Stat(audioRef)
	p.existed = err == nil
	return "sad", nil
}

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, messages []chat.Message) (string, error) {
	return "echo: " + messages[len(messages)-1].Content, nil
}

func setup(t *testing.T, svc *fakeSpeechService) (*chi.Mux, *session.Session, *pathRecorder) {
	t.Helper()
	affect := &pathRecorder{}
	personas := persona.NewMemoryStore([]persona.Persona{{ID: persona.DefaultID, Name: "Mira", VoiceID: "en_female_emo"}})
	mgr := session.NewManager(store.NewMemoryStore(), nil, personas, workflow.Dependencies{
		Speech:    affect,
		Judge:     emotion.RuleJudge{},
		Generator: echoGenerator{},
	}, session.Config{}, nil)

	sess, err := mgr.Register(context.Background(), "Alex", 29, "exam stress")
	if err != nil {
		t.Fatalf("Register err: %v", err)
	}

	r := chi.NewRouter()
	New(svc, mgr, personas, nil).RegisterRoutes(r)
	return r, sess, affect
}

func audioRequest(t *testing.T, path string, audio []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", "sample.webm")
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write(audio); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestAudioTurnTranscribesAnalysesAndRenders(t *testing.T) {
	svc := &fakeSpeechService{transcript: "I feel low", rendering: true}
	r, sess, affect := setup(t, svc)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, audioRequest(t, "/sessions/"+sess.ID+"/turns/audio", []byte("RIFF....")))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rr.Code, rr.Body.String())
	}
	var resp AudioTurnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Transcript == nil || resp.Transcript.Text != "I feel low" {
		t.Fatalf("unexpected transcript: %+v", resp.Transcript)
	}
	if resp.Text != "echo: I feel low" {
		t.Fatalf("unexpected reply: %q", resp.Text)
	}
	if resp.Observation[emotion.ChannelSpeech] != "sad" {
		t.Fatalf("speech channel missing from observation: %+v", resp.Observation)
	}
	if resp.Audio == nil || resp.Audio.AudioURL == "" {
		t.Fatalf("expected rendered audio, got %+v", resp)
	}
	if string(svc.heard) != "RIFF...." {
		t.Fatalf("transcriber got %q", svc.heard)
	}

	if len(affect.paths) != 1 || !affect.existed {
		t.Fatalf("speech-affect channel should see the spooled recording, got %+v", affect.paths)
	}
	if _, err := os.Stat(affect.paths[0]); !os.IsNotExist(err) {
		t.Fatalf("recording should be removed after the turn, stat err = %v", err)
	}

	if len(svc.rendered) != 1 {
		t.Fatalf("expected one render call, got %d", len(svc.rendered))
	}
	if got := svc.rendered[0]; got.Voice != "en_female_emo" || got.Emotion != "comfort" {
		t.Fatalf("expected persona voice with comforting style, got %+v", got)
	}
}

func TestAudioTurnTranscriptionFailure(t *testing.T) {
	svc := &fakeSpeechService{transcribeErr: errors.New("asr offline")}
	r, sess, _ := setup(t, svc)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, audioRequest(t, "/sessions/"+sess.ID+"/turns/audio", []byte("RIFF")))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if len(sess.Engine.History()) != 1 {
		t.Fatalf("no turn should begin when transcription fails")
	}
}

func TestAudioTurnEmptyTranscript(t *testing.T) {
	svc := &fakeSpeechService{transcript: "   "}
	r, sess, affect := setup(t, svc)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, audioRequest(t, "/sessions/"+sess.ID+"/turns/audio", []byte("RIFF")))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", rr.Code, rr.Body.String())
	}
	if len(affect.paths) != 0 {
		t.Fatalf("a silent recording should not start a turn")
	}
	if len(sess.Engine.History()) != 1 {
		t.Fatalf("a silent recording must not produce the greeting")
	}
}

func TestAudioTurnRenderFailureKeepsReply(t *testing.T) {
	svc := &fakeSpeechService{transcript: "hello", rendering: true, renderErr: errors.New("tts down")}
	r, sess, _ := setup(t, svc)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, audioRequest(t, "/sessions/"+sess.ID+"/turns/audio", []byte("RIFF")))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp AudioTurnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AudioError == "" || resp.TurnID == "" {
		t.Fatalf("expected committed turn with audio error, got %+v", resp)
	}
}

func TestAudioTurnRequiresFile(t *testing.T) {
	r, sess, _ := setup(t, &fakeSpeechService{transcript: "x"})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("language", "en-US")
	_ = writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/turns/audio", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestInferAudioFormat(t *testing.T) {
	cases := map[string]string{
		"clip.MP3":  "mp3",
		"clip.webm": "webm",
		"clip":      "wav",
		"clip.flac": "wav",
	}
	for name, want := range cases {
		if got := inferAudioFormat(name); got != want {
			t.Errorf("inferAudioFormat(%q) = %q, want %q", name, got, want)
		}
	}
}
