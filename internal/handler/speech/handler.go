package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chathandler "github.com/zhouzirui/heartline/backend/internal/handler/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/persona"
	"github.com/zhouzirui/heartline/backend/internal/model/speech"
	"github.com/zhouzirui/heartline/backend/internal/service/session"
	speechsvc "github.com/zhouzirui/heartline/backend/internal/service/speech"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
	"github.com/zhouzirui/heartline/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

var errTranscription = errors.New("transcription failed")

// SpeechService abstracts the transcription and rendering adapters so tests can swap them.
type SpeechService interface {
	speechsvc.Transcriber
	speechsvc.Renderer
	TranscriptionEnabled() bool
	RenderingEnabled() bool
}

// Handler serves spoken turns over multipart upload and WebSocket.
type Handler struct {
	speechSvc SpeechService
	sessions  *session.Manager
	personas  persona.Store
	logger    *zap.Logger
}

func New(speechSvc SpeechService, sessions *session.Manager, personas persona.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		speechSvc: speechSvc,
		sessions:  sessions,
		personas:  personas,
		logger:    logger.Named("speech_handler"),
	}
}

// RegisterRoutes mounts the audio turn endpoint and the WebSocket turn loop.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{sessionID}/turns/audio", h.handleAudioTurn)
	NewWebSocketHandler(h).RegisterWebSocketRoutes(r)
}

// AudioTurnResponse is a spoken turn: what was heard, the reply, and optionally how it sounds.
type AudioTurnResponse struct {
	chathandler.TurnResponse
	Transcript *speech.Transcript `json:"transcript"`
	Audio      *speech.Rendering  `json:"audio,omitempty"`
	AudioError string             `json:"audioError,omitempty"`
}

type audioInput struct {
	data     io.Reader
	filename string
	format   string
	language string
	voice    string
	observe  func(workflow.State)
}

func (h *Handler) handleAudioTurn(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil || !h.speechSvc.TranscriptionEnabled() {
		utils.RespondError(w, http.StatusNotImplemented, "transcription is not configured")
		return
	}

	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, chathandler.StatusFor(err), err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	resp, err := h.runAudioTurn(r.Context(), sess, audioInput{
		data:     file,
		filename: header.Filename,
		format:   inferAudioFormat(header.Filename),
		language: defaultString(r.FormValue("language"), "en-US"),
		voice:    r.FormValue("voice"),
	})
	if err != nil {
		status := chathandler.StatusFor(err)
		switch {
		case errors.Is(err, speechsvc.ErrEmptyTranscript):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, errTranscription):
			status = http.StatusBadGateway
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, chathandler.TurnStatus(resp.Reply), resp)
}

// runAudioTurn transcribes the recording, runs the turn with the recording as its audio
// reference, then renders the reply. Rendering failures never affect the committed turn.
func (h *Handler) runAudioTurn(ctx context.Context, sess *session.Session, in audioInput) (AudioTurnResponse, error) {
	path, err := saveAudio(in.data, in.format)
	if err != nil {
		return AudioTurnResponse{}, err
	}
	defer os.Remove(path)

	recording, err := os.Open(path)
	if err != nil {
		return AudioTurnResponse{}, fmt.Errorf("open recording: %w", err)
	}
	transcript, err := h.speechSvc.Transcribe(ctx, &speech.TranscribeRequest{
		SessionID: sess.ID,
		Audio:     recording,
		Filename:  in.filename,
		Format:    in.format,
		Language:  in.language,
	})
	recording.Close()
	if err == nil && strings.TrimSpace(transcript.Text) == "" {
		err = speechsvc.ErrEmptyTranscript
	}
	if errors.Is(err, speechsvc.ErrEmptyTranscript) {
		h.logger.Info("recording held no speech", zap.String("session_id", sess.ID))
		return AudioTurnResponse{}, err
	}
	if err != nil {
		h.logger.Warn("transcription failed", zap.String("session_id", sess.ID), zap.Error(err))
		return AudioTurnResponse{}, fmt.Errorf("%w: %w", errTranscription, err)
	}

	reply, err := sess.Engine.ProcessTurn(ctx, workflow.Input{
		Text:     transcript.Text,
		Modality: chat.ModalityAudio,
		AudioRef: path,
		Observe:  in.observe,
	})
	if err != nil {
		return AudioTurnResponse{}, err
	}

	resp := AudioTurnResponse{
		Transcript:   transcript,
		TurnResponse: chathandler.NewTurnResponse(reply),
	}
	resp.Audio, err = h.render(ctx, sess, reply, in.voice, in.language)
	if err != nil {
		resp.AudioError = err.Error()
	}
	return resp, nil
}

// render speaks the reply when rendering is configured; a nil rendering and nil error means it is not.
func (h *Handler) render(ctx context.Context, sess *session.Session, reply workflow.Reply, voice, language string) (*speech.Rendering, error) {
	if h.speechSvc == nil || !h.speechSvc.RenderingEnabled() || strings.TrimSpace(reply.Text) == "" {
		return nil, nil
	}
	if strings.TrimSpace(voice) == "" {
		voice = h.personaVoice(sess.PersonaID)
	}

	req := &speech.RenderRequest{
		SessionID: sess.ID,
		Text:      reply.Text,
		Voice:     voice,
		Format:    "mp3",
		Language:  language,
	}
	if enable, style, scale := speechsvc.ComputeEmotionParameters(voice, reply.Emotion); enable {
		req.Emotion = style
		req.EmotionScale = scale
	}

	rendering, err := h.speechSvc.Render(ctx, req)
	if err != nil {
		h.logger.Warn("rendering failed", zap.String("session_id", sess.ID), zap.Error(err))
		return nil, errors.New("audio rendering failed")
	}
	return rendering, nil
}

func (h *Handler) personaVoice(personaID string) string {
	if h.personas == nil {
		return ""
	}
	if p, ok := h.personas.FindByID(personaID); ok {
		return p.VoiceID
	}
	return ""
}

// saveAudio spools the recording to a temp file so the speech-affect channel can read it by path.
func saveAudio(data io.Reader, format string) (string, error) {
	f, err := os.CreateTemp("", "heartline-turn-*."+defaultString(format, "wav"))
	if err != nil {
		return "", fmt.Errorf("spool recording: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("spool recording: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("spool recording: %w", err)
	}
	return f.Name(), nil
}

func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".m4a", ".aac", ".ogg":
		return strings.TrimPrefix(ext, ".")
	default:
		return "wav"
	}
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return strings.TrimSpace(v)
}
