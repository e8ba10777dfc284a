package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chathandler "github.com/zhouzirui/heartline/backend/internal/handler/chat"
	"github.com/zhouzirui/heartline/backend/internal/model/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/session"
	"github.com/zhouzirui/heartline/backend/internal/service/workflow"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler runs a turn loop over one WebSocket connection.
type WebSocketHandler struct {
	*Handler
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(h *Handler) *WebSocketHandler {
	return &WebSocketHandler{
		Handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AudioMessage carries one chunk of a recording. The turn runs once IsFinal arrives.
type AudioMessage struct {
	AudioData []byte `json:"audioData"`
	Format    string `json:"format"`
	Language  string `json:"language"`
	IsFinal   bool   `json:"isFinal"`
}

// TextMessage is a typed turn. An empty text asks for the greeting.
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage adjusts per-connection audio settings.
type ConfigMessage struct {
	Language   string `json:"language"`
	Voice      string `json:"voice"`
	TTSEnabled *bool  `json:"ttsEnabled,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type connectionState struct {
	session     *session.Session
	language    string
	voice       string
	ttsEnabled  bool
	audioFormat string
	buffer      bytes.Buffer
}

func newConnectionState(sess *session.Session, voice string) *connectionState {
	return &connectionState{
		session:    sess,
		language:   "en-US",
		voice:      voice,
		ttsEnabled: true,
	}
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), chathandler.StatusFor(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("session_id", sess.ID))
	logger.Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go pingLoop(ctx, conn)

	state := newConnectionState(sess, h.personaVoice(sess.PersonaID))
	h.send(conn, sess.ID, "connected", map[string]any{
		"personaId": sess.PersonaID,
		"userId":    sess.User.ID,
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(ctx, conn, state, msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg inboundMessage) {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(conn, state, "invalid text payload")
			return
		}
		h.runTextTurn(ctx, conn, state, text.Text)
	case "audio":
		h.handleAudioMessage(ctx, conn, state, msg.Data)
	case "config":
		var cfg ConfigMessage
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			h.sendError(conn, state, "invalid config payload")
			return
		}
		applyConfig(state, cfg)
		h.send(conn, state.session.ID, "config", map[string]any{
			"language": state.language,
			"voice":    state.voice,
			"tts":      state.ttsEnabled,
		})
	default:
		h.sendError(conn, state, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) runTextTurn(ctx context.Context, conn *websocket.Conn, state *connectionState, text string) {
	reply, err := state.session.Engine.ProcessTurn(ctx, workflow.Input{
		Text:     text,
		Modality: chat.ModalityText,
		Observe:  h.stageObserver(conn, state),
	})
	if err != nil {
		h.sendError(conn, state, err.Error())
		return
	}
	h.send(conn, state.session.ID, "reply", chathandler.NewTurnResponse(reply))
	h.sendAudio(ctx, conn, state, reply)
}

func (h *WebSocketHandler) handleAudioMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	if h.speechSvc == nil || !h.speechSvc.TranscriptionEnabled() {
		h.sendError(conn, state, "transcription is not configured")
		return
	}

	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		h.sendError(conn, state, "invalid audio payload")
		return
	}
	if state.buffer.Len()+len(audio.AudioData) > maxUploadBytes {
		state.buffer.Reset()
		h.sendError(conn, state, "recording too large")
		return
	}
	state.buffer.Write(audio.AudioData)
	if audio.Format != "" {
		state.audioFormat = audio.Format
	}
	if audio.Language != "" {
		state.language = audio.Language
	}
	if !audio.IsFinal {
		return
	}

	recording := bytes.NewReader(append([]byte(nil), state.buffer.Bytes()...))
	state.buffer.Reset()
	if recording.Len() == 0 {
		return
	}

	format := defaultString(state.audioFormat, "wav")
	resp, err := h.runAudioTurn(ctx, state.session, audioInput{
		data:     recording,
		filename: "recording." + format,
		format:   format,
		language: state.language,
		voice:    state.voice,
		observe:  h.stageObserver(conn, state),
	})
	if err != nil {
		h.sendError(conn, state, err.Error())
		return
	}
	if !state.ttsEnabled {
		resp.Audio = nil
		resp.AudioError = ""
	}
	h.send(conn, state.session.ID, "reply", resp)
}

// sendAudio renders a typed turn's reply for clients that asked for speech.
func (h *WebSocketHandler) sendAudio(ctx context.Context, conn *websocket.Conn, state *connectionState, reply workflow.Reply) {
	if !state.ttsEnabled {
		return
	}
	rendering, err := h.render(ctx, state.session, reply, state.voice, state.language)
	if err != nil {
		h.send(conn, state.session.ID, "audio", map[string]string{"error": err.Error()})
		return
	}
	if rendering != nil {
		h.send(conn, state.session.ID, "audio", rendering)
	}
}

func (h *WebSocketHandler) stageObserver(conn *websocket.Conn, state *connectionState) func(workflow.State) {
	return func(s workflow.State) {
		if s == workflow.StateIdle {
			return
		}
		h.send(conn, state.session.ID, "stage", map[string]string{"state": s.String()})
	}
}

func applyConfig(state *connectionState, cfg ConfigMessage) {
	if cfg.Language != "" {
		state.language = cfg.Language
	}
	if cfg.Voice != "" {
		state.voice = cfg.Voice
	}
	if cfg.TTSEnabled != nil {
		state.ttsEnabled = *cfg.TTSEnabled
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, sessionID, kind string, data interface{}) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn("websocket write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, state *connectionState, message string) {
	h.send(conn, state.session.ID, "error", map[string]string{"message": message})
}

// pingLoop keeps the connection alive. WriteControl is safe alongside the turn loop's writes.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
