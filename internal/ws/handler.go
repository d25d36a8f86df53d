// Package ws streams synthesized speech over WebSocket: one JSON request
// frame in, raw PCM frames out.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/txtparrot/voicegate/internal/metrics"
	"github.com/txtparrot/voicegate/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds the shared pipeline and the session limit.
type HandlerConfig struct {
	Pipeline    *pipeline.Pipeline
	MaxSessions int
}

// Handler manages streaming speak sessions with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with a bounded session count.
func NewHandler(cfg HandlerConfig) *Handler {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 4
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxSessions),
	}
}

// speakMessage is a client request frame. The embedded SpeakRequest carries
// the synthesis fields under their JSON names.
type speakMessage struct {
	Type string `json:"type"`
	pipeline.SpeakRequest
}

// statusEvent is a server-to-client text frame.
type statusEvent struct {
	Status     string `json:"status"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// ServeHTTP upgrades the connection and runs the session. Over-capacity
// connections get a status event and an immediate close, so browser clients
// see a JSON error rather than a failed upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		snd := &sender{conn: conn}
		snd.status(statusEvent{Status: "Error: server at capacity, try again shortly."})
		return
	}

	metrics.StreamSessionsActive.Inc()
	metrics.StreamSessionsTotal.Inc()
	defer metrics.StreamSessionsActive.Dec()

	h.runSession(r.Context(), conn)
}

// runSession reads request frames until the client goes away. Bad requests
// get an error status and the connection stays open for a retry; synthesis
// runs one at a time per connection.
func (h *Handler) runSession(ctx context.Context, conn *websocket.Conn) {
	snd := &sender{conn: conn}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("stream connection closed", "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg speakMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			snd.status(statusEvent{Status: "Error: Invalid JSON format."})
			continue
		}
		if msg.Type != "text_to_speech" {
			snd.status(statusEvent{Status: fmt.Sprintf("Unknown message type: %s", msg.Type)})
			continue
		}
		if msg.Text == "" || msg.Language == "" || msg.UserID == "" {
			snd.status(statusEvent{Status: "Error: Missing text, language, or userId."})
			continue
		}

		h.stream(ctx, snd, msg.SpeakRequest)
	}
}

func (h *Handler) stream(ctx context.Context, snd *sender, req pipeline.SpeakRequest) {
	started := false
	err := h.cfg.Pipeline.SpeakStream(ctx, req, func(chunk pipeline.AudioChunk) error {
		if !started {
			started = true
			snd.status(statusEvent{Status: "streaming", SampleRate: chunk.SampleRate, Channels: chunk.Channels})
		}
		return snd.audio(chunk.PCM)
	})
	if err != nil {
		slog.Error("stream failed", "user", req.UserID, "error", err)
		snd.status(statusEvent{Status: "Internal server error: " + err.Error()})
		return
	}
	snd.status(statusEvent{Status: "Audio stream finished."})
}

// sender serializes writes to the socket.
type sender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sender) status(ev statusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("write event", "error", err)
	}
}

func (s *sender) audio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}
