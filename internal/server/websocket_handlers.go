package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/compose"
	"github.com/MeKo-Tech/arenacal/internal/session"
	"github.com/gorilla/websocket"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 10 * time.Second
	wsSendBuffer   = 32
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The calibration UI is usually served from another origin on the LAN
		return true
	},
}

// WebSocketMessage represents a message sent over WebSocket.
type WebSocketMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StageEvent is the payload of stage, status and error messages.
type StageEvent struct {
	Stage       session.Stage `json:"stage"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Recoverable bool          `json:"recoverable,omitempty"`
}

// StitchedEvent is the payload of stitched messages.
type StitchedEvent struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	WarpScale float64 `json:"warp_scale"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

type wsClient struct {
	send chan []byte
}

// Hub fans session events out to connected websocket clients. It implements
// session.Observer; slow clients drop messages instead of stalling the session.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

func (h *Hub) register() *wsClient {
	c := &wsClient{send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.send)
		return c
	}
	h.clients[c] = struct{}{}
	websocketConnections.Inc()
	return c
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		websocketConnections.Dec()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		websocketConnections.Dec()
	}
	h.clients = make(map[*wsClient]struct{})
	h.closed = true
}

// Broadcast sends msg to every client.
func (h *Hub) Broadcast(msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("Dropping WebSocket message for slow client", "type", msg.Type)
		}
	}
}

func (h *Hub) OnStage(stage session.Stage) {
	h.Broadcast(WebSocketMessage{Type: "stage", Payload: StageEvent{Stage: stage}})
}

func (h *Hub) OnStatus(stage session.Stage, message string) {
	h.Broadcast(WebSocketMessage{Type: "status", Payload: StageEvent{Stage: stage, Message: message}})
}

func (h *Hub) OnError(stage session.Stage, err error) {
	if stage == session.StageEstimate || stage == session.StageCompose {
		stageRunsTotal.WithLabelValues("stitch", "error").Inc()
	}
	h.Broadcast(WebSocketMessage{Type: "error", Payload: StageEvent{
		Stage:       stage,
		Error:       err.Error(),
		Recoverable: session.Recoverable(err),
	}})
}

func (h *Hub) OnStitched(p *compose.Panorama) {
	stageRunsTotal.WithLabelValues("stitch", "success").Inc()
	panoramaWidth.Set(float64(p.CanvasWidth()))
	ev := StitchedEvent{WarpScale: p.WarpScale}
	if p.Canvas != nil {
		ev.Width, ev.Height = p.Canvas.Bounds().Dx(), p.Canvas.Bounds().Dy()
	}
	h.Broadcast(WebSocketMessage{Type: "stitched", Payload: ev})
}

// wsHandler streams session events to the client. The client may send
// {"type":"snapshot"} to receive the current session snapshot.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	client := s.hub.register()
	defer s.hub.unregister(client)

	done := make(chan struct{})
	defer close(done)
	go s.writePump(conn, client, done)

	s.sendSnapshot(client)
	s.readPump(conn, client)
}

// readPump handles client requests until the connection closes.
func (s *Server) readPump(conn *websocket.Conn, client *wsClient) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(client, data)
		}
	}
}

func (s *Server) handleWebSocketMessage(client *wsClient, data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.queue(client, WebSocketMessage{Type: "error", Payload: StageEvent{Error: "invalid message: " + err.Error()}})
		return
	}
	switch msg.Type {
	case "snapshot":
		s.sendSnapshot(client)
	case "ping":
		s.queue(client, WebSocketMessage{Type: "pong"})
	default:
		s.queue(client, WebSocketMessage{Type: "error", Payload: StageEvent{Error: "unsupported message type: " + msg.Type}})
	}
}

func (s *Server) sendSnapshot(client *wsClient) {
	s.queue(client, WebSocketMessage{Type: "snapshot", Payload: s.session.Snapshot()})
}

// queue sends msg to a single client without blocking.
func (s *Server) queue(client *wsClient, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// writePump writes queued messages and keep-alive pings until the client is
// unregistered or the handler returns.
func (s *Server) writePump(conn *websocket.Conn, client *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := writeMessage(conn, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeMessage(conn WebSocketConnWriter, data []byte) error {
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}
