// Package realtime delivers session notifications to WebSocket clients and
// accepts discussion triggers from them.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/roundtable/internal/domain"
	"github.com/ashureev/roundtable/internal/events"
	"github.com/ashureev/roundtable/internal/scheduler"
	"github.com/ashureev/roundtable/internal/store"
	"github.com/coder/websocket"
)

const (
	sendQueueSize = 64
	writeTimeout  = 10 * time.Second
)

// Error codes sent to clients.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeTriggerFailed   = "TRIGGER_FAILED"
)

// SessionReader loads session snapshots.
type SessionReader interface {
	Get(id string) (*domain.Session, error)
}

// Controller accepts discussion triggers.
type Controller interface {
	StartDiscussion(sessionID string) error
	HandleModeratorInput(sessionID, content string, kind scheduler.ModeratorKind) error
}

// ConnectionObserver is notified when clients connect and disconnect.
type ConnectionObserver interface {
	RecordWebSocketConnect()
	RecordWebSocketDisconnect()
}

// HubConfig configures a Hub.
type HubConfig struct {
	// AllowedOrigins lists accepted Origin headers; "*" accepts any.
	AllowedOrigins []string
	Observer       ConnectionObserver
	Logger         *slog.Logger
}

// inbound is a client request.
type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// reply is a direct answer to one client.
type reply struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Session   *domain.Session   `json:"session,omitempty"`
	Error     *events.ErrorInfo `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients by the sessions they joined. It is an
// events.Sink: each notification is forwarded to the clients of its session.
type Hub struct {
	sessions SessionReader
	ctrl     Controller
	cfg      HubConfig
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]map[string]struct{}
	rooms   map[string]map[*client]struct{}
}

// NewHub creates a hub.
func NewHub(sessions SessionReader, ctrl Controller, cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		sessions: sessions,
		ctrl:     ctrl,
		cfg:      cfg,
		logger:   cfg.Logger,
		clients:  make(map[*client]map[string]struct{}),
		rooms:    make(map[string]map[*client]struct{}),
	}
}

// Publish implements events.Sink. Slow clients miss notifications rather
// than block the caller.
func (h *Hub) Publish(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Failed to encode notification", "type", e.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[e.SessionID] {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("Client queue full, dropping notification",
				"session_id", e.SessionID,
				"type", e.Type)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Members returns the number of clients joined to a session.
func (h *Hub) Members(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = make(map[string]struct{})
	h.mu.Unlock()
	if h.cfg.Observer != nil {
		h.cfg.Observer.RecordWebSocketConnect()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	for id := range h.clients[c] {
		h.removeLocked(c, id)
	}
	delete(h.clients, c)
	h.mu.Unlock()
	if h.cfg.Observer != nil {
		h.cfg.Observer.RecordWebSocketDisconnect()
	}
}

func (h *Hub) join(c *client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.clients[c]
	if !ok {
		return
	}
	joined[sessionID] = struct{}{}
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(c *client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, sessionID)
}

func (h *Hub) removeLocked(c *client, sessionID string) {
	delete(h.clients[c], sessionID)
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	c := &client{conn: ws, send: make(chan []byte, sendQueueSize)}
	h.register(c)
	defer h.unregister(c)
	h.logger.Info("WebSocket client connected", "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, c)
	}()

	h.readLoop(ctx, c)
	cancel()
	wg.Wait()
	h.logger.Info("WebSocket client disconnected", "ip", r.RemoteAddr)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	if slices.Contains(h.cfg.AllowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, message, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed by client")
			} else {
				h.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			h.replyError(c, "", "invalid message", CodeBadRequest)
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *Hub) dispatch(c *client, msg inbound) {
	switch msg.Type {
	case "ping":
		h.reply(c, reply{Type: "pong"})
	case "join_session":
		session, err := h.sessions.Get(msg.SessionID)
		if err != nil {
			h.replyError(c, msg.SessionID, "session not found", CodeSessionNotFound)
			return
		}
		h.join(c, msg.SessionID)
		h.reply(c, reply{Type: "session_joined", SessionID: msg.SessionID, Session: session})
	case "leave_session":
		h.leave(c, msg.SessionID)
	case "start_discussion":
		h.trigger(c, msg.SessionID, h.ctrl.StartDiscussion(msg.SessionID))
	case "moderator_input":
		kind := scheduler.ModeratorKind(msg.Kind)
		if kind == "" {
			kind = scheduler.ModeratorInject
		}
		h.trigger(c, msg.SessionID, h.ctrl.HandleModeratorInput(msg.SessionID, msg.Content, kind))
	default:
		h.replyError(c, msg.SessionID, "unknown message type: "+msg.Type, CodeBadRequest)
	}
}

func (h *Hub) trigger(c *client, sessionID string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSessionNotFound):
		h.replyError(c, sessionID, "session not found", CodeSessionNotFound)
	case errors.Is(err, scheduler.ErrInvalidModeratorKind):
		h.replyError(c, sessionID, err.Error(), CodeBadRequest)
	default:
		h.logger.Warn("Trigger failed", "session_id", sessionID, "error", err)
		h.replyError(c, sessionID, "trigger failed", CodeTriggerFailed)
	}
}

func (h *Hub) replyError(c *client, sessionID, message, code string) {
	h.reply(c, reply{
		Type:      string(events.TypeGenerationError),
		SessionID: sessionID,
		Error:     &events.ErrorInfo{Message: message, Code: code},
	})
}

func (h *Hub) reply(c *client, r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		h.logger.Error("Failed to encode reply", "type", r.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Debug("Client queue full, dropping reply", "type", r.Type)
	}
}
