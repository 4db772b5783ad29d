package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/chat"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler owns the chat websocket endpoint. Each connection gets a
// write mutex so concurrent senders never interleave frames on the wire.
type ChatHandler struct {
	sessions   *chat.SessionManager
	dispatcher *chat.Dispatcher
	throttle   time.Duration
	logger     arbor.ILogger
}

// NewChatHandler creates the chat websocket handler.
func NewChatHandler(sessions *chat.SessionManager, dispatcher *chat.Dispatcher, cfg *common.ChatConfig, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{
		sessions:   sessions,
		dispatcher: dispatcher,
		throttle:   common.Duration(cfg.ProgressThrottle, 0),
		logger:     logger,
	}
}

// conn wraps a websocket connection with its write mutex and session state.
type chatConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	sessionID string
}

func (c *chatConn) send(msg models.ServerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(msg)
}

// HandleWebSocket upgrades the connection and serves the chat protocol until
// the client disconnects.
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	conn := &chatConn{ws: ws}
	defer ws.Close()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Chat connection opened")

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("Chat connection closed unexpectedly")
			}
			if conn.sessionID != "" {
				h.dispatcher.StopGeneration(conn.sessionID)
			}
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.send(models.ServerMessage{Type: models.ServerMsgError, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case models.ClientMsgInitSession:
			h.handleInit(r.Context(), conn, msg)
		case models.ClientMsgChatMessage:
			h.handleChat(conn, msg)
		case models.ClientMsgStopGeneration:
			h.handleStop(conn, msg)
		default:
			// Unknown types are ignored so protocol additions stay compatible.
			h.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown client message type")
		}
	}
}

func (h *ChatHandler) handleInit(ctx context.Context, conn *chatConn, msg models.ClientMessage) {
	session, err := h.sessions.GetOrCreate(ctx, msg.SessionID, msg.UserID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to init session")
		conn.send(models.ServerMessage{Type: models.ServerMsgError, Error: "failed to initialize session"})
		return
	}
	conn.sessionID = session.ID

	conn.send(models.ServerMessage{
		Type:      models.ServerMsgSessionInitialized,
		SessionID: session.ID,
		UserID:    session.UserID,
	})
	// Fresh sessions have nothing to replay; the history frame is only sent
	// when resuming a session with prior turns.
	if history := h.sessions.History(session); len(history) > 0 {
		conn.send(models.ServerMessage{
			Type:      models.ServerMsgSessionHistory,
			SessionID: session.ID,
			History:   history,
		})
	}
}

func (h *ChatHandler) handleChat(conn *chatConn, msg models.ClientMessage) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = conn.sessionID
	}
	if sessionID == "" {
		conn.send(models.ServerMessage{Type: models.ServerMsgError, Error: "no session: send init_session first"})
		return
	}
	if msg.Content == "" {
		conn.send(models.ServerMessage{Type: models.ServerMsgError, SessionID: sessionID, Error: "message content is empty"})
		return
	}

	sink := h.newSink(conn)

	// Generations run off the read loop so stop_generation frames can still
	// arrive while streaming.
	go func() {
		err := h.dispatcher.HandleMessage(context.Background(), sessionID, msg.Content, sink)
		if err == nil {
			return
		}
		if errors.Is(err, models.ErrSessionBusy) {
			conn.send(models.ServerMessage{
				Type:      models.ServerMsgResponseError,
				SessionID: sessionID,
				Error:     "a response is already being generated for this session",
			})
			return
		}
		h.logger.Error().Str("session_id", sessionID).Err(err).Msg("Generation failed")
		conn.send(models.ServerMessage{
			Type:      models.ServerMsgResponseError,
			SessionID: sessionID,
			Error:     "generation failed",
		})
	}()
}

func (h *ChatHandler) handleStop(conn *chatConn, msg models.ClientMessage) {
	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = conn.sessionID
	}
	if sessionID == "" {
		return
	}
	h.dispatcher.StopGeneration(sessionID)
}

// newSink wraps the connection writer, throttling thinking frames when
// configured. Content and artifact frames always pass through.
func (h *ChatHandler) newSink(conn *chatConn) chat.Sink {
	if h.throttle <= 0 {
		return conn.send
	}
	limiter := rate.NewLimiter(rate.Every(h.throttle), 1)
	return func(msg models.ServerMessage) error {
		if msg.Type == models.ServerMsgAgentThinking && !limiter.Allow() {
			return nil
		}
		return conn.send(msg)
	}
}
