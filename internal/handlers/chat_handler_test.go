package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/chat"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/models"
)

type mockSessionStorage struct {
	mu       sync.Mutex
	sessions map[string]*models.ChatSession
}

func newMockSessionStorage() *mockSessionStorage {
	return &mockSessionStorage{sessions: make(map[string]*models.ChatSession)}
}

func (s *mockSessionStorage) Save(ctx context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *mockSessionStorage) Get(ctx context.Context, id string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return session, nil
}

func (s *mockSessionStorage) List(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error) {
	return nil, nil
}

func (s *mockSessionStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

type idleAgent struct{}

func (a *idleAgent) Name() string       { return "general" }
func (a *idleAgent) Keywords() []string { return nil }
func (a *idleAgent) Phrases() []string  { return nil }
func (a *idleAgent) Respond(ctx context.Context, message string, history []models.ChatTurn, emit func(models.StreamEvent) error) error {
	return nil
}

func newTestChatServer(t *testing.T, storage *mockSessionStorage) *httptest.Server {
	t.Helper()
	logger := arbor.NewLogger()
	sessions := chat.NewSessionManager(storage, 50, logger)
	fallback := &idleAgent{}
	router := chat.NewRouter(nil, fallback, 1.0, 2, logger)
	dispatcher, err := chat.NewDispatcher(sessions, router, 4, time.Minute, logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	h := NewChatHandler(sessions, dispatcher, &common.ChatConfig{}, logger)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return srv
}

func dialChat(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestChatHandler_InitFreshSessionSkipsHistory(t *testing.T) {
	srv := newTestChatServer(t, newMockSessionStorage())
	ws := dialChat(t, srv)

	if err := ws.WriteJSON(models.ClientMessage{Type: models.ClientMsgInitSession, UserID: "u1"}); err != nil {
		t.Fatalf("failed to send init: %v", err)
	}

	var initMsg models.ServerMessage
	if err := ws.ReadJSON(&initMsg); err != nil {
		t.Fatalf("failed to read init response: %v", err)
	}
	if initMsg.Type != models.ServerMsgSessionInitialized {
		t.Errorf("expected %s, got %s", models.ServerMsgSessionInitialized, initMsg.Type)
	}
	if initMsg.SessionID == "" {
		t.Error("expected a session id")
	}

	// Nothing to replay: no history frame follows.
	ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var extra models.ServerMessage
	if err := ws.ReadJSON(&extra); err == nil {
		t.Errorf("expected no further frame for a fresh session, got %s", extra.Type)
	}
}

func TestChatHandler_InitResumedSessionReplaysHistory(t *testing.T) {
	storage := newMockSessionStorage()
	existing := &models.ChatSession{
		ID:     "sess_existing",
		UserID: "u1",
		History: []models.ChatTurn{
			{Role: models.TurnRoleHuman, Content: "hello", Timestamp: time.Now()},
			{Role: models.TurnRoleAI, Content: "hi there", Timestamp: time.Now()},
		},
	}
	storage.Save(context.Background(), existing)

	srv := newTestChatServer(t, storage)
	ws := dialChat(t, srv)

	if err := ws.WriteJSON(models.ClientMessage{Type: models.ClientMsgInitSession, SessionID: "sess_existing", UserID: "u1"}); err != nil {
		t.Fatalf("failed to send init: %v", err)
	}

	var initMsg models.ServerMessage
	if err := ws.ReadJSON(&initMsg); err != nil {
		t.Fatalf("failed to read init response: %v", err)
	}
	if initMsg.Type != models.ServerMsgSessionInitialized {
		t.Errorf("expected %s, got %s", models.ServerMsgSessionInitialized, initMsg.Type)
	}
	if initMsg.SessionID != "sess_existing" {
		t.Errorf("expected the existing session id, got %s", initMsg.SessionID)
	}

	var historyMsg models.ServerMessage
	ws.SetReadDeadline(time.Now().Add(time.Second))
	if err := ws.ReadJSON(&historyMsg); err != nil {
		t.Fatalf("failed to read history frame: %v", err)
	}
	if historyMsg.Type != models.ServerMsgSessionHistory {
		t.Errorf("expected %s, got %s", models.ServerMsgSessionHistory, historyMsg.Type)
	}
	if len(historyMsg.History) != 2 {
		t.Errorf("expected 2 history turns, got %d", len(historyMsg.History))
	}
}
