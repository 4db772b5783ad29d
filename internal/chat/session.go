package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// generation tracks one in-flight response for a session.
type generation struct {
	id     string
	cancel context.CancelFunc
}

// SessionManager owns chat session records and enforces single-flight
// generation: a session with an active generation rejects new messages with
// models.ErrSessionBusy until the generation finishes or is stopped.
type SessionManager struct {
	storage      interfaces.SessionStorage
	historyLimit int
	logger       arbor.ILogger

	mu     sync.Mutex
	active map[string]*generation
}

// NewSessionManager creates the session manager.
func NewSessionManager(storage interfaces.SessionStorage, historyLimit int, logger arbor.ILogger) *SessionManager {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &SessionManager{
		storage:      storage,
		historyLimit: historyLimit,
		logger:       logger,
		active:       make(map[string]*generation),
	}
}

// GetOrCreate loads the session with the given id, or creates a fresh one
// when the id is empty or unknown.
func (m *SessionManager) GetOrCreate(ctx context.Context, sessionID, userID string) (*models.ChatSession, error) {
	if sessionID != "" {
		session, err := m.storage.Get(ctx, sessionID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	session := &models.ChatSession{
		ID:        common.NewSessionID(),
		UserID:    userID,
		History:   []models.ChatTurn{},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := m.storage.Save(ctx, session); err != nil {
		return nil, err
	}

	m.logger.Info().Str("session_id", session.ID).Str("user_id", userID).Msg("Chat session created")
	return session, nil
}

// History returns the most recent turns for replay on session init.
func (m *SessionManager) History(session *models.ChatSession) []models.ChatTurn {
	if len(session.History) <= m.historyLimit {
		return session.History
	}
	return session.History[len(session.History)-m.historyLimit:]
}

// BeginTurn claims the session for a new generation. It returns the
// generation id and a context cancelled by StopGeneration, or
// models.ErrSessionBusy when a generation is already running.
func (m *SessionManager) BeginTurn(ctx context.Context, sessionID string) (string, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[sessionID]; busy {
		return "", nil, models.ErrSessionBusy
	}

	genID := common.NewGenerationID()
	genCtx, cancel := context.WithCancel(ctx)
	m.active[sessionID] = &generation{id: genID, cancel: cancel}

	m.logger.Debug().Str("session_id", sessionID).Str("generation_id", genID).Msg("Generation started")
	return genID, genCtx, nil
}

// EndTurn releases the session after a generation completes. Releasing a
// generation other than the active one is a no-op, which makes EndTurn safe
// to defer.
func (m *SessionManager) EndTurn(sessionID, generationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen, ok := m.active[sessionID]
	if !ok || gen.id != generationID {
		return
	}
	gen.cancel()
	delete(m.active, sessionID)
}

// StopGeneration cancels the active generation, if any, and reports whether
// one was running.
func (m *SessionManager) StopGeneration(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen, ok := m.active[sessionID]
	if !ok {
		return "", false
	}
	gen.cancel()
	delete(m.active, sessionID)

	m.logger.Info().Str("session_id", sessionID).Str("generation_id", gen.id).Msg("Generation stopped")
	return gen.id, true
}

// AppendTurn appends a turn to the session history and persists it.
func (m *SessionManager) AppendTurn(ctx context.Context, sessionID string, turn models.ChatTurn) (*models.ChatSession, error) {
	session, err := m.storage.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	session.History = append(session.History, turn)

	if err := m.storage.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}
