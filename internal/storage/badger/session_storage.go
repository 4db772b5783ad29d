package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

type sessionStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewSessionStorage creates a badgerhold-backed chat session store.
func NewSessionStorage(conn *Connection, logger arbor.ILogger) interfaces.SessionStorage {
	return &sessionStorage{store: conn.Store(), logger: logger}
}

func (s *sessionStorage) Save(ctx context.Context, session *models.ChatSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	session.UpdatedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}
	if err := s.store.Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *sessionStorage) Get(ctx context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := s.store.Get(id, &session); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

func (s *sessionStorage) List(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error) {
	var sessions []models.ChatSession
	query := badgerhold.Where("ID").Ne("").SortBy("UpdatedAt").Reverse()
	if userID != "" {
		query = badgerhold.Where("UserID").Eq(userID).SortBy("UpdatedAt").Reverse()
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.store.Find(&sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]*models.ChatSession, len(sessions))
	for i := range sessions {
		out[i] = &sessions[i]
	}
	return out, nil
}

func (s *sessionStorage) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(id, &models.ChatSession{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}
