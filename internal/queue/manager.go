package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// storedMessage is the on-disk wrapper around a stage message.
type storedMessage struct {
	ID           string               `json:"id"`
	Body         *models.StageMessage `json:"body"`
	EnqueuedAt   time.Time            `json:"enqueued_at"`
	VisibleAt    time.Time            `json:"visible_at"`
	ReceiveCount int                  `json:"receive_count"`
}

// Manager is a badger-backed queue manager serving the per-stage work queues.
// Message data lives at queue:{name}:msg:{id}; a visibility index at
// queue:{name}:index:{visibleAt}:{id} keeps ready messages scannable in
// order. Receiving a message moves its index key past the visibility timeout,
// which is what gives the queue its lease semantics: an unacknowledged
// message reappears when the lease lapses.
type Manager struct {
	db         *badgerdb.DB
	prefix     string
	visibility time.Duration
	maxReceive int
	logger     arbor.ILogger
}

// NewManager creates a queue manager over the shared badger handle. prefix
// namespaces all queue keys so multiple deployments can share a database.
func NewManager(db *badgerdb.DB, prefix string, visibility time.Duration, maxReceive int, logger arbor.ILogger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if prefix == "" {
		prefix = "corpus"
	}
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 10
	}
	return &Manager{
		db:         db,
		prefix:     prefix,
		visibility: visibility,
		maxReceive: maxReceive,
		logger:     logger,
	}, nil
}

func (m *Manager) Enqueue(ctx context.Context, queue string, msg *models.StageMessage) (string, error) {
	id := uuid.New().String()
	now := time.Now()
	stored := storedMessage{
		ID:         id,
		Body:       msg,
		EnqueuedAt: now,
		VisibleAt:  now,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = m.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(m.msgKey(queue, id), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(queue, stored.VisibleAt, id), []byte{})
	})
	if err != nil {
		return "", err
	}

	m.logger.Debug().Str("queue", queue).Str("message_id", id).Str("job_id", msg.JobID).Msg("Message enqueued")
	return id, nil
}

func (m *Manager) Receive(ctx context.Context, queue string) (*interfaces.QueueMessage, error) {
	var claimed storedMessage
	found := false

	err := m.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(m.indexPrefix(queue))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(queue, key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index keys sort by visibility time; nothing later is ready.
				break
			}

			msgKey := m.msgKey(queue, id)
			item, err := txn.Get(msgKey)
			if err != nil {
				if errors.Is(err, badgerdb.ErrKeyNotFound) {
					// Orphaned index entry, clean it up.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var stored storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}

			if stored.ReceiveCount >= m.maxReceive {
				// Poison pill: drop rather than loop forever.
				m.logger.Warn().
					Str("queue", queue).
					Str("message_id", id).
					Int("receive_count", stored.ReceiveCount).
					Msg("Dropping message past receive ceiling")
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(msgKey); err != nil {
					return err
				}
				continue
			}

			stored.ReceiveCount++
			stored.VisibleAt = now.Add(m.visibility)

			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey, data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(queue, stored.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			claimed = stored
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.ErrNoMessage
	}

	return &interfaces.QueueMessage{
		ID:           claimed.ID,
		Queue:        queue,
		Body:         claimed.Body,
		ReceiveCount: claimed.ReceiveCount,
		EnqueuedAt:   claimed.EnqueuedAt,
	}, nil
}

func (m *Manager) Delete(ctx context.Context, queue string, id string) error {
	return m.db.Update(func(txn *badgerdb.Txn) error {
		msgKey := m.msgKey(queue, id)
		item, err := txn.Get(msgKey)
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil // already acknowledged
			}
			return err
		}

		var stored storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(queue, stored.VisibleAt, id)); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(msgKey)
	})
}

func (m *Manager) Extend(ctx context.Context, queue string, id string, d time.Duration) error {
	return m.db.Update(func(txn *badgerdb.Txn) error {
		msgKey := m.msgKey(queue, id)
		item, err := txn.Get(msgKey)
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}

		var stored storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}

		oldVisible := stored.VisibleAt
		stored.VisibleAt = time.Now().Add(d)

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey, data); err != nil {
			return err
		}
		if err := txn.Delete(m.indexKey(queue, oldVisible, id)); err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return txn.Set(m.indexKey(queue, stored.VisibleAt, id), []byte{})
	})
}

func (m *Manager) Stats(ctx context.Context, queue string) (*interfaces.QueueStats, error) {
	stats := &interfaces.QueueStats{Queue: queue}
	err := m.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(m.indexPrefix(queue))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ts, _, err := m.parseIndexKey(queue, it.Item().Key())
			if err != nil {
				continue
			}
			if ts.After(now) {
				stats.InFlight++
			} else {
				stats.Visible++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Close is a no-op; the badger handle is owned by the storage manager.
func (m *Manager) Close() error {
	return nil
}

func (m *Manager) msgKey(queue, id string) []byte {
	return []byte(fmt.Sprintf("%s:queue:%s:msg:%s", m.prefix, queue, id))
}

func (m *Manager) indexPrefix(queue string) string {
	return fmt.Sprintf("%s:queue:%s:index:", m.prefix, queue)
}

func (m *Manager) indexKey(queue string, visibleAt time.Time, id string) []byte {
	// Zero pad the timestamp so lexicographic order matches numeric order.
	return []byte(fmt.Sprintf("%s%020d:%s", m.indexPrefix(queue), visibleAt.UnixNano(), id))
}

func (m *Manager) parseIndexKey(queue string, key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix(queue)
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key")
	}
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid index key suffix")
	}
	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
