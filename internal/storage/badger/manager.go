package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
)

// Manager bundles the badger-backed stores behind one lifecycle.
type Manager struct {
	conn      *Connection
	jobs      interfaces.JobStorage
	documents interfaces.DocumentStorage
	sessions  interfaces.SessionStorage
}

// NewManager opens the badger database at dir and wires the stores.
func NewManager(dir string, logger arbor.ILogger) (*Manager, error) {
	conn, err := NewConnection(dir, logger)
	if err != nil {
		return nil, err
	}
	return &Manager{
		conn:      conn,
		jobs:      NewJobStorage(conn, logger),
		documents: NewDocumentStorage(conn, logger),
		sessions:  NewSessionStorage(conn, logger),
	}, nil
}

func (m *Manager) JobStorage() interfaces.JobStorage { return m.jobs }

func (m *Manager) DocumentStorage() interfaces.DocumentStorage { return m.documents }

func (m *Manager) SessionStorage() interfaces.SessionStorage { return m.sessions }

// Connection exposes the underlying database for components that share it,
// such as the queue manager.
func (m *Manager) Connection() *Connection { return m.conn }

func (m *Manager) Close() error { return m.conn.Close() }
