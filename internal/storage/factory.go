package storage

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	badgerstore "github.com/ternarybob/corpus/internal/storage/badger"
	redisstore "github.com/ternarybob/corpus/internal/storage/redis"
)

// Manager implements interfaces.StorageManager. Documents and sessions always
// live in badger; the job record store is pluggable so deployments that
// already run redis can keep job state there.
type Manager struct {
	badger *badgerstore.Manager
	jobs   interfaces.JobStorage
}

var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager builds the storage stack from configuration.
func NewManager(cfg *common.Config, logger arbor.ILogger) (*Manager, error) {
	if cfg.Storage.Badger.ResetOnStartup {
		logger.Warn().Str("path", cfg.Storage.Badger.Path).Msg("Resetting badger storage on startup")
		if err := os.RemoveAll(cfg.Storage.Badger.Path); err != nil {
			return nil, fmt.Errorf("failed to reset storage: %w", err)
		}
	}

	bm, err := badgerstore.NewManager(cfg.Storage.Badger.Path, logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{badger: bm, jobs: bm.JobStorage()}

	switch cfg.Storage.Jobs {
	case "", "badger":
		// already wired
	case "redis":
		jobs, err := redisstore.NewJobStorage(cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, logger)
		if err != nil {
			bm.Close()
			return nil, err
		}
		m.jobs = jobs
	default:
		bm.Close()
		return nil, fmt.Errorf("unknown job storage backend: %s", cfg.Storage.Jobs)
	}

	logger.Info().Str("jobs", cfg.Storage.Jobs).Msg("Storage manager initialized")
	return m, nil
}

func (m *Manager) JobStorage() interfaces.JobStorage { return m.jobs }

func (m *Manager) DocumentStorage() interfaces.DocumentStorage { return m.badger.DocumentStorage() }

func (m *Manager) SessionStorage() interfaces.SessionStorage { return m.badger.SessionStorage() }

// BadgerConnection exposes the shared badger handle for the queue manager.
func (m *Manager) BadgerConnection() *badgerstore.Connection { return m.badger.Connection() }

func (m *Manager) Close() error { return m.badger.Close() }
