package badger

import (
	"fmt"
	"os"
	"path/filepath"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// Connection owns the shared badgerhold store. Job records bypass badgerhold
// and use the raw badger handle directly, because compare-and-set transitions
// need serializable transactions over exact keys.
type Connection struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewConnection opens (and creates if needed) the badger database at dir.
func NewConnection(dir string, logger arbor.ILogger) (*Connection, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badgerdb.DefaultOptions(dir)
	opts.Logger = nil

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", dir, err)
	}

	logger.Info().Str("dir", filepath.Clean(dir)).Msg("Badger storage opened")

	return &Connection{store: store, logger: logger}, nil
}

// Store returns the badgerhold handle for indexed record types.
func (c *Connection) Store() *badgerhold.Store {
	return c.store
}

// DB returns the raw badger handle for key-level transactional access.
func (c *Connection) DB() *badgerdb.DB {
	return c.store.Badger()
}

// Close flushes and closes the underlying database.
func (c *Connection) Close() error {
	if c.store == nil {
		return nil
	}
	c.logger.Debug().Msg("Closing badger storage")
	return c.store.Close()
}
