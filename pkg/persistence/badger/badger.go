// Package badger is the production RegistryStore backend, adapted from the
// teacher's Badger persistence layer: same schema-version guard, SyncWrites
// durability, and background value-log GC, retargeted at a flat
// instance_pubkey -> RegistryEntry map instead of DKG key-share state.
package badger

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexhulbert/tdx-identity/pkg/persistence"
	"github.com/alexhulbert/tdx-identity/pkg/types"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

const (
	keyPrefixEntry       = "entry:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// Store is a Badger-backed persistence.RegistryStore.
type Store struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.RegistryStore = (*Store)(nil)

// New opens (or creates) a Badger-backed registry store at dataPath.
func New(dataPath string, logger *zap.Logger) (*Store, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	s := &Store{db: db, logger: logger}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.gcCancel = cancel
	s.gcWg.Add(1)
	go s.runGC(ctx)

	logger.Sugar().Infow("badger registry store initialized", "path", absPath)
	return s, nil
}

func (s *Store) initSchema() error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existing string
		if err := item.Value(func(val []byte) error {
			existing = string(val)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}
		if existing != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected %s)", existing, currentSchemaVersion)
		}
		return nil
	})
}

func (s *Store) runGC(ctx context.Context) {
	defer s.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && err != badgerdb.ErrNoRewrite {
				s.logger.Sugar().Warnw("badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) Get(instancePubkey []byte) (*types.RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	key := entryKey(instancePubkey)
	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load registry entry: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	entry, err := persistence.UnmarshalRegistryEntry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry entry: %w", err)
	}
	return entry, nil
}

func (s *Store) Put(instancePubkey []byte, entry *types.RegistryEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot store nil RegistryEntry")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalRegistryEntry(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal registry entry: %w", err)
	}

	key := entryKey(instancePubkey)
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.gcCancel != nil {
		s.gcCancel()
	}
	s.gcWg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	s.logger.Sugar().Info("badger registry store closed")
	return nil
}

func (s *Store) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}

func entryKey(instancePubkey []byte) []byte {
	return []byte(keyPrefixEntry + hex.EncodeToString(instancePubkey))
}
