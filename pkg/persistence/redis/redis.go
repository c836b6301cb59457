// Package redis is an alternate production RegistryStore backend for
// operators who want a shared/remote store instead of local Badger, using
// a key-prefix plus schema-version-guard shape.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alexhulbert/tdx-identity/pkg/persistence"
	"github.com/alexhulbert/tdx-identity/pkg/types"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefixEntry       = "tdxid:entry:"
	keySchemaVersion     = "tdxid:metadata:schema_version"
	currentSchemaVersion = "v1"
)

// Config holds the connection parameters for a Redis-backed store.
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is a Redis-backed persistence.RegistryStore.
type Store struct {
	client    *goredis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.RegistryStore = (*Store)(nil)

// New connects to Redis and validates the schema version.
func New(cfg *Config, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	s := &Store{client: client, logger: logger, keyPrefix: cfg.KeyPrefix}
	if err := s.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("redis registry store initialized", "address", cfg.Address, "db", cfg.DB)
	return s, nil
}

func (s *Store) prefixed(key string) string {
	return s.keyPrefix + key
}

func (s *Store) initSchema(ctx context.Context) error {
	schemaKey := s.prefixed(keySchemaVersion)
	existing, err := s.client.Get(ctx, schemaKey).Result()
	if err == goredis.Nil {
		return s.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existing != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected %s)", existing, currentSchemaVersion)
	}
	return nil
}

func (s *Store) Get(instancePubkey []byte) (*types.RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	ctx := context.Background()
	key := s.prefixed(entryKey(instancePubkey))
	data, err := s.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registry entry: %w", err)
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

	ctx := context.Background()
	key := s.prefixed(entryKey(instancePubkey))
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store registry entry: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	s.logger.Sugar().Info("redis registry store closed")
	return nil
}

func (s *Store) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func entryKey(instancePubkey []byte) string {
	return fmt.Sprintf("%s%x", keyPrefixEntry, instancePubkey)
}
