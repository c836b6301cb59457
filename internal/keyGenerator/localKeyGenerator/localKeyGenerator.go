// Package localKeyGenerator is the default InstanceKeySource backend: a
// raw 32-byte Ed25519 seed persisted on the non-encrypted storage volume,
// so the seed never leaves the enclave's filesystem. Mutex-guarded
// single-struct shape; this protocol holds exactly one instance key per
// process, so no multi-key map is needed.
package localKeyGenerator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// LocalKeyGenerator loads or generates the instance key at keyPath.
type LocalKeyGenerator struct {
	logger  *zap.Logger
	keyPath string

	mu      sync.RWMutex
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// New returns a LocalKeyGenerator backed by the raw seed file at keyPath.
func New(logger *zap.Logger, keyPath string) *LocalKeyGenerator {
	return &LocalKeyGenerator{logger: logger, keyPath: keyPath}
}

func (l *LocalKeyGenerator) GenerateOrLoad(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seed, err := os.ReadFile(l.keyPath)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("instance key file %s has invalid length %d", l.keyPath, len(seed))
		}
		l.private = ed25519.NewKeyFromSeed(seed)
		l.public = l.private.Public().(ed25519.PublicKey)
		l.logger.Sugar().Infow("loaded existing instance key", "path", l.keyPath)
		return l.public, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read instance key file %s: %w", l.keyPath, err)
	}

	seed = make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate instance key seed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(l.keyPath, seed, 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist instance key: %w", err)
	}

	l.private = ed25519.NewKeyFromSeed(seed)
	l.public = l.private.Public().(ed25519.PublicKey)
	l.logger.Sugar().Infow("generated new instance key", "path", l.keyPath)
	return l.public, nil
}

func (l *LocalKeyGenerator) PublicKey() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.public
}

func (l *LocalKeyGenerator) Sign(ctx context.Context, message []byte) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.private == nil {
		return nil, fmt.Errorf("instance key not loaded")
	}
	return ed25519.Sign(l.private, message), nil
}
