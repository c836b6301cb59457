package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexhulbert/tdx-identity/pkg/types"
)

// Storage holds the filesystem paths for the identity service's persisted
// state: the instance key and owner token live on the non-encrypted
// volume, WorkloadConfig lives on the encrypted volume mounted at
// MountPath once the owner is bound.
type Storage struct {
	StoragePath string // non-encrypted STORAGE_PATH, default /mnt
	MountPath   string // encrypted mount point, default /tmp/tdx-identity-persist
}

func (s *Storage) instanceKeyPath() string    { return filepath.Join(s.StoragePath, "instance.key") }
func (s *Storage) ownerTokenPath() string     { return filepath.Join(s.StoragePath, "owner_token.txt") }
func (s *Storage) operatorPath() string       { return filepath.Join(s.StoragePath, "operator.json") }
func (s *Storage) ownerPath() string          { return filepath.Join(s.StoragePath, "owner.json") }
func (s *Storage) EncryptedBackingPath() string {
	return filepath.Join(s.StoragePath, "tdx-store-encrypted")
}
func (s *Storage) workloadConfigPath() string {
	return filepath.Join(s.MountPath, "workload_config.json")
}

// EnsureDirs creates the non-encrypted storage directory.
func (s *Storage) EnsureDirs() error {
	if err := os.MkdirAll(s.StoragePath, 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.StoragePath, err)
	}
	return nil
}

// LoadOrCreateOwnerToken returns the persisted owner token, generating a
// fresh 32-byte random hex string on first call.
func (s *Storage) LoadOrCreateOwnerToken() (string, error) {
	data, err := os.ReadFile(s.ownerTokenPath())
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read owner token: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate owner token: %w", err)
	}
	token := hex.EncodeToString(raw)
	if err := os.WriteFile(s.ownerTokenPath(), []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist owner token: %w", err)
	}
	return token, nil
}

// LoadOperator returns the persisted operator binding, or nil if none has
// been set yet.
func (s *Storage) LoadOperator() (*types.IdentityInfo, error) {
	return loadIdentity(s.operatorPath())
}

// SaveOperator persists the operator binding.
func (s *Storage) SaveOperator(info *types.IdentityInfo) error {
	return saveIdentity(s.operatorPath(), info)
}

// LoadOwner returns the persisted owner binding, or nil if none has been
// set yet.
func (s *Storage) LoadOwner() (*types.IdentityInfo, error) {
	return loadIdentity(s.ownerPath())
}

// SaveOwner persists the owner binding.
func (s *Storage) SaveOwner(info *types.IdentityInfo) error {
	return saveIdentity(s.ownerPath(), info)
}

// LoadWorkloadConfig returns the persisted workload config from the
// encrypted volume, or nil if none has been set yet. Callers must ensure
// the encrypted volume is mounted before calling this.
func (s *Storage) LoadWorkloadConfig() (*types.WorkloadConfig, error) {
	data, err := os.ReadFile(s.workloadConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workload config: %w", err)
	}
	var cfg types.WorkloadConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workload config: %w", err)
	}
	return &cfg, nil
}

// SaveWorkloadConfig persists the workload config to the encrypted volume.
func (s *Storage) SaveWorkloadConfig(cfg *types.WorkloadConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal workload config: %w", err)
	}
	if err := os.MkdirAll(s.MountPath, 0o755); err != nil {
		return fmt.Errorf("failed to create mount path: %w", err)
	}
	if err := os.WriteFile(s.workloadConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to persist workload config: %w", err)
	}
	return nil
}

func loadIdentity(path string) (*types.IdentityInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var info types.IdentityInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return &info, nil
}

func saveIdentity(path string, info *types.IdentityInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to persist %s: %w", path, err)
	}
	return nil
}
