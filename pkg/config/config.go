// Package config centralizes the environment variable names and small
// enum types shared by the registry and identity binaries.
package config

import "fmt"

// Environment variable names for the two binaries. All but EnvSSHPort
// back a urfave/cli flag; no flag reads EnvSSHPort, and the SSH listen
// port is the fixed ssh.Port.
const (
	EnvStoragePath     = "STORAGE_PATH"
	EnvMountPath       = "MOUNT_PATH"
	EnvRegistryURL     = "REGISTRY_URL"
	EnvRegistryDBPath  = "REGISTRY_DB_PATH"
	EnvRegistryBackend = "REGISTRY_DB_BACKEND"
	EnvRedisAddress    = "REGISTRY_REDIS_ADDRESS"
	EnvRedisPassword   = "REGISTRY_REDIS_PASSWORD"
	EnvRedisDB         = "REGISTRY_REDIS_DB"
	EnvMockTDXURL      = "MOCK_TDX_URL"
	EnvPCCSURL         = "PCCS_URL"
	EnvSkipTDXAuth     = "SKIP_TDX_AUTH"
	EnvKeySource       = "KEY_SOURCE"
	EnvAWSKMSKeyID     = "AWS_KMS_KEY_ID"
	EnvAWSRegion       = "AWS_REGION"
	EnvPodmanSocket    = "PODMAN_SOCKET_PATH"
	EnvSSHPort         = "SSH_PORT"
	EnvDebugLogging    = "DEBUG_LOGGING"
)

// PersistenceBackend selects the registry's KV store implementation.
type PersistenceBackend string

const (
	PersistenceBackendBadger PersistenceBackend = "badger"
	PersistenceBackendRedis  PersistenceBackend = "redis"
	PersistenceBackendMemory PersistenceBackend = "memory"
)

// ParsePersistenceBackend validates a raw flag/env value, defaulting to badger.
func ParsePersistenceBackend(raw string) (PersistenceBackend, error) {
	switch PersistenceBackend(raw) {
	case "":
		return PersistenceBackendBadger, nil
	case PersistenceBackendBadger, PersistenceBackendRedis, PersistenceBackendMemory:
		return PersistenceBackend(raw), nil
	default:
		return "", fmt.Errorf("unsupported persistence backend: %s", raw)
	}
}

// KeySource selects where the instance Ed25519 signing key is generated
// and held.
type KeySource string

const (
	// KeySourceLocal generates a raw 32-byte seed and keeps it on disk at
	// STORAGE_PATH/instance.key, matching the original TEE model where the
	// seed never leaves the enclave's filesystem.
	KeySourceLocal KeySource = "local"
	// KeySourceAWSKMS asks AWS KMS to hold an asymmetric ED25519 signing
	// key, for deployments where the "enclave" is a Confidential VM rather
	// than bare metal and a raw seed file on disk is undesirable.
	KeySourceAWSKMS KeySource = "awskms"
)

// ParseKeySource validates a raw flag/env value, defaulting to local.
func ParseKeySource(raw string) (KeySource, error) {
	switch KeySource(raw) {
	case "":
		return KeySourceLocal, nil
	case KeySourceLocal, KeySourceAWSKMS:
		return KeySource(raw), nil
	default:
		return "", fmt.Errorf("unsupported key source: %s", raw)
	}
}
