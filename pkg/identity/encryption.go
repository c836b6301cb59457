package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GocryptfsMounter mounts the owner-keyed encrypted volume via the
// gocryptfs FUSE tool. No encrypted-filesystem library exists in the
// example corpus; gocryptfs is an external subprocess tool, invoked via
// os/exec the same way other external tooling is shelled out to.
type GocryptfsMounter struct {
	logger       *zap.Logger
	mountPath    string
	backingPath  string
	gocryptfsBin string
	fusermountBin string
}

// NewGocryptfsMounter builds a mounter for the given mount point and
// ciphertext-backing directory.
func NewGocryptfsMounter(logger *zap.Logger, mountPath, backingPath string) *GocryptfsMounter {
	return &GocryptfsMounter{
		logger:        logger,
		mountPath:     mountPath,
		backingPath:   backingPath,
		gocryptfsBin:  "gocryptfs",
		fusermountBin: "fusermount",
	}
}

// Mount derives the key material from (owner_pubkey, ppid), writes it to
// a short-lived key file, inits the backing directory on first use,
// unmounts any stale mount, mounts with the key file, and deletes the key
// file immediately after — on the success path and on the failure path
// too, so a failed mount never leaves key material on disk.
func (m *GocryptfsMounter) Mount(ctx context.Context, ownerPubkey, ppid []byte) error {
	if err := os.MkdirAll(m.mountPath, 0o755); err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	if err := os.MkdirAll(m.backingPath, 0o700); err != nil {
		return fmt.Errorf("failed to create backing directory: %w", err)
	}

	keyMaterial := deriveKeyMaterial(ownerPubkey, ppid)
	keyFile := filepath.Join(os.TempDir(), "tdx-identity-keyfile-"+uuid.NewString())

	if err := os.WriteFile(keyFile, []byte(keyMaterial), 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	defer func() {
		if err := os.Remove(keyFile); err != nil && !os.IsNotExist(err) {
			m.logger.Sugar().Errorw("failed to delete mount key file", "path", keyFile, "error", err)
		}
	}()

	if !m.isInitialized() {
		if err := m.runWithKeyFile(ctx, keyFile, "-init", m.backingPath); err != nil {
			return fmt.Errorf("failed to initialize encrypted backing directory: %w", err)
		}
	}

	if err := m.unmountTolerant(ctx); err != nil {
		return fmt.Errorf("failed to unmount existing mount: %w", err)
	}

	if err := m.runWithKeyFile(ctx, keyFile, "-allow_other", m.backingPath, m.mountPath); err != nil {
		return fmt.Errorf("failed to mount encrypted volume: %w", err)
	}
	return nil
}

func (m *GocryptfsMounter) isInitialized() bool {
	_, err := os.Stat(filepath.Join(m.backingPath, "gocryptfs.conf"))
	return err == nil
}

func (m *GocryptfsMounter) runWithKeyFile(ctx context.Context, keyFile string, args ...string) error {
	cmd := exec.CommandContext(ctx, m.gocryptfsBin, append([]string{"-passfile", keyFile}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", out, err)
	}
	return nil
}

// unmountTolerant unmounts the mount point if mounted, tolerating "not
// mounted" failures.
func (m *GocryptfsMounter) unmountTolerant(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.fusermountBin, "-u", m.mountPath)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if containsNotMounted(string(out)) {
		return nil
	}
	return fmt.Errorf("%s: %w", out, err)
}

func containsNotMounted(output string) bool {
	for _, needle := range []string{"not mounted", "not found in", "no mount point specified"} {
		if strings.Contains(output, needle) {
			return true
		}
	}
	return false
}

// deriveKeyMaterial computes hex(SHA-256(owner_pubkey || ppid)).
func deriveKeyMaterial(ownerPubkey, ppid []byte) string {
	h := sha256.New()
	h.Write(ownerPubkey)
	h.Write(ppid)
	return hex.EncodeToString(h.Sum(nil))
}
