package identity

import "context"

// LifecycleState is the enclave's one-way S0->S4 progression, derived
// from which of operator/owner/workload_config are set rather than stored
// directly, so boot recovery always reconstructs it the same way.
type LifecycleState string

const (
	StateFresh          LifecycleState = "fresh"           // S0: no operator bound yet
	StateOperatorBound   LifecycleState = "operator_bound"  // S1
	StateOwnerBound      LifecycleState = "owner_bound"     // S2
	StateConfigured      LifecycleState = "configured"      // S3: workload_config set, not finalized
	StateFinalized       LifecycleState = "finalized"       // S4: workload_config.finalized
)

// QuoteProvider produces attestation quotes and the platform PPID:
// configfs-backed on real TDX hardware, a mock HTTP fallback or
// instance-pubkey stand-in otherwise. Implemented by pkg/identity/tdxquote.
type QuoteProvider interface {
	PPID(ctx context.Context) ([]byte, error)
	Quote(ctx context.Context, reportData [64]byte) ([]byte, error)
}

// Mounter mounts the owner-keyed encrypted volume. Implemented by
// encryption.go's GocryptfsMounter.
type Mounter interface {
	Mount(ctx context.Context, ownerPubkey, ppid []byte) error
}

// ContainerSupervisor manages the singleton workload container.
// Implemented by containersupervisor.go's adapter over
// pkg/identity/workload.Supervisor.
type ContainerSupervisor interface {
	Launch(ctx context.Context, cfg *WorkloadLaunchConfig) error
	Stop(ctx context.Context) error
}

// WorkloadLaunchConfig is what the container supervisor needs to
// (re)launch the workload container: the persisted WorkloadConfig plus
// the encrypted mount root its persist_dirs are bound under.
type WorkloadLaunchConfig struct {
	Image          string
	Port           uint16
	PersistDirs    []string
	Finalized      bool
	EncryptedMount string
}

// ShellServer is the owner SSH shell. Implemented by pkg/identity/ssh.
type ShellServer interface {
	Start(ownerPubkey []byte) error
	Stop()
}
