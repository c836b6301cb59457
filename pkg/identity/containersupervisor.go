package identity

import (
	"context"

	"github.com/alexhulbert/tdx-identity/pkg/identity/workload"
)

// workloadSupervisor adapts workload.Supervisor to the ContainerSupervisor
// interface State depends on, translating between the identity package's
// WorkloadLaunchConfig and the workload package's own LaunchConfig so
// neither package needs to import the other's request type.
type workloadSupervisor struct {
	inner *workload.Supervisor
}

// NewContainerSupervisor wraps a podman-backed workload.Supervisor.
func NewContainerSupervisor(inner *workload.Supervisor) ContainerSupervisor {
	return &workloadSupervisor{inner: inner}
}

func (w *workloadSupervisor) Launch(ctx context.Context, cfg *WorkloadLaunchConfig) error {
	return w.inner.Launch(ctx, &workload.LaunchConfig{
		Image:          cfg.Image,
		Port:           cfg.Port,
		PersistDirs:    cfg.PersistDirs,
		Finalized:      cfg.Finalized,
		EncryptedMount: cfg.EncryptedMount,
	})
}

func (w *workloadSupervisor) Stop(ctx context.Context) error {
	return w.inner.Stop(ctx)
}
