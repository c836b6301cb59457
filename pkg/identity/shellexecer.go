package identity

import (
	"context"
	"os/exec"

	"github.com/alexhulbert/tdx-identity/pkg/identity/workload"
)

// podmanShellExecer adapts the workload supervisor's exec args into the
// ssh package's ShellExecer, so the SSH server can open a pseudo-shell in
// the workload container without importing the workload package's
// HTTP-over-Unix-socket client directly.
type podmanShellExecer struct {
	supervisor *workload.Supervisor
}

// NewShellExecer builds a ShellExecer that runs `podman exec -it workload
// /bin/sh`.
func NewShellExecer(supervisor *workload.Supervisor) *podmanShellExecer {
	return &podmanShellExecer{supervisor: supervisor}
}

func (p *podmanShellExecer) Command(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, "podman", p.supervisor.ExecShellArgs()...)
}
