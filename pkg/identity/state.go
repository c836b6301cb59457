package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/alexhulbert/tdx-identity/internal/keyGenerator"
	"github.com/alexhulbert/tdx-identity/pkg/attestation"
	"github.com/alexhulbert/tdx-identity/pkg/identity/workload"
	"github.com/alexhulbert/tdx-identity/pkg/types"
)

// State is the identity service's in-memory lifecycle state: the three
// single-writer cells (operator, owner, workload_config),
// each guarded by the same RWMutex since they're read and written together
// (a registry push always reads all three). Readers copy out under a brief
// lock and never hold it across a suspension point (registry HTTP calls,
// container RPCs, SSH start/stop all happen after the lock is released).
type State struct {
	logger *zap.Logger

	storage        *Storage
	keySource      keyGenerator.InstanceKeySource
	quoteProvider  QuoteProvider
	mounter        Mounter
	supervisor     ContainerSupervisor
	shell          ShellServer
	registryClient *RegistryClient

	instancePubkey []byte
	ownerToken     string

	mu             sync.RWMutex
	operator       *types.IdentityInfo
	owner          *types.IdentityInfo
	workloadConfig *types.WorkloadConfig
	ppid           []byte
}

// NewState wires a State's collaborators without touching disk; call Boot
// to perform the actual recovery sequence.
func NewState(
	logger *zap.Logger,
	storage *Storage,
	keySource keyGenerator.InstanceKeySource,
	quoteProvider QuoteProvider,
	mounter Mounter,
	supervisor ContainerSupervisor,
	shell ShellServer,
	registryURL string,
) *State {
	return &State{
		logger:         logger,
		storage:        storage,
		keySource:      keySource,
		quoteProvider:  quoteProvider,
		mounter:        mounter,
		supervisor:     supervisor,
		shell:          shell,
		registryClient: NewRegistryClient(registryURL),
	}
}

// Boot runs the boot/recovery sequence: load or
// generate the instance key and owner token, read any persisted
// operator/owner/workload_config, determine the PPID, and idempotently
// bring the encrypted mount, workload container, and SSH server back to
// the state they were in before the process last stopped.
func (s *State) Boot(ctx context.Context) error {
	if err := s.storage.EnsureDirs(); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	pub, err := s.keySource.GenerateOrLoad(ctx)
	if err != nil {
		return fmt.Errorf("boot: failed to load instance key: %w", err)
	}
	s.instancePubkey = pub

	token, err := s.storage.LoadOrCreateOwnerToken()
	if err != nil {
		return fmt.Errorf("boot: failed to load owner token: %w", err)
	}
	s.ownerToken = token

	operator, err := s.storage.LoadOperator()
	if err != nil {
		return fmt.Errorf("boot: failed to load operator: %w", err)
	}
	owner, err := s.storage.LoadOwner()
	if err != nil {
		return fmt.Errorf("boot: failed to load owner: %w", err)
	}
	s.mu.Lock()
	s.operator, s.owner = operator, owner
	s.mu.Unlock()

	ppid, err := s.quoteProvider.PPID(ctx)
	if err != nil {
		return fmt.Errorf("boot: failed to determine PPID: %w", err)
	}
	s.mu.Lock()
	s.ppid = ppid
	s.mu.Unlock()

	if owner != nil {
		s.logger.Sugar().Infow("boot: owner present, mounting encrypted volume")
		if err := s.mounter.Mount(ctx, owner.PublicKey, ppid); err != nil {
			return fmt.Errorf("boot: failed to mount encrypted volume: %w", err)
		}
	}

	cfg, err := s.storage.LoadWorkloadConfig()
	if err != nil {
		return fmt.Errorf("boot: failed to load workload config: %w", err)
	}
	s.mu.Lock()
	s.workloadConfig = cfg
	s.mu.Unlock()

	if cfg != nil {
		s.logger.Sugar().Infow("boot: workload config present, launching container", "finalized", cfg.Finalized)
		if err := s.launchLocked(ctx, cfg); err != nil {
			return fmt.Errorf("boot: failed to launch workload container: %w", err)
		}
		if !cfg.Finalized {
			if owner == nil {
				return fmt.Errorf("boot: workload config present without owner")
			}
			if err := s.shell.Start(owner.PublicKey); err != nil {
				return fmt.Errorf("boot: failed to start ssh server: %w", err)
			}
		}
	}

	return nil
}

// InstancePubkey returns the enclave's own Ed25519 public key.
func (s *State) InstancePubkey() []byte { return s.instancePubkey }

// CurrentState reports the lifecycle state derived from the current
// in-memory cells.
func (s *State) CurrentState() LifecycleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStateLocked()
}

func (s *State) currentStateLocked() LifecycleState {
	switch {
	case s.workloadConfig != nil && s.workloadConfig.Finalized:
		return StateFinalized
	case s.workloadConfig != nil:
		return StateConfigured
	case s.owner != nil:
		return StateOwnerBound
	case s.operator != nil:
		return StateOperatorBound
	default:
		return StateFresh
	}
}

// RegisterOperator handles POST /operator/register.
func (s *State) RegisterOperator(ctx context.Context, pubkey, signature []byte) (string, error) {
	s.mu.Lock()
	if s.operator != nil {
		s.mu.Unlock()
		return "", InvalidRequest("Operator already registered")
	}
	s.mu.Unlock()

	if err := attestation.VerifyInstanceSignature(pubkey, s.instancePubkey, signature); err != nil {
		return "", Unauthorized("operator signature verification failed")
	}

	instanceSig, err := s.keySource.Sign(ctx, pubkey)
	if err != nil {
		return "", Internal(fmt.Sprintf("failed to sign operator pubkey: %v", err))
	}
	info := &types.IdentityInfo{
		PublicKey:         pubkey,
		InstanceSignature: signature,
		IdentitySignature: instanceSig,
	}

	s.mu.Lock()
	if s.operator != nil {
		s.mu.Unlock()
		return "", InvalidRequest("Operator already registered")
	}
	if err := s.storage.SaveOperator(info); err != nil {
		s.mu.Unlock()
		return "", Internal(fmt.Sprintf("failed to persist operator: %v", err))
	}
	s.operator = info
	s.mu.Unlock()

	if err := s.pushToRegistry(ctx); err != nil {
		return "", err
	}

	return s.ownerToken, nil
}

// RegisterOwner handles POST /owner/register. The mount must complete
// before this returns. An owner already bound may still be overwritten
// locally even though the registry will reject the push; that
// disagreement is surfaced loudly rather than silently swallowed.
func (s *State) RegisterOwner(ctx context.Context, token string, pubkey, signature []byte) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.ownerToken)) != 1 {
		return Unauthorized("invalid or missing owner token")
	}

	s.mu.RLock()
	operator := s.operator
	ppid := s.ppid
	s.mu.RUnlock()
	if operator == nil {
		return InvalidRequest("owner requires operator to be set")
	}

	if err := attestation.VerifyInstanceSignature(pubkey, s.instancePubkey, signature); err != nil {
		return Unauthorized("owner signature verification failed")
	}

	instanceSig, err := s.keySource.Sign(ctx, pubkey)
	if err != nil {
		return Internal(fmt.Sprintf("failed to sign owner pubkey: %v", err))
	}
	info := &types.IdentityInfo{
		PublicKey:         pubkey,
		InstanceSignature: signature,
		IdentitySignature: instanceSig,
	}

	if err := s.mounter.Mount(ctx, pubkey, ppid); err != nil {
		return Internal(fmt.Sprintf("failed to mount encrypted volume: %v", err))
	}

	s.mu.Lock()
	if err := s.storage.SaveOwner(info); err != nil {
		s.mu.Unlock()
		return Internal(fmt.Sprintf("failed to persist owner: %v", err))
	}
	s.owner = info
	s.mu.Unlock()

	if err := s.pushToRegistry(ctx); err != nil {
		s.logger.Sugar().Errorw("owner bound locally but registry push failed; local and registry state now disagree", "error", err)
		return err
	}
	return nil
}

// ConfigureWorkload handles POST /workload/configure. Configure is not
// idempotent: each call tears down and relaunches the container.
func (s *State) ConfigureWorkload(ctx context.Context, reqInstancePubkey []byte, image string, persistDirs []string, port uint16, rawBody, signature []byte) error {
	s.mu.RLock()
	owner := s.owner
	existing := s.workloadConfig
	s.mu.RUnlock()

	if owner == nil {
		return InvalidRequest("owner must be registered before configuring a workload")
	}
	if err := attestation.VerifyInstanceSignature(owner.PublicKey, rawBody, signature); err != nil {
		return Unauthorized("workload configure signature verification failed")
	}
	if string(reqInstancePubkey) != string(s.instancePubkey) {
		return Unauthorized("instance_pubkey does not match this instance")
	}
	if existing != nil && existing.Finalized {
		return InvalidRequest("workload is already finalized")
	}

	sanitized := make([]string, len(persistDirs))
	for i, dir := range persistDirs {
		clean, err := workload.SanitizePersistDir(dir)
		if err != nil {
			return InvalidRequest(fmt.Sprintf("invalid persist_dirs entry %q: %v", dir, err))
		}
		sanitized[i] = clean
	}

	cfg := &types.WorkloadConfig{
		Image:       image,
		Port:        port,
		PersistDirs: sanitized,
		Finalized:   false,
	}
	if err := s.storage.SaveWorkloadConfig(cfg); err != nil {
		return Internal(fmt.Sprintf("failed to persist workload config: %v", err))
	}

	s.mu.Lock()
	s.workloadConfig = cfg
	s.mu.Unlock()

	if err := s.launchLocked(ctx, cfg); err != nil {
		return Internal(fmt.Sprintf("failed to launch workload container: %v", err))
	}
	if err := s.shell.Start(owner.PublicKey); err != nil {
		return Internal(fmt.Sprintf("failed to start ssh server: %v", err))
	}
	return nil
}

// ExposeWorkload handles POST /workload/expose, a
// one-way transition: once finalized, further configure/expose calls are
// rejected.
func (s *State) ExposeWorkload(ctx context.Context, reqInstancePubkey []byte, image string, rawBody, signature []byte) error {
	s.mu.RLock()
	owner := s.owner
	existing := s.workloadConfig
	s.mu.RUnlock()

	if owner == nil {
		return InvalidRequest("owner must be registered before exposing a workload")
	}
	if err := attestation.VerifyInstanceSignature(owner.PublicKey, rawBody, signature); err != nil {
		return Unauthorized("workload expose signature verification failed")
	}
	if string(reqInstancePubkey) != string(s.instancePubkey) {
		return Unauthorized("instance_pubkey does not match this instance")
	}
	if existing == nil {
		return InvalidRequest("no workload configured")
	}
	if existing.Finalized {
		return InvalidRequest("workload is already finalized")
	}
	if existing.Image != image {
		return Unauthorized("Instance image mismatch")
	}

	cfg := &types.WorkloadConfig{
		Image:       existing.Image,
		Port:        existing.Port,
		PersistDirs: existing.PersistDirs,
		Finalized:   true,
	}
	if err := s.storage.SaveWorkloadConfig(cfg); err != nil {
		return Internal(fmt.Sprintf("failed to persist workload config: %v", err))
	}

	s.mu.Lock()
	s.workloadConfig = cfg
	s.mu.Unlock()

	s.shell.Stop()

	if err := s.launchLocked(ctx, cfg); err != nil {
		return Internal(fmt.Sprintf("failed to relaunch workload container: %v", err))
	}
	return nil
}

func (s *State) launchLocked(ctx context.Context, cfg *types.WorkloadConfig) error {
	return s.supervisor.Launch(ctx, &WorkloadLaunchConfig{
		Image:          cfg.Image,
		Port:           cfg.Port,
		PersistDirs:    cfg.PersistDirs,
		Finalized:      cfg.Finalized,
		EncryptedMount: s.storage.MountPath,
	})
}

// pushToRegistry builds the RegisterRequest from the currently persisted
// bundle and pushes it. State must already be durably written to disk
// before the attestation hash and quote are built from it, so a
// concurrent crash can never leave the
// registry holding a quote that attests to state that was never
// committed.
func (s *State) pushToRegistry(ctx context.Context) error {
	s.mu.RLock()
	operator := s.operator
	owner := s.owner
	ppid := s.ppid
	s.mu.RUnlock()

	hash := attestation.BuildAttestationHash(s.instancePubkey, ppid, operator, owner)
	quote, err := s.quoteProvider.Quote(ctx, hash)
	if err != nil {
		return Registry(fmt.Sprintf("failed to obtain attestation quote: %v", err))
	}

	req := &types.RegisterRequest{
		InstancePubkey:   s.instancePubkey,
		PPID:             ppid,
		AttestationQuote: quote,
		Operator:         operator,
		Owner:            owner,
	}
	return s.registryClient.Register(ctx, req)
}
