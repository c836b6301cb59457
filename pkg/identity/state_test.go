package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type fakeKeySource struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func newFakeKeySource() *fakeKeySource {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	return &fakeKeySource{priv: priv, pub: pub}
}

func (f *fakeKeySource) GenerateOrLoad(ctx context.Context) ([]byte, error) { return f.pub, nil }
func (f *fakeKeySource) PublicKey() []byte                                 { return f.pub }
func (f *fakeKeySource) Sign(ctx context.Context, message []byte) ([]byte, error) {
	return ed25519.Sign(f.priv, message), nil
}

type fakeQuoteProvider struct{}

func (fakeQuoteProvider) PPID(ctx context.Context) ([]byte, error) { return []byte("fake-ppid"), nil }
func (fakeQuoteProvider) Quote(ctx context.Context, reportData [64]byte) ([]byte, error) {
	return reportData[:], nil
}

type fakeMounter struct{ mounted bool }

func (f *fakeMounter) Mount(ctx context.Context, ownerPubkey, ppid []byte) error {
	f.mounted = true
	return nil
}

type fakeSupervisor struct{ launches int }

func (f *fakeSupervisor) Launch(ctx context.Context, cfg *WorkloadLaunchConfig) error {
	f.launches++
	return nil
}
func (f *fakeSupervisor) Stop(ctx context.Context) error { return nil }

type fakeShell struct {
	started bool
	stopped bool
}

func (f *fakeShell) Start(ownerPubkey []byte) error { f.started = true; return nil }
func (f *fakeShell) Stop()                          { f.stopped = true }

func newTestState(t *testing.T) (*State, *fakeKeySource) {
	t.Helper()
	registrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(registrySrv.Close)

	dir := t.TempDir()
	storage := &Storage{StoragePath: dir, MountPath: dir + "/mount"}
	keySource := newFakeKeySource()

	logger := zap.NewNop()
	state := NewState(logger, storage, keySource, fakeQuoteProvider{}, &fakeMounter{}, &fakeSupervisor{}, &fakeShell{}, registrySrv.URL)
	if err := state.Boot(context.Background()); err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	return state, keySource
}

func TestState_Boot_FreshInstanceHasNoBindings(t *testing.T) {
	state, _ := newTestState(t)
	if state.CurrentState() != StateFresh {
		t.Errorf("expected fresh state, got %s", state.CurrentState())
	}
}

func TestState_RegisterOperator_Succeeds(t *testing.T) {
	state, _ := newTestState(t)

	opPub, opPriv, _ := ed25519.GenerateKey(rand.Reader)
	sig := ed25519.Sign(opPriv, state.InstancePubkey())

	token, err := state.RegisterOperator(context.Background(), opPub, sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Error("expected a non-empty owner token")
	}
	if state.CurrentState() != StateOperatorBound {
		t.Errorf("expected operator_bound state, got %s", state.CurrentState())
	}
}

func TestState_RegisterOperator_SecondAttemptRejected(t *testing.T) {
	state, _ := newTestState(t)

	opPub, opPriv, _ := ed25519.GenerateKey(rand.Reader)
	sig := ed25519.Sign(opPriv, state.InstancePubkey())
	if _, err := state.RegisterOperator(context.Background(), opPub, sig); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	op2Pub, op2Priv, _ := ed25519.GenerateKey(rand.Reader)
	sig2 := ed25519.Sign(op2Priv, state.InstancePubkey())
	_, err := state.RegisterOperator(context.Background(), op2Pub, sig2)
	if err == nil {
		t.Fatal("expected second operator registration to be rejected")
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode() != http.StatusBadRequest {
		t.Errorf("expected a 400 APIError, got %v", err)
	}
}

func TestState_RegisterOwner_RequiresToken(t *testing.T) {
	state, _ := newTestState(t)

	opPub, opPriv, _ := ed25519.GenerateKey(rand.Reader)
	opSig := ed25519.Sign(opPriv, state.InstancePubkey())
	if _, err := state.RegisterOperator(context.Background(), opPub, opSig); err != nil {
		t.Fatalf("operator registration failed: %v", err)
	}

	ownerPub, ownerPriv, _ := ed25519.GenerateKey(rand.Reader)
	ownerSig := ed25519.Sign(ownerPriv, state.InstancePubkey())

	err := state.RegisterOwner(context.Background(), "wrong-token", ownerPub, ownerSig)
	if err == nil {
		t.Fatal("expected owner registration without the correct token to fail")
	}
}

func TestState_RegisterOwner_MountsEncryptedVolume(t *testing.T) {
	state, _ := newTestState(t)

	opPub, opPriv, _ := ed25519.GenerateKey(rand.Reader)
	opSig := ed25519.Sign(opPriv, state.InstancePubkey())
	token, err := state.RegisterOperator(context.Background(), opPub, opSig)
	if err != nil {
		t.Fatalf("operator registration failed: %v", err)
	}

	ownerPub, ownerPriv, _ := ed25519.GenerateKey(rand.Reader)
	ownerSig := ed25519.Sign(ownerPriv, state.InstancePubkey())

	if err := state.RegisterOwner(context.Background(), token, ownerPub, ownerSig); err != nil {
		t.Fatalf("owner registration failed: %v", err)
	}

	mounter := state.mounter.(*fakeMounter)
	if !mounter.mounted {
		t.Error("expected encrypted volume to be mounted")
	}
	if state.CurrentState() != StateOwnerBound {
		t.Errorf("expected owner_bound state, got %s", state.CurrentState())
	}
}

func bindOwner(t *testing.T, state *State) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	opPub, opPriv, _ := ed25519.GenerateKey(rand.Reader)
	opSig := ed25519.Sign(opPriv, state.InstancePubkey())
	token, err := state.RegisterOperator(context.Background(), opPub, opSig)
	if err != nil {
		t.Fatalf("operator registration failed: %v", err)
	}

	ownerPub, ownerPriv, _ := ed25519.GenerateKey(rand.Reader)
	ownerSig := ed25519.Sign(ownerPriv, state.InstancePubkey())
	if err := state.RegisterOwner(context.Background(), token, ownerPub, ownerSig); err != nil {
		t.Fatalf("owner registration failed: %v", err)
	}
	return ownerPub, ownerPriv
}

func TestState_ConfigureWorkload_RejectsBadPersistDirs(t *testing.T) {
	state, _ := newTestState(t)
	_, ownerPriv := bindOwner(t, state)

	body := []byte(`{"instance_pubkey":"x","image":"alpine:3","persist_dirs":["../escape"],"port":7000}`)
	sig := ed25519.Sign(ownerPriv, body)

	err := state.ConfigureWorkload(context.Background(), state.InstancePubkey(), "alpine:3", []string{"../escape"}, 7000, body, sig)
	if err == nil {
		t.Fatal("expected configure with a traversal path to be rejected")
	}
}

func TestState_ConfigureThenExpose_FinalizeIsOneWay(t *testing.T) {
	state, _ := newTestState(t)
	_, ownerPriv := bindOwner(t, state)

	configureBody := []byte(`{"instance_pubkey":"x","image":"alpine:3","persist_dirs":["/data"],"port":7000}`)
	configureSig := ed25519.Sign(ownerPriv, configureBody)
	if err := state.ConfigureWorkload(context.Background(), state.InstancePubkey(), "alpine:3", []string{"/data"}, 7000, configureBody, configureSig); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if state.CurrentState() != StateConfigured {
		t.Errorf("expected configured state, got %s", state.CurrentState())
	}

	exposeBody := []byte(`{"instance_pubkey":"x","image":"alpine:3"}`)
	exposeSig := ed25519.Sign(ownerPriv, exposeBody)
	if err := state.ExposeWorkload(context.Background(), state.InstancePubkey(), "alpine:3", exposeBody, exposeSig); err != nil {
		t.Fatalf("expose failed: %v", err)
	}
	if state.CurrentState() != StateFinalized {
		t.Errorf("expected finalized state, got %s", state.CurrentState())
	}

	// A further configure must reject.
	if err := state.ConfigureWorkload(context.Background(), state.InstancePubkey(), "alpine:3", []string{"/data"}, 7000, configureBody, configureSig); err == nil {
		t.Error("expected configure after finalize to be rejected")
	}
	// A further expose must reject.
	if err := state.ExposeWorkload(context.Background(), state.InstancePubkey(), "alpine:3", exposeBody, exposeSig); err == nil {
		t.Error("expected a second expose to be rejected")
	}
}

func TestState_ExposeWorkload_RejectsMismatchedImage(t *testing.T) {
	state, _ := newTestState(t)
	_, ownerPriv := bindOwner(t, state)

	configureBody := []byte(`{"instance_pubkey":"x","image":"alpine:3","persist_dirs":[],"port":7000}`)
	configureSig := ed25519.Sign(ownerPriv, configureBody)
	if err := state.ConfigureWorkload(context.Background(), state.InstancePubkey(), "alpine:3", nil, 7000, configureBody, configureSig); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	exposeBody := []byte(`{"instance_pubkey":"x","image":"other"}`)
	exposeSig := ed25519.Sign(ownerPriv, exposeBody)
	err := state.ExposeWorkload(context.Background(), state.InstancePubkey(), "other", exposeBody, exposeSig)
	if err == nil {
		t.Fatal("expected expose with a mismatched image to be rejected")
	}
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode() != http.StatusUnauthorized {
		t.Errorf("expected a 401 APIError, got %v", err)
	}
}
