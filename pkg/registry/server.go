// Package registry implements the registry service: a persistent
// instance_pubkey -> RegistryEntry map that verifies each update's
// attestation and enforces grow-only monotonicity.
package registry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alexhulbert/tdx-identity/pkg/persistence"
	"github.com/alexhulbert/tdx-identity/pkg/types"
	"go.uber.org/zap"
)

// Server holds the registry's dependencies and exposes its HTTP routes.
type Server struct {
	store  persistence.RegistryStore
	logger *zap.Logger
	deps   VerifierDeps
}

// NewServer wires a registry store and attestation-verification
// collaborators into an HTTP server.
func NewServer(store persistence.RegistryStore, logger *zap.Logger, deps VerifierDeps) *Server {
	return &Server{store: store, logger: logger.With(zap.String("component", "registry")), deps: deps}
}

// Handler returns the registry's routes, mounted on an http.ServeMux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /instance/{pubkey}", s.handleGetInstance)
	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, InvalidRequest("malformed request body"))
		return
	}

	if err := s.register(r.Context(), &req); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) register(ctx context.Context, req *types.RegisterRequest) error {
	if err := validateRequestShape(req); err != nil {
		return err
	}
	if err := verifyIdentitySignatures(req); err != nil {
		return err
	}
	if err := verifyAttestation(ctx, s.deps, req); err != nil {
		return err
	}

	existing, err := s.store.Get(req.InstancePubkey)
	if err != nil {
		s.logger.Sugar().Errorw("failed to load existing registry entry", "error", err)
		return Internal("storage failure")
	}
	if err := validateExistingInstance(existing, req); err != nil {
		return err
	}

	entry := &types.RegistryEntry{
		PPID:             req.PPID,
		AttestationQuote: req.AttestationQuote,
		Operator:         req.Operator,
		Owner:            req.Owner,
	}
	if err := s.store.Put(req.InstancePubkey, entry); err != nil {
		s.logger.Sugar().Errorw("failed to persist registry entry", "error", err)
		return Internal("storage failure")
	}

	s.logger.Sugar().Infow("registered instance",
		"instance_pubkey", hex.EncodeToString(req.InstancePubkey),
		"has_operator", req.Operator != nil,
		"has_owner", req.Owner != nil,
	)
	return nil
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	pubkeyHex := r.PathValue("pubkey")
	pubkey, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubkey) != 32 {
		writeError(w, InvalidRequest("pubkey must be 32 bytes of hex"))
		return
	}

	entry, err := s.store.Get(pubkey)
	if err != nil {
		s.logger.Sugar().Errorw("failed to load registry entry", "error", err)
		writeError(w, Internal("storage failure"))
		return
	}
	if entry == nil {
		writeError(w, ErrNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entry); err != nil {
		s.logger.Sugar().Errorw("failed to encode registry entry response", "error", err)
	}
}

type apiStatusError interface {
	error
	StatusCode() int
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	if apiErr, ok := err.(apiStatusError); ok {
		status = apiErr.StatusCode()
		msg = apiErr.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprint(msg)})
}
