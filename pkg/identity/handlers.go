package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Server wires the identity service's five HTTP endpoints to a State.
type Server struct {
	state  *State
	logger *zap.Logger
}

// NewServer builds the identity HTTP server.
func NewServer(state *State, logger *zap.Logger) *Server {
	return &Server{state: state, logger: logger}
}

// Handler returns the identity service's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /instance/pubkey", s.handleInstancePubkey)
	mux.HandleFunc("POST /operator/register", s.handleOperatorRegister)
	mux.HandleFunc("POST /owner/register", s.handleOwnerRegister)
	mux.HandleFunc("POST /workload/configure", s.handleWorkloadConfigure)
	mux.HandleFunc("POST /workload/expose", s.handleWorkloadExpose)
	return mux
}

func (s *Server) handleInstancePubkey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"pubkey": hex.EncodeToString(s.state.InstancePubkey()),
	})
}

type operatorRegisterRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

func (s *Server) handleOperatorRegister(w http.ResponseWriter, r *http.Request) {
	var req operatorRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, InvalidRequest("malformed request body"))
		return
	}

	pubkey, err := hex.DecodeString(req.Pubkey)
	if err != nil {
		writeAPIError(w, InvalidRequest("pubkey must be hex-encoded"))
		return
	}
	signature, err := hex.DecodeString(req.Signature)
	if err != nil {
		writeAPIError(w, InvalidRequest("signature must be hex-encoded"))
		return
	}

	token, err := s.state.RegisterOperator(r.Context(), pubkey, signature)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "success",
		"owner_token": token,
	})
}

type ownerRegisterRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

func (s *Server) handleOwnerRegister(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("x-token")

	var req ownerRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, InvalidRequest("malformed request body"))
		return
	}

	pubkey, err := hex.DecodeString(req.Pubkey)
	if err != nil {
		writeAPIError(w, InvalidRequest("pubkey must be hex-encoded"))
		return
	}
	signature, err := hex.DecodeString(req.Signature)
	if err != nil {
		writeAPIError(w, InvalidRequest("signature must be hex-encoded"))
		return
	}

	if err := s.state.RegisterOwner(r.Context(), token, pubkey, signature); err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type workloadConfigureRequest struct {
	InstancePubkey string   `json:"instance_pubkey"`
	Image          string   `json:"image"`
	PersistDirs    []string `json:"persist_dirs"`
	Port           uint16   `json:"port"`
}

func (s *Server) handleWorkloadConfigure(w http.ResponseWriter, r *http.Request) {
	signature, rawBody, ok := s.readSignedBody(w, r)
	if !ok {
		return
	}

	var req workloadConfigureRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeAPIError(w, InvalidRequest("malformed request body"))
		return
	}
	instancePubkey, err := hex.DecodeString(req.InstancePubkey)
	if err != nil {
		writeAPIError(w, InvalidRequest("instance_pubkey must be hex-encoded"))
		return
	}

	if err := s.state.ConfigureWorkload(r.Context(), instancePubkey, req.Image, req.PersistDirs, req.Port, rawBody, signature); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type workloadExposeRequest struct {
	InstancePubkey string `json:"instance_pubkey"`
	Image          string `json:"image"`
}

func (s *Server) handleWorkloadExpose(w http.ResponseWriter, r *http.Request) {
	signature, rawBody, ok := s.readSignedBody(w, r)
	if !ok {
		return
	}

	var req workloadExposeRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeAPIError(w, InvalidRequest("malformed request body"))
		return
	}
	instancePubkey, err := hex.DecodeString(req.InstancePubkey)
	if err != nil {
		writeAPIError(w, InvalidRequest("instance_pubkey must be hex-encoded"))
		return
	}

	if err := s.state.ExposeWorkload(r.Context(), instancePubkey, req.Image, rawBody, signature); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// readSignedBody reads the raw request body (so the owner signature can
// be verified against the exact bytes, with no reserialization) and
// decodes the x-signature header.
func (s *Server) readSignedBody(w http.ResponseWriter, r *http.Request) (signature, rawBody []byte, ok bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, InvalidRequest("failed to read request body"))
		return nil, nil, false
	}
	sig, err := hex.DecodeString(r.Header.Get("x-signature"))
	if err != nil {
		writeAPIError(w, InvalidRequest("x-signature header must be hex-encoded"))
		return nil, nil, false
	}
	return sig, body, true
}

type apiStatusError interface {
	error
	StatusCode() int
}

func writeAPIError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if apiErr, ok := err.(apiStatusError); ok {
		status = apiErr.StatusCode()
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(w, `{"error":"failed to encode response"}`)
	}
}
