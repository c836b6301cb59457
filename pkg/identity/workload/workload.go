// Package workload supervises the singleton "workload" container: path
// sanitation for owner-supplied persist_dirs, and container lifecycle
// (tear-down, volume pruning, bind mounts, conditional port publication)
// against the podman REST API over its local Unix socket. No podman/OCI
// client library exists anywhere in the example corpus, so this package
// talks to the documented podman REST API directly over net/http with a
// Unix-socket dialer — see DESIGN.md for why this one corner stays on the
// standard library.
package workload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ContainerName is the stable singleton container name; a second instance
// of it is never permitted.
const ContainerName = "workload"

// SanitizePersistDir validates a single persist_dirs entry: every path
// component must be Root or Normal (os-style), rejecting CurDir ("."),
// ParentDir (".."), drive/UNC prefixes, and empty components (a
// trailing or doubled slash; the leading slash is the Root component).
// Returns the cleaned path unchanged (filepath.Clean is not applied,
// since Clean would silently repair exactly the inputs we must reject).
func SanitizePersistDir(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty path")
	}
	if !filepath.IsAbs(raw) {
		return "", fmt.Errorf("path must be absolute")
	}
	if vol := filepath.VolumeName(raw); vol != "" {
		return "", fmt.Errorf("path must not contain a volume prefix")
	}

	parts := strings.Split(raw, "/")
	for i, part := range parts {
		if i == 0 && part == "" {
			continue // leading slash, i.e. the Root component
		}
		switch part {
		case "":
			return "", fmt.Errorf("path contains an empty component")
		case ".":
			return "", fmt.Errorf("path contains a CurDir (%q) component", ".")
		case "..":
			return "", fmt.Errorf("path contains a ParentDir (%q) component", "..")
		}
	}
	return raw, nil
}

// Supervisor manages the workload container via podman's REST API.
type Supervisor struct {
	logger     *zap.Logger
	httpClient *http.Client
	socketPath string
}

// NewSupervisor builds a Supervisor talking to podman over socketPath
// (default /run/podman/podman.sock).
func NewSupervisor(logger *zap.Logger, socketPath string) *Supervisor {
	return &Supervisor{
		logger: logger,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		socketPath: socketPath,
	}
}

// LaunchConfig is the container supervisor's view of what to launch,
// decoupled from the identity package's persisted WorkloadConfig type.
type LaunchConfig struct {
	Image          string
	Port           uint16
	PersistDirs    []string
	Finalized      bool
	EncryptedMount string
}

// Launch tears down any existing "workload" container (ignoring errors),
// prunes volumes, recreates per-persist-dir host directories under
// <encrypted_mount>/podman/<path>, pulls the image, creates the container
// (publishing host:8080 -> container:port only when finalized), and
// starts it. Any create/start failure is fatal to the caller's request.
func (s *Supervisor) Launch(ctx context.Context, cfg *LaunchConfig) error {
	for i, dir := range cfg.PersistDirs {
		clean, err := SanitizePersistDir(dir)
		if err != nil {
			return fmt.Errorf("persist_dirs[%d] failed re-validation: %w", i, err)
		}
		cfg.PersistDirs[i] = clean
	}

	s.teardown(ctx)
	s.pruneVolumes(ctx)

	mounts := make([]map[string]interface{}, 0, len(cfg.PersistDirs))
	for _, dir := range cfg.PersistDirs {
		hostDir := filepath.Join(cfg.EncryptedMount, "podman", dir)
		if err := os.MkdirAll(hostDir, 0o755); err != nil {
			return fmt.Errorf("failed to create persist dir %s: %w", hostDir, err)
		}
		mounts = append(mounts, map[string]interface{}{
			"type":        "bind",
			"source":      hostDir,
			"destination": dir,
		})
	}

	if err := s.pullImage(ctx, cfg.Image); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", cfg.Image, err)
	}

	createBody := map[string]interface{}{
		"image":  cfg.Image,
		"name":   ContainerName,
		"mounts": mounts,
	}
	if cfg.Finalized && cfg.Port != 0 {
		createBody["portmappings"] = []map[string]interface{}{
			{
				"host_ip":        "",
				"container_port": cfg.Port,
				"host_port":      uint16(8080),
				"protocol":       "tcp",
			},
		}
	}

	if err := s.createContainer(ctx, createBody); err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := s.startContainer(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Stop tears down the workload container. Launch performs the same
// teardown itself, so a relaunch (as during expose) does not call Stop.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.teardown(ctx)
	return nil
}

func (s *Supervisor) teardown(ctx context.Context) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete,
		"http://d/v4.0.0/libpod/containers/"+ContainerName+"?force=true", nil)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Sugar().Debugw("container teardown request failed (ignored)", "error", err)
		return
	}
	resp.Body.Close()
}

func (s *Supervisor) pruneVolumes(ctx context.Context) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "http://d/v4.0.0/libpod/volumes/prune", nil)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Sugar().Debugw("volume prune request failed (ignored)", "error", err)
		return
	}
	resp.Body.Close()
}

func (s *Supervisor) pullImage(ctx context.Context, image string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://d/v4.0.0/libpod/images/pull?reference="+image, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// The pull endpoint streams newline-delimited progress objects; drain
	// to completion so the subsequent create sees the image.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("pull returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Supervisor) createContainer(ctx context.Context, body map[string]interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://d/v4.0.0/libpod/containers/create", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("create returned status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func (s *Supervisor) startContainer(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://d/v4.0.0/libpod/containers/"+ContainerName+"/start", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("start returned status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// ExecShellArgs returns the podman CLI arguments that open an interactive
// "/bin/sh" session inside the workload container, for the SSH
// pseudo-shell. It shells out to the podman CLI (`exec -it workload
// /bin/sh`) rather than the REST attach protocol, which needs a raw
// hijacked connection the stdlib http.Client cannot expose cleanly.
func (s *Supervisor) ExecShellArgs() []string {
	return []string{"exec", "-it", ContainerName, "/bin/sh"}
}
