// Package inspect runs integrity reports inside a running gateway container
// from the Docker host.
package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"gatewarden/internal/integrity"
)

// DefaultBinary is the gatewarden path inside the gateway image.
const DefaultBinary = "/usr/local/bin/gatewarden"

// ExecAPI is the part of the Docker client the inspector uses.
// *client.Client satisfies it.
type ExecAPI interface {
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// ExitError reports a non-zero exit of the in-container command.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("gatewarden exited with status %d", e.Code)
	}
	return fmt.Sprintf("gatewarden exited with status %d: %s", e.Code, msg)
}

// Inspector execs gatewarden in a container and decodes its JSON output.
type Inspector struct {
	client ExecAPI
	binary string
	logger *slog.Logger
}

// New creates an inspector. An empty binary means DefaultBinary.
func New(client ExecAPI, binary string, logger *slog.Logger) *Inspector {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{client: client, binary: binary, logger: logger}
}

// Status returns the container's manifest status.
func (in *Inspector) Status(ctx context.Context, containerID string) (*integrity.StatusReport, error) {
	var status integrity.StatusReport
	if err := in.run(ctx, containerID, &status, "status", "--output", "json"); err != nil {
		return nil, err
	}
	return &status, nil
}

// Verify runs an integrity pass inside the container. A pass that completed
// with errors returns both the summary and an *ExitError.
func (in *Inspector) Verify(ctx context.Context, containerID string) (*integrity.Summary, error) {
	var summary integrity.Summary
	err := in.run(ctx, containerID, &summary, "verify", "--output", "json")
	if summary.RunID == "" {
		return nil, err
	}
	return &summary, err
}

// run execs the command as root, since the manifest is owner-only, and
// decodes stdout into out.
func (in *Inspector) run(ctx context.Context, containerID string, out any, args ...string) error {
	cmd := append([]string{in.binary}, args...)
	in.logger.Debug("exec in container", "container", containerID, "cmd", cmd)

	execID, err := in.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		User:         "0:0",
	})
	if err != nil {
		return fmt.Errorf("create exec: %w", err)
	}

	resp, err := in.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("attach exec: %w", err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil {
			return fmt.Errorf("read exec output: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	code, err := in.exitCode(ctx, execID.ID)
	if err != nil {
		return err
	}

	var decodeErr error
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
			decodeErr = fmt.Errorf("decode gatewarden output: %w", err)
		}
	}
	if code != 0 {
		return &ExitError{Code: code, Stderr: stderr.String()}
	}
	if stdout.Len() == 0 {
		return fmt.Errorf("gatewarden produced no output")
	}
	return decodeErr
}

// exitCode waits briefly for the exec to be reported as finished; the
// output stream can close just before the daemon records the exit status.
func (in *Inspector) exitCode(ctx context.Context, execID string) (int, error) {
	for attempt := 0; ; attempt++ {
		inspect, err := in.client.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("inspect exec: %w", err)
		}
		if !inspect.Running || attempt >= 20 {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
