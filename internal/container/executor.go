// Package container runs tenant commands inside per-tenant Docker containers.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/shell"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// DefaultNameTemplate maps a tenant username to its container name.
	DefaultNameTemplate = "tenant-%s"

	defaultShell = "/bin/sh"

	// killGrace is how long past the in-container deadline the attach is
	// kept open before the executor gives up on the stream.
	killGrace = 2 * time.Second

	// timeout(1) exits 128+9 when it kills the command at the deadline.
	killedExitCode = 137
)

// API is the subset of the Docker client used by Executor.
type API interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Config configures an Executor.
type Config struct {
	// NameTemplate is a fmt template receiving the tenant username.
	NameTemplate string
	ShellPath    string
	MaxOutput    int
}

// Executor implements shell.Executor with docker exec. Each tenant's
// commands run as the tenant user inside the container named by
// NameTemplate, which must already be running with the tenant's home
// mounted at the same path as on the host.
type Executor struct {
	api   API
	cfg   Config
	grace time.Duration
}

var _ shell.Executor = (*Executor)(nil)

// NewExecutor creates an executor using api.
func NewExecutor(api API, cfg Config) *Executor {
	if cfg.NameTemplate == "" {
		cfg.NameTemplate = DefaultNameTemplate
	}
	if cfg.ShellPath == "" {
		cfg.ShellPath = defaultShell
	}
	return &Executor{api: api, cfg: cfg, grace: killGrace}
}

// NewDockerExecutor creates an executor backed by the Docker daemon
// configured in the environment.
func NewDockerExecutor(cfg Config) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "name_template", cfg.NameTemplate)
	return NewExecutor(cli, cfg), nil
}

// ContainerName returns the container that hosts username's commands.
func (e *Executor) ContainerName(username string) string {
	return fmt.Sprintf(e.cfg.NameTemplate, username)
}

// Run executes req.Command in the tenant container. The deadline is
// enforced inside the container with timeout(1) so the process does not
// outlive the request; the attach is abandoned shortly after as a backstop.
func (e *Executor) Run(ctx context.Context, req shell.Request) (*shell.Result, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, domain.Validation("command is required")
	}
	name := e.ContainerName(req.Username)
	if err := e.ensureRunning(ctx, name); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = shell.DefaultTimeout
	}
	secs := strconv.FormatInt(int64((timeout+time.Second-1)/time.Second), 10)

	resp, err := e.api.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          []string{"timeout", "-s", "KILL", secs, e.cfg.ShellPath, "-c", req.Command},
		User:         req.Username,
		WorkingDir:   req.Dir,
		Env:          execEnv(req, e.cfg.ShellPath),
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, domain.Wrap(domain.KindExecution, "tenant container not found", err)
		}
		return nil, domain.Wrap(domain.KindExecution, "create exec", err)
	}

	attachCtx, cancel := context.WithTimeout(ctx, timeout+e.grace)
	defer cancel()

	start := time.Now()
	hijacked, err := e.api.ContainerExecAttach(attachCtx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, domain.Wrap(domain.KindExecution, "attach exec", err)
	}
	defer hijacked.Close()

	out := shell.NewOutputBuffer(e.cfg.MaxOutput)
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(out, out, hijacked.Reader)
		copyDone <- err
	}()

	abandoned := false
	select {
	case err = <-copyDone:
	case <-attachCtx.Done():
		abandoned = true
		hijacked.Close()
		<-copyDone
	}

	result := &shell.Result{
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  time.Since(start),
	}
	if abandoned {
		if !errors.Is(attachCtx.Err(), context.DeadlineExceeded) {
			return nil, domain.Wrap(domain.KindExecution, "command cancelled", attachCtx.Err())
		}
		slog.Warn("Command timed out", "username", req.Username, "container", name, "timeout", timeout)
		result.TimedOut = true
		result.ExitCode = shell.TimeoutExitCode
		return result, nil
	}
	if err != nil {
		return nil, domain.Wrap(domain.KindExecution, "read exec output", err)
	}

	inspect, err := e.api.ContainerExecInspect(context.WithoutCancel(ctx), resp.ID)
	if err != nil {
		return nil, domain.Wrap(domain.KindExecution, "inspect exec", err)
	}
	result.ExitCode = inspect.ExitCode
	// 137 before the deadline is an OOM kill or the tenant's own SIGKILL.
	if inspect.ExitCode == killedExitCode && result.Duration >= timeout {
		slog.Warn("Command timed out", "username", req.Username, "container", name, "timeout", timeout)
		result.TimedOut = true
		result.ExitCode = shell.TimeoutExitCode
	}
	return result, nil
}

func (e *Executor) ensureRunning(ctx context.Context, name string) error {
	inspect, err := e.api.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.Wrap(domain.KindExecution, "tenant container not found", err)
		}
		return domain.Wrap(domain.KindExecution, "inspect tenant container", err)
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil || !inspect.State.Running {
		return domain.NewError(domain.KindExecution, "tenant container is not running")
	}
	return nil
}

func execEnv(req shell.Request, shellPath string) []string {
	return []string{
		"HOME=" + req.Home,
		"USER=" + req.Username,
		"LOGNAME=" + req.Username,
		"SHELL=" + shellPath,
		"PWD=" + req.Dir,
		"TERM=dumb",
		"LANG=C.UTF-8",
	}
}
