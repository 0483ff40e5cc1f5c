package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	"golang.org/x/sys/unix"
)

// Identity is the OS identity a command runs as.
type Identity struct {
	UID  uint32
	GID  uint32
	Home string
}

// IdentityLookup resolves a username to its OS identity.
type IdentityLookup func(username string) (*Identity, error)

// LookupIdentity resolves username through the system user database.
func LookupIdentity(username string) (*Identity, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", username, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	return &Identity{UID: uint32(uid), GID: uint32(gid), Home: u.HomeDir}, nil
}

// LocalConfig configures a LocalExecutor.
type LocalConfig struct {
	// ShellPath is the interpreter invoked as `ShellPath -c command`.
	ShellPath string
	// DropPrivileges runs commands with the tenant's uid/gid. Requires root.
	DropPrivileges bool
	// MaxOutput caps captured output; older bytes are discarded.
	MaxOutput int
	// Lookup overrides the user database lookup.
	Lookup IdentityLookup
}

// LocalExecutor runs commands on the host in their own process group.
type LocalExecutor struct {
	shellPath      string
	dropPrivileges bool
	maxOutput      int
	lookup         IdentityLookup
}

// NewLocalExecutor creates a host executor.
func NewLocalExecutor(cfg LocalConfig) *LocalExecutor {
	if cfg.ShellPath == "" {
		cfg.ShellPath = "/bin/bash"
	}
	if cfg.Lookup == nil {
		cfg.Lookup = LookupIdentity
	}
	return &LocalExecutor{
		shellPath:      cfg.ShellPath,
		dropPrivileges: cfg.DropPrivileges,
		maxOutput:      cfg.MaxOutput,
		lookup:         cfg.Lookup,
	}
}

// Run executes req.Command with merged stdout/stderr and a hard deadline.
// At the deadline the whole process group is killed and the partial output
// is returned with TimedOut set.
func (e *LocalExecutor) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, domain.Validation("command is required")
	}

	home := req.Home
	attr := &syscall.SysProcAttr{Setpgid: true}
	if e.dropPrivileges {
		id, err := e.lookup(req.Username)
		if err != nil {
			return nil, domain.Wrap(domain.KindExecution, "resolve tenant identity", err)
		}
		attr.Credential = &syscall.Credential{Uid: id.UID, Gid: id.GID, Groups: []uint32{}}
		if home == "" {
			home = id.Home
		}
	}

	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(req.Timeout))
	defer cancel()

	out := NewOutputBuffer(e.maxOutput)
	cmd := exec.Command(e.shellPath, "-c", req.Command) //nolint:gosec // Gated tenant command.
	cmd.Dir = req.Dir
	cmd.Env = environment(req.Username, home, req.Dir, e.shellPath)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = attr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, domain.Wrap(domain.KindExecution, "start command", err)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	killed := false
	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		select {
		case waitErr = <-waitCh:
		default:
			killed = true
			killProcessGroup(cmd)
			waitErr = <-waitCh
		}
	}

	result := &Result{
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  time.Since(start),
	}

	if killed {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.Wrap(domain.KindExecution, "command cancelled", ctx.Err())
		}
		slog.Warn("Command timed out",
			"username", req.Username,
			"pid", cmd.Process.Pid,
			"timeout", effectiveTimeout(req.Timeout))
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
		return result, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.Is(waitErr, exec.ErrWaitDelay) {
			// A background child kept the output pipe open after the shell exited.
			result.ExitCode = cmd.ProcessState.ExitCode()
			return result, nil
		}
		if !errors.As(waitErr, &exitErr) {
			return nil, domain.Wrap(domain.KindExecution, "wait for command", waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
		slog.Debug("Process group kill failed, killing leader", "pid", cmd.Process.Pid, "error", err)
		_ = cmd.Process.Kill()
	}
}

var _ Executor = (*LocalExecutor)(nil)
