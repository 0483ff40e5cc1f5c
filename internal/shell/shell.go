// Package shell runs approved terminal commands as the tenant's OS user.
package shell

import (
	"context"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds the wall-clock time of a single command.
	DefaultTimeout = 30 * time.Second

	// TimeoutExitCode is reported for commands killed at the deadline.
	TimeoutExitCode = 124

	defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// Request describes one command to run.
type Request struct {
	Username string
	Home     string
	Dir      string
	Command  string
	Timeout  time.Duration
}

// Result is the outcome of a command that was started.
type Result struct {
	Output    string        `json:"output"`
	ExitCode  int           `json:"exit_code"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// Executor runs a command line on behalf of a tenant. A command that starts
// always yields a Result, including when it is killed at the deadline; an
// error means the command could not be run at all.
type Executor interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Quote wraps s in single quotes for safe interpolation into a sh command.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func effectiveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func environment(username, home, dir, shellPath string) []string {
	return []string{
		"HOME=" + home,
		"USER=" + username,
		"LOGNAME=" + username,
		"SHELL=" + shellPath,
		"PATH=" + defaultPath,
		"PWD=" + dir,
		"TERM=dumb",
		"LANG=C.UTF-8",
	}
}
