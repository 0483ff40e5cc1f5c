package terminal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/shsh-panel/internal/domain"
	"github.com/ashureev/shsh-panel/internal/gate"
	"github.com/ashureev/shsh-panel/internal/pathguard"
	"github.com/ashureev/shsh-panel/internal/session"
	"github.com/ashureev/shsh-panel/internal/shell"
	"github.com/ashureev/shsh-panel/internal/store"
)

const (
	// MaxCompletions caps the candidates returned by Complete.
	MaxCompletions = 50

	completeTimeout = 5 * time.Second
	auditTimeout    = 5 * time.Second
	defaultAudit    = 50
	maxAudit        = 500
)

// Audit verdicts.
const (
	VerdictBuiltin = "builtin"
	VerdictBlocked = "blocked"
	VerdictShell   = "shell"
	VerdictCd      = "cd"
)

// Config configures a Service.
type Config struct {
	HomeBase   string
	ExtraRoots []string
	Timeout    time.Duration
	Hostname   string
}

// Service implements the terminal operations for a tenant.
type Service struct {
	sessions session.Store
	gate     gate.Gate
	exec     shell.Executor
	repo     store.Repository
	conns    *SessionManager
	cfg      Config
	now      func() time.Time
}

// NewService creates a terminal service. repo and conns may be nil, in which
// case commands are not audited and no sockets are tracked.
func NewService(sessions session.Store, g gate.Gate, exec shell.Executor, repo store.Repository, conns *SessionManager, cfg Config) *Service {
	if cfg.HomeBase == "" {
		cfg.HomeBase = domain.DefaultHomeBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = shell.DefaultTimeout
	}
	if cfg.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		}
	}
	return &Service{
		sessions: sessions,
		gate:     g,
		exec:     exec,
		repo:     repo,
		conns:    conns,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SessionInfo is returned by CreateSession.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
	Username  string `json:"username"`
	Hostname  string `json:"hostname"`
}

// ExecResult is returned by Execute.
type ExecResult struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	Cwd       string `json:"cwd"`
	Clear     bool   `json:"clear,omitempty"`
	Exit      bool   `json:"exit,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// CreateSession opens a terminal session rooted at the tenant's home.
func (s *Service) CreateSession(ctx context.Context, tenant *domain.Tenant) (*SessionInfo, error) {
	home := tenant.SandboxRoot(s.cfg.HomeBase)
	sess, err := s.sessions.Create(ctx, tenant.TenantID, tenant.Username, home)
	if err != nil {
		return nil, domain.Wrap(domain.KindExecution, "create session", err)
	}
	slog.Info("Terminal session created", "tenant_id", tenant.TenantID, "session_id", sess.ID)
	return &SessionInfo{
		SessionID: sess.ID,
		Cwd:       sess.Cwd,
		Username:  sess.Username,
		Hostname:  s.cfg.Hostname,
	}, nil
}

// Execute classifies command and answers it as a built-in, a directory
// change, or a shell command.
func (s *Service) Execute(ctx context.Context, tenant *domain.Tenant, sessionID, command string) (*ExecResult, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, domain.Validation("command is required")
	}

	sess, err := s.sessions.Get(ctx, sessionID, tenant.TenantID)
	if err != nil {
		return nil, err
	}

	decision := s.gate.Classify(command)
	switch decision.Kind {
	case gate.KindBlocked:
		slog.Warn("Command blocked", "tenant_id", tenant.TenantID, "session_id", sess.ID, "reason", decision.Reason)
		s.audit(ctx, sess, command, VerdictBlocked, 0, false)
		if err := s.save(ctx, sess); err != nil {
			return nil, err
		}
		derr := domain.AccessDenied("%s", decision.Reason)
		derr.Details = map[string]interface{}{"reason": "blocked"}
		return nil, derr
	case gate.KindBuiltin:
		return s.builtin(ctx, sess, decision)
	}

	if fields := strings.Fields(command); fields[0] == "cd" {
		target := strings.TrimSpace(strings.TrimPrefix(command, "cd"))
		if err := s.chdir(sess, tenant, target); err != nil {
			s.audit(ctx, sess, command, VerdictCd, 1, false)
			if saveErr := s.save(ctx, sess); saveErr != nil {
				slog.Warn("Failed to refresh session", "session_id", sess.ID, "error", saveErr)
			}
			return nil, err
		}
		sess.RecordCommand(command, s.now())
		s.audit(ctx, sess, command, VerdictCd, 0, false)
		if err := s.save(ctx, sess); err != nil {
			return nil, err
		}
		return &ExecResult{Cwd: sess.Cwd}, nil
	}

	return s.runShell(ctx, tenant, sess, command)
}

func (s *Service) builtin(ctx context.Context, sess *domain.Session, d gate.Decision) (*ExecResult, error) {
	res := &ExecResult{Cwd: sess.Cwd}
	// history prints the entries preceding this invocation.
	switch d.Builtin {
	case gate.BuiltinPwd:
		res.Output = sess.Cwd + "\n"
	case gate.BuiltinClear:
		res.Clear = true
	case gate.BuiltinExit:
		res.Exit = true
		res.Output = "logout\n"
	case gate.BuiltinHistory:
		res.Output = formatHistory(sess.History)
	case gate.BuiltinNone:
		return nil, domain.NewError(domain.KindExecution, "unknown built-in")
	}

	sess.RecordCommand(d.Command, s.now())
	s.audit(ctx, sess, d.Command, VerdictBuiltin, 0, false)
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) runShell(ctx context.Context, tenant *domain.Tenant, sess *domain.Session, command string) (*ExecResult, error) {
	// A dropped client does not cancel the command; only the timeout does.
	runCtx := context.WithoutCancel(ctx)
	result, err := s.exec.Run(runCtx, shell.Request{
		Username: tenant.Username,
		Home:     tenant.SandboxRoot(s.cfg.HomeBase),
		Dir:      sess.Cwd,
		Command:  command,
		Timeout:  s.cfg.Timeout,
	})
	if err != nil {
		slog.Error("Command failed to run", "tenant_id", tenant.TenantID, "session_id", sess.ID, "error", err)
		s.audit(runCtx, sess, command, VerdictShell, -1, false)
		if saveErr := s.save(runCtx, sess); saveErr != nil {
			slog.Warn("Failed to refresh session", "session_id", sess.ID, "error", saveErr)
		}
		var derr *domain.Error
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, domain.Wrap(domain.KindExecution, "command failed", err)
	}

	s.audit(runCtx, sess, command, VerdictShell, result.ExitCode, result.TimedOut)

	if result.TimedOut {
		slog.Warn("Command timed out", "tenant_id", tenant.TenantID, "session_id", sess.ID, "timeout", s.cfg.Timeout)
		if err := s.save(runCtx, sess); err != nil {
			return nil, err
		}
		derr := domain.NewError(domain.KindExecution, fmt.Sprintf("command timed out after %s", s.cfg.Timeout))
		derr.Details = map[string]interface{}{
			"output":    result.Output,
			"exit_code": result.ExitCode,
			"timed_out": true,
		}
		return nil, derr
	}

	sess.RecordCommand(command, s.now())
	if err := s.save(runCtx, sess); err != nil {
		return nil, err
	}
	return &ExecResult{
		Output:    result.Output,
		ExitCode:  result.ExitCode,
		Cwd:       sess.Cwd,
		Truncated: result.Truncated,
	}, nil
}

// ChangeDirectory moves the session's working directory. The target must
// resolve inside the tenant's home or an extra root and be an existing
// directory; otherwise the session is left unchanged. Unlike a bare `cd`
// typed into Execute, an empty path is rejected.
func (s *Service) ChangeDirectory(ctx context.Context, tenant *domain.Tenant, sessionID, path string) (string, error) {
	sess, err := s.sessions.Get(ctx, sessionID, tenant.TenantID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(path) == "" {
		return "", domain.NewError(domain.KindValidation, "path is required")
	}
	if err := s.chdir(sess, tenant, path); err != nil {
		s.audit(ctx, sess, "cd "+path, VerdictCd, 1, false)
		if saveErr := s.save(ctx, sess); saveErr != nil {
			slog.Warn("Failed to refresh session", "session_id", sess.ID, "error", saveErr)
		}
		return "", err
	}
	s.audit(ctx, sess, "cd "+path, VerdictCd, 0, false)
	if err := s.save(ctx, sess); err != nil {
		return "", err
	}
	return sess.Cwd, nil
}

func (s *Service) chdir(sess *domain.Session, tenant *domain.Tenant, path string) error {
	home := tenant.SandboxRoot(s.cfg.HomeBase)
	target, err := pathguard.ResolveShell(home, sess.Cwd, path, s.cfg.ExtraRoots...)
	if err != nil {
		slog.Warn("Directory change denied", "tenant_id", tenant.TenantID, "session_id", sess.ID, "path", path)
		return err
	}
	roots := append([]string{home}, s.cfg.ExtraRoots...)
	if _, err := pathguard.Canonicalize(target, roots...); err != nil {
		return err
	}

	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.NotFound("no such directory: %s", path)
		}
		return domain.Wrap(domain.KindExecution, "stat directory", err)
	}
	if !info.IsDir() {
		return domain.Validation("not a directory: %s", path)
	}
	sess.Cwd = target
	return nil
}

// Touch verifies the session belongs to tenant and refreshes its expiry.
func (s *Service) Touch(ctx context.Context, tenant *domain.Tenant, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID, tenant.TenantID)
	if err != nil {
		return err
	}
	return s.save(ctx, sess)
}

// History returns the session's command history, oldest first.
func (s *Service) History(ctx context.Context, tenant *domain.Tenant, sessionID string) ([]domain.HistoryEntry, error) {
	sess, err := s.sessions.Get(ctx, sessionID, tenant.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	history := sess.History
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	return history, nil
}

// CloseSession destroys the session and closes any attached socket.
func (s *Service) CloseSession(ctx context.Context, tenant *domain.Tenant, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID, tenant.TenantID)
	if err != nil {
		return err
	}
	if err := s.sessions.Destroy(ctx, sess.ID); err != nil {
		return domain.Wrap(domain.KindExecution, "destroy session", err)
	}
	if s.conns != nil {
		s.conns.CloseSession(tenant.TenantID, sess.ID)
	}
	slog.Info("Terminal session closed", "tenant_id", tenant.TenantID, "session_id", sess.ID)
	return nil
}

// Complete returns command and file name candidates for partial, produced
// by the tenant's own shell in the session's working directory.
func (s *Service) Complete(ctx context.Context, tenant *domain.Tenant, sessionID, partial string) ([]string, error) {
	sess, err := s.sessions.Get(ctx, sessionID, tenant.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	result, err := s.exec.Run(context.WithoutCancel(ctx), shell.Request{
		Username: tenant.Username,
		Home:     tenant.SandboxRoot(s.cfg.HomeBase),
		Dir:      sess.Cwd,
		Command:  "compgen -c -f -- " + shell.Quote(partial),
		Timeout:  completeTimeout,
	})
	if err != nil {
		return nil, err
	}
	if result.TimedOut {
		return []string{}, nil
	}
	switch result.ExitCode {
	case 0:
		return parseCompletions(result.Output), nil
	case 1:
		// compgen found no matches.
		return []string{}, nil
	default:
		slog.Warn("Completion failed", "tenant_id", tenant.TenantID, "session_id", sess.ID, "exit_code", result.ExitCode)
		return []string{}, nil
	}
}

// parseCompletions dedupes and sorts compgen output, keeping at most
// MaxCompletions entries.
func parseCompletions(output string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	sort.Strings(out)
	if len(out) > MaxCompletions {
		out = out[:MaxCompletions]
	}
	return out
}

// Audit returns the tenant's most recent command audit records.
func (s *Service) Audit(ctx context.Context, tenant *domain.Tenant, limit int) ([]*domain.CommandAudit, error) {
	if s.repo == nil {
		return []*domain.CommandAudit{}, nil
	}
	if limit <= 0 {
		limit = defaultAudit
	}
	if limit > maxAudit {
		limit = maxAudit
	}
	entries, err := s.repo.ListCommands(ctx, tenant.TenantID, limit)
	if err != nil {
		return nil, domain.Wrap(domain.KindExecution, "list command audit", err)
	}
	return entries, nil
}

func (s *Service) save(ctx context.Context, sess *domain.Session) error {
	if err := s.sessions.Save(ctx, sess); err != nil {
		return domain.Wrap(domain.KindExecution, "save session", err)
	}
	return nil
}

// audit records a command attempt. Failures are logged and never surfaced.
func (s *Service) audit(ctx context.Context, sess *domain.Session, command, verdict string, exitCode int, timedOut bool) {
	if s.repo == nil {
		return
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	err := s.repo.RecordCommand(auditCtx, &domain.CommandAudit{
		TenantID:  sess.TenantID,
		SessionID: sess.ID,
		Command:   command,
		Verdict:   verdict,
		ExitCode:  exitCode,
		TimedOut:  timedOut,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.Warn("Failed to record command audit", "tenant_id", sess.TenantID, "session_id", sess.ID, "error", err)
	}
}

func formatHistory(entries []domain.HistoryEntry) string {
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%5d  %s\n", i+1, e.Command)
	}
	return b.String()
}
