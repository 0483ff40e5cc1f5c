// Package gate classifies terminal command lines before any process is
// spawned.
//
// The denylist is a parity control, not a sandbox: quoting, encoding or
// command substitution can evade a substring match. It is meant to sit on
// top of OS-level privilege separation (the executor drops to the tenant's
// uid), and callers depend only on the Gate interface so a stricter
// implementation can replace it.
package gate

import (
	"regexp"
	"strings"
)

// Kind is the classification of a command line.
type Kind int

const (
	// KindShell means the command may be handed to the executor.
	KindShell Kind = iota
	// KindBuiltin means the command is answered from session state.
	KindBuiltin
	// KindBlocked means the command must not run.
	KindBlocked
)

func (k Kind) String() string {
	switch k {
	case KindBuiltin:
		return "builtin"
	case KindBlocked:
		return "blocked"
	default:
		return "shell"
	}
}

// Builtin is the closed set of commands answered without a process.
type Builtin int

const (
	BuiltinNone Builtin = iota
	BuiltinPwd
	BuiltinClear
	BuiltinExit
	BuiltinHistory
)

func (b Builtin) String() string {
	switch b {
	case BuiltinPwd:
		return "pwd"
	case BuiltinClear:
		return "clear"
	case BuiltinExit:
		return "exit"
	case BuiltinHistory:
		return "history"
	default:
		return ""
	}
}

// Decision is the result of classifying a command line.
type Decision struct {
	Kind    Kind
	Builtin Builtin
	Args    []string
	Reason  string
	Command string
}

// Gate classifies command lines.
type Gate interface {
	Classify(commandLine string) Decision
}

// denylist holds lower-case fragments that block a command wherever they
// appear in it.
var denylist = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -rf ~",
	"rm -fr /",
	"mkfs",
	"dd if=",
	"of=/dev/",
	"> /dev/sd",
	">/dev/sd",
	":(){ :|:& };:",
	":(){:|:&};:",
	"chmod -r 777 /",
	"chown -r",
	"shutdown",
	"reboot",
	"halt",
	"poweroff",
	"init 0",
	"init 6",
	"systemctl",
	"service ",
	"passwd",
	"useradd",
	"userdel",
	"usermod",
	"visudo",
	"crontab -r",
	"/etc/shadow",
	"/etc/passwd",
	"/etc/sudoers",
	"/root",
	"iptables",
	"kill -9 -1",
	"pkill -9",
	"nc -l",
	"ncat ",
}

var escalationPattern = regexp.MustCompile(`(?i)\b(sudo|su)\b`)

// Denylist is the default gate: a fixed substring denylist followed by a
// privilege-escalation check and built-in detection.
type Denylist struct {
	patterns []string
}

// NewDenylist creates the default gate. Extra fragments are appended to the
// built-in denylist.
func NewDenylist(extra ...string) *Denylist {
	patterns := make([]string, 0, len(denylist)+len(extra))
	patterns = append(patterns, denylist...)
	for _, p := range extra {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &Denylist{patterns: patterns}
}

// Classify applies the checks in order; the first match wins.
func (d *Denylist) Classify(commandLine string) Decision {
	lower := strings.ToLower(commandLine)
	for _, p := range d.patterns {
		if strings.Contains(lower, p) {
			return Decision{Kind: KindBlocked, Reason: "command blocked for security reasons", Command: commandLine}
		}
	}

	if escalationPattern.MatchString(commandLine) {
		return Decision{Kind: KindBlocked, Reason: "privilege escalation is not allowed", Command: commandLine}
	}

	fields := strings.Fields(commandLine)
	if len(fields) > 0 {
		if b := lookupBuiltin(fields[0]); b != BuiltinNone {
			return Decision{Kind: KindBuiltin, Builtin: b, Args: fields[1:], Command: commandLine}
		}
	}

	return Decision{Kind: KindShell, Command: commandLine}
}

func lookupBuiltin(name string) Builtin {
	switch name {
	case "pwd":
		return BuiltinPwd
	case "clear":
		return BuiltinClear
	case "exit":
		return BuiltinExit
	case "history":
		return BuiltinHistory
	default:
		return BuiltinNone
	}
}

var _ Gate = (*Denylist)(nil)
