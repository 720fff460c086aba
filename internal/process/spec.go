package process

import (
	"os/exec"
	"strings"

	"github.com/loykin/graphbench/internal/logger"
)

// Spec describes an external process to run.
// Either Path with an explicit argument vector, or a shell-like Command string.
type Spec struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`     // executable; Args are passed verbatim
	Args     []string      `json:"args"`     // argument vector used with Path
	Command  string        `json:"command"`  // alternative to Path: command line, shell when needed
	WorkDir  string        `json:"work_dir"` // optional working dir
	Env      []string      `json:"env"`      // full environment; inherits when empty
	Detached bool          `json:"detached"` // new session instead of new process group
	Log      logger.Config `json:"log"`
}

// BuildCommand constructs an *exec.Cmd for the spec.
// An explicit Path wins. Otherwise Command is split on whitespace unless it
// needs a shell, in which case it runs under /bin/sh -c.
func (s *Spec) BuildCommand() *exec.Cmd {
	if s.Path != "" {
		// #nosec G204
		return exec.Command(s.Path, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return strings.Fields(p)[0], after, true
	}
	return "", "", false
}
