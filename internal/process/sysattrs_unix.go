//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child into its own process group so the whole
// tree can be signalled, or its own session when Detached.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	attrs := &syscall.SysProcAttr{}
	if spec.Detached {
		attrs.Setsid = true
	} else {
		attrs.Setpgid = true
	}
	cmd.SysProcAttr = attrs
}
