//go:build !windows

package launch

import (
	"os/exec"
	"syscall"
)

// Detach from this session/process group
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
