//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

func set(*exec.Cmd) {}

func signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(os.Interrupt)
}
