// Package procgroup starts child processes in their own process group so
// that a whole ffmpeg tree can be signalled at once.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Set configures cmd to start as the leader of a new process group.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Terminate asks the group led by cmd to exit.
func Terminate(cmd *exec.Cmd) error {
	return signal(cmd, syscall.SIGTERM)
}

// Kill force-kills the group led by cmd.
func Kill(cmd *exec.Cmd) error {
	return signal(cmd, syscall.SIGKILL)
}
