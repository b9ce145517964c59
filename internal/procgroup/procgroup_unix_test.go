//go:build unix

package procgroup

import (
	"os/exec"
	"testing"
	"time"
)

func TestKillStopsProcessGroup(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	cmd := exec.Command(sh, "-c", "sleep 30 & wait")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := Terminate(cmd); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = Kill(cmd)
		t.Fatal("process group still running after SIGTERM")
	}

	if err := Kill(cmd); err != nil {
		t.Fatalf("kill after exit should be a no-op, got %v", err)
	}
}

func TestSignalWithoutProcess(t *testing.T) {
	if err := Kill(&exec.Cmd{}); err != nil {
		t.Fatalf("expected nil for unstarted command, got %v", err)
	}
	if err := Terminate(nil); err != nil {
		t.Fatalf("expected nil for nil command, got %v", err)
	}
}
