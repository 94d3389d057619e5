//go:build linux || darwin

package streamer

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessGroup starts the encoder in its own process group so signals
// reach any helper processes it spawns.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup asks the encoder group to exit.
func terminateProcessGroup(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGTERM)
}

// killProcessGroup kills the encoder group.
func killProcessGroup(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	// already exited
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
