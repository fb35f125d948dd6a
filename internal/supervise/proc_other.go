//go:build !unix

package supervise

import (
	"os"
	"os/exec"
)

type signal int

const (
	sigTerm signal = iota
	sigKill
)

// Process groups are a unix notion; elsewhere only the direct child is
// signalled.
func setProcessGroup(*exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, sig signal) error {
	if cmd.Process == nil {
		return nil
	}
	if sig == sigTerm {
		if err := cmd.Process.Signal(os.Interrupt); err == nil {
			return nil
		}
	}
	return cmd.Process.Kill()
}
