//go:build !unix

package compiler

import "os/exec"

// configureProcess keeps the default cancellation, which kills the process.
func configureProcess(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
}
