//go:build !unix

package process

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Without process groups there is no graceful signal to send.
func terminateGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
