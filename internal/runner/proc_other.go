//go:build !unix

package runner

import (
	"errors"
	"os"
	"os/exec"
)

// Without process groups only the direct child can be killed.
func setProcessGroup(cmd *exec.Cmd) {}

func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
