package control

import (
	"bytes"
	"errors"
	"os/exec"
)

// Runner abstracts subprocess invocation for the controller. A non-zero
// exit is reported through exitCode, not err; err is reserved for the
// command failing to run at all (notably exec.ErrNotFound, which the
// resolver uses to detect an absent control tool).
type Runner interface {
	Run(name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

type execRunner struct{}

// NewExecRunner returns the production Runner backed by os/exec.
func NewExecRunner() Runner {
	return &execRunner{}
}

func (r *execRunner) Run(name string, args ...string) (string, string, int, error) {
	cmd := exec.Command(name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return stdout.String(), stderr.String(), -1, err
	}

	return stdout.String(), stderr.String(), 0, nil
}
