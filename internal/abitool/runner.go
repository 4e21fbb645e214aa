package abitool

import (
	"context"
	"errors"
	"os/exec"
)

// Runner executes a command and reports its exit code. err is set only when
// the command could not be run to completion.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (code int, output string, err error)
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (int, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return exitErr.ExitCode(), string(out), nil
		}
		return -1, string(out), err
	}
	return 0, string(out), nil
}
