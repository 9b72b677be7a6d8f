package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cybuild/cybuild/pkg"
)

// ExitError reports a child process that terminated with a non-zero status.
// The status is carried up so the cybuild process can exit with the same
// code the failing tool produced.
type ExitError struct {
	Step string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s step exited with status %d", e.Step, e.Code)
}

// runStep executes one external tool invocation. The command line is logged
// before it runs and stdout/stderr are passed through untouched so the
// tool's own diagnostics reach the user unmodified. The first failing step
// stops the pipeline; a later step never masks an earlier failure.
func runStep(ctx context.Context, step string, argv []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pkg.Log(ctx).Info().
		Str("step", step).
		Bool("command", true).
		Msg(strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Step: step, Code: exitErr.ExitCode()}
	}

	return eris.Wrapf(err, "Failed to run %s", argv[0])
}
