package runtime

import (
	"context"
	"fmt"
	"io"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, path string) error {
	return c.mustExec(ctx, "mkdir", nil, "mkdir", "-p", path)
}

// Extracts a tar stream into destDir inside the container.
//
// The stream is piped to "tar xf - -C destDir" running in the container, so
// ownership and modes recorded in the archive are applied by the container's
// own tar.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, "tar", "xf", "-", "-C", destDir)
}

// Runs a command inside the container, returning an error that includes desc
// if the process exits with a non-zero code.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, args ...string) error {
	exitCode, stderr, err := c.execCommand(ctx, stdin, nil, nil, "", args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s failed with exit code %d (%s)", ErrRuntime, desc, exitCode, stderr)
	}
	return nil
}
