package cli

import (
	"cmp"
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/cruciblehq/imgbuild/internal/registry"
	"github.com/cruciblehq/imgbuild/internal/runtime"
)

// Represents the 'imgbuild run' command.
type RunCmd struct {
	Image    string `arg:"" help:"Name of a built image."`
	Platform string `short:"p" help:"Platform variant of the image to run." placeholder:"OS/ARCH"`
}

// Executes the run command.
//
// Starts a container from the image and runs its default command with
// stdout and stderr attached. The process exit code becomes the exit code
// of imgbuild.
func (c *RunCmd) Run(ctx context.Context) error {
	st, err := loadSettings()
	if err != nil {
		return err
	}

	name, err := registry.Normalize(c.Image)
	if err != nil {
		return err
	}

	rt, err := runtime.New(st.Containerd.Address, st.Containerd.Namespace, st.Containerd.Snapshotter)
	if err != nil {
		return err
	}
	defer rt.Close()

	code, err := rt.Run(ctx, name, "run-"+uuid.NewString(), cmp.Or(c.Platform, st.Build.Platform), os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
