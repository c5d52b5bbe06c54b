package cli

import (
	"context"

	"github.com/cruciblehq/imgbuild/internal/registry"
	"github.com/cruciblehq/imgbuild/internal/runtime"
)

// Represents the 'imgbuild rm' command.
type RemoveCmd struct {
	Images []string `arg:"" help:"Names of built images."`
}

// Executes the rm command. Stops at the first image that cannot be removed.
func (c *RemoveCmd) Run(ctx context.Context) error {
	st, err := loadSettings()
	if err != nil {
		return err
	}

	rt, err := runtime.New(st.Containerd.Address, st.Containerd.Namespace, st.Containerd.Snapshotter)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, image := range c.Images {
		name, err := registry.Normalize(image)
		if err != nil {
			return err
		}
		if err := rt.DestroyImage(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
